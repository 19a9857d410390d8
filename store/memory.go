package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cppla/ascend/models"
)

type memData struct {
	entries  map[uint]map[models.Day]models.LedgerEntry
	bank     map[uint]map[string]models.StreakBankTransaction
	states   map[uint]models.StreakState
	cursors  map[uint]map[string]models.SyncCursor
	checkIns map[uint][]models.CheckIn
}

func newMemData() *memData {
	return &memData{
		entries:  map[uint]map[models.Day]models.LedgerEntry{},
		bank:     map[uint]map[string]models.StreakBankTransaction{},
		states:   map[uint]models.StreakState{},
		cursors:  map[uint]map[string]models.SyncCursor{},
		checkIns: map[uint][]models.CheckIn{},
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for u, days := range d.entries {
		m := make(map[models.Day]models.LedgerEntry, len(days))
		for k, v := range days {
			m[k] = v
		}
		c.entries[u] = m
	}
	for u, txs := range d.bank {
		m := make(map[string]models.StreakBankTransaction, len(txs))
		for k, v := range txs {
			m[k] = v
		}
		c.bank[u] = m
	}
	for u, s := range d.states {
		c.states[u] = s
	}
	for u, cs := range d.cursors {
		m := make(map[string]models.SyncCursor, len(cs))
		for k, v := range cs {
			m[k] = v
		}
		c.cursors[u] = m
	}
	for u, list := range d.checkIns {
		c.checkIns[u] = append([]models.CheckIn(nil), list...)
	}
	return c
}

// MemoryLocal is an in-process Local cache. Atomic runs against a copy that is
// swapped in only when fn succeeds.
type MemoryLocal struct {
	mu   sync.Mutex
	data *memData
	inTx bool
}

// NewMemoryLocal returns an empty cache.
func NewMemoryLocal() *MemoryLocal {
	return &MemoryLocal{data: newMemData()}
}

func (m *MemoryLocal) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *MemoryLocal) GetEntry(_ context.Context, userID uint, day models.Day) (*models.LedgerEntry, error) {
	defer m.lock()()
	e, ok := m.data.entries[userID][day]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *MemoryLocal) PutEntry(_ context.Context, e *models.LedgerEntry) error {
	defer m.lock()()
	days, ok := m.data.entries[e.UserID]
	if !ok {
		days = map[models.Day]models.LedgerEntry{}
		m.data.entries[e.UserID] = days
	}
	days[e.Day] = *e
	return nil
}

func (m *MemoryLocal) QueryEntries(_ context.Context, userID uint, r DayRange) ([]models.LedgerEntry, error) {
	defer m.lock()()
	out := make([]models.LedgerEntry, 0, len(m.data.entries[userID]))
	for d, e := range m.data.entries[userID] {
		if r.Contains(d) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func (m *MemoryLocal) ListBank(_ context.Context, userID uint) ([]models.StreakBankTransaction, error) {
	defer m.lock()()
	out := make([]models.StreakBankTransaction, 0, len(m.data.bank[userID]))
	for _, t := range m.data.bank[userID] {
		out = append(out, t)
	}
	sortBank(out)
	return out, nil
}

func (m *MemoryLocal) PutBank(_ context.Context, t *models.StreakBankTransaction) error {
	defer m.lock()()
	txs, ok := m.data.bank[t.UserID]
	if !ok {
		txs = map[string]models.StreakBankTransaction{}
		m.data.bank[t.UserID] = txs
	}
	txs[t.ID] = *t
	return nil
}

func (m *MemoryLocal) GetStreakState(_ context.Context, userID uint) (*models.StreakState, error) {
	defer m.lock()()
	s, ok := m.data.states[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryLocal) PutStreakState(_ context.Context, s *models.StreakState) error {
	defer m.lock()()
	m.data.states[s.UserID] = *s
	return nil
}

func (m *MemoryLocal) GetCursor(_ context.Context, userID uint, entityType string) (*models.SyncCursor, error) {
	defer m.lock()()
	c, ok := m.data.cursors[userID][entityType]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryLocal) PutCursor(_ context.Context, c *models.SyncCursor) error {
	defer m.lock()()
	cs, ok := m.data.cursors[c.UserID]
	if !ok {
		cs = map[string]models.SyncCursor{}
		m.data.cursors[c.UserID] = cs
	}
	cs[c.EntityType] = *c
	return nil
}

func (m *MemoryLocal) PutCheckIn(_ context.Context, c *models.CheckIn) error {
	defer m.lock()()
	m.data.checkIns[c.UserID] = append(m.data.checkIns[c.UserID], *c)
	return nil
}

func (m *MemoryLocal) QueryCheckIns(_ context.Context, userID uint, r DayRange) ([]models.CheckIn, error) {
	defer m.lock()()
	var out []models.CheckIn
	for _, c := range m.data.checkIns[userID] {
		if r.Contains(c.Day) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func (m *MemoryLocal) Atomic(ctx context.Context, fn func(tx Local) error) error {
	defer m.lock()()
	tx := &MemoryLocal{data: m.data.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.data = tx.data
	return nil
}

func sortBank(txs []models.StreakBankTransaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].RecordedAt != txs[j].RecordedAt {
			return txs[i].RecordedAt < txs[j].RecordedAt
		}
		return txs[i].ID < txs[j].ID
	})
}

// ErrRemoteUnavailable is returned by MemoryRemote while it is offline.
var ErrRemoteUnavailable = errors.New("remote unavailable")

// MemoryRemote is an in-process Remote with a monotonic server clock, failure
// injection, and a hook that imitates the server-side streak-zero trigger.
type MemoryRemote struct {
	mu       sync.Mutex
	entries  map[uint]map[models.Day]remoteEntryRow
	bank     map[uint]map[string]remoteBankRow
	states   map[uint]models.StreakState
	version  int64
	now      func() time.Time
	offline  bool
	failures map[string]int
	upserts  int
}

// NewMemoryRemote returns an empty remote whose clock reads time.Now.
func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{
		entries:  map[uint]map[models.Day]remoteEntryRow{},
		bank:     map[uint]map[string]remoteBankRow{},
		states:   map[uint]models.StreakState{},
		now:      time.Now,
		failures: map[string]int{},
	}
}

// SetClock replaces the server clock.
func (r *MemoryRemote) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// SetOffline makes every call fail with ErrRemoteUnavailable while true.
func (r *MemoryRemote) SetOffline(offline bool) {
	r.mu.Lock()
	r.offline = offline
	r.mu.Unlock()
}

// FailNext makes the next n calls of op ("fetch", "upsert", "state", "now") fail.
func (r *MemoryRemote) FailNext(op string, n int) {
	r.mu.Lock()
	r.failures[op] = n
	r.mu.Unlock()
}

// Upserts returns how many entry and bank upserts were applied.
func (r *MemoryRemote) Upserts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upserts
}

// ZeroStreak imitates the streak-zero-on-miss trigger rewriting current_streak.
func (r *MemoryRemote) ZeroStreak(userID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.states[userID]
	s.UserID = userID
	s.CurrentStreak = 0
	s.UpdatedAt = time.UnixMilli(r.nextVersion())
	r.states[userID] = s
}

// Seed stores e as if another device had pushed it.
func (r *MemoryRemote) Seed(e models.LedgerEntry) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putEntry(e)
}

// SeedBank stores t as if another device had pushed it.
func (r *MemoryRemote) SeedBank(t models.StreakBankTransaction) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putBank(t)
}

// Entry returns the stored remote row for (userID, day).
func (r *MemoryRemote) Entry(userID uint, day models.Day) (models.LedgerEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.entries[userID][day]
	return row.toModel(), ok
}

func (r *MemoryRemote) check(op string) error {
	if r.offline {
		return ErrRemoteUnavailable
	}
	if n := r.failures[op]; n > 0 {
		r.failures[op] = n - 1
		return ErrRemoteUnavailable
	}
	return nil
}

func (r *MemoryRemote) nextVersion() int64 {
	v := r.now().UnixMilli()
	if v <= r.version {
		v = r.version + 1
	}
	r.version = v
	return v
}

func (r *MemoryRemote) putEntry(e models.LedgerEntry) int64 {
	days, ok := r.entries[e.UserID]
	if !ok {
		days = map[models.Day]remoteEntryRow{}
		r.entries[e.UserID] = days
	}
	if existing, ok := days[e.Day]; ok && existing.RecordedAt > e.RecordedAt {
		return existing.UpdatedAt
	}
	row := toRemoteEntry(e)
	row.UpdatedAt = r.nextVersion()
	days[e.Day] = row
	return row.UpdatedAt
}

func (r *MemoryRemote) putBank(t models.StreakBankTransaction) int64 {
	txs, ok := r.bank[t.UserID]
	if !ok {
		txs = map[string]remoteBankRow{}
		r.bank[t.UserID] = txs
	}
	if existing, ok := txs[t.ID]; ok {
		return existing.UpdatedAt
	}
	row := toRemoteBank(t)
	row.UpdatedAt = r.nextVersion()
	txs[t.ID] = row
	return row.UpdatedAt
}

func (r *MemoryRemote) FetchEntriesSince(_ context.Context, userID uint, watermark int64) ([]models.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check("fetch"); err != nil {
		return nil, err
	}
	var out []models.LedgerEntry
	for _, row := range r.entries[userID] {
		if row.UpdatedAt >= watermark {
			out = append(out, row.toModel())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RemoteUpdatedAt != out[j].RemoteUpdatedAt {
			return out[i].RemoteUpdatedAt < out[j].RemoteUpdatedAt
		}
		return out[i].Day < out[j].Day
	})
	return out, nil
}

func (r *MemoryRemote) UpsertEntry(_ context.Context, e models.LedgerEntry) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check("upsert"); err != nil {
		return 0, err
	}
	r.upserts++
	return r.putEntry(e), nil
}

func (r *MemoryRemote) FetchBankSince(_ context.Context, userID uint, watermark int64) ([]models.StreakBankTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check("fetch"); err != nil {
		return nil, err
	}
	var out []models.StreakBankTransaction
	for _, row := range r.bank[userID] {
		if row.UpdatedAt >= watermark {
			out = append(out, row.toModel())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RemoteUpdatedAt != out[j].RemoteUpdatedAt {
			return out[i].RemoteUpdatedAt < out[j].RemoteUpdatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRemote) UpsertBank(_ context.Context, t models.StreakBankTransaction) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check("upsert"); err != nil {
		return 0, err
	}
	r.upserts++
	return r.putBank(t), nil
}

func (r *MemoryRemote) FetchStreakState(_ context.Context, userID uint) (*models.StreakState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check("state"); err != nil {
		return nil, err
	}
	s, ok := r.states[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *MemoryRemote) UpsertStreakState(_ context.Context, s models.StreakState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check("state"); err != nil {
		return err
	}
	s.UpdatedAt = time.UnixMilli(r.nextVersion())
	r.states[s.UserID] = s
	return nil
}

func (r *MemoryRemote) Now(context.Context) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check("now"); err != nil {
		return time.Time{}, err
	}
	return r.now(), nil
}
