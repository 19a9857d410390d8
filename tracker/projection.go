package tracker

import (
	"context"
	"fmt"

	"github.com/cppla/ascend/ledger"
	"github.com/cppla/ascend/models"
	"github.com/cppla/ascend/progress"
	"github.com/cppla/ascend/store"
)

// Projection kinds.
const (
	KindLevel         = "level"
	KindWeeklyRate    = "weekly_rate"
	KindAtRisk        = "at_risk"
	KindMoodTrend     = "mood_trend"
	KindWeeklySummary = "weekly_summary"
)

// Kinds lists every projection kind.
var Kinds = []string{KindLevel, KindWeeklyRate, KindAtRisk, KindMoodTrend, KindWeeklySummary}

// ProjectionResult is one computed read view.
type ProjectionResult struct {
	Kind  string      `json:"kind"`
	AsOf  models.Day  `json:"as_of"`
	Value interface{} `json:"value"`
}

// Projection computes the read view of kind for userID as of today. Results
// other than at_risk, which depends on the hour, are cached until the next
// mutation or the cache TTL.
func (t *Tracker) Projection(ctx context.Context, userID uint, kind string) (*ProjectionResult, error) {
	today := t.clock.Today(userID)
	key := fmt.Sprintf("%s%s:%s", cachePrefix(userID), kind, today)
	cacheable := kind != KindAtRisk && t.cache != nil

	if cacheable {
		var hit cachedProjection
		if t.cache.GetJSON(ctx, key, &hit) && hit.Kind == kind {
			return &ProjectionResult{Kind: hit.Kind, AsOf: hit.AsOf, Value: hit.Value}, nil
		}
	}

	res, err := t.compute(ctx, userID, kind, today)
	if err != nil {
		return nil, err
	}
	if cacheable {
		t.cache.SetJSON(ctx, key, res, t.opts.CacheTTL)
	}
	return res, nil
}

// cachedProjection decodes the value generically; callers only re-encode it.
type cachedProjection struct {
	Kind  string                 `json:"kind"`
	AsOf  models.Day             `json:"as_of"`
	Value map[string]interface{} `json:"value"`
}

func (t *Tracker) compute(ctx context.Context, userID uint, kind string, today models.Day) (*ProjectionResult, error) {
	res := &ProjectionResult{Kind: kind, AsOf: today}
	switch kind {
	case KindLevel:
		st, err := t.CurrentProgress(ctx, userID)
		if err != nil {
			return nil, err
		}
		res.Value = progress.Describe(st.CurrentStreak)
	case KindWeeklyRate:
		snap, err := ledger.Load(ctx, t.local, userID)
		if err != nil {
			return nil, err
		}
		res.Value = map[string]interface{}{"rate": progress.WeeklyCompletionRate(snap.Entries, snap.Bank, today)}
	case KindAtRisk:
		entries, err := t.local.QueryEntries(ctx, userID, store.DayRange{From: today, To: today})
		if err != nil {
			return nil, fmt.Errorf("load today: %w", err)
		}
		res.Value = map[string]interface{}{
			"at_risk":     progress.AtRisk(entries, t.clock.Now(), t.clock.Location(userID), t.opts.AtRiskCutoffHour),
			"cutoff_hour": t.opts.AtRiskCutoffHour,
		}
	case KindMoodTrend:
		from := today.AddDays(-(t.opts.MoodWindowDays - 1))
		checkIns, err := t.local.QueryCheckIns(ctx, userID, store.DayRange{From: from, To: today})
		if err != nil {
			return nil, fmt.Errorf("load check-ins: %w", err)
		}
		res.Value = progress.MoodAggregate(checkIns, today, t.opts.MoodWindowDays)
	case KindWeeklySummary:
		snap, err := ledger.Load(ctx, t.local, userID)
		if err != nil {
			return nil, err
		}
		checkIns, err := t.local.QueryCheckIns(ctx, userID, store.DayRange{From: today.AddDays(-6), To: today})
		if err != nil {
			return nil, fmt.Errorf("load check-ins: %w", err)
		}
		res.Value = progress.WeeklySummary(snap.Entries, snap.Bank, checkIns, today)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProjection, kind)
	}
	return res, nil
}
