package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/ascend/ledger"
	"github.com/cppla/ascend/tracker"
	"github.com/cppla/ascend/utils"
)

// ProgressController exposes ledger writes, bank days, check-ins and projections.
type ProgressController struct {
	tracker  *tracker.Tracker
	activity Activity
}

// NewProgressController creates a controller. activity may be nil.
func NewProgressController(t *tracker.Tracker, activity Activity) *ProgressController {
	if activity == nil {
		activity = noActivity{}
	}
	return &ProgressController{tracker: t, activity: activity}
}

// Complete records the day's challenge as done. A repeat of an already
// recorded day answers 409 with the stored entry and current progress.
func (p *ProgressController) Complete(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	var req struct {
		Day          string  `json:"day"`
		ChallengeRef *string `json:"challenge_ref"`
		EffortLevel  *int    `json:"effort_level"`
		Notes        string  `json:"notes"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40004, "invalid request payload")
		return
	}
	day, err := dayOrToday(p.tracker, userID, req.Day)
	if err != nil {
		writeCoreError(ctx, err, nil)
		return
	}

	entry, st, err := p.tracker.CompleteChallenge(ctx.Request.Context(), userID, day, req.ChallengeRef, req.EffortLevel, req.Notes)
	p.answerEntry(ctx, userID, entry, st, err)
}

// Skip records a deliberate skip. A skip keeps the day from qualifying.
func (p *ProgressController) Skip(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	var req struct {
		Day    string `json:"day"`
		Reason string `json:"reason"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40004, "invalid request payload")
		return
	}
	day, err := dayOrToday(p.tracker, userID, req.Day)
	if err != nil {
		writeCoreError(ctx, err, nil)
		return
	}

	entry, st, err := p.tracker.SkipChallenge(ctx.Request.Context(), userID, day, req.Reason)
	p.answerEntry(ctx, userID, entry, st, err)
}

func (p *ProgressController) answerEntry(ctx *gin.Context, userID uint, entry interface{}, st interface{}, err error) {
	data := gin.H{"entry": entry, "progress": st}
	if errors.Is(err, ledger.ErrDuplicateEntry) {
		writeCoreError(ctx, err, data)
		return
	}
	if err != nil {
		writeCoreError(ctx, err, nil)
		return
	}
	p.activity.Touch(userID)
	utils.Created(ctx, data)
}

// UseBankDay spends one bank credit on a missed past day.
func (p *ProgressController) UseBankDay(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	var req struct {
		Day string `json:"day" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40004, "invalid request payload")
		return
	}
	day, err := dayOrToday(p.tracker, userID, req.Day)
	if err != nil {
		writeCoreError(ctx, err, nil)
		return
	}

	tx, st, err := p.tracker.UseBankDay(ctx.Request.Context(), userID, day)
	if err != nil {
		writeCoreError(ctx, err, nil)
		return
	}
	p.activity.Touch(userID)
	utils.Created(ctx, gin.H{"transaction": tx, "progress": st})
}

// Current returns the cached counters.
func (p *ProgressController) Current(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	st, err := p.tracker.CurrentProgress(ctx.Request.Context(), userID)
	if err != nil {
		writeCoreError(ctx, err, nil)
		return
	}
	utils.Success(ctx, st)
}

// Projection renders one derived view, such as /projections/weekly_rate.
func (p *ProgressController) Projection(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	res, err := p.tracker.Projection(ctx.Request.Context(), userID, ctx.Param("kind"))
	if err != nil {
		writeCoreError(ctx, err, nil)
		return
	}
	utils.Success(ctx, res)
}

// CheckIn stores a mood and energy check-in.
func (p *ProgressController) CheckIn(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	var req struct {
		Day    string `json:"day"`
		Mood   *int   `json:"mood"`
		Energy *int   `json:"energy"`
		Note   string `json:"note"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40004, "invalid request payload")
		return
	}
	day, err := dayOrToday(p.tracker, userID, req.Day)
	if err != nil {
		writeCoreError(ctx, err, nil)
		return
	}

	c, err := p.tracker.RecordCheckIn(ctx.Request.Context(), userID, day, req.Mood, req.Energy, req.Note)
	if err != nil {
		writeCoreError(ctx, err, nil)
		return
	}
	utils.Created(ctx, c)
}
