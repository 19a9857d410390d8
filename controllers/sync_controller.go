package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/ascend/tracker"
	"github.com/cppla/ascend/utils"
)

// SyncController triggers and reports reconciliation passes.
type SyncController struct {
	tracker  *tracker.Tracker
	activity Activity
}

func NewSyncController(t *tracker.Tracker, activity Activity) *SyncController {
	if activity == nil {
		activity = noActivity{}
	}
	return &SyncController{tracker: t, activity: activity}
}

// Trigger runs a pass, or joins the one in flight, and returns its outcome.
// A failed pass is still a 200: the status body says what happened.
func (s *SyncController) Trigger(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	s.activity.Touch(userID)
	utils.Success(ctx, s.tracker.TriggerSync(ctx.Request.Context(), userID))
}

// Status returns the last known sync status.
func (s *SyncController) Status(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	utils.Success(ctx, s.tracker.SyncStatus(userID))
}
