package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cppla/ascend/middleware"
	"github.com/cppla/ascend/store"
	"github.com/cppla/ascend/tracker"
	"github.com/cppla/ascend/utils"
)

// AdminController serves operator routes. Every handler runs behind
// middleware.AdminRequired.
type AdminController struct {
	users    *store.Users
	tracker  *tracker.Tracker
	activity Activity
}

// NewAdminController creates a controller. activity may be nil.
func NewAdminController(users *store.Users, t *tracker.Tracker, activity Activity) *AdminController {
	if activity == nil {
		activity = noActivity{}
	}
	return &AdminController{users: users, tracker: t, activity: activity}
}

// GrantBankDays credits bank days to the user named in the path, e.g. as a
// reward for a finished program.
func (a *AdminController) GrantBankDays(ctx *gin.Context) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil || id == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40005, "invalid user id")
		return
	}
	var req struct {
		Amount int    `json:"amount" binding:"required"`
		Reason string `json:"reason"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40004, "invalid request payload")
		return
	}

	userID := uint(id)
	if _, err := a.users.ByID(ctx.Request.Context(), userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40402, "user not found")
			return
		}
		utils.Sugar.Errorw("admin grant: load user", "user_id", userID, "err", err)
		utils.Error(ctx, http.StatusInternalServerError, 50040, "failed to load user")
		return
	}

	tx, st, err := a.tracker.GrantBankDays(ctx.Request.Context(), userID, req.Amount, req.Reason)
	if err != nil {
		writeCoreError(ctx, err, nil)
		return
	}
	utils.Sugar.Infow("bank days granted by admin", "user_id", userID, "amount", req.Amount, "admin", ctx.GetString(middleware.ContextUsernameKey))
	a.activity.Touch(userID)
	utils.Created(ctx, gin.H{"transaction": tx, "progress": st})
}
