package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/ascend/content"
	"github.com/cppla/ascend/models"
	"github.com/cppla/ascend/store"
	"github.com/cppla/ascend/tracker"
	"github.com/cppla/ascend/utils"
)

// ContentController serves daily challenges and reading lists.
type ContentController struct {
	users   *store.Users
	tracker *tracker.Tracker
}

func NewContentController(users *store.Users, t *tracker.Tracker) *ContentController {
	return &ContentController{users: users, tracker: t}
}

// TodayChallenge returns today's challenge of the caller's training path.
func (c *ContentController) TodayChallenge(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	user, err := c.users.ByID(ctx.Request.Context(), userID)
	if err != nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "user not found")
		return
	}
	utils.Success(ctx, gin.H{
		"day":       c.tracker.Today(userID),
		"challenge": c.tracker.TodayChallenge(userID, user.TrainingPath),
	})
}

// Books lists recommendations, e.g. /content/books?path=clarity&limit=3.
func (c *ContentController) Books(ctx *gin.Context) {
	path := strings.TrimSpace(ctx.Query("path"))
	if !models.ValidTrainingPath(path) {
		utils.Error(ctx, http.StatusBadRequest, 40040, "unknown training path")
		return
	}
	limit := 0
	if v := strings.TrimSpace(ctx.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 50 {
			limit = n
		}
	}
	utils.Success(ctx, gin.H{"items": content.Recommend(path, limit)})
}
