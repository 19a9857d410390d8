package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/ascend/middleware"
	"github.com/cppla/ascend/models"
	"github.com/cppla/ascend/store"
	"github.com/cppla/ascend/tracker"
	"github.com/cppla/ascend/utils"
)

// AuthController handles local accounts and sessions.
type AuthController struct {
	users     *store.Users
	issuer    *utils.TokenIssuer
	blacklist *utils.TokenBlacklist
	tracker   *tracker.Tracker
	activity  Activity
}

// NewAuthController creates a controller. activity may be nil.
func NewAuthController(users *store.Users, issuer *utils.TokenIssuer, blacklist *utils.TokenBlacklist, t *tracker.Tracker, activity Activity) *AuthController {
	if activity == nil {
		activity = noActivity{}
	}
	return &AuthController{users: users, issuer: issuer, blacklist: blacklist, tracker: t, activity: activity}
}

// Register creates a local account with a bcrypt hashed password.
func (a *AuthController) Register(ctx *gin.Context) {
	var req struct {
		Username     string `json:"username" binding:"required"`
		Password     string `json:"password" binding:"required"`
		TrainingPath string `json:"training_path"`
		Timezone     string `json:"timezone"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if l := len([]rune(req.Username)); l < 3 || l > 32 || !validUsername(req.Username) {
		utils.Error(ctx, http.StatusBadRequest, 40002, "username must be 3-32 letters, digits, '-' or '_'")
		return
	}
	if err := utils.ValidatePassword(req.Password); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40002, err.Error())
		return
	}

	user := models.User{Username: req.Username, TrainingPath: models.PathDiscipline, Timezone: "UTC"}
	if !applyProfile(ctx, &user, req.TrainingPath, req.Timezone) {
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to hash password")
		return
	}
	user.PasswordHash = hash

	if err := a.users.Create(ctx.Request.Context(), &user); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			utils.Error(ctx, http.StatusConflict, 40901, "username already exists")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50002, "failed to create user")
		return
	}

	a.issue(ctx, http.StatusCreated, user)
}

// Login verifies credentials and issues a JWT.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40003, "invalid request payload")
		return
	}

	user, err := a.users.ByUsername(ctx.Request.Context(), strings.TrimSpace(req.Username))
	if err != nil || !utils.CheckPassword(user.PasswordHash, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
		return
	}
	a.issue(ctx, http.StatusOK, *user)
}

func (a *AuthController) issue(ctx *gin.Context, status int, user models.User) {
	token, exp, err := a.issuer.Issue(user.ID, user.Username)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50004, "failed to generate token")
		return
	}
	a.activity.Touch(user.ID)
	utils.Respond(ctx, status, 0, "success", gin.H{
		"token":      token,
		"expires_at": exp,
		"user":       user,
	})
}

// Logout revokes the token until it expires and stops the user's sync.
func (a *AuthController) Logout(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40108, "unauthorized")
		return
	}
	token := ctx.GetString(middleware.ContextTokenKey)
	expiresAt, _ := ctx.Get(middleware.ContextTokenExpiryKey)
	exp, _ := expiresAt.(time.Time)
	if exp.IsZero() {
		exp = time.Now().Add(72 * time.Hour)
	}

	a.blacklist.Revoke(token, exp)
	a.tracker.SignOut(userID)
	a.activity.Forget(userID)
	utils.Success(ctx, gin.H{"message": "logged out"})
}

// Me returns the authenticated user.
func (a *AuthController) Me(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40108, "unauthorized")
		return
	}
	user, err := a.users.ByID(ctx.Request.Context(), userID)
	if err != nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "user not found")
		return
	}
	utils.Success(ctx, user)
}

// UpdateProfile changes the training path or timezone. Days already recorded
// keep the date they were captured with.
func (a *AuthController) UpdateProfile(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40108, "unauthorized")
		return
	}

	var req struct {
		TrainingPath string `json:"training_path"`
		Timezone     string `json:"timezone"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40030, "invalid request payload")
		return
	}

	user, err := a.users.ByID(ctx.Request.Context(), userID)
	if err != nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "user not found")
		return
	}
	if !applyProfile(ctx, user, req.TrainingPath, req.Timezone) {
		return
	}
	if err := a.users.Save(ctx.Request.Context(), user); err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50031, "failed to update profile")
		return
	}
	utils.Success(ctx, user)
}

// applyProfile validates and copies non-empty fields; it writes the error
// response itself and returns false on bad input.
func applyProfile(ctx *gin.Context, user *models.User, path, tz string) bool {
	if path = strings.TrimSpace(path); path != "" {
		if !models.ValidTrainingPath(path) {
			utils.Error(ctx, http.StatusBadRequest, 40031, "unknown training path")
			return false
		}
		user.TrainingPath = path
	}
	if tz = strings.TrimSpace(tz); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40032, "unknown timezone")
			return false
		}
		user.Timezone = tz
	}
	return true
}

func validUsername(s string) bool {
	for _, r := range s {
		if r == '-' || r == '_' {
			continue
		}
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}
		return false
	}
	return true
}
