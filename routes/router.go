package routes

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cppla/ascend/config"
	"github.com/cppla/ascend/controllers"
	"github.com/cppla/ascend/metrics"
	"github.com/cppla/ascend/middleware"
	"github.com/cppla/ascend/store"
	"github.com/cppla/ascend/tracker"
	"github.com/cppla/ascend/utils"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Users     *store.Users
	Tracker   *tracker.Tracker
	Issuer    *utils.TokenIssuer
	Blacklist *utils.TokenBlacklist
	Activity  controllers.Activity
	// Registry receives HTTP metrics and is served on /metrics; nil disables both.
	Registry *prometheus.Registry
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(cfg config.AppConfig, d Deps) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if gl, err := ginLogger(cfg); err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		// fall back to the application logger when the access log cannot open
		r.Use(utils.RecoveryWithZap(utils.Component("http"), false))
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	if d.Registry != nil {
		r.Use(metrics.NewHTTP(d.Registry).Middleware())
		r.GET("/metrics", metrics.Handler(d.Registry))
	}

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	authController := controllers.NewAuthController(d.Users, d.Issuer, d.Blacklist, d.Tracker, d.Activity)
	progressController := controllers.NewProgressController(d.Tracker, d.Activity)
	syncController := controllers.NewSyncController(d.Tracker, d.Activity)
	contentController := controllers.NewContentController(d.Users, d.Tracker)
	adminController := controllers.NewAdminController(d.Users, d.Tracker, d.Activity)
	authRequired := middleware.AuthRequired(d.Issuer, d.Blacklist)

	api := r.Group("/api/v1")
	api.GET("/content/books", contentController.Books)

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware(cfg.RateLimitPerMinute))
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.POST("/logout", authRequired, authController.Logout)
	authGroup.GET("/me", authRequired, authController.Me)
	authGroup.PATCH("/profile", authRequired, authController.UpdateProfile)

	protected := api.Group("")
	protected.Use(authRequired, middleware.RateLimitMiddleware(cfg.RateLimitPerMinute))
	protected.GET("/progress", progressController.Current)
	protected.POST("/progress/complete", progressController.Complete)
	protected.POST("/progress/skip", progressController.Skip)
	protected.POST("/bank/use", progressController.UseBankDay)
	protected.GET("/projections/:kind", progressController.Projection)
	protected.POST("/checkins", progressController.CheckIn)
	protected.POST("/sync", syncController.Trigger)
	protected.GET("/sync/status", syncController.Status)
	protected.GET("/content/today", contentController.TodayChallenge)

	admin := api.Group("/admin")
	admin.Use(authRequired, middleware.AdminRequired(cfg.AdminUsernames))
	admin.POST("/users/:id/bank/grant", adminController.GrantBankDays)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "api route not found")
	})

	return r
}

func ginLogger(cfg config.AppConfig) (*zap.Logger, error) {
	if cfg.GinPath == "" {
		return nil, errors.New("no gin log path")
	}
	return utils.NewRollingFileLogger(cfg.GinPath, cfg)
}
