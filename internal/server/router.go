package server

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/counselbridge-backend/internal/handlers"
	"github.com/yungbote/counselbridge-backend/internal/middleware"
	"github.com/yungbote/counselbridge-backend/internal/platform/envutil"
)

type RouterConfig struct {
	SessionHandler *handlers.SessionHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if strings.EqualFold(envutil.Str("APP_ENV", "dev"), "prod") {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(envutil.Str("OTEL_SERVICE_NAME", "counselbridge")))
	r.Use(middleware.Trace())
	r.Use(middleware.Metrics())

	origins := strings.Split(envutil.Str("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ",")
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthcheck", handlers.Healthcheck)
	r.GET("/metrics", handlers.Metrics)

	api := r.Group("/api")
	{
		sessions := api.Group("/sessions")
		{
			sessions.GET("/:id", cfg.SessionHandler.Get)
			sessions.POST("/:id/turns", cfg.SessionHandler.Turn)
			sessions.POST("/:id/report", cfg.SessionHandler.Report)
			sessions.POST("/:id/reset", cfg.SessionHandler.Reset)
		}
	}
	return r
}
