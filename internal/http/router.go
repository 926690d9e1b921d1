package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/lounis13/taskflow/internal/http/handlers"
	httpMW "github.com/lounis13/taskflow/internal/http/middleware"
	"github.com/lounis13/taskflow/internal/pkg/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	JobHandler      *httpH.JobHandler
	RealtimeHandler *httpH.RealtimeHandler
	HealthHandler   *httpH.HealthHandler

	ServiceName    string
	TracingEnabled bool
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.Tracing(cfg.ServiceName, cfg.TracingEnabled))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.JobHandler != nil {
			api.POST("/jobs", cfg.JobHandler.RunJob)
			api.GET("/jobs", cfg.JobHandler.ListJobs)
			api.GET("/jobs/:id", cfg.JobHandler.GetJob)
			api.POST("/jobs/:id/retries", cfg.JobHandler.RetryTask)
		}
		if cfg.RealtimeHandler != nil {
			api.GET("/sse/stream", cfg.RealtimeHandler.SSEStream)
		}
	}

	return r
}
