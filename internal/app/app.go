package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lounis13/taskflow/internal/application/pricing"
	"github.com/lounis13/taskflow/internal/data/db"
	"github.com/lounis13/taskflow/internal/domain/task"
	httpx "github.com/lounis13/taskflow/internal/http"
	httpH "github.com/lounis13/taskflow/internal/http/handlers"
	"github.com/lounis13/taskflow/internal/jobs/reactive"
	"github.com/lounis13/taskflow/internal/observability"
	"github.com/lounis13/taskflow/internal/pkg/logger"
	"github.com/lounis13/taskflow/internal/services"
	"github.com/lounis13/taskflow/internal/sse"
)

const serviceName = "taskflow"

type App struct {
	Log     *logger.Logger
	DB      *gorm.DB
	Router  *gin.Engine
	Cfg     Config
	Jobs    services.JobService
	SSEHub  *sse.Hub
	Engines *reactive.EngineRegistry

	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	theDB, err := openDatabase(cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Enabled:     cfg.OtelEnabled,
	})

	// Registries: the only place where kind/mapper strings bind to code.
	actions := task.NewActionRegistry()
	mappers := task.NewMapperRegistry()
	if err := pricing.RegisterAll(actions, mappers); err != nil {
		log.Sync()
		return nil, fmt.Errorf("register pricing jobs: %w", err)
	}

	hub := sse.NewHub(log)
	notifier := services.NewJobNotifier(hub)
	engines := reactive.NewEngineRegistry()
	jobService := services.NewJobService(
		theDB, log, engines, actions, mappers, notifier,
		func() (*task.Task, error) { return pricing.NewNightBatchJob() },
		reactive.Config{RetrySettleDelay: cfg.RetrySettleDelay},
	)

	router := httpx.NewRouter(httpx.RouterConfig{
		Log:             log,
		JobHandler:      httpH.NewJobHandler(jobService),
		RealtimeHandler: httpH.NewRealtimeHandler(hub),
		HealthHandler:   httpH.NewHealthHandler(),
		ServiceName:     serviceName,
		TracingEnabled:  cfg.OtelEnabled,
	})

	return &App{
		Log:          log,
		DB:           theDB,
		Router:       router,
		Cfg:          cfg,
		Jobs:         jobService,
		SSEHub:       hub,
		Engines:      engines,
		otelShutdown: otelShutdown,
	}, nil
}

func openDatabase(cfg Config, log *logger.Logger) (*gorm.DB, error) {
	switch cfg.DBBackend {
	case "postgres":
		pg, err := db.NewPostgresService(log)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		if err := pg.AutoMigrateAll(); err != nil {
			return nil, fmt.Errorf("postgres automigrate: %w", err)
		}
		return pg.DB(), nil
	default:
		sq, err := db.NewSqliteService(log)
		if err != nil {
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
		if err := sq.AutoMigrateAll(); err != nil {
			return nil, fmt.Errorf("sqlite automigrate: %w", err)
		}
		return sq.DB(), nil
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
