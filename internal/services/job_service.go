package services

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	jobsrepo "github.com/lounis13/taskflow/internal/data/repos/jobs"
	"github.com/lounis13/taskflow/internal/domain/task"
	"github.com/lounis13/taskflow/internal/jobs/reactive"
	"github.com/lounis13/taskflow/internal/pkg/logger"
)

// JobBuilder constructs a persistable job graph. The HTTP surface binds one
// builder per job family; the night batch is the default.
type JobBuilder func() (*task.Task, error)

// JobService is the control surface the HTTP layer consumes: build + persist a
// job, start or retry it on a background engine, and read job state.
type JobService interface {
	Create(ctx context.Context) (*task.Task, error)
	Run(jobID uuid.UUID)
	Retry(jobID uuid.UUID, taskID uuid.UUID)
	Get(ctx context.Context, jobID uuid.UUID) (*task.Task, error)
	List(ctx context.Context) ([]*task.Task, error)
}

type jobService struct {
	db      *gorm.DB
	log     *logger.Logger
	engines *reactive.EngineRegistry
	actions *task.ActionRegistry
	mappers *task.MapperRegistry
	notify  JobNotifier
	build   JobBuilder
	cfg     reactive.Config
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, engines *reactive.EngineRegistry, actions *task.ActionRegistry, mappers *task.MapperRegistry, notify JobNotifier, build JobBuilder, cfg reactive.Config) JobService {
	return &jobService{
		db:      db,
		log:     baseLog.With("service", "JobService"),
		engines: engines,
		actions: actions,
		mappers: mappers,
		notify:  notify,
		build:   build,
		cfg:     cfg,
	}
}

func (s *jobService) Create(ctx context.Context) (*task.Task, error) {
	job, err := s.build()
	if err != nil {
		return nil, err
	}
	repo := jobsrepo.NewJobRepository(s.db, s.log)
	if err := repo.Add(ctx, job); err != nil {
		return nil, err
	}
	if err := repo.Commit(ctx); err != nil {
		return nil, err
	}
	s.log.Info("job created", "job_id", job.ID, "name", job.Name)
	s.notify.JobCreated(job)
	return job, nil
}

// Run starts the engine for the job on a background goroutine; the caller is
// not blocked. Concurrent run/retry calls for the same job share one engine
// through the registry.
func (s *jobService) Run(jobID uuid.UUID) {
	go func() {
		engine := s.engine(jobID)
		if err := engine.Run(context.Background()); err != nil {
			s.log.Error("job run failed", "job_id", jobID, "error", err)
		}
		s.engines.Delete(jobID)
	}()
}

// Retry reopens one finished task of the job in the background.
func (s *jobService) Retry(jobID uuid.UUID, taskID uuid.UUID) {
	go func() {
		engine := s.engine(jobID)
		if err := engine.Retry(context.Background(), taskID); err != nil {
			s.log.Error("job retry failed", "job_id", jobID, "task_id", taskID, "error", err)
		}
		s.engines.Delete(jobID)
	}()
}

func (s *jobService) engine(jobID uuid.UUID) *reactive.Engine {
	return s.engines.GetOrCreate(jobID, func() *reactive.Engine {
		repo := jobsrepo.NewJobRepository(s.db, s.log)
		return reactive.NewEngine(
			repo, s.actions, s.mappers, jobID, s.cfg, s.log,
			reactive.WithEventObserver(s.observe),
		)
	})
}

func (s *jobService) observe(ev reactive.Event) {
	switch {
	case ev.Task.IsFinished() && ev.Type == reactive.EventRun && ev.Task.Status == task.StatusSuccess:
		s.notify.JobDone(ev.Task)
	case ev.Task.Status == task.StatusFailed:
		s.notify.JobFailed(ev.Task)
	default:
		s.notify.JobProgress(ev.Task, string(ev.Type))
	}
}

func (s *jobService) Get(ctx context.Context, jobID uuid.UUID) (*task.Task, error) {
	repo := jobsrepo.NewJobRepository(s.db, s.log)
	defer repo.Commit(ctx)
	return repo.Get(ctx, jobID, true)
}

func (s *jobService) List(ctx context.Context) ([]*task.Task, error) {
	repo := jobsrepo.NewJobRepository(s.db, s.log)
	defer repo.Commit(ctx)
	return repo.GetAll(ctx, false)
}
