package services

import (
	"github.com/lounis13/taskflow/internal/domain/task"
	"github.com/lounis13/taskflow/internal/sse"
)

// JobsChannel is the SSE channel carrying every job lifecycle event.
const JobsChannel = "jobs"

type JobNotifier interface {
	JobCreated(job *task.Task)
	JobProgress(job *task.Task, event string)
	JobDone(job *task.Task)
	JobFailed(job *task.Task)
}

type jobNotifier struct {
	hub *sse.Hub
}

func NewJobNotifier(hub *sse.Hub) JobNotifier {
	return &jobNotifier{hub: hub}
}

func (n *jobNotifier) JobCreated(job *task.Task) {
	n.hub.Broadcast(sse.Message{
		Channel: JobsChannel,
		Event:   sse.EventJobCreated,
		Data:    map[string]any{"job_id": job.ID, "name": job.Name, "status": job.Status},
	})
}

func (n *jobNotifier) JobProgress(job *task.Task, event string) {
	n.hub.Broadcast(sse.Message{
		Channel: JobsChannel,
		Event:   sse.EventJobProgress,
		Data: map[string]any{
			"job_id": job.ID,
			"name":   job.Name,
			"status": job.Status,
			"event":  event,
		},
	})
}

func (n *jobNotifier) JobDone(job *task.Task) {
	data := map[string]any{"job_id": job.ID, "name": job.Name, "status": job.Status}
	if d := job.Duration(); d != nil {
		data["duration_ms"] = d.Milliseconds()
	}
	n.hub.Broadcast(sse.Message{
		Channel: JobsChannel,
		Event:   sse.EventJobDone,
		Data:    data,
	})
}

func (n *jobNotifier) JobFailed(job *task.Task) {
	n.hub.Broadcast(sse.Message{
		Channel: JobsChannel,
		Event:   sse.EventJobFailed,
		Data: map[string]any{
			"job_id": job.ID,
			"name":   job.Name,
			"status": job.Status,
			"error":  job.Error,
		},
	})
}
