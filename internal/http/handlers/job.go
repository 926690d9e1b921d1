package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lounis13/taskflow/internal/http/response"
	"github.com/lounis13/taskflow/internal/services"
)

type JobHandler struct {
	jobs services.JobService
}

func NewJobHandler(jobs services.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// POST /api/jobs
func (h *JobHandler) RunJob(c *gin.Context) {
	job, err := h.jobs.Create(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "create_job_failed", err)
		return
	}
	h.jobs.Run(job.ID)
	response.RespondAccepted(c, gin.H{"job_id": job.ID, "status": job.Status})
}

// GET /api/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	jobs, err := h.jobs.List(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_jobs_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": jobs})
}

// GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		response.RespondError(c, http.StatusNotFound, "job_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

type RetryRequest struct {
	TaskID uuid.UUID `json:"task_id" binding:"required"`
}

// POST /api/jobs/:id/retries
func (h *JobHandler) RetryTask(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	var req RetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_retry_request", err)
		return
	}
	h.jobs.Retry(jobID, req.TaskID)
	response.RespondAccepted(c, gin.H{"job_id": jobID, "task_id": req.TaskID})
}
