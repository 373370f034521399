package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osok/project-memory/internal/jobs"
)

type JobsHandler struct {
	store jobs.Store
}

func NewJobsHandler(store jobs.Store) *JobsHandler {
	return &JobsHandler{store: store}
}

// GET /api/jobs/:id
func (h *JobsHandler) Get(c *gin.Context) {
	job, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	if job == nil {
		RespondError(c, http.StatusNotFound, "job_not_found", fmt.Errorf("job %s not found", c.Param("id")))
		return
	}
	RespondOK(c, gin.H{"job": job})
}

// DELETE /api/jobs/:id
//
// Requests cooperative cancellation. Indexing jobs observe the flag between
// files; a job already terminal is left alone.
func (h *JobsHandler) Cancel(c *gin.Context) {
	job, err := h.store.Update(c.Request.Context(), c.Param("id"), func(j *jobs.Job) {
		if !j.Terminal() {
			j.Status = jobs.StatusCancelled
		}
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	if job == nil {
		RespondError(c, http.StatusNotFound, "job_not_found", fmt.Errorf("job %s not found", c.Param("id")))
		return
	}
	RespondOK(c, gin.H{"job": job})
}
