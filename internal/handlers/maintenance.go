package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osok/project-memory/internal/modules/indexing"
	"github.com/osok/project-memory/internal/modules/normalize"
)

var errMissingPath = errors.New("path is required")

type MaintenanceHandler struct {
	indexer    *indexing.Service
	normalizer *normalize.Service
}

func NewMaintenanceHandler(indexer *indexing.Service, normalizer *normalize.Service) *MaintenanceHandler {
	return &MaintenanceHandler{indexer: indexer, normalizer: normalizer}
}

// POST /api/projects/:project/index
//
// A file path is indexed synchronously; a directory becomes a background
// job whose id the caller polls.
func (h *MaintenanceHandler) Index(c *gin.Context) {
	var in struct {
		Path     string   `json:"path"`
		Language string   `json:"language"`
		Dir      bool     `json:"dir"`
		Include  []string `json:"include"`
		Exclude  []string `json:"exclude"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if in.Path == "" {
		RespondError(c, http.StatusBadRequest, "validation", errMissingPath)
		return
	}
	if !in.Dir {
		summary, err := h.indexer.IndexFile(c.Request.Context(), c.Param("project"), in.Path, in.Language)
		if err != nil {
			RespondServiceError(c, err)
			return
		}
		RespondOK(c, gin.H{"file": summary})
		return
	}
	job, err := h.indexer.SubmitDirectory(c.Request.Context(), c.Param("project"), in.Path, in.Include, in.Exclude)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

// POST /api/projects/:project/normalize
func (h *MaintenanceHandler) Normalize(c *gin.Context) {
	var in struct {
		Phases []string `json:"phases"`
		DryRun bool     `json:"dry_run"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	job, err := h.normalizer.Submit(c.Request.Context(), c.Param("project"), in.Phases, in.DryRun)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}
