package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/osok/project-memory/internal/modules/memory"
	"github.com/osok/project-memory/internal/types"
)

type MemoryHandler struct {
	memories *memory.Service
}

func NewMemoryHandler(memories *memory.Service) *MemoryHandler {
	return &MemoryHandler{memories: memories}
}

// POST /api/projects/:project/memories
func (h *MemoryHandler) Create(c *gin.Context) {
	var in memory.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	mem, err := h.memories.Create(c.Request.Context(), c.Param("project"), in)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"memory": mem})
}

// GET /api/projects/:project/memories/:type/:id
func (h *MemoryHandler) Get(c *gin.Context) {
	mem, err := h.memories.Get(c.Request.Context(), c.Param("project"), types.MemoryType(c.Param("type")), c.Param("id"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"memory": mem})
}

// PATCH /api/projects/:project/memories/:type/:id
func (h *MemoryHandler) Update(c *gin.Context) {
	var in memory.UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	mem, err := h.memories.Update(c.Request.Context(), c.Param("project"), types.MemoryType(c.Param("type")), c.Param("id"), in)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"memory": mem})
}

// DELETE /api/projects/:project/memories/:type/:id?hard=true
func (h *MemoryHandler) Delete(c *gin.Context) {
	hard := c.Query("hard") == "true"
	err := h.memories.Delete(c.Request.Context(), c.Param("project"), types.MemoryType(c.Param("type")), c.Param("id"), hard)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": true, "hard": hard})
}

// POST /api/projects/:project/memories/bulk
func (h *MemoryHandler) Bulk(c *gin.Context) {
	var in struct {
		Items []memory.CreateInput `json:"items"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	ids, err := h.memories.BulkCreate(c.Request.Context(), c.Param("project"), in.Items)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"memory_ids": ids})
}

// POST /api/projects/:project/search
func (h *MemoryHandler) Search(c *gin.Context) {
	var in memory.SearchInput
	if err := c.ShouldBindJSON(&in); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	hits, err := h.memories.Search(c.Request.Context(), c.Param("project"), in)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"results": hits})
}

// GET /api/projects/:project/memories/:type?limit=&offset=
func (h *MemoryHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	var offset []byte
	if raw := c.Query("offset"); raw != "" {
		offset = []byte(raw)
	}
	mems, next, err := h.memories.List(c.Request.Context(), c.Param("project"), types.MemoryType(c.Param("type")), limit, offset)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	payload := gin.H{"memories": mems}
	if next != nil {
		payload["next_offset"] = string(next)
	}
	RespondOK(c, payload)
}

// GET /api/projects/:project/statistics
func (h *MemoryHandler) Statistics(c *gin.Context) {
	stats, err := h.memories.Statistics(c.Request.Context(), c.Param("project"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"statistics": stats})
}

// GET /api/projects/:project/memories/:type/:id/related?types=A,B&depth=2
func (h *MemoryHandler) Related(c *gin.Context) {
	depth, _ := strconv.Atoi(c.DefaultQuery("depth", "1"))
	var relTypes []string
	if raw := c.Query("types"); raw != "" {
		relTypes = strings.Split(raw, ",")
	}
	nodes, err := h.memories.Related(c.Request.Context(), c.Param("project"), c.Param("id"), relTypes, depth)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"related": nodes})
}

// GET /api/projects/:project/export?includeDeleted=true
func (h *MemoryHandler) Export(c *gin.Context) {
	includeDeleted := c.Query("includeDeleted") == "true"
	c.Header("Content-Type", "application/x-ndjson")
	err := h.memories.Export(c.Request.Context(), c.Param("project"), includeDeleted, c.Writer)
	if err != nil {
		// Headers may already be out; best we can do is abort the stream.
		c.Abort()
		_ = c.Error(err)
	}
}

// POST /api/projects/:project/import?conflict=skip|overwrite|error
func (h *MemoryHandler) Import(c *gin.Context) {
	policy, err := memory.ParseConflictPolicy(c.Query("conflict"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	report, err := h.memories.Import(c.Request.Context(), c.Param("project"), c.Request.Body, policy)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"report": report})
}
