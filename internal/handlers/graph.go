package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osok/project-memory/internal/data/graph"
)

type GraphHandler struct {
	graphs graph.Store
}

func NewGraphHandler(graphs graph.Store) *GraphHandler {
	return &GraphHandler{graphs: graphs}
}

// POST /api/projects/:project/graph/query
//
// Read-only Cypher passthrough. The statement is screened before execution
// and project_id is always bound server-side.
func (h *GraphHandler) Query(c *gin.Context) {
	var in struct {
		Query  string         `json:"query"`
		Params map[string]any `json:"params"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	rows, err := h.graphs.ReadQuery(c.Request.Context(), c.Param("project"), in.Query, in.Params)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"rows": rows})
}
