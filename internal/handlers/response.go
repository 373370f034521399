package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osok/project-memory/internal/data/graph"
	"github.com/osok/project-memory/internal/modules/memory"
	"github.com/osok/project-memory/internal/platform/apierr"
	"github.com/osok/project-memory/internal/platform/qdrant"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// translate maps module errors onto the API error taxonomy: not-found 404,
// validation 400, mutate-deleted 409, rejected graph query 403, anything
// else is a store failure 502.
func translate(err error) *apierr.Error {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, memory.ErrNotFound), qdrant.IsNotFound(err):
		return apierr.New(http.StatusNotFound, "not_found", err)
	case errors.Is(err, memory.ErrDeleted):
		return apierr.New(http.StatusConflict, "memory_deleted", err)
	case memory.IsValidation(err):
		return apierr.New(http.StatusBadRequest, "validation", err)
	}
	var rejected *graph.ErrQueryRejected
	if errors.As(err, &rejected) {
		return apierr.New(http.StatusForbidden, "query_rejected", err)
	}
	return apierr.New(http.StatusBadGateway, "store_unavailable", err)
}

// RespondServiceError writes a module error through the taxonomy above.
func RespondServiceError(c *gin.Context, err error) {
	ae := translate(err)
	RespondError(c, ae.Status, ae.Code, err)
}
