package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"auralis/internal/apperr"
	"auralis/internal/calls"
	"auralis/pkg/logger"
)

// WriteError writes the JSON error envelope for err. Unclassified errors are
// logged and reported as 500 without leaking their text.
func WriteError(c *gin.Context, err error) {
	e := classify(err)
	if e.Status >= http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "kind", e.Kind, "error", err)
	}
	c.AbortWithStatusJSON(e.Status, e.Body())
}

func classify(err error) *apperr.Error {
	if e, ok := apperr.As(err); ok {
		return e
	}
	switch {
	case errors.Is(err, calls.ErrNotFound):
		return apperr.NotFound("call not found")
	case errors.Is(err, calls.ErrInvalidRecord):
		return apperr.Validation("invalid call record", err.Error())
	default:
		return apperr.Internal("internal error", err)
	}
}
