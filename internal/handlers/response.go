package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	pkgerrors "github.com/obralens/obralens-backend/internal/pkg/errors"
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

// RespondServiceError maps the service-layer failure taxonomy onto HTTP.
func RespondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, pkgerrors.ErrForbidden):
		RespondError(c, http.StatusForbidden, "forbidden", err)
	case errors.Is(err, pkgerrors.ErrMissingAsset):
		RespondError(c, http.StatusUnprocessableEntity, "missing_asset", err)
	case errors.Is(err, pkgerrors.ErrInvalidState):
		RespondError(c, http.StatusConflict, "invalid_state", err)
	case errors.Is(err, pkgerrors.ErrStaleTransition):
		RespondError(c, http.StatusConflict, "stale_transition", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
