package handler

import (
	"errors"
	"net/http"

	"sentinal-call/internal/transport/httpdto"
	sentinal_errors "sentinal-call/pkg/errors"

	"github.com/gin-gonic/gin"
)

// HTTPStatus maps a service error to a status code and response code.
func HTTPStatus(err error) (int, string) {
	switch {
	case errors.Is(err, sentinal_errors.ErrBusy):
		return http.StatusConflict, httpdto.CodeBusy
	case errors.Is(err, sentinal_errors.ErrMalformedSignal):
		return http.StatusBadRequest, httpdto.CodeMalformedSignal
	case errors.Is(err, sentinal_errors.ErrInvalidInput):
		return http.StatusBadRequest, httpdto.CodeInvalidInput
	case errors.Is(err, sentinal_errors.ErrUnauthorized):
		return http.StatusUnauthorized, httpdto.CodeUnauthorized
	case errors.Is(err, sentinal_errors.ErrForbidden):
		return http.StatusForbidden, httpdto.CodeForbidden
	case errors.Is(err, sentinal_errors.ErrNotFound):
		return http.StatusNotFound, httpdto.CodeNotFound
	case errors.Is(err, sentinal_errors.ErrCallTerminated):
		return http.StatusConflict, httpdto.CodeCallTerminated
	case errors.Is(err, sentinal_errors.ErrInvalidTransition):
		return http.StatusConflict, httpdto.CodeInvalidTransition
	case errors.Is(err, sentinal_errors.ErrRateLimited):
		return http.StatusTooManyRequests, httpdto.CodeRateLimited
	default:
		return http.StatusInternalServerError, httpdto.CodeInternal
	}
}

// respondError writes the error envelope. Internal errors are recorded on
// the gin context for the error middleware and never echoed to clients.
func respondError(c *gin.Context, err error) {
	status, code := HTTPStatus(err)
	var busy *sentinal_errors.BusyError
	switch {
	case errors.As(err, &busy):
		c.JSON(status, httpdto.NewErrorResponseWithData(err.Error(), code, httpdto.BusyDTO{
			Party:  string(busy.Party),
			UserID: busy.UserID,
		}))
	case status == http.StatusInternalServerError:
		_ = c.Error(err)
		c.JSON(status, httpdto.NewErrorResponse("internal error", code))
	default:
		c.JSON(status, httpdto.NewErrorResponse(err.Error(), code))
	}
}
