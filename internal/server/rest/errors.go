package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/and161185/shopcart/internal/api"
	"github.com/and161185/shopcart/internal/errs"
)

// status maps a service error to its HTTP status and public message.
func status(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrInvalidQuantity):
		return http.StatusBadRequest, errs.ErrInvalidQuantity.Error()
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, "already exists"
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, "too many attempts, try later"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *handlers) fail(c *gin.Context, err error) {
	code, msg := status(err)
	_ = c.Error(err)
	c.JSON(code, api.ErrorResponse{Error: msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: msg})
}
