package rest

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/shopcart/internal/api"
)

// Logging logs one line per request: route, status, duration and client address. Bodies are never logged.
func Logging(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("err", c.Errors.Last().Error()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("http", fields...)
			return
		}
		log.Info("http", fields...)
	}
}

// Recover turns a handler panic into a 500 and logs the stack.
func Recover(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("route", c.FullPath()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, api.ErrorResponse{Error: "internal"})
			}
		}()
		c.Next()
	}
}

// requireUser authenticates the bearer token and stores the user in the request context.
func (h *handlers) requireUser(c *gin.Context) {
	tok, ok := bearerToken(c.GetHeader(api.HeaderAuth))
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorResponse{Error: "no bearer token"})
		return
	}
	u, err := h.auth.Authenticate(c.Request.Context(), tok)
	if err != nil {
		h.fail(c, err)
		c.Abort()
		return
	}
	c.Request = c.Request.WithContext(WithUser(c.Request.Context(), u))
	c.Next()
}
