package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/shopcart/internal/api"
	"github.com/and161185/shopcart/internal/service"
)

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Auth  service.AuthService
	Carts service.CartService
	// Ready reports whether backing stores are reachable; nil means always ready.
	Ready       func(ctx context.Context) error
	CORSOrigins []string
}

// NewRouter wires middleware and routes.
func NewRouter(d Deps, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(Recover(log), Logging(log), cors.New(corsConfig(d.CORSOrigins)))

	h := &handlers{auth: d.Auth, carts: d.Carts, log: log}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/readyz", readyHandler(d.Ready))

	a := r.Group("/api/auth")
	a.POST("/register", h.register)
	a.POST("/login", h.login)
	a.POST("/logout", h.requireUser, h.logout)
	a.GET("/me", h.requireUser, h.me)

	h.cartRoutes(r.Group(api.PathGuestCart), guestOwner)
	user := r.Group(api.PathUserCart, h.requireUser)
	h.cartRoutes(user, userOwner)
	user.POST("/merge", h.merge)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", api.HeaderAuth, api.HeaderSession},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func readyHandler(ready func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "reason": "db not reachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
