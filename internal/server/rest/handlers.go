package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/shopcart/internal/api"
	"github.com/and161185/shopcart/internal/model"
	"github.com/and161185/shopcart/internal/service"
)

type handlers struct {
	auth  service.AuthService
	carts service.CartService
	log   *zap.Logger
}

// --- auth ---

func (h *handlers) register(c *gin.Context) {
	var req api.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	p, err := h.auth.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, api.ProfileResponse{User: p})
}

func (h *handlers) login(c *gin.Context) {
	var req api.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		badRequest(c, "email and password required")
		return
	}
	tok, u, err := h.auth.LoginWithIP(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.LoginResponse{AccessToken: tok.AccessToken, ExpiresAt: tok.ExpiresAt, User: u.Profile()})
}

// logout acknowledges the client dropping its token; access tokens are stateless and simply age out.
func (h *handlers) logout(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func (h *handlers) me(c *gin.Context) {
	u, _ := UserFromCtx(c.Request.Context())
	c.JSON(http.StatusOK, api.ProfileResponse{User: u.Profile()})
}

// --- carts ---

func guestOwner(c *gin.Context) service.Owner {
	return service.Owner{SessionID: c.GetHeader(api.HeaderSession)}
}

func userOwner(c *gin.Context) service.Owner {
	u, _ := UserFromCtx(c.Request.Context())
	return service.Owner{UserID: u.ID}
}

func cartResponse(cart *model.Cart) api.CartResponse {
	return api.CartResponse{SessionID: cart.SessionID, Cart: cart}
}

func productParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "bad product id")
		return 0, false
	}
	return id, true
}

// cartRoutes registers the cart handlers of one scope (guest or user) on g.
func (h *handlers) cartRoutes(g *gin.RouterGroup, owner func(*gin.Context) service.Owner) {
	g.GET("", func(c *gin.Context) {
		cart, err := h.carts.Get(c.Request.Context(), owner(c))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, cartResponse(cart))
	})

	g.DELETE("", func(c *gin.Context) {
		if err := h.carts.Clear(c.Request.Context(), owner(c)); err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, api.AckResponse{OK: true})
	})

	g.POST("/items", func(c *gin.Context) {
		var req api.AddItemRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.ProductID <= 0 {
			badRequest(c, "producto_id required")
			return
		}
		cart, err := h.carts.Add(c.Request.Context(), owner(c), req.ProductID, req.Quantity)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, cartResponse(cart))
	})

	g.PUT("/items/:id", func(c *gin.Context) {
		pid, ok := productParam(c)
		if !ok {
			return
		}
		var req api.UpdateItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid body")
			return
		}
		if req.ProductID != 0 && req.ProductID != pid {
			badRequest(c, "producto_id does not match path")
			return
		}
		li, err := h.carts.Update(c.Request.Context(), owner(c), pid, req.Quantity)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, api.UpdateItemResponse{Item: li})
	})

	g.DELETE("/items/:id", func(c *gin.Context) {
		pid, ok := productParam(c)
		if !ok {
			return
		}
		if err := h.carts.Remove(c.Request.Context(), owner(c), pid); err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, api.AckResponse{OK: true})
	})
}

func (h *handlers) merge(c *gin.Context) {
	var req api.MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		badRequest(c, "session_id required")
		return
	}
	u, _ := UserFromCtx(c.Request.Context())
	cart, err := h.carts.Merge(c.Request.Context(), u.ID, req.SessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.log.Debug("guest cart merged", zap.String("user", u.ID.String()), zap.Int("lines", len(cart.Items)))
	c.JSON(http.StatusOK, api.CartResponse{Cart: cart})
}
