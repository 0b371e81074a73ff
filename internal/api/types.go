// Package api holds the REST wire contract and an HTTP client for it.
package api

import (
	"time"

	"github.com/and161185/shopcart/internal/model"
)

// Header names and route paths shared by client and server.
const (
	HeaderSession = "X-Session-ID"
	HeaderAuth    = "Authorization"

	PathRegister  = "/api/auth/register"
	PathLogin     = "/api/auth/login"
	PathLogout    = "/api/auth/logout"
	PathMe        = "/api/auth/me"
	PathUserCart  = "/api/carrito"
	PathGuestCart = "/api/carrito/invitado"
	PathMerge     = "/api/carrito/merge"
)

// CartResponse is returned by cart fetch and add calls.
type CartResponse struct {
	SessionID *string     `json:"session_id"`
	Cart      *model.Cart `json:"carrito"`
}

// AddItemRequest adds quantity (default 1) of a product.
type AddItemRequest struct {
	ProductID int64 `json:"producto_id"`
	Quantity  int   `json:"cantidad,omitempty"`
}

// UpdateItemRequest sets the absolute quantity of a line.
type UpdateItemRequest struct {
	ProductID int64 `json:"producto_id"`
	Quantity  int   `json:"cantidad"`
}

// UpdateItemResponse carries the updated line.
type UpdateItemResponse struct {
	Item *model.LineItem `json:"detalle"`
}

// MergeRequest folds the guest cart of SessionID into the caller's cart.
type MergeRequest struct {
	SessionID string `json:"session_id"`
}

// AckResponse is the body of remove/clear calls.
type AckResponse struct {
	OK bool `json:"ok"`
}

// LoginRequest carries customer credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest creates a customer account.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"nombre,omitempty"`
}

// LoginResponse returns an access token and the profile.
type LoginResponse struct {
	AccessToken string        `json:"access_token"`
	ExpiresAt   time.Time     `json:"expira_en"`
	User        model.Profile `json:"usuario"`
}

// ProfileResponse wraps the profile of the caller.
type ProfileResponse struct {
	User model.Profile `json:"usuario"`
}

// ErrorResponse is the body of any non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
