package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/shopcart/internal/errs"
	"github.com/and161185/shopcart/internal/model"
)

// ErrMalformed marks a response that violates the wire contract.
var ErrMalformed = errors.New("malformed response")

// Scope is the identity a request is issued under. An access token takes precedence over the session.
type Scope struct {
	AccessToken string
	SessionID   string
}

// Guest reports whether the scope selects guest endpoints.
func (s Scope) Guest() bool { return s.AccessToken == "" }

func (s Scope) apply(req *http.Request) {
	switch {
	case s.AccessToken != "":
		req.Header.Set(HeaderAuth, "Bearer "+s.AccessToken)
	case s.SessionID != "":
		req.Header.Set(HeaderSession, s.SessionID)
	}
}

// StatusError is a non-2xx reply. It unwraps to the matching errs sentinel.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return errs.ErrUnauthorized
	case e.Status == http.StatusNotFound:
		return errs.ErrNotFound
	case e.Status == http.StatusConflict:
		return errs.ErrAlreadyExists
	case e.Status == http.StatusTooManyRequests:
		return errs.ErrRateLimited
	case e.Status >= 400 && e.Status < 500:
		return errs.ErrRejected
	}
	return nil
}

// Client talks to the storefront REST API.
type Client struct {
	base string
	hc   *http.Client
}

// New returns a client for baseURL. A zero timeout keeps the http.Client default (none).
func New(baseURL string, timeout time.Duration) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: timeout})
}

// NewWithHTTPClient uses hc for transport.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{base: strings.TrimRight(baseURL, "/"), hc: hc}
}

// --- carts ---

func cartPath(sc Scope) string {
	if sc.Guest() {
		return PathGuestCart
	}
	return PathUserCart
}

func itemPath(sc Scope, productID int64) string {
	return cartPath(sc) + "/items/" + strconv.FormatInt(productID, 10)
}

// FetchCart gets or creates the cart of the scope.
func (c *Client) FetchCart(ctx context.Context, sc Scope) (CartResponse, error) {
	var out CartResponse
	if err := c.do(ctx, http.MethodGet, cartPath(sc), sc, nil, &out); err != nil {
		return CartResponse{}, err
	}
	if out.Cart == nil {
		return CartResponse{}, fmt.Errorf("fetch cart: %w: missing carrito", ErrMalformed)
	}
	return out, nil
}

// AddItem adds quantity of productID; the reply is the authoritative cart.
func (c *Client) AddItem(ctx context.Context, sc Scope, productID int64, quantity int) (CartResponse, error) {
	var out CartResponse
	body := AddItemRequest{ProductID: productID, Quantity: quantity}
	if err := c.do(ctx, http.MethodPost, cartPath(sc)+"/items", sc, body, &out); err != nil {
		return CartResponse{}, err
	}
	if out.Cart == nil {
		return CartResponse{}, fmt.Errorf("add item: %w: missing carrito", ErrMalformed)
	}
	return out, nil
}

// UpdateItem sets the quantity of productID and returns the updated line.
func (c *Client) UpdateItem(ctx context.Context, sc Scope, productID int64, quantity int) (model.LineItem, error) {
	var out UpdateItemResponse
	body := UpdateItemRequest{ProductID: productID, Quantity: quantity}
	if err := c.do(ctx, http.MethodPut, itemPath(sc, productID), sc, body, &out); err != nil {
		return model.LineItem{}, err
	}
	if out.Item == nil {
		return model.LineItem{}, fmt.Errorf("update item: %w: missing detalle", ErrMalformed)
	}
	return *out.Item, nil
}

// RemoveItem deletes the line of productID.
func (c *Client) RemoveItem(ctx context.Context, sc Scope, productID int64) error {
	return c.do(ctx, http.MethodDelete, itemPath(sc, productID), sc, nil, nil)
}

// ClearCart empties the cart of the scope.
func (c *Client) ClearCart(ctx context.Context, sc Scope) error {
	return c.do(ctx, http.MethodDelete, cartPath(sc), sc, nil, nil)
}

// MergeGuestCart folds the guest cart of sessionID into the user's cart.
func (c *Client) MergeGuestCart(ctx context.Context, accessToken, sessionID string) (*model.Cart, error) {
	if accessToken == "" {
		return nil, errs.ErrNoIdentity
	}
	var out CartResponse
	sc := Scope{AccessToken: accessToken}
	if err := c.do(ctx, http.MethodPost, PathMerge, sc, MergeRequest{SessionID: sessionID}, &out); err != nil {
		return nil, err
	}
	return out.Cart, nil
}

// --- auth ---

// Register creates a customer account.
func (c *Client) Register(ctx context.Context, email, password, name string) (model.Profile, error) {
	var out ProfileResponse
	body := RegisterRequest{Email: email, Password: password, Name: name}
	if err := c.do(ctx, http.MethodPost, PathRegister, Scope{}, body, &out); err != nil {
		return model.Profile{}, err
	}
	return out.User, nil
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, PathLogin, Scope{}, LoginRequest{Email: email, Password: password}, &out); err != nil {
		return LoginResponse{}, err
	}
	if out.AccessToken == "" {
		return LoginResponse{}, fmt.Errorf("login: %w: missing access_token", ErrMalformed)
	}
	return out, nil
}

// Logout tells the server the token is no longer in use.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, PathLogout, Scope{AccessToken: accessToken}, nil, nil)
}

// Me returns the profile bound to accessToken.
func (c *Client) Me(ctx context.Context, accessToken string) (model.Profile, error) {
	if accessToken == "" {
		return model.Profile{}, errs.ErrNoIdentity
	}
	var out ProfileResponse
	if err := c.do(ctx, http.MethodGet, PathMe, Scope{AccessToken: accessToken}, nil, &out); err != nil {
		return model.Profile{}, err
	}
	return out.User, nil
}

// --- plumbing ---

func (c *Client) do(ctx context.Context, method, path string, sc Scope, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	sc.apply(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er ErrorResponse
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(b, &er)
		return fmt.Errorf("%s %s: %w", method, path, &StatusError{Status: resp.StatusCode, Message: er.Error})
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, ErrMalformed, err)
	}
	return nil
}
