package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/shopcart/internal/errs"
	"github.com/and161185/shopcart/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", 5*time.Second)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestFetchCart_GuestScopeSendsSessionHeader(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, PathGuestCart, r.URL.Path)
		assert.Equal(t, "abc123", r.Header.Get(HeaderSession))
		assert.Empty(t, r.Header.Get(HeaderAuth))
		_, _ = w.Write([]byte(`{"session_id":"abc123","carrito":{"id":1,"detalles":[]}}`))
	})

	out, err := c.FetchCart(context.Background(), Scope{SessionID: "abc123"})
	require.NoError(t, err)
	require.Equal(t, "abc123", *out.SessionID)
	require.Equal(t, int64(1), out.Cart.ID)
	require.Empty(t, out.Cart.Items)
}

func TestFetchCart_BearerTakesPrecedence(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathUserCart, r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get(HeaderAuth))
		assert.Empty(t, r.Header.Get(HeaderSession))
		_, _ = w.Write([]byte(`{"carrito":{"id":2,"detalles":[{"producto_id":7,"producto":{"id":7,"nombre":"Mug"},"cantidad":2,"precio_unitario":"10.00"}]}}`))
	})

	out, err := c.FetchCart(context.Background(), Scope{AccessToken: "tok", SessionID: "ignored"})
	require.NoError(t, err)
	require.Nil(t, out.SessionID)
	require.Len(t, out.Cart.Items, 1)
	require.True(t, decimal.NewFromInt(20).Equal(out.Cart.Total()))
}

func TestFetchCart_MissingCartIsMalformed(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"session_id":null}`))
	})
	_, err := c.FetchCart(context.Background(), Scope{})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestAddItem_RequestShape(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, PathUserCart+"/items", r.URL.Path)
		var req AddItemRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, AddItemRequest{ProductID: 7, Quantity: 1}, req)
		writeJSON(w, http.StatusOK, CartResponse{Cart: &model.Cart{ID: 3}})
	})

	out, err := c.AddItem(context.Background(), Scope{AccessToken: "t"}, 7, 1)
	require.NoError(t, err)
	require.Equal(t, int64(3), out.Cart.ID)
}

func TestUpdateItem_ReturnsLine(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, PathGuestCart+"/items/5", r.URL.Path)
		var req UpdateItemRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 4, req.Quantity)
		writeJSON(w, http.StatusOK, UpdateItemResponse{Item: &model.LineItem{ProductID: 5, Quantity: 4, UnitPrice: decimal.NewFromInt(3)}})
	})

	li, err := c.UpdateItem(context.Background(), Scope{SessionID: "s"}, 5, 4)
	require.NoError(t, err)
	require.Equal(t, 4, li.Quantity)
}

func TestRemoveAndClear(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		paths []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		writeJSON(w, http.StatusOK, AckResponse{OK: true})
	})

	require.NoError(t, c.RemoveItem(context.Background(), Scope{SessionID: "s"}, 9))
	require.NoError(t, c.ClearCart(context.Background(), Scope{AccessToken: "t"}))
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{PathGuestCart + "/items/9", PathUserCart}, paths)
}

func TestStatusErrors_MapToSentinels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, errs.ErrUnauthorized},
		{http.StatusNotFound, errs.ErrNotFound},
		{http.StatusConflict, errs.ErrAlreadyExists},
		{http.StatusTooManyRequests, errs.ErrRateLimited},
		{http.StatusBadRequest, errs.ErrRejected},
		{http.StatusUnprocessableEntity, errs.ErrRejected},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tc.code, ErrorResponse{Error: "nope"})
		})
		err := c.RemoveItem(context.Background(), Scope{}, 1)
		require.ErrorIs(t, err, tc.want, "status %d", tc.code)

		var se *StatusError
		require.True(t, errors.As(err, &se))
		require.Equal(t, tc.code, se.Status)
		require.Equal(t, "nope", se.Message)
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	err := c.ClearCart(context.Background(), Scope{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.NotErrorIs(t, err, errs.ErrRejected)
}

func TestMergeAndAuth(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathMerge:
			assert.Equal(t, "Bearer t", r.Header.Get(HeaderAuth))
			var req MergeRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "xyz", req.SessionID)
			writeJSON(w, http.StatusOK, CartResponse{Cart: &model.Cart{ID: 11}})
		case PathLogin:
			writeJSON(w, http.StatusOK, LoginResponse{AccessToken: "t", User: model.Profile{Email: "a@b.c"}})
		case PathMe:
			writeJSON(w, http.StatusOK, ProfileResponse{User: model.Profile{Email: "a@b.c"}})
		case PathLogout:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	cart, err := c.MergeGuestCart(ctx, "t", "xyz")
	require.NoError(t, err)
	require.Equal(t, int64(11), cart.ID)

	_, err = c.MergeGuestCart(ctx, "", "xyz")
	require.ErrorIs(t, err, errs.ErrNoIdentity)

	lr, err := c.Login(ctx, "a@b.c", "pw")
	require.NoError(t, err)
	require.Equal(t, "t", lr.AccessToken)

	p, err := c.Me(ctx, "t")
	require.NoError(t, err)
	require.Equal(t, "a@b.c", p.Email)

	_, err = c.Me(ctx, "")
	require.ErrorIs(t, err, errs.ErrNoIdentity)

	require.NoError(t, c.Logout(ctx, "t"))
}

func TestTransportFailureIsWrapped(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second).FetchCart(context.Background(), Scope{})
	require.Error(t, err)
	var se *StatusError
	require.False(t, errors.As(err, &se))
}
