package rest

import (
	"context"
	"strings"

	"github.com/and161185/shopcart/internal/model"
)

type ctxKey string

const userKey ctxKey = "shop.user"

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, u model.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFromCtx fetches the authenticated user.
func UserFromCtx(ctx context.Context) (model.User, bool) {
	u, ok := ctx.Value(userKey).(model.User)
	return u, ok
}

// bearerToken extracts <jwt> from "Bearer <jwt>", case-insensitive on the scheme.
func bearerToken(header string) (string, bool) {
	v := strings.TrimSpace(header)
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return "", false
	}
	t := strings.TrimSpace(v[7:])
	return t, t != ""
}
