// Package bridge keeps cart identity consistent across login and logout.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/shopcart/internal/api"
	"github.com/and161185/shopcart/internal/broadcast"
	"github.com/and161185/shopcart/internal/model"
	"github.com/and161185/shopcart/internal/session"
)

// AuthAPI is the subset of the REST client the bridge calls.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (api.LoginResponse, error)
	Logout(ctx context.Context, accessToken string) error
	Me(ctx context.Context, accessToken string) (model.Profile, error)
	MergeGuestCart(ctx context.Context, accessToken, sessionID string) (*model.Cart, error)
}

// Credentials is the local auth state.
type Credentials interface {
	AccessToken() string
	SetToken(token string, expiresAt time.Time) error
	SetProfile(p model.Profile) error
	Clear()
}

// Cart is the part of the cart store driven by auth transitions.
type Cart interface {
	Reinitialize()
	Reset()
	FetchOrCreate(ctx context.Context) error
	Adopt(c model.Cart) error
}

type reloader interface{ Reload() }

// Deps bundles the collaborators of a Bridge. Bus may be nil.
type Deps struct {
	API     AuthAPI
	Creds   Credentials
	Cart    Cart
	Session session.Holder
	Bus     broadcast.Broadcaster
	Log     *zap.Logger
}

// Bridge drives the identity swap on login and logout.
type Bridge struct {
	Deps
	instance string
	// OnRemoteLogout, when set, runs after a logout from another instance was applied.
	OnRemoteLogout func(ev broadcast.Event)
}

// New returns a bridge with a fresh instance id.
func New(d Deps) *Bridge {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Bridge{Deps: d, instance: uuid.Must(uuid.NewV4()).String()}
}

// Instance identifies this process on the broadcaster.
func (b *Bridge) Instance() string { return b.instance }

// Login authenticates, then in order refreshes the profile, loads the user cart
// and folds the guest cart into it. A merge failure is logged and never fails the login.
// The guest token is discarded either way.
func (b *Bridge) Login(ctx context.Context, email, password string) (model.Profile, error) {
	guest := b.Session.Get()

	lr, err := b.API.Login(ctx, email, password)
	if err != nil {
		return model.Profile{}, fmt.Errorf("login: %w", err)
	}
	if err := b.Creds.SetToken(lr.AccessToken, lr.ExpiresAt); err != nil {
		return model.Profile{}, fmt.Errorf("store token: %w", err)
	}

	profile, err := b.API.Me(ctx, lr.AccessToken)
	if err != nil {
		b.Creds.Clear()
		return model.Profile{}, fmt.Errorf("refresh profile: %w", err)
	}
	if err := b.Creds.SetProfile(profile); err != nil {
		b.Log.Warn("store profile", zap.Error(err))
	}

	b.Cart.Reinitialize()
	if err := b.Cart.FetchOrCreate(ctx); err != nil {
		b.Log.Warn("load user cart after login", zap.Error(err))
	}

	if guest != "" {
		b.merge(ctx, lr.AccessToken, guest)
		b.Session.Clear()
	}

	b.Log.Info("logged in", zap.String("user_id", profile.ID.String()), zap.Bool("merged_guest", guest != ""))
	return profile, nil
}

func (b *Bridge) merge(ctx context.Context, token, guest string) {
	merged, err := b.API.MergeGuestCart(ctx, token, guest)
	if err != nil {
		b.Log.Warn("merge guest cart", zap.String("session_id", guest), zap.Error(err))
		return
	}
	if merged == nil {
		return
	}
	if err := b.Cart.Adopt(*merged); err != nil {
		b.Log.Warn("adopt merged cart", zap.Error(err))
	}
}

// Logout drops local credentials and the cart view, starts a fresh guest identity
// and tells other instances. The remote logout call is best-effort.
func (b *Bridge) Logout(ctx context.Context) {
	if tok := b.Creds.AccessToken(); tok != "" {
		if err := b.API.Logout(ctx, tok); err != nil {
			b.Log.Debug("remote logout failed, continuing", zap.Error(err))
		}
	}
	b.Creds.Clear()
	// local reset only: the user's server-side cart must survive logout
	b.Cart.Reset()
	b.Session.Rotate()

	if b.Bus == nil {
		return
	}
	if err := b.Bus.Publish(ctx, broadcast.NewEvent(broadcast.KindLogout, b.instance)); err != nil {
		b.Log.Warn("broadcast logout", zap.Error(err))
	}
}

// ErrBroadcasterClosed is returned by Watch when the event stream ends before its context does.
var ErrBroadcasterClosed = errors.New("watch: broadcaster closed")

// Watch applies logout events published by other instances until ctx is done.
func (b *Bridge) Watch(ctx context.Context) error {
	if b.Bus == nil {
		return errors.New("watch: no broadcaster configured")
	}
	events, err := b.Bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	for ev := range events {
		if ev.Kind != broadcast.KindLogout || ev.Origin == b.instance {
			continue
		}
		b.applyRemoteLogout(ev)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrBroadcasterClosed
}

func (b *Bridge) applyRemoteLogout(ev broadcast.Event) {
	if r, ok := b.Creds.(reloader); ok {
		r.Reload()
	}
	b.Creds.Clear()
	b.Cart.Reset()
	if r, ok := b.Session.(reloader); ok {
		r.Reload()
	}
	b.Log.Info("logged out by another instance", zap.String("origin", ev.Origin), zap.String("event_id", ev.ID))
	if b.OnRemoteLogout != nil {
		b.OnRemoteLogout(ev)
	}
}
