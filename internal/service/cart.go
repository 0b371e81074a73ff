package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/shopcart/internal/errs"
	"github.com/and161185/shopcart/internal/model"
	"github.com/and161185/shopcart/internal/repository"
)

// Owner selects the cart a request targets. A non-nil UserID wins over SessionID.
type Owner struct {
	UserID    uuid.UUID
	SessionID string
}

// Guest reports whether the owner is an anonymous session.
func (o Owner) Guest() bool { return o.UserID == uuid.Nil }

// CartService implements the cart rules of the storefront API.
type CartService interface {
	// Get returns the owner's active cart, creating it (and minting a guest session when
	// o.SessionID is empty) if needed. The returned cart carries the effective session.
	Get(ctx context.Context, o Owner) (*model.Cart, error)
	// Add adds qty (0 means 1) of a product and returns the whole cart.
	Add(ctx context.Context, o Owner, productID int64, qty int) (*model.Cart, error)
	// Update sets the absolute quantity (>= 1) of an existing line.
	Update(ctx context.Context, o Owner, productID int64, qty int) (*model.LineItem, error)
	// Remove deletes a line.
	Remove(ctx context.Context, o Owner, productID int64) error
	// Clear empties the owner's cart; clearing a cart that does not exist succeeds.
	Clear(ctx context.Context, o Owner) error
	// Merge folds the guest cart of sessionID into the user's cart and returns the result.
	Merge(ctx context.Context, userID uuid.UUID, sessionID string) (*model.Cart, error)
	// ExpireGuests retires guest carts past their expiry.
	ExpireGuests(ctx context.Context) (int64, error)
}

type CartServiceImpl struct {
	carts    repository.CartRepository
	products repository.ProductRepository
	guestTTL time.Duration
	now      func() time.Time
}

// NewCartService constructs CartService. Guest carts expire guestTTL after their last change.
func NewCartService(carts repository.CartRepository, products repository.ProductRepository, guestTTL time.Duration) *CartServiceImpl {
	return &CartServiceImpl{carts: carts, products: products, guestTTL: guestTTL, now: time.Now}
}

func (s *CartServiceImpl) active(ctx context.Context, o Owner) (*model.Cart, error) {
	if o.Guest() {
		if o.SessionID == "" {
			return nil, errs.ErrNotFound
		}
		return s.carts.ActiveBySession(ctx, o.SessionID, s.now())
	}
	return s.carts.ActiveByUser(ctx, o.UserID)
}

func (s *CartServiceImpl) expiry(o Owner) *time.Time {
	if !o.Guest() {
		return nil
	}
	t := s.now().Add(s.guestTTL)
	return &t
}

// resolve loads the owner's cart; with create it also makes one, retrying once after losing a create race.
func (s *CartServiceImpl) resolve(ctx context.Context, o Owner, create bool) (*model.Cart, error) {
	for range 2 {
		c, err := s.active(ctx, o)
		if !create || !errors.Is(err, errs.ErrNotFound) {
			return c, err
		}
		nc := &model.Cart{ExpiresAt: s.expiry(o)}
		if o.Guest() {
			nc.SessionID = &o.SessionID
		} else {
			nc.UserID = &o.UserID
		}
		err = s.carts.Create(ctx, nc)
		if errors.Is(err, errs.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return nc, nil
	}
	return nil, fmt.Errorf("create cart: %w", errs.ErrVersionConflict)
}

func mintIfGuest(o Owner) Owner {
	if o.Guest() && o.SessionID == "" {
		o.SessionID = uuid.Must(uuid.NewV4()).String()
	}
	return o
}

func (s *CartServiceImpl) Get(ctx context.Context, o Owner) (*model.Cart, error) {
	return s.resolve(ctx, mintIfGuest(o), true)
}

func (s *CartServiceImpl) Add(ctx context.Context, o Owner, productID int64, qty int) (*model.Cart, error) {
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return nil, errs.ErrInvalidQuantity
	}
	p, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("product %d: %w", productID, err)
	}
	o = mintIfGuest(o)
	c, err := s.resolve(ctx, o, true)
	if err != nil {
		return nil, err
	}
	if err := s.carts.AddLine(ctx, c.ID, *p, qty); err != nil {
		return nil, err
	}
	if err := s.carts.Touch(ctx, c.ID, s.expiry(o)); err != nil {
		return nil, err
	}
	return s.active(ctx, o)
}

func (s *CartServiceImpl) Update(ctx context.Context, o Owner, productID int64, qty int) (*model.LineItem, error) {
	if qty < 1 {
		return nil, errs.ErrInvalidQuantity
	}
	c, err := s.resolve(ctx, o, false)
	if err != nil {
		return nil, err
	}
	if err := s.carts.SetQuantity(ctx, c.ID, productID, qty); err != nil {
		return nil, err
	}
	if err := s.carts.Touch(ctx, c.ID, s.expiry(o)); err != nil {
		return nil, err
	}
	if c, err = s.active(ctx, o); err != nil {
		return nil, err
	}
	i := c.Find(productID)
	if i < 0 {
		return nil, errs.ErrNotFound
	}
	return &c.Items[i], nil
}

func (s *CartServiceImpl) Remove(ctx context.Context, o Owner, productID int64) error {
	c, err := s.resolve(ctx, o, false)
	if err != nil {
		return err
	}
	if err := s.carts.RemoveLine(ctx, c.ID, productID); err != nil {
		return err
	}
	return s.carts.Touch(ctx, c.ID, s.expiry(o))
}

func (s *CartServiceImpl) Clear(ctx context.Context, o Owner) error {
	c, err := s.resolve(ctx, o, false)
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.carts.Clear(ctx, c.ID); err != nil {
		return err
	}
	return s.carts.Touch(ctx, c.ID, s.expiry(o))
}

// Merge is idempotent: an unknown, expired or already merged guest cart leaves the user cart as is.
func (s *CartServiceImpl) Merge(ctx context.Context, userID uuid.UUID, sessionID string) (*model.Cart, error) {
	if userID == uuid.Nil {
		return nil, errs.ErrUnauthorized
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty session_id", errs.ErrInvalidInput)
	}
	user := Owner{UserID: userID}
	uc, err := s.resolve(ctx, user, true)
	if err != nil {
		return nil, err
	}
	gc, err := s.carts.ActiveBySession(ctx, sessionID, s.now())
	if errors.Is(err, errs.ErrNotFound) {
		return uc, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.carts.Merge(ctx, gc.ID, uc.ID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	return s.active(ctx, user)
}

func (s *CartServiceImpl) ExpireGuests(ctx context.Context) (int64, error) {
	return s.carts.ExpireGuests(ctx, s.now())
}

// RunExpiry calls ExpireGuests every interval until ctx is done.
func RunExpiry(ctx context.Context, svc CartService, every time.Duration, log *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := svc.ExpireGuests(ctx)
			switch {
			case err != nil && ctx.Err() == nil:
				log.Warn("expire guest carts", zap.Error(err))
			case n > 0:
				log.Info("guest carts expired", zap.Int64("count", n))
			}
		}
	}
}
