package repository

import (
	"context"
	"time"

	"github.com/and161185/shopcart/internal/model"
	"github.com/gofrs/uuid/v5"
)

// CartRepository stores carts and their lines. Returned carts carry their lines.
// Only carts in state active are visible; an expired guest cart reads as errs.ErrNotFound.
type CartRepository interface {
	// ActiveByUser returns the active cart of a user.
	ActiveByUser(ctx context.Context, userID uuid.UUID) (*model.Cart, error)
	// ActiveBySession returns the active guest cart of a session unless it expired before now.
	ActiveBySession(ctx context.Context, sessionID string, now time.Time) (*model.Cart, error)
	// Create inserts an empty cart for the single owner set on c and fills ID and UpdatedAt.
	Create(ctx context.Context, c *model.Cart) error

	// AddLine adds qty of p, snapshotting its price when the line is new.
	AddLine(ctx context.Context, cartID int64, p model.Product, qty int) error
	// SetQuantity sets the quantity of an existing line; errs.ErrNotFound if absent.
	SetQuantity(ctx context.Context, cartID, productID int64, qty int) error
	// RemoveLine deletes a line; errs.ErrNotFound if absent.
	RemoveLine(ctx context.Context, cartID, productID int64) error
	// Clear deletes every line.
	Clear(ctx context.Context, cartID int64) error
	// Touch bumps updated_at and, for guest carts, moves expires_at.
	Touch(ctx context.Context, cartID int64, expiresAt *time.Time) error

	// Merge folds the lines of guestID into userID (quantities add, the user line keeps
	// its price) and expires the guest cart, atomically.
	Merge(ctx context.Context, guestID, userID int64) error
	// ExpireGuests marks active guest carts whose expires_at passed as expired.
	ExpireGuests(ctx context.Context, now time.Time) (int64, error)
}
