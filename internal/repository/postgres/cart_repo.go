package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/shopcart/internal/errs"
	"github.com/and161185/shopcart/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// CartRepo implements CartRepository using PostgreSQL.
type CartRepo struct{ db *DB }

// NewCartRepo constructs a cart repository.
func NewCartRepo(db *DB) *CartRepo { return &CartRepo{db: db} }

const cartCols = `id, user_id, session_id, state, expires_at, updated_at`

// ActiveByUser returns the active cart of a user with its lines.
func (r *CartRepo) ActiveByUser(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	const q = `SELECT ` + cartCols + ` FROM carts WHERE user_id=$1 AND state='active'`
	return r.load(ctx, q, userID)
}

// ActiveBySession returns the active guest cart of a session; expired ones read as not found.
func (r *CartRepo) ActiveBySession(ctx context.Context, sessionID string, now time.Time) (*model.Cart, error) {
	const q = `
SELECT ` + cartCols + ` FROM carts
WHERE session_id=$1 AND state='active' AND (expires_at IS NULL OR expires_at > $2)`
	return r.load(ctx, q, sessionID, now)
}

func (r *CartRepo) load(ctx context.Context, q string, args ...any) (*model.Cart, error) {
	var (
		c     model.Cart
		state string
	)
	err := r.db.Pool.QueryRow(ctx, q, args...).Scan(&c.ID, &c.UserID, &c.SessionID, &state, &c.ExpiresAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.State = model.CartState(state)
	if c.Items, err = r.lines(ctx, c.ID); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CartRepo) lines(ctx context.Context, cartID int64) ([]model.LineItem, error) {
	const q = `
SELECT l.product_id, p.name, p.brand, p.image, l.quantity, l.unit_price, l.original_price
FROM cart_lines l JOIN products p ON p.id = l.product_id
WHERE l.cart_id=$1
ORDER BY l.added_at, l.product_id`
	rows, err := r.db.Pool.Query(ctx, q, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.LineItem{}
	for rows.Next() {
		var li model.LineItem
		if err := rows.Scan(&li.ProductID, &li.Product.Name, &li.Product.Brand, &li.Product.Image,
			&li.Quantity, &li.UnitPrice, &li.OriginalPrice); err != nil {
			return nil, err
		}
		li.Product.ID = li.ProductID
		out = append(out, li)
	}
	return out, rows.Err()
}

// Create inserts an empty cart. A concurrent create for the same owner yields errs.ErrAlreadyExists.
// A guest cart that outlived its expiry but was not swept yet is retired first so its session can be reused.
func (r *CartRepo) Create(ctx context.Context, c *model.Cart) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.SessionID != nil {
		const stale = `
UPDATE carts SET state='expired'
WHERE session_id=$1 AND state='active' AND expires_at <= now()`
		if _, err := r.db.Pool.Exec(ctx, stale, *c.SessionID); err != nil {
			return err
		}
	}
	const q = `
INSERT INTO carts (user_id, session_id, expires_at)
VALUES ($1, $2, $3)
RETURNING id, state, updated_at`
	var state string
	err := r.db.Pool.QueryRow(ctx, q, c.UserID, c.SessionID, c.ExpiresAt).Scan(&c.ID, &state, &c.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	c.State = model.CartState(state)
	c.Items = []model.LineItem{}
	return nil
}

// AddLine adds qty of p. Price columns are written only for a new line.
func (r *CartRepo) AddLine(ctx context.Context, cartID int64, p model.Product, qty int) error {
	const q = `
INSERT INTO cart_lines (cart_id, product_id, quantity, unit_price, original_price)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (cart_id, product_id) DO UPDATE
SET quantity = cart_lines.quantity + EXCLUDED.quantity`
	_, err := r.db.Pool.Exec(ctx, q, cartID, p.ID, qty, p.Price, p.OriginalPrice)
	return err
}

// SetQuantity overwrites the quantity of an existing line.
func (r *CartRepo) SetQuantity(ctx context.Context, cartID, productID int64, qty int) error {
	const q = `UPDATE cart_lines SET quantity=$3 WHERE cart_id=$1 AND product_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, cartID, productID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// RemoveLine deletes one line.
func (r *CartRepo) RemoveLine(ctx context.Context, cartID, productID int64) error {
	const q = `DELETE FROM cart_lines WHERE cart_id=$1 AND product_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, cartID, productID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Clear deletes every line of a cart.
func (r *CartRepo) Clear(ctx context.Context, cartID int64) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id=$1`, cartID)
	return err
}

// Touch bumps updated_at; a non-nil expiresAt also slides the guest expiry.
func (r *CartRepo) Touch(ctx context.Context, cartID int64, expiresAt *time.Time) error {
	const q = `UPDATE carts SET updated_at=now(), expires_at=COALESCE($2, expires_at) WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, cartID, expiresAt)
	return err
}

// Merge folds guest lines into the user cart and expires the guest cart in one transaction.
// errs.ErrNotFound means the guest cart is no longer active (already merged or expired).
func (r *CartRepo) Merge(ctx context.Context, guestID, userID int64) error {
	const (
		lock = `SELECT id FROM carts WHERE id=$1 AND state='active' AND session_id IS NOT NULL FOR UPDATE`
		fold = `
INSERT INTO cart_lines (cart_id, product_id, quantity, unit_price, original_price, added_at)
SELECT $2, product_id, quantity, unit_price, original_price, added_at
FROM cart_lines WHERE cart_id=$1
ON CONFLICT (cart_id, product_id) DO UPDATE
SET quantity = cart_lines.quantity + EXCLUDED.quantity`
		drop   = `DELETE FROM cart_lines WHERE cart_id=$1`
		expire = `UPDATE carts SET state='expired', updated_at=now() WHERE id=$1`
		touch  = `UPDATE carts SET updated_at=now() WHERE id=$1`
	)
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		var id int64
		if err := tx.QueryRow(ctx, lock, guestID).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errs.ErrNotFound
			}
			return err
		}
		if _, err := tx.Exec(ctx, fold, guestID, userID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, drop, guestID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, expire, guestID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, touch, userID)
		return err
	})
}

// ExpireGuests marks stale guest carts expired and returns how many were affected.
func (r *CartRepo) ExpireGuests(ctx context.Context, now time.Time) (int64, error) {
	const q = `
UPDATE carts SET state='expired'
WHERE state='active' AND session_id IS NOT NULL AND expires_at <= $1`
	tag, err := r.db.Pool.Exec(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
