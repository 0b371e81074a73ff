// Package model defines domain entities shared by the storefront client and the reference API.
package model

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
)

// CartState is the server-managed lifecycle of a cart.
type CartState string

const (
	CartActive  CartState = "active"
	CartExpired CartState = "expired"
)

// ProductRef carries a product id plus denormalized display fields.
type ProductRef struct {
	ID    int64  `json:"id"`
	Name  string `json:"nombre"`
	Brand string `json:"marca,omitempty"`
	Image string `json:"imagen,omitempty"`
}

// LineItem is one product line within a cart. Quantity is always >= 1.
type LineItem struct {
	ProductID     int64            `json:"producto_id"`
	Product       ProductRef       `json:"producto"`
	Quantity      int              `json:"cantidad"`
	UnitPrice     decimal.Decimal  `json:"precio_unitario"`
	OriginalPrice *decimal.Decimal `json:"precio_original,omitempty"`
}

// Subtotal returns quantity × unit price.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Cart is owned by exactly one of a user or an anonymous session.
type Cart struct {
	ID        int64      `json:"id"`
	UserID    *uuid.UUID `json:"usuario_id,omitempty"`
	SessionID *string    `json:"session_id,omitempty"`
	State     CartState  `json:"estado,omitempty"`
	ExpiresAt *time.Time `json:"expira_en,omitempty"`
	Items     []LineItem `json:"detalles"`
	UpdatedAt time.Time  `json:"actualizado_en"`
}

// ErrDualOwner reports a cart carrying both a user and a session owner.
var ErrDualOwner = errors.New("cart has both user and session owner")

// Validate checks the exclusive-ownership invariant.
func (c Cart) Validate() error {
	if c.UserID != nil && c.SessionID != nil && *c.SessionID != "" {
		return ErrDualOwner
	}
	return nil
}

// Total sums quantity × unit price over all line items. It is never cached.
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, li := range c.Items {
		total = total.Add(li.Subtotal())
	}
	return total
}

// Find returns the index of the line for productID, or -1.
func (c Cart) Find(productID int64) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy safe to hand to other goroutines.
func (c Cart) Clone() Cart {
	out := c
	if c.UserID != nil {
		id := *c.UserID
		out.UserID = &id
	}
	if c.SessionID != nil {
		s := *c.SessionID
		out.SessionID = &s
	}
	if c.ExpiresAt != nil {
		ts := *c.ExpiresAt
		out.ExpiresAt = &ts
	}
	out.Items = make([]LineItem, len(c.Items))
	for i, li := range c.Items {
		if li.OriginalPrice != nil {
			p := *li.OriginalPrice
			li.OriginalPrice = &p
		}
		out.Items[i] = li
	}
	return out
}

// Product is a catalog entry as the reference API stores it.
type Product struct {
	ID            int64
	Name          string
	Brand         string
	Image         string
	Price         decimal.Decimal
	OriginalPrice *decimal.Decimal
	Active        bool
}

// Ref projects the display fields of a product.
func (p Product) Ref() ProductRef {
	return ProductRef{ID: p.ID, Name: p.Name, Brand: p.Brand, Image: p.Image}
}

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expira_en"` // access token expiry
}

// Profile is the public view of an authenticated customer.
type Profile struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"nombre,omitempty"`
	Admin bool      `json:"admin,omitempty"`
}

// User represents a customer account stored on the server. The password is never stored in plaintext.
type User struct {
	ID        uuid.UUID // PK
	Email     string    // unique
	Name      string
	PwdHash   string // encoded Argon2id hash, parameters and salt included
	Admin     bool
	CreatedAt time.Time
}

// Profile projects the public fields of a user.
func (u User) Profile() Profile {
	return Profile{ID: u.ID, Email: u.Email, Name: u.Name, Admin: u.Admin}
}
