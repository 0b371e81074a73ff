package memory

import (
	"context"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/shopcart/internal/errs"
	"github.com/and161185/shopcart/internal/model"
)

// Carts exposes the cart tables as a repository.CartRepository.
func (s *Store) Carts() Carts { return Carts{s} }

// Carts is the cart view of a Store; its Create would clash with the user one.
type Carts struct{ s *Store }

func (c Carts) snapshot(r *cartRow) *model.Cart {
	out := r.cart.Clone()
	rows := make([]*lineRow, 0, len(r.lines))
	for _, l := range r.lines {
		rows = append(rows, l)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].added < rows[j].added })
	out.Items = make([]model.LineItem, 0, len(rows))
	for _, l := range rows {
		li := l.item
		if li.OriginalPrice != nil {
			p := *li.OriginalPrice
			li.OriginalPrice = &p
		}
		out.Items = append(out.Items, li)
	}
	return &out
}

func (c Carts) find(match func(model.Cart) bool) *cartRow {
	for _, r := range c.s.carts {
		if r.cart.State == model.CartActive && match(r.cart) {
			return r
		}
	}
	return nil
}

func (c Carts) ActiveByUser(_ context.Context, userID uuid.UUID) (*model.Cart, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	r := c.find(func(m model.Cart) bool { return m.UserID != nil && *m.UserID == userID })
	if r == nil {
		return nil, errs.ErrNotFound
	}
	return c.snapshot(r), nil
}

func (c Carts) ActiveBySession(_ context.Context, sessionID string, now time.Time) (*model.Cart, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	r := c.find(func(m model.Cart) bool {
		return m.SessionID != nil && *m.SessionID == sessionID && (m.ExpiresAt == nil || m.ExpiresAt.After(now))
	})
	if r == nil {
		return nil, errs.ErrNotFound
	}
	return c.snapshot(r), nil
}

func (c Carts) Create(_ context.Context, cart *model.Cart) error {
	if err := cart.Validate(); err != nil {
		return err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	// same partial unique indexes as the SQL schema: one active cart per owner
	taken := c.find(func(m model.Cart) bool {
		if cart.UserID != nil {
			return m.UserID != nil && *m.UserID == *cart.UserID
		}
		return m.SessionID != nil && cart.SessionID != nil && *m.SessionID == *cart.SessionID
	})
	if taken != nil {
		if taken.cart.ExpiresAt == nil || taken.cart.ExpiresAt.After(time.Now()) {
			return errs.ErrAlreadyExists
		}
		taken.cart.State = model.CartExpired
	}
	c.s.nextCart++
	cart.ID = c.s.nextCart
	cart.State = model.CartActive
	cart.UpdatedAt = time.Now().UTC()
	cart.Items = []model.LineItem{}
	c.s.carts[cart.ID] = &cartRow{cart: cart.Clone(), lines: map[int64]*lineRow{}}
	return nil
}

func (c Carts) row(cartID int64) (*cartRow, error) {
	r, ok := c.s.carts[cartID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return r, nil
}

func (c Carts) AddLine(_ context.Context, cartID int64, p model.Product, qty int) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	r, err := c.row(cartID)
	if err != nil {
		return err
	}
	if l, ok := r.lines[p.ID]; ok {
		l.item.Quantity += qty
		return nil
	}
	c.s.clock++
	r.lines[p.ID] = &lineRow{
		item:  model.LineItem{ProductID: p.ID, Product: p.Ref(), Quantity: qty, UnitPrice: p.Price, OriginalPrice: p.OriginalPrice},
		added: c.s.clock,
	}
	return nil
}

func (c Carts) SetQuantity(_ context.Context, cartID, productID int64, qty int) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	r, err := c.row(cartID)
	if err != nil {
		return err
	}
	l, ok := r.lines[productID]
	if !ok {
		return errs.ErrNotFound
	}
	l.item.Quantity = qty
	return nil
}

func (c Carts) RemoveLine(_ context.Context, cartID, productID int64) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	r, err := c.row(cartID)
	if err != nil {
		return err
	}
	if _, ok := r.lines[productID]; !ok {
		return errs.ErrNotFound
	}
	delete(r.lines, productID)
	return nil
}

func (c Carts) Clear(_ context.Context, cartID int64) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	r, err := c.row(cartID)
	if err != nil {
		return err
	}
	r.lines = map[int64]*lineRow{}
	return nil
}

func (c Carts) Touch(_ context.Context, cartID int64, expiresAt *time.Time) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	r, err := c.row(cartID)
	if err != nil {
		return err
	}
	r.cart.UpdatedAt = time.Now().UTC()
	if expiresAt != nil {
		t := *expiresAt
		r.cart.ExpiresAt = &t
	}
	return nil
}

func (c Carts) Merge(_ context.Context, guestID, userID int64) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	g, err := c.row(guestID)
	if err != nil || g.cart.State != model.CartActive || g.cart.SessionID == nil {
		return errs.ErrNotFound
	}
	u, err := c.row(userID)
	if err != nil {
		return err
	}
	for pid, l := range g.lines {
		if ul, ok := u.lines[pid]; ok {
			ul.item.Quantity += l.item.Quantity
			continue
		}
		u.lines[pid] = l
	}
	g.lines = map[int64]*lineRow{}
	g.cart.State = model.CartExpired
	u.cart.UpdatedAt = time.Now().UTC()
	return nil
}

func (c Carts) ExpireGuests(_ context.Context, now time.Time) (int64, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	var n int64
	for _, r := range c.s.carts {
		m := r.cart
		if m.State == model.CartActive && m.SessionID != nil && m.ExpiresAt != nil && !m.ExpiresAt.After(now) {
			r.cart.State = model.CartExpired
			n++
		}
	}
	return n, nil
}
