// Package memory holds in-process repositories for running the reference API without PostgreSQL.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"

	"github.com/and161185/shopcart/internal/errs"
	"github.com/and161185/shopcart/internal/model"
)

// Store implements the user and product repositories over maps guarded by one mutex.
// Carts returns the cart repository sharing the same state.
type Store struct {
	mu       sync.Mutex
	users    map[uuid.UUID]model.User
	products map[int64]model.Product
	carts    map[int64]*cartRow
	nextCart int64
	clock    int64
}

type cartRow struct {
	cart  model.Cart
	lines map[int64]*lineRow
}

type lineRow struct {
	item  model.LineItem
	added int64
}

// New returns an empty store seeded with products.
func New(products ...model.Product) *Store {
	s := &Store{
		users:    make(map[uuid.UUID]model.User),
		products: make(map[int64]model.Product),
		carts:    make(map[int64]*cartRow),
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

// DemoCatalog mirrors the rows seeded by the SQL migrations.
func DemoCatalog() []model.Product {
	mugWas := decimal.RequireFromString("6.50")
	return []model.Product{
		{ID: 1, Name: "Café molido 500g", Brand: "Tostadero Sur", Image: "/img/cafe-500.jpg", Price: decimal.RequireFromString("10.00"), Active: true},
		{ID: 2, Name: "Taza cerámica", Brand: "Casa Nube", Image: "/img/taza.jpg", Price: decimal.RequireFromString("5.00"), OriginalPrice: &mugWas, Active: true},
		{ID: 3, Name: "Prensa francesa 1L", Brand: "Tostadero Sur", Image: "/img/prensa.jpg", Price: decimal.RequireFromString("24.90"), Active: true},
		{ID: 4, Name: "Filtros de papel x100", Image: "/img/filtros.jpg", Price: decimal.RequireFromString("3.20"), Active: true},
	}
}

// Ready always succeeds.
func (s *Store) Ready(context.Context) error { return nil }

// --- users ---

func (s *Store) Create(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.users {
		if other.Email == u.Email {
			return errs.ErrAlreadyExists
		}
	}
	u.CreatedAt = time.Now().UTC()
	s.users[u.ID] = *u
	return nil
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, errs.ErrNotFound
}

// --- products ---

func (s *Store) Get(_ context.Context, id int64) (*model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.products[id]
	if !ok || !pr.Active {
		return nil, errs.ErrNotFound
	}
	return &pr, nil
}
