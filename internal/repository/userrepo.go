// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/shopcart/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository stores customer accounts.
type UserRepository interface {
	// Create inserts a new user; errs.ErrAlreadyExists when the email is taken.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByEmail loads a user by (case-insensitive) email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

// ProductRepository reads the catalog.
type ProductRepository interface {
	// Get returns an active product or errs.ErrNotFound.
	Get(ctx context.Context, id int64) (*model.Product, error)
}
