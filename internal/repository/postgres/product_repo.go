package postgres

import (
	"context"
	"errors"

	"github.com/and161185/shopcart/internal/errs"
	"github.com/and161185/shopcart/internal/model"
	"github.com/jackc/pgx/v5"
)

// ProductRepo reads the products table.
type ProductRepo struct{ db *DB }

func NewProductRepo(db *DB) *ProductRepo { return &ProductRepo{db: db} }

// Get returns an active product; inactive and unknown ids are both errs.ErrNotFound.
func (r *ProductRepo) Get(ctx context.Context, id int64) (*model.Product, error) {
	const q = `
SELECT id, name, brand, image, price, original_price
FROM products WHERE id=$1 AND active`
	p := model.Product{Active: true}
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(&p.ID, &p.Name, &p.Brand, &p.Image, &p.Price, &p.OriginalPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
