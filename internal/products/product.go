package products

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-rental-bookings/internal/apperr"
	"github.com/ariefcatur/go-rental-bookings/internal/postgres"
	"github.com/jackc/pgx/v5"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusListed  Status = "listed"
)

type Product struct {
	ID          int64     `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Status      Status    `json:"status"`
	PricePerDay float64   `json:"price_per_day"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var (
	ErrNotFound  = apperr.New(apperr.KindNotFound, "Product not found")
	ErrNotOwner  = apperr.New(apperr.KindForbidden, "Only the owner can publish this product")
	ErrNoImages  = apperr.New(apperr.KindValidation, "Product needs at least one image before it can be listed")
	errNoPublish = errors.New("publish matched no rows")
)

type Repo struct{ DB postgres.DB }

const productCols = `id, owner_id, title, status, price_per_day, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var (
		p      Product
		status string
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Title, &status, &p.PricePerDay, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = Status(status)
	return &p, nil
}

func (r *Repo) Get(ctx context.Context, id int64) (*Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *Repo) publish(ctx context.Context, id int64, ownerID string, at time.Time) (*Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx, `
		UPDATE products SET status='listed', updated_at=$3
		WHERE id=$1 AND owner_id=$2
		  AND EXISTS (SELECT 1 FROM product_images WHERE product_id=$1)
		RETURNING `+productCols, id, ownerID, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNoPublish
	}
	return p, err
}

// Publish lists a product. Only the owner may publish, and only once an image exists.
func (r *Repo) Publish(ctx context.Context, id int64, ownerID string, at time.Time) (*Product, error) {
	p, err := r.publish(ctx, id, ownerID, at)
	if !errors.Is(err, errNoPublish) {
		return p, err
	}

	cur, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return nil, ErrNoImages
}
