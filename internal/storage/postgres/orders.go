package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
)

const insertOrder = `
INSERT INTO orders_app (
	pk, sk, number, type, foods_total, taxes, discount_amount,
	offer_amount, offer_type, version, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (pk, sk) DO NOTHING`

const selectOrder = `
SELECT pk, number, type, foods_total, taxes, discount_amount,
	offer_amount, offer_type, version, created_at, updated_at
FROM orders_app
WHERE pk = $1 AND sk = $2`

// OrderStore implements domain.OrderRepository.
type OrderStore struct {
	db DB
}

// NewOrderStore returns a store backed by db.
func NewOrderStore(db DB) *OrderStore {
	return &OrderStore{db: db}
}

// Create inserts order unless its row already exists.
func (s *OrderStore) Create(ctx context.Context, order domain.Order) error {
	if err := check(ctx, s.db, order.ID); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, insertOrder,
		order.ID,
		domain.ProjectionSortKey,
		order.Number,
		order.Type,
		order.FoodsTotal,
		order.Taxes,
		order.DiscountAmount,
		order.OfferAmount,
		order.OfferType,
		order.Version,
		order.CreatedAt.UTC(),
		order.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create order %s: %w", order.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create order %s: %w", order.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// Update sets the fields present on order, its version and updated_at in one
// statement guarded by the expected version.
func (s *OrderStore) Update(ctx context.Context, order domain.Order, expectedVersion int64) error {
	if err := check(ctx, s.db, order.ID); err != nil {
		return err
	}
	if order.Version != expectedVersion+1 {
		return fmt.Errorf("update order %s: version %d does not follow %d", order.ID, order.Version, expectedVersion)
	}

	query, args := buildUpdate(order, expectedVersion)
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update order %s: %w", order.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var stored int64
	err = s.db.QueryRow(ctx, `SELECT version FROM orders_app WHERE pk = $1 AND sk = $2`, order.ID, domain.ProjectionSortKey).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update order %s: %w", order.ID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update order %s: read version: %w", order.ID, err)
	}
	return fmt.Errorf("update order %s at version %d, stored %d: %w", order.ID, expectedVersion, stored, domain.ErrConcurrentModification)
}

func buildUpdate(order domain.Order, expectedVersion int64) (string, []any) {
	args := []any{order.ID, domain.ProjectionSortKey, expectedVersion, order.Version, order.UpdatedAt.UTC()}
	sets := []string{"version = $4", "updated_at = $5"}
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if order.Number != nil {
		set("number", *order.Number)
	}
	if order.Type != nil {
		set("type", *order.Type)
	}
	if order.FoodsTotal != nil {
		set("foods_total", *order.FoodsTotal)
	}
	if order.Taxes != nil {
		set("taxes", *order.Taxes)
	}
	if order.DiscountAmount != nil {
		set("discount_amount", *order.DiscountAmount)
	}
	if order.OfferAmount != nil {
		set("offer_amount", *order.OfferAmount)
	}
	if order.OfferType != nil {
		set("offer_type", *order.OfferType)
	}
	query := "UPDATE orders_app SET " + strings.Join(sets, ", ") + " WHERE pk = $1 AND sk = $2 AND version = $3"
	return query, args
}

// FindByID reads the projection row of id.
func (s *OrderStore) FindByID(ctx context.Context, id string) (domain.Order, error) {
	if err := check(ctx, s.db, id); err != nil {
		return domain.Order{}, err
	}
	var order domain.Order
	err := s.db.QueryRow(ctx, selectOrder, id, domain.ProjectionSortKey).Scan(
		&order.ID,
		&order.Number,
		&order.Type,
		&order.FoodsTotal,
		&order.Taxes,
		&order.DiscountAmount,
		&order.OfferAmount,
		&order.OfferType,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("find order %s: %w", id, err)
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}
