package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
)

// Hash fields of a stored projection.
const (
	fieldPK             = "pk"
	fieldSK             = "sk"
	fieldNumber         = "number"
	fieldType           = "type"
	fieldFoodsTotal     = "foodsTotal"
	fieldTaxes          = "taxes"
	fieldDiscountAmount = "discountAmount"
	fieldOfferAmount    = "offerAmount"
	fieldOfferType      = "offerType"
	fieldVersion        = "version"
	fieldCreatedAt      = "createdAt"
	fieldUpdatedAt      = "updatedAt"
)

// OrderStore implements domain.OrderRepository.
type OrderStore struct {
	client goredis.UniversalClient
	keys   keyspace
}

// NewOrderStore returns a store writing under prefix. An empty prefix uses
// DefaultPrefix.
func NewOrderStore(client goredis.UniversalClient, prefix string) *OrderStore {
	return &OrderStore{client: client, keys: newKeyspace(prefix)}
}

// Create stores order unless a projection already exists for its id.
func (s *OrderStore) Create(ctx context.Context, order domain.Order) error {
	if err := s.check(ctx, order.ID); err != nil {
		return err
	}
	key := s.keys.projection(order.ID)
	fields := encodeOrder(order)

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, goredis.TxFailedErr) {
		err = domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create order %s: %w", order.ID, err)
	}
	return nil
}

// Update writes the fields set on order, its version and updatedAt, provided
// the stored version still equals expectedVersion.
func (s *OrderStore) Update(ctx context.Context, order domain.Order, expectedVersion int64) error {
	if err := s.check(ctx, order.ID); err != nil {
		return err
	}
	if order.Version != expectedVersion+1 {
		return fmt.Errorf("update order %s: version %d does not follow %d", order.ID, order.Version, expectedVersion)
	}
	key := s.keys.projection(order.ID)
	fields := encodeOrderUpdate(order)

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		stored, err := tx.HGet(ctx, key, fieldVersion).Int64()
		if errors.Is(err, goredis.Nil) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if stored != expectedVersion {
			return domain.ErrConcurrentModification
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, goredis.TxFailedErr) {
		err = domain.ErrConcurrentModification
	}
	if err != nil {
		return fmt.Errorf("update order %s at version %d: %w", order.ID, expectedVersion, err)
	}
	return nil
}

// FindByID reads the whole projection in one command.
func (s *OrderStore) FindByID(ctx context.Context, id string) (domain.Order, error) {
	if err := s.check(ctx, id); err != nil {
		return domain.Order{}, err
	}
	values, err := s.client.HGetAll(ctx, s.keys.projection(id)).Result()
	if err != nil {
		return domain.Order{}, fmt.Errorf("find order %s: %w", id, err)
	}
	if len(values) == 0 {
		return domain.Order{}, domain.ErrNotFound
	}
	order, err := decodeOrder(values)
	if err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", id, err)
	}
	return order, nil
}

func (s *OrderStore) check(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.client == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("order id is required")
	}
	return nil
}

func encodeOrder(order domain.Order) map[string]any {
	fields := encodeOrderUpdate(order)
	fields[fieldPK] = order.ID
	fields[fieldSK] = domain.ProjectionSortKey
	fields[fieldCreatedAt] = formatTime(order.CreatedAt)
	return fields
}

// encodeOrderUpdate only includes the optional fields that are set, so a
// writer never clears a field it did not know about.
func encodeOrderUpdate(order domain.Order) map[string]any {
	fields := map[string]any{
		fieldVersion:   strconv.FormatInt(order.Version, 10),
		fieldUpdatedAt: formatTime(order.UpdatedAt),
	}
	if order.Number != nil {
		fields[fieldNumber] = strconv.FormatInt(*order.Number, 10)
	}
	if order.Type != nil {
		fields[fieldType] = *order.Type
	}
	if order.FoodsTotal != nil {
		fields[fieldFoodsTotal] = strconv.Itoa(*order.FoodsTotal)
	}
	if order.Taxes != nil {
		fields[fieldTaxes] = strconv.Itoa(*order.Taxes)
	}
	if order.DiscountAmount != nil {
		fields[fieldDiscountAmount] = strconv.Itoa(*order.DiscountAmount)
	}
	if order.OfferAmount != nil {
		fields[fieldOfferAmount] = strconv.Itoa(*order.OfferAmount)
	}
	if order.OfferType != nil {
		fields[fieldOfferType] = *order.OfferType
	}
	return fields
}

func decodeOrder(values map[string]string) (domain.Order, error) {
	order := domain.Order{ID: values[fieldPK]}
	if order.ID == "" {
		return domain.Order{}, fmt.Errorf("missing %s", fieldPK)
	}

	var err error
	if order.Version, err = strconv.ParseInt(values[fieldVersion], 10, 64); err != nil {
		return domain.Order{}, fmt.Errorf("parse %s: %w", fieldVersion, err)
	}
	if order.CreatedAt, err = parseTime(values[fieldCreatedAt]); err != nil {
		return domain.Order{}, fmt.Errorf("parse %s: %w", fieldCreatedAt, err)
	}
	if order.UpdatedAt, err = parseTime(values[fieldUpdatedAt]); err != nil {
		return domain.Order{}, fmt.Errorf("parse %s: %w", fieldUpdatedAt, err)
	}
	if v, ok := values[fieldNumber]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.Order{}, fmt.Errorf("parse %s: %w", fieldNumber, err)
		}
		order.Number = &n
	}
	if v, ok := values[fieldType]; ok {
		order.Type = &v
	}
	if v, ok := values[fieldOfferType]; ok {
		order.OfferType = &v
	}
	for name, target := range map[string]**int{
		fieldFoodsTotal:     &order.FoodsTotal,
		fieldTaxes:          &order.Taxes,
		fieldDiscountAmount: &order.DiscountAmount,
		fieldOfferAmount:    &order.OfferAmount,
	} {
		v, ok := values[name]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return domain.Order{}, fmt.Errorf("parse %s: %w", name, err)
		}
		*target = &n
	}
	return order, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
