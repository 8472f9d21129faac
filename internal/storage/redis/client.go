// Package redis stores order projections and the event log in Redis hashes.
//
// The projection of an order lives in the hash <prefix>:<id>:ORDER and is
// guarded by WATCH/MULTI on its version field. Log entries live in the hash
// <prefix>:<id>:ORDER_EVENT, one field per sort key.
package redis

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
)

// DefaultPrefix namespaces every key written by the stores.
const DefaultPrefix = "orders_app"

// Open connects to addr and verifies the server answers.
func Open(ctx context.Context, addr string) (*goredis.Client, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return client, nil
}

type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return keyspace{prefix: prefix}
}

func (k keyspace) projection(orderID string) string {
	return k.prefix + ":" + orderID + ":" + domain.ProjectionSortKey
}

func (k keyspace) events(orderID string) string {
	return k.prefix + ":" + orderID + ":" + strings.TrimSuffix(domain.EventSortKeyPrefix, "#")
}
