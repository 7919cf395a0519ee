// Package store persists wiki entities by resource and item code.
package store

import (
	"context"
	"errors"

	"github.com/kasuganosora/gamewiki/server/entity"
)

// ErrNotFound is returned when no entity has the requested code.
var ErrNotFound = errors.New("store: entity not found")

// ErrMissingKey is returned by Put when the entity lacks its id field.
var ErrMissingKey = errors.New("store: entity has no key")

// TableStore reads and writes whole entities keyed by code. List returns
// entities in a stable backend-defined order.
type TableStore interface {
	List(ctx context.Context, resource string) ([]entity.Entity, error)
	Get(ctx context.Context, resource, code string) (entity.Entity, error)
	// Put inserts or replaces the entity whose key is e[idField].
	Put(ctx context.Context, resource, idField string, e entity.Entity) error
	Delete(ctx context.Context, resource, code string) error
	Count(ctx context.Context, resource string) (int64, error)
}
