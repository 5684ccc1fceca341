// Package broker abstracts the external key-value/set store backing the
// watch registry, the chapter-label cache, and scheduler state.
//
// The store exposes only unordered set-add/set-remove primitives plus plain
// get/set/delete. There are no per-key transactions; callers that need
// read-modify-write semantics must layer their own serialization on top.
package broker

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New("broker: key not found")

// Broker is the contract the registry and scheduler need from the store.
type Broker interface {
	SetAdd(ctx context.Context, key, member string) error
	SetRemove(ctx context.Context, key, member string) (bool, error)
	SetMembers(ctx context.Context, key string) ([]string, error)

	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	Close() error
}
