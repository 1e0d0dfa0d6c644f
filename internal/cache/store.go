package cache

import (
	"context"
	"errors"
)

var (
	ErrCorruptEntry = errors.New("corrupt cache entry")
	ErrStoreClosed  = errors.New("cache store closed")
)

// Store is the key/value service holding serialized entries. Get reports
// found=false with a nil error on a plain miss.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}
