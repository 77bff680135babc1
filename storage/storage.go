// Package storage provides the object storage boundary used for
// snapshot persistence. All backends implement atomic replacement per
// key: a reader never observes a half-written object.
package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by Get when no object exists for a key.
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectStore is a minimal get/put blob interface. Keys are flat
// strings; the bucket (or table, or directory) is fixed per store
// instance through configuration.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}
