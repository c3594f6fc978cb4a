package storage

import (
	"context"
	"errors"

	"github.com/ipld/go-ipld-prime/storage"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("key not found")

// Storage is a key value store used to persist blocks and the root link.
type Storage interface {
	storage.ReadableStorage
	storage.WritableStorage
}

// Lister is implemented by storages that can enumerate their keys.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}
