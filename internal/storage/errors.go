package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrLockTimeout indicates a timeout acquiring a cache file lock.
	ErrLockTimeout = errors.New("lock timeout")
	// ErrInvalidKey indicates a channel id that cannot be used as a cache key.
	ErrInvalidKey = errors.New("invalid cache key")
)

// StorageError wraps a failed storage operation.
type StorageError struct {
	Op     string
	Entity string
	ID     string
	Err    error
}

func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage: %s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
