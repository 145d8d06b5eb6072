// Package storage writes build artifacts to an object store keyed by path.
package storage

import (
	"context"
	"errors"
	"io"
)

// ObjectStore accepts objects under slash-separated keys. Put overwrites any
// existing object with the same key.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// Object is a stored object as returned by readable stores.
type Object struct {
	Key         string
	ContentType string
	Data        []byte
}

// ErrNotFound is returned when an object doesn't exist.
var ErrNotFound = errors.New("object not found")

// ErrInvalidKey is returned for keys that are empty or escape the store root.
var ErrInvalidKey = errors.New("invalid object key")
