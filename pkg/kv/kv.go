// Package kv provides the generic key-value persistence layer every domain
// record of the library lives in. Records share one flat namespace and are
// told apart by key prefix only.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrEmptyKey is returned when an operation receives a blank key.
	ErrEmptyKey = errors.New("kv: key required")
	// ErrEmptyPrefix is returned when a prefix scan receives a blank prefix.
	ErrEmptyPrefix = errors.New("kv: prefix required")
	// ErrSkip may be returned by an UpdateFunc to leave the key untouched.
	ErrSkip = errors.New("kv: skip update")
	// ErrConflict is returned when an optimistic update could not commit.
	ErrConflict = errors.New("kv: concurrent update conflict")
)

// Entry is a single key/value pair returned by a prefix scan.
type Entry struct {
	Key   string
	Value json.RawMessage
}

// UpdateFunc computes the new value of a key from its current value.
// ok is false when the key is absent.
type UpdateFunc func(old json.RawMessage, ok bool) (json.RawMessage, error)

// Store is a key-value store over JSON documents.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Del(ctx context.Context, key string) error
	// GetByPrefix returns every entry whose key starts with prefix,
	// ordered by key.
	GetByPrefix(ctx context.Context, prefix string) ([]Entry, error)
	// Update applies fn atomically with respect to other writers of key.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}

// Pinger is implemented by backends that talk to a server.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks that s is reachable. In-process backends always pass.
func Ping(ctx context.Context, s Store) error {
	p, ok := s.(Pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}

func checkValue(value json.RawMessage) error {
	if !json.Valid(value) {
		return errors.New("kv: value is not valid JSON")
	}
	return nil
}
