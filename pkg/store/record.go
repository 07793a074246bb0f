package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/abdulaziz-uzb777/library-project/pkg/kv"
)

var (
	// ErrNotFound is returned by updates of absent records.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned when a create-only write finds the key taken.
	ErrExists = errors.New("record already exists")
	// ErrKindMismatch is returned when a key and a record disagree on kind.
	ErrKindMismatch = errors.New("record kind mismatch")
)

// Record is implemented by every persisted entity.
type Record interface {
	Validate() error
}

// envelope is the stored form of a record.
type envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func encode(key string, kind Kind, rec Record) (json.RawMessage, error) {
	if err := checkKind(key, kind); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return json.Marshal(envelope{Kind: kind, Data: data})
}

func decode[T Record](key string, kind Kind, raw json.RawMessage) (T, error) {
	var zero T
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return zero, fmt.Errorf("decode %s: %w", key, err)
	}
	if env.Kind != kind {
		return zero, fmt.Errorf("%w: key %s holds %q, want %q", ErrKindMismatch, key, env.Kind, kind)
	}
	var rec T
	if err := json.Unmarshal(env.Data, &rec); err != nil {
		return zero, fmt.Errorf("decode %s: %w", key, err)
	}
	if err := rec.Validate(); err != nil {
		return zero, fmt.Errorf("decode %s: %w", key, err)
	}
	return rec, nil
}

func checkKind(key string, kind Kind) error {
	got, ok := KindOf(key)
	if !ok || got != kind {
		return fmt.Errorf("%w: key %q is not a %s key", ErrKindMismatch, key, kind)
	}
	return nil
}

func getRecord[T Record](ctx context.Context, s kv.Store, key string, kind Kind) (T, bool, error) {
	var zero T
	if err := checkKind(key, kind); err != nil {
		return zero, false, err
	}
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	rec, err := decode[T](key, kind, raw)
	if err != nil {
		return zero, false, err
	}
	return rec, true, nil
}

func putRecord(ctx context.Context, s kv.Store, key string, kind Kind, rec Record) error {
	raw, err := encode(key, kind, rec)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, raw)
}

// createRecord writes rec only when key is absent.
func createRecord(ctx context.Context, s kv.Store, key string, kind Kind, rec Record) error {
	raw, err := encode(key, kind, rec)
	if err != nil {
		return err
	}
	return s.Update(ctx, key, func(_ json.RawMessage, ok bool) (json.RawMessage, error) {
		if ok {
			return nil, ErrExists
		}
		return raw, nil
	})
}

// updateRecord applies fn to the record at key under kv.Store.Update.
func updateRecord[T Record](ctx context.Context, s kv.Store, key string, kind Kind, fn func(*T) error) (T, error) {
	var out T
	if err := checkKind(key, kind); err != nil {
		return out, err
	}
	err := s.Update(ctx, key, func(old json.RawMessage, ok bool) (json.RawMessage, error) {
		if !ok {
			return nil, ErrNotFound
		}
		rec, err := decode[T](key, kind, old)
		if err != nil {
			return nil, err
		}
		if err := fn(&rec); err != nil {
			return nil, err
		}
		raw, err := encode(key, kind, rec)
		if err != nil {
			return nil, err
		}
		out = rec
		return raw, nil
	})
	return out, err
}

type keyed[T Record] struct {
	Key    string
	Record T
}

// listRecords decodes every record under prefix. Entries that fail to
// decode are logged and skipped so one corrupt blob does not hide the rest.
func listRecords[T Record](ctx context.Context, s kv.Store, prefix string, kind Kind) ([]keyed[T], error) {
	entries, err := s.GetByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]keyed[T], 0, len(entries))
	for _, e := range entries {
		rec, err := decode[T](e.Key, kind, e.Value)
		if err != nil {
			slog.WarnContext(ctx, "skip undecodable record", "key", e.Key, "err", err)
			continue
		}
		out = append(out, keyed[T]{Key: e.Key, Record: rec})
	}
	return out, nil
}
