// Package kvstore provides the C1 ordered byte-key metadata store: an
// ordered map from string keys to opaque byte payloads with range scan,
// atomic put/delete, and JSON helpers, per SPEC_FULL.md §4.3.
package kvstore

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/xlab2016/space-db-public/internal/apperr"
)

// Pair is a single (key, value) result from a range scan.
type Pair struct {
	Key   string
	Value []byte
}

// Store is the C1 contract. Keys are ordered lexically by byte value,
// which is what makes the binding key conventions in spec.md §6
// (point:<id>, seg:in:<from>:<to>, seg:out:<to>:<from>) range-scannable
// by prefix.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// RangeScan yields pairs with startKey <= key <= endKeyInclusive in
	// ascending key order.
	RangeScan(ctx context.Context, startKey, endKeyInclusive string) ([]Pair, error)

	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Compact(ctx context.Context) error

	Close() error
}

// PutJSON marshals v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperr.Wrap(apperr.InvalidInput, err, "marshal value for "+key)
	}
	if err := s.Put(ctx, key, data); err != nil {
		return errors.Wrapf(err, "put %s", key)
	}
	return nil
}

// GetJSON retrieves the value under key and unmarshals it into v. ok is
// false if the key does not exist.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, errors.Wrapf(err, "get %s", key)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, apperr.Wrap(apperr.InvalidInput, err, "unmarshal value for "+key)
	}
	return true, nil
}
