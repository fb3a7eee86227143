package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"net/http"
)

// Storage is the set of named buckets for one origin.
type Storage interface {
	// Open returns the named bucket, creating it if absent.
	Open(ctx context.Context, name string) (Bucket, error)
	// Lookup returns the named bucket only if it already exists.
	Lookup(ctx context.Context, name string) (Bucket, bool, error)
	// Delete removes a bucket and all of its entries. It reports whether the
	// bucket existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Keys lists bucket names in creation order.
	Keys(ctx context.Context) ([]string, error)
	// Match looks the key up in every bucket, oldest first.
	Match(ctx context.Context, key Key) (Entry, bool, error)
}

// Bucket is one named key-value store of cached responses.
type Bucket interface {
	Name() string
	Match(ctx context.Context, key Key) (Entry, bool, error)
	// Put stores the entry, replacing any previous one. Concurrent puts to the
	// same key resolve as last writer wins.
	Put(ctx context.Context, key Key, ent Entry) error
	Delete(ctx context.Context, key Key) (bool, error)
	Keys(ctx context.Context) ([]Key, error)
}

// Usage is implemented by storages that can report their footprint.
type Usage interface {
	TotalSize() int64
	EntryCount() int
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}

func init() {
	// Ensure http.Header is registered for gob.
	gob.Register(http.Header{})
}
