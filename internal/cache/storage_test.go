package cache

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T, raw string) Key {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	k, err := KeyFor(http.MethodGet, u)
	require.NoError(t, err)
	return k
}

func okEntry(body string) Entry {
	return Entry{
		Status: http.StatusOK,
		Type:   TypeBasic,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte(body),
	}
}

type storageFactory func(t *testing.T) Storage

func storages() map[string]storageFactory {
	return map[string]storageFactory{
		"memory": func(t *testing.T) Storage {
			return NewMemoryStorage(0)
		},
		"leveldb": func(t *testing.T) Storage {
			s, err := OpenLevelDB(filepath.Join(t.TempDir(), "db"), 0)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestStoragePutMatch(t *testing.T) {
	for name, newStorage := range storages() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStorage(t)

			b, err := s.Open(ctx, "app-v1")
			require.NoError(t, err)
			assert.Equal(t, "app-v1", b.Name())

			key := mustKey(t, "https://app.test/index.html")
			require.NoError(t, b.Put(ctx, key, okEntry("hello")))

			got, ok, err := b.Match(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "hello", string(got.Body))
			assert.Equal(t, http.StatusOK, got.Status)
			assert.Equal(t, "text/plain", got.Header.Get("Content-Type"))
			assert.NotZero(t, got.StoredAt)
			assert.NotZero(t, got.Hash32)

			_, ok, err = b.Match(ctx, mustKey(t, "https://app.test/missing.css"))
			require.NoError(t, err)
			assert.False(t, ok)

			got, ok, err = s.Match(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "hello", string(got.Body))
		})
	}
}

func TestStorageLastWriterWins(t *testing.T) {
	for name, newStorage := range storages() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStorage(t)
			b, err := s.Open(ctx, "app-v1")
			require.NoError(t, err)

			key := mustKey(t, "https://app.test/app.js")
			require.NoError(t, b.Put(ctx, key, okEntry("one")))
			require.NoError(t, b.Put(ctx, key, okEntry("two")))

			got, ok, err := b.Match(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "two", string(got.Body))

			keys, err := b.Keys(ctx)
			require.NoError(t, err)
			assert.Len(t, keys, 1)
		})
	}
}

func TestStorageDeleteBucket(t *testing.T) {
	for name, newStorage := range storages() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStorage(t)

			v3, err := s.Open(ctx, "v3")
			require.NoError(t, err)
			_, err = s.Open(ctx, "v4")
			require.NoError(t, err)
			key := mustKey(t, "https://app.test/")
			require.NoError(t, v3.Put(ctx, key, okEntry("old")))

			names, err := s.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"v3", "v4"}, names)

			existed, err := s.Delete(ctx, "v3")
			require.NoError(t, err)
			assert.True(t, existed)

			existed, err = s.Delete(ctx, "v3")
			require.NoError(t, err)
			assert.False(t, existed)

			names, err = s.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"v4"}, names)

			_, ok, err := s.Match(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)

			_, ok, err = s.Lookup(ctx, "v3")
			require.NoError(t, err)
			assert.False(t, ok)

			err = v3.Put(ctx, key, okEntry("again"))
			assert.ErrorIs(t, err, ErrBucketNotFound)
		})
	}
}

func TestStorageOpenIsIdempotent(t *testing.T) {
	for name, newStorage := range storages() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStorage(t)

			b1, err := s.Open(ctx, "v1")
			require.NoError(t, err)
			require.NoError(t, b1.Put(ctx, mustKey(t, "https://app.test/a"), okEntry("a")))

			b2, err := s.Open(ctx, "v1")
			require.NoError(t, err)
			keys, err := b2.Keys(ctx)
			require.NoError(t, err)
			assert.Len(t, keys, 1)

			names, err := s.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"v1"}, names)
		})
	}
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db")

	s, err := OpenLevelDB(path, 0)
	require.NoError(t, err)
	b, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	_, err = s.Open(ctx, "v2")
	require.NoError(t, err)
	key := mustKey(t, "https://app.test/offline.html")
	require.NoError(t, b.Put(ctx, key, okEntry("offline")))
	require.NoError(t, s.Close())

	s, err = OpenLevelDB(path, 0)
	require.NoError(t, err)
	defer s.Close()

	names, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, names)
	assert.Equal(t, 1, s.EntryCount())
	assert.Positive(t, s.TotalSize())

	got, ok, err := s.Match(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "offline", string(got.Body))
}

func TestMemoryStorageEvictsLRU(t *testing.T) {
	ctx := context.Background()
	probe, err := encodeGob(okEntry("x"))
	require.NoError(t, err)
	// Room for roughly three entries.
	s := NewMemoryStorage(int64(len(probe)*3 + len(probe)/2))

	b, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	k1 := mustKey(t, "https://app.test/1")
	k2 := mustKey(t, "https://app.test/2")
	k3 := mustKey(t, "https://app.test/3")
	k4 := mustKey(t, "https://app.test/4")
	require.NoError(t, b.Put(ctx, k1, okEntry("1")))
	require.NoError(t, b.Put(ctx, k2, okEntry("2")))
	require.NoError(t, b.Put(ctx, k3, okEntry("3")))

	// Touch k1 so k2 becomes least recently used.
	_, ok, err := b.Match(ctx, k1)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Put(ctx, k4, okEntry("4")))

	_, ok, _ = b.Match(ctx, k2)
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok, _ = b.Match(ctx, k1)
	assert.True(t, ok)
	_, ok, _ = b.Match(ctx, k4)
	assert.True(t, ok)
	assert.LessOrEqual(t, s.TotalSize(), s.maxBytes)
}

func TestMemoryStorageRejectsOversizedEntry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage(16)
	b, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	err = b.Put(ctx, mustKey(t, "https://app.test/big"), okEntry("way more than sixteen bytes of body"))
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Zero(t, s.EntryCount())
}

func TestMatchReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage(0)
	b, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	key := mustKey(t, "https://app.test/a")
	require.NoError(t, b.Put(ctx, key, okEntry("abc")))

	got, _, _ := b.Match(ctx, key)
	got.Body[0] = 'z'
	got.Header.Set("Content-Type", "mutated")

	again, _, _ := b.Match(ctx, key)
	assert.Equal(t, "abc", string(again.Body))
	assert.Equal(t, "text/plain", again.Header.Get("Content-Type"))
}
