package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	b:<bucket>            bucket marker (bucketMeta)
//	e:<bucket>\x00<key>   entry (Entry)
//	m:<bucket>\x00<key>   entry metadata (diskMeta)
const (
	prefixBucket = "b:"
	prefixEntry  = "e:"
	prefixMeta   = "m:"
	sep          = "\x00"
)

type bucketMeta struct {
	Seq       int64
	CreatedAt int64
}

type diskMeta struct {
	Size       int64
	LastAccess int64
}

// LevelDBStorage persists buckets in a leveldb database. The total encoded
// size is bounded by maxBytes (0 means unbounded); when exceeded, the least
// recently used 10% of entries are evicted.
type LevelDBStorage struct {
	maxBytes int64

	db *leveldb.DB

	mu        sync.Mutex
	buckets   map[string]bucketMeta
	index     map[string]diskMeta // "<bucket>\x00<key>"
	totalSize int64
	seq       int64
}

type levelBucket struct {
	s    *LevelDBStorage
	name string
}

// OpenLevelDB opens (or creates) the database at path and loads its index.
func OpenLevelDB(path string, maxBytes int64) (*LevelDBStorage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	s := &LevelDBStorage{
		maxBytes: maxBytes,
		db:       db,
		buckets:  map[string]bucketMeta{},
		index:    map[string]diskMeta{},
	}
	if err := s.loadIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LevelDBStorage) Close() error {
	return s.db.Close()
}

func (s *LevelDBStorage) loadIndex() error {
	it := s.db.NewIterator(util.BytesPrefix([]byte(prefixBucket)), nil)
	buckets := map[string]bucketMeta{}
	var seq int64
	for it.Next() {
		name := string(bytes.TrimPrefix(it.Key(), []byte(prefixBucket)))
		var meta bucketMeta
		if err := decodeGob(it.Value(), &meta); err != nil {
			continue
		}
		buckets[name] = meta
		if meta.Seq > seq {
			seq = meta.Seq
		}
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}

	it = s.db.NewIterator(util.BytesPrefix([]byte(prefixMeta)), nil)
	defer it.Release()
	var total int64
	idx := map[string]diskMeta{}
	for it.Next() {
		ik := string(bytes.TrimPrefix(it.Key(), []byte(prefixMeta)))
		var meta diskMeta
		if err := decodeGob(it.Value(), &meta); err != nil {
			continue
		}
		idx[ik] = meta
		total += meta.Size
	}
	if err := it.Error(); err != nil {
		return err
	}

	s.mu.Lock()
	s.buckets = buckets
	s.index = idx
	s.totalSize = total
	s.seq = seq
	s.mu.Unlock()
	return nil
}

func indexKey(bucket string, key Key) string {
	return bucket + sep + string(key)
}

func (s *LevelDBStorage) Open(_ context.Context, name string) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[name]; ok {
		return &levelBucket{s: s, name: name}, nil
	}
	s.seq++
	meta := bucketMeta{Seq: s.seq, CreatedAt: time.Now().Unix()}
	b, err := encodeGob(meta)
	if err != nil {
		return nil, err
	}
	if err := s.db.Put([]byte(prefixBucket+name), b, nil); err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	s.buckets[name] = meta
	return &levelBucket{s: s, name: name}, nil
}

func (s *LevelDBStorage) Lookup(_ context.Context, name string) (Bucket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[name]; !ok {
		return nil, false, nil
	}
	return &levelBucket{s: s, name: name}, true, nil
}

func (s *LevelDBStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[name]; !ok {
		return false, nil
	}

	batch := new(leveldb.Batch)
	batch.Delete([]byte(prefixBucket + name))
	for _, prefix := range []string{prefixEntry, prefixMeta} {
		it := s.db.NewIterator(util.BytesPrefix([]byte(prefix+name+sep)), nil)
		for it.Next() {
			batch.Delete(append([]byte(nil), it.Key()...))
		}
		it.Release()
		if err := it.Error(); err != nil {
			return false, fmt.Errorf("scan bucket %s: %w", name, err)
		}
	}
	if err := s.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("delete bucket %s: %w", name, err)
	}

	delete(s.buckets, name)
	for ik, meta := range s.index {
		if strings.HasPrefix(ik, name+sep) {
			s.totalSize -= meta.Size
			delete(s.index, ik)
		}
	}
	return true, nil
}

func (s *LevelDBStorage) Keys(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderedLocked(), nil
}

func (s *LevelDBStorage) orderedLocked() []string {
	out := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.buckets[out[i]].Seq < s.buckets[out[j]].Seq
	})
	return out
}

func (s *LevelDBStorage) Match(ctx context.Context, key Key) (Entry, bool, error) {
	s.mu.Lock()
	names := s.orderedLocked()
	s.mu.Unlock()
	for _, name := range names {
		b := &levelBucket{s: s, name: name}
		ent, ok, err := b.Match(ctx, key)
		if err != nil {
			return Entry{}, false, err
		}
		if ok {
			return ent, true, nil
		}
	}
	return Entry{}, false, nil
}

func (s *LevelDBStorage) TotalSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize
}

func (s *LevelDBStorage) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

func (b *levelBucket) Name() string { return b.name }

func (b *levelBucket) Match(_ context.Context, key Key) (Entry, bool, error) {
	raw, err := b.s.db.Get([]byte(prefixEntry+indexKey(b.name, key)), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read %s: %w", key, err)
	}
	var ent Entry
	if err := decodeGob(raw, &ent); err != nil {
		return Entry{}, false, fmt.Errorf("decode %s: %w", key, err)
	}

	ik := indexKey(b.name, key)
	b.s.mu.Lock()
	if meta, ok := b.s.index[ik]; ok {
		meta.LastAccess = time.Now().Unix()
		b.s.index[ik] = meta
	}
	b.s.mu.Unlock()
	return ent, true, nil
}

func (b *levelBucket) Put(_ context.Context, key Key, ent Entry) error {
	if ent.StoredAt == 0 {
		ent.StoredAt = time.Now().Unix()
	}
	ent.Hash32 = crc32.ChecksumIEEE(ent.Body)
	raw, err := encodeGob(ent)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	size := int64(len(raw))
	s := b.s
	if s.maxBytes > 0 && size > s.maxBytes {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}

	ik := indexKey(b.name, key)
	meta := diskMeta{Size: size, LastAccess: time.Now().Unix()}
	mb, err := encodeGob(meta)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[b.name]; !ok {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, b.name)
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(prefixEntry+ik), raw)
	batch.Put([]byte(prefixMeta+ik), mb)
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}

	if old, ok := s.index[ik]; ok {
		s.totalSize -= old.Size
	}
	s.index[ik] = meta
	s.totalSize += size

	if s.maxBytes > 0 && s.totalSize > s.maxBytes {
		s.evictSomeLocked(ik)
	}
	return nil
}

func (b *levelBucket) Delete(_ context.Context, key Key) (bool, error) {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	ik := indexKey(b.name, key)
	meta, ok := s.index[ik]
	if !ok {
		return false, nil
	}
	if err := s.deleteEntriesLocked(ik); err != nil {
		return false, err
	}
	s.totalSize -= meta.Size
	delete(s.index, ik)
	return true, nil
}

func (b *levelBucket) Keys(context.Context) ([]Key, error) {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := b.name + sep
	out := make([]Key, 0)
	for ik := range s.index {
		if strings.HasPrefix(ik, prefix) {
			out = append(out, Key(strings.TrimPrefix(ik, prefix)))
		}
	}
	return out, nil
}

func (s *LevelDBStorage) deleteEntriesLocked(iks ...string) error {
	batch := new(leveldb.Batch)
	for _, ik := range iks {
		batch.Delete([]byte(prefixEntry + ik))
		batch.Delete([]byte(prefixMeta + ik))
	}
	return s.db.Write(batch, nil)
}

// evictSomeLocked drops the least recently used 10% of entries, sparing keep.
func (s *LevelDBStorage) evictSomeLocked(keep string) {
	type item struct {
		ik string
		m  diskMeta
	}
	items := make([]item, 0, len(s.index))
	for ik, m := range s.index {
		if ik == keep {
			continue
		}
		items = append(items, item{ik, m})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].m.LastAccess < items[j].m.LastAccess
	})

	n := len(items) / 10
	if n < 1 {
		n = 1
	}
	var victims []string
	for i := 0; i < n && i < len(items); i++ {
		victims = append(victims, items[i].ik)
	}
	if len(victims) == 0 {
		return
	}
	if err := s.deleteEntriesLocked(victims...); err != nil {
		return
	}
	for _, ik := range victims {
		s.totalSize -= s.index[ik].Size
		delete(s.index, ik)
	}
}
