package cache

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"
	"time"
)

// ErrTooLarge is returned when a single entry exceeds the storage limit.
var ErrTooLarge = errors.New("entry exceeds storage limit")

type memItem struct {
	bucket *memBucket
	key    Key
	ent    Entry
	size   int64
	prev   *memItem
	next   *memItem
}

// MemoryStorage keeps all buckets in RAM. Entries across every bucket share
// one LRU list bounded by maxBytes (0 means unbounded).
type MemoryStorage struct {
	maxBytes int64

	mu      sync.Mutex
	buckets map[string]*memBucket
	order   []string
	head    *memItem
	tail    *memItem
	total   int64
	count   int
}

type memBucket struct {
	s     *MemoryStorage
	name  string
	items map[Key]*memItem
}

func NewMemoryStorage(maxBytes int64) *MemoryStorage {
	return &MemoryStorage{maxBytes: maxBytes, buckets: map[string]*memBucket{}}
}

func (s *MemoryStorage) Open(_ context.Context, name string) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[name]; ok {
		return b, nil
	}
	b := &memBucket{s: s, name: name, items: map[Key]*memItem{}}
	s.buckets[name] = b
	s.order = append(s.order, name)
	return b, nil
}

func (s *MemoryStorage) Lookup(_ context.Context, name string) (Bucket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		return nil, false, nil
	}
	return b, true, nil
}

func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		return false, nil
	}
	for _, it := range b.items {
		s.unlinkLocked(it)
	}
	b.items = map[Key]*memItem{}
	delete(s.buckets, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *MemoryStorage) Keys(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out, nil
}

func (s *MemoryStorage) Match(_ context.Context, key Key) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.order {
		if it, ok := s.buckets[name].items[key]; ok {
			s.moveToFront(it)
			return it.ent.clone(), true, nil
		}
	}
	return Entry{}, false, nil
}

func (s *MemoryStorage) TotalSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStorage) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (b *memBucket) Name() string { return b.name }

func (b *memBucket) Match(_ context.Context, key Key) (Entry, bool, error) {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := b.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	s.moveToFront(it)
	return it.ent.clone(), true, nil
}

func (b *memBucket) Put(_ context.Context, key Key, ent Entry) error {
	ent = ent.clone()
	if ent.StoredAt == 0 {
		ent.StoredAt = time.Now().Unix()
	}
	ent.Hash32 = crc32.ChecksumIEEE(ent.Body)
	enc, err := encodeGob(ent)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	sz := int64(len(enc))

	s := b.s
	if s.maxBytes > 0 && sz > s.maxBytes {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, sz)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets[b.name] != b {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, b.name)
	}

	if it, ok := b.items[key]; ok {
		s.total -= it.size
		it.ent = ent
		it.size = sz
		s.total += sz
		s.moveToFront(it)
		s.evictLocked(it)
		return nil
	}

	it := &memItem{bucket: b, key: key, ent: ent, size: sz}
	b.items[key] = it
	s.addToFront(it)
	s.total += sz
	s.count++
	s.evictLocked(it)
	return nil
}

func (b *memBucket) Delete(_ context.Context, key Key) (bool, error) {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := b.items[key]
	if !ok {
		return false, nil
	}
	s.unlinkLocked(it)
	delete(b.items, key)
	return true, nil
}

func (b *memBucket) Keys(context.Context) ([]Key, error) {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Key, 0, len(b.items))
	for k := range b.items {
		out = append(out, k)
	}
	return out, nil
}

// evictLocked drops the least-recently-used 10% until the storage fits,
// never evicting keep.
func (s *MemoryStorage) evictLocked(keep *memItem) {
	for s.maxBytes > 0 && s.total > s.maxBytes {
		n := s.count / 10
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			it := s.tail
			if it == nil || it == keep {
				return
			}
			delete(it.bucket.items, it.key)
			s.unlinkLocked(it)
		}
	}
}

func (s *MemoryStorage) unlinkLocked(it *memItem) {
	s.remove(it)
	s.total -= it.size
	s.count--
}

func (s *MemoryStorage) addToFront(it *memItem) {
	it.prev = nil
	it.next = s.head
	if s.head != nil {
		s.head.prev = it
	}
	s.head = it
	if s.tail == nil {
		s.tail = it
	}
}

func (s *MemoryStorage) remove(it *memItem) {
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		s.head = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	} else {
		s.tail = it.prev
	}
	it.prev, it.next = nil, nil
}

func (s *MemoryStorage) moveToFront(it *memItem) {
	if s.head == it {
		return
	}
	s.remove(it)
	s.addToFront(it)
}
