package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/y0ug/contentscan/internal/models"
)

type memoryEntry struct {
	fingerprint models.Fingerprint
	verdict     models.ScanVerdict
	storedAt    time.Time
}

// MemoryCache is the in-process backend. Entries are kept in least recently
// used order so a MaxEntries bound drops the coldest verdict first.
type MemoryCache struct {
	mu      sync.Mutex
	policy  EvictionPolicy
	entries map[models.Fingerprint]*list.Element
	order   *list.List // front is most recently used
	now     func() time.Time
}

// NewMemoryCache initializes an empty MemoryCache.
func NewMemoryCache(policy EvictionPolicy) *MemoryCache {
	return &MemoryCache{
		policy:  policy,
		entries: make(map[models.Fingerprint]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns the verdict stored for f.
func (m *MemoryCache) Get(ctx context.Context, f models.Fingerprint) (models.ScanVerdict, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[f]
	if !ok {
		return models.ScanVerdict{}, false, nil
	}
	entry := elem.Value.(*memoryEntry)
	if m.policy.Expired(entry.storedAt, m.now()) {
		m.removeElement(elem)
		return models.ScanVerdict{}, false, nil
	}
	m.order.MoveToFront(elem)
	return entry.verdict, true, nil
}

// Put stores verdict under f unless a live entry already exists.
func (m *MemoryCache) Put(ctx context.Context, f models.Fingerprint, verdict models.ScanVerdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if elem, ok := m.entries[f]; ok {
		if !m.policy.Expired(elem.Value.(*memoryEntry).storedAt, now) {
			return nil
		}
		m.removeElement(elem)
	}

	m.entries[f] = m.order.PushFront(&memoryEntry{
		fingerprint: f,
		verdict:     verdict,
		storedAt:    now,
	})

	for n := m.policy.Overflow(m.order.Len()); n > 0; n-- {
		m.removeElement(m.order.Back())
	}
	return nil
}

// Clear drops every entry.
func (m *MemoryCache) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[models.Fingerprint]*list.Element)
	m.order.Init()
	return nil
}

// Len returns the number of stored entries, expired ones included until
// they are next touched.
func (m *MemoryCache) Len(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len(), nil
}

func (m *MemoryCache) Close(ctx context.Context) error {
	return nil
}

func (m *MemoryCache) removeElement(elem *list.Element) {
	entry := m.order.Remove(elem).(*memoryEntry)
	delete(m.entries, entry.fingerprint)
}
