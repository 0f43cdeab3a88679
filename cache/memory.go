package cache

import (
	"container/list"
	"sync"

	"github.com/always-cache/forward-proxy/pkg/target"
)

type memCacheEntry struct {
	key     target.Target
	content []byte
	recency int64
}

// MemCache keeps entries in a map for lookup and in a list ordered by
// ascending recency for eviction. Touching an entry stamps it with the newest
// clock value and moves it to the back, so the front is always the eviction candidate.
type MemCache struct {
	mutex  sync.RWMutex
	limits Limits
	db     map[target.Target]*list.Element
	order  *list.List
	used   int
	clock  int64
	counters
}

func NewMemCache(limits Limits) *MemCache {
	return &MemCache{
		limits: limits.withDefaults(),
		db:     make(map[target.Target]*list.Element),
		order:  list.New(),
	}
}

func (m *MemCache) Lookup(t target.Target) ([]byte, bool, error) {
	m.mutex.RLock()
	el, ok := m.db[t]
	if !ok {
		m.mutex.RUnlock()
		m.misses.Inc()
		return nil, false, nil
	}
	entry := el.Value.(*memCacheEntry)
	content := make([]byte, len(entry.content))
	copy(content, entry.content)
	m.mutex.RUnlock()

	m.mutex.Lock()
	// the entry may have been evicted or replaced between the two locks
	if current, ok := m.db[t]; ok && current == el {
		entry.recency = m.tick()
		m.order.MoveToBack(el)
	}
	m.mutex.Unlock()

	m.hits.Inc()
	return content, true, nil
}

func (m *MemCache) Insert(t target.Target, content []byte) (bool, error) {
	size := len(content)
	if size > m.limits.MaxObjectSize {
		return false, ErrObjectTooLarge
	}
	if size > m.limits.Capacity {
		return false, nil
	}
	stored := make([]byte, size)
	copy(stored, content)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if el, ok := m.db[t]; ok {
		m.remove(el)
	}
	for m.used+size > m.limits.Capacity {
		m.remove(m.order.Front())
		m.evictions.Inc()
	}
	m.db[t] = m.order.PushBack(&memCacheEntry{
		key:     t,
		content: stored,
		recency: m.tick(),
	})
	m.used += size
	m.inserts.Inc()
	return true, nil
}

func (m *MemCache) Renumber() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var i int64
	for el := m.order.Front(); el != nil; el = el.Next() {
		el.Value.(*memCacheEntry).recency = i
		i++
	}
	m.clock = i
	return nil
}

func (m *MemCache) Clock() int64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.clock
}

func (m *MemCache) Stats() Stats {
	m.mutex.RLock()
	s := Stats{
		Entries:  len(m.db),
		Used:     m.used,
		Capacity: m.limits.Capacity,
		Clock:    m.clock,
	}
	m.mutex.RUnlock()
	m.counters.fill(&s)
	return s
}

func (m *MemCache) Entries() ([]EntryInfo, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entries := make([]EntryInfo, 0, len(m.db))
	for el := m.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*memCacheEntry)
		entries = append(entries, EntryInfo{
			Hostname: e.key.Hostname,
			Port:     e.key.Port,
			Path:     e.key.Path,
			Size:     len(e.content),
			Recency:  e.recency,
		})
	}
	return entries, nil
}

func (m *MemCache) Close() error {
	return nil
}

// tick returns the current clock value and advances the clock.
// Must be called with the write lock held.
func (m *MemCache) tick() int64 {
	now := m.clock
	m.clock++
	return now
}

// remove must be called with the write lock held.
func (m *MemCache) remove(el *list.Element) {
	entry := m.order.Remove(el).(*memCacheEntry)
	delete(m.db, entry.key)
	m.used -= len(entry.content)
}

var _ Provider = (*MemCache)(nil)
