package cache

import (
	"errors"

	"github.com/always-cache/forward-proxy/pkg/target"
	"go.uber.org/atomic"
)

const (
	// DefaultCapacity is the total number of content bytes the cache may hold.
	DefaultCapacity = 1049000
	// DefaultMaxObjectSize is the largest response that is eligible for caching.
	DefaultMaxObjectSize = 102400
)

var ErrObjectTooLarge = errors.New("object exceeds maximum cacheable size")

// Provider is a size-bounded response cache keyed by target,
// evicting the least recently used entry when space is needed.
//
// Every lookup hit and every insert advances a logical clock and stamps the
// touched entry with the clock value (its recency). The entry with the smallest
// recency is evicted first.
//
// Implementations must be thread-safe!
type Provider interface {
	// Lookup returns a copy of the stored response for the target, if any.
	// A hit makes the entry the most recently used one. A miss has no side effects.
	Lookup(t target.Target) ([]byte, bool, error)
	// Insert stores a response for the target, evicting least recently used
	// entries until it fits. An existing entry for the same target is replaced.
	// It returns false without storing if the response is larger than the whole cache,
	// and ErrObjectTooLarge if it is larger than the per-object ceiling.
	Insert(t target.Target, content []byte) (bool, error)
	// Renumber compacts all recency values to 0..n-1, keeping their order,
	// and resets the clock to n.
	Renumber() error
	// Clock returns the current logical clock value.
	Clock() int64
	// Stats returns occupancy and counters.
	Stats() Stats
	// Entries returns all entries in eviction order (least recently used first).
	Entries() ([]EntryInfo, error)
	// Close releases resources held by the provider.
	Close() error
}

// Limits bounds the cache. Zero fields take the defaults.
type Limits struct {
	Capacity      int `yaml:"cacheCapacity"`
	MaxObjectSize int `yaml:"maxObjectSize"`
}

func (l Limits) withDefaults() Limits {
	if l.Capacity <= 0 {
		l.Capacity = DefaultCapacity
	}
	if l.MaxObjectSize <= 0 {
		l.MaxObjectSize = DefaultMaxObjectSize
	}
	return l
}

// Stats is a point-in-time view of a cache.
type Stats struct {
	Entries   int   `json:"entries"`
	Used      int   `json:"used"`
	Capacity  int   `json:"capacity"`
	Clock     int64 `json:"clock"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Inserts   int64 `json:"inserts"`
	Evictions int64 `json:"evictions"`
}

// EntryInfo describes a stored entry without its content.
type EntryInfo struct {
	Hostname string `json:"hostname"`
	Port     string `json:"port"`
	Path     string `json:"path"`
	Size     int    `json:"size"`
	Recency  int64  `json:"recency"`
}

// counters are updated outside the cache lock and read by Stats.
type counters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	inserts   atomic.Int64
	evictions atomic.Int64
}

func (c *counters) fill(s *Stats) {
	s.Hits = c.hits.Load()
	s.Misses = c.misses.Load()
	s.Inserts = c.inserts.Load()
	s.Evictions = c.evictions.Load()
}
