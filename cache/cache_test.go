package cache

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/forward-proxy/pkg/target"
)

// forEachProvider runs the test against every provider implementation.
func forEachProvider(t *testing.T, limits Limits, test func(t *testing.T, p Provider)) {
	t.Run("memory", func(t *testing.T) {
		test(t, NewMemCache(limits))
	})
	t.Run("sqlite", func(t *testing.T) {
		p, err := NewSQLiteCache("", limits)
		require.NoError(t, err)
		t.Cleanup(func() { p.Close() })
		test(t, p)
	})
}

func key(path string) target.Target {
	return target.Target{Hostname: "example.com", Port: "80", Path: path}
}

func body(size int, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, size)
}

func paths(t *testing.T, p Provider) []string {
	entries, err := p.Entries()
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	forEachProvider(t, Limits{}, func(t *testing.T, p Provider) {
		content := []byte("HTTP/1.0 200 OK\r\nContent-Length: 5\r\n\r\nhello\r\n")
		stored, err := p.Insert(key("/a"), content)
		require.NoError(t, err)
		require.True(t, stored)

		got, ok, err := p.Lookup(key("/a"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, content, got)

		// the returned bytes are a copy
		got[0] = 'X'
		again, _, _ := p.Lookup(key("/a"))
		assert.Equal(t, content, again)
	})
}

func TestKeysMatchExactly(t *testing.T) {
	forEachProvider(t, Limits{}, func(t *testing.T, p Provider) {
		_, err := p.Insert(target.Target{Hostname: "example.com", Port: "80", Path: "/"}, []byte("x"))
		require.NoError(t, err)

		for _, other := range []target.Target{
			{Hostname: "example.com", Port: "8080", Path: "/"},
			{Hostname: "example.org", Port: "80", Path: "/"},
			{Hostname: "example.com", Port: "80", Path: "/index.html"},
		} {
			_, ok, err := p.Lookup(other)
			require.NoError(t, err)
			assert.False(t, ok, "%v should miss", other)
		}
	})
}

func TestMissHasNoSideEffects(t *testing.T) {
	forEachProvider(t, Limits{}, func(t *testing.T, p Provider) {
		_, err := p.Insert(key("/a"), []byte("a"))
		require.NoError(t, err)
		clock := p.Clock()

		_, ok, err := p.Lookup(key("/missing"))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, clock, p.Clock())
		assert.Equal(t, int64(1), p.Stats().Misses)
	})
}

func TestClockAdvancesOnHitAndInsert(t *testing.T) {
	forEachProvider(t, Limits{}, func(t *testing.T, p Provider) {
		assert.Equal(t, int64(0), p.Clock())
		p.Insert(key("/a"), []byte("a"))
		p.Insert(key("/b"), []byte("b"))
		assert.Equal(t, int64(2), p.Clock())
		p.Lookup(key("/a"))
		assert.Equal(t, int64(3), p.Clock())

		entries, err := p.Entries()
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, EntryInfo{Hostname: "example.com", Port: "80", Path: "/b", Size: 1, Recency: 1}, entries[0])
		assert.Equal(t, EntryInfo{Hostname: "example.com", Port: "80", Path: "/a", Size: 1, Recency: 2}, entries[1])
	})
}

func TestEvictionOrder(t *testing.T) {
	forEachProvider(t, Limits{Capacity: 300, MaxObjectSize: 100}, func(t *testing.T, p Provider) {
		for _, path := range []string{"/a", "/b", "/c"} {
			stored, err := p.Insert(key(path), body(100, path[1]))
			require.NoError(t, err)
			require.True(t, stored)
		}
		_, err := p.Insert(key("/d"), body(100, 'd'))
		require.NoError(t, err)

		_, ok, _ := p.Lookup(key("/a"))
		assert.False(t, ok, "least recently used entry must be evicted")
		assert.Equal(t, []string{"/b", "/c", "/d"}, paths(t, p))
		assert.Equal(t, int64(1), p.Stats().Evictions)
	})
}

func TestHitProtectsFromEviction(t *testing.T) {
	forEachProvider(t, Limits{Capacity: 300, MaxObjectSize: 100}, func(t *testing.T, p Provider) {
		for _, path := range []string{"/a", "/b", "/c"} {
			p.Insert(key(path), body(100, path[1]))
		}
		_, ok, err := p.Lookup(key("/a"))
		require.NoError(t, err)
		require.True(t, ok)

		p.Insert(key("/d"), body(100, 'd'))

		assert.Equal(t, []string{"/c", "/a", "/d"}, paths(t, p), "b is evicted, a survives")
		_, ok, _ = p.Lookup(key("/b"))
		assert.False(t, ok)
		_, ok, _ = p.Lookup(key("/a"))
		assert.True(t, ok)
	})
}

func TestEvictsUntilItFits(t *testing.T) {
	forEachProvider(t, Limits{Capacity: 300, MaxObjectSize: 300}, func(t *testing.T, p Provider) {
		for _, path := range []string{"/a", "/b", "/c"} {
			p.Insert(key(path), body(100, path[1]))
		}
		stored, err := p.Insert(key("/big"), body(250, 'x'))
		require.NoError(t, err)
		require.True(t, stored)

		assert.Equal(t, []string{"/big"}, paths(t, p))
		st := p.Stats()
		assert.Equal(t, 250, st.Used)
		assert.Equal(t, int64(3), st.Evictions)
	})
}

func TestObjectLimits(t *testing.T) {
	forEachProvider(t, Limits{Capacity: 100, MaxObjectSize: 200}, func(t *testing.T, p Provider) {
		stored, err := p.Insert(key("/huge"), body(201, 'h'))
		assert.ErrorIs(t, err, ErrObjectTooLarge)
		assert.False(t, stored)

		// eligible object, but bigger than the whole cache
		p.Insert(key("/a"), body(50, 'a'))
		stored, err = p.Insert(key("/large"), body(150, 'l'))
		assert.NoError(t, err)
		assert.False(t, stored)
		assert.Equal(t, []string{"/a"}, paths(t, p), "nothing is evicted for an object that cannot fit")
	})
}

func TestDefaultLimits(t *testing.T) {
	forEachProvider(t, Limits{}, func(t *testing.T, p Provider) {
		assert.Equal(t, DefaultCapacity, p.Stats().Capacity)
		stored, err := p.Insert(key("/max"), body(DefaultMaxObjectSize, 'm'))
		assert.NoError(t, err)
		assert.True(t, stored)
		_, err = p.Insert(key("/over"), body(DefaultMaxObjectSize+1, 'o'))
		assert.ErrorIs(t, err, ErrObjectTooLarge)
	})
}

func TestDuplicateInsertReplaces(t *testing.T) {
	forEachProvider(t, Limits{Capacity: 300, MaxObjectSize: 200}, func(t *testing.T, p Provider) {
		p.Insert(key("/a"), body(100, '1'))
		p.Insert(key("/b"), body(100, 'b'))
		p.Insert(key("/a"), body(150, '2'))

		st := p.Stats()
		assert.Equal(t, 2, st.Entries)
		assert.Equal(t, 250, st.Used)

		got, ok, err := p.Lookup(key("/a"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, body(150, '2'), got)
	})
}

func TestRenumberPreservesOrder(t *testing.T) {
	forEachProvider(t, Limits{Capacity: 300, MaxObjectSize: 100}, func(t *testing.T, p Provider) {
		for _, path := range []string{"/a", "/b", "/c"} {
			p.Insert(key(path), body(100, path[1]))
		}
		p.Lookup(key("/a"))
		p.Lookup(key("/b"))
		before := paths(t, p)
		require.Equal(t, int64(5), p.Clock())

		require.NoError(t, p.Renumber())

		assert.Equal(t, int64(3), p.Clock())
		assert.Equal(t, before, paths(t, p))
		entries, _ := p.Entries()
		for i, e := range entries {
			assert.Equal(t, int64(i), e.Recency)
		}

		// eviction after renumbering still picks the least recently used
		p.Insert(key("/d"), body(100, 'd'))
		assert.Equal(t, []string{"/a", "/b", "/d"}, paths(t, p))
	})
}

func TestCapacityInvariant(t *testing.T) {
	limits := Limits{Capacity: 2000, MaxObjectSize: 600}
	forEachProvider(t, limits, func(t *testing.T, p Provider) {
		rnd := rand.New(rand.NewSource(1))
		for i := 0; i < 300; i++ {
			path := fmt.Sprintf("/%d", rnd.Intn(40))
			if rnd.Intn(3) == 0 {
				_, _, err := p.Lookup(key(path))
				require.NoError(t, err)
				continue
			}
			_, err := p.Insert(key(path), body(1+rnd.Intn(limits.MaxObjectSize), 'x'))
			require.NoError(t, err)

			entries, err := p.Entries()
			require.NoError(t, err)
			sum := 0
			for _, e := range entries {
				sum += e.Size
			}
			st := p.Stats()
			require.LessOrEqual(t, sum, limits.Capacity)
			require.Equal(t, sum, st.Used)
			require.Equal(t, len(entries), st.Entries)
		}
	})
}

// Every hit on an entry advances the clock, also when lookups of it overlap.
func TestConcurrentHitsAllCount(t *testing.T) {
	forEachProvider(t, Limits{}, func(t *testing.T, p Provider) {
		_, err := p.Insert(key("/a"), []byte("a"))
		require.NoError(t, err)
		_, err = p.Insert(key("/b"), []byte("b"))
		require.NoError(t, err)

		const lookups = 50
		var wg sync.WaitGroup
		for i := 0; i < lookups; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := p.Lookup(key("/a"))
				assert.NoError(t, err)
				assert.True(t, ok)
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(2+lookups), p.Clock())
		assert.Equal(t, int64(lookups), p.Stats().Hits)
		entries, err := p.Entries()
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "/a", entries[1].Path)
		assert.Equal(t, int64(2+lookups-1), entries[1].Recency)
	})
}

func TestConcurrentAccess(t *testing.T) {
	limits := Limits{Capacity: 5000, MaxObjectSize: 500}
	forEachProvider(t, limits, func(t *testing.T, p Provider) {
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					path := fmt.Sprintf("/%d", (w*7+i)%25)
					if i%2 == 0 {
						if _, err := p.Insert(key(path), body(100+i, byte('a'+w))); err != nil {
							t.Error(err)
						}
					} else if _, _, err := p.Lookup(key(path)); err != nil {
						t.Error(err)
					}
					if i%40 == 0 {
						if err := p.Renumber(); err != nil {
							t.Error(err)
						}
					}
				}
			}(w)
		}
		wg.Wait()

		st := p.Stats()
		assert.LessOrEqual(t, st.Used, limits.Capacity)
		entries, err := p.Entries()
		require.NoError(t, err)
		assert.Len(t, entries, st.Entries)
	})
}
