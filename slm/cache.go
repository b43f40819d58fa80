package slm

import (
	"sync/atomic"

	"github.com/jellydator/ttlcache/v3"

	"github.com/YuminosukeSato/slmgo/core/sparse"
)

// AggregateKind identifies what a cache entry holds.
type AggregateKind uint8

// Cached aggregates of a training matrix.
const (
	KindCSC AggregateKind = iota + 1
	KindColStats
	KindSqData
	KindAtom
)

func (k AggregateKind) String() string {
	switch k {
	case KindCSC:
		return "csc"
	case KindColStats:
		return "colstats"
	case KindSqData:
		return "sqdata"
	case KindAtom:
		return "atom"
	default:
		return "unknown"
	}
}

// CacheKey identifies an aggregate of one matrix. Two matrices share entries
// only when shape, structure and values hash to the same fingerprint.
type CacheKey struct {
	Fingerprint uint64
	Rows, Cols  int
	Kind        AggregateKind
	// Version distinguishes entries of the same kind, e.g. the atom id.
	Version uint64
}

// Snapshot pins the fingerprint of a matrix at the time it was taken.
// Aggregates are keyed by it, so a matrix whose values were rewritten in
// place gets fresh entries from the next snapshot onwards. The matrix must
// not change while a snapshot of it is in use.
type Snapshot struct {
	X           *sparse.CSR
	fingerprint uint64
}

// Snap hashes X once.
func Snap(X *sparse.CSR) Snapshot {
	return Snapshot{X: X, fingerprint: X.Fingerprint()}
}

// Key builds the key of an aggregate of the snapshot.
func (s Snapshot) Key(kind AggregateKind, version uint64) CacheKey {
	r, c := s.X.Dims()
	return CacheKey{Fingerprint: s.fingerprint, Rows: r, Cols: c, Kind: kind, Version: version}
}

// KeyFor builds the key of an aggregate of X as it is now.
func KeyFor(X *sparse.CSR, kind AggregateKind, version uint64) CacheKey {
	return Snap(X).Key(kind, version)
}

// ColStats holds per-column aggregates used by the coordinate sweep.
type ColStats struct {
	// Count is the number of stored entries per column.
	Count []int
	// SqNorm is ‖x_j‖² per column.
	SqNorm []float64
}

// Cache memoizes per-matrix aggregates in a capacity bounded LRU store.
// Entries never expire; a disabled cache computes on every lookup.
type Cache struct {
	enabled bool
	store   *ttlcache.Cache[CacheKey, any]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCache returns a cache holding at most capacity entries.
func NewCache(capacity int, enabled bool) *Cache {
	c := &Cache{enabled: enabled}
	if enabled {
		c.store = ttlcache.New[CacheKey, any](
			ttlcache.WithCapacity[CacheKey, any](uint64(capacity)),
			ttlcache.WithTTL[CacheKey, any](ttlcache.NoTTL),
		)
	}
	return c
}

// GetOrCompute returns the entry for key, calling compute on a miss.
func (c *Cache) GetOrCompute(key CacheKey, compute func() any) any {
	if c.enabled {
		if item := c.store.Get(key); item != nil {
			c.hits.Add(1)
			return item.Value()
		}
	}
	c.misses.Add(1)
	v := compute()
	if c.enabled {
		c.store.Set(key, v, ttlcache.NoTTL)
	}
	return v
}

// CSC returns the column-major view of the matrix.
func (c *Cache) CSC(s Snapshot) *sparse.CSC {
	return c.GetOrCompute(s.Key(KindCSC, 0), func() any {
		return s.X.ToCSC()
	}).(*sparse.CSC)
}

// Squared returns the matrix with every stored value squared.
func (c *Cache) Squared(s Snapshot) *sparse.CSR {
	return c.GetOrCompute(s.Key(KindSqData, 0), func() any {
		return s.X.Squared()
	}).(*sparse.CSR)
}

// ColStats returns the per-column aggregates of the matrix.
func (c *Cache) ColStats(s Snapshot) ColStats {
	return c.GetOrCompute(s.Key(KindColStats, 0), func() any {
		csc := c.CSC(s)
		_, d := csc.Dims()
		st := ColStats{Count: make([]int, d), SqNorm: make([]float64, d)}
		for j := 0; j < d; j++ {
			_, vals := csc.Col(j)
			st.Count[j] = len(vals)
			for _, v := range vals {
				st.SqNorm[j] += v * v
			}
		}
		return st
	}).(ColStats)
}

// Atom returns the feature vector of atom id on the matrix. The slice is
// shared and must not be modified.
func (c *Cache) Atom(s Snapshot, id uint64, u []float64) []float64 {
	return c.GetOrCompute(s.Key(KindAtom, id), func() any {
		return AtomFeature(nil, u, s.X)
	}).([]float64)
}

// EvictAtom drops the feature vector of atom id on the matrix.
func (c *Cache) EvictAtom(s Snapshot, id uint64) {
	if c.enabled {
		c.store.Delete(s.Key(KindAtom, id))
	}
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	if !c.enabled {
		return 0
	}
	return c.store.Len()
}

// Clear drops every entry and resets the counters.
func (c *Cache) Clear() {
	if c.enabled {
		c.store.DeleteAll()
	}
	c.hits.Store(0)
	c.misses.Store(0)
}

// Stats returns the hit and miss counts since the last Clear.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Enabled reports whether entries are stored.
func (c *Cache) Enabled() bool { return c.enabled }
