package reader

import (
	"fmt"
	"sync"

	"github.com/archivemount/archivemount/lib/archivefmt"
	"github.com/archivemount/archivemount/lib/sidebuffer"
)

// entry is one cached Reader plus its LRU bookkeeping.
type entry struct {
	r        *Reader
	priority uint64
}

// Cache is the fixed-size LRU of up to M Readers described by spec
// §4.4. It also owns the recipe for opening a fresh decompression
// stream when no cached Reader is a usable predecessor.
type Cache struct {
	mu sync.Mutex

	opener     archivefmt.Opener
	passphrase string
	pool       *sidebuffer.Pool

	capacity int
	entries  []entry
	nextPri  uint64
}

// New builds an empty Reader cache of the given capacity (spec's M,
// default 8). opener and passphrase describe how to open a fresh
// stream; pool backs every Reader's AdvanceOffset calls.
func New(opener archivefmt.Opener, passphrase string, pool *sidebuffer.Pool, capacity int) *Cache {
	return &Cache{opener: opener, passphrase: passphrase, pool: pool, capacity: capacity}
}

// Acquire selects, removes, and repositions a Reader for targetIndex,
// per spec §4.4: the cached Reader whose (index, offset) is the
// closest predecessor at offset zero or earlier wins; if none
// qualifies, a fresh stream is opened instead. In both cases the
// returned Reader has already had AdvanceIndex(targetIndex) applied.
// Returns nil on any failure ("no Reader"), per spec.
func (c *Cache) Acquire(targetIndex int) *Reader {
	c.mu.Lock()
	best := -1
	for i, e := range c.entries {
		if e.r.Index() > targetIndex {
			continue
		}
		if e.r.Index() == targetIndex && e.r.Offset() > 0 {
			continue
		}
		if best == -1 || betterPredecessor(e.r, c.entries[best].r) {
			best = i
		}
	}

	var r *Reader
	if best >= 0 {
		r = c.entries[best].r
		c.entries = append(c.entries[:best], c.entries[best+1:]...)
	}
	c.mu.Unlock()

	if r == nil {
		fresh, err := c.openFresh()
		if err != nil {
			return nil
		}
		r = fresh
	}

	if err := r.AdvanceIndex(targetIndex); err != nil {
		r.Close()
		return nil
	}
	return r
}

// betterPredecessor reports whether a is a closer predecessor than b:
// maximum (index, offset) wins, tie-broken by index then offset —
// which is automatically satisfied by comparing the pair
// lexicographically.
func betterPredecessor(a, b *Reader) bool {
	if a.Index() != b.Index() {
		return a.Index() > b.Index()
	}
	return a.Offset() > b.Offset()
}

// openFresh opens a brand-new decompression stream over the archive,
// per spec §4.4's "fresh-stream open path": a fresh Provider with the
// captured passphrase (if any) registered, positioned before the
// first header.
func (c *Cache) openFresh() (*Reader, error) {
	provider, err := c.opener.Open(c.passphrase)
	if err != nil {
		return nil, fmt.Errorf("opening fresh decompression stream: %w", err)
	}
	return New(provider, c.passphrase, c.pool), nil
}

// Release inserts reader into the cache, evicting the lowest-priority
// entry if the cache is at capacity, and assigns reader the newest
// (highest) LRU priority.
func (c *Cache) Release(r *Reader) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextPri++

	if len(c.entries) >= c.capacity {
		lowest := 0
		for i := 1; i < len(c.entries); i++ {
			if c.entries[i].priority < c.entries[lowest].priority {
				lowest = i
			}
		}
		c.entries[lowest].r.Close()
		c.entries = append(c.entries[:lowest], c.entries[lowest+1:]...)
	}

	c.entries = append(c.entries, entry{r: r, priority: c.nextPri})
}

// CloseAll releases every cached Reader's resources. Called once at
// unmount.
func (c *Cache) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.r.Close()
	}
	c.entries = nil
}
