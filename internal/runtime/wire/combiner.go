package wire

import (
	"sync"
	"time"
)

// DefaultFragmentTTL is how long partial fragment sets are retained before
// being discarded. Refreshed every time a new chunk for the message arrives.
const DefaultFragmentTTL = 5 * time.Second

type fragmentSet struct {
	total     int
	chunks    map[int][]byte
	expiresAt time.Time
}

// Combiner reassembles events that arrive split across multiple frames.
// The receive loop is the only writer but the combiner keeps its own mutex
// so ownership can move between reconnect generations safely.
type Combiner struct {
	ttl time.Duration

	mu        sync.Mutex
	fragments map[string]*fragmentSet
	now       func() time.Time
}

// NewCombiner builds a combiner. A non-positive ttl selects the default.
func NewCombiner(ttl time.Duration) *Combiner {
	if ttl <= 0 {
		ttl = DefaultFragmentTTL
	}
	return &Combiner{
		ttl:       ttl,
		fragments: make(map[string]*fragmentSet),
		now:       time.Now,
	}
}

// Append records one chunk of messageID and returns the merged payload once
// every chunk from 0 through total-1 has arrived. Until then it returns nil.
// Chunks with a sequence outside that range are dropped so a stray frame
// cannot complete a set with holes in it. Stale partial sets are swept
// lazily on each call.
func (c *Combiner) Append(messageID string, payload []byte, total, seq int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.cleanup(now)

	if seq < 0 || seq >= total {
		return nil
	}

	frag, ok := c.fragments[messageID]
	if !ok {
		frag = &fragmentSet{total: total, chunks: make(map[int][]byte, total)}
		c.fragments[messageID] = frag
	}
	frag.chunks[seq] = payload
	frag.expiresAt = now.Add(c.ttl)

	if len(frag.chunks) < frag.total {
		return nil
	}

	delete(c.fragments, messageID)
	size := 0
	for i := 0; i < frag.total; i++ {
		size += len(frag.chunks[i])
	}
	if size == 0 {
		return nil
	}
	merged := make([]byte, 0, size)
	for i := 0; i < frag.total; i++ {
		merged = append(merged, frag.chunks[i]...)
	}
	return merged
}

// Pending reports how many partial messages are currently buffered.
func (c *Combiner) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fragments)
}

func (c *Combiner) cleanup(now time.Time) {
	for id, frag := range c.fragments {
		if now.After(frag.expiresAt) {
			delete(c.fragments, id)
		}
	}
}
