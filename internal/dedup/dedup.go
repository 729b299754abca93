// Package dedup guards a node against processing the same logical
// message twice. It must be consulted before any side-effecting action
// (backend call, state mutation, forwarding).
package dedup

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/avlonitis/synapse/internal/bus"
)

const (
	// DefaultCapacity bounds the remembered id set; the oldest id is
	// evicted on overflow.
	DefaultCapacity = 512

	// DefaultWindow is the sender+content fallback window used while id
	// uniqueness cannot be guaranteed.
	DefaultWindow = 500 * time.Millisecond
)

// Guard is a per-node duplicate detector: a bounded FIFO set of seen
// message ids, plus a short TTL window that catches retransmissions of
// the same content from the same sender under a different id.
type Guard struct {
	mu    sync.Mutex
	cap   int
	ids   map[string]bool
	order []string
	window *gocache.Cache
}

func New() *Guard {
	return NewWith(DefaultCapacity, DefaultWindow)
}

func NewWith(capacity int, window time.Duration) *Guard {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard{
		cap:    capacity,
		ids:    make(map[string]bool, capacity),
		window: gocache.New(window, time.Minute),
	}
}

// Seen reports whether msg is a duplicate and records it otherwise.
// A message is duplicate when its id was already seen, or when the same
// sender produced identical content inside the fallback window.
func (g *Guard) Seen(msg bus.Message) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if msg.ID != "" {
		if g.ids[msg.ID] {
			return true
		}
		g.remember(msg.ID)
	}

	key := msg.SenderID + "\x00" + msg.Content
	if _, dup := g.window.Get(key); dup {
		return true
	}
	g.window.SetDefault(key, struct{}{})
	return false
}

func (g *Guard) remember(id string) {
	if len(g.order) >= g.cap {
		oldest := g.order[0]
		g.order = g.order[1:]
		delete(g.ids, oldest)
	}
	g.ids[id] = true
	g.order = append(g.order, id)
}

// Len reports how many ids are currently remembered.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids)
}
