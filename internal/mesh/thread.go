package mesh

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Thread states. Resolved and Failed are terminal; a new user message on
// the same endpoints starts a fresh thread rather than retrying.
type ThreadState string

const (
	StateCreated    ThreadState = "CREATED"
	StateInProgress ThreadState = "IN_PROGRESS"
	StateResolved   ThreadState = "RESOLVED"
	StateFailed     ThreadState = "FAILED"
)

// Thread is the accumulating record of one request's lifecycle across
// every node that touches it. History is append-only; each entry is one
// hop's contribution, so any node on the path can reconstruct full
// context without shared storage.
type Thread struct {
	Key       string      `json:"key"`
	Requester string      `json:"requester"`
	State     ThreadState `json:"state"`
	History   []string    `json:"history"`
	Failures  int         `json:"failures"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (t *Thread) terminal() bool {
	return t.State == StateResolved || t.State == StateFailed
}

// ThreadKey derives the canonical key for a pair of endpoints: the sorted
// pair joined with "|", so both ends compute the same key.
func ThreadKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

type threadTable struct {
	mu      sync.Mutex
	threads map[string]*Thread
}

func newThreadTable() *threadTable {
	return &threadTable{threads: make(map[string]*Thread)}
}

// open returns the live thread for key, creating a fresh one when none
// exists or the existing one is terminal.
func (tt *threadTable) open(key, requester string) *Thread {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	t, ok := tt.threads[key]
	if !ok || t.terminal() {
		t = &Thread{
			Key:       key,
			Requester: requester,
			State:     StateCreated,
			UpdatedAt: time.Now(),
		}
		tt.threads[key] = t
	}
	return t
}

func (tt *threadTable) get(key string) (*Thread, bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	t, ok := tt.threads[key]
	return t, ok
}

func (tt *threadTable) update(key string, fn func(*Thread)) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if t, ok := tt.threads[key]; ok {
		fn(t)
		t.UpdatedAt = time.Now()
	}
}

func (tt *threadTable) list() []Thread {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	out := make([]Thread, 0, len(tt.threads))
	for _, t := range tt.threads {
		cp := *t
		cp.History = append([]string(nil), t.History...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
