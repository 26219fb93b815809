// Package streams multiplexes the captured output of every live node
// into the aggregate console stream.
//
// Ownership boundary:
// - the supervisor registers a stream when it spawns a node
// - the multiplexer reads, labels and deregisters streams
// - neither the registry nor the multiplexer may terminate a process
package streams

import (
	"os"
	"sync"
)

// ExitStatus is the read-only exit view of a process.
type ExitStatus interface {
	ExitStatus() (code int, exited bool)
}

// Registration binds an output stream to its owning node.
type Registration struct {
	ID     uint64
	Node   string
	Label  string
	Stream *os.File
	Exit   ExitStatus
}

// Registry is the live stream set shared by the supervisor (writer) and
// the multiplexer (reader). Readers work on snapshots so membership can
// change between polling cycles without tearing.
type Registry struct {
	mu      sync.RWMutex
	nextID  uint64
	entries map[uint64]*Registration
	order   []uint64

	startOnce sync.Once
	started   chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[uint64]*Registration),
		started: make(chan struct{}),
	}
}

// Add registers a stream and returns its id.
func (r *Registry) Add(node, label string, stream *os.File, exit ExitStatus) uint64 {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.entries[id] = &Registration{ID: id, Node: node, Label: label, Stream: stream, Exit: exit}
	r.order = append(r.order, id)
	r.mu.Unlock()

	r.startOnce.Do(func() { close(r.started) })
	return id
}

// Remove deregisters a stream. Unknown ids are ignored.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return
	}
	delete(r.entries, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns the current registrations in registration order.
func (r *Registry) Snapshot() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Registration, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Started is closed by the first Add.
func (r *Registry) Started() <-chan struct{} {
	return r.started
}
