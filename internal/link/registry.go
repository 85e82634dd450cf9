package link

import (
	"sync"
	"time"
)

// PendingRequest is a request waiting for its response
type PendingRequest struct {
	Kind      RequestKind
	ID        uint32
	CreatedAt time.Time
	Timeout   time.Duration

	timer *time.Timer
	// set under the registry lock by whichever of Resolve and the timer gets there first
	done bool
}

// Deadline returns when the request times out
func (p *PendingRequest) Deadline() time.Time {
	return p.CreatedAt.Add(p.Timeout)
}

// TimeoutFunc is called once for every request that expires unanswered.
// It runs on the timer goroutine without the registry lock held.
type TimeoutFunc func(req PendingRequest)

// Registry tracks outstanding requests. Duplicate IDs are allowed; a response
// resolves the oldest matching entry.
type Registry struct {
	mu        sync.Mutex
	entries   []*PendingRequest
	onTimeout TimeoutFunc
}

// NewRegistry creates an empty registry
func NewRegistry(onTimeout TimeoutFunc) *Registry {
	return &Registry{onTimeout: onTimeout}
}

// Send records a request and arms its timeout
func (r *Registry) Send(kind RequestKind, id uint32, timeout time.Duration) *PendingRequest {
	req := &PendingRequest{
		Kind:      kind,
		ID:        id,
		CreatedAt: time.Now(),
		Timeout:   timeout,
	}

	r.mu.Lock()
	r.entries = append(r.entries, req)
	req.timer = time.AfterFunc(timeout, func() { r.expire(req) })
	r.mu.Unlock()

	return req
}

// Resolve removes the first entry matching kind and id and cancels its timeout.
// It returns false if no such entry is pending.
func (r *Registry) Resolve(kind RequestKind, id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, req := range r.entries {
		if req.Kind != kind || req.ID != id {
			continue
		}
		req.done = true
		req.timer.Stop()
		r.removeAt(i)
		return true
	}
	return false
}

func (r *Registry) expire(req *PendingRequest) {
	r.mu.Lock()
	if req.done {
		r.mu.Unlock()
		return
	}
	req.done = true
	for i, e := range r.entries {
		if e == req {
			r.removeAt(i)
			break
		}
	}
	snapshot := *req
	r.mu.Unlock()

	if r.onTimeout != nil {
		r.onTimeout(snapshot)
	}
}

func (r *Registry) removeAt(i int) {
	copy(r.entries[i:], r.entries[i+1:])
	r.entries[len(r.entries)-1] = nil
	r.entries = r.entries[:len(r.entries)-1]
}

// Len returns the number of pending requests
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Count returns how many entries are pending for kind and id
func (r *Registry) Count(kind RequestKind, id uint32) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, req := range r.entries {
		if req.Kind == kind && req.ID == id {
			n++
		}
	}
	return n
}

// Snapshot returns copies of the pending entries in insertion order
func (r *Registry) Snapshot() []PendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingRequest, len(r.entries))
	for i, req := range r.entries {
		out[i] = *req
		out[i].timer = nil
	}
	return out
}

// Close cancels every pending timeout without invoking the callback
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.entries {
		req.done = true
		req.timer.Stop()
	}
	r.entries = nil
}
