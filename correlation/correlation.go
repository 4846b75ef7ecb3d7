// Package correlation matches replies to outstanding calls.
//
// Each outstanding call is registered under its correlation id before the
// request is published. The reply consumer hands every delivery to Complete,
// which fills only the call tracked under the delivery's id:
//
//	goroutine-1 ──Register(a)──┐
//	goroutine-2 ──Register(b)──┼──→ Registry{a, b, c}
//	goroutine-3 ──Register(c)──┘
//
//	reply loop:  ←── delivery(id=b) → Complete(b) → call b's Done() closes → goroutine-2 wakes up
//
// Deliveries for ids that are not tracked (stale replies after a timeout,
// replies meant for someone else) are dropped.
package correlation

import (
	"mqrpc/rpcerr"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Call is one outstanding request and its single-assignment reply slot.
type Call struct {
	ID      string
	Started time.Time

	once sync.Once
	done chan struct{}
	body []byte
	err  error
}

func newCall(id string) *Call {
	return &Call{ID: id, Started: time.Now(), done: make(chan struct{})}
}

// fill sets the slot. Only the first fill has effect.
func (c *Call) fill(body []byte, err error) bool {
	filled := false
	c.once.Do(func() {
		if err == nil && body == nil {
			body = []byte{}
		}
		c.body, c.err = body, err
		filled = true
		close(c.done)
	})
	return filled
}

// Done is closed once the reply slot is filled.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Filled reports whether the reply slot has been filled.
func (c *Call) Filled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Result returns the reply or the failure of a filled call.
// It must only be called after Done is closed.
func (c *Call) Result() ([]byte, error) {
	return c.body, c.err
}

// Registry tracks outstanding calls by correlation id. It is safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	calls map[string]*Call
}

func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]*Call)}
}

// Register tracks a new call with an empty reply slot.
func (r *Registry) Register(id string) (*Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.calls[id]; ok {
		return nil, errors.Wrapf(rpcerr.ErrDuplicateCorrelationID, "correlation id %q", id)
	}
	call := newCall(id)
	r.calls[id] = call
	return call, nil
}

// Complete fills the call tracked under id with body. It reports false when id
// is unknown or the call was already filled; such deliveries are dropped.
func (r *Registry) Complete(id string, body []byte) bool {
	call := r.lookup(id)
	if call == nil {
		return false
	}
	return call.fill(body, nil)
}

// Cancel fails the call tracked under id with ErrCallCancelled and stops tracking it.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	call, ok := r.calls[id]
	delete(r.calls, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	return call.fill(nil, errors.Wrapf(rpcerr.ErrCallCancelled, "correlation id %q", id))
}

// Unregister stops tracking id. Later deliveries for it are dropped.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.calls, id)
	r.mu.Unlock()
}

// FailAll fills every tracked call with err and clears the registry.
// Used when the connection breaks so no caller waits forever.
func (r *Registry) FailAll(err error) int {
	r.mu.Lock()
	calls := r.calls
	r.calls = make(map[string]*Call)
	r.mu.Unlock()

	n := 0
	for _, call := range calls {
		if call.fill(nil, err) {
			n++
		}
	}
	return n
}

// Len returns the number of tracked calls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *Registry) lookup(id string) *Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}
