package transport

import (
	"context"
	"fmt"
	"mqrpc/rpcerr"
	"sync"

	"github.com/pkg/errors"
)

// MemoryBroker is an in-process broker with named queues and the default
// exchange only. Consumers of a shared queue compete for its messages.
type MemoryBroker struct {
	mu       sync.Mutex
	queues   map[string]*memQueue
	seq      int
	capacity int
}

type memQueue struct {
	name  string
	ch    chan Delivery
	owner *MemorySession // non-nil for exclusive queues
	gone  chan struct{}
}

// NewMemoryBroker creates a broker whose queues buffer up to 1024 messages.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues:   make(map[string]*memQueue),
		capacity: 1024,
	}
}

// Dial opens a session on the broker. prefetch bounds how many deliveries the
// session takes off its queues before they are handled.
func (b *MemoryBroker) Dial(prefetch int) *MemorySession {
	return &MemorySession{
		broker: b,
		loop:   newLoop(prefetch),
	}
}

// QueueLen returns the number of messages waiting in queue, -1 if it does not exist.
func (b *MemoryBroker) QueueLen(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return -1
	}
	return len(q.ch)
}

func (b *MemoryBroker) declare(name string, owner *MemorySession) (*memQueue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if name == "" {
		b.seq++
		name = fmt.Sprintf("amq.gen-%d", b.seq)
	}
	if q, ok := b.queues[name]; ok {
		if q.owner != owner {
			return nil, errors.Errorf("queue %q is exclusive to another session", name)
		}
		return q, nil
	}
	q := &memQueue{
		name:  name,
		ch:    make(chan Delivery, b.capacity),
		owner: owner,
		gone:  make(chan struct{}),
	}
	b.queues[name] = q
	return q, nil
}

func (b *MemoryBroker) queue(name string) *memQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queues[name]
}

func (b *MemoryBroker) dropOwned(owner *MemorySession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, q := range b.queues {
		if q.owner == owner {
			delete(b.queues, name)
			close(q.gone)
		}
	}
}

// MemorySession is a Session on a MemoryBroker.
type MemorySession struct {
	broker *MemoryBroker
	*loop
	wg sync.WaitGroup
}

var _ Session = (*MemorySession)(nil)

func (s *MemorySession) DeclareQueue(ctx context.Context, name string) (string, error) {
	if s.isClosed() {
		return "", s.closedErr()
	}
	if name == "" {
		return "", rpcerr.Transport("declare", errors.New("empty queue name"))
	}
	q, err := s.broker.declare(name, nil)
	if err != nil {
		return "", rpcerr.Transport("declare", err)
	}
	return q.name, nil
}

func (s *MemorySession) DeclareExclusiveQueue(ctx context.Context) (string, error) {
	if s.isClosed() {
		return "", s.closedErr()
	}
	q, err := s.broker.declare("", s)
	if err != nil {
		return "", rpcerr.Transport("declare", err)
	}
	return q.name, nil
}

func (s *MemorySession) DeclareReplyQueue(ctx context.Context) (string, error) {
	if err := s.claim(); err != nil {
		return "", err
	}
	queue, err := s.DeclareExclusiveQueue(ctx)
	if err != nil {
		s.claimed.Store(false)
		return "", err
	}
	return queue, nil
}

func (s *MemorySession) Consume(queue string, h Handler) error {
	if s.isClosed() {
		return s.closedErr()
	}
	q := s.broker.queue(queue)
	if q == nil {
		return rpcerr.Transport("consume", errors.Errorf("no queue %q", queue))
	}
	if q.owner != nil && q.owner != s {
		return rpcerr.Transport("consume", errors.Errorf("queue %q is exclusive to another session", queue))
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case d := <-q.ch:
				if !s.deliver(h, d) {
					return
				}
			case <-q.gone:
				return
			case <-s.closed:
				return
			}
		}
	}()
	return nil
}

func (s *MemorySession) Publish(ctx context.Context, p Publishing) error {
	if s.isClosed() {
		return s.closedErr()
	}
	q := s.broker.queue(p.RoutingKey)
	if q == nil {
		// unroutable: dropped like the default exchange does
		return nil
	}
	d := Delivery{
		Queue:         q.name,
		CorrelationID: p.CorrelationID,
		ReplyTo:       p.ReplyTo,
		ContentType:   p.ContentType,
		Body:          append([]byte(nil), p.Body...),
	}
	select {
	case q.ch <- d:
		return nil
	case <-q.gone:
		return nil
	case <-s.closed:
		return s.closedErr()
	case <-ctx.Done():
		return rpcerr.Transport("publish", ctx.Err())
	}
}

func (s *MemorySession) RunUntil(ctx context.Context, done func() bool) error {
	return s.runUntil(ctx, done)
}

// Close closes the session and deletes its exclusive queues.
func (s *MemorySession) Close() error {
	return s.Kill(nil)
}

// Kill closes the session as if the connection broke with cause.
// RunUntil and later operations report a TransportError wrapping cause.
func (s *MemorySession) Kill(cause error) error {
	s.shut(cause)
	s.broker.dropOwned(s)
	s.wg.Wait()
	return nil
}
