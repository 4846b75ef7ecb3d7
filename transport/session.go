// Package transport owns the broker connection a client or worker talks through.
//
// A Session gives the layers above publish and consume primitives over named
// queues. Publishing never waits for a reply. Inbound deliveries are queued by
// the session and handed to their consumer's Handler only inside RunUntil, so
// handlers of one session always run on the goroutine driving RunUntil:
//
//	broker ──deliveries──→ inbox ──RunUntil──→ Handler(d)
//
// Two implementations exist: AMQPSession talks AMQP 0-9-1 to a RabbitMQ-like
// broker, MemoryBroker keeps queues in process.
package transport

import (
	"context"
	"mqrpc/rpcerr"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

var (
	// ErrConcurrentRun is returned when RunUntil is entered while already running.
	ErrConcurrentRun = errors.New("transport: RunUntil already running on this session")

	// ErrSessionClosed is the cause reported once a session has been closed.
	ErrSessionClosed = errors.New("transport: session closed")

	// ErrReplyQueueTaken is the cause reported when a second reply queue is
	// declared on a session.
	ErrReplyQueueTaken = errors.New("transport: session already has a reply queue")
)

// Publishing is an outbound message on the default exchange.
type Publishing struct {
	RoutingKey    string // destination queue
	CorrelationID string
	ReplyTo       string
	ContentType   string
	Body          []byte
}

// Delivery is an inbound message.
type Delivery struct {
	Queue         string
	CorrelationID string
	ReplyTo       string
	ContentType   string
	Body          []byte
}

// Handler receives deliveries for one consumer.
type Handler func(Delivery)

// Session is a connection plus channel to a broker.
type Session interface {
	// DeclareQueue declares a shared named queue and returns its name.
	DeclareQueue(ctx context.Context, name string) (string, error)

	// DeclareExclusiveQueue declares a private, broker-named queue that only
	// this session may consume and that disappears with the session.
	DeclareExclusiveQueue(ctx context.Context) (string, error)

	// DeclareReplyQueue declares the exclusive queue replies to this session
	// arrive on. A session has at most one; later calls fail with a
	// TransportError caused by ErrReplyQueueTaken.
	DeclareReplyQueue(ctx context.Context) (string, error)

	// Consume registers h for every message delivered to queue. Messages are
	// acknowledged automatically.
	Consume(queue string, h Handler) error

	// Publish sends p to the queue named by p.RoutingKey. Messages to queues
	// that do not exist are dropped by the broker.
	Publish(ctx context.Context, p Publishing) error

	// RunUntil hands queued deliveries to their handlers until done reports
	// true, ctx ends or the session closes. It returns nil when done reported
	// true. A nil done runs until ctx ends or the session closes.
	RunUntil(ctx context.Context, done func() bool) error

	// Close releases the channel and connection.
	Close() error
}

type inbound struct {
	h Handler
	d Delivery
}

// loop is the delivery inbox shared by the Session implementations.
type loop struct {
	running atomic.Bool
	claimed atomic.Bool // reply queue declared
	inbox   chan inbound

	closeOnce sync.Once
	closed    chan struct{}
	err       error // cause of closing, set before closed is closed
}

func newLoop(prefetch int) *loop {
	if prefetch < 1 {
		prefetch = 1
	}
	return &loop{
		inbox:  make(chan inbound, prefetch),
		closed: make(chan struct{}),
	}
}

// deliver queues d for h; false once the session is closed.
func (l *loop) deliver(h Handler, d Delivery) bool {
	select {
	case l.inbox <- inbound{h: h, d: d}:
		return true
	case <-l.closed:
		return false
	}
}

// shut closes the loop. A nil cause means an orderly close.
func (l *loop) shut(cause error) {
	l.closeOnce.Do(func() {
		l.err = cause
		close(l.closed)
	})
}

// claim reserves the session's reply queue.
func (l *loop) claim() error {
	if !l.claimed.CompareAndSwap(false, true) {
		return rpcerr.Transport("declare", ErrReplyQueueTaken)
	}
	return nil
}

func (l *loop) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// closedErr is the TransportError describing why the loop closed.
func (l *loop) closedErr() error {
	if l.err != nil {
		return rpcerr.Transport("connection", l.err)
	}
	return rpcerr.Transport("connection", ErrSessionClosed)
}

func (l *loop) runUntil(ctx context.Context, done func() bool) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrConcurrentRun
	}
	defer l.running.Store(false)

	for {
		if done != nil && done() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.closed:
			return l.closedErr()
		case in := <-l.inbox:
			in.h(in.d)
		}
	}
}
