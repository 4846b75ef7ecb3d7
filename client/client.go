// Package client implements blocking calls to a service queue over a broker.
//
// A Client publishes each request with a fresh correlation id and its private
// reply queue attached, then blocks the caller until the reply bearing that id
// arrives. Any number of goroutines may call concurrently over one session: a
// single reader goroutine drains the reply queue and the correlation registry
// routes every reply to the caller waiting for it.
//
//	goroutine-1 ──Call(id=a)──┐
//	goroutine-2 ──Call(id=b)──┼──→ Publish(queue, replyTo, id) ──→ broker ──→ worker
//	goroutine-3 ──Call(id=c)──┘
//
//	readLoop: ←── reply(id=b) → registry.Complete(b) → goroutine-2 wakes up
package client

import (
	"context"
	"mqrpc/codec"
	"mqrpc/correlation"
	"mqrpc/metrics"
	"mqrpc/rpcerr"
	"mqrpc/transport"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Client issues calls to one service queue.
type Client struct {
	sess        transport.Session
	ownsSession bool
	queue       string
	reply       *replySubscription
	pending     *correlation.Registry

	codec   codec.Codec
	timeout time.Duration
	newID   func() string
	logger  *zap.Logger
	metrics *metrics.Client

	ctx       context.Context
	cancel    context.CancelFunc
	closing   atomic.Bool
	closeOnce sync.Once
	readDone  chan struct{}
	readErr   error // set before readDone is closed
}

// New creates a client calling queue over sess. It declares the reply queue
// and starts draining it. The caller keeps ownership of sess.
func New(ctx context.Context, sess transport.Session, queue string, opts ...Option) (*Client, error) {
	return newClient(ctx, sess, queue, buildOptions(opts))
}

func newClient(ctx context.Context, sess transport.Session, queue string, o options) (*Client, error) {
	if queue == "" {
		return nil, errors.New("client: empty service queue")
	}
	c := &Client{
		sess:     sess,
		queue:    queue,
		pending:  correlation.NewRegistry(),
		codec:    o.codec,
		timeout:  o.timeout,
		newID:    o.newID,
		logger:   o.logger.With(zap.String("queue", queue)),
		metrics:  o.metrics,
		readDone: make(chan struct{}),
	}

	reply, err := subscribe(ctx, sess, c.onReply)
	if err != nil {
		return nil, errors.Wrap(err, "client: subscribe reply queue")
	}
	c.reply = reply

	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.readLoop()

	c.logger.Debug("client ready", zap.String("reply_to", reply.queue))
	return c, nil
}

// ReplyQueue returns the name of the private queue replies arrive on.
func (c *Client) ReplyQueue() string {
	return c.reply.queue
}

// Queue returns the service queue requests are published to.
func (c *Client) Queue() string {
	return c.queue
}

// Call encodes payload, publishes it and blocks until the matching reply
// arrives. It returns the reply body, which is empty but non-nil for an empty
// reply. Without a deadline on ctx the client's timeout applies.
func (c *Client) Call(ctx context.Context, payload any) ([]byte, error) {
	call, err := c.Go(ctx, payload)
	if err != nil {
		return nil, err
	}
	return c.Wait(ctx, call)
}

// CallRaw is Call with an already encoded payload.
func (c *Client) CallRaw(ctx context.Context, body []byte) ([]byte, error) {
	call, err := c.GoRaw(ctx, body)
	if err != nil {
		return nil, err
	}
	return c.Wait(ctx, call)
}

// Go encodes and publishes payload without waiting for the reply.
// The returned call must be passed to Wait or Cancel.
func (c *Client) Go(ctx context.Context, payload any) (*correlation.Call, error) {
	body, err := c.codec.Encode(payload)
	if err != nil {
		return nil, errors.Wrap(err, "client: encode payload")
	}
	return c.GoRaw(ctx, body)
}

// GoRaw is Go with an already encoded payload.
func (c *Client) GoRaw(ctx context.Context, body []byte) (*correlation.Call, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	id := c.newID()
	call, err := c.pending.Register(id)
	if err != nil {
		c.metrics.Calls.WithLabelValues(c.queue, metrics.OutcomeError).Inc()
		return nil, err
	}
	c.metrics.Pending.Set(float64(c.pending.Len()))

	err = c.sess.Publish(ctx, transport.Publishing{
		RoutingKey:    c.queue,
		CorrelationID: id,
		ReplyTo:       c.reply.queue,
		ContentType:   c.codec.ContentType(),
		Body:          body,
	})
	if err != nil {
		c.release(call)
		err = c.contextErr(ctx, id, err)
		c.metrics.ObserveCall(c.queue, outcome(err), call.Started)
		return nil, err
	}
	return call, nil
}

// Wait blocks until call is answered, ctx ends or the client's connection
// fails, and stops tracking the call. Without a deadline on ctx the client's
// timeout applies.
func (c *Client) Wait(ctx context.Context, call *correlation.Call) ([]byte, error) {
	defer c.release(call)

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var (
		body []byte
		err  error
	)
	select {
	case <-call.Done():
		body, err = call.Result()
	case <-ctx.Done():
		err = c.contextErr(ctx, call.ID, ctx.Err())
	case <-c.readDone:
		if call.Filled() {
			body, err = call.Result()
		} else {
			err = c.readErr
		}
	}

	c.metrics.ObserveCall(c.queue, outcome(err), call.Started)
	if err != nil {
		c.logger.Debug("call failed", zap.String("correlation_id", call.ID), zap.Error(err))
		return nil, err
	}
	return body, nil
}

// Cancel withdraws interest in call. A pending Wait returns ErrCallCancelled
// and a reply arriving later is dropped.
func (c *Client) Cancel(call *correlation.Call) bool {
	return c.pending.Cancel(call.ID)
}

// Pending returns the number of calls waiting for a reply.
func (c *Client) Pending() int {
	return c.pending.Len()
}

// Close stops draining replies and fails every pending call with
// ErrClientClosed. A session opened by Dial or DialURL is closed too.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.cancel()
		<-c.readDone
		if c.ownsSession {
			err = c.sess.Close()
		}
	})
	return err
}

func (c *Client) checkOpen() error {
	if c.closing.Load() {
		return rpcerr.ErrClientClosed
	}
	select {
	case <-c.readDone:
		return c.readErr
	default:
		return nil
	}
}

// release stops tracking call; safe to call more than once.
func (c *Client) release(call *correlation.Call) {
	c.pending.Unregister(call.ID)
	c.metrics.Pending.Set(float64(c.pending.Len()))
}

func (c *Client) onReply(d transport.Delivery) {
	if c.pending.Complete(d.CorrelationID, d.Body) {
		return
	}
	c.metrics.DroppedReplies.Inc()
	c.logger.Debug("dropping reply", zap.String("correlation_id", d.CorrelationID))
}

// readLoop drives the session until the client closes or the connection fails.
func (c *Client) readLoop() {
	defer close(c.readDone)

	err := c.sess.RunUntil(c.ctx, c.closing.Load)
	if c.closing.Load() {
		err = rpcerr.ErrClientClosed
	} else {
		switch {
		case err == nil:
			err = rpcerr.Transport("connection", transport.ErrSessionClosed)
		case !errors.Is(err, rpcerr.ErrTransportFailure):
			err = rpcerr.Transport("receive", err)
		}
		c.logger.Error("reply loop stopped", zap.Error(err))
	}
	c.readErr = err
	if n := c.pending.FailAll(err); n > 0 {
		c.logger.Warn("failed pending calls", zap.Int("count", n), zap.Error(err))
	}
}

// contextErr maps ctx ending into the call failure taxonomy. Other errors are
// returned unchanged.
func (c *Client) contextErr(ctx context.Context, id string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.Wrapf(rpcerr.ErrCallTimedOut, "call %s to %s", id, c.queue)
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return errors.Wrapf(rpcerr.ErrCallCancelled, "call %s to %s", id, c.queue)
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, rpcerr.ErrCallTimedOut):
		return metrics.OutcomeTimeout
	case errors.Is(err, rpcerr.ErrCallCancelled):
		return metrics.OutcomeCancelled
	case errors.Is(err, rpcerr.ErrTransportFailure):
		return metrics.OutcomeTransport
	}
	return metrics.OutcomeError
}
