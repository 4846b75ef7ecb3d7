package transport

import (
	"context"
	"mqrpc/rpcerr"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPSession is a Session over one AMQP connection and one channel on it.
type AMQPSession struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	*loop

	// The channel is shared by publishing goroutines; whole publish frames
	// must not interleave.
	sending sync.Mutex

	mu        sync.Mutex
	exclusive map[string]bool

	logger *zap.Logger
}

var _ Session = (*AMQPSession)(nil)

type amqpOptions struct {
	prefetch    int
	heartbeat   time.Duration
	dialTimeout time.Duration
	logger      *zap.Logger
}

// AMQPOption configures DialAMQP.
type AMQPOption func(*amqpOptions)

// WithPrefetch sets the channel QoS prefetch count and the session inbox size.
func WithPrefetch(n int) AMQPOption {
	return func(o *amqpOptions) { o.prefetch = n }
}

// WithHeartbeat sets the AMQP heartbeat interval.
func WithHeartbeat(d time.Duration) AMQPOption {
	return func(o *amqpOptions) { o.heartbeat = d }
}

// WithDialTimeout bounds the TCP connect and AMQP handshake.
func WithDialTimeout(d time.Duration) AMQPOption {
	return func(o *amqpOptions) { o.dialTimeout = d }
}

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) AMQPOption {
	return func(o *amqpOptions) { o.logger = l }
}

// DialAMQP connects to the broker at url and opens a channel.
func DialAMQP(ctx context.Context, url string, opts ...AMQPOption) (*AMQPSession, error) {
	o := amqpOptions{
		prefetch:    16,
		heartbeat:   10 * time.Second,
		dialTimeout: 30 * time.Second,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < o.dialTimeout {
			o.dialTimeout = left
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, rpcerr.Transport("dial", err)
	}

	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: o.heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(o.dialTimeout),
	})
	if err != nil {
		return nil, rpcerr.Transport("dial", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, rpcerr.Transport("dial", errors.Wrap(err, "open channel"))
	}
	if err := ch.Qos(o.prefetch, 0, false); err != nil {
		conn.Close()
		return nil, rpcerr.Transport("dial", errors.Wrap(err, "set qos"))
	}

	s := &AMQPSession{
		conn:      conn,
		ch:        ch,
		loop:      newLoop(o.prefetch),
		exclusive: make(map[string]bool),
		logger:    o.logger,
	}
	go s.watch(
		conn.NotifyClose(make(chan *amqp.Error, 1)),
		ch.NotifyClose(make(chan *amqp.Error, 1)),
	)
	return s, nil
}

// watch closes the loop when the connection or the channel goes away.
func (s *AMQPSession) watch(connCloses, chCloses chan *amqp.Error) {
	var (
		e    *amqp.Error
		ok   bool
		what string
	)
	select {
	case e, ok = <-connCloses:
		what = "connection"
	case e, ok = <-chCloses:
		what = "channel"
	}
	if ok && e != nil {
		s.logger.Warn("broker "+what+" lost", zap.Int("code", e.Code), zap.String("reason", e.Reason))
		s.shut(e)
		return
	}
	s.shut(nil)
}

func (s *AMQPSession) DeclareQueue(ctx context.Context, name string) (string, error) {
	q, err := s.ch.QueueDeclare(name, false, false, false, false, nil)
	if err != nil {
		return "", rpcerr.Transport("declare", err)
	}
	return q.Name, nil
}

func (s *AMQPSession) DeclareExclusiveQueue(ctx context.Context) (string, error) {
	q, err := s.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", rpcerr.Transport("declare", err)
	}
	s.mu.Lock()
	s.exclusive[q.Name] = true
	s.mu.Unlock()
	return q.Name, nil
}

func (s *AMQPSession) DeclareReplyQueue(ctx context.Context) (string, error) {
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

func (s *AMQPSession) Consume(queue string, h Handler) error {
	s.mu.Lock()
	exclusive := s.exclusive[queue]
	s.mu.Unlock()

	deliveries, err := s.ch.Consume(queue, "", true, exclusive, false, false, nil)
	if err != nil {
		return rpcerr.Transport("consume", err)
	}
	go s.pump(queue, h, deliveries)
	return nil
}

// pump feeds deliveries to the loop. The broker ends the stream when the
// consumer is cancelled (queue deleted, basic.cancel) or the channel closes;
// the session is unusable from then on.
func (s *AMQPSession) pump(queue string, h Handler, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		if !s.deliver(h, Delivery{
			Queue:         queue,
			CorrelationID: d.CorrelationId,
			ReplyTo:       d.ReplyTo,
			ContentType:   d.ContentType,
			Body:          d.Body,
		}) {
			return
		}
	}
	if !s.isClosed() {
		s.logger.Warn("consumer stopped by broker", zap.String("queue", queue))
	}
	s.shut(errors.Errorf("consumer on %s stopped", queue))
}

func (s *AMQPSession) Publish(ctx context.Context, p Publishing) error {
	s.sending.Lock()
	defer s.sending.Unlock()

	err := s.ch.PublishWithContext(ctx, "", p.RoutingKey, false, false, amqp.Publishing{
		ContentType:   p.ContentType,
		CorrelationId: p.CorrelationID,
		ReplyTo:       p.ReplyTo,
		Timestamp:     time.Now(),
		Body:          p.Body,
	})
	return rpcerr.Transport("publish", err)
}

func (s *AMQPSession) RunUntil(ctx context.Context, done func() bool) error {
	return s.runUntil(ctx, done)
}

// Close closes the channel and the connection.
func (s *AMQPSession) Close() error {
	s.shut(nil)
	chErr := s.ch.Close()
	if err := s.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return rpcerr.Transport("close", err)
	}
	if chErr != nil && !errors.Is(chErr, amqp.ErrClosed) {
		return rpcerr.Transport("close", chErr)
	}
	return nil
}
