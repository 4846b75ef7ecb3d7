package client

import (
	"context"
	"mqrpc/codec"
	"mqrpc/metrics"
	"mqrpc/transport"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTimeout bounds calls whose context carries no deadline.
const DefaultTimeout = 30 * time.Second

// Dialer opens a session to the broker at addr.
type Dialer func(ctx context.Context, addr string) (transport.Session, error)

type options struct {
	codec   codec.Codec
	timeout time.Duration
	newID   func() string
	logger  *zap.Logger
	metrics *metrics.Client
	dialer  Dialer
}

// Option configures a Client.
type Option func(*options)

func defaultOptions() options {
	return options{
		codec:   &codec.JSONCodec{},
		timeout: DefaultTimeout,
		newID:   uuid.NewString,
		logger:  zap.NewNop(),
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewClient(nil)
	}
	if o.dialer == nil {
		logger := o.logger
		o.dialer = func(ctx context.Context, addr string) (transport.Session, error) {
			return transport.DialAMQP(ctx, addr, transport.WithLogger(logger))
		}
	}
	return o
}

// WithCodec sets the codec payloads are encoded with. Defaults to JSON.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithTimeout sets the wait applied to calls whose context has no deadline.
// Zero waits until the context ends.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithIDGenerator replaces the random UUID correlation ids.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the collectors calls are recorded in.
func WithMetrics(m *metrics.Client) Option {
	return func(o *options) { o.metrics = m }
}

// WithDialer sets how Dial and DialURL open sessions. Defaults to AMQP.
func WithDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}
