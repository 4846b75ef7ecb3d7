package client

import (
	"context"
	"mqrpc/loadbalance"
	"mqrpc/registry"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Dial discovers the brokers service is advertised on, picks one with bal,
// opens a session to it and returns a client calling the service queue.
// Closing the client closes the session.
func Dial(ctx context.Context, reg registry.Registry, bal loadbalance.Balancer, service string, opts ...Option) (*Client, error) {
	instances, err := reg.Discover(service)
	if err != nil {
		return nil, errors.Wrapf(err, "client: discover %s", service)
	}
	instance, err := bal.Pick(service, instances)
	if err != nil {
		return nil, errors.Wrapf(err, "client: pick broker for %s", service)
	}

	o := buildOptions(opts)
	o.logger.Debug("picked broker",
		zap.String("service", service),
		zap.String("balancer", bal.Name()),
		zap.String("version", instance.Version))
	return dial(ctx, instance.Addr, service, o)
}

// DialURL opens a session to the broker at url and returns a client calling
// queue. Closing the client closes the session.
func DialURL(ctx context.Context, url, queue string, opts ...Option) (*Client, error) {
	return dial(ctx, url, queue, buildOptions(opts))
}

func dial(ctx context.Context, addr, queue string, o options) (*Client, error) {
	sess, err := o.dialer(ctx, addr)
	if err != nil {
		return nil, err
	}
	c, err := newClient(ctx, sess, queue, o)
	if err != nil {
		sess.Close()
		return nil, err
	}
	c.ownsSession = true
	return c, nil
}
