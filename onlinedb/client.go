// Package onlinedb is the command facade of the online metadata services
// reachable over the broker, Discogs among them.
package onlinedb

import (
	"context"
	"encoding/json"
	"mqrpc/client"
	"mqrpc/message"
	"mqrpc/transport"

	"github.com/pkg/errors"
)

// Commands understood by an online metadata service.
const (
	CmdPing   = "ping"
	CmdInfo   = "info"
	CmdSearch = "search"
)

// DiscogsQueue is the service queue of the Discogs worker.
const DiscogsQueue = "discogs"

// Caller issues one call to a service queue and returns the raw reply body.
// *client.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, payload any) ([]byte, error)
}

// Client offers typed commands on top of a Caller.
type Client struct {
	rpc    Caller
	closer func() error
}

// New wraps rpc. The caller keeps ownership of rpc.
func New(rpc Caller) *Client {
	return &Client{rpc: rpc}
}

// NewDiscogs opens a client to the Discogs queue over sess. Close releases the
// client, the session stays with the caller.
func NewDiscogs(ctx context.Context, sess transport.Session, opts ...client.Option) (*Client, error) {
	rpc, err := client.New(ctx, sess, DiscogsQueue, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: rpc, closer: rpc.Close}, nil
}

// Close releases a client created by NewDiscogs; it is a no-op otherwise.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// Ping returns the reply body of ping, empty for a live worker.
func (c *Client) Ping(ctx context.Context) ([]byte, error) {
	return c.call(ctx, CmdPing, nil)
}

// Info returns the version the worker reports.
func (c *Client) Info(ctx context.Context) (*message.Version, error) {
	body, err := c.call(ctx, CmdInfo, nil)
	if err != nil {
		return nil, err
	}
	var v message.Version
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, errors.Wrap(err, "onlinedb: decode info")
	}
	return &v, nil
}

// SearchByReleaseID looks a release up by its identifier in the service.
func (c *Client) SearchByReleaseID(ctx context.Context, id int) ([]Suggestion, error) {
	return c.search(ctx, &SearchParams{ReleaseID: &id})
}

// SearchByRelease searches releases matching partial metadata.
func (c *Client) SearchByRelease(ctx context.Context, r *Release) ([]Suggestion, error) {
	if r == nil {
		return nil, errors.New("onlinedb: nil release")
	}
	return c.search(ctx, &SearchParams{Release: r})
}

func (c *Client) search(ctx context.Context, params *SearchParams) ([]Suggestion, error) {
	body, err := c.call(ctx, CmdSearch, params)
	if err != nil {
		return nil, err
	}
	var suggestions []Suggestion
	if err := json.Unmarshal(body, &suggestions); err != nil {
		return nil, errors.Wrap(err, "onlinedb: decode suggestions")
	}
	return suggestions, nil
}

// call sends {cmd, params} and turns error replies into *message.RemoteError.
func (c *Client) call(ctx context.Context, cmd string, params any) ([]byte, error) {
	env, err := message.NewEnvelope(cmd, params)
	if err != nil {
		return nil, err
	}
	body, err := c.rpc.Call(ctx, env)
	if err != nil {
		return nil, err
	}
	if err := message.ParseError(body); err != nil {
		return nil, err
	}
	return body, nil
}
