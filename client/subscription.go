package client

import (
	"context"
	"mqrpc/transport"
)

// replySubscription is the private queue a client receives its replies on.
// A session carries at most one, so at most one client.
type replySubscription struct {
	queue string
}

func subscribe(ctx context.Context, sess transport.Session, h transport.Handler) (*replySubscription, error) {
	queue, err := sess.DeclareReplyQueue(ctx)
	if err != nil {
		return nil, err
	}
	if err := sess.Consume(queue, h); err != nil {
		return nil, err
	}
	return &replySubscription{queue: queue}, nil
}
