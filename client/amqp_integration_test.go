package client

import (
	"context"
	"mqrpc/transport"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAMQPRoundTrip needs a RabbitMQ broker at MQRPC_AMQP_URL.
func TestAMQPRoundTrip(t *testing.T) {
	url := os.Getenv("MQRPC_AMQP_URL")
	if url == "" {
		t.Skip("MQRPC_AMQP_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	workerSess, err := transport.DialAMQP(ctx, url)
	require.NoError(t, err)
	defer workerSess.Close()

	queue, err := workerSess.DeclareExclusiveQueue(ctx)
	require.NoError(t, err)
	require.NoError(t, workerSess.Consume(queue, func(d transport.Delivery) {
		workerSess.Publish(ctx, transport.Publishing{
			RoutingKey:    d.ReplyTo,
			CorrelationID: d.CorrelationID,
			Body:          d.Body,
		})
	}))
	go workerSess.RunUntil(ctx, nil)

	c, err := DialURL(ctx, url, queue)
	require.NoError(t, err)
	defer c.Close()

	for _, body := range []string{"", "one", "two"} {
		got, err := c.CallRaw(ctx, []byte(body))
		require.NoError(t, err)
		assert.Equal(t, body, string(got))
	}
}
