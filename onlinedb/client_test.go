package onlinedb

import (
	"context"
	"encoding/json"
	"mqrpc/client"
	"mqrpc/message"
	"mqrpc/rpcerr"
	"mqrpc/transport"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startDiscogs serves the test catalog on the discogs queue of broker.
func startDiscogs(t *testing.T, broker *transport.MemoryBroker) {
	t.Helper()
	svr := NewWorker(DiscogsVersion, loadTestCatalog(t))
	sess := broker.Dial(8)
	go svr.Serve(context.Background(), sess, "", nil)
	require.Eventually(t, func() bool { return broker.QueueLen(DiscogsQueue) >= 0 }, time.Second, time.Millisecond)
	t.Cleanup(func() {
		svr.Shutdown(time.Second)
		sess.Close()
	})
}

func newDiscogs(t *testing.T, broker *transport.MemoryBroker, timeout time.Duration) *Client {
	t.Helper()
	sess := broker.Dial(8)
	c, err := NewDiscogs(context.Background(), sess, client.WithTimeout(timeout))
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
		sess.Close()
	})
	return c
}

func TestDiscogsPing(t *testing.T) {
	broker := transport.NewMemoryBroker()
	startDiscogs(t, broker)

	body, err := newDiscogs(t, broker, 2*time.Second).Ping(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, body)
	assert.Empty(t, body)
}

func TestDiscogsInfo(t *testing.T) {
	broker := transport.NewMemoryBroker()
	startDiscogs(t, broker)

	v, err := newDiscogs(t, broker, 2*time.Second).Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "discogs", v.Name)
	assert.Equal(t, DiscogsSubsystem, v.Subsystem)
}

func TestDiscogsSearchByReleaseID(t *testing.T) {
	broker := transport.NewMemoryBroker()
	startDiscogs(t, broker)

	suggestions, err := newDiscogs(t, broker, 2*time.Second).SearchByReleaseID(context.Background(), 4139588)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "the dark side of the moon", normalize(suggestions[0].Entity.Title))
	assert.Equal(t, DiscogsQueue, suggestions[0].ServiceName)
	assert.Equal(t, 1.0, suggestions[0].SourceSimilarity)
}

func TestDiscogsSearchByRelease(t *testing.T) {
	broker := transport.NewMemoryBroker()
	startDiscogs(t, broker)

	suggestions, err := newDiscogs(t, broker, 2*time.Second).SearchByRelease(context.Background(), incompleteRelease())
	require.NoError(t, err)
	require.NotEmpty(t, suggestions)
	assert.Equal(t, "the dark side of the moon", normalize(suggestions[0].Entity.Title))
	assert.True(t, suggestions[0].OnlineSuggestion)
}

func TestDiscogsSearchNoMatch(t *testing.T) {
	broker := transport.NewMemoryBroker()
	startDiscogs(t, broker)

	suggestions, err := newDiscogs(t, broker, 2*time.Second).SearchByRelease(context.Background(), &Release{Title: "Thriller"})
	require.NoError(t, err)
	assert.NotNil(t, suggestions)
	assert.Empty(t, suggestions)
}

func TestDiscogsRemoteError(t *testing.T) {
	broker := transport.NewMemoryBroker()
	startDiscogs(t, broker)

	_, err := newDiscogs(t, broker, 2*time.Second).SearchByReleaseID(context.Background(), 1)
	var remote *message.RemoteError
	require.True(t, errors.As(err, &remote), "got %v", err)
	assert.Equal(t, CmdSearch, remote.Context)
	assert.Contains(t, remote.ErrorResponse.Error, "release not found")
}

func TestDiscogsTimesOutWithoutWorker(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the 2s timeout")
	}
	broker := transport.NewMemoryBroker()
	c := newDiscogs(t, broker, 2*time.Second)

	start := time.Now()
	_, err := c.Info(context.Background())
	assert.True(t, errors.Is(err, rpcerr.ErrCallTimedOut), "got %v", err)
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
}

// recordingCaller answers every call with reply and keeps the envelopes.
type recordingCaller struct {
	reply []byte
	sent  []*message.Envelope
}

func (r *recordingCaller) Call(ctx context.Context, payload any) ([]byte, error) {
	r.sent = append(r.sent, payload.(*message.Envelope))
	return r.reply, nil
}

func TestSearchParamsShape(t *testing.T) {
	rpc := &recordingCaller{reply: []byte(`[]`)}
	c := New(rpc)
	defer c.Close()

	_, err := c.SearchByReleaseID(context.Background(), 4139588)
	require.NoError(t, err)
	_, err = c.SearchByRelease(context.Background(), &Release{Title: "Animals"})
	require.NoError(t, err)

	require.Len(t, rpc.sent, 2)
	assert.Equal(t, CmdSearch, rpc.sent[0].Cmd)
	assert.JSONEq(t, `{"release_id":4139588}`, string(rpc.sent[0].Params))
	assert.True(t, rpc.sent[1].HasParam("release"))
	assert.False(t, rpc.sent[1].HasParam("release_id"))
}

func TestPingEnvelope(t *testing.T) {
	rpc := &recordingCaller{reply: []byte{}}
	body, err := New(rpc).Ping(context.Background())
	require.NoError(t, err)
	assert.Empty(t, body)

	data, err := json.Marshal(rpc.sent[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"cmd":"ping","params":{}}`, string(data))
}

func TestSearchHandlerRejectsUnknownShape(t *testing.T) {
	h := SearchHandler(DiscogsQueue, NewCatalog())
	req := &message.Request{Envelope: message.Envelope{Cmd: CmdSearch, Params: json.RawMessage(`{"actor_id":1}`)}}
	assert.Equal(t, "expected release_id or release param", h(context.Background(), req).Error)
}

func TestSearchByNilRelease(t *testing.T) {
	_, err := New(&recordingCaller{}).SearchByRelease(context.Background(), nil)
	assert.Error(t, err)
}
