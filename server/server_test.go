package server

import (
	"context"
	"encoding/json"
	"mqrpc/client"
	"mqrpc/codec"
	"mqrpc/message"
	"mqrpc/middleware"
	"mqrpc/registry"
	"mqrpc/transport"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Div(ctx context.Context, args *Args, reply *Reply) error {
	if args.B == 0 {
		return errors.New("divide by zero")
	}
	reply.Result = args.A / args.B
	return nil
}

// NotACommand has the wrong shape and is skipped.
func (a *Arith) NotACommand(x int) int { return x }

var testVersion = message.Version{Subsystem: "test", Name: "arith", Description: "integer arithmetic"}

// startServer runs svr on its own session of broker until the test ends.
func startServer(t *testing.T, broker *transport.MemoryBroker, svr *Server, reg registry.Registry) <-chan error {
	t.Helper()
	sess := broker.Dial(8)
	errCh := make(chan error, 1)
	go func() { errCh <- svr.Serve(context.Background(), sess, "memory://test", reg) }()
	require.Eventually(t, func() bool { return broker.QueueLen(svr.Name()) >= 0 }, time.Second, time.Millisecond)
	t.Cleanup(func() {
		svr.Shutdown(time.Second)
		sess.Close()
	})
	return errCh
}

func newClient(t *testing.T, broker *transport.MemoryBroker, opts ...client.Option) *client.Client {
	t.Helper()
	sess := broker.Dial(8)
	opts = append([]client.Option{client.WithTimeout(2 * time.Second)}, opts...)
	c, err := client.New(context.Background(), sess, testVersion.Name, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
		sess.Close()
	})
	return c
}

func call(t *testing.T, c *client.Client, cmd string, params any) []byte {
	t.Helper()
	env, err := message.NewEnvelope(cmd, params)
	require.NoError(t, err)
	body, err := c.Call(context.Background(), env)
	require.NoError(t, err)
	return body
}

func TestPing(t *testing.T) {
	broker := transport.NewMemoryBroker()
	startServer(t, broker, NewServer(testVersion), nil)

	body := call(t, newClient(t, broker), CmdPing, nil)
	assert.NotNil(t, body)
	assert.Empty(t, body)
}

func TestInfo(t *testing.T) {
	broker := transport.NewMemoryBroker()
	startServer(t, broker, NewServer(testVersion), nil)

	var v message.Version
	require.NoError(t, json.Unmarshal(call(t, newClient(t, broker), CmdInfo, nil), &v))
	assert.Equal(t, testVersion, v)
}

func TestUnknownCommand(t *testing.T) {
	broker := transport.NewMemoryBroker()
	startServer(t, broker, NewServer(testVersion), nil)

	err := message.ParseError(call(t, newClient(t, broker), "bogus", nil))
	var remote *message.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "unknown command", remote.ErrorResponse.Error)
	assert.Equal(t, "bogus", remote.Context)
}

func TestRegisteredMethods(t *testing.T) {
	broker := transport.NewMemoryBroker()
	svr := NewServer(testVersion)
	require.NoError(t, svr.Register(&Arith{}))
	startServer(t, broker, svr, nil)
	c := newClient(t, broker)

	var reply Reply
	require.NoError(t, json.Unmarshal(call(t, c, "add", &Args{1, 2}), &reply))
	assert.Equal(t, 3, reply.Result)

	require.NoError(t, json.Unmarshal(call(t, c, "div", &Args{7, 2}), &reply))
	assert.Equal(t, 3, reply.Result)

	err := message.ParseError(call(t, c, "div", &Args{7, 0}))
	assert.EqualError(t, err, "remote: div: divide by zero")

	err = message.ParseError(call(t, c, "notacommand", nil))
	assert.EqualError(t, err, "remote: notacommand: unknown command")
}

func TestRegisterRejectsBadReceiver(t *testing.T) {
	svr := NewServer(testVersion)
	assert.Error(t, svr.Register(Arith{}))
	assert.Error(t, svr.Register(new(int)))
	assert.Error(t, svr.Register(&struct{}{}))
}

func TestMalformedRequest(t *testing.T) {
	broker := transport.NewMemoryBroker()
	startServer(t, broker, NewServer(testVersion), nil)

	body, err := newClient(t, broker).CallRaw(context.Background(), []byte("not json"))
	require.NoError(t, err)
	var remote *message.RemoteError
	require.True(t, errors.As(message.ParseError(body), &remote))
	assert.Contains(t, remote.ErrorResponse.Error, "malformed request")
}

func TestBinaryRequest(t *testing.T) {
	broker := transport.NewMemoryBroker()
	startServer(t, broker, NewServer(testVersion), nil)

	c := newClient(t, broker, client.WithCodec(codec.GetCodec(codec.CodecTypeBinary)))
	var v message.Version
	require.NoError(t, json.Unmarshal(call(t, c, CmdInfo, nil), &v))
	assert.Equal(t, "arith", v.Name)
}

func TestHandleAndMiddleware(t *testing.T) {
	broker := transport.NewMemoryBroker()
	svr := NewServer(testVersion)
	svr.Handle("echo", func(ctx context.Context, req *message.Request) *message.Reply {
		return &message.Reply{Body: req.Params}
	})
	svr.Use(middleware.RateLimitMiddleware(0.001, 2))
	startServer(t, broker, svr, nil)
	c := newClient(t, broker)

	assert.JSONEq(t, `{"x":1}`, string(call(t, c, "echo", map[string]int{"x": 1})))
	assert.JSONEq(t, `{"x":2}`, string(call(t, c, "echo", map[string]int{"x": 2})))
	assert.EqualError(t, message.ParseError(call(t, c, "echo", nil)), "remote: echo: rate limit exceeded")
}

func TestNilReplyIsEmpty(t *testing.T) {
	broker := transport.NewMemoryBroker()
	svr := NewServer(testVersion)
	svr.Handle("nothing", func(ctx context.Context, req *message.Request) *message.Reply {
		return nil
	})
	svr.Use(middleware.LoggingMiddleware(zap.NewNop()))
	startServer(t, broker, svr, nil)

	body := call(t, newClient(t, broker), "nothing", nil)
	assert.NotNil(t, body)
	assert.Empty(t, body)
}

func TestNilReplyFromMiddleware(t *testing.T) {
	broker := transport.NewMemoryBroker()
	svr := NewServer(testVersion)
	svr.Use(func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Reply { return nil }
	})
	startServer(t, broker, svr, nil)

	body := call(t, newClient(t, broker), CmdPing, nil)
	assert.Empty(t, body)
}

func TestConcurrentRequests(t *testing.T) {
	broker := transport.NewMemoryBroker()
	svr := NewServer(testVersion)
	require.NoError(t, svr.Register(&Arith{}))
	startServer(t, broker, svr, nil)
	c := newClient(t, broker)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env, _ := message.NewEnvelope("add", &Args{i, i})
			body, err := c.Call(context.Background(), env)
			if !assert.NoError(t, err) {
				return
			}
			var reply Reply
			assert.NoError(t, json.Unmarshal(body, &reply))
			assert.Equal(t, 2*i, reply.Result)
		}(i)
	}
	wg.Wait()
}

func TestShutdownWaitsForInFlight(t *testing.T) {
	broker := transport.NewMemoryBroker()
	svr := NewServer(testVersion)
	started := make(chan struct{})
	svr.Handle("slow", func(ctx context.Context, req *message.Request) *message.Reply {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return &message.Reply{Body: []byte(`"done"`)}
	})
	errCh := startServer(t, broker, svr, nil)
	c := newClient(t, broker)

	result := make(chan []byte, 1)
	go func() {
		env, _ := message.NewEnvelope("slow", nil)
		body, err := c.Call(context.Background(), env)
		assert.NoError(t, err)
		result <- body
	}()

	<-started
	require.NoError(t, svr.Shutdown(time.Second))
	assert.NoError(t, <-errCh)
	assert.Equal(t, `"done"`, string(<-result))
}

func TestShutdownTimeout(t *testing.T) {
	broker := transport.NewMemoryBroker()
	svr := NewServer(testVersion)
	started := make(chan struct{})
	release := make(chan struct{})
	svr.Handle("stuck", func(ctx context.Context, req *message.Request) *message.Reply {
		close(started)
		<-release
		return &message.Reply{}
	})
	startServer(t, broker, svr, nil)
	c := newClient(t, broker)

	call, err := c.Go(context.Background(), &message.Envelope{Cmd: "stuck"})
	require.NoError(t, err)
	defer c.Cancel(call)

	<-started
	assert.Error(t, svr.Shutdown(50*time.Millisecond))
	close(release)
}

type recordingRegistry struct {
	mu           sync.Mutex
	registered   []registry.ServiceInstance
	deregistered []string
}

func (r *recordingRegistry) Register(service string, instance registry.ServiceInstance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, instance)
	return nil
}

func (r *recordingRegistry) Deregister(service string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deregistered = append(r.deregistered, service+"@"+addr)
	return nil
}

func (r *recordingRegistry) Discover(service string) ([]registry.ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered, nil
}

func (r *recordingRegistry) Watch(service string) <-chan []registry.ServiceInstance {
	return nil
}

func (r *recordingRegistry) Close() error { return nil }

func TestServeAdvertises(t *testing.T) {
	broker := transport.NewMemoryBroker()
	reg := &recordingRegistry{}
	svr := NewServer(testVersion)
	errCh := startServer(t, broker, svr, reg)

	require.Eventually(t, func() bool {
		instances, _ := reg.Discover(svr.Name())
		return len(instances) == 1
	}, time.Second, time.Millisecond)
	instances, _ := reg.Discover(svr.Name())
	assert.Equal(t, "memory://test", instances[0].Addr)
	assert.Equal(t, "test", instances[0].Version)

	require.NoError(t, svr.Shutdown(time.Second))
	assert.NoError(t, <-errCh)
	assert.Equal(t, []string{"arith@memory://test"}, reg.deregistered)
}
