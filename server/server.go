// Package server implements a worker that serves commands from a service queue.
//
// Request processing pipeline:
//
//	service queue → Session.RunUntil (one goroutine drains deliveries)
//	  → for each delivery: go handleRequest (parallel processing)
//	    → Codec.Decode → Middleware Chain → dispatch by cmd → Publish(ReplyTo, CorrelationID)
//
// Every worker answers the built-in "ping" (empty body) and "info" (its Version)
// commands. Failed commands are answered with an error body:
//
//	{"error": {"error": "unknown command", "context": "search"}}
package server

import (
	"context"
	"encoding/json"
	"mqrpc/codec"
	"mqrpc/message"
	"mqrpc/middleware"
	"mqrpc/registry"
	"mqrpc/transport"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	CmdPing = "ping"
	CmdInfo = "info"
)

// DefaultTTL is the lease of the registry entry written by Serve.
const DefaultTTL int64 = 10

// Server serves the commands of one service.
type Server struct {
	version     message.Version
	logger      *zap.Logger
	ttl         int64
	handlers    map[string]middleware.HandlerFunc
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware chain around dispatch

	mu            sync.Mutex
	sess          transport.Session
	stop          context.CancelFunc
	served        chan struct{} // closed when Serve returns
	registry      registry.Registry
	advertiseAddr string

	wg       sync.WaitGroup // in-flight requests
	shutdown atomic.Bool
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTTL sets the registry lease in seconds.
func WithTTL(ttl int64) Option {
	return func(s *Server) { s.ttl = ttl }
}

// NewServer creates a worker for the service named version.Name. Its requests
// are read from the queue of the same name.
func NewServer(version message.Version, opts ...Option) *Server {
	s := &Server{
		version:  version,
		logger:   zap.NewNop(),
		ttl:      DefaultTTL,
		handlers: make(map[string]middleware.HandlerFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("service", version.Name))
	s.handlers[CmdPing] = s.ping
	s.handlers[CmdInfo] = s.info
	return s
}

// Name returns the service name, which is also the queue it serves.
func (s *Server) Name() string {
	return s.version.Name
}

// Handle registers h for cmd, replacing any previous handler.
func (s *Server) Handle(cmd string, h middleware.HandlerFunc) {
	s.handlers[cmd] = h
}

// Register exposes the exported methods of rcvr shaped
// func(args *A, reply *R) error, optionally taking a leading context, as
// commands named after the lower-cased method name. Params are decoded into
// args and reply is sent back as JSON.
func (s *Server) Register(rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return err
	}
	for cmd, m := range svc.method {
		s.handlers[cmd] = methodHandler(svc, m)
		s.logger.Debug("registered command", zap.String("cmd", cmd), zap.String("receiver", svc.name))
	}
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Serve declares the service queue on sess and handles requests until
// Shutdown is called, ctx ends or the session fails. With a non-nil reg the
// service is advertised under advertiseAddr, the broker URL clients should
// dial. The caller keeps ownership of sess.
func (s *Server) Serve(ctx context.Context, sess transport.Session, advertiseAddr string, reg registry.Registry) error {
	s.handler = middleware.Chain(s.middlewares...)(s.dispatch)

	queue, err := sess.DeclareQueue(ctx, s.version.Name)
	if err != nil {
		return errors.Wrapf(err, "server: declare %s", s.version.Name)
	}

	if err := sess.Consume(queue, s.onRequest); err != nil {
		return errors.Wrapf(err, "server: consume %s", queue)
	}

	if reg != nil {
		err := reg.Register(s.version.Name, registry.ServiceInstance{
			Addr:    advertiseAddr,
			Weight:  10,
			Version: s.version.Subsystem,
		}, s.ttl)
		if err != nil {
			return errors.Wrapf(err, "server: advertise %s", s.version.Name)
		}
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	served := make(chan struct{})
	defer close(served)

	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		if reg != nil {
			reg.Deregister(s.version.Name, advertiseAddr)
		}
		return nil
	}
	s.sess, s.stop, s.served = sess, stop, served
	s.registry, s.advertiseAddr = reg, advertiseAddr
	s.mu.Unlock()

	s.logger.Info("serving", zap.String("queue", queue))
	err = sess.RunUntil(runCtx, s.shutdown.Load)
	if s.shutdown.Load() || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown stops a running Serve gracefully:
//  1. deregister from the registry so clients stop picking this broker
//  2. stop consuming
//  3. wait for in-flight requests, at most timeout
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	s.shutdown.Store(true)
	reg, addr, stop, served := s.registry, s.advertiseAddr, s.stop, s.served
	s.mu.Unlock()

	if reg != nil {
		if err := reg.Deregister(s.version.Name, addr); err != nil {
			s.logger.Warn("deregister failed", zap.Error(err))
		}
	}
	if stop != nil {
		stop()
		<-served
	}

	// No request starts once Serve has returned.
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("server: timeout waiting for ongoing requests to finish")
	}
}

// onRequest runs on the session loop; handlers run in their own goroutines.
func (s *Server) onRequest(d transport.Delivery) {
	if s.shutdown.Load() {
		return
	}
	s.wg.Add(1)
	go s.handleRequest(d)
}

func (s *Server) handleRequest(d transport.Delivery) {
	defer s.wg.Done()

	req := &message.Request{
		CorrelationID: d.CorrelationID,
		ReplyTo:       d.ReplyTo,
		ContentType:   d.ContentType,
	}
	var reply *message.Reply
	c, err := codec.ForContentType(d.ContentType)
	if err == nil {
		err = c.Decode(d.Body, &req.Envelope)
	}
	if err != nil {
		reply = &message.Reply{Error: "malformed request: " + err.Error()}
	} else {
		reply = s.handler(context.Background(), req)
	}
	if reply == nil {
		reply = &message.Reply{}
	}

	if d.ReplyTo == "" {
		s.logger.Debug("request without reply queue",
			zap.String("cmd", req.Cmd),
			zap.String("correlation_id", d.CorrelationID))
		return
	}

	body := reply.Body
	if reply.Error != "" {
		body = message.EncodeError(reply.Error, req.Cmd)
	}
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	err = sess.Publish(context.Background(), transport.Publishing{
		RoutingKey:    d.ReplyTo,
		CorrelationID: d.CorrelationID,
		ContentType:   codec.ContentTypeJSON,
		Body:          body,
	})
	if err != nil {
		s.logger.Error("failed to publish reply",
			zap.String("cmd", req.Cmd),
			zap.String("reply_to", d.ReplyTo),
			zap.Error(err))
	}
}

// dispatch is the innermost handler; it routes by command name.
func (s *Server) dispatch(ctx context.Context, req *message.Request) *message.Reply {
	h, ok := s.handlers[req.Cmd]
	if !ok {
		return &message.Reply{Error: "unknown command"}
	}
	if reply := h(ctx, req); reply != nil {
		return reply
	}
	return &message.Reply{Body: []byte{}}
}

func (s *Server) ping(ctx context.Context, req *message.Request) *message.Reply {
	return &message.Reply{Body: []byte{}}
}

func (s *Server) info(ctx context.Context, req *message.Request) *message.Reply {
	return JSON(s.version, nil)
}

// JSON builds a reply from a handler result: err becomes an error reply,
// v is marshalled otherwise.
func JSON(v any, err error) *message.Reply {
	if err != nil {
		return &message.Reply{Error: err.Error()}
	}
	body, err := json.Marshal(v)
	if err != nil {
		return &message.Reply{Error: "marshal result: " + err.Error()}
	}
	return &message.Reply{Body: body}
}

func methodHandler(svc *service, m *methodType) middleware.HandlerFunc {
	return func(ctx context.Context, req *message.Request) *message.Reply {
		argv := reflect.New(m.ArgType)
		replyv := reflect.New(m.ReplyType)
		if err := req.DecodeParams(argv.Interface()); err != nil {
			return &message.Reply{Error: err.Error()}
		}
		if err := svc.call(ctx, m, argv, replyv); err != nil {
			return &message.Reply{Error: err.Error()}
		}
		return JSON(replyv.Interface(), nil)
	}
}
