package main

import (
	"context"
	"mqrpc/metrics"
	"mqrpc/middleware"
	"mqrpc/onlinedb"
	"mqrpc/server"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type workerOpts struct {
	*rootOpts
	catalog         string
	metricsAddr     string
	shutdownTimeout time.Duration
}

func newWorker(parent *rootOpts) *workerOpts {
	return &workerOpts{rootOpts: parent}
}

func (opts *workerOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "worker",
		Short:   "Serve ping, info and search on the service queue from a release catalog.",
		Example: "  mqrpc worker --catalog releases.json --metrics-addr :9090",
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVar(&opts.catalog, "catalog", "", "JSON release catalog, overrides service.catalog")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 10*time.Second, "time allowed for in-flight requests on shutdown")
	return cmd
}

func (opts *workerOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return newUsageError("expected no (non-flag) arguments")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return opts.run(ctx)
}

// run serves until ctx ends, then shuts the worker down gracefully.
func (opts *workerOpts) run(ctx context.Context) error {
	cfg := opts.cfg
	path := opts.catalog
	if path == "" {
		path = cfg.Service.Catalog
	}
	catalog := onlinedb.NewCatalog()
	if path != "" {
		var err error
		if catalog, err = onlinedb.LoadCatalog(path); err != nil {
			return err
		}
	}

	promReg := prometheus.NewRegistry()
	version := onlinedb.DiscogsVersion
	version.Name = cfg.Service.Queue
	svr := onlinedb.NewWorker(version, catalog,
		server.WithLogger(opts.logger),
		server.WithTTL(cfg.Registry.TTL))
	svr.Use(middleware.LoggingMiddleware(opts.logger))
	svr.Use(middleware.MetricsMiddleware(metrics.NewServer(promReg)))
	if cfg.Worker.Rate > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.Worker.Rate, cfg.Worker.Burst))
	}
	if cfg.Worker.Retries > 0 {
		svr.Use(middleware.RetryMiddleware(cfg.Worker.Retries, cfg.Worker.RetryDelay, opts.logger))
	}
	if cfg.Worker.Timeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(cfg.Worker.Timeout))
	}

	if opts.metricsAddr != "" {
		srv := &http.Server{Addr: opts.metricsAddr, Handler: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				opts.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	sess, err := opts.dial(ctx, cfg.Broker.URL)
	if err != nil {
		return err
	}
	defer sess.Close()

	reg, err := opts.newRegistry()
	if err != nil {
		return err
	}
	if reg != nil {
		defer reg.Close()
	}

	go func() {
		<-ctx.Done()
		if err := svr.Shutdown(opts.shutdownTimeout); err != nil {
			opts.logger.Warn("shutdown", zap.Error(err))
		}
	}()

	opts.logger.Info("worker starting",
		zap.String("queue", cfg.Service.Queue),
		zap.Int("releases", catalog.Len()))
	if reg != nil {
		err = svr.Serve(context.Background(), sess, cfg.AdvertiseURL(), reg)
	} else {
		err = svr.Serve(context.Background(), sess, "", nil)
	}
	return errors.Wrap(err, "worker")
}
