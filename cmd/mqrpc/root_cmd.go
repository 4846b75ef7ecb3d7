package main

import (
	"context"
	"fmt"
	"mqrpc/client"
	"mqrpc/config"
	"mqrpc/loadbalance"
	"mqrpc/registry"
	"mqrpc/transport"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type rootOpts struct {
	configPath string
	brokerURL  string
	queue      string
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger

	// dial opens broker sessions and openRegistry connects to the service
	// registry; tests replace them.
	dial         func(ctx context.Context, url string) (transport.Session, error)
	openRegistry func(endpoints []string, logger *zap.Logger) (serviceRegistry, error)
}

// serviceRegistry is a registry connection owned by the command.
type serviceRegistry interface {
	registry.Registry
	Close() error
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
mqrpc calls services over a message broker and runs the workers answering them.

Workflow:
  mqrpc worker --catalog releases.json         # Serve the discogs queue.
  mqrpc ping                                   # Is a worker listening?
  mqrpc info                                   # Which worker is it?
  mqrpc search --release-id 4139588            # Look a release up by id.
  mqrpc search --release partial.json          # Search by partial metadata.
  mqrpc call search '{"release_id": 4139588}'  # Send any command.
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "mqrpc",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	addConnectionFlags(cmd.PersistentFlags(), opts)

	cmd.AddCommand(
		newWorker(opts).Command(),
		newCall(opts).Command(),
		newPing(opts).Command(),
		newInfo(opts).Command(),
		newSearch(opts).Command(),
	)
	return cmd
}

func addConnectionFlags(fs *pflag.FlagSet, opts *rootOpts) {
	fs.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	fs.StringVarP(&opts.brokerURL, "broker", "b", "",
		fmt.Sprintf("broker URL; you can also set the environment variable %s", config.EnvBrokerURL))
	fs.StringVarP(&opts.queue, "queue", "q", "", "service queue, overrides service.queue")
	fs.DurationVarP(&opts.timeout, "timeout", "t", 0, "call timeout, overrides client.timeout")
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("broker") {
		cfg.Broker.URL = opts.brokerURL
	}
	if opts.queue != "" {
		cfg.Service.Queue = opts.queue
	}
	if opts.timeout > 0 {
		cfg.Client.Timeout = opts.timeout
	}
	opts.cfg = cfg

	if opts.logger == nil {
		if opts.logger, err = cfg.Logger(); err != nil {
			return errors.Wrap(err, "build logger")
		}
	}
	if opts.dial == nil {
		opts.dial = func(ctx context.Context, url string) (transport.Session, error) {
			return transport.DialAMQP(ctx, url,
				transport.WithPrefetch(cfg.Broker.Prefetch),
				transport.WithLogger(opts.logger))
		}
	}
	if opts.openRegistry == nil {
		opts.openRegistry = func(endpoints []string, logger *zap.Logger) (serviceRegistry, error) {
			reg, err := registry.NewEtcdRegistry(endpoints, logger)
			if err != nil {
				return nil, err
			}
			return reg, nil
		}
	}
	return nil
}

// newRegistry connects to the registry when endpoints are configured, nil otherwise.
func (opts *rootOpts) newRegistry() (serviceRegistry, error) {
	if len(opts.cfg.Registry.Endpoints) == 0 {
		return nil, nil
	}
	return opts.openRegistry(opts.cfg.Registry.Endpoints, opts.logger)
}

// newClient connects to the service queue, through discovery when a
// registry is configured.
func (opts *rootOpts) newClient(ctx context.Context) (*client.Client, error) {
	clientOpts := []client.Option{
		client.WithTimeout(opts.cfg.Client.Timeout),
		client.WithLogger(opts.logger),
		client.WithDialer(client.Dialer(opts.dial)),
	}
	reg, err := opts.newRegistry()
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return client.DialURL(ctx, opts.cfg.Broker.URL, opts.cfg.Service.Queue, clientOpts...)
	}
	defer reg.Close()
	bal := loadbalance.ByName(opts.cfg.Registry.Balancer)
	return client.Dial(ctx, reg, bal, opts.cfg.Service.Queue, clientOpts...)
}
