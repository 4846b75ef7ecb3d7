package main

import (
	"fmt"
	"mqrpc/onlinedb"
	"time"

	"github.com/spf13/cobra"
)

type pingOpts struct {
	*rootOpts
}

func newPing(parent *rootOpts) *pingOpts {
	return &pingOpts{rootOpts: parent}
}

func (opts *pingOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that a worker answers on the service queue.",
		RunE:  opts.RunE,
	}
}

func (opts *pingOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return newUsageError("expected no (non-flag) arguments")
	}
	c, err := opts.newClient(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	start := time.Now()
	if _, err := onlinedb.New(c).Ping(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: pong in %s\n", c.Queue(), time.Since(start).Round(time.Microsecond))
	return nil
}
