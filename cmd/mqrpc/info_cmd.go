package main

import (
	"fmt"
	"mqrpc/onlinedb"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type infoOpts struct {
	*rootOpts
}

func newInfo(parent *rootOpts) *infoOpts {
	return &infoOpts{rootOpts: parent}
}

func (opts *infoOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the version of the worker serving the queue.",
		RunE:  opts.RunE,
	}
}

func (opts *infoOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return newUsageError("expected no (non-flag) arguments")
	}
	c, err := opts.newClient(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	v, err := onlinedb.New(c).Info(cmd.Context())
	if err != nil {
		return err
	}
	out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintf(out, "SUBSYSTEM\tNAME\tDESCRIPTION\n")
	fmt.Fprintf(out, "%s\t%s\t%s\n", v.Subsystem, v.Name, v.Description)
	return out.Flush()
}
