package main

import (
	"encoding/json"
	"fmt"
	"mqrpc/message"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type callOpts struct {
	*rootOpts
}

func newCall(parent *rootOpts) *callOpts {
	return &callOpts{rootOpts: parent}
}

func (opts *callOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "call <cmd> [params-json]",
		Short:   "Send a command to the service queue and print the raw reply.",
		Example: `  mqrpc call search '{"release_id": 4139588}'`,
		RunE:    opts.RunE,
	}
	return cmd
}

func (opts *callOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return newUsageError("expected a command and optional JSON params")
	}
	env := &message.Envelope{Cmd: args[0], Params: json.RawMessage(`{}`)}
	if len(args) == 2 {
		if !json.Valid([]byte(args[1])) {
			return newUsageError("params are not valid JSON")
		}
		env.Params = json.RawMessage(args[1])
	}

	c, err := opts.newClient(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	body, err := c.Call(cmd.Context(), env)
	if err != nil {
		return errors.Wrapf(err, "call %s", env.Cmd)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(body))
	return nil
}
