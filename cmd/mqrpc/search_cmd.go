package main

import (
	"encoding/json"
	"mqrpc/onlinedb"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type searchOpts struct {
	*rootOpts
	releaseID   int
	releaseFile string
}

func newSearch(parent *rootOpts) *searchOpts {
	return &searchOpts{rootOpts: parent}
}

func (opts *searchOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search a release by id or by partial metadata.",
		Example: `  mqrpc search --release-id 4139588
  mqrpc search --release partial.json`,
		RunE: opts.RunE,
	}
	cmd.Flags().IntVar(&opts.releaseID, "release-id", 0, "release identifier in the service")
	cmd.Flags().StringVar(&opts.releaseFile, "release", "", "JSON file with partial release metadata")
	return cmd
}

func (opts *searchOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return newUsageError("expected no (non-flag) arguments")
	}
	byID := cmd.Flags().Changed("release-id")
	if err := checkExactlyOne("--release-id or --release", byID, opts.releaseFile != ""); err != nil {
		return err
	}

	var query *onlinedb.Release
	if !byID {
		data, err := os.ReadFile(opts.releaseFile)
		if err != nil {
			return err
		}
		query = &onlinedb.Release{}
		if err := json.Unmarshal(data, query); err != nil {
			return errors.Wrapf(err, "parse %s", opts.releaseFile)
		}
	}

	c, err := opts.newClient(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()
	db := onlinedb.New(c)

	var suggestions []onlinedb.Suggestion
	if byID {
		suggestions, err = db.SearchByReleaseID(cmd.Context(), opts.releaseID)
	} else {
		suggestions, err = db.SearchByRelease(cmd.Context(), query)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(suggestions)
}
