package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nguyentantai21042004/cirse-notes/internal/catalog"
	"github.com/nguyentantai21042004/cirse-notes/internal/config"
)

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the lecture library",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := requireCredentials(cfg); err != nil {
				return err
			}
			if top > 0 {
				cfg.Library.MaxResults = top
			}

			sess, err := ctx.login(cmd.Context())
			if err != nil {
				return err
			}
			items, err := catalog.New(catalog.ConfigFrom(cfg), ctx.logger).Search(cmd.Context(), sess, strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No lectures found.")
				return nil
			}
			fmt.Fprintln(out, renderItems(items))
			return nil
		},
	}

	cmd.Flags().IntVarP(&top, "top", "n", 0, "Show at most N results (default library.max_results)")
	return cmd
}

func requireCredentials(cfg *config.Config) error {
	if cfg.Secrets.Credentials.Empty() {
		return errors.New("missing secrets: " + config.EnvEmail + " and " + config.EnvPassword + " are required")
	}
	return nil
}
