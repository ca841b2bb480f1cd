package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"Murmur/pkg/app"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations, most recent first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			convs := a.Conversations()
			out := cmd.OutOrStdout()
			for i := range convs {
				printConversation(out, &convs[i])
			}
			fmt.Fprintf(out, "%d conversations, %d unread\n", len(convs), a.Store().TotalUnread())
			return nil
		})
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the available chat backends",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cfg, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()
		out := cmd.OutOrStdout()
		for _, info := range a.Providers() {
			active := " "
			if info.ID == cfg.Provider.ID {
				active = "*"
			}
			fmt.Fprintf(out, "%s %-6s %-8s %s\n", active, info.ID, info.Name, info.Description)
		}
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the offline history cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every cached conversation and message",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cfg, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.PurgeCache(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "cache purged")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(conversationsCmd, providersCmd, cacheCmd)
}
