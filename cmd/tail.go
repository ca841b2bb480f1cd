package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"Murmur/pkg/app"
	"Murmur/pkg/store"
)

var tailLines int

var tailCmd = &cobra.Command{
	Use:   "tail <conversation>",
	Short: "Print a conversation and follow new messages until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID := args[0]
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			changed := make(chan struct{}, 1)
			unsubscribe := a.Store().Subscribe(func(c store.Change) {
				if c.ConversationID != convID || c.Kind != store.ChangeMessages {
					return
				}
				select {
				case changed <- struct{}{}:
				default:
				}
			})
			defer unsubscribe()

			if err := a.Open(ctx, convID); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "following %s (%s), ctrl-c to stop\n", convID, a.ConnectionState())
			printed := make(map[string]string) // local key -> last printed status
			msgs := a.Messages(convID)
			for i := range msgs {
				printed[msgs[i].LocalKey] = string(msgs[i].Status)
			}
			if len(msgs) > tailLines {
				msgs = msgs[len(msgs)-tailLines:]
			}
			printMessages(out, msgs, "")

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-changed:
				}
				for _, m := range a.Messages(convID) {
					status, seen := printed[m.LocalKey]
					switch {
					case !seen:
						printMessage(out, &m, "+")
					case status != string(m.Status):
						printMessage(out, &m, "~")
					default:
						continue
					}
					printed[m.LocalKey] = string(m.Status)
				}
			}
		})
	},
}

func init() {
	tailCmd.Flags().IntVarP(&tailLines, "lines", "n", 20, "messages to print before following")
	rootCmd.AddCommand(tailCmd)
}
