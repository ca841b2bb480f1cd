package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"Murmur/pkg/app"
	"Murmur/pkg/models"
	"Murmur/pkg/timeline"
)

var replyTo string

var sendCmd = &cobra.Command{
	Use:   "send <conversation> <text>...",
	Short: "Send a text message and wait for the server to confirm it",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID := args[0]
		text := strings.Join(args[1:], " ")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Open(ctx, convID); err != nil {
				return err
			}
			var opts []timeline.SendOption
			if replyTo != "" {
				opts = append(opts, timeline.WithReplyTo(replyTo))
			}
			provisional, err := a.Send(ctx, convID, text, opts...)
			if err != nil {
				return err
			}
			a.WaitSends()

			for _, m := range a.Messages(convID) {
				if m.LocalKey != provisional.LocalKey {
					continue
				}
				printMessage(cmd.OutOrStdout(), &m, "")
				if m.Status == models.StatusFailed {
					return fmt.Errorf("message %s was not delivered", provisional.TempID)
				}
				return nil
			}
			return fmt.Errorf("message %s disappeared from the conversation", provisional.TempID)
		})
	},
}

func init() {
	sendCmd.Flags().StringVar(&replyTo, "reply-to", "", "id of the message to reply to")
	rootCmd.AddCommand(sendCmd)
}
