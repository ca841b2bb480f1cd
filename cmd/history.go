package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"Murmur/pkg/app"
	"Murmur/pkg/timeline"
)

var (
	historyPages int
	historyNewer bool
	markRead     bool
)

var historyCmd = &cobra.Command{
	Use:   "history <conversation>",
	Short: "Print the loaded history of a conversation",
	Long: `Opens a conversation, loads the latest page and then --pages more pages of
older history (or newer history with --newer), and prints the window.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID := args[0]
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Open(ctx, convID); err != nil {
				return err
			}
			load := a.LoadOlder
			if historyNewer {
				load = a.LoadNewer
			}
			for i := 0; i < historyPages; i++ {
				res, err := load(ctx, convID)
				if errors.Is(err, timeline.ErrExhausted) {
					break
				}
				if errors.Is(err, timeline.ErrInFlight) {
					// still cooling down from the previous page
					time.Sleep(cfg.Timeline.PageCooldown)
					i--
					continue
				}
				if err != nil {
					return err
				}
				if !res.HasMore {
					break
				}
			}

			out := cmd.OutOrStdout()
			w, _ := a.Store().Window(convID)
			if w.HasMore {
				fmt.Fprintln(out, "  ... older messages available")
			}
			printMessages(out, w.Messages, "")
			if w.HasAfter {
				fmt.Fprintln(out, "  ... newer messages available")
			}
			if markRead {
				return a.MarkRead(ctx, convID)
			}
			return nil
		})
	},
}

var jumpCmd = &cobra.Command{
	Use:   "jump <conversation> <message-id>",
	Short: "Load the history around a message and print it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, target := args[0], args[1]
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Open(ctx, convID); err != nil {
				return err
			}
			if err := a.Jump(ctx, convID, target); err != nil {
				return err
			}
			win, err := a.Window(convID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if idx, ok := win.IndexOf(target); ok {
				fmt.Fprintf(out, "message %s at row %d of %d\n", target, idx-win.FirstItemIndex()+1, win.Len())
			}
			printMessages(out, win.Items(), target)
			return nil
		})
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyPages, "pages", "n", 0, "extra pages to load")
	historyCmd.Flags().BoolVar(&historyNewer, "newer", false, "page towards newer messages")
	historyCmd.Flags().BoolVar(&markRead, "mark-read", false, "mark the conversation read afterwards")
	rootCmd.AddCommand(historyCmd, jumpCmd)
}
