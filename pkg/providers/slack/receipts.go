package slack

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// MarkAllRead moves the read cursor of the conversation to its newest message.
func (p *SlackProvider) MarkAllRead(ctx context.Context, conversationID string) error {
	client, err := p.api()
	if err != nil {
		return err
	}
	history, err := client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: conversationID,
		Limit:     1,
	})
	if err != nil {
		return fmt.Errorf("failed to read latest message of %s: %w", conversationID, err)
	}
	if len(history.Messages) == 0 {
		return nil
	}
	if err := client.MarkConversationContext(ctx, conversationID, history.Messages[0].Timestamp); err != nil {
		return fmt.Errorf("failed to mark %s read: %w", conversationID, err)
	}
	return nil
}
