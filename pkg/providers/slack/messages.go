// Package slack provides message handling for the Slack provider.
package slack

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"Murmur/pkg/core"
	"Murmur/pkg/models"
)

// sendMetadataType tags messages posted by this client so their temp id survives the
// round trip through Slack.
const sendMetadataType = "murmur_send"

// maxForwardPages bounds how many pages are walked to serve an "after" cursor.
const maxForwardPages = 10

// FetchMessages retrieves one page of history. Slack returns newest first; pages are
// reversed to ascending order.
func (p *SlackProvider) FetchMessages(ctx context.Context, conversationID string, query core.MessageQuery) (*core.MessagePage, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversation ID is required")
	}
	client, err := p.api()
	if err != nil {
		return nil, err
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}

	if query.After != "" {
		msgs, more, err := p.fetchAfter(ctx, client, conversationID, query.After, limit)
		if err != nil {
			return nil, err
		}
		return &core.MessagePage{Messages: msgs, HasMore: more}, nil
	}

	params := &slack.GetConversationHistoryParameters{
		ChannelID:          conversationID,
		Latest:             query.Before,
		Limit:              limit,
		IncludeAllMetadata: true,
	}
	history, err := client.GetConversationHistoryContext(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get history of %s: %w", conversationID, err)
	}
	msgs := p.convertHistory(history.Messages, conversationID)
	if query.Before == "" && len(msgs) > 0 {
		p.advanceWatermark(conversationID, msgs[len(msgs)-1].ID)
	}
	p.log("SlackProvider.FetchMessages: %d messages for %s (before=%q, has_more=%v)\n", len(msgs), conversationID, query.Before, history.HasMore)
	return &core.MessagePage{Messages: msgs, HasMore: history.HasMore}, nil
}

// fetchAfter returns the limit messages immediately newer than ts. Slack only pages
// backwards from the newest message, so the range is walked and its oldest end kept.
func (p *SlackProvider) fetchAfter(ctx context.Context, client *slack.Client, conversationID, ts string, limit int) ([]models.Message, bool, error) {
	params := &slack.GetConversationHistoryParameters{
		ChannelID:          conversationID,
		Oldest:             ts,
		Limit:              200,
		IncludeAllMetadata: true,
	}
	var raw []slack.Message
	for page := 0; page < maxForwardPages; page++ {
		history, err := client.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return nil, false, fmt.Errorf("failed to get history of %s: %w", conversationID, err)
		}
		raw = append(raw, history.Messages...)
		if !history.HasMore || history.ResponseMetaData.NextCursor == "" {
			break
		}
		params.Cursor = history.ResponseMetaData.NextCursor
	}
	msgs := p.convertHistory(raw, conversationID)
	if len(msgs) > limit {
		return msgs[:limit], true, nil
	}
	return msgs, false, nil
}

// FetchMessageContext returns up to query.Before messages before the target, the
// target itself, and up to query.After messages after it. An unknown target yields an
// empty slice.
func (p *SlackProvider) FetchMessageContext(ctx context.Context, conversationID string, query core.ContextQuery) (*core.MessageContext, error) {
	client, err := p.api()
	if err != nil {
		return nil, err
	}
	older, err := client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID:          conversationID,
		Latest:             query.TargetID,
		Inclusive:          true,
		Limit:              query.Before + 1,
		IncludeAllMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get context of %s: %w", query.TargetID, err)
	}
	if len(older.Messages) == 0 || older.Messages[0].Timestamp != query.TargetID {
		return &core.MessageContext{Messages: []models.Message{}}, nil
	}

	before := p.convertHistory(older.Messages, conversationID)
	after, hasAfter, err := p.fetchAfter(ctx, client, conversationID, query.TargetID, query.After)
	if err != nil {
		return nil, err
	}
	return &core.MessageContext{
		Messages:  append(before, after...),
		HasBefore: older.HasMore,
		HasAfter:  hasAfter,
	}, nil
}

// SendMessage posts a message. The temp id travels in the message metadata and is
// echoed on the returned copy.
func (p *SlackProvider) SendMessage(ctx context.Context, conversationID string, req core.SendRequest) (*models.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid send request: %w", err)
	}
	client, err := p.api()
	if err != nil {
		return nil, err
	}

	text := req.Content
	if req.MediaURL != "" {
		text = strings.TrimSpace(text + "\n" + req.MediaURL)
	}
	opts := []slack.MsgOption{
		slack.MsgOptionText(text, false),
		slack.MsgOptionMetadata(slack.SlackMetadata{
			EventType:    sendMetadataType,
			EventPayload: map[string]interface{}{"temp_id": req.TempID},
		}),
	}
	if req.ReplyToID != nil && *req.ReplyToID != "" {
		opts = append(opts, slack.MsgOptionTS(*req.ReplyToID))
	}

	_, timestamp, err := client.PostMessageContext(ctx, conversationID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to post message: %w", err)
	}

	created := parseSlackTimestamp(timestamp)
	return &models.Message{
		ID:             timestamp,
		TempID:         req.TempID,
		ConversationID: conversationID,
		SenderID:       p.CurrentUserID(),
		SenderType:     models.SenderUser,
		MessageType:    req.MessageType,
		Content:        req.Content,
		MediaURL:       req.MediaURL,
		FileName:       req.FileName,
		FileSize:       req.FileSize,
		MimeType:       req.MimeType,
		StickerID:      req.StickerID,
		Status:         models.StatusSent,
		CreatedAt:      created,
		UpdatedAt:      created,
		ReplyToID:      req.ReplyToID,
		Metadata:       map[string]interface{}{"temp_id": req.TempID},
	}, nil
}

// convertHistory converts a newest-first Slack page into ascending messages.
func (p *SlackProvider) convertHistory(raw []slack.Message, conversationID string) []models.Message {
	out := make([]models.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		out = append(out, p.convertSlackMessage(raw[i], conversationID))
	}
	models.SortMessages(out)
	return out
}

func (p *SlackProvider) convertSlackMessage(msg slack.Message, conversationID string) models.Message {
	created := parseSlackTimestamp(msg.Timestamp)
	out := models.Message{
		ID:             msg.Timestamp,
		ConversationID: conversationID,
		SenderID:       msg.User,
		SenderType:     models.SenderUser,
		MessageType:    models.MessageTypeText,
		Content:        msg.Text,
		Status:         models.StatusSent,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	if out.SenderID == "" {
		out.SenderID = msg.BotID
	}
	switch msg.SubType {
	case "", "thread_broadcast", "file_share", "me_message":
	case "bot_message":
		out.SenderType = models.SenderBusiness
	case "tombstone":
		models.Tombstone(&out, created)
	default:
		out.SenderType = models.SenderSystem
	}
	if msg.Edited != nil {
		out.IsEdited = true
		out.EditCount = 1
		out.UpdatedAt = parseSlackTimestamp(msg.Edited.Timestamp)
	}
	if msg.ThreadTimestamp != "" && msg.ThreadTimestamp != msg.Timestamp {
		parent := msg.ThreadTimestamp
		out.ReplyToID = &parent
	}
	if len(msg.Files) > 0 {
		f := msg.Files[0]
		out.MessageType = models.MessageTypeFile
		if strings.HasPrefix(f.Mimetype, "image/") {
			out.MessageType = models.MessageTypeImage
		}
		out.MediaURL = f.URLPrivate
		out.ThumbnailURL = f.Thumb360
		out.FileName = f.Name
		out.FileSize = int64(f.Size)
		out.MimeType = f.Mimetype
	}
	if msg.Metadata.EventType == sendMetadataType {
		out.Metadata = msg.Metadata.EventPayload
		out.TempID = core.TempIDFromMetadata(msg.Metadata.EventPayload)
	}
	return out
}

// parseSlackTimestamp converts a "seconds.micros" ts into a time without going through
// a float.
func parseSlackTimestamp(tsStr string) time.Time {
	secStr, fracStr, _ := strings.Cut(tsStr, ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nsec int64
	if fracStr != "" {
		fracStr = (fracStr + "000000000")[:9]
		nsec, _ = strconv.ParseInt(fracStr, 10, 64)
	}
	return time.Unix(sec, nsec).UTC()
}
