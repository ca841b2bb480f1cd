package app

import (
	"context"
	"errors"
	"strings"

	"Murmur/pkg/models"
	"Murmur/pkg/store"
	"Murmur/pkg/timeline"
	"Murmur/pkg/virtualizer"
)

func (a *App) started() error {
	if a.engine == nil {
		return ErrNotStarted
	}
	return nil
}

// Store exposes the client state for read access and subscriptions.
func (a *App) Store() *store.Store {
	return a.store
}

// Conversations returns the conversation list, most recent first.
func (a *App) Conversations() []models.Conversation {
	if a.store == nil {
		return nil
	}
	return a.store.Conversations()
}

// Open makes a conversation active. When cached history exists it is shown first and
// then caught up with the server; otherwise the latest page is fetched.
func (a *App) Open(ctx context.Context, conversationID string) error {
	if err := a.started(); err != nil {
		return err
	}
	if !a.hydrateMessages(conversationID) {
		return a.engine.Open(ctx, conversationID)
	}
	a.store.SetActiveConversation(conversationID)

	_, err := a.engine.Paginator.LoadNewer(ctx, conversationID)
	switch {
	case err == nil, errors.Is(err, timeline.ErrExhausted), errors.Is(err, timeline.ErrInFlight):
		return nil
	default:
		// the cached tail is unknown to the server; start over from the latest page
		a.logger.Warnf("catch-up of cached %s failed, reloading: %v", conversationID, err)
		a.engine.Paginator.ReplaceWithContext(conversationID, nil, true, false)
		_, err = a.engine.Paginator.LoadInitial(ctx, conversationID)
		return err
	}
}

// Messages returns the loaded window of a conversation.
func (a *App) Messages(conversationID string) []models.Message {
	if a.store == nil {
		return nil
	}
	return a.store.Messages(conversationID)
}

// Window returns the virtualized list of a conversation.
func (a *App) Window(conversationID string) (*virtualizer.Window, error) {
	if err := a.started(); err != nil {
		return nil, err
	}
	return a.viewport.Window(conversationID), nil
}

// Send sends a text message optimistically.
func (a *App) Send(ctx context.Context, conversationID, text string, opts ...timeline.SendOption) (models.Message, error) {
	if err := a.started(); err != nil {
		return models.Message{}, err
	}
	return a.engine.Sender.SendText(ctx, conversationID, text, opts...)
}

// SendFile sends already uploaded media, as an image when the mime type says so.
func (a *App) SendFile(ctx context.Context, conversationID string, media timeline.Media, opts ...timeline.SendOption) (models.Message, error) {
	if err := a.started(); err != nil {
		return models.Message{}, err
	}
	if strings.HasPrefix(media.MimeType, "image/") {
		return a.engine.Sender.SendImage(ctx, conversationID, media, opts...)
	}
	return a.engine.Sender.SendFile(ctx, conversationID, media, opts...)
}

// Resend retries a failed send.
func (a *App) Resend(ctx context.Context, conversationID, tempID string) (models.Message, error) {
	if err := a.started(); err != nil {
		return models.Message{}, err
	}
	return a.engine.Sender.Resend(ctx, conversationID, tempID)
}

// WaitSends blocks until every outstanding send has resolved.
func (a *App) WaitSends() {
	if a.engine != nil {
		a.engine.Sender.Wait()
	}
}

// LoadOlder fetches the page before the oldest loaded message.
func (a *App) LoadOlder(ctx context.Context, conversationID string) (timeline.PageResult, error) {
	if err := a.started(); err != nil {
		return timeline.PageResult{}, err
	}
	return a.engine.Paginator.LoadOlder(ctx, conversationID)
}

// LoadNewer fetches the page after the newest loaded message.
func (a *App) LoadNewer(ctx context.Context, conversationID string) (timeline.PageResult, error) {
	if err := a.started(); err != nil {
		return timeline.PageResult{}, err
	}
	return a.engine.Paginator.LoadNewer(ctx, conversationID)
}

// Jump brings a message into view, loading its surrounding context when needed.
func (a *App) Jump(ctx context.Context, conversationID, messageID string) error {
	if err := a.started(); err != nil {
		return err
	}
	return a.engine.Jumper.Jump(ctx, conversationID, messageID)
}

// MarkRead marks the whole conversation read.
func (a *App) MarkRead(ctx context.Context, conversationID string) error {
	if err := a.started(); err != nil {
		return err
	}
	return a.engine.MarkRead(ctx, conversationID)
}

// Notify logs the notification and forwards it to the UI notifier.
func (a *App) Notify(level timeline.NotifyLevel, message string) {
	if level == timeline.NotifyError {
		a.logger.Warnf("notify: %s", message)
	} else {
		a.logger.Infof("notify: %s", message)
	}
	if a.opts.Notifier != nil {
		a.opts.Notifier.Notify(level, message)
	}
}

// LeaveConversation releases the window of a conversation that went away.
func (a *App) LeaveConversation(conversationID string) {
	a.logger.Infof("left conversation %s", conversationID)
	if a.viewport != nil {
		a.viewport.Release(conversationID)
	}
	if a.opts.Navigator != nil {
		a.opts.Navigator.LeaveConversation(conversationID)
	}
}

// SetHighlight forwards a jump highlight to the UI.
func (a *App) SetHighlight(conversationID, messageID string) {
	a.logger.Debugf("highlight %s in %s", messageID, conversationID)
	if a.opts.Highlighter != nil {
		a.opts.Highlighter.SetHighlight(conversationID, messageID)
	}
}

// ClearHighlight removes a highlight once its timer expires or a newer jump replaces it.
func (a *App) ClearHighlight(conversationID, messageID string) {
	if a.opts.Highlighter != nil {
		a.opts.Highlighter.ClearHighlight(conversationID, messageID)
	}
}
