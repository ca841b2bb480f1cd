package timeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Murmur/pkg/core"
	"Murmur/pkg/logging"
	"Murmur/pkg/metrics"
	"Murmur/pkg/store"
)

// Jumper brings an arbitrary message into view, loading the history around it when it
// is not part of the current window.
type Jumper struct {
	store       *store.Store
	provider    core.Provider
	paginator   *Paginator
	cfg         Config
	viewport    Viewport
	highlighter Highlighter
	notifier    Notifier
	logger      *logging.Logger
	metrics     *metrics.Metrics

	mu        sync.Mutex
	highlight *pendingHighlight
}

type pendingHighlight struct {
	conversationID string
	messageID      string
	timer          *time.Timer
}

// NewJumper creates a jump-to-message controller.
func NewJumper(st *store.Store, provider core.Provider, pag *Paginator, cfg Config, deps Deps) *Jumper {
	deps = deps.withDefaults()
	return &Jumper{
		store:       st,
		provider:    provider,
		paginator:   pag,
		cfg:         cfg.withDefaults(),
		viewport:    deps.Viewport,
		highlighter: deps.Highlighter,
		notifier:    deps.Notifier,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
	}
}

// Jump scrolls to targetID. A target already in the window is scrolled to without any
// request; otherwise the window is replaced by the server context around the target.
// Failures are reported through the notifier and leave the window as it was.
func (j *Jumper) Jump(ctx context.Context, conversationID, targetID string) error {
	if _, ok := j.store.FindMessage(conversationID, targetID); ok {
		if !j.viewport.ScrollTo(conversationID, targetID) {
			j.notifier.Notify(NotifyError, "Message is not available")
			j.metrics.Jump("not_rendered")
			return fmt.Errorf("%w: %s not rendered", ErrTargetNotFound, targetID)
		}
		j.flash(conversationID, targetID)
		j.metrics.Jump("local")
		return nil
	}

	window, err := j.provider.FetchMessageContext(ctx, conversationID, core.ContextQuery{
		TargetID: targetID,
		Before:   j.cfg.ContextBefore,
		After:    j.cfg.ContextAfter,
	})
	if err != nil {
		j.logger.Warnf("jump: context fetch for %s in %s failed: %v", targetID, conversationID, err)
		j.notifier.Notify(NotifyError, "Could not load the message")
		j.metrics.Jump("error")
		return fmt.Errorf("fetch context of %s: %w", targetID, err)
	}

	found := false
	for i := range window.Messages {
		if window.Messages[i].ID == targetID || window.Messages[i].TempID == targetID {
			found = true
			break
		}
	}
	if !found {
		j.notifier.Notify(NotifyError, "Message not found")
		j.metrics.Jump("not_found")
		return fmt.Errorf("%w: %s", ErrTargetNotFound, targetID)
	}

	j.paginator.ReplaceWithContext(conversationID, window.Messages, window.HasBefore, window.HasAfter)

	settleCtx, cancel := context.WithTimeout(ctx, j.cfg.SettleTimeout)
	err = j.viewport.WaitSettled(settleCtx, conversationID)
	cancel()
	if err != nil {
		j.logger.Debugf("jump: renderer did not settle for %s: %v", conversationID, err)
	}

	if !j.viewport.ScrollTo(conversationID, targetID) {
		j.notifier.Notify(NotifyError, "Message not found")
		j.metrics.Jump("not_rendered")
		return fmt.Errorf("%w: %s not rendered", ErrTargetNotFound, targetID)
	}
	j.flash(conversationID, targetID)
	j.metrics.Jump("context")
	return nil
}

// flash highlights a message and clears it after the configured duration. A newer
// highlight replaces an older one immediately.
func (j *Jumper) flash(conversationID, messageID string) {
	j.mu.Lock()
	if prev := j.highlight; prev != nil {
		prev.timer.Stop()
		j.highlighter.ClearHighlight(prev.conversationID, prev.messageID)
	}
	j.highlighter.SetHighlight(conversationID, messageID)
	h := &pendingHighlight{conversationID: conversationID, messageID: messageID}
	j.highlight = h
	h.timer = time.AfterFunc(j.cfg.HighlightDuration, func() { j.clear(h) })
	j.mu.Unlock()
}

func (j *Jumper) clear(h *pendingHighlight) {
	j.mu.Lock()
	if j.highlight != h {
		j.mu.Unlock()
		return
	}
	j.highlight = nil
	j.mu.Unlock()
	j.highlighter.ClearHighlight(h.conversationID, h.messageID)
}

// Close clears any pending highlight.
func (j *Jumper) Close() {
	j.mu.Lock()
	h := j.highlight
	j.highlight = nil
	j.mu.Unlock()
	if h != nil {
		h.timer.Stop()
		j.highlighter.ClearHighlight(h.conversationID, h.messageID)
	}
}
