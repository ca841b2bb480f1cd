// Package timeline keeps each conversation's message list consistent across optimistic
// sends, send confirmations, real-time events and history pagination.
package timeline

import (
	"context"
	"errors"
	"time"

	"Murmur/pkg/core"
	"Murmur/pkg/logging"
	"Murmur/pkg/metrics"
	"Murmur/pkg/store"
)

var (
	// ErrInFlight is returned when a page request for the same conversation and direction
	// is already outstanding. The call is dropped, not queued.
	ErrInFlight = errors.New("page request already in flight")
	// ErrExhausted is returned when the server reported no more messages in that direction.
	ErrExhausted = errors.New("no more messages in this direction")
	// ErrStaleWindow is returned when the window was replaced while a page was loading.
	ErrStaleWindow = errors.New("window replaced while loading")
	// ErrTargetNotFound is returned when a jump target is absent from the server context.
	ErrTargetNotFound = errors.New("message not found")
	// ErrEmptyMessage is returned for a send without content.
	ErrEmptyMessage = errors.New("message has no content")
	// ErrNotFailed is returned when resending or discarding a message that did not fail.
	ErrNotFailed = errors.New("message is not a failed send")
)

// Config tunes the timeline components.
type Config struct {
	PageSize          int           `yaml:"page_size"`          // Messages per history page
	ContextBefore     int           `yaml:"context_before"`     // Messages fetched before a jump target
	ContextAfter      int           `yaml:"context_after"`      // Messages fetched after a jump target
	HighlightDuration time.Duration `yaml:"highlight_duration"` // How long a jump target stays highlighted
	SettleTimeout     time.Duration `yaml:"settle_timeout"`     // Upper bound on waiting for the renderer after a jump
	// PageCooldown drops page requests arriving this soon after the previous one in the
	// same direction completed. Zero disables it.
	PageCooldown time.Duration `yaml:"page_cooldown"`
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		PageSize:          20,
		ContextBefore:     20,
		ContextAfter:      20,
		HighlightDuration: 2 * time.Second,
		SettleTimeout:     time.Second,
		PageCooldown:      250 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	if c.ContextBefore <= 0 {
		c.ContextBefore = def.ContextBefore
	}
	if c.ContextAfter <= 0 {
		c.ContextAfter = def.ContextAfter
	}
	if c.HighlightDuration <= 0 {
		c.HighlightDuration = def.HighlightDuration
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = def.SettleTimeout
	}
	return c
}

// Navigator moves the user away from a conversation that no longer exists.
type Navigator interface {
	LeaveConversation(conversationID string)
}

// NotifyLevel is the severity of a user-visible notification.
type NotifyLevel string

const (
	NotifyInfo  NotifyLevel = "info"
	NotifyError NotifyLevel = "error"
)

// Notifier surfaces messages to the user.
type Notifier interface {
	Notify(level NotifyLevel, message string)
}

// Viewport is the part of the render layer the jump controller drives.
type Viewport interface {
	// WaitSettled blocks until the renderer has laid out the current window of the conversation.
	WaitSettled(ctx context.Context, conversationID string) error
	// ScrollTo brings the message with the given id into view. It returns false when the
	// message is not part of the rendered window.
	ScrollTo(conversationID, messageID string) bool
}

// Highlighter marks a message as the target of a jump.
type Highlighter interface {
	SetHighlight(conversationID, messageID string)
	ClearHighlight(conversationID, messageID string)
}

// Deps are the collaborators shared by the timeline components. Nil fields are replaced
// with no-op implementations.
type Deps struct {
	Logger      *logging.Logger
	Metrics     *metrics.Metrics
	Navigator   Navigator
	Notifier    Notifier
	Viewport    Viewport
	Highlighter Highlighter
	Now         func() time.Time
	NewTempID   func() string
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Navigator == nil {
		d.Navigator = nopNavigator{}
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Viewport == nil {
		d.Viewport = nopViewport{}
	}
	if d.Highlighter == nil {
		d.Highlighter = nopHighlighter{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewTempID == nil {
		d.NewTempID = NewTempID
	}
	return d
}

type nopNavigator struct{}

func (nopNavigator) LeaveConversation(string) {}

type nopNotifier struct{}

func (nopNotifier) Notify(NotifyLevel, string) {}

type nopViewport struct{}

func (nopViewport) WaitSettled(context.Context, string) error { return nil }
func (nopViewport) ScrollTo(string, string) bool             { return true }

type nopHighlighter struct{}

func (nopHighlighter) SetHighlight(string, string)   {}
func (nopHighlighter) ClearHighlight(string, string) {}

// Engine bundles the timeline components around one store and provider.
type Engine struct {
	Store      *store.Store
	Reconciler *Reconciler
	Sender     *Sender
	Paginator  *Paginator
	Jumper     *Jumper

	provider core.Provider
	logger   *logging.Logger
}

// New wires the timeline components together.
func New(st *store.Store, provider core.Provider, cfg Config, deps Deps) *Engine {
	cfg = cfg.withDefaults()
	deps = deps.withDefaults()

	rec := NewReconciler(st, deps)
	pag := NewPaginator(st, provider, cfg, deps)
	return &Engine{
		Store:      st,
		Reconciler: rec,
		Sender:     NewSender(st, provider, rec, deps),
		Paginator:  pag,
		Jumper:     NewJumper(st, provider, pag, cfg, deps),
		provider:   provider,
		logger:     deps.Logger,
	}
}

// Open makes a conversation the active one and loads its first page when nothing is loaded yet.
func (e *Engine) Open(ctx context.Context, conversationID string) error {
	e.Store.SetActiveConversation(conversationID)
	if w, ok := e.Store.Window(conversationID); ok && w.Loaded {
		return nil
	}
	_, err := e.Paginator.LoadInitial(ctx, conversationID)
	if errors.Is(err, ErrInFlight) {
		return nil
	}
	return err
}

// MarkRead tells the server the local user read the whole conversation, then applies the
// same change locally.
func (e *Engine) MarkRead(ctx context.Context, conversationID string) error {
	if err := e.provider.MarkAllRead(ctx, conversationID); err != nil {
		e.logger.Warnf("mark read failed for %s: %v", conversationID, err)
		return err
	}
	e.Reconciler.Apply(core.MessageReadAllEvent{ConversationID: conversationID, ReaderID: e.Store.CurrentUserID()})
	return nil
}

// Close waits for outstanding sends and cancels pending highlight timers.
func (e *Engine) Close() {
	e.Sender.Wait()
	e.Jumper.Close()
}
