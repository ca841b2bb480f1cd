package virtualizer

import (
	"context"
	"sync"

	"Murmur/pkg/logging"
	"Murmur/pkg/metrics"
	"Murmur/pkg/store"
)

// Renderer is the windowed list primitive drawing the rows.
type Renderer interface {
	// ScrollToIndex brings the row with the given virtual index into view.
	ScrollToIndex(conversationID string, index int)
}

// Settler is implemented by renderers that lay out asynchronously.
type Settler interface {
	WaitSettled(ctx context.Context, conversationID string) error
}

// Viewport owns one attached Window per open conversation and drives the renderer.
// It satisfies the jump controller's viewport contract.
type Viewport struct {
	store    *store.Store
	cfg      Config
	renderer Renderer
	logger   *logging.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	windows map[string]*Window
	detach  map[string]func()
}

// NewViewport creates a viewport over st. renderer may be nil for headless use.
func NewViewport(st *store.Store, cfg Config, renderer Renderer, logger *logging.Logger, m *metrics.Metrics) *Viewport {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Viewport{
		store:    st,
		cfg:      cfg,
		renderer: renderer,
		logger:   logger,
		metrics:  m,
		windows:  make(map[string]*Window),
		detach:   make(map[string]func()),
	}
}

// Window returns the attached window of a conversation, creating it on first use.
func (v *Viewport) Window(conversationID string) *Window {
	v.mu.Lock()
	defer v.mu.Unlock()
	if w, ok := v.windows[conversationID]; ok {
		return w
	}
	w := New(conversationID, v.cfg, WithLogger(v.logger), WithMetrics(v.metrics))
	v.windows[conversationID] = w
	v.detach[conversationID] = w.Attach(v.store)
	return w
}

// Release detaches and forgets the window of a conversation.
func (v *Viewport) Release(conversationID string) {
	v.mu.Lock()
	detach := v.detach[conversationID]
	delete(v.windows, conversationID)
	delete(v.detach, conversationID)
	v.mu.Unlock()
	if detach != nil {
		detach()
	}
}

// WaitSettled blocks until the window reflects the store's current generation and the
// renderer, when it lays out asynchronously, has finished.
func (v *Viewport) WaitSettled(ctx context.Context, conversationID string) error {
	w := v.Window(conversationID)
	sw, _ := v.store.Window(conversationID)
	if err := w.WaitGeneration(ctx, sw.Generation); err != nil {
		return err
	}
	if s, ok := v.renderer.(Settler); ok {
		return s.WaitSettled(ctx, conversationID)
	}
	return nil
}

// ScrollTo scrolls the renderer to a message. It returns false when the message is not
// part of the window.
func (v *Viewport) ScrollTo(conversationID, messageID string) bool {
	idx, ok := v.Window(conversationID).ScrollTarget(messageID)
	if !ok {
		v.logger.Debugf("viewport: %s not in window of %s", messageID, conversationID)
		return false
	}
	if v.renderer != nil {
		v.renderer.ScrollToIndex(conversationID, idx)
	}
	return true
}

// Close detaches every window.
func (v *Viewport) Close() {
	v.mu.Lock()
	detach := v.detach
	v.windows = make(map[string]*Window)
	v.detach = make(map[string]func())
	v.mu.Unlock()
	for _, fn := range detach {
		fn()
	}
}
