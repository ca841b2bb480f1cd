// Package virtualizer maps a conversation's loaded messages onto a stable index space for
// a windowed list renderer and answers row height queries.
//
// Rows are addressed by virtual index: FirstItemIndex() for the first loaded message,
// increasing by one per row. Loading older history lowers the base instead of
// renumbering the rows already on screen, so the renderer keeps its scroll anchor.
package virtualizer

import (
	"context"
	"sync"

	"github.com/samber/lo"

	"Murmur/pkg/logging"
	"Murmur/pkg/metrics"
	"Murmur/pkg/models"
	"Murmur/pkg/store"
)

// Config tunes the virtualization window.
type Config struct {
	InitialIndex    int       `yaml:"initial_index"`    // Base index of a freshly loaded window
	HeightTolerance int       `yaml:"height_tolerance"` // Measurement changes up to this many pixels are ignored
	Estimates       Estimates `yaml:"estimates"`
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		InitialIndex:    100000,
		HeightTolerance: 2,
		Estimates:       DefaultEstimates(),
	}
}

func (c Config) withDefaults() Config {
	if c.InitialIndex <= 0 {
		c.InitialIndex = DefaultConfig().InitialIndex
	}
	if c.HeightTolerance < 0 {
		c.HeightTolerance = 0
	}
	c.Estimates = c.Estimates.withDefaults()
	return c
}

// SyncKind classifies how the message array changed between two syncs.
type SyncKind string

const (
	SyncAppend  SyncKind = "append"  // rows added after the old first row
	SyncPrepend SyncKind = "prepend" // rows added before the old first row; the base moved down
	SyncReplace SyncKind = "replace" // unrelated window; the base was reset
	SyncUpdate  SyncKind = "update"  // rows changed in place or were removed
)

// SyncResult describes one sync.
type SyncResult struct {
	Kind    SyncKind
	Shift   int // Change of FirstItemIndex
	Count   int // Rows after the sync
	Dropped int // Duplicate rows collapsed before layout
}

// Option configures a Window.
type Option func(*Window)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Window) { w.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Window) { w.metrics = m }
}

// Window is the virtualized view of one conversation.
type Window struct {
	conversationID string
	cfg            Config
	heights        *HeightCache
	logger         *logging.Logger
	metrics        *metrics.Metrics

	syncMu sync.Mutex // serializes read-from-store + apply

	mu         sync.RWMutex
	firstIndex int
	items      []models.Message
	byKey      map[string]int // identity and server id -> position
	generation uint64
	synced     chan struct{}
	listeners  []func(SyncResult)
}

// New creates an empty window for a conversation.
func New(conversationID string, cfg Config, opts ...Option) *Window {
	cfg = cfg.withDefaults()
	w := &Window{
		conversationID: conversationID,
		cfg:            cfg,
		firstIndex:     cfg.InitialIndex,
		byKey:          make(map[string]int),
		synced:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logging.Discard()
	}
	w.heights = NewHeightCache(cfg.Estimates, cfg.HeightTolerance, w.metrics)
	return w
}

// ConversationID returns the conversation the window renders.
func (w *Window) ConversationID() string { return w.conversationID }

// OnSync registers fn to run after every sync, outside the window lock.
func (w *Window) OnSync(fn func(SyncResult)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Sync lays out a new message array, detecting prepends and appends against the
// previous one.
func (w *Window) Sync(messages []models.Message) SyncResult {
	w.mu.RLock()
	gen := w.generation
	w.mu.RUnlock()
	return w.apply(messages, gen)
}

// SyncWindow lays out a store window. A generation change means the store replaced the
// window wholesale, which always resets the base.
func (w *Window) SyncWindow(sw store.Window) SyncResult {
	return w.apply(sw.Messages, sw.Generation)
}

// Attach keeps the window in sync with the conversation in st until the returned
// function is called.
func (w *Window) Attach(st *store.Store) (detach func()) {
	unsubscribe := st.Subscribe(func(c store.Change) {
		if c.ConversationID != w.conversationID {
			return
		}
		if c.Kind == store.ChangeMessages || c.Kind == store.ChangeRemoved {
			w.syncFrom(st)
		}
	})
	w.syncFrom(st)
	return unsubscribe
}

func (w *Window) syncFrom(st *store.Store) {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()
	sw, _ := st.Window(w.conversationID)
	w.SyncWindow(sw)
}

func (w *Window) apply(messages []models.Message, gen uint64) SyncResult {
	items, dropped := Dedupe(messages)
	if dropped > 0 {
		w.logger.Warnf("virtualizer: %d duplicate rows collapsed in %s", dropped, w.conversationID)
	}

	w.mu.Lock()
	res := SyncResult{Kind: classify(w.items, items, gen != w.generation), Count: len(items), Dropped: dropped}
	switch res.Kind {
	case SyncReplace:
		res.Shift = w.cfg.InitialIndex - w.firstIndex
	case SyncPrepend:
		res.Shift = -prependedCount(w.items, items)
	}
	w.firstIndex += res.Shift
	w.items = items
	w.generation = gen
	w.byKey = make(map[string]int, len(items)*2)
	for i := range items {
		w.byKey[items[i].Identity()] = i
		if items[i].ID != "" {
			w.byKey[items[i].ID] = i
		}
	}
	if res.Kind == SyncReplace {
		w.heights.Retain(w.byKey)
	}
	close(w.synced)
	w.synced = make(chan struct{})
	listeners := append([]func(SyncResult){}, w.listeners...)
	w.mu.Unlock()

	if res.Kind != SyncUpdate {
		w.logger.Debugf("virtualizer: %s %s rows=%d shift=%d", w.conversationID, res.Kind, res.Count, res.Shift)
	}
	for _, fn := range listeners {
		fn(res)
	}
	return res
}

// classify compares the previous and current arrays. Length grew with the old first row
// still first means an append; old first row found further down means a prepend; an
// array sharing neither the old first nor the old last row is a replacement.
func classify(prev, next []models.Message, regenerated bool) SyncKind {
	if len(prev) == 0 || regenerated {
		return SyncReplace
	}
	if len(next) == 0 {
		return SyncUpdate
	}
	oldFirst := prev[0].Identity()
	pos := position(next, oldFirst)
	switch {
	case pos == 0 && len(next) > len(prev):
		return SyncAppend
	case pos == 0:
		return SyncUpdate
	case pos > 0:
		return SyncPrepend
	case position(next, prev[len(prev)-1].Identity()) < 0:
		return SyncReplace
	case len(next) > len(prev):
		return SyncPrepend
	default:
		return SyncUpdate
	}
}

// prependedCount is how many rows now precede the old first row. When the old first row
// disappeared it falls back to the growth of the array.
func prependedCount(prev, next []models.Message) int {
	if pos := position(next, prev[0].Identity()); pos > 0 {
		return pos
	}
	return len(next) - len(prev)
}

func position(list []models.Message, key string) int {
	_, idx, ok := lo.FindIndexOf(list, func(m models.Message) bool { return m.Identity() == key })
	if !ok {
		return -1
	}
	return idx
}

// FirstItemIndex returns the virtual index of the first loaded row.
func (w *Window) FirstItemIndex() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.firstIndex
}

// Len returns the number of rows.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.items)
}

// Items returns a copy of the deduplicated rows in display order.
func (w *Window) Items() []models.Message {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return lo.Map(w.items, func(m models.Message, _ int) models.Message { return m.Clone() })
}

// IndexOf returns the virtual index of the row with the given identity or server id.
func (w *Window) IndexOf(key string) (int, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	pos, ok := w.byKey[key]
	if !ok {
		return 0, false
	}
	return w.firstIndex + pos, true
}

// ItemAt returns the row at a virtual index.
func (w *Window) ItemAt(index int) (models.Message, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	pos := index - w.firstIndex
	if pos < 0 || pos >= len(w.items) {
		return models.Message{}, false
	}
	return w.items[pos].Clone(), true
}

// ScrollTarget returns the virtual index a renderer should scroll to for a message.
func (w *Window) ScrollTarget(key string) (int, bool) {
	return w.IndexOf(key)
}

// HeightAt returns the height of the row at a virtual index, zero when out of range.
func (w *Window) HeightAt(index int) int {
	w.mu.RLock()
	pos := index - w.firstIndex
	if pos < 0 || pos >= len(w.items) {
		w.mu.RUnlock()
		return 0
	}
	m := w.items[pos]
	w.mu.RUnlock()
	return w.heights.HeightFor(&m)
}

// HeightForMessage returns the measured or estimated height of a message.
func (w *Window) HeightForMessage(m *models.Message) int {
	return w.heights.HeightFor(m)
}

// Measure records a rendered row height by message identity or server id. It returns
// true when the cached height changed.
func (w *Window) Measure(key string, height int) bool {
	w.mu.RLock()
	if pos, ok := w.byKey[key]; ok {
		key = w.items[pos].Identity()
	}
	w.mu.RUnlock()
	return w.heights.Measure(key, height)
}

// MeasureAt records a rendered row height by virtual index.
func (w *Window) MeasureAt(index, height int) bool {
	m, ok := w.ItemAt(index)
	if !ok {
		return false
	}
	return w.heights.Measure(m.Identity(), height)
}

// TotalHeight returns the summed height of all rows.
func (w *Window) TotalHeight() int {
	items := w.snapshot()
	return lo.SumBy(items, func(m models.Message) int { return w.heights.HeightFor(&m) })
}

// OffsetOf returns the pixel offset of a row from the top of the loaded window.
func (w *Window) OffsetOf(index int) int {
	items := w.snapshot()
	first := w.FirstItemIndex()
	offset := 0
	for i := 0; i < index-first && i < len(items); i++ {
		offset += w.heights.HeightFor(&items[i])
	}
	return offset
}

// Generation returns the store generation of the last sync.
func (w *Window) Generation() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.generation
}

// WaitGeneration blocks until a sync at generation gen or later has been applied.
func (w *Window) WaitGeneration(ctx context.Context, gen uint64) error {
	for {
		w.mu.RLock()
		current, ch := w.generation, w.synced
		w.mu.RUnlock()
		if current >= gen {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Window) snapshot() []models.Message {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.items
}
