package timeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Murmur/pkg/core"
	"Murmur/pkg/logging"
	"Murmur/pkg/metrics"
	"Murmur/pkg/models"
	"Murmur/pkg/store"
)

// PageResult summarizes one pagination step.
type PageResult struct {
	Added    int  // New unique messages merged into the window
	HasMore  bool // More messages exist in the requested direction
	Received int  // Messages returned by the server
}

type cursorKey struct {
	conversationID string
	direction      store.Direction
}

// Paginator loads history pages in both directions and merges them into the store.
// At most one request per (conversation, direction) is in flight; overlapping calls
// are rejected with ErrInFlight.
type Paginator struct {
	store    *store.Store
	provider core.Provider
	pageSize int
	cooldown time.Duration
	now      func() time.Time
	logger   *logging.Logger
	metrics  *metrics.Metrics

	mu sync.Mutex
	// cursors that produced a page with nothing new while the server still reported more
	failedCursors map[cursorKey]map[string]struct{}
	completed     map[cursorKey]time.Time
}

// NewPaginator creates a pagination controller.
func NewPaginator(st *store.Store, provider core.Provider, cfg Config, deps Deps) *Paginator {
	cfg = cfg.withDefaults()
	deps = deps.withDefaults()
	return &Paginator{
		store:         st,
		provider:      provider,
		pageSize:      cfg.PageSize,
		cooldown:      cfg.PageCooldown,
		now:           deps.Now,
		logger:        deps.Logger,
		metrics:       deps.Metrics,
		failedCursors: make(map[cursorKey]map[string]struct{}),
		completed:     make(map[cursorKey]time.Time),
	}
}

// LoadOlder fetches the page before the oldest loaded message.
func (p *Paginator) LoadOlder(ctx context.Context, conversationID string) (PageResult, error) {
	return p.load(ctx, conversationID, store.Older)
}

// LoadNewer fetches the page after the newest loaded message. Live messages arrive as
// events, so this is only needed after a jump left the window detached from the tail.
func (p *Paginator) LoadNewer(ctx context.Context, conversationID string) (PageResult, error) {
	return p.load(ctx, conversationID, store.Newer)
}

// LoadInitial fetches the latest page of a conversation and merges it with whatever
// real-time events or sends already placed in the window.
func (p *Paginator) LoadInitial(ctx context.Context, conversationID string) (PageResult, error) {
	release, ok := p.store.TryAcquire(conversationID, store.Older)
	if !ok {
		p.metrics.Page("initial", "dropped", 0)
		return PageResult{}, ErrInFlight
	}
	defer release()
	defer p.markCompleted(conversationID, store.Older)

	gen := p.generation(conversationID)
	page, err := p.provider.FetchMessages(ctx, conversationID, core.MessageQuery{Limit: p.pageSize})
	if err != nil {
		p.metrics.Page("initial", "error", 0)
		return PageResult{}, fmt.Errorf("fetch initial page of %s: %w", conversationID, err)
	}

	res := PageResult{Received: len(page.Messages), HasMore: page.HasMore}
	stale := false
	p.store.Update(conversationID, func(w *store.Window) bool {
		if w.Generation != gen {
			stale = true
			return false
		}
		res.Added = mergeUnique(w, page.Messages)
		w.HasMore = page.HasMore
		w.HasAfter = false
		w.AfterCursor = newestID(page.Messages)
		w.Loaded = true
		return true
	})
	if stale {
		p.metrics.Page("initial", "stale", 0)
		return PageResult{}, ErrStaleWindow
	}
	p.resetCursors(conversationID)
	p.metrics.Page("initial", "ok", res.Added)
	return res, nil
}

func (p *Paginator) load(ctx context.Context, conversationID string, dir store.Direction) (PageResult, error) {
	w, ok := p.store.Window(conversationID)
	if !ok || !w.Loaded {
		return p.LoadInitial(ctx, conversationID)
	}
	more := w.HasMore
	if dir == store.Newer {
		more = w.HasAfter
	}
	if !more {
		return PageResult{}, ErrExhausted
	}
	if p.coolingDown(conversationID, dir) {
		p.metrics.Page(dir.String(), "dropped", 0)
		return PageResult{}, ErrInFlight
	}

	release, ok := p.store.TryAcquire(conversationID, dir)
	if !ok {
		p.metrics.Page(dir.String(), "dropped", 0)
		return PageResult{}, ErrInFlight
	}
	defer release()
	defer p.markCompleted(conversationID, dir)

	cursor := p.cursor(conversationID, &w, dir)
	if cursor == "" {
		// every candidate cursor failed; start over from the latest page
		p.resetCursors(conversationID)
		release()
		return p.LoadInitial(ctx, conversationID)
	}

	query := core.MessageQuery{Limit: p.pageSize}
	if dir == store.Older {
		query.Before = cursor
	} else {
		query.After = cursor
	}
	page, err := p.provider.FetchMessages(ctx, conversationID, query)
	if err != nil {
		p.metrics.Page(dir.String(), "error", 0)
		return PageResult{}, fmt.Errorf("fetch %s page of %s: %w", dir, conversationID, err)
	}

	res := PageResult{Received: len(page.Messages), HasMore: page.HasMore}
	stale := false
	p.store.Update(conversationID, func(cur *store.Window) bool {
		if cur.Generation != w.Generation {
			stale = true
			return false
		}
		res.Added = mergeUnique(cur, page.Messages)
		changed := res.Added > 0
		if dir == store.Older && cur.HasMore != page.HasMore {
			cur.HasMore = page.HasMore
			changed = true
		}
		if dir == store.Newer && cur.HasAfter != page.HasMore {
			cur.HasAfter = page.HasMore
			changed = true
		}
		if dir == store.Newer {
			if id := newestID(page.Messages); id != "" {
				cur.AfterCursor = id
			}
		}
		return changed
	})
	if stale {
		p.metrics.Page(dir.String(), "stale", 0)
		return PageResult{}, ErrStaleWindow
	}

	if res.Added == 0 && page.HasMore {
		p.logger.Warnf("paginator: %s page of %s before/after %s had nothing new, resetting cursor", dir, conversationID, cursor)
		p.markCursorFailed(conversationID, dir, cursor)
	} else if res.Added > 0 {
		p.clearFailed(conversationID, dir)
	}
	p.metrics.Page(dir.String(), "ok", res.Added)
	return res, nil
}

// ReplaceWithContext swaps the whole window for a server-supplied contiguous slice and
// resets both pagination flags.
func (p *Paginator) ReplaceWithContext(conversationID string, messages []models.Message, hasBefore, hasAfter bool) {
	p.store.Update(conversationID, func(w *store.Window) bool {
		w.Messages = w.Messages[:0:0]
		mergeUnique(w, messages)
		w.HasMore = hasBefore
		w.HasAfter = hasAfter
		w.AfterCursor = newestID(messages)
		w.Loaded = true
		w.Generation++
		return true
	})
	p.resetCursors(conversationID)
}

// cursor picks the boundary message id for a page request: the oldest (or newest)
// confirmed message whose id has not already produced an empty page. Newer pages
// start from the newest server-delivered message, never from a live arrival or a
// send that landed past it.
func (p *Paginator) cursor(conversationID string, w *store.Window, dir store.Direction) string {
	msgs := w.Messages
	p.mu.Lock()
	failed := p.failedCursors[cursorKey{conversationID, dir}]
	p.mu.Unlock()

	pick := func(m *models.Message) bool {
		if m.IsProvisional() || m.ID == "" {
			return false
		}
		_, bad := failed[m.ID]
		return !bad
	}
	if dir == store.Older {
		for i := range msgs {
			if pick(&msgs[i]) {
				return msgs[i].ID
			}
		}
		return ""
	}
	last := len(msgs) - 1
	if w.AfterCursor != "" {
		if idx := findByID(msgs, w.AfterCursor); idx >= 0 {
			last = idx
		}
	}
	for i := last; i >= 0; i-- {
		if pick(&msgs[i]) {
			return msgs[i].ID
		}
	}
	return ""
}

func (p *Paginator) coolingDown(conversationID string, dir store.Direction) bool {
	if p.cooldown <= 0 {
		return false
	}
	p.mu.Lock()
	last, ok := p.completed[cursorKey{conversationID, dir}]
	p.mu.Unlock()
	return ok && p.now().Sub(last) < p.cooldown
}

func (p *Paginator) markCompleted(conversationID string, dir store.Direction) {
	if p.cooldown <= 0 {
		return
	}
	p.mu.Lock()
	p.completed[cursorKey{conversationID, dir}] = p.now()
	p.mu.Unlock()
}

func (p *Paginator) markCursorFailed(conversationID string, dir store.Direction, cursor string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := cursorKey{conversationID, dir}
	if p.failedCursors[key] == nil {
		p.failedCursors[key] = make(map[string]struct{})
	}
	p.failedCursors[key][cursor] = struct{}{}
}

func (p *Paginator) clearFailed(conversationID string, dir store.Direction) {
	p.mu.Lock()
	delete(p.failedCursors, cursorKey{conversationID, dir})
	p.mu.Unlock()
}

func (p *Paginator) resetCursors(conversationID string) {
	p.clearFailed(conversationID, store.Older)
	p.clearFailed(conversationID, store.Newer)
}

func (p *Paginator) generation(conversationID string) uint64 {
	w, _ := p.store.Window(conversationID)
	return w.Generation
}

// mergeUnique adds the messages whose identity is not present yet and returns how many
// were added. Ordering is restored by the store after the mutation.
// newestID returns the id of the latest confirmed message in a server batch.
func newestID(msgs []models.Message) string {
	var newest *models.Message
	for i := range msgs {
		m := &msgs[i]
		if m.ID == "" || m.IsProvisional() {
			continue
		}
		if newest == nil || m.CreatedAt.After(newest.CreatedAt) ||
			(m.CreatedAt.Equal(newest.CreatedAt) && m.ID > newest.ID) {
			newest = m
		}
	}
	if newest == nil {
		return ""
	}
	return newest.ID
}

func mergeUnique(w *store.Window, incoming []models.Message) int {
	added := 0
	for _, m := range incoming {
		if m.ID == "" {
			continue
		}
		if idx, _ := models.FindMatch(w.Messages, &m); idx >= 0 {
			continue
		}
		in := m.Clone()
		if in.LocalKey == "" {
			in.LocalKey = in.Identity()
		}
		w.Messages = append(w.Messages, in)
		added++
	}
	return added
}
