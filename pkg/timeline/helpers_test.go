package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"Murmur/pkg/core"
	"Murmur/pkg/models"
	"Murmur/pkg/store"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// msgN builds a confirmed message whose creation time follows its number.
func msgN(conv string, n int) models.Message {
	return models.Message{
		ID:             fmt.Sprintf("m%d", n),
		ConversationID: conv,
		SenderID:       "other",
		MessageType:    models.MessageTypeText,
		Content:        fmt.Sprintf("message %d", n),
		Status:         models.StatusSent,
		CreatedAt:      baseTime.Add(time.Duration(n) * time.Second),
	}
}

func msgRange(conv string, from, to int) []models.Message {
	var out []models.Message
	for i := from; i <= to; i++ {
		out = append(out, msgN(conv, i))
	}
	return out
}

type fakeProvider struct {
	mu           sync.Mutex
	pageFn       func(q core.MessageQuery) (*core.MessagePage, error)
	contextFn    func(q core.ContextQuery) (*core.MessageContext, error)
	sendFn       func(req core.SendRequest) (*models.Message, error)
	fetchCalls   []core.MessageQuery
	contextCalls int
	markCalls    int
	sent         []core.SendRequest
	gate         chan struct{}
	entered      chan struct{}
}

func (f *fakeProvider) Init(core.ProviderConfig) error                { return nil }
func (f *fakeProvider) GetConfig() core.ProviderConfig                { return core.ProviderConfig{} }
func (f *fakeProvider) IsAuthenticated() bool                         { return true }
func (f *fakeProvider) CurrentUserID() string                         { return "me" }
func (f *fakeProvider) Connect(context.Context) error                 { return nil }
func (f *fakeProvider) Disconnect() error                             { return nil }
func (f *fakeProvider) StreamEvents() (<-chan core.ProviderEvent, error) { return nil, nil }
func (f *fakeProvider) GetConversations(context.Context) ([]models.Conversation, error) {
	return nil, nil
}

func (f *fakeProvider) FetchMessages(ctx context.Context, _ string, q core.MessageQuery) (*core.MessagePage, error) {
	f.mu.Lock()
	f.fetchCalls = append(f.fetchCalls, q)
	gate, entered, fn := f.gate, f.entered, f.pageFn
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn == nil {
		return &core.MessagePage{}, nil
	}
	return fn(q)
}

func (f *fakeProvider) FetchMessageContext(_ context.Context, _ string, q core.ContextQuery) (*core.MessageContext, error) {
	f.mu.Lock()
	f.contextCalls++
	fn := f.contextFn
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("no context")
	}
	return fn(q)
}

func (f *fakeProvider) SendMessage(_ context.Context, conv string, req core.SendRequest) (*models.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	fn := f.sendFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &models.Message{
		ID:             "srv-" + req.TempID,
		TempID:         req.TempID,
		ConversationID: conv,
		SenderID:       "me",
		MessageType:    req.MessageType,
		Content:        req.Content,
		Status:         models.StatusSent,
	}, nil
}

func (f *fakeProvider) MarkAllRead(context.Context, string) error {
	f.mu.Lock()
	f.markCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetchCalls)
}

func (f *fakeProvider) lastQuery() core.MessageQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[len(f.fetchCalls)-1]
}

type recordingNavigator struct {
	mu   sync.Mutex
	left []string
}

func (n *recordingNavigator) LeaveConversation(id string) {
	n.mu.Lock()
	n.left = append(n.left, id)
	n.mu.Unlock()
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ NotifyLevel, msg string) {
	n.mu.Lock()
	n.messages = append(n.messages, msg)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// storeViewport resolves scroll targets against the store, like a renderer would.
type storeViewport struct {
	store    *store.Store
	mu       sync.Mutex
	scrolled []string
	settled  int
}

func (v *storeViewport) WaitSettled(context.Context, string) error {
	v.mu.Lock()
	v.settled++
	v.mu.Unlock()
	return nil
}

func (v *storeViewport) ScrollTo(conv, id string) bool {
	if _, ok := v.store.FindMessage(conv, id); !ok {
		return false
	}
	v.mu.Lock()
	v.scrolled = append(v.scrolled, id)
	v.mu.Unlock()
	return true
}

type recordingHighlighter struct {
	mu      sync.Mutex
	current string
	cleared []string
}

func (h *recordingHighlighter) SetHighlight(_, id string) {
	h.mu.Lock()
	h.current = id
	h.mu.Unlock()
}

func (h *recordingHighlighter) ClearHighlight(_, id string) {
	h.mu.Lock()
	if h.current == id {
		h.current = ""
	}
	h.cleared = append(h.cleared, id)
	h.mu.Unlock()
}

func (h *recordingHighlighter) active() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func sequentialTempIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func newTestEngine(p *fakeProvider, deps Deps) *Engine {
	st := store.New("me")
	if deps.NewTempID == nil {
		deps.NewTempID = sequentialTempIDs("t")
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return baseTime.Add(time.Hour) }
	}
	if vp, ok := deps.Viewport.(*storeViewport); ok && vp.store == nil {
		vp.store = st
	}
	return New(st, p, Config{HighlightDuration: 30 * time.Millisecond}, deps)
}
