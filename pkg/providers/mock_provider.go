// Package providers contains implementations of the Provider interface.
package providers

import (
	"context"
	cryptoRand "crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"Murmur/pkg/core"
	"Murmur/pkg/logging"
	"Murmur/pkg/models"
)

// ErrInjected is returned by calls failed on purpose through FailNextSends or FailNextFetches.
var ErrInjected = errors.New("mock: injected failure")

// MockCalls counts the requests a MockProvider served.
type MockCalls struct {
	Fetch    int
	Context  int
	Send     int
	MarkRead int
}

// MockProvider is an in-memory chat server implementing the Provider interface. It is
// used for development and as the deterministic backend of tests.
//
// Configuration keys:
//   - user_id: id of the local user (default "me")
//   - seed_messages: messages generated per demo conversation (default 60, 0 for none)
//   - simulate_interval: period of simulated incoming messages (default disabled)
//   - echo: emit a message.receive event for each accepted send (default true)
//   - latency: delay applied to every request (default none)
type MockProvider struct {
	config        core.ProviderConfig
	userID        string
	conversations map[string]models.Conversation
	messages      map[string][]models.Message // ascending by created_at
	eventChan     chan core.ProviderEvent
	stopChan      chan struct{}
	mu            sync.RWMutex
	disconnected  bool
	connected     bool
	logger        *logging.Logger
	seq           int
	echo          bool
	latency       time.Duration
	interval      time.Duration
	now           func() time.Time

	failSends   int
	failFetches int
	calls       MockCalls
}

var loremIpsum = []string{
	"Lorem ipsum dolor sit amet, consectetur adipiscing elit.",
	"Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua.",
	"Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat.",
	"Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur.",
	"Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum.",
}

var mockContacts = []models.ContactInfo{
	{DisplayName: "Alice", Email: "alice@example.com"},
	{DisplayName: "Bob", Email: "bob@example.com"},
	{DisplayName: "Charlie", Email: "charlie@example.com"},
}

func secureRandInt(upperBound int) int {
	if upperBound <= 0 {
		return 0
	}
	n, err := cryptoRand.Int(cryptoRand.Reader, big.NewInt(int64(upperBound)))
	if err != nil {
		return 0
	}
	return int(n.Int64())
}

// NewMockProvider creates a new instance of the MockProvider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.Message),
		eventChan:     make(chan core.ProviderEvent, 100),
		stopChan:      make(chan struct{}),
		config:        make(core.ProviderConfig),
		userID:        "me",
		echo:          true,
		now:           time.Now,
		logger:        logging.Discard(),
	}
}

// Init initializes the mock provider with fake data.
func (m *MockProvider) Init(config core.ProviderConfig) error {
	if config == nil {
		config = make(core.ProviderConfig)
	}
	m.config = config
	m.userID = config.StringOr("user_id", "me")
	if echo, ok := config.GetBool("echo"); ok {
		m.echo = echo
	}
	m.latency, _ = config.GetDuration("latency")
	m.interval, _ = config.GetDuration("simulate_interval")

	logger, err := logging.GetLogger("mock", config.InstanceID("mock-1"))
	if err != nil {
		fmt.Printf("MockProvider.Init: WARNING - failed to initialize logger: %v\n", err)
	} else {
		m.logger = logger
	}

	seed := 60
	if n, ok := config.GetInt("seed_messages"); ok {
		seed = n
	}
	m.logger.Infof("MockProvider: initializing with %d messages per conversation", seed)
	m.generateFakeData(seed)
	return nil
}

// GetConfig returns the current configuration of the mock provider.
func (m *MockProvider) GetConfig() core.ProviderConfig {
	return m.config
}

// IsAuthenticated returns true since MockProvider doesn't require authentication.
func (m *MockProvider) IsAuthenticated() bool {
	return true
}

// CurrentUserID returns the configured local user id.
func (m *MockProvider) CurrentUserID() string {
	return m.userID
}

// Connect starts the simulated event stream.
func (m *MockProvider) Connect(ctx context.Context) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	if m.disconnected {
		m.mu.Unlock()
		return fmt.Errorf("mock: provider already disconnected")
	}
	already := m.connected
	m.connected = true
	m.mu.Unlock()
	if already {
		return nil
	}

	if m.interval > 0 {
		go m.simulateRealtimeEvents()
	}
	m.emit(core.ConnectionStatusEvent{State: core.ConnectionConnected})
	m.logger.Infof("MockProvider: connected")
	return nil
}

// Disconnect closes the event stream and stops background operations.
func (m *MockProvider) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disconnected {
		return nil
	}
	close(m.stopChan)
	close(m.eventChan)
	m.disconnected = true
	m.logger.Infof("MockProvider: disconnected")
	return nil
}

// StreamEvents returns a channel for receiving real-time events.
func (m *MockProvider) StreamEvents() (<-chan core.ProviderEvent, error) {
	return m.eventChan, nil
}

// GetConversations returns every conversation, most recent first.
func (m *MockProvider) GetConversations(ctx context.Context) ([]models.Conversation, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		out = append(out, c.Clone())
	}
	models.SortConversations(out)
	return out, nil
}

// FetchMessages returns one page of history. Before and After are message ids; without
// either the latest page is returned.
func (m *MockProvider) FetchMessages(ctx context.Context, conversationID string, query core.MessageQuery) (*core.MessagePage, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.calls.Fetch++
	if m.failFetches > 0 {
		m.failFetches--
		m.mu.Unlock()
		return nil, ErrInjected
	}
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs, ok := m.messages[conversationID]
	if !ok {
		return nil, fmt.Errorf("mock: conversation not found: %s", conversationID)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}

	switch {
	case query.Before != "":
		idx := indexOfMessage(msgs, query.Before)
		if idx < 0 {
			return nil, fmt.Errorf("mock: cursor not found: %s", query.Before)
		}
		start := idx - limit
		if start < 0 {
			start = 0
		}
		return &core.MessagePage{Messages: cloneMessages(msgs[start:idx]), HasMore: start > 0}, nil
	case query.After != "":
		idx := indexOfMessage(msgs, query.After)
		if idx < 0 {
			return nil, fmt.Errorf("mock: cursor not found: %s", query.After)
		}
		end := idx + 1 + limit
		if end > len(msgs) {
			end = len(msgs)
		}
		return &core.MessagePage{Messages: cloneMessages(msgs[idx+1 : end]), HasMore: end < len(msgs)}, nil
	default:
		start := len(msgs) - limit
		if start < 0 {
			start = 0
		}
		return &core.MessagePage{Messages: cloneMessages(msgs[start:]), HasMore: start > 0}, nil
	}
}

// FetchMessageContext returns the messages around a target. An unknown target yields an
// empty slice.
func (m *MockProvider) FetchMessageContext(ctx context.Context, conversationID string, query core.ContextQuery) (*core.MessageContext, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.calls.Context++
	if m.failFetches > 0 {
		m.failFetches--
		m.mu.Unlock()
		return nil, ErrInjected
	}
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	idx := indexOfMessage(msgs, query.TargetID)
	if idx < 0 {
		return &core.MessageContext{}, nil
	}
	start := idx - query.Before
	if start < 0 {
		start = 0
	}
	end := idx + query.After + 1
	if end > len(msgs) {
		end = len(msgs)
	}
	return &core.MessageContext{
		Messages:  cloneMessages(msgs[start:end]),
		HasBefore: start > 0,
		HasAfter:  end < len(msgs),
	}, nil
}

// SendMessage stores a message from the local user and, when echo is enabled, emits it
// back as a real-time event.
func (m *MockProvider) SendMessage(ctx context.Context, conversationID string, req core.SendRequest) (*models.Message, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.calls.Send++
	if m.failSends > 0 {
		m.failSends--
		m.mu.Unlock()
		return nil, ErrInjected
	}
	conv, ok := m.conversations[conversationID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("mock: conversation not found: %s", conversationID)
	}

	m.seq++
	now := m.now()
	msg := models.Message{
		ID:             fmt.Sprintf("mock-msg-%d", m.seq),
		TempID:         req.TempID,
		ConversationID: conversationID,
		SenderID:       m.userID,
		SenderType:     models.SenderUser,
		MessageType:    req.MessageType,
		Content:        req.Content,
		MediaURL:       req.MediaURL,
		FileName:       req.FileName,
		FileSize:       req.FileSize,
		MimeType:       req.MimeType,
		StickerID:      req.StickerID,
		Status:         models.StatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
		ReplyToID:      req.ReplyToID,
		Metadata:       req.Metadata,
	}
	if req.ReplyToID != nil {
		if idx := indexOfMessage(m.messages[conversationID], *req.ReplyToID); idx >= 0 {
			src := m.messages[conversationID][idx]
			msg.ReplyToMessage = &models.ReplySnapshot{
				ID: src.ID, SenderID: src.SenderID, MessageType: src.MessageType, Content: src.Content, IsDeleted: src.IsDeleted,
			}
		}
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	conv.SetPreview(&msg)
	m.conversations[conversationID] = conv
	echo := m.echo
	m.mu.Unlock()

	m.logger.Debugf("MockProvider: stored %s (temp %s) in %s", msg.ID, msg.TempID, conversationID)
	if echo {
		m.emit(core.MessageReceiveEvent{Message: msg.Clone()})
	}
	out := msg.Clone()
	return &out, nil
}

// MarkAllRead marks every message of a conversation read.
func (m *MockProvider) MarkAllRead(ctx context.Context, conversationID string) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.calls.MarkRead++
	conv, ok := m.conversations[conversationID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mock: conversation not found: %s", conversationID)
	}
	msgs := m.messages[conversationID]
	for i := range msgs {
		msgs[i].Status = models.StatusRead
		if msgs[i].ReadCount < 1 {
			msgs[i].ReadCount = 1
		}
	}
	conv.UnreadCount = 0
	m.conversations[conversationID] = conv
	m.mu.Unlock()

	m.emit(core.MessageReadAllEvent{ConversationID: conversationID, ReaderID: m.userID})
	return nil
}

// --- Test helpers (not part of the Provider interface) ---

// FailNextSends makes the next n sends fail.
func (m *MockProvider) FailNextSends(n int) {
	m.mu.Lock()
	m.failSends = n
	m.mu.Unlock()
}

// FailNextFetches makes the next n page or context fetches fail.
func (m *MockProvider) FailNextFetches(n int) {
	m.mu.Lock()
	m.failFetches = n
	m.mu.Unlock()
}

// Calls returns the request counters.
func (m *MockProvider) Calls() MockCalls {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// SetClock replaces the time source used for new messages.
func (m *MockProvider) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Messages returns the stored history of a conversation.
func (m *MockProvider) Messages(conversationID string) []models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneMessages(m.messages[conversationID])
}

// Receive stores a message from another participant and emits it.
func (m *MockProvider) Receive(conversationID, senderID, content string) models.Message {
	m.mu.Lock()
	m.seq++
	now := m.now()
	msg := models.Message{
		ID:             fmt.Sprintf("mock-event-%d", m.seq),
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderType:     models.SenderUser,
		MessageType:    models.MessageTypeText,
		Content:        content,
		Status:         models.StatusDelivered,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	if conv, ok := m.conversations[conversationID]; ok {
		conv.SetPreview(&msg)
		conv.UnreadCount++
		m.conversations[conversationID] = conv
	}
	m.mu.Unlock()

	m.emit(core.MessageReceiveEvent{Message: msg.Clone()})
	return msg
}

// Emit pushes an arbitrary event to the stream.
func (m *MockProvider) Emit(ev core.ProviderEvent) {
	m.emit(ev)
}

// --- Mock Utility Functions ---

func (m *MockProvider) emit(ev core.ProviderEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disconnected {
		return
	}
	select {
	case m.eventChan <- ev:
	default:
		m.logger.Warnf("MockProvider: event buffer full, dropping %s", ev.Type())
	}
}

func (m *MockProvider) wait(ctx context.Context) error {
	if m.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MockProvider) generateFakeData(perConversation int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	convs := []models.Conversation{
		{ID: "user-alice", Type: models.ConversationDirect, MemberCount: 2, MemberIDs: []string{m.userID, "user-alice"}, ContactInfo: &mockContacts[0]},
		{ID: "user-bob", Type: models.ConversationDirect, MemberCount: 2, MemberIDs: []string{m.userID, "user-bob"}, ContactInfo: &mockContacts[1]},
		{ID: "group-work-chat", Type: models.ConversationGroup, Name: "Work Chat", MemberCount: 4,
			MemberIDs: []string{m.userID, "user-alice", "user-bob", "user-charlie"}},
	}
	for ci, conv := range convs {
		conv.CreatedAt = now.Add(-time.Duration(perConversation+1) * time.Minute)
		msgs := make([]models.Message, 0, perConversation)
		for i := 0; i < perConversation; i++ {
			sender := conv.MemberIDs[(i+ci)%len(conv.MemberIDs)]
			at := now.Add(-time.Duration(perConversation-i) * time.Minute)
			msgs = append(msgs, models.Message{
				ID:             fmt.Sprintf("%s-msg-%d", conv.ID, i+1),
				ConversationID: conv.ID,
				SenderID:       sender,
				SenderType:     models.SenderUser,
				MessageType:    models.MessageTypeText,
				Content:        loremIpsum[(i+ci)%len(loremIpsum)],
				Status:         models.StatusRead,
				ReadCount:      1,
				CreatedAt:      at,
				UpdatedAt:      at,
			})
		}
		if n := len(msgs); n > 0 {
			conv.SetPreview(&msgs[n-1])
		}
		m.conversations[conv.ID] = conv
		m.messages[conv.ID] = msgs
	}
}

func (m *MockProvider) simulateRealtimeEvents() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.RLock()
			ids := make([]string, 0, len(m.conversations))
			for id := range m.conversations {
				ids = append(ids, id)
			}
			m.mu.RUnlock()
			if len(ids) == 0 {
				continue
			}
			sort.Strings(ids)
			convID := ids[secureRandInt(len(ids))]
			sender := "user-" + []string{"alice", "bob", "charlie"}[secureRandInt(3)]
			m.Receive(convID, sender, loremIpsum[secureRandInt(len(loremIpsum))])
		case <-m.stopChan:
			return
		}
	}
}

func indexOfMessage(list []models.Message, id string) int {
	for i := range list {
		if list[i].ID == id || (list[i].TempID != "" && list[i].TempID == id) {
			return i
		}
	}
	return -1
}

func cloneMessages(list []models.Message) []models.Message {
	out := make([]models.Message, len(list))
	for i := range list {
		out[i] = list[i].Clone()
	}
	return out
}
