// Package store holds the client-side state of conversations and their loaded message
// windows. A Store is created explicitly and injected into every component that reads
// or mutates it; all mutations are serialized and listeners are notified after each
// effective change.
package store

import (
	"fmt"
	"sync"

	"Murmur/pkg/models"
)

// Direction is a pagination direction.
type Direction int

const (
	// Older pages towards the beginning of the conversation.
	Older Direction = iota
	// Newer pages towards the end of the conversation.
	Newer
)

func (d Direction) String() string {
	if d == Newer {
		return "newer"
	}
	return "older"
}

// Window is the loaded slice of one conversation's history.
type Window struct {
	Messages   []models.Message
	HasMore    bool   // Older messages exist on the server
	HasAfter   bool   // Newer messages exist on the server
	Loaded     bool   // An initial fetch or context replacement completed
	Generation uint64 // Incremented each time the window is replaced wholesale
	// AfterCursor is the newest message id a server page or context slice delivered.
	// While HasAfter is set, history past it has not been loaded yet.
	AfterCursor string
}

func (w *Window) clone() Window {
	out := *w
	out.Messages = make([]models.Message, len(w.Messages))
	for i := range w.Messages {
		out.Messages[i] = w.Messages[i].Clone()
	}
	return out
}

// ChangeKind identifies what part of the state changed.
type ChangeKind string

const (
	ChangeMessages      ChangeKind = "messages"
	ChangeConversation  ChangeKind = "conversation"
	ChangeConversations ChangeKind = "conversations"
	ChangeRemoved       ChangeKind = "removed"
	ChangeActive        ChangeKind = "active"
)

// Change is delivered to subscribers after a mutation took effect.
type Change struct {
	Kind           ChangeKind
	ConversationID string
}

// Listener receives change notifications.
type Listener func(Change)

type inflightKey struct {
	conversationID string
	direction      Direction
}

// Store is the state container.
type Store struct {
	mu            sync.Mutex
	windows       map[string]*Window
	conversations map[string]*models.Conversation
	activeID      string
	currentUserID string
	inflight      map[inflightKey]struct{}

	listenersMu  sync.RWMutex
	listeners    map[int]Listener
	listenerSeq  []int
	nextListener int
}

// New creates an empty store for the given local user.
func New(currentUserID string) *Store {
	return &Store{
		windows:       make(map[string]*Window),
		conversations: make(map[string]*models.Conversation),
		inflight:      make(map[inflightKey]struct{}),
		listeners:     make(map[int]Listener),
		currentUserID: currentUserID,
	}
}

// Subscribe registers a listener and returns a function that removes it.
// Listeners run on the goroutine that performed the mutation, after the store lock is released.
func (s *Store) Subscribe(fn Listener) func() {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenerSeq = append(s.listenerSeq, id)
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			defer s.listenersMu.Unlock()
			delete(s.listeners, id)
			for i, v := range s.listenerSeq {
				if v == id {
					s.listenerSeq = append(s.listenerSeq[:i], s.listenerSeq[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *Store) notify(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	s.listenersMu.RLock()
	fns := make([]Listener, 0, len(s.listenerSeq))
	for _, id := range s.listenerSeq {
		fns = append(fns, s.listeners[id])
	}
	s.listenersMu.RUnlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

// CurrentUserID returns the id of the local user.
func (s *Store) CurrentUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentUserID
}

// SetCurrentUserID records the id of the local user.
func (s *Store) SetCurrentUserID(id string) {
	s.mu.Lock()
	s.currentUserID = id
	s.mu.Unlock()
}

// ActiveConversationID returns the conversation the user is viewing, empty for none.
func (s *Store) ActiveConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// SetActiveConversation records the conversation the user is viewing.
func (s *Store) SetActiveConversation(id string) {
	s.mu.Lock()
	if s.activeID == id {
		s.mu.Unlock()
		return
	}
	s.activeID = id
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeActive, ConversationID: id})
}

// Update runs fn against the window of a conversation under the store lock. fn reports
// whether it changed anything; when it did, messages are re-sorted and listeners notified.
// A window is created on demand and discarded again if fn leaves it untouched.
func (s *Store) Update(conversationID string, fn func(w *Window) bool) bool {
	s.mu.Lock()
	w, existed := s.windows[conversationID]
	if !existed {
		w = &Window{}
		s.windows[conversationID] = w
	}
	changed := fn(w)
	if !changed {
		if !existed {
			delete(s.windows, conversationID)
		}
		s.mu.Unlock()
		return false
	}
	models.SortMessages(w.Messages)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMessages, ConversationID: conversationID})
	return true
}

// UpdateBoth mutates a window and its conversation atomically. The conversation argument
// is nil when the conversation is not known.
func (s *Store) UpdateBoth(conversationID string, fn func(w *Window, c *models.Conversation) (msgs, conv bool)) (bool, bool) {
	s.mu.Lock()
	w, existed := s.windows[conversationID]
	if !existed {
		w = &Window{}
		s.windows[conversationID] = w
	}
	c := s.conversations[conversationID]
	msgsChanged, convChanged := fn(w, c)
	if c == nil {
		convChanged = false
	}
	if msgsChanged {
		models.SortMessages(w.Messages)
	} else if !existed {
		delete(s.windows, conversationID)
	}
	s.mu.Unlock()

	var changes []Change
	if msgsChanged {
		changes = append(changes, Change{Kind: ChangeMessages, ConversationID: conversationID})
	}
	if convChanged {
		changes = append(changes, Change{Kind: ChangeConversation, ConversationID: conversationID})
	}
	s.notify(changes...)
	return msgsChanged, convChanged
}

// UpdateConversation runs fn against a known conversation. It returns false when the
// conversation does not exist or fn reported no change.
func (s *Store) UpdateConversation(id string, fn func(c *models.Conversation) bool) bool {
	s.mu.Lock()
	c, ok := s.conversations[id]
	if !ok || !fn(c) {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeConversation, ConversationID: id})
	return true
}

// UpsertConversation inserts a conversation or overlays the provided one onto the stored
// copy. Counters owned by the client (unread count, preview) are kept when the incoming
// value is empty.
func (s *Store) UpsertConversation(conv models.Conversation) bool {
	s.mu.Lock()
	existing, ok := s.conversations[conv.ID]
	if !ok {
		c := conv.Clone()
		s.conversations[conv.ID] = &c
		s.mu.Unlock()
		s.notify(Change{Kind: ChangeConversations, ConversationID: conv.ID})
		return true
	}
	merged := mergeConversation(*existing, conv)
	if conversationsEqual(*existing, merged) {
		s.mu.Unlock()
		return false
	}
	*existing = merged
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeConversation, ConversationID: conv.ID})
	return true
}

// SetConversations replaces the whole conversation list, keeping loaded windows of
// conversations that are still present.
func (s *Store) SetConversations(list []models.Conversation) {
	s.mu.Lock()
	next := make(map[string]*models.Conversation, len(list))
	for _, conv := range list {
		c := conv.Clone()
		if existing, ok := s.conversations[conv.ID]; ok {
			c = mergeConversation(*existing, conv)
		}
		next[conv.ID] = &c
	}
	for id := range s.windows {
		if _, ok := next[id]; !ok {
			delete(s.windows, id)
		}
	}
	s.conversations = next
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeConversations})
}

// RemoveConversation deletes a conversation and discards its message window.
// It reports whether the conversation existed and whether it was the active one.
func (s *Store) RemoveConversation(id string) (removed, wasActive bool) {
	s.mu.Lock()
	_, hadConv := s.conversations[id]
	_, hadWindow := s.windows[id]
	if !hadConv && !hadWindow {
		s.mu.Unlock()
		return false, false
	}
	delete(s.conversations, id)
	delete(s.windows, id)
	for key := range s.inflight {
		if key.conversationID == id {
			delete(s.inflight, key)
		}
	}
	wasActive = s.activeID == id
	if wasActive {
		s.activeID = ""
	}
	s.mu.Unlock()

	changes := []Change{{Kind: ChangeRemoved, ConversationID: id}}
	if wasActive {
		changes = append(changes, Change{Kind: ChangeActive})
	}
	s.notify(changes...)
	return true, wasActive
}

// TryAcquire takes the in-flight token for a (conversation, direction) pair. When the
// token is already held it returns ok=false immediately; callers drop the request.
func (s *Store) TryAcquire(conversationID string, dir Direction) (release func(), ok bool) {
	key := inflightKey{conversationID: conversationID, direction: dir}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.inflight[key]; held {
		return nil, false
	}
	s.inflight[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.inflight, key)
			s.mu.Unlock()
		})
	}, true
}

// InFlight reports whether a request holds the token for the pair.
func (s *Store) InFlight(conversationID string, dir Direction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, held := s.inflight[inflightKey{conversationID: conversationID, direction: dir}]
	return held
}

// CheckInvariants verifies ordering and identity uniqueness of a conversation's window.
func (s *Store) CheckInvariants(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[conversationID]
	if !ok {
		return nil
	}
	if !models.IsSorted(w.Messages) {
		return fmt.Errorf("conversation %s: messages out of order", conversationID)
	}
	seen := make(map[string]struct{}, len(w.Messages))
	for _, m := range w.Messages {
		id := m.Identity()
		if _, dup := seen[id]; dup {
			return fmt.Errorf("conversation %s: duplicate identity %s", conversationID, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func mergeConversation(existing, incoming models.Conversation) models.Conversation {
	out := existing.Clone()
	in := incoming.Clone()
	if in.Type != "" {
		out.Type = in.Type
	}
	if in.Name != "" {
		out.Name = in.Name
	}
	if in.UnreadCount != 0 {
		out.UnreadCount = in.UnreadCount
	}
	if in.LastMessageAt != nil && (out.LastMessageAt == nil || !in.LastMessageAt.Before(*out.LastMessageAt)) {
		out.LastMessageAt = in.LastMessageAt
		out.LastMessageText = in.LastMessageText
	}
	out.IsPinned = in.IsPinned
	out.IsMuted = in.IsMuted
	if in.MemberCount != 0 {
		out.MemberCount = in.MemberCount
	}
	if in.MemberIDs != nil {
		out.MemberIDs = in.MemberIDs
	}
	if in.ContactInfo != nil {
		out.ContactInfo = in.ContactInfo
	}
	if !in.CreatedAt.IsZero() {
		out.CreatedAt = in.CreatedAt
	}
	if in.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = in.UpdatedAt
	}
	return out
}
