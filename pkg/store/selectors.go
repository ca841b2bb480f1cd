package store

import (
	"reflect"

	"Murmur/pkg/models"
)

// Messages returns a copy of the loaded messages of a conversation.
func (s *Store) Messages(conversationID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[conversationID]
	if !ok {
		return nil
	}
	return w.clone().Messages
}

// Window returns a copy of a conversation's window.
func (s *Store) Window(conversationID string) (Window, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[conversationID]
	if !ok {
		return Window{}, false
	}
	return w.clone(), true
}

// FindMessage looks a message up by server id or correlation id.
func (s *Store) FindMessage(conversationID, id string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[conversationID]
	if !ok {
		return models.Message{}, false
	}
	for i := range w.Messages {
		if w.Messages[i].ID == id || w.Messages[i].TempID == id {
			return w.Messages[i].Clone(), true
		}
	}
	return models.Message{}, false
}

// Conversation returns a copy of one conversation.
func (s *Store) Conversation(id string) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, false
	}
	return c.Clone(), true
}

// Conversations returns all conversations, pinned first then by recent activity.
func (s *Store) Conversations() []models.Conversation {
	s.mu.Lock()
	list := make([]models.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		list = append(list, c.Clone())
	}
	s.mu.Unlock()
	models.SortConversations(list)
	return list
}

// TotalUnread sums unread counters over all conversations.
func (s *Store) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, c := range s.conversations {
		total += c.UnreadCount
	}
	return total
}

// Snapshot is a consistent copy of the whole state.
type Snapshot struct {
	Conversations []models.Conversation
	Windows       map[string]Window
	ActiveID      string
}

// Snapshot copies the whole state under a single lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Conversations: make([]models.Conversation, 0, len(s.conversations)),
		Windows:       make(map[string]Window, len(s.windows)),
		ActiveID:      s.activeID,
	}
	for _, c := range s.conversations {
		snap.Conversations = append(snap.Conversations, c.Clone())
	}
	for id, w := range s.windows {
		snap.Windows[id] = w.clone()
	}
	s.mu.Unlock()
	models.SortConversations(snap.Conversations)
	return snap
}

func conversationsEqual(a, b models.Conversation) bool {
	return reflect.DeepEqual(a, b)
}
