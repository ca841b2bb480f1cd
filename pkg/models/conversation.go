package models

import "sort"

// Clone returns a deep copy of the conversation.
func (c Conversation) Clone() Conversation {
	out := c
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		out.LastMessageAt = &t
	}
	if c.MemberIDs != nil {
		out.MemberIDs = append([]string(nil), c.MemberIDs...)
	}
	if c.RemovedIDs != nil {
		out.RemovedIDs = append([]string(nil), c.RemovedIDs...)
	}
	if c.ContactInfo != nil {
		info := *c.ContactInfo
		out.ContactInfo = &info
	}
	return out
}

// HasMember reports whether userID is a known participant.
func (c *Conversation) HasMember(userID string) bool {
	return containsString(c.MemberIDs, userID)
}

// AddMember records a participant. It returns false if the user was already known.
func (c *Conversation) AddMember(userID string) bool {
	if c.HasMember(userID) {
		return false
	}
	c.RemovedIDs = removeString(c.RemovedIDs, userID)
	c.MemberIDs = append(c.MemberIDs, userID)
	if c.MemberCount < len(c.MemberIDs) {
		c.MemberCount = len(c.MemberIDs)
	} else {
		c.MemberCount++
	}
	return true
}

// RemoveMember forgets a participant. When the member list is incomplete, an unlisted
// user is assumed to be among the unlisted members and still decrements the count,
// once. It returns false if nothing changed.
func (c *Conversation) RemoveMember(userID string) bool {
	if containsString(c.RemovedIDs, userID) {
		return false
	}
	if c.HasMember(userID) {
		c.MemberIDs = removeString(c.MemberIDs, userID)
	} else if len(c.MemberIDs) >= c.MemberCount {
		return false
	}
	if c.MemberCount > 0 {
		c.MemberCount--
	}
	c.RemovedIDs = append(c.RemovedIDs, userID)
	return true
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// SetPreview updates the list preview from msg if it is at least as recent as the current one.
func (c *Conversation) SetPreview(msg *Message) bool {
	if c.LastMessageAt != nil && msg.CreatedAt.Before(*c.LastMessageAt) {
		return false
	}
	text := PreviewText(msg)
	if c.LastMessageAt != nil && c.LastMessageAt.Equal(msg.CreatedAt) && c.LastMessageText == text {
		return false
	}
	at := msg.CreatedAt
	c.LastMessageAt = &at
	c.LastMessageText = text
	return true
}

// SortConversations orders pinned conversations first, then by most recent activity.
func SortConversations(list []Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].IsPinned != list[j].IsPinned {
			return list[i].IsPinned
		}
		ai, aj := list[i].LastMessageAt, list[j].LastMessageAt
		switch {
		case ai == nil && aj == nil:
			return list[i].ID < list[j].ID
		case ai == nil:
			return false
		case aj == nil:
			return true
		}
		return ai.After(*aj)
	})
}
