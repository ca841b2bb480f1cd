package models

import (
	"fmt"
	"reflect"
	"sort"
	"time"
)

// Identity returns the resolved identity of a message: TempID when set, ID otherwise.
func (m *Message) Identity() string {
	if m.TempID != "" {
		return m.TempID
	}
	return m.ID
}

// IsProvisional reports whether the message has not been acknowledged by the server yet.
func (m *Message) IsProvisional() bool {
	return m.ID != "" && m.ID == m.TempID
}

// RenderKey is the key a renderer should use for the row.
func (m *Message) RenderKey() string {
	if m.LocalKey != "" {
		return m.LocalKey
	}
	return m.Identity()
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.ReadBy != nil {
		out.ReadBy = append([]string(nil), m.ReadBy...)
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		out.DeletedAt = &t
	}
	if m.ReplyToID != nil {
		id := *m.ReplyToID
		out.ReplyToID = &id
	}
	if m.ReplyToMessage != nil {
		snap := *m.ReplyToMessage
		out.ReplyToMessage = &snap
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Equal reports whether two messages carry the same state. Empty and nil collections
// compare equal, so a server echoing "read_by": [] is not a change.
func (m *Message) Equal(other *Message) bool {
	if m == nil || other == nil {
		return m == other
	}
	a, b := *m, *other
	normalizeEmpty(&a)
	normalizeEmpty(&b)
	return reflect.DeepEqual(a, b)
}

func normalizeEmpty(m *Message) {
	if len(m.ReadBy) == 0 {
		m.ReadBy = nil
	}
	if len(m.Metadata) == 0 {
		m.Metadata = nil
	}
}

// MatchKind describes how an incoming message collided with a stored one.
type MatchKind int

const (
	NoMatch MatchKind = iota
	MatchByID
	MatchByTempID
	MatchTempAsID // stored temp_id equals incoming id
)

// Match applies the collision rule between a stored message and an incoming one.
func Match(existing, incoming *Message) MatchKind {
	switch {
	case incoming.ID != "" && existing.ID == incoming.ID:
		return MatchByID
	case incoming.TempID != "" && existing.TempID == incoming.TempID:
		return MatchByTempID
	case incoming.ID != "" && existing.TempID == incoming.ID:
		return MatchTempAsID
	default:
		return NoMatch
	}
}

// FindMatch returns the index of the first stored message colliding with incoming.
func FindMatch(list []Message, incoming *Message) (int, MatchKind) {
	for i := range list {
		if kind := Match(&list[i], incoming); kind != NoMatch {
			return i, kind
		}
	}
	return -1, NoMatch
}

var statusRank = map[MessageStatus]int{
	StatusFailed:    0,
	StatusSending:   1,
	StatusSent:      2,
	StatusDelivered: 3,
	StatusRead:      4,
}

// AdvanceStatus returns the later of two statuses. Delivery state never moves backwards,
// except that a confirmed status always supersedes failed.
func AdvanceStatus(current, next MessageStatus) MessageStatus {
	if next == "" {
		return current
	}
	if current == "" || statusRank[next] >= statusRank[current] {
		return next
	}
	return current
}

// Overlay merges incoming onto existing. Non-zero incoming fields win, counters and
// flags only move forward, and the local key of the existing row is preserved.
func Overlay(existing, incoming Message) Message {
	out := existing.Clone()
	in := incoming.Clone()

	if in.ID != "" {
		out.ID = in.ID
	}
	if in.TempID != "" {
		out.TempID = in.TempID
	}
	if in.ConversationID != "" {
		out.ConversationID = in.ConversationID
	}
	if in.SenderID != "" {
		out.SenderID = in.SenderID
	}
	if in.SenderType != "" {
		out.SenderType = in.SenderType
	}
	if in.MessageType != "" {
		out.MessageType = in.MessageType
	}
	if !out.IsDeleted {
		if in.Content != "" {
			out.Content = in.Content
		}
		if in.MediaURL != "" {
			out.MediaURL = in.MediaURL
		}
		if in.ThumbnailURL != "" {
			out.ThumbnailURL = in.ThumbnailURL
		}
	}
	if in.FileName != "" {
		out.FileName = in.FileName
	}
	if in.FileSize != 0 {
		out.FileSize = in.FileSize
	}
	if in.MimeType != "" {
		out.MimeType = in.MimeType
	}
	if in.StickerID != "" {
		out.StickerID = in.StickerID
	}
	out.Status = AdvanceStatus(out.Status, in.Status)
	if in.ReadCount > out.ReadCount {
		out.ReadCount = in.ReadCount
	}
	for _, reader := range in.ReadBy {
		if !containsString(out.ReadBy, reader) {
			out.ReadBy = append(out.ReadBy, reader)
		}
	}
	out.IsEdited = out.IsEdited || in.IsEdited
	if in.EditCount > out.EditCount {
		out.EditCount = in.EditCount
	}
	if in.IsDeleted && !out.IsDeleted {
		at := in.UpdatedAt
		if in.DeletedAt != nil {
			at = *in.DeletedAt
		}
		Tombstone(&out, at)
	}
	if !in.CreatedAt.IsZero() {
		out.CreatedAt = in.CreatedAt
	}
	if in.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = in.UpdatedAt
	}
	if in.ReplyToID != nil {
		out.ReplyToID = in.ReplyToID
	}
	if in.ReplyToMessage != nil {
		out.ReplyToMessage = in.ReplyToMessage
	}
	if len(in.Metadata) > 0 {
		if out.Metadata == nil {
			out.Metadata = make(map[string]interface{}, len(in.Metadata))
		}
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}

	out.LocalKey = firstNonEmpty(existing.LocalKey, incoming.LocalKey, existing.TempID, incoming.ID)
	return out
}

// Tombstone marks a message deleted in place. It returns false if it already was.
func Tombstone(m *Message, at time.Time) bool {
	if m.IsDeleted {
		return false
	}
	if at.IsZero() {
		at = time.Now()
	}
	m.IsDeleted = true
	m.DeletedAt = &at
	m.Content = DeletedPlaceholder
	m.MediaURL = ""
	m.ThumbnailURL = ""
	return true
}

// SortMessages orders messages ascending by creation time, ties broken by id.
func SortMessages(list []Message) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

// IsSorted reports whether messages are in ascending creation order.
func IsSorted(list []Message) bool {
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.Before(list[i-1].CreatedAt) {
			return false
		}
	}
	return true
}

// PreviewText returns the text shown in a conversation list for a message.
func PreviewText(m *Message) string {
	if m.IsDeleted {
		return DeletedPlaceholder
	}
	switch m.MessageType {
	case MessageTypeImage:
		if m.Content != "" {
			return "[Image] " + m.Content
		}
		return "[Image]"
	case MessageTypeFile:
		return fmt.Sprintf("[File] %s", m.FileName)
	case MessageTypeSticker:
		return "[Sticker]"
	default:
		return m.Content
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
