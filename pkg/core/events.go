// Package core provides the core interfaces and types shared by providers and the timeline engine.
package core

import (
	"time"

	"Murmur/pkg/models"
)

// EventType represents the kind of a real-time event.
type EventType string

const (
	// EventMessageReceive carries a new or updated message.
	EventMessageReceive EventType = "message.receive"
	// EventMessageEdit patches the content of an existing message.
	EventMessageEdit EventType = "message.edit"
	// EventMessageDelete tombstones a message.
	EventMessageDelete EventType = "message.delete"
	// EventMessageRead marks one message read by a participant.
	EventMessageRead EventType = "message.read"
	// EventMessageReadAll marks a whole conversation read.
	EventMessageReadAll EventType = "message.read_all"
	// EventConversationCreate announces a new conversation.
	EventConversationCreate EventType = "conversation.create"
	// EventConversationJoin announces that the local user joined a conversation.
	EventConversationJoin EventType = "conversation.join"
	// EventConversationUpdate changes conversation attributes.
	EventConversationUpdate EventType = "conversation.update"
	// EventConversationUserAdded adds a participant.
	EventConversationUserAdded EventType = "conversation.user_added"
	// EventConversationUserRemoved removes a participant.
	EventConversationUserRemoved EventType = "conversation.user_removed"
	// EventConversationDelete removes a conversation.
	EventConversationDelete EventType = "conversation.delete"
	// EventConnectionStatus reports the state of the real-time connection.
	EventConnectionStatus EventType = "connection.status"
)

// ProviderEvent is the base interface for all events emitted by a provider.
// The set of implementations is closed: the reconciler switches over them exhaustively.
type ProviderEvent interface {
	Type() EventType
}

// MessageReceiveEvent carries a message created by someone else or an echo of a local send.
type MessageReceiveEvent struct {
	Message models.Message
}

func (e MessageReceiveEvent) Type() EventType { return EventMessageReceive }

// MessageEditEvent replaces the content of an existing message.
type MessageEditEvent struct {
	ConversationID string
	MessageID      string
	Content        string
	EditCount      int       // Server edit counter, 0 when unknown
	EditedAt       time.Time // Zero when the server omits it
}

func (e MessageEditEvent) Type() EventType { return EventMessageEdit }

// MessageDeleteEvent tombstones a message in place.
type MessageDeleteEvent struct {
	ConversationID string
	MessageID      string
	DeletedAt      time.Time
}

func (e MessageDeleteEvent) Type() EventType { return EventMessageDelete }

// MessageReadEvent reports that a participant read one message.
type MessageReadEvent struct {
	ConversationID string
	MessageID      string
	ReaderID       string // Empty when the server does not say who read it
	ReadCount      int    // Authoritative count when provided, 0 otherwise
}

func (e MessageReadEvent) Type() EventType { return EventMessageRead }

// MessageReadAllEvent marks every message of a conversation read.
type MessageReadAllEvent struct {
	ConversationID string
	ReaderID       string
}

func (e MessageReadAllEvent) Type() EventType { return EventMessageReadAll }

// ConversationCreateEvent announces a new conversation.
type ConversationCreateEvent struct {
	Conversation models.Conversation
}

func (e ConversationCreateEvent) Type() EventType { return EventConversationCreate }

// ConversationJoinEvent announces a conversation the local user joined.
type ConversationJoinEvent struct {
	Conversation models.Conversation
}

func (e ConversationJoinEvent) Type() EventType { return EventConversationJoin }

// ConversationPatch lists the attributes a conversation.update may change.
// Nil fields are left untouched.
type ConversationPatch struct {
	Name        *string
	IsPinned    *bool
	IsMuted     *bool
	MemberCount *int
	ContactInfo *models.ContactInfo
}

// ConversationUpdateEvent changes conversation attributes.
type ConversationUpdateEvent struct {
	ConversationID string
	Patch          ConversationPatch
}

func (e ConversationUpdateEvent) Type() EventType { return EventConversationUpdate }

// ConversationUserAddedEvent adds a participant to a conversation.
type ConversationUserAddedEvent struct {
	ConversationID string
	UserID         string
}

func (e ConversationUserAddedEvent) Type() EventType { return EventConversationUserAdded }

// ConversationUserRemovedEvent removes a participant from a conversation.
type ConversationUserRemovedEvent struct {
	ConversationID string
	UserID         string
}

func (e ConversationUserRemovedEvent) Type() EventType { return EventConversationUserRemoved }

// ConversationDeleteEvent removes a conversation and its messages from the client.
type ConversationDeleteEvent struct {
	ConversationID string
}

func (e ConversationDeleteEvent) Type() EventType { return EventConversationDelete }

// ConnectionState is the state of the real-time connection.
type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "connected"
	ConnectionReconnecting ConnectionState = "reconnecting"
	ConnectionDisconnected ConnectionState = "disconnected"
)

// ConnectionStatusEvent reports a change in the real-time connection.
type ConnectionStatusEvent struct {
	State ConnectionState
	Err   error // Cause of a disconnect, nil otherwise
}

func (e ConnectionStatusEvent) Type() EventType { return EventConnectionStatus }
