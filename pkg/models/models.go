// Package models defines the data models for the chat client.
package models

import (
	"time"
)

// MessageType is the kind of content a message carries.
type MessageType string

const (
	MessageTypeText    MessageType = "text"
	MessageTypeImage   MessageType = "image"
	MessageTypeFile    MessageType = "file"
	MessageTypeSticker MessageType = "sticker"
)

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderUser     SenderType = "user"
	SenderBusiness SenderType = "business"
	SenderSystem   SenderType = "system"
)

// ConversationType is the kind of conversation.
type ConversationType string

const (
	ConversationDirect   ConversationType = "direct"
	ConversationGroup    ConversationType = "group"
	ConversationBusiness ConversationType = "business"
)

// DeletedPlaceholder replaces the content of a tombstoned message.
const DeletedPlaceholder = "This message was deleted"

// ReplySnapshot is the denormalized copy of the message a reply points at.
type ReplySnapshot struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"sender_id"`
	MessageType MessageType `json:"message_type"`
	Content     string      `json:"content"`
	IsDeleted   bool        `json:"is_deleted"`
}

// Message is a single entry of a conversation timeline.
type Message struct {
	ID             string                 `gorm:"primaryKey" json:"id"`                           // Server id, equal to TempID while provisional
	TempID         string                 `gorm:"index" json:"temp_id,omitempty"`                 // Client-issued correlation id
	ConversationID string                 `gorm:"index;not null" json:"conversation_id"`          // Owning conversation
	SenderID       string                 `json:"sender_id"`                                      // Author's id on the server
	SenderType     SenderType             `json:"sender_type,omitempty"`                          // "user", "business", "system"
	MessageType    MessageType            `json:"message_type"`                                   // "text", "image", "file", "sticker"
	Content        string                 `json:"content"`                                        // Text body or caption
	MediaURL       string                 `json:"media_url,omitempty"`                            // Full-size media location
	ThumbnailURL   string                 `json:"thumbnail_url,omitempty"`                        // Preview image location
	FileName       string                 `json:"file_name,omitempty"`                            // Original filename for files
	FileSize       int64                  `json:"file_size,omitempty"`                            // Size in bytes
	MimeType       string                 `json:"mime_type,omitempty"`                            // MIME type of the media
	StickerID      string                 `json:"sticker_id,omitempty"`                           // Sticker catalog id
	Status         MessageStatus          `json:"status"`                                         // Delivery state
	ReadCount      int                    `json:"read_count"`                                     // Number of readers
	ReadBy         []string               `gorm:"serializer:json" json:"read_by,omitempty"`       // Readers already counted
	IsEdited       bool                   `json:"is_edited"`                                      // Set once the content was edited
	EditCount      int                    `json:"edit_count"`                                     // Number of edits applied
	IsDeleted      bool                   `json:"is_deleted"`                                     // Tombstone flag
	DeletedAt      *time.Time             `json:"deleted_at,omitempty"`                           // When the tombstone was applied
	CreatedAt      time.Time              `gorm:"index;autoCreateTime:false" json:"created_at"`   // Ordering key
	UpdatedAt      time.Time              `gorm:"autoUpdateTime:false" json:"updated_at"`         // Last server-side change
	ReplyToID      *string                `json:"reply_to_id,omitempty"`                          // Id of the message being replied to
	ReplyToMessage *ReplySnapshot         `gorm:"serializer:json" json:"reply_to_message,omitempty"` // Snapshot of the replied message
	Metadata       map[string]interface{} `gorm:"serializer:json" json:"metadata,omitempty"`      // Free-form bag echoed by the server
	LocalKey       string                 `gorm:"-" json:"local_key,omitempty"`                   // Render identity, stable across temp to real
}

// ContactInfo describes the other party of a direct or business conversation.
type ContactInfo struct {
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Conversation represents a chat (direct, group or business).
type Conversation struct {
	ID              string           `gorm:"primaryKey" json:"id"`
	Type            ConversationType `json:"type"`                                      // "direct", "group", "business"
	Name            string           `json:"name,omitempty"`                            // Display name for groups
	UnreadCount     int              `json:"unread_count"`                              // Messages not yet seen by the local user
	LastMessageText string           `json:"last_message_text,omitempty"`               // Preview shown in the list
	LastMessageAt   *time.Time       `gorm:"index" json:"last_message_at,omitempty"`    // Sort key for the list
	IsPinned        bool             `json:"is_pinned"`                                 // Pinned conversations sort first
	IsMuted         bool             `json:"is_muted"`                                  // Muted conversations do not notify
	MemberCount     int              `json:"member_count"`                              // Number of participants
	MemberIDs       []string         `gorm:"serializer:json" json:"member_ids,omitempty"` // Known participant ids
	RemovedIDs      []string         `gorm:"serializer:json" json:"-"`                   // Departures already counted against MemberCount
	ContactInfo     *ContactInfo     `gorm:"serializer:json" json:"contact_info,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// ProviderConfiguration stores the configuration of a provider instance.
type ProviderConfiguration struct {
	ID         uint       `gorm:"primarykey" json:"id"`
	ProviderID string     `gorm:"uniqueIndex;not null" json:"providerId"` // e.g., "rest", "slack", "mock"
	ConfigJSON string     `gorm:"type:text" json:"configJson"`            // JSON-encoded configuration
	IsActive   bool       `json:"isActive"`                               // Whether this provider is currently active
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`                   // Last time the cache was written
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}
