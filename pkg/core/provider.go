package core

import (
	"context"

	"Murmur/pkg/models"
)

// MessageQuery selects one page of a conversation's history.
// At most one of Before and After is set; neither means the latest page.
type MessageQuery struct {
	Before string // Return messages strictly older than this message id
	After  string // Return messages strictly newer than this message id
	Limit  int    // Maximum number of messages to return
}

// MessagePage is one page of history, sorted ascending by creation time.
type MessagePage struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"` // More messages exist in the requested direction
}

// ContextQuery asks for a contiguous slice of history centered on a target message.
type ContextQuery struct {
	TargetID string
	Before   int // Messages to include before the target
	After    int // Messages to include after the target
}

// MessageContext is the server-supplied slice around a target message.
type MessageContext struct {
	Messages  []models.Message `json:"messages"`
	HasBefore bool             `json:"has_before"`
	HasAfter  bool             `json:"has_after"`
}

// SendRequest is the outbound payload of a send. TempID is the correlation id the server
// must echo back verbatim on the resulting message.
type SendRequest struct {
	TempID      string                 `json:"temp_id" validate:"required"`
	MessageType models.MessageType     `json:"message_type" validate:"required,oneof=text image file sticker"`
	Content     string                 `json:"content,omitempty"`
	MediaURL    string                 `json:"media_url,omitempty"`
	FileName    string                 `json:"file_name,omitempty"`
	FileSize    int64                  `json:"file_size,omitempty"`
	MimeType    string                 `json:"mime_type,omitempty"`
	StickerID   string                 `json:"sticker_id,omitempty"`
	ReplyToID   *string                `json:"reply_to_id,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks a send request before it leaves the client.
func (r SendRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	return nil
}

// Provider is the interface a chat backend must implement.
// It is the injected HTTP and real-time collaborator of the timeline engine.
type Provider interface {
	// Init initializes the provider with its configuration.
	Init(config ProviderConfig) error

	// GetConfig returns the current configuration of the provider.
	GetConfig() ProviderConfig

	// IsAuthenticated reports whether the provider has usable credentials.
	IsAuthenticated() bool

	// CurrentUserID returns the id of the local user on the backend.
	CurrentUserID() string

	// Connect establishes the connection to the backend and starts the event stream.
	Connect(ctx context.Context) error

	// Disconnect closes the connection and stops background operations.
	Disconnect() error

	// StreamEvents returns the channel on which real-time events are delivered.
	StreamEvents() (<-chan ProviderEvent, error)

	// GetConversations returns the conversations visible to the local user.
	GetConversations(ctx context.Context) ([]models.Conversation, error)

	// FetchMessages returns one page of history for a conversation.
	FetchMessages(ctx context.Context, conversationID string, query MessageQuery) (*MessagePage, error)

	// FetchMessageContext returns a contiguous slice of history around a target message.
	FetchMessageContext(ctx context.Context, conversationID string, query ContextQuery) (*MessageContext, error)

	// SendMessage sends a message and returns the server's copy, carrying req.TempID.
	SendMessage(ctx context.Context, conversationID string, req SendRequest) (*models.Message, error)

	// MarkAllRead marks every message of the conversation read for the local user.
	MarkAllRead(ctx context.Context, conversationID string) error
}
