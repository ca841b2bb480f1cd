package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"Murmur/pkg/models"
)

var (
	// ErrMalformedEvent is returned for envelopes whose payload cannot be decoded or
	// is missing an identity field.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEvent is returned for envelopes with an unsupported kind.
	ErrUnknownEvent = errors.New("unknown event kind")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Envelope is the wire form of a real-time event.
type Envelope struct {
	Kind    EventType       `json:"kind" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

type messageHeader struct {
	ID             string               `json:"id" validate:"required"`
	ConversationID string               `json:"conversation_id" validate:"required"`
	MessageType    models.MessageType   `json:"message_type" validate:"omitempty,oneof=text image file sticker"`
	Status         models.MessageStatus `json:"status" validate:"omitempty,oneof=sending sent delivered read failed"`
}

type editPayload struct {
	ConversationID string    `json:"conversation_id" validate:"required"`
	MessageID      string    `json:"message_id" validate:"required"`
	Content        string    `json:"content"`
	EditCount      int       `json:"edit_count" validate:"gte=0"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type deletePayload struct {
	ConversationID string    `json:"conversation_id" validate:"required"`
	MessageID      string    `json:"message_id" validate:"required"`
	DeletedAt      time.Time `json:"deleted_at"`
}

type readPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	MessageID      string `json:"message_id" validate:"required"`
	ReaderID       string `json:"reader_id"`
	ReadCount      int    `json:"read_count" validate:"gte=0"`
}

type readAllPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	ReaderID       string `json:"reader_id"`
}

type conversationPayload struct {
	ID   string                  `json:"id" validate:"required"`
	Type models.ConversationType `json:"type" validate:"omitempty,oneof=direct group business"`
}

type updatePayload struct {
	ConversationID string              `json:"conversation_id" validate:"required"`
	Name           *string             `json:"name"`
	IsPinned       *bool               `json:"is_pinned"`
	IsMuted        *bool               `json:"is_muted"`
	MemberCount    *int                `json:"member_count" validate:"omitempty,gte=0"`
	ContactInfo    *models.ContactInfo `json:"contact_info"`
}

type memberPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	UserID         string `json:"user_id" validate:"required"`
}

type conversationRefPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
}

// DecodeEnvelope parses raw bytes into one of the typed event variants.
func DecodeEnvelope(data []byte) (ProviderEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := validate.Struct(env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return DecodePayload(env.Kind, env.Payload)
}

// DecodePayload decodes the payload of an event of the given kind.
func DecodePayload(kind EventType, payload json.RawMessage) (ProviderEvent, error) {
	switch kind {
	case EventMessageReceive:
		msg, err := DecodeMessage(payload)
		if err != nil {
			return nil, err
		}
		return MessageReceiveEvent{Message: msg}, nil

	case EventMessageEdit:
		var p editPayload
		if err := decodeInto(payload, &p); err != nil {
			return nil, err
		}
		return MessageEditEvent{ConversationID: p.ConversationID, MessageID: p.MessageID, Content: p.Content, EditCount: p.EditCount, EditedAt: p.UpdatedAt}, nil

	case EventMessageDelete:
		var p deletePayload
		if err := decodeInto(payload, &p); err != nil {
			return nil, err
		}
		return MessageDeleteEvent{ConversationID: p.ConversationID, MessageID: p.MessageID, DeletedAt: p.DeletedAt}, nil

	case EventMessageRead:
		var p readPayload
		if err := decodeInto(payload, &p); err != nil {
			return nil, err
		}
		return MessageReadEvent{ConversationID: p.ConversationID, MessageID: p.MessageID, ReaderID: p.ReaderID, ReadCount: p.ReadCount}, nil

	case EventMessageReadAll:
		var p readAllPayload
		if err := decodeInto(payload, &p); err != nil {
			return nil, err
		}
		return MessageReadAllEvent{ConversationID: p.ConversationID, ReaderID: p.ReaderID}, nil

	case EventConversationCreate, EventConversationJoin:
		conv, err := decodeConversation(payload)
		if err != nil {
			return nil, err
		}
		if kind == EventConversationCreate {
			return ConversationCreateEvent{Conversation: conv}, nil
		}
		return ConversationJoinEvent{Conversation: conv}, nil

	case EventConversationUpdate:
		var p updatePayload
		if err := decodeInto(payload, &p); err != nil {
			return nil, err
		}
		return ConversationUpdateEvent{
			ConversationID: p.ConversationID,
			Patch: ConversationPatch{
				Name:        p.Name,
				IsPinned:    p.IsPinned,
				IsMuted:     p.IsMuted,
				MemberCount: p.MemberCount,
				ContactInfo: p.ContactInfo,
			},
		}, nil

	case EventConversationUserAdded, EventConversationUserRemoved:
		var p memberPayload
		if err := decodeInto(payload, &p); err != nil {
			return nil, err
		}
		if kind == EventConversationUserAdded {
			return ConversationUserAddedEvent{ConversationID: p.ConversationID, UserID: p.UserID}, nil
		}
		return ConversationUserRemovedEvent{ConversationID: p.ConversationID, UserID: p.UserID}, nil

	case EventConversationDelete:
		var p conversationRefPayload
		if err := decodeInto(payload, &p); err != nil {
			return nil, err
		}
		return ConversationDeleteEvent{ConversationID: p.ConversationID}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, kind)
	}
}

// DecodeMessage decodes and validates a message in wire form. A temp_id carried only in
// the metadata bag is lifted into the correlation field.
func DecodeMessage(data []byte) (models.Message, error) {
	var hdr messageHeader
	if err := decodeInto(data, &hdr); err != nil {
		return models.Message{}, err
	}
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	msg.LocalKey = ""
	if msg.TempID == "" {
		msg.TempID = TempIDFromMetadata(msg.Metadata)
	}
	return msg, nil
}

// TempIDFromMetadata extracts a correlation id from a free-form metadata bag.
func TempIDFromMetadata(meta map[string]interface{}) string {
	for _, key := range []string{"temp_id", "tempId"} {
		if v, ok := meta[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func decodeConversation(data []byte) (models.Conversation, error) {
	var hdr conversationPayload
	if err := decodeInto(data, &hdr); err != nil {
		return models.Conversation{}, err
	}
	var conv models.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return models.Conversation{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return conv, nil
}

func decodeInto(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// EncodeEnvelope wraps a payload into its wire envelope.
func EncodeEnvelope(kind EventType, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return json.Marshal(Envelope{Kind: kind, Payload: raw})
}
