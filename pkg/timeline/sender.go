package timeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"Murmur/pkg/core"
	"Murmur/pkg/logging"
	"Murmur/pkg/metrics"
	"Murmur/pkg/models"
	"Murmur/pkg/store"
)

// TempIDPrefix marks client-issued correlation ids.
const TempIDPrefix = "temp-"

// tailStep separates a provisional entry from a tail stamped at or after the local clock.
// Millisecond resolution survives backends and caches that drop nanoseconds.
const tailStep = time.Millisecond

// NewTempID returns a fresh client-side correlation id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// Media describes content already uploaded by the media pipeline.
type Media struct {
	URL          string
	ThumbnailURL string
	FileName     string
	FileSize     int64
	MimeType     string
	Caption      string
}

// SendOption customizes an outgoing message.
type SendOption func(*core.SendRequest)

// WithReplyTo makes the message a reply to another message of the conversation.
func WithReplyTo(messageID string) SendOption {
	return func(req *core.SendRequest) {
		if messageID != "" {
			id := messageID
			req.ReplyToID = &id
		}
	}
}

// WithMetadata attaches extra key/values to the request metadata bag.
func WithMetadata(key string, value interface{}) SendOption {
	return func(req *core.SendRequest) {
		if req.Metadata == nil {
			req.Metadata = make(map[string]interface{})
		}
		req.Metadata[key] = value
	}
}

// Sender creates provisional messages and resolves them once the server answers.
type Sender struct {
	store      *store.Store
	provider   core.Provider
	reconciler *Reconciler
	logger     *logging.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	newTempID  func() string
	wg         sync.WaitGroup
}

// NewSender creates a send coordinator. Successful responses are merged through rec.
func NewSender(st *store.Store, provider core.Provider, rec *Reconciler, deps Deps) *Sender {
	deps = deps.withDefaults()
	return &Sender{
		store:      st,
		provider:   provider,
		reconciler: rec,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		now:        deps.Now,
		newTempID:  deps.NewTempID,
	}
}

// SendText sends a text message.
func (s *Sender) SendText(ctx context.Context, conversationID, text string, opts ...SendOption) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyMessage
	}
	return s.send(ctx, conversationID, core.SendRequest{MessageType: models.MessageTypeText, Content: text}, opts)
}

// SendSticker sends a sticker from the catalog.
func (s *Sender) SendSticker(ctx context.Context, conversationID, stickerID, stickerURL string, opts ...SendOption) (models.Message, error) {
	if stickerID == "" {
		return models.Message{}, ErrEmptyMessage
	}
	return s.send(ctx, conversationID, core.SendRequest{
		MessageType: models.MessageTypeSticker,
		StickerID:   stickerID,
		MediaURL:    stickerURL,
	}, opts)
}

// SendImage sends an uploaded image with an optional caption.
func (s *Sender) SendImage(ctx context.Context, conversationID string, media Media, opts ...SendOption) (models.Message, error) {
	if media.URL == "" {
		return models.Message{}, ErrEmptyMessage
	}
	return s.send(ctx, conversationID, core.SendRequest{
		MessageType: models.MessageTypeImage,
		Content:     media.Caption,
		MediaURL:    media.URL,
		FileName:    media.FileName,
		FileSize:    media.FileSize,
		MimeType:    media.MimeType,
		Metadata:    thumbnailMetadata(media.ThumbnailURL),
	}, opts)
}

// SendFile sends an uploaded file.
func (s *Sender) SendFile(ctx context.Context, conversationID string, media Media, opts ...SendOption) (models.Message, error) {
	if media.URL == "" || media.FileName == "" {
		return models.Message{}, ErrEmptyMessage
	}
	return s.send(ctx, conversationID, core.SendRequest{
		MessageType: models.MessageTypeFile,
		Content:     media.Caption,
		MediaURL:    media.URL,
		FileName:    media.FileName,
		FileSize:    media.FileSize,
		MimeType:    media.MimeType,
	}, opts)
}

func thumbnailMetadata(url string) map[string]interface{} {
	if url == "" {
		return nil
	}
	return map[string]interface{}{"thumbnail_url": url}
}

// Resend retries a failed message under a new correlation id. The failed entry stays
// visible until the user discards it.
func (s *Sender) Resend(ctx context.Context, conversationID, tempID string) (models.Message, error) {
	failed, ok := s.store.FindMessage(conversationID, tempID)
	if !ok || !failed.IsProvisional() || failed.Status != models.StatusFailed {
		return models.Message{}, fmt.Errorf("%w: %s", ErrNotFailed, tempID)
	}

	req := core.SendRequest{
		MessageType: failed.MessageType,
		Content:     failed.Content,
		MediaURL:    failed.MediaURL,
		FileName:    failed.FileName,
		FileSize:    failed.FileSize,
		MimeType:    failed.MimeType,
		StickerID:   failed.StickerID,
		ReplyToID:   failed.ReplyToID,
		Metadata:    thumbnailMetadata(failed.ThumbnailURL),
	}
	return s.send(ctx, conversationID, req, nil)
}

// Discard removes a failed provisional message the server never acknowledged.
func (s *Sender) Discard(conversationID, tempID string) error {
	removed := s.store.Update(conversationID, func(w *store.Window) bool {
		for i := range w.Messages {
			m := &w.Messages[i]
			if m.TempID == tempID && m.IsProvisional() && m.Status == models.StatusFailed {
				w.Messages = append(w.Messages[:i], w.Messages[i+1:]...)
				return true
			}
		}
		return false
	})
	if !removed {
		return fmt.Errorf("%w: %s", ErrNotFailed, tempID)
	}
	return nil
}

// Wait blocks until every outstanding send request has completed.
func (s *Sender) Wait() {
	s.wg.Wait()
}

func (s *Sender) send(ctx context.Context, conversationID string, req core.SendRequest, opts []SendOption) (models.Message, error) {
	if conversationID == "" {
		return models.Message{}, fmt.Errorf("send: empty conversation id")
	}
	for _, opt := range opts {
		opt(&req)
	}
	tempID := s.newTempID()
	req.TempID = tempID
	if req.Metadata == nil {
		req.Metadata = make(map[string]interface{})
	}
	req.Metadata["temp_id"] = tempID
	if err := req.Validate(); err != nil {
		return models.Message{}, fmt.Errorf("send: invalid request: %w", err)
	}

	provisional := s.insertProvisional(conversationID, req)
	s.metrics.Send("queued")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// a send cannot be cancelled once issued
		s.deliver(context.WithoutCancel(ctx), conversationID, req)
	}()
	return provisional, nil
}

func (s *Sender) insertProvisional(conversationID string, req core.SendRequest) models.Message {
	now := s.now()
	msg := models.Message{
		ID:             req.TempID,
		TempID:         req.TempID,
		LocalKey:       req.TempID,
		ConversationID: conversationID,
		SenderID:       s.store.CurrentUserID(),
		SenderType:     models.SenderUser,
		MessageType:    req.MessageType,
		Content:        req.Content,
		MediaURL:       req.MediaURL,
		FileName:       req.FileName,
		FileSize:       req.FileSize,
		MimeType:       req.MimeType,
		StickerID:      req.StickerID,
		Status:         models.StatusSending,
		ReplyToID:      req.ReplyToID,
		Metadata:       map[string]interface{}{"temp_id": req.TempID},
	}
	if thumb, ok := req.Metadata["thumbnail_url"].(string); ok {
		msg.ThumbnailURL = thumb
	}

	s.store.UpdateBoth(conversationID, func(w *store.Window, conv *models.Conversation) (bool, bool) {
		// the provisional entry always lands at the tail, even against a server clock
		// running ahead of ours; an equal timestamp would fall back to id order
		if n := len(w.Messages); n > 0 && !now.After(w.Messages[n-1].CreatedAt) {
			now = w.Messages[n-1].CreatedAt.Add(tailStep)
		}
		msg.CreatedAt = now
		msg.UpdatedAt = now
		if req.ReplyToID != nil {
			if idx := findByID(w.Messages, *req.ReplyToID); idx >= 0 {
				src := w.Messages[idx]
				msg.ReplyToMessage = &models.ReplySnapshot{
					ID:          src.ID,
					SenderID:    src.SenderID,
					MessageType: src.MessageType,
					Content:     src.Content,
					IsDeleted:   src.IsDeleted,
				}
			}
		}
		w.Messages = append(w.Messages, msg.Clone())

		convChanged := false
		if conv != nil {
			convChanged = conv.SetPreview(&msg)
		}
		return true, convChanged
	})
	return msg
}

func (s *Sender) deliver(ctx context.Context, conversationID string, req core.SendRequest) {
	resp, err := s.provider.SendMessage(ctx, conversationID, req)
	if err == nil && resp == nil {
		err = fmt.Errorf("empty response")
	}
	if err != nil {
		s.logger.Warnf("send %s to %s failed: %v", req.TempID, conversationID, err)
		s.markFailed(conversationID, req.TempID)
		s.metrics.Send("failed")
		return
	}

	confirmed := resp.Clone()
	confirmed.TempID = req.TempID
	if confirmed.ConversationID == "" {
		confirmed.ConversationID = conversationID
	}
	if confirmed.Status == "" || confirmed.Status == models.StatusSending {
		confirmed.Status = models.StatusSent
	}
	if confirmed.ID == "" {
		s.logger.Warnf("send %s to %s returned no id", req.TempID, conversationID)
		s.markFailed(conversationID, req.TempID)
		s.metrics.Send("failed")
		return
	}
	outcome := s.reconciler.ApplyMessage(confirmed)
	s.logger.Debugf("send %s confirmed as %s (%s)", req.TempID, confirmed.ID, outcome)
	s.metrics.Send("sent")
}

// markFailed flips a still-pending provisional entry to failed. An entry that was already
// confirmed by a real-time echo is left alone.
func (s *Sender) markFailed(conversationID, tempID string) {
	s.store.Update(conversationID, func(w *store.Window) bool {
		for i := range w.Messages {
			m := &w.Messages[i]
			if m.TempID == tempID && m.IsProvisional() && m.Status == models.StatusSending {
				m.Status = models.StatusFailed
				return true
			}
		}
		return false
	})
}
