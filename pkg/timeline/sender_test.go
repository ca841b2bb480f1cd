package timeline

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Murmur/pkg/core"
	"Murmur/pkg/models"
)

func TestSendTextConfirms(t *testing.T) {
	p := &fakeProvider{}
	e := newTestEngine(p, Deps{})
	e.Store.UpsertConversation(models.Conversation{ID: "c1"})

	prov, err := e.Sender.SendText(t.Context(), "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "t1", prov.ID)
	assert.Equal(t, "t1", prov.TempID)
	assert.Equal(t, "me", prov.SenderID)
	assert.Equal(t, models.StatusSending, prov.Status)

	e.Sender.Wait()

	msgs := e.Store.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-t1", msgs[0].ID)
	assert.Equal(t, "t1", msgs[0].TempID)
	assert.Equal(t, "t1", msgs[0].LocalKey)
	assert.Equal(t, models.StatusSent, msgs[0].Status)

	require.Len(t, p.sent, 1)
	assert.Equal(t, "t1", p.sent[0].TempID)
	assert.Equal(t, "t1", p.sent[0].Metadata["temp_id"])

	conv, _ := e.Store.Conversation("c1")
	assert.Equal(t, "hello", conv.LastMessageText)
	assert.Zero(t, conv.UnreadCount)
}

func TestSendRejectsEmptyContent(t *testing.T) {
	p := &fakeProvider{}
	e := newTestEngine(p, Deps{})

	_, err := e.Sender.SendText(t.Context(), "c1", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = e.Sender.SendImage(t.Context(), "c1", Media{})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = e.Sender.SendFile(t.Context(), "c1", Media{URL: "https://cdn/x"})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = e.Sender.SendSticker(t.Context(), "c1", "", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	assert.Empty(t, e.Store.Messages("c1"))
	assert.Empty(t, p.sent)
}

func TestProvisionalLandsAtTail(t *testing.T) {
	e := newTestEngine(&fakeProvider{}, Deps{Now: func() time.Time { return baseTime }})
	seedWindow(e.Store, "c1", msgRange("c1", 1, 3))

	_, err := e.Sender.SendText(t.Context(), "c1", "late clock")
	require.NoError(t, err)
	e.Sender.Wait()

	msgs := e.Store.Messages("c1")
	require.Len(t, msgs, 4)
	assert.Equal(t, "t1", msgs[3].TempID)
	assert.NoError(t, e.Store.CheckInvariants("c1"))
}

func TestProvisionalLandsAfterFutureDatedTail(t *testing.T) {
	e := newTestEngine(&fakeProvider{}, Deps{
		Now:       func() time.Time { return baseTime },
		NewTempID: func() string { return TempIDPrefix + "ca5a" },
	})
	// server clock a minute ahead, and an id that sorts after the temp id
	tail := models.Message{ID: "x-server", ConversationID: "c1", SenderID: "other", Content: "from the future", Status: models.StatusSent, CreatedAt: baseTime.Add(time.Minute)}
	seedWindow(e.Store, "c1", append(msgRange("c1", 1, 3), tail))

	prov, err := e.Sender.SendText(t.Context(), "c1", "hello")
	require.NoError(t, err)
	assert.True(t, prov.CreatedAt.After(tail.CreatedAt))

	msgs := e.Store.Messages("c1")
	require.Len(t, msgs, 5)
	assert.Equal(t, "x-server", msgs[3].ID)
	assert.Equal(t, TempIDPrefix+"ca5a", msgs[4].TempID)

	e.Sender.Wait()
	msgs = e.Store.Messages("c1")
	require.Len(t, msgs, 5)
	assert.Equal(t, "srv-"+TempIDPrefix+"ca5a", msgs[4].ID)
	assert.NoError(t, e.Store.CheckInvariants("c1"))
}

func TestSendReplyCarriesSnapshot(t *testing.T) {
	p := &fakeProvider{}
	e := newTestEngine(p, Deps{})
	seedWindow(e.Store, "c1", msgRange("c1", 1, 3))

	prov, err := e.Sender.SendText(t.Context(), "c1", "agreed", WithReplyTo("m2"), WithMetadata("client", "cli"))
	require.NoError(t, err)
	require.NotNil(t, prov.ReplyToID)
	assert.Equal(t, "m2", *prov.ReplyToID)
	e.Sender.Wait()

	m, ok := e.Store.FindMessage("c1", "t1")
	require.True(t, ok)
	require.NotNil(t, m.ReplyToMessage)
	assert.Equal(t, "message 2", m.ReplyToMessage.Content)
	assert.Equal(t, "cli", p.sent[0].Metadata["client"])
}

func TestSendImageCarriesMedia(t *testing.T) {
	p := &fakeProvider{}
	e := newTestEngine(p, Deps{})

	prov, err := e.Sender.SendImage(t.Context(), "c1", Media{
		URL: "https://cdn/cat.png", ThumbnailURL: "https://cdn/cat_t.png", MimeType: "image/png", Caption: "cat",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeImage, prov.MessageType)
	assert.Equal(t, "https://cdn/cat_t.png", prov.ThumbnailURL)
	e.Sender.Wait()
	assert.Equal(t, "https://cdn/cat.png", p.sent[0].MediaURL)
}

func TestSendFailureResendAndDiscard(t *testing.T) {
	var calls atomic.Int32
	p := &fakeProvider{}
	p.sendFn = func(req core.SendRequest) (*models.Message, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("network down")
		}
		return &models.Message{ID: "m100", TempID: req.TempID, ConversationID: "c1", SenderID: "me", Content: req.Content, Status: models.StatusSent}, nil
	}
	e := newTestEngine(p, Deps{})

	_, err := e.Sender.SendText(t.Context(), "c1", "retry me")
	require.NoError(t, err)
	e.Sender.Wait()

	failed, ok := e.Store.FindMessage("c1", "t1")
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, failed.Status)

	_, err = e.Sender.Resend(t.Context(), "c1", "t1")
	require.NoError(t, err)
	e.Sender.Wait()

	msgs := e.Store.Messages("c1")
	require.Len(t, msgs, 2, "the failed entry stays until discarded")
	confirmed, ok := e.Store.FindMessage("c1", "m100")
	require.True(t, ok)
	assert.Equal(t, "t2", confirmed.TempID)
	assert.Equal(t, "retry me", confirmed.Content)

	require.NoError(t, e.Sender.Discard("c1", "t1"))
	assert.Len(t, e.Store.Messages("c1"), 1)
	assert.ErrorIs(t, e.Sender.Discard("c1", "t1"), ErrNotFailed)
	assert.ErrorIs(t, e.Sender.Discard("c1", "t2"), ErrNotFailed)
	_, err = e.Sender.Resend(t.Context(), "c1", "t2")
	assert.ErrorIs(t, err, ErrNotFailed)
}

func TestSendFailureAfterEchoKeepsConfirmation(t *testing.T) {
	p := &fakeProvider{}
	e := newTestEngine(p, Deps{})
	p.sendFn = func(req core.SendRequest) (*models.Message, error) {
		e.Reconciler.Apply(core.MessageReceiveEvent{Message: models.Message{
			ID: "m7", TempID: req.TempID, ConversationID: "c1", SenderID: "me", Content: req.Content, Status: models.StatusDelivered,
		}})
		return nil, errors.New("response lost")
	}

	_, err := e.Sender.SendText(t.Context(), "c1", "hi")
	require.NoError(t, err)
	e.Sender.Wait()

	msgs := e.Store.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m7", msgs[0].ID)
	assert.Equal(t, models.StatusDelivered, msgs[0].Status)
}

func TestSendResponseWithoutTempIDStillResolves(t *testing.T) {
	p := &fakeProvider{sendFn: func(req core.SendRequest) (*models.Message, error) {
		return &models.Message{ID: "m9", Content: req.Content}, nil
	}}
	e := newTestEngine(p, Deps{})

	_, err := e.Sender.SendText(t.Context(), "c1", "hi")
	require.NoError(t, err)
	e.Sender.Wait()

	msgs := e.Store.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m9", msgs[0].ID)
	assert.Equal(t, "t1", msgs[0].LocalKey)
	assert.Equal(t, models.StatusSent, msgs[0].Status)
}

func TestNewTempIDIsPrefixed(t *testing.T) {
	a, b := NewTempID(), NewTempID()
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, TempIDPrefix)
}
