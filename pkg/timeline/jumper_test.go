package timeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Murmur/pkg/core"
	"Murmur/pkg/models"
)

type jumpFixture struct {
	engine *Engine
	p      *fakeProvider
	vp     *storeViewport
	hl     *recordingHighlighter
	notes  *recordingNotifier
}

func newJumpFixture(p *fakeProvider) *jumpFixture {
	f := &jumpFixture{p: p, vp: &storeViewport{}, hl: &recordingHighlighter{}, notes: &recordingNotifier{}}
	f.engine = newTestEngine(p, Deps{Viewport: f.vp, Highlighter: f.hl, Notifier: f.notes})
	loadedWindow(f.engine.Store, "c1", msgRange("c1", 1, 50), true, false)
	return f
}

func TestJumpToLoadedMessageScrollsLocally(t *testing.T) {
	f := newJumpFixture(&fakeProvider{})

	require.NoError(t, f.engine.Jumper.Jump(t.Context(), "c1", "m10"))
	assert.Zero(t, f.p.contextCalls)
	assert.Equal(t, []string{"m10"}, f.vp.scrolled)
	assert.Equal(t, "m10", f.hl.active())

	assert.Eventually(t, func() bool { return f.hl.active() == "" }, time.Second, 5*time.Millisecond)
}

func TestJumpReplacesWindowWithContext(t *testing.T) {
	var query core.ContextQuery
	p := &fakeProvider{contextFn: func(q core.ContextQuery) (*core.MessageContext, error) {
		query = q
		return &core.MessageContext{Messages: msgRange("c1", 180, 220), HasBefore: true, HasAfter: true}, nil
	}}
	f := newJumpFixture(p)
	before, _ := f.engine.Store.Window("c1")

	require.NoError(t, f.engine.Jumper.Jump(t.Context(), "c1", "m200"))

	assert.Equal(t, core.ContextQuery{TargetID: "m200", Before: 20, After: 20}, query)
	w, _ := f.engine.Store.Window("c1")
	require.Len(t, w.Messages, 41)
	assert.Equal(t, "m180", w.Messages[0].ID)
	assert.Equal(t, "m220", w.Messages[40].ID)
	assert.True(t, w.HasMore)
	assert.True(t, w.HasAfter)
	assert.Equal(t, before.Generation+1, w.Generation)

	assert.Equal(t, 1, f.vp.settled)
	assert.Equal(t, []string{"m200"}, f.vp.scrolled)
	assert.Equal(t, "m200", f.hl.active())
}

func TestJumpFailureLeavesWindowUntouched(t *testing.T) {
	p := &fakeProvider{contextFn: func(q core.ContextQuery) (*core.MessageContext, error) {
		return nil, errors.New("gateway timeout")
	}}
	f := newJumpFixture(p)
	before, _ := f.engine.Store.Window("c1")

	err := f.engine.Jumper.Jump(t.Context(), "c1", "m200")
	assert.Error(t, err)

	after, _ := f.engine.Store.Window("c1")
	assert.Equal(t, before, after)
	assert.Equal(t, 1, f.notes.count())
	assert.Empty(t, f.vp.scrolled)
	assert.Empty(t, f.hl.active())
}

func TestJumpTargetMissingFromContext(t *testing.T) {
	p := &fakeProvider{contextFn: func(q core.ContextQuery) (*core.MessageContext, error) {
		return &core.MessageContext{Messages: msgRange("c1", 180, 199)}, nil
	}}
	f := newJumpFixture(p)
	before, _ := f.engine.Store.Window("c1")

	err := f.engine.Jumper.Jump(t.Context(), "c1", "m200")
	assert.ErrorIs(t, err, ErrTargetNotFound)
	after, _ := f.engine.Store.Window("c1")
	assert.Equal(t, before, after)
	assert.Equal(t, 1, f.notes.count())
}

func TestNewerHighlightReplacesOlder(t *testing.T) {
	f := newJumpFixture(&fakeProvider{})
	f.engine.Jumper.cfg.HighlightDuration = time.Hour

	require.NoError(t, f.engine.Jumper.Jump(t.Context(), "c1", "m10"))
	require.NoError(t, f.engine.Jumper.Jump(t.Context(), "c1", "m20"))
	assert.Equal(t, "m20", f.hl.active())
	assert.Equal(t, []string{"m10"}, f.hl.cleared)

	f.engine.Close()
	assert.Empty(t, f.hl.active())
}

func TestEngineOpenAndMarkRead(t *testing.T) {
	p := &fakeProvider{pageFn: func(q core.MessageQuery) (*core.MessagePage, error) {
		return &core.MessagePage{Messages: msgRange("c1", 1, 5), HasMore: false}, nil
	}}
	e := newTestEngine(p, Deps{})
	e.Store.UpsertConversation(models.Conversation{ID: "c1", UnreadCount: 3})

	require.NoError(t, e.Open(t.Context(), "c1"))
	assert.Equal(t, "c1", e.Store.ActiveConversationID())
	assert.Len(t, e.Store.Messages("c1"), 5)

	require.NoError(t, e.Open(t.Context(), "c1"))
	assert.Equal(t, 1, p.calls(), "an already loaded window is not fetched again")

	require.NoError(t, e.MarkRead(t.Context(), "c1"))
	assert.Equal(t, 1, p.markCalls)
	conv, _ := e.Store.Conversation("c1")
	assert.Zero(t, conv.UnreadCount)
	for _, m := range e.Store.Messages("c1") {
		assert.Equal(t, models.StatusRead, m.Status)
	}
	e.Close()
}
