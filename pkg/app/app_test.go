package app

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Murmur/pkg/config"
	"Murmur/pkg/logging"
	"Murmur/pkg/models"
)

func testConfig(t *testing.T, dbPath string) *config.Config {
	t.Helper()
	require.NoError(t, logging.Configure(t.TempDir(), "debug", io.Discard))
	cfg := config.Default()
	cfg.Cache.Path = dbPath
	cfg.Cache.WriteDelay = 10 * time.Millisecond
	cfg.Timeline.PageCooldown = 0
	cfg.Provider.Settings = map[string]interface{}{"seed_messages": 30}
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, Options{})
	require.NoError(t, err)
	require.NoError(t, a.Start(t.Context()))
	return a
}

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Identity()
	}
	return out
}

func TestOperationsBeforeStart(t *testing.T) {
	a, err := New(testConfig(t, filepath.Join(t.TempDir(), "murmur.db")), Options{})
	require.NoError(t, err)

	assert.ErrorIs(t, a.Open(context.Background(), "user-alice"), ErrNotStarted)
	_, err = a.Send(context.Background(), "user-alice", "hi")
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.Nil(t, a.Conversations())
	assert.Len(t, a.Providers(), 3)
	require.NoError(t, a.Close())
}

func TestOpenAndSend(t *testing.T) {
	a := startApp(t, testConfig(t, filepath.Join(t.TempDir(), "murmur.db")))
	defer a.Close()

	assert.Len(t, a.Conversations(), 3)
	require.NoError(t, a.Open(t.Context(), "user-alice"))
	msgs := a.Messages("user-alice")
	require.Len(t, msgs, 20)
	assert.Equal(t, "user-alice-msg-30", msgs[len(msgs)-1].ID)

	sent, err := a.Send(t.Context(), "user-alice", "hello")
	require.NoError(t, err)
	assert.True(t, sent.IsProvisional())
	a.WaitSends()

	// the confirmation and the echoed event collapse into one confirmed entry
	assert.Eventually(t, func() bool {
		var hits []models.Message
		for _, m := range a.Messages("user-alice") {
			if m.Content == "hello" {
				hits = append(hits, m)
			}
		}
		return len(hits) == 1 && !hits[0].IsProvisional() && hits[0].LocalKey == sent.LocalKey
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.MarkRead(t.Context(), "user-alice"))
}

func TestHistoryAndJump(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "murmur.db"))
	cfg.Provider.Settings["seed_messages"] = 100
	a := startApp(t, cfg)
	defer a.Close()

	require.NoError(t, a.Open(t.Context(), "group-work-chat"))
	res, err := a.LoadOlder(t.Context(), "group-work-chat")
	require.NoError(t, err)
	assert.Equal(t, 20, res.Added)
	assert.Len(t, a.Messages("group-work-chat"), 40)

	require.NoError(t, a.Jump(t.Context(), "group-work-chat", "group-work-chat-msg-5"))
	w, ok := a.Store().Window("group-work-chat")
	require.True(t, ok)
	assert.Contains(t, ids(w.Messages), "group-work-chat-msg-5")
	assert.True(t, w.HasAfter)

	win, err := a.Window("group-work-chat")
	require.NoError(t, err)
	idx, ok := win.IndexOf("group-work-chat-msg-5")
	require.True(t, ok)
	assert.GreaterOrEqual(t, idx, win.FirstItemIndex())
}

type highlights struct {
	mu     sync.Mutex
	events []string
}

func (h *highlights) SetHighlight(_, id string) {
	h.mu.Lock()
	h.events = append(h.events, "set "+id)
	h.mu.Unlock()
}

func (h *highlights) ClearHighlight(_, id string) {
	h.mu.Lock()
	h.events = append(h.events, "clear "+id)
	h.mu.Unlock()
}

func (h *highlights) list() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func TestJumpHighlightReachesUI(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "murmur.db"))
	cfg.Timeline.HighlightDuration = 20 * time.Millisecond
	hl := &highlights{}
	a, err := New(cfg, Options{Highlighter: hl})
	require.NoError(t, err)
	require.NoError(t, a.Start(t.Context()))
	defer a.Close()

	require.NoError(t, a.Open(t.Context(), "user-alice"))
	require.NoError(t, a.Jump(t.Context(), "user-alice", "user-alice-msg-25"))
	assert.Equal(t, []string{"set user-alice-msg-25"}, hl.list())
	assert.Eventually(t, func() bool {
		return len(hl.list()) == 2 && hl.list()[1] == "clear user-alice-msg-25"
	}, time.Second, 5*time.Millisecond)
}

func TestCacheHydratesNextSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "murmur.db")

	first := startApp(t, testConfig(t, path))
	require.NoError(t, first.Open(t.Context(), "user-bob"))
	want := ids(first.Messages("user-bob"))
	require.NoError(t, first.Close())

	second := startApp(t, testConfig(t, path))
	defer second.Close()
	require.NoError(t, second.Open(t.Context(), "user-bob"))

	w, ok := second.Store().Window("user-bob")
	require.True(t, ok)
	assert.True(t, w.Loaded)
	assert.False(t, w.HasAfter, "the cached tail was caught up with the server")
	assert.Equal(t, want, ids(w.Messages))
}

func TestCacheDisabled(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Cache.Enabled = false
	a := startApp(t, cfg)
	defer a.Close()

	assert.Nil(t, a.cache)
	require.NoError(t, a.Open(t.Context(), "user-alice"))
	assert.Len(t, a.Messages("user-alice"), 20)
}
