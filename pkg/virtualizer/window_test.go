package virtualizer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Murmur/pkg/models"
	"Murmur/pkg/store"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func msg(n int) models.Message {
	return models.Message{
		ID:             fmt.Sprintf("m%d", n),
		ConversationID: "c1",
		MessageType:    models.MessageTypeText,
		Content:        "hi",
		CreatedAt:      t0.Add(time.Duration(n) * time.Second),
	}
}

func msgs(from, to int) []models.Message {
	var out []models.Message
	for i := from; i <= to; i++ {
		out = append(out, msg(i))
	}
	return out
}

func TestPrependKeepsExistingIndices(t *testing.T) {
	w := New("c1", DefaultConfig())
	res := w.Sync(msgs(11, 110))
	assert.Equal(t, SyncReplace, res.Kind)
	assert.Equal(t, 100000, w.FirstItemIndex())
	before, ok := w.IndexOf("m11")
	require.True(t, ok)
	assert.Equal(t, 100000, before)

	res = w.Sync(msgs(1, 110))
	assert.Equal(t, SyncPrepend, res.Kind)
	assert.Equal(t, -10, res.Shift)
	assert.Equal(t, 99990, w.FirstItemIndex())

	after, _ := w.IndexOf("m11")
	assert.Equal(t, before, after, "an already rendered row keeps its index")
	first, ok := w.ItemAt(99990)
	require.True(t, ok)
	assert.Equal(t, "m1", first.ID)
}

func TestAppendKeepsBase(t *testing.T) {
	w := New("c1", DefaultConfig())
	w.Sync(msgs(1, 10))

	res := w.Sync(msgs(1, 12))
	assert.Equal(t, SyncAppend, res.Kind)
	assert.Zero(t, res.Shift)
	assert.Equal(t, 100000, w.FirstItemIndex())
	idx, _ := w.IndexOf("m12")
	assert.Equal(t, 100011, idx)
}

func TestReplaceResetsBase(t *testing.T) {
	w := New("c1", DefaultConfig())
	w.Sync(msgs(11, 50))
	w.Sync(msgs(1, 50))
	require.Equal(t, 99990, w.FirstItemIndex())

	res := w.Sync(msgs(180, 220))
	assert.Equal(t, SyncReplace, res.Kind)
	assert.Equal(t, 100000, w.FirstItemIndex())
	idx, ok := w.ScrollTarget("m200")
	require.True(t, ok)
	assert.Equal(t, 100020, idx)
}

func TestShrinkAndInPlaceUpdateKeepBase(t *testing.T) {
	w := New("c1", DefaultConfig())
	w.Sync(msgs(11, 20))
	w.Sync(msgs(1, 20))

	edited := msgs(1, 20)
	edited[5].Content = "edited"
	assert.Equal(t, SyncUpdate, w.Sync(edited).Kind)
	assert.Equal(t, SyncUpdate, w.Sync(msgs(1, 15)).Kind)
	assert.Equal(t, 99990, w.FirstItemIndex())
}

func TestDuplicatesAreCollapsed(t *testing.T) {
	list := msgs(1, 3)
	dup := list[1]
	dup.Content = "second copy"
	list = append(list, dup)

	w := New("c1", DefaultConfig())
	res := w.Sync(list)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 3, w.Len())
	m, _ := w.ItemAt(100001)
	assert.Equal(t, "hi", m.Content, "the first occurrence wins")
}

func TestProvisionalAndConfirmedShareIdentity(t *testing.T) {
	w := New("c1", DefaultConfig())
	prov := models.Message{ID: "t1", TempID: "t1", ConversationID: "c1", MessageType: models.MessageTypeText, Content: "hi", CreatedAt: t0}
	w.Sync([]models.Message{prov})
	require.True(t, w.Measure("t1", 90))

	confirmed := prov
	confirmed.ID = "m1"
	res := w.Sync([]models.Message{confirmed})
	assert.Equal(t, SyncUpdate, res.Kind)
	assert.Equal(t, 90, w.HeightAt(100000))
	idx, ok := w.IndexOf("m1")
	require.True(t, ok)
	assert.Equal(t, 100000, idx)
}

func TestEstimates(t *testing.T) {
	h := NewHeightCache(DefaultEstimates(), 2, nil)
	tests := []struct {
		name string
		msg  models.Message
		want int
	}{
		{"short text", models.Message{MessageType: models.MessageTypeText, Content: "hey"}, 56},
		{"wrapped text", models.Message{MessageType: models.MessageTypeText, Content: strings.Repeat("a", 81)}, 56 + 2*20},
		{"multi-line text", models.Message{MessageType: models.MessageTypeText, Content: "a\nb\nc"}, 56 + 2*20},
		{"image", models.Message{MessageType: models.MessageTypeImage}, 220},
		{"image with caption", models.Message{MessageType: models.MessageTypeImage, Content: "cat"}, 240},
		{"file", models.Message{MessageType: models.MessageTypeFile}, 72},
		{"sticker", models.Message{MessageType: models.MessageTypeSticker}, 140},
		{"reply", models.Message{MessageType: models.MessageTypeText, Content: "ok", ReplyToMessage: &models.ReplySnapshot{ID: "m1"}}, 56 + 48},
		{"tombstone", models.Message{MessageType: models.MessageTypeImage, IsDeleted: true, Content: models.DeletedPlaceholder}, 56},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.Estimate(&tt.msg))
		})
	}
}

func TestMeasureHysteresis(t *testing.T) {
	h := NewHeightCache(DefaultEstimates(), 2, nil)
	assert.True(t, h.Measure("m1", 60))
	assert.False(t, h.Measure("m1", 61))
	assert.False(t, h.Measure("m1", 62))
	assert.True(t, h.Measure("m1", 63))
	v, _ := h.Get("m1")
	assert.Equal(t, 63, v)
	assert.False(t, h.Measure("m1", 0))
	assert.False(t, h.Measure("", 10))
}

func TestTotalHeightAndOffsets(t *testing.T) {
	w := New("c1", DefaultConfig())
	w.Sync(msgs(1, 3))
	assert.Equal(t, 3*56, w.TotalHeight())

	require.True(t, w.MeasureAt(100001, 100))
	assert.Equal(t, 56+100+56, w.TotalHeight())
	assert.Equal(t, 56+100, w.OffsetOf(100002))
	assert.Zero(t, w.HeightAt(5))
}

func TestAttachFollowsStore(t *testing.T) {
	st := store.New("me")
	w := New("c1", DefaultConfig())

	var mu sync.Mutex
	var kinds []SyncKind
	w.OnSync(func(r SyncResult) {
		mu.Lock()
		kinds = append(kinds, r.Kind)
		mu.Unlock()
	})
	detach := w.Attach(st)
	defer detach()

	st.Update("c1", func(sw *store.Window) bool {
		sw.Messages = msgs(11, 20)
		sw.Loaded = true
		return true
	})
	st.Update("c1", func(sw *store.Window) bool {
		sw.Messages = append(msgs(1, 10), sw.Messages...)
		return true
	})
	assert.Equal(t, 99990, w.FirstItemIndex())

	st.Update("c1", func(sw *store.Window) bool {
		sw.Messages = msgs(11, 15)
		sw.Generation++
		return true
	})
	assert.Equal(t, 100000, w.FirstItemIndex())
	assert.Equal(t, uint64(1), w.Generation())

	st.Update("c2", func(sw *store.Window) bool {
		sw.Messages = msgs(1, 2)
		return true
	})
	assert.Equal(t, 5, w.Len())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []SyncKind{SyncReplace, SyncReplace, SyncPrepend, SyncReplace}, kinds)
}

func TestWaitGeneration(t *testing.T) {
	w := New("c1", DefaultConfig())

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.WaitGeneration(ctx, 1), context.DeadlineExceeded)

	go w.SyncWindow(store.Window{Messages: msgs(1, 3), Generation: 1})
	require.NoError(t, w.WaitGeneration(t.Context(), 1))
}
