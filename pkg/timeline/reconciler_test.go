package timeline

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Murmur/pkg/core"
	"Murmur/pkg/metrics"
	"Murmur/pkg/models"
	"Murmur/pkg/store"
)

func seedWindow(st *store.Store, conv string, msgs []models.Message) {
	st.Update(conv, func(w *store.Window) bool {
		for _, m := range msgs {
			m.LocalKey = m.Identity()
			w.Messages = append(w.Messages, m)
		}
		w.Loaded = true
		return true
	})
}

func TestReconcileEchoBeforeSendResponse(t *testing.T) {
	release := make(chan struct{})
	p := &fakeProvider{sendFn: func(req core.SendRequest) (*models.Message, error) {
		<-release
		return &models.Message{ID: "m1", TempID: req.TempID, ConversationID: "c1", SenderID: "me", Content: "hello", Status: models.StatusSent}, nil
	}}
	e := newTestEngine(p, Deps{NewTempID: func() string { return "t1" }})

	prov, err := e.Sender.SendText(t.Context(), "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSending, prov.Status)

	msgs := e.Store.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "t1", msgs[0].ID)
	assert.Equal(t, models.StatusSending, msgs[0].Status)
	localKey := msgs[0].LocalKey

	out := e.Reconciler.Apply(core.MessageReceiveEvent{Message: models.Message{
		ID: "m1", TempID: "t1", ConversationID: "c1", SenderID: "me", Content: "hello", Status: models.StatusSent,
	}})
	assert.Equal(t, OutcomeReplaced, out)

	close(release)
	e.Sender.Wait()

	msgs = e.Store.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, models.StatusSent, msgs[0].Status)
	assert.Equal(t, localKey, msgs[0].LocalKey)
	require.NoError(t, e.Store.CheckInvariants("c1"))
}

func TestReceiveIsIdempotent(t *testing.T) {
	e := newTestEngine(&fakeProvider{}, Deps{})
	e.Store.UpsertConversation(models.Conversation{ID: "c1"})
	seedWindow(e.Store, "c1", msgRange("c1", 1, 3))

	notifications := 0
	e.Store.Subscribe(func(store.Change) { notifications++ })

	ev := core.MessageReceiveEvent{Message: msgN("c1", 4)}
	assert.Equal(t, OutcomeAppended, e.Reconciler.Apply(ev))
	first := e.Store.Snapshot()
	before := notifications

	assert.Equal(t, OutcomeSkipped, e.Reconciler.Apply(ev))
	assert.Equal(t, first, e.Store.Snapshot())
	assert.Equal(t, before, notifications, "a skip must not notify")
}

func TestReceiveUnreadCounting(t *testing.T) {
	e := newTestEngine(&fakeProvider{}, Deps{})
	e.Store.UpsertConversation(models.Conversation{ID: "c1"})
	e.Store.UpsertConversation(models.Conversation{ID: "c2"})
	e.Store.SetActiveConversation("c2")

	e.Reconciler.Apply(core.MessageReceiveEvent{Message: msgN("c1", 1)})
	own := msgN("c1", 2)
	own.SenderID = "me"
	e.Reconciler.Apply(core.MessageReceiveEvent{Message: own})
	e.Reconciler.Apply(core.MessageReceiveEvent{Message: msgN("c2", 3)})

	c1, _ := e.Store.Conversation("c1")
	c2, _ := e.Store.Conversation("c2")
	assert.Equal(t, 1, c1.UnreadCount)
	assert.Equal(t, 0, c2.UnreadCount)
	assert.Equal(t, "message 2", c1.LastMessageText)
}

func TestLateProvisionalEchoIsSkipped(t *testing.T) {
	e := newTestEngine(&fakeProvider{}, Deps{})
	seedWindow(e.Store, "c1", []models.Message{{ID: "m1", TempID: "t1", ConversationID: "c1", Content: "hi", Status: models.StatusDelivered, CreatedAt: baseTime}})

	out := e.Reconciler.Apply(core.MessageReceiveEvent{Message: models.Message{ID: "t1", TempID: "t1", ConversationID: "c1", Status: models.StatusSending}})
	assert.Equal(t, OutcomeSkipped, out)
	msgs := e.Store.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, models.StatusDelivered, msgs[0].Status)
}

func TestAuthoritativeUpdateByID(t *testing.T) {
	e := newTestEngine(&fakeProvider{}, Deps{})
	seedWindow(e.Store, "c1", msgRange("c1", 1, 2))

	upd := msgN("c1", 1)
	upd.Status = models.StatusDelivered
	assert.Equal(t, OutcomeReplaced, e.Reconciler.Apply(core.MessageReceiveEvent{Message: upd}))
	m, _ := e.Store.FindMessage("c1", "m1")
	assert.Equal(t, models.StatusDelivered, m.Status)
	assert.Equal(t, "m1", m.LocalKey)
}

func TestServerIDCollidingWithTempIDIsCounted(t *testing.T) {
	met := metrics.New()
	e := newTestEngine(&fakeProvider{}, Deps{Metrics: met})
	seedWindow(e.Store, "c1", []models.Message{{ID: "m1", TempID: "t1", ConversationID: "c1", CreatedAt: baseTime}})

	out := e.Reconciler.Apply(core.MessageReceiveEvent{Message: models.Message{ID: "t1", ConversationID: "c1", Content: "other", CreatedAt: baseTime}})
	assert.Equal(t, OutcomeSkipped, out)
	assert.Len(t, e.Store.Messages("c1"), 1)

	expected := `
# HELP murmur_reconcile_id_collisions_total Incoming server ids that collided with a stored client temp id.
# TYPE murmur_reconcile_id_collisions_total counter
murmur_reconcile_id_collisions_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(met.Registry(), strings.NewReader(expected), "murmur_reconcile_id_collisions_total"))
}

func TestMalformedMessageIsIgnored(t *testing.T) {
	e := newTestEngine(&fakeProvider{}, Deps{})
	assert.Equal(t, OutcomeIgnored, e.Reconciler.ApplyMessage(models.Message{ConversationID: "c1"}))
	assert.Equal(t, OutcomeIgnored, e.Reconciler.ApplyMessage(models.Message{ID: "m1"}))
	_, ok := e.Store.Window("c1")
	assert.False(t, ok)
}

func TestEditIsIdempotentAndIgnoresTombstones(t *testing.T) {
	e := newTestEngine(&fakeProvider{}, Deps{})
	seedWindow(e.Store, "c1", msgRange("c1", 1, 3))

	ev := core.MessageEditEvent{ConversationID: "c1", MessageID: "m2", Content: "fixed"}
	assert.Equal(t, OutcomeUpdated, e.Reconciler.Apply(ev))
	assert.Equal(t, OutcomeSkipped, e.Reconciler.Apply(ev))
	m, _ := e.Store.FindMessage("c1", "m2")
	assert.True(t, m.IsEdited)
	assert.Equal(t, 1, m.EditCount)
	assert.Equal(t, "fixed", m.Content)

	e.Reconciler.Apply(core.MessageDeleteEvent{ConversationID: "c1", MessageID: "m2"})
	assert.Equal(t, OutcomeSkipped, e.Reconciler.Apply(core.MessageEditEvent{ConversationID: "c1", MessageID: "m2", Content: "again"}))
	assert.Equal(t, OutcomeIgnored, e.Reconciler.Apply(core.MessageEditEvent{ConversationID: "c1", MessageID: "zz", Content: "x"}))
}

func TestDeleteTombstonesInPlace(t *testing.T) {
	e := newTestEngine(&fakeProvider{}, Deps{})
	seedWindow(e.Store, "c1", msgRange("c1", 1, 8))
	reply := msgN("c1", 9)
	replyTo := "m5"
	reply.ReplyToID = &replyTo
	reply.ReplyToMessage = &models.ReplySnapshot{ID: "m5", Content: "message 5"}
	seedWindow(e.Store, "c1", []models.Message{reply})

	before := e.Store.Messages("c1")
	ev := core.MessageDeleteEvent{ConversationID: "c1", MessageID: "m5"}
	assert.Equal(t, OutcomeUpdated, e.Reconciler.Apply(ev))
	after := e.Store.Messages("c1")

	require.Len(t, after, len(before))
	assert.Equal(t, "m5", after[4].ID)
	assert.True(t, after[4].IsDeleted)
	assert.Equal(t, models.DeletedPlaceholder, after[4].Content)
	assert.True(t, after[8].ReplyToMessage.IsDeleted)

	assert.Equal(t, OutcomeSkipped, e.Reconciler.Apply(ev))
	assert.Equal(t, after, e.Store.Messages("c1"))
}

func TestReadEvents(t *testing.T) {
	e := newTestEngine(&fakeProvider{}, Deps{})
	e.Store.UpsertConversation(models.Conversation{ID: "c1", UnreadCount: 4})
	seedWindow(e.Store, "c1", msgRange("c1", 1, 3))
	e.Store.Update("c1", func(w *store.Window) bool {
		w.Messages = append(w.Messages, models.Message{ID: "t9", TempID: "t9", ConversationID: "c1", Status: models.StatusSending, CreatedAt: baseTime.Add(time.Minute)})
		return true
	})

	read := core.MessageReadEvent{ConversationID: "c1", MessageID: "m1", ReaderID: "u2"}
	assert.Equal(t, OutcomeUpdated, e.Reconciler.Apply(read))
	assert.Equal(t, OutcomeSkipped, e.Reconciler.Apply(read))
	m, _ := e.Store.FindMessage("c1", "m1")
	assert.Equal(t, models.StatusRead, m.Status)
	assert.Equal(t, 1, m.ReadCount)

	e.Reconciler.Apply(core.MessageReadEvent{ConversationID: "c1", MessageID: "m1", ReaderID: "u3"})
	m, _ = e.Store.FindMessage("c1", "m1")
	assert.Equal(t, 2, m.ReadCount)

	readAll := core.MessageReadAllEvent{ConversationID: "c1"}
	assert.Equal(t, OutcomeUpdated, e.Reconciler.Apply(readAll))
	assert.Equal(t, OutcomeSkipped, e.Reconciler.Apply(readAll))
	for _, m := range e.Store.Messages("c1") {
		if m.IsProvisional() {
			assert.Equal(t, models.StatusSending, m.Status)
			continue
		}
		assert.Equal(t, models.StatusRead, m.Status)
		assert.GreaterOrEqual(t, m.ReadCount, 1)
	}
	conv, _ := e.Store.Conversation("c1")
	assert.Zero(t, conv.UnreadCount)
}

func TestConversationEvents(t *testing.T) {
	nav := &recordingNavigator{}
	e := newTestEngine(&fakeProvider{}, Deps{Navigator: nav})

	created := core.ConversationCreateEvent{Conversation: models.Conversation{ID: "c1", Type: models.ConversationGroup, Name: "Team", MemberCount: 1, MemberIDs: []string{"me"}}}
	assert.Equal(t, OutcomeUpdated, e.Reconciler.Apply(created))
	assert.Equal(t, OutcomeSkipped, e.Reconciler.Apply(created))

	name := "Renamed"
	pinned := true
	upd := core.ConversationUpdateEvent{ConversationID: "c1", Patch: core.ConversationPatch{Name: &name, IsPinned: &pinned}}
	assert.Equal(t, OutcomeUpdated, e.Reconciler.Apply(upd))
	assert.Equal(t, OutcomeSkipped, e.Reconciler.Apply(upd))

	added := core.ConversationUserAddedEvent{ConversationID: "c1", UserID: "u2"}
	assert.Equal(t, OutcomeUpdated, e.Reconciler.Apply(added))
	assert.Equal(t, OutcomeSkipped, e.Reconciler.Apply(added))
	conv, _ := e.Store.Conversation("c1")
	assert.Equal(t, 2, conv.MemberCount)
	assert.Equal(t, "Renamed", conv.Name)
	assert.True(t, conv.IsPinned)

	removed := core.ConversationUserRemovedEvent{ConversationID: "c1", UserID: "u2"}
	assert.Equal(t, OutcomeUpdated, e.Reconciler.Apply(removed))
	assert.Equal(t, OutcomeSkipped, e.Reconciler.Apply(removed))

	conv, _ = e.Store.Conversation("c1")
	assert.Equal(t, 1, conv.MemberCount)

	// member_count without a member list
	e.Store.UpsertConversation(models.Conversation{ID: "c2", Type: models.ConversationGroup, MemberCount: 5})
	assert.Equal(t, OutcomeUpdated, e.Reconciler.Apply(core.ConversationUserAddedEvent{ConversationID: "c2", UserID: "u6"}))
	conv, _ = e.Store.Conversation("c2")
	assert.Equal(t, 6, conv.MemberCount)
	leave := core.ConversationUserRemovedEvent{ConversationID: "c2", UserID: "u2"}
	assert.Equal(t, OutcomeUpdated, e.Reconciler.Apply(leave))
	assert.Equal(t, OutcomeSkipped, e.Reconciler.Apply(leave))
	conv, _ = e.Store.Conversation("c2")
	assert.Equal(t, 5, conv.MemberCount)

	assert.Equal(t, OutcomeIgnored, e.Reconciler.Apply(core.ConversationUpdateEvent{ConversationID: "nope", Patch: upd.Patch}))

	e.Store.SetActiveConversation("c1")
	seedWindow(e.Store, "c1", msgRange("c1", 1, 2))
	del := core.ConversationDeleteEvent{ConversationID: "c1"}
	assert.Equal(t, OutcomeUpdated, e.Reconciler.Apply(del))
	assert.Equal(t, OutcomeSkipped, e.Reconciler.Apply(del))
	assert.Equal(t, []string{"c1"}, nav.left)
	assert.Empty(t, e.Store.Messages("c1"))
	assert.Empty(t, e.Store.ActiveConversationID())
}

func TestLocalUserRemovedLeavesConversation(t *testing.T) {
	nav := &recordingNavigator{}
	e := newTestEngine(&fakeProvider{}, Deps{Navigator: nav})
	e.Store.UpsertConversation(models.Conversation{ID: "c1", MemberIDs: []string{"me", "u2"}, MemberCount: 2})
	e.Store.SetActiveConversation("c1")

	assert.Equal(t, OutcomeUpdated, e.Reconciler.Apply(core.ConversationUserRemovedEvent{ConversationID: "c1", UserID: "me"}))
	_, ok := e.Store.Conversation("c1")
	assert.False(t, ok)
	assert.Equal(t, []string{"c1"}, nav.left)
}

// TestRandomEventSequencesKeepInvariants replays shuffled, duplicated event streams and
// checks ordering and identity uniqueness after every step.
func TestRandomEventSequencesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		e := newTestEngine(&fakeProvider{}, Deps{})
		e.Store.UpsertConversation(models.Conversation{ID: "c1"})

		var events []core.ProviderEvent
		for i := 1; i <= 15; i++ {
			n := rng.Intn(30)
			m := msgN("c1", n)
			if n%3 == 0 {
				// own messages always travel with their correlation id
				m.TempID = fmt.Sprintf("t%d", n)
				m.SenderID = "me"
				events = append(events, core.MessageReceiveEvent{Message: models.Message{
					ID: m.TempID, TempID: m.TempID, ConversationID: "c1", SenderID: "me",
					Status: models.StatusSending, CreatedAt: m.CreatedAt,
				}})
			}
			switch rng.Intn(3) {
			case 0:
				events = append(events, core.MessageDeleteEvent{ConversationID: "c1", MessageID: m.ID})
			case 1:
				events = append(events, core.MessageEditEvent{ConversationID: "c1", MessageID: m.ID, Content: "edited"})
			}
			events = append(events, core.MessageReceiveEvent{Message: m})
		}
		events = append(events, events...)
		rng.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })

		for _, ev := range events {
			e.Reconciler.Apply(ev)
			require.NoError(t, e.Store.CheckInvariants("c1"))
		}
	}
}
