package timeline

import (
	"time"

	"Murmur/pkg/core"
	"Murmur/pkg/logging"
	"Murmur/pkg/metrics"
	"Murmur/pkg/models"
	"Murmur/pkg/store"
)

// Outcome reports what applying an event did to the store.
type Outcome string

const (
	OutcomeAppended Outcome = "appended" // a new message was added
	OutcomeReplaced Outcome = "replaced" // a stored message was merged with the incoming copy
	OutcomeUpdated  Outcome = "updated"  // a stored entity was patched
	OutcomeSkipped  Outcome = "skipped"  // nothing changed
	OutcomeIgnored  Outcome = "ignored"  // the event referenced something unknown or was incomplete
	OutcomeDeferred Outcome = "deferred" // a live message past a detached window, left for LoadNewer
)

// Reconciler applies real-time events and send confirmations to the store.
// Every handler is idempotent: applying the same event again leaves the state unchanged.
type Reconciler struct {
	store   *store.Store
	nav     Navigator
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewReconciler creates a reconciler bound to a store.
func NewReconciler(st *store.Store, deps Deps) *Reconciler {
	deps = deps.withDefaults()
	return &Reconciler{
		store:   st,
		nav:     deps.Navigator,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		now:     deps.Now,
	}
}

// Apply dispatches one decoded event.
func (r *Reconciler) Apply(ev core.ProviderEvent) Outcome {
	var out Outcome
	switch e := ev.(type) {
	case core.MessageReceiveEvent:
		out = r.ApplyMessage(e.Message)
	case core.MessageEditEvent:
		out = r.applyEdit(e)
	case core.MessageDeleteEvent:
		out = r.applyDelete(e)
	case core.MessageReadEvent:
		out = r.applyRead(e)
	case core.MessageReadAllEvent:
		out = r.applyReadAll(e)
	case core.ConversationCreateEvent:
		out = r.applyUpsert(e.Conversation)
	case core.ConversationJoinEvent:
		out = r.applyUpsert(e.Conversation)
	case core.ConversationUpdateEvent:
		out = r.applyConversationUpdate(e)
	case core.ConversationUserAddedEvent:
		out = r.applyUserAdded(e)
	case core.ConversationUserRemovedEvent:
		out = r.applyUserRemoved(e)
	case core.ConversationDeleteEvent:
		out = r.removeConversation(e.ConversationID)
	case core.ConnectionStatusEvent:
		out = OutcomeSkipped
	default:
		r.logger.Warnf("reconciler: unsupported event %T dropped", ev)
		return OutcomeIgnored
	}
	r.metrics.EventApplied(string(ev.Type()), string(out))
	return out
}

// ApplyMessage merges a message into its conversation. It is the single code path for
// real-time message events and successful send responses.
func (r *Reconciler) ApplyMessage(msg models.Message) Outcome {
	if msg.ID == "" || msg.ConversationID == "" {
		r.logger.Warnf("reconciler: message without identity dropped (id=%q conversation=%q)", msg.ID, msg.ConversationID)
		return OutcomeIgnored
	}

	currentUser := r.store.CurrentUserID()
	active := r.store.ActiveConversationID()
	outcome := OutcomeSkipped
	var collision bool

	r.store.UpdateBoth(msg.ConversationID, func(w *store.Window, conv *models.Conversation) (bool, bool) {
		idx, kind := models.FindMatch(w.Messages, &msg)
		if idx < 0 {
			in := msg.Clone()
			if in.CreatedAt.IsZero() {
				in.CreatedAt = r.now()
			}
			if in.LocalKey == "" {
				in.LocalKey = in.Identity()
			}
			appendIt := !pastDetachedTail(w, &in)
			if appendIt {
				w.Messages = append(w.Messages, in)
				outcome = OutcomeAppended
			} else {
				outcome = OutcomeDeferred
			}

			convChanged := false
			if conv != nil {
				convChanged = conv.SetPreview(&in)
				// a deferred message is not stored, so only its first delivery moves the preview
				counts := appendIt || convChanged
				if counts && in.SenderID != currentUser && msg.ConversationID != active {
					conv.UnreadCount++
					convChanged = true
				}
			}
			return appendIt, convChanged
		}

		existing := &w.Messages[idx]
		collision = kind == models.MatchTempAsID ||
			(msg.TempID == "" && existing.TempID != "" && msg.ID == existing.TempID)
		switch {
		case msg.IsProvisional() && !existing.IsProvisional():
			// late echo of a send that was already confirmed
			return false, false
		case msg.TempID != "" && msg.ID == existing.ID && msg.TempID == existing.TempID:
			return false, false
		case existing.IsProvisional() && !msg.IsProvisional(), msg.ID == existing.ID:
			merged := models.Overlay(*existing, msg)
			if merged.Equal(existing) {
				return false, false
			}
			*existing = merged
			outcome = OutcomeReplaced
			convChanged := false
			if conv != nil {
				convChanged = conv.SetPreview(&merged)
			}
			return true, convChanged
		default:
			r.logger.Warnf("reconciler: %s collides with %s/%s in %s, keeping stored copy",
				msg.ID, existing.ID, existing.TempID, msg.ConversationID)
			return false, false
		}
	})

	if collision {
		r.metrics.IDCollision()
		r.logger.Warnf("reconciler: server id %s matches a client temp id in %s", msg.ID, msg.ConversationID)
	}
	return outcome
}

// pastDetachedTail reports whether msg lies beyond the contiguous slice of a window
// whose newer history has not been loaded. Such a message would leave a gap that
// pagination could never fill.
func pastDetachedTail(w *store.Window, msg *models.Message) bool {
	if !w.Loaded || !w.HasAfter || len(w.Messages) == 0 {
		return false
	}
	boundary := &w.Messages[len(w.Messages)-1]
	if w.AfterCursor != "" {
		if idx := findByID(w.Messages, w.AfterCursor); idx >= 0 {
			boundary = &w.Messages[idx]
		}
	}
	return msg.CreatedAt.After(boundary.CreatedAt)
}

func findByID(list []models.Message, id string) int {
	for i := range list {
		if list[i].ID == id || (list[i].TempID != "" && list[i].TempID == id) {
			return i
		}
	}
	return -1
}

func (r *Reconciler) applyEdit(e core.MessageEditEvent) Outcome {
	outcome := OutcomeIgnored
	r.store.UpdateBoth(e.ConversationID, func(w *store.Window, conv *models.Conversation) (bool, bool) {
		idx := findByID(w.Messages, e.MessageID)
		if idx < 0 {
			return false, false
		}
		m := &w.Messages[idx]
		if m.IsDeleted {
			outcome = OutcomeSkipped
			return false, false
		}

		count := e.EditCount
		if count == 0 {
			count = m.EditCount
			if m.Content != e.Content {
				count++
			}
		}
		if m.Content == e.Content && m.IsEdited && m.EditCount >= count {
			outcome = OutcomeSkipped
			return false, false
		}
		if count < m.EditCount {
			// an older edit arriving after a newer one
			outcome = OutcomeSkipped
			return false, false
		}

		m.Content = e.Content
		m.IsEdited = true
		m.EditCount = count
		if !e.EditedAt.IsZero() {
			m.UpdatedAt = e.EditedAt
		}
		refreshReplySnapshots(w.Messages, m)
		outcome = OutcomeUpdated

		convChanged := false
		if conv != nil && isLatest(w.Messages, idx) {
			convChanged = setPreviewText(conv, m)
		}
		return true, convChanged
	})
	return outcome
}

func (r *Reconciler) applyDelete(e core.MessageDeleteEvent) Outcome {
	outcome := OutcomeIgnored
	r.store.UpdateBoth(e.ConversationID, func(w *store.Window, conv *models.Conversation) (bool, bool) {
		idx := findByID(w.Messages, e.MessageID)
		if idx < 0 {
			return false, false
		}
		m := &w.Messages[idx]
		at := e.DeletedAt
		if at.IsZero() {
			at = r.now()
		}
		if !models.Tombstone(m, at) {
			outcome = OutcomeSkipped
			return false, false
		}
		refreshReplySnapshots(w.Messages, m)
		outcome = OutcomeUpdated

		convChanged := false
		if conv != nil && isLatest(w.Messages, idx) {
			convChanged = setPreviewText(conv, m)
		}
		return true, convChanged
	})
	return outcome
}

func (r *Reconciler) applyRead(e core.MessageReadEvent) Outcome {
	outcome := OutcomeIgnored
	r.store.Update(e.ConversationID, func(w *store.Window) bool {
		idx := findByID(w.Messages, e.MessageID)
		if idx < 0 {
			return false
		}
		if markRead(&w.Messages[idx], e.ReaderID, e.ReadCount) {
			outcome = OutcomeUpdated
			return true
		}
		outcome = OutcomeSkipped
		return false
	})
	return outcome
}

func (r *Reconciler) applyReadAll(e core.MessageReadAllEvent) Outcome {
	outcome := OutcomeSkipped
	r.store.UpdateBoth(e.ConversationID, func(w *store.Window, conv *models.Conversation) (bool, bool) {
		msgsChanged := false
		for i := range w.Messages {
			m := &w.Messages[i]
			if m.IsProvisional() || m.Status == models.StatusFailed {
				continue
			}
			reader := e.ReaderID
			if reader == m.SenderID {
				reader = ""
			}
			if markRead(m, reader, 0) {
				msgsChanged = true
			}
		}
		convChanged := false
		if conv != nil && conv.UnreadCount != 0 {
			conv.UnreadCount = 0
			convChanged = true
		}
		if msgsChanged || convChanged {
			outcome = OutcomeUpdated
		}
		return msgsChanged, convChanged
	})
	return outcome
}

// markRead sets a message read. A known reader is counted once; without a reader the
// count only moves to the authoritative value or to at least one.
func markRead(m *models.Message, readerID string, count int) bool {
	changed := false
	if next := models.AdvanceStatus(m.Status, models.StatusRead); next != m.Status {
		m.Status = next
		changed = true
	}
	if readerID != "" {
		seen := false
		for _, id := range m.ReadBy {
			if id == readerID {
				seen = true
				break
			}
		}
		if !seen {
			m.ReadBy = append(m.ReadBy, readerID)
			m.ReadCount++
			changed = true
		}
	}
	if count > m.ReadCount {
		m.ReadCount = count
		changed = true
	}
	if m.ReadCount < 1 {
		m.ReadCount = 1
		changed = true
	}
	return changed
}

func (r *Reconciler) applyUpsert(conv models.Conversation) Outcome {
	if conv.ID == "" {
		return OutcomeIgnored
	}
	if r.store.UpsertConversation(conv) {
		return OutcomeUpdated
	}
	return OutcomeSkipped
}

func (r *Reconciler) applyConversationUpdate(e core.ConversationUpdateEvent) Outcome {
	if _, ok := r.store.Conversation(e.ConversationID); !ok {
		return OutcomeIgnored
	}
	p := e.Patch
	changed := r.store.UpdateConversation(e.ConversationID, func(c *models.Conversation) bool {
		changed := false
		if p.Name != nil && *p.Name != c.Name {
			c.Name = *p.Name
			changed = true
		}
		if p.IsPinned != nil && *p.IsPinned != c.IsPinned {
			c.IsPinned = *p.IsPinned
			changed = true
		}
		if p.IsMuted != nil && *p.IsMuted != c.IsMuted {
			c.IsMuted = *p.IsMuted
			changed = true
		}
		if p.MemberCount != nil && *p.MemberCount != c.MemberCount {
			c.MemberCount = *p.MemberCount
			changed = true
		}
		if p.ContactInfo != nil && (c.ContactInfo == nil || *c.ContactInfo != *p.ContactInfo) {
			info := *p.ContactInfo
			c.ContactInfo = &info
			changed = true
		}
		return changed
	})
	if changed {
		return OutcomeUpdated
	}
	return OutcomeSkipped
}

func (r *Reconciler) applyUserAdded(e core.ConversationUserAddedEvent) Outcome {
	if _, ok := r.store.Conversation(e.ConversationID); !ok {
		return OutcomeIgnored
	}
	if r.store.UpdateConversation(e.ConversationID, func(c *models.Conversation) bool { return c.AddMember(e.UserID) }) {
		return OutcomeUpdated
	}
	return OutcomeSkipped
}

func (r *Reconciler) applyUserRemoved(e core.ConversationUserRemovedEvent) Outcome {
	if _, ok := r.store.Conversation(e.ConversationID); !ok {
		return OutcomeIgnored
	}
	if e.UserID == r.store.CurrentUserID() {
		return r.removeConversation(e.ConversationID)
	}
	if r.store.UpdateConversation(e.ConversationID, func(c *models.Conversation) bool { return c.RemoveMember(e.UserID) }) {
		return OutcomeUpdated
	}
	return OutcomeSkipped
}

func (r *Reconciler) removeConversation(id string) Outcome {
	removed, wasActive := r.store.RemoveConversation(id)
	if !removed {
		return OutcomeSkipped
	}
	if wasActive {
		r.logger.Infof("reconciler: active conversation %s removed, leaving", id)
		r.nav.LeaveConversation(id)
	}
	return OutcomeUpdated
}

// refreshReplySnapshots keeps denormalized reply snapshots in line with their source.
func refreshReplySnapshots(list []models.Message, source *models.Message) {
	for i := range list {
		snap := list[i].ReplyToMessage
		if snap == nil || (snap.ID != source.ID && snap.ID != source.TempID) {
			continue
		}
		snap.Content = source.Content
		snap.IsDeleted = source.IsDeleted
	}
}

func isLatest(list []models.Message, idx int) bool {
	return idx == len(list)-1
}

func setPreviewText(conv *models.Conversation, m *models.Message) bool {
	text := models.PreviewText(m)
	if conv.LastMessageText == text {
		return false
	}
	conv.LastMessageText = text
	return true
}
