package app

import (
	"time"

	"Murmur/pkg/store"
)

// hydrateConversations shows the cached conversation list before the network answers.
func (a *App) hydrateConversations() {
	if a.cache == nil {
		return
	}
	convs, err := a.cache.LoadConversations()
	if err != nil {
		a.logger.Warnf("failed to load cached conversations: %v", err)
		return
	}
	if len(convs) > 0 {
		a.store.SetConversations(convs)
		a.logger.Debugf("hydrated %d conversations from cache", len(convs))
	}
}

// hydrateMessages fills an unloaded window from the cache. It reports whether anything
// was loaded.
func (a *App) hydrateMessages(conversationID string) bool {
	if a.cache == nil || a.cfg.Cache.HydrateLimit == 0 {
		return false
	}
	if w, ok := a.store.Window(conversationID); ok && w.Loaded {
		return false
	}
	msgs, _, err := a.cache.LoadLatestMessages(conversationID, a.cfg.Cache.HydrateLimit)
	if err != nil {
		a.logger.Warnf("failed to load cached messages of %s: %v", conversationID, err)
		return false
	}
	if len(msgs) == 0 {
		return false
	}
	// the server may hold older messages than the cache and newer ones than its tail
	a.engine.Paginator.ReplaceWithContext(conversationID, msgs, true, true)
	a.logger.Debugf("hydrated %d messages of %s from cache", len(msgs), conversationID)
	return true
}

// onStoreChange records what needs writing and schedules a debounced flush.
func (a *App) onStoreChange(c store.Change) {
	a.flushMu.Lock()
	switch c.Kind {
	case store.ChangeMessages:
		a.dirtyConvs[c.ConversationID] = struct{}{}
	case store.ChangeConversation, store.ChangeConversations:
		a.listDirty = true
	case store.ChangeRemoved:
		delete(a.dirtyConvs, c.ConversationID)
		a.removedConvs[c.ConversationID] = struct{}{}
	default:
		a.flushMu.Unlock()
		return
	}
	a.flushMu.Unlock()
	a.debounced(a.flush)
}

// flush writes the pending changes to the cache.
func (a *App) flush() {
	if a.cache == nil || a.store == nil {
		return
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.closed {
		return
	}
	a.flushMu.Lock()
	dirty := a.dirtyConvs
	removed := a.removedConvs
	listDirty := a.listDirty
	a.dirtyConvs = make(map[string]struct{})
	a.removedConvs = make(map[string]struct{})
	a.listDirty = false
	a.flushMu.Unlock()

	if len(dirty) == 0 && len(removed) == 0 && !listDirty {
		return
	}

	for id := range removed {
		if err := a.cache.DeleteConversation(id); err != nil {
			a.logger.Warnf("failed to delete cached conversation %s: %v", id, err)
		}
	}
	if listDirty {
		if err := a.cache.SaveConversations(a.store.Conversations()); err != nil {
			a.logger.Warnf("cache write failed: %v", err)
		}
	}
	written := 0
	for id := range dirty {
		n, err := a.cache.SaveMessages(a.store.Messages(id))
		if err != nil {
			a.logger.Warnf("cache write of %s failed: %v", id, err)
			continue
		}
		written += n
	}
	a.metrics.CacheWrite(written)
	if err := a.providerManager.MarkSynced(a.cfg.Provider.ID, time.Now()); err != nil {
		a.logger.Debugf("failed to record sync time: %v", err)
	}
}

// PurgeCache empties the offline cache. Provider configurations are kept.
func (a *App) PurgeCache() error {
	if a.cache == nil {
		return nil
	}
	return a.cache.Purge()
}
