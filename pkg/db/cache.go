package db

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"Murmur/pkg/models"
)

// Cache persists conversations and finalized messages so history is available offline.
type Cache struct {
	db *gorm.DB
}

// NewCache wraps an opened database.
func NewCache(database *gorm.DB) *Cache {
	return &Cache{db: database}
}

// SaveConversations upserts conversations.
func (c *Cache) SaveConversations(convs []models.Conversation) error {
	if len(convs) == 0 {
		return nil
	}
	err := c.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&convs).Error
	if err != nil {
		return fmt.Errorf("failed to save conversations: %w", err)
	}
	return nil
}

// LoadConversations returns every cached conversation.
func (c *Cache) LoadConversations() ([]models.Conversation, error) {
	var convs []models.Conversation
	if err := c.db.Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	models.SortConversations(convs)
	return convs, nil
}

// SaveMessages upserts the finalized messages of a list. Provisional and failed sends are
// never written: they only exist for the lifetime of the process.
func (c *Cache) SaveMessages(msgs []models.Message) (int, error) {
	rows := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsProvisional() || m.Status == models.StatusFailed || m.ID == "" {
			continue
		}
		rows = append(rows, m)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	err := c.db.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(&rows, 100).Error
	if err != nil {
		return 0, fmt.Errorf("failed to save messages: %w", err)
	}
	return len(rows), nil
}

// LoadLatestMessages returns up to limit of the newest cached messages of a conversation,
// sorted ascending, and whether older ones exist in the cache.
func (c *Cache) LoadLatestMessages(conversationID string, limit int) ([]models.Message, bool, error) {
	var msgs []models.Message
	err := c.db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit + 1).
		Find(&msgs).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to load messages: %w", err)
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	models.SortMessages(msgs)
	for i := range msgs {
		msgs[i].LocalKey = msgs[i].Identity()
	}
	return msgs, hasMore, nil
}

// DeleteConversation removes a conversation and its messages.
func (c *Cache) DeleteConversation(conversationID string) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", conversationID).Delete(&models.Conversation{}).Error
	})
}

// Purge empties the cache, keeping provider configurations.
func (c *Cache) Purge() error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Conversation{}).Error
	})
}
