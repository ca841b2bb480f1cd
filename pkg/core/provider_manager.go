package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"Murmur/pkg/logging"
	"Murmur/pkg/models"
)

// ErrProviderNotFound is returned when no provider or factory is registered under an id.
var ErrProviderNotFound = errors.New("provider not found")

// ProviderInfo represents information about a provider.
type ProviderInfo struct {
	ID           string                 `json:"id"`           // Unique identifier (e.g., "rest", "slack", "mock")
	Name         string                 `json:"name"`         // Display name
	Description  string                 `json:"description"`  // Description of the provider
	Config       ProviderConfig         `json:"config"`       // Current configuration
	IsActive     bool                   `json:"isActive"`     // Whether the provider is currently active
	ConfigSchema map[string]interface{} `json:"configSchema"` // Schema for configuration fields
}

// ProviderFactory is a function that creates a new provider instance.
type ProviderFactory func() Provider

// ProviderManager manages the registered provider backends and the active one.
// Configurations are persisted through the injected database when it is not nil.
type ProviderManager struct {
	providers map[string]Provider
	factories map[string]ProviderFactory
	infos     map[string]ProviderInfo
	mu        sync.RWMutex
	activeID  string // ID of the currently active provider
	db        *gorm.DB
	logger    *logging.Logger
}

// NewProviderManager creates a new provider manager.
func NewProviderManager(database *gorm.DB, logger *logging.Logger) *ProviderManager {
	return &ProviderManager{
		providers: make(map[string]Provider),
		factories: make(map[string]ProviderFactory),
		infos:     make(map[string]ProviderInfo),
		db:        database,
		logger:    logger,
	}
}

// RegisterProvider registers a provider factory.
func (pm *ProviderManager) RegisterProvider(id string, info ProviderInfo, factory ProviderFactory) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.factories[id] = factory
	pm.infos[id] = info
}

// GetAvailableProviders returns all registered providers sorted by id.
func (pm *ProviderManager) GetAvailableProviders() []ProviderInfo {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	providers := make([]ProviderInfo, 0, len(pm.infos))
	for id, info := range pm.infos {
		if p, ok := pm.providers[id]; ok {
			info.Config = p.GetConfig()
		}
		info.IsActive = id == pm.activeID
		providers = append(providers, info)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].ID < providers[j].ID })
	return providers
}

// CreateProvider creates a new provider instance and saves its configuration.
func (pm *ProviderManager) CreateProvider(id string, config ProviderConfig) (Provider, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	factory, ok := pm.factories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}

	// If provider already exists, disconnect and replace it
	if existing, exists := pm.providers[id]; exists {
		_ = existing.Disconnect()
		delete(pm.providers, id)
		if pm.activeID == id {
			pm.activeID = ""
		}
	}

	if config == nil {
		config = make(ProviderConfig)
	}
	if _, ok := config[instanceIDKey]; !ok {
		config.Set(instanceIDKey, id+"-1")
	}

	provider := factory()
	if err := provider.Init(config); err != nil {
		return nil, fmt.Errorf("failed to initialize provider: %w", err)
	}
	pm.providers[id] = provider

	if err := pm.saveProviderConfig(id, config, false); err != nil {
		pm.logger.Warnf("failed to save provider config for %s: %v", id, err)
	}
	return provider, nil
}

// GetProvider returns a provider by ID.
func (pm *ProviderManager) GetProvider(id string) (Provider, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	provider, ok := pm.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return provider, nil
}

// SetActiveProvider sets the active provider and records it in the database.
func (pm *ProviderManager) SetActiveProvider(id string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, ok := pm.providers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}

	if pm.db != nil {
		err := pm.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.ProviderConfiguration{}).Where("is_active = ?", true).Update("is_active", false).Error; err != nil {
				return err
			}
			return tx.Model(&models.ProviderConfiguration{}).Where("provider_id = ?", id).Update("is_active", true).Error
		})
		if err != nil {
			return fmt.Errorf("failed to persist active provider: %w", err)
		}
	}

	pm.activeID = id
	return nil
}

// GetActiveProvider returns the currently active provider.
func (pm *ProviderManager) GetActiveProvider() (Provider, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if pm.activeID == "" {
		return nil, fmt.Errorf("%w: no active provider", ErrProviderNotFound)
	}
	provider, ok := pm.providers[pm.activeID]
	if !ok {
		return nil, fmt.Errorf("%w: active provider %s", ErrProviderNotFound, pm.activeID)
	}
	return provider, nil
}

// ActiveID returns the id of the active provider, empty when none is active.
func (pm *ProviderManager) ActiveID() string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.activeID
}

// RemoveProvider disconnects a provider and deletes its stored configuration.
func (pm *ProviderManager) RemoveProvider(id string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	provider, ok := pm.providers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	_ = provider.Disconnect()
	if id == pm.activeID {
		pm.activeID = ""
	}
	delete(pm.providers, id)

	if pm.db != nil {
		if err := pm.db.Unscoped().Where("provider_id = ?", id).Delete(&models.ProviderConfiguration{}).Error; err != nil {
			return fmt.Errorf("failed to delete provider config: %w", err)
		}
	}
	return nil
}

// MarkSynced records the time the provider's data was last written to the cache.
func (pm *ProviderManager) MarkSynced(id string, at time.Time) error {
	if pm.db == nil {
		return nil
	}
	return pm.db.Model(&models.ProviderConfiguration{}).Where("provider_id = ?", id).Update("last_sync_at", at).Error
}

// saveProviderConfig saves a provider configuration to the database.
func (pm *ProviderManager) saveProviderConfig(id string, config ProviderConfig, isActive bool) error {
	if pm.db == nil {
		return nil
	}

	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	var providerConfig models.ProviderConfiguration
	result := pm.db.Where("provider_id = ?", id).Limit(1).Find(&providerConfig)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		providerConfig = models.ProviderConfiguration{
			ProviderID: id,
			ConfigJSON: string(configJSON),
			IsActive:   isActive,
		}
		return pm.db.Create(&providerConfig).Error
	}

	providerConfig.ConfigJSON = string(configJSON)
	providerConfig.IsActive = isActive
	providerConfig.UpdatedAt = time.Now()
	return pm.db.Save(&providerConfig).Error
}

// LoadProviderConfigs loads all provider configurations from the database.
func (pm *ProviderManager) LoadProviderConfigs() ([]models.ProviderConfiguration, error) {
	if pm.db == nil {
		return nil, nil
	}

	var configs []models.ProviderConfiguration
	if err := pm.db.Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("failed to load provider configs: %w", err)
	}
	return configs, nil
}

// RestoreProvider recreates a provider from a stored configuration.
func (pm *ProviderManager) RestoreProvider(config models.ProviderConfiguration) (Provider, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	factory, ok := pm.factories[config.ProviderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, config.ProviderID)
	}

	var providerConfig ProviderConfig
	if err := json.Unmarshal([]byte(config.ConfigJSON), &providerConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	provider := factory()
	if err := provider.Init(providerConfig); err != nil {
		return nil, fmt.Errorf("failed to initialize provider: %w", err)
	}
	pm.providers[config.ProviderID] = provider

	if config.IsActive {
		pm.activeID = config.ProviderID
	}
	return provider, nil
}

// DisconnectAll disconnects every provider instance.
func (pm *ProviderManager) DisconnectAll() {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	for id, p := range pm.providers {
		if err := p.Disconnect(); err != nil {
			pm.logger.Warnf("failed to disconnect provider %s: %v", id, err)
		}
	}
}
