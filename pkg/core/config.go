package core

import "time"

const instanceIDKey = "_instance_id"

// ProviderConfig represents the configuration for a provider.
// The configuration is stored as key-value pairs, allowing each provider
// to define its own configuration schema (base URL, token, user id...).
type ProviderConfig map[string]interface{}

// GetString returns a string value from the configuration.
func (c ProviderConfig) GetString(key string) (string, bool) {
	val, ok := c[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetInt returns an int value from the configuration.
func (c ProviderConfig) GetInt(key string) (int, bool) {
	val, ok := c[key]
	if !ok {
		return 0, false
	}
	// Handle both int and float64 (from JSON unmarshaling)
	switch v := val.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// GetBool returns a bool value from the configuration.
func (c ProviderConfig) GetBool(key string) (bool, bool) {
	val, ok := c[key]
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}

// Set sets a value in the configuration.
func (c ProviderConfig) Set(key string, value interface{}) {
	c[key] = value
}

// GetDuration returns a duration value from the configuration. Strings are parsed with
// time.ParseDuration, numbers are taken as milliseconds.
func (c ProviderConfig) GetDuration(key string) (time.Duration, bool) {
	val, ok := c[key]
	if !ok {
		return 0, false
	}
	switch v := val.(type) {
	case time.Duration:
		return v, true
	case string:
		d, err := time.ParseDuration(v)
		return d, err == nil
	case int:
		return time.Duration(v) * time.Millisecond, true
	case float64:
		return time.Duration(v) * time.Millisecond, true
	default:
		return 0, false
	}
}

// StringOr returns the string value for key, or fallback when it is missing or empty.
func (c ProviderConfig) StringOr(key, fallback string) string {
	if v, ok := c.GetString(key); ok && v != "" {
		return v
	}
	return fallback
}

// InstanceID returns the instance id assigned by the provider manager.
func (c ProviderConfig) InstanceID(fallback string) string {
	return c.StringOr(instanceIDKey, fallback)
}
