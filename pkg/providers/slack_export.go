package providers

import (
	"Murmur/pkg/core"
	"Murmur/pkg/providers/slack"
)

// NewSlackProvider creates a new instance of the SlackProvider.
// This is a re-export from the slack subpackage.
func NewSlackProvider() core.Provider {
	return slack.NewSlackProvider()
}
