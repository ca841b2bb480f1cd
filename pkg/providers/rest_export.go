package providers

import (
	"Murmur/pkg/core"
	"Murmur/pkg/providers/rest"
)

// NewRestProvider creates a new instance of the RestProvider.
// This is a re-export from the rest subpackage.
func NewRestProvider() core.Provider {
	return rest.NewRestProvider()
}
