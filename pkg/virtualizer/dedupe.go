package virtualizer

import (
	"github.com/samber/lo"

	"Murmur/pkg/models"
)

// Dedupe collapses rows sharing a resolved identity, keeping the first, and reports how
// many were dropped. The store never holds duplicates; this only guards the layout math.
func Dedupe(list []models.Message) ([]models.Message, int) {
	out := lo.UniqBy(list, func(m models.Message) string { return m.Identity() })
	return out, len(list) - len(out)
}
