package virtualizer

import (
	"strings"
	"sync"
	"unicode/utf8"

	"Murmur/pkg/metrics"
	"Murmur/pkg/models"
)

// Estimates are the fallback row heights, in pixels, used until a row is measured.
type Estimates struct {
	Text         int `yaml:"text"`           // Single-line text bubble
	Image        int `yaml:"image"`          // Image bubble without caption
	File         int `yaml:"file"`           // File card
	Sticker      int `yaml:"sticker"`        // Sticker
	LineHeight   int `yaml:"line_height"`    // Added per extra line of text
	CharsPerLine int `yaml:"chars_per_line"` // Characters assumed to fit on one line
	Reply        int `yaml:"reply"`          // Added for a quoted reply
}

// DefaultEstimates returns the built-in estimates.
func DefaultEstimates() Estimates {
	return Estimates{
		Text:         56,
		Image:        220,
		File:         72,
		Sticker:      140,
		LineHeight:   20,
		CharsPerLine: 40,
		Reply:        48,
	}
}

func (e Estimates) withDefaults() Estimates {
	def := DefaultEstimates()
	if e.Text <= 0 {
		e.Text = def.Text
	}
	if e.Image <= 0 {
		e.Image = def.Image
	}
	if e.File <= 0 {
		e.File = def.File
	}
	if e.Sticker <= 0 {
		e.Sticker = def.Sticker
	}
	if e.LineHeight <= 0 {
		e.LineHeight = def.LineHeight
	}
	if e.CharsPerLine <= 0 {
		e.CharsPerLine = def.CharsPerLine
	}
	if e.Reply < 0 {
		e.Reply = def.Reply
	}
	return e
}

// HeightCache remembers measured row heights by message identity. A provisional row and
// its confirmed replacement share the same identity, so a measurement survives the swap.
type HeightCache struct {
	estimates Estimates
	tolerance int
	metrics   *metrics.Metrics

	mu      sync.RWMutex
	heights map[string]int
}

// NewHeightCache creates an empty cache. Measurements within tolerance pixels of the
// cached value are ignored.
func NewHeightCache(est Estimates, tolerance int, m *metrics.Metrics) *HeightCache {
	if tolerance < 0 {
		tolerance = 0
	}
	return &HeightCache{
		estimates: est.withDefaults(),
		tolerance: tolerance,
		metrics:   m,
		heights:   make(map[string]int),
	}
}

// Measure records the rendered height of a row. It returns true when the cache changed.
func (h *HeightCache) Measure(key string, height int) bool {
	if key == "" || height <= 0 {
		return false
	}
	h.mu.Lock()
	prev, ok := h.heights[key]
	accept := !ok || abs(height-prev) > h.tolerance
	if accept {
		h.heights[key] = height
	}
	h.mu.Unlock()
	h.metrics.HeightMeasured(accept)
	return accept
}

// Get returns the measured height for key.
func (h *HeightCache) Get(key string) (int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.heights[key]
	return v, ok
}

// HeightFor returns the measured height of m, or its estimate when it was never measured.
func (h *HeightCache) HeightFor(m *models.Message) int {
	if v, ok := h.Get(m.Identity()); ok {
		return v
	}
	return h.Estimate(m)
}

// Estimate derives a height from the message type and text length.
func (h *HeightCache) Estimate(m *models.Message) int {
	e := h.estimates
	var height int
	text := m.Content
	switch {
	case m.IsDeleted:
		height = e.Text
		text = ""
	case m.MessageType == models.MessageTypeImage:
		height = e.Image
		if text != "" {
			height += e.LineHeight * h.lines(text)
		}
		text = ""
	case m.MessageType == models.MessageTypeFile:
		height = e.File
		if text != "" {
			height += e.LineHeight * h.lines(text)
		}
		text = ""
	case m.MessageType == models.MessageTypeSticker:
		height = e.Sticker
		text = ""
	default:
		height = e.Text
	}
	if text != "" {
		if extra := h.lines(text) - 1; extra > 0 {
			height += extra * e.LineHeight
		}
	}
	if m.ReplyToMessage != nil {
		height += e.Reply
	}
	return height
}

// lines counts wrapped lines of text.
func (h *HeightCache) lines(text string) int {
	n := 0
	for _, para := range strings.Split(text, "\n") {
		runes := utf8.RuneCountInString(para)
		wrapped := (runes + h.estimates.CharsPerLine - 1) / h.estimates.CharsPerLine
		if wrapped < 1 {
			wrapped = 1
		}
		n += wrapped
	}
	return n
}

// Retain drops every measurement whose key is not in keep.
func (h *HeightCache) Retain(keep map[string]int) {
	h.mu.Lock()
	for k := range h.heights {
		if _, ok := keep[k]; !ok {
			delete(h.heights, k)
		}
	}
	h.mu.Unlock()
}

// Len returns the number of measured rows.
func (h *HeightCache) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.heights)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
