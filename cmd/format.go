package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"Murmur/pkg/models"
	"Murmur/pkg/timeline"
)

type stderrNotifier struct{}

func (stderrNotifier) Notify(level timeline.NotifyLevel, message string) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", level, message)
}

func conversationTitle(c *models.Conversation) string {
	if c.Name != "" {
		return c.Name
	}
	if c.ContactInfo != nil && c.ContactInfo.DisplayName != "" {
		return c.ContactInfo.DisplayName
	}
	return c.ID
}

func printConversation(w io.Writer, c *models.Conversation) {
	when := "never"
	if c.LastMessageAt != nil {
		when = humanize.Time(*c.LastMessageAt)
	}
	unread := ""
	if c.UnreadCount > 0 {
		unread = fmt.Sprintf(" (%s unread)", humanize.Comma(int64(c.UnreadCount)))
	}
	fmt.Fprintf(w, "%-24s %-28s %-8s %s%s\n", c.ID, conversationTitle(c), c.Type, when, unread)
	if c.LastMessageText != "" {
		fmt.Fprintf(w, "    %s\n", truncate(c.LastMessageText, 72))
	}
}

func statusMark(m *models.Message) string {
	switch m.Status {
	case models.StatusSending:
		return "…"
	case models.StatusFailed:
		return "!"
	case models.StatusRead:
		return "✓✓"
	case models.StatusDelivered, models.StatusSent:
		return "✓"
	}
	return ""
}

func messageBody(m *models.Message) string {
	if m.IsDeleted {
		return "(deleted)"
	}
	switch m.MessageType {
	case models.MessageTypeImage, models.MessageTypeFile:
		body := fmt.Sprintf("[%s %s", m.MessageType, m.FileName)
		if m.FileSize > 0 {
			body += ", " + humanize.Bytes(uint64(m.FileSize))
		}
		body += "]"
		if m.Content != "" {
			body += " " + m.Content
		}
		return body
	case models.MessageTypeSticker:
		return "[sticker " + m.StickerID + "]"
	}
	return m.Content
}

func printMessage(w io.Writer, m *models.Message, marker string) {
	edited := ""
	if m.IsEdited {
		edited = " (edited)"
	}
	fmt.Fprintf(w, "%1s %s %-14s %s%s %s  [%s]\n",
		marker, m.CreatedAt.Local().Format(time.TimeOnly), m.SenderID, messageBody(m), edited, statusMark(m), m.Identity())
}

func printMessages(w io.Writer, msgs []models.Message, highlight string) {
	for i := range msgs {
		marker := ""
		if highlight != "" && (msgs[i].ID == highlight || msgs[i].TempID == highlight) {
			marker = ">"
		}
		printMessage(w, &msgs[i], marker)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
