package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MURMUR_CACHE_PATH", filepath.Join(dir, "murmur.db"))
	t.Setenv("MURMUR_LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("MURMUR_PROVIDER", "mock")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{
		"--config", filepath.Join(dir, "absent.yaml"),
		"--env-file", filepath.Join(dir, "absent.env"),
	}, args...))
	require.NoError(t, rootCmd.ExecuteContext(t.Context()))
	return out.String()
}

func TestProvidersCommand(t *testing.T) {
	out := run(t, "providers")
	assert.Contains(t, out, "* mock")
	assert.Contains(t, out, "rest")
	assert.Contains(t, out, "slack")
}

func TestConversationsCommand(t *testing.T) {
	out := run(t, "conversations")
	assert.Contains(t, out, "user-alice")
	assert.Contains(t, out, "Work Chat")
	assert.Contains(t, out, "3 conversations")
}

func TestHistoryCommandPagesOlder(t *testing.T) {
	out := run(t, "history", "user-alice", "--pages", "1")
	assert.Contains(t, out, "[user-alice-msg-21]")
	assert.Contains(t, out, "[user-alice-msg-60]")
	assert.NotContains(t, out, "[user-alice-msg-20]")
	assert.Contains(t, out, "older messages available")
}

func TestSendCommand(t *testing.T) {
	out := run(t, "send", "user-bob", "hello", "there")
	assert.Contains(t, out, "hello there")
	assert.Contains(t, out, "✓")
}

func TestJumpCommandMarksTarget(t *testing.T) {
	out := run(t, "jump", "group-work-chat", "group-work-chat-msg-3")
	var marked []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, ">") {
			marked = append(marked, line)
		}
	}
	require.Len(t, marked, 1)
	assert.Contains(t, marked[0], "[group-work-chat-msg-3]")
	assert.Contains(t, out, "message group-work-chat-msg-3 at row 3")
}
