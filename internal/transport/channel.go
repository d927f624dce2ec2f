package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// Channel ids are persisted as opaque strings: the decimal chat id, with an
// optional ":<thread>" suffix for forum topics. Only this package knows the
// encoding.

func FormatChannelID(t ChatTarget) string {
	if t.ThreadID != 0 {
		return strconv.FormatInt(t.ChatID, 10) + ":" + strconv.Itoa(t.ThreadID)
	}
	return strconv.FormatInt(t.ChatID, 10)
}

func ParseChannelID(s string) (ChatTarget, error) {
	var t ChatTarget
	raw := strings.TrimSpace(s)
	if raw == "" {
		return t, fmt.Errorf("empty channel id")
	}
	chatPart, threadPart, hasThread := strings.Cut(raw, ":")
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return t, fmt.Errorf("channel id %q: %w", s, err)
	}
	t.ChatID = chatID
	if hasThread {
		threadID, err := strconv.Atoi(threadPart)
		if err != nil {
			return t, fmt.Errorf("channel id %q: %w", s, err)
		}
		t.ThreadID = threadID
	}
	return t, nil
}

// FormatServerID converts a platform chat id to the opaque server-id form
// used by the registry.
func FormatServerID(chatID int64) string { return strconv.FormatInt(chatID, 10) }

func ParseServerID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("server id %q: %w", s, err)
	}
	return id, nil
}
