package historywriter

import (
	"strings"

	"github.com/chatfabric/chatfabric/internal/domain"
)

// DefaultTitle is used whenever generation fails or produces nothing usable.
const DefaultTitle = "New Conversation"

const (
	titleMaxLen          = 50
	titleContextMessages = 6
	titleMessageClamp    = 150
)

// BuildTitleContext renders the opening of the conversation for the title
// prompt: the first few messages, each clamped so one long message can't
// crowd out the rest.
func BuildTitleContext(conv *domain.Conversation) string {
	var b strings.Builder
	count := 0
	for _, msg := range conv.Messages {
		if msg.Role == domain.RoleSystem {
			continue
		}
		if count == titleContextMessages {
			break
		}
		content := msg.Content
		if len(content) > titleMessageClamp {
			content = content[:titleMessageClamp] + "..."
		}
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(content)
		b.WriteString("\n")
		count++
	}
	return b.String()
}

// CleanTitle normalizes a generated title: quotes and colons stripped,
// length capped, empty results replaced with the default.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.ReplaceAll(title, `"`, "")
	title = strings.ReplaceAll(title, "'", "")
	title = strings.ReplaceAll(title, ":", "")
	if len(title) > titleMaxLen {
		title = strings.TrimSpace(title[:titleMaxLen])
	}
	if title == "" {
		return DefaultTitle
	}
	return title
}
