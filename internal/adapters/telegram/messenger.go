package telegram

import (
	"context"
	"fmt"
	"strings"
)

// maxMessageRunes stays under Telegram's 4096 character limit.
const maxMessageRunes = 4000

// Messenger sends bot replies through a Client.
type Messenger struct {
	client *Client
}

// NewMessenger creates a Messenger.
func NewMessenger(client *Client) *Messenger {
	return &Messenger{client: client}
}

// SendMessage sends text to a chat, as a reply when replyTo is set. Long
// texts are split; the id of the first part is returned.
func (m *Messenger) SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) (int64, error) {
	var firstID int64
	for i, chunk := range chunkContent(text, maxMessageRunes) {
		msg, err := m.client.SendMessage(ctx, chatID, chunk, replyTo)
		if err != nil {
			return firstID, fmt.Errorf("failed to send message part %d: %w", i+1, err)
		}
		if i == 0 {
			firstID = msg.MessageID
		}
	}
	return firstID, nil
}

// chunkContent splits content into chunks of at most maxLen runes.
// Tries to break at newlines for cleaner output
func chunkContent(content string, maxLen int) []string {
	runes := []rune(content)
	if len(runes) <= maxLen {
		return []string{content}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}

		window := string(runes[:maxLen])
		breakPoint := maxLen

		// Prefer a paragraph break, then a line break, in the second half.
		if idx := strings.LastIndex(window, "\n\n"); idx >= 0 && runeCount(window[:idx]) > maxLen/2 {
			breakPoint = runeCount(window[:idx]) + 2
		} else if idx := strings.LastIndex(window, "\n"); idx >= 0 && runeCount(window[:idx]) > maxLen/2 {
			breakPoint = runeCount(window[:idx]) + 1
		}

		if chunk := strings.TrimSpace(string(runes[:breakPoint])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = []rune(strings.TrimSpace(string(runes[breakPoint:])))
	}

	return chunks
}

func runeCount(s string) int {
	return len([]rune(s))
}
