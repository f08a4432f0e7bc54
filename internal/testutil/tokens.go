// Package testutil provides testing utilities for taskpilot.
package testutil

// Safe test tokens that won't trigger secret scanning.
// These are intentionally simple and obviously fake.
//
// ❌ DON'T use patterns like: 123456789:AAH-real-looking-bot-token
// ✅ DO use these constants or similarly obvious fakes.
const (
	// FakeTelegramBotToken is a safe test token for the Telegram Bot API.
	FakeTelegramBotToken = "test-telegram-bot-token"

	// FakeNotionToken is a safe test integration token for Notion.
	FakeNotionToken = "test-notion-token"
)
