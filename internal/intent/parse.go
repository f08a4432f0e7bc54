package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultReply is used when the classifier gave no reply.
	DefaultReply = "收到您的消息，正在处理中。"
	// maxTitleRunes bounds task and project titles.
	maxTitleRunes = 40
)

// flexInt decodes a JSON number or numeric string. Anything else is 0.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

// Int returns the value as an int.
func (f flexInt) Int() int {
	return int(f)
}

// ExtractJSON returns the first balanced JSON object in text, ignoring
// markdown code fences and braces inside strings.
func ExtractJSON(text string) (string, error) {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")

	start := strings.Index(text, "{")
	if start == -1 {
		return "", errors.New("no JSON object in output")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", errors.New("unterminated JSON object in output")
}

// Parse extracts and decodes a classifier response, then normalizes it
// against the source message.
func Parse(output, sourceText string) (*Result, error) {
	raw, err := ExtractJSON(output)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Result
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("decode classifier JSON: %w", err)
	}

	r := decoded.Result
	r.Intent = Kind(decoded.Intent)
	return Normalize(&r, sourceText), nil
}

// Normalize fills defaults into a partial result: unknown intents become
// chat, a missing reply becomes DefaultReply, untitled tasks are dropped and
// titles are cut to 40 characters. A new task set without a project title
// takes the start of the source message.
func Normalize(r *Result, sourceText string) *Result {
	if r == nil {
		r = &Result{}
	}

	kind, ok := ParseKind(string(r.Intent))
	if !ok {
		kind = Chat
	}
	r.Intent = kind

	r.AssistantReply = strings.TrimSpace(r.AssistantReply)
	if r.AssistantReply == "" {
		r.AssistantReply = DefaultReply
	}

	if r.Intent != TaskNew {
		r.Tasks = nil
		return r
	}

	tasks := make([]TaskProposal, 0, len(r.Tasks))
	for _, t := range r.Tasks {
		title := strings.TrimSpace(t.Title)
		if title == "" {
			continue
		}
		tasks = append(tasks, TaskProposal{
			Title:   truncateRunes(title, maxTitleRunes),
			Details: strings.TrimSpace(t.Details),
			DueHint: strings.TrimSpace(t.DueHint),
		})
	}
	r.Tasks = tasks

	r.ProjectTitle = strings.TrimSpace(r.ProjectTitle)
	if r.ProjectTitle == "" {
		r.ProjectTitle = strings.TrimSpace(sourceText)
	}
	r.ProjectTitle = truncateRunes(r.ProjectTitle, maxTitleRunes)
	return r
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
