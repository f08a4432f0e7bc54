package notion

import (
	"strings"
	"time"
)

// Page is a Notion database row.
type Page struct {
	ID          string              `json:"id"`
	CreatedTime time.Time           `json:"created_time"`
	Properties  map[string]Property `json:"properties"`
}

// Property is a page property value. Only the fields for the property
// types the bot reads and writes are modeled.
type Property struct {
	Type     string     `json:"type,omitempty"`
	Title    []RichText `json:"title,omitempty"`
	RichText []RichText `json:"rich_text,omitempty"`
	Select   *Option    `json:"select,omitempty"`
	Status   *Option    `json:"status,omitempty"`
	Date     *Date      `json:"date,omitempty"`
}

// RichText is one rich text segment.
type RichText struct {
	PlainText string       `json:"plain_text,omitempty"`
	Text      *TextContent `json:"text,omitempty"`
}

// TextContent is the writable part of a rich text segment.
type TextContent struct {
	Content string `json:"content"`
}

// Option is a select or status value.
type Option struct {
	Name string `json:"name"`
}

// Date is a date property value.
type Date struct {
	Start string `json:"start"`
}

// Filter is a database query filter in Notion's JSON shape.
type Filter map[string]any

// QueryResponse is a page of database query results.
type QueryResponse struct {
	Results    []Page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Properties is the property set of a page being written.
type Properties map[string]Property

func titleProp(s string) Property {
	return Property{Title: []RichText{{Text: &TextContent{Content: s}}}}
}

func textProp(s string) Property {
	return Property{RichText: []RichText{{Text: &TextContent{Content: s}}}}
}

func selectProp(name string) Property {
	return Property{Select: &Option{Name: name}}
}

func statusProp(name string) Property {
	return Property{Status: &Option{Name: name}}
}

func dateProp(t time.Time) Property {
	return Property{Date: &Date{Start: t.Format(time.RFC3339)}}
}

func and(filters ...Filter) Filter {
	return Filter{"and": filters}
}

func titleContains(prop, s string) Filter {
	return Filter{"property": prop, "title": map[string]string{"contains": s}}
}

func selectEquals(prop, s string) Filter {
	return Filter{"property": prop, "select": map[string]string{"equals": s}}
}

func selectNotEquals(prop, s string) Filter {
	return Filter{"property": prop, "select": map[string]string{"does_not_equal": s}}
}

func statusNotEquals(prop, s string) Filter {
	return Filter{"property": prop, "status": map[string]string{"does_not_equal": s}}
}

// PlainText returns the text of a title or rich text property.
func (p Property) PlainText() string {
	segments := p.Title
	if len(segments) == 0 {
		segments = p.RichText
	}
	var b strings.Builder
	for _, seg := range segments {
		if seg.PlainText != "" {
			b.WriteString(seg.PlainText)
		} else if seg.Text != nil {
			b.WriteString(seg.Text.Content)
		}
	}
	return b.String()
}

// OptionName returns the name of a select or status property.
func (p Property) OptionName() string {
	if p.Status != nil {
		return p.Status.Name
	}
	if p.Select != nil {
		return p.Select.Name
	}
	return ""
}

// Time parses a date property. Both date-only and full timestamps are
// accepted.
func (p Property) Time() (time.Time, bool) {
	if p.Date == nil || p.Date.Start == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, p.Date.Start); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", p.Date.Start); err == nil {
		return t, true
	}
	return time.Time{}, false
}
