// Package roles assigns a responsible role to a piece of task text and
// renders that role as a chat mention.
package roles

import (
	"regexp"
	"strings"
)

// Role identifies who is responsible for a task.
type Role string

const (
	// Finance approves and pays: approvals, payments, invoices, reimbursements.
	Finance Role = "finance"
	// Livestream runs live-commerce sessions and influencer promotion.
	Livestream Role = "livestream"
	// Designer owns visual work: posters, logos, layouts, video edits.
	Designer Role = "designer"
	// Admin is the catch-all for everything else.
	Admin Role = "admin"
)

// rule maps a keyword bag to a role. Rules are evaluated in declaration order.
type rule struct {
	role     Role
	keywords []string
}

// Some short keywords ("pay", "ui") also occur inside unrelated words, so the
// order of this list is the precedence.
var rules = []rule{
	{
		role: Finance,
		keywords: []string{
			"批准", "批复", "审批", "签批", "付款", "付钱", "打款", "转账", "支付", "付费",
			"报销", "请款", "invoice", "发票", "bill", "账单", "payment", "pay", "transfer",
			"remit", "reimburse",
		},
	},
	{
		role:     Livestream,
		keywords: []string{"直播", "带货", "开播", "连麦", "脚本", "直播间", "投流", "达人"},
	},
	{
		role: Designer,
		keywords: []string{
			"设计", "海报", "logo", "vi", "版式", "官网", "落地页", "视觉", "素材", "修图",
			"排版", "ui", "视频剪辑", "封面",
		},
	},
}

// All returns every role, default last.
func All() []Role {
	return []Role{Finance, Livestream, Designer, Admin}
}

// Parse converts a role name to a Role.
func Parse(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range All() {
		if r == known {
			return r, true
		}
	}
	return "", false
}

// Pick returns the role for text. It never fails: text that matches no
// keyword bag belongs to Admin.
func Pick(text string) Role {
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.role
			}
		}
	}
	return Admin
}

// Config holds the chat handles and display labels per role.
type Config struct {
	Handles map[Role]string `yaml:"handles"`
	Labels  map[Role]string `yaml:"labels"`
}

// DefaultConfig returns labels for every role and no handles.
func DefaultConfig() *Config {
	return &Config{
		Handles: map[Role]string{},
		Labels: map[Role]string{
			Finance:    "老板",
			Livestream: "直播负责人",
			Designer:   "设计师",
			Admin:      "管理员",
		},
	}
}

// Telegram usernames: 5-32 chars, letters, digits and underscores, starting with a letter.
var usernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{4,31}$`)

var placeholderMarkers = []string{"_username", "your_", "xxx", "example"}

// Directory renders roles for chat messages.
type Directory struct {
	handles map[Role]string
	labels  map[Role]string
}

// NewDirectory creates a Directory. Missing labels fall back to the defaults.
func NewDirectory(cfg *Config) *Directory {
	defaults := DefaultConfig()
	d := &Directory{
		handles: make(map[Role]string),
		labels:  make(map[Role]string),
	}
	for role, label := range defaults.Labels {
		d.labels[role] = label
	}
	if cfg == nil {
		return d
	}
	for role, label := range cfg.Labels {
		// Labels are plain text; an "@" would turn them into a mention.
		label = strings.TrimSpace(strings.ReplaceAll(label, "@", ""))
		if label != "" {
			d.labels[role] = label
		}
	}
	for role, handle := range cfg.Handles {
		if h, ok := normalizeHandle(handle); ok {
			d.handles[role] = h
		}
	}
	return d
}

// normalizeHandle strips a leading @ and rejects placeholders and
// malformed usernames.
func normalizeHandle(raw string) (string, bool) {
	h := strings.TrimPrefix(strings.TrimSpace(raw), "@")
	if h == "" {
		return "", false
	}
	lower := strings.ToLower(h)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return "", false
		}
	}
	if !usernamePattern.MatchString(h) {
		return "", false
	}
	return h, true
}

// Label returns the plain-text label of a role.
func (d *Directory) Label(role Role) string {
	if label, ok := d.labels[role]; ok {
		return label
	}
	return d.labels[Admin]
}

// Mention returns "@handle" when a usable handle is configured for the role,
// otherwise the plain-text label. The result never contains a bare "@".
func (d *Directory) Mention(role Role) string {
	if h, ok := d.handles[role]; ok {
		return "@" + h
	}
	return d.Label(role)
}

// MentionUser renders a chat user name: "@name" when it is a valid
// username, otherwise the name as plain text.
func MentionUser(name string) string {
	if h, ok := normalizeHandle(name); ok {
		return "@" + h
	}
	return strings.TrimSpace(strings.ReplaceAll(name, "@", ""))
}
