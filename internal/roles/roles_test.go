package roles

import (
	"strings"
	"testing"
)

func TestPick(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Role
	}{
		{"payment", "请帮我付款给供应商", Finance},
		{"approval", "这个合同需要审批", Finance},
		{"invoice english", "Send the INVOICE today", Finance},
		{"payment beats repair", "付款后安排维修", Finance},
		{"payment beats design", "海报设计费用需要付款", Finance},
		{"livestream", "今晚直播带货准备", Livestream},
		{"livestream beats design", "直播间海报", Livestream},
		{"design", "做一张新品海报", Designer},
		{"logo mixed case", "Update the LOGO colors", Designer},
		{"repair falls to admin", "联系维修工人", Admin},
		{"empty", "", Admin},
		{"plain chat", "今天天气不错", Admin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Pick(tt.text); got != tt.want {
				t.Errorf("Pick(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Role
		ok    bool
	}{
		{"finance", Finance, true},
		{" Designer ", Designer, true},
		{"admin", Admin, true},
		{"boss", "", false},
	}

	for _, tt := range tests {
		got, ok := Parse(tt.input)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Parse(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMention(t *testing.T) {
	tests := []struct {
		name   string
		handle string
		want   string
	}{
		{"configured handle", "joe_boss", "@joe_boss"},
		{"handle with at", "@joe_boss", "@joe_boss"},
		{"placeholder username", "joe_username", "老板"},
		{"placeholder your", "your_handle", "老板"},
		{"placeholder example", "example_user", "老板"},
		{"too short", "joe", "老板"},
		{"invalid chars", "joe boss!", "老板"},
		{"bare at", "@", "老板"},
		{"empty", "", "老板"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDirectory(&Config{Handles: map[Role]string{Finance: tt.handle}})
			if got := d.Mention(Finance); got != tt.want {
				t.Errorf("Mention() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMentionLabels(t *testing.T) {
	d := NewDirectory(&Config{
		Labels: map[Role]string{
			Designer: "设计师小王",
			Admin:    "@admin",
		},
	})

	if got := d.Mention(Designer); got != "设计师小王" {
		t.Errorf("Mention(Designer) = %q, want custom label", got)
	}
	if got := d.Mention(Admin); got != "admin" {
		t.Errorf("Mention(Admin) = %q, want label without @", got)
	}
	if got := d.Mention(Livestream); got != "直播负责人" {
		t.Errorf("Mention(Livestream) = %q, want default label", got)
	}
	if got := NewDirectory(nil).Mention(Role("unknown")); got != "管理员" {
		t.Errorf("Mention(unknown) = %q, want admin label", got)
	}
}

func TestMentionNeverMalformed(t *testing.T) {
	handles := []string{"", "@", "@@", "a", "joe_username", "valid_name", "1invalid", "名字"}
	for _, h := range handles {
		d := NewDirectory(&Config{Handles: map[Role]string{Admin: h}})
		m := d.Mention(Admin)
		if strings.Contains(m, "@") && !usernamePattern.MatchString(strings.TrimPrefix(m, "@")) {
			t.Errorf("handle %q produced malformed mention %q", h, m)
		}
	}
}

func TestMentionUser(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"joe_boss", "@joe_boss"},
		{"@joe_boss", "@joe_boss"},
		{"张三", "张三"},
		{"Joe Smith", "Joe Smith"},
		{"@", ""},
	}

	for _, tt := range tests {
		if got := MentionUser(tt.name); got != tt.want {
			t.Errorf("MentionUser(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
