package notify

import (
	"strings"
	"testing"

	gomail "gopkg.in/gomail.v2"

	"github.com/dimasma0305/hackforge/internal/hackforge/flagcheck"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice", "alice"},
		{"@everyone pwned", "@everyon3 pwned"},
		{"hi @here", "hi @her3"},
	}

	for _, tt := range tests {
		if got := sanitizeName(tt.in); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewDiscordRequiresURL(t *testing.T) {
	if _, err := NewDiscord("", ""); err == nil {
		t.Error("expected error for empty webhook URL")
	}
}

func TestNewEmailValidation(t *testing.T) {
	if _, err := NewEmail(SMTPConfig{}); err == nil {
		t.Error("expected error for empty config")
	}

	e, err := NewEmail(SMTPConfig{Host: "smtp.example.com", From: "a@example.com", To: "b@example.com"})
	if err != nil {
		t.Fatalf("NewEmail failed: %v", err)
	}
	if e.config.Port != 587 {
		t.Errorf("default port = %d, want 587", e.config.Port)
	}
}

func TestEmailCampaignCompleted(t *testing.T) {
	var sent *gomail.Message
	e := &Email{
		config: SMTPConfig{From: "forge@example.com", To: "ops@example.com"},
		send: func(m *gomail.Message) error {
			sent = m
			return nil
		},
	}

	e.CampaignCompleted(flagcheck.SolveEvent{
		UserID:     "alice",
		CampaignID: "campaign_1",
		Points:     300,
	})

	if sent == nil {
		t.Fatal("no message sent")
	}
	subject := sent.GetHeader("Subject")
	if len(subject) != 1 || !strings.Contains(subject[0], "campaign_1") {
		t.Errorf("unexpected subject: %v", subject)
	}
}

type countingNotifier struct {
	solves, completions int
}

func (c *countingNotifier) MachineSolved(flagcheck.SolveEvent)     { c.solves++ }
func (c *countingNotifier) CampaignCompleted(flagcheck.SolveEvent) { c.completions++ }

func TestMultiFanout(t *testing.T) {
	a, b := &countingNotifier{}, &countingNotifier{}
	m := Multi{a, nil, b}

	m.MachineSolved(flagcheck.SolveEvent{})
	m.CampaignCompleted(flagcheck.SolveEvent{})

	if a.solves != 1 || b.solves != 1 || a.completions != 1 || b.completions != 1 {
		t.Errorf("fanout incomplete: %+v %+v", a, b)
	}
}
