package notify

import (
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"github.com/dimasma0305/hackforge/internal/hackforge/flagcheck"
	"github.com/dimasma0305/hackforge/internal/log"
)

// SMTPConfig configures the email sink
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// Email sends a message when a campaign is completed. Individual solves are
// deliberately not mailed.
type Email struct {
	config SMTPConfig
	send   func(*gomail.Message) error
}

// NewEmail creates an SMTP notifier
func NewEmail(config SMTPConfig) (*Email, error) {
	if config.Host == "" || config.From == "" || config.To == "" {
		return nil, fmt.Errorf("smtp host, from, and to are required")
	}
	if config.Port == 0 {
		config.Port = 587
	}

	dialer := gomail.NewDialer(config.Host, config.Port, config.Username, config.Password)
	return &Email{config: config, send: func(m *gomail.Message) error {
		return dialer.DialAndSend(m)
	}}, nil
}

// MachineSolved is a no-op for the email sink
func (e *Email) MachineSolved(flagcheck.SolveEvent) {}

// CampaignCompleted mails the completion notice
func (e *Email) CampaignCompleted(event flagcheck.SolveEvent) {
	m := gomail.NewMessage()
	m.SetHeader("From", e.config.From)
	m.SetHeader("To", e.config.To)
	m.SetHeader("Subject", fmt.Sprintf("Campaign %s completed", event.CampaignID))
	m.SetBody("text/plain", fmt.Sprintf(
		"User %s completed campaign %s.\nFinal machine: %s (%s), %d points.\n",
		event.UserID, event.CampaignID, event.BlueprintID, event.Variant, event.Points))

	if err := e.send(m); err != nil {
		log.Error("Error sending completion email: %v", err)
	}
}

// Multi fans events out to several sinks
type Multi []flagcheck.Notifier

// MachineSolved forwards the event to every sink
func (m Multi) MachineSolved(event flagcheck.SolveEvent) {
	for _, n := range m {
		if n != nil {
			n.MachineSolved(event)
		}
	}
}

// CampaignCompleted forwards the event to every sink
func (m Multi) CampaignCompleted(event flagcheck.SolveEvent) {
	for _, n := range m {
		if n != nil {
			n.CampaignCompleted(event)
		}
	}
}
