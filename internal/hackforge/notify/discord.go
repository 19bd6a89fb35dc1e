// Package notify delivers solve and completion notifications over Discord
// webhooks and SMTP. Every sink is optional and failures never propagate to
// the submission path.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/webhook"

	"github.com/dimasma0305/hackforge/internal/hackforge/flagcheck"
	"github.com/dimasma0305/hackforge/internal/log"
)

// Discord sends solve notifications through a webhook
type Discord struct {
	client  webhook.Client
	iconURL string
}

// NewDiscord creates a webhook notifier
func NewDiscord(webhookURL, iconURL string) (*Discord, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}

	client, err := webhook.NewWithURL(webhookURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook client: %w", err)
	}

	return &Discord{client: client, iconURL: iconURL}, nil
}

// sanitizeName neutralizes Discord mass mentions in user-supplied names
func sanitizeName(name string) string {
	replacements := map[string]string{
		"@everyone": "@everyon3",
		"@here":     "@her3",
	}
	for old, safe := range replacements {
		name = strings.ReplaceAll(name, old, safe)
	}
	return name
}

// MachineSolved announces a solve
func (d *Discord) MachineSolved(event flagcheck.SolveEvent) {
	embed := discord.NewEmbedBuilder().
		SetTitle("🚩 Machine Solved!").
		SetDescription(fmt.Sprintf("**%s** captured a flag:", sanitizeName(event.UserID))).
		AddField("Machine", fmt.Sprintf("`%s` (%s)", event.BlueprintID, event.Variant), false).
		AddField("Difficulty", fmt.Sprintf("%d/5", event.Difficulty), true).
		AddField("Points", fmt.Sprintf("%d", event.Points), true).
		AddField("Attempts", fmt.Sprintf("%d", event.Attempts), true).
		SetColor(0x2ECC71). // green
		SetFooter("Hackforge", d.iconURL).
		SetTimestamp(time.Now()).
		Build()

	if _, err := d.client.CreateEmbeds([]discord.Embed{embed}); err != nil {
		log.Error("Error sending solve webhook: %v", err)
	}
}

// CampaignCompleted announces a fully solved campaign
func (d *Discord) CampaignCompleted(event flagcheck.SolveEvent) {
	embed := discord.NewEmbedBuilder().
		SetTitle("🏆 Campaign Completed!").
		SetDescription(fmt.Sprintf("**%s** solved every machine in a campaign:", sanitizeName(event.UserID))).
		AddField("Campaign", fmt.Sprintf("`%s`", event.CampaignID), false).
		SetColor(0xF1C40F). // gold
		SetFooter("Hackforge", d.iconURL).
		SetTimestamp(time.Now()).
		Build()

	if _, err := d.client.CreateEmbeds([]discord.Embed{embed}); err != nil {
		log.Error("Error sending completion webhook: %v", err)
	}
}
