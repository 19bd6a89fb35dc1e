// Package machine defines the machine model plus the process-wide port and
// secret allocation used when campaigns instantiate blueprints.
package machine

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sethvargo/go-password/password"
)

// Machine is one instantiated challenge, owned by exactly one campaign.
// ContainerID is a weak reference: the container may vanish at the runtime
// level without invalidating the record.
type Machine struct {
	ID          string    `json:"machine_id"`
	CampaignID  string    `json:"campaign_id"`
	BlueprintID string    `json:"blueprint_id"`
	Variant     string    `json:"variant"`
	Difficulty  int       `json:"difficulty"`
	Flag        string    `json:"-"`
	Port        int       `json:"port"`
	ContainerID string    `json:"container_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// URL returns the local address of the machine's web entry point
func (m *Machine) URL() string {
	if m.Port == 0 {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", m.Port)
}

// NewID returns a random 16-hex-character machine identifier
func NewID() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate machine id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// NewFlag returns a flag secret in the form PREFIX{hex32}
func NewFlag(prefix string) (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate flag secret: %w", err)
	}
	return fmt.Sprintf("%s{%s}", prefix, hex.EncodeToString(b[:])), nil
}

// NewDatabasePassword returns a random credential for machines whose
// blueprint requires a backing database.
func NewDatabasePassword() (string, error) {
	pass, err := password.Generate(24, 10, 0, false, false)
	if err != nil {
		return "", fmt.Errorf("failed to generate database password: %w", err)
	}
	return pass, nil
}
