package store

import (
	"database/sql"
	"fmt"
	"time"

	hferrors "github.com/dimasma0305/hackforge/internal/hackforge/errors"
	"github.com/dimasma0305/hackforge/internal/hackforge/machine"
)

// Campaign is the persisted campaign record. Progress is never stored here;
// it is recomputed from progress rows on read.
type Campaign struct {
	ID           string    `json:"campaign_id"`
	Name         string    `json:"campaign_name"`
	UserID       string    `json:"user_id"`
	Difficulty   int       `json:"difficulty"`
	MachineCount int       `json:"machine_count"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateCampaign inserts a campaign with its machines and initial progress
// rows in one transaction, so a failure leaves no partially-created set.
func (s *Store) CreateCampaign(c *Campaign, machines []machine.Machine) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.Exec(s.rebind(
		`INSERT INTO campaigns (campaign_id, campaign_name, user_id, difficulty, machine_count, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.Name, c.UserID, c.Difficulty, c.MachineCount, c.Status, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert campaign: %w", err)
	}

	for _, m := range machines {
		_, err = tx.Exec(s.rebind(
			`INSERT INTO machines (machine_id, campaign_id, blueprint_id, variant, difficulty, flag, port, container_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			m.ID, m.CampaignID, m.BlueprintID, m.Variant, m.Difficulty, m.Flag, m.Port, m.ContainerID, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert machine %s: %w", m.ID, err)
		}

		_, err = tx.Exec(s.rebind(
			`INSERT INTO progress (user_id, machine_id, campaign_id, solved, attempts, points_earned, started_at)
			 VALUES (?, ?, ?, 0, 0, 0, ?)`),
			c.UserID, m.ID, c.ID, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert progress for machine %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// GetCampaign fetches a campaign by id
func (s *Store) GetCampaign(campaignID string) (*Campaign, error) {
	row := s.db.QueryRow(s.rebind(
		`SELECT campaign_id, campaign_name, user_id, difficulty, machine_count, status, created_at
		 FROM campaigns WHERE campaign_id = ?`), campaignID)

	var c Campaign
	err := row.Scan(&c.ID, &c.Name, &c.UserID, &c.Difficulty, &c.MachineCount, &c.Status, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, hferrors.Wrapf(hferrors.ErrCampaignNotFound, "campaign %s", campaignID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query campaign: %w", err)
	}

	return &c, nil
}

// ListUserCampaigns returns a user's campaigns, newest first
func (s *Store) ListUserCampaigns(userID string) ([]Campaign, error) {
	rows, err := s.db.Query(s.rebind(
		`SELECT campaign_id, campaign_name, user_id, difficulty, machine_count, status, created_at
		 FROM campaigns WHERE user_id = ? ORDER BY created_at DESC, campaign_id DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var campaigns []Campaign
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.UserID, &c.Difficulty, &c.MachineCount, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}

	return campaigns, rows.Err()
}

// SetCampaignStatus updates the campaign lifecycle state
func (s *Store) SetCampaignStatus(campaignID, status string) error {
	res, err := s.db.Exec(s.rebind(`UPDATE campaigns SET status = ? WHERE campaign_id = ?`), status, campaignID)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return hferrors.Wrapf(hferrors.ErrCampaignNotFound, "campaign %s", campaignID)
	}
	return nil
}

// DeleteCampaign removes the campaign and everything hanging off it. The
// caller must have terminated the bound containers first.
func (s *Store) DeleteCampaign(campaignID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range []string{
		`DELETE FROM progress WHERE campaign_id = ?`,
		`DELETE FROM submissions WHERE campaign_id = ?`,
		`DELETE FROM machines WHERE campaign_id = ?`,
	} {
		if _, err := tx.Exec(s.rebind(stmt), campaignID); err != nil {
			return fmt.Errorf("failed to delete campaign children: %w", err)
		}
	}

	res, err := tx.Exec(s.rebind(`DELETE FROM campaigns WHERE campaign_id = ?`), campaignID)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return hferrors.Wrapf(hferrors.ErrCampaignNotFound, "campaign %s", campaignID)
	}

	return tx.Commit()
}

const machineColumns = `machine_id, campaign_id, blueprint_id, variant, difficulty, flag, port, container_id, created_at`

func scanMachine(scan func(...any) error) (machine.Machine, error) {
	var m machine.Machine
	err := scan(&m.ID, &m.CampaignID, &m.BlueprintID, &m.Variant, &m.Difficulty, &m.Flag, &m.Port, &m.ContainerID, &m.CreatedAt)
	return m, err
}

// GetMachine fetches a machine by id
func (s *Store) GetMachine(machineID string) (*machine.Machine, error) {
	row := s.db.QueryRow(s.rebind(
		`SELECT `+machineColumns+` FROM machines WHERE machine_id = ?`), machineID)

	m, err := scanMachine(row.Scan)
	if err == sql.ErrNoRows {
		return nil, hferrors.Wrapf(hferrors.ErrMachineNotFound, "machine %s", machineID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query machine: %w", err)
	}
	return &m, nil
}

// CampaignMachines returns a campaign's machines in creation order
func (s *Store) CampaignMachines(campaignID string) ([]machine.Machine, error) {
	return s.queryMachines(
		`SELECT `+machineColumns+` FROM machines WHERE campaign_id = ? ORDER BY created_at, machine_id`,
		campaignID)
}

// ListMachines returns every machine in creation order
func (s *Store) ListMachines() ([]machine.Machine, error) {
	return s.queryMachines(`SELECT ` + machineColumns + ` FROM machines ORDER BY created_at, machine_id`)
}

func (s *Store) queryMachines(query string, args ...any) ([]machine.Machine, error) {
	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var machines []machine.Machine
	for rows.Next() {
		m, err := scanMachine(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan machine: %w", err)
		}
		machines = append(machines, m)
	}

	return machines, rows.Err()
}

// SetMachineContainer records the container bound to a machine. An empty id
// clears the binding.
func (s *Store) SetMachineContainer(machineID, containerID string) error {
	res, err := s.db.Exec(s.rebind(
		`UPDATE machines SET container_id = ? WHERE machine_id = ?`), containerID, machineID)
	if err != nil {
		return fmt.Errorf("failed to update machine container: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return hferrors.Wrapf(hferrors.ErrMachineNotFound, "machine %s", machineID)
	}
	return nil
}

// UsedPorts returns all ports held by persisted machines, for seeding the
// port allocator at startup.
func (s *Store) UsedPorts() ([]int, error) {
	rows, err := s.db.Query(`SELECT port FROM machines`)
	if err != nil {
		return nil, fmt.Errorf("failed to query used ports: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ports []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan port: %w", err)
		}
		ports = append(ports, p)
	}

	return ports, rows.Err()
}

// Counts returns the total number of campaigns and machines
func (s *Store) Counts() (campaigns, machines int, err error) {
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM campaigns`).Scan(&campaigns); err != nil {
		return 0, 0, fmt.Errorf("failed to count campaigns: %w", err)
	}
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM machines`).Scan(&machines); err != nil {
		return 0, 0, fmt.Errorf("failed to count machines: %w", err)
	}
	return campaigns, machines, nil
}
