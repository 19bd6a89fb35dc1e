package store

import (
	"database/sql"
	"fmt"
	"time"

	hferrors "github.com/dimasma0305/hackforge/internal/hackforge/errors"
)

// User is a registered player
type User struct {
	ID                 string    `json:"user_id"`
	Username           string    `json:"username"`
	Email              string    `json:"email,omitempty"`
	Role               string    `json:"role"`
	TotalPoints        int       `json:"total_points"`
	MachinesSolved     int       `json:"machines_solved"`
	CampaignsCompleted int       `json:"campaigns_completed"`
	CreatedAt          time.Time `json:"created_at"`
}

// Progress tracks one user's standing against one machine
type Progress struct {
	UserID       string     `json:"user_id"`
	MachineID    string     `json:"machine_id"`
	CampaignID   string     `json:"campaign_id"`
	Solved       bool       `json:"solved"`
	Attempts     int        `json:"attempts"`
	PointsEarned int        `json:"points_earned"`
	StartedAt    time.Time  `json:"started_at"`
	SolvedAt     *time.Time `json:"solved_at,omitempty"`
}

// Submission is one flag submission, right or wrong
type Submission struct {
	UserID        string
	MachineID     string
	CampaignID    string
	Correct       bool
	PointsAwarded int
	RemoteAddr    string
}

// CreateUser registers a user. Registering an existing id is an error.
func (s *Store) CreateUser(u *User) error {
	if u.Role == "" {
		u.Role = "player"
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now()
	}

	_, err := s.db.Exec(s.rebind(
		`INSERT INTO users (user_id, username, email, role, total_points, machines_solved, campaigns_completed, created_at)
		 VALUES (?, ?, ?, ?, 0, 0, 0, ?)`),
		u.ID, u.Username, u.Email, u.Role, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUser fetches a user by id
func (s *Store) GetUser(userID string) (*User, error) {
	row := s.db.QueryRow(s.rebind(
		`SELECT user_id, username, email, role, total_points, machines_solved, campaigns_completed, created_at
		 FROM users WHERE user_id = ?`), userID)

	var u User
	var email sql.NullString
	err := row.Scan(&u.ID, &u.Username, &email, &u.Role, &u.TotalPoints, &u.MachinesSolved, &u.CampaignsCompleted, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, hferrors.Wrapf(hferrors.ErrUserNotFound, "user %s", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	u.Email = email.String

	return &u, nil
}

// EnsureUser creates a placeholder user record if none exists yet, so flag
// submissions from externally-authenticated users always have a row to
// accumulate points on.
func (s *Store) EnsureUser(userID string) error {
	_, err := s.GetUser(userID)
	if err == nil {
		return nil
	}
	if !hferrors.Is(err, hferrors.ErrUserNotFound) {
		return err
	}
	return s.CreateUser(&User{ID: userID, Username: userID})
}

// GetProgress fetches the progress row for a user/machine pair
func (s *Store) GetProgress(userID, machineID string) (*Progress, error) {
	row := s.db.QueryRow(s.rebind(
		`SELECT user_id, machine_id, campaign_id, solved, attempts, points_earned, started_at, solved_at
		 FROM progress WHERE user_id = ? AND machine_id = ?`), userID, machineID)

	var p Progress
	var solved int
	var solvedAt sql.NullTime
	err := row.Scan(&p.UserID, &p.MachineID, &p.CampaignID, &solved, &p.Attempts, &p.PointsEarned, &p.StartedAt, &solvedAt)
	if err == sql.ErrNoRows {
		return nil, hferrors.Wrapf(hferrors.ErrMachineNotFound, "no progress for machine %s", machineID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query progress: %w", err)
	}
	p.Solved = solved != 0
	if solvedAt.Valid {
		t := solvedAt.Time
		p.SolvedAt = &t
	}

	return &p, nil
}

// IncrementAttempts bumps the attempt counter after a wrong submission
func (s *Store) IncrementAttempts(userID, machineID string) error {
	res, err := s.db.Exec(s.rebind(
		`UPDATE progress SET attempts = attempts + 1 WHERE user_id = ? AND machine_id = ?`),
		userID, machineID)
	if err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return hferrors.Wrapf(hferrors.ErrMachineNotFound, "no progress for machine %s", machineID)
	}
	return nil
}

// MarkSolved records a correct submission: the progress row flips to solved
// with the awarded points and the user's totals advance, atomically.
func (s *Store) MarkSolved(userID, machineID string, points int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.Exec(s.rebind(
		`UPDATE progress
		 SET solved = 1, attempts = attempts + 1, points_earned = ?, solved_at = ?
		 WHERE user_id = ? AND machine_id = ? AND solved = 0`),
		points, now(), userID, machineID)
	if err != nil {
		return fmt.Errorf("failed to mark progress solved: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return hferrors.Wrapf(hferrors.ErrAlreadySolved, "machine %s", machineID)
	}

	_, err = tx.Exec(s.rebind(
		`UPDATE users SET total_points = total_points + ?, machines_solved = machines_solved + 1
		 WHERE user_id = ?`),
		points, userID)
	if err != nil {
		return fmt.Errorf("failed to update user totals: %w", err)
	}

	return tx.Commit()
}

// MarkCampaignCompleted bumps the user's completed-campaign counter
func (s *Store) MarkCampaignCompleted(userID string) error {
	_, err := s.db.Exec(s.rebind(
		`UPDATE users SET campaigns_completed = campaigns_completed + 1 WHERE user_id = ?`), userID)
	if err != nil {
		return fmt.Errorf("failed to update campaigns completed: %w", err)
	}
	return nil
}

// CampaignProgress recomputes a campaign's solved count and points from its
// progress rows.
func (s *Store) CampaignProgress(campaignID, userID string) (solved, total, points int, err error) {
	row := s.db.QueryRow(s.rebind(
		`SELECT COUNT(*), COALESCE(SUM(solved), 0), COALESCE(SUM(points_earned), 0)
		 FROM progress WHERE campaign_id = ? AND user_id = ?`), campaignID, userID)

	if err := row.Scan(&total, &solved, &points); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to query campaign progress: %w", err)
	}
	return solved, total, points, nil
}

// CampaignProgressRows returns the per-machine progress rows for a campaign
func (s *Store) CampaignProgressRows(campaignID, userID string) ([]Progress, error) {
	rows, err := s.db.Query(s.rebind(
		`SELECT user_id, machine_id, campaign_id, solved, attempts, points_earned, started_at, solved_at
		 FROM progress WHERE campaign_id = ? AND user_id = ? ORDER BY started_at, machine_id`),
		campaignID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Progress
	for rows.Next() {
		var p Progress
		var solvedInt int
		var solvedAt sql.NullTime
		if err := rows.Scan(&p.UserID, &p.MachineID, &p.CampaignID, &solvedInt, &p.Attempts, &p.PointsEarned, &p.StartedAt, &solvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		p.Solved = solvedInt != 0
		if solvedAt.Valid {
			t := solvedAt.Time
			p.SolvedAt = &t
		}
		out = append(out, p)
	}

	return out, rows.Err()
}

// RecordSubmission appends a submission to the audit trail
func (s *Store) RecordSubmission(sub *Submission) error {
	correct := 0
	if sub.Correct {
		correct = 1
	}

	_, err := s.db.Exec(s.rebind(
		`INSERT INTO submissions (user_id, machine_id, campaign_id, correct, points_awarded, remote_addr, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		sub.UserID, sub.MachineID, sub.CampaignID, correct, sub.PointsAwarded, sub.RemoteAddr, now())
	if err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}
	return nil
}

// Leaderboard returns the top users by total points
func (s *Store) Leaderboard(limit int) ([]User, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(s.rebind(
		`SELECT user_id, username, email, role, total_points, machines_solved, campaigns_completed, created_at
		 FROM users ORDER BY total_points DESC, machines_solved DESC, user_id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var users []User
	for rows.Next() {
		var u User
		var email sql.NullString
		if err := rows.Scan(&u.ID, &u.Username, &email, &u.Role, &u.TotalPoints, &u.MachinesSolved, &u.CampaignsCompleted, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Email = email.String
		users = append(users, u)
	}

	return users, rows.Err()
}
