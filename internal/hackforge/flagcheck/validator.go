// Package flagcheck validates flag submissions: constant-time comparison,
// attempt-discounted scoring, idempotent resubmission, and campaign progress
// advancement.
package flagcheck

import (
	"crypto/subtle"
	"strings"

	hferrors "github.com/dimasma0305/hackforge/internal/hackforge/errors"
	"github.com/dimasma0305/hackforge/internal/hackforge/store"
	"github.com/dimasma0305/hackforge/internal/log"
)

// SolveEvent describes a correct submission for notification sinks
type SolveEvent struct {
	UserID            string
	MachineID         string
	CampaignID        string
	BlueprintID       string
	Variant           string
	Difficulty        int
	Points            int
	Attempts          int
	CampaignCompleted bool
}

// Notifier receives solve events. Implementations must not block the
// submission path for long; delivery failures are logged, never surfaced.
type Notifier interface {
	MachineSolved(event SolveEvent)
	CampaignCompleted(event SolveEvent)
}

// SubmitRequest is one flag submission
type SubmitRequest struct {
	UserID     string `json:"user_id"`
	MachineID  string `json:"machine_id"`
	Flag       string `json:"flag"`
	RemoteAddr string `json:"-"`
}

// Result is the outcome of a submission. An already-solved machine reports
// correct with zero points.
type Result struct {
	Correct        bool   `json:"correct"`
	Points         int    `json:"points_awarded"`
	Message        string `json:"message"`
	SolvedCount    int    `json:"solved_count"`
	TotalMachines  int    `json:"total_machines"`
	CampaignStatus string `json:"campaign_status"`
}

// Validator checks submitted flags and advances progress
type Validator struct {
	store    *store.Store
	notifier Notifier
}

// NewValidator creates a validator. notifier may be nil.
func NewValidator(st *store.Store, notifier Notifier) *Validator {
	return &Validator{store: st, notifier: notifier}
}

// Score computes the points for a solve. Base is difficulty x 100; every
// prior failed attempt deducts 10% of base, floored at 20% of base so a
// solve always scores.
func Score(difficulty, priorAttempts int) int {
	base := difficulty * 100
	points := base - base*10*priorAttempts/100
	if floor := base * 20 / 100; points < floor {
		points = floor
	}
	return points
}

// equalFlags compares flags in constant time over the submitted value
func equalFlags(submitted, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(expected)) == 1
}

// Validate processes one submission. Submitting against a machine the user
// has no progress row for (someone else's campaign) reports machine not
// found rather than leaking its existence.
func (v *Validator) Validate(req SubmitRequest) (*Result, error) {
	if req.UserID == "" || req.MachineID == "" {
		return nil, hferrors.Wrap(hferrors.ErrInvalidInput, "user_id and machine_id are required")
	}
	submitted := strings.TrimSpace(req.Flag)
	if submitted == "" {
		return nil, hferrors.ErrEmptyFlag
	}

	m, err := v.store.GetMachine(req.MachineID)
	if err != nil {
		return nil, err
	}
	progress, err := v.store.GetProgress(req.UserID, req.MachineID)
	if err != nil {
		return nil, err
	}

	if progress.Solved {
		return v.result(m.CampaignID, req.UserID, true, 0, "already solved")
	}

	if !equalFlags(submitted, m.Flag) {
		if err := v.store.IncrementAttempts(req.UserID, req.MachineID); err != nil {
			return nil, err
		}
		v.recordSubmission(req, m.CampaignID, false, 0)
		return v.result(m.CampaignID, req.UserID, false, 0, "incorrect flag")
	}

	points := Score(m.Difficulty, progress.Attempts)
	if err := v.store.MarkSolved(req.UserID, req.MachineID, points); err != nil {
		// Lost a race with a concurrent correct submission
		if hferrors.Is(err, hferrors.ErrAlreadySolved) {
			return v.result(m.CampaignID, req.UserID, true, 0, "already solved")
		}
		return nil, err
	}
	v.recordSubmission(req, m.CampaignID, true, points)
	log.Info("User %s solved machine %s (+%d points)", req.UserID, req.MachineID, points)

	completed, err := v.advanceCampaign(m.CampaignID, req.UserID)
	if err != nil {
		return nil, err
	}

	if v.notifier != nil {
		event := SolveEvent{
			UserID:            req.UserID,
			MachineID:         m.ID,
			CampaignID:        m.CampaignID,
			BlueprintID:       m.BlueprintID,
			Variant:           m.Variant,
			Difficulty:        m.Difficulty,
			Points:            points,
			Attempts:          progress.Attempts + 1,
			CampaignCompleted: completed,
		}
		v.notifier.MachineSolved(event)
		if completed {
			v.notifier.CampaignCompleted(event)
		}
	}

	return v.result(m.CampaignID, req.UserID, true, points, "correct")
}

// advanceCampaign flips the campaign to partially_solved or completed based
// on recomputed progress.
func (v *Validator) advanceCampaign(campaignID, userID string) (completed bool, err error) {
	solved, total, _, err := v.store.CampaignProgress(campaignID, userID)
	if err != nil {
		return false, err
	}

	status := store.StatusPartiallySolved
	if solved == total {
		status = store.StatusCompleted
	}
	if err := v.store.SetCampaignStatus(campaignID, status); err != nil {
		return false, err
	}

	if status == store.StatusCompleted {
		if err := v.store.MarkCampaignCompleted(userID); err != nil {
			return false, err
		}
		log.InfoH2("Campaign %s completed by %s", campaignID, userID)
		return true, nil
	}
	return false, nil
}

func (v *Validator) recordSubmission(req SubmitRequest, campaignID string, correct bool, points int) {
	err := v.store.RecordSubmission(&store.Submission{
		UserID:        req.UserID,
		MachineID:     req.MachineID,
		CampaignID:    campaignID,
		Correct:       correct,
		PointsAwarded: points,
		RemoteAddr:    req.RemoteAddr,
	})
	if err != nil {
		log.Error("Failed to record submission: %v", err)
	}
}

func (v *Validator) result(campaignID, userID string, correct bool, points int, message string) (*Result, error) {
	solved, total, _, err := v.store.CampaignProgress(campaignID, userID)
	if err != nil {
		return nil, err
	}
	c, err := v.store.GetCampaign(campaignID)
	if err != nil {
		return nil, err
	}

	return &Result{
		Correct:        correct,
		Points:         points,
		Message:        message,
		SolvedCount:    solved,
		TotalMachines:  total,
		CampaignStatus: c.Status,
	}, nil
}
