package flagcheck

import (
	"path/filepath"
	"sync"
	"testing"

	hferrors "github.com/dimasma0305/hackforge/internal/hackforge/errors"
	"github.com/dimasma0305/hackforge/internal/hackforge/machine"
	"github.com/dimasma0305/hackforge/internal/hackforge/store"
)

type recordingNotifier struct {
	mu        sync.Mutex
	solves    []SolveEvent
	completed []SolveEvent
}

func (n *recordingNotifier) MachineSolved(e SolveEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.solves = append(n.solves, e)
}

func (n *recordingNotifier) CampaignCompleted(e SolveEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, e)
}

func newTestValidator(t *testing.T) (*Validator, *store.Store, *recordingNotifier) {
	t.Helper()

	st, err := store.Open("sqlite", filepath.Join(t.TempDir(), "hackforge.db"))
	if err != nil {
		t.Fatalf("store open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})

	n := &recordingNotifier{}
	return NewValidator(st, n), st, n
}

func seed(t *testing.T, st *store.Store, userID string, machines ...machine.Machine) {
	t.Helper()

	if err := st.EnsureUser(userID); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	err := st.CreateCampaign(&store.Campaign{
		ID:           "campaign_1",
		Name:         "test",
		UserID:       userID,
		Difficulty:   3,
		MachineCount: len(machines),
		Status:       store.StatusReady,
	}, machines)
	if err != nil {
		t.Fatalf("CreateCampaign failed: %v", err)
	}
}

func mkMachine(id string, difficulty int, flag string) machine.Machine {
	return machine.Machine{
		ID:          id,
		CampaignID:  "campaign_1",
		BlueprintID: "web_sqli",
		Variant:     "medium",
		Difficulty:  difficulty,
		Flag:        flag,
		Port:        30000,
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name       string
		difficulty int
		attempts   int
		want       int
	}{
		{"first try", 3, 0, 300},
		{"one failure", 3, 1, 270},
		{"five failures", 3, 5, 150},
		{"floored", 3, 20, 60},
		{"floor always positive", 1, 100, 20},
		{"max difficulty", 5, 0, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.difficulty, tt.attempts); got != tt.want {
				t.Errorf("Score(%d, %d) = %d, want %d", tt.difficulty, tt.attempts, got, tt.want)
			}
		})
	}
}

func TestValidateInputErrors(t *testing.T) {
	v, _, _ := newTestValidator(t)

	if _, err := v.Validate(SubmitRequest{MachineID: "m1", Flag: "x"}); !hferrors.Is(err, hferrors.ErrInvalidInput) {
		t.Errorf("missing user: got %v", err)
	}
	if _, err := v.Validate(SubmitRequest{UserID: "alice", MachineID: "m1", Flag: "   "}); !hferrors.Is(err, hferrors.ErrEmptyFlag) {
		t.Errorf("blank flag: got %v", err)
	}
	if _, err := v.Validate(SubmitRequest{UserID: "alice", MachineID: "nope", Flag: "x"}); !hferrors.Is(err, hferrors.ErrMachineNotFound) {
		t.Errorf("unknown machine: got %v", err)
	}
}

func TestValidateForeignMachineHidden(t *testing.T) {
	v, st, _ := newTestValidator(t)
	seed(t, st, "alice", mkMachine("m1", 3, "HKF{real}"))

	_, err := v.Validate(SubmitRequest{UserID: "mallory", MachineID: "m1", Flag: "HKF{real}"})
	if !hferrors.Is(err, hferrors.ErrMachineNotFound) {
		t.Errorf("foreign machine should look missing, got %v", err)
	}
}

func TestValidateWrongFlag(t *testing.T) {
	v, st, n := newTestValidator(t)
	seed(t, st, "alice", mkMachine("m1", 3, "HKF{real}"))

	res, err := v.Validate(SubmitRequest{UserID: "alice", MachineID: "m1", Flag: "HKF{wrong}"})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if res.Correct || res.Points != 0 {
		t.Errorf("wrong flag accepted: %+v", res)
	}

	p, err := st.GetProgress("alice", "m1")
	if err != nil {
		t.Fatalf("GetProgress failed: %v", err)
	}
	if p.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", p.Attempts)
	}
	if len(n.solves) != 0 {
		t.Error("wrong flag triggered notification")
	}
}

func TestValidateCorrectFlagWithDiscount(t *testing.T) {
	v, st, n := newTestValidator(t)
	seed(t, st, "alice",
		mkMachine("m1", 3, "HKF{real}"),
		mkMachine("m2", 2, "HKF{other}"))

	// two failed attempts first
	for i := 0; i < 2; i++ {
		if _, err := v.Validate(SubmitRequest{UserID: "alice", MachineID: "m1", Flag: "nope"}); err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
	}

	res, err := v.Validate(SubmitRequest{UserID: "alice", MachineID: "m1", Flag: " HKF{real} "})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !res.Correct || res.Points != 240 {
		t.Errorf("expected correct with 240 points, got %+v", res)
	}
	if res.SolvedCount != 1 || res.TotalMachines != 2 {
		t.Errorf("progress = %d/%d", res.SolvedCount, res.TotalMachines)
	}
	if res.CampaignStatus != store.StatusPartiallySolved {
		t.Errorf("status = %q, want partially_solved", res.CampaignStatus)
	}

	if len(n.solves) != 1 || n.solves[0].Points != 240 || n.solves[0].CampaignCompleted {
		t.Errorf("unexpected solve events: %+v", n.solves)
	}
	if len(n.completed) != 0 {
		t.Error("campaign reported completed too early")
	}
}

func TestValidateAlreadySolvedIdempotent(t *testing.T) {
	v, st, n := newTestValidator(t)
	seed(t, st, "alice", mkMachine("m1", 3, "HKF{real}"), mkMachine("m2", 2, "HKF{other}"))

	if _, err := v.Validate(SubmitRequest{UserID: "alice", MachineID: "m1", Flag: "HKF{real}"}); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	res, err := v.Validate(SubmitRequest{UserID: "alice", MachineID: "m1", Flag: "HKF{real}"})
	if err != nil {
		t.Fatalf("resubmission failed: %v", err)
	}
	if !res.Correct || res.Points != 0 || res.Message != "already solved" {
		t.Errorf("unexpected resubmission result: %+v", res)
	}

	u, err := st.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if u.TotalPoints != 300 {
		t.Errorf("points double-counted: %d", u.TotalPoints)
	}
	if len(n.solves) != 1 {
		t.Errorf("resubmission re-notified: %d events", len(n.solves))
	}
}

func TestValidateCampaignCompletion(t *testing.T) {
	v, st, n := newTestValidator(t)
	seed(t, st, "alice", mkMachine("m1", 3, "HKF{one}"), mkMachine("m2", 2, "HKF{two}"))

	if _, err := v.Validate(SubmitRequest{UserID: "alice", MachineID: "m1", Flag: "HKF{one}"}); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	res, err := v.Validate(SubmitRequest{UserID: "alice", MachineID: "m2", Flag: "HKF{two}"})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if res.CampaignStatus != store.StatusCompleted {
		t.Errorf("status = %q, want completed", res.CampaignStatus)
	}
	if len(n.completed) != 1 || !n.completed[0].CampaignCompleted {
		t.Errorf("completion not notified: %+v", n.completed)
	}

	u, err := st.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if u.CampaignsCompleted != 1 || u.TotalPoints != 500 {
		t.Errorf("user totals wrong: %+v", u)
	}
}
