// Package campaign implements the campaign lifecycle: creation with atomic
// resource allocation, asynchronous provisioning, status derivation from
// progress, and deletion with container teardown.
package campaign

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/dimasma0305/hackforge/internal/hackforge/blueprint"
	"github.com/dimasma0305/hackforge/internal/hackforge/docker"
	hferrors "github.com/dimasma0305/hackforge/internal/hackforge/errors"
	"github.com/dimasma0305/hackforge/internal/hackforge/machine"
	"github.com/dimasma0305/hackforge/internal/hackforge/orchestrator"
	"github.com/dimasma0305/hackforge/internal/hackforge/store"
	"github.com/dimasma0305/hackforge/internal/log"
)

// CreateRequest is the input for campaign creation
type CreateRequest struct {
	UserID       string   `json:"user_id"`
	CampaignName string   `json:"campaign_name"`
	Difficulty   int      `json:"difficulty"`
	BlueprintIDs []string `json:"blueprint_ids"`
}

// MachineView is a machine as exposed to the owning user, annotated with
// that user's progress. The flag never leaves the server.
type MachineView struct {
	machine.Machine
	URL          string `json:"url,omitempty"`
	Solved       bool   `json:"solved"`
	Attempts     int    `json:"attempts"`
	PointsEarned int    `json:"points_earned"`
}

// ProgressView is the campaign aggregate, recomputed from progress rows
type ProgressView struct {
	Solved      int     `json:"solved"`
	Total       int     `json:"total"`
	TotalPoints int     `json:"total_points"`
	Percentage  float64 `json:"percentage"`
}

// View is a campaign with derived progress and its machines
type View struct {
	store.Campaign
	Machines []MachineView `json:"machines"`
	Progress ProgressView  `json:"progress"`
}

// ContainerView is one campaign container binding with its machine reference
type ContainerView struct {
	MachineID string `json:"machine_id"`
	ID        string `json:"Id"`
	Name      string `json:"Name"`
	State     string `json:"State"`
	Status    string `json:"Status"`
	Image     string `json:"Image"`
	Ports     string `json:"Ports"`
}

// DeleteError reports the containers that could not be torn down. The
// campaign record survives so the operation can be retried.
type DeleteError struct {
	CampaignID string
	Failed     []string
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("failed to remove containers for campaign %s: %s",
		e.CampaignID, strings.Join(e.Failed, ", "))
}

// Manager drives the campaign lifecycle
type Manager struct {
	store      *store.Store
	registry   *blueprint.Registry
	allocator  *machine.PortAllocator
	runtime    docker.Runtime
	pool       *orchestrator.WorkerPool
	flagPrefix string

	mu  sync.Mutex
	rng *mrand.Rand
}

// NewManager creates a campaign manager
func NewManager(st *store.Store, reg *blueprint.Registry, alloc *machine.PortAllocator, rt docker.Runtime, pool *orchestrator.WorkerPool, flagPrefix string) *Manager {
	if flagPrefix == "" {
		flagPrefix = "HKF"
	}
	return &Manager{
		store:      st,
		registry:   reg,
		allocator:  alloc,
		runtime:    rt,
		pool:       pool,
		flagPrefix: flagPrefix,
		rng:        mrand.New(mrand.NewSource(time.Now().UnixNano())),
	}
}

// newCampaignID returns an identifier like campaign_1724900000_a1b2c3
func newCampaignID() (string, error) {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate campaign id: %w", err)
	}
	return fmt.Sprintf("campaign_%d_%s", time.Now().Unix(), hex.EncodeToString(b[:])), nil
}

// Create validates the request, allocates every machine's port and flag
// atomically, persists the campaign, and dispatches provisioning to the
// worker pool. It returns immediately with the campaign in provisioning
// state.
func (m *Manager) Create(req CreateRequest) (*View, error) {
	if req.UserID == "" {
		return nil, hferrors.Wrap(hferrors.ErrInvalidInput, "user_id is required")
	}
	if req.Difficulty < 1 || req.Difficulty > 5 {
		return nil, hferrors.Wrapf(hferrors.ErrInvalidInput, "difficulty must be between 1 and 5, got %d", req.Difficulty)
	}
	if len(req.BlueprintIDs) == 0 {
		return nil, hferrors.ErrEmptyBlueprints
	}

	blueprints := make([]*blueprint.Blueprint, 0, len(req.BlueprintIDs))
	for _, id := range req.BlueprintIDs {
		bp, err := m.registry.Get(id)
		if err != nil {
			return nil, err
		}
		blueprints = append(blueprints, bp)
	}

	campaignID, err := newCampaignID()
	if err != nil {
		return nil, err
	}

	// All-or-nothing allocation: any failure releases everything reserved
	// so far and aborts.
	machines := make([]machine.Machine, 0, len(blueprints))
	releaseAll := func() {
		for _, mc := range machines {
			m.allocator.Release(mc.Port)
		}
	}

	createdAt := time.Now().UTC()
	for _, bp := range blueprints {
		m.mu.Lock()
		variant, difficulty, err := bp.PickVariant(req.Difficulty, m.rng)
		m.mu.Unlock()
		if err != nil {
			releaseAll()
			return nil, err
		}

		id, err := machine.NewID()
		if err != nil {
			releaseAll()
			return nil, hferrors.Wrap(hferrors.ErrAllocation, err.Error())
		}
		flag, err := machine.NewFlag(m.flagPrefix)
		if err != nil {
			releaseAll()
			return nil, hferrors.Wrap(hferrors.ErrAllocation, err.Error())
		}
		port, err := m.allocator.Reserve()
		if err != nil {
			releaseAll()
			return nil, err
		}

		machines = append(machines, machine.Machine{
			ID:          id,
			CampaignID:  campaignID,
			BlueprintID: bp.ID,
			Variant:     variant.Name,
			Difficulty:  difficulty,
			Flag:        flag,
			Port:        port,
			CreatedAt:   createdAt,
		})
	}

	name := req.CampaignName
	if name == "" {
		name = "Campaign " + campaignID
	}
	c := &store.Campaign{
		ID:           campaignID,
		Name:         name,
		UserID:       req.UserID,
		Difficulty:   req.Difficulty,
		MachineCount: len(machines),
		Status:       store.StatusProvisioning,
		CreatedAt:    createdAt,
	}

	if err := m.store.EnsureUser(req.UserID); err != nil {
		releaseAll()
		return nil, err
	}
	if err := m.store.CreateCampaign(c, machines); err != nil {
		releaseAll()
		return nil, err
	}

	log.Info("Created campaign %s for %s (%d machines)", campaignID, req.UserID, len(machines))

	provision := append([]machine.Machine(nil), machines...)
	infra := make(map[string]blueprint.Infra, len(blueprints))
	for _, bp := range blueprints {
		infra[bp.ID] = bp.Infra
	}
	m.pool.Submit(func() {
		m.provision(c.ID, provision, infra)
	})

	return m.view(c, machines)
}

// provision runs the campaign's containers in the background and flips the
// campaign to ready once every machine has one. A failed machine leaves the
// campaign in provisioning so polling clients see it is not ready.
func (m *Manager) provision(campaignID string, machines []machine.Machine, infra map[string]blueprint.Infra) {
	ctx := context.Background()
	failed := 0

	for _, mc := range machines {
		inf := infra[mc.BlueprintID]

		env := map[string]string{"FLAG": mc.Flag}
		if inf.NeedsDatabase {
			pass, err := machine.NewDatabasePassword()
			if err != nil {
				log.Error("Failed to generate database password for machine %s: %v", mc.ID, err)
				failed++
				continue
			}
			env["DB_PASSWORD"] = pass
		}

		containerID, err := m.runtime.Run(ctx, docker.RunSpec{
			Name:          "hackforge-" + mc.ID,
			Image:         inf.Image,
			HostPort:      mc.Port,
			ContainerPort: inf.InternalPort,
			Env:           env,
			Labels: map[string]string{
				docker.LabelMachine:  mc.ID,
				docker.LabelCampaign: campaignID,
			},
		})
		if err != nil {
			log.Error("Failed to provision machine %s: %v", mc.ID, err)
			failed++
			continue
		}

		if err := m.store.SetMachineContainer(mc.ID, containerID); err != nil {
			log.Error("Failed to record container for machine %s: %v", mc.ID, err)
			failed++
		}
	}

	if failed > 0 {
		log.Error("Campaign %s provisioning incomplete: %d/%d machines failed", campaignID, failed, len(machines))
		return
	}

	if err := m.store.SetCampaignStatus(campaignID, store.StatusReady); err != nil {
		log.Error("Failed to mark campaign %s ready: %v", campaignID, err)
		return
	}
	log.InfoH2("Campaign %s is ready", campaignID)
}

// view assembles the user-facing campaign: machines annotated with the
// owner's per-machine progress, plus the aggregate recomputed from the same
// rows so it can never drift.
func (m *Manager) view(c *store.Campaign, machines []machine.Machine) (*View, error) {
	rows, err := m.store.CampaignProgressRows(c.ID, c.UserID)
	if err != nil {
		return nil, err
	}
	byMachine := make(map[string]store.Progress, len(rows))
	for _, p := range rows {
		byMachine[p.MachineID] = p
	}

	progress := ProgressView{Total: len(machines)}
	views := make([]MachineView, 0, len(machines))
	for _, mc := range machines {
		p := byMachine[mc.ID]
		views = append(views, MachineView{
			Machine:      mc,
			URL:          mc.URL(),
			Solved:       p.Solved,
			Attempts:     p.Attempts,
			PointsEarned: p.PointsEarned,
		})
		if p.Solved {
			progress.Solved++
		}
		progress.TotalPoints += p.PointsEarned
	}
	if progress.Total > 0 {
		progress.Percentage = float64(progress.Solved) / float64(progress.Total) * 100
	}

	return &View{
		Campaign: *c,
		Machines: views,
		Progress: progress,
	}, nil
}

// Get returns a campaign scoped to its owner. Another user's campaign id
// behaves as if it does not exist.
func (m *Manager) Get(campaignID, userID string) (*View, error) {
	c, err := m.store.GetCampaign(campaignID)
	if err != nil {
		return nil, err
	}
	if userID != "" && c.UserID != userID {
		return nil, hferrors.Wrapf(hferrors.ErrCampaignNotFound, "campaign %s", campaignID)
	}

	machines, err := m.store.CampaignMachines(campaignID)
	if err != nil {
		return nil, err
	}

	return m.view(c, machines)
}

// List returns a user's campaigns, newest first, with derived progress
func (m *Manager) List(userID string) ([]*View, error) {
	if userID == "" {
		return nil, hferrors.Wrap(hferrors.ErrInvalidInput, "user_id is required")
	}

	campaigns, err := m.store.ListUserCampaigns(userID)
	if err != nil {
		return nil, err
	}

	views := make([]*View, 0, len(campaigns))
	for i := range campaigns {
		machines, err := m.store.CampaignMachines(campaigns[i].ID)
		if err != nil {
			return nil, err
		}
		v, err := m.view(&campaigns[i], machines)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}

	return views, nil
}

// Containers reports the live runtime state of a campaign's containers,
// keyed back to their machines through the machine label.
func (m *Manager) Containers(ctx context.Context, campaignID, userID string) ([]ContainerView, error) {
	if _, err := m.Get(campaignID, userID); err != nil {
		return nil, err
	}

	containers, err := m.runtime.List(ctx, []string{docker.LabelCampaign + "=" + campaignID})
	if err != nil {
		return nil, err
	}

	views := make([]ContainerView, 0, len(containers))
	for _, c := range containers {
		views = append(views, ContainerView{
			MachineID: c.MachineID(),
			ID:        c.ID,
			Name:      c.Name,
			State:     c.State,
			Status:    c.Status,
			Image:     c.Image,
			Ports:     c.Ports,
		})
	}
	return views, nil
}

// Delete tears down a campaign: every bound container is stopped and
// force-removed, then the record is deleted and ports are released. An
// already-removed container counts as success. If any container cannot be
// removed the record is kept in deleting state and a DeleteError lists the
// survivors so the operation can be retried.
func (m *Manager) Delete(ctx context.Context, campaignID string) error {
	c, err := m.store.GetCampaign(campaignID)
	if err != nil {
		return err
	}

	machines, err := m.store.CampaignMachines(campaignID)
	if err != nil {
		return err
	}

	if err := m.store.SetCampaignStatus(campaignID, store.StatusDeleting); err != nil {
		return err
	}
	log.Info("Deleting campaign %s (%d machines)", campaignID, len(machines))

	var failed []string
	for _, mc := range machines {
		if mc.ContainerID == "" {
			continue
		}

		err := m.runtime.Remove(ctx, mc.ContainerID, true)
		if err != nil && !hferrors.Is(err, hferrors.ErrContainerNotFound) {
			log.ErrorH2("Failed to remove container %s: %v", mc.ContainerID, err)
			failed = append(failed, mc.ContainerID)
			continue
		}

		// Clearing the binding makes a retry skip this container
		if err := m.store.SetMachineContainer(mc.ID, ""); err != nil {
			log.ErrorH2("Failed to clear container binding for machine %s: %v", mc.ID, err)
		}
	}

	if len(failed) > 0 {
		return &DeleteError{CampaignID: campaignID, Failed: failed}
	}

	if err := m.store.DeleteCampaign(campaignID); err != nil {
		return err
	}
	for _, mc := range machines {
		m.allocator.Release(mc.Port)
	}

	log.Info("Deleted campaign %s (user %s)", campaignID, c.UserID)
	return nil
}
