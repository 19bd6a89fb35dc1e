// Package orchestrator coordinates bulk container operations across every
// machine the platform manages. Bulk actions run on a bounded worker pool,
// tolerate per-container failures, and report per-item results; actions on
// the same container are serialized through keyed locks.
package orchestrator

import (
	"context"
	"sync"

	"github.com/dimasma0305/hackforge/internal/hackforge/docker"
	hferrors "github.com/dimasma0305/hackforge/internal/hackforge/errors"
	"github.com/dimasma0305/hackforge/internal/hackforge/machine"
	"github.com/dimasma0305/hackforge/internal/hackforge/store"
	"github.com/dimasma0305/hackforge/internal/log"
)

// ActionResult is the outcome of one container action inside a bulk
// operation. A bulk call succeeds at the HTTP level even when individual
// items fail; callers inspect OK per item.
type ActionResult struct {
	ContainerID string `json:"container_id"`
	Action      string `json:"action"`
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
}

// ContainerStatus is one reconciled container in a status report
type ContainerStatus struct {
	ContainerID string `json:"container_id"`
	Name        string `json:"name"`
	State       string `json:"state"`
	Status      string `json:"status"`
	Image       string `json:"image"`
	Ports       string `json:"ports"`
	MachineID   string `json:"machine_id,omitempty"`
	CampaignID  string `json:"campaign_id,omitempty"`
	Port        int    `json:"port,omitempty"`
}

// StatusReport reconciles runtime containers against machine records.
// Orphans carry the machine label but match no stored machine.
type StatusReport struct {
	Containers []ContainerStatus `json:"containers"`
	Orphans    []ContainerStatus `json:"orphans"`
	Total      int               `json:"total"`
	Running    int               `json:"running"`
}

// Coordinator drives bulk and per-container operations
type Coordinator struct {
	runtime docker.Runtime
	store   *store.Store
	pool    *WorkerPool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a coordinator backed by the given runtime and store
func New(runtime docker.Runtime, st *store.Store, pool *WorkerPool) *Coordinator {
	return &Coordinator{
		runtime: runtime,
		store:   st,
		pool:    pool,
		locks:   make(map[string]*sync.Mutex),
	}
}

// containerLock returns the mutex serializing actions on one container
func (c *Coordinator) containerLock(containerID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[containerID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[containerID] = l
	}
	return l
}

// managed lists every container carrying the machine label
func (c *Coordinator) managed(ctx context.Context) ([]docker.Container, error) {
	return c.runtime.List(ctx, []string{docker.LabelMachine})
}

// Status reports every managed container reconciled against machine records
func (c *Coordinator) Status(ctx context.Context) (*StatusReport, error) {
	containers, err := c.managed(ctx)
	if err != nil {
		return nil, err
	}

	machines, err := c.store.ListMachines()
	if err != nil {
		return nil, err
	}
	byID := make(map[string]machine.Machine, len(machines))
	for _, m := range machines {
		byID[m.ID] = m
	}

	report := &StatusReport{
		Containers: []ContainerStatus{},
		Orphans:    []ContainerStatus{},
	}
	for _, ct := range containers {
		cs := ContainerStatus{
			ContainerID: ct.ID,
			Name:        ct.Name,
			State:       ct.State,
			Status:      ct.Status,
			Image:       ct.Image,
			Ports:       ct.Ports,
			MachineID:   ct.MachineID(),
		}
		if ct.State == "running" {
			report.Running++
		}

		if m, ok := byID[cs.MachineID]; ok {
			cs.CampaignID = m.CampaignID
			cs.Port = m.Port
			report.Containers = append(report.Containers, cs)
		} else {
			log.DebugH2("Orphan container %s (machine label %q)", ct.Name, cs.MachineID)
			report.Orphans = append(report.Orphans, cs)
		}
	}
	report.Total = len(containers)

	return report, nil
}

// Container performs one action on a single container. Remove is idempotent:
// acting on an already-removed container succeeds.
func (c *Coordinator) Container(ctx context.Context, containerID, action string) ActionResult {
	lock := c.containerLock(containerID)
	lock.Lock()
	defer lock.Unlock()

	var err error
	switch action {
	case "start":
		err = c.runtime.Start(ctx, containerID)
	case "stop":
		err = c.runtime.Stop(ctx, containerID)
	case "restart":
		err = c.runtime.Restart(ctx, containerID)
	case "remove":
		err = c.runtime.Remove(ctx, containerID, true)
		if hferrors.Is(err, hferrors.ErrContainerNotFound) {
			err = nil
		}
	default:
		err = hferrors.Wrapf(hferrors.ErrInvalidInput, "unknown action %q", action)
	}

	result := ActionResult{ContainerID: containerID, Action: action, OK: err == nil}
	if err != nil {
		result.Error = err.Error()
		log.ErrorH2("Container %s %s failed: %v", shortID(containerID), action, err)
	}
	return result
}

// Logs fetches the last tail lines of a container's logs
func (c *Coordinator) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	return c.runtime.Logs(ctx, containerID, tail)
}

// StartAll starts every managed container
func (c *Coordinator) StartAll(ctx context.Context) ([]ActionResult, error) {
	return c.bulk(ctx, "start")
}

// StopAll stops every managed container
func (c *Coordinator) StopAll(ctx context.Context) ([]ActionResult, error) {
	return c.bulk(ctx, "stop")
}

// RestartAll restarts every managed container
func (c *Coordinator) RestartAll(ctx context.Context) ([]ActionResult, error) {
	return c.bulk(ctx, "restart")
}

// DestroyAll force-removes every managed container and clears the container
// binding on the corresponding machine records.
func (c *Coordinator) DestroyAll(ctx context.Context) ([]ActionResult, error) {
	results, err := c.bulk(ctx, "remove")
	if err != nil {
		return nil, err
	}

	machines, err := c.store.ListMachines()
	if err != nil {
		return results, err
	}
	removed := make(map[string]bool, len(results))
	for _, r := range results {
		if r.OK {
			removed[r.ContainerID] = true
		}
	}
	for _, m := range machines {
		if m.ContainerID != "" && removed[m.ContainerID] {
			if err := c.store.SetMachineContainer(m.ID, ""); err != nil {
				log.ErrorH2("Failed to clear container binding for machine %s: %v", m.ID, err)
			}
		}
	}

	return results, nil
}

// bulk runs one action over all managed containers on the worker pool.
// Listing failure aborts; per-container failures land in the results.
func (c *Coordinator) bulk(ctx context.Context, action string) ([]ActionResult, error) {
	containers, err := c.managed(ctx)
	if err != nil {
		return nil, err
	}

	log.Info("Bulk %s over %d containers", action, len(containers))

	results := make([]ActionResult, len(containers))
	var wg sync.WaitGroup
	for i, ct := range containers {
		wg.Add(1)
		i, id := i, ct.ID
		c.pool.Submit(func() {
			defer wg.Done()
			results[i] = c.Container(ctx, id, action)
		})
	}
	wg.Wait()

	return results, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
