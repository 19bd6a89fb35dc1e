package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/imroc/req/v3"

	"github.com/dimasma0305/hackforge/internal/hackforge/store"
	"github.com/dimasma0305/hackforge/internal/log"
)

const (
	healthCheckInterval = 30 * time.Second
	healthProbeTimeout  = 3 * time.Second
)

// HealthMonitor periodically probes the HTTP entry point of every machine
// with a bound container and logs the ones that stop answering. It never
// mutates state; operators act on the reports.
type HealthMonitor struct {
	store    *store.Store
	client   *req.Client
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu        sync.RWMutex
	unhealthy map[string]bool
}

// NewHealthMonitor creates a health monitor
func NewHealthMonitor(st *store.Store) *HealthMonitor {
	return &HealthMonitor{
		store:     st,
		client:    req.C().SetTimeout(healthProbeTimeout),
		stopChan:  make(chan struct{}),
		unhealthy: make(map[string]bool),
	}
}

// Start starts the health monitoring loop
func (hm *HealthMonitor) Start() {
	hm.wg.Add(1)
	go hm.monitorLoop()
	log.Info("Health monitor started")
}

// Stop stops the health monitoring loop
func (hm *HealthMonitor) Stop() {
	close(hm.stopChan)
	hm.wg.Wait()
	log.Info("Health monitor stopped")
}

// UnhealthyCount reports how many machines failed their last probe
func (hm *HealthMonitor) UnhealthyCount() int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return len(hm.unhealthy)
}

func (hm *HealthMonitor) monitorLoop() {
	defer hm.wg.Done()

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hm.stopChan:
			return
		case <-ticker.C:
			hm.performHealthChecks()
		}
	}
}

func (hm *HealthMonitor) performHealthChecks() {
	machines, err := hm.store.ListMachines()
	if err != nil {
		log.Error("Health check: failed to list machines: %v", err)
		return
	}

	for _, m := range machines {
		// Only probe machines that should be serving
		if m.ContainerID == "" {
			continue
		}

		healthy := hm.probe(m.Port)

		hm.mu.Lock()
		was := hm.unhealthy[m.ID]
		if healthy {
			delete(hm.unhealthy, m.ID)
		} else {
			hm.unhealthy[m.ID] = true
		}
		hm.mu.Unlock()

		if !healthy && !was {
			log.Error("Machine %s is unhealthy (port %d not answering)", m.ID, m.Port)
		}
		if healthy && was {
			log.InfoH2("Machine %s recovered", m.ID)
		}
	}
}

// probe reports whether anything answers HTTP on the machine's port. Any
// status code counts; challenge apps routinely 401 or 403 their index.
func (hm *HealthMonitor) probe(port int) bool {
	resp, err := hm.client.R().Get(fmt.Sprintf("http://localhost:%d/", port))
	return err == nil && resp.Response != nil
}
