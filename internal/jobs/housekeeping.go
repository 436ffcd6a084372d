// Package jobs runs the periodic maintenance sweeps.
package jobs

import (
	"log"
	"sync"
	"time"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/correlation"
	"github.com/alerthub/alerthub/internal/database"
)

// Housekeeping expires timed-out alerts and lifts stale shelves and acks.
// Runs overlap-free: a tick fired while the previous run is still going is
// skipped.
type Housekeeping struct {
	store  *database.AlertStore
	engine *correlation.Engine

	// Alerts sitting in these statuses longer than the timeout are
	// returned to circulation.
	ShelveTimeout time.Duration
	AckTimeout    time.Duration

	mu sync.Mutex
}

// NewHousekeeping creates the maintenance job. Zero timeouts disable the
// corresponding sweep.
func NewHousekeeping(store *database.AlertStore, engine *correlation.Engine, shelveTimeout, ackTimeout time.Duration) *Housekeeping {
	return &Housekeeping{
		store:         store,
		engine:        engine,
		ShelveTimeout: shelveTimeout,
		AckTimeout:    ackTimeout,
	}
}

// Run performs one sweep and returns how many alerts it touched.
func (h *Housekeeping) Run() (int, error) {
	if !h.mu.TryLock() {
		log.Println("Housekeeping still running, skipping this tick")
		return 0, nil
	}
	defer h.mu.Unlock()

	now := time.Now()
	touched := 0

	expired, err := h.store.DueForExpiry(now)
	if err != nil {
		return touched, err
	}
	for i := range expired {
		if _, err := h.engine.Action(expired[i].ID, alarm.ActionExpired, "Timeout expired", ""); err != nil {
			log.Printf("Failed to expire alert %s: %v", expired[i].ID, err)
			continue
		}
		touched++
	}

	touched += h.sweepStatus(alarm.StatusShelved, alarm.ActionUnshelve, h.ShelveTimeout, "Shelve timeout", now)
	touched += h.sweepStatus(alarm.StatusAck, alarm.ActionUnack, h.AckTimeout, "Ack timeout", now)

	return touched, nil
}

func (h *Housekeeping) sweepStatus(status alarm.Status, action alarm.Action, timeout time.Duration, text string, now time.Time) int {
	if timeout <= 0 {
		return 0
	}
	alerts, err := h.store.DueForStatusTimeout(status, timeout, now)
	if err != nil {
		log.Printf("Housekeeping %s sweep failed: %v", status, err)
		return 0
	}
	touched := 0
	for i := range alerts {
		if _, err := h.engine.Action(alerts[i].ID, action, text, ""); err != nil {
			log.Printf("Failed to %s alert %s: %v", action, alerts[i].ID, err)
			continue
		}
		touched++
	}
	return touched
}

// Start begins the periodic sweeps.
func (h *Housekeeping) Start(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			touched, err := h.Run()
			if err != nil {
				log.Printf("Housekeeping error: %v", err)
			} else if touched > 0 {
				log.Printf("Housekeeping: processed %d alerts", touched)
			}
		case <-stop:
			log.Println("Housekeeping stopped")
			return
		}
	}
}
