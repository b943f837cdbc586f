package truststore

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reloader rebuilds the store from its sources, on demand or on a schedule.
type Reloader struct {
	loader *Loader
	store  *Store
	logger *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	running bool
	last    *LoadReport
}

// NewReloader creates a reloader publishing into store.
func NewReloader(loader *Loader, store *Store, logger *zap.Logger) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reloader{
		loader: loader,
		store:  store,
		logger: logger,
		cron:   cron.New(),
	}
}

// Reload loads every source and swaps the store content. On failure the
// store keeps its previous snapshot.
func (r *Reloader) Reload() (*LoadReport, error) {
	entries, report, err := r.loader.Load()
	if err != nil {
		r.logger.Error("Trust store reload failed", zap.Error(err))
		return report, err
	}
	r.store.Replace(entries)

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	r.logger.Info("Trust store reloaded",
		zap.Uint64("version", r.store.Snapshot().Version()),
		zap.Int("certificates", len(entries)))
	return report, nil
}

// LastReport returns the report of the last successful reload.
func (r *Reloader) LastReport() *LoadReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Start schedules reloads with a standard five-field cron expression.
func (r *Reloader) Start(schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("trust store reloader already running")
	}

	id, err := r.cron.AddFunc(schedule, func() {
		if _, err := r.Reload(); err != nil {
			r.logger.Warn("Scheduled trust store reload failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reload schedule %q: %w", schedule, err)
	}
	r.entryID = id
	r.running = true
	r.cron.Start()

	r.logger.Info("Trust store reload scheduled", zap.String("cron", schedule))
	return nil
}

// Stop cancels the schedule and waits for a running reload to finish.
func (r *Reloader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.cron.Remove(r.entryID)
	r.running = false
	r.mu.Unlock()

	ctx := r.cron.Stop()
	<-ctx.Done()
}
