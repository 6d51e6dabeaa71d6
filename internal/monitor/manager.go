package monitor

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
)

// ErrManagerClosed is returned by Open after Close.
var ErrManagerClosed = errors.New("monitor manager closed")

// Manager owns the monitors of every active chair.
type Manager struct {
	base   Config
	logger *slog.Logger

	mu       sync.Mutex
	monitors map[string]*Monitor
	closed   bool
}

// NewManager creates a manager. base is copied into every monitor with its ChairID replaced.
func NewManager(base Config) *Manager {
	logger := base.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		base:     base,
		logger:   logger,
		monitors: make(map[string]*Monitor),
	}
}

// Open returns the chair's monitor, starting it on first use.
func (m *Manager) Open(ctx context.Context, chairID string) (*Monitor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if mon, ok := m.monitors[chairID]; ok {
		return mon, nil
	}

	cfg := m.base
	cfg.ChairID = chairID
	mon, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m.monitors[chairID] = mon
	return mon, nil
}

// Get returns a running monitor.
func (m *Manager) Get(chairID string) (*Monitor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mon, ok := m.monitors[chairID]
	return mon, ok
}

// Chairs lists the chairs with a running monitor.
func (m *Manager) Chairs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.monitors))
	for id := range m.monitors {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// CloseChair stops the chair's monitor. It reports whether one was running.
func (m *Manager) CloseChair(chairID string) bool {
	m.mu.Lock()
	mon, ok := m.monitors[chairID]
	delete(m.monitors, chairID)
	m.mu.Unlock()

	if ok {
		mon.Close()
	}
	return ok
}

// OpenKnown starts a monitor for every chair in the repository.
func (m *Manager) OpenKnown(ctx context.Context) error {
	ids, err := m.base.Repo.ListChairs(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if _, err := m.Open(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if len(ids) > 0 {
		m.logger.Info("Opened known chairs", "count", len(ids), "failed", len(errs))
	}
	return errors.Join(errs...)
}

// Close stops every monitor. Later calls to Open fail.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	monitors := m.monitors
	m.monitors = make(map[string]*Monitor)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, mon := range monitors {
		wg.Add(1)
		go func(mon *Monitor) {
			defer wg.Done()
			mon.Close()
		}(mon)
	}
	wg.Wait()
	m.logger.Info("All chair monitors stopped", "count", len(monitors))
}
