package jobs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/iamkroot/ilc-scraper/internal/domain"
)

// ErrBatchAlreadyRunning is returned when starting a second active batch.
var ErrBatchAlreadyRunning = errors.New("batch already running")

// ErrNoActiveBatch is returned when cancel is requested for idle state.
var ErrNoActiveBatch = errors.New("no active batch")

// Manager tracks the single allowed active download batch and its transitions.
type Manager struct {
	mu      sync.RWMutex
	current domain.Batch
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.Batch{
			Status: domain.BatchStatusIdle,
		},
	}
}

// Start creates a new batch and moves it to fetching state.
func (m *Manager) Start(batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if isRunning(m.current.Status) {
		return ErrBatchAlreadyRunning
	}

	m.current = domain.Batch{
		ID:     batchID,
		Status: domain.BatchStatusFetching,
	}
	return nil
}

// Transition validates and applies state transitions for the current batch.
func (m *Manager) Transition(status domain.BatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" && status != domain.BatchStatusIdle {
		return fmt.Errorf("cannot transition without an active batch")
	}
	if status == m.current.Status {
		return nil
	}
	if !isValidTransition(m.current.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", m.current.Status, status)
	}

	m.current.Status = status
	return nil
}

// Current returns a snapshot of the current batch.
func (m *Manager) Current() domain.Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reset clears batch metadata and returns the manager to idle.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = domain.Batch{Status: domain.BatchStatusIdle}
}

// IsRunning reports whether the current state is an active stage.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return isRunning(m.current.Status)
}

// Cancel moves an active batch to cancelled state.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isRunning(m.current.Status) {
		return ErrNoActiveBatch
	}
	m.current.Status = domain.BatchStatusCancelled
	return nil
}

// isRunning checks if a status represents active batch execution.
func isRunning(status domain.BatchStatus) bool {
	switch status {
	case domain.BatchStatusFetching, domain.BatchStatusPlanning, domain.BatchStatusDownloading:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed batch state machine edges.
// Planning may go straight to done: a fully-downloaded course plans no jobs.
func isValidTransition(from, to domain.BatchStatus) bool {
	switch from {
	case domain.BatchStatusIdle:
		return to == domain.BatchStatusFetching
	case domain.BatchStatusFetching:
		return to == domain.BatchStatusPlanning || to == domain.BatchStatusFailed || to == domain.BatchStatusCancelled
	case domain.BatchStatusPlanning:
		return to == domain.BatchStatusDownloading || to == domain.BatchStatusDone ||
			to == domain.BatchStatusFailed || to == domain.BatchStatusCancelled
	case domain.BatchStatusDownloading:
		return to == domain.BatchStatusDone || to == domain.BatchStatusFailed || to == domain.BatchStatusCancelled
	case domain.BatchStatusDone, domain.BatchStatusFailed, domain.BatchStatusCancelled:
		return to == domain.BatchStatusFetching || to == domain.BatchStatusIdle
	default:
		return false
	}
}
