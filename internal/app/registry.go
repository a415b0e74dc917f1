/**
 * @description
 * This file implements the watcher registry: a mutex-guarded map from
 * contribution id to the cancel handle of its reconciliation watcher. The
 * registry is an injected collaborator, constructed in main and passed to the
 * service, so tests can run isolated instances side by side.
 *
 * Invariants:
 * - At most one watcher per contribution: Register rejects duplicates.
 * - Cancel and Remove are safe no-ops for absent entries, so settlement paths
 *   never need to check membership first.
 */

package app

import (
	"sync"

	"github.com/google/uuid"
)

// WatcherRegistry tracks the cancel handles of running reconciliation watchers.
type WatcherRegistry struct {
	mu       sync.Mutex
	watchers map[uuid.UUID]func()
}

// NewWatcherRegistry creates an empty watcher registry.
func NewWatcherRegistry() *WatcherRegistry {
	return &WatcherRegistry{
		watchers: make(map[uuid.UUID]func()),
	}
}

// Register records the cancel handle for a contribution's watcher.
// Returns false when a watcher is already registered for the contribution.
func (r *WatcherRegistry) Register(contributionID uuid.UUID, cancel func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.watchers[contributionID]; exists {
		return false
	}
	r.watchers[contributionID] = cancel
	return true
}

// Cancel invokes and removes the cancel handle for a contribution, if present.
// Returns whether a watcher was found.
func (r *WatcherRegistry) Cancel(contributionID uuid.UUID) bool {
	r.mu.Lock()
	cancel, exists := r.watchers[contributionID]
	if exists {
		delete(r.watchers, contributionID)
	}
	r.mu.Unlock()

	if exists {
		cancel()
	}
	return exists
}

// Remove drops a contribution's entry without invoking its cancel handle.
// Watchers call this on exit; by then their context is already done or they
// are returning on their own.
func (r *WatcherRegistry) Remove(contributionID uuid.UUID) {
	r.mu.Lock()
	delete(r.watchers, contributionID)
	r.mu.Unlock()
}

// ActiveCount returns the number of registered watchers.
func (r *WatcherRegistry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}

// ActiveIDs returns the contribution ids with a registered watcher.
func (r *WatcherRegistry) ActiveIDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(r.watchers))
	for id := range r.watchers {
		ids = append(ids, id)
	}
	return ids
}

// CancelAll cancels every registered watcher. Used during shutdown.
func (r *WatcherRegistry) CancelAll() {
	r.mu.Lock()
	cancels := make([]func(), 0, len(r.watchers))
	for id, cancel := range r.watchers {
		cancels = append(cancels, cancel)
		delete(r.watchers, id)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
