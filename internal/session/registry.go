// ABOUTME: Session registry mapping each online user to their single live connection.
// ABOUTME: Source of truth for who is online; last connection for a user wins.

package session

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry tracks which connection currently represents each online user.
// A later Bind for the same user silently replaces the earlier connection.
// Registry never broadcasts; callers announce changes to the online set.
type Registry struct {
	bindings map[string]string // userID -> connectionID
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// NewRegistry creates an initialized Registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger.With("component", "session-registry")}
	r.Init()
	return r
}

// Init resets the registry to an empty, open state.
// Bindings are never persisted, so everyone is offline after Init.
func (r *Registry) Init() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = make(map[string]string)
	r.closed = false
}

// Bind records connectionID as the live connection for userID,
// replacing any previous binding.
func (r *Registry) Bind(userID, connectionID string) {
	if userID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	previous, replaced := r.bindings[userID]
	r.bindings[userID] = connectionID

	if replaced && previous != connectionID {
		r.logger.Debug("binding replaced",
			"user_id", userID,
			"previous_connection", previous,
			"connection_id", connectionID,
		)
	}
	r.logger.Info("user online",
		"user_id", userID,
		"connection_id", connectionID,
		"total_online", len(r.bindings),
	)
}

// Unbind removes the binding for userID. No-op if the user is not bound.
func (r *Registry) Unbind(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bindings[userID]; exists {
		delete(r.bindings, userID)
		r.logger.Info("user offline",
			"user_id", userID,
			"total_online", len(r.bindings),
		)
	}
}

// UnbindConnection removes the binding for userID only if it still points at
// connectionID. Returns true if a binding was removed. Used on disconnect so a
// stale connection closing does not take a newer one offline.
func (r *Registry) UnbindConnection(userID, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.bindings[userID]
	if !exists || current != connectionID {
		return false
	}
	delete(r.bindings, userID)
	r.logger.Info("user offline",
		"user_id", userID,
		"connection_id", connectionID,
		"total_online", len(r.bindings),
	)
	return true
}

// Lookup returns the connection bound to userID, if any.
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connectionID, ok := r.bindings[userID]
	return connectionID, ok
}

// ListOnline returns the IDs of every bound user, sorted.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.bindings))
	for userID := range r.bindings {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// Count returns the number of bound users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// Close unbinds every user. Bind is a no-op afterwards until Init is called again.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.bindings)
	r.bindings = make(map[string]string)
	r.closed = true
	r.logger.Debug("registry closed", "unbound", n)
}
