package crud

import "sync"

// HistoryNavigator is an in-memory Navigator that keeps every visited path.
// Hosts without a real router (CLI, terminal UI, tests) use it as their
// location.
type HistoryNavigator struct {
	mu      sync.Mutex
	history []string
}

// NewHistoryNavigator starts at path.
func NewHistoryNavigator(path string) *HistoryNavigator {
	return &HistoryNavigator{history: []string{path}}
}

func (n *HistoryNavigator) Path() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.history[len(n.history)-1]
}

func (n *HistoryNavigator) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.history = append(n.history, path)
}

// Back returns to the previous path. It reports false at the start of history.
func (n *HistoryNavigator) Back() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.history) < 2 {
		return false
	}
	n.history = n.history[:len(n.history)-1]
	return true
}

// History returns every path visited, oldest first.
func (n *HistoryNavigator) History() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.history...)
}
