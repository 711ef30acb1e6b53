package apiclient

import "sync"

// Navigator moves the application to another entry point. The client uses it
// to send the user to the login entry point after the backend rejects the
// session.
type Navigator interface {
	Location() string
	Navigate(path string)
}

var (
	_ Navigator = NopNavigator{}
	_ Navigator = (*MemoryNavigator)(nil)
)

// NopNavigator never moves anywhere.
type NopNavigator struct{}

func (NopNavigator) Location() string { return "" }
func (NopNavigator) Navigate(string)  {}

// MemoryNavigator tracks the current location in process and calls onNavigate
// on every move.
type MemoryNavigator struct {
	mu         sync.RWMutex
	location   string
	onNavigate func(path string)
}

func NewMemoryNavigator(location string, onNavigate func(path string)) *MemoryNavigator {
	return &MemoryNavigator{
		location:   location,
		onNavigate: onNavigate,
	}
}

func (n *MemoryNavigator) Location() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.location
}

func (n *MemoryNavigator) Navigate(path string) {
	n.mu.Lock()
	n.location = path
	n.mu.Unlock()

	if n.onNavigate != nil {
		n.onNavigate(path)
	}
}
