package outbound

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ClientSet holds one client per service so a process talking to several
// APIs can look them up by name and release their stores together.
type ClientSet struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewClientSet() *ClientSet {
	return &ClientSet{clients: map[string]*Client{}}
}

// Register adds client under its configured service name.
func (s *ClientSet) Register(client *Client) error {
	if s == nil {
		return fmt.Errorf("outbound: client set is nil")
	}
	if client == nil {
		return fmt.Errorf("outbound: client is required")
	}
	name := normalizeServiceName(client.Config().ServiceName)
	if name == "" {
		return fmt.Errorf("outbound: client service name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clients[name]; exists {
		return fmt.Errorf("outbound: client %q already registered", name)
	}
	s.clients[name] = client
	return nil
}

func (s *ClientSet) Get(name string) (*Client, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[normalizeServiceName(name)]
	return client, ok
}

func (s *ClientSet) Names() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.clients))
	for name := range s.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every client in name order and returns the first error.
// Later clients are still closed.
func (s *ClientSet) Close() error {
	if s == nil {
		return nil
	}
	var firstErr error
	for _, name := range s.Names() {
		client, _ := s.Get(name)
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("outbound: close %s: %w", name, err)
		}
	}
	return firstErr
}

func normalizeServiceName(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}
