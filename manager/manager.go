// Package manager keeps the registry of live CAs and their aliases and
// assembles them from configuration.
package manager

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jmcleod/ironca/ca"
)

// ErrNameTaken is returned when a CA name or alias is registered twice.
var ErrNameTaken = errors.New("CA name or alias already registered")

// Manager is a concurrency-safe CA registry implementing ca.Manager.
type Manager struct {
	mu      sync.RWMutex
	cas     map[string]ca.CA
	aliases map[string]string
}

var _ ca.Manager = (*Manager)(nil)

// New returns an empty Manager.
func New() *Manager {
	return &Manager{
		cas:     make(map[string]ca.CA),
		aliases: make(map[string]string),
	}
}

// Register adds c under its lower-cased name and the given aliases.
func (m *Manager) Register(c ca.CA, aliases ...string) error {
	name := strings.ToLower(c.Ident().Name)
	if name == "" {
		return errors.New("CA name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cas[name]; ok {
		return fmt.Errorf("%w: %s", ErrNameTaken, name)
	}
	if _, ok := m.aliases[name]; ok {
		return fmt.Errorf("%w: %s", ErrNameTaken, name)
	}
	for _, a := range aliases {
		a = strings.ToLower(a)
		if _, ok := m.aliases[a]; ok {
			return fmt.Errorf("%w: alias %s", ErrNameTaken, a)
		}
		if _, ok := m.cas[a]; ok {
			return fmt.Errorf("%w: alias %s", ErrNameTaken, a)
		}
	}
	m.cas[name] = c
	for _, a := range aliases {
		m.aliases[strings.ToLower(a)] = name
	}
	return nil
}

// CANameForAlias returns the CA name an alias maps to.
func (m *Manager) CANameForAlias(alias string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.aliases[strings.ToLower(alias)]
	return name, ok
}

// CAByName returns the CA registered under name.
func (m *Manager) CAByName(name string) (ca.CA, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cas[strings.ToLower(name)]
	return c, ok
}

// Names returns the registered CA names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.cas))
	for n := range m.cas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
