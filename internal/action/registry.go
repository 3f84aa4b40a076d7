package action

import (
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]*Action{}
)

// Register adds an action to the global registry. Actions register from
// package init; duplicate names panic at startup.
func Register(a *Action) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[a.Name]; ok {
		panic("action " + a.Name + " registered twice")
	}
	if a.Collection == "" {
		a.Collection = collectionOf(a.Name)
	}
	registry[a.Name] = a
}

// Lookup resolves a registered action by name.
func Lookup(name string) (*Action, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := registry[name]
	return a, ok
}

// Names lists every registered action, sorted. Used by tooling and tests.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
