package state

import (
	"fmt"
	"sort"
	"sync"
)

// PluginManager collects plugin registrations and, at Finalize, validates
// the dependency/conflict graph and computes the stable execution order the
// scheduler uses for every dispatch.
type PluginManager struct {
	mu        sync.Mutex
	plugins   []*Plugin
	byName    map[string]*Plugin
	finalized bool
	order     []*Plugin
}

// NewPluginManager constructs an empty manager.
func NewPluginManager() *PluginManager {
	return &PluginManager{byName: map[string]*Plugin{}}
}

// Register adds a plugin. Duplicate keys and registration after Finalize
// are rejected.
func (m *PluginManager) Register(p *Plugin) error {
	if err := p.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalized {
		return fmt.Errorf("plugin manager is finalized, cannot register %s", p.Key)
	}
	for _, existing := range m.plugins {
		if existing.Key == p.Key {
			return fmt.Errorf("plugin key already registered: %s", p.Key)
		}
	}
	if _, exists := m.byName[p.Key.Name]; exists {
		return fmt.Errorf("plugin name already registered: %s", p.Key.Name)
	}
	m.plugins = append(m.plugins, p)
	m.byName[p.Key.Name] = p
	return nil
}

// Finalize validates the enabled plugin graph (missing dependencies,
// conflicts, cycles) and caches the execution order: (priority ASC,
// registration order ASC) with a dependency-respecting topological
// tie-break. Finalize is idempotent.
func (m *PluginManager) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalized {
		return nil
	}

	enabled := make([]*Plugin, 0, len(m.plugins))
	enabledByName := map[string]*Plugin{}
	for _, p := range m.plugins {
		if !p.Config.Enabled {
			continue
		}
		enabled = append(enabled, p)
		enabledByName[p.Key.Name] = p
	}

	for _, p := range enabled {
		for _, dep := range p.Metadata.Dependencies {
			if _, ok := enabledByName[dep]; !ok {
				return &PluginError{Kind: MissingDependency, PluginKey: p.Key.String(), Dependency: dep}
			}
		}
		for _, other := range p.Metadata.Conflicts {
			if _, ok := enabledByName[other]; ok {
				return &PluginError{Kind: Conflict, PluginKey: p.Key.String(), Other: other}
			}
		}
	}

	order, err := m.topoOrder(enabled, enabledByName)
	if err != nil {
		return err
	}
	m.order = order
	m.finalized = true
	return nil
}

// topoOrder runs a deterministic Kahn's algorithm: at each step it picks,
// among plugins whose dependencies are all placed, the one earliest in
// (priority, registration order). If no candidate is ever available while
// plugins remain, the leftovers form at least one cycle.
func (m *PluginManager) topoOrder(enabled []*Plugin, byName map[string]*Plugin) ([]*Plugin, error) {
	regIndex := map[string]int{}
	for i, p := range m.plugins {
		regIndex[p.Key.Name] = i
	}

	// Base ranking before dependency constraints.
	ranked := append([]*Plugin(nil), enabled...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Priority != ranked[j].Priority {
			return ranked[i].Priority < ranked[j].Priority
		}
		return regIndex[ranked[i].Key.Name] < regIndex[ranked[j].Key.Name]
	})

	placed := map[string]bool{}
	var order []*Plugin
	for len(order) < len(ranked) {
		progressed := false
		for _, p := range ranked {
			if placed[p.Key.Name] {
				continue
			}
			ready := true
			for _, dep := range p.Metadata.Dependencies {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			order = append(order, p)
			placed[p.Key.Name] = true
			progressed = true
			break
		}
		if !progressed {
			return nil, &PluginError{Kind: CycleDetected, Path: cyclePath(ranked, placed, byName)}
		}
	}
	return order, nil
}

// cyclePath walks unplaced plugins' dependency edges until a name repeats,
// producing a concrete cycle for the error message.
func cyclePath(ranked []*Plugin, placed map[string]bool, byName map[string]*Plugin) []string {
	var start *Plugin
	for _, p := range ranked {
		if !placed[p.Key.Name] {
			start = p
			break
		}
	}
	if start == nil {
		return nil
	}
	seen := map[string]int{}
	var path []string
	cur := start
	for {
		if at, ok := seen[cur.Key.Name]; ok {
			return append(path[at:], cur.Key.Name)
		}
		seen[cur.Key.Name] = len(path)
		path = append(path, cur.Key.Name)
		next := ""
		for _, dep := range cur.Metadata.Dependencies {
			if !placed[dep] {
				next = dep
				break
			}
		}
		if next == "" {
			return path
		}
		cur = byName[next]
		if cur == nil {
			return path
		}
	}
}

// Order returns the cached execution order. Finalize must have succeeded.
func (m *PluginManager) Order() []*Plugin {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Plugin(nil), m.order...)
}

// Finalized reports whether Finalize has completed successfully.
func (m *PluginManager) Finalized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalized
}
