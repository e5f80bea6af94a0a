// Package state implements the immutable State snapshot and the plugin
// scheduler that applies transactions: pre-filter, primary apply,
// state-field update, and the append loop.
package state

import (
	"context"
	"fmt"

	"moduforge.dev/moduforge/internal/transaction"
)

// PluginKey identifies one plugin version. Keys must be unique within a
// Configuration.
type PluginKey struct {
	Name    string
	Version string
}

func (k PluginKey) String() string {
	return k.Name + "@" + k.Version
}

// Metadata carries the relationship declarations the manager validates at
// registration time.
type Metadata struct {
	// Dependencies lists plugin names (not versions) that must be enabled
	// and ordered before this plugin.
	Dependencies []string
	// Conflicts lists plugin names this plugin cannot be enabled alongside.
	Conflicts []string
	Tags      []string
}

// PluginConfig carries per-installation plugin settings.
type PluginConfig struct {
	Enabled  bool
	Settings map[string]interface{}
}

// Behavior is the transaction-observing side of a plugin. Both methods must
// be deterministic functions of their inputs; non-determinism is a plugin
// bug and breaks replay.
type Behavior interface {
	// FilterTransaction reports whether tr may be applied against s. It is
	// called possibly several times per dispatch (pre-filter, re-filter of
	// follow-ons) and must be pure and side-effect-free. Filtering cannot
	// fail: a plugin that cannot evaluate a transaction returns false and
	// logs why.
	FilterTransaction(ctx context.Context, tr *transaction.Transaction, s *State) bool

	// AppendTransaction may synthesize one follow-on transaction after
	// inspecting the transactions committed so far in this dispatch.
	// oldState is the state at the start of the last completed round;
	// newState is the current state. Returning nil, nil means no follow-on.
	// The returned transaction must already be committed.
	AppendTransaction(ctx context.Context, committed []*transaction.Transaction, oldState, newState *State) (*transaction.Transaction, error)
}

// StateField gives a plugin a typed slot inside every State. The value is
// opaque to the engine; the plugin that produced it reads it back via
// State.GetField and asserts its own concrete type.
type StateField interface {
	// Init produces the field's value for a freshly created State. The
	// passed state is a scaffold: fields of plugins earlier in the
	// execution order are already populated, later ones are not yet.
	Init(ctx context.Context, cfg *Configuration, s *State) (interface{}, error)

	// Apply produces the field's value for the state resulting from tr.
	// newState is the incrementally populated scaffold of the post-apply
	// state; values installed by earlier plugins are visible through it.
	Apply(ctx context.Context, tr *transaction.Transaction, value interface{}, oldState, newState *State) (interface{}, error)
}

// Plugin bundles a key, scheduling priority, optional state field, and
// behavior with its metadata and per-installation config.
type Plugin struct {
	Key      PluginKey
	Priority int
	Field    StateField
	Behavior Behavior
	Metadata Metadata
	Config   PluginConfig
}

func (p *Plugin) validate() error {
	if p.Key.Name == "" {
		return fmt.Errorf("plugin key name must not be empty")
	}
	if p.Key.Version == "" {
		return fmt.Errorf("plugin %s: key version must not be empty", p.Key.Name)
	}
	return nil
}
