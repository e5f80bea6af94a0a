package state

import (
	"context"
	"fmt"
	"time"

	"moduforge.dev/moduforge/internal/model"
	"moduforge.dev/moduforge/internal/pool"
	"moduforge.dev/moduforge/internal/resource"
	"moduforge.dev/moduforge/internal/transaction"
)

// Default scheduler tunables, overridable via Configuration.
const (
	DefaultMaxAppendsPerTransaction = 16
	DefaultApplyTimeout             = 5 * time.Second
)

// Configuration is the immutable bundle a State is created against: the
// compiled schema, the finalized plugin execution order, and the scheduler
// tunables. It is shared by every State descended from the same Create.
type Configuration struct {
	Schema                   *model.Schema
	MaxAppendsPerTransaction int
	ApplyTimeout             time.Duration

	plugins []*Plugin
}

// NewConfiguration finalizes mgr and captures its execution order. Zero
// tunables are replaced by the defaults.
func NewConfiguration(schema *model.Schema, mgr *PluginManager) (*Configuration, error) {
	if schema == nil {
		return nil, fmt.Errorf("configuration requires a compiled schema")
	}
	if mgr == nil {
		mgr = NewPluginManager()
	}
	if err := mgr.Finalize(); err != nil {
		return nil, err
	}
	return &Configuration{
		Schema:                   schema,
		MaxAppendsPerTransaction: DefaultMaxAppendsPerTransaction,
		ApplyTimeout:             DefaultApplyTimeout,
		plugins:                  mgr.Order(),
	}, nil
}

// Plugins returns the execution-ordered enabled plugins.
func (c *Configuration) Plugins() []*Plugin {
	return c.plugins
}

// PluginByKey looks a plugin up by its key string ("name@version").
func (c *Configuration) PluginByKey(key string) (*Plugin, bool) {
	for _, p := range c.plugins {
		if p.Key.String() == key {
			return p, true
		}
	}
	return nil, false
}

// State is an immutable snapshot of the document plus every plugin's state
// field value. States are cheap to hand around: the doc is structurally
// shared and the field map is copied only when a new State is built.
type State struct {
	version      uint64
	config       *Configuration
	doc          *pool.NodePool
	pluginFields map[string]interface{}
	resources    *resource.Table
}

func (s *State) Version() uint64            { return s.version }
func (s *State) Config() *Configuration     { return s.config }
func (s *State) Doc() *pool.NodePool        { return s.doc }
func (s *State) Resources() *resource.Table { return s.resources }

// GetField returns the state-field value installed by the plugin with the
// given key string ("name@version").
func (s *State) GetField(key string) (interface{}, bool) {
	v, ok := s.pluginFields[key]
	return v, ok
}

// FieldKeys returns the keys of every installed plugin field.
func (s *State) FieldKeys() []string {
	out := make([]string, 0, len(s.pluginFields))
	for k := range s.pluginFields {
		out = append(out, k)
	}
	return out
}

// Tr derives a new transaction from this snapshot. The transaction's
// working pool starts as a shared reference to s.doc; NodePool's structural
// sharing makes this free, and every step the transaction applies builds
// new trie paths without touching s.
func (s *State) Tr() *transaction.Transaction {
	return transaction.New(s.version, s.doc, s.config.Schema)
}

// Create builds the initial State for cfg: a document holding a single
// root node of the schema's top type, then each plugin's state field
// initialized in execution order. Fields of earlier plugins are visible to
// later ones through the scaffold state passed to Init.
func Create(ctx context.Context, cfg *Configuration, resources *resource.Table) (*State, error) {
	rootType := cfg.Schema.TopNode()
	root := model.NewNode(rootType, defaultAttrsFor(cfg.Schema, rootType), nil, nil)
	return CreateWithDoc(ctx, cfg, pool.NewNodePool(root), resources)
}

// CreateWithDoc is Create with an explicit starting document, used when a
// host restores a persisted snapshot instead of starting empty.
func CreateWithDoc(ctx context.Context, cfg *Configuration, doc *pool.NodePool, resources *resource.Table) (*State, error) {
	if resources == nil {
		resources = resource.NewTable()
	}
	s := &State{
		version:      0,
		config:       cfg,
		doc:          doc,
		pluginFields: map[string]interface{}{},
		resources:    resources,
	}
	for _, p := range cfg.plugins {
		if p.Field == nil {
			continue
		}
		value, err := p.Field.Init(ctx, cfg, s)
		if err != nil {
			return nil, &ApplyError{Kind: PluginFailed, PluginKey: p.Key.String(), Err: err}
		}
		s.pluginFields[p.Key.String()] = value
	}
	return s, nil
}

// defaultAttrsFor collects the declared attr defaults of nodeType.
func defaultAttrsFor(schema *model.Schema, nodeType string) model.Attrs {
	attrs := model.Attrs{}
	for _, name := range schema.AttrNames(nodeType) {
		if def, ok := schema.Defaults(nodeType, name); ok {
			attrs[name] = def
		}
	}
	return attrs
}

// cloneFields copies the plugin field map for the next State.
func (s *State) cloneFields() map[string]interface{} {
	out := make(map[string]interface{}, len(s.pluginFields))
	for k, v := range s.pluginFields {
		out[k] = v
	}
	return out
}
