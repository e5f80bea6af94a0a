// Package wordcount is a built-in plugin demonstrating both sides of the
// plugin SPI: a filter that vetoes transactions tagged forbidden, and a
// state field holding the document's current word count.
package wordcount

import (
	"context"
	"strings"

	"moduforge.dev/moduforge/internal/model"
	"moduforge.dev/moduforge/internal/pool"
	"moduforge.dev/moduforge/internal/state"
	"moduforge.dev/moduforge/internal/transaction"
)

// Key identifies this plugin's field in State.GetField.
var Key = state.PluginKey{Name: "wordcount", Version: "1.0.0"}

// MetaForbidden is the meta key whose presence vetoes a transaction.
const MetaForbidden = "forbidden"

// Count is the field's value type.
type Count struct {
	Words int
}

type behavior struct{}

func (behavior) FilterTransaction(_ context.Context, tr *transaction.Transaction, _ *state.State) bool {
	_, forbidden := tr.GetMeta(MetaForbidden)
	return !forbidden
}

func (behavior) AppendTransaction(context.Context, []*transaction.Transaction, *state.State, *state.State) (*transaction.Transaction, error) {
	return nil, nil
}

type field struct{}

func (field) Init(_ context.Context, _ *state.Configuration, s *state.State) (interface{}, error) {
	return Count{Words: countWords(s.Doc())}, nil
}

func (field) Apply(_ context.Context, _ *transaction.Transaction, _ interface{}, _, newState *state.State) (interface{}, error) {
	// Recount from the new document rather than diffing patches; documents
	// are small enough that correctness beats cleverness here.
	return Count{Words: countWords(newState.Doc())}, nil
}

func countWords(doc *pool.NodePool) int {
	total := 0
	var walk func(id model.NodeID)
	walk = func(id model.NodeID) {
		n, ok := doc.Get(id)
		if !ok {
			return
		}
		if n.Text != "" {
			total += len(strings.Fields(n.Text))
		}
		if v, ok := n.Attrs["value"]; ok {
			if s, ok := v.(string); ok {
				total += len(strings.Fields(s))
			}
		}
		for _, c := range n.Content {
			walk(c)
		}
	}
	walk(doc.Root())
	return total
}

// Plugin constructs a fresh registration.
func Plugin() *state.Plugin {
	return &state.Plugin{
		Key:      Key,
		Priority: 50,
		Field:    field{},
		Behavior: behavior{},
		Metadata: state.Metadata{Tags: []string{"builtin", "content"}},
		Config:   state.PluginConfig{Enabled: true},
	}
}

// CountOf reads the plugin's field out of a state.
func CountOf(s *state.State) (Count, bool) {
	v, ok := s.GetField(Key.String())
	if !ok {
		return Count{}, false
	}
	c, ok := v.(Count)
	return c, ok
}
