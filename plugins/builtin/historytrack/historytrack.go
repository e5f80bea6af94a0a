// Package historytrack is a small built-in plugin demonstrating the
// StateField side of the plugin SPI: it keeps a running count of committed
// transactions and the id of the most recent one in its state field.
package historytrack

import (
	"context"

	"moduforge.dev/moduforge/internal/state"
	"moduforge.dev/moduforge/internal/transaction"
)

// Key identifies this plugin's field in State.GetField.
var Key = state.PluginKey{Name: "historytrack", Version: "1.0.0"}

// Stats is the field's value type.
type Stats struct {
	CommittedTransactions uint64
	LastTransactionID     transaction.ID
}

type field struct{}

func (field) Init(context.Context, *state.Configuration, *state.State) (interface{}, error) {
	return Stats{}, nil
}

func (field) Apply(_ context.Context, tr *transaction.Transaction, value interface{}, _, _ *state.State) (interface{}, error) {
	stats := value.(Stats)
	stats.CommittedTransactions++
	stats.LastTransactionID = tr.ID()
	return stats, nil
}

// Plugin constructs a fresh registration.
func Plugin() *state.Plugin {
	return &state.Plugin{
		Key:      Key,
		Priority: 100,
		Field:    field{},
		Metadata: state.Metadata{Tags: []string{"builtin", "observability"}},
		Config:   state.PluginConfig{Enabled: true},
	}
}

// StatsOf reads the plugin's field out of a state.
func StatsOf(s *state.State) (Stats, bool) {
	v, ok := s.GetField(Key.String())
	if !ok {
		return Stats{}, false
	}
	stats, ok := v.(Stats)
	return stats, ok
}
