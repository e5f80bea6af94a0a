// Package transaction implements Transaction: an ordered, mutable-in-place
// sequence of steps derived from a State snapshot, applied against a
// private working pool and eventually committed for the runtime to offer
// to the plugin scheduler.
package transaction

import (
	"fmt"

	"github.com/google/uuid"

	"moduforge.dev/moduforge/internal/model"
	"moduforge.dev/moduforge/internal/pool"
	"moduforge.dev/moduforge/internal/step"
)

// ID is a time-ordered transaction identifier. Using uuid v7 gives
// ULID-like monotonic ordering without a separate dependency.
type ID uuid.UUID

func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the runtime's random source is broken;
		// falling back to v4 still yields a unique, if unordered, id.
		return ID(uuid.New())
	}
	return ID(id)
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// Error enumerates the ways a transaction operation can fail.
type Error struct {
	Kind ErrorKind
	Err  error
}

type ErrorKind int

const (
	StepFailed ErrorKind = iota
	MergeFailed
	NotCommitted
)

func (k ErrorKind) String() string {
	switch k {
	case StepFailed:
		return "StepFailed"
	case MergeFailed:
		return "MergeFailed"
	case NotCommitted:
		return "NotCommitted"
	default:
		return "Unknown"
	}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transaction: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("transaction: %s", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transaction is constructed from a State snapshot (via State.Tr in the
// state package) and mutates its own working pool in place as steps are
// added; it never mutates the State it was derived from. Transactions are
// single-producer: one logical author, not safe for concurrent step
// addition.
type Transaction struct {
	id                     ID
	derivedFromStateVersion uint64
	schema                 *model.Schema
	steps                  []step.Step
	patches                []step.Patch
	meta                   map[string]interface{}
	working                *pool.NodePool
	committed              bool
}

// New constructs a transaction derived from a state snapshot at version
// stateVersion, with doc as the starting working pool (a cheap, shared
// clone of State.doc — NodePool is itself structurally shared, so no deep
// copy happens here).
func New(stateVersion uint64, doc *pool.NodePool, schema *model.Schema) *Transaction {
	return &Transaction{
		id:                      NewID(),
		derivedFromStateVersion: stateVersion,
		schema:                  schema,
		meta:                    map[string]interface{}{},
		working:                 doc,
	}
}

func (t *Transaction) ID() ID                         { return t.id }
func (t *Transaction) DerivedFromStateVersion() uint64 { return t.derivedFromStateVersion }
func (t *Transaction) Steps() []step.Step              { return append([]step.Step(nil), t.steps...) }
func (t *Transaction) Patches() []step.Patch           { return append([]step.Patch(nil), t.patches...) }
func (t *Transaction) Working() *pool.NodePool         { return t.working }
func (t *Transaction) Committed() bool                 { return t.committed }

// AddStep applies s against the working pool. On success the step and its
// patch are recorded and the working pool advances; on failure nothing is
// recorded and the working pool is left exactly as it was.
func (t *Transaction) AddStep(s step.Step) error {
	if t.committed {
		return &Error{Kind: NotCommitted, Err: fmt.Errorf("cannot add steps to a committed transaction")}
	}
	next, patch, err := s.Apply(t.working, t.schema)
	if err != nil {
		return &Error{Kind: StepFailed, Err: step.WrapAt(len(t.steps), err)}
	}
	t.working = next

	// Adjacent step merge: only the immediately preceding step is ever a
	// merge candidate, never an earlier one, so compaction cannot reorder
	// steps around an unrelated edit in between.
	if n := len(t.steps); n > 0 {
		if merged, ok := t.steps[n-1].Merge(s); ok {
			t.steps[n-1] = merged
			t.patches[n-1] = t.patches[n-1].Concat(patch)
			return nil
		}
	}

	t.steps = append(t.steps, s)
	t.patches = append(t.patches, patch)
	return nil
}

// SetMeta attaches an arbitrary JSON-compatible value to the transaction
// under key. Meta travels with the transaction through the plugin
// pipeline but is never itself validated against the schema.
func (t *Transaction) SetMeta(key string, value interface{}) {
	t.meta[key] = value
}

// GetMeta retrieves a previously set meta value.
func (t *Transaction) GetMeta(key string) (interface{}, bool) {
	v, ok := t.meta[key]
	return v, ok
}

// Meta returns a copy of the full meta map.
func (t *Transaction) Meta() map[string]interface{} {
	out := make(map[string]interface{}, len(t.meta))
	for k, v := range t.meta {
		out[k] = v
	}
	return out
}

// Commit finalizes the transaction: no further steps may be added. State
// pipelines produced by append_transaction-style plugin chaining must
// commit each appended transaction before offering it to the scheduler.
func (t *Transaction) Commit() {
	t.committed = true
}

// Merge takes other's steps and meta and applies them against t's current
// working pool. On any step failure, t's working pool, steps and meta are
// restored to exactly their pre-merge state (atomic all-or-nothing). On
// success other's first step may be folded into t's last step by the
// adjacent-step merge in AddStep.
func (t *Transaction) Merge(other *Transaction) error {
	if t.committed {
		return &Error{Kind: NotCommitted, Err: fmt.Errorf("cannot merge into a committed transaction")}
	}
	savedWorking := t.working
	savedSteps := append([]step.Step(nil), t.steps...)
	savedPatches := append([]step.Patch(nil), t.patches...)
	savedMeta := t.Meta()

	for _, s := range other.steps {
		if err := t.AddStep(s); err != nil {
			t.working = savedWorking
			t.steps = savedSteps
			t.patches = savedPatches
			t.meta = savedMeta
			return &Error{Kind: MergeFailed, Err: err}
		}
	}
	for k, v := range other.meta {
		t.meta[k] = v
	}
	return nil
}
