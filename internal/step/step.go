package step

import (
	"moduforge.dev/moduforge/internal/model"
	"moduforge.dev/moduforge/internal/pool"
)

// Step is one invertible, potentially mergeable edit against a NodePool.
// Apply validates the edit against both pool structure and schema and
// never leaves a partially-applied pool behind: on error the returned
// pool is the receiver's input, untouched.
type Step interface {
	Apply(p *pool.NodePool, schema *model.Schema) (*pool.NodePool, Patch, error)
	// Invert returns the step that undoes this step's effect, given the
	// pool as it was immediately before this step was originally applied.
	Invert(poolBefore *pool.NodePool) Step
	// Merge attempts to fold next into this step, returning the combined
	// step and true if they collapse into one edit (e.g. two SetAttr on
	// the same node/key), or false if they don't merge.
	Merge(next Step) (Step, bool)
}

// replayer is implemented by every step variant so BatchStep.Invert can
// recompute the intermediate pool states between its sub-steps without
// re-running schema validation (the sub-steps are already known-valid,
// since the batch succeeded when it was first applied).
type replayer interface {
	replay(p *pool.NodePool) *pool.NodePool
}
