package history

// CompressionPolicy decides which recorded entries keep their full state
// reference. Compression is an optimization only: the manager is correct
// with the no-op policy, since states share structure and cost O(diff)
// regardless.
type CompressionPolicy interface {
	// KeepFull reports whether the entry at the given distance from the
	// present should retain its full state.
	KeepFull(index int) bool
}

// NoCompression keeps every entry's full state.
type NoCompression struct{}

func (NoCompression) KeepFull(int) bool { return true }

// EveryK keeps a full state every K entries; intermediate entries would be
// reconstructed by replaying patches from the nearest kept state. The
// manager does not yet consume this policy beyond NoCompression; it is the
// extension point for hosts with very deep histories.
type EveryK struct {
	K int
}

func (p EveryK) KeepFull(index int) bool {
	if p.K <= 1 {
		return true
	}
	return index%p.K == 0
}
