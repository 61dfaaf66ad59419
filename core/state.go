package core

// ParameterStore exposes the externally owned tuning knobs the core reads
// once per round. The store may be mutated concurrently by an autotuner.
type ParameterStore interface {
	// HierarchicalAllreduce reports whether the two-level reduction strategy
	// should be preferred over the flat device collective.
	HierarchicalAllreduce() bool
}

// StaticParameters is a fixed ParameterStore for tests and simple deployments.
type StaticParameters struct {
	Hierarchical bool
}

func (p StaticParameters) HierarchicalAllreduce() bool { return p.Hierarchical }

// GlobalState bundles the per-process facts every operation needs: rank
// geometry, topology shape, the timeline sink, and the parameter store.
// It is created once at startup and read-shared afterward.
type GlobalState struct {
	Rank      int
	Size      int
	LocalRank int
	LocalSize int
	CrossRank int
	CrossSize int

	// IsHomogeneous is true when every node runs the same number of ranks.
	IsHomogeneous bool

	// LocalCommRanks holds the global ranks of this node's processes in
	// local-rank order.
	LocalCommRanks []int

	Timeline Timeline
	Params   ParameterStore
}
