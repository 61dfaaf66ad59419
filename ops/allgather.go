package ops

import (
	"github.com/carina28/horovod/core"
	"github.com/carina28/horovod/device"
)

// Allgather concatenates every rank's contribution for each entry into
// every rank's output, over the host channel. Ranks may contribute
// different first-dimension sizes; the response carries the per-rank
// element counts.
type Allgather struct {
	cfg Config
}

// NewAllgather wires the host-channel allgather strategy.
func NewAllgather(cfg Config) *Allgather {
	return &Allgather{cfg: cfg}
}

func (a *Allgather) Name() string {
	return "allgather"
}

// Enabled applies to host-resident entries.
func (a *Allgather) Enabled(entries []core.TensorEntry, response core.ReductionResponse) bool {
	return !entries[0].OnDevice()
}

func (a *Allgather) Execute(entries []core.TensorEntry, response core.ReductionResponse) core.Status {
	st := a.cfg.State

	core.ActivityStartAll(st.Timeline, entries, ActivityHostAllgather)
	defer core.ActivityEndAll(st.Timeline, entries)

	for i := range entries {
		e := &entries[i]
		counts := response.EntrySizes(i)
		if len(counts) != st.Size {
			return core.PreconditionError("gather sizes do not cover every rank")
		}

		displs := make([]int, len(counts))
		total := 0
		for r, n := range counts {
			displs[r] = total
			total += n
		}
		elem := e.Tensor.DType().Size()
		if e.Output.Size() < total*elem {
			return core.PreconditionError("gather output smaller than the gathered total")
		}
		if e.Tensor.NumElements() != counts[st.Rank] {
			return core.PreconditionError("gather contribution disagrees with negotiated size")
		}

		device.ErrorCheck("Allgatherv",
			a.cfg.Channel.Allgatherv(e.Tensor.Data(), e.Tensor.NumElements(),
				e.Output.Data(), counts, displs, e.Tensor.DType(), core.ScopeGlobal))
	}
	return core.OK()
}
