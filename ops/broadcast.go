package ops

import (
	"github.com/carina28/horovod/core"
	"github.com/carina28/horovod/device"
)

// Broadcast distributes the root rank's tensor to every process over the
// host channel. Broadcast rounds arrive unfused: one entry per round.
type Broadcast struct {
	cfg Config
}

// NewBroadcast wires the host-channel broadcast strategy.
func NewBroadcast(cfg Config) *Broadcast {
	return &Broadcast{cfg: cfg}
}

func (b *Broadcast) Name() string {
	return "broadcast"
}

// Enabled applies to host-resident entries.
func (b *Broadcast) Enabled(entries []core.TensorEntry, response core.ReductionResponse) bool {
	return !entries[0].OnDevice()
}

func (b *Broadcast) Execute(entries []core.TensorEntry, response core.ReductionResponse) core.Status {
	if len(entries) != 1 {
		return core.PreconditionError("broadcast rounds carry exactly one entry")
	}
	e := &entries[0]
	st := b.cfg.State
	root := response.RootRank()

	// On the root the input tensor is the send buffer; everywhere else the
	// output tensor receives in place.
	data := e.Output.Data()
	if st.Rank == root {
		data = e.Tensor.Data()
	}

	core.ActivityStartAll(st.Timeline, entries, ActivityHostBroadcast)
	device.ErrorCheck("Broadcast",
		b.cfg.Channel.Broadcast(data, e.Tensor.DType(), root, core.ScopeGlobal))
	core.ActivityEndAll(st.Timeline, entries)

	if st.Rank == root {
		copy(e.Output.Data(), e.Tensor.Data())
	}
	return core.OK()
}
