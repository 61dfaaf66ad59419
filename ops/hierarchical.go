package ops

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"

	"github.com/carina28/horovod/comm"
	"github.com/carina28/horovod/core"
	"github.com/carina28/horovod/device"
	"github.com/carina28/horovod/fusion"
)

// HierarchicalAllreduce splits the fused batch between a device-local
// collective and a host-based cross-node exchange. Local peers reduce-scatter
// the device-divisible segment so each of them carries one shard through the
// cross-node allreduce in parallel; the remainder is reduced onto a single
// root, exchanged once, and broadcast back. The communicator spans only this
// node's devices.
type HierarchicalAllreduce struct {
	core allreduceCore
}

// NewHierarchicalAllreduce wires the two-level allreduce strategy.
func NewHierarchicalAllreduce(cfg Config) *HierarchicalAllreduce {
	return &HierarchicalAllreduce{core: allreduceCore{cfg: cfg}}
}

func (h *HierarchicalAllreduce) Name() string {
	return "hierarchical_allreduce"
}

// Enabled applies to device-resident batches when the parameter store
// selects hierarchical mode.
func (h *HierarchicalAllreduce) Enabled(entries []core.TensorEntry, response core.ReductionResponse) bool {
	if !entries[0].OnDevice() {
		return false
	}
	return h.core.cfg.State.Params.HierarchicalAllreduce()
}

func (h *HierarchicalAllreduce) Execute(entries []core.TensorEntry, response core.ReductionResponse) core.Status {
	return h.core.execute(h, entries, response)
}

// commDevices maps the local peers' global ranks to their devices in the
// response's rank-ordered device list.
func (h *HierarchicalAllreduce) commDevices(response core.ReductionResponse) []int {
	st := h.core.cfg.State
	all := response.Devices()
	devs := make([]int, 0, len(st.LocalCommRanks))
	for _, rank := range st.LocalCommRanks {
		devs = append(devs, all[rank])
	}
	return devs
}

func (h *HierarchicalAllreduce) commStrategy() comm.Strategy {
	st := h.core.cfg.State
	return comm.Strategy{Rank: st.LocalRank, Size: st.LocalSize, Scope: core.ScopeLocal}
}

func (h *HierarchicalAllreduce) reduce(rc *round) {
	cfg := h.core.cfg
	st := cfg.State
	tl := st.Timeline
	elem := rc.dtype.Size()

	// A fused batch on a homogeneous topology is padded up to a multiple of
	// local_size x atomic_unit so every peer gets an equal shard. The
	// padding only ever touches fusion-buffer slack.
	if st.IsHomogeneous && len(rc.entries) > 1 {
		rc.numElements = padElements(rc.numElements, st.LocalSize)
		rc.bufferLen = rc.numElements * elem
		if rc.bufferLen > len(rc.buffer) {
			exceptions.Panicf("padded fused batch (%s) exceeds fusion buffer capacity (%s)",
				humanize.IBytes(uint64(rc.bufferLen)), humanize.IBytes(uint64(len(rc.buffer))))
		}
	}

	sp := splitElements(rc.numElements, st.LocalSize, st.IsHomogeneous)
	perRank, remainder, rootRank := sp.perRank, sp.remainder, sp.rootRank
	perRankBytes := perRank * elem
	remainderBytes := remainder * elem
	remainderOffset := perRankBytes * st.LocalSize
	rankOffset := perRankBytes * st.LocalRank
	isRoot := st.LocalRank == rootRank

	// The root is the last local rank precisely so its per-rank shard and
	// the remainder form one contiguous region for host staging.
	totalElements := perRank
	if isRoot {
		totalElements += remainder
	}
	totalBytes := totalElements * elem

	if perRank > 0 {
		device.ErrorCheck("ReduceScatter",
			cfg.Collective.ReduceScatter(
				rc.input[:remainderOffset],
				rc.output[rankOffset:rankOffset+perRankBytes],
				perRank, rc.dtype, rc.comm, rc.stream))
		h.core.recordEventEnd(rc, ActivityReduceScatter)
	}

	if remainder > 0 {
		device.ErrorCheck("Reduce",
			cfg.Collective.Reduce(
				rc.input[remainderOffset:remainderOffset+remainderBytes],
				rc.output[remainderOffset:remainderOffset+remainderBytes],
				remainder, rc.dtype, rootRank, rc.comm, rc.stream))
		h.core.recordEventEnd(rc, ActivityReduce)
	}

	if st.IsHomogeneous || isRoot {
		// Host buffers can be arbitrarily large, so the staging area is
		// allocated per round rather than pooled.
		rc.hostBuffer = make([]byte, totalBytes)

		// The cross-node exchange is the round's single blocking point. All
		// queued device events must fire first so the partial reduction is
		// visible before host memory is touched.
		cfg.Devices.WaitForEvents(&rc.events, rc.deviceID, rc.entries, tl)

		shard := rc.output[rankOffset : rankOffset+totalBytes]

		core.ActivityStartAll(tl, rc.entries, ActivityMemcpyInHost)
		device.ErrorCheck("MemcpyAsync",
			cfg.Devices.Runtime().MemcpyAsync(rc.hostBuffer, shard, device.CopyDeviceToHost, rc.stream))
		core.ActivityEndAll(tl, rc.entries)

		core.ActivityStartAll(tl, rc.entries, ActivityCrossAllreduce)
		device.ErrorCheck("CrossAllreduce",
			cfg.Channel.Allreduce(rc.hostBuffer, totalElements, rc.dtype, core.ScopeCross))
		core.ActivityEndAll(tl, rc.entries)

		core.ActivityStartAll(tl, rc.entries, ActivityMemcpyOutHost)
		device.ErrorCheck("MemcpyAsync",
			cfg.Devices.Runtime().MemcpyAsync(shard, rc.hostBuffer, device.CopyHostToDevice, rc.stream))
		core.ActivityEndAll(tl, rc.entries)
	}

	if perRank > 0 {
		device.ErrorCheck("AllGather",
			cfg.Collective.AllGather(
				rc.output[rankOffset:rankOffset+perRankBytes],
				rc.output[:remainderOffset],
				perRank, rc.dtype, rc.comm, rc.stream))
		h.core.recordEventEnd(rc, ActivityAllgather)
	}

	if remainder > 0 {
		device.ErrorCheck("Broadcast",
			cfg.Collective.Broadcast(
				rc.output[remainderOffset:remainderOffset+remainderBytes],
				remainder, rc.dtype, rootRank, rc.comm, rc.stream))
		h.core.recordEventEnd(rc, ActivityBroadcast)
	}
}

// padElements rounds an element count up to a multiple of
// local_size x atomic_unit.
func padElements(numElements, localSize int) int {
	div := localSize * fusion.AtomicUnit
	return (numElements + div - 1) / div * div
}

// split describes how a round's elements divide across local peers.
type split struct {
	// perRank is the shard each local peer carries through the cross-node
	// exchange; zero on non-homogeneous topologies.
	perRank int
	// remainder is what is left after the even split and goes through the
	// root alone.
	remainder int
	// rootRank is the local rank owning the remainder. The last local rank
	// on homogeneous topologies, so its shard and the remainder form one
	// contiguous region for host staging; rank 0 otherwise.
	rootRank int
}

func splitElements(numElements, localSize int, homogeneous bool) split {
	if !homogeneous {
		return split{remainder: numElements}
	}
	return split{
		perRank:   numElements / localSize,
		remainder: numElements % localSize,
		rootRank:  localSize - 1,
	}
}
