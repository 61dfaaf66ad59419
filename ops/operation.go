// Package ops implements the collective operation strategies: the flat
// device allreduce, the hierarchical two-level allreduce, host-channel
// broadcast and allgather, and the error round. Strategies share fusion
// packing and event bookkeeping through a common helper rather than a type
// hierarchy.
package ops

import (
	"github.com/rs/zerolog"

	"github.com/carina28/horovod/comm"
	"github.com/carina28/horovod/core"
	"github.com/carina28/horovod/device"
	"github.com/carina28/horovod/fusion"
)

// Operation is one collective strategy. Exactly one enabled operation is
// selected per round by the executor; selection predicates must be pure.
type Operation interface {
	Name() string
	// Enabled reports whether this strategy applies to the round.
	Enabled(entries []core.TensorEntry, response core.ReductionResponse) bool
	// Execute runs the round. A terminal status means the executor delivers
	// callbacks; InProgress means this operation owns them.
	Execute(entries []core.TensorEntry, response core.ReductionResponse) core.Status
}

// Timeline activity labels, keyed per (tensor, label) by the consumer.
const (
	ActivityInitComm        = "INIT_COMM"
	ActivityQueue           = "QUEUE"
	ActivityMemcpyInFusion  = "MEMCPY_IN_FUSION_BUFFER"
	ActivityMemcpyOutFusion = "MEMCPY_OUT_FUSION_BUFFER"
	ActivityMemcpyInHost    = "MEMCPY_IN_HOST_BUFFER"
	ActivityMemcpyOutHost   = "MEMCPY_OUT_HOST_BUFFER"
	ActivityCrossAllreduce  = "CROSS_ALLREDUCE"
	ActivityAllreduce       = "COLL_ALLREDUCE"
	ActivityReduceScatter   = "COLL_REDUCESCATTER"
	ActivityReduce          = "COLL_REDUCE"
	ActivityAllgather       = "COLL_ALLGATHER"
	ActivityBroadcast       = "COLL_BCAST"
	ActivityHostBroadcast   = "BCAST"
	ActivityHostAllgather   = "ALLGATHER"
)

// Config wires one strategy to the process-wide collaborators.
type Config struct {
	// Devices is the pooled stream/event context.
	Devices *device.Context
	// Collective is the vendor device collective library.
	Collective device.Collective
	// Channel is the host-side cross-process channel.
	Channel core.Channel
	// Registry resolves communicator handles per device set.
	Registry *comm.Registry
	// Fusion is the staging buffer manager.
	Fusion *fusion.Manager
	// State carries rank geometry, topology, timeline, and parameters.
	State *core.GlobalState
	// Blocking makes device strategies synchronize the stream and return OK
	// instead of detaching a finalizer and returning InProgress.
	Blocking bool

	Log zerolog.Logger
}
