package horovod

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/carina28/horovod/comm"
	"github.com/carina28/horovod/core"
	"github.com/carina28/horovod/device"
	"github.com/carina28/horovod/fusion"
	"github.com/carina28/horovod/ops"
	"github.com/carina28/horovod/timeline"
)

// Builder assembles an Executor with a fluent API. Runtime, collective
// library, and host channel are required; everything else has a working
// default.
type Builder struct {
	rt         device.Runtime
	coll       device.Collective
	channel    core.Channel
	params     core.ParameterStore
	tl         core.Timeline
	log        zerolog.Logger
	fusionSize int
	blocking   bool
}

// NewBuilder creates a builder with defaults: a disabled timeline, a static
// parameter store selecting the flat strategy, and no logging.
func NewBuilder() *Builder {
	return &Builder{
		params: core.StaticParameters{},
		tl:     timeline.Noop{},
		log:    zerolog.Nop(),
	}
}

// WithRuntime sets the device runtime.
func (b *Builder) WithRuntime(rt device.Runtime) *Builder {
	b.rt = rt
	return b
}

// WithCollective sets the device collective library.
func (b *Builder) WithCollective(coll device.Collective) *Builder {
	b.coll = coll
	return b
}

// WithChannel sets the host-side cross-process channel. Rank geometry is
// derived from it at Build time.
func (b *Builder) WithChannel(ch core.Channel) *Builder {
	b.channel = ch
	return b
}

// WithParameters sets the tuning parameter store.
func (b *Builder) WithParameters(params core.ParameterStore) *Builder {
	b.params = params
	return b
}

// WithTimeline sets the activity timeline sink.
func (b *Builder) WithTimeline(tl core.Timeline) *Builder {
	b.tl = tl
	return b
}

// WithLogger sets the logger shared by all components.
func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.log = log
	return b
}

// WithFusionBufferSize sets the per-device staging buffer size in bytes.
func (b *Builder) WithFusionBufferSize(size int) *Builder {
	b.fusionSize = size
	return b
}

// WithBlockingDevice makes device strategies synchronize the stream before
// returning instead of detaching a background finalizer.
func (b *Builder) WithBlockingDevice(blocking bool) *Builder {
	b.blocking = blocking
	return b
}

// Build validates the configuration, derives the process topology from the
// channel, and wires the strategy table. Build is a collective call: every
// rank of the job must enter it so the topology exchange can complete.
func (b *Builder) Build() (*Executor, error) {
	if b.rt == nil {
		return nil, errors.New("builder requires a device runtime")
	}
	if b.coll == nil {
		return nil, errors.New("builder requires a collective library")
	}
	if b.channel == nil {
		return nil, errors.New("builder requires a host channel")
	}

	st, err := deriveState(b.channel)
	if err != nil {
		return nil, errors.Wrap(err, "invalid channel geometry")
	}
	st.Timeline = b.tl
	st.Params = b.params

	cfg := ops.Config{
		Devices:    device.NewContext(b.rt, b.log),
		Collective: b.coll,
		Channel:    b.channel,
		Registry:   comm.NewRegistry(b.coll, b.channel, b.log),
		Fusion:     fusion.NewManager(b.rt, b.fusionSize, b.log),
		State:      st,
		Blocking:   b.blocking,
		Log:        b.log,
	}

	table := map[core.ResponseType][]ops.Operation{
		core.ResponseAllreduce: {ops.NewHierarchicalAllreduce(cfg), ops.NewDeviceAllreduce(cfg)},
		core.ResponseBroadcast: {ops.NewBroadcast(cfg)},
		core.ResponseAllgather: {ops.NewAllgather(cfg)},
		core.ResponseError:     {ops.NewErrorOp()},
	}

	b.log.Info().
		Int("rank", st.Rank).
		Int("size", st.Size).
		Int("local_size", st.LocalSize).
		Int("cross_size", st.CrossSize).
		Bool("homogeneous", st.IsHomogeneous).
		Msg("built executor")

	return &Executor{state: st, table: table, log: b.log}, nil
}

// deriveState reads the channel's rank geometry into a GlobalState. Global
// ranks are contiguous per node, so this node's peer ranks follow from the
// local rank alone.
func deriveState(ch core.Channel) (*core.GlobalState, error) {
	st := &core.GlobalState{
		Rank:      ch.Rank(),
		Size:      ch.Size(),
		LocalRank: ch.LocalRank(),
		LocalSize: ch.LocalSize(),
		CrossRank: ch.CrossRank(),
		CrossSize: ch.CrossSize(),
	}
	if st.Size <= 0 || st.Rank < 0 || st.Rank >= st.Size {
		return nil, errors.Errorf("rank %d outside [0, %d)", st.Rank, st.Size)
	}
	if st.LocalSize <= 0 || st.LocalRank < 0 || st.LocalRank >= st.LocalSize {
		return nil, errors.Errorf("local rank %d outside [0, %d)", st.LocalRank, st.LocalSize)
	}
	if st.CrossSize <= 0 || st.CrossRank < 0 || st.CrossRank >= st.CrossSize {
		return nil, errors.Errorf("cross rank %d outside [0, %d)", st.CrossRank, st.CrossSize)
	}

	// Homogeneity is a job-wide fact and the hierarchical strategy's call
	// sequence forks on it, so every rank must reach the same answer: gather
	// each rank's local size over the channel and compare.
	sizes := make([]byte, 4*st.Size)
	binary.LittleEndian.PutUint32(sizes[4*st.Rank:], uint32(st.LocalSize))
	counts := make([]int, st.Size)
	displs := make([]int, st.Size)
	for r := range counts {
		counts[r] = 1
		displs[r] = r
	}
	if err := ch.Allgatherv(sizes[4*st.Rank:4*st.Rank+4], 1, sizes, counts, displs, core.Int32, core.ScopeGlobal); err != nil {
		return nil, errors.Wrap(err, "gathering local sizes")
	}
	st.IsHomogeneous = true
	for r := 1; r < st.Size; r++ {
		if binary.LittleEndian.Uint32(sizes[4*r:]) != binary.LittleEndian.Uint32(sizes[:4]) {
			st.IsHomogeneous = false
			break
		}
	}

	base := st.Rank - st.LocalRank
	st.LocalCommRanks = make([]int, st.LocalSize)
	for i := range st.LocalCommRanks {
		st.LocalCommRanks[i] = base + i
	}
	return st, nil
}
