package ops_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carina28/horovod/comm"
	"github.com/carina28/horovod/comm/loopback"
	"github.com/carina28/horovod/core"
	"github.com/carina28/horovod/device"
	"github.com/carina28/horovod/device/sim"
	"github.com/carina28/horovod/fusion"
	"github.com/carina28/horovod/ops"
)

// singleRankConfig wires every collaborator for a one-process job.
func singleRankConfig(t *testing.T, hierarchical bool) ops.Config {
	t.Helper()
	g, err := loopback.NewGroup([]int{1})
	require.NoError(t, err)
	ch, err := g.Channel(0)
	require.NoError(t, err)

	rt := sim.NewRuntime(1)
	coll := sim.NewCollective()
	log := zerolog.Nop()

	return ops.Config{
		Devices:    device.NewContext(rt, log),
		Collective: coll,
		Channel:    ch,
		Registry:   comm.NewRegistry(coll, ch, log),
		Fusion:     fusion.NewManager(rt, 4096, log),
		State: &core.GlobalState{
			Size:           1,
			LocalSize:      1,
			CrossSize:      1,
			IsHomogeneous:  true,
			LocalCommRanks: []int{0},
			Params:         core.StaticParameters{Hierarchical: hierarchical},
		},
		Log: log,
	}
}

func deviceEntry(name string, vals []float32) core.TensorEntry {
	in := sim.NewTensor(core.Float32, len(vals), 0)
	in.SetFloat32s(vals)
	return core.TensorEntry{
		Name:     name,
		Tensor:   in,
		Output:   sim.NewTensor(core.Float32, len(vals), 0),
		Device:   0,
		Callback: func(core.Status) {},
	}
}

func hostEntry(name string, vals []float32) core.TensorEntry {
	e := deviceEntry(name, vals)
	e.Device = core.HostDevice
	return e
}

func TestStrategySelectionPredicates(t *testing.T) {
	flat := ops.NewDeviceAllreduce(singleRankConfig(t, false))
	hier := ops.NewHierarchicalAllreduce(singleRankConfig(t, true))
	hierOff := ops.NewHierarchicalAllreduce(singleRankConfig(t, false))
	bcast := ops.NewBroadcast(singleRankConfig(t, false))
	gather := ops.NewAllgather(singleRankConfig(t, false))
	errOp := ops.NewErrorOp()

	onDevice := []core.TensorEntry{deviceEntry("d", []float32{1})}
	onHost := []core.TensorEntry{hostEntry("h", []float32{1})}
	resp := core.NewAllreduceResponse([]string{"d"}, []int{0})

	assert.True(t, flat.Enabled(onDevice, resp))
	assert.False(t, flat.Enabled(onHost, resp))

	assert.True(t, hier.Enabled(onDevice, resp))
	assert.False(t, hier.Enabled(onHost, resp))
	assert.False(t, hierOff.Enabled(onDevice, resp))

	assert.True(t, bcast.Enabled(onHost, resp))
	assert.False(t, bcast.Enabled(onDevice, resp))
	assert.True(t, gather.Enabled(onHost, resp))
	assert.False(t, gather.Enabled(onDevice, resp))

	errResp := core.NewErrorResponse([]string{"d"}, "negotiation failed")
	assert.True(t, errOp.Enabled(onDevice, errResp))
	assert.False(t, errOp.Enabled(onDevice, resp))
}

func TestErrorOpReportsNegotiatedReason(t *testing.T) {
	op := ops.NewErrorOp()
	entries := []core.TensorEntry{{Name: "t", Callback: func(core.Status) {}}}
	resp := core.NewErrorResponse([]string{"t"}, "shape mismatch on tensor t")

	status := op.Execute(entries, resp)
	assert.Equal(t, core.StatusPreconditionErr, status.Type)
	assert.Equal(t, "shape mismatch on tensor t", status.Reason)
}

func TestBroadcastRejectsFusedRounds(t *testing.T) {
	op := ops.NewBroadcast(singleRankConfig(t, false))
	entries := []core.TensorEntry{hostEntry("a", []float32{1}), hostEntry("b", []float32{2})}
	resp := core.NewBroadcastResponse([]string{"a", "b"}, []int{-1, -1}, 0)

	status := op.Execute(entries, resp)
	assert.Equal(t, core.StatusPreconditionErr, status.Type)
}

func TestBroadcastCopiesRootInputToOutput(t *testing.T) {
	op := ops.NewBroadcast(singleRankConfig(t, false))
	entries := []core.TensorEntry{hostEntry("a", []float32{3, 1, 4})}
	resp := core.NewBroadcastResponse([]string{"a"}, []int{-1}, 0)

	status := op.Execute(entries, resp)
	require.True(t, status.Ok(), status.Reason)
	assert.Equal(t, []float32{3, 1, 4}, entries[0].Output.(*sim.Tensor).Float32s())
}

func TestAllgatherValidatesNegotiatedSizes(t *testing.T) {
	op := ops.NewAllgather(singleRankConfig(t, false))
	entries := []core.TensorEntry{hostEntry("a", []float32{1, 2})}

	// Sizes negotiated for two ranks, but the job has one.
	resp := core.NewAllgatherResponse([]string{"a"}, []int{-1}, [][]int{{2, 2}})
	status := op.Execute(entries, resp)
	assert.Equal(t, core.StatusPreconditionErr, status.Type)

	// Contribution disagrees with the negotiated count.
	resp = core.NewAllgatherResponse([]string{"a"}, []int{-1}, [][]int{{3}})
	status = op.Execute(entries, resp)
	assert.Equal(t, core.StatusPreconditionErr, status.Type)
}

func TestAllgatherSingleRank(t *testing.T) {
	op := ops.NewAllgather(singleRankConfig(t, false))
	entries := []core.TensorEntry{hostEntry("a", []float32{5, 6})}
	resp := core.NewAllgatherResponse([]string{"a"}, []int{-1}, [][]int{{2}})

	status := op.Execute(entries, resp)
	require.True(t, status.Ok(), status.Reason)
	assert.Equal(t, []float32{5, 6}, entries[0].Output.(*sim.Tensor).Float32s())
}

func TestDeviceAllreducePrimitiveFailureIsFatal(t *testing.T) {
	cfg := singleRankConfig(t, false)
	op := ops.NewDeviceAllreduce(cfg)

	in := sim.NewTensor(core.Byte, 4, 0)
	entries := []core.TensorEntry{{
		Name:     "bytes",
		Tensor:   in,
		Output:   sim.NewTensor(core.Byte, 4, 0),
		Device:   0,
		Callback: func(core.Status) { t.Error("callback fired for a fatal round") },
	}}
	resp := core.NewAllreduceResponse([]string{"bytes"}, []int{0})

	// Byte tensors are not summable; the collective rejects the call and the
	// failure aborts rather than surfacing through callbacks.
	assert.Panics(t, func() { op.Execute(entries, resp) })
}
