package fusion_test

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/carina28/horovod/core"
	"github.com/carina28/horovod/device/sim"
	"github.com/carina28/horovod/fusion"
)

func entryOf(in, out *sim.Tensor) core.TensorEntry {
	return core.TensorEntry{Tensor: in, Output: out, Device: in.Device()}
}

func TestBufferIsAllocatedOncePerDevice(t *testing.T) {
	m := fusion.NewManager(sim.NewRuntime(2), 1024, zerolog.Nop())

	b0 := m.Buffer(0)
	assert.Len(t, b0, 1024)
	assert.Same(t, &b0[0], &m.Buffer(0)[0])

	b1 := m.Buffer(1)
	assert.NotSame(t, &b0[0], &b1[0])
}

func TestDefaultBufferSize(t *testing.T) {
	m := fusion.NewManager(sim.NewRuntime(1), 0, zerolog.Nop())
	assert.Equal(t, fusion.DefaultBufferSize, m.BufferSize())
}

func TestOffsetsAreAlignedAndDisjoint(t *testing.T) {
	entries := []core.TensorEntry{
		entryOf(sim.NewTensor(core.Float32, 3, 0), sim.NewTensor(core.Float32, 3, 0)),
		entryOf(sim.NewTensor(core.Float32, 16, 0), sim.NewTensor(core.Float32, 16, 0)),
		entryOf(sim.NewTensor(core.Float32, 1, 0), sim.NewTensor(core.Float32, 1, 0)),
	}

	offsets, total := fusion.Offsets(entries)
	require.Len(t, offsets, 3)

	// 12 bytes aligns to 64, 64 stays 64, 4 aligns to 64.
	assert.Equal(t, []int{0, 64, 128}, offsets)
	assert.Equal(t, 192, total)
}

func TestCopyInCopyOutRoundTrip(t *testing.T) {
	rt := sim.NewRuntime(1)
	m := fusion.NewManager(rt, 4096, zerolog.Nop())
	s, err := rt.CreateStream(0)
	require.NoError(t, err)

	in1 := sim.NewTensor(core.Float32, 5, 0)
	in1.SetFloat32s([]float32{1, 2, 3, 4, 5})
	in2 := sim.NewTensor(core.Float32, 2, 0)
	in2.SetFloat32s([]float32{-1, 7})
	out1 := sim.NewTensor(core.Float32, 5, 0)
	out2 := sim.NewTensor(core.Float32, 2, 0)

	entries := []core.TensorEntry{entryOf(in1, out1), entryOf(in2, out2)}
	offsets, _ := fusion.Offsets(entries)

	buf := m.Buffer(0)
	m.CopyIn(buf, entries, offsets, s)
	m.CopyOut(buf, entries, offsets, s)
	require.NoError(t, rt.StreamSynchronize(s))

	assert.Equal(t, []float32{1, 2, 3, 4, 5}, out1.Float32s())
	assert.Equal(t, []float32{-1, 7}, out2.Float32s())
}

// For any batch, offsets are atomic-unit aligned, strictly increasing by at
// least the entry's byte length, and a copy-in then copy-out through the
// staging buffer preserves every entry's bytes.
func TestPropertyOffsetsRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "entries")
		runtime := sim.NewRuntime(1)
		s, err := runtime.CreateStream(0)
		if err != nil {
			rt.Fatalf("stream: %v", err)
		}

		entries := make([]core.TensorEntry, n)
		for i := range entries {
			elems := rapid.IntRange(1, 200).Draw(rt, "elems")
			in := sim.NewTensor(core.Byte, elems, 0)
			for j := range in.Data() {
				in.Data()[j] = byte(rapid.IntRange(0, 255).Draw(rt, "b"))
			}
			entries[i] = entryOf(in, sim.NewTensor(core.Byte, elems, 0))
		}

		offsets, total := fusion.Offsets(entries)
		for i := range offsets {
			if offsets[i]%fusion.AtomicUnit != 0 {
				rt.Fatalf("offset %d (%d) not aligned", i, offsets[i])
			}
			end := total
			if i+1 < len(offsets) {
				end = offsets[i+1]
			}
			if end-offsets[i] < entries[i].Tensor.Size() {
				rt.Fatalf("entry %d overlaps its successor", i)
			}
		}

		m := fusion.NewManager(runtime, total, zerolog.Nop())
		buf := m.Buffer(0)
		m.CopyIn(buf, entries, offsets, s)
		m.CopyOut(buf, entries, offsets, s)
		if err := runtime.StreamSynchronize(s); err != nil {
			rt.Fatalf("synchronize: %v", err)
		}

		for i := range entries {
			if !bytes.Equal(entries[i].Tensor.Data(), entries[i].Output.Data()) {
				rt.Fatalf("entry %d bytes changed through staging", i)
			}
		}
	})
}
