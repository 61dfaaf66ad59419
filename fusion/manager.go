// Package fusion packs a round's tensor entries into one contiguous
// per-device staging buffer so a batch of small tensors costs a single
// collective call, and unpacks results afterward.
package fusion

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/carina28/horovod/core"
	"github.com/carina28/horovod/device"
)

// AtomicUnit is the alignment granularity of the staging buffer. Per-entry
// byte offsets are rounded up to it, and the hierarchical strategy pads fused
// element counts to a local-peer multiple of it, so a fused batch always
// splits evenly across local peers.
const AtomicUnit = 64

// DefaultBufferSize is the per-device staging buffer size when the caller
// does not configure one.
const DefaultBufferSize = 64 * 1024 * 1024

// Manager owns one staging buffer per device, allocated on first use and
// retained for the process lifetime. The buffer for a device is exclusively
// owned by the round in flight on that device.
type Manager struct {
	rt   device.Runtime
	log  zerolog.Logger
	size int

	mu      sync.Mutex
	buffers map[int][]byte
}

// NewManager creates a manager with the given per-device buffer size in
// bytes; size <= 0 selects DefaultBufferSize.
func NewManager(rt device.Runtime, size int, log zerolog.Logger) *Manager {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Manager{
		rt:      rt,
		log:     log,
		size:    size,
		buffers: make(map[int][]byte),
	}
}

// BufferSize returns the configured per-device staging capacity.
func (m *Manager) BufferSize() int {
	return m.size
}

// Buffer returns the device's staging buffer, allocating it on first use.
func (m *Manager) Buffer(deviceID int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	if buf, ok := m.buffers[deviceID]; ok {
		return buf
	}
	buf := make([]byte, m.size)
	m.buffers[deviceID] = buf
	m.log.Info().
		Int("device", deviceID).
		Str("size", humanize.IBytes(uint64(m.size))).
		Msg("allocated fusion buffer")
	return buf
}

func alignUp(n int) int {
	return (n + AtomicUnit - 1) / AtomicUnit * AtomicUnit
}

// Offsets computes the byte offset of each entry inside the staging buffer
// and the total staged length. The running offset advances by each entry's
// byte length rounded up to the atomic unit. The table is computed once at
// copy-in time and must be reused verbatim at copy-out time: the stream may
// still be draining when copy-out is scheduled, so recomputing risks
// disagreeing with the copies already queued.
func Offsets(entries []core.TensorEntry) (offsets []int, total int) {
	offsets = make([]int, len(entries))
	for i := range entries {
		offsets[i] = total
		total += alignUp(entries[i].Tensor.Size())
	}
	return offsets, total
}

// CopyIn stages every entry's input into the buffer at its offset. Copies
// are device-to-device and asynchronous on the bound stream.
func (m *Manager) CopyIn(buf []byte, entries []core.TensorEntry, offsets []int, s device.Stream) {
	for i := range entries {
		e := &entries[i]
		dst := buf[offsets[i] : offsets[i]+e.Tensor.Size()]
		device.ErrorCheck("MemcpyAsync", m.rt.MemcpyAsync(dst, e.Tensor.Data(), device.CopyDeviceToDevice, s))
	}
}

// CopyOut unstages every entry's result from the buffer into its output
// view, reversing CopyIn with the same offset table.
func (m *Manager) CopyOut(buf []byte, entries []core.TensorEntry, offsets []int, s device.Stream) {
	for i := range entries {
		e := &entries[i]
		src := buf[offsets[i] : offsets[i]+e.Tensor.Size()]
		device.ErrorCheck("MemcpyAsync", m.rt.MemcpyAsync(e.Output.Data(), src, device.CopyDeviceToDevice, s))
	}
}
