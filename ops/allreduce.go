package ops

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"

	"github.com/carina28/horovod/comm"
	"github.com/carina28/horovod/core"
	"github.com/carina28/horovod/device"
	"github.com/carina28/horovod/fusion"
)

// reducer is the strategy-specific slice of an allreduce: which devices form
// the communicator, how this process ranks within it, and the reduction body
// itself. Shared packing, event bookkeeping, and finalization live in
// allreduceCore.
type reducer interface {
	commDevices(response core.ReductionResponse) []int
	commStrategy() comm.Strategy
	reduce(rc *round)
}

// round holds one execution's state: the bound stream and communicator, the
// offset table, the event queue, and the staged views. It is owned by the
// submitting goroutine until finalization hands it to the detached waiter.
type round struct {
	entries  []core.TensorEntry
	response core.ReductionResponse
	deviceID int
	dtype    core.DataType

	stream device.Stream
	comm   device.Comm
	events device.EventQueue

	fused   bool
	buffer  []byte
	offsets []int

	// input and output are the fused views the reduction operates on. With
	// fusion both alias the staging buffer; for a single entry they are the
	// entry's own tensors.
	input  []byte
	output []byte

	numElements int
	bufferLen   int

	// hostBuffer is the transient staging area for the cross-node step,
	// released by the finalizer.
	hostBuffer []byte
}

// allreduceCore carries the strategy-independent execution flow:
// initialize, pack, reduce, unpack, finalize.
type allreduceCore struct {
	cfg Config
}

func (c *allreduceCore) execute(r reducer, entries []core.TensorEntry, response core.ReductionResponse) core.Status {
	first := &entries[0]
	rc := &round{
		entries:  entries,
		response: response,
		deviceID: first.Device,
		dtype:    first.Tensor.DType(),
	}

	rc.stream = c.cfg.Devices.Stream(rc.deviceID)
	c.initComm(r, rc)

	tl := c.cfg.State.Timeline
	if tl != nil && tl.Initialized() {
		c.cfg.Devices.RecordEvent(&rc.events, ActivityQueue, rc.deviceID, rc.stream)
	}

	if len(entries) > 1 {
		rc.fused = true
		rc.buffer = c.cfg.Fusion.Buffer(rc.deviceID)
		rc.offsets, rc.bufferLen = fusion.Offsets(entries)
		if rc.bufferLen > len(rc.buffer) {
			exceptions.Panicf("fused batch (%s) exceeds fusion buffer capacity (%s)",
				humanize.IBytes(uint64(rc.bufferLen)), humanize.IBytes(uint64(len(rc.buffer))))
		}
		c.cfg.Fusion.CopyIn(rc.buffer, entries, rc.offsets, rc.stream)
		c.recordEventEnd(rc, ActivityMemcpyInFusion)
		rc.numElements = rc.bufferLen / rc.dtype.Size()
		rc.input = rc.buffer
		rc.output = rc.buffer
	} else {
		rc.numElements = first.Tensor.NumElements()
		rc.bufferLen = first.Tensor.Size()
		rc.input = first.Tensor.Data()
		rc.output = first.Output.Data()
	}

	r.reduce(rc)

	if rc.fused {
		c.cfg.Fusion.CopyOut(rc.buffer, entries, rc.offsets, rc.stream)
		c.recordEventEnd(rc, ActivityMemcpyOutFusion)
	}

	return c.finalize(rc)
}

// initComm resolves the round's communicator, running the cross-process
// handshake on first use of a device set.
func (c *allreduceCore) initComm(r reducer, rc *round) {
	devs := r.commDevices(rc.response)
	if cm, ok := c.cfg.Registry.Lookup(devs); ok {
		rc.comm = cm
		return
	}
	tl := c.cfg.State.Timeline
	core.ActivityStartAll(tl, rc.entries, ActivityInitComm)
	rc.comm = c.cfg.Registry.GetOrCreate(devs, rc.deviceID, r.commStrategy())
	core.ActivityEndAll(tl, rc.entries)
}

// recordEventEnd queues a labeled completion event for the phase just
// submitted, but only when someone is consuming the timeline.
func (c *allreduceCore) recordEventEnd(rc *round, label string) {
	tl := c.cfg.State.Timeline
	if tl != nil && tl.Initialized() {
		c.cfg.Devices.RecordEvent(&rc.events, label, rc.deviceID, rc.stream)
	}
}

// finalize records the completion marker and either blocks the submission
// goroutine until the stream drains (Blocking mode) or detaches the waiter
// and reports the round as in progress. The unlabeled marker is recorded
// unconditionally: waiting on one event is cheaper than synchronizing the
// whole stream.
func (c *allreduceCore) finalize(rc *round) core.Status {
	c.cfg.Devices.RecordEvent(&rc.events, "", rc.deviceID, rc.stream)

	if c.cfg.Blocking {
		device.ErrorCheck("StreamSynchronize", c.cfg.Devices.Runtime().StreamSynchronize(rc.stream))
		c.cfg.Devices.WaitForEvents(&rc.events, rc.deviceID, rc.entries, c.cfg.State.Timeline)
		rc.hostBuffer = nil
		return core.OK()
	}

	c.detachFinalizer(rc)
	return core.InProgress()
}
