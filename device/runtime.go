// Package device defines the execution-runtime contract for device-resident
// collective work and owns the pooled synchronization resources built on it:
// reusable completion events, persistent per-device streams, and the FIFO
// event queue drained at finalization.
package device

import (
	"github.com/carina28/horovod/core"
)

// CopyKind is the direction of an asynchronous memory copy.
type CopyKind string

const (
	CopyDeviceToDevice CopyKind = "d2d"
	CopyDeviceToHost   CopyKind = "d2h"
	CopyHostToDevice   CopyKind = "h2d"
)

// Stream is one in-order hardware execution queue. Work submitted to the
// same stream executes in submission order; submission never blocks.
type Stream interface {
	// Device returns the id of the device the stream is bound to.
	Device() int
}

// Event is a reusable completion marker. An event records the current tail
// of a stream and fires once the stream drains past that point. It must be
// waited on before it is recorded again.
type Event interface {
	// Record arms the event at the stream's current tail.
	Record(s Stream) error
	// Wait blocks until the recorded point has been reached.
	Wait() error
}

// Comm is an opaque handle to a fixed group of devices bound together for
// collective calls. Once created it is immutable and read-shared.
type Comm interface {
	Rank() int
	Size() int
}

// CommID is the shared identifier negotiated before communicator creation.
type CommID [16]byte

// Runtime abstracts the vendor device runtime: stream and event creation
// plus asynchronous memory movement. Implementations back onto real driver
// APIs or onto the pure-Go simulator in device/sim.
type Runtime interface {
	// NumDevices returns how many devices this process can address.
	NumDevices() int
	// CreateStream creates a persistent stream on the device with the
	// highest scheduling priority, non-blocking with respect to any
	// framework default stream.
	CreateStream(device int) (Stream, error)
	// CreateEvent creates a non-timed event capable of a blocking wait.
	CreateEvent(device int) (Event, error)
	// MemcpyAsync queues a copy on the stream. Device-to-device copies are
	// fully asynchronous; copies touching host memory complete before the
	// call returns, mirroring driver semantics for pageable host buffers.
	MemcpyAsync(dst, src []byte, kind CopyKind, s Stream) error
	// StreamSynchronize blocks until all work queued on the stream drains.
	StreamSynchronize(s Stream) error
}

// Collective abstracts the vendor device collective library. Every call is
// queued on the given stream and returns without blocking; all ranks of the
// communicator must issue the same sequence of calls.
type Collective interface {
	// CommInitRank joins this process's device into the communicator
	// identified by id. Blocks until every one of nranks members has joined.
	CommInitRank(id CommID, nranks, rank, deviceID int) (Comm, error)
	// AllReduce sums count elements from send across the communicator,
	// leaving the full result in recv on every rank.
	AllReduce(send, recv []byte, count int, dtype core.DataType, comm Comm, s Stream) error
	// ReduceScatter sums across the communicator and leaves rank r's
	// recvCount-element shard in recv on rank r.
	ReduceScatter(send, recv []byte, recvCount int, dtype core.DataType, comm Comm, s Stream) error
	// Reduce sums count elements from send into recv on root only.
	Reduce(send, recv []byte, count int, dtype core.DataType, root int, comm Comm, s Stream) error
	// AllGather concatenates each rank's sendCount elements into recv on
	// every rank, ordered by rank.
	AllGather(send, recv []byte, sendCount int, dtype core.DataType, comm Comm, s Stream) error
	// Broadcast replaces buf on every rank with root's buf.
	Broadcast(buf []byte, count int, dtype core.DataType, root int, comm Comm, s Stream) error
}
