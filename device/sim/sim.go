// Package sim is a pure-Go device runtime: streams are goroutines draining
// FIFO task queues, events fire when their stream drains past the record
// point, and collective calls rendezvous every rank of a communicator before
// computing. It is deterministic and serves both as the test backend and as
// the reference semantics for cgo-backed runtimes.
package sim

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/carina28/horovod/device"
)

// Runtime implements device.Runtime over in-process simulated devices.
type Runtime struct {
	numDevices int
}

// NewRuntime creates a simulated runtime addressing numDevices devices.
func NewRuntime(numDevices int) *Runtime {
	return &Runtime{numDevices: numDevices}
}

func (r *Runtime) NumDevices() int {
	return r.numDevices
}

func (r *Runtime) checkDevice(deviceID int) error {
	if deviceID < 0 || deviceID >= r.numDevices {
		return errors.Errorf("device %d out of range (runtime has %d devices)", deviceID, r.numDevices)
	}
	return nil
}

// CreateStream starts a stream goroutine for the device. Streams live for
// the process lifetime, matching the retained-stream pool contract.
func (r *Runtime) CreateStream(deviceID int) (device.Stream, error) {
	if err := r.checkDevice(deviceID); err != nil {
		return nil, errors.Wrap(err, "create stream")
	}
	return newStream(deviceID), nil
}

// CreateEvent creates an idle, reusable completion event.
func (r *Runtime) CreateEvent(deviceID int) (device.Event, error) {
	if err := r.checkDevice(deviceID); err != nil {
		return nil, errors.Wrap(err, "create event")
	}
	return &event{}, nil
}

// MemcpyAsync queues the copy on the stream. Device-to-device copies return
// immediately; copies involving host memory block until the stream executes
// them, mirroring driver behavior for pageable host buffers.
func (r *Runtime) MemcpyAsync(dst, src []byte, kind device.CopyKind, s device.Stream) error {
	st, err := asSimStream(s)
	if err != nil {
		return err
	}
	if len(dst) < len(src) {
		return errors.Errorf("memcpy destination too small: %d < %d bytes", len(dst), len(src))
	}
	task := func() {
		copy(dst, src)
	}
	if kind == device.CopyDeviceToDevice {
		st.enqueue(task)
		return nil
	}
	done := make(chan struct{})
	st.enqueue(func() {
		task()
		close(done)
	})
	<-done
	return nil
}

// StreamSynchronize blocks until every task queued so far has executed.
func (r *Runtime) StreamSynchronize(s device.Stream) error {
	st, err := asSimStream(s)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	st.enqueue(func() {
		close(done)
	})
	<-done
	return nil
}

// stream executes queued tasks one at a time in submission order.
type stream struct {
	deviceID int

	mu    sync.Mutex
	cond  *sync.Cond
	tasks []func()
}

func newStream(deviceID int) *stream {
	st := &stream{deviceID: deviceID}
	st.cond = sync.NewCond(&st.mu)
	go st.run()
	return st
}

func (st *stream) Device() int {
	return st.deviceID
}

func (st *stream) enqueue(task func()) {
	st.mu.Lock()
	st.tasks = append(st.tasks, task)
	st.mu.Unlock()
	st.cond.Signal()
}

func (st *stream) run() {
	for {
		st.mu.Lock()
		for len(st.tasks) == 0 {
			st.cond.Wait()
		}
		task := st.tasks[0]
		st.tasks = st.tasks[1:]
		st.mu.Unlock()
		task()
	}
}

func asSimStream(s device.Stream) (*stream, error) {
	st, ok := s.(*stream)
	if !ok {
		return nil, errors.Errorf("stream %T does not belong to the simulated runtime", s)
	}
	return st, nil
}

// event is a reusable completion marker. Each Record arms a fresh channel
// that the stream closes when it drains past the record point.
type event struct {
	mu    sync.Mutex
	armed chan struct{}
}

func (e *event) Record(s device.Stream) error {
	st, err := asSimStream(s)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.armed != nil {
		select {
		case <-e.armed:
			// Previous recording fired and was waited on; safe to re-arm.
		default:
			e.mu.Unlock()
			return errors.New("event re-armed while a prior recording is still pending")
		}
	}
	ch := make(chan struct{})
	e.armed = ch
	e.mu.Unlock()

	st.enqueue(func() {
		close(ch)
	})
	return nil
}

func (e *event) Wait() error {
	e.mu.Lock()
	ch := e.armed
	e.mu.Unlock()
	if ch == nil {
		return errors.New("wait on an event that was never recorded")
	}
	<-ch
	return nil
}
