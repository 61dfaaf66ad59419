package core

// Tensor is an externally owned view over a contiguous region of memory on a
// particular device. The execution core never allocates or frees tensors; it
// only reads input views and writes output views.
type Tensor interface {
	// DType returns the element kind.
	DType() DataType
	// NumElements returns the logical element count.
	NumElements() int
	// Size returns the total byte length (NumElements * DType().Size()).
	Size() int
	// Data returns the raw byte view of the tensor's memory. For
	// device-resident tensors the slice addresses device memory owned by the
	// runtime; it must only be touched through runtime copy primitives.
	Data() []byte
}

// Callback delivers the terminal status of one entry exactly once.
type Callback func(Status)

// TensorEntry is one participant's contribution to a round: an immutable
// input view, a mutable output view, and a completion callback. The submitter
// owns both tensors until the callback fires.
type TensorEntry struct {
	// Name is the logical tensor name negotiated across processes.
	Name string
	// Tensor is the input view. Never written.
	Tensor Tensor
	// Output is the destination view. Same shape and dtype as Tensor.
	Output Tensor
	// Device is the id of the device holding both views, or HostDevice.
	Device int
	// Callback is invoked exactly once with a terminal status.
	Callback Callback
}

// HostDevice marks entries whose tensors live in host memory.
const HostDevice = -1

// OnDevice reports whether the entry's tensors are device-resident.
func (e *TensorEntry) OnDevice() bool {
	return e.Device != HostDevice
}
