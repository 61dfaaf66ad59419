package sim

import (
	"encoding/binary"
	"math"

	"github.com/carina28/horovod/core"
)

// Tensor is a byte-backed tensor for the simulated runtime, usable both as
// an input view and an output view. Real deployments supply their own
// framework-owned tensor implementation.
type Tensor struct {
	dtype    core.DataType
	deviceID int
	data     []byte
}

// NewTensor allocates a zeroed tensor of numElements elements on the device
// (core.HostDevice for host memory).
func NewTensor(dtype core.DataType, numElements, deviceID int) *Tensor {
	return &Tensor{
		dtype:    dtype,
		deviceID: deviceID,
		data:     make([]byte, numElements*dtype.Size()),
	}
}

func (t *Tensor) DType() core.DataType { return t.dtype }
func (t *Tensor) NumElements() int     { return len(t.data) / t.dtype.Size() }
func (t *Tensor) Size() int            { return len(t.data) }
func (t *Tensor) Data() []byte         { return t.data }

// Device returns the device the tensor lives on.
func (t *Tensor) Device() int { return t.deviceID }

// SetFloat32s fills the tensor from vals. The tensor must be Float32.
func (t *Tensor) SetFloat32s(vals []float32) {
	for i, v := range vals {
		binary.LittleEndian.PutUint32(t.data[i*4:], math.Float32bits(v))
	}
}

// Float32s decodes the tensor contents. The tensor must be Float32.
func (t *Tensor) Float32s() []float32 {
	out := make([]float32, t.NumElements())
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.data[i*4:]))
	}
	return out
}
