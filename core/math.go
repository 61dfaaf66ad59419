package core

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// SumInto adds n elements of src into dst element-wise. Both slices address
// host memory and must hold at least n elements of the given type.
func SumInto(dst, src []byte, dtype DataType, n int) error {
	switch dtype {
	case Int32:
		for i := 0; i < n; i++ {
			o := i * 4
			v := int32(binary.LittleEndian.Uint32(dst[o:])) + int32(binary.LittleEndian.Uint32(src[o:]))
			binary.LittleEndian.PutUint32(dst[o:], uint32(v))
		}
	case Int64:
		for i := 0; i < n; i++ {
			o := i * 8
			v := int64(binary.LittleEndian.Uint64(dst[o:])) + int64(binary.LittleEndian.Uint64(src[o:]))
			binary.LittleEndian.PutUint64(dst[o:], uint64(v))
		}
	case Float16:
		for i := 0; i < n; i++ {
			o := i * 2
			a := float16.Frombits(binary.LittleEndian.Uint16(dst[o:]))
			b := float16.Frombits(binary.LittleEndian.Uint16(src[o:]))
			sum := float16.Fromfloat32(a.Float32() + b.Float32())
			binary.LittleEndian.PutUint16(dst[o:], sum.Bits())
		}
	case Float32:
		for i := 0; i < n; i++ {
			o := i * 4
			v := math.Float32frombits(binary.LittleEndian.Uint32(dst[o:])) +
				math.Float32frombits(binary.LittleEndian.Uint32(src[o:]))
			binary.LittleEndian.PutUint32(dst[o:], math.Float32bits(v))
		}
	case Float64:
		for i := 0; i < n; i++ {
			o := i * 8
			v := math.Float64frombits(binary.LittleEndian.Uint64(dst[o:])) +
				math.Float64frombits(binary.LittleEndian.Uint64(src[o:]))
			binary.LittleEndian.PutUint64(dst[o:], math.Float64bits(v))
		}
	default:
		return errors.Errorf("data type %s is not summable", dtype)
	}
	return nil
}
