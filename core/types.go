package core

import "fmt"

// DataType identifies the numeric element kind of a tensor.
type DataType string

const (
	Byte    DataType = "byte"
	Int32   DataType = "int32"
	Int64   DataType = "int64"
	Float16 DataType = "float16"
	Float32 DataType = "float32"
	Float64 DataType = "float64"
)

// Size returns the width of one element in bytes.
// Unknown data types are a programming error and abort.
func (dt DataType) Size() int {
	switch dt {
	case Byte:
		return 1
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	case Float16:
		return 2
	default:
		panic(fmt.Sprintf("unknown data type %q", string(dt)))
	}
}

func (dt DataType) String() string {
	return string(dt)
}

// Scope selects which subgroup of ranks a host channel operation spans.
type Scope string

const (
	// ScopeGlobal spans every rank in the job.
	ScopeGlobal Scope = "global"
	// ScopeLocal spans the ranks co-located on this node.
	ScopeLocal Scope = "local"
	// ScopeCross spans the ranks holding the same local rank on peer nodes.
	ScopeCross Scope = "cross"
)
