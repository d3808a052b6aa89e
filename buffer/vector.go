// Package buffer provides typed raw buffers and the
// manager that owns their allocation.
package buffer

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/collbench/dtype"
)

// A Vector is a run of Count elements of one DataType,
// stored as raw bytes.
type Vector struct {
	Data  []byte
	Count int
	Type  dtype.DataType
}

// Wrap creates a Vector over existing bytes.
func Wrap(data []byte, t dtype.DataType) *Vector {
	if len(data)%t.Size() != 0 {
		panic("buffer is not a whole number of elements")
	}
	return &Vector{Data: data, Count: len(data) / t.Size(), Type: t}
}

// Bytes is the length of the vector in bytes.
func (v *Vector) Bytes() int {
	return len(v.Data)
}

// Slice returns a Vector that aliases elements
// [begin, end) of v.
func (v *Vector) Slice(begin, end int) *Vector {
	if begin < 0 || end < begin || end > v.Count {
		panic("slice out of bounds")
	}
	size := v.Type.Size()
	return &Vector{
		Data:  v.Data[begin*size : end*size],
		Count: end - begin,
		Type:  v.Type,
	}
}

// Block returns the i-th of a sequence of equally sized
// blocks of count elements each.
func (v *Vector) Block(i, count int) *Vector {
	return v.Slice(i*count, (i+1)*count)
}

// CopyFrom copies the contents of another Vector with the
// same count and type.
func (v *Vector) CopyFrom(other *Vector) error {
	if v.Count != other.Count {
		return errors.Errorf("copy: inconsistent count: %d vs %d", v.Count, other.Count)
	}
	if v.Type != other.Type {
		return errors.Errorf("copy: inconsistent type: %s vs %s", v.Type, other.Type)
	}
	copy(v.Data, other.Data)
	return nil
}

// MustCopyFrom is like CopyFrom, but it panics if the
// vectors are incompatible.
func (v *Vector) MustCopyFrom(other *Vector) {
	if err := v.CopyFrom(other); err != nil {
		panic(err)
	}
}

// Clone creates an independent copy of v.
func (v *Vector) Clone() *Vector {
	return &Vector{
		Data:  append([]byte(nil), v.Data...),
		Count: v.Count,
		Type:  v.Type,
	}
}

// FillIdentity writes the identity of op into every
// element.
func (v *Vector) FillIdentity(op dtype.Op) {
	dtype.FillIdentity(v.Data, v.Type, op)
}

// Reduce performs v[i] = v[i] op other[i].
func (v *Vector) Reduce(other *Vector, op dtype.Op) {
	if v.Type != other.Type {
		panic("mismatching types")
	}
	dtype.Reduce(v.Data, other.Data, v.Type, op)
}
