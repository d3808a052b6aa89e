package dtype

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// Reduce performs dst[i] = dst[i] op src[i] over two
// buffers holding elements of type t.
func Reduce(dst, src []byte, t DataType, op Op) {
	if len(dst) != len(src) {
		panic("mismatching lengths")
	}
	if len(dst)%t.Size() != 0 {
		panic("buffer is not a whole number of elements")
	}
	if !op.Supports(t) {
		panic(fmt.Sprintf("operator %s is not defined on %s", op, t))
	}
	switch t {
	case U8:
		reduceInts(view[uint8](dst), view[uint8](src), op)
	case U16:
		reduceInts(view[uint16](dst), view[uint16](src), op)
	case U32:
		reduceInts(view[uint32](dst), view[uint32](src), op)
	case U64:
		reduceInts(view[uint64](dst), view[uint64](src), op)
	case I8:
		reduceInts(view[int8](dst), view[int8](src), op)
	case I16:
		reduceInts(view[int16](dst), view[int16](src), op)
	case I32:
		reduceInts(view[int32](dst), view[int32](src), op)
	case I64:
		reduceInts(view[int64](dst), view[int64](src), op)
	case F16:
		reduceHalves(view[uint16](dst), view[uint16](src), op)
	case F32:
		reduceFloats(view[float32](dst), view[float32](src), op)
	case F64:
		reduceFloats(view[float64](dst), view[float64](src), op)
	}
}

// FillIdentity writes the identity element of op over t
// into every element of b.
//
// The identity e satisfies e op x == x for every x, so a
// buffer filled this way can be reduced into without
// changing the result.
func FillIdentity(b []byte, t DataType, op Op) {
	if !op.Supports(t) {
		panic(fmt.Sprintf("operator %s is not defined on %s", op, t))
	}
	switch t {
	case U8:
		fill(view[uint8](b), intIdentity[uint8](op))
	case U16:
		fill(view[uint16](b), intIdentity[uint16](op))
	case U32:
		fill(view[uint32](b), intIdentity[uint32](op))
	case U64:
		fill(view[uint64](b), intIdentity[uint64](op))
	case I8:
		fill(view[int8](b), intIdentity[int8](op))
	case I16:
		fill(view[int16](b), intIdentity[int16](op))
	case I32:
		fill(view[int32](b), intIdentity[int32](op))
	case I64:
		fill(view[int64](b), intIdentity[int64](op))
	case F16:
		fill(view[uint16](b), halfIdentity(op))
	case F32:
		fill(view[float32](b), floatIdentity[float32](op))
	case F64:
		fill(view[float64](b), floatIdentity[float64](op))
	}
}

// Put stores v, converted to t, as element i of b.
func Put(b []byte, t DataType, i int, v int64) {
	switch t {
	case U8:
		view[uint8](b)[i] = uint8(v)
	case U16:
		view[uint16](b)[i] = uint16(v)
	case U32:
		view[uint32](b)[i] = uint32(v)
	case U64:
		view[uint64](b)[i] = uint64(v)
	case I8:
		view[int8](b)[i] = int8(v)
	case I16:
		view[int16](b)[i] = int16(v)
	case I32:
		view[int32](b)[i] = int32(v)
	case I64:
		view[int64](b)[i] = v
	case F16:
		view[uint16](b)[i] = float16.Fromfloat32(float32(v)).Bits()
	case F32:
		view[float32](b)[i] = float32(v)
	case F64:
		view[float64](b)[i] = float64(v)
	default:
		panic("invalid datatype")
	}
}

// PutFloat is like Put, but for floating-point values.
// Integer types truncate v.
func PutFloat(b []byte, t DataType, i int, v float64) {
	switch t {
	case F16:
		view[uint16](b)[i] = float16.Fromfloat32(float32(v)).Bits()
	case F32:
		view[float32](b)[i] = float32(v)
	case F64:
		view[float64](b)[i] = v
	default:
		Put(b, t, i, int64(v))
	}
}

// Value reads element i of b as a float64.
func Value(b []byte, t DataType, i int) float64 {
	switch t {
	case U8:
		return float64(view[uint8](b)[i])
	case U16:
		return float64(view[uint16](b)[i])
	case U32:
		return float64(view[uint32](b)[i])
	case U64:
		return float64(view[uint64](b)[i])
	case I8:
		return float64(view[int8](b)[i])
	case I16:
		return float64(view[int16](b)[i])
	case I32:
		return float64(view[int32](b)[i])
	case I64:
		return float64(view[int64](b)[i])
	case F16:
		return float64(float16.Frombits(view[uint16](b)[i]).Float32())
	case F32:
		return float64(view[float32](b)[i])
	case F64:
		return view[float64](b)[i]
	}
	panic("invalid datatype")
}

func view[T any](b []byte) []T {
	var zero T
	n := len(b) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}

func fill[T any](s []T, v T) {
	for i := range s {
		s[i] = v
	}
}

func reduceInts[T constraints.Integer](dst, src []T, op Op) {
	switch op {
	case Sum:
		for i, x := range src {
			dst[i] += x
		}
	case Prod:
		for i, x := range src {
			dst[i] *= x
		}
	case Max:
		for i, x := range src {
			if x > dst[i] {
				dst[i] = x
			}
		}
	case Min:
		for i, x := range src {
			if x < dst[i] {
				dst[i] = x
			}
		}
	case BAnd:
		for i, x := range src {
			dst[i] &= x
		}
	case BOr:
		for i, x := range src {
			dst[i] |= x
		}
	case BXor:
		for i, x := range src {
			dst[i] ^= x
		}
	case LAnd:
		for i, x := range src {
			dst[i] = truth[T](dst[i] != 0 && x != 0)
		}
	case LOr:
		for i, x := range src {
			dst[i] = truth[T](dst[i] != 0 || x != 0)
		}
	}
}

// reduceFloats passes NaN operands through unchanged, so
// a NaN is never lost to a comparison and the result does
// not depend on the order of reduction.
func reduceFloats[T constraints.Float](dst, src []T, op Op) {
	for i, x := range src {
		d := dst[i]
		if d != d {
			continue
		}
		if x != x {
			dst[i] = x
			continue
		}
		switch op {
		case Sum:
			dst[i] = d + x
		case Prod:
			dst[i] = d * x
		case Max:
			if x > d {
				dst[i] = x
			}
		case Min:
			if x < d {
				dst[i] = x
			}
		}
	}
}

// reduceHalves widens to float32 and rounds the result
// back to half precision after every element. Max, Min
// and NaN operands copy the winning bits directly.
func reduceHalves(dst, src []uint16, op Op) {
	for i, x := range src {
		a := float16.Frombits(dst[i])
		b := float16.Frombits(x)
		if a.IsNaN() {
			continue
		}
		if b.IsNaN() {
			dst[i] = x
			continue
		}
		af, bf := a.Float32(), b.Float32()
		switch op {
		case Sum:
			dst[i] = float16.Fromfloat32(af + bf).Bits()
		case Prod:
			dst[i] = float16.Fromfloat32(af * bf).Bits()
		case Max:
			if bf > af {
				dst[i] = x
			}
		case Min:
			if bf < af {
				dst[i] = x
			}
		}
	}
}

func truth[T constraints.Integer](b bool) T {
	if b {
		return 1
	}
	return 0
}

func intIdentity[T constraints.Integer](op Op) T {
	switch op {
	case Prod, LAnd:
		return 1
	case BAnd:
		return ^T(0)
	case Max:
		return minInt[T]()
	case Min:
		return ^minInt[T]()
	}
	return 0
}

// minInt is 0 for unsigned types and the most negative
// value for signed ones.
func minInt[T constraints.Integer]() T {
	var zero T
	if ^zero > 0 {
		return 0
	}
	bits := unsafe.Sizeof(zero) * 8
	return T(1) << (bits - 1)
}

// floatIdentity uses -0 for Sum, since +0 would turn a -0
// contribution into +0.
func floatIdentity[T constraints.Float](op Op) T {
	switch op {
	case Sum:
		return T(math.Copysign(0, -1))
	case Prod:
		return 1
	case Max:
		return T(math.Inf(-1))
	case Min:
		return T(math.Inf(1))
	}
	return 0
}

func halfIdentity(op Op) uint16 {
	switch op {
	case Sum:
		return 0x8000
	case Prod:
		return float16.Fromfloat32(1).Bits()
	case Max:
		return float16.Inf(-1).Bits()
	case Min:
		return float16.Inf(1).Bits()
	}
	return 0
}
