// Package dtype describes the element types that flow
// through collective operations and the reduction
// operators that combine them.
package dtype

import (
	"strings"

	"github.com/pkg/errors"
)

// A DataType identifies the element type of a buffer.
type DataType int

const (
	U8 DataType = iota
	U16
	U32
	U64
	I8
	I16
	I32
	I64
	F16
	F32
	F64
)

var dataTypeNames = []string{"u8", "u16", "u32", "u64", "i8", "i16", "i32", "i64", "f16", "f32", "f64"}

var dataTypeSizes = []int{1, 2, 4, 8, 1, 2, 4, 8, 2, 4, 8}

// DataTypes lists every supported type.
func DataTypes() []DataType {
	res := make([]DataType, len(dataTypeNames))
	for i := range res {
		res[i] = DataType(i)
	}
	return res
}

// ParseDataType parses a name such as "i32" or "f64".
//
// The MPI-style aliases "int", "long", "float",
// "double", "char" and "byte" are accepted too.
func ParseDataType(name string) (DataType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "int":
		return I32, nil
	case "long":
		return I64, nil
	case "float":
		return F32, nil
	case "double":
		return F64, nil
	case "char", "byte":
		return U8, nil
	}
	for i, n := range dataTypeNames {
		if n == name {
			return DataType(i), nil
		}
	}
	return 0, errors.Errorf("unknown datatype %q", name)
}

func (t DataType) valid() bool {
	return t >= 0 && int(t) < len(dataTypeNames)
}

// Size is the extent of one element in bytes.
func (t DataType) Size() int {
	if !t.valid() {
		panic("invalid datatype")
	}
	return dataTypeSizes[t]
}

// IsFloat checks if the type is a floating-point type.
func (t DataType) IsFloat() bool {
	return t == F16 || t == F32 || t == F64
}

func (t DataType) String() string {
	if !t.valid() {
		return "invalid"
	}
	return dataTypeNames[t]
}

// MarshalText encodes the type by name.
func (t DataType) MarshalText() ([]byte, error) {
	if !t.valid() {
		return nil, errors.Errorf("invalid datatype %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a type name with ParseDataType.
func (t *DataType) UnmarshalText(text []byte) error {
	parsed, err := ParseDataType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
