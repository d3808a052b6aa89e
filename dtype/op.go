package dtype

import (
	"strings"

	"github.com/pkg/errors"
)

// An Op is an associative, commutative reduction
// operator.
type Op int

const (
	Sum Op = iota
	Prod
	Max
	Min
	BAnd
	BOr
	BXor
	LAnd
	LOr
)

var opNames = []string{"sum", "prod", "max", "min", "band", "bor", "bxor", "land", "lor"}

// Ops lists every operator.
func Ops() []Op {
	res := make([]Op, len(opNames))
	for i := range res {
		res[i] = Op(i)
	}
	return res
}

// ParseOp parses an operator name.
// An optional "mpi_" prefix is ignored.
func ParseOp(name string) (Op, error) {
	name = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "mpi_")
	for i, n := range opNames {
		if n == name {
			return Op(i), nil
		}
	}
	return 0, errors.Errorf("unknown operator %q", name)
}

func (o Op) valid() bool {
	return o >= 0 && int(o) < len(opNames)
}

func (o Op) String() string {
	if !o.valid() {
		return "invalid"
	}
	return opNames[o]
}

// Bitwise checks if the operator works on bit patterns.
func (o Op) Bitwise() bool {
	return o == BAnd || o == BOr || o == BXor
}

// Logical checks if the operator treats elements as
// booleans.
func (o Op) Logical() bool {
	return o == LAnd || o == LOr
}

// PreservesValues checks if combining any element with
// the operator's identity yields the element unchanged.
//
// Logical operators collapse values to 0 or 1, so they
// cannot be used to merge disjoint slots of a buffer.
func (o Op) PreservesValues() bool {
	return o.valid() && !o.Logical()
}

// Supports checks if the operator is defined on a type.
//
// Bitwise and logical operators only apply to integers.
func (o Op) Supports(t DataType) bool {
	if !o.valid() || !t.valid() {
		return false
	}
	if t.IsFloat() {
		return !o.Bitwise() && !o.Logical()
	}
	return true
}

// MarshalText encodes the operator by name.
func (o Op) MarshalText() ([]byte, error) {
	if !o.valid() {
		return nil, errors.Errorf("invalid operator %d", int(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText decodes an operator with ParseOp.
func (o *Op) UnmarshalText(text []byte) error {
	parsed, err := ParseOp(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
