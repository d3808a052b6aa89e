package dtype

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, dt := range DataTypes() {
		parsed, err := ParseDataType(dt.String())
		require.NoError(t, err)
		assert.Equal(t, dt, parsed)
	}
	for _, op := range Ops() {
		parsed, err := ParseOp(op.String())
		require.NoError(t, err)
		assert.Equal(t, op, parsed)
	}

	dt, err := ParseDataType("Double")
	require.NoError(t, err)
	assert.Equal(t, F64, dt)
	op, err := ParseOp("MPI_BAND")
	require.NoError(t, err)
	assert.Equal(t, BAnd, op)

	_, err = ParseDataType("complex")
	require.Error(t, err)
	_, err = ParseOp("avg")
	require.Error(t, err)
}

func TestSupports(t *testing.T) {
	assert.True(t, Sum.Supports(F16))
	assert.True(t, Max.Supports(F64))
	assert.False(t, BAnd.Supports(F32))
	assert.False(t, LOr.Supports(F64))
	assert.True(t, BXor.Supports(U8))
	assert.True(t, LAnd.Supports(I64))
	assert.False(t, LAnd.PreservesValues())
	assert.True(t, Prod.PreservesValues())
}

func TestIdentity(t *testing.T) {
	b := make([]byte, 8*4)

	FillIdentity(b[:4*4], I32, Prod)
	for i := 0; i < 4; i++ {
		assert.Equal(t, 1.0, Value(b, I32, i))
	}

	FillIdentity(b, U8, BAnd)
	for _, x := range b {
		assert.Equal(t, byte(0xff), x)
	}

	FillIdentity(b, I64, BAnd)
	assert.Equal(t, -1.0, Value(b, I64, 0))

	FillIdentity(b, I16, Max)
	assert.Equal(t, float64(math.MinInt16), Value(b, I16, 3))
	FillIdentity(b, U32, Min)
	assert.Equal(t, float64(math.MaxUint32), Value(b, U32, 2))

	FillIdentity(b, F64, Max)
	assert.True(t, math.IsInf(Value(b, F64, 0), -1))
	FillIdentity(b, F16, Prod)
	assert.Equal(t, 1.0, Value(b, F16, 5))
	FillIdentity(b, F32, Sum)
	for i := 0; i < 8; i++ {
		assert.True(t, math.Signbit(Value(b, F32, i)))
		assert.Equal(t, 0.0, Value(b, F32, i))
	}
	FillIdentity(b, F16, Sum)
	assert.Equal(t, []byte{0, 0x80}, b[:2])
}

// TestReduceSpecialFloats checks that -0, NaN and the
// infinities survive a reduction against the identity in
// either order.
func TestReduceSpecialFloats(t *testing.T) {
	specials := []float64{math.Copysign(0, -1), math.NaN(), math.Inf(1), math.Inf(-1), 0.5}
	for _, dt := range []DataType{F16, F32, F64} {
		dt := dt
		for _, op := range []Op{Sum, Prod, Max, Min} {
			op := op
			t.Run(fmt.Sprintf("%s/%s", dt, op), func(t *testing.T) {
				input := make([]byte, len(specials)*dt.Size())
				for i, x := range specials {
					PutFloat(input, dt, i, x)
				}
				identity := make([]byte, len(input))
				FillIdentity(identity, dt, op)

				acc := append([]byte{}, identity...)
				Reduce(acc, input, dt, op)
				assert.Equal(t, input, acc, "identity first")

				acc = append([]byte{}, input...)
				Reduce(acc, identity, dt, op)
				assert.Equal(t, input, acc, "input first")
			})
		}
	}
}

func TestReduceNaN(t *testing.T) {
	a := make([]byte, 16)
	b := make([]byte, 16)
	PutFloat(a, F64, 0, math.NaN())
	PutFloat(a, F64, 1, 3)
	PutFloat(b, F64, 0, 7)
	PutFloat(b, F64, 1, math.NaN())
	Reduce(a, b, F64, Max)
	assert.True(t, math.IsNaN(Value(a, F64, 0)))
	assert.True(t, math.IsNaN(Value(a, F64, 1)))
}

// TestIdentityNeutral reduces identity-filled buffers
// with no actual contributions and with one contribution.
func TestIdentityNeutral(t *testing.T) {
	for _, dt := range DataTypes() {
		dt := dt
		for _, op := range Ops() {
			op := op
			if !op.Supports(dt) {
				continue
			}
			t.Run(fmt.Sprintf("%s/%s", dt, op), func(t *testing.T) {
				const n = 7
				acc := make([]byte, n*dt.Size())
				FillIdentity(acc, dt, op)
				other := make([]byte, len(acc))
				FillIdentity(other, dt, op)
				Reduce(acc, other, dt, op)
				require.Equal(t, other, acc, "identity op identity must be identity")

				input := make([]byte, len(acc))
				for i := 0; i < n; i++ {
					Put(input, dt, i, int64(i%3))
				}
				expected := append([]byte{}, input...)
				if op.Logical() {
					for i := 0; i < n; i++ {
						if i%3 != 0 {
							Put(expected, dt, i, 1)
						}
					}
				}
				Reduce(acc, input, dt, op)
				require.Equal(t, expected, acc)
			})
		}
	}
}

func TestReduce(t *testing.T) {
	ints := func(dt DataType, vals ...int64) []byte {
		b := make([]byte, len(vals)*dt.Size())
		for i, v := range vals {
			Put(b, dt, i, v)
		}
		return b
	}

	tests := []struct {
		dt       DataType
		op       Op
		a, b     []int64
		expected []int64
	}{
		{I32, Sum, []int64{1, -2, 3}, []int64{4, 5, -6}, []int64{5, 3, -3}},
		{I64, Prod, []int64{2, -3, 0}, []int64{4, 5, 9}, []int64{8, -15, 0}},
		{I8, Max, []int64{-5, 7, 0}, []int64{-6, 8, 0}, []int64{-5, 8, 0}},
		{U16, Min, []int64{5, 7, 9}, []int64{6, 1, 9}, []int64{5, 1, 9}},
		{U8, BAnd, []int64{0xf0, 0x0f, 0xff}, []int64{0x3c, 0x3c, 0x3c}, []int64{0x30, 0x0c, 0x3c}},
		{U32, BOr, []int64{1, 2, 4}, []int64{8, 2, 0}, []int64{9, 2, 4}},
		{I16, BXor, []int64{5, 5, 0}, []int64{3, 5, 1}, []int64{6, 0, 1}},
		{U64, LAnd, []int64{0, 3, 2}, []int64{4, 0, 9}, []int64{0, 0, 1}},
		{I32, LOr, []int64{0, 3, 0}, []int64{0, 0, 9}, []int64{0, 1, 1}},
		{F32, Sum, []int64{1, 2, 3}, []int64{4, 5, 6}, []int64{5, 7, 9}},
		{F64, Min, []int64{1, -2, 3}, []int64{4, -5, 6}, []int64{1, -5, 3}},
		{F16, Prod, []int64{2, 4, -1}, []int64{8, 16, 3}, []int64{16, 64, -3}},
	}
	for _, test := range tests {
		dst := ints(test.dt, test.a...)
		Reduce(dst, ints(test.dt, test.b...), test.dt, test.op)
		assert.Equal(t, ints(test.dt, test.expected...), dst, "%s %s", test.dt, test.op)
	}
}

func TestReducePanics(t *testing.T) {
	require.Panics(t, func() {
		Reduce(make([]byte, 8), make([]byte, 4), I32, Sum)
	})
	require.Panics(t, func() {
		Reduce(make([]byte, 8), make([]byte, 8), F64, BAnd)
	})
	require.Panics(t, func() {
		FillIdentity(make([]byte, 8), F32, LOr)
	})
	require.NotPanics(t, func() {
		Reduce(nil, nil, F16, Sum)
	})
}
