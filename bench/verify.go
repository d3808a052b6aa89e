package bench

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/unixpickle/collbench/buffer"
	"github.com/unixpickle/collbench/collectives"
	"github.com/unixpickle/collbench/dtype"
)

// ErrVerification is wrapped by every mismatch between a
// result and its reference.
var ErrVerification = errors.New("verification failed")

// FillInput writes the input pattern of a rank.
//
// Integer patterns stay below 127 so they fit every
// integer type. Floating-point patterns only use 1, 2 and
// 4, which keeps sums and products of a few ranks exact in
// any order of evaluation.
func FillInput(v *buffer.Vector, rank int) {
	for j := 0; j < v.Count; j++ {
		if v.Type.IsFloat() {
			dtype.PutFloat(v.Data, v.Type, j, []float64{1, 2, 4}[(rank+j)%3])
		} else {
			dtype.Put(v.Data, v.Type, j, int64((rank*131+j*17+1)%127))
		}
	}
}

// Verify compares every rank's output against a reference
// computed from the inputs.
func Verify(v collectives.Variant, cfg *Config, records []rankRecord) error {
	switch v.Family() {
	case collectives.FamilyAllgather:
		var expected []byte
		for _, rec := range records {
			expected = append(expected, rec.input...)
		}
		return compareAll(records, expected)
	case collectives.FamilyAllreduce:
		expected := append([]byte{}, records[0].input...)
		for _, rec := range records[1:] {
			dtype.Reduce(expected, rec.input, cfg.Datatype, cfg.Op)
		}
		return compareAll(records, expected)
	case collectives.FamilyPingpong:
		initiator, responder := cfg.PingpongRanks[0], cfg.PingpongRanks[1]
		if !bytes.Equal(records[initiator].output, records[responder].input) {
			return errors.Wrapf(ErrVerification, "rank %d did not receive the buffer of rank %d",
				initiator, responder)
		}
		if !bytes.Equal(records[responder].output, records[initiator].input) {
			return errors.Wrapf(ErrVerification, "rank %d did not receive the buffer of rank %d",
				responder, initiator)
		}
		return nil
	}
	panic("unknown family")
}

func compareAll(records []rankRecord, expected []byte) error {
	for rank, rec := range records {
		if !bytes.Equal(rec.output, expected) {
			return errors.Wrapf(ErrVerification, "rank %d holds an incorrect result", rank)
		}
	}
	return nil
}
