package collcomm

import (
	"github.com/unixpickle/collbench/buffer"
	"github.com/unixpickle/collbench/dtype"
)

// ReduceLocal performs dst[i] = dst[i] op src[i] and
// charges FlopTime for every element to the virtual
// clock.
func (c *Comms) ReduceLocal(dst, src *buffer.Vector, op dtype.Op) {
	if dst.Count != src.Count {
		panic("mismatching lengths")
	}
	dst.Reduce(src, op)

	// Simulate computation time.
	c.Handle.Sleep(c.FlopTime * float64(dst.Count))
}
