package allreduce

import (
	"github.com/unixpickle/collbench/buffer"
	"github.com/unixpickle/collbench/collcomm"
	"github.com/unixpickle/collbench/dtype"
)

// A NaiveAllreducer sends every vector from every node
// to every other node.
type NaiveAllreducer struct{}

// Allreduce folds all of the nodes' vectors on every
// node, in rank order.
func (n NaiveAllreducer) Allreduce(c *collcomm.Comms, send, recv *buffer.Vector, op dtype.Op) {
	checkShapes(send, recv)
	tag := c.NewCollectiveTag()
	gatheredVecs := make([]*buffer.Vector, c.Size())

	for i := 0; i < c.Size(); i++ {
		if i != c.Rank() {
			c.SendVector(i, tag, send)
		}
	}
	for i := 0; i < c.Size(); i++ {
		if i == c.Rank() {
			gatheredVecs[i] = send
		} else {
			gatheredVecs[i] = send.Clone()
			c.RecvVector(i, tag, gatheredVecs[i])
		}
	}

	acc := gatheredVecs[0].Clone()
	for _, vec := range gatheredVecs[1:] {
		c.ReduceLocal(acc, vec, op)
	}
	recv.MustCopyFrom(acc)
}
