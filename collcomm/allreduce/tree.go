package allreduce

import (
	"github.com/unixpickle/collbench/buffer"
	"github.com/unixpickle/collbench/collcomm"
	"github.com/unixpickle/collbench/dtype"
)

// TreeAllreducer uses a binary tree to reduce values and
// then broadcast them back to every node.
type TreeAllreducer struct{}

// Allreduce reduces up the tree rooted at rank 0 and then
// sends the result back down.
func (t TreeAllreducer) Allreduce(c *collcomm.Comms, send, recv *buffer.Vector, op dtype.Op) {
	checkShapes(send, recv)
	tag := c.NewCollectiveTag()
	parent, children := collcomm.TreePosition(c.Rank(), 0, c.Size())

	finalVector := send.Clone()
	if len(children) > 0 {
		incoming := send.Clone()
		for _, child := range children {
			c.RecvVector(child, tag, incoming)
			c.ReduceLocal(finalVector, incoming, op)
		}
	}

	if parent >= 0 {
		c.SendVector(parent, tag, finalVector)
		c.RecvVector(parent, tag, finalVector)
	}

	for _, child := range children {
		c.SendVector(child, tag, finalVector)
	}

	recv.MustCopyFrom(finalVector)
}
