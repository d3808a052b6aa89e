package collcomm

import (
	"fmt"

	"github.com/unixpickle/collbench/buffer"
	"github.com/unixpickle/collbench/dtype"
)

// NewCollectiveTag allocates the tag for the next
// collective operation.
//
// Every rank must call collectives in the same order, so
// the tags agree across the group without any messages.
func (c *Comms) NewCollectiveTag() int {
	c.collSeq++
	return c.collSeq
}

// SendCollective sends an arbitrary payload as part of a
// collective operation.
// The payload is shared with the receiver, so neither
// side may modify it afterwards.
func (c *Comms) SendCollective(dst, tag int, payload interface{}, size float64) {
	c.transmit(dst, collectiveContext, tag, payload, size)
}

// RecvCollective blocks until a payload sent with
// SendCollective arrives.
// The source may be AnySource.
func (c *Comms) RecvCollective(src, tag int) *Envelope {
	req := &Request{comms: c, context: collectiveContext, source: src, tag: tag}
	c.post(req)
	c.Wait(req)
	return req.env
}

// SendVector sends a copy of a buffer as part of a
// collective operation.
func (c *Comms) SendVector(dst, tag int, v *buffer.Vector) {
	c.sendData(dst, collectiveContext, tag, v)
}

// RecvVector receives a buffer sent with SendVector.
func (c *Comms) RecvVector(src, tag int, v *buffer.Vector) Status {
	return c.recvData(src, collectiveContext, tag, v)
}

// Barrier blocks until every rank has entered it.
func (c *Comms) Barrier() {
	tag := c.NewCollectiveTag()
	n := c.Size()
	for k := 1; k < n; k *= 2 {
		c.SendCollective((c.rank+k)%n, tag, nil, 0)
		c.RecvCollective((c.rank-k+n)%n, tag)
	}
}

// Bcast copies the root's buffer into every other rank's
// buffer.
func (c *Comms) Bcast(buf *buffer.Vector, root int) {
	c.checkRank(root)
	tag := c.NewCollectiveTag()
	parent, children := TreePosition(c.rank, root, c.Size())
	if parent >= 0 {
		c.RecvVector(parent, tag, buf)
	}
	for _, child := range children {
		c.SendVector(child, tag, buf)
	}
}

// Reduce combines every rank's send buffer with op and
// stores the result in the root's receive buffer.
//
// The receive buffer is only used on the root.
func (c *Comms) Reduce(send, recv *buffer.Vector, op dtype.Op, root int) {
	c.checkRank(root)
	tag := c.NewCollectiveTag()
	parent, children := TreePosition(c.rank, root, c.Size())

	acc := send.Clone()
	if len(children) > 0 {
		tmp := &buffer.Vector{Data: make([]byte, len(send.Data)), Count: send.Count, Type: send.Type}
		for _, child := range children {
			c.RecvVector(child, tag, tmp)
			c.ReduceLocal(acc, tmp, op)
		}
	}
	if parent >= 0 {
		c.SendVector(parent, tag, acc)
	} else {
		recv.MustCopyFrom(acc)
	}
}

// Allreduce combines every rank's send buffer with op and
// stores the result in every rank's receive buffer.
func (c *Comms) Allreduce(send, recv *buffer.Vector, op dtype.Op) {
	if send.Count != recv.Count || send.Type != recv.Type {
		panic("mismatching send and receive buffers")
	}
	if c.Allreducer != nil {
		c.Allreducer.Allreduce(c, send, recv, op)
		return
	}
	c.Reduce(send, recv, op, 0)
	c.Bcast(recv, 0)
}

// Gather concatenates every rank's send buffer, in rank
// order, into the root's receive buffer.
func (c *Comms) Gather(send, recv *buffer.Vector, root int) {
	c.checkRank(root)
	tag := c.NewCollectiveTag()
	if c.rank != root {
		c.SendVector(root, tag, send)
		return
	}
	count := send.Count
	if recv.Count < count*c.Size() {
		panic(fmt.Sprintf("gather: receive buffer holds %d of %d elements", recv.Count,
			count*c.Size()))
	}
	for i := 0; i < c.Size(); i++ {
		slot := recv.Block(i, count)
		if i == root {
			slot.MustCopyFrom(send)
		} else {
			c.RecvVector(i, tag, slot)
		}
	}
}

// Allgather concatenates every rank's send buffer, in
// rank order, into every rank's receive buffer.
//
// Blocks travel around a ring, so each rank sends and
// receives Size()-1 messages.
func (c *Comms) Allgather(send, recv *buffer.Vector) {
	n := c.Size()
	count := send.Count
	counts := make([]int, n)
	displs := make([]int, n)
	for i := range counts {
		counts[i] = count
		displs[i] = i * count
	}
	c.Allgatherv(send, recv, counts, displs)
}

// Allgatherv is like Allgather, but rank i contributes
// counts[i] elements which land at offset displs[i].
func (c *Comms) Allgatherv(send, recv *buffer.Vector, counts, displs []int) {
	n := c.Size()
	if len(counts) != n || len(displs) != n {
		panic("allgatherv: need one count and displacement per rank")
	}
	if send.Count != counts[c.rank] {
		panic(fmt.Sprintf("allgatherv: rank %d sends %d elements but counts say %d", c.rank,
			send.Count, counts[c.rank]))
	}
	tag := c.NewCollectiveTag()
	block := func(i int) *buffer.Vector {
		return recv.Slice(displs[i], displs[i]+counts[i])
	}
	block(c.rank).MustCopyFrom(send)

	left := (c.rank - 1 + n) % n
	right := (c.rank + 1) % n
	for step := 0; step < n-1; step++ {
		sendIdx := (c.rank - step + n) % n
		recvIdx := (c.rank - step - 1 + n) % n
		c.SendVector(right, tag, block(sendIdx))
		c.RecvVector(left, tag, block(recvIdx))
	}
}

// Alltoall sends block i of every rank's send buffer to
// rank i, which stores it as block j of its receive
// buffer, where j is the sender.
//
// Both buffers hold Size() equal blocks.
func (c *Comms) Alltoall(send, recv *buffer.Vector) {
	n := c.Size()
	if send.Count%n != 0 || send.Count != recv.Count {
		panic("alltoall: buffers must hold one equal block per rank")
	}
	count := send.Count / n
	tag := c.NewCollectiveTag()
	recv.Block(c.rank, count).MustCopyFrom(send.Block(c.rank, count))
	for step := 1; step < n; step++ {
		dst := (c.rank + step) % n
		src := (c.rank - step + n) % n
		c.SendVector(dst, tag, send.Block(dst, count))
		c.RecvVector(src, tag, recv.Block(src, count))
	}
}

// ReduceScatter reduces every rank's send buffer with op
// and scatters the result: rank i receives counts[i]
// elements, starting at the sum of the previous counts.
//
// Contributions are combined in rank order, so every
// rank sees the same rounding.
func (c *Comms) ReduceScatter(send, recv *buffer.Vector, counts []int, op dtype.Op) {
	n := c.Size()
	if len(counts) != n {
		panic("reduce_scatter: need one count per rank")
	}
	displs := make([]int, n)
	total := 0
	for i, count := range counts {
		displs[i] = total
		total += count
	}
	if total != send.Count {
		panic(fmt.Sprintf("reduce_scatter: counts sum to %d but send buffer holds %d", total,
			send.Count))
	}
	if recv.Count < counts[c.rank] {
		panic("reduce_scatter: receive buffer too small")
	}
	tag := c.NewCollectiveTag()
	for step := 1; step < n; step++ {
		dst := (c.rank + step) % n
		c.SendVector(dst, tag, send.Slice(displs[dst], displs[dst]+counts[dst]))
	}

	mine := send.Slice(displs[c.rank], displs[c.rank]+counts[c.rank])
	out := recv.Slice(0, counts[c.rank])
	tmp := &buffer.Vector{Data: make([]byte, len(mine.Data)), Count: mine.Count, Type: mine.Type}
	for i := 0; i < n; i++ {
		contrib := mine
		if i != c.rank {
			c.RecvVector(i, tag, tmp)
			contrib = tmp
		}
		if i == 0 {
			out.MustCopyFrom(contrib)
		} else {
			c.ReduceLocal(out, contrib, op)
		}
	}
}

// ReduceScatterBlock is ReduceScatter where every rank
// receives the same number of elements.
func (c *Comms) ReduceScatterBlock(send, recv *buffer.Vector, count int, op dtype.Op) {
	counts := make([]int, c.Size())
	for i := range counts {
		counts[i] = count
	}
	c.ReduceScatter(send, recv, counts, op)
}
