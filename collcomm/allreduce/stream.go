package allreduce

import (
	"github.com/unixpickle/collbench/buffer"
	"github.com/unixpickle/collbench/collcomm"
	"github.com/unixpickle/collbench/dtype"
	"github.com/unixpickle/essentials"
)

// A StreamAllreducer splits a vector up into smaller
// messages and streams the messages through all the nodes
// at once.
//
// The reduction has two phases: Reduce and Broadcast.
// During Reduce, the fully reduced vector arrives at the
// first node.
// During Broadcast, the reduced vector is streamed from
// the first node to all the other nodes.
type StreamAllreducer struct {
	// Granularity determines how many chunks the data is
	// split up into.
	// The actual number of chunks is multiplied by the
	// number of nodes.
	//
	// If Granularity is 0, it is treated as 1.
	Granularity int
}

// Allreduce streams chunks of data around the ring and
// stores the final reduction in recv.
func (s StreamAllreducer) Allreduce(c *collcomm.Comms, send, recv *buffer.Vector, op dtype.Op) {
	checkShapes(send, recv)
	tag := c.NewCollectiveTag()
	if send.Count == 0 || c.Size() == 1 {
		recv.MustCopyFrom(send)
		return
	}
	var reduced []byte
	if c.Rank() == 0 {
		reduced = s.allreduceRoot(c, tag, send)
	} else {
		reduced = s.allreduceOther(c, tag, send, op)
	}
	copy(recv.Data, reduced)
}

func (s StreamAllreducer) allreduceRoot(c *collcomm.Comms, tag int, data *buffer.Vector) []byte {
	chunksOut := s.chunkify(c, data)
	reduced := make([]byte, 0, len(data.Data))

	// Kick off the reduction cycle.
	(&streamPacket{packetType: streamPacketReduce, payload: chunksOut[0]}).Send(c, tag)
	chunksOut = chunksOut[1:]

	// Push the reduction through the ring.
	waitingReduceAck := true
	for len(reduced) < len(data.Data) {
		packet := recvStreamPacket(c, tag)
		switch packet.packetType {
		case streamPacketReduce:
			reduced = append(reduced, packet.payload.Data...)
			(&streamPacket{packetType: streamPacketReduceAck}).Send(c, tag)
		case streamPacketReduceAck:
			if !waitingReduceAck {
				panic("unexpected ACK")
			}
			if len(chunksOut) > 0 {
				(&streamPacket{packetType: streamPacketReduce, payload: chunksOut[0]}).Send(c, tag)
				chunksOut = chunksOut[1:]
			} else {
				waitingReduceAck = false
			}
		default:
			panic("unexpected packet type")
		}
	}

	if len(chunksOut) > 0 {
		panic("unexpected reduction completion")
	} else if len(reduced) != len(data.Data) {
		panic("excess data")
	}

	// Push the data through the bcast cycle.
	for _, chunk := range s.chunkify(c, buffer.Wrap(reduced, data.Type)) {
		(&streamPacket{packetType: streamPacketBcast, payload: chunk}).Send(c, tag)
		for {
			packet := recvStreamPacket(c, tag)
			if packet.packetType == streamPacketReduceAck {
				if !waitingReduceAck {
					panic("unexpected ACK")
				}
				waitingReduceAck = false
			} else if packet.packetType == streamPacketBcastAck {
				break
			} else {
				panic("unexpected packet type")
			}
		}
	}

	// The ACK for the last reduce chunk may still be in
	// flight on a slow link.
	if waitingReduceAck {
		packet := recvStreamPacket(c, tag)
		if packet.packetType != streamPacketReduceAck {
			panic("unexpected packet type")
		}
	}

	return reduced
}

func (s StreamAllreducer) allreduceOther(c *collcomm.Comms, tag int, data *buffer.Vector,
	op dtype.Op) []byte {
	var reduced []byte

	isLastNode := c.Rank()+1 == c.Size()

	// Reduce our data into the stream.
	var reduceBlocked bool
	var reduceBuf []*streamPacket
	remainingData := data
	for len(reduced) == 0 {
		packet := recvStreamPacket(c, tag)
		switch packet.packetType {
		case streamPacketReduce:
			(&streamPacket{packetType: streamPacketReduceAck}).Send(c, tag)
			chunk := packet.payload.Clone()
			c.ReduceLocal(chunk, remainingData.Slice(0, chunk.Count), op)
			remainingData = remainingData.Slice(chunk.Count, remainingData.Count)
			outPacket := &streamPacket{packetType: streamPacketReduce, payload: chunk}
			reduceBuf = append(reduceBuf, outPacket)
		case streamPacketReduceAck:
			if !reduceBlocked {
				panic("unexpected ACK")
			}
			reduceBlocked = false
		case streamPacketBcast:
			if len(reduceBuf) > 0 {
				panic("got bcast before reduce finished")
			}
			reduced = append(reduced, packet.payload.Data...)
			(&streamPacket{packetType: streamPacketBcastAck}).Send(c, tag)
			if !isLastNode {
				// Otherwise, the packet will never reach
				// the next node in the ring.
				packet.Send(c, tag)
			}
		default:
			panic("unexpected packet type")
		}
		if !reduceBlocked && len(reduceBuf) > 0 {
			reduceBuf[0].Send(c, tag)
			essentials.OrderedDelete(&reduceBuf, 0)
			reduceBlocked = true
		}
	}

	// Read the broadcasted reduction, and wait for every
	// outstanding ACK so that none of them leak into a
	// later operation.
	bcastBlocked := !isLastNode
	var bcastBuf []*streamPacket
	for len(reduced) < len(data.Data) || len(bcastBuf) > 0 || bcastBlocked || reduceBlocked {
		packet := recvStreamPacket(c, tag)
		switch packet.packetType {
		case streamPacketReduceAck:
			if !reduceBlocked {
				panic("unexpected ACK")
			}
			reduceBlocked = false
		case streamPacketBcast:
			reduced = append(reduced, packet.payload.Data...)
			(&streamPacket{packetType: streamPacketBcastAck}).Send(c, tag)
			if !isLastNode {
				outPacket := &streamPacket{packetType: streamPacketBcast, payload: packet.payload}
				bcastBuf = append(bcastBuf, outPacket)
			}
		case streamPacketBcastAck:
			if !bcastBlocked {
				panic("unexpected ACK")
			}
			bcastBlocked = false
		default:
			panic("unexpected packet type")
		}
		if !bcastBlocked && len(bcastBuf) > 0 {
			bcastBuf[0].Send(c, tag)
			essentials.OrderedDelete(&bcastBuf, 0)
			bcastBlocked = true
		}
	}

	return reduced
}

func (s StreamAllreducer) chunkify(c *collcomm.Comms, data *buffer.Vector) []*buffer.Vector {
	granularity := s.Granularity
	if granularity == 0 {
		granularity = 1
	}
	chunkSize := essentials.MaxInt(1, data.Count/(c.Size()*granularity))
	var res []*buffer.Vector
	for i := 0; i < data.Count; i += chunkSize {
		res = append(res, data.Slice(i, essentials.MinInt(data.Count, i+chunkSize)))
	}
	return res
}

type streamPacketType int

const (
	streamPacketReduce streamPacketType = iota
	streamPacketReduceAck
	streamPacketBcast
	streamPacketBcastAck
)

// A streamPacket is shared between the sender and the
// receiver, so its payload is never modified in place.
type streamPacket struct {
	packetType streamPacketType
	payload    *buffer.Vector
}

func recvStreamPacket(c *collcomm.Comms, tag int) *streamPacket {
	return c.RecvCollective(collcomm.AnySource, tag).Payload.(*streamPacket)
}

func (s *streamPacket) Size() float64 {
	if s.payload == nil {
		return 1
	}
	return float64(s.payload.Bytes()) + 1.0
}

// Send sends the packet to the appropriate host.
// For ACKs, this is the previous host.
// For other messages, this is the next host.
func (s *streamPacket) Send(c *collcomm.Comms, tag int) {
	idx := c.Rank()
	var dstIdx int
	if s.packetType == streamPacketReduceAck || s.packetType == streamPacketBcastAck {
		dstIdx = idx - 1
		if dstIdx < 0 {
			dstIdx = c.Size() - 1
		}
	} else {
		dstIdx = (idx + 1) % c.Size()
	}
	c.SendCollective(dstIdx, tag, s, s.Size())
}
