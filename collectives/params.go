// Package collectives implements interchangeable
// realizations of collective operations on top of the
// primitives in collcomm.
//
// Every realization is a Variant with the same three
// phase lifecycle: Init allocates and seeds the buffers
// of a Params, Execute runs one instance of the logical
// operation, and Cleanup releases the buffers.
package collectives

import (
	"math"

	"github.com/pkg/errors"
	"github.com/unixpickle/collbench/buffer"
	"github.com/unixpickle/collbench/collcomm"
	"github.com/unixpickle/collbench/dtype"
)

// MaxCount is the largest element count any buffer may
// have. Primitive calls address elements with 32-bit
// counts.
const MaxCount = math.MaxInt32

// BasicInfo is the rank-invariant configuration shared by
// every variant.
type BasicInfo struct {
	Comm    *collcomm.Comms
	Buffers *buffer.Manager

	Datatype dtype.DataType
	Op       dtype.Op

	// Root is the coordinating rank of gather, broadcast
	// and reduce based variants.
	Root int

	// PingpongRanks are the initiator and responder of a
	// point-to-point exchange.
	PingpongRanks [2]int

	// Tag is used for all point-to-point traffic.
	Tag int
}

// Params describes one benchmarked operation instance.
//
// It is owned by a single rank and only mutated by the
// Init, Execute and Cleanup phases of one Variant.
type Params struct {
	Variant Variant

	Rank       int
	NumProcs   int
	RemoteSize int

	Comm    *collcomm.Comms
	Buffers *buffer.Manager

	Datatype     dtype.DataType
	DatatypeSize int
	Op           dtype.Op

	// MSize is the per-rank message size for the
	// all-gather and ping-pong families and the block
	// size for reduce-scatter based all-reduces.
	MSize  int
	SCount int
	RCount int

	CountsArray []int
	DisplsArray []int

	SendBuf *buffer.Vector
	RecvBuf *buffer.Vector
	TmpBuf  *buffer.Vector

	Root          int
	PingpongRanks [2]int
	Tag           int

	Role Role
	Peer int
}

// InitCommon fills in the rank-invariant fields of p.
// It allocates nothing.
func InitCommon(info BasicInfo, p *Params) {
	if p == nil {
		panic("nil parameter block")
	}
	if info.Comm == nil {
		panic("nil communicator")
	}
	p.Rank = info.Comm.Rank()
	p.NumProcs = info.Comm.Size()
	p.RemoteSize = info.Comm.RemoteSize()
	p.Comm = info.Comm
	p.Buffers = info.Buffers
	if p.Buffers == nil {
		p.Buffers = buffer.NewManager(0)
	}
	p.Datatype = info.Datatype
	p.DatatypeSize = info.Datatype.Size()
	p.Op = info.Op
	p.Root = info.Root
	p.PingpongRanks = info.PingpongRanks
	p.Tag = info.Tag
	p.Role = Bystander
	p.Peer = -1
}

// Input is the part of the send buffer that holds this
// rank's contribution.
func (p *Params) Input() *buffer.Vector {
	if p.Variant == AllgatherAsAlltoall {
		return p.SendBuf.Slice(0, p.MSize)
	}
	return p.SendBuf
}

// Output is the buffer that holds the result after an
// Execute.
func (p *Params) Output() *buffer.Vector {
	return p.RecvBuf
}

// Released checks if every buffer has been released.
func (p *Params) Released() bool {
	return p.SendBuf == nil && p.RecvBuf == nil && p.TmpBuf == nil &&
		p.CountsArray == nil && p.DisplsArray == nil
}

// noScratch tells allocate not to create a scratch
// buffer.
const noScratch = -1

// allocate creates the send, receive and scratch buffers.
//
// If any allocation fails, the buffers that were already
// created are released.
func (p *Params) allocate(sendCount, recvCount, tmpCount int) error {
	var err error
	p.SendBuf, err = p.Buffers.Allocate(sendCount, p.Datatype)
	if err == nil {
		p.RecvBuf, err = p.Buffers.Allocate(recvCount, p.Datatype)
	}
	if err == nil && tmpCount != noScratch {
		p.TmpBuf, err = p.Buffers.Allocate(tmpCount, p.Datatype)
	}
	if err != nil {
		p.release()
		return errors.WithMessagef(err, "rank %d", p.Rank)
	}
	return nil
}

// release frees every buffer owned by p and clears the
// references, so releasing twice is a no-op.
func (p *Params) release() {
	p.Buffers.Free(p.SendBuf)
	p.Buffers.Free(p.RecvBuf)
	p.Buffers.Free(p.TmpBuf)
	p.SendBuf = nil
	p.RecvBuf = nil
	p.TmpBuf = nil
	p.CountsArray = nil
	p.DisplsArray = nil
}
