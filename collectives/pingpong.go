package collectives

import (
	"github.com/unixpickle/collbench/buffer"
	"github.com/unixpickle/collbench/dtype"
	"k8s.io/klog/v2"
)

// A Role is the part a rank plays in a ping-pong.
type Role int

const (
	Bystander Role = iota
	Initiator
	Responder
)

func (r Role) String() string {
	switch r {
	case Bystander:
		return "bystander"
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	}
	return "unknown"
}

// ResolveRole maps a rank to its ping-pong role and, for
// the two peers, the rank of the other peer.
// A bystander's peer is -1.
func ResolveRole(rank int, peers [2]int) (Role, int) {
	switch rank {
	case peers[0]:
		return Initiator, peers[1]
	case peers[1]:
		return Responder, peers[0]
	}
	return Bystander, -1
}

func initPingpong(info BasicInfo, msize int, p *Params) error {
	InitCommon(info, p)
	if p.NumProcs < 2 {
		return configError(p, "cannot perform a ping-pong with only one process")
	}
	peers := p.PingpongRanks
	if peers[0] < 0 || peers[0] >= p.NumProcs || peers[1] < 0 || peers[1] >= p.NumProcs ||
		peers[0] == peers[1] {
		return configError(p, "invalid ping-pong ranks (%d,%d) in a group of %d", peers[0],
			peers[1], p.NumProcs)
	}
	if err := checkCounts(p, int64(msize)); err != nil {
		return err
	}

	p.Role, p.Peer = ResolveRole(p.Rank, peers)
	if p.Role != Bystander {
		checkSameHost(p)
	}

	p.MSize = msize
	p.SCount = msize
	p.RCount = msize
	return p.allocate(p.SCount, p.RCount, noScratch)
}

// checkSameHost exchanges processor names between the
// two peers and warns when they share a host.
func checkSameHost(p *Params) {
	local := []byte(p.Comm.ProcessorName())

	localLen := buffer.Wrap(make([]byte, 4), dtype.I32)
	dtype.Put(localLen.Data, dtype.I32, 0, int64(len(local)))
	otherLen := buffer.Wrap(make([]byte, 4), dtype.I32)
	p.Comm.Sendrecv(localLen, p.Peer, p.Tag, otherLen, p.Peer, p.Tag)

	other := make([]byte, int(dtype.Value(otherLen.Data, dtype.I32, 0)))
	p.Comm.Sendrecv(buffer.Wrap(local, dtype.U8), p.Peer, p.Tag, buffer.Wrap(other, dtype.U8),
		p.Peer, p.Tag)

	if string(local) == string(other) && p.Role == Initiator {
		klog.Warningf("The two ping-pong ranks are running on the same host (%s)", local)
	}
}

func checkPeers(p *Params) {
	if p.PingpongRanks[0] == p.PingpongRanks[1] {
		panic("ping-pong ranks must be distinct")
	}
}

func executePingpongSendRecv(p *Params) {
	checkPeers(p)
	switch p.Role {
	case Initiator:
		p.Comm.Send(p.SendBuf, p.Peer, p.Tag)
		p.Comm.Recv(p.RecvBuf, p.Peer, p.Tag)
	case Responder:
		p.Comm.Recv(p.RecvBuf, p.Peer, p.Tag)
		p.Comm.Send(p.SendBuf, p.Peer, p.Tag)
	}
}

func executePingpongIsendRecv(p *Params) {
	checkPeers(p)
	if p.Role == Bystander {
		return
	}
	req := p.Comm.Isend(p.SendBuf, p.Peer, p.Tag)
	p.Comm.Recv(p.RecvBuf, p.Peer, p.Tag)
	p.Comm.Wait(req)
}

func executePingpongIsendIrecv(p *Params) {
	checkPeers(p)
	if p.Role == Bystander {
		return
	}
	sendReq := p.Comm.Isend(p.SendBuf, p.Peer, p.Tag)
	recvReq := p.Comm.Irecv(p.RecvBuf, p.Peer, p.Tag)
	p.Comm.Waitall(sendReq, recvReq)
}

func executePingpongSendrecv(p *Params) {
	checkPeers(p)
	if p.Role == Bystander {
		return
	}
	p.Comm.Sendrecv(p.SendBuf, p.Peer, p.Tag, p.RecvBuf, p.Peer, p.Tag)
}
