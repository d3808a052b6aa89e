package collcomm

import (
	"fmt"

	"github.com/unixpickle/collbench/buffer"
	"github.com/unixpickle/collbench/dtype"
	"github.com/unixpickle/collbench/simulator"
	"github.com/unixpickle/essentials"
)

// AnySource and AnyTag are wildcards for receives.
const (
	AnySource = -1
	AnyTag    = -1
)

const (
	pointToPointContext = iota
	collectiveContext
)

// An Allreducer is an algorithm that implements the
// Allreduce primitive on top of point-to-point messages.
type Allreducer interface {
	Allreduce(c *Comms, send, recv *buffer.Vector, op dtype.Op)
}

// Options configures the Comms created by SpawnComms.
type Options struct {
	// Allreducer implements Comms.Allreduce.
	// If nil, a Reduce followed by a Bcast is used.
	Allreducer Allreducer

	// InjectionRate is the rate, in bytes per unit of
	// virtual time, at which a process pushes data into
	// the network. Blocking sends wait for their data to
	// be injected; non-blocking sends complete at Wait.
	//
	// If it is 0, injection is instantaneous.
	InjectionRate float64

	// FlopTime is the virtual time it takes to combine
	// one pair of elements in a reduction.
	FlopTime float64
}

// Comms manages a set of connections between a bunch of
// nodes.
// Every simulated process has a local Comms object that
// represents its view of the group: its rank, the ports
// of its peers, and the messages it has received but not
// yet matched.
//
// Messages from one rank to another are matched in the
// order they were sent, whatever order the network
// delivers them in.
type Comms struct {
	// Handle is the node's main Goroutine's handle on the
	// event loop.
	Handle *simulator.Handle

	// Port is the current node's port.
	Port *simulator.Port

	// Ports contains ports to all the nodes in the
	// network, including the current node.
	// A node's index in Ports is its rank.
	Ports []*simulator.Port

	// Network is the network connecting the nodes.
	Network simulator.Network

	Options

	rank    int
	collSeq int

	sendSeq []int
	recvSeq []int
	held    [][]*Envelope

	unexpected []*Envelope
	posted     []*Request

	stats Stats
}

// An Envelope is the unit of data on the wire.
type Envelope struct {
	Context int
	Source  int
	Tag     int
	Seq     int
	Payload interface{}
}

// Stats counts the messages a Comms has sent.
type Stats struct {
	PointToPoint int
	Collective   int
	Bytes        float64
}

// NewComms creates the view of one rank in a group.
func NewComms(h *simulator.Handle, network simulator.Network, ports []*simulator.Port, rank int,
	opts *Options) *Comms {
	if rank < 0 || rank >= len(ports) {
		panic("rank out of range")
	}
	c := &Comms{
		Handle:  h,
		Port:    ports[rank],
		Ports:   ports,
		Network: network,
		rank:    rank,
		sendSeq: make([]int, len(ports)),
		recvSeq: make([]int, len(ports)),
		held:    make([][]*Envelope, len(ports)),
	}
	if opts != nil {
		c.Options = *opts
	}
	return c
}

// SpawnComms creates Comms objects for every node in a
// network and calls f for each node in its own Goroutine.
func SpawnComms(loop *simulator.EventLoop, network simulator.Network, nodes []*simulator.Node,
	opts *Options, f func(c *Comms)) {
	ports := make([]*simulator.Port, len(nodes))
	for i, node := range nodes {
		ports[i] = node.Port(loop)
	}
	for i := range nodes {
		rank := i
		loop.Go(func(h *simulator.Handle) {
			f(NewComms(h, network, ports, rank, opts))
		})
	}
}

// Size gets the number of nodes.
func (c *Comms) Size() int {
	return len(c.Ports)
}

// Rank returns the current node's index in the list of
// nodes.
func (c *Comms) Rank() int {
	return c.rank
}

// RemoteSize is the size of the group on the other side
// of the communicator, which for an intra-group Comms is
// the group itself.
func (c *Comms) RemoteSize() int {
	return len(c.Ports)
}

// IndexOf returns any port's rank.
func (c *Comms) IndexOf(p *simulator.Port) int {
	for i, port := range c.Ports {
		if port == p {
			return i
		}
	}
	panic("unreachable")
}

// ProcessorName names the host the current node runs on.
func (c *Comms) ProcessorName() string {
	if c.Port.Node.Host != "" {
		return c.Port.Node.Host
	}
	return fmt.Sprintf("node%d", c.rank)
}

// Stats returns the message counters.
func (c *Comms) Stats() Stats {
	return c.stats
}

// Pending counts messages that arrived but were never
// matched, plus receives that were never satisfied.
//
// After a well-formed sequence of operations this is 0.
func (c *Comms) Pending() int {
	res := len(c.unexpected) + len(c.posted)
	for _, h := range c.held {
		res += len(h)
	}
	return res
}

func (c *Comms) checkRank(rank int) {
	if rank < 0 || rank >= len(c.Ports) {
		panic(fmt.Sprintf("rank %d out of range [0, %d)", rank, len(c.Ports)))
	}
}

func (c *Comms) transmit(dst, context, tag int, payload interface{}, size float64) {
	c.checkRank(dst)
	env := &Envelope{
		Context: context,
		Source:  c.rank,
		Tag:     tag,
		Seq:     c.sendSeq[dst],
		Payload: payload,
	}
	c.sendSeq[dst]++
	if context == pointToPointContext {
		c.stats.PointToPoint++
	} else {
		c.stats.Collective++
	}
	c.stats.Bytes += size
	c.Network.Send(c.Handle, &simulator.Message{
		Source:  c.Port,
		Dest:    c.Ports[dst],
		Message: env,
		Size:    size,
	})
}

// progress blocks until one message arrives and feeds it
// through sequencing and matching.
func (c *Comms) progress() {
	msg := c.Port.Recv(c.Handle)
	env := msg.Message.(*Envelope)
	src := env.Source
	if env.Seq != c.recvSeq[src] {
		c.held[src] = append(c.held[src], env)
		return
	}
	c.match(env)
	c.recvSeq[src]++

	for found := true; found; {
		found = false
		for i, held := range c.held[src] {
			if held.Seq == c.recvSeq[src] {
				essentials.OrderedDelete(&c.held[src], i)
				c.match(held)
				c.recvSeq[src]++
				found = true
				break
			}
		}
	}
}

func (c *Comms) match(env *Envelope) {
	for i, req := range c.posted {
		if req.matches(env) {
			essentials.OrderedDelete(&c.posted, i)
			req.complete(env)
			return
		}
	}
	c.unexpected = append(c.unexpected, env)
}

func (c *Comms) post(req *Request) {
	for i, env := range c.unexpected {
		if req.matches(env) {
			essentials.OrderedDelete(&c.unexpected, i)
			req.complete(env)
			return
		}
	}
	c.posted = append(c.posted, req)
}
