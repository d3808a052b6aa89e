package collcomm

import (
	"fmt"

	"github.com/unixpickle/collbench/buffer"
)

// A Status describes a completed receive.
type Status struct {
	Source int
	Tag    int
	Count  int
}

// A Request is a handle on a non-blocking send or
// receive. It completes at Wait.
type Request struct {
	comms  *Comms
	isSend bool
	doneAt float64

	buf     *buffer.Vector
	context int
	source  int
	tag     int

	done   bool
	env    *Envelope
	status Status
}

func (r *Request) matches(env *Envelope) bool {
	return env.Context == r.context &&
		(r.source == AnySource || r.source == env.Source) &&
		(r.tag == AnyTag || r.tag == env.Tag)
}

func (r *Request) complete(env *Envelope) {
	r.env = env
	r.done = true
	r.status = Status{Source: env.Source, Tag: env.Tag}
	if r.buf == nil {
		return
	}
	data, ok := env.Payload.([]byte)
	if !ok {
		panic(fmt.Sprintf("expected a data message but got %T", env.Payload))
	}
	if len(data) > len(r.buf.Data) {
		panic(fmt.Sprintf("message truncated: %d bytes into a %d byte buffer", len(data), len(r.buf.Data)))
	}
	copy(r.buf.Data, data)
	r.status.Count = len(data) / r.buf.Type.Size()
}

// Send sends a buffer to dst and blocks until the buffer
// has been injected into the network and may be reused.
func (c *Comms) Send(buf *buffer.Vector, dst, tag int) {
	c.Wait(c.Isend(buf, dst, tag))
}

// Isend starts sending a buffer to dst.
//
// The data is captured immediately, but the request only
// completes once the injection time has elapsed.
func (c *Comms) Isend(buf *buffer.Vector, dst, tag int) *Request {
	if tag < 0 {
		panic("negative tag")
	}
	c.sendData(dst, pointToPointContext, tag, buf)
	return &Request{comms: c, isSend: true, doneAt: c.Handle.Time() + c.injectionTime(buf.Bytes())}
}

// Recv blocks until a message from src with the given tag
// has been received into buf.
// Either argument may be a wildcard.
func (c *Comms) Recv(buf *buffer.Vector, src, tag int) Status {
	return c.Wait(c.Irecv(buf, src, tag))
}

// Irecv posts a receive into buf.
//
// Posted receives are matched in the order they were
// posted, so an Irecv takes precedence over any later
// receive with the same source and tag.
func (c *Comms) Irecv(buf *buffer.Vector, src, tag int) *Request {
	if src != AnySource {
		c.checkRank(src)
	}
	req := &Request{comms: c, buf: buf, context: pointToPointContext, source: src, tag: tag}
	c.post(req)
	return req
}

// Wait blocks until a request completes.
func (c *Comms) Wait(req *Request) Status {
	if req.comms != c {
		panic("request belongs to a different Comms")
	}
	if req.isSend {
		c.Handle.SleepUntil(req.doneAt)
		req.done = true
		return req.status
	}
	for !req.done {
		c.progress()
	}
	return req.status
}

// Waitall waits for every request in order.
func (c *Comms) Waitall(reqs ...*Request) []Status {
	res := make([]Status, len(reqs))
	for i, req := range reqs {
		res[i] = c.Wait(req)
	}
	return res
}

// Test checks if a request has completed without
// blocking.
func (r *Request) Test() bool {
	if r.isSend && !r.done && r.comms.Handle.Time() >= r.doneAt {
		r.done = true
	}
	return r.done
}

// Sendrecv sends one buffer and receives into another as
// a single operation, which cannot deadlock against a
// matching Sendrecv on the peer.
func (c *Comms) Sendrecv(sendBuf *buffer.Vector, dst, sendTag int, recvBuf *buffer.Vector,
	src, recvTag int) Status {
	recvReq := c.Irecv(recvBuf, src, recvTag)
	sendReq := c.Isend(sendBuf, dst, sendTag)
	c.Wait(sendReq)
	return c.Wait(recvReq)
}

func (c *Comms) injectionTime(bytes int) float64 {
	if c.InjectionRate <= 0 {
		return 0
	}
	return float64(bytes) / c.InjectionRate
}

func (c *Comms) sendData(dst, context, tag int, buf *buffer.Vector) {
	payload := append([]byte{}, buf.Data...)
	c.transmit(dst, context, tag, payload, float64(len(payload)))
}

func (c *Comms) recvData(src, context, tag int, buf *buffer.Vector) Status {
	req := &Request{comms: c, buf: buf, context: context, source: src, tag: tag}
	c.post(req)
	return c.Wait(req)
}
