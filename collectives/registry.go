package collectives

import (
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// A Variant is one realization of a logical operation.
type Variant int

const (
	AllgatherAsAlltoall Variant = iota
	AllgatherAsAllreduce
	AllgatherAsGatherBcast
	AllreduceAsReduceBcast
	AllreduceAsReducescatterAllgather
	AllreduceAsReducescatterblockAllgather
	AllreduceAsReducescatterAllgatherv
	PingpongSendRecv
	PingpongIsendRecv
	PingpongIsendIrecv
	PingpongSendrecv
)

// A Family groups the variants of one logical operation.
type Family int

const (
	FamilyAllgather Family = iota
	FamilyAllreduce
	FamilyPingpong
)

func (f Family) String() string {
	switch f {
	case FamilyAllgather:
		return "allgather"
	case FamilyAllreduce:
		return "allreduce"
	case FamilyPingpong:
		return "pingpong"
	}
	return "unknown"
}

// An Impl holds the lifecycle functions of a Variant.
type Impl struct {
	Name   string
	Family Family

	// Init fills in p and allocates its buffers.
	Init func(info BasicInfo, msize int, p *Params) error

	// Execute runs the operation once. It allocates
	// nothing and may be called any number of times.
	Execute func(p *Params)

	// Cleanup releases the buffers of p.
	Cleanup func(p *Params)
}

var impls = [...]Impl{
	AllgatherAsAlltoall: {
		Name:    "Allgather_as_Alltoall",
		Family:  FamilyAllgather,
		Init:    initAllgatherAsAlltoall,
		Execute: executeAllgatherAsAlltoall,
		Cleanup: cleanup,
	},
	AllgatherAsAllreduce: {
		Name:    "Allgather_as_Allreduce",
		Family:  FamilyAllgather,
		Init:    initAllgatherAsAllreduce,
		Execute: executeAllgatherAsAllreduce,
		Cleanup: cleanup,
	},
	AllgatherAsGatherBcast: {
		Name:    "Allgather_as_GatherBcast",
		Family:  FamilyAllgather,
		Init:    initAllgatherAsGatherBcast,
		Execute: executeAllgatherAsGatherBcast,
		Cleanup: cleanup,
	},
	AllreduceAsReduceBcast: {
		Name:    "Allreduce_as_ReduceBcast",
		Family:  FamilyAllreduce,
		Init:    initAllreduceAsReduceBcast,
		Execute: executeAllreduceAsReduceBcast,
		Cleanup: cleanup,
	},
	AllreduceAsReducescatterAllgather: {
		Name:    "Allreduce_as_ReducescatterAllgather",
		Family:  FamilyAllreduce,
		Init:    initAllreduceAsReducescatterAllgather,
		Execute: executeAllreduceAsReducescatterAllgather,
		Cleanup: cleanup,
	},
	AllreduceAsReducescatterblockAllgather: {
		Name:    "Allreduce_as_ReducescatterblockAllgather",
		Family:  FamilyAllreduce,
		Init:    initAllreduceAsReducescatterblockAllgather,
		Execute: executeAllreduceAsReducescatterblockAllgather,
		Cleanup: cleanup,
	},
	AllreduceAsReducescatterAllgatherv: {
		Name:    "Allreduce_as_ReducescatterAllgatherv",
		Family:  FamilyAllreduce,
		Init:    initAllreduceAsReducescatterAllgatherv,
		Execute: executeAllreduceAsReducescatterAllgatherv,
		Cleanup: cleanup,
	},
	PingpongSendRecv: {
		Name:    "Pingpong_Send_Recv",
		Family:  FamilyPingpong,
		Init:    initPingpong,
		Execute: executePingpongSendRecv,
		Cleanup: cleanup,
	},
	PingpongIsendRecv: {
		Name:    "Pingpong_Isend_Recv",
		Family:  FamilyPingpong,
		Init:    initPingpong,
		Execute: executePingpongIsendRecv,
		Cleanup: cleanup,
	},
	PingpongIsendIrecv: {
		Name:    "Pingpong_Isend_Irecv",
		Family:  FamilyPingpong,
		Init:    initPingpong,
		Execute: executePingpongIsendIrecv,
		Cleanup: cleanup,
	},
	PingpongSendrecv: {
		Name:    "Pingpong_Sendrecv",
		Family:  FamilyPingpong,
		Init:    initPingpong,
		Execute: executePingpongSendrecv,
		Cleanup: cleanup,
	},
}

func cleanup(p *Params) {
	p.release()
}

// Variants lists every variant in a stable order.
func Variants() []Variant {
	res := make([]Variant, len(impls))
	for i := range res {
		res[i] = Variant(i)
	}
	return res
}

// ParseVariant looks up a variant by its name, ignoring
// case.
func ParseVariant(name string) (Variant, error) {
	for i, impl := range impls {
		if strings.EqualFold(impl.Name, name) {
			return Variant(i), nil
		}
	}
	return 0, errors.Errorf("unknown variant: %s", name)
}

// Impl returns the lifecycle functions of v.
func (v Variant) Impl() *Impl {
	if v < 0 || int(v) >= len(impls) {
		panic("invalid variant")
	}
	return &impls[v]
}

func (v Variant) String() string {
	if v < 0 || int(v) >= len(impls) {
		return "Unknown"
	}
	return impls[v].Name
}

// Family returns the logical operation v realizes.
func (v Variant) Family() Family {
	return v.Impl().Family
}

// Init runs the Init phase of v on p.
func (v Variant) Init(info BasicInfo, msize int, p *Params) error {
	if p == nil {
		panic("nil parameter block")
	}
	p.Variant = v
	if err := v.Impl().Init(info, msize, p); err != nil {
		return err
	}
	klog.V(1).Infof("rank %d: initialized %s (send=%d recv=%d)", p.Rank, v, p.SCount, p.RCount)
	return nil
}

// Execute runs the Execute phase of v on p.
func (v Variant) Execute(p *Params) {
	if p.SendBuf == nil {
		panic("execute of a released parameter block")
	}
	v.Impl().Execute(p)
}

// Cleanup runs the Cleanup phase of v on p.
func (v Variant) Cleanup(p *Params) {
	v.Impl().Cleanup(p)
}

// MarshalText encodes the variant's name.
func (v Variant) MarshalText() ([]byte, error) {
	if v < 0 || int(v) >= len(impls) {
		return nil, errors.Errorf("invalid variant: %d", int(v))
	}
	return []byte(v.String()), nil
}

// UnmarshalText decodes a variant name.
func (v *Variant) UnmarshalText(text []byte) error {
	parsed, err := ParseVariant(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
