package collectives

import "k8s.io/klog/v2"

// All-gather realizations. After Execute, every rank's
// receive buffer holds the contributions of all ranks,
// MSize elements each, in rank order.

func initAllgatherAsAlltoall(info BasicInfo, msize int, p *Params) error {
	InitCommon(info, p)
	total := int64(msize) * int64(p.NumProcs)
	if err := checkCounts(p, int64(msize), total); err != nil {
		return err
	}
	p.MSize = msize

	// The send buffer holds one copy of the contribution
	// for every rank.
	p.SCount = int(total)
	p.RCount = int(total)
	return p.allocate(p.SCount, p.RCount, noScratch)
}

func executeAllgatherAsAlltoall(p *Params) {
	// Slot 0 holds the contribution. Alltoall sends slot i
	// to rank i, so every slot must carry the same data.
	first := p.SendBuf.Block(0, p.MSize)
	for i := 1; i < p.NumProcs; i++ {
		p.SendBuf.Block(i, p.MSize).MustCopyFrom(first)
	}
	p.Comm.Alltoall(p.SendBuf, p.RecvBuf)
}

func initAllgatherAsAllreduce(info BasicInfo, msize int, p *Params) error {
	InitCommon(info, p)
	total := int64(msize) * int64(p.NumProcs)
	if err := checkCounts(p, int64(msize), total); err != nil {
		return err
	}
	if err := checkReduction(p); err != nil {
		return err
	}
	if !p.Op.PreservesValues() {
		return configError(p, "operator %s does not preserve values against its identity", p.Op)
	}
	p.MSize = msize
	p.SCount = msize
	p.RCount = int(total)
	if err := p.allocate(p.SCount, p.RCount, p.RCount); err != nil {
		return err
	}

	// Every slot but our own keeps the identity, so the
	// reduction leaves each rank's slot untouched.
	p.TmpBuf.FillIdentity(p.Op)
	klog.V(1).Infof("rank %d: seeded %d scratch elements with the %s identity", p.Rank,
		p.TmpBuf.Count, p.Op)
	return nil
}

func executeAllgatherAsAllreduce(p *Params) {
	p.TmpBuf.Block(p.Rank, p.MSize).MustCopyFrom(p.SendBuf)
	p.Comm.Allreduce(p.TmpBuf, p.RecvBuf, p.Op)
}

func initAllgatherAsGatherBcast(info BasicInfo, msize int, p *Params) error {
	InitCommon(info, p)
	total := int64(msize) * int64(p.NumProcs)
	if err := checkCounts(p, int64(msize), total); err != nil {
		return err
	}
	if err := checkRoot(p); err != nil {
		return err
	}
	p.MSize = msize
	p.SCount = msize
	p.RCount = int(total)
	return p.allocate(p.SCount, p.RCount, noScratch)
}

func executeAllgatherAsGatherBcast(p *Params) {
	p.Comm.Gather(p.SendBuf, p.RecvBuf, p.Root)
	p.Comm.Bcast(p.RecvBuf, p.Root)
}

func checkRoot(p *Params) error {
	if p.Root < 0 || p.Root >= p.NumProcs {
		return configError(p, "root %d is not a rank in a group of %d", p.Root, p.NumProcs)
	}
	return nil
}
