package collectives

// All-reduce realizations. After Execute, every rank's
// receive buffer holds the element-wise reduction of all
// ranks' send buffers under Op.

func initReduction(info BasicInfo, msize int, p *Params) error {
	InitCommon(info, p)
	if err := checkCounts(p, int64(msize)); err != nil {
		return err
	}
	return checkReduction(p)
}

func initAllreduceAsReduceBcast(info BasicInfo, msize int, p *Params) error {
	if err := initReduction(info, msize, p); err != nil {
		return err
	}
	if err := checkRoot(p); err != nil {
		return err
	}
	p.MSize = msize
	p.SCount = msize
	p.RCount = msize
	return p.allocate(p.SCount, p.RCount, noScratch)
}

func executeAllreduceAsReduceBcast(p *Params) {
	p.Comm.Reduce(p.SendBuf, p.RecvBuf, p.Op, p.Root)
	p.Comm.Bcast(p.RecvBuf, p.Root)
}

// initBlocked sets up a reduce-scatter based all-reduce
// where every rank owns an equal block of the result.
func initBlocked(info BasicInfo, msize int, p *Params) error {
	if err := initReduction(info, msize, p); err != nil {
		return err
	}
	if msize%p.NumProcs != 0 {
		return configError(p, "%d elements do not split evenly across %d ranks", msize,
			p.NumProcs)
	}
	p.MSize = msize / p.NumProcs
	p.SCount = msize
	p.RCount = msize
	return p.allocate(p.SCount, p.RCount, p.MSize)
}

func initAllreduceAsReducescatterAllgather(info BasicInfo, msize int, p *Params) error {
	if err := initBlocked(info, msize, p); err != nil {
		return err
	}
	p.CountsArray = make([]int, p.NumProcs)
	for i := range p.CountsArray {
		p.CountsArray[i] = p.MSize
	}
	return nil
}

func executeAllreduceAsReducescatterAllgather(p *Params) {
	p.Comm.ReduceScatter(p.SendBuf, p.TmpBuf, p.CountsArray, p.Op)
	p.Comm.Allgather(p.TmpBuf, p.RecvBuf)
}

func initAllreduceAsReducescatterblockAllgather(info BasicInfo, msize int, p *Params) error {
	return initBlocked(info, msize, p)
}

func executeAllreduceAsReducescatterblockAllgather(p *Params) {
	p.Comm.ReduceScatterBlock(p.SendBuf, p.TmpBuf, p.MSize, p.Op)
	p.Comm.Allgather(p.TmpBuf, p.RecvBuf)
}

func initAllreduceAsReducescatterAllgatherv(info BasicInfo, msize int, p *Params) error {
	if err := initReduction(info, msize, p); err != nil {
		return err
	}
	p.CountsArray, p.DisplsArray = IrregularCounts(msize, p.NumProcs)
	p.MSize = msize
	p.SCount = msize
	p.RCount = msize
	return p.allocate(p.SCount, p.RCount, p.CountsArray[p.Rank])
}

func executeAllreduceAsReducescatterAllgatherv(p *Params) {
	p.Comm.ReduceScatter(p.SendBuf, p.TmpBuf, p.CountsArray, p.Op)
	p.Comm.Allgatherv(p.TmpBuf, p.RecvBuf, p.CountsArray, p.DisplsArray)
}

// IrregularCounts splits count elements across n ranks.
//
// The first count mod n ranks get one extra element, and
// displs holds the running sum of counts.
func IrregularCounts(count, n int) (counts, displs []int) {
	counts = make([]int, n)
	displs = make([]int, n)
	offset := 0
	for i := range counts {
		counts[i] = count / n
		if i < count%n {
			counts[i]++
		}
		displs[i] = offset
		offset += counts[i]
	}
	return counts, displs
}
