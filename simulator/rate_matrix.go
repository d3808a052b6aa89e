package simulator

// A RateMatrix holds a transfer rate for every ordered
// pair of nodes in a network.
//
// Rows are indexed by the sending node and columns by the
// receiving node. Nodes are addressed by their position
// in the network's node list.
type RateMatrix struct {
	size  int
	rates []float64
}

// NewRateMatrix creates an all-zero matrix.
func NewRateMatrix(size int) *RateMatrix {
	return &RateMatrix{
		size:  size,
		rates: make([]float64, size*size),
	}
}

func (r *RateMatrix) Size() int {
	return r.size
}

func (r *RateMatrix) At(src, dst int) float64 {
	return r.rates[r.index(src, dst)]
}

func (r *RateMatrix) Set(src, dst int, value float64) {
	r.rates[r.index(src, dst)] = value
}

// Add increments an entry.
func (r *RateMatrix) Add(src, dst int, value float64) {
	r.rates[r.index(src, dst)] += value
}

// Outgoing sums the rates leaving a group of nodes for
// any destination.
func (r *RateMatrix) Outgoing(srcs []int) float64 {
	var sum float64
	for _, src := range srcs {
		row := r.row(src)
		for _, x := range row {
			sum += x
		}
	}
	return sum
}

// Incoming sums the rates arriving at a group of nodes
// from any source.
func (r *RateMatrix) Incoming(dsts []int) float64 {
	var sum float64
	for _, dst := range dsts {
		r.checkNode(dst)
		for src := 0; src < r.size; src++ {
			sum += r.rates[src*r.size+dst]
		}
	}
	return sum
}

// ScaleOutgoing multiplies every rate leaving a group of
// nodes.
func (r *RateMatrix) ScaleOutgoing(srcs []int, scale float64) {
	for _, src := range srcs {
		row := r.row(src)
		for i := range row {
			row[i] *= scale
		}
	}
}

// ScaleIncoming multiplies every rate arriving at a group
// of nodes.
func (r *RateMatrix) ScaleIncoming(dsts []int, scale float64) {
	for _, dst := range dsts {
		r.checkNode(dst)
		for src := 0; src < r.size; src++ {
			r.rates[src*r.size+dst] *= scale
		}
	}
}

func (r *RateMatrix) row(src int) []float64 {
	r.checkNode(src)
	return r.rates[src*r.size : (src+1)*r.size]
}

func (r *RateMatrix) index(src, dst int) int {
	r.checkNode(src)
	r.checkNode(dst)
	return src*r.size + dst
}

func (r *RateMatrix) checkNode(i int) {
	if i < 0 || i >= r.size {
		panic("node index out of bounds")
	}
}
