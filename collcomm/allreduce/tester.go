package allreduce

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/collbench/buffer"
	"github.com/unixpickle/collbench/collcomm"
	"github.com/unixpickle/collbench/dtype"
	"github.com/unixpickle/collbench/simulator"
)

// RunAllreducerTests runs a battery of tests on an
// Allreducer.
//
// Every run performs two reductions back to back on the
// same Comms, so an algorithm that leaves stray messages
// behind will corrupt the second result.
func RunAllreducerTests(t *testing.T, reducer collcomm.Allreducer) {
	for _, numNodes := range []int{1, 2, 5, 15, 16, 17} {
		numNodes := numNodes
		for _, size := range []int{0, 3, 1337} {
			size := size
			for _, randomized := range []bool{false, true} {
				randomized := randomized
				testName := fmt.Sprintf("Nodes=%d,Size=%d,Random=%v", numNodes, size, randomized)
				t.Run(testName, func(t *testing.T) {
					runAllreducerTest(t, reducer, numNodes, size, randomized)
				})
			}
		}
	}
}

func runAllreducerTest(t *testing.T, reducer collcomm.Allreducer, numNodes, size int,
	randomized bool) {
	loop := simulator.NewEventLoopSeed(int64(numNodes*10000 + size))
	rng := rand.New(rand.NewSource(int64(size)))

	vectors := make([]*buffer.Vector, numNodes)
	nodes := make([]*simulator.Node, numNodes)
	sum := make([]float64, size)
	max := make([]float64, size)
	for j := range max {
		max[j] = math.Inf(-1)
	}
	for i := range nodes {
		vectors[i] = buffer.Wrap(make([]byte, size*8), dtype.F64)
		for j := 0; j < size; j++ {
			x := rng.NormFloat64()
			dtype.PutFloat(vectors[i].Data, dtype.F64, j, x)
			sum[j] += x
			max[j] = math.Max(max[j], x)
		}
		nodes[i] = simulator.NewNode()
	}

	var network simulator.Network
	if randomized {
		network = simulator.RandomNetwork{}
	} else {
		switcher := simulator.NewGreedyDropSwitcher(numNodes, 1.0)
		network = simulator.NewSwitcherNetwork(switcher, nodes, 0.1)
	}

	sums := make([]*buffer.Vector, numNodes)
	maxes := make([]*buffer.Vector, numNodes)
	pending := make([]int, numNodes)
	opts := &collcomm.Options{Allreducer: reducer, FlopTime: 1e-9}
	collcomm.SpawnComms(loop, network, nodes, opts, func(c *collcomm.Comms) {
		send := vectors[c.Rank()]
		sums[c.Rank()] = send.Clone()
		maxes[c.Rank()] = send.Clone()
		c.Allreduce(send, sums[c.Rank()], dtype.Sum)
		c.Allreduce(send, maxes[c.Rank()], dtype.Max)
		pending[c.Rank()] = c.Pending()
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}

	for i, p := range pending {
		if p != 0 {
			t.Errorf("node %d has %d unmatched messages", i, p)
		}
	}
	verifyReductionResults(t, sums, sum)
	verifyReductionResults(t, maxes, max)
}

func verifyReductionResults(t *testing.T, results []*buffer.Vector, expected []float64) {
	for i, res := range results[1:] {
		if res.Count != len(expected) {
			t.Errorf("result %d has length %d but expected %d", i+1, res.Count, len(expected))
			continue
		}
		if string(res.Data) != string(results[0].Data) {
			t.Errorf("result %d is not identical to result 0", i+1)
		}
	}

	for i, x := range expected {
		actual := dtype.Value(results[0].Data, dtype.F64, i)
		if math.Abs(x-actual) > 1e-5 {
			t.Errorf("reduction is incorrect (expected %f but got %f at component %d)",
				x, actual, i)
			break
		}
	}
}
