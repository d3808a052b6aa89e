package collectives

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/collbench/buffer"
	"github.com/unixpickle/collbench/collcomm"
	"github.com/unixpickle/collbench/dtype"
	"github.com/unixpickle/collbench/simulator"
	"k8s.io/klog/v2"
)

type rankResult struct {
	input    []byte
	output   []byte
	counts   []int
	displs   []int
	role     Role
	err      error
	released bool
	p2p      int
}

type runOptions struct {
	info        func(info *BasicInfo)
	nodes       []*simulator.Node
	repetitions int
	afterInit   func(p *Params)
	fill        func(v *buffer.Vector, rank int)
}

func runVariant(t *testing.T, v Variant, n, msize int, opts runOptions) []rankResult {
	loop := simulator.NewEventLoopSeed(int64(n*1000 + msize))
	nodes := opts.nodes
	if nodes == nil {
		nodes = make([]*simulator.Node, n)
		for i := range nodes {
			nodes[i] = simulator.NewNode()
		}
	}
	if opts.repetitions == 0 {
		opts.repetitions = 2
	}
	manager := buffer.NewManager(0)
	results := make([]rankResult, n)
	collcomm.SpawnComms(loop, simulator.RandomNetwork{}, nodes, nil, func(c *collcomm.Comms) {
		r := &results[c.Rank()]
		info := BasicInfo{
			Comm:          c,
			Buffers:       manager,
			Datatype:      dtype.I32,
			Op:            dtype.Sum,
			PingpongRanks: [2]int{0, 1},
			Tag:           1,
		}
		if opts.info != nil {
			opts.info(&info)
		}
		var p Params
		defer func() {
			r.p2p = c.Stats().PointToPoint
		}()
		if err := v.Init(info, msize, &p); err != nil {
			r.err = err
			r.released = p.Released()
			return
		}
		if opts.afterInit != nil {
			opts.afterInit(&p)
		}
		if opts.fill != nil {
			opts.fill(p.Input(), c.Rank())
		} else {
			fillInput(p.Input(), c.Rank())
		}
		r.input = append([]byte{}, p.Input().Data...)
		r.counts = append([]int{}, p.CountsArray...)
		r.displs = append([]int{}, p.DisplsArray...)
		r.role = p.Role
		for i := 0; i < opts.repetitions; i++ {
			v.Execute(&p)
		}
		r.output = append([]byte{}, p.Output().Data...)
		v.Cleanup(&p)
		v.Cleanup(&p)
		r.released = p.Released()
	})
	require.NoError(t, loop.Run())
	live, _ := manager.Live()
	assert.Equal(t, 0, live)
	return results
}

// fillInput writes small positive values, so that sums
// and products of a few ranks cannot overflow.
func fillInput(v *buffer.Vector, rank int) {
	for j := 0; j < v.Count; j++ {
		dtype.Put(v.Data, v.Type, j, int64((rank*7+j*3)%5+1))
	}
}

func concatInputs(results []rankResult) []byte {
	var res []byte
	for _, r := range results {
		res = append(res, r.input...)
	}
	return res
}

func reduceInputs(results []rankResult, t dtype.DataType, op dtype.Op) []byte {
	acc := append([]byte{}, results[0].input...)
	for _, r := range results[1:] {
		dtype.Reduce(acc, r.input, t, op)
	}
	return acc
}

func variantsOf(f Family) []Variant {
	var res []Variant
	for _, v := range Variants() {
		if v.Family() == f {
			res = append(res, v)
		}
	}
	return res
}

func TestAllgatherVariants(t *testing.T) {
	for _, v := range variantsOf(FamilyAllgather) {
		v := v
		for _, n := range []int{1, 2, 3, 5} {
			n := n
			for _, msize := range []int{0, 1, 4} {
				msize := msize
				t.Run(fmt.Sprintf("%s/Procs=%d/Size=%d", v, n, msize), func(t *testing.T) {
					results := runVariant(t, v, n, msize, runOptions{
						info: func(info *BasicInfo) {
							info.Root = n - 1
						},
					})
					expected := concatInputs(results)
					require.Len(t, expected, msize*n*4)
					for rank, r := range results {
						require.NoError(t, r.err)
						assert.Equal(t, expected, r.output, "rank %d", rank)
						assert.True(t, r.released)
					}
				})
			}
		}
	}
}

func TestAllgatherAsAllreduceOps(t *testing.T) {
	for _, op := range []dtype.Op{dtype.Sum, dtype.Prod, dtype.Max, dtype.Min, dtype.BAnd,
		dtype.BOr, dtype.BXor} {
		op := op
		for _, dt := range []dtype.DataType{dtype.I32, dtype.U8, dtype.F64} {
			dt := dt
			if !op.Supports(dt) {
				continue
			}
			t.Run(fmt.Sprintf("%s/%s", op, dt), func(t *testing.T) {
				results := runVariant(t, AllgatherAsAllreduce, 4, 3, runOptions{
					info: func(info *BasicInfo) {
						info.Op = op
						info.Datatype = dt
					},
				})
				expected := concatInputs(results)
				for _, r := range results {
					require.NoError(t, r.err)
					assert.Equal(t, expected, r.output)
				}
			})
		}
	}
}

// TestAllgatherAsAllreduceSpecialFloats gathers values
// that an imperfect identity would alter: -0 under Sum and
// NaN under Max or Min.
func TestAllgatherAsAllreduceSpecialFloats(t *testing.T) {
	specials := []float64{math.Copysign(0, -1), math.NaN(), math.Inf(1), math.Inf(-1), 0.25}
	fill := func(v *buffer.Vector, rank int) {
		for j := 0; j < v.Count; j++ {
			dtype.PutFloat(v.Data, v.Type, j, specials[(rank+j)%len(specials)])
		}
	}
	for _, op := range []dtype.Op{dtype.Sum, dtype.Prod, dtype.Max, dtype.Min} {
		op := op
		for _, dt := range []dtype.DataType{dtype.F16, dtype.F32, dtype.F64} {
			dt := dt
			for _, n := range []int{2, 5} {
				n := n
				t.Run(fmt.Sprintf("%s/%s/%d", op, dt, n), func(t *testing.T) {
					results := runVariant(t, AllgatherAsAllreduce, n, 3, runOptions{
						info: func(info *BasicInfo) {
							info.Op = op
							info.Datatype = dt
						},
						fill: fill,
					})
					expected := concatInputs(results)
					for rank, r := range results {
						require.NoError(t, r.err)
						assert.Equal(t, expected, r.output, "rank %d", rank)
					}
				})
			}
		}
	}
}

func TestAllreduceVariants(t *testing.T) {
	for _, op := range dtype.Ops() {
		op := op
		for _, n := range []int{1, 2, 4} {
			n := n
			for _, msize := range []int{0, 8} {
				msize := msize
				t.Run(fmt.Sprintf("%s/Procs=%d/Size=%d", op, n, msize), func(t *testing.T) {
					var outputs [][]byte
					for _, v := range variantsOf(FamilyAllreduce) {
						results := runVariant(t, v, n, msize, runOptions{
							info: func(info *BasicInfo) {
								info.Op = op
								info.Root = n / 2
							},
						})
						expected := reduceInputs(results, dtype.I32, op)
						for rank, r := range results {
							require.NoError(t, r.err)
							assert.Equal(t, expected, r.output, "%s rank %d", v, rank)
							assert.True(t, r.released)
						}
						outputs = append(outputs, results[0].output)
					}
					for _, out := range outputs[1:] {
						assert.Equal(t, outputs[0], out)
					}
				})
			}
		}
	}
}

func TestAllreduceFloat(t *testing.T) {
	for _, dt := range []dtype.DataType{dtype.F16, dtype.F32, dtype.F64} {
		dt := dt
		var outputs [][]byte
		for _, v := range variantsOf(FamilyAllreduce) {
			results := runVariant(t, v, 4, 12, runOptions{
				info: func(info *BasicInfo) {
					info.Datatype = dt
				},
			})
			expected := reduceInputs(results, dt, dtype.Sum)
			for _, r := range results {
				require.NoError(t, r.err)
				assert.Equal(t, expected, r.output, "%s %s", v, dt)
			}
			outputs = append(outputs, results[0].output)
		}
		for _, out := range outputs[1:] {
			assert.Equal(t, outputs[0], out)
		}
	}
}

func TestIrregularAllreduce(t *testing.T) {
	const n = 3
	const msize = 7

	results := runVariant(t, AllreduceAsReducescatterAllgatherv, n, msize, runOptions{})
	expected := reduceInputs(results, dtype.I32, dtype.Sum)
	for _, r := range results {
		require.NoError(t, r.err)
		assert.Equal(t, expected, r.output)
		assert.Equal(t, []int{3, 2, 2}, r.counts)
		assert.Equal(t, []int{0, 3, 5}, r.displs)
	}

	for _, v := range []Variant{AllreduceAsReducescatterAllgather,
		AllreduceAsReducescatterblockAllgather} {
		results := runVariant(t, v, n, msize, runOptions{})
		for _, r := range results {
			assert.True(t, IsConfigError(r.err), "%s", v)
			assert.True(t, r.released)
		}
	}
}

func TestIrregularCounts(t *testing.T) {
	for n := 1; n < 9; n++ {
		for count := 0; count < 30; count++ {
			counts, displs := IrregularCounts(count, n)
			sum := 0
			for i, c := range counts {
				assert.Equal(t, sum, displs[i])
				sum += c
				if i < count%n {
					assert.Equal(t, counts[n-1]+1, c)
				} else {
					assert.Equal(t, counts[n-1], c)
				}
			}
			assert.Equal(t, count, sum)
		}
	}
}

func TestIdentitySeeding(t *testing.T) {
	cases := []struct {
		op       dtype.Op
		dt       dtype.DataType
		expected float64
	}{
		{dtype.Prod, dtype.I32, 1},
		{dtype.Prod, dtype.F64, 1},
		{dtype.BAnd, dtype.I32, -1},
		{dtype.BAnd, dtype.U8, 255},
		{dtype.BOr, dtype.U16, 0},
		{dtype.Sum, dtype.F32, 0},
	}
	for _, c := range cases {
		c := c
		t.Run(fmt.Sprintf("%s/%s", c.op, c.dt), func(t *testing.T) {
			var seeded []float64
			runVariant(t, AllgatherAsAllreduce, 2, 3, runOptions{
				info: func(info *BasicInfo) {
					info.Op = c.op
					info.Datatype = c.dt
				},
				afterInit: func(p *Params) {
					if p.Rank != 0 {
						return
					}
					// Reducing identities into identities
					// must leave them unchanged.
					acc := p.TmpBuf.Clone()
					acc.Reduce(p.TmpBuf, c.op)
					for i := 0; i < acc.Count; i++ {
						seeded = append(seeded, dtype.Value(acc.Data, acc.Type, i))
					}
				},
			})
			require.Len(t, seeded, 6)
			for _, x := range seeded {
				assert.Equal(t, c.expected, x)
			}
		})
	}
}

func TestPingpongVariants(t *testing.T) {
	for _, v := range variantsOf(FamilyPingpong) {
		v := v
		for _, n := range []int{2, 4} {
			n := n
			for _, peers := range [][2]int{{0, 1}, {1, 0}, {n - 1, n/2 - 1}} {
				peers := peers
				for _, msize := range []int{0, 5} {
					msize := msize
					name := fmt.Sprintf("%s/Procs=%d/Peers=%v/Size=%d", v, n, peers, msize)
					t.Run(name, func(t *testing.T) {
						results := runVariant(t, v, n, msize, runOptions{
							info: func(info *BasicInfo) {
								info.PingpongRanks = peers
							},
							repetitions: 3,
						})
						a, b := results[peers[0]], results[peers[1]]
						assert.Equal(t, Initiator, a.role)
						assert.Equal(t, Responder, b.role)
						assert.Equal(t, b.input, a.output)
						assert.Equal(t, a.input, b.output)
						for rank, r := range results {
							require.NoError(t, r.err)
							assert.True(t, r.released)
							if rank != peers[0] && rank != peers[1] {
								assert.Equal(t, Bystander, r.role)
								assert.Equal(t, make([]byte, msize*4), r.output)
								assert.Equal(t, 0, r.p2p)
							}
						}
					})
				}
			}
		}
	}
}

func TestPingpongSameHost(t *testing.T) {
	nodes := func() []*simulator.Node {
		return []*simulator.Node{
			simulator.NewHostNode("a"),
			simulator.NewHostNode("a"),
			simulator.NewHostNode("b"),
		}
	}
	cases := []struct {
		peers    [2]int
		warnings int
	}{
		{[2]int{0, 1}, 1},
		{[2]int{1, 0}, 1},
		{[2]int{0, 2}, 0},
		{[2]int{2, 1}, 0},
	}
	for _, c := range cases {
		c := c
		warnings := captureWarnings(t)
		results := runVariant(t, PingpongSendRecv, 3, 4, runOptions{
			nodes: nodes(),
			info: func(info *BasicInfo) {
				info.PingpongRanks = c.peers
			},
		})
		for _, r := range results {
			require.NoError(t, r.err)
		}
		assert.Equal(t, results[c.peers[1]].input, results[c.peers[0]].output)

		klog.Flush()
		var sameHost int
		for _, line := range strings.Split(warnings.String(), "\n") {
			if strings.HasPrefix(line, "W") && strings.Contains(line, "same host") {
				sameHost++
			}
		}
		assert.Equal(t, c.warnings, sameHost, "peers %v", c.peers)
	}
}

// captureWarnings redirects klog's warning output into a
// buffer until the test ends.
func captureWarnings(t *testing.T) *bytes.Buffer {
	var rest, warnings bytes.Buffer
	klog.LogToStderr(false)
	klog.SetOutput(&rest)
	klog.SetOutputBySeverity("WARNING", &warnings)
	t.Cleanup(func() {
		klog.SetOutput(os.Stderr)
		klog.LogToStderr(true)
	})
	return &warnings
}

func TestPingpongConfigErrors(t *testing.T) {
	cases := []struct {
		n     int
		peers [2]int
	}{
		{1, [2]int{0, 1}},
		{1, [2]int{0, 0}},
		{3, [2]int{2, 2}},
		{3, [2]int{0, 3}},
		{3, [2]int{-1, 0}},
	}
	for _, c := range cases {
		c := c
		for _, v := range variantsOf(FamilyPingpong) {
			results := runVariant(t, v, c.n, 4, runOptions{
				info: func(info *BasicInfo) {
					info.PingpongRanks = c.peers
				},
			})
			for _, r := range results {
				require.Error(t, r.err)
				assert.True(t, IsConfigError(r.err), "%v", r.err)
				assert.True(t, r.released)
				assert.Equal(t, 0, r.p2p)
			}
		}
	}
}

func TestCountErrors(t *testing.T) {
	for _, v := range Variants() {
		results := runVariant(t, v, 2, MaxCount+1, runOptions{})
		for _, r := range results {
			assert.True(t, IsConfigError(r.err), "%s", v)
		}
		results = runVariant(t, v, 2, -1, runOptions{})
		for _, r := range results {
			assert.True(t, IsConfigError(r.err), "%s", v)
		}
	}

	// The per-rank size fits, but the concatenation does
	// not.
	for _, v := range variantsOf(FamilyAllgather) {
		results := runVariant(t, v, 2, MaxCount/2+1, runOptions{})
		for _, r := range results {
			assert.True(t, IsConfigError(r.err), "%s", v)
		}
	}
}

func TestOperatorErrors(t *testing.T) {
	results := runVariant(t, AllgatherAsAllreduce, 3, 2, runOptions{
		info: func(info *BasicInfo) {
			info.Op = dtype.LAnd
		},
	})
	for _, r := range results {
		assert.True(t, IsConfigError(r.err))
	}
	for _, v := range append(variantsOf(FamilyAllreduce), AllgatherAsAllreduce) {
		results := runVariant(t, v, 2, 2, runOptions{
			info: func(info *BasicInfo) {
				info.Op = dtype.BXor
				info.Datatype = dtype.F32
			},
		})
		for _, r := range results {
			assert.True(t, IsConfigError(r.err), "%s", v)
		}
	}
	results = runVariant(t, AllreduceAsReduceBcast, 2, 2, runOptions{
		info: func(info *BasicInfo) {
			info.Root = 2
		},
	})
	for _, r := range results {
		assert.True(t, IsConfigError(r.err))
	}
}

func TestAllocationFailure(t *testing.T) {
	loop := simulator.NewEventLoopSeed(1)
	nodes := []*simulator.Node{simulator.NewNode(), simulator.NewNode()}
	manager := buffer.NewManager(10)
	errs := make([]error, 2)
	released := make([]bool, 2)
	collcomm.SpawnComms(loop, simulator.RandomNetwork{}, nodes, nil, func(c *collcomm.Comms) {
		var p Params
		info := BasicInfo{Comm: c, Buffers: manager, Datatype: dtype.F64, Op: dtype.Sum}
		errs[c.Rank()] = AllreduceAsReduceBcast.Init(info, 4, &p)
		released[c.Rank()] = p.Released()
	})
	require.NoError(t, loop.Run())
	for i, err := range errs {
		require.Error(t, err)
		assert.True(t, errors.Is(err, buffer.ErrAllocation))
		assert.False(t, IsConfigError(err))
		assert.True(t, released[i])
	}
	live, _ := manager.Live()
	assert.Equal(t, 0, live)
}

func TestLifecycle(t *testing.T) {
	runVariant(t, AllreduceAsReducescatterAllgatherv, 2, 5, runOptions{
		afterInit: func(p *Params) {
			assert.Equal(t, 5, p.SendBuf.Count)
			assert.Equal(t, 5*4, p.SendBuf.Bytes())
			assert.Equal(t, 4, p.DatatypeSize)
			assert.Equal(t, 2, p.NumProcs)
			assert.Equal(t, 2, p.RemoteSize)
			assert.Equal(t, AllreduceAsReducescatterAllgatherv, p.Variant)
		},
	})

	loop := simulator.NewEventLoopSeed(1)
	var executeAfterCleanup interface{}
	collcomm.SpawnComms(loop, simulator.RandomNetwork{}, []*simulator.Node{simulator.NewNode()},
		nil, func(c *collcomm.Comms) {
			var p Params
			info := BasicInfo{Comm: c, Datatype: dtype.I32, Op: dtype.Sum}
			assert.NoError(t, AllgatherAsGatherBcast.Init(info, 3, &p))
			AllgatherAsGatherBcast.Cleanup(&p)
			defer func() {
				executeAfterCleanup = recover()
			}()
			AllgatherAsGatherBcast.Execute(&p)
		})
	require.NoError(t, loop.Run())
	assert.NotNil(t, executeAfterCleanup)

	assert.Panics(t, func() {
		InitCommon(BasicInfo{}, nil)
	})
}

func TestParseVariant(t *testing.T) {
	require.Len(t, Variants(), 11)
	for _, v := range Variants() {
		parsed, err := ParseVariant(v.String())
		require.NoError(t, err)
		assert.Equal(t, v, parsed)
	}
	v, err := ParseVariant("pingpong_isend_irecv")
	require.NoError(t, err)
	assert.Equal(t, PingpongIsendIrecv, v)

	var decoded Variant
	require.NoError(t, decoded.UnmarshalText([]byte("Allreduce_as_ReduceBcast")))
	assert.Equal(t, AllreduceAsReduceBcast, decoded)
	assert.Error(t, decoded.UnmarshalText([]byte("Allreduce_as_Magic")))

	_, err = Variant(99).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, FamilyPingpong, PingpongSendrecv.Family())
}
