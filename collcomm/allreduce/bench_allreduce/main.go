package main

import (
	"flag"
	"fmt"
	"strconv"

	"github.com/unixpickle/collbench/bench"
	"github.com/unixpickle/collbench/buffer"
	"github.com/unixpickle/collbench/collcomm"
	"github.com/unixpickle/collbench/collcomm/allreduce"
	"github.com/unixpickle/collbench/dtype"
	"github.com/unixpickle/collbench/simulator"
	"k8s.io/klog/v2"
)

// RunInfo describes a specific network configuration.
type RunInfo struct {
	NumNodes     int
	Latency      float64
	Rate         float64
	ProcsPerHost int
}

// Run creates a switched network and drops each process
// into its own Goroutine.
func (r *RunInfo) Run(loop *simulator.EventLoop, opts *collcomm.Options,
	commFn func(c *collcomm.Comms)) {
	netConfig := bench.DefaultConfig().Network
	netConfig.Latency = r.Latency
	netConfig.Rate = r.Rate
	netConfig.ProcsPerHost = r.ProcsPerHost
	nodes, network := netConfig.Build(r.NumNodes)
	collcomm.SpawnComms(loop, network, nodes, opts, commFn)
	loop.MustRun()
}

func main() {
	var flopTime float64
	var typeName string
	klog.InitFlags(nil)
	flag.Float64Var(&flopTime, "flop-time", 1e-9, "virtual time per reduced element")
	flag.StringVar(&typeName, "datatype", "f32", "element datatype")
	flag.Parse()

	dataType, err := dtype.ParseDataType(typeName)
	if err != nil {
		klog.Exit(err)
	}

	reducerNames := append([]string{"default"}, allreduce.Names()...)
	runs := []RunInfo{
		{
			NumNodes: 2,
			Latency:  0.1,
			Rate:     1e6,
		},
		{
			NumNodes: 16,
			Latency:  1e-3,
			Rate:     1e6,
		},
		{
			NumNodes: 32,
			Latency:  0.1,
			Rate:     1e6,
		},
		{
			NumNodes: 32,
			Latency:  0.1,
			Rate:     1e9,
		},
		{
			NumNodes: 32,
			Latency:  1e-4,
			Rate:     1e9,
		},
		{
			NumNodes:     32,
			Latency:      1e-4,
			Rate:         1e9,
			ProcsPerHost: 8,
		},
	}
	vecSizes := []int{10, 10000, 1000000}

	// Markdown table header.
	fmt.Print("| Nodes | Per host | Latency | NIC rate | Size ")
	for _, reducerName := range reducerNames {
		fmt.Printf("| %s ", reducerName)
	}
	fmt.Println("|")
	for i := 0; i < 5+len(reducerNames); i++ {
		fmt.Print("|:--")
	}
	fmt.Println("|")

	// Markdown table body.
	for _, runInfo := range runs {
		runInfo := runInfo
		for _, size := range vecSizes {
			size := size
			fmt.Printf(
				"| %d | %d | %s | %s | %d ",
				runInfo.NumNodes,
				runInfo.ProcsPerHost,
				strconv.FormatFloat(runInfo.Latency, 'f', -1, 64),
				strconv.FormatFloat(runInfo.Rate, 'E', -1, 64),
				size,
			)
			for _, name := range reducerNames {
				reducer, err := allreduce.ByName(name)
				if err != nil {
					klog.Exit(err)
				}
				loop := simulator.NewEventLoop()
				opts := &collcomm.Options{Allreducer: reducer, FlopTime: flopTime}
				runInfo.Run(loop, opts, func(c *collcomm.Comms) {
					send := buffer.Wrap(make([]byte, size*dataType.Size()), dataType)
					recv := send.Clone()
					c.Allreduce(send, recv, dtype.Sum)
				})
				fmt.Printf("| %f ", loop.Time())
			}
			fmt.Println("|")
		}
	}
}
