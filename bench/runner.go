package bench

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/unixpickle/collbench/buffer"
	"github.com/unixpickle/collbench/collcomm"
	"github.com/unixpickle/collbench/collectives"
	"github.com/unixpickle/collbench/simulator"
	"k8s.io/klog/v2"
)

// A Result summarizes the repetitions of one variant at
// one message size.
type Result struct {
	Variant string `json:"variant"`
	Family  string `json:"family"`
	Procs   int    `json:"procs"`
	Size    int    `json:"size"`

	// Bytes is the size of one rank's contribution.
	Bytes int64 `json:"bytes"`

	// Times holds the duration of every repetition, from
	// the first rank entering Execute to the last rank
	// leaving it.
	Times []float64 `json:"times"`

	// Skews holds the spread of the start times of every
	// repetition.
	Skews []float64 `json:"skews"`

	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`

	MeanSkew float64 `json:"mean_skew"`

	// Messages and MessageBytes count the traffic of the
	// whole run, setup included.
	Messages     int     `json:"messages"`
	MessageBytes float64 `json:"message_bytes"`

	PeakMemory int64 `json:"peak_memory"`
	Verified   bool  `json:"verified"`
}

// rankRecord is what one rank reports back from a run.
type rankRecord struct {
	err    error
	input  []byte
	output []byte
	starts []float64
	ends   []float64
	stats  collcomm.Stats
}

// RunOne runs a single variant at a single size on a fresh
// simulated group.
//
// If the variant rejects the configuration, the returned
// error satisfies collectives.IsConfigError.
//
// A run that deadlocks or panics is abandoned, so its
// simulated ranks do not outlive the call.
func RunOne(cfg *Config, v collectives.Variant, size int, seed int64) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "run")
	}
	opts, err := cfg.CommsOptions()
	if err != nil {
		return nil, err
	}

	var loop *simulator.EventLoop
	if seed == 0 {
		loop = simulator.NewEventLoop()
	} else {
		loop = simulator.NewEventLoopSeed(seed)
	}
	nodes, network := cfg.Network.Build(cfg.Procs)
	manager := buffer.NewManager(cfg.MemoryLimit)

	records := make([]rankRecord, cfg.Procs)
	collcomm.SpawnComms(loop, network, nodes, opts, func(c *collcomm.Comms) {
		rec := &records[c.Rank()]
		defer func() {
			rec.stats = c.Stats()
		}()

		info := cfg.BasicInfo(c)
		info.Buffers = manager
		var p collectives.Params
		if err := v.Init(info, size, &p); err != nil {
			rec.err = err
			return
		}
		defer v.Cleanup(&p)

		FillInput(p.Input(), c.Rank())
		rec.input = append([]byte{}, p.Input().Data...)

		for i := 0; i < cfg.Repetitions; i++ {
			c.Barrier()
			start := c.Handle.Time()
			v.Execute(&p)
			end := c.Handle.Time()
			rec.starts = append(rec.starts, start)
			rec.ends = append(rec.ends, end)
			klog.V(2).Infof("%s size=%d rank=%d rep=%d: %g", v, size, c.Rank(), i, end-start)
		}
		rec.output = append([]byte{}, p.Output().Data...)
	})
	runErr := loop.Run()
	if runErr != nil {
		loop.Abandon()
	}

	for rank, rec := range records {
		if rec.err != nil {
			return nil, errors.WithMessagef(rec.err, "%s size %d rank %d", v, size, rank)
		}
	}
	if runErr != nil {
		return nil, errors.WithMessagef(runErr, "%s size %d", v, size)
	}

	res := summarize(records, cfg.Repetitions)
	res.Variant = v.String()
	res.Family = v.Family().String()
	res.Procs = cfg.Procs
	res.Size = size
	res.Bytes = int64(size) * int64(cfg.Datatype.Size())
	res.PeakMemory = manager.Peak()

	if cfg.Verify {
		if err := Verify(v, cfg, records); err != nil {
			return nil, errors.WithMessagef(err, "%s size %d", v, size)
		}
		res.Verified = true
	}
	return res, nil
}

func summarize(records []rankRecord, reps int) *Result {
	res := &Result{}
	for i := 0; i < reps; i++ {
		minStart, maxStart := records[0].starts[i], records[0].starts[i]
		maxEnd := records[0].ends[i]
		for _, rec := range records[1:] {
			if rec.starts[i] < minStart {
				minStart = rec.starts[i]
			}
			if rec.starts[i] > maxStart {
				maxStart = rec.starts[i]
			}
			if rec.ends[i] > maxEnd {
				maxEnd = rec.ends[i]
			}
		}
		res.Times = append(res.Times, maxEnd-minStart)
		res.Skews = append(res.Skews, maxStart-minStart)
	}
	for _, rec := range records {
		res.Messages += rec.stats.PointToPoint + rec.stats.Collective
		res.MessageBytes += rec.stats.Bytes
	}

	sorted := append([]float64{}, res.Times...)
	sort.Float64s(sorted)
	res.Min = sorted[0]
	res.Max = sorted[len(sorted)-1]
	if len(sorted)%2 == 1 {
		res.Median = sorted[len(sorted)/2]
	} else {
		res.Median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}
	for i, t := range res.Times {
		res.Mean += t
		res.MeanSkew += res.Skews[i]
	}
	res.Mean /= float64(len(res.Times))
	res.MeanSkew /= float64(len(res.Skews))
	return res
}
