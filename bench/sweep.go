package bench

import (
	"context"
	"io"
	"runtime"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/unixpickle/collbench/collectives"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

type sweepJob struct {
	variant collectives.Variant
	size    int
	seed    int64
}

// Sweep runs every configured variant at every configured
// size and collects the results in that order.
//
// Independent simulations run concurrently. Progress is
// drawn on the progress writer, if it is not nil.
//
// The first error stops the sweep. Configuration errors
// satisfy collectives.IsConfigError.
func Sweep(ctx context.Context, cfg *Config, progress io.Writer) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "sweep")
	}
	var jobs []sweepJob
	for _, v := range cfg.Variants {
		for _, size := range cfg.Sizes {
			job := sweepJob{variant: v, size: size}
			if cfg.Seed != 0 {
				job.seed = cfg.Seed + int64(len(jobs))
			}
			jobs = append(jobs, job)
		}
	}

	var bar *progressbar.ProgressBar
	if progress != nil {
		bar = progressbar.NewOptions(len(jobs),
			progressbar.OptionSetWriter(progress),
			progressbar.OptionSetDescription("simulating"),
			progressbar.OptionShowCount(),
		)
	}

	parallelism := cfg.Parallelism
	if parallelism == 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	results := make([]*Result, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, job := range jobs {
		i := i
		job := job
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := RunOne(cfg, job.variant, job.size, job.seed)
			if err != nil {
				return err
			}
			klog.V(1).Infof("%s size=%d: mean %g", job.variant, job.size, res.Mean)
			results[i] = res
			if bar != nil {
				bar.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if bar != nil {
		bar.Finish()
	}

	report := NewReport(cfg)
	report.Results = results
	return report, nil
}
