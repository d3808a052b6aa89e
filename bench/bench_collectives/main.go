// Command bench_collectives times collective variants on
// a simulated cluster.
//
// Settings come from an optional YAML file; flags that are
// set explicitly override it.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/unixpickle/collbench/bench"
	"github.com/unixpickle/collbench/collectives"
	"github.com/unixpickle/collbench/dtype"
	"github.com/unixpickle/essentials"
	"k8s.io/klog/v2"
)

func main() {
	var configPath string
	var procs int
	var variants string
	var sizes string
	var typeName string
	var opName string
	var allreduceName string
	var network string
	var reps int
	var seed int64
	var format string
	var quiet bool

	klog.InitFlags(nil)
	flag.StringVar(&configPath, "config", "", "YAML config file")
	flag.IntVar(&procs, "procs", 4, "number of simulated processes")
	flag.StringVar(&variants, "variants", "", "comma-separated variant names (default all)")
	flag.StringVar(&sizes, "sizes", "", "comma-separated message sizes in elements")
	flag.StringVar(&typeName, "datatype", "i32", "element datatype")
	flag.StringVar(&opName, "op", "sum", "reduction operator")
	flag.StringVar(&allreduceName, "allreduce", "", "primitive all-reduce algorithm")
	flag.StringVar(&network, "network", bench.NetworkSwitched, "network kind")
	flag.IntVar(&reps, "reps", 10, "repetitions per measurement")
	flag.Int64Var(&seed, "seed", 1, "simulation seed (0 for random)")
	flag.StringVar(&format, "format", "markdown", "output format (markdown or json)")
	flag.BoolVar(&quiet, "quiet", false, "hide the progress bar")
	flag.Parse()

	cfg := bench.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = bench.LoadConfig(configPath)
		if err != nil {
			klog.Exit(err)
		}
	}

	var err error
	flag.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "procs":
			cfg.Procs = procs
		case "variants":
			cfg.Variants, err = parseVariants(variants)
		case "sizes":
			cfg.Sizes, err = parseSizes(sizes)
		case "datatype":
			cfg.Datatype, err = dtype.ParseDataType(typeName)
		case "op":
			cfg.Op, err = dtype.ParseOp(opName)
		case "allreduce":
			cfg.Allreduce = allreduceName
		case "network":
			cfg.Network.Kind = network
		case "reps":
			cfg.Repetitions = reps
		case "seed":
			cfg.Seed = seed
		}
	})
	if err != nil {
		klog.Exit(err)
	}
	if format != "markdown" && format != "json" {
		klog.Exitf("unknown format: %s", format)
	}
	if err := cfg.Validate(); err != nil {
		klog.Exit(err)
	}

	var progress io.Writer
	if !quiet {
		progress = os.Stderr
	}
	report, err := bench.Sweep(context.Background(), cfg, progress)
	if collectives.IsConfigError(err) {
		// Rank 0 already reported the problem.
		klog.Flush()
		os.Exit(0)
	} else if err != nil {
		klog.Exit(err)
	}

	if format == "json" {
		err = report.WriteJSON(os.Stdout)
	} else {
		err = report.WriteMarkdown(os.Stdout)
	}
	essentials.Must(err)
}

func parseVariants(s string) ([]collectives.Variant, error) {
	var res []collectives.Variant
	for _, name := range strings.Split(s, ",") {
		v, err := collectives.ParseVariant(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

func parseSizes(s string) ([]int, error) {
	var res []int
	for _, field := range strings.Split(s, ",") {
		size, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, errors.Wrap(err, "parse sizes")
		}
		res = append(res, size)
	}
	return res, nil
}
