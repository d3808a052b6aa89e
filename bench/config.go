// Package bench runs collective variants on a simulated
// cluster and reports how long they take.
package bench

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/unixpickle/collbench/collcomm"
	"github.com/unixpickle/collbench/collcomm/allreduce"
	"github.com/unixpickle/collbench/collectives"
	"github.com/unixpickle/collbench/dtype"
	"github.com/unixpickle/collbench/simulator"
	"gopkg.in/yaml.v3"
)

// Network kinds.
const (
	NetworkSwitched = "switched"
	NetworkRandom   = "random"
	NetworkOrdered  = "ordered"
)

// NetworkConfig describes the simulated interconnect.
type NetworkConfig struct {
	// Kind is one of "switched", "random" or "ordered".
	Kind string `yaml:"kind"`

	// Latency is the per-message latency of a switched
	// network.
	Latency float64 `yaml:"latency"`

	// Rate is the NIC rate in bytes per unit of time of
	// switched and ordered networks.
	Rate float64 `yaml:"rate"`

	// MaxRandomLatency bounds the extra latency of each
	// message on an ordered network.
	MaxRandomLatency float64 `yaml:"max_random_latency"`

	// ProcsPerHost groups consecutive ranks onto named
	// hosts. With more than one process per host, traffic
	// between processes on the same host goes through a
	// separate local network.
	ProcsPerHost int `yaml:"procs_per_host"`

	LocalRate    float64 `yaml:"local_rate"`
	LocalLatency float64 `yaml:"local_latency"`
}

// Config is the configuration of a sweep.
type Config struct {
	Procs    int                   `yaml:"procs"`
	Variants []collectives.Variant `yaml:"variants"`

	// Sizes are the message sizes, in elements, passed to
	// each variant's Init.
	Sizes []int `yaml:"sizes"`

	Datatype      dtype.DataType `yaml:"datatype"`
	Op            dtype.Op       `yaml:"op"`
	Root          int            `yaml:"root"`
	PingpongRanks []int          `yaml:"pingpong_ranks"`
	Tag           int            `yaml:"tag"`

	Repetitions int `yaml:"repetitions"`

	// Allreduce selects the algorithm behind the
	// primitive all-reduce; see allreduce.ByName.
	Allreduce string `yaml:"allreduce"`

	InjectionRate float64 `yaml:"injection_rate"`
	FlopTime      float64 `yaml:"flop_time"`

	// MemoryLimit caps the bytes held by all buffers of a
	// run. If it is 0, there is no limit.
	MemoryLimit int64 `yaml:"memory_limit"`

	// Seed makes runs reproducible. If it is 0, every run
	// is seeded randomly.
	Seed int64 `yaml:"seed"`

	Verify bool `yaml:"verify"`

	// Parallelism is the number of simulations a sweep
	// runs at once. If it is 0, GOMAXPROCS is used.
	Parallelism int `yaml:"parallelism"`

	Network NetworkConfig `yaml:"network"`
}

// DefaultConfig creates the configuration used for any
// field a config file leaves out.
func DefaultConfig() *Config {
	return &Config{
		Procs:         4,
		Variants:      collectives.Variants(),
		Sizes:         []int{1, 16, 1024},
		Datatype:      dtype.I32,
		Op:            dtype.Sum,
		PingpongRanks: []int{0, 1},
		Tag:           1,
		Repetitions:   10,
		InjectionRate: 1e9,
		FlopTime:      1e-9,
		Seed:          1,
		Verify:        true,
		Network: NetworkConfig{
			Kind:             NetworkSwitched,
			Latency:          1e-6,
			Rate:             1e9,
			MaxRandomLatency: 1e-6,
			LocalRate:        1e10,
			LocalLatency:     1e-7,
		},
	}
}

// LoadConfig reads a YAML config file on top of the
// defaults.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	defer f.Close()
	return ReadConfig(f)
}

// ReadConfig is like LoadConfig, but for any reader.
func ReadConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "read config")
	}
	return cfg, nil
}

// Validate checks that the configuration describes a
// runnable sweep.
//
// Preconditions of individual variants, such as valid
// ping-pong ranks, are left to the variants themselves.
func (c *Config) Validate() error {
	if c.Procs < 1 {
		return errors.Errorf("procs must be positive, got %d", c.Procs)
	}
	if len(c.Variants) == 0 {
		return errors.New("no variants selected")
	}
	if len(c.Sizes) == 0 {
		return errors.New("no sizes selected")
	}
	if c.Repetitions < 1 {
		return errors.Errorf("repetitions must be positive, got %d", c.Repetitions)
	}
	if len(c.PingpongRanks) != 2 {
		return errors.Errorf("pingpong_ranks needs exactly two ranks, got %d", len(c.PingpongRanks))
	}
	if c.InjectionRate < 0 || c.FlopTime < 0 || c.MemoryLimit < 0 || c.Parallelism < 0 {
		return errors.New("injection_rate, flop_time, memory_limit and parallelism must not be negative")
	}
	if _, err := allreduce.ByName(c.Allreduce); err != nil {
		return err
	}
	return c.Network.Validate()
}

// Validate checks the network settings.
func (n *NetworkConfig) Validate() error {
	switch n.Kind {
	case NetworkSwitched, NetworkOrdered:
		if n.Rate <= 0 {
			return errors.Errorf("%s network needs a positive rate", n.Kind)
		}
	case NetworkRandom:
	default:
		return errors.Errorf("unknown network kind: %q", n.Kind)
	}
	if n.Latency < 0 || n.MaxRandomLatency < 0 {
		return errors.New("network latencies must not be negative")
	}
	if n.ProcsPerHost < 0 {
		return errors.Errorf("procs_per_host must not be negative, got %d", n.ProcsPerHost)
	}
	if n.ProcsPerHost > 1 && (n.LocalRate <= 0 || n.LocalLatency < 0) {
		return errors.New("shared hosts need a positive local_rate and non-negative local_latency")
	}
	return nil
}

// Build creates the nodes of a group and the network that
// connects them.
func (n *NetworkConfig) Build(procs int) ([]*simulator.Node, simulator.Network) {
	nodes := make([]*simulator.Node, procs)
	for i := range nodes {
		if n.ProcsPerHost > 0 {
			nodes[i] = simulator.NewHostNode(fmt.Sprintf("host%d", i/n.ProcsPerHost))
		} else {
			nodes[i] = simulator.NewNode()
		}
	}

	var network simulator.Network
	switch n.Kind {
	case NetworkSwitched:
		switcher := simulator.NewHostSwitcher(nodes, n.Rate)
		network = simulator.NewSwitcherNetwork(switcher, nodes, n.Latency)
	case NetworkRandom:
		network = simulator.RandomNetwork{}
	case NetworkOrdered:
		network = simulator.NewOrderedNetwork(n.Rate, n.MaxRandomLatency)
	default:
		panic("unknown network kind: " + n.Kind)
	}
	if n.ProcsPerHost > 1 {
		network = &simulator.HierarchicalNetwork{
			Local:  simulator.NewOrderedNetwork(n.LocalRate, n.LocalLatency),
			Remote: network,
		}
	}
	return nodes, network
}

// CommsOptions creates the options for every Comms of a
// run.
func (c *Config) CommsOptions() (*collcomm.Options, error) {
	reducer, err := allreduce.ByName(c.Allreduce)
	if err != nil {
		return nil, err
	}
	return &collcomm.Options{
		Allreducer:    reducer,
		InjectionRate: c.InjectionRate,
		FlopTime:      c.FlopTime,
	}, nil
}

// BasicInfo creates the variant configuration of one
// rank.
func (c *Config) BasicInfo(comm *collcomm.Comms) collectives.BasicInfo {
	info := collectives.BasicInfo{
		Comm:     comm,
		Datatype: c.Datatype,
		Op:       c.Op,
		Root:     c.Root,
		Tag:      c.Tag,
	}
	copy(info.PingpongRanks[:], c.PingpongRanks)
	return info
}
