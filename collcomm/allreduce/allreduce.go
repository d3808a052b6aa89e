// Package allreduce implements algorithms for reducing
// vectors across many different connected Nodes.
//
// Each algorithm is a collcomm.Allreducer, so it can be
// plugged into Comms.Allreduce through collcomm.Options.
package allreduce

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/unixpickle/collbench/buffer"
	"github.com/unixpickle/collbench/collcomm"
)

var allreducers = map[string]collcomm.Allreducer{
	"naive":  NaiveAllreducer{},
	"tree":   TreeAllreducer{},
	"stream": StreamAllreducer{},
}

// Names lists the algorithms that ByName recognizes, in
// sorted order.
func Names() []string {
	var res []string
	for name := range allreducers {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

// ByName looks up an algorithm by name.
//
// The empty string and "default" yield nil, which makes
// Comms fall back to a Reduce followed by a Bcast.
func ByName(name string) (collcomm.Allreducer, error) {
	name = strings.ToLower(name)
	if name == "" || name == "default" {
		return nil, nil
	}
	if a, ok := allreducers[name]; ok {
		return a, nil
	}
	return nil, errors.Errorf("unknown allreduce algorithm %q (options: default, %s)", name,
		strings.Join(Names(), ", "))
}

func checkShapes(send, recv *buffer.Vector) {
	if send.Count != recv.Count || send.Type != recv.Type {
		panic("mismatching send and receive buffers")
	}
}
