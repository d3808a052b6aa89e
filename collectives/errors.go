package collectives

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrConfig is wrapped by every configuration error.
//
// A configuration error is detected identically on every
// rank during Init. It is reported once, on rank 0, and
// every rank waits at a barrier before Init returns, so
// the whole group stops together.
var ErrConfig = errors.New("invalid configuration")

// IsConfigError checks if err stems from a configuration
// error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfig)
}

func configError(p *Params, format string, args ...interface{}) error {
	err := errors.Wrapf(ErrConfig, format, args...)
	if p.Rank == 0 {
		klog.Errorf("%s: %v", p.Variant, err)
	}
	p.Comm.Barrier()
	return err
}

// checkCounts rejects element counts that cannot be
// addressed by a primitive call.
func checkCounts(p *Params, counts ...int64) error {
	for _, count := range counts {
		if count < 0 {
			return configError(p, "negative element count %d", count)
		}
		if count > MaxCount {
			return configError(p, "element count %d exceeds the maximum of %d", count, MaxCount)
		}
	}
	return nil
}

func checkReduction(p *Params) error {
	if !p.Op.Supports(p.Datatype) {
		return configError(p, "operator %s is not defined on %s", p.Op, p.Datatype)
	}
	return nil
}
