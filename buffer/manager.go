package buffer

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"github.com/unixpickle/collbench/dtype"
)

// ErrAllocation is wrapped by every allocation failure.
var ErrAllocation = errors.New("allocation failed")

// A Manager allocates zeroed Vectors and keeps track of
// the ones that have not been freed.
//
// A Manager is safe to share between Goroutines, so one
// Manager may serve every simulated process of a run.
type Manager struct {
	// Limit is the maximum number of live bytes.
	// If it is 0, there is no limit.
	Limit int64

	lock      sync.Mutex
	live      map[*Vector]struct{}
	liveBytes int64
	peakBytes int64
}

// NewManager creates a Manager with a byte limit.
func NewManager(limit int64) *Manager {
	return &Manager{Limit: limit}
}

// Allocate creates a zeroed Vector of count elements.
func (m *Manager) Allocate(count int, t dtype.DataType) (*Vector, error) {
	if count < 0 {
		return nil, errors.Wrapf(ErrAllocation, "negative count %d", count)
	}
	size := int64(t.Size())
	if int64(count) > math.MaxInt64/size {
		return nil, errors.Wrapf(ErrAllocation, "%d elements of %s overflow", count, t)
	}
	nbytes := int64(count) * size

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.Limit > 0 && m.liveBytes+nbytes > m.Limit {
		return nil, errors.Wrapf(ErrAllocation, "%d bytes requested with %d of %d in use",
			nbytes, m.liveBytes, m.Limit)
	}
	v := &Vector{Data: make([]byte, nbytes), Count: count, Type: t}
	if m.live == nil {
		m.live = map[*Vector]struct{}{}
	}
	m.live[v] = struct{}{}
	m.liveBytes += nbytes
	if m.liveBytes > m.peakBytes {
		m.peakBytes = m.liveBytes
	}
	return v, nil
}

// Free releases a Vector returned by Allocate.
//
// Freeing nil is a no-op. Freeing a Vector twice, or one
// that this Manager did not allocate, panics.
func (m *Manager) Free(v *Vector) {
	if v == nil {
		return
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.live[v]; !ok {
		panic("free of a vector that is not live")
	}
	delete(m.live, v)
	m.liveBytes -= int64(len(v.Data))
	v.Data = nil
	v.Count = 0
}

// Live returns the number of live Vectors and the bytes
// they hold.
func (m *Manager) Live() (vectors int, bytes int64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.live), m.liveBytes
}

// Peak returns the largest number of bytes that were
// live at once.
func (m *Manager) Peak() int64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.peakBytes
}
