package pool

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/mercury/pkg/mercuryerr"
	"github.com/cuemby/mercury/pkg/metrics"
	"github.com/gofrs/flock"
)

// Gate is a file-based counting semaphore coordinating the number of
// simultaneously-open stores across processes on one host: one flock
// file per slot, held for the slot's lifetime.
type Gate struct {
	dir   string
	slots []*flock.Flock
	held  []bool
}

// OpenGate creates (if needed) dir and prepares capacity slot files.
// No locks are taken until Acquire.
func OpenGate(dir string, capacity int) (*Gate, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, mercuryerr.Wrap(mercuryerr.KindIoError, "creating gate directory", err)
	}
	g := &Gate{dir: dir, slots: make([]*flock.Flock, capacity), held: make([]bool, capacity)}
	for i := 0; i < capacity; i++ {
		g.slots[i] = flock.New(filepath.Join(dir, fmt.Sprintf("slot-%d.lock", i)))
	}
	return g, nil
}

// Acquire takes the first free slot, polling until timeout (0 means
// unbounded). Returns the slot index to pass to Release.
func (g *Gate) Acquire(timeout time.Duration) (int, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.GateWaitDuration)

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		for i, fl := range g.slots {
			if g.held[i] {
				continue
			}
			ok, err := fl.TryLock()
			if err != nil {
				return -1, mercuryerr.Wrap(mercuryerr.KindIoError, "acquiring gate slot", err)
			}
			if ok {
				g.held[i] = true
				return i, nil
			}
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return -1, mercuryerr.New(mercuryerr.KindConcurrencyError, "gate acquisition timed out: no free slot")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Release gives back the slot returned by Acquire.
func (g *Gate) Release(slot int) error {
	if slot < 0 || slot >= len(g.slots) {
		return mercuryerr.New(mercuryerr.KindInvalidArgument, "invalid gate slot")
	}
	if !g.held[slot] {
		return nil
	}
	if err := g.slots[slot].Unlock(); err != nil {
		return mercuryerr.Wrap(mercuryerr.KindIoError, "releasing gate slot", err)
	}
	g.held[slot] = false
	return nil
}

// Close releases any slots this Gate handle still holds.
func (g *Gate) Close() error {
	for i, held := range g.held {
		if held {
			if err := g.Release(i); err != nil {
				return err
			}
		}
	}
	return nil
}
