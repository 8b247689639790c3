// Package pool manages named QuadStore instances (at minimum
// "primary" and "secondary", for copy-and-switch pruning) behind
// scoped leases, coordinated across processes by a file-based Gate.
package pool

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/mercury/pkg/config"
	"github.com/cuemby/mercury/pkg/log"
	"github.com/cuemby/mercury/pkg/mercuryerr"
	"github.com/cuemby/mercury/pkg/metrics"
	"github.com/cuemby/mercury/pkg/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SlotState tracks a named store's place in the pool lifecycle.
type SlotState int

const (
	SlotFree SlotState = iota
	SlotRented
	SlotReturned
	SlotDisposed
)

type namedSlot struct {
	name  string
	dir   string
	store *storage.Store
	state SlotState
}

// Pool owns a set of named stores under a shared base directory.
type Pool struct {
	mu       sync.Mutex
	baseDir  string
	opts     config.Options
	gate     *Gate
	gateSlot int
	gateHeld bool
	slots    map[string]*namedSlot
	logger   zerolog.Logger
}

// Open prepares a pool rooted at baseDir, lazily opening each named
// store on its first rent. gate may be nil to run without
// cross-process coordination (e.g. in tests).
func Open(baseDir string, opts config.Options, gate *Gate, names ...string) (*Pool, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, mercuryerr.Wrap(mercuryerr.KindIoError, "creating pool directory", err)
	}
	p := &Pool{
		baseDir: baseDir, opts: opts, gate: gate,
		slots: make(map[string]*namedSlot, len(names)),
		logger: log.WithComponent("pool"),
	}
	for _, name := range names {
		p.slots[name] = &namedSlot{name: name, dir: filepath.Join(baseDir, name), state: SlotFree}
	}
	return p, nil
}

// Lease is a scoped rental of one named store.
type Lease struct {
	pool  *Pool
	name  string
	id    uuid.UUID
	store *storage.Store
}

// Store returns the leased store.
func (l *Lease) Store() *storage.Store { return l.store }

// Release returns the slot to the pool as Returned (reusable).
func (l *Lease) Release() error {
	return l.pool.release(l.name)
}

// Rent opens (if needed) and marks the named slot Rented, acquiring
// the process-wide gate on the pool's first rent of any name.
func (p *Pool) Rent(name string) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureGate(); err != nil {
		return nil, err
	}

	slot, ok := p.slots[name]
	if !ok {
		return nil, mercuryerr.New(mercuryerr.KindNotFound, "no such named store: "+name)
	}
	if slot.state == SlotRented {
		return nil, mercuryerr.New(mercuryerr.KindConcurrencyError, "store "+name+" is already rented")
	}
	if slot.store == nil {
		store, err := storage.Open(slot.dir, p.opts)
		if err != nil {
			return nil, err
		}
		slot.store = store
	}
	slot.state = SlotRented
	metrics.PoolLeasesActive.Inc()

	return &Lease{pool: p, name: name, id: uuid.New(), store: slot.store}, nil
}

func (p *Pool) release(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.slots[name]
	if !ok {
		return mercuryerr.New(mercuryerr.KindNotFound, "no such named store: "+name)
	}
	if slot.state != SlotRented {
		return nil
	}
	slot.state = SlotReturned
	metrics.PoolLeasesActive.Dec()
	return nil
}

func (p *Pool) ensureGate() error {
	if p.gate == nil || p.gateHeld {
		return nil
	}
	slot, err := p.gate.Acquire(0)
	if err != nil {
		return err
	}
	p.gateSlot = slot
	p.gateHeld = true
	return nil
}

// Switch atomically makes the store currently named b become the new
// a: both are closed, a's directory is discarded, b's directory is
// renamed onto a's path, and a is reopened. b is left Disposed; a
// later Rent of b opens a fresh, empty store at b's directory.
func (p *Pool) Switch(a, b string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sa, ok := p.slots[a]
	if !ok {
		return mercuryerr.New(mercuryerr.KindNotFound, "no such named store: "+a)
	}
	sb, ok := p.slots[b]
	if !ok {
		return mercuryerr.New(mercuryerr.KindNotFound, "no such named store: "+b)
	}
	if sa.state == SlotRented || sb.state == SlotRented {
		return mercuryerr.New(mercuryerr.KindConcurrencyError, "cannot switch a rented store")
	}

	if sa.store != nil {
		if err := sa.store.Close(); err != nil {
			return err
		}
		sa.store = nil
	}
	if sb.store != nil {
		if err := sb.store.Close(); err != nil {
			return err
		}
		sb.store = nil
	}

	if err := os.RemoveAll(sa.dir); err != nil {
		return mercuryerr.Wrap(mercuryerr.KindIoError, "discarding old "+a+" directory", err)
	}
	if err := os.Rename(sb.dir, sa.dir); err != nil {
		return mercuryerr.Wrap(mercuryerr.KindIoError, "renaming "+b+" onto "+a, err)
	}

	store, err := storage.Open(sa.dir, p.opts)
	if err != nil {
		return err
	}
	sa.store = store
	sa.state = SlotReturned
	sb.state = SlotDisposed

	p.logger.Info().Str("from", b).Str("to", a).Msg("pool slot switched")
	return nil
}

// Close closes every open store and releases the gate slot.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, slot := range p.slots {
		if slot.store != nil {
			if err := slot.store.Close(); err != nil {
				return err
			}
			slot.store = nil
		}
		slot.state = SlotDisposed
	}
	if p.gateHeld {
		if err := p.gate.Release(p.gateSlot); err != nil {
			return err
		}
		p.gateHeld = false
	}
	return nil
}
