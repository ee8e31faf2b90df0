package controller

import (
	"context"
	"sync"
	"time"
)

// Logger defines the logging interface used by the controller package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// writeTimeout bounds one background store write.
const writeTimeout = 5 * time.Second

// Persister serialises snapshot writes to a Store.
//
// Request paths hand snapshots to Submit, which never waits on storage. A
// single writer goroutine started by Start saves the newest pending snapshot;
// snapshots superseded before the writer gets to them are skipped. A snapshot
// whose Version is not newer than the last one written is dropped, so
// storage never moves backwards.
type Persister struct {
	store  Store
	logger Logger

	writeMu sync.Mutex // held for the duration of a store write

	mu       sync.Mutex // guards the fields below
	saved    uint64
	hasSaved bool
	pending  *Snapshot

	wake      chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once
}

// NewPersister creates a Persister writing to store.
// Submitted snapshots are only written once Start has been called.
func NewPersister(store Store) *Persister {
	return &Persister{
		store:  store,
		logger: noopLogger{},
		wake:   make(chan struct{}, 1),
	}
}

// SetLogger sets the logger for the persister.
func (p *Persister) SetLogger(logger Logger) {
	p.logger = logger
}

// Start launches the writer goroutine. It runs until ctx is cancelled or
// Close is called, then writes whatever is still pending.
func (p *Persister) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		var runCtx context.Context
		runCtx, p.cancel = context.WithCancel(ctx)
		p.done = make(chan struct{})
		go p.run(runCtx)
	})
}

// Close stops the writer after flushing the pending snapshot.
func (p *Persister) Close() {
	p.closeOnce.Do(func() {
		if p.cancel == nil {
			return
		}
		p.cancel()
		<-p.done
	})
}

// Submit queues snap for the writer and returns at once. A snapshot older
// than one already queued or written is ignored.
func (p *Persister) Submit(snap Snapshot) {
	p.mu.Lock()
	if (p.hasSaved && snap.Version <= p.saved) || (p.pending != nil && snap.Version <= p.pending.Version) {
		p.mu.Unlock()
		return
	}
	p.pending = &snap
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
		// Writer already signalled; it will pick up the newest pending.
	}
}

func (p *Persister) run(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-p.wake:
			p.flush()
		case <-ctx.Done():
			p.flush()
			return
		}
	}
}

// flush writes the pending snapshot, if any.
func (p *Persister) flush() {
	p.mu.Lock()
	snap := p.pending
	p.pending = nil
	p.mu.Unlock()

	if snap == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_ = p.Save(ctx, *snap) // Save logs failures
}

// Save writes snap synchronously unless a newer snapshot has already been
// written. It is used for the final write on shutdown.
//
// Store failures are logged and returned; callers are free to ignore them.
func (p *Persister) Save(ctx context.Context, snap Snapshot) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	stale := p.hasSaved && snap.Version <= p.saved
	saved := p.saved
	p.mu.Unlock()
	if stale {
		p.logger.Debug("skipping stale snapshot", "version", snap.Version, "saved", saved)
		return nil
	}

	if err := p.store.Save(ctx, snap); err != nil {
		p.logger.Warn("persisting controllers failed", "version", snap.Version, "error", err)
		return err
	}

	p.mu.Lock()
	p.saved = snap.Version
	p.hasSaved = true
	if p.pending != nil && p.pending.Version <= snap.Version {
		p.pending = nil
	}
	p.mu.Unlock()

	p.logger.Debug("controllers persisted", "version", snap.Version, "count", snap.Len())
	return nil
}

// SavedVersion returns the Version of the last snapshot written, and false
// if nothing has been written yet.
func (p *Persister) SavedVersion() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.saved, p.hasSaved
}
