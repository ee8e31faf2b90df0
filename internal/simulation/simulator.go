package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/nerrad567/scada-hub/internal/controller"
)

// Logger defines the logging interface used by the Simulator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Broadcaster delivers one encoded tick message to its subscribers.
//
// Implementations must not block on slow subscribers; an error means this
// broadcaster failed for this message only.
type Broadcaster interface {
	Broadcast(controller string, payload []byte) error
}

// Deps holds the Simulator's collaborators.
type Deps struct {
	Registry     *controller.Registry
	Broadcasters []Broadcaster

	// Source is optional; a privately seeded PCG generator is used if nil.
	Source Source

	Logger Logger
}

// Simulator advances every enabled controller once per Run and broadcasts
// the resulting state of every controller.
type Simulator struct {
	registry     *controller.Registry
	broadcasters []Broadcaster
	logger       Logger

	mu  sync.Mutex // guards src
	src Source
}

// New creates a Simulator.
func New(deps Deps) *Simulator {
	src := deps.Source
	if src == nil {
		src = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // Simulated telemetry
	}
	var logger Logger = noopLogger{}
	if deps.Logger != nil {
		logger = deps.Logger
	}

	return &Simulator{
		registry:     deps.Registry,
		broadcasters: deps.Broadcasters,
		logger:       logger,
		src:          src,
	}
}

// Run performs one tick. It implements schedule.Task.
//
// The registry is updated in a single critical section; broadcasting happens
// afterwards from the returned snapshot. Broadcast failures are logged and
// never returned.
func (s *Simulator) Run(_ context.Context) error {
	s.mu.Lock()
	snap := s.registry.UpdateAll(func(_ string, st *controller.State) {
		*st = Next(*st, s.src)
	})
	s.mu.Unlock()

	for _, msg := range Messages(snap) {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encoding message for %q: %w", msg.Controller, err)
		}
		s.fanOut(msg.Controller, payload)
	}

	s.logger.Debug("tick complete", "version", snap.Version, "controllers", snap.Len())
	return nil
}

// fanOut hands payload to every broadcaster. One failing broadcaster does not
// stop the others.
func (s *Simulator) fanOut(name string, payload []byte) {
	for i, b := range s.broadcasters {
		if err := s.broadcast(b, name, payload); err != nil {
			s.logger.Warn("broadcast failed",
				"broadcaster", i, "controller", name, "error", err)
		}
	}
}

func (s *Simulator) broadcast(b Broadcaster, name string, payload []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("broadcaster panicked: %v", p)
		}
	}()
	return b.Broadcast(name, payload)
}
