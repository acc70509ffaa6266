// Package lifecycle enforces that a node acts on at most one provisioning
// command and shuts the bootstrap service down after dispatching it.
//
// States move strictly forward:
//
//	Idle -> Announcing -> CommandAccepted -> Executing -> Terminated
//
// Stopping the service enters Terminated from any state except
// CommandAccepted: a command that was already acknowledged is always
// dispatched, and Execute terminates the service afterwards.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/node-bootstrap/metrics"
	"go.uber.org/atomic"
)

type State int32

const (
	Idle State = iota
	Announcing
	CommandAccepted
	Executing
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Announcing:
		return "announcing"
	case CommandAccepted:
		return "command-accepted"
	case Executing:
		return "executing"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyStarted  = errors.New("bootstrap service already started")
	ErrTerminated      = errors.New("bootstrap service terminated")
	ErrCommandRejected = errors.New("a command has already been accepted")
)

// Stopper is implemented by the announce loop.
type Stopper interface {
	Stop()
}

type Lifecycle struct {
	state     atomic.Int32
	announcer Stopper
	log       *slog.Logger

	// onTerminate runs once, right after the installer was dispatched. It
	// must not block: it is called from the request handler goroutine.
	onTerminate func()

	// stateGauge mirrors the current state when set.
	stateGauge prometheus.Gauge

	running sync.WaitGroup
}

func New(announcer Stopper, onTerminate func(), log *slog.Logger) *Lifecycle {
	if log == nil {
		log = slog.Default()
	}
	return &Lifecycle{
		announcer:   announcer,
		onTerminate: onTerminate,
		log:         log,
	}
}

// SetStateGauge publishes every later transition to g. Only the instance that
// owns the process metrics should set it.
func (l *Lifecycle) SetStateGauge(g prometheus.Gauge) {
	l.stateGauge = g
	if g != nil {
		g.Set(float64(l.State()))
	}
}

func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// Begin enters Announcing. It fails if the service was started before.
func (l *Lifecycle) Begin() error {
	if l.transition(Idle, Announcing) {
		return nil
	}
	if l.State() == Terminated {
		return ErrTerminated
	}
	return ErrAlreadyStarted
}

// Accept claims the node for a single command. Only the first caller while
// Announcing wins; the announce loop is stopped before Accept returns so no
// heartbeat fires after a command was accepted.
func (l *Lifecycle) Accept(command string) error {
	if !l.transition(Announcing, CommandAccepted) {
		l.log.Warn("Rejecting command", "command", command, "state", l.State().String())
		return ErrCommandRejected
	}

	l.announcer.Stop()
	l.log.Info("Command accepted", "command", command)
	return nil
}

// Execute dispatches run in a detached goroutine and terminates the service
// without waiting for it. The result of run is logged, never retried.
func (l *Lifecycle) Execute(ctx context.Context, command string, run func(ctx context.Context) error) {
	if !l.transition(CommandAccepted, Executing) {
		l.log.Error("Execute called without an accepted command", "command", command, "state", l.State().String())
		return
	}

	installCtx := context.WithoutCancel(ctx)
	l.running.Add(1)
	go func() {
		defer l.running.Done()

		l.log.Info("Installer started", "command", command)
		if err := run(installCtx); err != nil {
			metrics.InstallerRuns.WithLabelValues(command, metrics.ResultFailed).Inc()
			l.log.Error("Installer failed", "command", command, "err", err)
			return
		}
		metrics.InstallerRuns.WithLabelValues(command, metrics.ResultSucceeded).Inc()
		l.log.Info("Installer finished", "command", command)
	}()

	if l.Terminate() && l.onTerminate != nil {
		l.onTerminate()
	}
}

// Terminate enters the terminal state. It reports whether this call made the
// transition. An accepted command that has not been dispatched yet is left
// to Execute, which terminates once the installer is running.
func (l *Lifecycle) Terminate() bool {
	for {
		current := l.State()
		if current == Terminated || current == CommandAccepted {
			return false
		}
		if l.transition(current, Terminated) {
			return true
		}
	}
}

// Wait blocks until every dispatched installer run has returned.
func (l *Lifecycle) Wait() {
	l.running.Wait()
}

func (l *Lifecycle) transition(from, to State) bool {
	if !l.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if l.stateGauge != nil {
		l.stateGauge.Set(float64(to))
	}
	l.log.Debug("Lifecycle transition", "from", from.String(), "to", to.String())
	return true
}
