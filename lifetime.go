package fabrichost

import (
	"context"
	"sync"
)

// LifetimePhase is the phase of an ApplicationLifetime. Phases only move
// forward: NotStarted, Started, Stopping, Stopped.
type LifetimePhase int32

const (
	PhaseNotStarted LifetimePhase = iota
	PhaseStarted
	PhaseStopping
	PhaseStopped
)

func (p LifetimePhase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseStarted:
		return "started"
	case PhaseStopping:
		return "stopping"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// phaseSignal is a one-shot broadcast for a single phase.
type phaseSignal struct {
	fired     bool
	done      chan struct{}
	nextID    uint64
	callbacks []phaseCallback
}

type phaseCallback struct {
	id uint64
	fn func()
}

// ApplicationLifetime is the started/stopping/stopped broadcast shared by
// the communication listener, the service instance and the host.
//
// Each phase fires at most once. Callbacks registered for a phase run
// synchronously, in registration order, when the phase fires; callbacks
// registered after the phase fired run immediately on the registering
// goroutine. The channel returned by Started, Stopping or Stopped is
// closed once every callback registered before the phase fired has run.
type ApplicationLifetime struct {
	mu       sync.Mutex
	phase    LifetimePhase
	started  phaseSignal
	stopping phaseSignal
	stopped  phaseSignal
	logger   Logger
}

// NewApplicationLifetime creates a lifetime in PhaseNotStarted. A nil
// logger discards callback panics silently.
func NewApplicationLifetime(logger Logger) *ApplicationLifetime {
	if logger == nil {
		logger = NopLogger()
	}
	return &ApplicationLifetime{
		started:  phaseSignal{done: make(chan struct{})},
		stopping: phaseSignal{done: make(chan struct{})},
		stopped:  phaseSignal{done: make(chan struct{})},
		logger:   logger,
	}
}

// Phase returns the current phase.
func (l *ApplicationLifetime) Phase() LifetimePhase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Started is closed after the Started phase fired.
func (l *ApplicationLifetime) Started() <-chan struct{} { return l.started.done }

// Stopping is closed after the Stopping phase fired.
func (l *ApplicationLifetime) Stopping() <-chan struct{} { return l.stopping.done }

// Stopped is closed after the Stopped phase fired.
func (l *ApplicationLifetime) Stopped() <-chan struct{} { return l.stopped.done }

// WaitStarted blocks until the Started phase fired. It returns
// ErrApplicationStopped when the lifetime reached Stopping without ever
// starting, and ctx.Err() when ctx ends first. Started wins every tie.
func (l *ApplicationLifetime) WaitStarted(ctx context.Context) error {
	select {
	case <-l.started.done:
		return nil
	case <-l.stopping.done:
	case <-ctx.Done():
	}

	select {
	case <-l.started.done:
		return nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrApplicationStopped
}

// OnStarted registers fn for the Started phase. The returned function
// removes the registration and reports whether fn was still pending.
func (l *ApplicationLifetime) OnStarted(fn func()) (unregister func() bool) {
	return l.register(&l.started, "started", fn)
}

// OnStopping registers fn for the Stopping phase.
func (l *ApplicationLifetime) OnStopping(fn func()) (unregister func() bool) {
	return l.register(&l.stopping, "stopping", fn)
}

// OnStopped registers fn for the Stopped phase.
func (l *ApplicationLifetime) OnStopped(fn func()) (unregister func() bool) {
	return l.register(&l.stopped, "stopped", fn)
}

// NotifyStarted moves NotStarted to Started. Any other phase makes it a no-op.
func (l *ApplicationLifetime) NotifyStarted() {
	l.mu.Lock()
	if l.phase != PhaseNotStarted {
		l.mu.Unlock()
		return
	}
	l.phase = PhaseStarted
	l.mu.Unlock()

	l.fire(&l.started, "started")
}

// StopApplication requests shutdown. It is the only way into Stopping and
// is a no-op once Stopping or Stopped was reached.
func (l *ApplicationLifetime) StopApplication() {
	l.mu.Lock()
	if l.phase >= PhaseStopping {
		l.mu.Unlock()
		return
	}
	l.phase = PhaseStopping
	l.mu.Unlock()

	l.fire(&l.stopping, "stopping")
}

// NotifyStopped moves the lifetime to Stopped. Stopping observers are
// released first when StopApplication was never called.
func (l *ApplicationLifetime) NotifyStopped() {
	l.mu.Lock()
	if l.phase == PhaseStopped {
		l.mu.Unlock()
		return
	}
	l.phase = PhaseStopped
	l.mu.Unlock()

	l.fire(&l.stopping, "stopping")
	l.fire(&l.stopped, "stopped")
}

func (l *ApplicationLifetime) register(sig *phaseSignal, name string, fn func()) func() bool {
	l.mu.Lock()
	if sig.fired {
		l.mu.Unlock()
		l.invoke(name, fn)
		return func() bool { return false }
	}
	sig.nextID++
	id := sig.nextID
	sig.callbacks = append(sig.callbacks, phaseCallback{id: id, fn: fn})
	l.mu.Unlock()

	return func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, cb := range sig.callbacks {
			if cb.id == id {
				sig.callbacks = append(sig.callbacks[:i], sig.callbacks[i+1:]...)
				return true
			}
		}
		return false
	}
}

func (l *ApplicationLifetime) fire(sig *phaseSignal, name string) {
	l.mu.Lock()
	if sig.fired {
		l.mu.Unlock()
		return
	}
	sig.fired = true
	callbacks := sig.callbacks
	sig.callbacks = nil
	l.mu.Unlock()

	for _, cb := range callbacks {
		l.invoke(name, cb.fn)
	}
	close(sig.done)
}

func (l *ApplicationLifetime) invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Lifetime callback panicked", "phase", name, "panic", r)
		}
	}()
	fn()
}
