package fabrichost

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// HostInitializer runs once before the service type is registered.
type HostInitializer interface {
	Initialize(ctx context.Context) error
}

// InitializerFunc adapts a function to HostInitializer.
type InitializerFunc func(ctx context.Context) error

func (f InitializerFunc) Initialize(ctx context.Context) error { return f(ctx) }

// HostLifetime is the outer process lifetime the host runs inside.
type HostLifetime interface {
	WaitForStart(ctx context.Context) error
	Stop(ctx context.Context) error
}

// CompositeLifetime runs the host initializers in order before handing
// over to an inner HostLifetime.
type CompositeLifetime struct {
	initializers []HostInitializer
	inner        HostLifetime
	logger       Logger
	metrics      *Metrics

	mu       sync.Mutex
	lifetime *ApplicationLifetime
}

var _ HostLifetime = (*CompositeLifetime)(nil)

// NewCompositeLifetime wraps inner. A nil inner is treated as a lifetime
// with nothing to wait for.
func NewCompositeLifetime(inner HostLifetime, initializers []HostInitializer, logger Logger) *CompositeLifetime {
	if logger == nil {
		logger = NopLogger()
	}
	if inner == nil {
		inner = noopLifetime{}
	}
	return &CompositeLifetime{
		initializers: initializers,
		inner:        inner,
		logger:       logger,
	}
}

// Bind attaches the instance lifetime Stop will request shutdown on.
func (c *CompositeLifetime) Bind(lifetime *ApplicationLifetime) {
	c.mu.Lock()
	c.lifetime = lifetime
	c.mu.Unlock()
}

// WaitForStart runs every initializer strictly in registration order and
// stops at the first failure. The inner lifetime is only started after
// all initializers succeeded.
func (c *CompositeLifetime) WaitForStart(ctx context.Context) error {
	for i, init := range c.initializers {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.logger.Debug("Running host initializer", "index", i, "type", fmt.Sprintf("%T", init))
		if err := init.Initialize(ctx); err != nil {
			c.metrics.incInitializer("error")
			return fmt.Errorf("%w: initializer %d: %w", ErrInitializerFailed, i, err)
		}
		c.metrics.incInitializer("success")
	}
	return c.inner.WaitForStart(ctx)
}

// Stop requests application shutdown on the bound lifetime and then
// stops the inner lifetime.
func (c *CompositeLifetime) Stop(ctx context.Context) error {
	c.mu.Lock()
	lifetime := c.lifetime
	c.mu.Unlock()

	if lifetime != nil {
		lifetime.StopApplication()
	}
	return c.inner.Stop(ctx)
}

type noopLifetime struct{}

func (noopLifetime) WaitForStart(context.Context) error { return nil }
func (noopLifetime) Stop(context.Context) error         { return nil }

// SignalLifetime calls onSignal when the process receives SIGINT or
// SIGTERM between WaitForStart and Stop.
type SignalLifetime struct {
	onSignal func(os.Signal)
	logger   Logger

	mu   sync.Mutex
	sigs chan os.Signal
	done chan struct{}
}

var _ HostLifetime = (*SignalLifetime)(nil)

// NewSignalLifetime creates a lifetime that calls onSignal once on SIGINT
// or SIGTERM. A nil logger discards output.
func NewSignalLifetime(onSignal func(os.Signal), logger Logger) *SignalLifetime {
	if logger == nil {
		logger = NopLogger()
	}
	return &SignalLifetime{onSignal: onSignal, logger: logger}
}

// WaitForStart installs the signal handler. Calling it again is a no-op.
func (s *SignalLifetime) WaitForStart(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sigs != nil {
		return nil
	}

	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	s.sigs, s.done = sigs, done

	go func() {
		select {
		case sig := <-sigs:
			s.logger.Info("Received signal, shutting down", "signal", sig)
			if s.onSignal != nil {
				s.onSignal(sig)
			}
		case <-done:
		}
	}()
	return nil
}

// Stop removes the signal handler. Calling it again is a no-op.
func (s *SignalLifetime) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sigs == nil || s.done == nil {
		return nil
	}
	signal.Stop(s.sigs)
	close(s.done)
	s.done = nil
	return nil
}
