package fabrichost

import (
	"context"
	"fmt"
	"time"
)

// StatelessCommunicationService is the ServiceInstance built for every
// instance scope. It owns one listener and ties the instance open/close
// callbacks to the application lifetime.
type StatelessCommunicationService struct {
	listener        CommunicationListener
	lifetime        *ApplicationLifetime
	shutdownTimeout time.Duration
	logger          Logger
}

var _ ServiceInstance = (*StatelessCommunicationService)(nil)

// NewStatelessCommunicationService wires listener to lifetime. OnClose
// waits at most shutdownTimeout for the application to stop.
func NewStatelessCommunicationService(listener CommunicationListener, lifetime *ApplicationLifetime, shutdownTimeout time.Duration, logger Logger) *StatelessCommunicationService {
	if logger == nil {
		logger = NopLogger()
	}
	return &StatelessCommunicationService{
		listener:        listener,
		lifetime:        lifetime,
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}
}

func (s *StatelessCommunicationService) Listeners() []CommunicationListener {
	return []CommunicationListener{s.listener}
}

// OnOpen marks the application started.
func (s *StatelessCommunicationService) OnOpen(context.Context) error {
	s.lifetime.NotifyStarted()
	return nil
}

// OnClose closes the listener, requests application stop and waits for
// Stopping, bounded by the shutdown timeout and ctx. Failures are logged
// at critical severity and never returned.
func (s *StatelessCommunicationService) OnClose(ctx context.Context) error {
	if err := s.listener.Close(ctx); err != nil {
		logCritical(ctx, s.logger, "Failed to close listener", "error", err)
	}

	s.lifetime.StopApplication()

	waitCtx := ctx
	if s.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}

	select {
	case <-s.lifetime.Stopping():
	case <-waitCtx.Done():
		logCritical(ctx, s.logger, "Application did not stop in time",
			"error", fmt.Errorf("waiting for stopping: %w", waitCtx.Err()))
	}

	s.lifetime.NotifyStopped()
	return nil
}
