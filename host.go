package fabrichost

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// HostState is the lifecycle state of a Host.
type HostState int32

const (
	HostCreated HostState = iota
	HostStarting
	HostStarted
	HostStopping
	HostStopped
	HostFaulted
)

func (s HostState) String() string {
	switch s {
	case HostCreated:
		return "created"
	case HostStarting:
		return "starting"
	case HostStarted:
		return "started"
	case HostStopping:
		return "stopping"
	case HostStopped:
		return "stopped"
	case HostFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Host runs a DI application as one managed service instance. Start
// registers the single declared service type with the runtime and blocks
// until the runtime created the instance and the instance reported
// started. Stop closes the listener and tears the instance down.
type Host struct {
	logger      Logger
	activation  ActivationContext
	runtime     ServiceRuntime
	options     HostOptions
	serviceType ServiceTypeDescription
	adapter     ServiceProviderAdapter
	lifetime    *CompositeLifetime
	services    *Scope
	events      *EventBus
	metrics     *Metrics

	mu       sync.Mutex
	state    HostState
	runStop  context.CancelFunc
	detachFn func() bool
	startCtx context.Context

	instanceScope atomic.Pointer[Scope]
	published     chan struct{}
}

// State returns the current host state.
func (h *Host) State() HostState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Host) setState(s HostState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
	h.metrics.setHostState(s)
}

// Services returns the host scope. Instance scopes are its children.
func (h *Host) Services() *Scope {
	return h.services
}

// InstanceScope returns the scope of the running instance once the
// runtime created it.
func (h *Host) InstanceScope() (*Scope, bool) {
	s := h.instanceScope.Load()
	return s, s != nil
}

// ServiceTypeName returns the service type the host registers.
func (h *Host) ServiceTypeName() string {
	return h.serviceType.ServiceTypeName
}

// Events returns the subject host events are published on.
func (h *Host) Events() Subject {
	return h.events
}

// Start runs the initializers, registers the service type and waits for
// the instance to start. Cancelling ctx before the instance started
// requests application stop and returns ctx.Err().
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	switch h.state {
	case HostCreated:
	case HostFaulted:
		h.mu.Unlock()
		return ErrHostFaulted
	default:
		h.mu.Unlock()
		return ErrHostAlreadyStarted
	}
	h.state = HostStarting
	h.startCtx = context.WithoutCancel(ctx)
	h.mu.Unlock()
	h.metrics.setHostState(HostStarting)

	began := time.Now()
	typeName := h.serviceType.ServiceTypeName
	h.logger.Info("Starting host", "serviceType", typeName)
	h.events.emit(ctx, EventTypeHostStarting, map[string]any{"serviceType": typeName})

	if err := h.lifetime.WaitForStart(ctx); err != nil {
		return h.fail(ctx, err)
	}

	if err := h.runtime.RegisterService(ctx, typeName, h.createInstance, h.options.RegistrationTimeout); err != nil {
		return h.fail(ctx, fmt.Errorf("%w: %s: %w", ErrRegistrationFailed, typeName, err))
	}

	select {
	case <-h.published:
	case <-ctx.Done():
		return h.fail(ctx, ctx.Err())
	}

	scope := h.instanceScope.Load()
	lifetime, err := ResolveAs[*ApplicationLifetime](scope, ServiceLifetime)
	if err != nil {
		return h.fail(ctx, err)
	}
	h.lifetime.Bind(lifetime)

	detach := context.AfterFunc(ctx, lifetime.StopApplication)
	h.mu.Lock()
	h.detachFn = detach
	h.mu.Unlock()

	if err := lifetime.WaitStarted(ctx); err != nil {
		if ctx.Err() != nil {
			lifetime.StopApplication()
		}
		return h.fail(ctx, err)
	}
	detach()

	h.setState(HostStarted)
	h.metrics.observeStart("success", time.Since(began).Seconds())
	h.events.emit(ctx, EventTypeHostStarted, map[string]any{"serviceType": typeName})
	h.logger.Info("Host started", "serviceType", typeName, "duration", time.Since(began))
	return nil
}

func (h *Host) fail(ctx context.Context, err error) error {
	logCritical(ctx, h.logger, "Host failed to start", "serviceType", h.serviceType.ServiceTypeName, "error", err)
	h.setState(HostFaulted)
	h.metrics.observeStart("error", 0)
	if stopErr := h.lifetime.Stop(context.WithoutCancel(ctx)); stopErr != nil {
		h.logger.Debug("Failed to release host lifetime after start failure", "error", stopErr)
	}
	h.events.emit(context.WithoutCancel(ctx), EventTypeHostStartFailed, map[string]any{
		"serviceType": h.serviceType.ServiceTypeName,
		"error":       err.Error(),
	})
	return err
}

// createInstance is the ServiceFactory handed to the runtime.
func (h *Host) createInstance(ictx InstanceContext) (ServiceInstance, error) {
	scope, err := h.adapter.CreateInstanceScope(h.services, ictx)
	if err != nil {
		return nil, fmt.Errorf("creating instance scope: %w", err)
	}

	instance, err := ResolveAs[ServiceInstance](scope, ServiceInstanceKey)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, ErrFactoryReturnedNil
	}
	if len(instance.Listeners()) == 0 {
		return nil, ErrInstanceHasNoListen
	}

	if h.instanceScope.CompareAndSwap(nil, scope) {
		close(h.published)
	} else {
		h.logger.Warn("Runtime created another instance, host keeps the first scope", "instance", ictx.String())
	}

	h.mu.Lock()
	emitCtx := h.startCtx
	h.mu.Unlock()
	if emitCtx == nil {
		emitCtx = context.Background()
	}
	h.events.emit(emitCtx, EventTypeInstanceCreated, map[string]any{
		"instance":    ictx.String(),
		"partitionId": ictx.PartitionID.String(),
	})
	h.logger.Debug("Instance scope created", "instance", ictx.String(), "services", scope.Names())
	return instance, nil
}

// Stop requests application stop, closes the listener and stops the host
// lifetime. It does nothing when no instance was created. Errors are
// logged, never returned.
func (h *Host) Stop(ctx context.Context) error {
	scope := h.instanceScope.Load()
	if scope == nil {
		h.logger.Debug("Stop called before an instance was created")
		return nil
	}

	h.mu.Lock()
	if h.state == HostStopping || h.state == HostStopped {
		h.mu.Unlock()
		return nil
	}
	h.state = HostStopping
	detach := h.detachFn
	h.mu.Unlock()
	h.metrics.setHostState(HostStopping)

	if detach != nil {
		detach()
	}

	typeName := h.serviceType.ServiceTypeName
	h.logger.Info("Stopping host", "serviceType", typeName)
	h.events.emit(ctx, EventTypeHostStopping, map[string]any{"serviceType": typeName})

	if lifetime, err := ResolveAs[*ApplicationLifetime](scope, ServiceLifetime); err == nil {
		lifetime.StopApplication()
	} else {
		h.logger.Error("Failed to resolve application lifetime", "error", err)
	}

	closeCtx := ctx
	if h.options.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		closeCtx, cancel = context.WithTimeout(ctx, h.options.ShutdownTimeout)
		defer cancel()
	}

	listener, err := ResolveAs[CommunicationListener](scope, ServiceListener)
	switch {
	case err != nil:
		h.logger.Error("Failed to resolve listener", "error", err)
	default:
		if err := listener.Close(closeCtx); err != nil {
			h.logger.Error("Failed to close listener", "error", err)
		}
	}

	if err := h.lifetime.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Error("Failed to stop host lifetime", "error", err)
	}

	h.setState(HostStopped)
	h.events.emit(context.WithoutCancel(ctx), EventTypeHostStopped, map[string]any{"serviceType": typeName})
	h.logger.Info("Host stopped", "serviceType", typeName)
	return nil
}

// Run starts the host, waits until ctx is done or the application is
// asked to stop, then stops the host.
func (h *Host) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.mu.Lock()
	h.runStop = cancel
	h.mu.Unlock()

	if err := h.Start(ctx); err != nil {
		return err
	}

	scope := h.instanceScope.Load()
	lifetime, err := ResolveAs[*ApplicationLifetime](scope, ServiceLifetime)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		h.logger.Info("Context cancelled, shutting down")
	case <-lifetime.Stopping():
		h.logger.Info("Application stopping, shutting down")
	}

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), h.options.ShutdownTimeout+time.Second)
	defer stopCancel()
	return h.Stop(stopCtx)
}

// requestStop is the signal handler target.
func (h *Host) requestStop() {
	if scope := h.instanceScope.Load(); scope != nil {
		if lifetime, err := ResolveAs[*ApplicationLifetime](scope, ServiceLifetime); err == nil {
			lifetime.StopApplication()
		}
	}
	h.mu.Lock()
	cancel := h.runStop
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
