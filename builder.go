package fabrichost

import (
	"context"
	"fmt"
	"os"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Host under construction.
type Option func(*HostBuilder) error

// ObserverFunc is a functional observer registered on the host event bus.
type ObserverFunc func(ctx context.Context, event cloudevents.Event) error

// HostBuilder collects the pieces of a Host.
type HostBuilder struct {
	logger       Logger
	activation   ActivationContext
	runtime      ServiceRuntime
	options      *HostOptions
	initializers []HostInitializer
	adapter      ServiceProviderAdapter
	configurers  []InstanceConfigurer
	lifetime     HostLifetime
	signals      bool
	services     []namedService
	observers    []ObserverFunc
	registry     *prometheus.Registry
}

type namedService struct {
	name     string
	instance any
}

// NewHost builds a host from opts. Logger, activation context and runtime
// are required, and the activation context must declare exactly one
// service type.
func NewHost(opts ...Option) (*Host, error) {
	b := &HostBuilder{}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// Build validates the collected options and creates the host.
func (b *HostBuilder) Build() (*Host, error) {
	if b.logger == nil {
		return nil, ErrLoggerNotSet
	}
	if b.activation == nil {
		return nil, ErrActivationContextNotSet
	}
	if b.runtime == nil {
		return nil, ErrRuntimeNotSet
	}
	serviceType, err := singleServiceType(b.activation)
	if err != nil {
		return nil, err
	}
	if serviceType.ServiceTypeName == "" {
		return nil, ErrEmptyServiceTypeName
	}

	options := DefaultHostOptions()
	if b.options != nil {
		options = *b.options
		if err := ProcessConfigDefaults(&options); err != nil {
			return nil, err
		}
	}
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid host options: %w", err)
	}

	adapter := b.adapter
	if adapter == nil {
		adapter = NewDefaultServiceProviderAdapter(b.configurers...)
	}

	events := NewEventBus("fabrichost/"+serviceType.ServiceTypeName, b.logger).
		WithExtension(ExtensionServiceType, serviceType.ServiceTypeName)
	if app := b.activation.ApplicationName(); app != "" {
		events.WithExtension(ExtensionApplication, app)
	}

	h := &Host{
		logger:      b.logger,
		activation:  b.activation,
		runtime:     b.runtime,
		options:     options,
		serviceType: serviceType,
		adapter:     adapter,
		services:    NewScope(),
		events:      events,
		published:   make(chan struct{}),
	}

	if b.registry != nil {
		m, err := NewMetrics(b.registry)
		if err != nil {
			return nil, err
		}
		h.metrics = m
	}

	inner := b.lifetime
	if inner == nil && b.signals {
		inner = NewSignalLifetime(func(_ os.Signal) { h.requestStop() }, b.logger)
	}
	h.lifetime = NewCompositeLifetime(inner, b.initializers, b.logger)
	h.lifetime.metrics = h.metrics

	for i, fn := range b.observers {
		id := fmt.Sprintf("observer-%d", i)
		if err := h.events.RegisterObserver(NewFunctionalObserver(id, fn)); err != nil {
			return nil, err
		}
	}

	core := []namedService{
		{ServiceLogger, b.logger},
		{ServiceHostOptions, options},
		{ServiceActivationContext, b.activation},
		{ServiceHost, h},
		{ServiceEvents, h.events},
	}
	if h.metrics != nil {
		core = append(core, namedService{ServiceMetrics, h.metrics})
	}
	for _, svc := range append(core, b.services...) {
		if err := h.services.Register(svc.name, svc.instance); err != nil {
			return nil, fmt.Errorf("failed to register service %s: %w", svc.name, err)
		}
	}

	h.setState(HostCreated)
	return h, nil
}

// WithLogger sets the host logger. Required.
func WithLogger(logger Logger) Option {
	return func(b *HostBuilder) error {
		b.logger = logger
		return nil
	}
}

// WithActivationContext sets the code package activation context. Required.
func WithActivationContext(ac ActivationContext) Option {
	return func(b *HostBuilder) error {
		b.activation = ac
		return nil
	}
}

// WithRuntime sets the runtime the service type is registered with. Required.
func WithRuntime(rt ServiceRuntime) Option {
	return func(b *HostBuilder) error {
		b.runtime = rt
		return nil
	}
}

// WithHostOptions replaces the default HostOptions. Zero fields with a
// default tag still get their default.
func WithHostOptions(o HostOptions) Option {
	return func(b *HostBuilder) error {
		b.options = &o
		return nil
	}
}

// WithInitializer appends initializers. They run in the order added.
func WithInitializer(inits ...HostInitializer) Option {
	return func(b *HostBuilder) error {
		b.initializers = append(b.initializers, inits...)
		return nil
	}
}

// WithInitializerFunc appends a function initializer.
func WithInitializerFunc(fn func(ctx context.Context) error) Option {
	return WithInitializer(InitializerFunc(fn))
}

// WithServiceProviderAdapter replaces the default adapter. Instance
// configurers are ignored when a custom adapter is set.
func WithServiceProviderAdapter(a ServiceProviderAdapter) Option {
	return func(b *HostBuilder) error {
		b.adapter = a
		return nil
	}
}

// WithInstanceConfigurer runs fn against every new instance scope.
func WithInstanceConfigurer(fn InstanceConfigurer) Option {
	return func(b *HostBuilder) error {
		b.configurers = append(b.configurers, fn)
		return nil
	}
}

// WithHostLifetime sets the lifetime the host runs inside.
func WithHostLifetime(l HostLifetime) Option {
	return func(b *HostBuilder) error {
		b.lifetime = l
		return nil
	}
}

// WithSignalHandling stops the application on SIGINT or SIGTERM. Ignored
// when WithHostLifetime is also given.
func WithSignalHandling() Option {
	return func(b *HostBuilder) error {
		b.signals = true
		return nil
	}
}

// WithService pre-registers a service in the host scope. Instance scopes
// inherit it.
func WithService(name string, instance any) Option {
	return func(b *HostBuilder) error {
		b.services = append(b.services, namedService{name, instance})
		return nil
	}
}

// WithConfig registers the application configuration under ServiceConfig.
func WithConfig(cfg any) Option {
	return WithService(ServiceConfig, cfg)
}

// WithWebServerFactory replaces the default HTTPServer for every instance.
func WithWebServerFactory(f WebServerFactory) Option {
	return WithService(ServiceWebServerFactory, f)
}

// WithObserver subscribes fn to every host event.
func WithObserver(fn ObserverFunc) Option {
	return func(b *HostBuilder) error {
		b.observers = append(b.observers, fn)
		return nil
	}
}

// WithMetrics registers host metrics on registry.
func WithMetrics(registry *prometheus.Registry) Option {
	return func(b *HostBuilder) error {
		b.registry = registry
		return nil
	}
}
