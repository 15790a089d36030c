package fabrichost

import (
	"fmt"
)

// ServiceProviderAdapter builds the per-instance service scope from the
// host scope.
type ServiceProviderAdapter interface {
	CreateInstanceScope(host *Scope, ictx InstanceContext) (*Scope, error)
}

// InstanceConfigurer customizes a freshly built instance scope, for
// example to mount application routes on the web server.
type InstanceConfigurer func(scope *Scope, ictx InstanceContext) error

// DefaultServiceProviderAdapter creates a child of the host scope holding
// the instance identity, a fresh ApplicationLifetime, the web server, an
// HTTPListener and the StatelessCommunicationService.
type DefaultServiceProviderAdapter struct {
	configurers []InstanceConfigurer
}

var _ ServiceProviderAdapter = (*DefaultServiceProviderAdapter)(nil)

// NewDefaultServiceProviderAdapter creates an adapter that runs configurers
// against every instance scope it builds, in order.
func NewDefaultServiceProviderAdapter(configurers ...InstanceConfigurer) *DefaultServiceProviderAdapter {
	return &DefaultServiceProviderAdapter{configurers: configurers}
}

func (a *DefaultServiceProviderAdapter) CreateInstanceScope(host *Scope, ictx InstanceContext) (*Scope, error) {
	var logger Logger
	if err := host.Require(ServiceLogger, &logger); err != nil {
		return nil, err
	}
	var options HostOptions
	if err := host.Require(ServiceHostOptions, &options); err != nil {
		return nil, err
	}

	scope := host.NewChild()
	lifetime := NewApplicationLifetime(logger)

	if err := scope.Register(ServiceInstanceContext, ictx); err != nil {
		return nil, err
	}
	if ictx.Activation != nil {
		if err := scope.Register(ServiceActivationContext, ictx.Activation); err != nil {
			return nil, err
		}
	}
	if err := scope.Register(ServiceLifetime, lifetime); err != nil {
		return nil, err
	}

	server, err := a.buildWebServer(scope, options, logger)
	if err != nil {
		return nil, err
	}
	if err := scope.Register(ServiceWebServer, server); err != nil {
		return nil, err
	}

	var listenerOpts []ListenerOption
	if bus, err := ResolveAs[*EventBus](scope, ServiceEvents); err == nil {
		listenerOpts = append(listenerOpts, WithListenerEvents(bus))
	}
	if m, err := ResolveAs[*Metrics](scope, ServiceMetrics); err == nil {
		listenerOpts = append(listenerOpts, WithListenerMetrics(m))
	}

	listener := NewHTTPListener(ictx, lifetime, server, options, logger, listenerOpts...)
	if options.UniqueServiceURL {
		listener.ConfigureUniqueServiceURL()
	}
	if err := scope.Register(ServiceListener, listener); err != nil {
		return nil, err
	}

	instance := NewStatelessCommunicationService(listener, lifetime, options.ShutdownTimeout, logger)
	if err := scope.Register(ServiceInstanceKey, instance); err != nil {
		return nil, err
	}

	for i, configure := range a.configurers {
		if err := configure(scope, ictx); err != nil {
			return nil, fmt.Errorf("instance configurer %d: %w", i, err)
		}
	}
	return scope, nil
}

func (a *DefaultServiceProviderAdapter) buildWebServer(scope *Scope, options HostOptions, logger Logger) (WebServer, error) {
	if scope.Has(ServiceWebServerFactory) {
		factory, err := ResolveAs[WebServerFactory](scope, ServiceWebServerFactory)
		if err != nil {
			return nil, err
		}
		server, err := factory(scope)
		if err != nil {
			return nil, fmt.Errorf("building web server: %w", err)
		}
		return server, nil
	}
	server, err := NewHTTPServer(options.Server, logger)
	if err != nil {
		return nil, fmt.Errorf("building web server: %w", err)
	}
	return server, nil
}
