package fabrichost

import (
	"context"
	"time"
)

// ServiceInstance is what a ServiceFactory hands back to the runtime for
// one instance of a service type.
type ServiceInstance interface {
	// Listeners returns the communication listeners the runtime opens.
	Listeners() []CommunicationListener
	// OnOpen runs after every listener opened.
	OnOpen(ctx context.Context) error
	// OnClose runs when the runtime shuts the instance down.
	OnClose(ctx context.Context) error
}

// ServiceFactory creates the instance for the given identity.
type ServiceFactory func(ictx InstanceContext) (ServiceInstance, error)

// ServiceRuntime registers service types with the orchestrator. After
// RegisterService returns, the runtime may create instances at any time
// by calling factory.
type ServiceRuntime interface {
	RegisterService(ctx context.Context, serviceTypeName string, factory ServiceFactory, timeout time.Duration) error
}

// ServiceRuntimeFunc adapts a function to ServiceRuntime.
type ServiceRuntimeFunc func(ctx context.Context, serviceTypeName string, factory ServiceFactory, timeout time.Duration) error

func (f ServiceRuntimeFunc) RegisterService(ctx context.Context, serviceTypeName string, factory ServiceFactory, timeout time.Duration) error {
	return f(ctx, serviceTypeName, factory, timeout)
}
