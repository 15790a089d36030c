// Package fabrichost runs a dependency-injected Go application as a
// managed service instance inside a cluster orchestrator.
//
// A Host registers the single service type declared by the activation
// context with a ServiceRuntime. When the runtime asks for an instance,
// the host builds an instance Scope through a ServiceProviderAdapter. The
// scope holds an ApplicationLifetime, an embedded WebServer and an
// HTTPListener, and Start returns once the listener published its address
// and the lifetime reported started.
//
// Basic usage:
//
//	host, err := fabrichost.NewHost(
//	    fabrichost.WithLogger(logger),
//	    fabrichost.WithActivationContext(activation),
//	    fabrichost.WithRuntime(runtime),
//	    fabrichost.WithInstanceConfigurer(mountRoutes),
//	)
//	if err != nil {
//	    return err
//	}
//	return host.Run(ctx)
//
// The testruntime package provides an in-process ServiceRuntime for local
// development and tests, and the directory package records the published
// endpoints so other processes can find them.
package fabrichost
