// Package testruntime is an in-process ServiceRuntime for local runs and
// end-to-end tests. It creates one instance per registered service type,
// opens its listeners and records the published addresses in a
// directory.Directory instead of talking to a cluster orchestrator.
package testruntime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/fabrichost"
	"github.com/GoCodeAlone/fabrichost/directory"
	"github.com/google/uuid"
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(l fabrichost.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithHostname overrides the name "*" hosts are replaced with.
func WithHostname(name string) Option {
	return func(r *Runtime) { r.hostname = name }
}

// ErrDirectoryNil is returned by New without a directory.
var ErrDirectoryNil = errors.New("testruntime: directory is nil")

// Runtime implements fabrichost.ServiceRuntime.
type Runtime struct {
	cfg        Config
	activation *fabrichost.StaticActivationContext
	dir        directory.Directory
	logger     fabrichost.Logger
	hostname   string

	mu        sync.Mutex
	instances []fabrichost.ServiceInstance
	addresses []string
	scope     *fabrichost.Scope
}

var _ fabrichost.ServiceRuntime = (*Runtime)(nil)

// New creates a runtime for cfg that publishes into dir. cfg is expected
// to have gone through LoadConfig or Config.Validate.
func New(cfg *Config, dir directory.Directory, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fabrichost.ErrConfigNil
	}
	if dir == nil {
		return nil, ErrDirectoryNil
	}
	r := &Runtime{
		cfg:        *cfg,
		activation: cfg.activation(),
		dir:        dir,
		logger:     fabrichost.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.hostname == "" {
		name, err := os.Hostname()
		if err != nil {
			name = "localhost"
		}
		r.hostname = name
	}
	return r, nil
}

// ActivationContext returns the code package context built from the
// configuration.
func (r *Runtime) ActivationContext() fabrichost.ActivationContext {
	return r.activation
}

// InstanceContext returns the identity handed to the factory for the
// given service type.
func (r *Runtime) InstanceContext(serviceTypeName string) fabrichost.InstanceContext {
	return fabrichost.InstanceContext{
		ServiceTypeName:     serviceTypeName,
		ServiceName:         fmt.Sprintf("fabric:/%s/%s", r.cfg.ApplicationName, directory.ServiceNameFromType(serviceTypeName)),
		PartitionID:         uuid.MustParse(r.cfg.PartitionID),
		ReplicaOrInstanceID: r.cfg.ReplicaOrInstanceID,
		PublishAddress:      r.cfg.PublishAddress,
		Kind:                fabrichost.ServiceKindStateless,
		Node: fabrichost.NodeContext{
			NodeName:        r.cfg.NodeContext.NodeName,
			NodeType:        r.cfg.NodeContext.NodeType,
			IPAddressOrFQDN: r.cfg.NodeContext.IPAddressOrFQDN,
		},
		Activation: r.activation,
	}
}

// RegisterService creates the instance, opens every listener, runs
// OnOpen after each one and records the address. Errors are returned
// as they happen; nothing is retried.
func (r *Runtime) RegisterService(ctx context.Context, serviceTypeName string, factory fabrichost.ServiceFactory, timeout time.Duration) error {
	if serviceTypeName == "" {
		return fabrichost.ErrEmptyServiceTypeName
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	instance, err := factory(r.InstanceContext(serviceTypeName))
	if err != nil {
		return fmt.Errorf("creating instance of %s: %w", serviceTypeName, err)
	}
	if instance == nil {
		return fabrichost.ErrFactoryReturnedNil
	}

	r.mu.Lock()
	r.instances = append(r.instances, instance)
	r.mu.Unlock()

	serviceName := directory.ServiceNameFromType(serviceTypeName)
	for i, listener := range instance.Listeners() {
		address, err := listener.Open(ctx)
		if err != nil {
			return fmt.Errorf("opening listener %d of %s: %w", i, serviceTypeName, err)
		}
		if err := instance.OnOpen(ctx); err != nil {
			return fmt.Errorf("opening instance of %s: %w", serviceTypeName, err)
		}

		address = r.normalizeAddress(address)
		r.logger.Info("Service started listening", "serviceType", serviceTypeName, "address", address)

		entry := directory.Entry{
			ServiceName:     serviceName,
			ApplicationName: r.cfg.ApplicationName,
			Address:         address,
		}
		if err := r.dir.Register(ctx, entry); err != nil {
			return fmt.Errorf("recording %s: %w", entry, err)
		}

		r.mu.Lock()
		r.addresses = append(r.addresses, address)
		r.mu.Unlock()
	}
	return nil
}

// normalizeAddress rewrites wildcard hosts and makes sure the address
// ends with exactly one "/".
func (r *Runtime) normalizeAddress(address string) string {
	address = fabrichost.RewriteWildcardAddress(address, r.cfg.PublishAddress)
	address = strings.ReplaceAll(address, "*", r.hostname)
	if !strings.HasSuffix(address, "/") {
		address += "/"
	}
	return address
}

// Addresses lists every address recorded so far.
func (r *Runtime) Addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.addresses...)
}

// WrapAdapter captures the instance scope inner builds so InstanceScope
// can return it.
func (r *Runtime) WrapAdapter(inner fabrichost.ServiceProviderAdapter) fabrichost.ServiceProviderAdapter {
	return adapterFunc(func(host *fabrichost.Scope, ictx fabrichost.InstanceContext) (*fabrichost.Scope, error) {
		scope, err := inner.CreateInstanceScope(host, ictx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.scope = scope
		r.mu.Unlock()
		return scope, nil
	})
}

// InstanceScope returns the last instance scope the wrapped adapter built.
func (r *Runtime) InstanceScope() (*fabrichost.Scope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scope == nil {
		return nil, fabrichost.ErrInstanceNotStarted
	}
	return r.scope, nil
}

// HostOptions returns the host options that wire the runtime in: the
// runtime itself, its activation context and a default adapter running
// configurers, wrapped so the instance scope is captured.
func (r *Runtime) HostOptions(configurers ...fabrichost.InstanceConfigurer) []fabrichost.Option {
	return []fabrichost.Option{
		fabrichost.WithRuntime(r),
		fabrichost.WithActivationContext(r.activation),
		fabrichost.WithServiceProviderAdapter(r.WrapAdapter(fabrichost.NewDefaultServiceProviderAdapter(configurers...))),
	}
}

// Close runs OnClose on every instance the runtime created, newest first.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	instances := r.instances
	r.instances = nil
	r.mu.Unlock()

	var errs []error
	for i := len(instances) - 1; i >= 0; i-- {
		if err := instances[i].OnClose(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type adapterFunc func(host *fabrichost.Scope, ictx fabrichost.InstanceContext) (*fabrichost.Scope, error)

func (f adapterFunc) CreateInstanceScope(host *fabrichost.Scope, ictx fabrichost.InstanceContext) (*fabrichost.Scope, error) {
	return f(host, ictx)
}
