package fabrichost

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostScope(t *testing.T, options HostOptions) *Scope {
	t.Helper()
	require.NoError(t, options.Validate())
	s := NewScope()
	require.NoError(t, s.Register(ServiceLogger, testLogger()))
	require.NoError(t, s.Register(ServiceHostOptions, options))
	return s
}

func TestDefaultAdapter_BuildsInstanceScope(t *testing.T) {
	host := hostScope(t, DefaultHostOptions())
	server := newFakeServer("http://+:8080")
	require.NoError(t, host.Register(ServiceWebServerFactory, fakeServerFactory(server)))

	ictx := testInstanceContext()
	scope, err := NewDefaultServiceProviderAdapter().CreateInstanceScope(host, ictx)
	require.NoError(t, err)
	assert.Same(t, host, scope.Parent())

	got, err := ResolveAs[InstanceContext](scope, ServiceInstanceContext)
	require.NoError(t, err)
	assert.Equal(t, ictx.String(), got.String())

	activation, err := ResolveAs[ActivationContext](scope, ServiceActivationContext)
	require.NoError(t, err)
	assert.Equal(t, "fabric:/App1", activation.ApplicationName())

	lifetime, err := ResolveAs[*ApplicationLifetime](scope, ServiceLifetime)
	require.NoError(t, err)
	assert.Equal(t, PhaseNotStarted, lifetime.Phase())

	ws, err := ResolveAs[WebServer](scope, ServiceWebServer)
	require.NoError(t, err)
	assert.Same(t, server, ws)

	listener, err := ResolveAs[*HTTPListener](scope, ServiceListener)
	require.NoError(t, err)
	assert.Equal(t, ListenerCreated, listener.Status())
	assert.Empty(t, listener.URLSuffix())

	instance, err := ResolveAs[ServiceInstance](scope, ServiceInstanceKey)
	require.NoError(t, err)
	require.Len(t, instance.Listeners(), 1)
	assert.Same(t, listener, instance.Listeners()[0])

	assert.False(t, host.Has(ServiceLifetime), "instance services stay out of the host scope")
}

func TestDefaultAdapter_EachInstanceGetsFreshLifetime(t *testing.T) {
	host := hostScope(t, DefaultHostOptions())
	require.NoError(t, host.Register(ServiceWebServerFactory, WebServerFactory(func(*Scope) (WebServer, error) {
		return newFakeServer("http://+:8080"), nil
	})))
	adapter := NewDefaultServiceProviderAdapter()

	first, err := adapter.CreateInstanceScope(host, testInstanceContext())
	require.NoError(t, err)
	second, err := adapter.CreateInstanceScope(host, testInstanceContext())
	require.NoError(t, err)

	l1, err := ResolveAs[*ApplicationLifetime](first, ServiceLifetime)
	require.NoError(t, err)
	l2, err := ResolveAs[*ApplicationLifetime](second, ServiceLifetime)
	require.NoError(t, err)
	assert.NotSame(t, l1, l2)
}

func TestDefaultAdapter_UniqueServiceURL(t *testing.T) {
	options := DefaultHostOptions()
	options.UniqueServiceURL = true
	host := hostScope(t, options)
	require.NoError(t, host.Register(ServiceWebServerFactory, fakeServerFactory(newFakeServer("http://+:8080"))))

	scope, err := NewDefaultServiceProviderAdapter().CreateInstanceScope(host, testInstanceContext())
	require.NoError(t, err)

	listener, err := ResolveAs[*HTTPListener](scope, ServiceListener)
	require.NoError(t, err)
	assert.Equal(t, "/"+testPartition.String()+"/42", listener.URLSuffix())
}

func TestDefaultAdapter_DefaultServerAndConfigurers(t *testing.T) {
	options := DefaultHostOptions()
	options.Server.Host = "127.0.0.1"
	host := hostScope(t, options)

	var order []string
	adapter := NewDefaultServiceProviderAdapter(
		func(scope *Scope, _ InstanceContext) error {
			server, err := ResolveAs[*HTTPServer](scope, ServiceWebServer)
			if err != nil {
				return err
			}
			assert.NotNil(t, server.Router())
			order = append(order, "routes")
			return nil
		},
		func(*Scope, InstanceContext) error {
			order = append(order, "second")
			return nil
		},
	)

	scope, err := adapter.CreateInstanceScope(host, testInstanceContext())
	require.NoError(t, err)
	assert.Equal(t, []string{"routes", "second"}, order)
	assert.True(t, scope.Has(ServiceListener))
}

func TestDefaultAdapter_Errors(t *testing.T) {
	t.Run("missing logger", func(t *testing.T) {
		host := NewScope()
		require.NoError(t, host.Register(ServiceHostOptions, DefaultHostOptions()))
		_, err := NewDefaultServiceProviderAdapter().CreateInstanceScope(host, testInstanceContext())
		assert.ErrorIs(t, err, ErrRequiredServiceNotFound)
	})

	t.Run("missing options", func(t *testing.T) {
		host := NewScope()
		require.NoError(t, host.Register(ServiceLogger, testLogger()))
		_, err := NewDefaultServiceProviderAdapter().CreateInstanceScope(host, testInstanceContext())
		assert.ErrorIs(t, err, ErrRequiredServiceNotFound)
	})

	t.Run("factory failure", func(t *testing.T) {
		host := hostScope(t, DefaultHostOptions())
		cause := errors.New("no tls material")
		require.NoError(t, host.Register(ServiceWebServerFactory, WebServerFactory(func(*Scope) (WebServer, error) {
			return nil, cause
		})))
		_, err := NewDefaultServiceProviderAdapter().CreateInstanceScope(host, testInstanceContext())
		assert.ErrorIs(t, err, cause)
	})

	t.Run("configurer failure", func(t *testing.T) {
		host := hostScope(t, DefaultHostOptions())
		require.NoError(t, host.Register(ServiceWebServerFactory, fakeServerFactory(newFakeServer("http://+:80"))))
		cause := errors.New("bad route")
		adapter := NewDefaultServiceProviderAdapter(func(*Scope, InstanceContext) error { return cause })
		_, err := adapter.CreateInstanceScope(host, testInstanceContext())
		assert.ErrorIs(t, err, cause)
	})
}

func TestDefaultAdapter_InstanceLifecycle(t *testing.T) {
	host := hostScope(t, DefaultHostOptions())
	server := newFakeServer("http://+:8080")
	require.NoError(t, host.Register(ServiceWebServerFactory, fakeServerFactory(server)))

	scope, err := NewDefaultServiceProviderAdapter().CreateInstanceScope(host, testInstanceContext())
	require.NoError(t, err)
	instance, err := ResolveAs[ServiceInstance](scope, ServiceInstanceKey)
	require.NoError(t, err)

	addr, err := instance.Listeners()[0].Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:8080", addr)
	require.NoError(t, instance.OnOpen(context.Background()))
	require.NoError(t, instance.OnClose(context.Background()))

	lifetime, err := ResolveAs[*ApplicationLifetime](scope, ServiceLifetime)
	require.NoError(t, err)
	assert.Equal(t, PhaseStopped, lifetime.Phase())
	assert.False(t, server.isRunning())
}
