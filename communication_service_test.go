package fabrichost

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, server *fakeServer, timeout time.Duration, logger Logger) (*StatelessCommunicationService, *HTTPListener, *ApplicationLifetime) {
	t.Helper()
	lifetime := NewApplicationLifetime(logger)
	listener := NewHTTPListener(testInstanceContext(), lifetime, server, DefaultHostOptions(), logger)
	return NewStatelessCommunicationService(listener, lifetime, timeout, logger), listener, lifetime
}

func TestStatelessService_OpenAndClose(t *testing.T) {
	server := newFakeServer("http://0.0.0.0:9000")
	svc, listener, lifetime := newTestService(t, server, time.Second, testLogger())

	require.Len(t, svc.Listeners(), 1)
	addr, err := svc.Listeners()[0].Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:9000", addr)

	require.NoError(t, svc.OnOpen(context.Background()))
	assert.Equal(t, PhaseStarted, lifetime.Phase())

	var stoppingSeen, stoppedSeen bool
	lifetime.OnStopping(func() { stoppingSeen = true })
	lifetime.OnStopped(func() { stoppedSeen = true })

	require.NoError(t, svc.OnClose(context.Background()))
	assert.True(t, stoppingSeen)
	assert.True(t, stoppedSeen)
	assert.Equal(t, PhaseStopped, lifetime.Phase())
	assert.Equal(t, ListenerClosed, listener.Status())
	assert.Equal(t, int32(1), server.stops.Load())
}

func TestStatelessService_OnOpenIsIdempotent(t *testing.T) {
	svc, _, lifetime := newTestService(t, newFakeServer("http://+:1"), time.Second, nil)
	var started int
	lifetime.OnStarted(func() { started++ })

	require.NoError(t, svc.OnOpen(context.Background()))
	require.NoError(t, svc.OnOpen(context.Background()))
	assert.Equal(t, 1, started)
}

func TestStatelessService_CloseFailureIsLoggedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	server := newFakeServer("http://+:8080")
	server.stopErr = errors.New("drain failed")
	svc, listener, lifetime := newTestService(t, server, time.Second, logger)

	_, err := listener.Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, svc.OnClose(context.Background()))
	assert.Equal(t, PhaseStopped, lifetime.Phase())
	assert.Contains(t, buf.String(), "Failed to close listener")
	assert.Contains(t, buf.String(), "drain failed")
	assert.Contains(t, buf.String(), "level=ERROR+4")
}

func TestStatelessService_CloseBeforeOpen(t *testing.T) {
	server := newFakeServer("http://+:8080")
	svc, listener, lifetime := newTestService(t, server, 0, nil)

	require.NoError(t, svc.OnClose(context.Background()))
	assert.Equal(t, ListenerCreated, listener.Status())
	assert.Equal(t, PhaseStopped, lifetime.Phase())
	assert.Equal(t, int32(0), server.stops.Load())
}
