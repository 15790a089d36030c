package fabrichost

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCloudEvent(t *testing.T) {
	t.Parallel()
	event, err := NewCloudEvent(EventTypeHostStarted, "fabrichost/EchoType",
		map[string]any{"serviceType": "EchoType"},
		map[string]any{ExtensionServiceType: "EchoType"},
	)
	require.NoError(t, err)

	if event.Type() != EventTypeHostStarted {
		t.Errorf("Expected Type to be %q, got %s", EventTypeHostStarted, event.Type())
	}
	if event.Source() != "fabrichost/EchoType" {
		t.Errorf("Expected Source to be 'fabrichost/EchoType', got %s", event.Source())
	}
	id, err := uuid.Parse(event.ID())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())

	var data map[string]string
	require.NoError(t, event.DataAs(&data))
	assert.Equal(t, "EchoType", data["serviceType"])
	assert.Equal(t, "EchoType", ServiceTypeOf(event))
}

func TestNewCloudEvent_Invalid(t *testing.T) {
	t.Parallel()
	_, err := NewCloudEvent(EventTypeHostStarted, "src", nil, map[string]any{"Not-Valid": "x"})
	assert.Error(t, err, "extension names must be lowercase alphanumerics")

	_, err = NewCloudEvent("", "src", nil, nil)
	assert.Error(t, err)

	assert.Error(t, NewEventBus("src", nil).NotifyObservers(context.Background(), cloudevents.NewEvent()))
}

func TestEventBus_StampsExtensions(t *testing.T) {
	bus := NewEventBus("fabrichost/EchoType", nil).
		WithExtension(ExtensionServiceType, "EchoType").
		WithExtension(ExtensionApplication, "fabric:/App1")

	var got []CloudEvent
	require.NoError(t, bus.RegisterObserver(NewFunctionalObserver("rec", func(_ context.Context, e CloudEvent) error {
		got = append(got, e)
		return nil
	})))

	bus.emit(WithSynchronousNotification(context.Background()), EventTypeListenerOpened, map[string]any{"address": "http://10.0.0.5:8080"})

	require.Len(t, got, 1)
	assert.Equal(t, "EchoType", ServiceTypeOf(got[0]))
	assert.Equal(t, "fabric:/App1", got[0].Extensions()[ExtensionApplication])
	assert.Equal(t, "fabrichost/EchoType", got[0].Source())
}

type recordingObserver struct {
	id     string
	mu     sync.Mutex
	events []string
	err    error
}

func (r *recordingObserver) OnEvent(_ context.Context, event cloudevents.Event) error {
	r.mu.Lock()
	r.events = append(r.events, event.Type())
	r.mu.Unlock()
	return r.err
}

func (r *recordingObserver) ObserverID() string { return r.id }

func (r *recordingObserver) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestEventBus_SynchronousFiltering(t *testing.T) {
	bus := NewEventBus("fabrichost/test", nil)
	all := &recordingObserver{id: "all"}
	opened := &recordingObserver{id: "opened", err: errors.New("ignored")}

	require.NoError(t, bus.RegisterObserver(all))
	require.NoError(t, bus.RegisterObserver(opened, EventTypeListenerOpened))

	ctx := WithSynchronousNotification(context.Background())
	assert.True(t, IsSynchronousNotification(ctx))
	assert.False(t, IsSynchronousNotification(context.Background()))

	bus.emit(ctx, EventTypeHostStarting, nil)
	bus.emit(ctx, EventTypeListenerOpened, map[string]any{"address": "http://x"})

	assert.Equal(t, []string{EventTypeHostStarting, EventTypeListenerOpened}, all.seen())
	assert.Equal(t, []string{EventTypeListenerOpened}, opened.seen(), "observer errors do not stop delivery")
	assert.Len(t, bus.GetObservers(), 2)

	require.NoError(t, bus.UnregisterObserver(opened))
	require.NoError(t, bus.UnregisterObserver(opened))
	assert.Len(t, bus.GetObservers(), 1)
}

func TestEventBus_AsyncDeliveryAndPanics(t *testing.T) {
	bus := NewEventBus("fabrichost/test", NopLogger())
	require.NoError(t, bus.RegisterObserver(NewFunctionalObserver("panics", func(context.Context, cloudevents.Event) error {
		panic("observer bug")
	})))
	rec := &recordingObserver{id: "rec"}
	require.NoError(t, bus.RegisterObserver(rec))

	bus.emit(context.Background(), EventTypeHostStopped, nil)

	assert.Eventually(t, func() bool { return len(rec.seen()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestEventBus_NilIsSafe(t *testing.T) {
	var bus *EventBus
	assert.NotPanics(t, func() { bus.emit(context.Background(), EventTypeHostStarted, nil) })
}
