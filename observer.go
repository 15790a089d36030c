package fabrichost

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent is the event type observers receive.
type CloudEvent = cloudevents.Event

// Extension attributes stamped on every event of a host's bus.
const (
	ExtensionServiceType = "fabrichostservicetype"
	ExtensionApplication = "fabrichostapplication"
)

// Observer receives host lifecycle events as CloudEvents.
type Observer interface {
	// OnEvent is called for every event the observer subscribed to.
	// Handlers should return quickly.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID uniquely identifies the observer for registration.
	ObserverID() string
}

// Subject is implemented by anything observers can subscribe to.
type Subject interface {
	// RegisterObserver subscribes observer to eventTypes, or to every
	// event when none are given.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver is idempotent.
	UnregisterObserver(observer Observer) error

	NotifyObservers(ctx context.Context, event cloudevents.Event) error
	GetObservers() []ObserverInfo
}

// ObserverInfo describes a registered observer.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// CloudEvent types emitted by the host and its listeners.
const (
	EventTypeHostStarting    = "com.fabrichost.host.starting"
	EventTypeHostStarted     = "com.fabrichost.host.started"
	EventTypeHostStartFailed = "com.fabrichost.host.start_failed"
	EventTypeHostStopping    = "com.fabrichost.host.stopping"
	EventTypeHostStopped     = "com.fabrichost.host.stopped"

	EventTypeInstanceCreated = "com.fabrichost.instance.created"

	EventTypeListenerOpened  = "com.fabrichost.listener.opened"
	EventTypeListenerClosed  = "com.fabrichost.listener.closed"
	EventTypeListenerAborted = "com.fabrichost.listener.aborted"
)

// FunctionalObserver adapts a function to Observer.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer that calls handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{
		id:      id,
		handler: handler,
	}
}

func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

func (f *FunctionalObserver) ObserverID() string {
	return f.id
}

type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool
	registeredAt time.Time
}

// EventBus is the Subject the host publishes on. Delivery is asynchronous
// unless the context was marked with WithSynchronousNotification.
type EventBus struct {
	source     string
	extensions map[string]any
	logger     Logger
	mu         sync.RWMutex
	observers  map[string]*observerRegistration
}

var _ Subject = (*EventBus)(nil)

// NewEventBus creates a bus whose events carry source.
func NewEventBus(source string, logger Logger) *EventBus {
	if logger == nil {
		logger = NopLogger()
	}
	return &EventBus{
		source:     source,
		extensions: map[string]any{},
		logger:     logger,
		observers:  make(map[string]*observerRegistration),
	}
}

// WithExtension stamps name=value on every event the bus emits. Call it
// before the bus is shared.
func (b *EventBus) WithExtension(name string, value any) *EventBus {
	b.extensions[name] = value
	return b
}

// NewCloudEvent builds a v1.0 event with a time-ordered id, JSON data and
// the given extension attributes, and validates it.
func NewCloudEvent(eventType, source string, data any, extensions map[string]any) (CloudEvent, error) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	event := cloudevents.NewEvent(cloudevents.VersionV1)
	event.SetID(id.String())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now().UTC())

	if data != nil {
		if err := event.SetData(cloudevents.ApplicationJSON, data); err != nil {
			return event, fmt.Errorf("encode %s data: %w", eventType, err)
		}
	}
	for name, value := range extensions {
		if err := event.Context.SetExtension(name, value); err != nil {
			return event, fmt.Errorf("%s extension %q: %w", eventType, name, err)
		}
	}
	if err := event.Validate(); err != nil {
		return event, fmt.Errorf("invalid %s event: %w", eventType, err)
	}
	return event, nil
}

// ServiceTypeOf returns the service type a host event was emitted for.
func ServiceTypeOf(event CloudEvent) string {
	v, _ := event.Extensions()[ExtensionServiceType].(string)
	return v
}

func (b *EventBus) RegisterObserver(observer Observer, eventTypes ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	eventTypeMap := make(map[string]bool, len(eventTypes))
	for _, eventType := range eventTypes {
		eventTypeMap[eventType] = true
	}

	b.observers[observer.ObserverID()] = &observerRegistration{
		observer:     observer,
		eventTypes:   eventTypeMap,
		registeredAt: time.Now(),
	}

	b.logger.Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

func (b *EventBus) UnregisterObserver(observer Observer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.observers[observer.ObserverID()]; exists {
		delete(b.observers, observer.ObserverID())
		b.logger.Debug("Observer unregistered", "observerID", observer.ObserverID())
	}
	return nil
}

func (b *EventBus) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}
	if err := event.Validate(); err != nil {
		b.logger.Error("Invalid CloudEvent", "eventType", event.Type(), "error", err)
		return fmt.Errorf("invalid %s event: %w", event.Type(), err)
	}

	b.mu.RLock()
	targets := make([]*observerRegistration, 0, len(b.observers))
	for _, registration := range b.observers {
		if len(registration.eventTypes) > 0 && !registration.eventTypes[event.Type()] {
			continue
		}
		targets = append(targets, registration)
	}
	b.mu.RUnlock()

	inline := IsSynchronousNotification(ctx)
	for _, registration := range targets {
		if inline {
			b.deliver(ctx, registration.observer, event)
			continue
		}
		go b.deliver(ctx, registration.observer, event)
	}
	return nil
}

func (b *EventBus) deliver(ctx context.Context, observer Observer, event cloudevents.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Observer panicked", "observerID", observer.ObserverID(), "event", event.Type(), "panic", r)
		}
	}()
	if err := observer.OnEvent(ctx, event); err != nil {
		b.logger.Error("Observer error", "observerID", observer.ObserverID(), "event", event.Type(), "error", err)
	}
}

func (b *EventBus) GetObservers() []ObserverInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	info := make([]ObserverInfo, 0, len(b.observers))
	for _, registration := range b.observers {
		eventTypes := make([]string, 0, len(registration.eventTypes))
		for eventType := range registration.eventTypes {
			eventTypes = append(eventTypes, eventType)
		}
		info = append(info, ObserverInfo{
			ID:           registration.observer.ObserverID(),
			EventTypes:   eventTypes,
			RegisteredAt: registration.registeredAt,
		})
	}
	return info
}

// emit builds and publishes an event. A nil bus drops it.
func (b *EventBus) emit(ctx context.Context, eventType string, data map[string]any) {
	if b == nil {
		return
	}
	event, err := NewCloudEvent(eventType, b.source, data, maps.Clone(b.extensions))
	if err == nil {
		err = b.NotifyObservers(ctx, event)
	}
	if err != nil {
		b.logger.Debug("Failed to emit event", "source", b.source, "eventType", eventType, "error", err)
	}
}

type syncNotifyCtxKey struct{}

// WithSynchronousNotification asks the bus to deliver events inline.
func WithSynchronousNotification(ctx context.Context) context.Context {
	return context.WithValue(ctx, syncNotifyCtxKey{}, true)
}

// IsSynchronousNotification reports whether ctx requests inline delivery.
func IsSynchronousNotification(ctx context.Context) bool {
	v, _ := ctx.Value(syncNotifyCtxKey{}).(bool)
	return v
}
