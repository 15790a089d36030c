package fabrichost

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Well-known service names.
const (
	ServiceConfig            = "config"
	ServiceLogger            = "logger"
	ServiceHostOptions       = "hostOptions"
	ServiceInstanceContext   = "instanceContext"
	ServiceActivationContext = "activationContext"
	ServiceLifetime          = "lifetime"
	ServiceListener          = "listener"
	ServiceInstanceKey       = "serviceInstance"
	ServiceWebServer         = "webServer"
	ServiceWebServerFactory  = "webServerFactory"
	ServiceHost              = "host"
	ServiceEvents            = "events"
	ServiceMetrics           = "metrics"
)

// FactoryFunc builds a service on first resolution. It receives the scope
// the factory was registered in.
type FactoryFunc func(scope *Scope) (any, error)

type scopeEntry struct {
	once     sync.Once
	instance any
	factory  FactoryFunc
	err      error
}

// Scope is a name-keyed registry of singletons. A child scope sees every
// service of its parents and may shadow them.
type Scope struct {
	parent *Scope
	mu     sync.RWMutex
	items  map[string]*scopeEntry
}

// NewScope creates an empty root scope.
func NewScope() *Scope {
	return &Scope{items: make(map[string]*scopeEntry)}
}

// NewChild creates a scope that inherits from s.
func (s *Scope) NewChild() *Scope {
	child := NewScope()
	child.parent = s
	return child
}

// Parent returns the enclosing scope, or nil for a root scope.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// Register adds a ready instance under name.
func (s *Scope) Register(name string, instance any) error {
	if instance == nil {
		return fmt.Errorf("%w: %s", ErrServiceNil, name)
	}
	return s.add(name, &scopeEntry{instance: instance})
}

// RegisterFactory adds a lazily built singleton under name. The factory
// runs at most once; its error is returned on every later resolution.
func (s *Scope) RegisterFactory(name string, factory FactoryFunc) error {
	if factory == nil {
		return fmt.Errorf("%w: %s", ErrServiceNil, name)
	}
	return s.add(name, &scopeEntry{factory: factory})
}

func (s *Scope) add(name string, entry *scopeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[name]; exists {
		return fmt.Errorf("%w: %s", ErrServiceAlreadyRegistered, name)
	}
	s.items[name] = entry
	return nil
}

// Has reports whether name resolves in s or a parent.
func (s *Scope) Has(name string) bool {
	_, _, ok := s.lookup(name)
	return ok
}

// Get returns the raw service registered under name.
func (s *Scope) Get(name string) (any, error) {
	entry, owner, ok := s.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	if entry.factory != nil {
		entry.once.Do(func() {
			entry.instance, entry.err = entry.factory(owner)
			if entry.err == nil && entry.instance == nil {
				entry.err = ErrServiceNil
			}
		})
		if entry.err != nil {
			return nil, fmt.Errorf("building service %s: %w", name, entry.err)
		}
	}
	return entry.instance, nil
}

func (s *Scope) lookup(name string) (*scopeEntry, *Scope, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		entry, ok := cur.items[name]
		cur.mu.RUnlock()
		if ok {
			return entry, cur, true
		}
	}
	return nil, nil, false
}

// Resolve assigns the service registered under name to target, which
// must be a non-nil pointer. Interface targets accept any implementation;
// concrete targets accept assignable values or the value behind a pointer.
func (s *Scope) Resolve(name string, target any) error {
	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Ptr || targetValue.IsNil() {
		return ErrTargetNotPointer
	}

	service, err := s.Get(name)
	if err != nil {
		return err
	}

	serviceType := reflect.TypeOf(service)
	targetType := targetValue.Elem().Type()

	if targetType.Kind() == reflect.Interface && serviceType.Implements(targetType) {
		targetValue.Elem().Set(reflect.ValueOf(service))
		return nil
	}
	if serviceType.AssignableTo(targetType) {
		targetValue.Elem().Set(reflect.ValueOf(service))
		return nil
	}
	if serviceType.Kind() == reflect.Ptr && serviceType.Elem().AssignableTo(targetType) {
		targetValue.Elem().Set(reflect.ValueOf(service).Elem())
		return nil
	}

	return fmt.Errorf("%w: service '%s' of type %s cannot be assigned to %s",
		ErrServiceIncompatible, name, serviceType, targetType)
}

// Require is Resolve with a missing service reported as
// ErrRequiredServiceNotFound.
func (s *Scope) Require(name string, target any) error {
	if !s.Has(name) {
		return fmt.Errorf("%w: %s", ErrRequiredServiceNotFound, name)
	}
	return s.Resolve(name, target)
}

// ResolveAs resolves name into a value of type T.
func ResolveAs[T any](s *Scope, name string) (T, error) {
	var out T
	err := s.Resolve(name, &out)
	return out, err
}

// Names lists every service visible from s, sorted.
func (s *Scope) Names() []string {
	seen := make(map[string]struct{})
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		for name := range cur.items {
			seen[name] = struct{}{}
		}
		cur.mu.RUnlock()
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
