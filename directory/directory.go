// Package directory records the addresses service instances publish so
// that other processes in a local or shared dev cluster can find them.
//
// Entries are keyed by service name and application name. Registering
// the same service/application pair twice appends a second endpoint; it
// never overwrites the first.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidServiceName     = errors.New("directory: invalid service name")
	ErrInvalidApplicationName = errors.New("directory: invalid application name")
	ErrEmptyAddress           = errors.New("directory: address is empty")
	ErrEmptyRoot              = errors.New("directory: root path is empty")
)

// Entry is one published endpoint.
type Entry struct {
	ServiceName     string `json:"serviceName"`
	ApplicationName string `json:"applicationName"`
	Address         string `json:"address"`
}

// Validate checks that every field is set.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.ServiceName) == "" {
		return ErrInvalidServiceName
	}
	if strings.TrimSpace(e.ApplicationName) == "" {
		return ErrInvalidApplicationName
	}
	if strings.TrimSpace(e.Address) == "" {
		return ErrEmptyAddress
	}
	return nil
}

func (e Entry) String() string {
	return fmt.Sprintf("%s.%s=%s", e.ServiceName, e.ApplicationName, e.Address)
}

// Directory stores published endpoints.
type Directory interface {
	// Register records the application under the service and appends the
	// address to the service/application endpoint list.
	Register(ctx context.Context, e Entry) error

	// Deregister removes every occurrence of the address from the
	// service/application endpoint list. The application stays listed.
	Deregister(ctx context.Context, e Entry) error

	// Services lists every known service name, sorted.
	Services(ctx context.Context) ([]string, error)

	// Applications lists the applications registered for a service in
	// first-registration order.
	Applications(ctx context.Context, serviceName string) ([]string, error)

	// Endpoints lists the addresses of a service/application pair in
	// registration order.
	Endpoints(ctx context.Context, serviceName, applicationName string) ([]string, error)
}

// ChangeKind tells which record changed.
type ChangeKind int

const (
	ChangeApplications ChangeKind = iota
	ChangeEndpoints
)

func (k ChangeKind) String() string {
	if k == ChangeApplications {
		return "applications"
	}
	return "endpoints"
}

// Change is delivered by Watch when a record was written.
type Change struct {
	Kind            ChangeKind
	ServiceName     string
	ApplicationName string
}

// Watcher is implemented by directories that can report changes made by
// other processes. The channel is closed when ctx ends.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}

// ServiceNameFromType derives the service name from a service type name
// by dropping a trailing "Type", compared case-insensitively.
func ServiceNameFromType(serviceTypeName string) string {
	const suffix = "type"
	if len(serviceTypeName) > len(suffix) && strings.EqualFold(serviceTypeName[len(serviceTypeName)-len(suffix):], suffix) {
		return serviceTypeName[:len(serviceTypeName)-len(suffix)]
	}
	return serviceTypeName
}

func appendUnique(list []string, v string) ([]string, bool) {
	for _, existing := range list {
		if existing == v {
			return list, false
		}
	}
	return append(list, v), true
}

func removeAll(list []string, v string) ([]string, bool) {
	out := list[:0]
	removed := false
	for _, existing := range list {
		if existing == v {
			removed = true
			continue
		}
		out = append(out, existing)
	}
	return out, removed
}
