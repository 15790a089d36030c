package fabrichost

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ServiceKind distinguishes stateless instances from stateful replicas.
type ServiceKind string

const (
	ServiceKindStateless ServiceKind = "stateless"
	ServiceKindStateful  ServiceKind = "stateful"
)

// EndpointResource describes one endpoint declared for the code package.
type EndpointResource struct {
	Name            string `yaml:"name" json:"name" toml:"name"`
	Protocol        string `yaml:"protocol" json:"protocol" toml:"protocol"`
	IPAddressOrFQDN string `yaml:"ipAddressOrFqdn" json:"ipAddressOrFqdn" toml:"ipAddressOrFqdn"`
	Port            int    `yaml:"port" json:"port" toml:"port"`
}

// ServiceTypeDescription describes a service type declared by the code package.
type ServiceTypeDescription struct {
	ServiceTypeName string
	Kind            ServiceKind
}

// ActivationContext is the per-process view of the code package the
// orchestrator activated: application identity, declared service types
// and endpoints.
type ActivationContext interface {
	ApplicationName() string
	ApplicationTypeName() string
	ServiceTypes() []ServiceTypeDescription
	Endpoints() map[string]EndpointResource
	Endpoint(name string) (EndpointResource, error)
}

// NodeContext identifies the node the process runs on.
type NodeContext struct {
	NodeName        string `yaml:"nodeName" json:"nodeName" toml:"nodeName"`
	NodeType        string `yaml:"nodeType" json:"nodeType" toml:"nodeType"`
	IPAddressOrFQDN string `yaml:"ipAddressOrFqdn" json:"ipAddressOrFqdn" toml:"ipAddressOrFqdn"`
}

// InstanceContext is the immutable identity of one service instance as
// handed out by the orchestrator. The host only reads it.
type InstanceContext struct {
	ServiceTypeName     string
	ServiceName         string
	PartitionID         uuid.UUID
	ReplicaOrInstanceID int64
	PublishAddress      string
	Kind                ServiceKind
	Node                NodeContext
	Activation          ActivationContext
}

// ApplicationName returns the owning application's name.
func (c InstanceContext) ApplicationName() string {
	if c.Activation == nil {
		return ""
	}
	return c.Activation.ApplicationName()
}

// Endpoints returns the endpoints declared for the code package.
func (c InstanceContext) Endpoints() map[string]EndpointResource {
	if c.Activation == nil {
		return nil
	}
	return c.Activation.Endpoints()
}

// IsStateful reports whether the instance is a stateful replica.
func (c InstanceContext) IsStateful() bool {
	return c.Kind == ServiceKindStateful
}

func (c InstanceContext) String() string {
	return fmt.Sprintf("%s/%s/%d", c.ServiceTypeName, c.PartitionID, c.ReplicaOrInstanceID)
}

// StaticActivationContext is an ActivationContext backed by plain values.
// testruntime builds one from configuration; callers can also construct
// it directly.
type StaticActivationContext struct {
	AppName      string
	AppTypeName  string
	Types        []ServiceTypeDescription
	EndpointDefs map[string]EndpointResource
}

var _ ActivationContext = (*StaticActivationContext)(nil)

func (s *StaticActivationContext) ApplicationName() string     { return s.AppName }
func (s *StaticActivationContext) ApplicationTypeName() string { return s.AppTypeName }

func (s *StaticActivationContext) ServiceTypes() []ServiceTypeDescription {
	out := make([]ServiceTypeDescription, len(s.Types))
	copy(out, s.Types)
	return out
}

func (s *StaticActivationContext) Endpoints() map[string]EndpointResource {
	out := make(map[string]EndpointResource, len(s.EndpointDefs))
	for k, v := range s.EndpointDefs {
		out[k] = v
	}
	return out
}

func (s *StaticActivationContext) Endpoint(name string) (EndpointResource, error) {
	ep, ok := s.EndpointDefs[name]
	if !ok {
		return EndpointResource{}, fmt.Errorf("%w: %s", ErrEndpointNotFound, name)
	}
	return ep, nil
}

// EndpointNames returns the declared endpoint names in sorted order.
func (s *StaticActivationContext) EndpointNames() []string {
	names := make([]string, 0, len(s.EndpointDefs))
	for name := range s.EndpointDefs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// singleServiceType validates that exactly one service type is declared
// and returns it.
func singleServiceType(ac ActivationContext) (ServiceTypeDescription, error) {
	types := ac.ServiceTypes()
	switch {
	case len(types) == 0:
		return ServiceTypeDescription{}, ErrNoServiceType
	case len(types) > 1:
		return ServiceTypeDescription{}, fmt.Errorf("%w: found %d declared", ErrMultipleServiceTypes, len(types))
	}
	return types[0], nil
}
