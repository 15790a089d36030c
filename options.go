package fabrichost

import (
	"strings"
	"time"
)

// HostOptions configures the host and the listener it creates.
type HostOptions struct {
	// EndpointName names the declared endpoint the listener serves.
	EndpointName string `yaml:"endpointName" json:"endpointName" toml:"endpointName" env:"ENDPOINT_NAME" default:"ServiceEndpoint"`

	// ShutdownTimeout bounds how long the instance waits for the
	// application to stop.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" json:"shutdownTimeout" toml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT" default:"30s"`

	// RegistrationTimeout bounds RegisterService. Zero means no bound.
	RegistrationTimeout time.Duration `yaml:"registrationTimeout" json:"registrationTimeout" toml:"registrationTimeout" env:"REGISTRATION_TIMEOUT"`

	// UniqueServiceURL appends /{partition}/{replica} to the published
	// address so stale clients can be rejected.
	UniqueServiceURL bool `yaml:"uniqueServiceUrl" json:"uniqueServiceUrl" toml:"uniqueServiceUrl" env:"UNIQUE_SERVICE_URL"`

	// PathBase is appended to the server address before the unique suffix.
	PathBase string `yaml:"pathBase" json:"pathBase" toml:"pathBase" env:"PATH_BASE"`

	// Server configures the default HTTPServer.
	Server HTTPServerConfig `yaml:"server" json:"server" toml:"server"`
}

// DefaultHostOptions returns HostOptions with every default applied.
func DefaultHostOptions() HostOptions {
	var o HostOptions
	_ = ProcessConfigDefaults(&o)
	return o
}

// Validate normalizes PathBase and the server section.
func (o *HostOptions) Validate() error {
	if o.PathBase != "" {
		o.PathBase = "/" + strings.Trim(o.PathBase, "/")
		if o.PathBase == "/" {
			o.PathBase = ""
		}
	}
	return o.Server.Validate()
}
