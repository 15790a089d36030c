package testruntime

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/GoCodeAlone/fabrichost"
	"github.com/GoCodeAlone/fabrichost/feeders"
	"github.com/google/uuid"
)

// EnvPrefix is prepended to every `env` tag of Config. The runtime path,
// for example, is read from E2E_TEST_RUNTIME_PATH.
const EnvPrefix = "E2E_TEST"

// NodeConfig describes the fake node the instance runs on.
type NodeConfig struct {
	NodeName        string `yaml:"nodeName" json:"nodeName" toml:"nodeName" env:"NODE_NAME" default:"_Node_0"`
	NodeType        string `yaml:"nodeType" json:"nodeType" toml:"nodeType" env:"NODE_TYPE" default:"NodeType0"`
	IPAddressOrFQDN string `yaml:"ipAddressOrFqdn" json:"ipAddressOrFqdn" toml:"ipAddressOrFqdn" env:"NODE_IP_ADDRESS_OR_FQDN" default:"localhost"`
}

// Config is the code package and instance identity the runtime hands to
// the host, normally loaded from a file plus E2E_TEST_* variables.
type Config struct {
	ApplicationName     string   `yaml:"applicationName" json:"applicationName" toml:"applicationName" env:"APPLICATION_NAME" required:"true"`
	ApplicationTypeName string   `yaml:"applicationTypeName" json:"applicationTypeName" toml:"applicationTypeName" env:"APPLICATION_TYPE_NAME"`
	ServiceTypeNames    []string `yaml:"serviceTypeNames" json:"serviceTypeNames" toml:"serviceTypeNames" env:"SERVICE_TYPE_NAMES" required:"true"`

	// PublishAddress replaces wildcard hosts in listener addresses.
	// Defaults to the node address.
	PublishAddress string `yaml:"publishAddress" json:"publishAddress" toml:"publishAddress" env:"PUBLISH_ADDRESS"`

	// PartitionID is generated when empty.
	PartitionID         string `yaml:"partitionId" json:"partitionId" toml:"partitionId" env:"PARTITION_ID"`
	ReplicaOrInstanceID int64  `yaml:"replicaOrInstanceId" json:"replicaOrInstanceId" toml:"replicaOrInstanceId" env:"REPLICA_OR_INSTANCE_ID"`

	NodeContext NodeConfig                    `yaml:"nodeContext" json:"nodeContext" toml:"nodeContext"`
	Endpoints   []fabrichost.EndpointResource `yaml:"endpoints" json:"endpoints" toml:"endpoints"`

	// RuntimePath is where the file directory keeps its records. A
	// timestamped directory under the temp dir is used when empty.
	RuntimePath string `yaml:"runtimePath" json:"runtimePath" toml:"runtimePath" env:"RUNTIME_PATH"`
}

// Validate fills derived fields and checks the partition id.
func (c *Config) Validate() error {
	if c.ApplicationTypeName == "" {
		c.ApplicationTypeName = c.ApplicationName + "Type"
	}
	if c.PublishAddress == "" {
		c.PublishAddress = c.NodeContext.IPAddressOrFQDN
	}
	if c.PartitionID == "" {
		c.PartitionID = uuid.NewString()
	} else if _, err := uuid.Parse(c.PartitionID); err != nil {
		return fmt.Errorf("invalid partitionId %q: %w", c.PartitionID, err)
	}
	if c.ReplicaOrInstanceID == 0 {
		c.ReplicaOrInstanceID = time.Now().UnixNano()
	}
	return nil
}

// LoadConfig applies sources in order, then E2E_TEST_* variables, then
// defaults and validation.
func LoadConfig(sources ...feeders.Feeder) (*Config, error) {
	cfg := &Config{}
	all := append(append([]feeders.Feeder{}, sources...), feeders.NewAffixedEnvFeeder(EnvPrefix, ""))
	if err := fabrichost.LoadConfig(cfg, all...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureRuntimePath returns RuntimePath, creating a fresh directory and
// exporting E2E_TEST_RUNTIME_PATH when it was empty so child processes
// share it.
func (c *Config) EnsureRuntimePath() (string, error) {
	if c.RuntimePath == "" {
		c.RuntimePath = filepath.Join(os.TempDir(), "E2ETestRuntime", time.Now().Format("150405.00000"))
		if err := os.Setenv(EnvPrefix+"_RUNTIME_PATH", c.RuntimePath); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(c.RuntimePath, 0o755); err != nil {
		return "", fmt.Errorf("create runtime path: %w", err)
	}
	return c.RuntimePath, nil
}

func (c *Config) activation() *fabrichost.StaticActivationContext {
	types := make([]fabrichost.ServiceTypeDescription, 0, len(c.ServiceTypeNames))
	for _, name := range c.ServiceTypeNames {
		types = append(types, fabrichost.ServiceTypeDescription{ServiceTypeName: name, Kind: fabrichost.ServiceKindStateless})
	}
	endpoints := make(map[string]fabrichost.EndpointResource, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		endpoints[ep.Name] = ep
	}
	return &fabrichost.StaticActivationContext{
		AppName:      c.ApplicationName,
		AppTypeName:  c.ApplicationTypeName,
		Types:        types,
		EndpointDefs: endpoints,
	}
}
