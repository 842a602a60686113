package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// CoordinatorConfig contains all configuration for the coordinator service.
type CoordinatorConfig struct {
	REST      RESTConfig      `mapstructure:"rest"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Datastore DatastoreConfig `mapstructure:"datastore"`
	Driver    DriverConfig    `mapstructure:"driver"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// RESTConfig contains REST API server configuration.
type RESTConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// GRPCConfig contains gRPC server configuration.
type GRPCConfig struct {
	Addr             string        `mapstructure:"addr"`
	EnableReflection bool          `mapstructure:"enable_reflection"`
	KeepaliveMinTime time.Duration `mapstructure:"keepalive_min_time"`
}

// StorageConfig selects where job records are kept.
type StorageConfig struct {
	Type string `mapstructure:"type"` // "memory" or "bolt"
	Path string `mapstructure:"path"`
}

// DatastoreConfig locates the entity store read by entity inputs.
type DatastoreConfig struct {
	Path string `mapstructure:"path"`
}

// DriverConfig holds the default execution settings for submitted jobs.
type DriverConfig struct {
	Parallelism int           `mapstructure:"parallelism"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	StepRecords int           `mapstructure:"step_records"`
	StepTimeout time.Duration `mapstructure:"step_timeout"`
}

const (
	StorageMemory = "memory"
	StorageBolt   = "bolt"
)

// LoadCoordinator loads the coordinator configuration from the given path.
// If configPath is empty, it looks for coordinator.yaml in the config/ directory.
// Environment variables with SHARDMR_COORDINATOR_ prefix override config file values.
func LoadCoordinator(configPath string) (*CoordinatorConfig, error) {
	v := viper.New()

	v.SetDefault("rest.addr", ":8080")
	v.SetDefault("rest.read_timeout", 15*time.Second)
	v.SetDefault("rest.write_timeout", 15*time.Second)
	v.SetDefault("rest.idle_timeout", 60*time.Second)
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("grpc.enable_reflection", true)
	v.SetDefault("grpc.keepalive_min_time", 30*time.Second)
	v.SetDefault("storage.type", StorageMemory)
	v.SetDefault("storage.path", "shardmr-jobs.db")
	v.SetDefault("datastore.path", "shardmr-data.db")
	v.SetDefault("driver.parallelism", 4)
	v.SetDefault("driver.max_attempts", 3)
	v.SetDefault("driver.step_records", 1000)
	v.SetDefault("driver.step_timeout", 10*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("tracing.endpoint", "")

	var cfg CoordinatorConfig
	if err := load(v, configPath, "coordinator", "SHARDMR_COORDINATOR", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *CoordinatorConfig) Validate() error {
	switch c.Storage.Type {
	case StorageMemory:
	case StorageBolt:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for %s storage", StorageBolt)
		}
	default:
		return fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}
	if c.Datastore.Path == "" {
		return fmt.Errorf("datastore.path is required")
	}
	return nil
}
