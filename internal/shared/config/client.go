package config

import (
	"time"

	"github.com/spf13/viper"
)

// ClientConfig contains configuration for command line clients of the
// coordinator.
type ClientConfig struct {
	Coordinator CoordinatorConnConfig `mapstructure:"coordinator"`
}

// CoordinatorConnConfig contains coordinator connection configuration.
type CoordinatorConnConfig struct {
	Addr    string           `mapstructure:"addr"`
	Timeout time.Duration    `mapstructure:"timeout"`
	GRPC    ClientGRPCConfig `mapstructure:"grpc"`
}

// ClientGRPCConfig contains gRPC client configuration.
type ClientGRPCConfig struct {
	KeepaliveTime    time.Duration `mapstructure:"keepalive_time"`
	KeepaliveTimeout time.Duration `mapstructure:"keepalive_timeout"`
}

// LoadClient loads the client configuration from the given path.
// If configPath is empty, it looks for client.yaml in the config/ directory.
// Environment variables with SHARDMR_CLIENT_ prefix override config file values.
func LoadClient(configPath string) (*ClientConfig, error) {
	v := viper.New()

	v.SetDefault("coordinator.addr", "localhost:9090")
	v.SetDefault("coordinator.timeout", 10*time.Second)
	v.SetDefault("coordinator.grpc.keepalive_time", 30*time.Second)
	v.SetDefault("coordinator.grpc.keepalive_timeout", 5*time.Second)

	var cfg ClientConfig
	if err := load(v, configPath, "client", "SHARDMR_CLIENT", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
