package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/edgedeploy/edd/internal/core/lifecycle"
	"github.com/edgedeploy/edd/internal/core/runargs"
	"github.com/edgedeploy/edd/internal/shell/manager"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all daemon configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	TLS    TLSConfig    `mapstructure:"tls"`
	Docker DockerConfig `mapstructure:"docker"`
	Deploy DeployConfig `mapstructure:"deploy"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TLSConfig holds the mTLS listener configuration. All three files are
// required: the daemon refuses to serve without client verification.
type TLSConfig struct {
	CertFile     string `mapstructure:"cert_file"`
	KeyFile      string `mapstructure:"key_file"`
	ClientCAFile string `mapstructure:"client_ca_file"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// DeployConfig holds deployment management configuration.
type DeployConfig struct {
	// Prefix namespaces container names and canonical image tags.
	Prefix string `mapstructure:"prefix"`

	// StopTimeout is passed to the engine when stopping containers.
	StopTimeout time.Duration `mapstructure:"stop_timeout"`

	// DeploymentsFile is the YAML file declaring the managed deployments.
	DeploymentsFile string `mapstructure:"deployments_file"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8855)
	v.SetDefault("server.read_timeout", "10m")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.client_ca_file", "")
	v.SetDefault("docker.host", "")
	v.SetDefault("deploy.prefix", "edd_")
	v.SetDefault("deploy.stop_timeout", "10s")
	v.SetDefault("deploy.deployments_file", "deployments.yaml")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	v.SetEnvPrefix("EDD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration invariants that viper cannot express.
func (c *Config) Validate() error {
	if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
		return fmt.Errorf("tls.cert_file and tls.key_file are required")
	}
	if c.TLS.ClientCAFile == "" {
		return fmt.Errorf("tls.client_ca_file is required: the API only accepts mutually authenticated clients")
	}
	if c.Deploy.Prefix == "" {
		return fmt.Errorf("deploy.prefix must not be empty")
	}
	return nil
}

// =============================================================================
// Deployment Declarations
// =============================================================================

// deploymentDecl is one entry in the deployments YAML file.
type deploymentDecl struct {
	Name string   `yaml:"name"`
	Args []string `yaml:"args"`
}

type deploymentsFile struct {
	Deployments []deploymentDecl `yaml:"deployments"`
}

// LoadDeployments reads the deployment declarations file and parses each
// entry's extra runtime arguments. Any invalid name, duplicate name, or
// unparseable argument list fails the whole load; declarations are fixed
// at startup and never partially applied.
func LoadDeployments(path string) ([]manager.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read deployments file: %w", err)
	}

	var f deploymentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse deployments file: %w", err)
	}
	if len(f.Deployments) == 0 {
		return nil, fmt.Errorf("deployments file %s declares no deployments", path)
	}

	seen := make(map[string]bool, len(f.Deployments))
	specs := make([]manager.Spec, 0, len(f.Deployments))
	for _, d := range f.Deployments {
		if err := lifecycle.ValidateName(d.Name); err != nil {
			return nil, err
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate deployment %q", d.Name)
		}
		seen[d.Name] = true

		args, err := runargs.Parse(d.Args)
		if err != nil {
			return nil, fmt.Errorf("deployment %q: %w", d.Name, err)
		}
		specs = append(specs, manager.Spec{Name: d.Name, Args: args})
	}

	return specs, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
