// Package config loads and validates the hackforge.yaml server configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// DefaultPath is the config file looked up when --config is not given
const DefaultPath = "hackforge.yaml"

// EnvConfigPath overrides the config file location when set
const EnvConfigPath = "HACKFORGE_CONFIG"

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	LogFile string `yaml:"log_file"`
}

// DatabaseConfig holds storage settings. Driver is "sqlite" (default) or
// "postgres"; Path is used by sqlite, DSN by postgres.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// DockerConfig holds container runtime settings
type DockerConfig struct {
	Binary         string `yaml:"binary"`
	Workers        int    `yaml:"workers"`
	PortMin        int    `yaml:"port_min"`
	PortMax        int    `yaml:"port_max"`
	BuildTimeoutS  int    `yaml:"build_timeout_seconds"`
	OpTimeoutS     int    `yaml:"op_timeout_seconds"`
	StatusTimeoutS int    `yaml:"status_timeout_seconds"`
}

// BlueprintsConfig holds blueprint loading settings
type BlueprintsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// FlagsConfig holds flag secret generation settings
type FlagsConfig struct {
	Prefix string `yaml:"prefix"`
}

// SMTPConfig holds optional mail notification settings
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// NotifyConfig holds optional solve notification settings
type NotifyConfig struct {
	DiscordWebhook string     `yaml:"discord_webhook"`
	IconURL        string     `yaml:"icon_url"`
	SMTP           SMTPConfig `yaml:"smtp"`
}

// Config is the root hackforge configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Docker     DockerConfig     `yaml:"docker"`
	Blueprints BlueprintsConfig `yaml:"blueprints"`
	Flags      FlagsConfig      `yaml:"flags"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "localhost",
			Port:    8000,
			LogFile: ".hackforge/server.log",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   ".hackforge/hackforge.db",
		},
		Docker: DockerConfig{
			Binary:         "docker",
			Workers:        4,
			PortMin:        30000,
			PortMax:        31000,
			BuildTimeoutS:  60,
			OpTimeoutS:     30,
			StatusTimeoutS: 10,
		},
		Blueprints: BlueprintsConfig{
			Dir:   "blueprints",
			Watch: true,
		},
		Flags: FlagsConfig{
			Prefix: "HKF",
		},
	}
}

// ResolvePath returns the config file path, honoring the environment override
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return DefaultPath
}

// Load reads the configuration from path, applying defaults for unset fields.
// A missing file yields the default configuration.
func Load(path string) (*Config, error) {
	conf := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return conf, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

// Save writes the configuration to path
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
	}

	if c.Docker.PortMin <= 0 || c.Docker.PortMax > 65535 || c.Docker.PortMin > c.Docker.PortMax {
		return fmt.Errorf("invalid docker port range: %d-%d", c.Docker.PortMin, c.Docker.PortMax)
	}
	if c.Docker.Workers <= 0 {
		return fmt.Errorf("docker.workers must be positive, got %d", c.Docker.Workers)
	}
	if c.Flags.Prefix == "" {
		return fmt.Errorf("flags.prefix cannot be empty")
	}

	return nil
}
