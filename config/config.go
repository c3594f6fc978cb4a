package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment variables overriding configuration keys,
// for example TAPIR_REPLACE_THRESHOLD or TAPIR_STORAGE_PATH.
const EnvPrefix = "TAPIR"

// Config is the configuration of a document manager.
type Config struct {
	// ReplaceThreshold is the percentage of changed elements above which a
	// collection field is rewritten as a whole.
	ReplaceThreshold int `mapstructure:"replace_threshold" yaml:"replace_threshold"`
	// Workers bounds the goroutines computing change sets. Zero uses GOMAXPROCS.
	Workers int `mapstructure:"workers" yaml:"workers"`
	// DiscriminatorField is the default field discriminator values are written to.
	DiscriminatorField string  `mapstructure:"discriminator_field" yaml:"discriminator_field"`
	Logging            Logging `mapstructure:"logging" yaml:"logging"`
	Storage            Storage `mapstructure:"storage" yaml:"storage"`
	Metrics            Metrics `mapstructure:"metrics" yaml:"metrics"`
}

type Logging struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type Storage struct {
	// Path is the directory blocks are stored in. An empty path keeps blocks in memory.
	Path string `mapstructure:"path" yaml:"path"`
}

type Metrics struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		ReplaceThreshold:   50,
		DiscriminatorField: "type",
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the configuration file at path on top of the defaults and applies
// environment overrides. An empty path only applies the overrides.
func Load(path string) (Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("replace_threshold", def.ReplaceThreshold)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("discriminator_field", def.DiscriminatorField)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("storage.path", def.Storage.Path)
	v.SetDefault("metrics.enabled", def.Metrics.Enabled)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.ReplaceThreshold < 1 || c.ReplaceThreshold > 100 {
		return fmt.Errorf("replace_threshold must be between 1 and 100, got %d", c.ReplaceThreshold)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.DiscriminatorField == "" {
		return fmt.Errorf("discriminator_field must not be empty")
	}
	return nil
}

// YAML returns the configuration encoded as YAML.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
