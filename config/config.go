package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Fanout   FanoutConfig   `mapstructure:"fanout"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Registry RegistryConfig `mapstructure:"registry"`

	toggles atomic.Pointer[Toggles]
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type FanoutConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type SinkConfig struct {
	HTTP HTTPSinkConfig `mapstructure:"http"`
	AMQP AMQPSinkConfig `mapstructure:"amqp"`
}

type HTTPSinkConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AMQPSinkConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url"`
	Exchange string        `mapstructure:"exchange"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // memory | postgres
	DSN    string `mapstructure:"dsn"`
}

type RegistryConfig struct {
	SendBuffer  int           `mapstructure:"send_buffer"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

// Toggles is the hot-reloadable subset of the configuration: the three
// relay legs can be flipped at runtime by editing the config file, without
// restarting the hub.
type Toggles struct {
	Fanout   bool
	HTTPSink bool
	AMQPSink bool
}

// Toggles returns the current relay toggles; safe under concurrent reads
// while the file watcher swaps them.
func (c *Config) Toggles() Toggles {
	return *c.toggles.Load()
}

// SetToggles replaces the relay toggles atomically. Exposed for tests.
func (c *Config) SetToggles(t Toggles) {
	c.toggles.Store(&t)
}

// LoadConfig reads config.yaml (or the explicit path), layers RELAY_*
// environment variables on top and starts a watcher that re-applies the
// relay toggles on file change.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("fanout.enabled", true)
	v.SetDefault("sink.http.enabled", false)
	v.SetDefault("sink.http.timeout", 5*time.Second)
	v.SetDefault("sink.amqp.enabled", false)
	v.SetDefault("sink.amqp.exchange", "relay.events")
	v.SetDefault("sink.amqp.timeout", 5*time.Second)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("registry.send_buffer", 256)
	v.SetDefault("registry.send_timeout", 500*time.Millisecond)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/relay-service")
	}

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		// A missing default file is fine; a broken one is not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
		fileLoaded = false
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.SetToggles(togglesFrom(v))

	if fileLoaded {
		v.OnConfigChange(func(fsnotify.Event) {
			cfg.SetToggles(togglesFrom(v))
		})
		v.WatchConfig()
	}

	return cfg, nil
}

func togglesFrom(v *viper.Viper) Toggles {
	return Toggles{
		Fanout:   v.GetBool("fanout.enabled"),
		HTTPSink: v.GetBool("sink.http.enabled"),
		AMQPSink: v.GetBool("sink.amqp.enabled"),
	}
}
