// Package config loads service configuration from defaults, an optional
// config file, LAB_ environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/xizhibei/go-lab-services/discovery"
	"github.com/xizhibei/go-lab-services/telemetry"
)

// EnvPrefix prefixes every environment variable, e.g. LAB_ADDR, LAB_METRICS_ENABLED.
const EnvPrefix = "LAB"

// DefaultAddrs maps each service to its default listen address.
var DefaultAddrs = map[string]string{
	"adder":      ":8081",
	"multiplier": ":8082",
	"random":     ":8083",
}

// Config is the configuration of one service process.
type Config struct {
	Service         string        `mapstructure:"service" validate:"required,oneof=adder multiplier random"`
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	HandlerTimeout  time.Duration `mapstructure:"handler_timeout" validate:"gte=0"`
	LogLevel        string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogResponse     bool          `mapstructure:"log_response"`
	CompressMinSize int           `mapstructure:"compress_min_size"`

	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
	Discovery discovery.Config `mapstructure:"discovery"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

func setDefaults(v *viper.Viper, service string) {
	addr, ok := DefaultAddrs[service]
	if !ok {
		addr = ":8080"
	}
	disc := discovery.DefaultConfig()

	v.SetDefault("service", service)
	v.SetDefault("addr", addr)
	v.SetDefault("read_timeout", 5*time.Second)
	v.SetDefault("write_timeout", 10*time.Second)
	v.SetDefault("idle_timeout", 120*time.Second)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("handler_timeout", time.Duration(0))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_response", false)
	v.SetDefault("compress_min_size", 1024)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.debug", false)
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.service_version", "dev")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("telemetry.otlp_endpoint", "")

	v.SetDefault("discovery.enabled", disc.Enabled)
	v.SetDefault("discovery.broker", disc.Broker)
	v.SetDefault("discovery.username", disc.Username)
	v.SetDefault("discovery.password", disc.Password)
	v.SetDefault("discovery.prefix", disc.Prefix)
	v.SetDefault("discovery.advertise", disc.Advertise)
	v.SetDefault("discovery.keep_alive", disc.KeepAlive)
	v.SetDefault("discovery.timeout", disc.Timeout)
	v.SetDefault("discovery.debug", disc.Debug)
	v.SetDefault("discovery.connect_retry_interval", disc.ConnectRetryInterval)
	v.SetDefault("discovery.max_reconnect_interval", disc.MaxReconnectInterval)
}

// flag name -> config key
var flagKeys = map[string]string{
	"addr":              "addr",
	"log-level":         "log_level",
	"log-response":      "log_response",
	"handler-timeout":   "handler_timeout",
	"shutdown-timeout":  "shutdown_timeout",
	"compress-min-size": "compress_min_size",
	"metrics":           "metrics.enabled",
	"telemetry":         "telemetry.enabled",
	"telemetry-debug":   "telemetry.debug",
	"otlp-endpoint":     "telemetry.otlp_endpoint",
	"discovery":         "discovery.enabled",
	"discovery-broker":  "discovery.broker",
	"advertise":         "discovery.advertise",
}

// NewFlagSet returns the command line flags of service.
func NewFlagSet(service string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(service, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "config file (yaml, json or toml)")
	fs.String("addr", "", "listen address")
	fs.String("log-level", "", "log level: debug, info, warn or error")
	fs.Bool("log-response", false, "log every response")
	fs.Duration("handler-timeout", 0, "handler timeout, 0 disables it")
	fs.Duration("shutdown-timeout", 0, "graceful shutdown timeout")
	fs.Int("compress-min-size", 0, "smallest response body compressed, negative disables compression")
	fs.Bool("metrics", false, "expose Prometheus metrics")
	fs.Bool("telemetry", false, "enable OpenTelemetry")
	fs.Bool("telemetry-debug", false, "export OpenTelemetry data to stdout")
	fs.String("otlp-endpoint", "", "OTLP gRPC endpoint")
	fs.Bool("discovery", false, "announce the service on the MQTT broker")
	fs.String("discovery-broker", "", "MQTT broker URI, e.g. tcp://localhost:1883")
	fs.String("advertise", "", "address announced to discovery subscribers")
	return fs
}

// Load parses args and resolves the configuration of service.
// Only flags set on the command line override the other sources.
func Load(service string, args []string) (*Config, error) {
	fs := NewFlagSet(service)
	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(err, "parse flags")
	}

	v := viper.New()
	setDefaults(v, service)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errors.Wrapf(err, "bind flag %s", name)
			}
		}
	}

	if file, _ := fs.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	// the binary decides which service runs
	cfg.Service = service

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}
