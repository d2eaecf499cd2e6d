package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/arloliu/backsync"
)

// RouteConfig maps a path prefix to a queue and an upstream base URL.
type RouteConfig struct {
	Name     string        `mapstructure:"name"`
	Prefix   string        `mapstructure:"prefix"`
	Upstream string        `mapstructure:"upstream"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// StoreConfig selects and configures the durable store backend.
type StoreConfig struct {
	Backend        string   `mapstructure:"backend"`
	Namespace      string   `mapstructure:"namespace"`
	Version        int      `mapstructure:"version"`
	Name           string   `mapstructure:"name"`
	SQLitePath     string   `mapstructure:"sqlite_path"`
	CQLHosts       []string `mapstructure:"cql_hosts"`
	CQLKeyspace    string   `mapstructure:"cql_keyspace"`
	DynamoDBTable  string   `mapstructure:"dynamodb_table"`
	DynamoDBRegion string   `mapstructure:"dynamodb_region"`
}

// ConnectivityConfig selects the reachability signal.
type ConnectivityConfig struct {
	Mode             string        `mapstructure:"mode"`
	ProbeURL         string        `mapstructure:"probe_url"`
	ProbeInterval    time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Bucket           string        `mapstructure:"bucket"`
}

// ReplayConfig tunes the replay coordinator.
type ReplayConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxAge          time.Duration `mapstructure:"max_age"`
	ResponseLimit   int64         `mapstructure:"response_limit"`
}

// Config holds the daemon configuration.
type Config struct {
	ListenAddress   string             `mapstructure:"listen_address"`
	LogLevel        string             `mapstructure:"log_level"`
	LogFormat       string             `mapstructure:"log_format"`
	UpstreamTimeout time.Duration      `mapstructure:"upstream_timeout"`
	MaxBodyBytes    int64              `mapstructure:"max_body_bytes"`
	NATSURL         string             `mapstructure:"nats_url"`
	Store           StoreConfig        `mapstructure:"store"`
	Connectivity    ConnectivityConfig `mapstructure:"connectivity"`
	Replay          ReplayConfig       `mapstructure:"replay"`
	Routes          []RouteConfig      `mapstructure:"routes"`
}

// Store backends.
const (
	backendMemory   = "memory"
	backendNATS     = "nats"
	backendSQLite   = "sqlite"
	backendCQL      = "cql"
	backendDynamoDB = "dynamodb"
)

// Connectivity modes.
const (
	connectivityNone  = "none"
	connectivityProbe = "probe"
	connectivityNATS  = "nats"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_address", "127.0.0.1:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("upstream_timeout", 30*time.Second)
	v.SetDefault("max_body_bytes", 10<<20)
	v.SetDefault("nats_url", "")

	v.SetDefault("store.backend", backendMemory)
	v.SetDefault("store.namespace", "backsync")
	v.SetDefault("store.version", 1)
	v.SetDefault("store.name", "default")
	v.SetDefault("store.sqlite_path", "backsync.db")
	v.SetDefault("store.cql_hosts", []string{"127.0.0.1:9042"})
	v.SetDefault("store.cql_keyspace", "backsync")
	v.SetDefault("store.dynamodb_table", "backsync")
	v.SetDefault("store.dynamodb_region", "")

	v.SetDefault("connectivity.mode", connectivityNone)
	v.SetDefault("connectivity.probe_url", "")
	v.SetDefault("connectivity.probe_interval", 10*time.Second)
	v.SetDefault("connectivity.probe_timeout", 5*time.Second)
	v.SetDefault("connectivity.failure_threshold", 3)
	v.SetDefault("connectivity.bucket", "backsync-connectivity")

	v.SetDefault("replay.concurrency", 4)
	v.SetDefault("replay.fetch_timeout", 30*time.Second)
	v.SetDefault("replay.cleanup_interval", time.Hour)
	v.SetDefault("replay.max_age", backsync.DefaultMaxAge)
	v.SetDefault("replay.response_limit", 0)
	v.SetDefault("routes", []RouteConfig{})
}

// newFlagSet declares the command-line flags. Flags override the config
// file and the environment.
func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("backsyncd", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Path to the YAML config file")
	fs.String("listen", "", "Listen address (overrides listen_address)")
	fs.String("log-level", "", "Log level: debug, info, warn, error")
	fs.String("store", "", "Store backend: memory, nats, sqlite, cql, dynamodb")
	fs.String("nats-url", "", "NATS server URL")
	fs.BoolP("version", "v", false, "Print version and exit")

	return fs
}

// loadConfig builds the configuration from defaults, the optional config
// file, BACKSYNC_* environment variables and the parsed flags, in increasing
// order of precedence.
func loadConfig(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BACKSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	for flag, key := range map[string]string{
		"listen":    "listen_address",
		"log-level": "log_level",
		"store":     "store.backend",
		"nats-url":  "nats_url",
	} {
		if f := fs.Lookup(flag); f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	switch c.Store.Backend {
	case backendMemory, backendSQLite, backendCQL, backendDynamoDB:
	case backendNATS:
		if c.NATSURL == "" {
			errs = append(errs, errors.New("nats_url is required for the nats store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}

	switch c.Connectivity.Mode {
	case connectivityNone:
	case connectivityProbe:
		if c.Connectivity.ProbeURL == "" {
			errs = append(errs, errors.New("connectivity.probe_url is required in probe mode"))
		}
	case connectivityNATS:
		if c.NATSURL == "" {
			errs = append(errs, errors.New("nats_url is required in nats connectivity mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown connectivity mode %q", c.Connectivity.Mode))
	}

	names := make(map[string]struct{}, len(c.Routes))
	for i, rt := range c.Routes {
		if err := backsync.ValidateQueueName(rt.Name); err != nil {
			errs = append(errs, fmt.Errorf("routes[%d]: %w", i, err))
		}
		if _, dup := names[rt.Name]; dup {
			errs = append(errs, fmt.Errorf("routes[%d]: duplicate name %q", i, rt.Name))
		}
		names[rt.Name] = struct{}{}

		if !strings.HasPrefix(rt.Prefix, "/") || strings.HasPrefix(rt.Prefix, adminPrefix) {
			errs = append(errs, fmt.Errorf("routes[%d]: invalid prefix %q", i, rt.Prefix))
		}
		u, err := url.Parse(rt.Upstream)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("routes[%d]: invalid upstream %q", i, rt.Upstream))
		}
	}

	return errors.Join(errs...)
}
