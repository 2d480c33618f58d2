package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/oneconcern/confmon/pkg/core"
	"github.com/oneconcern/confmon/pkg/deploy"
	"github.com/oneconcern/confmon/pkg/scheduler"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// Blob backends
const (
	backendLocalFS = "localfs"
	backendS3      = "s3"
	backendGCS     = "gcs"
)

// Config describes the confmon configuration
type Config struct {
	DataDir          string         `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	FleetDir         string         `json:"fleet_dir" yaml:"fleet_dir" mapstructure:"fleet_dir"` // root of the server trees, one directory per server
	LogLevel         string         `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	Blob             BlobConfig     `json:"blob" yaml:"blob" mapstructure:"blob"`
	Retries          uint64         `json:"retries" yaml:"retries" mapstructure:"retries"`
	BaseBackoff      time.Duration  `json:"base_backoff" yaml:"base_backoff" mapstructure:"base_backoff"`
	MaxBackoff       time.Duration  `json:"max_backoff" yaml:"max_backoff" mapstructure:"max_backoff"`
	FullEvery        time.Duration  `json:"full_every" yaml:"full_every" mapstructure:"full_every"`
	TransportTimeout time.Duration  `json:"transport_timeout" yaml:"transport_timeout" mapstructure:"transport_timeout"`
	Verify           bool           `json:"verify" yaml:"verify" mapstructure:"verify"`
	Concurrency      int            `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`
	NATS             string         `json:"nats,omitempty" yaml:"nats,omitempty" mapstructure:"nats"`
	MetricsAddr      string         `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty" mapstructure:"metrics_addr"`
	TraceStdout      bool           `json:"trace_stdout,omitempty" yaml:"trace_stdout,omitempty" mapstructure:"trace_stdout"`
	Servers          []ServerConfig `json:"servers,omitempty" yaml:"servers,omitempty" mapstructure:"servers"`
}

// BlobConfig describes where blobs are stored
type BlobConfig struct {
	Backend     string `json:"backend" yaml:"backend" mapstructure:"backend"` // localfs, s3 or gcs
	Path        string `json:"path,omitempty" yaml:"path,omitempty" mapstructure:"path"`
	Bucket      string `json:"bucket,omitempty" yaml:"bucket,omitempty" mapstructure:"bucket"`
	Prefix      string `json:"prefix,omitempty" yaml:"prefix,omitempty" mapstructure:"prefix"`
	Region      string `json:"region,omitempty" yaml:"region,omitempty" mapstructure:"region"`
	Endpoint    string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	Credentials string `json:"credentials,omitempty" yaml:"credentials,omitempty" mapstructure:"credentials"`
	CacheSize   int    `json:"cache_size,omitempty" yaml:"cache_size,omitempty" mapstructure:"cache_size"` // number of verified blobs kept in memory
}

// ServerConfig describes a managed server
type ServerConfig struct {
	ID         string        `json:"id" yaml:"id" mapstructure:"id"`
	Schedule   string        `json:"schedule,omitempty" yaml:"schedule,omitempty" mapstructure:"schedule"`
	FullEvery  time.Duration `json:"full_every,omitempty" yaml:"full_every,omitempty" mapstructure:"full_every"`
	KeepLast   int           `json:"keep_last,omitempty" yaml:"keep_last,omitempty" mapstructure:"keep_last"`
	KeepWithin time.Duration `json:"keep_within,omitempty" yaml:"keep_within,omitempty" mapstructure:"keep_within"`
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", ".confmon")
	v.SetDefault("fleet_dir", "servers")
	v.SetDefault("log_level", "info")
	v.SetDefault("blob.backend", backendLocalFS)
	v.SetDefault("retries", scheduler.DefaultRetries)
	v.SetDefault("base_backoff", scheduler.DefaultBaseDelay)
	v.SetDefault("max_backoff", scheduler.DefaultMaxDelay)
	v.SetDefault("transport_timeout", deploy.DefaultTimeout)
	v.SetDefault("verify", true)
}

func newConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Blob.Backend {
	case backendLocalFS, "":
	case backendS3, backendGCS:
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob backend %s requires a bucket", c.Blob.Backend)
		}
	default:
		return fmt.Errorf("unsupported blob backend %q", c.Blob.Backend)
	}

	seen := make(map[string]struct{}, len(c.Servers))
	for _, server := range c.Servers {
		if err := core.ValidateServerID(server.ID); err != nil {
			return err
		}
		if _, ok := seen[server.ID]; ok {
			return fmt.Errorf("server %s is configured twice", server.ID)
		}
		seen[server.ID] = struct{}{}
	}
	return nil
}

func (c *Config) kvPath() string {
	return filepath.Join(c.DataDir, "index")
}

func (c *Config) blobPath() string {
	if c.Blob.Path != "" {
		return c.Blob.Path
	}
	return filepath.Join(c.DataDir, "blobs")
}

// retention builds the retention policy of a server. Servers without retention settings keep everything.
func (s ServerConfig) retention() core.RetentionPolicy {
	var policies []core.RetentionPolicy
	if s.KeepLast > 0 {
		policies = append(policies, core.KeepLast(s.KeepLast))
	}
	if s.KeepWithin > 0 {
		policies = append(policies, core.KeepWithin(s.KeepWithin))
	}
	if len(policies) == 0 {
		return core.KeepAll()
	}
	return core.AnyOf(policies...)
}

func (c *Config) server(serverID string) (ServerConfig, bool) {
	for _, server := range c.Servers {
		if server.ID == serverID {
			return server, true
		}
	}
	return ServerConfig{}, false
}

// configCmd shows the configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration, after merging the config file, the CONFMON_ environment
variables and the defaults.`,
	Run: func(cmd *cobra.Command, args []string) {
		out, err := yaml.Marshal(config)
		if err != nil {
			wrapFatalln("marshal config", err)
			return
		}
		outLogger.Print(string(out))
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
