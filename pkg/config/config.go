// Package config loads StreamGuard configuration.
//
// Configuration is read once at startup from an optional YAML file,
// STREAMGUARD_* environment variables and command-line flags, then passed
// explicitly through constructors. The only value that changes at runtime
// is the offline toggle, held in a ModeSwitch.
//
// Usage:
//
//	cfg, err := config.Load("streamguard.yaml", flags)
//	if err != nil {
//	    return err
//	}
//	mode := config.NewModeSwitch(cfg.Content.Offline)
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	sgerrors "github.com/exploopio/streamguard/pkg/errors"
	"github.com/exploopio/streamguard/pkg/logger"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// STREAMGUARD_RUNNER_MAX_CONCURRENT_HOSTS=20.
const EnvPrefix = "STREAMGUARD"

// Config is the full configuration file schema.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Content ContentConfig `mapstructure:"content" yaml:"content"`
	Runner  RunnerConfig  `mapstructure:"runner" yaml:"runner"`
	Oscap   OscapConfig   `mapstructure:"oscap" yaml:"oscap"`
	Ansible AnsibleConfig `mapstructure:"ansible" yaml:"ansible"`
	SSH     SSHConfig     `mapstructure:"ssh" yaml:"ssh"`
	Log     logger.Config `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen" yaml:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// AllowedOrigins for WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// StoreConfig configures the SQLite database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ContentConfig configures the ComplianceAsCode content cache.
type ContentConfig struct {
	CacheDir           string        `mapstructure:"cache_dir" yaml:"cache_dir"`
	Owner              string        `mapstructure:"owner" yaml:"owner"`
	Repo               string        `mapstructure:"repo" yaml:"repo"`
	RepoURL            string        `mapstructure:"repo_url" yaml:"repo_url"`
	Branch             string        `mapstructure:"branch" yaml:"branch"`
	ReleaseVersion     string        `mapstructure:"release_version" yaml:"release_version"`
	ReleaseURLTemplate string        `mapstructure:"release_url_template" yaml:"release_url_template"`
	GitHubToken        string        `mapstructure:"github_token" yaml:"github_token"`
	APIBaseURL         string        `mapstructure:"api_base_url" yaml:"api_base_url"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	DownloadTimeout    time.Duration `mapstructure:"download_timeout" yaml:"download_timeout"`
	DownloadAttempts   int           `mapstructure:"download_attempts" yaml:"download_attempts"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst              int           `mapstructure:"burst" yaml:"burst"`
	Offline            bool          `mapstructure:"offline" yaml:"offline"`
}

// RunnerConfig configures job fan-out.
type RunnerConfig struct {
	MaxConcurrentHosts int           `mapstructure:"max_concurrent_hosts" yaml:"max_concurrent_hosts"`
	HostTimeout        time.Duration `mapstructure:"host_timeout" yaml:"host_timeout"`
	ResultsDir         string        `mapstructure:"results_dir" yaml:"results_dir"`
}

// OscapConfig configures the scanner binaries.
type OscapConfig struct {
	Binary    string `mapstructure:"binary" yaml:"binary"`
	SSHBinary string `mapstructure:"ssh_binary" yaml:"ssh_binary"`
	Sudo      bool   `mapstructure:"sudo" yaml:"sudo"`
}

// AnsibleConfig configures the remediation runner.
type AnsibleConfig struct {
	Binary    string   `mapstructure:"binary" yaml:"binary"`
	Inventory string   `mapstructure:"inventory" yaml:"inventory"`
	ExtraArgs []string `mapstructure:"extra_args" yaml:"extra_args"`
}

// SSHConfig holds connection defaults applied to hosts lacking their own.
type SSHConfig struct {
	User           string        `mapstructure:"user" yaml:"user"`
	Port           int           `mapstructure:"port" yaml:"port"`
	IdentityFile   string        `mapstructure:"identity_file" yaml:"identity_file"`
	KnownHostsFile string        `mapstructure:"known_hosts_file" yaml:"known_hosts_file"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	// ConfigFile is the ssh_config imported by host discovery.
	ConfigFile string `mapstructure:"config_file" yaml:"config_file"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Path      string `mapstructure:"path" yaml:"path"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":8000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0,
			ShutdownTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Path: "data/streamguard.db",
		},
		Content: ContentConfig{
			CacheDir:           "cache/cac",
			Owner:              "ComplianceAsCode",
			Repo:               "content",
			RepoURL:            "https://github.com/ComplianceAsCode/content.git",
			Branch:             "master",
			ReleaseVersion:     "latest",
			ReleaseURLTemplate: "https://github.com/ComplianceAsCode/content/releases/download/v{version}/scap-security-guide-{version}.zip",
			RequestTimeout:     60 * time.Second,
			DownloadTimeout:    300 * time.Second,
			DownloadAttempts:   3,
			CacheTTL:           10 * time.Minute,
			RequestsPerSecond:  5,
			Burst:              10,
		},
		Runner: RunnerConfig{
			MaxConcurrentHosts: 10,
			HostTimeout:        time.Hour,
			ResultsDir:         "data/results",
		},
		Oscap: OscapConfig{
			Binary:    "oscap",
			SSHBinary: "oscap-ssh",
		},
		Ansible: AnsibleConfig{
			Binary: "ansible-playbook",
		},
		SSH: SSHConfig{
			User:           "root",
			Port:           22,
			ConnectTimeout: 10 * time.Second,
			ConfigFile:     "~/.ssh/config",
		},
		Log: logger.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "streamguard",
		},
	}
}

// Validate checks the configuration for values the components cannot run with.
func (c *Config) Validate() error {
	const op = "config.Validate"
	switch {
	case c.Runner.MaxConcurrentHosts < 1:
		return sgerrors.E(sgerrors.KindInvalidInput, op, "runner.max_concurrent_hosts must be at least 1", sgerrors.ErrInvalidConfig)
	case c.Runner.HostTimeout <= 0:
		return sgerrors.E(sgerrors.KindInvalidInput, op, "runner.host_timeout must be positive", sgerrors.ErrInvalidConfig)
	case c.Content.DownloadAttempts < 1:
		return sgerrors.E(sgerrors.KindInvalidInput, op, "content.download_attempts must be at least 1", sgerrors.ErrInvalidConfig)
	case c.Content.CacheDir == "":
		return sgerrors.E(sgerrors.KindInvalidInput, op, "content.cache_dir is required", sgerrors.ErrInvalidConfig)
	case c.Store.Path == "":
		return sgerrors.E(sgerrors.KindInvalidInput, op, "store.path is required", sgerrors.ErrInvalidConfig)
	case c.SSH.Port < 1 || c.SSH.Port > 65535:
		return sgerrors.E(sgerrors.KindInvalidInput, op, fmt.Sprintf("ssh.port %d out of range", c.SSH.Port), sgerrors.ErrInvalidConfig)
	}
	return nil
}

// Load reads configuration from path (optional), the environment and flags.
// Flags are bound by their dotted key name, e.g. "runner.max_concurrent_hosts".
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, sgerrors.E(sgerrors.KindInvalidInput, "config.Load", "read config file", err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, sgerrors.E(sgerrors.KindInternal, "config.Load", "bind flags", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, sgerrors.E(sgerrors.KindInvalidInput, "config.Load", "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it on Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("content.cache_dir", d.Content.CacheDir)
	v.SetDefault("content.owner", d.Content.Owner)
	v.SetDefault("content.repo", d.Content.Repo)
	v.SetDefault("content.repo_url", d.Content.RepoURL)
	v.SetDefault("content.branch", d.Content.Branch)
	v.SetDefault("content.release_version", d.Content.ReleaseVersion)
	v.SetDefault("content.release_url_template", d.Content.ReleaseURLTemplate)
	v.SetDefault("content.github_token", d.Content.GitHubToken)
	v.SetDefault("content.api_base_url", d.Content.APIBaseURL)
	v.SetDefault("content.request_timeout", d.Content.RequestTimeout)
	v.SetDefault("content.download_timeout", d.Content.DownloadTimeout)
	v.SetDefault("content.download_attempts", d.Content.DownloadAttempts)
	v.SetDefault("content.cache_ttl", d.Content.CacheTTL)
	v.SetDefault("content.requests_per_second", d.Content.RequestsPerSecond)
	v.SetDefault("content.burst", d.Content.Burst)
	v.SetDefault("content.offline", d.Content.Offline)

	v.SetDefault("runner.max_concurrent_hosts", d.Runner.MaxConcurrentHosts)
	v.SetDefault("runner.host_timeout", d.Runner.HostTimeout)
	v.SetDefault("runner.results_dir", d.Runner.ResultsDir)

	v.SetDefault("oscap.binary", d.Oscap.Binary)
	v.SetDefault("oscap.ssh_binary", d.Oscap.SSHBinary)
	v.SetDefault("oscap.sudo", d.Oscap.Sudo)

	v.SetDefault("ansible.binary", d.Ansible.Binary)
	v.SetDefault("ansible.inventory", d.Ansible.Inventory)
	v.SetDefault("ansible.extra_args", d.Ansible.ExtraArgs)

	v.SetDefault("ssh.user", d.SSH.User)
	v.SetDefault("ssh.port", d.SSH.Port)
	v.SetDefault("ssh.identity_file", d.SSH.IdentityFile)
	v.SetDefault("ssh.known_hosts_file", d.SSH.KnownHostsFile)
	v.SetDefault("ssh.connect_timeout", d.SSH.ConnectTimeout)
	v.SetDefault("ssh.config_file", d.SSH.ConfigFile)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
}
