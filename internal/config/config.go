package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath    = "NETGAUGE_CONFIG"
	EnvConfigPubKey  = "NETGAUGE_CONFIG_PUBKEY"
	LocalConfigName  = "netgauge.yaml"
	SignatureSuffix  = ".minisig"
	DriverSQLite     = "sqlite"
	DriverPostgres   = "postgres"
	defaultDBName    = "netgauge.db"
	defaultLookupURL = "https://api.ipify.org"
)

// Config enumerates every setting netgauge recognises. It is loaded once
// and passed by pointer to the orchestrator and its collaborators.
type Config struct {
	Ping       ProbeConfig      `yaml:"ping"`
	Download   ProbeConfig      `yaml:"download"`
	Upload     ProbeConfig      `yaml:"upload"`
	Throughput ThroughputConfig `yaml:"throughput"`
	Stream     StreamConfig     `yaml:"stream"`
	Database   DatabaseConfig   `yaml:"database"`
	Network    NetworkConfig    `yaml:"network"`
	Report     ReportConfig     `yaml:"report"`
	Log        LogConfig        `yaml:"log"`
}

// ProbeConfig is one external command. The command line is opaque; the
// token {artifact} is replaced with the artifact path before launch.
type ProbeConfig struct {
	Command     string `yaml:"command"`
	Artifact    string `yaml:"artifact"`
	Redirect    bool   `yaml:"redirect"`
	Pattern     string `yaml:"pattern,omitempty"`
	ReadRetries int    `yaml:"read_retries,omitempty"` // 0 uses stream.read_retries
}

type ThroughputConfig struct {
	InterimPattern  string `yaml:"interim_pattern"`
	TerminalPattern string `yaml:"terminal_pattern"`
	DoneMarker      string `yaml:"done_marker"`
	ExpectedSeconds int    `yaml:"expected_seconds"`
}

type StreamConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	OpenRetries  int           `yaml:"open_retries"`
	ReadRetries  int           `yaml:"read_retries"`
	WorkDir      string        `yaml:"work_dir"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"`
	DSN        string `yaml:"dsn"`
	MaxResults int    `yaml:"max_results"`
	Disabled   bool   `yaml:"disabled"`
}

type NetworkConfig struct {
	IPLookupURL string        `yaml:"ip_lookup_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

type ReportConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func DefaultConfig() *Config {
	return &Config{
		Ping: ProbeConfig{
			Artifact: "ping_results.txt",
			Redirect: true,
			Pattern:  `Average = (\d+)ms`,
		},
		Download: ProbeConfig{
			Artifact: "download_stream.txt",
			Redirect: false,
		},
		Upload: ProbeConfig{
			Artifact: "upload_stream.txt",
			Redirect: false,
		},
		Throughput: ThroughputConfig{
			// empty patterns select the iperf3 defaults in internal/parse
			DoneMarker:      "iperf Done.",
			ExpectedSeconds: 10,
		},
		Stream: StreamConfig{
			PollInterval: 100 * time.Millisecond,
			OpenRetries:  50,
			ReadRetries:  5000,
			WorkDir:      "",
		},
		Database: DatabaseConfig{
			Driver:     DriverSQLite,
			DSN:        defaultDBName,
			MaxResults: 10000,
		},
		Network: NetworkConfig{
			IPLookupURL: defaultLookupURL,
			Timeout:     10 * time.Second,
		},
		Report: ReportConfig{
			Timeout: 30 * time.Second,
		},
		Log: LogConfig{Level: "warn"},
	}
}

// ResolvePath picks the config file: explicit path, then $NETGAUGE_CONFIG,
// then ./netgauge.yaml, then $XDG_CONFIG_HOME/netgauge/config.yaml.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	if _, err := os.Stat(LocalConfigName); err == nil {
		return LocalConfigName
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return LocalConfigName
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "netgauge", "config.yaml")
}

// LoadOptions controls how the file is read.
type LoadOptions struct {
	// PublicKey, when set, requires <path>.minisig to verify against it.
	PublicKey string
}

// Load reads path over the defaults, verifies its signature when a public
// key is configured, then applies environment overrides and validates.
func Load(ctx context.Context, path string, opts LoadOptions) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("read config %q: file is empty", path)
	}

	pubKey := opts.PublicKey
	if pubKey == "" {
		pubKey = os.Getenv(EnvConfigPubKey)
	}
	if pubKey != "" {
		verifier, err := NewMinisignVerifier(pubKey)
		if err != nil {
			return nil, err
		}
		if err := verifier.VerifyBytes(ctx, data, path+SignatureSuffix); err != nil {
			return nil, fmt.Errorf("config %q: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) LoadFromEnv() error {
	if cmd := os.Getenv("NETGAUGE_PING_CMD"); cmd != "" {
		c.Ping.Command = cmd
	}
	if cmd := os.Getenv("NETGAUGE_DOWNLOAD_CMD"); cmd != "" {
		c.Download.Command = cmd
	}
	if cmd := os.Getenv("NETGAUGE_UPLOAD_CMD"); cmd != "" {
		c.Upload.Command = cmd
	}
	if dir := os.Getenv("NETGAUGE_WORK_DIR"); dir != "" {
		c.Stream.WorkDir = dir
	}
	if interval := os.Getenv("NETGAUGE_POLL_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid NETGAUGE_POLL_INTERVAL %q: must be a positive duration (e.g. 100ms)", interval)
		}
		c.Stream.PollInterval = d
	}
	if retries := os.Getenv("NETGAUGE_READ_RETRIES"); retries != "" {
		n, err := strconv.Atoi(retries)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid NETGAUGE_READ_RETRIES %q: must be a positive integer", retries)
		}
		c.Stream.ReadRetries = n
	}
	if driver := os.Getenv("NETGAUGE_DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("NETGAUGE_DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if disabled := os.Getenv("NETGAUGE_DB_DISABLED"); disabled == "true" || disabled == "1" {
		c.Database.Disabled = true
	}
	if url := os.Getenv("NETGAUGE_REPORT_URL"); url != "" {
		c.Report.URL = url
	}
	if key := os.Getenv("NETGAUGE_REPORT_API_KEY"); key != "" {
		c.Report.APIKey = key
	}
	if url := os.Getenv("NETGAUGE_IP_LOOKUP_URL"); url != "" {
		c.Network.IPLookupURL = url
	}
	if level := os.Getenv("NETGAUGE_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	for _, p := range []struct {
		name  string
		probe ProbeConfig
	}{{"ping", c.Ping}, {"download", c.Download}, {"upload", c.Upload}} {
		if strings.TrimSpace(p.probe.Command) == "" {
			errs = append(errs, fmt.Errorf("%s.command cannot be empty", p.name))
		}
		if strings.TrimSpace(p.probe.Artifact) == "" {
			errs = append(errs, fmt.Errorf("%s.artifact cannot be empty", p.name))
		}
		if p.probe.ReadRetries < 0 {
			errs = append(errs, fmt.Errorf("%s.read_retries must be >= 0", p.name))
		}
	}
	if c.Download.Artifact == c.Upload.Artifact || c.Ping.Artifact == c.Download.Artifact || c.Ping.Artifact == c.Upload.Artifact {
		errs = append(errs, errors.New("each probe needs its own artifact file"))
	}
	if c.Stream.PollInterval <= 0 {
		errs = append(errs, errors.New("stream.poll_interval must be > 0"))
	}
	if c.Stream.OpenRetries <= 0 {
		errs = append(errs, errors.New("stream.open_retries must be > 0"))
	}
	if c.Stream.ReadRetries <= 0 {
		errs = append(errs, errors.New("stream.read_retries must be > 0"))
	}
	if c.Throughput.ExpectedSeconds < 0 {
		errs = append(errs, errors.New("throughput.expected_seconds must be >= 0"))
	}
	if !c.Database.Disabled {
		switch c.Database.Driver {
		case DriverSQLite, DriverPostgres:
		default:
			errs = append(errs, fmt.Errorf("invalid database.driver %q (must be %s or %s)", c.Database.Driver, DriverSQLite, DriverPostgres))
		}
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn cannot be empty"))
		}
		if c.Database.MaxResults < 0 {
			errs = append(errs, errors.New("database.max_results must be >= 0"))
		}
	}
	if c.Network.IPLookupURL == "" {
		errs = append(errs, errors.New("network.ip_lookup_url cannot be empty"))
	}
	if c.Network.Timeout <= 0 {
		errs = append(errs, errors.New("network.timeout must be > 0"))
	}
	if c.Report.URL != "" && !strings.HasPrefix(c.Report.URL, "http://") && !strings.HasPrefix(c.Report.URL, "https://") {
		errs = append(errs, fmt.Errorf("invalid report.url %q: must be http(s)", c.Report.URL))
	}
	return errors.Join(errs...)
}

// ArtifactPath resolves a probe's artifact against stream.work_dir.
func (c *Config) ArtifactPath(p ProbeConfig) string {
	if c.Stream.WorkDir == "" || filepath.IsAbs(p.Artifact) {
		return p.Artifact
	}
	return filepath.Join(c.Stream.WorkDir, p.Artifact)
}
