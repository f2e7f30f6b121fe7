// SPDX-License-Identifier: MIT

// Package config assembles the daemon configuration from defaults, an
// optional YAML file and the ONAIR_* environment. Precedence is
// environment > file > defaults, and everything is read exactly once at
// startup.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSwapInterval is the rotation interval used when nothing else is
// configured. Every consumer of the swap interval goes through Config, so
// this is the single definition.
const DefaultSwapInterval = 12000 * time.Second

// Config is the fully resolved daemon configuration.
type Config struct {
	// Compositor connection.
	CompositorHost     string `yaml:"compositor_host"`
	CompositorPort     int    `yaml:"compositor_port"`
	CompositorPassword string `yaml:"compositor_password"`

	// Ingest server the publishers connect to. IngestAPIURL is its control
	// API, used to kick publishers; empty makes kicks a no-op.
	IngestHost   string `yaml:"ingest_host"`
	RTMPPort     int    `yaml:"rtmp_port"`
	IngestAPIURL string `yaml:"ingest_api_url"`

	// MotherstreamURL is the single downstream output every accepted
	// publisher is forwarded to.
	MotherstreamURL string `yaml:"motherstream_url"`

	// Optional second forward target for recording, and the recorder
	// control API used for start/stop.
	RecordURL       string `yaml:"record_url"`
	AlsoRecord      bool   `yaml:"also_record"`
	RecorderBaseURL string `yaml:"recorder_base_url"`

	// WebhookURL receives go-live notifications. Empty disables them.
	WebhookURL string `yaml:"webhook_url"`

	// Rotation and job pacing.
	SwapInterval       time.Duration `yaml:"swap_interval"`
	JobDelay           time.Duration `yaml:"obs_job_delay"`
	HealthPollInterval time.Duration `yaml:"health_poll_interval"`
	PriorityTimeout    time.Duration `yaml:"priority_timeout"`
	TickInterval       time.Duration `yaml:"tick_interval"`

	// Compositor scene and source names.
	Scene         string `yaml:"scene"`
	StreamSource  string `yaml:"stream_source"`
	LoadingSource string `yaml:"loading_source"`

	// DataDir holds the queue snapshot, the users database and the
	// timing/health CSVs.
	DataDir string `yaml:"data_dir"`

	// Listen addresses.
	Listen      string `yaml:"listen"`
	MetricsAddr string `yaml:"metrics_addr"`
}

func defaults() Config {
	return Config{
		CompositorHost:     "localhost",
		CompositorPort:     4455,
		RTMPPort:           1935,
		SwapInterval:       DefaultSwapInterval,
		JobDelay:           2 * time.Second,
		HealthPollInterval: time.Second,
		PriorityTimeout:    30 * time.Second,
		TickInterval:       3 * time.Second,
		Scene:              "LIVE",
		StreamSource:       "STREAM",
		LoadingSource:      "LOADING",
		DataDir:            "/var/lib/onair",
		Listen:             ":8013",
		MetricsAddr:        ":9090",
	}
}

// Load resolves the configuration. path may be empty; a non-empty path
// that does not exist is an error, so typos fail loudly.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// fileConfig mirrors Config for YAML decoding. Durations are strings so
// the file can say "2s" or a bare number of seconds, and pointers
// distinguish "absent" from zero values.
type fileConfig struct {
	CompositorHost     *string `yaml:"compositor_host"`
	CompositorPort     *int    `yaml:"compositor_port"`
	CompositorPassword *string `yaml:"compositor_password"`
	IngestHost         *string `yaml:"ingest_host"`
	RTMPPort           *int    `yaml:"rtmp_port"`
	IngestAPIURL       *string `yaml:"ingest_api_url"`
	MotherstreamURL    *string `yaml:"motherstream_url"`
	RecordURL          *string `yaml:"record_url"`
	AlsoRecord         *bool   `yaml:"also_record"`
	RecorderBaseURL    *string `yaml:"recorder_base_url"`
	WebhookURL         *string `yaml:"webhook_url"`
	SwapInterval       *string `yaml:"swap_interval"`
	JobDelay           *string `yaml:"obs_job_delay"`
	HealthPollInterval *string `yaml:"health_poll_interval"`
	PriorityTimeout    *string `yaml:"priority_timeout"`
	TickInterval       *string `yaml:"tick_interval"`
	Scene              *string `yaml:"scene"`
	StreamSource       *string `yaml:"stream_source"`
	LoadingSource      *string `yaml:"loading_source"`
	DataDir            *string `yaml:"data_dir"`
	Listen             *string `yaml:"listen"`
	MetricsAddr        *string `yaml:"metrics_addr"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var fc fileConfig
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&c.CompositorHost, fc.CompositorHost)
	if fc.CompositorPort != nil {
		c.CompositorPort = *fc.CompositorPort
	}
	setString(&c.CompositorPassword, fc.CompositorPassword)
	setString(&c.IngestHost, fc.IngestHost)
	if fc.RTMPPort != nil {
		c.RTMPPort = *fc.RTMPPort
	}
	setString(&c.IngestAPIURL, fc.IngestAPIURL)
	setString(&c.MotherstreamURL, fc.MotherstreamURL)
	setString(&c.RecordURL, fc.RecordURL)
	if fc.AlsoRecord != nil {
		c.AlsoRecord = *fc.AlsoRecord
	}
	setString(&c.RecorderBaseURL, fc.RecorderBaseURL)
	setString(&c.WebhookURL, fc.WebhookURL)
	setString(&c.Scene, fc.Scene)
	setString(&c.StreamSource, fc.StreamSource)
	setString(&c.LoadingSource, fc.LoadingSource)
	setString(&c.DataDir, fc.DataDir)
	setString(&c.Listen, fc.Listen)
	setString(&c.MetricsAddr, fc.MetricsAddr)

	setDur := func(dst *time.Duration, src *string, field string) error {
		if src == nil {
			return nil
		}
		d, err := parseDurationValue(*src)
		if err != nil {
			return fmt.Errorf("config: %s in %s: %w", field, path, err)
		}
		*dst = d
		return nil
	}
	for _, f := range []struct {
		dst   *time.Duration
		src   *string
		field string
	}{
		{&c.SwapInterval, fc.SwapInterval, "swap_interval"},
		{&c.JobDelay, fc.JobDelay, "obs_job_delay"},
		{&c.HealthPollInterval, fc.HealthPollInterval, "health_poll_interval"},
		{&c.PriorityTimeout, fc.PriorityTimeout, "priority_timeout"},
		{&c.TickInterval, fc.TickInterval, "tick_interval"},
	} {
		if err := setDur(f.dst, f.src, f.field); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	c.CompositorHost = ParseString("ONAIR_COMPOSITOR_HOST", c.CompositorHost)
	c.CompositorPort = ParseInt("ONAIR_COMPOSITOR_PORT", c.CompositorPort)
	c.CompositorPassword = ParseString("ONAIR_COMPOSITOR_PASSWORD", c.CompositorPassword)
	c.IngestHost = ParseString("ONAIR_INGEST_HOST", c.IngestHost)
	c.RTMPPort = ParseInt("ONAIR_RTMP_PORT", c.RTMPPort)
	c.IngestAPIURL = ParseString("ONAIR_INGEST_API_URL", c.IngestAPIURL)
	c.MotherstreamURL = ParseString("ONAIR_MOTHERSTREAM_URL", c.MotherstreamURL)
	c.RecordURL = ParseString("ONAIR_RECORD_URL", c.RecordURL)
	c.AlsoRecord = ParseBool("ONAIR_ALSO_RECORD", c.AlsoRecord)
	c.RecorderBaseURL = ParseString("ONAIR_RECORDER_BASE_URL", c.RecorderBaseURL)
	c.WebhookURL = ParseString("ONAIR_WEBHOOK_URL", c.WebhookURL)
	c.SwapInterval = ParseDuration("ONAIR_SWAP_INTERVAL", c.SwapInterval)
	c.JobDelay = ParseDuration("ONAIR_OBS_JOB_DELAY", c.JobDelay)
	c.HealthPollInterval = ParseDuration("ONAIR_HEALTH_POLL_INTERVAL", c.HealthPollInterval)
	c.PriorityTimeout = ParseDuration("ONAIR_PRIORITY_TIMEOUT", c.PriorityTimeout)
	c.TickInterval = ParseDuration("ONAIR_TICK_INTERVAL", c.TickInterval)
	c.Scene = ParseString("ONAIR_SCENE", c.Scene)
	c.StreamSource = ParseString("ONAIR_STREAM_SOURCE", c.StreamSource)
	c.LoadingSource = ParseString("ONAIR_LOADING_SOURCE", c.LoadingSource)
	c.DataDir = ParseString("ONAIR_DATA_DIR", c.DataDir)
	c.Listen = ParseString("ONAIR_LISTEN", c.Listen)
	c.MetricsAddr = ParseString("ONAIR_METRICS_ADDR", c.MetricsAddr)
}

// Validate checks the required values and basic ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.CompositorHost == "" {
		errs = append(errs, errors.New("compositor host is required"))
	}
	if c.CompositorPort <= 0 || c.CompositorPort > 65535 {
		errs = append(errs, fmt.Errorf("compositor port %d out of range", c.CompositorPort))
	}
	if c.IngestHost == "" {
		errs = append(errs, errors.New("ingest host is required (ONAIR_INGEST_HOST)"))
	}
	if c.MotherstreamURL == "" {
		errs = append(errs, errors.New("motherstream url is required (ONAIR_MOTHERSTREAM_URL)"))
	}
	if c.AlsoRecord && c.RecordURL == "" {
		errs = append(errs, errors.New("ONAIR_ALSO_RECORD needs ONAIR_RECORD_URL"))
	}
	if c.SwapInterval <= 0 {
		errs = append(errs, fmt.Errorf("swap interval must be positive, got %s", c.SwapInterval))
	}
	if c.JobDelay < 0 {
		errs = append(errs, fmt.Errorf("job delay must not be negative, got %s", c.JobDelay))
	}
	return errors.Join(errs...)
}

// CompositorURL is the websocket endpoint of the compositor.
func (c *Config) CompositorURL() string {
	return fmt.Sprintf("ws://%s/", net.JoinHostPort(c.CompositorHost, strconv.Itoa(c.CompositorPort)))
}

// IngestRTMPBase is the base URL publishers push to; stream keys are
// appended as the path's last element.
func (c *Config) IngestRTMPBase() string {
	return fmt.Sprintf("rtmp://%s/live", net.JoinHostPort(c.IngestHost, strconv.Itoa(c.RTMPPort)))
}

// QueuePath is the queue snapshot location under the data dir.
func (c *Config) QueuePath() string { return filepath.Join(c.DataDir, "QUEUE.json") }

// UsersDBPath is the sqlite users database location under the data dir.
func (c *Config) UsersDBPath() string { return filepath.Join(c.DataDir, "users.db") }
