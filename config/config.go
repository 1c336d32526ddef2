// Package config centralises runtime configuration for the GENA
// control-point service: worker pool sizing, protocol knobs, telemetry
// export, and the set of event URLs to auto-subscribe to on startup.
// Values load in the teacher's order: built-in defaults, then an
// optional YAML file, then environment variable overrides.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// threadCountKind distinguishes an explicit worker-count value from the
// symbolic "infinite" sentinel a publisher with unknown event fan-out
// might want to configure.
type threadCountKind int

const (
	threadCountExplicit threadCountKind = iota
	threadCountInfinite
)

// ThreadCount is a YAML scalar accepting either a positive integer or the
// symbolic value "infinite", mirroring the teacher's
// FanoutWorkerSetting for pool sizing knobs that can reasonably be
// uncapped.
type ThreadCount struct {
	kind  threadCountKind
	value int
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *ThreadCount) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*c = ThreadCount{}
		return nil
	}
	text := strings.TrimSpace(node.Value)
	if text == "" {
		*c = ThreadCount{}
		return nil
	}
	if strings.EqualFold(text, "infinite") {
		*c = ThreadCount{kind: threadCountInfinite}
		return nil
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("threadCount: invalid value %q", node.Value)
	}
	if n <= 0 {
		return fmt.Errorf("threadCount: numeric value must be > 0")
	}
	*c = ThreadCount{kind: threadCountExplicit, value: n}
	return nil
}

// Resolve returns the effective pool.Attr integer: infinite is the
// sentinel -1.
func (c ThreadCount) Resolve() int {
	if c.kind == threadCountInfinite {
		return -1
	}
	if c.value <= 0 {
		return -1
	}
	return c.value
}

// PoolAttr is the YAML view of internal/pool.Attr.
type PoolAttr struct {
	MinThreads     int         `yaml:"minThreads"`
	MaxThreads     ThreadCount `yaml:"maxThreads"`
	JobsPerThread  int         `yaml:"jobsPerThread"`
	MaxIdleTime    time.Duration `yaml:"maxIdleTime"`
	StarvationTime time.Duration `yaml:"starvationTime"`
	MaxJobsTotal   int         `yaml:"maxJobsTotal"`
}

// DefaultPoolAttr mirrors internal/pool.DefaultAttr.
func DefaultPoolAttr() PoolAttr {
	return PoolAttr{
		MinThreads:     2,
		MaxThreads:     ThreadCount{kind: threadCountExplicit, value: 12},
		JobsPerThread:  10,
		MaxIdleTime:    10 * time.Second,
		StarvationTime: 500 * time.Millisecond,
		MaxJobsTotal:   100,
	}
}

// Knobs is the YAML view of the spec.md §6.3 protocol constants
// (internal/gena.Knobs).
type Knobs struct {
	AutoRenewLead             time.Duration `yaml:"autoRenewLead"`
	CPMinimumSubscriptionTime time.Duration `yaml:"cpMinimumSubscriptionTime"`
	HTTPDefaultTimeout        time.Duration `yaml:"httpDefaultTimeout"`
	UserAgent                 string        `yaml:"userAgent"`
	LocalPortV4               uint16        `yaml:"localPortV4"`
	LocalPortV6               uint16        `yaml:"localPortV6"`
}

// DefaultKnobs mirrors internal/gena.DefaultKnobs.
func DefaultKnobs() Knobs {
	return Knobs{
		AutoRenewLead:             30 * time.Second,
		CPMinimumSubscriptionTime: 30 * time.Second,
		HTTPDefaultTimeout:        30 * time.Second,
		UserAgent:                 "genacp/1.0 UPnP/1.0",
		LocalPortV4:               2869,
		LocalPortV6:               2870,
	}
}

// TelemetryConfig configures the OTLP metrics exporter, matching the
// teacher's telemetry.Init signature in shape.
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// DefaultTelemetryConfig disables metrics export by default, matching
// the teacher's no-op MeterProvider fallback.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{ServiceName: "genacp", EnableMetrics: false}
}

// PublisherSettings names one remote publisher cmd/genacp should
// auto-subscribe to on startup.
type PublisherSettings struct {
	EventURL         string        `yaml:"eventUrl"`
	RequestedTimeout time.Duration `yaml:"requestedTimeout"`
}

// Settings is the full GENA control-point configuration tree.
type Settings struct {
	Pool       PoolAttr            `yaml:"pool"`
	Knobs      Knobs               `yaml:"knobs"`
	Telemetry  TelemetryConfig     `yaml:"telemetry"`
	Publishers []PublisherSettings `yaml:"publishers"`
}

// Default returns the built-in configuration.
func Default() Settings {
	return Settings{
		Pool:      DefaultPoolAttr(),
		Knobs:     DefaultKnobs(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// Load reads Settings from path (if non-empty and present), falling
// back to Default for anything the file omits, then applies
// environment variable overrides. Missing files are not an error: a
// zero-config deployment runs on defaults plus environment alone.
func Load(path string) (Settings, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		loaded, err := loadFile(path)
		if err != nil {
			return Settings{}, err
		}
		cfg = loaded
	}

	cfg.applyEnv()
	return cfg, nil
}

func loadFile(path string) (Settings, error) {
	clean := filepath.Clean(strings.TrimSpace(path))
	f, err := os.Open(clean) // #nosec G304 -- path is operator controlled.
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Settings{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return Settings{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Settings{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides cfg in place from environment variables, the
// outermost layer of the defaults-file-env load order.
func (cfg *Settings) applyEnv() {
	if v, ok := os.LookupEnv("GENACP_MIN_THREADS"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Pool.MinThreads = n
		}
	}
	if v, ok := os.LookupEnv("GENACP_MAX_THREADS"); ok {
		v = strings.TrimSpace(v)
		if strings.EqualFold(v, "infinite") {
			cfg.Pool.MaxThreads = ThreadCount{kind: threadCountInfinite}
		} else if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Pool.MaxThreads = ThreadCount{kind: threadCountExplicit, value: n}
		}
	}
	if v, ok := os.LookupEnv("GENACP_USER_AGENT"); ok {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			cfg.Knobs.UserAgent = trimmed
		}
	}
	if v, ok := os.LookupEnv("GENACP_AUTO_RENEW_LEAD"); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			cfg.Knobs.AutoRenewLead = d
		}
	}
	if v, ok := os.LookupEnv("GENACP_OTLP_ENDPOINT"); ok {
		cfg.Telemetry.OTLPEndpoint = strings.TrimSpace(v)
		cfg.Telemetry.EnableMetrics = cfg.Telemetry.OTLPEndpoint != ""
	}
	if v, ok := os.LookupEnv("GENACP_SERVICE_NAME"); ok {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			cfg.Telemetry.ServiceName = trimmed
		}
	}
}

// Validate checks Settings for the minimal invariants pool.Attr and
// gena.Knobs themselves require, surfacing misconfiguration before the
// pool/engine are constructed.
func (cfg Settings) Validate() error {
	if cfg.Pool.MinThreads < 0 {
		return fmt.Errorf("pool.minThreads must be >= 0")
	}
	if max := cfg.Pool.MaxThreads.Resolve(); max != -1 && max < cfg.Pool.MinThreads {
		return fmt.Errorf("pool.maxThreads must be >= minThreads or infinite")
	}
	if cfg.Pool.JobsPerThread <= 0 {
		return fmt.Errorf("pool.jobsPerThread must be > 0")
	}
	if cfg.Pool.MaxJobsTotal < 0 {
		return fmt.Errorf("pool.maxJobsTotal must be >= 0")
	}
	if strings.TrimSpace(cfg.Knobs.UserAgent) == "" {
		return fmt.Errorf("knobs.userAgent required")
	}
	if cfg.Telemetry.EnableMetrics && strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
		return fmt.Errorf("telemetry.otlpEndpoint required when metrics are enabled")
	}
	for i, pub := range cfg.Publishers {
		if strings.TrimSpace(pub.EventURL) == "" {
			return fmt.Errorf("publishers[%d].eventUrl required", i)
		}
	}
	return nil
}
