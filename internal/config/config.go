// Package config loads and validates redarc configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every knob of a run. It is decoded once at startup and
// passed by value into the composition root; no component reads ambient
// state.
type Config struct {
	Tracker Tracker `mapstructure:"tracker"`
	Crawl   Crawl   `mapstructure:"crawl"`
	HTTP    HTTP    `mapstructure:"http"`
	PDF     PDF     `mapstructure:"pdf"`
	Output  Output  `mapstructure:"output"`
	DB      DB      `mapstructure:"db"`
	Metrics Metrics `mapstructure:"metrics"`
	Logging Logging `mapstructure:"logging"`
}

// Tracker describes the target issue tracker.
type Tracker struct {
	BaseURL    string `mapstructure:"base_url"`
	CookieName string `mapstructure:"cookie_name"`
	UserAgent  string `mapstructure:"user_agent"`
}

// Crawl governs the orchestrator and attachment coordinator.
type Crawl struct {
	Concurrency           int `mapstructure:"concurrency"`
	AttachmentParallel    int `mapstructure:"attachment_parallel"`
	DelayMs               int `mapstructure:"delay_ms"`
	UnauthorizedThreshold int `mapstructure:"unauthorized_threshold"`
}

// HTTP configures client timeout and retry behavior.
type HTTP struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// PDF configures the external renderer.
type PDF struct {
	// Engine selects the renderer: "wkhtmltopdf" or "chromium".
	Engine         string `mapstructure:"engine"`
	BinaryPath     string `mapstructure:"binary_path"`
	PageSize       string `mapstructure:"page_size"`
	MarginInches   string `mapstructure:"margin"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxParallel    int    `mapstructure:"max_parallel"`
}

// Output sets the directory layout for produced files.
type Output struct {
	Dir            string `mapstructure:"dir"`
	PDFDir         string `mapstructure:"pdf_dir"`
	AttachmentsDir string `mapstructure:"attachments_dir"`
}

// DB optionally enables run/outcome persistence.
type DB struct {
	DSN string `mapstructure:"dsn"`
}

// Metrics optionally exposes /healthz and /metrics during a run.
type Metrics struct {
	Addr string `mapstructure:"addr"`
}

// Logging toggles zap development features.
type Logging struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. Validation is the caller's
// responsibility once flag overrides have been applied.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REDARC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// setDefaults also registers every key so AutomaticEnv can bind it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("tracker.base_url", "")
	v.SetDefault("tracker.cookie_name", "_redmine_session")
	v.SetDefault("tracker.user_agent", "redarc/0.1")
	v.SetDefault("crawl.concurrency", 3)
	v.SetDefault("crawl.attachment_parallel", 4)
	v.SetDefault("crawl.delay_ms", 1000)
	v.SetDefault("crawl.unauthorized_threshold", 2)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("pdf.engine", "wkhtmltopdf")
	v.SetDefault("pdf.binary_path", "wkhtmltopdf")
	v.SetDefault("pdf.page_size", "A4")
	v.SetDefault("pdf.margin", "0.75in")
	v.SetDefault("pdf.timeout_seconds", 60)
	v.SetDefault("pdf.max_parallel", 1)
	v.SetDefault("output.dir", "redarc_output")
	v.SetDefault("output.pdf_dir", "pdfs")
	v.SetDefault("output.attachments_dir", "attachments")
	v.SetDefault("db.dsn", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Tracker.BaseURL == "" {
		return fmt.Errorf("tracker.base_url must be set")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.AttachmentParallel <= 0 {
		return fmt.Errorf("crawl.attachment_parallel must be > 0")
	}
	if c.Crawl.DelayMs < 0 {
		return fmt.Errorf("crawl.delay_ms must be >= 0")
	}
	if c.Crawl.UnauthorizedThreshold <= 0 {
		return fmt.Errorf("crawl.unauthorized_threshold must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	switch c.PDF.Engine {
	case "wkhtmltopdf", "chromium":
	default:
		return fmt.Errorf("pdf.engine must be wkhtmltopdf or chromium, got %q", c.PDF.Engine)
	}
	if c.PDF.TimeoutSeconds <= 0 {
		return fmt.Errorf("pdf.timeout_seconds must be > 0")
	}
	return nil
}

// Delay returns the inter-request delay as a duration.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Crawl.DelayMs) * time.Millisecond
}

// HTTPTimeout returns the per-request timeout as a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RenderTimeout returns the renderer execution budget as a duration.
func (c Config) RenderTimeout() time.Duration {
	return time.Duration(c.PDF.TimeoutSeconds) * time.Second
}
