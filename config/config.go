package config

import (
	"feedscroll/oops"
	"time"

	"github.com/mileusna/useragent"
)

type Config struct {
	Scrape    Scrape    `yaml:"scrape"`
	Browser   Browser   `yaml:"browser"`
	Log       Log       `yaml:"log"`
	Output    Output    `yaml:"output"`
	Telemetry Telemetry `yaml:"telemetry"`
	Backup    Backup    `yaml:"backup"`
}

// Scrape holds everything a scrape session consumes. Durations are in seconds to
// keep the YAML readable.
type Scrape struct {
	MaxItems              int     `yaml:"max_items"`
	MaxRounds             int     `yaml:"max_rounds"`
	StagnationThreshold   int     `yaml:"stagnation_threshold"`
	RoundPacingSeconds    float64 `yaml:"round_pacing_seconds"`
	ScrollPauseSeconds    float64 `yaml:"scroll_pause_seconds"`
	FetchTimeoutSeconds   float64 `yaml:"fetch_timeout_seconds"`
	RetryAttempts         int     `yaml:"retry_attempts"`
	RetryBaseDelaySeconds float64 `yaml:"retry_base_delay_seconds"`
	RetryMaxDelaySeconds  float64 `yaml:"retry_max_delay_seconds"`
}

type Browser struct {
	Headless             bool   `yaml:"headless"`
	WindowWidth          int    `yaml:"window_width"`
	WindowHeight         int    `yaml:"window_height"`
	UserAgent            string `yaml:"user_agent"`
	BaseUrl              string `yaml:"base_url"`
	ChromeBin            string `yaml:"chrome_bin"`
	MaxInstances         int    `yaml:"max_instances"`
	NavigationsPerMinute int    `yaml:"navigations_per_minute"`
	BlockImages          bool   `yaml:"block_images"`
}

type Log struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Output destinations beyond Dir are skipped when empty.
type Output struct {
	Dir          string   `yaml:"dir"`
	Formats      []string `yaml:"formats"`
	SqlitePath   string   `yaml:"sqlite_path"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

// Telemetry endpoints are disabled when empty.
type Telemetry struct {
	MetricsAddr  string `yaml:"metrics_addr"`
	OtlpEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Backup uploads sqlite snapshots to S3. Empty keys fall back to the default AWS credential chain.
type Backup struct {
	S3Bucket           string `yaml:"s3_bucket"`
	S3Region           string `yaml:"s3_region"`
	S3Prefix           string `yaml:"s3_prefix"`
	Keep               int    `yaml:"keep"`
	AwsAccessKey       string `yaml:"aws_access_key"`
	AwsSecretAccessKey string `yaml:"aws_secret_access_key"`
}

func Default() Config {
	return Config{
		Scrape: Scrape{
			MaxItems:              100,
			MaxRounds:             50,
			StagnationThreshold:   3,
			RoundPacingSeconds:    3,
			ScrollPauseSeconds:    1,
			FetchTimeoutSeconds:   30,
			RetryAttempts:         3,
			RetryBaseDelaySeconds: 1,
			RetryMaxDelaySeconds:  30,
		},
		Browser: Browser{
			Headless:             true,
			WindowWidth:          1920,
			WindowHeight:         1080,
			UserAgent:            "",
			BaseUrl:              "https://x.com",
			ChromeBin:            "",
			MaxInstances:         2,
			NavigationsPerMinute: 30,
			BlockImages:          true,
		},
		Log: Log{
			Level:   "info",
			Console: false,
		},
		Output: Output{
			Dir:          "output",
			Formats:      []string{"json"},
			SqlitePath:   "",
			KafkaBrokers: nil,
			KafkaTopic:   "feedscroll.posts",
		},
		Telemetry: Telemetry{
			MetricsAddr:  "",
			OtlpEndpoint: "",
			ServiceName:  "feedscroll",
		},
		Backup: Backup{
			S3Bucket:           "",
			S3Region:           "us-west-2",
			S3Prefix:           "feedscroll/",
			Keep:               30,
			AwsAccessKey:       "",
			AwsSecretAccessKey: "",
		},
	}
}

func Seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}

func (s Scrape) RoundPacing() time.Duration {
	return Seconds(s.RoundPacingSeconds)
}

func (s Scrape) ScrollPause() time.Duration {
	return Seconds(s.ScrollPauseSeconds)
}

func (s Scrape) FetchTimeout() time.Duration {
	return Seconds(s.FetchTimeoutSeconds)
}

func (s Scrape) RetryBaseDelay() time.Duration {
	return Seconds(s.RetryBaseDelaySeconds)
}

func (s Scrape) RetryMaxDelay() time.Duration {
	return Seconds(s.RetryMaxDelaySeconds)
}

func (s Scrape) Validate() error {
	if s.MaxItems <= 0 {
		return oops.Newf("max_items must be positive, got %d", s.MaxItems)
	}
	if s.MaxRounds <= 0 {
		return oops.Newf("max_rounds must be positive, got %d", s.MaxRounds)
	}
	if s.StagnationThreshold <= 0 {
		return oops.Newf("stagnation_threshold must be positive, got %d", s.StagnationThreshold)
	}
	if s.RetryAttempts <= 0 {
		return oops.Newf("retry_attempts must be positive, got %d", s.RetryAttempts)
	}
	if s.RoundPacingSeconds < 0 || s.ScrollPauseSeconds < 0 || s.RetryBaseDelaySeconds < 0 {
		return oops.New("delays can't be negative")
	}
	if s.RetryMaxDelaySeconds < s.RetryBaseDelaySeconds {
		return oops.Newf(
			"retry_max_delay_seconds (%v) is below retry_base_delay_seconds (%v)",
			s.RetryMaxDelaySeconds, s.RetryBaseDelaySeconds,
		)
	}
	if s.FetchTimeoutSeconds <= 0 {
		return oops.Newf("fetch_timeout_seconds must be positive, got %v", s.FetchTimeoutSeconds)
	}
	return nil
}

func (c Config) Validate() error {
	if err := c.Scrape.Validate(); err != nil {
		return err
	}
	if c.Browser.MaxInstances <= 0 {
		return oops.Newf("browser.max_instances must be positive, got %d", c.Browser.MaxInstances)
	}
	if c.Browser.NavigationsPerMinute <= 0 {
		return oops.Newf(
			"browser.navigations_per_minute must be positive, got %d", c.Browser.NavigationsPerMinute,
		)
	}
	if c.Browser.BaseUrl == "" {
		return oops.New("browser.base_url is empty")
	}
	if err := validateUserAgent(c.Browser.UserAgent); err != nil {
		return err
	}
	if len(c.Output.KafkaBrokers) > 0 && c.Output.KafkaTopic == "" {
		return oops.New("output.kafka_topic is empty")
	}
	if c.Backup.Keep <= 0 {
		return oops.Newf("backup.keep must be positive, got %d", c.Backup.Keep)
	}
	for _, format := range c.Output.Formats {
		switch format {
		case "json", "ndjson", "csv", "html":
		default:
			return oops.Newf("unknown output format: %s", format)
		}
	}
	return nil
}

// Feeds serve a stripped-down page to crawlers and phones, so an overridden user agent has to
// look like a desktop browser.
func validateUserAgent(userAgentStr string) error {
	if userAgentStr == "" {
		return nil
	}
	userAgent := useragent.Parse(userAgentStr)
	if userAgent.Bot {
		return oops.Newf("browser.user_agent is a crawler (%s)", userAgent.Name)
	}
	if !userAgent.Desktop {
		return oops.Newf("browser.user_agent is not a desktop browser: %q", userAgentStr)
	}
	if userAgent.Name == "" {
		return oops.Newf("browser.user_agent has no browser name: %q", userAgentStr)
	}
	return nil
}
