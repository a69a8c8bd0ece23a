package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) {
	return "", false
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 100, cfg.Scrape.MaxItems)
	require.Equal(t, 3, cfg.Scrape.StagnationThreshold)
	require.Equal(t, 3, cfg.Scrape.RetryAttempts)
	require.Equal(t, "3s", cfg.Scrape.RoundPacing().String())
}

func TestLoadYamlOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedscroll.yaml")
	err := os.WriteFile(path, []byte(`
scrape:
  max_items: 40
  round_pacing_seconds: 0.5
browser:
  headless: false
output:
  formats: [json, csv]
`), 0o600)
	require.NoError(t, err)

	cfg, err := LoadWithEnv(path, noEnv)
	require.NoError(t, err)
	require.Equal(t, 40, cfg.Scrape.MaxItems)
	require.Equal(t, "500ms", cfg.Scrape.RoundPacing().String())
	require.Equal(t, 50, cfg.Scrape.MaxRounds)
	require.False(t, cfg.Browser.Headless)
	require.Equal(t, []string{"json", "csv"}, cfg.Output.Formats)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedscroll.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scrape:\n  max_tweets: 5\n"), 0o600))

	_, err := LoadWithEnv(path, noEnv)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"FEEDSCROLL_MAX_ITEMS": "7",
		"FEEDSCROLL_HEADLESS":  "false",
		"LOG_LEVEL":            "debug",

		"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4318",
	}
	lookup := func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}

	cfg, err := LoadWithEnv("", lookup)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Scrape.MaxItems)
	require.False(t, cfg.Browser.Headless)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "collector:4318", cfg.Telemetry.OtlpEndpoint)
	require.Empty(t, cfg.Telemetry.MetricsAddr)

	env["FEEDSCROLL_MAX_ROUNDS"] = "many"
	_, err = LoadWithEnv("", lookup)
	require.ErrorContains(t, err, "FEEDSCROLL_MAX_ROUNDS")
}

func TestValidate(t *testing.T) {
	type test struct {
		description string
		mutate      func(cfg *Config)
	}

	tests := []test{
		{"zero max items", func(cfg *Config) { cfg.Scrape.MaxItems = 0 }},
		{"zero max rounds", func(cfg *Config) { cfg.Scrape.MaxRounds = 0 }},
		{"zero stagnation", func(cfg *Config) { cfg.Scrape.StagnationThreshold = 0 }},
		{"zero attempts", func(cfg *Config) { cfg.Scrape.RetryAttempts = 0 }},
		{"negative pacing", func(cfg *Config) { cfg.Scrape.RoundPacingSeconds = -1 }},
		{"cap below base", func(cfg *Config) { cfg.Scrape.RetryMaxDelaySeconds = 0.5 }},
		{"zero timeout", func(cfg *Config) { cfg.Scrape.FetchTimeoutSeconds = 0 }},
		{"no browsers", func(cfg *Config) { cfg.Browser.MaxInstances = 0 }},
		{"bad format", func(cfg *Config) { cfg.Output.Formats = []string{"xlsx"} }},
		{"no backups kept", func(cfg *Config) { cfg.Backup.Keep = 0 }},
		{"brokers without topic", func(cfg *Config) {
			cfg.Output.KafkaBrokers = []string{"localhost:9092"}
			cfg.Output.KafkaTopic = ""
		}},
		{"crawler user agent", func(cfg *Config) {
			cfg.Browser.UserAgent = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
		}},
		{"phone user agent", func(cfg *Config) {
			cfg.Browser.UserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) " +
				"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1"
		}},
	}

	for _, tc := range tests {
		cfg := Default()
		tc.mutate(&cfg)
		require.Error(t, cfg.Validate(), tc.description)
	}
}

func TestDesktopUserAgentIsValid(t *testing.T) {
	cfg := Default()
	cfg.Browser.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	require.NoError(t, cfg.Validate())
}

func TestOutputAndBackupEnvOverrides(t *testing.T) {
	env := map[string]string{
		"FEEDSCROLL_BACKUP_BUCKET": "scrapes",
		"FEEDSCROLL_KAFKA_BROKERS": "kafka-1:9092, kafka-2:9092,",
		"AWS_REGION":               "eu-central-1",
		"AWS_ACCESS_KEY_ID":        "AKIDEXAMPLE",
		"AWS_SECRET_ACCESS_KEY":    "secret",
	}
	lookup := func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}

	cfg, err := LoadWithEnv("", lookup)
	require.NoError(t, err)
	require.Equal(t, "scrapes", cfg.Backup.S3Bucket)
	require.Equal(t, "eu-central-1", cfg.Backup.S3Region)
	require.Equal(t, "AKIDEXAMPLE", cfg.Backup.AwsAccessKey)
	require.Equal(t, "secret", cfg.Backup.AwsSecretAccessKey)
	require.Equal(t, 30, cfg.Backup.Keep)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Output.KafkaBrokers)
	require.Equal(t, "feedscroll.posts", cfg.Output.KafkaTopic)
}
