package config

import (
	"bytes"
	"errors"
	"feedscroll/oops"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type LookupEnv func(key string) (string, bool)

// Load reads an optional YAML file over the defaults, then applies .env and environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, oops.Wrapf(err, "loading .env") //nolint:exhaustruct
	}
	return LoadWithEnv(path, os.LookupEnv)
}

func LoadWithEnv(path string, lookupEnv LookupEnv) (Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, oops.Wrapf(err, "reading config %s", path) //nolint:exhaustruct
		}
		if err := decodeYaml(content, &cfg); err != nil {
			return Config{}, oops.Wrapf(err, "parsing config %s", path) //nolint:exhaustruct
		}
	}

	if err := applyEnv(&cfg, lookupEnv); err != nil {
		return Config{}, err //nolint:exhaustruct
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err //nolint:exhaustruct
	}
	return cfg, nil
}

func decodeYaml(content []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	err := decoder.Decode(cfg)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type envOverride struct {
	Key   string
	Apply func(cfg *Config, value string) error
}

var envOverrides = []envOverride{
	{Key: "FEEDSCROLL_MAX_ITEMS", Apply: func(cfg *Config, value string) error {
		return parseIntInto(value, &cfg.Scrape.MaxItems)
	}},
	{Key: "FEEDSCROLL_MAX_ROUNDS", Apply: func(cfg *Config, value string) error {
		return parseIntInto(value, &cfg.Scrape.MaxRounds)
	}},
	{Key: "FEEDSCROLL_HEADLESS", Apply: func(cfg *Config, value string) error {
		headless, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.Browser.Headless = headless
		return nil
	}},
	{Key: "FEEDSCROLL_BASE_URL", Apply: func(cfg *Config, value string) error {
		cfg.Browser.BaseUrl = value
		return nil
	}},
	{Key: "FEEDSCROLL_CHROME_BIN", Apply: func(cfg *Config, value string) error {
		cfg.Browser.ChromeBin = value
		return nil
	}},
	{Key: "FEEDSCROLL_SQLITE_PATH", Apply: func(cfg *Config, value string) error {
		cfg.Output.SqlitePath = value
		return nil
	}},
	{Key: "FEEDSCROLL_KAFKA_BROKERS", Apply: func(cfg *Config, value string) error {
		cfg.Output.KafkaBrokers = nil
		for _, broker := range strings.Split(value, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				cfg.Output.KafkaBrokers = append(cfg.Output.KafkaBrokers, broker)
			}
		}
		return nil
	}},
	{Key: "FEEDSCROLL_METRICS_ADDR", Apply: func(cfg *Config, value string) error {
		cfg.Telemetry.MetricsAddr = value
		return nil
	}},
	{Key: "OTEL_EXPORTER_OTLP_ENDPOINT", Apply: func(cfg *Config, value string) error {
		cfg.Telemetry.OtlpEndpoint = value
		return nil
	}},
	{Key: "FEEDSCROLL_BACKUP_BUCKET", Apply: func(cfg *Config, value string) error {
		cfg.Backup.S3Bucket = value
		return nil
	}},
	{Key: "AWS_REGION", Apply: func(cfg *Config, value string) error {
		cfg.Backup.S3Region = value
		return nil
	}},
	{Key: "AWS_ACCESS_KEY_ID", Apply: func(cfg *Config, value string) error {
		cfg.Backup.AwsAccessKey = value
		return nil
	}},
	{Key: "AWS_SECRET_ACCESS_KEY", Apply: func(cfg *Config, value string) error {
		cfg.Backup.AwsSecretAccessKey = value
		return nil
	}},
	{Key: "LOG_LEVEL", Apply: func(cfg *Config, value string) error {
		cfg.Log.Level = value
		return nil
	}},
}

func applyEnv(cfg *Config, lookupEnv LookupEnv) error {
	for _, override := range envOverrides {
		value, ok := lookupEnv(override.Key)
		if !ok || value == "" {
			continue
		}
		if err := override.Apply(cfg, value); err != nil {
			return oops.Wrapf(err, "%s=%q", override.Key, value)
		}
	}
	return nil
}

func parseIntInto(value string, target *int) error {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	*target = parsed
	return nil
}
