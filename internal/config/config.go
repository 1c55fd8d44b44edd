package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when required settings are missing or malformed.
var ErrInvalidConfig = errors.New("invalid configuration")

type (
	Slack struct {
		BotToken      string `yaml:"bot_token"`
		SigningSecret string `yaml:"signing_secret"`
		AlertChannel  string `yaml:"alert_channel"`
	}

	Market struct {
		Provider      string        `yaml:"provider"`
		PolygonAPIKey string        `yaml:"polygon_api_key"`
		FinnhubAPIKey string        `yaml:"finnhub_api_key"`
		FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	}

	Alerts struct {
		Interval   time.Duration `yaml:"interval"`
		Threshold  float64       `yaml:"threshold"`
		RunOnStart bool          `yaml:"run_on_start"`
	}

	Redis struct {
		Addr     string        `yaml:"addr"`
		QuoteTTL time.Duration `yaml:"quote_ttl"`
	}

	Kafka struct {
		Brokers    []string `yaml:"brokers"`
		AlertTopic string   `yaml:"alert_topic"`
	}

	Server struct {
		HTTPAddr string `yaml:"http_addr"`
		LogLevel string `yaml:"log_level"`
		// StreamOrigins lists the Origin values allowed on /stream. Empty
		// means same-origin only; "*" allows any origin.
		StreamOrigins []string `yaml:"stream_origins"`
	}

	Config struct {
		WatchlistPath string `yaml:"watchlist_path"`
		Slack         Slack  `yaml:"slack"`
		Market        Market `yaml:"market"`
		Alerts        Alerts `yaml:"alerts"`
		Redis         Redis  `yaml:"redis"`
		Kafka         Kafka  `yaml:"kafka"`
		Server        Server `yaml:"server"`
	}
)

func Default() Config {
	return Config{
		WatchlistPath: "stocks.json",
		Market: Market{
			Provider:     "polygon",
			FetchTimeout: 10 * time.Second,
		},
		Alerts: Alerts{
			Interval:  time.Hour,
			Threshold: 5.0,
		},
		Redis: Redis{QuoteTTL: 60 * time.Second},
		Kafka: Kafka{AlertTopic: "price_alerts"},
		Server: Server{
			HTTPAddr: ":8080",
			LogLevel: "info",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or CONFIG_FILE), then environment variables. Variables from envFiles
// (default ".env") are loaded first and never override the real environment.
func Load(path string, envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.Market.Provider = strings.ToLower(strings.TrimSpace(cfg.Market.Provider))
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Slack.BotToken, "SLACK_BOT_TOKEN")
	setString(&c.Slack.SigningSecret, "SLACK_SIGNING_SECRET")
	setString(&c.Slack.AlertChannel, "ALERT_CHANNEL")
	setString(&c.Server.HTTPAddr, "HTTP_ADDR")
	setString(&c.Server.LogLevel, "LOG_LEVEL")
	setString(&c.WatchlistPath, "WATCHLIST_PATH")
	setString(&c.Market.Provider, "MARKET_PROVIDER")
	setString(&c.Market.PolygonAPIKey, "POLYGON_API_KEY")
	setString(&c.Market.FinnhubAPIKey, "FINNHUB_API_KEY")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Kafka.AlertTopic, "KAFKA_ALERT_TOPIC")

	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := getEnv("STREAM_ALLOWED_ORIGINS", ""); v != "" {
		c.Server.StreamOrigins = splitList(v)
	}

	var errs []error
	errs = append(errs,
		setDuration(&c.Alerts.Interval, "SWEEP_INTERVAL"),
		setDuration(&c.Market.FetchTimeout, "FETCH_TIMEOUT"),
		setDuration(&c.Redis.QuoteTTL, "QUOTE_CACHE_TTL"),
	)
	if v := getEnv("ALERT_THRESHOLD", ""); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: ALERT_THRESHOLD=%q", ErrInvalidConfig, v))
		} else {
			c.Alerts.Threshold = f
		}
	}
	if v := getEnv("SWEEP_ON_START", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: SWEEP_ON_START=%q", ErrInvalidConfig, v))
		} else {
			c.Alerts.RunOnStart = b
		}
	}
	return errors.Join(errs...)
}

// ValidateMarket checks the settings every market-data command needs.
func (c Config) ValidateMarket() error {
	var problems []string
	switch c.Market.Provider {
	case "polygon":
		if c.Market.PolygonAPIKey == "" {
			problems = append(problems, "POLYGON_API_KEY is required for the polygon provider")
		}
	case "finnhub":
		if c.Market.FinnhubAPIKey == "" {
			problems = append(problems, "FINNHUB_API_KEY is required for the finnhub provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("MARKET_PROVIDER %q is not one of polygon, finnhub", c.Market.Provider))
	}
	if c.Market.FetchTimeout <= 0 {
		problems = append(problems, "FETCH_TIMEOUT must be positive")
	}
	return problemsErr(problems)
}

// Validate checks everything serve needs.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Slack.BotToken) == "" {
		problems = append(problems, "SLACK_BOT_TOKEN is required")
	}
	if strings.TrimSpace(c.Slack.AlertChannel) == "" {
		problems = append(problems, "ALERT_CHANNEL is required")
	}
	if c.WatchlistPath == "" {
		problems = append(problems, "WATCHLIST_PATH must not be empty")
	}
	if c.Alerts.Interval <= 0 {
		problems = append(problems, "SWEEP_INTERVAL must be positive")
	}
	if c.Alerts.Threshold <= 0 {
		problems = append(problems, "ALERT_THRESHOLD must be positive")
	}
	if err := c.ValidateMarket(); err != nil {
		return errors.Join(problemsErr(problems), err)
	}
	return problemsErr(problems)
}

func problemsErr(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}

	return defaultValue
}

func setString(dst *string, key string) {
	*dst = getEnv(key, *dst)
}

func setDuration(dst *time.Duration, key string) error {
	v := getEnv(key, "")
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, v)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
