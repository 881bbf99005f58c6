// Package config loads bridge settings from defaults, an optional YAML file,
// QB_MCP_* environment variables and bound command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is prepended to every environment variable, e.g.
// QB_MCP_QBITTORRENT_URL.
const EnvPrefix = "QB_MCP"

// Keys.
const (
	KeyURL                 = "qbittorrent_url"
	KeyUsername            = "qbittorrent_username"
	KeyPassword            = "qbittorrent_password"
	KeyRequestTimeout      = "request_timeout"
	KeySearchPollInterval  = "search_poll_interval"
	KeySearchMaxWait       = "search_max_wait"
	KeyHTTPAddr            = "http_addr"
	KeyCORSOrigins         = "cors_origins"
	KeyHTTPRateLimitRPS    = "http_rate_limit_rps"
	KeyHealthInterval      = "health_interval"
	KeyHealthFailThreshold = "health_fail_threshold"
	KeyLogLevel            = "log_level"
	KeyInsecureSkipVerify  = "insecure_skip_verify"
)

// Config is the validated bridge configuration.
type Config struct {
	QBittorrentURL      string
	Username            string
	Password            string
	RequestTimeout      time.Duration
	SearchPollInterval  time.Duration
	SearchMaxWait       time.Duration
	HTTPAddr            string // empty disables the HTTP surface
	CORSOrigins         []string
	HTTPRateLimitRPS    int // per client IP; 0 disables
	HealthInterval      time.Duration
	HealthFailThreshold int
	LogLevel            zapcore.Level
	InsecureSkipVerify  bool
}

// SetDefaults registers the default for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyURL, "http://localhost:15080")
	v.SetDefault(KeyUsername, "admin")
	v.SetDefault(KeyPassword, "adminadmin")
	v.SetDefault(KeyRequestTimeout, "30s")
	v.SetDefault(KeySearchPollInterval, "1s")
	v.SetDefault(KeySearchMaxWait, "30s")
	v.SetDefault(KeyHTTPAddr, "")
	v.SetDefault(KeyCORSOrigins, []string{"*"})
	v.SetDefault(KeyHTTPRateLimitRPS, 0)
	v.SetDefault(KeyHealthInterval, "1m")
	v.SetDefault(KeyHealthFailThreshold, 3)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyInsecureSkipVerify, false)
}

// Load reads the config file (configFile, or qbit-mcp.yaml in ./configs or
// .), applies environment overrides and validates the result. A missing
// default config file is not an error; a missing explicit one is.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("qbit-mcp")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &cfgNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper builds a Config from already-populated settings. Every problem
// is reported, not just the first.
func FromViper(v *viper.Viper) (*Config, error) {
	var errs []error
	dur := func(key string) time.Duration {
		d, err := duration(v.Get(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return 0
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %s", key, d))
		}
		return d
	}

	cfg := &Config{
		QBittorrentURL:      strings.TrimSpace(v.GetString(KeyURL)),
		Username:            v.GetString(KeyUsername),
		Password:            v.GetString(KeyPassword),
		RequestTimeout:      dur(KeyRequestTimeout),
		SearchPollInterval:  dur(KeySearchPollInterval),
		SearchMaxWait:       dur(KeySearchMaxWait),
		HTTPAddr:            strings.TrimSpace(v.GetString(KeyHTTPAddr)),
		CORSOrigins:         stringList(v.Get(KeyCORSOrigins)),
		HTTPRateLimitRPS:    v.GetInt(KeyHTTPRateLimitRPS),
		HealthInterval:      dur(KeyHealthInterval),
		HealthFailThreshold: v.GetInt(KeyHealthFailThreshold),
		InsecureSkipVerify:  v.GetBool(KeyInsecureSkipVerify),
	}

	if err := checkURL(cfg.QBittorrentURL); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyURL, err))
	}
	if cfg.Username == "" {
		errs = append(errs, fmt.Errorf("%s: must not be empty", KeyUsername))
	}
	if cfg.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.HTTPAddr); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", KeyHTTPAddr, err))
		}
	}
	if cfg.HTTPRateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("%s: must not be negative, got %d", KeyHTTPRateLimitRPS, cfg.HTTPRateLimitRPS))
	}
	if cfg.HealthFailThreshold < 1 {
		errs = append(errs, fmt.Errorf("%s: must be at least 1, got %d", KeyHealthFailThreshold, cfg.HealthFailThreshold))
	}
	level, err := zapcore.ParseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyLogLevel, err))
	}
	cfg.LogLevel = level

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// Fields describes the configuration for a startup log line. The password
// is never included.
func (c *Config) Fields() []zap.Field {
	return []zap.Field{
		zap.String("qbittorrent_url", c.QBittorrentURL),
		zap.String("qbittorrent_username", c.Username),
		zap.Duration("request_timeout", c.RequestTimeout),
		zap.Duration("search_poll_interval", c.SearchPollInterval),
		zap.Duration("search_max_wait", c.SearchMaxWait),
		zap.String("http_addr", c.HTTPAddr),
		zap.Int("http_rate_limit_rps", c.HTTPRateLimitRPS),
		zap.Duration("health_interval", c.HealthInterval),
		zap.Stringer("log_level", c.LogLevel),
		zap.Bool("insecure_skip_verify", c.InsecureSkipVerify),
	}
}

func checkURL(raw string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must be an absolute http or https URL, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("has no host: %q", raw)
	}
	return nil
}

// duration accepts Go duration strings ("30s", "1m30s") and bare numbers,
// which are read as seconds.
func duration(raw any) (time.Duration, error) {
	switch x := raw.(type) {
	case nil:
		return 0, errors.New("not set")
	case time.Duration:
		return x, nil
	case int:
		return time.Duration(x) * time.Second, nil
	case int64:
		return time.Duration(x) * time.Second, nil
	case float64:
		return time.Duration(x * float64(time.Second)), nil
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(n * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", x)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("invalid duration %v", raw)
	}
}

// stringList accepts a YAML list or a comma-separated string (env vars).
func stringList(raw any) []string {
	var items []string
	switch x := raw.(type) {
	case []string:
		items = x
	case []any:
		for _, it := range x {
			items = append(items, fmt.Sprint(it))
		}
	case string:
		items = strings.Split(x, ",")
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
