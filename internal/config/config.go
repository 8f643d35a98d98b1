package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingAPIKey is returned when no paywall service API key is configured.
var ErrMissingAPIKey = errors.New("PAYWALL_API_KEY required")

// Config contains runtime configuration required by the service.
type Config struct {
	HTTPAddr string
	DBURL    string            // optional; enables the commerce event journal
	APIKeys  map[string]string // apiKey -> clientID

	Platform        string
	TrackingConsent string

	Paywall     PaywallConfig
	Attribution AttributionConfig

	SuccessRedirectDelay time.Duration

	LogLevel  string
	LogFormat string
}

type PaywallConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	CampaignTrigger string        `yaml:"campaign_trigger"`
	CheckoutDomains []string      `yaml:"checkout_domains"`
	Timeout         time.Duration `yaml:"timeout"`
}

type AttributionConfig struct {
	BaseURL       string        `yaml:"base_url"`
	AppID         string        `yaml:"app_id"`
	AccessToken   string        `yaml:"access_token"`
	AdvertiserID  string        `yaml:"advertiser_id"`
	Timeout       time.Duration `yaml:"timeout"`
	FlushAttempts uint64        `yaml:"flush_attempts"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchSize     int           `yaml:"batch_size"`
	MaxBuffered   int           `yaml:"max_buffered"`
}

type configFile struct {
	HTTPAddr             string            `yaml:"http_addr"`
	DBURL                string            `yaml:"db_url"`
	Platform             string            `yaml:"platform"`
	TrackingConsent      string            `yaml:"tracking_consent"`
	SuccessRedirectDelay time.Duration     `yaml:"success_redirect_delay"`
	LogLevel             string            `yaml:"log_level"`
	LogFormat            string            `yaml:"log_format"`
	APIKeys              map[string]string `yaml:"api_keys"` // clientID -> apiKey
	Paywall              PaywallConfig     `yaml:"paywall"`
	Attribution          AttributionConfig `yaml:"attribution"`
}

func defaults() Config {
	return Config{
		HTTPAddr:        ":8080",
		APIKeys:         map[string]string{},
		Platform:        "ios",
		TrackingConsent: "not-determined",
		Paywall: PaywallConfig{
			BaseURL:         "https://api.superwall.com",
			CheckoutDomains: []string{"checkout.stripe.com"},
			Timeout:         10 * time.Second,
		},
		Attribution: AttributionConfig{
			BaseURL:       "https://graph.facebook.com/v19.0",
			Timeout:       10 * time.Second,
			FlushAttempts: 3,
			FlushInterval: 15 * time.Second,
			BatchSize:     100,
			MaxBuffered:   1000,
		},
		SuccessRedirectDelay: 3 * time.Second,
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

// Load builds the config from an optional YAML file (CONFIG_FILE) overridden
// by environment variables.
// API_KEYS format: "client1:key1,client2:key2"
func Load() (Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.DBURL, "DB_URL")
	setString(&cfg.Platform, "PLATFORM")
	setString(&cfg.TrackingConsent, "TRACKING_CONSENT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")

	setString(&cfg.Paywall.BaseURL, "PAYWALL_BASE_URL")
	setString(&cfg.Paywall.APIKey, "PAYWALL_API_KEY")
	setString(&cfg.Paywall.CampaignTrigger, "CAMPAIGN_TRIGGER")
	if v := strings.TrimSpace(os.Getenv("CHECKOUT_DOMAINS")); v != "" {
		cfg.Paywall.CheckoutDomains = splitList(v)
	}

	setString(&cfg.Attribution.BaseURL, "ATTRIBUTION_BASE_URL")
	setString(&cfg.Attribution.AppID, "ATTRIBUTION_APP_ID")
	setString(&cfg.Attribution.AccessToken, "ATTRIBUTION_ACCESS_TOKEN")
	setString(&cfg.Attribution.AdvertiserID, "ATTRIBUTION_ADVERTISER_ID")
	if v := strings.TrimSpace(os.Getenv("ATTRIBUTION_FLUSH_ATTEMPTS")); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			return Config{}, fmt.Errorf("ATTRIBUTION_FLUSH_ATTEMPTS must be a positive integer")
		}
		cfg.Attribution.FlushAttempts = n
	}
	for _, d := range []struct {
		dst *int
		env string
	}{
		{&cfg.Attribution.BatchSize, "ATTRIBUTION_BATCH_SIZE"},
		{&cfg.Attribution.MaxBuffered, "ATTRIBUTION_MAX_BUFFERED"},
	} {
		if err := setInt(d.dst, d.env); err != nil {
			return Config{}, err
		}
	}

	for _, d := range []struct {
		dst *time.Duration
		env string
	}{
		{&cfg.SuccessRedirectDelay, "SUCCESS_REDIRECT_DELAY"},
		{&cfg.Paywall.Timeout, "PAYWALL_TIMEOUT"},
		{&cfg.Attribution.Timeout, "ATTRIBUTION_TIMEOUT"},
		{&cfg.Attribution.FlushInterval, "ATTRIBUTION_FLUSH_INTERVAL"},
	} {
		if err := setDuration(d.dst, d.env); err != nil {
			return Config{}, err
		}
	}

	keys, err := parseAPIKeys(os.Getenv("API_KEYS"))
	if err != nil {
		return Config{}, err
	}
	for k, v := range keys {
		cfg.APIKeys[k] = v
	}

	if cfg.Paywall.APIKey == "" {
		return Config{}, ErrMissingAPIKey
	}

	// Local dev fallback so the service runs out-of-the-box.
	if len(cfg.APIKeys) == 0 {
		cfg.APIKeys["client-key-123"] = "app"
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if f.HTTPAddr != "" {
		cfg.HTTPAddr = f.HTTPAddr
	}
	if f.DBURL != "" {
		cfg.DBURL = f.DBURL
	}
	if f.Platform != "" {
		cfg.Platform = f.Platform
	}
	if f.TrackingConsent != "" {
		cfg.TrackingConsent = f.TrackingConsent
	}
	if f.SuccessRedirectDelay > 0 {
		cfg.SuccessRedirectDelay = f.SuccessRedirectDelay
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.LogFormat != "" {
		cfg.LogFormat = f.LogFormat
	}
	for client, key := range f.APIKeys {
		if client == "" || key == "" {
			return errors.New("api_keys entries must be non-empty")
		}
		cfg.APIKeys[key] = client
	}

	mergePaywall(&cfg.Paywall, f.Paywall)
	mergeAttribution(&cfg.Attribution, f.Attribution)
	return nil
}

func mergePaywall(dst *PaywallConfig, src PaywallConfig) {
	if src.BaseURL != "" {
		dst.BaseURL = src.BaseURL
	}
	if src.APIKey != "" {
		dst.APIKey = src.APIKey
	}
	if src.CampaignTrigger != "" {
		dst.CampaignTrigger = src.CampaignTrigger
	}
	if len(src.CheckoutDomains) > 0 {
		dst.CheckoutDomains = src.CheckoutDomains
	}
	if src.Timeout > 0 {
		dst.Timeout = src.Timeout
	}
}

func mergeAttribution(dst *AttributionConfig, src AttributionConfig) {
	if src.BaseURL != "" {
		dst.BaseURL = src.BaseURL
	}
	if src.AppID != "" {
		dst.AppID = src.AppID
	}
	if src.AccessToken != "" {
		dst.AccessToken = src.AccessToken
	}
	if src.AdvertiserID != "" {
		dst.AdvertiserID = src.AdvertiserID
	}
	if src.Timeout > 0 {
		dst.Timeout = src.Timeout
	}
	if src.FlushAttempts > 0 {
		dst.FlushAttempts = src.FlushAttempts
	}
	if src.FlushInterval > 0 {
		dst.FlushInterval = src.FlushInterval
	}
	if src.BatchSize > 0 {
		dst.BatchSize = src.BatchSize
	}
	if src.MaxBuffered > 0 {
		dst.MaxBuffered = src.MaxBuffered
	}
}

func parseAPIKeys(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	keys := map[string]string{}
	if raw == "" {
		return keys, nil
	}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, errors.New(`API_KEYS must be "client:key,client:key"`)
		}
		client := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if client == "" || key == "" {
			return nil, errors.New(`API_KEYS must be "client:key,client:key"`)
		}
		keys[key] = client
	}
	return keys, nil
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, env string) error {
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fmt.Errorf("%s must be a positive duration", env)
	}
	*dst = d
	return nil
}

func setInt(dst *int, env string) error {
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fmt.Errorf("%s must be a positive integer", env)
	}
	*dst = n
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
