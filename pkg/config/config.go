package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Allowed XRPL websocket endpoint suffixes. A configured URL whose host does
// not contain one of these reverts to the default endpoint.
var allowedEndpoints = []string{
	".rippletest.net",
	"xrpl.org",
	"ripple.com",
	"xrplcluster.com",
}

const (
	DefaultWebsocketURL      = "wss://s.altnet.rippletest.net:51233"
	DefaultMaxReconnects     = 5
	DefaultReconnectDelaySec = 5
	DefaultMinTrustLine      = 1000
	DefaultMaxTrustLine      = 10000
)

type Network struct {
	WebsocketURL         string `yaml:"websocket_url"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
	ReconnectDelaySecs   int    `yaml:"reconnect_delay_seconds"`
}

type Wallets struct {
	TargetWallet string `yaml:"target_wallet"`
	FollowerSeed string `yaml:"follower_seed"`
}

type Trading struct {
	InitialPurchaseAmount string `yaml:"initial_purchase_amount"`
	MinTrustLineAmount    int64  `yaml:"min_trust_line_amount"`
	MaxTrustLineAmount    int64  `yaml:"max_trust_line_amount"`
	SendMaxXRP            string `yaml:"send_max_native"`
	SlippagePercent       string `yaml:"slippage_percent"`
	AutoPurchaseOnTrust   bool   `yaml:"auto_purchase_on_trust"`
}

type Monitoring struct {
	MinTradeVolume      float64 `yaml:"min_trade_volume"`
	MinTrustLines       int     `yaml:"min_trust_lines"`
	SaveIntervalMinutes int     `yaml:"save_interval_minutes"`
	DataFile            string  `yaml:"data_file"`
}

type Analytics struct {
	PriceCheckIntervalMinutes int     `yaml:"price_check_interval_minutes"`
	MinLiquidity              float64 `yaml:"min_liquidity"`
	MaxTokenAgeHours          int     `yaml:"max_token_age_hours"`
	AlphaFile                 string  `yaml:"alpha_file"`
}

type Logging struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Filename string `yaml:"filename"`
}

type Config struct {
	Network    Network    `yaml:"network"`
	Wallets    Wallets    `yaml:"wallets"`
	Trading    Trading    `yaml:"trading"`
	Monitoring Monitoring `yaml:"monitoring"`
	Analytics  Analytics  `yaml:"analytics"`
	Logging    Logging    `yaml:"logging"`

	DashboardPort int    `yaml:"dashboard_port"`
	DBPath        string `yaml:"db_path"`
}

func defaults() *Config {
	return &Config{
		Network: Network{
			WebsocketURL:         DefaultWebsocketURL,
			MaxReconnectAttempts: DefaultMaxReconnects,
			ReconnectDelaySecs:   DefaultReconnectDelaySec,
		},
		Trading: Trading{
			InitialPurchaseAmount: "1",
			MinTrustLineAmount:    DefaultMinTrustLine,
			MaxTrustLineAmount:    DefaultMaxTrustLine,
			SendMaxXRP:            "85",
			SlippagePercent:       "5",
		},
		Monitoring: Monitoring{
			MinTradeVolume:      1000,
			MinTrustLines:       5,
			SaveIntervalMinutes: 5,
			DataFile:            "token_data.json",
		},
		Analytics: Analytics{
			PriceCheckIntervalMinutes: 2,
			MinLiquidity:              0,
			MaxTokenAgeHours:          12,
			AlphaFile:                 "alpha_wallets.txt",
		},
		Logging: Logging{
			Level:    "info",
			Format:   "console",
			Filename: "xrpl_tracker.log",
		},
		DashboardPort: 8000,
		DBPath:        "xrpl_tracker.db",
	}
}

// Load reads config.yaml and config.local.yaml (local overrides defaults,
// null/empty values never override), applies .env overrides, and sanitizes
// values. Missing files are tolerated; invalid values revert to defaults.
func Load(paths ...string) (*Config, error) {
	_ = godotenv.Load()

	if len(paths) == 0 {
		paths = []string{"config.yaml", "config.local.yaml"}
	}

	merged := map[string]interface{}{}
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var doc map[string]interface{}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		merged = deepMerge(merged, doc)
	}

	cfg := defaults()
	if len(merged) > 0 {
		sanitizeNumerics(merged)
		raw, err := yaml.Marshal(merged)
		if err != nil {
			return nil, fmt.Errorf("remarshal config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	if p := os.Getenv("DB_PATH"); p != "" {
		cfg.DBPath = p
	}
	if p := os.Getenv("DASHBOARD_PORT"); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			cfg.DashboardPort = port
		}
	}

	cfg.sanitize()
	return cfg, nil
}

// deepMerge merges override into base recursively. Nil values in the override
// do not replace existing values.
func deepMerge(base, override map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if sub, ok := v.(map[string]interface{}); ok {
			if existing, ok := out[k].(map[string]interface{}); ok {
				out[k] = deepMerge(existing, sub)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// sanitizeNumerics coerces string and float values for integer keys so a YAML
// document carrying "5" or 5.0 still decodes. Values that cannot be coerced
// are dropped so the default survives.
func sanitizeNumerics(doc map[string]interface{}) {
	intKeys := map[string][]string{
		"network":    {"max_reconnect_attempts", "reconnect_delay_seconds"},
		"trading":    {"min_trust_line_amount", "max_trust_line_amount"},
		"monitoring": {"min_trust_lines", "save_interval_minutes"},
		"analytics":  {"price_check_interval_minutes", "max_token_age_hours"},
	}
	for section, keys := range intKeys {
		sub, ok := doc[section].(map[string]interface{})
		if !ok {
			continue
		}
		for _, key := range keys {
			v, ok := sub[key]
			if !ok {
				continue
			}
			switch t := v.(type) {
			case int:
				_ = t
			case float64:
				sub[key] = int(t)
			case string:
				f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
				if err != nil {
					delete(sub, key)
					continue
				}
				sub[key] = int(f)
			default:
				delete(sub, key)
			}
		}
	}
}

func (c *Config) sanitize() {
	def := defaults()

	if !isValidWebsocketURL(c.Network.WebsocketURL) {
		c.Network.WebsocketURL = def.Network.WebsocketURL
	}
	if c.Network.MaxReconnectAttempts < 1 {
		c.Network.MaxReconnectAttempts = def.Network.MaxReconnectAttempts
	}
	if c.Network.ReconnectDelaySecs < 1 {
		c.Network.ReconnectDelaySecs = def.Network.ReconnectDelaySecs
	}

	if c.Trading.MinTrustLineAmount <= 0 {
		c.Trading.MinTrustLineAmount = def.Trading.MinTrustLineAmount
	}
	if c.Trading.MaxTrustLineAmount <= 0 {
		c.Trading.MaxTrustLineAmount = def.Trading.MaxTrustLineAmount
	}
	// max < min means both values are suspect.
	if c.Trading.MaxTrustLineAmount < c.Trading.MinTrustLineAmount {
		c.Trading.MinTrustLineAmount = def.Trading.MinTrustLineAmount
		c.Trading.MaxTrustLineAmount = def.Trading.MaxTrustLineAmount
	}
	if v, err := strconv.ParseFloat(c.Trading.InitialPurchaseAmount, 64); err != nil || v <= 0 {
		c.Trading.InitialPurchaseAmount = def.Trading.InitialPurchaseAmount
	}

	if c.Monitoring.MinTrustLines < 1 {
		c.Monitoring.MinTrustLines = def.Monitoring.MinTrustLines
	}
	if c.Monitoring.SaveIntervalMinutes < 1 {
		c.Monitoring.SaveIntervalMinutes = def.Monitoring.SaveIntervalMinutes
	}
	if c.Monitoring.DataFile == "" {
		c.Monitoring.DataFile = def.Monitoring.DataFile
	}
	if c.Analytics.PriceCheckIntervalMinutes < 1 {
		c.Analytics.PriceCheckIntervalMinutes = def.Analytics.PriceCheckIntervalMinutes
	}
	if c.Analytics.MaxTokenAgeHours < 1 {
		c.Analytics.MaxTokenAgeHours = def.Analytics.MaxTokenAgeHours
	}
	if c.Analytics.AlphaFile == "" {
		c.Analytics.AlphaFile = def.Analytics.AlphaFile
	}
	if c.DashboardPort <= 0 {
		c.DashboardPort = def.DashboardPort
	}
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
}

func isValidWebsocketURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return false
	}
	for _, suffix := range allowedEndpoints {
		if strings.Contains(u.Host, suffix) {
			return true
		}
	}
	return false
}

// Validate checks the values the system refuses to start without. The seed is
// only checked for shape here; address derivation happens in pkg/xrpl.
func (c *Config) Validate() error {
	if c.Wallets.TargetWallet == "" {
		return fmt.Errorf("missing wallets.target_wallet in config")
	}
	if !strings.HasPrefix(c.Wallets.TargetWallet, "r") {
		return fmt.Errorf("wallets.target_wallet must be a classic address starting with 'r'")
	}
	if c.Wallets.FollowerSeed == "" {
		return fmt.Errorf("missing wallets.follower_seed in config")
	}
	if c.Network.WebsocketURL == "" {
		return fmt.Errorf("missing network.websocket_url in config")
	}
	return nil
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Network.ReconnectDelaySecs) * time.Second
}

func (c *Config) SaveInterval() time.Duration {
	return time.Duration(c.Monitoring.SaveIntervalMinutes) * time.Minute
}

func (c *Config) PriceCheckInterval() time.Duration {
	return time.Duration(c.Analytics.PriceCheckIntervalMinutes) * time.Minute
}
