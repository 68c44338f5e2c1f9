package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/roundclient/go/clients/trading_api_client"
	"github.com/mcdev12/roundclient/go/internal/settlement"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	UserID   int64  `yaml:"user_id"`
	LogLevel string `yaml:"log_level"`

	API struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"api"`

	Trading struct {
		DefaultAmount float64 `yaml:"default_amount"`
		DurationSec   int     `yaml:"duration_sec"`
		AlignToMinute bool    `yaml:"align_to_minute"`
		PayoutRate    float64 `yaml:"payout_rate"`
		FallbackPrice float64 `yaml:"fallback_price"`
	} `yaml:"trading"`

	Intervals struct {
		ServerTimePoll time.Duration `yaml:"server_time_poll"`
		Reconcile      time.Duration `yaml:"reconcile"`
		Tick           time.Duration `yaml:"tick"`
		PricePoll      time.Duration `yaml:"price_poll"`
	} `yaml:"intervals"`

	Settlement struct {
		Strategy       string        `yaml:"strategy"`
		DefaultWinRate int           `yaml:"default_win_rate"`
		PushTimeout    time.Duration `yaml:"push_timeout"`
	} `yaml:"settlement"`

	Push struct {
		Transport    string `yaml:"transport"`
		WebSocketURL string `yaml:"websocket_url"`
		NATSURL      string `yaml:"nats_url"`
		Stream       string `yaml:"stream"`
		Consumer     string `yaml:"consumer"`
		Subject      string `yaml:"subject"`
	} `yaml:"push"`

	Status struct {
		Addr string `yaml:"addr"`
	} `yaml:"status"`
}

const (
	pushTransportWebSocket = "websocket"
	pushTransportNATS      = "nats"
	pushTransportNone      = "none"
)

func defaultConfig() *Config {
	var cfg Config
	cfg.UserID = 1
	cfg.LogLevel = "info"
	cfg.API.BaseURL = trading_api_client.DefaultBaseURL
	cfg.API.Timeout = 10 * time.Second
	cfg.Trading.DefaultAmount = 5
	cfg.Trading.DurationSec = 60
	cfg.Trading.AlignToMinute = true
	cfg.Trading.PayoutRate = 0.85
	cfg.Trading.FallbackPrice = 100
	cfg.Intervals.ServerTimePoll = time.Second
	cfg.Intervals.Reconcile = 2 * time.Second
	cfg.Intervals.Tick = time.Second
	cfg.Intervals.PricePoll = 2 * time.Second
	cfg.Settlement.Strategy = string(settlement.StrategyClient)
	cfg.Settlement.DefaultWinRate = settlement.DefaultWinRate
	cfg.Settlement.PushTimeout = settlement.DefaultPushTimeout
	cfg.Push.Transport = pushTransportWebSocket
	cfg.Push.WebSocketURL = "ws://127.0.0.1:5500/ws"
	cfg.Push.NATSURL = "nats://localhost:4222"
	cfg.Push.Stream = "ROUND_EVENTS"
	cfg.Push.Consumer = "round-client"
	cfg.Push.Subject = "rounds.events.>"
	return &cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads path over the defaults and then applies environment
// overrides. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.applyEnv()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	c.UserID = int64(getEnvAsInt("ROUND_USER_ID", int(c.UserID)))
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.API.BaseURL = getEnv("ROUND_API_URL", c.API.BaseURL)
	c.Settlement.Strategy = getEnv("ROUND_SETTLEMENT_STRATEGY", c.Settlement.Strategy)
	c.Push.Transport = getEnv("ROUND_PUSH_TRANSPORT", c.Push.Transport)
	c.Push.WebSocketURL = getEnv("ROUND_WS_URL", c.Push.WebSocketURL)
	c.Push.NATSURL = getEnv("NATS_URL", c.Push.NATSURL)
	c.Status.Addr = getEnv("ROUND_STATUS_ADDR", c.Status.Addr)
}

func (c *Config) validate() error {
	if c.UserID <= 0 {
		return fmt.Errorf("user_id must be positive, got %d", c.UserID)
	}
	if _, err := settlement.ParseStrategy(c.Settlement.Strategy); err != nil {
		return err
	}
	switch c.Push.Transport {
	case pushTransportWebSocket, pushTransportNATS, pushTransportNone:
	default:
		return fmt.Errorf("unknown push transport %q", c.Push.Transport)
	}
	if c.strategy() == settlement.StrategyPush && c.Push.Transport == pushTransportNone {
		return fmt.Errorf("settlement strategy %q needs a push transport", settlement.StrategyPush)
	}
	if c.Trading.DefaultAmount <= 0 {
		return fmt.Errorf("trading.default_amount must be positive")
	}
	if c.Trading.DurationSec <= 0 {
		return fmt.Errorf("trading.duration_sec must be positive")
	}
	if c.Settlement.DefaultWinRate < 0 || c.Settlement.DefaultWinRate > 100 {
		return fmt.Errorf("settlement.default_win_rate must be between 0 and 100")
	}
	return nil
}

func (c *Config) strategy() settlement.Strategy {
	s, _ := settlement.ParseStrategy(c.Settlement.Strategy)
	return s
}

func (c *Config) defaultAmount() decimal.Decimal {
	return decimal.NewFromFloat(c.Trading.DefaultAmount)
}

func (c *Config) payoutRate() decimal.Decimal {
	if c.Trading.PayoutRate <= 0 {
		return settlement.DefaultPayoutRate
	}
	return decimal.NewFromFloat(c.Trading.PayoutRate)
}
