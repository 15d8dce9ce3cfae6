// Package config loads the trading configuration (config.json) and the venue
// credentials (.env / environment).
package config

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// DefaultSymbols is the built-in scan universe.
var DefaultSymbols = []string{"BTC", "ETH", "SOL", "BNB", "ASTER", "DOGE", "XRP", "LINK", "LTC"}

// BotConfig holds every tunable of the rotation engine. Field tags match the
// config.json and state-file contract.
type BotConfig struct {
	SymbolsToMonitor           []string `json:"symbols_to_monitor"`
	Quote                      string   `json:"quote"`
	Leverage                   int      `json:"leverage"`
	NotionalPerPosition        float64  `json:"notional_per_position"`
	HoldDurationHours          float64  `json:"hold_duration_hours"`
	WaitBetweenCyclesMinutes   float64  `json:"wait_between_cycles_minutes"`
	CheckIntervalSeconds       int      `json:"check_interval_seconds"`
	MinNetAPRThreshold         float64  `json:"min_net_apr_threshold"`
	MaxSpreadPct               float64  `json:"max_spread_pct"`
	EnableStopLoss             bool     `json:"enable_stop_loss"`
	EnablePnLTracking          bool     `json:"enable_pnl_tracking"`
	EnableHealthMonitoring     bool     `json:"enable_health_monitoring"`
	FundingTableRefreshMinutes float64  `json:"funding_table_refresh_minutes"`
}

// Default returns a BotConfig with every knob at its documented default.
func Default() BotConfig {
	return BotConfig{
		SymbolsToMonitor:           DefaultSymbols,
		Quote:                      "USDT",
		Leverage:                   3,
		NotionalPerPosition:        100.0,
		HoldDurationHours:          8.0,
		WaitBetweenCyclesMinutes:   5.0,
		CheckIntervalSeconds:       60,
		MinNetAPRThreshold:         5.0,
		MaxSpreadPct:               0.15,
		EnableStopLoss:             true,
		EnablePnLTracking:          true,
		EnableHealthMonitoring:     true,
		FundingTableRefreshMinutes: 5.0,
	}
}

// LoadBotConfig reads path into a BotConfig. A missing file or bad JSON falls
// back to defaults with a warning; missing keys keep their defaults. Keys
// prefixed "comment" are unknown to the struct and silently ignored.
func LoadBotConfig(path string) BotConfig {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Str("path", path).Msg("Config file not found, using defaults")
		return cfg
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Error loading config, using defaults")
		return Default()
	}
	if len(cfg.SymbolsToMonitor) == 0 {
		cfg.SymbolsToMonitor = DefaultSymbols
	}
	return cfg
}

// Env carries the credentials and endpoints for both venues.
type Env struct {
	// Aster
	AsterAPIUser       string
	AsterAPISigner     string
	AsterAPIPrivateKey string
	AsterV1Public      string
	AsterV1Private     string

	// Lighter
	LighterBaseURL    string
	LighterWSURL      string
	LighterPrivateKey string
	AccountIndex      int
	APIKeyIndex       int

	// Optional integrations
	TelegramBotToken string
	TelegramChatID   int64
	HistoryDB        string

	MarginMode string
}

// LoadEnv reads credentials from the environment. Missing credentials are a
// warning, not an error: operations that need them fail at first use.
func LoadEnv() Env {
	env := Env{
		AsterAPIUser:       os.Getenv("ASTER_API_USER"),
		AsterAPISigner:     os.Getenv("ASTER_API_SIGNER"),
		AsterAPIPrivateKey: os.Getenv("ASTER_API_PRIVATE_KEY"),
		AsterV1Public:      os.Getenv("ASTER_APIV1_PUBLIC"),
		AsterV1Private:     os.Getenv("ASTER_APIV1_PRIVATE"),

		LighterBaseURL:    getEnv("LIGHTER_BASE_URL", getEnv("BASE_URL", "https://mainnet.zklighter.elliot.ai")),
		LighterWSURL:      getEnv("LIGHTER_WS_URL", getEnv("WEBSOCKET_URL", "wss://mainnet.zklighter.elliot.ai/stream")),
		LighterPrivateKey: firstNonEmpty(os.Getenv("API_KEY_PRIVATE_KEY"), os.Getenv("LIGHTER_PRIVATE_KEY")),
		AccountIndex:      getEnvInt("ACCOUNT_INDEX", getEnvInt("LIGHTER_ACCOUNT_INDEX", 0)),
		APIKeyIndex:       getEnvInt("API_KEY_INDEX", getEnvInt("LIGHTER_API_KEY_INDEX", 0)),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),
		HistoryDB:        getEnv("HISTORY_DB", "./data/hedgebot.db"),

		MarginMode: "cross",
	}

	var missing []string
	for name, v := range map[string]string{
		"ASTER_API_USER":        env.AsterAPIUser,
		"ASTER_API_SIGNER":      env.AsterAPISigner,
		"ASTER_API_PRIVATE_KEY": env.AsterAPIPrivateKey,
		"ASTER_APIV1_PUBLIC":    env.AsterV1Public,
		"ASTER_APIV1_PRIVATE":   env.AsterV1Private,
		"API_KEY_PRIVATE_KEY":   env.LighterPrivateKey,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		log.Warn().Strs("vars", missing).Msg("⚠️ Missing env vars, trading may fail")
	}

	return env
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
