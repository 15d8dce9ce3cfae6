package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/hedgebot/internal/bot"
	"github.com/web3guy0/hedgebot/internal/config"
	"github.com/web3guy0/hedgebot/internal/governor"
	"github.com/web3guy0/hedgebot/internal/notify"
	"github.com/web3guy0/hedgebot/internal/state"
	"github.com/web3guy0/hedgebot/internal/storage"
	"github.com/web3guy0/hedgebot/internal/venue/aster"
	"github.com/web3guy0/hedgebot/internal/venue/lighter"
)

func main() {
	stateFile := flag.String("state-file", "bot_state.json", "path to the persisted state file")
	configFile := flag.String("config", "config.json", "path to the trading config")
	logFile := flag.String("log-file", "logs/hedgebot.log", "path to the JSON log file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	setupLogging(*logFile, *debug)

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment")
	}

	cfg := config.LoadBotConfig(*configFile)
	env := config.LoadEnv()

	log.Info().
		Strs("symbols", cfg.SymbolsToMonitor).
		Int("leverage", cfg.Leverage).
		Float64("notional", cfg.NotionalPerPosition).
		Float64("hold_hours", cfg.HoldDurationHours).
		Float64("min_net_apr", cfg.MinNetAPRThreshold).
		Msg("🚀 Starting funding rotation engine")

	asterClient := aster.New(env, cfg.Quote)
	lighterClient, err := lighter.New(env)
	if err != nil {
		log.Fatal().Err(err).Msg("Lighter client init failed")
	}

	asterGw := governor.Wrap(asterClient, governor.New(asterClient.Name(), governor.DefaultConfig()))
	lighterGw := governor.Wrap(lighterClient, governor.New(lighterClient.Name(), governor.DefaultConfig()))

	states := state.NewManager(*stateFile)
	states.Load()

	history, err := storage.New(env.HistoryDB)
	if err != nil {
		log.Warn().Err(err).Msg("History database unavailable, continuing without it")
		history = nil
	}
	defer history.Close()

	alerts, err := notify.New(env.TelegramBotToken, env.TelegramChatID)
	if err != nil {
		log.Warn().Err(err).Msg("Telegram init failed, continuing without alerts")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	supervisor := bot.New(cfg, asterGw, lighterGw, states, history, alerts)
	if err := supervisor.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Engine stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("👋 Engine stopped")
}

// setupLogging sends pretty console output to stderr and full JSON to the log
// file when the directory is writable.
func setupLogging(logFile string, debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}

	writers := []io.Writer{console}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err == nil {
			if f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
				writers = append(writers, f)
			} else {
				fmt.Fprintf(os.Stderr, "cannot open log file %s: %v\n", logFile, err)
			}
		}
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}
