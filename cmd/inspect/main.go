// Command inspect prints a read-only snapshot of both venues: open
// positions, unrealized PnL and account balances. It never places or cancels
// anything.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/hedgebot/internal/config"
	"github.com/web3guy0/hedgebot/internal/governor"
	"github.com/web3guy0/hedgebot/internal/scanner"
	"github.com/web3guy0/hedgebot/internal/venue"
	"github.com/web3guy0/hedgebot/internal/venue/aster"
	"github.com/web3guy0/hedgebot/internal/venue/lighter"
)

func main() {
	symbol := flag.String("symbol", "", "limit output to one base symbol, e.g. BTC")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env")
	}
	env := config.LoadEnv()

	asterClient := aster.New(env, "USDT")
	lighterClient, err := lighter.New(env)
	if err != nil {
		log.Fatal().Err(err).Msg("Lighter client init failed")
	}

	asterGw := governor.Wrap(asterClient, governor.New(asterClient.Name(), governor.DefaultConfig()))
	lighterGw := governor.Wrap(lighterClient, governor.New(lighterClient.Name(), governor.DefaultConfig()))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Println("                 VENUE INSPECTION (read-only)")
	fmt.Println("═══════════════════════════════════════════════════════")

	for _, gw := range []venue.Gateway{asterGw, lighterGw} {
		printVenue(ctx, gw, *symbol)
	}
}

func printVenue(ctx context.Context, gw venue.Gateway, symbol string) {
	fmt.Printf("\n── %s ──\n", gw.Name())

	if bal, err := gw.AccountBalance(ctx); err != nil {
		fmt.Printf("  balance: unavailable (%v)\n", err)
	} else {
		fmt.Printf("  balance: total %s, available %s\n",
			bal.Total.StringFixed(2), bal.Available.StringFixed(2))
	}

	positions, err := gw.AllPositions(ctx)
	if err != nil {
		fmt.Printf("  positions: unavailable (%v)\n", err)
		return
	}
	if len(positions) == 0 {
		fmt.Println("  positions: none")
		return
	}

	for _, p := range positions {
		if symbol != "" && p.Symbol != symbol && p.Symbol != symbol+"USDT" {
			continue
		}
		fmt.Printf("  %-10s %-5s size %-14s entry %-12s uPnL %s\n",
			p.Symbol, p.Side, p.Size.Abs().String(),
			scanner.FormatPrice(p.EntryPrice), p.UnrealizedPnL.StringFixed(4))
	}
}
