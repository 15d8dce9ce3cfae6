// Command emergency flattens matched delta-neutral pairs across both venues.
// It lists every matched pair with live PnL, asks for confirmation, then
// closes both legs and verifies they are gone. Run it when the engine died
// mid-position or after a partial fill.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/hedgebot/internal/config"
	"github.com/web3guy0/hedgebot/internal/governor"
	"github.com/web3guy0/hedgebot/internal/venue"
	"github.com/web3guy0/hedgebot/internal/venue/aster"
	"github.com/web3guy0/hedgebot/internal/venue/lighter"
)

const settleDelay = 2 * time.Second

type pair struct {
	base    string
	aster   venue.PositionDetails
	lighter venue.PositionDetails
}

func main() {
	yes := flag.Bool("yes", false, "skip the confirmation prompt")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment")
	}
	env := config.LoadEnv()

	asterClient := aster.New(env, "USDT")
	lighterClient, err := lighter.New(env)
	if err != nil {
		log.Fatal().Err(err).Msg("Lighter client init failed")
	}
	asterGw := governor.Wrap(asterClient, governor.New(asterClient.Name(), governor.DefaultConfig()))
	lighterGw := governor.Wrap(lighterClient, governor.New(lighterClient.Name(), governor.DefaultConfig()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pairs, err := matchedPairs(ctx, asterGw, lighterGw)
	if err != nil {
		log.Fatal().Err(err).Msg("Position fetch failed")
	}
	if len(pairs) == 0 {
		fmt.Println("No matched delta-neutral pairs found. Nothing to close.")
		return
	}

	fmt.Println("\n🚨 EMERGENCY CLOSE — matched pairs:")
	total := decimal.Zero
	for _, p := range pairs {
		combined := p.aster.UnrealizedPnL.Add(p.lighter.UnrealizedPnL)
		total = total.Add(combined)
		fmt.Printf("  %-8s Aster %-5s %-14s / Lighter %-5s %-14s  combined uPnL %s\n",
			p.base,
			p.aster.Side, p.aster.Size.Abs().String(),
			p.lighter.Side, p.lighter.Size.Abs().String(),
			combined.StringFixed(4))
	}
	fmt.Printf("\nTotal combined uPnL: %s\n", total.StringFixed(4))

	if !*yes {
		fmt.Print("\nPress ENTER to close ALL pairs above, Ctrl+C to abort: ")
		if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err != nil {
			fmt.Println("\nAborted.")
			return
		}
	}

	failed := 0
	for _, p := range pairs {
		if err := closePair(ctx, asterGw, lighterGw, p); err != nil {
			log.Error().Err(err).Str("symbol", p.base).Msg("Pair close failed")
			failed++
		}
	}
	if failed > 0 {
		fmt.Printf("\n⚠️ %d pair(s) failed to close, inspect the venues manually.\n", failed)
		os.Exit(1)
	}
	fmt.Println("\n✅ All pairs closed.")
}

// matchedPairs joins positions across venues: a Lighter base matches an Aster
// symbol of base+USDT, and the sides must be opposite.
func matchedPairs(ctx context.Context, asterGw, lighterGw venue.Gateway) ([]pair, error) {
	asterPositions, err := asterGw.AllPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("aster positions: %w", err)
	}
	lighterPositions, err := lighterGw.AllPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("lighter positions: %w", err)
	}

	byAsterSymbol := make(map[string]venue.PositionDetails)
	for _, p := range asterPositions {
		byAsterSymbol[p.Symbol] = p
	}

	var pairs []pair
	for _, lp := range lighterPositions {
		ap, ok := byAsterSymbol[lp.Symbol+"USDT"]
		if !ok {
			log.Warn().Str("symbol", lp.Symbol).Msg("Lighter leg with no Aster counterpart, skipping")
			continue
		}
		if ap.Size.Sign()*lp.Size.Sign() >= 0 {
			log.Warn().Str("symbol", lp.Symbol).Msg("Legs are not opposite-signed, skipping")
			continue
		}
		pairs = append(pairs, pair{base: lp.Symbol, aster: ap, lighter: lp})
	}
	return pairs, nil
}

func closePair(ctx context.Context, asterGw, lighterGw venue.Gateway, p pair) error {
	fmt.Printf("Closing %s...\n", p.base)

	for _, leg := range []struct {
		gw   venue.Gateway
		size decimal.Decimal
	}{
		{asterGw, p.aster.Size},
		{lighterGw, p.lighter.Size},
	} {
		side := venue.Sell
		if leg.size.Sign() < 0 {
			side = venue.Buy
		}
		if _, err := leg.gw.ClosePosition(ctx, p.base, leg.size.Abs(), side); err != nil {
			return fmt.Errorf("close on %s: %w", leg.gw.Name(), err)
		}
	}

	time.Sleep(settleDelay)

	var open []string
	for _, gw := range []venue.Gateway{asterGw, lighterGw} {
		size, err := gw.OpenSize(ctx, p.base)
		if err != nil {
			return fmt.Errorf("verify on %s: %w", gw.Name(), err)
		}
		if !size.IsZero() {
			open = append(open, gw.Name())
		}
	}
	if len(open) > 0 {
		return fmt.Errorf("still open on %s", strings.Join(open, ", "))
	}
	fmt.Printf("  %s closed on both venues\n", p.base)
	return nil
}
