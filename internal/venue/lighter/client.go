// Package lighter implements the zk-Lighter perp gateway: REST for market
// data and positions, signed transactions for orders, a websocket fetch for
// the account balance.
package lighter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/hedgebot/internal/config"
	"github.com/web3guy0/hedgebot/internal/venue"
)

// Lighter transaction types.
const (
	txTypeCreateOrder = 14
)

// Order type and time-in-force codes.
const (
	orderTypeLimit  = 0
	tifGoodTillTime = 1
)

type market struct {
	Index         int
	PriceDecimals int
	SizeDecimals  int
}

// Client talks to Lighter. Market metadata is cached after the first
// orderBooks fetch.
type Client struct {
	baseURL string
	wsURL   string
	signer  *Signer
	http    *http.Client

	accountIndex int
	apiKeyIndex  int

	clientOrderIndex atomic.Int64

	mu      sync.Mutex
	markets map[string]market
}

// New builds a Lighter client. signer may be nil for read-only use
// (inspection); trading calls then fail at first use.
func New(env config.Env) (*Client, error) {
	var signer *Signer
	if env.LighterPrivateKey != "" {
		s, err := NewSigner(env.LighterPrivateKey, env.AccountIndex, env.APIKeyIndex)
		if err != nil {
			return nil, err
		}
		signer = s
	}
	c := &Client{
		baseURL:      env.LighterBaseURL,
		wsURL:        env.LighterWSURL,
		signer:       signer,
		http:         &http.Client{Timeout: 15 * time.Second},
		accountIndex: env.AccountIndex,
		apiKeyIndex:  env.APIKeyIndex,
		markets:      make(map[string]market),
	}
	c.clientOrderIndex.Store(time.Now().UnixMilli())
	return c, nil
}

func (c *Client) Name() string { return venue.Lighter }

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("lighter %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("lighter %s: read body: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &venue.APIError{Venue: venue.Lighter, Status: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("lighter %s: decode: %w", req.URL.Path, err)
	}
	return nil
}

// market resolves base ("BTC") to its Lighter market metadata, loading the
// full order-book list once.
func (c *Client) market(ctx context.Context, base string) (market, error) {
	c.mu.Lock()
	if m, ok := c.markets[base]; ok {
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	var out struct {
		OrderBooks []struct {
			Symbol                 string `json:"symbol"`
			MarketID               int    `json:"market_id"`
			SupportedPriceDecimals int    `json:"supported_price_decimals"`
			SupportedSizeDecimals  int    `json:"supported_size_decimals"`
		} `json:"order_books"`
	}
	if err := c.get(ctx, "/api/v1/orderBooks", nil, &out); err != nil {
		return market{}, err
	}

	c.mu.Lock()
	for _, ob := range out.OrderBooks {
		c.markets[ob.Symbol] = market{
			Index:         ob.MarketID,
			PriceDecimals: ob.SupportedPriceDecimals,
			SizeDecimals:  ob.SupportedSizeDecimals,
		}
	}
	m, ok := c.markets[base]
	c.mu.Unlock()

	if !ok {
		return market{}, fmt.Errorf("lighter: unknown market %s", base)
	}
	return m, nil
}

func tickFromDecimals(decimals int) decimal.Decimal {
	return decimal.New(1, int32(-decimals))
}

func (c *Client) MarketDescriptor(ctx context.Context, base string) (venue.MarketDescriptor, error) {
	m, err := c.market(ctx, base)
	if err != nil {
		return venue.MarketDescriptor{}, err
	}
	return venue.MarketDescriptor{
		MarketID:   strconv.Itoa(m.Index),
		PriceTick:  tickFromDecimals(m.PriceDecimals),
		AmountTick: tickFromDecimals(m.SizeDecimals),
	}, nil
}

func (c *Client) BestBidAsk(ctx context.Context, base string) (venue.Quote, error) {
	m, err := c.market(ctx, base)
	if err != nil {
		return venue.Quote{}, err
	}
	var out struct {
		OrderBookDetails []struct {
			MarketID int    `json:"market_id"`
			BestBid  string `json:"best_bid"`
			BestAsk  string `json:"best_ask"`
		} `json:"order_book_details"`
	}
	params := url.Values{"market_id": {strconv.Itoa(m.Index)}}
	if err := c.get(ctx, "/api/v1/orderBookDetails", params, &out); err != nil {
		return venue.Quote{}, err
	}
	for _, d := range out.OrderBookDetails {
		if d.MarketID != m.Index {
			continue
		}
		bid, _ := decimal.NewFromString(d.BestBid)
		ask, _ := decimal.NewFromString(d.BestAsk)
		return venue.Quote{Bid: bid, Ask: ask}, nil
	}
	return venue.Quote{}, fmt.Errorf("lighter: no order book details for %s", base)
}

func (c *Client) FundingRate(ctx context.Context, base string) (float64, error) {
	m, err := c.market(ctx, base)
	if err != nil {
		return 0, err
	}
	var out struct {
		FundingRates []struct {
			MarketID int    `json:"market_id"`
			Exchange string `json:"exchange"`
			Rate     string `json:"rate"`
		} `json:"funding_rates"`
	}
	if err := c.get(ctx, "/api/v1/funding-rates", nil, &out); err != nil {
		return 0, err
	}
	for _, fr := range out.FundingRates {
		if fr.MarketID != m.Index || (fr.Exchange != "" && fr.Exchange != "lighter") {
			continue
		}
		rate, err := strconv.ParseFloat(fr.Rate, 64)
		if err != nil {
			return 0, fmt.Errorf("lighter: bad funding rate %q: %w", fr.Rate, err)
		}
		return rate, nil
	}
	return 0, fmt.Errorf("lighter: no funding rate for %s", base)
}

// toUnits scales a decimal value to the market's integer representation.
func toUnits(v decimal.Decimal, decimals int) int64 {
	return v.Shift(int32(decimals)).IntPart()
}

func (c *Client) nextNonce(ctx context.Context) (int64, error) {
	var out struct {
		Nonce int64 `json:"nonce"`
	}
	params := url.Values{
		"account_index": {strconv.Itoa(c.accountIndex)},
		"api_key_index": {strconv.Itoa(c.apiKeyIndex)},
	}
	if err := c.get(ctx, "/api/v1/nextNonce", params, &out); err != nil {
		return 0, err
	}
	return out.Nonce, nil
}

// PlaceOrder submits a signed aggressive limit order crossed crossTicks
// through refPrice.
func (c *Client) PlaceOrder(ctx context.Context, base string, side venue.Side, size, refPrice decimal.Decimal, crossTicks int) (venue.OrderResult, error) {
	m, err := c.market(ctx, base)
	if err != nil {
		return venue.OrderResult{}, err
	}
	price := venue.CrossPrice(refPrice, tickFromDecimals(m.PriceDecimals), side, crossTicks)
	return c.submit(ctx, m, side, size, price, false)
}

// ClosePosition submits a signed reduce-only order against the live book.
func (c *Client) ClosePosition(ctx context.Context, base string, size decimal.Decimal, side venue.Side) (venue.OrderResult, error) {
	q, err := c.BestBidAsk(ctx, base)
	if err != nil {
		return venue.OrderResult{}, err
	}
	ref, ok := q.Mid()
	if !ok {
		return venue.OrderResult{}, venue.ErrNoPrices
	}
	m, err := c.market(ctx, base)
	if err != nil {
		return venue.OrderResult{}, err
	}
	price := venue.CrossPrice(ref, tickFromDecimals(m.PriceDecimals), side, 100)
	return c.submit(ctx, m, side, size, price, true)
}

func (c *Client) submit(ctx context.Context, m market, side venue.Side, size, price decimal.Decimal, reduceOnly bool) (venue.OrderResult, error) {
	if c.signer == nil {
		return venue.OrderResult{}, fmt.Errorf("lighter: no signer configured")
	}
	nonce, err := c.nextNonce(ctx)
	if err != nil {
		return venue.OrderResult{}, err
	}

	coi := c.clientOrderIndex.Add(1)
	isAsk := 0
	if side == venue.Sell {
		isAsk = 1
	}
	reduce := 0
	if reduceOnly {
		reduce = 1
	}
	baseUnits := toUnits(size, m.SizeDecimals)
	priceUnits := toUnits(price, m.PriceDecimals)

	payload := canonicalTxPayload(
		strconv.Itoa(txTypeCreateOrder),
		strconv.Itoa(c.accountIndex),
		strconv.Itoa(c.apiKeyIndex),
		strconv.FormatInt(nonce, 10),
		strconv.Itoa(m.Index),
		strconv.FormatInt(coi, 10),
		strconv.FormatInt(baseUnits, 10),
		strconv.FormatInt(priceUnits, 10),
		strconv.Itoa(isAsk),
		strconv.Itoa(orderTypeLimit),
		strconv.Itoa(tifGoodTillTime),
		strconv.Itoa(reduce),
	)
	sig, err := c.signer.Sign(payload)
	if err != nil {
		return venue.OrderResult{}, err
	}

	txInfo, err := json.Marshal(map[string]any{
		"account_index":      c.accountIndex,
		"api_key_index":      c.apiKeyIndex,
		"nonce":              nonce,
		"market_index":       m.Index,
		"client_order_index": coi,
		"base_amount":        baseUnits,
		"price":              priceUnits,
		"is_ask":             isAsk,
		"type":               orderTypeLimit,
		"time_in_force":      tifGoodTillTime,
		"reduce_only":        reduce,
		"trigger_price":      0,
		"sig":                sig,
	})
	if err != nil {
		return venue.OrderResult{}, err
	}

	form := url.Values{
		"tx_type": {strconv.Itoa(txTypeCreateOrder)},
		"tx_info": {string(txInfo)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/sendTx",
		nil)
	if err != nil {
		return venue.OrderResult{}, err
	}
	req.URL.RawQuery = form.Encode()

	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := c.do(req, &out); err != nil {
		return venue.OrderResult{}, err
	}

	log.Debug().Int("market", m.Index).Str("side", string(side)).
		Str("size", size.String()).Str("price", price.String()).
		Str("tx_hash", out.TxHash).Msg("Lighter order placed")
	return venue.OrderResult{
		OrderID: out.TxHash,
		Side:    side,
		Size:    size,
		Price:   price,
	}, nil
}

type accountPosition struct {
	MarketID      int    `json:"market_id"`
	Symbol        string `json:"symbol"`
	Sign          int    `json:"sign"` // 1 long, -1 short
	Position      string `json:"position"`
	AvgEntryPrice string `json:"avg_entry_price"`
	UnrealizedPnL string `json:"unrealized_pnl"`
}

func (c *Client) accountPositions(ctx context.Context) ([]accountPosition, error) {
	var out struct {
		Accounts []struct {
			Positions []accountPosition `json:"positions"`
		} `json:"accounts"`
	}
	params := url.Values{
		"by":    {"index"},
		"value": {strconv.Itoa(c.accountIndex)},
	}
	if err := c.get(ctx, "/api/v1/account", params, &out); err != nil {
		return nil, err
	}
	if len(out.Accounts) == 0 {
		return nil, nil
	}
	return out.Accounts[0].Positions, nil
}

func (c *Client) OpenSize(ctx context.Context, base string) (decimal.Decimal, error) {
	positions, err := c.accountPositions(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, p := range positions {
		if p.Symbol != base {
			continue
		}
		size, err := decimal.NewFromString(p.Position)
		if err != nil {
			return decimal.Zero, fmt.Errorf("lighter: bad position size %q: %w", p.Position, err)
		}
		if p.Sign < 0 {
			size = size.Neg()
		}
		return size, nil
	}
	return decimal.Zero, nil
}

func (c *Client) PositionDetails(ctx context.Context, base string) (*venue.PositionDetails, error) {
	positions, err := c.accountPositions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.Symbol != base {
			continue
		}
		det := c.toDetails(p)
		if det.Size.IsZero() {
			return nil, nil
		}
		return &det, nil
	}
	return nil, nil
}

func (c *Client) AllPositions(ctx context.Context) ([]venue.PositionDetails, error) {
	positions, err := c.accountPositions(ctx)
	if err != nil {
		return nil, err
	}
	var out []venue.PositionDetails
	for _, p := range positions {
		det := c.toDetails(p)
		if det.Size.IsZero() {
			continue
		}
		out = append(out, det)
	}
	return out, nil
}

func (c *Client) toDetails(p accountPosition) venue.PositionDetails {
	size, _ := decimal.NewFromString(p.Position)
	entry, _ := decimal.NewFromString(p.AvgEntryPrice)
	pnl, _ := decimal.NewFromString(p.UnrealizedPnL)

	side := "LONG"
	if p.Sign < 0 {
		side = "SHORT"
		size = size.Neg()
	}
	return venue.PositionDetails{
		Symbol:        p.Symbol,
		Side:          side,
		Size:          size,
		EntryPrice:    entry,
		UnrealizedPnL: pnl,
		MarginMode:    "cross",
	}
}

// SetLeverage is accepted but not forwarded: Lighter manages leverage
// account-side and rejects per-order leverage changes.
func (c *Client) SetLeverage(ctx context.Context, base string, leverage int, marginMode string) error {
	log.Debug().Str("symbol", base).Int("leverage", leverage).
		Msg("Lighter leverage is account-managed, skipping")
	return nil
}

func (c *Client) Close() error { return nil }
