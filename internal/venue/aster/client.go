// Package aster implements the Aster perp gateway over its Binance-style
// REST API. Requests that touch the account are HMAC-SHA256 signed with the
// v1 API secret.
package aster

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/hedgebot/internal/config"
	"github.com/web3guy0/hedgebot/internal/venue"
)

const (
	defaultBaseURL = "https://fapi.asterdex.com"
	recvWindow     = 5000
)

// Client talks to Aster. Market descriptors are cached after the first
// exchangeInfo fetch; ticks do not change intraday.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	quote     string
	http      *http.Client

	mu      sync.Mutex
	markets map[string]venue.MarketDescriptor
}

// New builds an Aster client from env credentials.
func New(env config.Env, quote string) *Client {
	return &Client{
		baseURL:   defaultBaseURL,
		apiKey:    env.AsterV1Public,
		apiSecret: env.AsterV1Private,
		quote:     quote,
		http:      &http.Client{Timeout: 15 * time.Second},
		markets:   make(map[string]venue.MarketDescriptor),
	}
}

func (c *Client) Name() string { return venue.Aster }

func (c *Client) symbol(base string) string { return venue.FullSymbol(base, c.quote) }

// get performs an unsigned GET and decodes the JSON body into out.
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

// signed performs a signed request. Binance-style signing: the query string
// plus timestamp and recvWindow, HMAC-SHA256 with the API secret appended as
// the signature parameter.
func (c *Client) signed(ctx context.Context, method, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(recvWindow))

	payload := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(payload))
	payload += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	var req *http.Request
	var err error
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+payload, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(payload))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("aster %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("aster %s: read body: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &venue.APIError{Venue: venue.Aster, Status: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("aster %s: decode: %w", req.URL.Path, err)
	}
	return nil
}

// MarketDescriptor returns the tick grid for base, fetching exchangeInfo once
// and caching every symbol it lists.
func (c *Client) MarketDescriptor(ctx context.Context, base string) (venue.MarketDescriptor, error) {
	sym := c.symbol(base)

	c.mu.Lock()
	if d, ok := c.markets[sym]; ok {
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				StepSize   string `json:"stepSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := c.get(ctx, "/fapi/v1/exchangeInfo", nil, &info); err != nil {
		return venue.MarketDescriptor{}, err
	}

	c.mu.Lock()
	for _, s := range info.Symbols {
		d := venue.MarketDescriptor{MarketID: s.Symbol}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				d.PriceTick, _ = decimal.NewFromString(f.TickSize)
			case "LOT_SIZE":
				d.AmountTick, _ = decimal.NewFromString(f.StepSize)
			}
		}
		c.markets[s.Symbol] = d
	}
	d, ok := c.markets[sym]
	c.mu.Unlock()

	if !ok {
		return venue.MarketDescriptor{}, fmt.Errorf("aster: unknown symbol %s", sym)
	}
	return d, nil
}

func (c *Client) BestBidAsk(ctx context.Context, base string) (venue.Quote, error) {
	var out struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	params := url.Values{"symbol": {c.symbol(base)}}
	if err := c.get(ctx, "/fapi/v1/ticker/bookTicker", params, &out); err != nil {
		return venue.Quote{}, err
	}
	bid, _ := decimal.NewFromString(out.BidPrice)
	ask, _ := decimal.NewFromString(out.AskPrice)
	return venue.Quote{Bid: bid, Ask: ask}, nil
}

func (c *Client) FundingRate(ctx context.Context, base string) (float64, error) {
	var out struct {
		LastFundingRate string `json:"lastFundingRate"`
	}
	params := url.Values{"symbol": {c.symbol(base)}}
	if err := c.get(ctx, "/fapi/v1/premiumIndex", params, &out); err != nil {
		return 0, err
	}
	rate, err := strconv.ParseFloat(out.LastFundingRate, 64)
	if err != nil {
		return 0, fmt.Errorf("aster: bad funding rate %q: %w", out.LastFundingRate, err)
	}
	return rate, nil
}

type orderResponse struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
	Price   string `json:"price"`
	OrigQty string `json:"origQty"`
}

// PlaceOrder submits an aggressive GTC limit order crossed crossTicks through
// refPrice.
func (c *Client) PlaceOrder(ctx context.Context, base string, side venue.Side, size, refPrice decimal.Decimal, crossTicks int) (venue.OrderResult, error) {
	d, err := c.MarketDescriptor(ctx, base)
	if err != nil {
		return venue.OrderResult{}, err
	}
	price := venue.CrossPrice(refPrice, d.PriceTick, side, crossTicks)
	return c.submit(ctx, base, side, size, price, false)
}

// ClosePosition submits a reduce-only aggressive order against the current
// book.
func (c *Client) ClosePosition(ctx context.Context, base string, size decimal.Decimal, side venue.Side) (venue.OrderResult, error) {
	q, err := c.BestBidAsk(ctx, base)
	if err != nil {
		return venue.OrderResult{}, err
	}
	ref, ok := q.Mid()
	if !ok {
		return venue.OrderResult{}, venue.ErrNoPrices
	}
	d, err := c.MarketDescriptor(ctx, base)
	if err != nil {
		return venue.OrderResult{}, err
	}
	price := venue.CrossPrice(ref, d.PriceTick, side, 100)
	return c.submit(ctx, base, side, size, price, true)
}

func (c *Client) submit(ctx context.Context, base string, side venue.Side, size, price decimal.Decimal, reduceOnly bool) (venue.OrderResult, error) {
	params := url.Values{
		"symbol":      {c.symbol(base)},
		"side":        {strings.ToUpper(string(side))},
		"type":        {"LIMIT"},
		"timeInForce": {"GTC"},
		"quantity":    {size.String()},
		"price":       {price.String()},
	}
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}

	var out orderResponse
	if err := c.signed(ctx, http.MethodPost, "/fapi/v1/order", params, &out); err != nil {
		return venue.OrderResult{}, err
	}
	log.Debug().Str("symbol", c.symbol(base)).Str("side", string(side)).
		Str("size", size.String()).Str("price", price.String()).
		Int64("order_id", out.OrderID).Msg("Aster order placed")
	return venue.OrderResult{
		OrderID: strconv.FormatInt(out.OrderID, 10),
		Side:    side,
		Size:    size,
		Price:   price,
	}, nil
}

type positionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	MarginType       string `json:"marginType"`
}

func (c *Client) positionRisk(ctx context.Context, sym string) ([]positionRisk, error) {
	params := url.Values{}
	if sym != "" {
		params.Set("symbol", sym)
	}
	var out []positionRisk
	if err := c.signed(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) OpenSize(ctx context.Context, base string) (decimal.Decimal, error) {
	rows, err := c.positionRisk(ctx, c.symbol(base))
	if err != nil {
		return decimal.Zero, err
	}
	for _, r := range rows {
		if r.Symbol == c.symbol(base) {
			amt, err := decimal.NewFromString(r.PositionAmt)
			if err != nil {
				return decimal.Zero, fmt.Errorf("aster: bad position amount %q: %w", r.PositionAmt, err)
			}
			return amt, nil
		}
	}
	return decimal.Zero, nil
}

func (c *Client) PositionDetails(ctx context.Context, base string) (*venue.PositionDetails, error) {
	rows, err := c.positionRisk(ctx, c.symbol(base))
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.Symbol != c.symbol(base) {
			continue
		}
		det := toDetails(r)
		if det.Size.IsZero() {
			return nil, nil
		}
		return &det, nil
	}
	return nil, nil
}

func (c *Client) AllPositions(ctx context.Context) ([]venue.PositionDetails, error) {
	rows, err := c.positionRisk(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []venue.PositionDetails
	for _, r := range rows {
		det := toDetails(r)
		if det.Size.IsZero() {
			continue
		}
		out = append(out, det)
	}
	return out, nil
}

func toDetails(r positionRisk) venue.PositionDetails {
	amt, _ := decimal.NewFromString(r.PositionAmt)
	entry, _ := decimal.NewFromString(r.EntryPrice)
	pnl, _ := decimal.NewFromString(r.UnRealizedProfit)
	lev, _ := strconv.Atoi(r.Leverage)

	side := "LONG"
	if amt.Sign() < 0 {
		side = "SHORT"
	}
	return venue.PositionDetails{
		Symbol:        r.Symbol,
		Side:          side,
		Size:          amt,
		EntryPrice:    entry,
		UnrealizedPnL: pnl,
		Leverage:      lev,
		MarginMode:    strings.ToLower(r.MarginType),
	}
}

func (c *Client) AccountBalance(ctx context.Context) (venue.Balance, error) {
	var out struct {
		TotalWalletBalance string `json:"totalWalletBalance"`
		AvailableBalance   string `json:"availableBalance"`
	}
	if err := c.signed(ctx, http.MethodGet, "/fapi/v2/account", nil, &out); err != nil {
		return venue.Balance{}, &venue.BalanceFetchError{Venue: venue.Aster, Err: err}
	}
	total, _ := decimal.NewFromString(out.TotalWalletBalance)
	avail, _ := decimal.NewFromString(out.AvailableBalance)
	return venue.Balance{Total: total, Available: avail}, nil
}

// SetLeverage configures leverage then margin type. The margin-type call
// returns an error when the mode is already set; that one is ignored.
func (c *Client) SetLeverage(ctx context.Context, base string, leverage int, marginMode string) error {
	params := url.Values{
		"symbol":   {c.symbol(base)},
		"leverage": {strconv.Itoa(leverage)},
	}
	if err := c.signed(ctx, http.MethodPost, "/fapi/v1/leverage", params, nil); err != nil {
		return err
	}

	params = url.Values{
		"symbol":     {c.symbol(base)},
		"marginType": {strings.ToUpper(marginMode)},
	}
	if err := c.signed(ctx, http.MethodPost, "/fapi/v1/marginType", params, nil); err != nil {
		var apiErr *venue.APIError
		if errors.As(err, &apiErr) && strings.Contains(apiErr.Body, "No need to change margin type") {
			return nil
		}
		return err
	}
	return nil
}

func (c *Client) Close() error { return nil }
