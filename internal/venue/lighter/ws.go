package lighter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/hedgebot/internal/venue"
)

const balanceTimeout = 10 * time.Second

// AccountBalance opens a short-lived websocket, subscribes to the account
// channel and returns the first balance snapshot. The REST API exposes no
// collateral endpoint.
func (c *Client) AccountBalance(ctx context.Context) (venue.Balance, error) {
	bal, err := c.fetchBalanceWS(ctx)
	if err != nil {
		return venue.Balance{}, &venue.BalanceFetchError{Venue: venue.Lighter, Err: err}
	}
	return bal, nil
}

func (c *Client) fetchBalanceWS(ctx context.Context) (venue.Balance, error) {
	dialCtx, cancel := context.WithTimeout(ctx, balanceTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.wsURL, nil)
	if err != nil {
		return venue.Balance{}, fmt.Errorf("dial %s: %w", c.wsURL, err)
	}
	defer conn.Close()

	sub := map[string]any{
		"type":    "subscribe",
		"channel": fmt.Sprintf("account_all/%d", c.accountIndex),
	}
	if err := conn.WriteJSON(sub); err != nil {
		return venue.Balance{}, fmt.Errorf("subscribe: %w", err)
	}

	deadline := time.Now().Add(balanceTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return venue.Balance{}, err
	}

	for time.Now().Before(deadline) {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return venue.Balance{}, fmt.Errorf("read: %w", err)
		}

		var msg struct {
			Type    string `json:"type"`
			Account struct {
				Collateral       string `json:"collateral"`
				AvailableBalance string `json:"available_balance"`
			} `json:"account"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Account.Collateral == "" && msg.Account.AvailableBalance == "" {
			continue
		}

		total, err := decimal.NewFromString(msg.Account.Collateral)
		if err != nil {
			return venue.Balance{}, fmt.Errorf("bad collateral %q: %w", msg.Account.Collateral, err)
		}
		avail := total
		if msg.Account.AvailableBalance != "" {
			if a, err := decimal.NewFromString(msg.Account.AvailableBalance); err == nil {
				avail = a
			}
		}
		return venue.Balance{Total: total, Available: avail}, nil
	}
	return venue.Balance{}, fmt.Errorf("no balance snapshot within %s", balanceTimeout)
}
