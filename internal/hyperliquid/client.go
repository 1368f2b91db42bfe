// Package hyperliquid implements the snapshot source against the
// Hyperliquid info API. Transient failures are retried here with exponential
// backoff; the poller only ever sees the final outcome.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"

	"github.com/jwo-labs/vaultwatch/internal/models"
)

// DefaultBaseURL is the Hyperliquid mainnet info endpoint.
const DefaultBaseURL = "https://api.hyperliquid.xyz"

// Client fetches account position snapshots from the Hyperliquid API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxTries   uint
}

// NewClient creates a Hyperliquid client. An empty baseURL selects mainnet.
func NewClient(baseURL string, timeout time.Duration, maxTries int) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if maxTries <= 0 {
		maxTries = 3
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxTries:   uint(maxTries),
	}
}

// clearinghouseState is the subset of the info response the differ needs.
type clearinghouseState struct {
	AssetPositions []struct {
		Position struct {
			Coin          string `json:"coin"`
			Szi           string `json:"szi"`
			PositionValue string `json:"positionValue"`
			EntryPx       string `json:"entryPx"`
		} `json:"position"`
	} `json:"assetPositions"`
	Time int64 `json:"time"`
}

// FetchSnapshot returns the account's current position set. Retries
// transient HTTP failures with exponential backoff; 4xx responses and
// malformed payloads fail immediately.
func (c *Client) FetchSnapshot(ctx context.Context, address string) (*models.PositionSnapshot, error) {
	body, err := json.Marshal(map[string]string{
		"type": "clearinghouseState",
		"user": address,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build request body: %w", err)
	}

	state, err := backoff.Retry(ctx, func() (*clearinghouseState, error) {
		return c.fetchState(ctx, body)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(c.maxTries))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch clearinghouse state for %s: %w", address, err)
	}

	return parseSnapshot(address, state)
}

func (c *Client) fetchState(ctx context.Context, body []byte) (*clearinghouseState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/info", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, fmt.Errorf("info request returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(fmt.Errorf("info request returned status %d", resp.StatusCode))
	}

	var state clearinghouseState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	return &state, nil
}

// parseSnapshot converts the wire payload to the domain snapshot. Any
// unparseable numeric field poisons the whole snapshot so the baseline stays
// on the last good state.
func parseSnapshot(address string, state *clearinghouseState) (*models.PositionSnapshot, error) {
	snap := &models.PositionSnapshot{
		Account:   address,
		Timestamp: time.UnixMilli(state.Time),
	}
	if state.Time == 0 {
		snap.Timestamp = time.Now()
	}

	for _, ap := range state.AssetPositions {
		p := ap.Position
		if p.Coin == "" {
			continue
		}
		size, err := decimal.NewFromString(p.Szi)
		if err != nil {
			return nil, fmt.Errorf("unparseable size %q for %s/%s: %w", p.Szi, address, p.Coin, err)
		}
		if size.IsZero() {
			continue
		}
		notional, err := decimal.NewFromString(p.PositionValue)
		if err != nil {
			return nil, fmt.Errorf("unparseable notional %q for %s/%s: %w", p.PositionValue, address, p.Coin, err)
		}
		entry := decimal.Zero
		if p.EntryPx != "" {
			if entry, err = decimal.NewFromString(p.EntryPx); err != nil {
				return nil, fmt.Errorf("unparseable entry price %q for %s/%s: %w", p.EntryPx, address, p.Coin, err)
			}
		}
		snap.Positions = append(snap.Positions, models.Position{
			Instrument: p.Coin,
			Size:       size,
			Notional:   notional.Abs(),
			EntryPrice: entry,
		})
	}
	return snap, nil
}
