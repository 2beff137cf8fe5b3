package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stockify/internal/game"
)

// AccountHeader must match the header the API reads the caller's account from.
const AccountHeader = "X-Account-ID"

// IdempotencyHeader carries the key a trade is retried under.
const IdempotencyHeader = "Idempotency-Key"

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// APIError is a non-2xx response. Network failures are returned unwrapped.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsRejected reports whether the API answered and refused the request, as opposed
// to being unreachable.
func IsRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status < 500
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) SignIn(ctx context.Context, accountID, username string) (game.Dashboard, error) {
	var out game.Dashboard
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/session", accountID, map[string]any{
		"username": username,
	}, &out)
	return out, err
}

func (c *Client) SignOut(ctx context.Context, accountID string) error {
	return c.jsonRequest(ctx, http.MethodDelete, "/v1/session", accountID, nil, nil)
}

func (c *Client) Dashboard(ctx context.Context, accountID string) (game.Dashboard, error) {
	var out game.Dashboard
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/dashboard", accountID, nil, &out)
	return out, err
}

func (c *Client) Holdings(ctx context.Context, accountID string) ([]game.Holding, error) {
	var out struct {
		Holdings []game.Holding `json:"holdings"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/holdings", accountID, nil, &out)
	return out.Holdings, err
}

func (c *Client) Transactions(ctx context.Context, accountID string) ([]game.Transaction, error) {
	var out struct {
		Transactions []game.Transaction `json:"transactions"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/transactions", accountID, nil, &out)
	return out.Transactions, err
}

// Invest buys amount credits of entityID. amount is a decimal credit string.
// Sending the same key again returns the first result instead of buying twice.
func (c *Client) Invest(ctx context.Context, accountID, entityID, amount, key string) (game.InvestResult, error) {
	var out game.InvestResult
	err := c.trade(ctx, "/v1/invest", accountID, key, entityID, amount, &out)
	return out, err
}

func (c *Client) Sell(ctx context.Context, accountID, entityID, amount, key string) (game.SellOutcome, error) {
	var out game.SellOutcome
	err := c.trade(ctx, "/v1/sell", accountID, key, entityID, amount, &out)
	return out, err
}

func (c *Client) trade(ctx context.Context, path, accountID, key, entityID, amount string, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, accountID, map[string]any{
		"entity_id": entityID,
		"amount":    amount,
	})
	if err != nil {
		return err
	}
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	return c.do(req, out)
}

func (c *Client) Entities(ctx context.Context) ([]game.EntityView, error) {
	var out struct {
		Entities []game.EntityView `json:"entities"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/entities", "", nil, &out)
	return out.Entities, err
}

func (c *Client) Entity(ctx context.Context, entityID string) (game.EntityDetail, error) {
	var out game.EntityDetail
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/entities/"+url.PathEscape(entityID), "", nil, &out)
	return out, err
}

func (c *Client) Track(ctx context.Context, accountID, entityID string) (game.EntityDetail, error) {
	var out game.EntityDetail
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/entities", accountID, map[string]any{
		"id": entityID,
	}, &out)
	return out, err
}

func (c *Client) Insight(ctx context.Context, entityID string) (string, error) {
	var out struct {
		Insight string `json:"insight"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/entities/"+url.PathEscape(entityID)+"/insight", "", nil, &out)
	return out.Insight, err
}

func (c *Client) Movers(ctx context.Context) (game.Movers, error) {
	var out game.Movers
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market/movers", "", nil, &out)
	return out, err
}

func (c *Client) MostTraded(ctx context.Context, accountID string) ([]game.TradedEntity, error) {
	var out struct {
		Entities []game.TradedEntity `json:"entities"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market/most-traded", accountID, nil, &out)
	return out.Entities, err
}

func (c *Client) Leaderboard(ctx context.Context, limit int) ([]game.LeaderboardRow, error) {
	path := "/v1/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Rows []game.LeaderboardRow `json:"rows"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, "", nil, &out)
	return out.Rows, err
}

// Advance asks the API to run one market tick. It needs the admin token.
func (c *Client) Advance(ctx context.Context, adminToken string, periods float64) (game.AdvanceReport, error) {
	var out game.AdvanceReport
	raw, err := json.Marshal(map[string]any{"periods": periods})
	if err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/market/advance", bytes.NewReader(raw))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)
	err = c.do(req, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accountID string, in any, out any) error {
	req, err := c.newRequest(ctx, method, path, accountID, in)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path, accountID string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accountID != "" {
		req.Header.Set(AccountHeader, accountID)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
