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
	"strings"
	"time"

	"racegame/internal/race"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// APIError is a non-2xx answer from the API. Anything else returned by the
// client is a transport failure, which the CLI may queue and retry.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type GameResponse struct {
	Game  race.GameState `json:"game"`
	Phase string         `json:"phase"`
}

type CarsResponse struct {
	Cars   [2]race.CarView `json:"cars"`
	Gap    int64           `json:"gap"`
	Leader int             `json:"leader"`
}

type PoolsResponse struct {
	race.FundPools
	TotalInvested     int64 `json:"total_invested"`
	UnfundedReferrals int64 `json:"unfunded_referrals"`
}

type PlayerResponse struct {
	Address          string           `json:"address"`
	Player           *race.PlayerData `json:"player"`
	ItemCount        int              `json:"item_count"`
	PendingTransfers []race.Transfer  `json:"pending_transfers"`
}

type ExecResponse struct {
	ID      string       `json:"id"`
	Effects race.Effects `json:"effects"`
}

type ReplayResult struct {
	ID      string        `json:"id"`
	Kind    race.OpKind   `json:"kind"`
	Status  string        `json:"status"`
	Code    string        `json:"code,omitempty"`
	Error   string        `json:"error,omitempty"`
	Effects *race.Effects `json:"effects,omitempty"`
}

func (c *Client) Game(ctx context.Context) (GameResponse, error) {
	var out GameResponse
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/game", "", nil, &out, "")
	return out, err
}

func (c *Client) Cars(ctx context.Context) (CarsResponse, error) {
	var out CarsResponse
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/cars", "", nil, &out, "")
	return out, err
}

func (c *Client) Pools(ctx context.Context) (PoolsResponse, error) {
	var out PoolsResponse
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/pools", "", nil, &out, "")
	return out, err
}

func (c *Client) Price(ctx context.Context) (int64, error) {
	var out struct {
		Price int64 `json:"price"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/price", "", nil, &out, "")
	return out.Price, err
}

func (c *Client) Quote(ctx context.Context, strategy int) (race.Quote, error) {
	var out race.Quote
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/price/strategy/%d", strategy), "", nil, &out, "")
	return out, err
}

func (c *Client) Strategies(ctx context.Context) ([]race.Strategy, error) {
	var out struct {
		Strategies []race.Strategy `json:"strategies"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/strategies", "", nil, &out, "")
	return out.Strategies, err
}

func (c *Client) Player(ctx context.Context, address string) (PlayerResponse, error) {
	var out PlayerResponse
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/players/"+url.PathEscape(address), "", nil, &out, "")
	return out, err
}

func (c *Client) Me(ctx context.Context, accessToken string) (PlayerResponse, error) {
	var out PlayerResponse
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/players/me", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Items(ctx context.Context, address string) ([]race.Item, error) {
	var out struct {
		Items []race.Item `json:"items"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/players/"+url.PathEscape(address)+"/items", "", nil, &out, "")
	return out.Items, err
}

func (c *Client) Rankings(ctx context.Context) ([]race.RankEntry, error) {
	var out struct {
		Rankings []race.RankEntry `json:"rankings"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/rankings", "", nil, &out, "")
	return out.Rankings, err
}

func (c *Client) LastDistribution(ctx context.Context) (race.Distribution, error) {
	var out race.Distribution
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/rankings/last", "", nil, &out, "")
	return out, err
}

func (c *Client) Start(ctx context.Context, accessToken, idem string) (ExecResponse, error) {
	return c.exec(ctx, "/v1/game/start", accessToken, map[string]any{}, idem)
}

func (c *Client) End(ctx context.Context, accessToken, idem string) (ExecResponse, error) {
	return c.exec(ctx, "/v1/game/end", accessToken, map[string]any{}, idem)
}

func (c *Client) Buy(ctx context.Context, accessToken string, valueNano int64, strategy int, referrer, idem string) (ExecResponse, error) {
	return c.exec(ctx, "/v1/items/buy", accessToken, map[string]any{
		"value":    valueNano,
		"strategy": strategy,
		"referrer": referrer,
	}, idem)
}

func (c *Client) Use(ctx context.Context, accessToken string, itemID uint32, carID int, idem string) (ExecResponse, error) {
	return c.exec(ctx, fmt.Sprintf("/v1/items/%d/use", itemID), accessToken, map[string]any{
		"car_id": carID,
	}, idem)
}

func (c *Client) RegisterName(ctx context.Context, accessToken, name, idem string) (ExecResponse, error) {
	return c.exec(ctx, "/v1/players/me/name", accessToken, map[string]any{
		"name": name,
	}, idem)
}

func (c *Client) Withdraw(ctx context.Context, accessToken, idem string) (ExecResponse, error) {
	return c.exec(ctx, "/v1/players/me/withdraw", accessToken, map[string]any{}, idem)
}

func (c *Client) SyncReplay(ctx context.Context, accessToken string, ops []race.Operation) ([]ReplayResult, error) {
	var out struct {
		Results []ReplayResult `json:"results"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/sync/replay", accessToken, map[string]any{
		"operations": ops,
	}, &out, "")
	return out.Results, err
}

func (c *Client) exec(ctx context.Context, path, accessToken string, body map[string]any, idem string) (ExecResponse, error) {
	var out ExecResponse
	err := c.jsonRequest(ctx, http.MethodPost, path, accessToken, body, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
