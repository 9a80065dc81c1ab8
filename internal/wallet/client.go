package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"racegame/internal/race"
)

var ErrInvalidToken = errors.New("invalid wallet token")

// Client talks to the custodial wallet service that owns player funds. It
// resolves bearer tokens to wallet addresses, collects purchases and sends
// reward transfers. Every money movement carries the caller's idempotency
// key so the service applies a retried request once.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type Session struct {
	Address   string `json:"address"`
	ExpiresAt int64  `json:"expires_at"`
}

type transferRequest struct {
	To             string `json:"to"`
	AmountNano     int64  `json:"amount_nano"`
	IdempotencyKey string `json:"idempotency_key"`
	Memo           string `json:"memo,omitempty"`
}

type transferResponse struct {
	TxHash string `json:"tx_hash"`
}

type debitRequest struct {
	From           string `json:"from"`
	AmountNano     int64  `json:"amount_nano"`
	IdempotencyKey string `json:"idempotency_key"`
	Memo           string `json:"memo,omitempty"`
}

// statusError is a non-2xx answer from the wallet service.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("wallet status %d: %s", e.status, e.body)
}

// final reports whether repeating the request cannot succeed: the service
// understood it and said no.
func (e *statusError) final() bool {
	return e.status >= 400 && e.status < 500 &&
		e.status != http.StatusRequestTimeout && e.status != http.StatusTooManyRequests
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

// VerifySender returns the wallet address behind accessToken.
func (c *Client) VerifySender(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/session", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("verify token status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return "", fmt.Errorf("decode session: %w", err)
	}
	if strings.TrimSpace(s.Address) == "" {
		return "", ErrInvalidToken
	}
	return s.Address, nil
}

// Debit moves amount nano from the player's wallet to the game wallet.
func (c *Client) Debit(ctx context.Context, from string, amount int64, key string) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be > 0")
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("debit needs an idempotency key")
	}
	in := debitRequest{
		From:           from,
		AmountNano:     amount,
		IdempotencyKey: key,
		Memo:           "race item",
	}
	return c.postJSON(ctx, "/v1/debits", in, nil)
}

// Transfer sends amount nano to the given address from the game wallet. A
// refusal by the service wraps race.ErrTransferRejected; other failures are
// worth retrying with the same key.
func (c *Client) Transfer(ctx context.Context, to string, amount int64, key string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be > 0", race.ErrTransferRejected)
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("transfer needs an idempotency key")
	}
	in := transferRequest{
		To:             to,
		AmountNano:     amount,
		IdempotencyKey: key,
		Memo:           "race reward",
	}
	var out transferResponse
	err := c.postJSON(ctx, "/v1/transfers", in, &out)
	var se *statusError
	if errors.As(err, &se) && se.final() {
		return fmt.Errorf("%w: %v", race.ErrTransferRejected, err)
	}
	return err
}

func (c *Client) postJSON(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wallet request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
