package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"racegame/internal/metrics"
	"racegame/internal/race"
	"racegame/internal/wallet"
)

const owner = "EQowner"

type testWallet interface {
	Verifier
	race.Funds
}

func newTestServer(t *testing.T) (*httptest.Server, *race.Engine, *metrics.Metrics) {
	t.Helper()
	return newServerWith(t, wallet.Dev{})
}

func newServerWith(t *testing.T, w testWallet) (*httptest.Server, *race.Engine, *metrics.Metrics) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	engine, err := race.NewEngine(race.DefaultConfig(owner), logger, race.WithFunds(w), race.WithObserver(m))
	require.NoError(t, err)
	srv := httptest.NewServer(New(logger, engine, w, WithMetrics(m)).Handler())
	t.Cleanup(srv.Close)
	return srv, engine, m
}

type walletMove struct {
	Addr   string
	Amount int64
	Key    string
}

// ledgerWallet holds real balances: a debit beyond what the address owns
// fails, and a key is only ever applied once.
type ledgerWallet struct {
	mu        sync.Mutex
	balances  map[string]int64
	seen      map[string]bool
	debits    []walletMove
	transfers []walletMove
}

func newLedgerWallet(balances map[string]int64) *ledgerWallet {
	return &ledgerWallet{balances: balances, seen: map[string]bool{}}
}

func (l *ledgerWallet) VerifySender(_ context.Context, token string) (string, error) {
	return token, nil
}

func (l *ledgerWallet) Debit(_ context.Context, from string, amount int64, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen[key] {
		return nil
	}
	if l.balances[from] < amount {
		return errors.New("insufficient funds")
	}
	l.seen[key] = true
	l.balances[from] -= amount
	l.debits = append(l.debits, walletMove{Addr: from, Amount: amount, Key: key})
	return nil
}

func (l *ledgerWallet) Transfer(_ context.Context, to string, amount int64, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen[key] {
		return nil
	}
	l.seen[key] = true
	l.balances[to] += amount
	l.transfers = append(l.transfers, walletMove{Addr: to, Amount: amount, Key: key})
	return nil
}

type call struct {
	method string
	path   string
	token  string
	body   any
	key    string
}

func do(t *testing.T, srv *httptest.Server, c call) (int, map[string]any) {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(c.method, srv.URL+c.path, body)
	require.NoError(t, err)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.key != "" {
		req.Header.Set("Idempotency-Key", c.key)
	}
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func start(t *testing.T, srv *httptest.Server) {
	t.Helper()
	status, _ := do(t, srv, call{method: http.MethodPost, path: "/v1/game/start", token: owner})
	require.Equal(t, http.StatusOK, status)
}

func buyBody(strategy int) map[string]any {
	return map[string]any{"value": 2 * race.NanoPerTON, "strategy": strategy}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	status, out := do(t, srv, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["ok"])
}

func TestMutationsRequireBearerToken(t *testing.T) {
	srv, _, _ := newTestServer(t)
	status, out := do(t, srv, call{method: http.MethodPost, path: "/v1/game/start"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", out["code"])
}

func TestStartIsOwnerOnly(t *testing.T) {
	srv, _, _ := newTestServer(t)
	status, out := do(t, srv, call{method: http.MethodPost, path: "/v1/game/start", token: "EQalice"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "unauthorized", out["code"])

	start(t, srv)
	status, out = do(t, srv, call{method: http.MethodGet, path: "/v1/game"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "in_progress", out["phase"])
}

func TestBuyBeforeStartIsRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)
	status, out := do(t, srv, call{method: http.MethodPost, path: "/v1/items/buy", token: "EQalice", body: buyBody(0)})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_phase", out["code"])
}

func TestBuyAndUseFlow(t *testing.T) {
	srv, engine, _ := newTestServer(t)
	start(t, srv)

	status, out := do(t, srv, call{method: http.MethodPost, path: "/v1/items/buy", token: "EQalice", body: buyBody(0)})
	require.Equal(t, http.StatusOK, status, out)
	effects := out["effects"].(map[string]any)
	item := effects["buy"].(map[string]any)["item"].(map[string]any)
	itemID := int(item["id"].(float64))

	status, out = do(t, srv, call{method: http.MethodGet, path: "/v1/players/EQalice"})
	require.Equal(t, http.StatusOK, status)
	player := out["player"].(map[string]any)
	assert.Equal(t, float64(race.NanoPerTON), player["total_invested"])
	assert.Equal(t, float64(1), out["item_count"])

	status, out = do(t, srv, call{method: http.MethodGet, path: "/v1/players/EQalice/items"})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, out["items"], 1)

	path := "/v1/items/" + jsonNumber(itemID) + "/use"
	status, _ = do(t, srv, call{method: http.MethodPost, path: path, token: "EQalice", body: map[string]any{"car_id": 1}})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, engine.PlayerItemCount("EQalice"))

	status, out = do(t, srv, call{method: http.MethodPost, path: path, token: "EQalice", body: map[string]any{"car_id": 1}})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "item_not_found", out["code"])

	status, out = do(t, srv, call{method: http.MethodGet, path: "/v1/pools"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(race.NanoPerTON), out["total_invested"])
}

func TestBuyMustBePaidForThroughTheWallet(t *testing.T) {
	w := newLedgerWallet(map[string]int64{"EQalice": 5 * race.NanoPerTON})
	srv, engine, _ := newServerWith(t, w)
	start(t, srv)

	// mallory claims a value the wallet never sees
	status, out := do(t, srv, call{
		method: http.MethodPost, path: "/v1/items/buy", token: "EQmallory",
		body: map[string]any{"value": 1000 * race.NanoPerTON, "strategy": 0},
	})
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, "payment_failed", out["code"])
	_, ok := engine.PlayerData("EQmallory")
	assert.False(t, ok)
	assert.Zero(t, engine.Pools().Total())

	status, out = do(t, srv, call{method: http.MethodPost, path: "/v1/players/me/withdraw", token: "EQmallory"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "nothing_to_withdraw", out["code"])
	assert.Empty(t, w.transfers)

	// alice pays for hers; only the final price leaves her wallet
	status, out = do(t, srv, call{method: http.MethodPost, path: "/v1/items/buy", token: "EQalice", body: buyBody(0), key: "buy-1"})
	require.Equal(t, http.StatusOK, status, out)
	require.Equal(t, []walletMove{{Addr: "EQalice", Amount: race.NanoPerTON, Key: "buy-1"}}, w.debits)
	assert.Equal(t, 4*race.NanoPerTON, w.balances["EQalice"])

	status, out = do(t, srv, call{method: http.MethodPost, path: "/v1/players/me/withdraw", token: "EQalice", key: "w-1"})
	require.Equal(t, http.StatusOK, status, out)
	require.Equal(t, []walletMove{{Addr: "EQalice", Amount: 50_000_000, Key: "w-1"}}, w.transfers)
	assert.Empty(t, engine.PendingTransfers(""))
}

func TestSystemSenderIsReserved(t *testing.T) {
	srv, _, _ := newTestServer(t)
	status, out := do(t, srv, call{method: http.MethodPost, path: "/v1/players/me/withdraw", token: race.SystemSender})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "unauthorized", out["code"])
}

func TestUnknownPlayerIsNull(t *testing.T) {
	srv, _, _ := newTestServer(t)
	status, out := do(t, srv, call{method: http.MethodGet, path: "/v1/players/EQnobody"})
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, out["player"])

	status, out = do(t, srv, call{method: http.MethodGet, path: "/v1/players/EQnobody/items/1"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "item_not_found", out["code"])
}

func TestIdempotencyKeyRejectsRepeats(t *testing.T) {
	srv, _, _ := newTestServer(t)
	start(t, srv)
	c := call{method: http.MethodPost, path: "/v1/items/buy", token: "EQalice", body: buyBody(1), key: "buy-1"}
	status, out := do(t, srv, c)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "buy-1", out["id"])

	status, out = do(t, srv, c)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "duplicate_operation", out["code"])
}

func TestUnknownFieldsAreRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)
	start(t, srv)
	status, out := do(t, srv, call{
		method: http.MethodPost, path: "/v1/items/buy", token: "EQalice",
		body: map[string]any{"value": 1, "colour": "red"},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", out["code"])
}

func TestPriceQueries(t *testing.T) {
	srv, _, _ := newTestServer(t)
	status, out := do(t, srv, call{method: http.MethodGet, path: "/v1/price"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(race.NanoPerTON), out["price"])

	status, out = do(t, srv, call{method: http.MethodGet, path: "/v1/price?count=1000"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2*race.NanoPerTON), out["price"])

	status, _ = do(t, srv, call{method: http.MethodGet, path: "/v1/price?count=-1"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, out = do(t, srv, call{method: http.MethodGet, path: "/v1/price/strategy/2"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(950_000_000), out["final_price"])

	status, out = do(t, srv, call{method: http.MethodGet, path: "/v1/price/strategy/9"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_strategy", out["code"])

	status, out = do(t, srv, call{method: http.MethodGet, path: "/v1/strategies"})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, out["strategies"], 4)
}

func TestCarQueries(t *testing.T) {
	srv, _, _ := newTestServer(t)
	status, out := do(t, srv, call{method: http.MethodGet, path: "/v1/cars/1"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(race.BaseSpeed), out["current_speed"])

	status, out = do(t, srv, call{method: http.MethodGet, path: "/v1/cars/3"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_car", out["code"])

	status, out = do(t, srv, call{method: http.MethodGet, path: "/v1/cars/leader"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), out["leader"])
}

func TestRankingsAndLastDistribution(t *testing.T) {
	srv, _, _ := newTestServer(t)
	status, _ := do(t, srv, call{method: http.MethodGet, path: "/v1/rankings/last"})
	assert.Equal(t, http.StatusNotFound, status)

	start(t, srv)
	status, _ = do(t, srv, call{method: http.MethodPost, path: "/v1/items/buy", token: "EQalice", body: buyBody(0)})
	require.Equal(t, http.StatusOK, status)
	status, out := do(t, srv, call{method: http.MethodPost, path: "/v1/game/end", token: owner})
	require.Equal(t, http.StatusOK, status, out)

	status, out = do(t, srv, call{method: http.MethodGet, path: "/v1/rankings"})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, out["rankings"], 1)

	status, out = do(t, srv, call{method: http.MethodGet, path: "/v1/rankings/1"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "EQalice", out["address"])

	status, _ = do(t, srv, call{method: http.MethodGet, path: "/v1/rankings/2"})
	assert.Equal(t, http.StatusNotFound, status)

	status, out = do(t, srv, call{method: http.MethodGet, path: "/v1/rankings/last"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "distributed", out["status"])

	status, out = do(t, srv, call{method: http.MethodPost, path: "/v1/players/me/withdraw", token: "EQalice"})
	require.Equal(t, http.StatusOK, status, out)
	transfer := out["effects"].(map[string]any)["transfer"].(map[string]any)
	assert.Equal(t, "EQalice", transfer["to"])
}

func TestSyncReplayReportsEachOperation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	start(t, srv)

	batch := map[string]any{"operations": []map[string]any{
		{"id": "q-1", "kind": "buy_item", "value": 2 * race.NanoPerTON, "strategy": 0},
		{"id": "q-2", "kind": "use_item", "item_id": 999, "car_id": 1},
		{"id": "q-1", "kind": "buy_item", "value": 2 * race.NanoPerTON, "strategy": 0},
		{"kind": "register_name", "name": "alice"},
		{"kind": "reverse_transfer", "transfer": "q-9"},
	}}
	status, out := do(t, srv, call{method: http.MethodPost, path: "/v1/sync/replay", token: "EQalice", body: batch})
	require.Equal(t, http.StatusOK, status, out)

	results := out["results"].([]any)
	require.Len(t, results, 5)
	statuses := make([]string, 0, len(results))
	for _, r := range results {
		statuses = append(statuses, r.(map[string]any)["status"].(string))
	}
	assert.Equal(t, []string{"applied", "rejected", "duplicate", "applied", "rejected"}, statuses)
	assert.Equal(t, "item_not_found", results[1].(map[string]any)["code"])
	assert.Equal(t, "invalid_operation", results[4].(map[string]any)["code"])

	status, out = do(t, srv, call{method: http.MethodGet, path: "/v1/players/me", token: "EQalice"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", out["player"].(map[string]any)["name"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	start(t, srv)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, `racegame_engine_operations_total{kind="start"} 1`)
	assert.Contains(t, body, `route="/v1/game/start"`)
}

func jsonNumber(n int) string {
	raw, _ := json.Marshal(n)
	return string(raw)
}
