package race

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

const testOwner = "owner"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fixedSeed(v uint64) SeedSource {
	return SeedFunc(func(SeedInput) uint64 { return v })
}

type memStore struct {
	mu        sync.Mutex
	state     *State
	entries   []JournalEntry
	conflicts int
	// commitErr fails the next write after its hook has run
	commitErr error
}

func (m *memStore) Load(context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, nil
	}
	return m.state.Clone(), nil
}

func (m *memStore) Save(ctx context.Context, prevSeq int64, st *State, entry JournalEntry, beforeCommit func(context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts > 0 {
		m.conflicts--
		return ErrVersionConflict
	}
	var cur int64
	if m.state != nil {
		cur = m.state.Seq
	}
	if cur != prevSeq {
		return ErrVersionConflict
	}
	if err := beforeCommit(ctx); err != nil {
		return err
	}
	if err := m.commitErr; err != nil {
		m.commitErr = nil
		return err
	}
	m.state = st.Clone()
	m.entries = append(m.entries, entry)
	return nil
}

type walletCall struct {
	Addr   string
	Amount int64
	Key    string
}

// fakeFunds records the calls it accepts. A set error fails every call of
// that kind until cleared.
type fakeFunds struct {
	mu          sync.Mutex
	debits      []walletCall
	transfers   []walletCall
	debitErr    error
	transferErr error
}

func (f *fakeFunds) Debit(_ context.Context, from string, amount int64, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.debitErr != nil {
		return f.debitErr
	}
	f.debits = append(f.debits, walletCall{Addr: from, Amount: amount, Key: key})
	return nil
}

func (f *fakeFunds) Transfer(_ context.Context, to string, amount int64, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transferErr != nil {
		return f.transferErr
	}
	f.transfers = append(f.transfers, walletCall{Addr: to, Amount: amount, Key: key})
	return nil
}

func (f *fakeFunds) failTransfers(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferErr = err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) (*Engine, *testClock) {
	t.Helper()
	clock := newTestClock()
	base := []Option{WithClock(clock.Now), WithSeeds(fixedSeed(0))}
	e, err := NewEngine(cfg, discardLogger(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, clock
}

func startedEngine(t *testing.T, opts ...Option) (*Engine, *testClock) {
	t.Helper()
	e, clock := newTestEngine(t, DefaultConfig(testOwner), opts...)
	mustExec(t, e, Operation{Kind: OpStart, Sender: testOwner})
	return e, clock
}

func mustExec(t *testing.T, e *Engine, op Operation) Effects {
	t.Helper()
	fx, err := e.Execute(context.Background(), op)
	if err != nil {
		t.Fatalf("%s by %q: unexpected error: %v", op.Kind, op.Sender, err)
	}
	return fx
}

func expectErr(t *testing.T, e *Engine, op Operation, want error) {
	t.Helper()
	before := stateJSON(t, e)
	_, err := e.Execute(context.Background(), op)
	if !errors.Is(err, want) {
		t.Fatalf("%s by %q: got err %v want %v", op.Kind, op.Sender, err, want)
	}
	if after := stateJSON(t, e); after != before {
		t.Fatalf("%s by %q: rejected operation changed state", op.Kind, op.Sender)
	}
}

func stateJSON(t *testing.T, e *Engine) string {
	t.Helper()
	raw, err := json.Marshal(e.Snapshot())
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	return string(raw)
}

func buy(addr string, strategy int) Operation {
	return Operation{Kind: OpBuyItem, Sender: addr, Value: 2 * NanoPerTON, Strategy: strategy}
}

func playerAddr(i int) string {
	return fmt.Sprintf("player%02d", i)
}
