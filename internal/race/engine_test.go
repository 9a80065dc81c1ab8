package race

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingObserver) Committed(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestExecuteRejectsDuplicateOperationID(t *testing.T) {
	e, _ := startedEngine(t)
	op := buy("alice", 0)
	op.ID = "op-1"
	mustExec(t, e, op)
	expectErr(t, e, op, ErrDuplicateOperation)
	if got := e.GameState().TotalItems; got != 1 {
		t.Fatalf("items got %d want 1", got)
	}

	// a rejected op does not burn its id
	bad := Operation{ID: "op-2", Kind: OpUseItem, Sender: "alice", ItemID: 42, CarID: 1}
	expectErr(t, e, bad, ErrItemNotFound)
	bad.ItemID = 1
	mustExec(t, e, bad)
}

func TestExecuteUnknownKind(t *testing.T) {
	e, _ := startedEngine(t)
	expectErr(t, e, Operation{Kind: "teleport", Sender: "alice"}, ErrInvalidOperation)
}

func TestEngineNotifiesObservers(t *testing.T) {
	obs := &recordingObserver{}
	e, clock := startedEngine(t, WithObserver(obs))
	mustExec(t, e, buy("alice", 0))
	clock.Advance(2 * time.Hour)
	if _, err := e.Execute(context.Background(), buy("alice", 0)); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("got %v want invalid phase", err)
	}

	kinds := make([]OpKind, 0, len(obs.events))
	for _, ev := range obs.events {
		kinds = append(kinds, ev.Kind)
	}
	want := []OpKind{OpStart, OpBuyItem, OpEnd}
	if len(kinds) != len(want) {
		t.Fatalf("events got %v want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("events got %v want %v", kinds, want)
		}
	}
	last := obs.events[2]
	if last.Sender != SystemSender || last.Game.Phase != PhaseEnded || last.Seq != 3 {
		t.Fatalf("unexpected auto end event %+v", last)
	}
}

func TestEnginePersistsThroughStore(t *testing.T) {
	store := &memStore{}
	e, clock := newTestEngine(t, DefaultConfig(testOwner), WithStore(store))
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	mustExec(t, e, Operation{Kind: OpStart, Sender: testOwner})
	mustExec(t, e, buy("alice", 0))
	if len(store.entries) != 2 || store.state.Seq != 2 {
		t.Fatalf("store has %d entries at seq %d", len(store.entries), store.state.Seq)
	}

	// a second engine over the same store picks up where the first stopped
	other, _ := newTestEngine(t, DefaultConfig(testOwner), WithStore(store), WithClock(clock.Now))
	if err := other.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	mustExec(t, other, buy("bob", 0))

	// the first engine is now stale; it reloads and retries
	fx := mustExec(t, e, buy("carol", 0))
	if fx.Buy.Item.ID != 3 {
		t.Fatalf("item id got %d want 3", fx.Buy.Item.ID)
	}
	if got := e.GameState().TotalPlayers; got != 3 {
		t.Fatalf("players got %d want 3", got)
	}
	if store.state.Seq != 4 {
		t.Fatalf("store seq got %d want 4", store.state.Seq)
	}
}

func TestEngineGivesUpAfterRepeatedConflicts(t *testing.T) {
	store := &memStore{}
	e, _ := newTestEngine(t, DefaultConfig(testOwner), WithStore(store))
	mustExec(t, e, Operation{Kind: OpStart, Sender: testOwner})

	store.conflicts = maxCommitAttempts
	_, err := e.Execute(context.Background(), buy("alice", 0))
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("got %v want version conflict", err)
	}
	if store.state.Seq != 1 {
		t.Fatalf("conflicting write landed")
	}
	mustExec(t, e, buy("alice", 0))
}

func TestTickReloadsFromStore(t *testing.T) {
	store := &memStore{}
	writer, clock := newTestEngine(t, DefaultConfig(testOwner), WithStore(store))
	mustExec(t, writer, Operation{Kind: OpStart, Sender: testOwner})

	ticker, _ := newTestEngine(t, DefaultConfig(testOwner), WithStore(store), WithClock(clock.Now))
	d, err := ticker.Tick(context.Background())
	if err != nil || d != nil {
		t.Fatalf("early tick: d=%v err=%v", d, err)
	}
	if ticker.GameState().Phase != PhaseInProgress {
		t.Fatalf("tick did not reload state")
	}

	clock.Advance(time.Duration(DefaultGameDuration) * time.Second)
	if d, err = ticker.Tick(context.Background()); err != nil || d == nil {
		t.Fatalf("tick after expiry: d=%v err=%v", d, err)
	}
	if store.state.Game.Phase != PhaseEnded {
		t.Fatalf("auto end not persisted")
	}
}

func TestReplayRebuildsState(t *testing.T) {
	store := &memStore{}
	seeds := HashSeeds()
	e, clock := newTestEngine(t, DefaultConfig(testOwner), WithStore(store), WithSeeds(seeds))
	mustExec(t, e, Operation{Kind: OpStart, Sender: testOwner})
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		fx := mustExec(t, e, buy(playerAddr(i), i%4))
		mustExec(t, e, Operation{Kind: OpUseItem, Sender: playerAddr(i), ItemID: fx.Buy.Item.ID, CarID: 1 + i%2})
	}
	mustExec(t, e, Operation{Kind: OpRegisterName, Sender: playerAddr(0), Name: "zero"})
	clock.Advance(2 * time.Hour)
	if _, err := e.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	mustExec(t, e, Operation{Kind: OpWithdraw, Sender: playerAddr(1)})

	got, err := Replay(DefaultConfig(testOwner), store.entries, seeds, nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	want, _ := json.Marshal(e.Snapshot())
	have, _ := json.Marshal(got)
	if string(want) != string(have) {
		t.Fatalf("replayed state differs\nwant %s\nhave %s", want, have)
	}

	if _, err := Replay(DefaultConfig(testOwner), store.entries[1:], seeds, nil); err == nil {
		t.Fatalf("replay accepted a journal gap")
	}
}

func TestNewEngineValidatesConfig(t *testing.T) {
	cfg := DefaultConfig(testOwner)
	cfg.Distribution.ReservePercent = 30
	if _, err := NewEngine(cfg, nil); err == nil {
		t.Fatalf("accepted distribution summing to 110")
	}
	if _, err := NewEngine(DefaultConfig(" "), nil); err == nil {
		t.Fatalf("accepted empty owner")
	}
}

func TestVerifyIgnoresEntriesPastSnapshot(t *testing.T) {
	store := &memStore{}
	seeds := HashSeeds()
	e, _ := newTestEngine(t, DefaultConfig(testOwner), WithStore(store), WithSeeds(seeds))
	mustExec(t, e, Operation{Kind: OpStart, Sender: testOwner})
	mustExec(t, e, buy("alice", 1))
	snapshot, _ := store.Load(context.Background())

	// commits landing after the snapshot was read
	mustExec(t, e, buy("bob", 2))
	mustExec(t, e, Operation{Kind: OpWithdraw, Sender: "alice"})

	if err := Verify(DefaultConfig(testOwner), snapshot, store.entries, seeds, nil); err != nil {
		t.Fatalf("verify: %v", err)
	}
	latest, _ := store.Load(context.Background())
	if err := Verify(DefaultConfig(testOwner), latest, store.entries, seeds, nil); err != nil {
		t.Fatalf("verify latest: %v", err)
	}

	snapshot.Pools.PrizePool++
	if err := Verify(DefaultConfig(testOwner), snapshot, store.entries, seeds, nil); err == nil {
		t.Fatalf("tampered snapshot verified")
	}
	if err := Verify(DefaultConfig(testOwner), latest, store.entries[:2], seeds, nil); err == nil {
		t.Fatalf("short journal verified")
	}
}
