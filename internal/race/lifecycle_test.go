package race

import (
	"context"
	"testing"
	"time"
)

func TestStartGameOwnerOnly(t *testing.T) {
	e, clock := newTestEngine(t, DefaultConfig(testOwner))
	expectErr(t, e, Operation{Kind: OpStart, Sender: "alice"}, ErrUnauthorized)

	fx := mustExec(t, e, Operation{Kind: OpStart, Sender: testOwner})
	now := clock.Now().Unix()
	if fx.Start.Round != 1 || fx.Start.StartTime != now || fx.Start.EndTime != now+DefaultGameDuration {
		t.Fatalf("unexpected start result %+v", fx.Start)
	}
	if e.GameState().Phase != PhaseInProgress {
		t.Fatalf("phase got %s", e.GameState().Phase)
	}
	expectErr(t, e, Operation{Kind: OpStart, Sender: testOwner}, ErrInvalidPhase)
}

func TestEndGameRules(t *testing.T) {
	e, clock := newTestEngine(t, DefaultConfig(testOwner))
	expectErr(t, e, Operation{Kind: OpEnd, Sender: testOwner}, ErrInvalidPhase)

	mustExec(t, e, Operation{Kind: OpStart, Sender: testOwner})
	expectErr(t, e, Operation{Kind: OpEnd, Sender: "alice"}, ErrUnauthorized)

	clock.Advance(10 * time.Minute)
	fx := mustExec(t, e, Operation{Kind: OpEnd, Sender: testOwner})
	if fx.Distribution == nil {
		t.Fatalf("end produced no distribution")
	}
	g := e.GameState()
	if g.Phase != PhaseEnded || g.EndTime != clock.Now().Unix() {
		t.Fatalf("early end should stamp end time: %+v", g)
	}
	expectErr(t, e, Operation{Kind: OpEnd, Sender: testOwner}, ErrInvalidPhase)
}

func TestRestartResetsCars(t *testing.T) {
	e, _ := startedEngine(t)
	fx := mustExec(t, e, buy("alice", 0))
	mustExec(t, e, Operation{Kind: OpUseItem, Sender: "alice", ItemID: fx.Buy.Item.ID, CarID: 1})
	mustExec(t, e, Operation{Kind: OpEnd, Sender: testOwner})

	start := mustExec(t, e, Operation{Kind: OpStart, Sender: testOwner})
	if start.Start.Round != 2 {
		t.Fatalf("round got %d want 2", start.Start.Round)
	}
	for _, c := range e.Cars() {
		if c.CurrentSpeed != BaseSpeed || c.TotalBoost != 0 || c.ItemCount != 0 {
			t.Fatalf("car not reset: %+v", c)
		}
	}
	// accounts persist across rounds unless reset is configured
	if _, ok := e.PlayerData("alice"); !ok {
		t.Fatalf("alice dropped on restart")
	}
}

func TestResetPlayersOnStartKeepsBalances(t *testing.T) {
	cfg := DefaultConfig(testOwner)
	cfg.ResetPlayersOnStart = true
	e, _ := newTestEngine(t, cfg)
	mustExec(t, e, Operation{Kind: OpStart, Sender: testOwner})
	mustExec(t, e, buy("alice", 0))
	mustExec(t, e, buy("bob", 0))
	mustExec(t, e, Operation{Kind: OpEnd, Sender: testOwner})
	mustExec(t, e, Operation{Kind: OpWithdraw, Sender: "alice"})
	bob, _ := e.PlayerData("bob")

	fx := mustExec(t, e, Operation{Kind: OpStart, Sender: testOwner})
	if !fx.Start.PlayersCleared {
		t.Fatalf("players not cleared")
	}
	g := e.GameState()
	if g.TotalPlayers != 0 || g.TotalItems != 0 || e.TotalInvested() != 0 {
		t.Fatalf("counters not reset: %+v invested=%d", g, e.TotalInvested())
	}
	if _, ok := e.PlayerData("alice"); ok {
		t.Fatalf("alice had nothing pending and should be gone")
	}
	kept, ok := e.PlayerData("bob")
	if !ok || kept.RewardBalance != bob.RewardBalance || kept.TotalInvested != 0 {
		t.Fatalf("bob's balance not kept: %+v", kept)
	}
	if e.PlayerItemCount("bob") != 0 {
		t.Fatalf("items survived reset")
	}
}

func TestExpiredRoundEndsBeforeNextOperation(t *testing.T) {
	e, clock := startedEngine(t)
	mustExec(t, e, buy("alice", 0))
	clock.Advance(time.Duration(DefaultGameDuration) * time.Second)

	_, err := e.Execute(context.Background(), buy("alice", 0))
	if err == nil {
		t.Fatalf("buy after expiry succeeded")
	}
	if got := ErrorCode(err); got != "invalid_phase" {
		t.Fatalf("error code got %q want invalid_phase", got)
	}
	if e.GameState().Phase != PhaseEnded {
		t.Fatalf("round not ended automatically")
	}
	d, ok := e.LastDistribution()
	if !ok || d.Status != DistributionPaid {
		t.Fatalf("unexpected distribution %+v", d)
	}
}

func TestTickEndsExpiredRound(t *testing.T) {
	e, clock := startedEngine(t)
	d, err := e.Tick(context.Background())
	if err != nil || d != nil {
		t.Fatalf("tick before expiry: d=%v err=%v", d, err)
	}

	clock.Advance(time.Duration(DefaultGameDuration+1) * time.Second)
	d, err = e.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if d == nil || d.Status != DistributionSkipped {
		t.Fatalf("unexpected distribution %+v", d)
	}
	if e.GameState().EndTime != clock.Now().Unix()-1 {
		t.Fatalf("expired round keeps its scheduled end time")
	}

	// anyone may end an expired round, but it is already over
	expectErr(t, e, Operation{Kind: OpEnd, Sender: "alice"}, ErrInvalidPhase)
}

func TestAnyoneEndsExpiredRound(t *testing.T) {
	e, clock := startedEngine(t)
	clock.Advance(time.Duration(DefaultGameDuration) * time.Second)
	fx := mustExec(t, e, Operation{Kind: OpEnd, Sender: "alice"})
	if fx.Distribution == nil {
		t.Fatalf("no distribution")
	}
}
