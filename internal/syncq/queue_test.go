package syncq

import (
	"os"
	"path/filepath"
	"testing"

	"racegame/internal/race"
)

func openTemp(t *testing.T) *Queue {
	t.Helper()
	q, err := OpenAt(filepath.Join(t.TempDir(), "nested", "queue.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return q
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	q := openTemp(t)
	got, err := q.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty queue, got %d", len(got))
	}
}

func TestPushAssignsIDAndDropsSender(t *testing.T) {
	q := openTemp(t)
	cmd, err := q.Push(race.Operation{Kind: race.OpBuyItem, Sender: "EQalice", Value: 5, Strategy: 2})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if cmd.ID == "" || cmd.Sender != "" || cmd.QueuedAt.IsZero() {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if _, err := q.Push(race.Operation{ID: "fixed", Kind: race.OpWithdraw}); err != nil {
		t.Fatalf("push: %v", err)
	}

	got, err := q.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(got))
	}
	if got[0].Kind != race.OpBuyItem || got[0].Value != 5 || got[0].Strategy != 2 {
		t.Fatalf("first command lost fields: %+v", got[0])
	}
	if got[1].ID != "fixed" {
		t.Fatalf("explicit id replaced: %q", got[1].ID)
	}
}

func TestRemoveKeepsOrder(t *testing.T) {
	q := openTemp(t)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := q.Push(race.Operation{ID: id, Kind: race.OpWithdraw}); err != nil {
			t.Fatalf("push %s: %v", id, err)
		}
	}
	left, err := q.Remove("b", "missing")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if left != 2 {
		t.Fatalf("expected 2 left, got %d", left)
	}
	got, _ := q.Load()
	if got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("unexpected order %+v", got)
	}

	ops := Operations(got)
	if len(ops) != 2 || ops[1].ID != "c" {
		t.Fatalf("unexpected operations %+v", ops)
	}
}

func TestClear(t *testing.T) {
	q := openTemp(t)
	if _, err := q.Push(race.Operation{Kind: race.OpStart}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := q.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := os.Stat(q.Path()); !os.IsNotExist(err) {
		t.Fatalf("queue file still present: %v", err)
	}
	if err := q.Clear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}
