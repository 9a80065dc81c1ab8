package race

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type OpKind string

const (
	OpStart        OpKind = "start"
	OpEnd          OpKind = "end"
	OpBuyItem      OpKind = "buy_item"
	OpUseItem      OpKind = "use_item"
	OpRegisterName OpKind = "register_name"
	OpWithdraw     OpKind = "withdraw_reward"

	OpSettleTransfer  OpKind = "settle_transfer"
	OpReverseTransfer OpKind = "reverse_transfer"
)

// SystemSender is the sender of the automatic end of an expired round and
// of transfer settlements. No player can act as it.
const SystemSender = "system"

// PlayerKind reports whether players may submit kind themselves.
func PlayerKind(kind OpKind) bool {
	switch kind {
	case OpStart, OpEnd, OpBuyItem, OpUseItem, OpRegisterName, OpWithdraw:
		return true
	}
	return false
}

type Operation struct {
	ID       string `json:"id,omitempty"`
	Kind     OpKind `json:"kind"`
	Sender   string `json:"sender"`
	Value    int64  `json:"value,omitempty"`
	Referrer string `json:"referrer,omitempty"`
	Strategy int    `json:"strategy,omitempty"`
	ItemID   uint32 `json:"item_id,omitempty"`
	CarID    int    `json:"car_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Transfer string `json:"transfer,omitempty"`
}

type Env struct {
	Now    int64
	Config Config
	Seeds  SeedSource
	Score  ScoreFunc
}

func (e Env) seeds() SeedSource {
	if e.Seeds == nil {
		return HashSeeds()
	}
	return e.Seeds
}

// Effects is what an accepted operation asks of the outside world, plus the
// details callers display.
type Effects struct {
	Kind         OpKind        `json:"kind"`
	Start        *StartResult  `json:"start,omitempty"`
	Buy          *BuyResult    `json:"buy,omitempty"`
	Use          *UseResult    `json:"use,omitempty"`
	Name         string        `json:"name,omitempty"`
	Transfer     *Transfer     `json:"transfer,omitempty"`
	Settlement   *Settlement   `json:"settlement,omitempty"`
	Distribution *Distribution `json:"distribution,omitempty"`
}

// Apply runs one operation against st. Preconditions are checked before any
// write, so a returned error means st is unchanged.
func Apply(st *State, op Operation, env Env) (Effects, error) {
	op.Sender = strings.TrimSpace(op.Sender)
	fx := Effects{Kind: op.Kind}
	switch op.Kind {
	case OpStart:
		res, err := startGame(st, op.Sender, env)
		if err != nil {
			return Effects{}, err
		}
		fx.Start = &res
	case OpEnd:
		d, err := endGame(st, op.Sender, env)
		if err != nil {
			return Effects{}, err
		}
		fx.Distribution = &d
	case OpBuyItem:
		res, err := buyItem(st, BuyInput{
			Sender:   op.Sender,
			Value:    op.Value,
			Referrer: op.Referrer,
			Strategy: op.Strategy,
		}, env)
		if err != nil {
			return Effects{}, err
		}
		fx.Buy = &res
	case OpUseItem:
		res, err := useItem(st, op.Sender, op.ItemID, op.CarID)
		if err != nil {
			return Effects{}, err
		}
		fx.Use = &res
	case OpRegisterName:
		name, err := registerName(st, op.Sender, op.Name)
		if err != nil {
			return Effects{}, err
		}
		fx.Name = name
	case OpWithdraw:
		t, err := withdraw(st, op.Sender, transferID(st, op), env.Now)
		if err != nil {
			return Effects{}, err
		}
		fx.Transfer = &t
	case OpSettleTransfer, OpReverseTransfer:
		outcome := TransferPaid
		if op.Kind == OpReverseTransfer {
			outcome = TransferReversed
		}
		res, err := settleTransfer(st, op.Sender, op.Transfer, outcome)
		if err != nil {
			return Effects{}, err
		}
		fx.Settlement = &res
	default:
		return Effects{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
	st.Seq++
	return fx, nil
}

// transferID is the operation ID, which callers also send to the wallet as
// the idempotency key. Operations without one fall back to their sequence
// number, which is unique within a journal.
func transferID(st *State, op Operation) string {
	if id := strings.TrimSpace(op.ID); id != "" {
		return id
	}
	return fmt.Sprintf("seq-%d", st.Seq+1)
}

type JournalEntry struct {
	Seq     int64     `json:"seq"`
	At      int64     `json:"at"`
	Op      Operation `json:"op"`
	Effects Effects   `json:"effects"`
}

// Replay rebuilds state from a journal. Entries must be in sequence order and
// the seed source must be the one used when they were recorded.
func Replay(cfg Config, entries []JournalEntry, seeds SeedSource, score ScoreFunc) (*State, error) {
	st := NewState(cfg)
	for _, e := range entries {
		if e.Seq != st.Seq+1 {
			return nil, fmt.Errorf("journal gap: have seq %d, next entry %d", st.Seq, e.Seq)
		}
		env := Env{Now: e.At, Config: cfg, Seeds: seeds, Score: score}
		if _, err := Apply(st, e.Op, env); err != nil {
			return nil, fmt.Errorf("replay seq %d (%s): %w", e.Seq, e.Op.Kind, err)
		}
	}
	return st, nil
}

// Verify replays the journal up to snapshot.Seq and checks the result
// against snapshot. Entries past the snapshot were committed after it was
// read and are ignored.
func Verify(cfg Config, snapshot *State, entries []JournalEntry, seeds SeedSource, score ScoreFunc) error {
	if snapshot == nil {
		snapshot = NewState(cfg)
	}
	n := sort.Search(len(entries), func(i int) bool { return entries[i].Seq > snapshot.Seq })
	replayed, err := Replay(cfg, entries[:n], seeds, score)
	if err != nil {
		return err
	}
	if replayed.Seq != snapshot.Seq {
		return fmt.Errorf("journal ends at seq %d, snapshot is at %d", replayed.Seq, snapshot.Seq)
	}
	want, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	got, err := json.Marshal(replayed)
	if err != nil {
		return err
	}
	if !bytes.Equal(want, got) {
		return fmt.Errorf("replay of %d entries diverges from snapshot at seq %d", n, snapshot.Seq)
	}
	return nil
}
