package race

import (
	"context"
	"fmt"
	"sort"
)

// Transfer is a payout owed to a player. ID doubles as the wallet
// idempotency key, so sending the same transfer twice moves money once.
type Transfer struct {
	ID        string `json:"id"`
	To        string `json:"to"`
	Amount    int64  `json:"amount"`
	CreatedAt int64  `json:"created_at"`
}

type SettleOutcome string

const (
	TransferPaid     SettleOutcome = "paid"
	TransferReversed SettleOutcome = "reversed"
)

type Settlement struct {
	Transfer Transfer      `json:"transfer"`
	Outcome  SettleOutcome `json:"outcome"`
}

// Funds is the external wallet the game collects purchases from and pays
// rewards to. key is an idempotency key: a repeated call with the same key
// must not move money again. Transfer errors wrapping ErrTransferRejected
// are final; any other error is retried later.
type Funds interface {
	Debit(ctx context.Context, from string, amount int64, key string) error
	Transfer(ctx context.Context, to string, amount int64, key string) error
}

// withdraw zeroes the balance and records the payout as pending in the
// same state change. The wallet is called only after that change commits.
// It is allowed in any phase so prizes credited at round end stay claimable.
func withdraw(st *State, sender, id string, now int64) (Transfer, error) {
	player, ok := st.Players[sender]
	if !ok || player.RewardBalance <= 0 {
		return Transfer{}, ErrNothingToWithdraw
	}
	if _, dup := st.PendingTransfers[id]; dup {
		return Transfer{}, fmt.Errorf("%w: transfer %s already pending", ErrDuplicateOperation, id)
	}
	t := Transfer{ID: id, To: sender, Amount: player.RewardBalance, CreatedAt: now}
	player.RewardBalance = 0
	if st.PendingTransfers == nil {
		st.PendingTransfers = make(map[string]*Transfer)
	}
	st.PendingTransfers[id] = &t
	return t, nil
}

// settleTransfer closes a pending transfer. A paid transfer is dropped; a
// reversed one goes back onto the player's reward balance.
func settleTransfer(st *State, sender, id string, outcome SettleOutcome) (Settlement, error) {
	if sender != SystemSender {
		return Settlement{}, ErrUnauthorized
	}
	t, ok := st.PendingTransfers[id]
	if !ok {
		return Settlement{}, fmt.Errorf("%w: %s", ErrTransferNotFound, id)
	}
	switch outcome {
	case TransferPaid:
	case TransferReversed:
		player, ok := st.Players[t.To]
		if !ok {
			// the account may have been dropped by a player reset
			player = &PlayerAccount{Address: t.To}
			st.Players[t.To] = player
		}
		player.RewardBalance += t.Amount
	default:
		return Settlement{}, fmt.Errorf("%w: unknown outcome %q", ErrInvalidOperation, outcome)
	}
	delete(st.PendingTransfers, id)
	return Settlement{Transfer: *t, Outcome: outcome}, nil
}

func pendingTransfers(st *State) []Transfer {
	out := make([]Transfer, 0, len(st.PendingTransfers))
	for _, t := range st.PendingTransfers {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}
