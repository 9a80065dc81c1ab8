package race

import (
	"fmt"
	"strings"
)

type BuyInput struct {
	Sender   string
	Value    int64
	Referrer string
	Strategy int
}

// BuyResult reports an accepted purchase. Refund is the part of the attached
// value above the final price; it is never collected from the sender.
// NewPlayer marks the sender's first purchase of the round.
type BuyResult struct {
	Item      Item            `json:"item"`
	Quote     Quote           `json:"quote"`
	Refund    int64           `json:"refund"`
	NewPlayer bool            `json:"new_player"`
	Referral  *ReferralCredit `json:"referral,omitempty"`
}

// buyItem runs every precondition before touching st, in the documented
// order: phase, player cap (senders not yet in this round), strategy,
// attached value. Accounts carried over from earlier rounds count against
// the cap again on their first purchase of the round.
func buyItem(st *State, in BuyInput, env Env) (BuyResult, error) {
	sender := strings.TrimSpace(in.Sender)
	if sender == "" {
		return BuyResult{}, fmt.Errorf("%w: sender is required", ErrInvalidOperation)
	}
	if st.Game.Phase != PhaseInProgress {
		return BuyResult{}, fmt.Errorf("%w: game is %s", ErrInvalidPhase, st.Game.Phase)
	}
	player, exists := st.Players[sender]
	joined := exists && player.Round == st.Round
	if !joined && st.Game.TotalPlayers >= st.Game.MaxPlayers {
		return BuyResult{}, fmt.Errorf("%w: %d/%d", ErrPlayerCapReached, st.Game.TotalPlayers, st.Game.MaxPlayers)
	}
	strategy, err := StrategyByID(in.Strategy)
	if err != nil {
		return BuyResult{}, err
	}
	quote, err := QuoteFor(st.Game.TotalItems, strategy.ID, env.Config)
	if err != nil {
		return BuyResult{}, err
	}
	if in.Value < quote.FinalPrice {
		return BuyResult{}, fmt.Errorf("%w: need %s TON, attached %s TON", ErrInsufficientValue, FormatTON(quote.FinalPrice), FormatTON(in.Value))
	}

	out := BuyResult{Quote: quote, Refund: in.Value - quote.FinalPrice}
	if !exists {
		player = &PlayerAccount{Address: sender}
		st.Players[sender] = player
	}
	if !joined {
		player.Round = st.Round
		player.RoundInvested = 0
		player.RoundBoost = 0
		st.Game.TotalPlayers++
		out.NewPlayer = true
	}

	st.NextItemID++
	seed := env.seeds().Seed(SeedInput{Now: env.Now, Sender: sender, Counter: st.NextItemID})
	effect, multiplier, value, lucky := itemEffect(seed, strategy)
	item := &Item{
		ID:            st.NextItemID,
		Owner:         sender,
		Multiplier:    multiplier,
		EffectType:    effect,
		EffectValue:   value,
		Lucky:         lucky,
		CreatedAt:     env.Now,
		UsesRemaining: 1,
	}
	st.Items[item.ID] = item
	st.Game.TotalItems++

	player.ItemCount++
	player.TotalInvested += quote.FinalPrice
	player.TotalBoost += value
	player.RoundInvested += quote.FinalPrice
	player.RoundBoost += value
	player.RewardBalance += quote.Cashback
	st.TotalInvested += quote.FinalPrice

	st.Pools.deposit(quote.NetAmount, env.Config.Distribution)

	assignReferrer(player, in.Referrer)
	out.Referral = creditReferral(st, player, quote.NetAmount, env.Config.ReferralPercent)
	out.Item = *item
	return out, nil
}
