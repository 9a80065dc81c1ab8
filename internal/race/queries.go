package race

import "fmt"

func (e *Engine) GameState() GameState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Game
}

func (e *Engine) GameDuration() int64 {
	return e.cfg.GameDuration
}

func (e *Engine) Car(id int) (CarView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	car, err := e.state.car(id)
	if err != nil {
		return CarView{}, fmt.Errorf("%w: %d", err, id)
	}
	return car.View(), nil
}

func (e *Engine) Cars() [2]CarView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return [2]CarView{e.state.Cars[0].View(), e.state.Cars[1].View()}
}

func (e *Engine) SpeedGap() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return SpeedGap(e.state.Cars[0], e.state.Cars[1])
}

func (e *Engine) LeadingCar() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return LeadingCar(e.state.Cars[0], e.state.Cars[1])
}

func (e *Engine) Pools() FundPools {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Pools
}

func (e *Engine) PrizePool() int64 { return e.Pools().PrizePool }
func (e *Engine) CommunityPool() int64 { return e.Pools().CommunityPool }
func (e *Engine) ReservePool() int64 { return e.Pools().ReservePool }

func (e *Engine) TotalInvested() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.TotalInvested
}

// UnfundedReferrals is the running total of referral credits owed beyond
// the pools.
func (e *Engine) UnfundedReferrals() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.UnfundedReferrals
}

// PendingTransfers lists withdrawals still waiting on the wallet, oldest
// first. An empty address lists everyone's.
func (e *Engine) PendingTransfers(address string) []Transfer {
	e.mu.Lock()
	defer e.mu.Unlock()
	all := pendingTransfers(e.state)
	if address == "" {
		return all
	}
	out := make([]Transfer, 0, len(all))
	for _, t := range all {
		if t.To == address {
			out = append(out, t)
		}
	}
	return out
}

func (e *Engine) DistributionConfig() DistributionConfig {
	return e.cfg.Distribution
}

func (e *Engine) PlayerData(address string) (PlayerData, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.state.Players[address]
	if !ok {
		return PlayerData{}, false
	}
	return p.Data(), true
}

// PlayerItemCount counts the player's items that can still be used.
func (e *Engine) PlayerItemCount(address string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.state.LiveItems(address))
}

// PlayerItem hides items that belong to someone else or are used up.
func (e *Engine) PlayerItem(address string, id uint32) (Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.state.Items[id]
	if !ok || it.Owner != address || it.UsesRemaining <= 0 {
		return Item{}, false
	}
	return *it, true
}

func (e *Engine) PlayerItems(address string) []Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.LiveItems(address)
}

// CalculateItemPrice prices the item at count, or at the current item count
// when count is nil.
func (e *Engine) CalculateItemPrice(count *int64) int64 {
	if count != nil {
		return ItemPrice(*count, e.cfg)
	}
	e.mu.Lock()
	n := e.state.Game.TotalItems
	e.mu.Unlock()
	return ItemPrice(n, e.cfg)
}

func (e *Engine) CalculateStrategyPrice(strategy int) (Quote, error) {
	e.mu.Lock()
	n := e.state.Game.TotalItems
	e.mu.Unlock()
	return QuoteFor(n, strategy, e.cfg)
}

func (e *Engine) BaseItemPrice() int64 { return e.cfg.BasePrice }
func (e *Engine) MaxItemPrice() int64 { return e.cfg.MaxItemPrice }
func (e *Engine) MaxPlayers() int64 { return e.cfg.MaxPlayers }
func (e *Engine) Owner() string { return e.cfg.Owner }

// Rankings is the top of the most recently ended round.
func (e *Engine) Rankings() []RankEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]RankEntry(nil), e.state.Rankings...)
}

func (e *Engine) Rank(n int) (RankEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n < 1 || n > len(e.state.Rankings) {
		return RankEntry{}, false
	}
	return e.state.Rankings[n-1], true
}

func (e *Engine) LastDistribution() (Distribution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.LastDistribution == nil {
		return Distribution{}, false
	}
	d := *e.state.LastDistribution
	d.Awards = append([]Award(nil), d.Awards...)
	return d, true
}
