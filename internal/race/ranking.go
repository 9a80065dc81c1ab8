package race

import (
	"fmt"
	"sort"
)

const rankedPlaces = 3

// ScoreFunc ranks a player at the end of a round. Higher is better.
type ScoreFunc func(p PlayerAccount, cfg Config) int64

// DefaultScore is this round's investment plus the boost bought this round
// valued at ScoreBoostWeight nano per point. Slow items lower the score.
func DefaultScore(p PlayerAccount, cfg Config) int64 {
	return p.RoundInvested + p.RoundBoost*cfg.ScoreBoostWeight
}

// InvestmentScore ignores boost entirely.
func InvestmentScore(p PlayerAccount, _ Config) int64 {
	return p.RoundInvested
}

// Rank orders every player who invested in round by score, breaking ties by
// ascending address, and returns the top n. Lifetime totals play no part.
func Rank(players map[string]*PlayerAccount, round int64, n int, score ScoreFunc, cfg Config) []RankEntry {
	if score == nil {
		score = DefaultScore
	}
	entries := make([]RankEntry, 0, len(players))
	for _, p := range players {
		if p.Round != round || p.RoundInvested <= 0 {
			continue
		}
		entries = append(entries, RankEntry{
			Address:  p.Address,
			Invested: p.RoundInvested,
			Boost:    p.RoundBoost,
			Score:    score(*p, cfg),
			Name:     p.Name,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Address < entries[j].Address
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// settleRound ranks the round and empties the prize pool. Below the gas
// reserve nothing is paid: the pool is split 50/50 between community and
// reserve and the reserve is rolled into the next round's prize pool.
func settleRound(st *State, env Env) Distribution {
	prize := st.Pools.PrizePool
	st.Rankings = Rank(st.Players, st.Round, rankedPlaces, env.Score, env.Config)
	d := Distribution{Round: st.Round, PrizePool: prize, EndedAt: env.Now}

	switch {
	case prize < env.Config.MinGasReserve:
		d.Status = DistributionSkipped
		d.Reason = fmt.Sprintf("prize pool %s TON below gas reserve %s TON", FormatTON(prize), FormatTON(env.Config.MinGasReserve))
		d.ToCommunity = prize / 2
		d.ToReserve = prize - d.ToCommunity
	case len(st.Rankings) == 0:
		d.Status = DistributionNoPlayers
		d.Reason = "no ranked players"
		d.ToReserve = prize
	default:
		d.Status = DistributionPaid
		var paid int64
		for i, entry := range st.Rankings {
			amount := percentOf(prize, env.Config.PrizeSplit[i])
			st.Players[entry.Address].RewardBalance += amount
			paid += amount
			d.Awards = append(d.Awards, Award{Rank: entry.Rank, Address: entry.Address, Amount: amount})
		}
		// unfilled places and rounding dust
		d.ToReserve = prize - paid
	}

	st.Pools.CommunityPool += d.ToCommunity
	st.Pools.ReservePool += d.ToReserve
	st.Pools.PrizePool = 0
	st.RolloverPending = d.Status != DistributionPaid
	st.LastDistribution = &d
	return d
}
