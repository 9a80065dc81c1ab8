package race

import "fmt"

type StartResult struct {
	Round          int64 `json:"round"`
	StartTime      int64 `json:"start_time"`
	EndTime        int64 `json:"end_time"`
	RolledOver     int64 `json:"rolled_over"`
	PlayersCleared bool  `json:"players_cleared"`
}

func startGame(st *State, sender string, env Env) (StartResult, error) {
	if sender != env.Config.Owner {
		return StartResult{}, ErrUnauthorized
	}
	if st.Game.Phase != PhaseNotStarted && st.Game.Phase != PhaseEnded {
		return StartResult{}, fmt.Errorf("%w: game is %s", ErrInvalidPhase, st.Game.Phase)
	}

	var out StartResult
	if st.RolloverPending {
		out.RolledOver = st.Pools.rollReserve()
		st.RolloverPending = false
	}
	if env.Config.ResetPlayersOnStart {
		resetPlayers(st)
		out.PlayersCleared = true
	}

	st.Round++
	st.Game.TotalPlayers = 0
	for _, p := range st.Players {
		p.RoundInvested = 0
		p.RoundBoost = 0
	}
	st.Game.Phase = PhaseInProgress
	st.Game.StartTime = env.Now
	st.Game.EndTime = env.Now + env.Config.GameDuration
	st.Game.MaxPlayers = env.Config.MaxPlayers
	st.resetCars()

	out.Round = st.Round
	out.StartTime = st.Game.StartTime
	out.EndTime = st.Game.EndTime
	return out, nil
}

// resetPlayers drops accounts and items. Accounts holding an unpaid reward
// balance are kept with only that balance and their name; they rejoin the
// player count on their next purchase.
func resetPlayers(st *State) {
	kept := make(map[string]*PlayerAccount)
	for addr, p := range st.Players {
		if p.RewardBalance == 0 {
			continue
		}
		kept[addr] = &PlayerAccount{Address: addr, RewardBalance: p.RewardBalance, Name: p.Name}
	}
	st.Players = kept
	st.Items = make(map[uint32]*Item)
	st.Game.TotalPlayers = 0
	st.Game.TotalItems = 0
	st.TotalInvested = 0
}

// endGame is open to the owner at any time and to anyone once the round
// has expired, which is how the automatic end is driven.
func endGame(st *State, sender string, env Env) (Distribution, error) {
	if st.Game.Phase != PhaseInProgress {
		return Distribution{}, fmt.Errorf("%w: game is %s", ErrInvalidPhase, st.Game.Phase)
	}
	if sender != env.Config.Owner && env.Now < st.Game.EndTime {
		return Distribution{}, ErrUnauthorized
	}
	st.Game.Phase = PhaseEnded
	if env.Now < st.Game.EndTime {
		st.Game.EndTime = env.Now
	}
	return settleRound(st, env), nil
}

func expired(st *State, now int64) bool {
	return st.Game.Phase == PhaseInProgress && now >= st.Game.EndTime
}
