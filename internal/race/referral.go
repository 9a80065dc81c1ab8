package race

import (
	"fmt"
	"strings"
)

type ReferralCredit struct {
	Referrer string `json:"referrer"`
	Amount   int64  `json:"amount"`
}

// assignReferrer links player to referrer at most once. Self-referral and
// empty input are ignored; an existing link never changes.
func assignReferrer(player *PlayerAccount, referrer string) bool {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" || referrer == player.Address || player.Referrer != "" {
		return false
	}
	player.Referrer = referrer
	return true
}

// creditReferral pays the player's referrer a cut of netAmount, but only when
// the referrer has an account with a registered name. Nothing is queued
// otherwise.
//
// The credit is not taken from any pool: the pools already hold the whole
// net amount, so every credit is a liability the operator funds separately.
// It is totalled in State.UnfundedReferrals and reported with the pools.
func creditReferral(st *State, player *PlayerAccount, netAmount int64, pct int64) *ReferralCredit {
	if player.Referrer == "" {
		return nil
	}
	ref, ok := st.Players[player.Referrer]
	if !ok || ref.Name == "" {
		return nil
	}
	amount := percentOf(netAmount, pct)
	ref.RewardBalance += amount
	ref.ReferralRewards += amount
	ref.ReferralCount++
	st.UnfundedReferrals += amount
	return &ReferralCredit{Referrer: ref.Address, Amount: amount}
}

// registerName sets the display name that also unlocks referral payouts.
func registerName(st *State, sender, name string) (string, error) {
	if st.Game.Phase != PhaseInProgress {
		return "", fmt.Errorf("%w: game is %s", ErrInvalidPhase, st.Game.Phase)
	}
	player, ok := st.Players[sender]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPlayerNotFound, sender)
	}
	clean, err := ValidateName(name)
	if err != nil {
		return "", err
	}
	player.Name = clean
	return clean, nil
}
