package race

import (
	"fmt"
	"strings"
)

type Config struct {
	Owner           string
	BasePrice       int64
	MaxItemPrice    int64
	MaxItems        int64
	MaxPlayers      int64
	GameDuration    int64 // seconds
	Distribution    DistributionConfig
	ReferralPercent int64
	MinGasReserve   int64
	PrizeSplit      [3]int64

	// ResetPlayersOnStart clears round statistics (accounts, items, referral
	// links, counters) when a new round starts. Pending reward balances and
	// registered names always survive so earned funds stay withdrawable.
	ResetPlayersOnStart bool

	// ScoreBoostWeight is the nano value of one boost point in DefaultScore.
	ScoreBoostWeight int64
}

func DefaultConfig(owner string) Config {
	return Config{
		Owner:        strings.TrimSpace(owner),
		BasePrice:    DefaultBasePrice,
		MaxItemPrice: DefaultMaxItemPrice,
		MaxItems:     DefaultMaxItems,
		MaxPlayers:   DefaultMaxPlayers,
		GameDuration: DefaultGameDuration,
		Distribution: DistributionConfig{
			PrizePoolPercent: 60,
			CommunityPercent: 20,
			ReservePercent:   20,
		},
		ReferralPercent:  DefaultReferralPercent,
		MinGasReserve:    DefaultMinGasReserve,
		PrizeSplit:       [3]int64{50, 30, 20},
		ScoreBoostWeight: DefaultScoreBoostWeight,
	}
}

func (c Config) Validate() error {
	if c.Owner == "" {
		return fmt.Errorf("owner address is required")
	}
	if c.BasePrice <= 0 {
		return fmt.Errorf("base price must be > 0")
	}
	if c.MaxItemPrice < c.BasePrice {
		return fmt.Errorf("max item price must be >= base price")
	}
	if c.MaxItems <= 0 {
		return fmt.Errorf("max items must be > 0")
	}
	if c.MaxPlayers <= 0 {
		return fmt.Errorf("max players must be > 0")
	}
	if c.GameDuration <= 0 {
		return fmt.Errorf("game duration must be > 0")
	}
	d := c.Distribution
	if d.PrizePoolPercent < 0 || d.CommunityPercent < 0 || d.ReservePercent < 0 {
		return fmt.Errorf("distribution percents must be >= 0")
	}
	if sum := d.PrizePoolPercent + d.CommunityPercent + d.ReservePercent; sum != 100 {
		return fmt.Errorf("distribution percents must sum to 100, got %d", sum)
	}
	var split int64
	for _, p := range c.PrizeSplit {
		if p < 0 {
			return fmt.Errorf("prize split percents must be >= 0")
		}
		split += p
	}
	if split != 100 {
		return fmt.Errorf("prize split must sum to 100, got %d", split)
	}
	if c.ReferralPercent < 0 || c.ReferralPercent > 100 {
		return fmt.Errorf("referral percent must be within 0..100")
	}
	if c.MinGasReserve < 0 {
		return fmt.Errorf("min gas reserve must be >= 0")
	}
	if c.ScoreBoostWeight < 0 {
		return fmt.Errorf("score boost weight must be >= 0")
	}
	return nil
}
