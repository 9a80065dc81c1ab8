package race

import "sort"

type Phase uint8

const (
	PhaseNotStarted Phase = iota
	PhaseInProgress
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseInProgress:
		return "in_progress"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

type GameState struct {
	Phase        Phase `json:"state"`
	StartTime    int64 `json:"start_time"`
	EndTime      int64 `json:"end_time"`
	TotalPlayers int64 `json:"total_players"`
	TotalItems   int64 `json:"total_items"`
	MaxPlayers   int64 `json:"max_players"`
}

// Car keeps only the stored components; the current speed is always derived.
type Car struct {
	ID         int   `json:"id"`
	BaseSpeed  int64 `json:"base_speed"`
	TotalBoost int64 `json:"total_boost"`
	ItemCount  int64 `json:"item_count"`
}

func (c Car) CurrentSpeed() int64 {
	return c.BaseSpeed + c.TotalBoost
}

func (c Car) View() CarView {
	return CarView{
		BaseSpeed:    c.BaseSpeed,
		TotalBoost:   c.TotalBoost,
		CurrentSpeed: c.CurrentSpeed(),
		ItemCount:    c.ItemCount,
	}
}

type CarView struct {
	BaseSpeed    int64 `json:"base_speed"`
	TotalBoost   int64 `json:"total_boost"`
	CurrentSpeed int64 `json:"current_speed"`
	ItemCount    int64 `json:"item_count"`
}

type EffectType uint8

const (
	EffectBoost EffectType = iota
	EffectSlow
)

func (e EffectType) String() string {
	if e == EffectSlow {
		return "slow"
	}
	return "boost"
}

var itemMultipliers = [4]int64{1, 2, 5, 10}

type Item struct {
	ID            uint32     `json:"id"`
	Owner         string     `json:"owner"`
	Multiplier    int64      `json:"multiplier"`
	EffectType    EffectType `json:"effect_type"`
	EffectValue   int64      `json:"effect_value"`
	Lucky         bool       `json:"lucky,omitempty"`
	CreatedAt     int64      `json:"created_at"`
	UsesRemaining int64      `json:"count"`
}

// PlayerAccount carries lifetime totals plus the figures of the round the
// player last bought in. Round is that round's number; the Round* fields
// only count toward rankings while it matches the current round.
type PlayerAccount struct {
	Address         string `json:"address"`
	TotalInvested   int64  `json:"total_invested"`
	TotalBoost      int64  `json:"total_boost"`
	Round           int64  `json:"round"`
	RoundInvested   int64  `json:"round_invested"`
	RoundBoost      int64  `json:"round_boost"`
	ItemCount       int64  `json:"item_count"`
	RewardBalance   int64  `json:"reward_balance"`
	Referrer        string `json:"referrer,omitempty"`
	ReferralRewards int64  `json:"referral_rewards"`
	ReferralCount   int64  `json:"referral_count"`
	Name            string `json:"name,omitempty"`
}

// PlayerData is the externally observable shape of a PlayerAccount: optional
// fields are null rather than empty.
type PlayerData struct {
	TotalInvested   int64   `json:"total_invested"`
	TotalBoost      int64   `json:"total_boost"`
	RoundInvested   int64   `json:"round_invested"`
	RoundBoost      int64   `json:"round_boost"`
	ItemCounter     int64   `json:"item_counter"`
	RewardBalance   int64   `json:"reward_balance"`
	Referrer        *string `json:"referrer"`
	ReferralRewards int64   `json:"referral_rewards"`
	ReferralCount   int64   `json:"referral_count"`
	Name            *string `json:"name"`
}

func (p *PlayerAccount) Data() PlayerData {
	out := PlayerData{
		TotalInvested:   p.TotalInvested,
		TotalBoost:      p.TotalBoost,
		RoundInvested:   p.RoundInvested,
		RoundBoost:      p.RoundBoost,
		ItemCounter:     p.ItemCount,
		RewardBalance:   p.RewardBalance,
		ReferralRewards: p.ReferralRewards,
		ReferralCount:   p.ReferralCount,
	}
	if p.Referrer != "" {
		ref := p.Referrer
		out.Referrer = &ref
	}
	if p.Name != "" {
		name := p.Name
		out.Name = &name
	}
	return out
}

type DistributionConfig struct {
	PrizePoolPercent int64 `json:"prize_pool_percent"`
	CommunityPercent int64 `json:"community_percent"`
	ReservePercent   int64 `json:"reserve_percent"`
}

type FundPools struct {
	PrizePool     int64 `json:"prize_pool"`
	CommunityPool int64 `json:"community_pool"`
	ReservePool   int64 `json:"reserve_pool"`
}

func (f FundPools) Total() int64 {
	return f.PrizePool + f.CommunityPool + f.ReservePool
}

type RankEntry struct {
	Rank     int    `json:"rank"`
	Address  string `json:"address"`
	Invested int64  `json:"invested"`
	Boost    int64  `json:"boost"`
	Score    int64  `json:"score"`
	Name     string `json:"name,omitempty"`
}

type DistributionStatus string

const (
	DistributionPaid      DistributionStatus = "distributed"
	DistributionSkipped   DistributionStatus = "skipped"
	DistributionNoPlayers DistributionStatus = "no_players"
)

type Award struct {
	Rank    int    `json:"rank"`
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

type Distribution struct {
	Round       int64              `json:"round"`
	Status      DistributionStatus `json:"status"`
	Reason      string             `json:"reason,omitempty"`
	PrizePool   int64              `json:"prize_pool"`
	Awards      []Award            `json:"awards,omitempty"`
	ToCommunity int64              `json:"to_community"`
	ToReserve   int64              `json:"to_reserve"`
	EndedAt     int64              `json:"ended_at"`
}

// State is the whole mutable aggregate. Every operation is applied to a
// private copy and swapped in only when it succeeds.
type State struct {
	Seq              int64                     `json:"seq"`
	Round            int64                     `json:"round"`
	Game             GameState                 `json:"game"`
	Cars             [2]Car                    `json:"cars"`
	Pools            FundPools                 `json:"pools"`
	TotalInvested    int64                     `json:"total_invested"`
	Players          map[string]*PlayerAccount `json:"players"`
	Items            map[uint32]*Item          `json:"items"`
	NextItemID       uint32                    `json:"next_item_id"`
	Rankings         []RankEntry               `json:"rankings,omitempty"`
	LastDistribution *Distribution             `json:"last_distribution,omitempty"`
	RolloverPending  bool                      `json:"rollover_pending"`

	// PendingTransfers are withdrawals committed but not yet confirmed by
	// the wallet, keyed by transfer ID.
	PendingTransfers map[string]*Transfer `json:"pending_transfers,omitempty"`

	// UnfundedReferrals totals referral credits, which are owed on top of
	// the pools rather than carved out of them.
	UnfundedReferrals int64 `json:"unfunded_referrals"`
}

func NewState(cfg Config) *State {
	st := &State{
		Game: GameState{
			Phase:      PhaseNotStarted,
			MaxPlayers: cfg.MaxPlayers,
		},
		Players: make(map[string]*PlayerAccount),
		Items:   make(map[uint32]*Item),
	}
	st.resetCars()
	return st
}

func (s *State) resetCars() {
	s.Cars = [2]Car{
		{ID: 1, BaseSpeed: BaseSpeed},
		{ID: 2, BaseSpeed: BaseSpeed},
	}
}

func (s *State) Clone() *State {
	out := *s
	out.Players = make(map[string]*PlayerAccount, len(s.Players))
	for addr, p := range s.Players {
		cp := *p
		out.Players[addr] = &cp
	}
	out.Items = make(map[uint32]*Item, len(s.Items))
	for id, it := range s.Items {
		cp := *it
		out.Items[id] = &cp
	}
	if s.PendingTransfers != nil {
		out.PendingTransfers = make(map[string]*Transfer, len(s.PendingTransfers))
		for id, t := range s.PendingTransfers {
			cp := *t
			out.PendingTransfers[id] = &cp
		}
	}
	if s.Rankings != nil {
		out.Rankings = append([]RankEntry(nil), s.Rankings...)
	}
	if s.LastDistribution != nil {
		d := *s.LastDistribution
		d.Awards = append([]Award(nil), s.LastDistribution.Awards...)
		out.LastDistribution = &d
	}
	return &out
}

func (s *State) car(id int) (*Car, error) {
	if id != 1 && id != 2 {
		return nil, ErrInvalidCar
	}
	return &s.Cars[id-1], nil
}

// LiveItems returns the owner's items that still have uses left, by id.
func (s *State) LiveItems(owner string) []Item {
	var out []Item
	for _, it := range s.Items {
		if it.Owner == owner && it.UsesRemaining > 0 {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func SpeedGap(c1, c2 Car) int64 {
	d := c1.CurrentSpeed() - c2.CurrentSpeed()
	if d < 0 {
		return -d
	}
	return d
}

// LeadingCar returns 1 or 2 for the faster car and 0 on a tie.
func LeadingCar(c1, c2 Car) int {
	switch s1, s2 := c1.CurrentSpeed(), c2.CurrentSpeed(); {
	case s1 > s2:
		return 1
	case s2 > s1:
		return 2
	default:
		return 0
	}
}
