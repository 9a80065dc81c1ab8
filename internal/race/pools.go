package race

// Split divides amount by the configured percentages. Rounding dust goes to
// the reserve share so the three parts always add up to amount.
func (d DistributionConfig) Split(amount int64) (prize, community, reserve int64) {
	prize = percentOf(amount, d.PrizePoolPercent)
	community = percentOf(amount, d.CommunityPercent)
	reserve = amount - prize - community
	return prize, community, reserve
}

func (f *FundPools) deposit(amount int64, cfg DistributionConfig) {
	prize, community, reserve := cfg.Split(amount)
	f.PrizePool += prize
	f.CommunityPool += community
	f.ReservePool += reserve
}

// rollReserve moves the reserve into the prize pool; used when the previous
// round skipped its distribution.
func (f *FundPools) rollReserve() int64 {
	moved := f.ReservePool
	f.PrizePool += moved
	f.ReservePool = 0
	return moved
}
