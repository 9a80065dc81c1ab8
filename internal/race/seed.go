package race

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

type SeedInput struct {
	Now     int64
	Sender  string
	Counter uint32
}

// SeedSource produces the entropy behind item effects. The default is a
// public hash of transaction data, so whoever orders transactions can
// predict or steer it. Swap in a verifiable source where that matters.
type SeedSource interface {
	Seed(in SeedInput) uint64
}

type SeedFunc func(in SeedInput) uint64

func (f SeedFunc) Seed(in SeedInput) uint64 { return f(in) }

type hashSeeds struct{}

// HashSeeds derives seeds with BLAKE2b-256 over (now, sender, counter).
func HashSeeds() SeedSource { return hashSeeds{} }

func (hashSeeds) Seed(in SeedInput) uint64 {
	buf := make([]byte, 0, 12+len(in.Sender))
	buf = binary.BigEndian.AppendUint64(buf, uint64(in.Now))
	buf = binary.BigEndian.AppendUint32(buf, in.Counter)
	buf = append(buf, in.Sender...)
	sum := blake2b.Sum256(buf)
	return binary.BigEndian.Uint64(sum[:8])
}

// itemEffect maps a seed onto an item's effect. Lucky purchases double the
// effect value with the strategy's chance.
func itemEffect(seed uint64, st Strategy) (EffectType, int64, int64, bool) {
	effect := EffectType(seed % 2)
	multiplier := itemMultipliers[(seed>>8)%uint64(len(itemMultipliers))]
	value := multiplier
	lucky := st.LuckyChancePercent > 0 && int64((seed>>16)%100) < st.LuckyChancePercent
	if lucky {
		value *= 2
	}
	if effect == EffectSlow {
		value = -value
	}
	return effect, multiplier, value, lucky
}
