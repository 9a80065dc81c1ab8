package race

import "fmt"

type Strategy struct {
	ID                 int    `json:"id"`
	Name               string `json:"name"`
	DiscountPercent    int64  `json:"discount_percent"`
	CashbackPercent    int64  `json:"cashback_percent"`
	LuckyChancePercent int64  `json:"lucky_chance_percent,omitempty"`
}

var strategies = [...]Strategy{
	{ID: 0, Name: "Conservative", CashbackPercent: 10},
	{ID: 1, Name: "Balanced", CashbackPercent: 5},
	{ID: 2, Name: "Aggressive", DiscountPercent: 5, CashbackPercent: 2},
	{ID: 3, Name: "Lucky", CashbackPercent: 3, LuckyChancePercent: 10},
}

func Strategies() []Strategy {
	return append([]Strategy(nil), strategies[:]...)
}

func StrategyByID(id int) (Strategy, error) {
	if id < 0 || id >= len(strategies) {
		return Strategy{}, fmt.Errorf("%w: %d", ErrInvalidStrategy, id)
	}
	return strategies[id], nil
}

// ItemPrice is the elliptical curve: base * (100 + (ratio^2)/100) / 100 with
// ratio = totalItems*100/maxItems, clamped to MaxItemPrice.
func ItemPrice(totalItems int64, cfg Config) int64 {
	if totalItems < 0 {
		totalItems = 0
	}
	ratio, ok := mulDiv(totalItems, 100, cfg.MaxItems)
	if !ok {
		return cfg.MaxItemPrice
	}
	ratioSquared, ok := mulDiv(ratio, ratio, 100)
	if !ok {
		return cfg.MaxItemPrice
	}
	price, ok := mulDiv(cfg.BasePrice, 100+ratioSquared, 100)
	if !ok || (cfg.MaxItemPrice > 0 && price > cfg.MaxItemPrice) {
		return cfg.MaxItemPrice
	}
	return price
}

type Quote struct {
	Strategy   int   `json:"strategy"`
	BasePrice  int64 `json:"base_price"`
	FinalPrice int64 `json:"final_price"`
	Cashback   int64 `json:"cashback"`
	NetAmount  int64 `json:"net_amount"`
}

func QuoteFor(totalItems int64, strategyID int, cfg Config) (Quote, error) {
	st, err := StrategyByID(strategyID)
	if err != nil {
		return Quote{}, err
	}
	base := ItemPrice(totalItems, cfg)
	final := percentOf(base, 100-st.DiscountPercent)
	cashback := percentOf(final, st.CashbackPercent)
	return Quote{
		Strategy:   st.ID,
		BasePrice:  base,
		FinalPrice: final,
		Cashback:   cashback,
		NetAmount:  final - cashback,
	}, nil
}
