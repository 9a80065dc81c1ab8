package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mdp/qrterminal/v3"
	"golang.org/x/term"

	cl "racegame/internal/cli"
	"racegame/internal/race"
	"racegame/internal/syncq"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// promptSecret hides input on a terminal and falls back to a plain prompt
// when stdin is piped.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func ton(v int64) string {
	return race.FormatTON(v) + " TON"
}

func colorizeTON(v int64) string {
	text := ton(v)
	switch {
	case v > 0:
		return success.Sprint("+" + text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func remaining(g race.GameState, now time.Time) string {
	if g.Phase != race.PhaseInProgress {
		return "-"
	}
	left := time.Duration(g.EndTime-now.Unix()) * time.Second
	if left <= 0 {
		return "expired"
	}
	return left.String()
}

func leaderLabel(leader int) string {
	if leader == 0 {
		return "tied"
	}
	return fmt.Sprintf("car %d", leader)
}

func renderStatus(game cl.GameResponse, cars cl.CarsResponse, pools cl.PoolsResponse, now time.Time) {
	accent.Printf("\n== RACE (%s) ==\n", game.Phase)
	fmt.Printf("Players:        %d/%d\n", game.Game.TotalPlayers, game.Game.MaxPlayers)
	fmt.Printf("Items sold:     %d\n", game.Game.TotalItems)
	fmt.Printf("Time left:      %s\n", remaining(game.Game, now))

	fmt.Println()
	accent.Println("Cars")
	fmt.Printf("%-5s %8s %8s %8s %6s\n", "CAR", "BASE", "BOOST", "SPEED", "ITEMS")
	for i, c := range cars.Cars {
		fmt.Printf("%-5d %8d %8d %8d %6d\n", i+1, c.BaseSpeed, c.TotalBoost, c.CurrentSpeed, c.ItemCount)
	}
	fmt.Printf("Leader: %s (gap %d)\n", leaderLabel(cars.Leader), cars.Gap)

	fmt.Println()
	accent.Println("Pools")
	fmt.Printf("Prize:          %s\n", ton(pools.PrizePool))
	fmt.Printf("Community:      %s\n", ton(pools.CommunityPool))
	fmt.Printf("Reserve:        %s\n", ton(pools.ReservePool))
	fmt.Printf("Total invested: %s\n", ton(pools.TotalInvested))
	fmt.Println()
}

func renderQuote(q race.Quote) {
	accent.Printf("Strategy %d\n", q.Strategy)
	fmt.Printf("Base price:  %s\n", ton(q.BasePrice))
	fmt.Printf("You pay:     %s\n", ton(q.FinalPrice))
	fmt.Printf("Cashback:    %s\n", colorizeTON(q.Cashback))
	fmt.Printf("Into pools:  %s\n", ton(q.NetAmount))
}

func renderStrategies(price int64, strategies []race.Strategy) {
	accent.Printf("Current item price: %s\n\n", ton(price))
	fmt.Printf("%-3s %-14s %9s %9s %7s\n", "ID", "STRATEGY", "DISCOUNT", "CASHBACK", "LUCKY")
	for _, s := range strategies {
		lucky := "-"
		if s.LuckyChancePercent > 0 {
			lucky = fmt.Sprintf("%d%%", s.LuckyChancePercent)
		}
		fmt.Printf("%-3d %-14s %8d%% %8d%% %7s\n", s.ID, s.Name, s.DiscountPercent, s.CashbackPercent, lucky)
	}
}

func describeItem(it race.Item) string {
	desc := fmt.Sprintf("#%d %s %+d (x%d)", it.ID, it.EffectType, it.EffectValue, it.Multiplier)
	if it.Lucky {
		desc += " lucky"
	}
	return desc
}

func renderBuy(fx race.Effects) {
	b := fx.Buy
	if b == nil {
		printInfo("Done.")
		return
	}
	printSuccess("Bought item " + describeItem(b.Item))
	fmt.Printf("Paid %s, cashback %s", ton(b.Quote.FinalPrice), ton(b.Quote.Cashback))
	if b.Refund > 0 {
		fmt.Printf(", refund %s", ton(b.Refund))
	}
	fmt.Println()
	if b.Referral != nil {
		printInfo(fmt.Sprintf("Referrer %s credited %s", b.Referral.Referrer, ton(b.Referral.Amount)))
	}
}

func renderUse(fx race.Effects) {
	u := fx.Use
	if u == nil {
		printInfo("Done.")
		return
	}
	printSuccess("Used " + describeItem(u.Item))
	fmt.Printf("Car speed now %d (base %d, boost %d)\n", u.Car.CurrentSpeed, u.Car.BaseSpeed, u.Car.TotalBoost)
}

func renderItems(items []race.Item) {
	if len(items) == 0 {
		printInfo("No unused items.")
		return
	}
	for _, it := range items {
		fmt.Println(describeItem(it))
	}
}

func renderPlayer(p cl.PlayerResponse) {
	accent.Printf("Player %s\n", p.Address)
	if p.Player == nil {
		printInfo("No purchases yet.")
		return
	}
	d := p.Player
	if d.Name != nil {
		fmt.Printf("Name:             %s\n", *d.Name)
	}
	fmt.Printf("Invested:         %s (this round %s)\n", ton(d.TotalInvested), ton(d.RoundInvested))
	fmt.Printf("Boost:            %d (this round %d)\n", d.TotalBoost, d.RoundBoost)
	fmt.Printf("Items bought:     %d (%d unused)\n", d.ItemCounter, p.ItemCount)
	fmt.Printf("Reward balance:   %s\n", colorizeTON(d.RewardBalance))
	if d.Referrer != nil {
		fmt.Printf("Referrer:         %s\n", *d.Referrer)
	}
	fmt.Printf("Referral rewards: %s from %d players\n", ton(d.ReferralRewards), d.ReferralCount)
	for _, t := range p.PendingTransfers {
		warn.Printf("Pending payout:   %s (transfer %s)\n", ton(t.Amount), t.ID)
	}
}

func renderReferral(address string) {
	hint := fmt.Sprintf("race buy <ton> --referrer %s", address)
	accent.Println("Scan to play with you as referrer")
	qrterminal.GenerateHalfBlock(hint, qrterminal.L, os.Stdout)
	fmt.Println(hint)
}

func renderRankings(rows []race.RankEntry) {
	accent.Println("Rankings")
	if len(rows) == 0 {
		printInfo("No players yet.")
		return
	}
	fmt.Printf("%-5s %-24s %16s %8s\n", "RANK", "PLAYER", "INVESTED", "BOOST")
	for _, r := range rows {
		who := r.Address
		if r.Name != "" {
			who = r.Name
		}
		fmt.Printf("%-5d %-24s %16s %8d\n", r.Rank, truncate(who, 24), ton(r.Invested), r.Boost)
	}
}

func renderDistribution(d race.Distribution) {
	fmt.Println()
	accent.Printf("Round %d payout: %s\n", d.Round, d.Status)
	if d.Reason != "" {
		printInfo(d.Reason)
	}
	for _, aw := range d.Awards {
		fmt.Printf("  #%d %-24s %s\n", aw.Rank, truncate(aw.Address, 24), ton(aw.Amount))
	}
	if d.ToCommunity > 0 {
		fmt.Printf("  community        %s\n", ton(d.ToCommunity))
	}
	if d.ToReserve > 0 {
		fmt.Printf("  reserve          %s\n", ton(d.ToReserve))
	}
}

func renderAdmin(fx race.Effects) {
	switch {
	case fx.Start != nil:
		printSuccess(fmt.Sprintf("Round started, ends at %s", time.Unix(fx.Start.EndTime, 0).Format(time.RFC3339)))
	case fx.Distribution != nil:
		renderDistribution(*fx.Distribution)
	default:
		printInfo("Done.")
	}
}

func renderQueue(pending []syncq.Command) {
	if len(pending) == 0 {
		printInfo("Sync queue is empty.")
		return
	}
	fmt.Printf("%-36s %-14s %s\n", "ID", "KIND", "QUEUED")
	for _, c := range pending {
		fmt.Printf("%-36s %-14s %s\n", c.ID, c.Kind, c.QueuedAt.Local().Format(time.DateTime))
	}
}
