package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cl "racegame/internal/cli"
	"racegame/internal/config"
	"racegame/internal/race"
	"racegame/internal/syncq"
)

type app struct {
	apiBase  string
	sessions cl.Store
}

func main() {
	_ = config.LoadDotEnv()
	cfg := config.LoadCLIFromEnv()
	a := &app{apiBase: cfg.APIBaseURL}

	root := &cobra.Command{
		Use:          "race",
		Short:        "Two-car race game client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.apiBase, "api", a.apiBase, "API base URL")

	root.AddCommand(
		a.newLoginCmd(),
		a.newLogoutCmd(),
		a.newStatusCmd(),
		a.newWatchCmd(),
		a.newPriceCmd(),
		a.newBuyCmd(),
		a.newUseCmd(),
		a.newItemsCmd(),
		a.newNameCmd(),
		a.newWithdrawCmd(),
		a.newMeCmd(),
		a.newReferralCmd(),
		a.newLeaderboardCmd(),
		a.newSyncCmd(),
		a.newQueueCmd(),
		a.newAdminCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) client() *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(a.apiBase), "/"))
}

func (a *app) session() (cl.Session, error) {
	sess, err := a.sessions.Load()
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

func (a *app) newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [token]",
		Short: "Save a wallet session token",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if len(args) > 0 {
				token = strings.TrimSpace(args[0])
			}
			if token == "" {
				var err error
				if token, err = promptSecret("Wallet token"); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			me, err := a.client().Me(ctx, token)
			if err != nil {
				return err
			}
			if err := a.sessions.Save(cl.Session{
				AccessToken: token,
				Address:     me.Address,
			}); err != nil {
				return err
			}
			printSuccess("Logged in as " + me.Address)
			return nil
		},
	}
}

func (a *app) newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.sessions.Clear(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func (a *app) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"state"},
		Short:   "Show the round, both cars and the pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			c := a.client()
			game, err := c.Game(ctx)
			if err != nil {
				return err
			}
			cars, err := c.Cars(ctx)
			if err != nil {
				return err
			}
			pools, err := c.Pools(ctx)
			if err != nil {
				return err
			}
			renderStatus(game, cars, pools, time.Now())
			return nil
		},
	}
}

func (a *app) newWatchCmd() *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of the race",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(a.client(), every)
		},
	}
	cmd.Flags().DurationVar(&every, "every", 2*time.Second, "refresh interval")
	return cmd
}

func (a *app) newPriceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "price [strategy]",
		Short: "Show the current item price, or a strategy quote",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			c := a.client()
			if len(args) == 1 {
				id, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid strategy %q", args[0])
				}
				q, err := c.Quote(ctx, id)
				if err != nil {
					return err
				}
				renderQuote(q)
				return nil
			}
			price, err := c.Price(ctx)
			if err != nil {
				return err
			}
			strategies, err := c.Strategies(ctx)
			if err != nil {
				return err
			}
			renderStrategies(price, strategies)
			return nil
		},
	}
}

func (a *app) newBuyCmd() *cobra.Command {
	var strategy int
	var referrer string
	cmd := &cobra.Command{
		Use:   "buy <ton>",
		Short: "Buy an item, attaching the given TON amount",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := race.ParseTON(args[0])
			if err != nil {
				return err
			}
			sess, err := a.session()
			if err != nil {
				return err
			}
			op := race.Operation{
				ID:       uuid.NewString(),
				Kind:     race.OpBuyItem,
				Value:    value,
				Strategy: strategy,
				Referrer: strings.TrimSpace(referrer),
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			res, err := a.client().Buy(ctx, sess.AccessToken, op.Value, op.Strategy, op.Referrer, op.ID)
			if err != nil {
				return queueOnNetworkError(err, op)
			}
			renderBuy(res.Effects)
			return nil
		},
	}
	cmd.Flags().IntVarP(&strategy, "strategy", "s", 0, "0 conservative, 1 balanced, 2 aggressive, 3 lucky")
	cmd.Flags().StringVar(&referrer, "referrer", "", "referrer address (first purchase only)")
	return cmd
}

func (a *app) newUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <item-id> <car>",
		Short: "Apply an item to car 1 or 2",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}
			carID, err := strconv.Atoi(args[1])
			if err != nil || (carID != 1 && carID != 2) {
				return fmt.Errorf("car must be 1 or 2")
			}
			sess, err := a.session()
			if err != nil {
				return err
			}
			op := race.Operation{ID: uuid.NewString(), Kind: race.OpUseItem, ItemID: uint32(itemID), CarID: carID}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			res, err := a.client().Use(ctx, sess.AccessToken, op.ItemID, op.CarID, op.ID)
			if err != nil {
				return queueOnNetworkError(err, op)
			}
			renderUse(res.Effects)
			return nil
		},
	}
}

func (a *app) newItemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "items [address]",
		Short: "List unused items",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := ""
			if len(args) == 1 {
				address = args[0]
			} else {
				sess, err := a.session()
				if err != nil {
					return err
				}
				address = sess.Address
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			items, err := a.client().Items(ctx, address)
			if err != nil {
				return err
			}
			renderItems(items)
			return nil
		},
	}
}

func (a *app) newNameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "name [name]",
		Short: "Register a display name for referrals",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			} else {
				var err error
				if name, err = promptRequired("Name"); err != nil {
					return err
				}
			}
			if _, err := race.ValidateName(name); err != nil {
				return err
			}
			sess, err := a.session()
			if err != nil {
				return err
			}
			op := race.Operation{ID: uuid.NewString(), Kind: race.OpRegisterName, Name: name}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			res, err := a.client().RegisterName(ctx, sess.AccessToken, op.Name, op.ID)
			if err != nil {
				return queueOnNetworkError(err, op)
			}
			printSuccess("Name registered: " + res.Effects.Name)
			return nil
		},
	}
}

func (a *app) newWithdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw your reward balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			res, err := a.client().Withdraw(ctx, sess.AccessToken, uuid.NewString())
			if err != nil {
				// Payouts are never queued: a replay could pay twice.
				return err
			}
			t := res.Effects.Transfer
			if t == nil {
				return nil
			}
			me, err := a.client().Me(ctx, sess.AccessToken)
			if err == nil && transferPending(me.PendingTransfers, t.ID) {
				printWarn(fmt.Sprintf("Withdrawal of %s TON is waiting on the wallet; it will be retried (transfer %s)", race.FormatTON(t.Amount), t.ID))
				return nil
			}
			printSuccess(fmt.Sprintf("Sent %s TON to %s", race.FormatTON(t.Amount), t.To))
			return nil
		},
	}
}

func (a *app) newMeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show your player account",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			me, err := a.client().Me(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderPlayer(me)
			return nil
		},
	}
}

func (a *app) newReferralCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "referral",
		Short: "Show a QR code other players can scan to use you as referrer",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			renderReferral(sess.Address)
			return nil
		},
	}
}

func (a *app) newLeaderboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the rankings and the last payout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			c := a.client()
			rankings, err := c.Rankings(ctx)
			if err != nil {
				return err
			}
			renderRankings(rankings)
			last, err := c.LastDistribution(ctx)
			if err != nil {
				var apiErr *cl.APIError
				if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
					return nil
				}
				return err
			}
			renderDistribution(last)
			return nil
		},
	}
}

func (a *app) newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay locally queued offline writes",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			queue, err := syncq.Open()
			if err != nil {
				return err
			}
			pending, err := queue.Load()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			results, err := a.client().SyncReplay(ctx, sess.AccessToken, syncq.Operations(pending))
			if err != nil {
				return err
			}
			done := make([]string, 0, len(results))
			applied := 0
			for _, r := range results {
				done = append(done, r.ID)
				switch r.Status {
				case "applied":
					applied++
				case "rejected":
					printError(fmt.Sprintf("%s %s rejected: %s", r.Kind, r.ID, r.Error))
				}
			}
			remaining, err := queue.Remove(done...)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: applied=%d remaining=%d", applied, remaining))
			return nil
		},
	}
}

func (a *app) newQueueCmd() *cobra.Command {
	var drop bool
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List operations waiting for sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := syncq.Open()
			if err != nil {
				return err
			}
			if drop {
				if err := queue.Clear(); err != nil {
					return err
				}
				printSuccess("Queue cleared.")
				return nil
			}
			pending, err := queue.Load()
			if err != nil {
				return err
			}
			renderQueue(pending)
			return nil
		},
	}
	cmd.Flags().BoolVar(&drop, "clear", false, "drop every queued operation")
	return cmd
}

func (a *app) newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Owner commands",
	}
	run := func(kind race.OpKind) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			c := a.client()
			var res cl.ExecResponse
			if kind == race.OpStart {
				res, err = c.Start(ctx, sess.AccessToken, uuid.NewString())
			} else {
				res, err = c.End(ctx, sess.AccessToken, uuid.NewString())
			}
			if err != nil {
				return err
			}
			renderAdmin(res.Effects)
			return nil
		}
	}
	cmd.AddCommand(
		&cobra.Command{Use: "start", Short: "Start a new round", RunE: run(race.OpStart)},
		&cobra.Command{Use: "end", Short: "End the round and pay the top three", RunE: run(race.OpEnd)},
	)
	return cmd
}

// queueOnNetworkError keeps op for `race sync` when the API could not be
// reached. Structured API rejections are returned as they are.
func queueOnNetworkError(err error, op race.Operation) error {
	if err == nil {
		return nil
	}
	if cl.IsAPIError(err) {
		return err
	}
	queue, qerr := syncq.Open()
	if qerr != nil {
		return fmt.Errorf("request failed: %w (queue unavailable: %v)", err, qerr)
	}
	if _, qerr := queue.Push(op); qerr != nil {
		return fmt.Errorf("request failed: %w (queue write failed: %v)", err, qerr)
	}
	printWarn(fmt.Sprintf("API unreachable, queued %s as %s. Run `race sync` later.", op.Kind, op.ID))
	return nil
}

func transferPending(transfers []race.Transfer, id string) bool {
	for _, t := range transfers {
		if t.ID == id {
			return true
		}
	}
	return false
}
