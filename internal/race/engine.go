package race

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	maxCommitAttempts = 8
	seenOpsLimit      = 4096
)

// Store persists committed state. Save must write st and entry atomically,
// fail with ErrVersionConflict when the stored seq is not prevSeq, and run
// beforeCommit last inside the same transaction so its failure aborts the
// write.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, prevSeq int64, st *State, entry JournalEntry, beforeCommit func(context.Context) error) error
}

type Event struct {
	Seq     int64      `json:"seq"`
	At      int64      `json:"at"`
	Kind    OpKind     `json:"kind"`
	Sender  string     `json:"sender"`
	Effects Effects    `json:"effects"`
	Game    GameState  `json:"game"`
	Cars    [2]CarView `json:"cars"`
	Pools   FundPools  `json:"pools"`
}

type Observer interface {
	Committed(ev Event)
}

type Option func(*Engine)

func WithStore(s Store) Option { return func(e *Engine) { e.store = s } }
func WithFunds(f Funds) Option { return func(e *Engine) { e.funds = f } }
func WithSeeds(s SeedSource) Option { return func(e *Engine) { e.seeds = s } }
func WithScore(f ScoreFunc) Option { return func(e *Engine) { e.score = f } }
func WithClock(f func() time.Time) Option { return func(e *Engine) { e.now = f } }
func WithObserver(o Observer) Option { return func(e *Engine) { e.observers = append(e.observers, o) } }

// Engine serializes every operation: one runs to completion, committed or
// discarded, before the next begins.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	log       *slog.Logger
	state     *State
	store     Store
	funds     Funds
	seeds     SeedSource
	score     ScoreFunc
	now       func() time.Time
	observers []Observer
	seen      map[string]struct{}
	seenOrder []string
}

func NewEngine(cfg Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("race config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:   cfg,
		log:   logger,
		state: NewState(cfg),
		seeds: HashSeeds(),
		score: DefaultScore,
		now:   time.Now,
		seen:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Load replaces the in-memory state with the stored snapshot, if any.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reloadLocked(ctx)
}

func (e *Engine) reloadLocked(ctx context.Context) error {
	st, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if st == nil {
		st = NewState(e.cfg)
	}
	e.state = st
	return nil
}

// Execute commits op and then hands any withdrawal it produced to the
// wallet. A payout the wallet does not confirm stays pending and does not
// fail the operation; SettlePending retries it.
func (e *Engine) Execute(ctx context.Context, op Operation) (Effects, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	e.mu.Lock()
	var events []Event
	fx, err := func() (Effects, error) {
		now := e.now().Unix()
		if op.Kind != OpEnd && expired(e.state, now) {
			ev, err := e.commitLocked(ctx, Operation{ID: uuid.NewString(), Kind: OpEnd, Sender: SystemSender}, now)
			if err != nil {
				return Effects{}, fmt.Errorf("auto end: %w", err)
			}
			events = append(events, ev)
		}
		if _, dup := e.seen[op.ID]; dup {
			return Effects{}, fmt.Errorf("%w: %s", ErrDuplicateOperation, op.ID)
		}
		ev, err := e.commitLocked(ctx, op, now)
		if err != nil {
			return Effects{}, err
		}
		events = append(events, ev)
		return ev.Effects, nil
	}()
	e.mu.Unlock()

	if err != nil {
		e.log.Debug("operation rejected", "op", op.Kind, "sender", op.Sender, "err", err)
	}
	e.notify(events)
	if err == nil && fx.Transfer != nil {
		if serr := e.settle(ctx, *fx.Transfer); serr != nil {
			e.log.Warn("transfer left pending", "id", fx.Transfer.ID, "to", fx.Transfer.To, "err", serr)
		}
	}
	return fx, err
}

// SettlePending sends every pending transfer to the wallet again and records
// the outcome. It returns how many transfers it closed.
func (e *Engine) SettlePending(ctx context.Context) (int, error) {
	e.mu.Lock()
	if e.store != nil {
		if err := e.reloadLocked(ctx); err != nil {
			e.mu.Unlock()
			return 0, err
		}
	}
	pending := pendingTransfers(e.state)
	e.mu.Unlock()

	var closed int
	var errs []error
	for _, t := range pending {
		if err := e.settle(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("transfer %s: %w", t.ID, err))
			continue
		}
		closed++
	}
	return closed, errors.Join(errs...)
}

// settle pays t and commits the outcome. The wallet sees t.ID as the
// idempotency key on every attempt. A rejected transfer is reversed onto the
// player's balance; any other wallet error leaves it pending.
func (e *Engine) settle(ctx context.Context, t Transfer) error {
	kind := OpSettleTransfer
	if e.funds != nil {
		err := e.funds.Transfer(ctx, t.To, t.Amount, t.ID)
		switch {
		case errors.Is(err, ErrTransferRejected):
			e.log.Warn("transfer rejected, returning balance", "id", t.ID, "to", t.To, "amount", t.Amount, "err", err)
			kind = OpReverseTransfer
		case err != nil:
			return fmt.Errorf("%w: %v", ErrPayoutFailed, err)
		}
	}
	_, err := e.Execute(ctx, Operation{
		ID:       string(kind) + "/" + t.ID,
		Kind:     kind,
		Sender:   SystemSender,
		Transfer: t.ID,
	})
	if errors.Is(err, ErrTransferNotFound) || errors.Is(err, ErrDuplicateOperation) {
		// another process settled it first
		return nil
	}
	return err
}

// Tick ends the round when it has expired. It returns nil when there was
// nothing to do.
func (e *Engine) Tick(ctx context.Context) (*Distribution, error) {
	e.mu.Lock()
	if e.store != nil {
		if err := e.reloadLocked(ctx); err != nil {
			e.mu.Unlock()
			return nil, err
		}
	}
	now := e.now().Unix()
	if !expired(e.state, now) {
		e.mu.Unlock()
		return nil, nil
	}
	ev, err := e.commitLocked(ctx, Operation{ID: uuid.NewString(), Kind: OpEnd, Sender: SystemSender}, now)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.notify([]Event{ev})
	return ev.Effects.Distribution, nil
}

func (e *Engine) commitLocked(ctx context.Context, op Operation, now int64) (Event, error) {
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		next := e.state.Clone()
		fx, err := Apply(next, op, e.env(now))
		if err != nil {
			return Event{}, err
		}
		entry := JournalEntry{Seq: next.Seq, At: now, Op: op, Effects: fx}
		collect, collected := e.collectHook(op, fx)

		if e.store == nil {
			err = collect(ctx)
		} else {
			err = e.store.Save(ctx, e.state.Seq, next, entry, collect)
		}
		if errors.Is(err, ErrVersionConflict) {
			e.log.Info("state moved underneath, reloading", "op", op.Kind, "attempt", attempt+1)
			if rerr := e.reloadLocked(ctx); rerr != nil {
				return Event{}, rerr
			}
			continue
		}
		if err != nil {
			if *collected {
				e.voidPayment(ctx, op, fx)
			}
			return Event{}, err
		}

		e.state = next
		e.remember(op.ID)
		e.log.Info("operation committed", "op", op.Kind, "sender", op.Sender, "seq", next.Seq)
		return Event{
			Seq:     next.Seq,
			At:      now,
			Kind:    op.Kind,
			Sender:  op.Sender,
			Effects: fx,
			Game:    next.Game,
			Cars:    [2]CarView{next.Cars[0].View(), next.Cars[1].View()},
			Pools:   next.Pools,
		}, nil
	}
	return Event{}, fmt.Errorf("%w: gave up after %d attempts", ErrVersionConflict, maxCommitAttempts)
}

// collectHook debits a purchase's final price from the sender as the last
// step before commit, keyed by the operation ID. Only the final price is
// collected, so the refund never leaves the sender's wallet. The returned
// flag is set once the debit has gone through.
func (e *Engine) collectHook(op Operation, fx Effects) (func(context.Context) error, *bool) {
	collected := new(bool)
	return func(ctx context.Context) error {
		if fx.Buy == nil || e.funds == nil {
			return nil
		}
		amount := fx.Buy.Quote.FinalPrice
		if err := e.funds.Debit(ctx, op.Sender, amount, op.ID); err != nil {
			e.log.Warn("payment not collected", "from", op.Sender, "amount", amount, "op_id", op.ID, "err", err)
			return fmt.Errorf("%w: %v", ErrPaymentFailed, err)
		}
		*collected = true
		return nil
	}, collected
}

// voidPayment returns a debit whose purchase failed to commit.
func (e *Engine) voidPayment(ctx context.Context, op Operation, fx Effects) {
	amount := fx.Buy.Quote.FinalPrice
	if err := e.funds.Transfer(ctx, op.Sender, amount, op.ID+"/void"); err != nil {
		e.log.Error("debit kept after failed commit", "to", op.Sender, "amount", amount, "op_id", op.ID, "err", err)
		return
	}
	e.log.Warn("debit returned after failed commit", "to", op.Sender, "amount", amount, "op_id", op.ID)
}

func (e *Engine) remember(id string) {
	if id == "" {
		return
	}
	e.seen[id] = struct{}{}
	e.seenOrder = append(e.seenOrder, id)
	if len(e.seenOrder) > seenOpsLimit {
		delete(e.seen, e.seenOrder[0])
		e.seenOrder = e.seenOrder[1:]
	}
}

func (e *Engine) notify(events []Event) {
	for _, ev := range events {
		for _, o := range e.observers {
			o.Committed(ev)
		}
	}
}

func (e *Engine) env(now int64) Env {
	return Env{Now: now, Config: e.cfg, Seeds: e.seeds, Score: e.score}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Snapshot returns a private copy of the whole state.
func (e *Engine) Snapshot() *State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}
