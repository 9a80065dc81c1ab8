package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"racegame/internal/race"
)

var ErrTxConflict = errors.New("transaction conflict, retry")

// Postgres keeps the latest state as one JSONB snapshot row plus an
// append-only journal of every committed operation.
type Postgres struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewPostgres(db *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, log: logger}
}

// querier is what both the pool and a transaction offer for reads.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *Postgres) Load(ctx context.Context) (*race.State, error) {
	return loadSnapshot(ctx, p.db)
}

func loadSnapshot(ctx context.Context, q querier) (*race.State, error) {
	var raw []byte
	err := q.QueryRow(ctx, `SELECT state FROM race.snapshots WHERE id = 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var st race.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if st.Players == nil {
		st.Players = make(map[string]*race.PlayerAccount)
	}
	if st.Items == nil {
		st.Items = make(map[uint32]*race.Item)
	}
	return &st, nil
}

// Save writes st and entry in one serializable transaction. beforeCommit runs
// last, after every write succeeded, and its error rolls everything back.
func (p *Postgres) Save(ctx context.Context, prevSeq int64, st *race.State, entry race.JournalEntry, beforeCommit func(context.Context) error) error {
	stateJSON, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	opJSON, err := json.Marshal(entry.Op)
	if err != nil {
		return fmt.Errorf("encode op: %w", err)
	}
	effectsJSON, err := json.Marshal(entry.Effects)
	if err != nil {
		return fmt.Errorf("encode effects: %w", err)
	}
	var opID *string
	if entry.Op.ID != "" {
		opID = &entry.Op.ID
	}

	const maxAttempts = 8
	retryDelay := 25 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		hookRan := false
		tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)

			var cur int64
			err := tx.QueryRow(ctx, `SELECT seq FROM race.snapshots WHERE id = 1 FOR UPDATE`).Scan(&cur)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			if cur != prevSeq {
				return fmt.Errorf("%w: stored seq %d, expected %d", race.ErrVersionConflict, cur, prevSeq)
			}

			if _, err := tx.Exec(ctx, `
				INSERT INTO race.journal (seq, op_id, kind, sender, at, op, effects)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, entry.Seq, opID, string(entry.Op.Kind), entry.Op.Sender, entry.At, opJSON, effectsJSON); err != nil {
				if isUniqueViolation(err, "journal_op_id_key") {
					return fmt.Errorf("%w: %s", race.ErrDuplicateOperation, entry.Op.ID)
				}
				return err
			}

			if _, err := tx.Exec(ctx, `
				INSERT INTO race.snapshots (id, seq, state, updated_at)
				VALUES (1, $1, $2, now())
				ON CONFLICT (id) DO UPDATE
				SET seq = EXCLUDED.seq, state = EXCLUDED.state, updated_at = now()
			`, st.Seq, stateJSON); err != nil {
				return err
			}

			if beforeCommit != nil {
				hookRan = true
				if err := beforeCommit(ctx); err != nil {
					return err
				}
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if hookRan && !errors.Is(err, race.ErrPaymentFailed) {
			// the payment was collected; the engine decides how to return it
			p.log.Error("commit failed after payment", "seq", entry.Seq, "op", entry.Op.Kind, "op_id", entry.Op.ID, "sender", entry.Op.Sender, "err", err)
			return fmt.Errorf("commit after payment: %w", err)
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			return ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 800*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

// Journal returns up to limit entries with seq greater than after, in order.
func (p *Postgres) Journal(ctx context.Context, after int64, limit int) ([]race.JournalEntry, error) {
	return journalPage(ctx, p.db, after, limit)
}

func journalPage(ctx context.Context, q querier, after int64, limit int) ([]race.JournalEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := q.Query(ctx, `
		SELECT seq, at, op, effects
		FROM race.journal
		WHERE seq > $1
		ORDER BY seq
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []race.JournalEntry
	for rows.Next() {
		var e race.JournalEntry
		var opRaw, fxRaw []byte
		if err := rows.Scan(&e.Seq, &e.At, &opRaw, &fxRaw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(opRaw, &e.Op); err != nil {
			return nil, fmt.Errorf("decode journal op %d: %w", e.Seq, err)
		}
		if err := json.Unmarshal(fxRaw, &e.Effects); err != nil {
			return nil, fmt.Errorf("decode journal effects %d: %w", e.Seq, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// JournalAll pages through the whole journal.
func (p *Postgres) JournalAll(ctx context.Context) ([]race.JournalEntry, error) {
	return journalAll(ctx, p.db)
}

// Consistent reads the snapshot and the whole journal from one REPEATABLE
// READ transaction, so a commit landing in between cannot split them.
func (p *Postgres) Consistent(ctx context.Context) (*race.State, []race.JournalEntry, error) {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	st, err := loadSnapshot(ctx, tx)
	if err != nil {
		return nil, nil, err
	}
	entries, err := journalAll(ctx, tx)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return st, entries, nil
}

func journalAll(ctx context.Context, q querier) ([]race.JournalEntry, error) {
	var all []race.JournalEntry
	var after int64
	for {
		page, err := journalPage(ctx, q, after, 1000)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
		after = page[len(page)-1].Seq
	}
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
