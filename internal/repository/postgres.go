package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/model"
)

const bookingColumns = `id, kind, scheduled_at, host_id, child_id, parent_id, status,
	session_id, cancelled_at, ended_at, created_at, updated_at`

// PostgresStore is the production booking store.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create performs a concurrency-safe insert.
//
// ─────────────────────────────────────────────────────────────────────────────
// DOUBLE BOOKING
// ─────────────────────────────────────────────────────────────────────────────
//
//	goroutine A: SELECT EXISTS(host=H, at=T) → false
//	goroutine B: SELECT EXISTS(host=H, at=T) → false
//	goroutine A: INSERT (H, T)
//	goroutine B: INSERT (H, T)            ← second live booking for H at T
//
// There is no row to lock before the first insert, so SELECT … FOR UPDATE
// cannot serialise the two writers. The partial unique index
// ux_bookings_host_slot makes B's INSERT fail with 23505, which is reported
// as model.ErrConflict exactly like the fast-path check.
//
// ─────────────────────────────────────────────────────────────────────────────
func (s *PostgresStore) Create(ctx context.Context, b *model.Booking) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	at := normalize(b.ScheduledAt)
	taken, err := existsAt(ctx, tx, b.HostID, at, "")
	if err != nil {
		return err
	}
	if taken {
		return model.ErrConflict
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`INSERT INTO bookings (id, kind, scheduled_at, host_id, child_id, parent_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		b.ID, string(b.Kind), at, b.HostID, b.ChildID, b.ParentID, string(model.StatusPending), now,
	)
	if err != nil {
		return translate(err, "insert booking")
	}
	if err := tx.Commit(ctx); err != nil {
		return translate(err, "commit booking")
	}

	b.ScheduledAt = at
	b.Status = model.StatusPending
	b.CreatedAt, b.UpdatedAt = now, now
	return nil
}

// Get returns a live booking or model.ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Booking, error) {
	b, err := scanBooking(s.db.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 AND cancelled_at IS NULL`, id))
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Reschedule locks the booking row, checks the new slot and updates in place.
func (s *PostgresStore) Reschedule(ctx context.Context, id string, to Placement) (*model.Booking, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanBooking(tx.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 AND cancelled_at IS NULL FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if cur.Ended() {
		return nil, lifecycleError(cur)
	}

	at := normalize(to.ScheduledAt)
	taken, err := existsAt(ctx, tx, to.HostID, at, id)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, model.ErrConflict
	}

	updated, err := scanBooking(tx.QueryRow(ctx,
		`UPDATE bookings
		 SET host_id = $2, child_id = $3, parent_id = $4, scheduled_at = $5, updated_at = now()
		 WHERE id = $1
		 RETURNING `+bookingColumns,
		id, to.HostID, to.ChildID, to.ParentID, at,
	))
	if err != nil {
		return nil, translate(err, "reschedule booking")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translate(err, "commit reschedule")
	}
	return updated, nil
}

// Cancel sets cancelled_at under a row lock.
func (s *PostgresStore) Cancel(ctx context.Context, id string, at time.Time) (*model.Booking, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanBooking(tx.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if err := lifecycleError(cur); err != nil {
		return nil, err
	}

	updated, err := scanBooking(tx.QueryRow(ctx,
		`UPDATE bookings SET cancelled_at = $2, updated_at = now() WHERE id = $1 RETURNING `+bookingColumns,
		id, normalize(at),
	))
	if err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cancel: %w", err)
	}
	return updated, nil
}

// AttachSession is a single conditional UPDATE; exactly one concurrent
// caller matches the "session_id IS NULL" predicate.
func (s *PostgresStore) AttachSession(ctx context.Context, id, sessionID string) (string, bool, error) {
	var stored string
	err := s.db.QueryRow(ctx,
		`UPDATE bookings SET session_id = $2, updated_at = now()
		 WHERE id = $1 AND session_id IS NULL AND cancelled_at IS NULL AND status = $3
		 RETURNING session_id`,
		id, sessionID, string(model.StatusPending),
	).Scan(&stored)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, fmt.Errorf("attach session: %w", err)
	}

	cur, err := s.getAny(ctx, id)
	if err != nil {
		return "", false, err
	}
	if err := lifecycleError(cur); err != nil {
		return "", false, err
	}
	if !cur.HasSession() {
		return "", false, fmt.Errorf("attach session: booking %s matched no row", id)
	}
	return *cur.SessionID, false, nil
}

// End is a conditional PENDING → ENDED transition.
func (s *PostgresStore) End(ctx context.Context, id string, at time.Time) (*model.Booking, error) {
	b, err := scanBooking(s.db.QueryRow(ctx,
		`UPDATE bookings SET status = $2, ended_at = $3, updated_at = now()
		 WHERE id = $1 AND status = $4 AND cancelled_at IS NULL
		 RETURNING `+bookingColumns,
		id, string(model.StatusEnded), normalize(at), string(model.StatusPending),
	))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("end booking: %w", err)
	}

	cur, err := s.getAny(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := lifecycleError(cur); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("end booking: booking %s matched no row", id)
}

// ExistsAt reports whether the host has a live booking at exactly at.
func (s *PostgresStore) ExistsAt(ctx context.Context, hostID string, at time.Time) (bool, error) {
	return existsAt(ctx, s.db, hostID, normalize(at), "")
}

// ListByHost returns the host's live bookings in [from, to).
func (s *PostgresStore) ListByHost(ctx context.Context, hostID string, from, to time.Time) ([]model.Booking, error) {
	return s.list(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE host_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3 AND cancelled_at IS NULL
		 ORDER BY scheduled_at ASC, id ASC`,
		hostID, normalize(from), normalize(to),
	)
}

// ListByChildren returns live bookings for any of the children in [from, to).
func (s *PostgresStore) ListByChildren(ctx context.Context, childIDs []string, from, to time.Time) ([]model.Booking, error) {
	if len(childIDs) == 0 {
		return nil, nil
	}
	return s.list(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE child_id = ANY($1) AND scheduled_at >= $2 AND scheduled_at < $3 AND cancelled_at IS NULL
		 ORDER BY scheduled_at ASC, id ASC`,
		childIDs, normalize(from), normalize(to),
	)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]model.Booking, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// getAny returns the booking whether or not it is cancelled; nil when absent.
func (s *PostgresStore) getAny(ctx context.Context, id string) (*model.Booking, error) {
	b, err := scanBooking(s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	return b, err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func existsAt(ctx context.Context, q querier, hostID string, at time.Time, excludeID string) (bool, error) {
	var taken bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM bookings
		   WHERE host_id = $1 AND scheduled_at = $2 AND cancelled_at IS NULL AND id <> $3
		 )`,
		hostID, at, excludeID,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return taken, nil
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b            model.Booking
		kind, status string
	)
	err := row.Scan(&b.ID, &kind, &b.ScheduledAt, &b.HostID, &b.ChildID, &b.ParentID, &status,
		&b.SessionID, &b.CancelledAt, &b.EndedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	b.Kind = model.Kind(kind)
	b.Status = model.Status(status)
	b.ScheduledAt = b.ScheduledAt.UTC()
	return &b, nil
}

// translate maps a unique-index violation to model.ErrConflict.
func translate(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return model.ErrConflict
	}
	if errors.Is(err, model.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
