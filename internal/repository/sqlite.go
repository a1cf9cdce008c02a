package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/model"
)

type bookingRow struct {
	ID          string    `gorm:"primaryKey"`
	Kind        string    `gorm:"not null"`
	ScheduledAt time.Time `gorm:"not null;index:ix_bookings_child_time,priority:2"`
	HostID      string    `gorm:"not null"`
	ChildID     string    `gorm:"not null;index:ix_bookings_child_time,priority:1"`
	ParentID    *string
	Status      string `gorm:"not null"`
	SessionID   *string
	CancelledAt *time.Time
	EndedAt     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (bookingRow) TableName() string { return "bookings" }

func (r bookingRow) toModel() *model.Booking {
	return &model.Booking{
		ID:          r.ID,
		Kind:        model.Kind(r.Kind),
		ScheduledAt: r.ScheduledAt.UTC(),
		HostID:      r.HostID,
		ChildID:     r.ChildID,
		ParentID:    r.ParentID,
		Status:      model.Status(r.Status),
		SessionID:   r.SessionID,
		CancelledAt: r.CancelledAt,
		EndedAt:     r.EndedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// SQLiteStore is the embedded booking store used for local runs and tests.
// SQLite has no row locks; the single pooled connection opened by
// database.OpenSQLite serialises every transaction instead.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore constructs a SQLiteStore. Call Migrate before use.
func NewSQLiteStore(db *gorm.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Migrate creates the booking and directory tables and the partial unique
// index guarding (host_id, scheduled_at).
func (s *SQLiteStore) Migrate() error {
	if err := s.db.AutoMigrate(&bookingRow{}, &consultantRow{}, &parentRow{}, &childRow{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	err := s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_host_slot
		ON bookings (host_id, scheduled_at) WHERE cancelled_at IS NULL`).Error
	if err != nil {
		return fmt.Errorf("create slot index: %w", err)
	}
	return nil
}

// Create checks and inserts inside one transaction.
func (s *SQLiteStore) Create(ctx context.Context, b *model.Booking) error {
	at := normalize(b.ScheduledAt)
	row := bookingRow{
		ID:          b.ID,
		Kind:        string(b.Kind),
		ScheduledAt: at,
		HostID:      b.HostID,
		ChildID:     b.ChildID,
		ParentID:    b.ParentID,
		Status:      string(model.StatusPending),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := s.existsAt(tx, b.HostID, at, "")
		if err != nil {
			return err
		}
		if taken {
			return model.ErrConflict
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return translateGorm(err, "insert booking")
	}

	b.ScheduledAt = at
	b.Status = model.StatusPending
	b.CreatedAt, b.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

// Get returns a live booking or model.ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Booking, error) {
	var row bookingRow
	err := s.db.WithContext(ctx).Where("id = ? AND cancelled_at IS NULL", id).Take(&row).Error
	if err != nil {
		return nil, translateGorm(err, "get booking")
	}
	return row.toModel(), nil
}

// Reschedule checks the new slot and updates the booking in place.
func (s *SQLiteStore) Reschedule(ctx context.Context, id string, to Placement) (*model.Booking, error) {
	at := normalize(to.ScheduledAt)
	var row bookingRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND cancelled_at IS NULL", id).Take(&row).Error; err != nil {
			return err
		}
		if err := lifecycleError(row.toModel()); err != nil {
			return err
		}
		taken, err := s.existsAt(tx, to.HostID, at, id)
		if err != nil {
			return err
		}
		if taken {
			return model.ErrConflict
		}
		err = tx.Model(&bookingRow{}).Where("id = ?", id).Updates(map[string]any{
			"host_id":      to.HostID,
			"child_id":     to.ChildID,
			"parent_id":    to.ParentID,
			"scheduled_at": at,
			"updated_at":   time.Now().UTC(),
		}).Error
		if err != nil {
			return err
		}
		return tx.Where("id = ?", id).Take(&row).Error
	})
	if err != nil {
		return nil, translateGorm(err, "reschedule booking")
	}
	return row.toModel(), nil
}

// Cancel sets cancelled_at on a live booking that has not ended.
func (s *SQLiteStore) Cancel(ctx context.Context, id string, at time.Time) (*model.Booking, error) {
	var row bookingRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Take(&row).Error; err != nil {
			return err
		}
		if err := lifecycleError(row.toModel()); err != nil {
			return err
		}
		cancelledAt := normalize(at)
		err := tx.Model(&bookingRow{}).Where("id = ?", id).Updates(map[string]any{
			"cancelled_at": cancelledAt,
			"updated_at":   time.Now().UTC(),
		}).Error
		if err != nil {
			return err
		}
		row.CancelledAt = &cancelledAt
		return nil
	})
	if err != nil {
		return nil, translateGorm(err, "cancel booking")
	}
	return row.toModel(), nil
}

// AttachSession sets session_id with a single conditional UPDATE.
func (s *SQLiteStore) AttachSession(ctx context.Context, id, sessionID string) (string, bool, error) {
	res := s.db.WithContext(ctx).Model(&bookingRow{}).
		Where("id = ? AND session_id IS NULL AND cancelled_at IS NULL AND status = ?", id, string(model.StatusPending)).
		Updates(map[string]any{"session_id": sessionID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return "", false, fmt.Errorf("attach session: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return sessionID, true, nil
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
func (s *SQLiteStore) End(ctx context.Context, id string, at time.Time) (*model.Booking, error) {
	endedAt := normalize(at)
	res := s.db.WithContext(ctx).Model(&bookingRow{}).
		Where("id = ? AND status = ? AND cancelled_at IS NULL", id, string(model.StatusPending)).
		Updates(map[string]any{
			"status":     string(model.StatusEnded),
			"ended_at":   endedAt,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("end booking: %w", res.Error)
	}

	cur, err := s.getAny(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 1 {
		return cur, nil
	}
	if err := lifecycleError(cur); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("end booking: booking %s matched no row", id)
}

// ExistsAt reports whether the host has a live booking at exactly at.
func (s *SQLiteStore) ExistsAt(ctx context.Context, hostID string, at time.Time) (bool, error) {
	return s.existsAt(s.db.WithContext(ctx), hostID, normalize(at), "")
}

// ListByHost returns the host's live bookings in [from, to).
func (s *SQLiteStore) ListByHost(ctx context.Context, hostID string, from, to time.Time) ([]model.Booking, error) {
	return s.list(s.db.WithContext(ctx).Where("host_id = ?", hostID), from, to)
}

// ListByChildren returns live bookings for any of the children in [from, to).
func (s *SQLiteStore) ListByChildren(ctx context.Context, childIDs []string, from, to time.Time) ([]model.Booking, error) {
	if len(childIDs) == 0 {
		return nil, nil
	}
	return s.list(s.db.WithContext(ctx).Where("child_id IN ?", childIDs), from, to)
}

func (s *SQLiteStore) list(q *gorm.DB, from, to time.Time) ([]model.Booking, error) {
	var rows []bookingRow
	err := q.Where("scheduled_at >= ? AND scheduled_at < ? AND cancelled_at IS NULL", normalize(from), normalize(to)).
		Order("scheduled_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	out := make([]model.Booking, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toModel())
	}
	return out, nil
}

func (s *SQLiteStore) getAny(ctx context.Context, id string) (*model.Booking, error) {
	var row bookingRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return row.toModel(), nil
}

func (s *SQLiteStore) existsAt(tx *gorm.DB, hostID string, at time.Time, excludeID string) (bool, error) {
	var n int64
	err := tx.Model(&bookingRow{}).
		Where("host_id = ? AND scheduled_at = ? AND cancelled_at IS NULL AND id <> ?", hostID, at, excludeID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return n > 0, nil
}

// translateGorm maps driver errors onto the model taxonomy.
func translateGorm(err error, op string) error {
	switch {
	case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrInvalidState):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return model.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return model.ErrConflict
	}
	return fmt.Errorf("%s: %w", op, err)
}
