// Package repository implements the booking store and the read-only child
// directory. Two backends are provided: PostgreSQL through pgx (no ORM) and
// an embedded SQLite database through gorm.
//
// Both backends enforce "one live booking per host and instant" with a
// partial unique index over (host_id, scheduled_at) WHERE cancelled_at IS NULL,
// spanning both booking kinds. The existence check performed before each
// write only fails fast; a lost race surfaces from the index and is
// translated to model.ErrConflict.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/model"
)

// Placement is where a booking sits: who hosts it, for whom, and when.
type Placement struct {
	HostID      string
	ChildID     string
	ParentID    *string
	ScheduledAt time.Time
}

// Store persists bookings of both kinds in one table.
type Store interface {
	// Create inserts b after checking the host is free at b.ScheduledAt.
	Create(ctx context.Context, b *model.Booking) error
	// Get returns a live (non-cancelled) booking.
	Get(ctx context.Context, id string) (*model.Booking, error)
	// Reschedule moves a live booking, excluding its own slot from the check.
	Reschedule(ctx context.Context, id string, to Placement) (*model.Booking, error)
	// Cancel soft-deletes a live booking that has not ended.
	Cancel(ctx context.Context, id string, at time.Time) (*model.Booking, error)
	// AttachSession sets session_id only if it is still null. It returns the
	// session id now stored and whether this call was the one that stored it.
	AttachSession(ctx context.Context, id, sessionID string) (string, bool, error)
	// End moves a live booking from PENDING to ENDED.
	End(ctx context.Context, id string, at time.Time) (*model.Booking, error)
	// ExistsAt reports whether the host has a live booking at exactly at.
	ExistsAt(ctx context.Context, hostID string, at time.Time) (bool, error)
	// ListByHost returns live bookings in [from, to) ordered by time.
	ListByHost(ctx context.Context, hostID string, from, to time.Time) ([]model.Booking, error)
	// ListByChildren returns live bookings of any of the children in [from, to).
	ListByChildren(ctx context.Context, childIDs []string, from, to time.Time) ([]model.Booking, error)
}

// Directory resolves children, parents and consultants owned by the wider
// platform. It is read-only from the scheduler's point of view.
type Directory interface {
	Child(ctx context.Context, childID string) (*model.Child, error)
	ChildrenOfParent(ctx context.Context, parentID string) ([]model.Child, error)
	ConsultantForAccount(ctx context.Context, accountID string) (string, error)
}

// lifecycleError explains why a conditional update matched no row, given the
// booking as it is now stored (nil when absent).
func lifecycleError(b *model.Booking) error {
	switch {
	case b == nil || b.Cancelled():
		return model.ErrNotFound
	case b.Ended():
		return fmt.Errorf("booking %s already ended: %w", b.ID, model.ErrInvalidState)
	}
	return nil
}

func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
