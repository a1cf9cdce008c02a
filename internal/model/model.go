// Package model defines the core domain types for the meeting scheduler.
package model

import "time"

// Kind discriminates the two meeting flavours sharing one booking schema.
type Kind string

const (
	KindConsultation Kind = "CONSULTATION"
	KindGameCoaching Kind = "GAME_COACHING"
)

// Valid reports whether k is a known booking kind.
func (k Kind) Valid() bool {
	return k == KindConsultation || k == KindGameCoaching
}

// Status is the booking lifecycle status. ENDED is terminal.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusEnded   Status = "ENDED"
)

// SessionState is the derived live-session state of a booking.
type SessionState string

const (
	SessionNone   SessionState = "NO_SESSION"
	SessionActive SessionState = "SESSION_ACTIVE"
	SessionClosed SessionState = "CLOSED"
)

// Booking is a scheduled meeting between a host consultant and a child.
// ParentID is only set for consultations.
type Booking struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	HostID      string     `json:"host_id"`
	ChildID     string     `json:"child_id"`
	ParentID    *string    `json:"parent_id,omitempty"`
	Status      Status     `json:"status"`
	SessionID   *string    `json:"-"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Cancelled returns true once the booking has been soft-deleted.
func (b *Booking) Cancelled() bool {
	return b.CancelledAt != nil
}

// Ended returns true when the meeting has been closed.
func (b *Booking) Ended() bool {
	return b.Status == StatusEnded
}

// HasSession returns true once a media session has been attached.
func (b *Booking) HasSession() bool {
	return b.SessionID != nil && *b.SessionID != ""
}

// SessionState derives the live-session state from status and session id.
func (b *Booking) SessionState() SessionState {
	switch {
	case b.Ended():
		return SessionClosed
	case b.HasSession():
		return SessionActive
	default:
		return SessionNone
	}
}

// Child is the directory record for a child and its assignments.
type Child struct {
	ID             string
	Name           string
	ConsultantID   string
	ConsultantName string
	ParentID       string
	ParentName     string
}

// BookingView is the kind-agnostic read model returned by listings.
type BookingView struct {
	ID          string       `json:"id"`
	Kind        Kind         `json:"kind"`
	ScheduledAt time.Time    `json:"scheduled_at"`
	HostID      string       `json:"host_id"`
	HostName    string       `json:"host_name,omitempty"`
	ChildID     string       `json:"child_id"`
	ChildName   string       `json:"child_name,omitempty"`
	ParentID    string       `json:"parent_id,omitempty"`
	ParentName  string       `json:"parent_name,omitempty"`
	Status      Status       `json:"status"`
	State       SessionState `json:"session_state"`
}

// Role identifies who is joining a meeting.
type Role string

const (
	RoleConsultant Role = "CONSULTANT"
	RoleParent     Role = "PARENT"
	RoleChild      Role = "CHILD"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleConsultant, RoleParent, RoleChild:
		return true
	}
	return false
}

// Participant is the authenticated caller joining a meeting.
type Participant struct {
	AccountID string
	Role      Role
}

// JoinTicket is handed to a participant to attach to the media stream.
type JoinTicket struct {
	BookingID string `json:"booking_id"`
	Token     string `json:"token"`
}

// CreateBookingRequest is the payload for creating a booking.
// ConsultantID is filled from the authenticated caller, never from the body.
type CreateBookingRequest struct {
	Kind         Kind      `json:"kind"`
	ChildID      string    `json:"child_id"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	ConsultantID string    `json:"-"`
}

// RescheduleRequest is the payload for moving a booking.
type RescheduleRequest struct {
	ChildID      string    `json:"child_id"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	ConsultantID string    `json:"-"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Event is the payload published for booking and meeting transitions.
type Event struct {
	Type      string    `json:"type"`
	BookingID string    `json:"booking_id"`
	Kind      Kind      `json:"kind"`
	HostID    string    `json:"host_id"`
	ChildID   string    `json:"child_id"`
	At        time.Time `json:"at"`
}
