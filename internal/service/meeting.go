package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/events"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/media"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/model"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/repository"
)

// JoinWindow bounds when a meeting can be joined, relative to its
// scheduled instant. Lead is how early a join is accepted; zero means not
// before the instant itself. A zero Grace leaves the upper bound open.
type JoinWindow struct {
	Lead  time.Duration
	Grace time.Duration
}

// MeetingService drives the live-session lifecycle of a booking:
// NONE -> ACTIVE on the first join, ACTIVE -> CLOSED on close.
type MeetingService struct {
	store    repository.Store
	provider media.Provider
	events   events.Publisher
	log      *zap.Logger
	window   JoinWindow
	now      func() time.Time
}

// NewMeetingService constructs a MeetingService.
func NewMeetingService(
	store repository.Store,
	provider media.Provider,
	pub events.Publisher,
	window JoinWindow,
	log *zap.Logger,
) *MeetingService {
	return &MeetingService{
		store:    store,
		provider: provider,
		events:   pub,
		log:      log,
		window:   window,
		now:      time.Now,
	}
}

// Join returns a participant token for the booking's session, creating the
// session on first use. Concurrent first joins converge on one session.
func (s *MeetingService) Join(ctx context.Context, bookingID string, p model.Participant) (ticket *model.JoinTicket, err error) {
	ctx, span := startSpan(ctx, "MeetingService.Join", bookingID)
	defer func() { endSpan(span, err) }()

	if !p.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", model.ErrInvalidInput, p.Role)
	}
	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return nil, passthrough(wrapNotFound(err, "booking "+bookingID), "join meeting")
	}
	if err := authorize(b, p); err != nil {
		return nil, err
	}
	if b.Ended() {
		return nil, fmt.Errorf("meeting %s already closed: %w", b.ID, model.ErrInvalidState)
	}
	if err := s.checkWindow(b); err != nil {
		return nil, err
	}

	sessionID, err := s.ensureSession(ctx, b)
	if err != nil {
		return nil, err
	}

	token, err := s.provider.IssueToken(ctx, sessionID, p.Role)
	if err != nil {
		return nil, passthrough(err, "issue token")
	}
	return &model.JoinTicket{BookingID: b.ID, Token: token}, nil
}

// Close ends the meeting. A closed meeting cannot be rejoined.
func (s *MeetingService) Close(ctx context.Context, bookingID string, p model.Participant) (err error) {
	ctx, span := startSpan(ctx, "MeetingService.Close", bookingID)
	defer func() { endSpan(span, err) }()

	if p.AccountID != "" {
		b, err := s.store.Get(ctx, bookingID)
		if err != nil {
			return passthrough(wrapNotFound(err, "booking "+bookingID), "close meeting")
		}
		if err := authorize(b, p); err != nil {
			return err
		}
	}

	b, err := s.store.End(ctx, bookingID, s.now())
	if err != nil {
		return passthrough(wrapNotFound(err, "booking "+bookingID), "close meeting")
	}

	s.log.Info("meeting closed", zap.String("booking_id", b.ID))
	publish(ctx, s.events, s.log, events.MeetingClosed, b, s.now())
	return nil
}

func (s *MeetingService) ensureSession(ctx context.Context, b *model.Booking) (string, error) {
	if b.HasSession() {
		return *b.SessionID, nil
	}

	created, err := s.provider.CreateSession(ctx)
	if err != nil {
		return "", passthrough(err, "create session")
	}

	stored, won, err := s.store.AttachSession(ctx, b.ID, created)
	if err != nil {
		return "", passthrough(err, "attach session")
	}
	if !won {
		// Another join attached first; ours is never referenced again.
		s.log.Debug("discarding orphaned session",
			zap.String("booking_id", b.ID), zap.String("session_id", created), zap.String("stored", stored))
		return stored, nil
	}

	s.log.Info("meeting started", zap.String("booking_id", b.ID), zap.String("session_id", stored))
	publish(ctx, s.events, s.log, events.MeetingStarted, b, s.now())
	return stored, nil
}

// WithClock replaces the clock used for the join window.
func (s *MeetingService) WithClock(now func() time.Time) *MeetingService {
	s.now = now
	return s
}

func (s *MeetingService) checkWindow(b *model.Booking) error {
	now := s.now()
	lead := max(s.window.Lead, 0)
	if now.Before(b.ScheduledAt.Add(-lead)) {
		return fmt.Errorf("meeting %s has not opened yet: %w", b.ID, model.ErrInvalidState)
	}
	if s.window.Grace > 0 && now.After(b.ScheduledAt.Add(s.window.Grace)) {
		return fmt.Errorf("meeting %s join window has passed: %w", b.ID, model.ErrInvalidState)
	}
	return nil
}

// authorize checks p is one of the booking's participants. An empty
// AccountID is an internal caller and is not checked.
func authorize(b *model.Booking, p model.Participant) error {
	if p.AccountID == "" {
		return nil
	}
	var ok bool
	switch p.Role {
	case model.RoleConsultant:
		ok = p.AccountID == b.HostID
	case model.RoleParent:
		ok = b.ParentID != nil && p.AccountID == *b.ParentID
	case model.RoleChild:
		ok = p.AccountID == b.ChildID
	}
	if !ok {
		return fmt.Errorf("%w: not a participant of booking %s", model.ErrForbidden, b.ID)
	}
	return nil
}
