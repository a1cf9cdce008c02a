package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/events"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/model"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/repository"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/schedule"
)

// DateLayout is the calendar-day format used by the "dates" listings.
const DateLayout = "2006-01-02"

// BookingService orchestrates booking creation, rescheduling, cancellation
// and the merged read projections.
type BookingService struct {
	store     repository.Store
	directory repository.Directory
	engine    *schedule.Engine
	events    events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

// NewBookingService constructs a BookingService with its dependencies.
func NewBookingService(
	store repository.Store,
	directory repository.Directory,
	engine *schedule.Engine,
	pub events.Publisher,
	log *zap.Logger,
) *BookingService {
	return &BookingService{
		store:     store,
		directory: directory,
		engine:    engine,
		events:    pub,
		log:       log,
		now:       time.Now,
	}
}

// ConsultantForAccount resolves the consultant id of an authenticated account.
func (s *BookingService) ConsultantForAccount(ctx context.Context, accountID string) (string, error) {
	return s.directory.ConsultantForAccount(ctx, accountID)
}

// Create books a meeting for a child. The host is the child's assigned
// consultant; when req.ConsultantID is set it must be that consultant.
func (s *BookingService) Create(ctx context.Context, req model.CreateBookingRequest) (id string, err error) {
	ctx, span := startSpan(ctx, "BookingService.Create", "")
	defer func() { endSpan(span, err) }()

	if !req.Kind.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", model.ErrInvalidInput, req.Kind)
	}
	at, err := s.validateSlot(req.ChildID, req.ScheduledAt)
	if err != nil {
		return "", err
	}

	placement, err := s.place(ctx, req.Kind, strings.TrimSpace(req.ChildID), req.ConsultantID, at)
	if err != nil {
		return "", err
	}
	booked, err := s.engine.IsBooked(ctx, placement.HostID, at)
	if err != nil {
		return "", fmt.Errorf("create booking: %w", err)
	}
	if booked {
		return "", model.ErrConflict
	}

	b := &model.Booking{
		ID:          uuid.NewString(),
		Kind:        req.Kind,
		ScheduledAt: at,
		HostID:      placement.HostID,
		ChildID:     placement.ChildID,
		ParentID:    placement.ParentID,
	}
	if err := s.store.Create(ctx, b); err != nil {
		return "", passthrough(err, "create booking")
	}

	s.log.Info("booking created",
		zap.String("booking_id", b.ID), zap.String("kind", string(b.Kind)),
		zap.String("host_id", b.HostID), zap.Time("scheduled_at", b.ScheduledAt))
	publish(ctx, s.events, s.log, events.BookingCreated, b, s.now())
	return b.ID, nil
}

// Reschedule moves a booking to a new child and/or instant. Status and
// session are left untouched.
func (s *BookingService) Reschedule(ctx context.Context, bookingID string, req model.RescheduleRequest) (id string, err error) {
	ctx, span := startSpan(ctx, "BookingService.Reschedule", bookingID)
	defer func() { endSpan(span, err) }()

	at, err := s.validateSlot(req.ChildID, req.ScheduledAt)
	if err != nil {
		return "", err
	}
	cur, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return "", passthrough(wrapNotFound(err, "booking "+bookingID), "reschedule booking")
	}
	if req.ConsultantID != "" && cur.HostID != req.ConsultantID {
		return "", fmt.Errorf("%w: booking %s belongs to another consultant", model.ErrForbidden, bookingID)
	}

	placement, err := s.place(ctx, cur.Kind, strings.TrimSpace(req.ChildID), req.ConsultantID, at)
	if err != nil {
		return "", err
	}
	if placement.HostID != cur.HostID || !at.Equal(cur.ScheduledAt) {
		booked, err := s.engine.IsBooked(ctx, placement.HostID, at)
		if err != nil {
			return "", fmt.Errorf("reschedule booking: %w", err)
		}
		if booked {
			return "", model.ErrConflict
		}
	}

	b, err := s.store.Reschedule(ctx, bookingID, placement)
	if err != nil {
		return "", passthrough(wrapNotFound(err, "booking "+bookingID), "reschedule booking")
	}

	s.log.Info("booking rescheduled",
		zap.String("booking_id", b.ID), zap.String("child_id", b.ChildID), zap.Time("scheduled_at", b.ScheduledAt))
	publish(ctx, s.events, s.log, events.BookingRescheduled, b, s.now())
	return b.ID, nil
}

// Cancel soft-deletes a booking. consultantID, when set, must be the host.
func (s *BookingService) Cancel(ctx context.Context, bookingID, consultantID string) (err error) {
	ctx, span := startSpan(ctx, "BookingService.Cancel", bookingID)
	defer func() { endSpan(span, err) }()

	if consultantID != "" {
		cur, err := s.store.Get(ctx, bookingID)
		if err != nil {
			return passthrough(wrapNotFound(err, "booking "+bookingID), "cancel booking")
		}
		if cur.HostID != consultantID {
			return fmt.Errorf("%w: booking %s belongs to another consultant", model.ErrForbidden, bookingID)
		}
	}

	b, err := s.store.Cancel(ctx, bookingID, s.now())
	if err != nil {
		return passthrough(wrapNotFound(err, "booking "+bookingID), "cancel booking")
	}

	s.log.Info("booking cancelled", zap.String("booking_id", b.ID))
	publish(ctx, s.events, s.log, events.BookingCancelled, b, s.now())
	return nil
}

// AvailableSlots returns the host's free grid slots on day.
func (s *BookingService) AvailableSlots(ctx context.Context, hostID string, day time.Time) ([]string, error) {
	if strings.TrimSpace(hostID) == "" {
		return nil, fmt.Errorf("%w: host id is required", model.ErrInvalidInput)
	}
	return s.engine.AvailableSlots(ctx, hostID, day)
}

// ListByDate returns the host's bookings on day.
func (s *BookingService) ListByDate(ctx context.Context, hostID string, day time.Time) ([]model.BookingView, error) {
	start := s.engine.Hours().Day(day)
	bookings, err := s.store.ListByHost(ctx, hostID, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list by date: %w", err)
	}
	return s.views(ctx, bookings)
}

// ListByChild returns the child's bookings in month.
func (s *BookingService) ListByChild(ctx context.Context, childID string, month time.Time) ([]model.BookingView, error) {
	bookings, err := s.childBookings(ctx, childID, month)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, bookings)
}

// ListByParent returns bookings of all the parent's children in month.
func (s *BookingService) ListByParent(ctx context.Context, parentID string, month time.Time) ([]model.BookingView, error) {
	bookings, err := s.parentBookings(ctx, parentID, month)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, bookings)
}

// DatesByChild returns the distinct days in month with a booking for the child.
func (s *BookingService) DatesByChild(ctx context.Context, childID string, month time.Time) ([]string, error) {
	bookings, err := s.childBookings(ctx, childID, month)
	if err != nil {
		return nil, err
	}
	return s.dates(bookings), nil
}

// DatesByParent returns the distinct days in month with a booking for any
// of the parent's children.
func (s *BookingService) DatesByParent(ctx context.Context, parentID string, month time.Time) ([]string, error) {
	bookings, err := s.parentBookings(ctx, parentID, month)
	if err != nil {
		return nil, err
	}
	return s.dates(bookings), nil
}

// CheckReadAccess reports whether viewer may read the listing of childID or,
// when childID is empty, of parentID. Children may read their own listing,
// parents those of their children, consultants those of children assigned to
// them. Parent-wide listings are for that parent only.
func (s *BookingService) CheckReadAccess(ctx context.Context, viewer model.Participant, childID, parentID string) error {
	if childID == "" {
		if viewer.Role == model.RoleParent && parentID != "" && parentID == viewer.AccountID {
			return nil
		}
		return fmt.Errorf("%w: bookings of parent %s", model.ErrForbidden, parentID)
	}

	child, err := s.directory.Child(ctx, childID)
	if err != nil {
		return passthrough(wrapNotFound(err, "child "+childID), "get child")
	}
	var ok bool
	switch viewer.Role {
	case model.RoleChild:
		ok = child.ID == viewer.AccountID
	case model.RoleParent:
		ok = child.ParentID != "" && child.ParentID == viewer.AccountID
	case model.RoleConsultant:
		ok = child.ConsultantID == viewer.AccountID
	}
	if !ok {
		return fmt.Errorf("%w: bookings of child %s", model.ErrForbidden, childID)
	}
	return nil
}

func (s *BookingService) childBookings(ctx context.Context, childID string, month time.Time) ([]model.Booking, error) {
	if _, err := s.directory.Child(ctx, childID); err != nil {
		return nil, passthrough(wrapNotFound(err, "child "+childID), "get child")
	}
	from, to := s.monthRange(month)
	bookings, err := s.store.ListByChildren(ctx, []string{childID}, from, to)
	if err != nil {
		return nil, fmt.Errorf("list by child: %w", err)
	}
	return bookings, nil
}

func (s *BookingService) parentBookings(ctx context.Context, parentID string, month time.Time) ([]model.Booking, error) {
	children, err := s.directory.ChildrenOfParent(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("children of parent: %w", err)
	}
	ids := make([]string, 0, len(children))
	for _, c := range children {
		ids = append(ids, c.ID)
	}
	from, to := s.monthRange(month)
	bookings, err := s.store.ListByChildren(ctx, ids, from, to)
	if err != nil {
		return nil, fmt.Errorf("list by parent: %w", err)
	}
	return bookings, nil
}

func (s *BookingService) monthRange(month time.Time) (time.Time, time.Time) {
	d := s.engine.Hours().Day(month)
	start := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, d.Location())
	return start, start.AddDate(0, 1, 0)
}

// views merges both kinds into one ascending read model, joined with
// directory names.
func (s *BookingService) views(ctx context.Context, bookings []model.Booking) ([]model.BookingView, error) {
	slices.SortStableFunc(bookings, func(a, b model.Booking) int {
		return a.ScheduledAt.Compare(b.ScheduledAt)
	})

	children := make(map[string]*model.Child)
	out := make([]model.BookingView, 0, len(bookings))
	for _, b := range bookings {
		c, ok := children[b.ChildID]
		if !ok {
			var err error
			c, err = s.directory.Child(ctx, b.ChildID)
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return nil, fmt.Errorf("get child: %w", err)
			}
			children[b.ChildID] = c
		}

		v := model.BookingView{
			ID:          b.ID,
			Kind:        b.Kind,
			ScheduledAt: b.ScheduledAt.In(s.engine.Hours().Location()),
			HostID:      b.HostID,
			ChildID:     b.ChildID,
			Status:      b.Status,
			State:       b.SessionState(),
		}
		if b.ParentID != nil {
			v.ParentID = *b.ParentID
		}
		if c != nil {
			v.ChildName = c.Name
			if c.ConsultantID == b.HostID {
				v.HostName = c.ConsultantName
			}
			if v.ParentID != "" && c.ParentID == v.ParentID {
				v.ParentName = c.ParentName
			}
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *BookingService) dates(bookings []model.Booking) []string {
	loc := s.engine.Hours().Location()
	seen := make(map[string]struct{})
	var out []string
	for _, b := range bookings {
		d := b.ScheduledAt.In(loc).Format(DateLayout)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

// validateSlot checks the request basics and that at lies on the grid.
func (s *BookingService) validateSlot(childID string, at time.Time) (time.Time, error) {
	if strings.TrimSpace(childID) == "" {
		return time.Time{}, fmt.Errorf("%w: child id is required", model.ErrInvalidInput)
	}
	if at.IsZero() {
		return time.Time{}, fmt.Errorf("%w: scheduled_at is required", model.ErrInvalidInput)
	}
	if !s.engine.Hours().Aligned(at) {
		return time.Time{}, fmt.Errorf("%w: %s is not a bookable slot", model.ErrInvalidInput, at.Format(time.RFC3339))
	}
	return at.UTC(), nil
}

// place derives host and parent from the child's directory record.
func (s *BookingService) place(ctx context.Context, kind model.Kind, childID, consultantID string, at time.Time) (repository.Placement, error) {
	child, err := s.directory.Child(ctx, childID)
	if err != nil {
		return repository.Placement{}, passthrough(wrapNotFound(err, "child "+childID), "get child")
	}
	if consultantID != "" && child.ConsultantID != consultantID {
		return repository.Placement{}, fmt.Errorf("%w: child %s is not assigned to the caller", model.ErrForbidden, childID)
	}

	p := repository.Placement{HostID: child.ConsultantID, ChildID: child.ID, ScheduledAt: at}
	if kind == model.KindConsultation {
		if child.ParentID == "" {
			return repository.Placement{}, fmt.Errorf("%w: child %s has no parent for a consultation", model.ErrInvalidInput, childID)
		}
		parentID := child.ParentID
		p.ParentID = &parentID
	}
	return p, nil
}

// wrapNotFound names what was missing; other errors are returned as is.
func wrapNotFound(err error, what string) error {
	if errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("%s %w", what, err)
	}
	return err
}

// passthrough keeps domain errors intact so handlers can map them.
func passthrough(err error, op string) error {
	for _, target := range []error{
		model.ErrConflict, model.ErrNotFound, model.ErrInvalidState,
		model.ErrProviderUnavailable, model.ErrInvalidInput, model.ErrForbidden,
	} {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
