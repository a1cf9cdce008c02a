// Package schedule answers "is this host booked at this instant" and
// "which grid slots are still free on this day".
//
// Matching is by exact instant: every booking sits on the business-hours
// grid, so two meetings either share a start time or do not overlap.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/model"
)

// SlotLayout is the time-of-day format of reported slots.
const SlotLayout = "15:04"

// BusinessHours is the daily slot grid: Open..Close inclusive, every Step.
type BusinessHours struct {
	Open  int
	Close int
	Step  time.Duration
	Loc   *time.Location
}

// DefaultHours is the 09:00 to 17:00 hourly grid (9 slots).
func DefaultHours() BusinessHours {
	return BusinessHours{Open: 9, Close: 17, Step: time.Hour, Loc: time.UTC}
}

// Location returns the grid's zone, UTC when unset.
func (h BusinessHours) Location() *time.Location {
	if h.Loc == nil {
		return time.UTC
	}
	return h.Loc
}

// Day returns midnight of t's calendar day in the grid's zone.
func (h BusinessHours) Day(t time.Time) time.Time {
	t = t.In(h.Location())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, h.Location())
}

// Candidates enumerates every grid instant of day, in order.
func (h BusinessHours) Candidates(day time.Time) []time.Time {
	start := h.Day(day)
	first := start.Add(time.Duration(h.Open) * time.Hour)
	last := start.Add(time.Duration(h.Close) * time.Hour)

	var out []time.Time
	for t := first; !t.After(last); t = t.Add(h.Step) {
		out = append(out, t)
	}
	return out
}

// Aligned reports whether at falls exactly on a grid instant.
func (h BusinessHours) Aligned(at time.Time) bool {
	for _, c := range h.Candidates(at) {
		if c.Equal(at) {
			return true
		}
	}
	return false
}

// Free removes every booked instant from candidates, preserving order.
func Free(candidates, booked []time.Time) []time.Time {
	taken := make(map[int64]struct{}, len(booked))
	for _, b := range booked {
		taken[b.Unix()] = struct{}{}
	}
	out := make([]time.Time, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := taken[c.Unix()]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// Lister is the slice of the booking store the engine reads.
type Lister interface {
	ExistsAt(ctx context.Context, hostID string, at time.Time) (bool, error)
	ListByHost(ctx context.Context, hostID string, from, to time.Time) ([]model.Booking, error)
}

// Engine evaluates conflicts and availability against the booking store.
// Nothing is cached; every call reads the store.
type Engine struct {
	store Lister
	hours BusinessHours
}

// NewEngine constructs an Engine.
func NewEngine(store Lister, hours BusinessHours) *Engine {
	return &Engine{store: store, hours: hours}
}

// Hours returns the configured grid.
func (e *Engine) Hours() BusinessHours {
	return e.hours
}

// IsBooked reports whether the host has a live booking of either kind at at.
// The store repeats this check inside the write transaction.
func (e *Engine) IsBooked(ctx context.Context, hostID string, at time.Time) (bool, error) {
	return e.store.ExistsAt(ctx, hostID, at)
}

// AvailableSlots returns the free grid slots for the host on day as "HH:MM".
func (e *Engine) AvailableSlots(ctx context.Context, hostID string, day time.Time) ([]string, error) {
	start := e.hours.Day(day)
	bookings, err := e.store.ListByHost(ctx, hostID, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("booked slots: %w", err)
	}

	booked := make([]time.Time, 0, len(bookings))
	for _, b := range bookings {
		booked = append(booked, b.ScheduledAt)
	}

	free := Free(e.hours.Candidates(start), booked)
	out := make([]string, 0, len(free))
	for _, t := range free {
		out = append(out, t.In(e.hours.Location()).Format(SlotLayout))
	}
	return out, nil
}
