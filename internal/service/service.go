// Package service implements the booking manager and the meeting session
// lifecycle on top of the booking store, the slot engine and the media
// provider.
package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/events"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/model"
)

var tracer = otel.Tracer("github.com/Shivanand-hulikatti/counsel-meetings/internal/service")

func startSpan(ctx context.Context, name, bookingID string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	if bookingID != "" {
		span.SetAttributes(attribute.String("booking.id", bookingID))
	}
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// publish emits a transition event. Failures are logged, never returned.
func publish(ctx context.Context, pub events.Publisher, log *zap.Logger, typ string, b *model.Booking, at time.Time) {
	err := pub.Publish(ctx, model.Event{
		Type:      typ,
		BookingID: b.ID,
		Kind:      b.Kind,
		HostID:    b.HostID,
		ChildID:   b.ChildID,
		At:        at,
	})
	if err != nil {
		log.Warn("publish event failed", zap.String("type", typ), zap.String("booking_id", b.ID), zap.Error(err))
	}
}
