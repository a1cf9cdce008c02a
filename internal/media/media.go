// Package media talks to the real-time session provider. It exposes only
// the two operations the scheduler needs: create a session and issue a
// participant token for it. Every failure is reported as
// model.ErrProviderUnavailable.
package media

import (
	"context"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/model"
)

// Provider is the media provider as seen by the session lifecycle.
type Provider interface {
	// CreateSession provisions a new live session and returns its id.
	// Ids are random and never derived from a booking id.
	CreateSession(ctx context.Context) (string, error)
	// IssueToken returns the credential a participant uses to attach to
	// the session's media stream.
	IssueToken(ctx context.Context, sessionID string, role model.Role) (string, error)
}
