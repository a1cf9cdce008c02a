package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/model"
)

const apiUser = "OPENVIDUAPP"

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	BaseURL    string
	Secret     string
	Timeout    time.Duration // per attempt
	MaxRetries int
	// InitialInterval is the first retry delay; zero keeps the backoff default.
	InitialInterval time.Duration
}

// HTTPClient calls the provider's REST API.
type HTTPClient struct {
	cfg  HTTPConfig
	http *http.Client
	log  *zap.Logger
}

// NewHTTPClient constructs an HTTPClient.
func NewHTTPClient(cfg HTTPConfig, log *zap.Logger) *HTTPClient {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &HTTPClient{cfg: cfg, http: &http.Client{}, log: log}
}

type createSessionRequest struct {
	CustomSessionID string `json:"customSessionId"`
}

type createSessionResponse struct {
	ID string `json:"id"`
}

type connectionRequest struct {
	Role string `json:"role"`
	Data string `json:"data"`
}

type connectionResponse struct {
	Token string `json:"token"`
}

// CreateSession asks the provider for a session under a fresh random id.
// A 409 means a previous attempt already created it, so the id is reused.
func (c *HTTPClient) CreateSession(ctx context.Context) (string, error) {
	id := uuid.NewString()
	var out createSessionResponse
	status, err := c.post(ctx, "/api/sessions", createSessionRequest{CustomSessionID: id}, &out)
	if err != nil {
		return "", err
	}
	if status == http.StatusConflict || out.ID == "" {
		return id, nil
	}
	return out.ID, nil
}

// IssueToken opens a connection on the session and returns its token.
func (c *HTTPClient) IssueToken(ctx context.Context, sessionID string, role model.Role) (string, error) {
	var out connectionResponse
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/connection"
	if _, err := c.post(ctx, path, connectionRequest{Role: "PUBLISHER", Data: string(role)}, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("%w: empty token for session %s", model.ErrProviderUnavailable, sessionID)
	}
	return out.Token, nil
}

// post sends one JSON request with bounded retries. 5xx, 429 and transport
// errors are retried; other 4xx fail immediately. 409 is returned to the
// caller as a status, not an error.
func (c *HTTPClient) post(ctx context.Context, path string, in, out any) (int, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("%w: encode request: %v", model.ErrProviderUnavailable, err)
	}

	var status int
	attempt := 0
	op := func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(actx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth(apiUser, c.cfg.Secret)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			c.log.Warn("media provider request failed",
				zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		switch {
		case status == http.StatusConflict:
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		case status >= 200 && status < 300:
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
			return nil
		case status >= 500 || status == http.StatusTooManyRequests:
			c.log.Warn("media provider unavailable",
				zap.String("path", path), zap.Int("attempt", attempt), zap.Int("status", status))
			return fmt.Errorf("status %d", status)
		default:
			return backoff.Permanent(fmt.Errorf("status %d", status))
		}
	}

	if err := backoff.Retry(op, c.policy(ctx)); err != nil {
		return status, fmt.Errorf("%w: %s after %d attempt(s): %v", model.ErrProviderUnavailable, path, attempt, err)
	}
	return status, nil
}

func (c *HTTPClient) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if c.cfg.InitialInterval > 0 {
		eb.InitialInterval = c.cfg.InitialInterval
	}
	eb.MaxElapsedTime = time.Duration(c.cfg.MaxRetries+1) * (c.cfg.Timeout + eb.MaxInterval)
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.MaxRetries)), ctx)
}
