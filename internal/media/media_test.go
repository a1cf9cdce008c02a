package media

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/model"
)

func newClient(url string, retries int) *HTTPClient {
	return NewHTTPClient(HTTPConfig{
		BaseURL:         url,
		Secret:          "s3cret",
		Timeout:         time.Second,
		MaxRetries:      retries,
		InitialInterval: time.Millisecond,
	}, zap.NewNop())
}

func TestHTTPClientCreateAndIssue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != apiUser || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.URL.Path == "/api/sessions":
			var in createSessionRequest
			_ = json.NewDecoder(r.Body).Decode(&in)
			_ = json.NewEncoder(w).Encode(createSessionResponse{ID: in.CustomSessionID})
		case strings.HasSuffix(r.URL.Path, "/connection"):
			var in connectionRequest
			_ = json.NewDecoder(r.Body).Decode(&in)
			_ = json.NewEncoder(w).Encode(connectionResponse{Token: "tok-" + in.Data})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newClient(srv.URL, 2)
	ctx := context.Background()

	a, err := c.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := c.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a == "" || a == b {
		t.Fatalf("session ids not unique: %q %q", a, b)
	}

	tok, err := c.IssueToken(ctx, a, model.RoleParent)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok != "tok-PARENT" {
		t.Fatalf("token = %q", tok)
	}
}

func TestHTTPClientRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(createSessionResponse{ID: "ses-1"})
	}))
	defer srv.Close()

	id, err := newClient(srv.URL, 3).CreateSession(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "ses-1" || calls.Load() != 3 {
		t.Fatalf("id=%q calls=%d", id, calls.Load())
	}
}

func TestHTTPClientConflictReusesCustomID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	id, err := newClient(srv.URL, 0).CreateSession(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" {
		t.Fatal("expected the requested custom id")
	}
}

func TestHTTPClientFailuresAreProviderUnavailable(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retries   int
		wantCalls int32
	}{
		{"exhausted retries", http.StatusBadGateway, 2, 3},
		{"client error is not retried", http.StatusBadRequest, 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := newClient(srv.URL, tt.retries).IssueToken(context.Background(), "ses", model.RoleChild)
			if !errors.Is(err, model.ErrProviderUnavailable) {
				t.Fatalf("err = %v, want ErrProviderUnavailable", err)
			}
			if calls.Load() != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestHTTPClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := newClient(url, 1).CreateSession(context.Background()); !errors.Is(err, model.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestLocalProviderTokens(t *testing.T) {
	p := NewLocalProvider("secret", time.Hour)
	ctx := context.Background()

	sid, err := p.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	other, _ := p.CreateSession(ctx)
	if sid == other {
		t.Fatal("session ids repeat")
	}

	tok, err := p.IssueToken(ctx, sid, model.RoleConsultant)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := p.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.SessionID != sid || claims.Role != model.RoleConsultant {
		t.Fatalf("claims = %+v", claims)
	}

	if _, err := NewLocalProvider("other", time.Hour).Verify(tok); err == nil {
		t.Fatal("token verified under the wrong secret")
	}
}

func TestLocalProviderHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLocalProvider("s", 0).CreateSession(ctx); !errors.Is(err, model.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}
