package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/events"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/handler"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/media"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/obs"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/schedule"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/service"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	// ── 1. Tracing ───────────────────────────────────────────────────────
	shutdownTracer, err := obs.InitTracer(ctx, "counsel-meetings", cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	// ── 2. Storage ───────────────────────────────────────────────────────
	be, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer be.close()

	// ── 3. Outbound collaborators ────────────────────────────────────────
	provider := a.provider()
	publisher, err := a.publisher()
	if err != nil {
		return err
	}
	defer publisher.Close()

	// ── 4. Wire up layers ────────────────────────────────────────────────
	engine := schedule.NewEngine(be.store, a.hours())
	bookings := service.NewBookingService(be.store, be.directory, engine, publisher, log)
	meetings := service.NewMeetingService(be.store, provider, publisher,
		service.JoinWindow{Lead: cfg.JoinLead(), Grace: cfg.JoinGrace()}, log)
	h := handler.NewBookingHandler(bookings, meetings, cfg.Location(), log)

	router := handler.NewRouter(h, handler.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		MaxRequestsPerMin: cfg.MaxRequestsPerMin,
		Resolver:          be.directory,
		Log:               log,
	})

	// ── 5. Start server with graceful shutdown ───────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func (a *app) provider() media.Provider {
	if a.cfg.MediaDriver == "http" {
		a.log.Info("using media provider", zap.String("url", a.cfg.MediaURL))
		return media.NewHTTPClient(media.HTTPConfig{
			BaseURL:    a.cfg.MediaURL,
			Secret:     a.cfg.MediaSecret,
			Timeout:    a.cfg.MediaTimeout(),
			MaxRetries: a.cfg.MediaMaxRetries,
		}, a.log)
	}
	a.log.Warn("using local media provider, tokens are self-signed")
	return media.NewLocalProvider(a.cfg.MediaSecret, a.cfg.JoinGrace()+a.cfg.JoinLead())
}

func (a *app) publisher() (events.Publisher, error) {
	if a.cfg.RabbitURL == "" {
		return events.Nop{}, nil
	}
	p, err := events.NewAMQPPublisher(a.cfg.RabbitURL, a.cfg.EventsExchange)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	a.log.Info("publishing events", zap.String("exchange", a.cfg.EventsExchange))
	return p, nil
}
