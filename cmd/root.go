package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/config"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/database"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/logging"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/repository"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/schedule"
)

// app is what every subcommand gets after PersistentPreRunE.
type app struct {
	cfg config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "meetings",
		Short:         "Counseling-center meeting scheduler",
		Long:          "meetings books consultations and game-coaching sessions and runs their live video sessions.",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			log, err := logging.New(cfg.IsProduction(), cfg.LogLevel)
			if err != nil {
				return err
			}
			a.cfg, a.log = cfg, log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newSlotsCmd(a),
		newTokenCmd(a),
		newDirectoryCmd(a),
	)
	return root
}

func (a *app) hours() schedule.BusinessHours {
	return schedule.BusinessHours{
		Open:  a.cfg.BusinessOpenHour,
		Close: a.cfg.BusinessCloseHour,
		Step:  a.cfg.SlotStep(),
		Loc:   a.cfg.Location(),
	}
}

// backend is an opened store with its directory.
type backend struct {
	store     repository.Store
	directory repository.Directory
	close     func()
}

// open connects the configured store. Schemas are migrated on open so a
// fresh database is usable straight away.
func (a *app) open(ctx context.Context) (*backend, error) {
	switch a.cfg.StoreDriver {
	case "postgres":
		pool, err := database.NewPool(ctx, a.cfg.DatabaseURL, a.log)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		a.log.Info("connected to postgres")
		return &backend{
			store:     repository.NewPostgresStore(pool),
			directory: repository.NewPostgresDirectory(pool),
			close:     pool.Close,
		}, nil

	case "sqlite":
		db, err := database.OpenSQLite(a.cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		store := repository.NewSQLiteStore(db)
		if err := store.Migrate(); err != nil {
			_ = database.CloseSQLite(db)
			return nil, err
		}
		a.log.Info("opened sqlite", zap.String("path", a.cfg.SQLitePath))
		return &backend{
			store:     store,
			directory: repository.NewSQLiteDirectory(db),
			close:     func() { _ = database.CloseSQLite(db) },
		}, nil
	}
	return nil, errors.New("unknown store driver " + a.cfg.StoreDriver)
}
