package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/handler"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/model"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/repository"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/schedule"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			be.close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", a.cfg.StoreDriver)
			return nil
		},
	}
}

func newSlotsCmd(a *app) *cobra.Command {
	var host, date string
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print a consultant's free slots for a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := time.ParseInLocation(time.DateOnly, date, a.cfg.Location())
			if err != nil {
				return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
			}
			be, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer be.close()

			slots, err := schedule.NewEngine(be.store, a.hours()).AvailableSlots(cmd.Context(), host, day)
			if err != nil {
				return err
			}
			if len(slots) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "fully booked")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(slots, " "))
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "consultant id")
	cmd.Flags().StringVar(&date, "date", time.Now().Format(time.DateOnly), "day to inspect (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	var sub, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := model.Role(strings.ToUpper(role))
			if !r.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			tok, err := handler.SignToken(a.cfg.JWTSecret, sub, r, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "account id")
	cmd.Flags().StringVar(&role, "role", string(model.RoleConsultant), "CONSULTANT, PARENT or CHILD")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

// newDirectoryCmd seeds the embedded directory. With Postgres the directory
// tables belong to the wider platform and are not written here.
func newDirectoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Seed consultants and children into the SQLite directory",
	}

	sqliteDirectory := func(cmd *cobra.Command) (*repository.SQLiteDirectory, func(), error) {
		be, err := a.open(cmd.Context())
		if err != nil {
			return nil, nil, err
		}
		dir, ok := be.directory.(*repository.SQLiteDirectory)
		if !ok {
			be.close()
			return nil, nil, errors.New("directory seeding needs STORE_DRIVER=sqlite")
		}
		return dir, be.close, nil
	}

	var id, account, name string
	consultant := &cobra.Command{
		Use:   "consultant",
		Short: "Add or update a consultant",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, done, err := sqliteDirectory(cmd)
			if err != nil {
				return err
			}
			defer done()
			return dir.SaveConsultant(cmd.Context(), id, account, name)
		},
	}
	consultant.Flags().StringVar(&id, "id", "", "consultant id")
	consultant.Flags().StringVar(&account, "account", "", "login account id")
	consultant.Flags().StringVar(&name, "name", "", "display name")
	_ = consultant.MarkFlagRequired("id")

	var c model.Child
	child := &cobra.Command{
		Use:   "child",
		Short: "Add or update a child with its consultant and parent",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, done, err := sqliteDirectory(cmd)
			if err != nil {
				return err
			}
			defer done()
			return dir.SaveChild(cmd.Context(), c)
		},
	}
	child.Flags().StringVar(&c.ID, "id", "", "child id")
	child.Flags().StringVar(&c.Name, "name", "", "display name")
	child.Flags().StringVar(&c.ConsultantID, "consultant", "", "assigned consultant id")
	child.Flags().StringVar(&c.ParentID, "parent", "", "parent id")
	child.Flags().StringVar(&c.ParentName, "parent-name", "", "parent display name")
	_ = child.MarkFlagRequired("id")
	_ = child.MarkFlagRequired("consultant")

	cmd.AddCommand(consultant, child)
	return cmd
}
