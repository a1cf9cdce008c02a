package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/database"
	"github.com/Shivanand-hulikatti/counsel-meetings/internal/model"
)

var day = time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)

func at(hour int) time.Time { return day.Add(time.Duration(hour) * time.Hour) }

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.CloseSQLite(db) })

	s := NewSQLiteStore(db)
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func newPostgresStore(t *testing.T) Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; Postgres store suite skipped")
	}
	ctx := context.Background()
	pool, err := database.NewPool(ctx, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := database.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewPostgresStore(pool)
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return newSQLiteStore(t) })
}

func TestPostgresStore(t *testing.T) {
	runStoreSuite(t, newPostgresStore)
}

func newBooking(host string, kind model.Kind, when time.Time) *model.Booking {
	b := &model.Booking{
		ID:          uuid.NewString(),
		Kind:        kind,
		ScheduledAt: when,
		HostID:      host,
		ChildID:     "child-" + uuid.NewString()[:8],
	}
	if kind == model.KindConsultation {
		p := "parent-1"
		b.ParentID = &p
	}
	return b
}

func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create conflicts across kinds", func(t *testing.T) {
		s := open(t)
		host := uuid.NewString()
		first := newBooking(host, model.KindGameCoaching, at(14))
		if err := s.Create(ctx, first); err != nil {
			t.Fatalf("create: %v", err)
		}
		second := newBooking(host, model.KindConsultation, at(14))
		if err := s.Create(ctx, second); !errors.Is(err, model.ErrConflict) {
			t.Fatalf("second create err = %v, want ErrConflict", err)
		}

		got, err := s.Get(ctx, first.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != model.StatusPending || got.HasSession() || !got.ScheduledAt.Equal(at(14)) {
			t.Fatalf("unexpected booking %+v", got)
		}
	})

	t.Run("concurrent creates leave one live booking", func(t *testing.T) {
		s := open(t)
		host := uuid.NewString()
		const n = 8

		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.Create(ctx, newBooking(host, model.KindGameCoaching, at(10)))
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case !errors.Is(err, model.ErrConflict):
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if ok != 1 {
			t.Fatalf("%d creates succeeded, want 1", ok)
		}
		list, err := s.ListByHost(ctx, host, day, day.AddDate(0, 0, 1))
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 1 {
			t.Fatalf("%d live bookings, want 1", len(list))
		}
	})

	t.Run("cancel frees the slot and hides the booking", func(t *testing.T) {
		s := open(t)
		host := uuid.NewString()
		b := newBooking(host, model.KindConsultation, at(9))
		if err := s.Create(ctx, b); err != nil {
			t.Fatalf("create: %v", err)
		}
		cancelled, err := s.Cancel(ctx, b.ID, time.Now())
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if !cancelled.Cancelled() {
			t.Fatal("cancelled_at not set")
		}

		if _, err := s.Get(ctx, b.ID); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("get after cancel err = %v, want ErrNotFound", err)
		}
		if _, err := s.Cancel(ctx, b.ID, time.Now()); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("second cancel err = %v, want ErrNotFound", err)
		}
		taken, err := s.ExistsAt(ctx, host, at(9))
		if err != nil || taken {
			t.Fatalf("ExistsAt = %v, %v; want false", taken, err)
		}
		if err := s.Create(ctx, newBooking(host, model.KindGameCoaching, at(9))); err != nil {
			t.Fatalf("rebook cancelled slot: %v", err)
		}
	})

	t.Run("cancel rejects ended booking", func(t *testing.T) {
		s := open(t)
		b := newBooking(uuid.NewString(), model.KindGameCoaching, at(11))
		if err := s.Create(ctx, b); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := s.End(ctx, b.ID, time.Now()); err != nil {
			t.Fatalf("end: %v", err)
		}
		if _, err := s.Cancel(ctx, b.ID, time.Now()); !errors.Is(err, model.ErrInvalidState) {
			t.Fatalf("cancel ended err = %v, want ErrInvalidState", err)
		}
	})

	t.Run("end is terminal", func(t *testing.T) {
		s := open(t)
		b := newBooking(uuid.NewString(), model.KindGameCoaching, at(12))
		if err := s.Create(ctx, b); err != nil {
			t.Fatalf("create: %v", err)
		}
		ended, err := s.End(ctx, b.ID, time.Now())
		if err != nil {
			t.Fatalf("end: %v", err)
		}
		if !ended.Ended() || ended.EndedAt == nil {
			t.Fatalf("booking not ended: %+v", ended)
		}
		if _, err := s.End(ctx, b.ID, time.Now()); !errors.Is(err, model.ErrInvalidState) {
			t.Fatalf("second end err = %v, want ErrInvalidState", err)
		}
		if _, err := s.End(ctx, uuid.NewString(), time.Now()); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("end missing err = %v, want ErrNotFound", err)
		}
	})

	t.Run("attach session once", func(t *testing.T) {
		s := open(t)
		b := newBooking(uuid.NewString(), model.KindGameCoaching, at(13))
		if err := s.Create(ctx, b); err != nil {
			t.Fatalf("create: %v", err)
		}

		const n = 8
		var wg sync.WaitGroup
		stored := make([]string, n)
		won := make([]bool, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var err error
				stored[i], won[i], err = s.AttachSession(ctx, b.ID, uuid.NewString())
				if err != nil {
					t.Errorf("attach: %v", err)
				}
			}(i)
		}
		wg.Wait()

		winners := 0
		for i := range stored {
			if won[i] {
				winners++
			}
			if stored[i] != stored[0] {
				t.Fatalf("callers saw different sessions: %q vs %q", stored[i], stored[0])
			}
		}
		if winners != 1 {
			t.Fatalf("%d winners, want 1", winners)
		}

		got, err := s.Get(ctx, b.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !got.HasSession() || *got.SessionID != stored[0] {
			t.Fatalf("persisted session %v, want %q", got.SessionID, stored[0])
		}
	})

	t.Run("attach session rejects ended and cancelled", func(t *testing.T) {
		s := open(t)
		host := uuid.NewString()
		ended := newBooking(host, model.KindGameCoaching, at(15))
		cancelled := newBooking(host, model.KindGameCoaching, at(16))
		for _, b := range []*model.Booking{ended, cancelled} {
			if err := s.Create(ctx, b); err != nil {
				t.Fatalf("create: %v", err)
			}
		}
		if _, err := s.End(ctx, ended.ID, time.Now()); err != nil {
			t.Fatalf("end: %v", err)
		}
		if _, err := s.Cancel(ctx, cancelled.ID, time.Now()); err != nil {
			t.Fatalf("cancel: %v", err)
		}

		if _, _, err := s.AttachSession(ctx, ended.ID, "s1"); !errors.Is(err, model.ErrInvalidState) {
			t.Fatalf("attach ended err = %v, want ErrInvalidState", err)
		}
		if _, _, err := s.AttachSession(ctx, cancelled.ID, "s2"); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("attach cancelled err = %v, want ErrNotFound", err)
		}
	})

	t.Run("reschedule", func(t *testing.T) {
		s := open(t)
		host := uuid.NewString()
		a := newBooking(host, model.KindGameCoaching, at(9))
		b := newBooking(host, model.KindGameCoaching, at(10))
		for _, bk := range []*model.Booking{a, b} {
			if err := s.Create(ctx, bk); err != nil {
				t.Fatalf("create: %v", err)
			}
		}

		_, err := s.Reschedule(ctx, a.ID, Placement{HostID: host, ChildID: a.ChildID, ScheduledAt: at(10)})
		if !errors.Is(err, model.ErrConflict) {
			t.Fatalf("reschedule onto taken slot err = %v, want ErrConflict", err)
		}

		same, err := s.Reschedule(ctx, a.ID, Placement{HostID: host, ChildID: "child-new", ScheduledAt: at(9)})
		if err != nil {
			t.Fatalf("reschedule in place: %v", err)
		}
		if same.ChildID != "child-new" {
			t.Fatalf("child = %q, want child-new", same.ChildID)
		}

		moved, err := s.Reschedule(ctx, a.ID, Placement{HostID: host, ChildID: "child-new", ScheduledAt: at(11)})
		if err != nil {
			t.Fatalf("reschedule: %v", err)
		}
		if !moved.ScheduledAt.Equal(at(11)) || moved.Status != model.StatusPending {
			t.Fatalf("unexpected moved booking %+v", moved)
		}
		if taken, _ := s.ExistsAt(ctx, host, at(9)); taken {
			t.Fatal("old slot still taken after reschedule")
		}

		if _, err := s.Reschedule(ctx, uuid.NewString(), Placement{HostID: host, ScheduledAt: at(12)}); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("reschedule missing err = %v, want ErrNotFound", err)
		}
	})

	t.Run("listings are ordered and bounded", func(t *testing.T) {
		s := open(t)
		host := uuid.NewString()
		child := "child-" + uuid.NewString()
		var ids []string
		for _, h := range []int{16, 9, 12} {
			b := newBooking(host, model.KindGameCoaching, at(h))
			b.ChildID = child
			if err := s.Create(ctx, b); err != nil {
				t.Fatalf("create: %v", err)
			}
			ids = append(ids, b.ID)
		}
		next := newBooking(host, model.KindGameCoaching, at(24+9))
		if err := s.Create(ctx, next); err != nil {
			t.Fatalf("create next day: %v", err)
		}
		if _, err := s.Cancel(ctx, ids[2], time.Now()); err != nil {
			t.Fatalf("cancel: %v", err)
		}

		list, err := s.ListByHost(ctx, host, day, day.AddDate(0, 0, 1))
		if err != nil {
			t.Fatalf("list by host: %v", err)
		}
		if len(list) != 2 || !list[0].ScheduledAt.Equal(at(9)) || !list[1].ScheduledAt.Equal(at(16)) {
			t.Fatalf("unexpected host listing %+v", list)
		}

		byChild, err := s.ListByChildren(ctx, []string{child, "child-other"}, day, day.AddDate(0, 1, 0))
		if err != nil {
			t.Fatalf("list by children: %v", err)
		}
		if len(byChild) != 2 {
			t.Fatalf("%d child bookings, want 2", len(byChild))
		}
		empty, err := s.ListByChildren(ctx, nil, day, day.AddDate(0, 1, 0))
		if err != nil || len(empty) != 0 {
			t.Fatalf("empty child set = %v, %v", empty, err)
		}
	})
}

func TestSQLiteDirectory(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	d := NewSQLiteDirectory(s.db)

	if err := d.SaveConsultant(ctx, "co-1", "acct-1", "Kim"); err != nil {
		t.Fatalf("save consultant: %v", err)
	}
	children := []model.Child{
		{ID: "ch-1", Name: "Min", ConsultantID: "co-1", ParentID: "pa-1", ParentName: "Lee"},
		{ID: "ch-2", Name: "Jun", ConsultantID: "co-1", ParentID: "pa-1", ParentName: "Lee"},
		{ID: "ch-3", Name: "Solo", ConsultantID: "co-1"},
	}
	for _, c := range children {
		if err := d.SaveChild(ctx, c); err != nil {
			t.Fatalf("save child: %v", err)
		}
	}

	c, err := d.Child(ctx, "ch-1")
	if err != nil {
		t.Fatalf("child: %v", err)
	}
	if c.ConsultantName != "Kim" || c.ParentName != "Lee" {
		t.Fatalf("unexpected child %+v", c)
	}
	solo, err := d.Child(ctx, "ch-3")
	if err != nil {
		t.Fatalf("child without parent: %v", err)
	}
	if solo.ParentID != "" {
		t.Fatalf("ParentID = %q, want empty", solo.ParentID)
	}
	if _, err := d.Child(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("missing child err = %v, want ErrNotFound", err)
	}

	kids, err := d.ChildrenOfParent(ctx, "pa-1")
	if err != nil {
		t.Fatalf("children of parent: %v", err)
	}
	if len(kids) != 2 || kids[0].ID != "ch-1" || kids[1].ID != "ch-2" {
		t.Fatalf("unexpected children %+v", kids)
	}

	id, err := d.ConsultantForAccount(ctx, "acct-1")
	if err != nil || id != "co-1" {
		t.Fatalf("ConsultantForAccount = %q, %v", id, err)
	}
	if _, err := d.ConsultantForAccount(ctx, "acct-x"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown account err = %v, want ErrNotFound", err)
	}
}
