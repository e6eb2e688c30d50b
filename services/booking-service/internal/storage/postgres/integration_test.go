package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

// openTestStore connects to BOOKING_TEST_DATABASE_URL and applies the schema.
// Tests using it are skipped when the variable is unset.
func openTestStore(t *testing.T) (*Store, *db.Pool) {
	t.Helper()
	url := os.Getenv("BOOKING_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("BOOKING_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := db.Open(ctx, url, db.Options{MaxConns: 4})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(pool), pool
}

// testSlot returns a slot for a provider no other test run uses.
func testSlot(start time.Time, d time.Duration) model.Slot {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return model.NewSlot(uuid.NewString(), "provider-"+uuid.NewString(), time.Time{}, start, start.Add(d), now)
}

func createSlot(t *testing.T, s *Store, slot model.Slot) (model.Slot, error) {
	t.Helper()
	var created model.Slot
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		created, err = tx.Slots().Create(ctx, slot)
		return err
	})
	return created, err
}

func TestPostgresSlotOverlapConstraint(t *testing.T) {
	s, _ := openTestStore(t)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first := testSlot(start, time.Hour)
	if _, err := createSlot(t, s, first); err != nil {
		t.Fatalf("create: %v", err)
	}

	overlapping := first
	overlapping.ID = uuid.NewString()
	overlapping.StartTime = start.Add(30 * time.Minute)
	overlapping.EndTime = start.Add(90 * time.Minute)
	if _, err := createSlot(t, s, overlapping); !storage.IsOverlap(err) {
		t.Fatalf("expected overlap, got %v", err)
	}

	touching := first
	touching.ID = uuid.NewString()
	touching.StartTime = first.EndTime
	touching.EndTime = first.EndTime.Add(time.Hour)
	if _, err := createSlot(t, s, touching); err != nil {
		t.Fatalf("touching slot rejected: %v", err)
	}
}

func TestPostgresVersionCheckedUpdate(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	slot, err := createSlot(t, s, testSlot(time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), time.Hour))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	stale := slot
	err = s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		cur, err := tx.Slots().FindByID(ctx, slot.ID)
		if err != nil {
			return err
		}
		if err := cur.Book(time.Now().UTC()); err != nil {
			return err
		}
		_, err = tx.Slots().Update(ctx, cur)
		return err
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.Slots().Update(ctx, stale)
		return err
	})
	if !storage.IsConflict(err) {
		t.Fatalf("expected conflict for stale version, got %v", err)
	}

	missing := stale
	missing.ID = uuid.NewString()
	err = s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.Slots().Update(ctx, missing)
		return err
	})
	if !storage.IsConflict(err) {
		t.Fatalf("expected conflict for missing row, got %v", err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.Slots().FindByID(ctx, missing.ID)
		return err
	})
	if !storage.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostgresOneConfirmedAppointmentPerSlot(t *testing.T) {
	s, _ := openTestStore(t)
	slotID := uuid.NewString()
	now := time.Now().UTC()

	book := func(clientID string) error {
		return s.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.Appointments().Create(ctx, model.NewAppointment(uuid.NewString(), clientID, slotID, now))
			return err
		})
	}
	if err := book("client-a"); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if err := book("client-b"); !storage.IsConflict(err) {
		t.Fatalf("expected conflict for second confirmed appointment, got %v", err)
	}
}

func TestPostgresFindByIDLocksRow(t *testing.T) {
	s, _ := openTestStore(t)
	slot, err := createSlot(t, s, testSlot(time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC), time.Hour))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
			if _, err := tx.Slots().FindByID(ctx, slot.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()

	select {
	case <-locked:
	case err := <-done:
		t.Fatalf("holder failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err = s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.Slots().FindByID(ctx, slot.ID)
		return err
	})
	close(release)
	if err == nil {
		t.Fatal("expected the second reader to block on the row lock")
	}
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}
}

func TestPostgresDrainPublishesOnce(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	aggregate := uuid.NewString()

	err := s.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.Events().Append(ctx, outbox.Event{
			AggregateType: outbox.AggregateSlot,
			AggregateID:   aggregate,
			EventType:     outbox.EventSlotCreated,
			Payload:       []byte(`{"slot_id":"x"}`),
		})
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	count := func() int {
		n := 0
		err := s.Drain(ctx, 1000, func(_ context.Context, rs []outbox.Record) error {
			for _, r := range rs {
				if r.AggregateID == aggregate {
					if r.EventID == "" {
						t.Fatalf("record missing event id: %+v", r)
					}
					n++
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		return n
	}
	if n := count(); n != 1 {
		t.Fatalf("expected the event once, got %d", n)
	}
	if n := count(); n != 0 {
		t.Fatalf("expected a published event not to be drained again, got %d", n)
	}
}
