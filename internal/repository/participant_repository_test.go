package repository_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/bazar-buzzer/internal/database"
	"github.com/iliyamo/bazar-buzzer/internal/model"
	"github.com/iliyamo/bazar-buzzer/internal/repository"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) *repository.ParticipantRepo {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "buzzer.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(context.Background(), db, database.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repository.NewParticipantRepo(db)
}

func TestCreateWithinCapacity(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	p, err := repo.CreateWithinCapacity(ctx, "Oak School", "A", t0, t0.Add(time.Hour), 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID == 0 || p.Name != "Oak School" || p.PressedAt != nil || p.PressCount != 0 {
		t.Fatalf("unexpected participant: %+v", p)
	}
	if p.SessionToken == nil || *p.SessionToken != "A" {
		t.Fatalf("session token = %v, want A", p.SessionToken)
	}
	if p.LeaseExpiry == nil || !p.LeaseExpiry.Equal(t0.Add(time.Hour)) {
		t.Fatalf("lease expiry = %v", p.LeaseExpiry)
	}
	if !p.RegisteredAt.Equal(t0) {
		t.Fatalf("registered_at = %v, want %v", p.RegisteredAt, t0)
	}

	if _, err := repo.CreateWithinCapacity(ctx, "Oak School", "B", t0, t0.Add(time.Hour), 2); !errors.Is(err, repository.ErrDuplicateName) {
		t.Fatalf("duplicate create: err = %v, want ErrDuplicateName", err)
	}
	if _, err := repo.CreateWithinCapacity(ctx, "Pine School", "B", t0, t0.Add(time.Hour), 2); err != nil {
		t.Fatalf("second create: %v", err)
	}
	if _, err := repo.CreateWithinCapacity(ctx, "Elm School", "C", t0, t0.Add(time.Hour), 2); !errors.Is(err, repository.ErrCapacityExceeded) {
		t.Fatalf("create over capacity: err = %v, want ErrCapacityExceeded", err)
	}
	n, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestNamesAreCaseSensitive(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	if _, err := repo.CreateWithinCapacity(ctx, "oak", "A", t0, t0.Add(time.Hour), 10); err != nil {
		t.Fatalf("create oak: %v", err)
	}
	if _, err := repo.CreateWithinCapacity(ctx, "Oak", "B", t0, t0.Add(time.Hour), 10); err != nil {
		t.Fatalf("create Oak: %v", err)
	}
}

func TestConcurrentCreatesNeverOvershootCapacity(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	const workers, capacity = 20, 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.CreateWithinCapacity(ctx, fmt.Sprintf("N%d", i), fmt.Sprintf("tok-%d", i), t0, t0.Add(time.Hour), capacity)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, repository.ErrCapacityExceeded):
				rejected++
			default:
				t.Errorf("create N%d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if accepted != capacity || rejected != workers-capacity {
		t.Fatalf("accepted=%d rejected=%d, want %d/%d", accepted, rejected, capacity, workers-capacity)
	}
	n, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != capacity {
		t.Fatalf("count = %d, want %d", n, capacity)
	}
}

func TestRenewHonoursLiveLease(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	lease := time.Hour

	if _, err := repo.Renew(ctx, "ghost", "A", t0, t0.Add(lease)); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("renew missing: err = %v, want ErrNotFound", err)
	}
	if _, err := repo.CreateWithinCapacity(ctx, "Oak", "A", t0, t0.Add(lease), 10); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Same token extends.
	t1 := t0.Add(10 * time.Minute)
	p, err := repo.Renew(ctx, "Oak", "A", t1, t1.Add(lease))
	if err != nil {
		t.Fatalf("renew same token: %v", err)
	}
	if !p.LeaseExpiry.Equal(t1.Add(lease)) || !p.RegisteredAt.Equal(t1) {
		t.Fatalf("renew did not extend: %+v", p)
	}

	// Other token while live: rejected, nothing written.
	if _, err := repo.Renew(ctx, "Oak", "B", t1, t1.Add(lease)); !errors.Is(err, repository.ErrNameConflict) {
		t.Fatalf("renew other token: err = %v, want ErrNameConflict", err)
	}
	got, err := repo.GetByName(ctx, "Oak")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *got.SessionToken != "A" {
		t.Fatalf("token changed to %q after rejected renew", *got.SessionToken)
	}

	// Expiry is inclusive: at exactly lease_expiry the lease is no longer live.
	t2 := t1.Add(lease)
	p, err = repo.Renew(ctx, "Oak", "B", t2, t2.Add(lease))
	if err != nil {
		t.Fatalf("renew after expiry: %v", err)
	}
	if *p.SessionToken != "B" {
		t.Fatalf("token = %q, want B", *p.SessionToken)
	}
}

func TestRecordPress(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	if _, err := repo.RecordPress(ctx, "ghost", "A", t0); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("press missing: err = %v, want ErrNotFound", err)
	}
	if _, err := repo.CreateWithinCapacity(ctx, "Oak", "A", t0, t0.Add(time.Hour), 10); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.RecordPress(ctx, "Oak", "B", t0); !errors.Is(err, repository.ErrNameConflict) {
		t.Fatalf("press by other token: err = %v, want ErrNameConflict", err)
	}

	t1 := t0.Add(time.Second)
	p, err := repo.RecordPress(ctx, "Oak", "A", t1)
	if err != nil {
		t.Fatalf("press: %v", err)
	}
	if p.PressCount != 1 || p.PressedAt == nil || !p.PressedAt.Equal(t1) {
		t.Fatalf("after first press: %+v", p)
	}

	// A later press moves pressed_at forward.
	t2 := t1.Add(time.Second)
	p, err = repo.RecordPress(ctx, "Oak", "A", t2)
	if err != nil {
		t.Fatalf("second press: %v", err)
	}
	if p.PressCount != 2 || !p.PressedAt.Equal(t2) {
		t.Fatalf("after second press: %+v", p)
	}

	// A clock step backwards never moves pressed_at back.
	p, err = repo.RecordPress(ctx, "Oak", "A", t1)
	if err != nil {
		t.Fatalf("third press: %v", err)
	}
	if p.PressCount != 3 || !p.PressedAt.Equal(t2) {
		t.Fatalf("after backwards press: %+v", p)
	}
}

func TestLongestTokenRoundTrips(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	token := strings.Repeat("t", model.MaxTokenLength)

	p, err := repo.CreateWithinCapacity(ctx, "Oak", token, t0, t0.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.SessionToken == nil || *p.SessionToken != token {
		t.Fatal("stored token differs from the one presented")
	}
	if _, err := repo.Renew(ctx, "Oak", token, t0.Add(time.Minute), t0.Add(2*time.Hour)); err != nil {
		t.Fatalf("renew with full-length token: %v", err)
	}
	if _, err := repo.RecordPress(ctx, "Oak", token, t0.Add(2*time.Minute)); err != nil {
		t.Fatalf("press with full-length token: %v", err)
	}
	if _, err := repo.RecordPress(ctx, "Oak", token[:128], t0.Add(3*time.Minute)); !errors.Is(err, repository.ErrNameConflict) {
		t.Fatalf("press with truncated token: err = %v, want ErrNameConflict", err)
	}
}

func TestRecordPressOnExpiredLeaseKeepsLease(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	if _, err := repo.CreateWithinCapacity(ctx, "Oak", "A", t0, t0.Add(time.Minute), 10); err != nil {
		t.Fatalf("create: %v", err)
	}
	later := t0.Add(time.Hour)
	p, err := repo.RecordPress(ctx, "Oak", "B", later)
	if err != nil {
		t.Fatalf("press on expired lease: %v", err)
	}
	if *p.SessionToken != "A" {
		t.Fatalf("press claimed the lease: token = %q", *p.SessionToken)
	}
}

func TestRankingOrder(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	for _, name := range []string{"first", "second", "third", "idle"} {
		if _, err := repo.CreateWithinCapacity(ctx, name, "tok-"+name, t0, t0.Add(time.Hour), 10); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	// third presses earliest; first and second tie and fall back to creation order.
	press := func(name string, at time.Time) {
		t.Helper()
		if _, err := repo.RecordPress(ctx, name, "tok-"+name, at); err != nil {
			t.Fatalf("press %s: %v", name, err)
		}
	}
	press("third", t0.Add(1*time.Second))
	press("second", t0.Add(2*time.Second))
	press("first", t0.Add(2*time.Second))

	ranking, err := repo.Ranking(ctx, 10)
	if err != nil {
		t.Fatalf("ranking: %v", err)
	}
	want := []string{"third", "first", "second"}
	if len(ranking) != len(want) {
		t.Fatalf("ranking has %d entries, want %d", len(ranking), len(want))
	}
	for i, e := range ranking {
		if e.Name != want[i] || e.Rank != i+1 {
			t.Fatalf("entry %d = %s rank %d, want %s rank %d", i, e.Name, e.Rank, want[i], i+1)
		}
	}

	top, err := repo.Ranking(ctx, 2)
	if err != nil {
		t.Fatalf("ranking limit 2: %v", err)
	}
	if len(top) != 2 || top[0].Name != "third" || top[1].Name != "first" {
		t.Fatalf("limited ranking is not a prefix: %+v", top)
	}
	if empty, err := repo.Ranking(ctx, 0); err != nil || len(empty) != 0 {
		t.Fatalf("ranking limit 0 = %v, %v", empty, err)
	}
}

func TestResetAndPurge(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		if _, err := repo.CreateWithinCapacity(ctx, name, "tok-"+name, t0, t0.Add(time.Hour), 3); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := repo.RecordPress(ctx, name, "tok-"+name, t0); err != nil {
			t.Fatalf("press %s: %v", name, err)
		}
	}

	n, err := repo.ResetPresses(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 3 {
		t.Fatalf("reset touched %d rows, want 3", n)
	}
	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, p := range list {
		if p.PressedAt != nil || p.PressCount != 0 {
			t.Fatalf("press state survived reset: %+v", p)
		}
		if p.SessionToken == nil || *p.SessionToken != "tok-"+p.Name {
			t.Fatalf("reset touched the lease: %+v", p)
		}
	}
	if r, _ := repo.Ranking(ctx, 10); len(r) != 0 {
		t.Fatalf("ranking after reset = %+v", r)
	}

	n, err = repo.PurgeAll(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 3 {
		t.Fatalf("purge removed %d rows, want 3", n)
	}
	if _, err := repo.CreateWithinCapacity(ctx, "a", "new", t0, t0.Add(time.Hour), 1); err != nil {
		t.Fatalf("create after purge: %v", err)
	}
}

func TestStorageErrorsAreWrapped(t *testing.T) {
	repo := newRepo(t)
	_ = repo.DB().Close()
	_, err := repo.GetByName(context.Background(), "Oak")
	if !errors.Is(err, repository.ErrStorageUnavailable) {
		t.Fatalf("err = %v, want ErrStorageUnavailable", err)
	}
}
