package service_test

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
	"github.com/iliyamo/bazar-buzzer/internal/notify"
	"github.com/iliyamo/bazar-buzzer/internal/queue"
	"github.com/iliyamo/bazar-buzzer/internal/repository"
	"github.com/iliyamo/bazar-buzzer/internal/service"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingCache struct {
	mu sync.Mutex
	n  int
}

func (c *countingCache) Invalidate() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type recordingSink struct {
	mu     sync.Mutex
	events []queue.AuditEvent
}

func (s *recordingSink) Enqueue(ev queue.AuditEvent) bool {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return true
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

type core struct {
	repo     *repository.ParticipantRepo
	clock    *fakeClock
	bus      *notify.LocalBus
	cache    *countingCache
	audit    *recordingSink
	registry *service.Registry
	arb      *service.Arbitrator
	ledger   *service.Ledger
	admin    *service.Admin
}

func newCore(t *testing.T) *core {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "buzzer.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(context.Background(), db, database.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	c := &core{
		repo:  repository.NewParticipantRepo(db),
		clock: &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		bus:   notify.NewLocalBus(),
		cache: &countingCache{},
		audit: &recordingSink{},
	}
	tokens := 0
	opts := service.Options{
		MaxParticipants: 10,
		LeaseDuration:   time.Hour,
		Now:             c.clock.Now,
		NewToken: func() string {
			tokens++
			return fmt.Sprintf("issued-%d", tokens)
		},
	}
	c.registry = service.NewRegistry(c.repo, c.bus, c.audit, opts)
	c.arb = service.NewArbitrator(c.repo, opts)
	c.ledger = service.NewLedger(c.repo, c.bus, c.cache, c.audit, opts)
	c.admin = service.NewAdmin(c.repo, c.bus, c.cache, c.audit, opts)
	return c
}

func TestOakSchoolScenario(t *testing.T) {
	c := newCore(t)
	ctx := context.Background()

	reg, err := c.registry.Register(ctx, "Oak School", "A")
	if err != nil {
		t.Fatalf("register A: %v", err)
	}
	if !reg.Created || reg.LeaseToken != "A" {
		t.Fatalf("register A = %+v", reg)
	}

	if _, err := c.registry.Register(ctx, "Oak School", "B"); !errors.Is(err, repository.ErrNameConflict) {
		t.Fatalf("register B: err = %v, want ErrNameConflict", err)
	}

	auth, err := c.arb.Authorize(ctx, "Oak School", "B")
	if err != nil {
		t.Fatalf("authorize B: %v", err)
	}
	if auth.Authorized || auth.Reason != model.ReasonOwnedByOtherSession {
		t.Fatalf("authorize B = %+v", auth)
	}
	if _, err := c.ledger.RecordPress(ctx, "Oak School", "B"); !errors.Is(err, repository.ErrNameConflict) {
		t.Fatalf("press B: err = %v, want ErrNameConflict", err)
	}

	t1 := c.clock.Now()
	receipt, err := c.ledger.RecordPress(ctx, "Oak School", "A")
	if err != nil {
		t.Fatalf("press A: %v", err)
	}
	if receipt.PressCount != 1 || !receipt.PressedAt.Equal(t1) {
		t.Fatalf("press A = %+v, want count 1 at %v", receipt, t1)
	}
}

func TestCapacityScenario(t *testing.T) {
	c := newCore(t)
	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		if _, err := c.registry.Register(ctx, fmt.Sprintf("N%d", i), fmt.Sprintf("tok-%d", i)); err != nil {
			t.Fatalf("register N%d: %v", i, err)
		}
	}
	if _, err := c.registry.Register(ctx, "N11", "tok-11"); !errors.Is(err, repository.ErrCapacityExceeded) {
		t.Fatalf("register N11: err = %v, want ErrCapacityExceeded", err)
	}
	// Renewing an existing name is not blocked by a full table.
	reg, err := c.registry.Register(ctx, "N3", "tok-3")
	if err != nil {
		t.Fatalf("renew N3 at capacity: %v", err)
	}
	if reg.Created {
		t.Fatal("renewal reported Created")
	}
}

func TestConcurrentRegistrationsSameName(t *testing.T) {
	c := newCore(t)
	ctx := context.Background()

	const devices = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := fmt.Sprintf("dev-%d", i)
			_, err := c.registry.Register(ctx, "Oak", token)
			switch {
			case err == nil:
				mu.Lock()
				winners = append(winners, token)
				mu.Unlock()
			case errors.Is(err, repository.ErrNameConflict):
			default:
				t.Errorf("register %s: %v", token, err)
			}
		}(i)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("%d devices won the name, want exactly 1: %v", len(winners), winners)
	}
	p, err := c.repo.GetByName(ctx, "Oak")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *p.SessionToken != winners[0] {
		t.Fatalf("lease holder %q, winner %q", *p.SessionToken, winners[0])
	}
}

func TestLeaseExpiryFreesName(t *testing.T) {
	c := newCore(t)
	ctx := context.Background()
	if _, err := c.registry.Register(ctx, "Oak", "A"); err != nil {
		t.Fatalf("register A: %v", err)
	}
	if _, err := c.ledger.RecordPress(ctx, "Oak", "A"); err != nil {
		t.Fatalf("press A: %v", err)
	}

	c.clock.Advance(time.Hour)
	auth, err := c.arb.Authorize(ctx, "Oak", "B")
	if err != nil {
		t.Fatalf("authorize B: %v", err)
	}
	if !auth.Authorized {
		t.Fatalf("expired lease still blocks B: %+v", auth)
	}

	reg, err := c.registry.Register(ctx, "Oak", "B")
	if err != nil {
		t.Fatalf("register B after expiry: %v", err)
	}
	if reg.Created || reg.LeaseToken != "B" {
		t.Fatalf("register B = %+v", reg)
	}
	if reg.Participant.PressCount != 1 {
		t.Fatalf("re-lease lost press state: %+v", reg.Participant)
	}
	if _, err := c.ledger.RecordPress(ctx, "Oak", "A"); !errors.Is(err, repository.ErrNameConflict) {
		t.Fatalf("press by previous holder: err = %v, want ErrNameConflict", err)
	}
}

func TestRenewalKeepsPressState(t *testing.T) {
	c := newCore(t)
	ctx := context.Background()
	if _, err := c.registry.Register(ctx, "Oak", "A"); err != nil {
		t.Fatalf("register: %v", err)
	}
	receipt, err := c.ledger.RecordPress(ctx, "Oak", "A")
	if err != nil {
		t.Fatalf("press: %v", err)
	}
	c.clock.Advance(time.Minute)
	reg, err := c.registry.Register(ctx, "Oak", "A")
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	p := reg.Participant
	if p.PressCount != 1 || p.PressedAt == nil || !p.PressedAt.Equal(receipt.PressedAt) {
		t.Fatalf("renewal changed press state: %+v", p)
	}
	if !reg.LeaseExpiry.Equal(c.clock.Now().Add(time.Hour)) {
		t.Fatalf("lease expiry = %v", reg.LeaseExpiry)
	}
}

func TestRepeatedPressMovesParticipantBack(t *testing.T) {
	c := newCore(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b"} {
		if _, err := c.registry.Register(ctx, name, "tok-"+name); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	press := func(name string) model.PressReceipt {
		t.Helper()
		c.clock.Advance(time.Second)
		r, err := c.ledger.RecordPress(ctx, name, "tok-"+name)
		if err != nil {
			t.Fatalf("press %s: %v", name, err)
		}
		return r
	}
	press("a")
	press("b")
	second := press("a")
	if second.PressCount != 2 {
		t.Fatalf("press count = %d, want 2", second.PressCount)
	}

	ranking, err := c.repo.Ranking(ctx, 10)
	if err != nil {
		t.Fatalf("ranking: %v", err)
	}
	if len(ranking) != 2 || ranking[0].Name != "b" || ranking[1].Name != "a" {
		t.Fatalf("ranking = %+v, want b then a", ranking)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	c := newCore(t)
	ctx := context.Background()

	long := make([]rune, model.MaxNameLength+1)
	for i := range long {
		long[i] = 'x'
	}
	for _, name := range []string{"", "   ", string(long)} {
		if _, err := c.registry.Register(ctx, name, "A"); !errors.Is(err, repository.ErrInvalidInput) {
			t.Fatalf("register %q: err = %v, want ErrInvalidInput", name, err)
		}
	}

	reg, err := c.registry.Register(ctx, "  Oak  ", "")
	if err != nil {
		t.Fatalf("register with issued token: %v", err)
	}
	if reg.Participant.Name != "Oak" {
		t.Fatalf("name not trimmed: %q", reg.Participant.Name)
	}
	if reg.LeaseToken != "issued-1" {
		t.Fatalf("lease token = %q, want issued-1", reg.LeaseToken)
	}

	if _, err := c.ledger.RecordPress(ctx, "Oak", ""); !errors.Is(err, repository.ErrInvalidInput) {
		t.Fatalf("press without token: err = %v, want ErrInvalidInput", err)
	}

	longest := strings.Repeat("k", service.MaxTokenLength)
	if _, err := c.registry.Register(ctx, "Pine", longest+"k"); !errors.Is(err, repository.ErrInvalidInput) {
		t.Fatalf("register with oversized token: err = %v, want ErrInvalidInput", err)
	}
	if _, err := c.registry.Register(ctx, "Pine", longest); err != nil {
		t.Fatalf("register with longest token: %v", err)
	}
	if _, err := c.ledger.RecordPress(ctx, "Pine", longest); err != nil {
		t.Fatalf("press with longest token: %v", err)
	}
	if _, err := c.arb.Authorize(ctx, "ghost", "A"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("authorize unknown: err = %v, want ErrNotFound", err)
	}
	if _, err := c.ledger.RecordPress(ctx, "ghost", "A"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("press unknown: err = %v, want ErrNotFound", err)
	}
}

func TestAdminResetAndPurge(t *testing.T) {
	c := newCore(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		name := fmt.Sprintf("N%d", i)
		if _, err := c.registry.Register(ctx, name, "tok-"+name); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
		if _, err := c.ledger.RecordPress(ctx, name, "tok-"+name); err != nil {
			t.Fatalf("press %s: %v", name, err)
		}
	}
	before := c.cache.count()

	if _, err := c.admin.ResetPresses(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if r, _ := c.repo.Ranking(ctx, 100); len(r) != 0 {
		t.Fatalf("ranking after reset = %+v", r)
	}
	list, err := c.admin.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("reset removed participants: %d left", len(list))
	}
	for _, p := range list {
		if p.PressCount != 0 {
			t.Fatalf("press_count survived reset: %+v", p)
		}
	}

	if _, err := c.admin.PurgeAll(ctx); err != nil {
		t.Fatalf("purge: %v", err)
	}
	reg, err := c.registry.Register(ctx, "N1", "fresh")
	if err != nil {
		t.Fatalf("register after purge: %v", err)
	}
	if !reg.Created {
		t.Fatal("register after purge did not create")
	}
	if n, _ := c.repo.Count(ctx); n != 1 {
		t.Fatalf("count after purge and register = %d, want 1", n)
	}

	if got := c.cache.count() - before; got != 2 {
		t.Fatalf("admin invalidated cache %d times, want 2", got)
	}
	kinds := c.audit.kinds()
	want := []string{queue.KindReset, queue.KindPurged, queue.KindRegistered}
	tail := kinds[len(kinds)-len(want):]
	for i := range want {
		if tail[i] != want[i] {
			t.Fatalf("audit tail = %v, want %v", tail, want)
		}
	}
}

func TestMutationsPublishChanges(t *testing.T) {
	c := newCore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := c.bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	expect := func(kind notify.Kind) {
		t.Helper()
		select {
		case ch := <-changes:
			if ch.Kind != kind {
				t.Fatalf("change kind = %s, want %s", ch.Kind, kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s change published", kind)
		}
	}

	if _, err := c.registry.Register(ctx, "Oak", "A"); err != nil {
		t.Fatalf("register: %v", err)
	}
	expect(notify.KindRegistered)
	if _, err := c.ledger.RecordPress(ctx, "Oak", "A"); err != nil {
		t.Fatalf("press: %v", err)
	}
	expect(notify.KindPressed)
	if _, err := c.admin.ResetPresses(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	expect(notify.KindReset)

	// Rejected operations publish nothing.
	if _, err := c.ledger.RecordPress(ctx, "Oak", "B"); err == nil {
		t.Fatal("press by B accepted")
	}
	select {
	case ch := <-changes:
		t.Fatalf("rejected press published %+v", ch)
	case <-time.After(50 * time.Millisecond):
	}
}
