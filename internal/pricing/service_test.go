package pricing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callcoin-platform/internal/apperr"

	"github.com/shopspring/decimal"
)

func testDefaults() CoinConfig {
	return CoinConfig{
		AudioCoinsPerMinute:    10,
		VideoCoinsPerMinute:    20,
		ChatCoinsPerMessage:    2,
		ResponderCommissionPct: 70,
		MinRedeemCoins:         100,
		CoinValue:              decimal.RequireFromString("0.25"),
		Currency:               "INR",
		ChatEnabled:            true,
	}
}

type countingRepo struct {
	*MemoryRepo
	mu    sync.Mutex
	loads int
}

func (r *countingRepo) Active(ctx context.Context) (CoinConfig, bool, error) {
	r.mu.Lock()
	r.loads++
	r.mu.Unlock()
	return r.MemoryRepo.Active(ctx)
}

type fakePublisher struct{ versions []int }

func (p *fakePublisher) PublishInvalidation(ctx context.Context, version int) error {
	p.versions = append(p.versions, version)
	return nil
}

type fakeAudit struct{ actors []string }

func (a *fakeAudit) LogConfigChange(ctx context.Context, actorID string, version int, metadata string) error {
	a.actors = append(a.actors, actorID)
	return nil
}

func TestSplit(t *testing.T) {
	cases := []struct {
		amount, pct     int64
		responder, plat int64
	}{
		{3, 70, 2, 1},
		{10, 70, 7, 3},
		{1, 70, 0, 1},
		{0, 70, 0, 0},
		{5, 100, 5, 0},
		{5, 0, 0, 5},
	}
	for _, tc := range cases {
		r, p := Split(tc.amount, int(tc.pct))
		if r != tc.responder || p != tc.plat {
			t.Fatalf("split(%d,%d) = %d/%d, want %d/%d", tc.amount, tc.pct, r, p, tc.responder, tc.plat)
		}
		if r+p != tc.amount {
			t.Fatalf("split must conserve amount")
		}
	}
}

func TestBillableUnits(t *testing.T) {
	if got := BillableUnits(time.Second, time.Minute); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := BillableUnits(time.Minute, time.Minute); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := BillableUnits(61*time.Second, time.Minute); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := BillableUnits(0, time.Minute); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestService_SeedsDefaultsAndCaches(t *testing.T) {
	repo := &countingRepo{MemoryRepo: NewMemoryRepo()}
	svc := NewService(repo, testDefaults(), nil)
	ctx := context.Background()

	c, err := svc.Current(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if c.Version != 1 || !c.Active || c.CreatedBy != "system" {
		t.Fatalf("expected seeded version 1, got %+v", c)
	}
	if _, err := svc.Current(ctx); err != nil {
		t.Fatalf("current: %v", err)
	}
	if repo.loads != 1 {
		t.Fatalf("expected one load, got %d", repo.loads)
	}

	svc.Invalidate()
	if _, err := svc.Current(ctx); err != nil {
		t.Fatalf("current: %v", err)
	}
	if repo.loads != 2 {
		t.Fatalf("expected reload after invalidate, got %d loads", repo.loads)
	}
}

func TestService_UpdateInvalidatesPublishesAndAudits(t *testing.T) {
	repo := NewMemoryRepo()
	pub := &fakePublisher{}
	aud := &fakeAudit{}
	svc := NewService(repo, testDefaults(), nil).WithPublisher(pub).WithAudit(aud)
	ctx := context.Background()

	if _, err := svc.Current(ctx); err != nil {
		t.Fatalf("current: %v", err)
	}

	next := testDefaults()
	next.ResponderCommissionPct = 60
	saved, err := svc.Update(ctx, "admin-1", next)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if saved.Version != 2 {
		t.Fatalf("expected version 2, got %d", saved.Version)
	}

	c, _ := svc.Current(ctx)
	if c.ResponderCommissionPct != 60 {
		t.Fatalf("expected new pct after update, got %d", c.ResponderCommissionPct)
	}
	if len(pub.versions) != 1 || pub.versions[0] != 2 {
		t.Fatalf("expected invalidation for version 2, got %v", pub.versions)
	}
	if len(aud.actors) != 1 || aud.actors[0] != "admin-1" {
		t.Fatalf("expected audit entry, got %v", aud.actors)
	}

	hist, _ := svc.History(ctx, 10)
	active := 0
	for _, h := range hist {
		if h.Active {
			active++
		}
	}
	if len(hist) != 2 || active != 1 {
		t.Fatalf("expected 2 versions with exactly 1 active, got %d/%d", len(hist), active)
	}
}

// pausingRepo holds the first Active call after it has read the row.
type pausingRepo struct {
	*MemoryRepo
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (r *pausingRepo) Active(ctx context.Context) (CoinConfig, bool, error) {
	c, ok, err := r.MemoryRepo.Active(ctx)
	r.once.Do(func() {
		close(r.read)
		<-r.release
	})
	return c, ok, err
}

func TestService_UpdateDuringLoadIsNotShadowed(t *testing.T) {
	repo := &pausingRepo{MemoryRepo: NewMemoryRepo(), read: make(chan struct{}), release: make(chan struct{})}
	ctx := context.Background()
	if _, err := repo.MemoryRepo.Activate(ctx, testDefaults()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := NewService(repo, testDefaults(), nil)

	loaded := make(chan CoinConfig, 1)
	go func() {
		c, err := svc.Current(ctx)
		if err != nil {
			t.Errorf("current: %v", err)
		}
		loaded <- c
	}()
	<-repo.read

	next := testDefaults()
	next.ResponderCommissionPct = 10
	saved, err := svc.Update(ctx, "admin", next)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	close(repo.release)
	if old := <-loaded; old.Version != 1 {
		t.Fatalf("in-flight load should see version 1, got %d", old.Version)
	}

	c, err := svc.Current(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if c.Version != saved.Version || c.ResponderCommissionPct != 10 {
		t.Fatalf("stale config cached after update: got version %d pct %d, want version %d pct 10",
			c.Version, c.ResponderCommissionPct, saved.Version)
	}
}

func TestService_UpdateRejectsInvalid(t *testing.T) {
	svc := NewService(NewMemoryRepo(), testDefaults(), nil)
	bad := testDefaults()
	bad.ResponderCommissionPct = 120
	_, err := svc.Update(context.Background(), "admin", bad)
	if !errors.Is(err, ErrInvalidConfig) || apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_RepoFailureIsDependencyUnavailable(t *testing.T) {
	repo := NewMemoryRepo()
	repo.Fail = errors.New("db down")
	svc := NewService(repo, testDefaults(), nil)
	_, err := svc.Current(context.Background())
	if apperr.KindOf(err) != apperr.KindDependencyUnavailable {
		t.Fatalf("expected DEPENDENCY_UNAVAILABLE, got %v", err)
	}
}

func TestRateFor(t *testing.T) {
	c := testDefaults()
	if r, _ := c.RateFor(ChannelVideo); r != 20 {
		t.Fatalf("expected video rate 20, got %d", r)
	}
	if _, err := c.RateFor("fax"); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected unknown channel, got %v", err)
	}
	c.ChatEnabled = false
	if _, err := c.RateFor(ChannelChat); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected disabled chat to be a conflict, got %v", err)
	}
}

func TestCoinsToCurrency(t *testing.T) {
	c := testDefaults()
	if got := c.CoinsToCurrency(1234).String(); got != "308.5" {
		t.Fatalf("expected 308.5, got %s", got)
	}
}
