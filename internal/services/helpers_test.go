package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-dial-verify/internal/repo"
	"github.com/tbourn/go-dial-verify/internal/telephony"
)

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:services_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// newFileDB opens a WAL-mode database on disk so concurrent transactions
// behave like production.
func newFileDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "dialverify.db"))
	require.NoError(t, err)
	db.Logger = logger.Default.LogMode(logger.Silent)
	require.NoError(t, repo.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeProvider struct {
	mu sync.Mutex

	seq         int
	held        []telephony.Number
	purchased   []telephony.Number
	released    []string
	callsPurged []string

	routed      []string
	purchaseErr error
	listErr     error
	releaseErr  map[string]error
	routeErr    map[string]error
	purgeErrs   int

	// onPurchase runs after the number is bought, before it is returned.
	onPurchase func()
}

func (p *fakeProvider) ListNumbers(context.Context) ([]telephony.Number, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	return append([]telephony.Number(nil), p.held...), nil
}

func (p *fakeProvider) PurchaseNumber(context.Context) (*telephony.Number, error) {
	p.mu.Lock()
	if p.purchaseErr != nil {
		p.mu.Unlock()
		return nil, p.purchaseErr
	}
	p.seq++
	n := telephony.Number{
		Ref:         fmt.Sprintf("PN%03d", p.seq),
		PhoneNumber: fmt.Sprintf("+1555000%04d", p.seq),
		CreatedAt:   time.Now().UTC(),
		Routed:      true,
	}
	p.purchased = append(p.purchased, n)
	p.held = append(p.held, n)
	hook := p.onPurchase
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	return &n, nil
}

func (p *fakeProvider) RouteNumber(_ context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.routeErr[ref]; err != nil {
		return err
	}
	p.routed = append(p.routed, ref)
	for i := range p.held {
		if p.held[i].Ref == ref {
			p.held[i].Routed = true
		}
	}
	return nil
}

func (p *fakeProvider) ReleaseNumber(_ context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.releaseErr[ref]; err != nil {
		return err
	}
	p.released = append(p.released, ref)
	return nil
}

func (p *fakeProvider) DeleteCallLog(_ context.Context, callID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.purgeErrs > 0 {
		p.purgeErrs--
		return errors.New("call still in progress")
	}
	p.callsPurged = append(p.callsPurged, callID)
	return nil
}

func (p *fakeProvider) purchaseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.purchased)
}

// recordingPurger captures scheduled call ids.
type recordingPurger struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingPurger) Schedule(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, callID)
}

func (r *recordingPurger) scheduled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

type engine struct {
	db      *gorm.DB
	clock   *testClock
	prov    *fakeProvider
	purger  *recordingPurger
	pool    *PoolService
	matcher *MatcherService
	reclaim *ReclamationService
}

func newEngine(t *testing.T, db *gorm.DB) *engine {
	t.Helper()
	e := &engine{db: db, clock: newTestClock(), prov: &fakeProvider{}, purger: &recordingPurger{}}
	e.pool = NewPoolService(db, e.prov)
	e.pool.Now = e.clock.Now
	e.matcher = &MatcherService{DB: db, Purger: e.purger, Now: e.clock.Now}
	e.reclaim = &ReclamationService{DB: db, Provider: e.prov, Now: e.clock.Now}
	return e
}
