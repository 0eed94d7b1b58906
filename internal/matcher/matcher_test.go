package matcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftmarket/internal/database"
	"nftmarket/internal/database/dbtest"
	"nftmarket/internal/ledger"
	"nftmarket/internal/lock"
	"nftmarket/internal/models"
	"nftmarket/internal/repository"
	"nftmarket/internal/settlement"
)

const seller int64 = 2

type fixture struct {
	db      *database.DB
	repo    *repository.Repository
	ledger  *ledger.Ledger
	matcher *Matcher
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newFixture(t *testing.T, pool *Pool) *fixture {
	logger := quietLogger()
	db := dbtest.Open(t)
	repo := repository.New(db.Dialect, logger)
	l := ledger.New(db.Dialect, decimal.RequireFromString("0.01"), 0, logger)
	locks := lock.NewManager(lock.NewLocalBackend(), lock.Config{
		RetryInterval: time.Millisecond,
		Defaults:      lock.Options{Hold: 10 * time.Second, Wait: 10 * time.Second},
	}, logger)
	return &fixture{
		db:      db,
		repo:    repo,
		ledger:  l,
		matcher: New(db, repo, settlement.NewEngine(repo, l, logger), locks, nil, pool, 5*time.Second, logger),
	}
}

func (f *fixture) order(t *testing.T, buyerID int64, c models.Criteria, price int64, created time.Time) *models.BuyOrder {
	ctx := context.Background()
	dbtest.CreateAccount(t, f.db, buyerID, price)
	require.NoError(t, f.ledger.Freeze(ctx, f.db, buyerID, price))
	o := &models.BuyOrder{
		BuyerID:           buyerID,
		Criteria:          c,
		PriceLimit:        price,
		QuantityTotal:     1,
		QuantityRemaining: 1,
		FrozenAmount:      price,
		Status:            models.OrderStatusActive,
		CreatedAt:         created,
	}
	require.NoError(t, f.repo.InsertOrder(ctx, f.db, o))
	return o
}

func TestMatchPicksBestOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now()
	gift := dbtest.CreateGift(t, f.db, "Cake", "M", "", "")
	asset := dbtest.CreateAsset(t, f.db, gift, seller, 80)

	f.order(t, 10, models.Criteria{Title: "Cake", Model: models.StringPtr("N")}, 500, now)
	f.order(t, 11, models.Criteria{Title: "Cake"}, 100, now.Add(time.Second))
	best := f.order(t, 12, models.Criteria{Title: "Cake", Model: models.StringPtr("M")}, 100, now)

	res, err := f.matcher.Match(ctx, asset)
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, best.ID, res.Fill.OrderID)
	assert.Equal(t, int64(80), res.Fill.ExecutionPrice)
	assert.Equal(t, int64(20), res.Fill.Refund)
	assert.Equal(t, models.FillSourceAutoMatch, res.Fill.Source)

	assert.Equal(t, models.Balance{UserID: 12, Available: 20, Frozen: 0}, dbtest.Balance(t, f.db, 12))
	assert.Equal(t, int64(80), dbtest.Balance(t, f.db, seller).Available)
	owner, listed := dbtest.AssetOwner(t, f.db, asset)
	assert.Equal(t, int64(12), owner)
	assert.False(t, listed)

	// now unlisted: a second match is a no-op
	res, err = f.matcher.Match(ctx, asset)
	require.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestMatchSkipsUnavailableAssets(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	gift := dbtest.CreateGift(t, f.db, "Cake", "", "", "")
	f.order(t, 10, models.Criteria{Title: "Cake"}, 100, time.Now())

	unlisted := dbtest.CreateAsset(t, f.db, gift, seller, 0)
	bundled := dbtest.CreateAsset(t, f.db, gift, seller, 50)
	dbtest.SetBundle(t, f.db, bundled, 1)
	custody := dbtest.CreateAsset(t, f.db, gift, seller, 50)
	dbtest.SetCustody(t, f.db, custody, "vault")
	pricey := dbtest.CreateAsset(t, f.db, gift, seller, 150)
	own := dbtest.CreateAsset(t, f.db, gift, 10, 50)

	for _, id := range []int64{unlisted, bundled, custody, pricey, own, 999} {
		res, err := f.matcher.Match(ctx, id)
		require.NoError(t, err)
		assert.False(t, res.Matched, "asset %d", id)
	}
	assert.Equal(t, 0, dbtest.Count(t, f.db, "buy_order_fills"))
	assert.Equal(t, models.Balance{UserID: 10, Available: 0, Frozen: 100}, dbtest.Balance(t, f.db, 10))
}

func TestUnmatchedListingRollsBackQuietly(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	f := newFixture(t, nil)
	f.db = dbtest.OpenWithLogger(t, logger)
	f.repo = repository.New(f.db.Dialect, logger)
	f.matcher.db, f.matcher.repo = f.db, f.repo
	ctx := context.Background()

	gift := dbtest.CreateGift(t, f.db, "Cake", "", "", "")
	listed := dbtest.CreateAsset(t, f.db, gift, seller, 50)
	unlisted := dbtest.CreateAsset(t, f.db, gift, seller, 0)

	for _, id := range []int64{listed, unlisted, 999} {
		res, err := f.matcher.Match(ctx, id)
		require.NoError(t, err)
		assert.False(t, res.Matched)
	}
	for _, e := range hook.AllEntries() {
		assert.Greater(t, uint32(e.Level), uint32(logrus.WarnLevel), "unexpected %s: %s", e.Level, e.Message)
	}
}

func TestOnAssetListedRunsOnPool(t *testing.T) {
	pool := NewPool(2, 8, quietLogger())
	f := newFixture(t, pool)
	gift := dbtest.CreateGift(t, f.db, "Cake", "", "", "")
	f.order(t, 10, models.Criteria{Title: "Cake"}, 100, time.Now())
	asset := dbtest.CreateAsset(t, f.db, gift, seller, 90)

	f.matcher.OnAssetListed(asset)
	f.matcher.OnAssetListed(999)
	pool.Close()

	owner, _ := dbtest.AssetOwner(t, f.db, asset)
	assert.Equal(t, int64(10), owner)
	assert.Equal(t, 1, dbtest.Count(t, f.db, "buy_order_fills"))
}

func TestPoolDropsWhenFull(t *testing.T) {
	pool := NewPool(1, 1, quietLogger())
	release := make(chan struct{})
	started := make(chan struct{})
	var ran int32

	require.True(t, pool.Submit(Job{Name: "blocker", Do: func(context.Context) {
		close(started)
		<-release
		atomic.AddInt32(&ran, 1)
	}}))
	<-started
	assert.True(t, pool.Submit(Job{Name: "queued", Do: func(context.Context) { atomic.AddInt32(&ran, 1) }}))
	assert.False(t, pool.Submit(Job{Name: "dropped", Do: func(context.Context) { atomic.AddInt32(&ran, 1) }}))

	close(release)
	pool.Close()
	assert.Equal(t, int32(2), atomic.LoadInt32(&ran))
	assert.False(t, pool.Submit(Job{Name: "late", Do: func(context.Context) {}}))
}

func TestPoolSurvivesPanicAndHonorsTimeout(t *testing.T) {
	pool := NewPool(1, 4, quietLogger())
	var wg sync.WaitGroup
	wg.Add(1)

	pool.Submit(Job{Name: "panics", Do: func(context.Context) { panic("boom") }})
	pool.Submit(Job{Name: "deadline", Timeout: 10 * time.Millisecond, Do: func(ctx context.Context) {
		defer wg.Done()
		<-ctx.Done()
		assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	}})
	wg.Wait()
	pool.Close()
}

func TestConcurrentMatchesFillOnce(t *testing.T) {
	f := newFixture(t, nil)
	gift := dbtest.CreateGift(t, f.db, "Cake", "", "", "")
	f.order(t, 10, models.Criteria{Title: "Cake"}, 100, time.Now())
	asset := dbtest.CreateAsset(t, f.db, gift, seller, 100)

	var (
		wg      sync.WaitGroup
		matched int32
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.matcher.Match(context.Background(), asset)
			assert.NoError(t, err)
			if err == nil && res.Matched {
				atomic.AddInt32(&matched, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), matched)
	assert.Equal(t, 1, dbtest.Count(t, f.db, "buy_order_fills"))
}
