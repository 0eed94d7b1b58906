package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftmarket/internal/apperr"
	"nftmarket/internal/database"
	"nftmarket/internal/database/dbtest"
	"nftmarket/internal/models"
)

func newLedger(db *database.DB, platform int64) *Ledger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return New(db.Dialect, decimal.RequireFromString("0.01"), platform, logger)
}

func TestCommission(t *testing.T) {
	l := New(database.SQLite, decimal.RequireFromString("0.01"), 0, nil)
	assert.Equal(t, int64(0), l.Commission(99))
	assert.Equal(t, int64(1), l.Commission(100))
	assert.Equal(t, int64(1), l.Commission(199))
	assert.Equal(t, int64(80), l.Commission(8000))
}

func TestFreezeAndRefund(t *testing.T) {
	db := dbtest.Open(t)
	l := newLedger(db, 0)
	ctx := context.Background()
	dbtest.CreateAccount(t, db, 1, 100)

	require.NoError(t, l.Freeze(ctx, db, 1, 60))
	assert.Equal(t, models.Balance{UserID: 1, Available: 40, Frozen: 60}, dbtest.Balance(t, db, 1))

	err := l.Freeze(ctx, db, 1, 41)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInsufficientBalance))
	e, _ := apperr.As(err)
	assert.Equal(t, int64(41), e.Details["required"])
	assert.Equal(t, int64(40), e.Details["available"])

	require.NoError(t, l.UnfreezeAndRefund(ctx, db, 1, 60))
	assert.Equal(t, models.Balance{UserID: 1, Available: 100, Frozen: 0}, dbtest.Balance(t, db, 1))
	require.NoError(t, l.UnfreezeAndRefund(ctx, db, 1, 0))
}

func TestFreezeWithoutAccount(t *testing.T) {
	db := dbtest.Open(t)
	l := newLedger(db, 0)

	err := l.Freeze(context.Background(), db, 42, 10)
	assert.True(t, apperr.Is(err, apperr.KindInsufficientBalance))
}

func TestUnfreezeBeyondFrozenPanics(t *testing.T) {
	db := dbtest.Open(t)
	l := newLedger(db, 0)
	dbtest.CreateAccount(t, db, 1, 100)

	var recovered interface{}
	func() {
		defer func() { recovered = recover() }()
		_ = db.InTx(context.Background(), func(uow *database.UnitOfWork) error {
			return l.UnfreezeAndRefund(context.Background(), uow, 1, 5)
		})
	}()
	require.IsType(t, &InvariantViolation{}, recovered)
	assert.Equal(t, &InvariantViolation{Op: "unfreeze", UserID: 1, Amount: 5}, recovered)
	assert.EqualError(t, recovered.(error),
		"ledger invariant violated: unfreeze of 5 would drive frozen balance of user 1 negative")
	assert.Equal(t, models.Balance{UserID: 1, Available: 100, Frozen: 0}, dbtest.Balance(t, db, 1))
}

func TestSettleBelowLimit(t *testing.T) {
	db := dbtest.Open(t)
	l := newLedger(db, 0)
	ctx := context.Background()
	dbtest.CreateAccount(t, db, 1, 100)
	require.NoError(t, l.Freeze(ctx, db, 1, 100))

	order := &models.BuyOrder{ID: 5, BuyerID: 1, PriceLimit: 100}
	s, err := l.Settle(ctx, db, order, 2, 80)
	require.NoError(t, err)
	assert.Equal(t, Settlement{Reserved: 100, ExecutionPrice: 80, Refund: 20, Commission: 0, SellerAmount: 80}, s)

	assert.Equal(t, models.Balance{UserID: 1, Available: 20, Frozen: 0}, dbtest.Balance(t, db, 1))
	// seller account is opened on first credit
	assert.Equal(t, models.Balance{UserID: 2, Available: 80, Frozen: 0}, dbtest.Balance(t, db, 2))
}

func TestSettleCreditsPlatformCommission(t *testing.T) {
	db := dbtest.Open(t)
	l := newLedger(db, 999)
	ctx := context.Background()
	dbtest.CreateAccount(t, db, 1, 1000)
	dbtest.CreateAccount(t, db, 2, 5)
	require.NoError(t, l.Freeze(ctx, db, 1, 1000))

	order := &models.BuyOrder{ID: 5, BuyerID: 1, PriceLimit: 1000}
	s, err := l.Settle(ctx, db, order, 2, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(10), s.Commission)
	assert.Equal(t, int64(990), s.SellerAmount)
	assert.Equal(t, int64(0), s.Refund)

	assert.Equal(t, int64(995), dbtest.Balance(t, db, 2).Available)
	assert.Equal(t, int64(10), dbtest.Balance(t, db, 999).Available)
	assert.Equal(t, models.Balance{UserID: 1, Available: 0, Frozen: 0}, dbtest.Balance(t, db, 1))
}

func TestSettleRejections(t *testing.T) {
	db := dbtest.Open(t)
	l := newLedger(db, 0)
	ctx := context.Background()
	order := &models.BuyOrder{ID: 5, BuyerID: 1, PriceLimit: 100}

	_, err := l.Settle(ctx, db, order, 1, 50)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))

	_, err = l.Settle(ctx, db, order, 2, 101)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))

	_, err = l.Settle(ctx, db, order, 2, 0)
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))
}

func TestDeposit(t *testing.T) {
	db := dbtest.Open(t)
	l := newLedger(db, 0)
	ctx := context.Background()

	require.NoError(t, l.Deposit(ctx, db, 7, 50))
	require.NoError(t, l.Deposit(ctx, db, 7, 25))
	b, err := l.Balance(ctx, db, 7)
	require.NoError(t, err)
	assert.Equal(t, models.Balance{UserID: 7, Available: 75}, b)

	assert.True(t, apperr.Is(l.Deposit(ctx, db, 7, 0), apperr.KindInvalidArgument))

	_, err = l.Balance(ctx, db, 8)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
