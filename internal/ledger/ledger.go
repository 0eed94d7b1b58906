// Package ledger moves money between the available and frozen balances of
// user accounts. Every operation is a conditional atomic update executed on
// the caller's unit of work, so balances never go negative even when
// several transactions touch the same account.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"nftmarket/internal/apperr"
	"nftmarket/internal/database"
	"nftmarket/internal/logging"
	"nftmarket/internal/models"
)

// InvariantViolation is raised with panic when an operation would drive a
// frozen balance negative. It means the books are already wrong; the unit
// of work rolls back and the panic propagates.
type InvariantViolation struct {
	Op     string
	UserID int64
	Amount int64
}

func (v *InvariantViolation) Error() string {
	return fmt.Sprintf("ledger invariant violated: %s of %d would drive frozen balance of user %d negative", v.Op, v.Amount, v.UserID)
}

type Ledger struct {
	dialect         database.Dialect
	rate            decimal.Decimal
	platformAccount int64
	log             logrus.FieldLogger
}

// New builds a ledger charging rate (a fraction) on every settlement. When
// platformAccount is non-zero it is credited the commission.
func New(dialect database.Dialect, rate decimal.Decimal, platformAccount int64, logger logrus.FieldLogger) *Ledger {
	return &Ledger{dialect: dialect, rate: rate, platformAccount: platformAccount, log: logging.Component(logger, "ledger")}
}

func (l *Ledger) Balance(ctx context.Context, q database.Querier, userID int64) (models.Balance, error) {
	b := models.Balance{UserID: userID}
	err := q.QueryRowContext(ctx,
		`SELECT available_balance, frozen_balance FROM accounts WHERE user_id = ?`, userID).
		Scan(&b.Available, &b.Frozen)
	if err == sql.ErrNoRows {
		return b, apperr.New(apperr.KindNotFound, "ACCOUNT_NOT_FOUND",
			fmt.Sprintf("account %d not found", userID), map[string]interface{}{"user_id": userID})
	}
	if err != nil {
		return b, errors.Wrap(err, "failed to read balance")
	}
	return b, nil
}

// Deposit credits amount to the available balance, opening the account if
// needed.
func (l *Ledger) Deposit(ctx context.Context, q database.Querier, userID, amount int64) error {
	if amount <= 0 {
		return apperr.InvalidArgument("amount", "must be positive")
	}
	if err := l.credit(ctx, q, userID, amount); err != nil {
		return err
	}
	l.log.WithFields(logrus.Fields{"user_id": userID, "amount": amount}).Info("Balance deposited")
	return nil
}

// Freeze moves amount from available to frozen, failing with
// InsufficientBalance when available < amount.
func (l *Ledger) Freeze(ctx context.Context, q database.Querier, userID, amount int64) error {
	if amount <= 0 {
		return apperr.InvalidArgument("amount", "must be positive")
	}
	res, err := q.ExecContext(ctx, `UPDATE accounts
		SET available_balance = available_balance - ?, frozen_balance = frozen_balance + ?
		WHERE user_id = ? AND available_balance >= ?`,
		amount, amount, userID, amount)
	if err != nil {
		return errors.Wrap(err, "failed to freeze balance")
	}
	if affected(res) == 0 {
		b, err := l.Balance(ctx, q, userID)
		if apperr.Is(err, apperr.KindNotFound) {
			return apperr.InsufficientBalance(amount, 0)
		}
		if err != nil {
			return err
		}
		return apperr.InsufficientBalance(amount, b.Available)
	}
	l.log.WithFields(logrus.Fields{"user_id": userID, "amount": amount}).Info("Balance frozen for buy order")
	return nil
}

// UnfreezeAndRefund moves amount from frozen back to available.
func (l *Ledger) UnfreezeAndRefund(ctx context.Context, q database.Querier, userID, amount int64) error {
	if amount < 0 {
		return apperr.InvalidArgument("amount", "must not be negative")
	}
	if amount == 0 {
		return nil
	}
	if err := l.releaseFrozen(ctx, q, "unfreeze", userID, amount, amount); err != nil {
		return err
	}
	l.log.WithFields(logrus.Fields{"user_id": userID, "amount": amount}).Info("Frozen balance refunded")
	return nil
}

type Settlement struct {
	Reserved       int64
	ExecutionPrice int64
	Refund         int64
	Commission     int64
	SellerAmount   int64
}

// Commission is floor(price × rate).
func (l *Ledger) Commission(price int64) int64 {
	return decimal.NewFromInt(price).Mul(l.rate).Floor().IntPart()
}

// Settle pays for one unit of order at executionPrice. The unit's
// reservation (price_limit) leaves the buyer's frozen balance, the
// difference to executionPrice returns to the buyer, and the seller
// receives executionPrice minus commission.
func (l *Ledger) Settle(ctx context.Context, q database.Querier, order *models.BuyOrder, sellerID, executionPrice int64) (Settlement, error) {
	reserved := order.PriceLimit
	if executionPrice <= 0 {
		return Settlement{}, apperr.InvalidArgument("execution_price", "must be positive")
	}
	if executionPrice > reserved {
		return Settlement{}, apperr.PriceAboveLimit(order.ID, executionPrice, reserved)
	}
	if order.BuyerID == sellerID {
		return Settlement{}, apperr.SelfTrade(order.ID, sellerID)
	}

	s := Settlement{
		Reserved:       reserved,
		ExecutionPrice: executionPrice,
		Refund:         reserved - executionPrice,
		Commission:     l.Commission(executionPrice),
	}
	s.SellerAmount = executionPrice - s.Commission

	type posting struct {
		userID int64
		apply  func() error
	}
	postings := []posting{
		{order.BuyerID, func() error {
			return l.releaseFrozen(ctx, q, "settle", order.BuyerID, reserved, s.Refund)
		}},
		{sellerID, func() error { return l.credit(ctx, q, sellerID, s.SellerAmount) }},
	}
	if l.platformAccount != 0 && s.Commission > 0 {
		postings = append(postings, posting{l.platformAccount, func() error {
			return l.credit(ctx, q, l.platformAccount, s.Commission)
		}})
	}
	// stable row lock order across concurrent settlements
	sort.SliceStable(postings, func(i, j int) bool { return postings[i].userID < postings[j].userID })
	for _, p := range postings {
		if err := p.apply(); err != nil {
			return Settlement{}, err
		}
	}

	l.log.WithFields(logrus.Fields{
		"order_id":        order.ID,
		"buyer_id":        order.BuyerID,
		"seller_id":       sellerID,
		"execution_price": executionPrice,
		"refund":          s.Refund,
		"commission":      s.Commission,
		"seller_amount":   s.SellerAmount,
	}).Debug("Settlement posted")
	return s, nil
}

// releaseFrozen removes frozen from the frozen balance and credits refund
// to available. Panics with InvariantViolation if frozen is not covered.
func (l *Ledger) releaseFrozen(ctx context.Context, q database.Querier, op string, userID, frozen, refund int64) error {
	res, err := q.ExecContext(ctx, `UPDATE accounts
		SET frozen_balance = frozen_balance - ?, available_balance = available_balance + ?
		WHERE user_id = ? AND frozen_balance >= ?`,
		frozen, refund, userID, frozen)
	if err != nil {
		return errors.Wrapf(err, "failed to %s balance", op)
	}
	if affected(res) == 0 {
		v := &InvariantViolation{Op: op, UserID: userID, Amount: frozen}
		l.log.WithFields(logrus.Fields{"user_id": userID, "amount": frozen}).Error(v.Error())
		panic(v)
	}
	return nil
}

func (l *Ledger) credit(ctx context.Context, q database.Querier, userID, amount int64) error {
	if amount == 0 {
		return nil
	}
	if _, err := q.ExecContext(ctx,
		l.dialect.InsertIgnore+` accounts (user_id, available_balance, frozen_balance) VALUES (?, 0, 0)`, userID); err != nil {
		return errors.Wrap(err, "failed to open account")
	}
	if _, err := q.ExecContext(ctx,
		`UPDATE accounts SET available_balance = available_balance + ? WHERE user_id = ?`, amount, userID); err != nil {
		return errors.Wrap(err, "failed to credit balance")
	}
	return nil
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
