package repository

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"nftmarket/internal/database"
	"nftmarket/internal/models"
)

func (r *Repository) InsertDeal(ctx context.Context, q database.Querier, d *models.Deal) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.now().UTC()
	}
	res, err := q.ExecContext(ctx, `INSERT INTO asset_deals (gift_id, nft_id, seller_id, buyer_id, price, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.GiftID, d.AssetID, d.SellerID, d.BuyerID, d.Price, toMicros(d.CreatedAt))
	if err != nil {
		return errors.Wrap(err, "failed to insert deal")
	}
	d.ID, err = res.LastInsertId()
	return errors.Wrap(err, "failed to read deal id")
}

func (r *Repository) InsertFill(ctx context.Context, q database.Querier, f *models.Fill) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = r.now().UTC()
	}
	res, err := q.ExecContext(ctx, `INSERT INTO buy_order_fills
		(order_id, nft_id, gift_id, buyer_id, seller_id, reserved_unit_price, execution_price,
		 commission, seller_amount, source, deal_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.OrderID, f.AssetID, f.GiftID, f.BuyerID, f.SellerID, f.ReservedUnitPrice, f.ExecutionPrice,
		f.Commission, f.SellerAmount, string(f.Source), f.DealID, toMicros(f.CreatedAt))
	if err != nil {
		return errors.Wrap(err, "failed to insert fill")
	}
	f.ID, err = res.LastInsertId()
	return errors.Wrap(err, "failed to read fill id")
}

// AppendEvent adds one entry to the order event log. Meta is stored as JSON.
func (r *Repository) AppendEvent(ctx context.Context, q database.Querier, e *models.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	var meta interface{}
	if len(e.Meta) > 0 {
		raw, err := json.Marshal(e.Meta)
		if err != nil {
			return errors.Wrap(err, "failed to encode event meta")
		}
		meta = string(raw)
	}
	res, err := q.ExecContext(ctx, `INSERT INTO order_events
		(event_type, order_id, nft_id, actor_user_id, counterparty_user_id, amount, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Type), e.OrderID, e.AssetID, e.ActorID, e.CounterpartyID, e.Amount, meta, toMicros(e.CreatedAt))
	if err != nil {
		return errors.Wrapf(err, "failed to append %s event", e.Type)
	}
	e.ID, err = res.LastInsertId()
	return errors.Wrap(err, "failed to read event id")
}

// ListEvents returns the log entries of one order, oldest first.
func (r *Repository) ListEvents(ctx context.Context, q database.Querier, orderID int64) ([]*models.Event, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, event_type, order_id, nft_id, actor_user_id, counterparty_user_id,
		amount, meta, created_at FROM order_events WHERE order_id = ? ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list events")
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var (
			e       models.Event
			typ     string
			meta    *string
			created int64
		)
		if err := rows.Scan(&e.ID, &typ, &e.OrderID, &e.AssetID, &e.ActorID, &e.CounterpartyID,
			&e.Amount, &meta, &created); err != nil {
			return nil, errors.Wrap(err, "failed to scan event")
		}
		e.Type = models.EventType(typ)
		e.CreatedAt = fromMicros(created)
		if meta != nil && *meta != "" {
			if err := json.Unmarshal([]byte(*meta), &e.Meta); err != nil {
				return nil, errors.Wrapf(err, "failed to decode meta of event %d", e.ID)
			}
		}
		events = append(events, &e)
	}
	return events, errors.Wrap(rows.Err(), "failed to list events")
}

// ListFills returns the fills of one order, oldest first.
func (r *Repository) ListFills(ctx context.Context, q database.Querier, orderID int64) ([]*models.Fill, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, order_id, nft_id, gift_id, buyer_id, seller_id, reserved_unit_price,
		execution_price, commission, seller_amount, source, deal_id, created_at
		FROM buy_order_fills WHERE order_id = ? ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list fills")
	}
	defer rows.Close()

	var fills []*models.Fill
	for rows.Next() {
		var (
			f       models.Fill
			source  string
			created int64
		)
		if err := rows.Scan(&f.ID, &f.OrderID, &f.AssetID, &f.GiftID, &f.BuyerID, &f.SellerID, &f.ReservedUnitPrice,
			&f.ExecutionPrice, &f.Commission, &f.SellerAmount, &source, &f.DealID, &created); err != nil {
			return nil, errors.Wrap(err, "failed to scan fill")
		}
		f.Source = models.FillSource(source)
		f.Refund = f.ReservedUnitPrice - f.ExecutionPrice
		f.CreatedAt = fromMicros(created)
		fills = append(fills, &f)
	}
	return fills, errors.Wrap(rows.Err(), "failed to list fills")
}
