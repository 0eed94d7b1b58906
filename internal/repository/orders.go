package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"nftmarket/internal/apperr"
	"nftmarket/internal/database"
	"nftmarket/internal/models"
)

const orderColumns = `o.id, o.buyer_id, o.title, o.model_name, o.pattern_name, o.backdrop_name,
	o.price_limit, o.quantity_total, o.quantity_remaining, o.frozen_amount, o.status, o.created_at, o.updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.BuyOrder, error) {
	var (
		o                models.BuyOrder
		status           string
		created, updated int64
	)
	err := row.Scan(&o.ID, &o.BuyerID, &o.Criteria.Title, &o.Criteria.Model, &o.Criteria.Pattern, &o.Criteria.Backdrop,
		&o.PriceLimit, &o.QuantityTotal, &o.QuantityRemaining, &o.FrozenAmount, &status, &created, &updated)
	if err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	o.CreatedAt = fromMicros(created)
	o.UpdatedAt = fromMicros(updated)
	return &o, nil
}

func (r *Repository) getOrder(ctx context.Context, q database.Querier, id int64, suffix string) (*models.BuyOrder, error) {
	o, err := scanOrder(q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM buy_orders o WHERE o.id = ?`+suffix, id))
	if err == sql.ErrNoRows {
		return nil, apperr.OrderNotFound(id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load buy order %d", id)
	}
	return o, nil
}

// GetOrder is a non-locking read for preview checks.
func (r *Repository) GetOrder(ctx context.Context, q database.Querier, id int64) (*models.BuyOrder, error) {
	return r.getOrder(ctx, q, id, "")
}

// LockOrderForUpdate reads the order and holds its row lock until the unit
// of work ends.
func (r *Repository) LockOrderForUpdate(ctx context.Context, q database.Querier, id int64) (*models.BuyOrder, error) {
	return r.getOrder(ctx, q, id, r.forUpdate(""))
}

// LockActiveOrderForUpdate locks the order only while it can still absorb a
// fill; otherwise it reports OrderNotActive (or NotFound).
func (r *Repository) LockActiveOrderForUpdate(ctx context.Context, q database.Querier, id int64) (*models.BuyOrder, error) {
	o, err := r.LockOrderForUpdate(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if !o.Fillable() {
		return nil, apperr.OrderNotActive(id)
	}
	return o, nil
}

// FindBestOrderForAsset returns the highest-priced active order the listed
// asset satisfies, oldest first on ties, skipping orders locked by other
// transactions. It returns nil when nothing matches.
func (r *Repository) FindBestOrderForAsset(ctx context.Context, q database.Querier, asset *models.Asset) (*models.BuyOrder, error) {
	if asset.ListedPrice == nil {
		return nil, nil
	}
	o, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM buy_orders o
		WHERE o.status = ? AND o.quantity_remaining > 0
			AND o.title = ? AND o.price_limit >= ? AND o.buyer_id <> ?
			AND (o.model_name IS NULL OR o.model_name = ?)
			AND (o.pattern_name IS NULL OR o.pattern_name = ?)
			AND (o.backdrop_name IS NULL OR o.backdrop_name = ?)
		ORDER BY o.price_limit DESC, o.created_at ASC, o.id ASC
		LIMIT 1`+r.skipLocked(""),
		string(models.OrderStatusActive), asset.Attributes.Title, *asset.ListedPrice, asset.OwnerID,
		asset.Attributes.Model, asset.Attributes.Pattern, asset.Attributes.Backdrop))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find buy order for asset %d", asset.ID)
	}
	return o, nil
}

// InsertOrder persists a new order and fills in its id and timestamps.
func (r *Repository) InsertOrder(ctx context.Context, q database.Querier, o *models.BuyOrder) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = r.now().UTC()
	}
	o.UpdatedAt = o.CreatedAt
	res, err := q.ExecContext(ctx, `INSERT INTO buy_orders
		(buyer_id, title, model_name, pattern_name, backdrop_name, price_limit,
		 quantity_total, quantity_remaining, frozen_amount, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.BuyerID, o.Criteria.Title, o.Criteria.Model, o.Criteria.Pattern, o.Criteria.Backdrop, o.PriceLimit,
		o.QuantityTotal, o.QuantityRemaining, o.FrozenAmount, string(o.Status),
		toMicros(o.CreatedAt), toMicros(o.UpdatedAt))
	if err != nil {
		return errors.Wrap(err, "failed to insert buy order")
	}
	if o.ID, err = res.LastInsertId(); err != nil {
		return errors.Wrap(err, "failed to read buy order id")
	}
	return nil
}

// UpdateOrderFill writes the post-fill quantity, frozen amount and status.
func (r *Repository) UpdateOrderFill(ctx context.Context, q database.Querier, o *models.BuyOrder) error {
	o.UpdatedAt = r.now().UTC()
	_, err := q.ExecContext(ctx, `UPDATE buy_orders
		SET quantity_remaining = ?, frozen_amount = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		o.QuantityRemaining, o.FrozenAmount, string(o.Status), toMicros(o.UpdatedAt), o.ID)
	return errors.Wrapf(err, "failed to update buy order %d", o.ID)
}

func (r *Repository) CancelOrder(ctx context.Context, q database.Querier, o *models.BuyOrder) error {
	o.Status = models.OrderStatusCancelled
	o.FrozenAmount = 0
	o.UpdatedAt = r.now().UTC()
	_, err := q.ExecContext(ctx, `UPDATE buy_orders SET status = ?, frozen_amount = 0, updated_at = ? WHERE id = ?`,
		string(o.Status), toMicros(o.UpdatedAt), o.ID)
	return errors.Wrapf(err, "failed to cancel buy order %d", o.ID)
}

// Filter narrows ListOrders. Empty slices and nil pointers do not filter.
type Filter struct {
	Status    *models.OrderStatus
	BuyerID   *int64
	Titles    []string
	Models    []string
	Patterns  []string
	Backdrops []string
	MinPrice  *int64
	MaxPrice  *int64
	Sort      string
	Limit     int
	Offset    int
}

type Page struct {
	Orders  []*models.BuyOrder `json:"items"`
	Total   int                `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
	HasMore bool               `json:"has_more"`
}

const (
	DefaultSort  = "price/asc"
	DefaultLimit = 20
	MaxLimit     = 100
)

var sortClauses = map[string]string{
	"created_at/asc":  "o.created_at ASC, o.id ASC",
	"created_at/desc": "o.created_at DESC, o.id DESC",
	"price/asc":       "o.price_limit ASC, o.created_at ASC, o.id ASC",
	"price/desc":      "o.price_limit DESC, o.created_at ASC, o.id ASC",
}

// Normalize applies defaults and rejects invalid paging, sorting or price
// ranges.
func (f *Filter) Normalize() error {
	if f.Sort == "" {
		f.Sort = DefaultSort
	}
	if _, ok := sortClauses[f.Sort]; !ok {
		return apperr.InvalidArgument("sort", "must be one of created_at/asc, created_at/desc, price/asc, price/desc")
	}
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit < 1 || f.Limit > MaxLimit {
		return apperr.InvalidArgument("limit", "must be between 1 and 100")
	}
	if f.Offset < 0 {
		return apperr.InvalidArgument("offset", "must not be negative")
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return apperr.InvalidArgument("price_min", "cannot be greater than price_max")
	}
	f.Titles = cleanList(f.Titles)
	f.Models = cleanList(f.Models)
	f.Patterns = cleanList(f.Patterns)
	f.Backdrops = cleanList(f.Backdrops)
	return nil
}

func cleanList(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ListOrders returns one page of orders plus the total matching count.
func (r *Repository) ListOrders(ctx context.Context, q database.Querier, f Filter) (*Page, error) {
	if err := f.Normalize(); err != nil {
		return nil, err
	}

	var (
		conds []string
		args  []interface{}
	)
	if f.Status != nil {
		conds = append(conds, "o.status = ?")
		args = append(args, string(*f.Status))
	}
	if f.BuyerID != nil {
		conds = append(conds, "o.buyer_id = ?")
		args = append(args, *f.BuyerID)
	}
	for _, in := range []struct {
		column string
		values []string
	}{
		{"o.title", f.Titles},
		{"o.model_name", f.Models},
		{"o.pattern_name", f.Patterns},
		{"o.backdrop_name", f.Backdrops},
	} {
		if len(in.values) == 0 {
			continue
		}
		conds = append(conds, in.column+" IN ("+placeholders(len(in.values))+")")
		for _, v := range in.values {
			args = append(args, v)
		}
	}
	if f.MinPrice != nil {
		conds = append(conds, "o.price_limit >= ?")
		args = append(args, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		conds = append(conds, "o.price_limit <= ?")
		args = append(args, *f.MaxPrice)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	page := &Page{Limit: f.Limit, Offset: f.Offset, Orders: []*models.BuyOrder{}}
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM buy_orders o`+where, args...).Scan(&page.Total); err != nil {
		return nil, errors.Wrap(err, "failed to count buy orders")
	}

	rows, err := q.QueryContext(ctx, `SELECT `+orderColumns+` FROM buy_orders o`+where+
		` ORDER BY `+sortClauses[f.Sort]+` LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list buy orders")
	}
	defer rows.Close()
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan buy order")
		}
		page.Orders = append(page.Orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list buy orders")
	}
	page.HasMore = f.Offset+len(page.Orders) < page.Total
	return page, nil
}
