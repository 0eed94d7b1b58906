package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"nftmarket/internal/apperr"
	"nftmarket/internal/database"
	"nftmarket/internal/models"
)

const assetColumns = `a.id, a.gift_id, a.owner_id, a.listed_price, a.bundle_id, a.custody_account,
	g.title, g.model_name, g.pattern_name, g.backdrop_name`

func scanAsset(row rowScanner) (*models.Asset, error) {
	var a models.Asset
	err := row.Scan(&a.ID, &a.GiftID, &a.OwnerID, &a.ListedPrice, &a.BundleID, &a.CustodyAccount,
		&a.Attributes.Title, &a.Attributes.Model, &a.Attributes.Pattern, &a.Attributes.Backdrop)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// LockAssetForSale reads the asset with its catalog attributes and holds
// the asset row lock until the unit of work ends.
func (r *Repository) LockAssetForSale(ctx context.Context, q database.Querier, id int64) (*models.Asset, error) {
	a, err := scanAsset(q.QueryRowContext(ctx, `SELECT `+assetColumns+`
		FROM assets a JOIN gifts g ON g.id = a.gift_id
		WHERE a.id = ?`+r.forUpdate("a"), id))
	if err == sql.ErrNoRows {
		return nil, apperr.AssetNotFound(id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load asset %d", id)
	}
	return a, nil
}

// FindMatchingAssetForOrder picks the seller's lowest-id tradable asset
// whose attributes satisfy the order. assetID narrows the search to one
// asset. With lock set, assets locked by others are skipped. It returns nil
// when nothing matches.
func (r *Repository) FindMatchingAssetForOrder(ctx context.Context, q database.Querier, order *models.BuyOrder, sellerID int64, assetID *int64, lock bool) (*models.Asset, error) {
	query := `SELECT ` + assetColumns + `
		FROM assets a JOIN gifts g ON g.id = a.gift_id
		WHERE a.owner_id = ? AND a.custody_account IS NULL AND a.bundle_id IS NULL AND g.title = ?`
	args := []interface{}{sellerID, order.Criteria.Title}
	for _, f := range []struct {
		column string
		value  *string
	}{
		{"g.model_name", order.Criteria.Model},
		{"g.pattern_name", order.Criteria.Pattern},
		{"g.backdrop_name", order.Criteria.Backdrop},
	} {
		if f.value != nil {
			query += " AND " + f.column + " = ?"
			args = append(args, *f.value)
		}
	}
	if assetID != nil {
		query += " AND a.id = ?"
		args = append(args, *assetID)
	}
	query += " ORDER BY a.id ASC LIMIT 1"
	if lock {
		query += r.skipLocked("a")
	}

	a, err := scanAsset(q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find asset for buy order %d", order.ID)
	}
	return a, nil
}

// TransferAsset hands the asset to newOwner and takes it off sale.
func (r *Repository) TransferAsset(ctx context.Context, q database.Querier, assetID, newOwner int64) error {
	_, err := q.ExecContext(ctx, `UPDATE assets SET owner_id = ?, listed_price = NULL WHERE id = ?`, newOwner, assetID)
	return errors.Wrapf(err, "failed to transfer asset %d", assetID)
}

// SetListedPrice lists the asset at price, or unlists it when price is nil.
func (r *Repository) SetListedPrice(ctx context.Context, q database.Querier, assetID int64, price *int64) error {
	_, err := q.ExecContext(ctx, `UPDATE assets SET listed_price = ? WHERE id = ?`, price, assetID)
	return errors.Wrapf(err, "failed to set price of asset %d", assetID)
}

// DeactivatePromotions ends every active promotion of the asset and returns
// how many were ended.
func (r *Repository) DeactivatePromotions(ctx context.Context, q database.Querier, assetID int64) (int64, error) {
	res, err := q.ExecContext(ctx, `UPDATE promotions SET is_active = 0 WHERE nft_id = ? AND is_active = 1`, assetID)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to deactivate promotions of asset %d", assetID)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
