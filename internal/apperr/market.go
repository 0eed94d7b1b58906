package apperr

import "fmt"

func OrderNotFound(orderID int64) *Error {
	return New(KindNotFound, "BUY_ORDER_NOT_FOUND",
		fmt.Sprintf("buy order %d not found", orderID),
		map[string]interface{}{"order_id": orderID})
}

func OrderPermissionDenied(orderID int64) *Error {
	return New(KindPermissionDenied, "BUY_ORDER_PERMISSION_DENIED",
		fmt.Sprintf("permission denied for buy order %d", orderID),
		map[string]interface{}{"order_id": orderID})
}

func OrderNotActive(orderID int64) *Error {
	return New(KindInvalidState, "BUY_ORDER_NOT_ACTIVE",
		fmt.Sprintf("buy order %d is not active", orderID),
		map[string]interface{}{"order_id": orderID})
}

func InsufficientBalance(required, available int64) *Error {
	return New(KindInsufficientBalance, "INSUFFICIENT_BALANCE",
		fmt.Sprintf("insufficient balance: required %d, available %d", required, available),
		map[string]interface{}{"required": required, "available": available})
}

func AssetNotFound(assetID int64) *Error {
	return New(KindNotFound, "NFT_NOT_FOUND",
		fmt.Sprintf("asset %d not found", assetID),
		map[string]interface{}{"nft_id": assetID})
}

func NoMatchingAsset(orderID, sellerID int64) *Error {
	return New(KindNotFound, "NO_MATCHING_NFT_IN_STORAGE",
		fmt.Sprintf("seller %d has no asset matching buy order %d", sellerID, orderID),
		map[string]interface{}{"order_id": orderID, "seller_id": sellerID})
}

func AssetNotOwned(assetID int64) *Error {
	return New(KindPermissionDenied, "NFT_NOT_OWNED",
		fmt.Sprintf("asset %d is not owned by the seller", assetID),
		map[string]interface{}{"nft_id": assetID})
}

func AssetNotAvailable(assetID int64) *Error {
	return New(KindInvalidState, "NFT_NOT_AVAILABLE",
		fmt.Sprintf("asset %d is not available for sale", assetID),
		map[string]interface{}{"nft_id": assetID})
}

func SelfTrade(orderID, userID int64) *Error {
	return New(KindInvalidState, "SELF_TRADE_NOT_ALLOWED",
		"cannot sell to your own buy order",
		map[string]interface{}{"order_id": orderID, "user_id": userID})
}

func AttributeMismatch(orderID, assetID int64) *Error {
	return New(KindAttributeMismatch, "NFT_DOES_NOT_MATCH_ORDER",
		fmt.Sprintf("asset %d does not match buy order %d", assetID, orderID),
		map[string]interface{}{"order_id": orderID, "nft_id": assetID})
}

func PriceAboveLimit(orderID, price, limit int64) *Error {
	return New(KindInvalidState, "EXECUTION_PRICE_ABOVE_LIMIT",
		fmt.Sprintf("execution price %d exceeds limit %d of buy order %d", price, limit, orderID),
		map[string]interface{}{"order_id": orderID, "execution_price": price, "price_limit": limit})
}

func InvalidArgument(field, reason string) *Error {
	return New(KindInvalidArgument, "INVALID_ARGUMENT",
		fmt.Sprintf("invalid %s: %s", field, reason),
		map[string]interface{}{"field": field})
}

func LockTimeout(key string, err error) *Error {
	e := Wrap(err, KindLockTimeout, "LOCK_TIMEOUT", fmt.Sprintf("resource %s is busy, retry later", key))
	e.Details = map[string]interface{}{"key": key}
	return e
}

func LockReentrant(key string, err error) *Error {
	e := Wrap(err, KindInvalidState, "LOCK_REENTRANT", fmt.Sprintf("lock %s is already held by this operation", key))
	e.Details = map[string]interface{}{"key": key}
	return e
}

func LockUnavailable(key string, err error) *Error {
	e := Wrap(err, KindLockUnavailable, "LOCK_UNAVAILABLE", "lock backend unavailable")
	e.Details = map[string]interface{}{"key": key}
	return e
}

func Transaction(err error) *Error {
	return Wrap(err, KindTransaction, "TRANSACTION_FAILED", "transaction failed")
}
