package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/store"
)

// LockStock returns the owner's quantity of a product, creating a zero row first so the lock always has a target.
func (t *tx) LockStock(ctx context.Context, ownerID string, productID string) (decimal.Decimal, error) {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO stock (owner_id, product_id, qty, updated_at)
		VALUES ($1, $2, 0, now())
		ON CONFLICT (owner_id, product_id) DO NOTHING
	`, ownerID, productID)
	if err != nil {
		return decimal.Zero, mapWriteErr(err)
	}

	var qty decimal.Decimal
	err = t.q.QueryRowContext(ctx, `
		SELECT qty FROM stock WHERE owner_id = $1 AND product_id = $2 FOR UPDATE
	`, ownerID, productID).Scan(&qty)
	if err != nil {
		return decimal.Zero, notFound(err)
	}
	return qty, nil
}

// AddStock applies delta to the owner's quantity. Credits upsert the row; debits only update an
// existing row, since a CHECK on the proposed insert tuple would reject a negative value before the
// conflict is resolved.
func (t *tx) AddStock(ctx context.Context, ownerID string, productID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if delta.IsNegative() {
		return t.debitStock(ctx, ownerID, productID, delta)
	}
	var qty decimal.Decimal
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO stock (owner_id, product_id, qty, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (owner_id, product_id) DO UPDATE
		SET qty = stock.qty + EXCLUDED.qty, updated_at = now()
		RETURNING qty
	`, ownerID, productID, delta).Scan(&qty)
	if err != nil {
		return decimal.Zero, mapWriteErr(err)
	}
	return qty, nil
}

func (t *tx) debitStock(ctx context.Context, ownerID string, productID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := t.q.QueryRowContext(ctx, `
		UPDATE stock SET qty = qty + $3, updated_at = now()
		WHERE owner_id = $1 AND product_id = $2
		RETURNING qty
	`, ownerID, productID, delta).Scan(&qty)
	switch {
	case err == nil:
		return qty, nil
	case errors.Is(err, sql.ErrNoRows), isCheckViolation(err):
		return decimal.Zero, store.ErrInsufficientStock
	default:
		return decimal.Zero, mapWriteErr(err)
	}
}

func (t *tx) ListStock(ctx context.Context, ownerID string) ([]domain.Stock, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT s.owner_id, s.product_id, p.name, s.qty, s.updated_at
		FROM stock s
		JOIN products p ON p.id = s.product_id
		WHERE s.owner_id = $1
		ORDER BY p.name
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Stock, 0, 16)
	for rows.Next() {
		var s domain.Stock
		if err := rows.Scan(&s.OwnerID, &s.ProductID, &s.ProductName, &s.Qty, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *tx) CreatePurchase(ctx context.Context, purchase domain.Purchase) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO purchases (id, kind, operator_id, product_id, bill_number, bill_date, quantity, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, purchase.ID, string(purchase.Kind), nullIfEmpty(purchase.OperatorID), nullIfEmpty(purchase.ProductID),
		nullIfEmpty(purchase.BillNumber), nowDateUTC(purchase.BillDate), purchase.Quantity, purchase.CreatedBy, purchase.CreatedAt)
	return mapWriteErr(err)
}

const unitColumns = `serial, kind, COALESCE(operator_id, ''), COALESCE(product_id, ''), COALESCE(model, ''), holder_id, status,
	purchase_price, selling_price, COALESCE(purchase_id, ''), COALESCE(used_in_work_id, ''), created_at, updated_at`

func scanUnit(row rowScanner) (*domain.SerializedUnit, error) {
	var u domain.SerializedUnit
	err := row.Scan(&u.Serial, &u.Kind, &u.OperatorID, &u.ProductID, &u.Model, &u.HolderID, &u.Status,
		&u.PurchasePrice, &u.SellingPrice, &u.PurchaseID, &u.UsedInWorkID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (t *tx) InsertUnits(ctx context.Context, units []domain.SerializedUnit) error {
	for _, u := range units {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO serialized_units (serial, kind, operator_id, product_id, model, holder_id, status,
				purchase_price, selling_price, purchase_id, used_in_work_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, u.Serial, string(u.Kind), nullIfEmpty(u.OperatorID), nullIfEmpty(u.ProductID), nullIfEmpty(u.Model),
			u.HolderID, string(u.Status), u.PurchasePrice, u.SellingPrice, nullIfEmpty(u.PurchaseID),
			nullIfEmpty(u.UsedInWorkID), u.CreatedAt, u.UpdatedAt)
		if err != nil {
			return mapWriteErr(err)
		}
	}
	return nil
}

func (t *tx) ExistingSerials(ctx context.Context, serials []string) ([]string, error) {
	return t.queryStrings(ctx, `SELECT serial FROM serialized_units WHERE serial = ANY($1) ORDER BY serial`, serials)
}

func (t *tx) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (t *tx) GetUnit(ctx context.Context, serial string) (*domain.SerializedUnit, error) {
	return scanUnit(t.q.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM serialized_units WHERE serial = $1`, serial))
}

// LockUnits locks the listed units in serial order. Unknown serials are absent from the result.
func (t *tx) LockUnits(ctx context.Context, serials []string) (map[string]domain.SerializedUnit, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+unitColumns+`
		FROM serialized_units
		WHERE serial = ANY($1)
		ORDER BY serial
		FOR UPDATE
	`, serials)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.SerializedUnit, len(serials))
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out[u.Serial] = *u
	}
	return out, rows.Err()
}

func (t *tx) UpdateUnit(ctx context.Context, unit domain.SerializedUnit) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE serialized_units
		SET holder_id = $2, status = $3, selling_price = $4, used_in_work_id = $5, updated_at = $6
		WHERE serial = $1
	`, unit.Serial, unit.HolderID, string(unit.Status), unit.SellingPrice, nullIfEmpty(unit.UsedInWorkID), unit.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	return expectAffected(res)
}

func (t *tx) ListUnits(ctx context.Context, filter domain.UnitFilter) ([]domain.SerializedUnit, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+unitColumns+`
		FROM serialized_units
		WHERE ($1 = '' OR holder_id = $1)
		  AND ($2 = '' OR kind = $2)
		  AND ($3 = '' OR status = $3)
		  AND ($4 = '' OR operator_id = $4)
		  AND ($5 = '' OR product_id = $5)
		ORDER BY serial
		LIMIT $6
	`, filter.HolderID, string(filter.Kind), string(filter.Status), filter.OperatorID, filter.ProductID, limitOrAll(filter.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.SerializedUnit, 0, 32)
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

const unitTransferColumns = `id, batch_id, serial, kind, from_id, to_id, type, status, COALESCE(remark, ''), created_at, processed_at`

func scanUnitTransfer(row rowScanner) (*domain.UnitTransfer, error) {
	var tr domain.UnitTransfer
	var processed sql.NullTime
	err := row.Scan(&tr.ID, &tr.BatchID, &tr.Serial, &tr.Kind, &tr.FromID, &tr.ToID, &tr.Type, &tr.Status, &tr.Remark, &tr.CreatedAt, &processed)
	if err != nil {
		return nil, notFound(err)
	}
	tr.ProcessedAt = timePtr(processed)
	return &tr, nil
}

func (t *tx) queryUnitTransfers(ctx context.Context, query string, args ...any) ([]domain.UnitTransfer, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.UnitTransfer, 0, 16)
	for rows.Next() {
		tr, err := scanUnitTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tr)
	}
	return out, rows.Err()
}

func (t *tx) InsertUnitTransfers(ctx context.Context, transfers []domain.UnitTransfer) error {
	for _, tr := range transfers {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO unit_transfers (id, batch_id, serial, kind, from_id, to_id, type, status, remark, created_at, processed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, tr.ID, tr.BatchID, tr.Serial, string(tr.Kind), tr.FromID, tr.ToID, string(tr.Type), string(tr.Status),
			nullIfEmpty(tr.Remark), tr.CreatedAt, nullTime(tr.ProcessedAt))
		if err != nil {
			return mapWriteErr(err)
		}
	}
	return nil
}

func (t *tx) PendingTransferSerials(ctx context.Context, serials []string) ([]string, error) {
	return t.queryStrings(ctx, `
		SELECT DISTINCT serial FROM unit_transfers
		WHERE status = 'pending' AND serial = ANY($1)
		ORDER BY serial
	`, serials)
}

func (t *tx) LockPendingBatch(ctx context.Context, batchID string) ([]domain.UnitTransfer, error) {
	return t.queryUnitTransfers(ctx, `
		SELECT `+unitTransferColumns+`
		FROM unit_transfers
		WHERE batch_id = $1 AND status = 'pending'
		ORDER BY serial
		FOR UPDATE
	`, batchID)
}

func (t *tx) SetUnitTransferStatus(ctx context.Context, ids []string, status domain.TransferStatus, at time.Time) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE unit_transfers SET status = $2, processed_at = $3 WHERE id = ANY($1)
	`, ids, string(status), at)
	return err
}

func (t *tx) ListUnitTransfers(ctx context.Context, filter domain.UnitTransferFilter) ([]domain.UnitTransfer, error) {
	return t.queryUnitTransfers(ctx, `
		SELECT `+unitTransferColumns+`
		FROM unit_transfers
		WHERE ($1 = '' OR from_id = $1 OR to_id = $1)
		  AND ($2 = '' OR to_id = $2)
		  AND ($3 = '' OR batch_id = $3)
		  AND ($4 = '' OR status = $4)
		ORDER BY created_at DESC, serial
		LIMIT $5
	`, filter.UserID, filter.ToID, filter.BatchID, string(filter.Status), limitOrAll(filter.Limit))
}

const stockTransferColumns = `id, product_id, qty, from_id, to_id, type, status, COALESCE(remark, ''), created_at, processed_at`

func scanStockTransfer(row rowScanner) (*domain.StockTransfer, error) {
	var tr domain.StockTransfer
	var processed sql.NullTime
	err := row.Scan(&tr.ID, &tr.ProductID, &tr.Qty, &tr.FromID, &tr.ToID, &tr.Type, &tr.Status, &tr.Remark, &tr.CreatedAt, &processed)
	if err != nil {
		return nil, notFound(err)
	}
	tr.ProcessedAt = timePtr(processed)
	return &tr, nil
}

func (t *tx) InsertStockTransfer(ctx context.Context, transfer domain.StockTransfer) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO stock_transfers (id, product_id, qty, from_id, to_id, type, status, remark, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, transfer.ID, transfer.ProductID, transfer.Qty, transfer.FromID, transfer.ToID, string(transfer.Type),
		string(transfer.Status), nullIfEmpty(transfer.Remark), transfer.CreatedAt, nullTime(transfer.ProcessedAt))
	return mapWriteErr(err)
}

func (t *tx) LockStockTransfer(ctx context.Context, id string) (*domain.StockTransfer, error) {
	return scanStockTransfer(t.q.QueryRowContext(ctx, `SELECT `+stockTransferColumns+` FROM stock_transfers WHERE id = $1 FOR UPDATE`, id))
}

func (t *tx) UpdateStockTransfer(ctx context.Context, transfer domain.StockTransfer) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE stock_transfers SET status = $2, processed_at = $3 WHERE id = $1
	`, transfer.ID, string(transfer.Status), nullTime(transfer.ProcessedAt))
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *tx) ListStockTransfers(ctx context.Context, userID string, limit int) ([]domain.StockTransfer, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+stockTransferColumns+`
		FROM stock_transfers
		WHERE ($1 = '' OR from_id = $1 OR to_id = $1)
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StockTransfer, 0, 16)
	for rows.Next() {
		tr, err := scanStockTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tr)
	}
	return out, rows.Err()
}
