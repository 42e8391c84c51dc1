package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/store"
)

const cashTransferColumns = `id, from_id, to_id, amount, status, COALESCE(remark, ''), created_at, processed_at`

func scanCashTransfer(row rowScanner) (*domain.CashTransfer, error) {
	var tr domain.CashTransfer
	var processed sql.NullTime
	if err := row.Scan(&tr.ID, &tr.FromID, &tr.ToID, &tr.Amount, &tr.Status, &tr.Remark, &tr.CreatedAt, &processed); err != nil {
		return nil, notFound(err)
	}
	tr.ProcessedAt = timePtr(processed)
	return &tr, nil
}

func (t *tx) InsertCashTransfer(ctx context.Context, transfer domain.CashTransfer) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO cash_transfers (id, from_id, to_id, amount, status, remark, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, transfer.ID, transfer.FromID, transfer.ToID, transfer.Amount, string(transfer.Status),
		nullIfEmpty(transfer.Remark), transfer.CreatedAt, nullTime(transfer.ProcessedAt))
	return mapWriteErr(err)
}

func (t *tx) LockCashTransfer(ctx context.Context, id string) (*domain.CashTransfer, error) {
	return scanCashTransfer(t.q.QueryRowContext(ctx, `SELECT `+cashTransferColumns+` FROM cash_transfers WHERE id = $1 FOR UPDATE`, id))
}

func (t *tx) UpdateCashTransfer(ctx context.Context, transfer domain.CashTransfer) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE cash_transfers SET status = $2, processed_at = $3 WHERE id = $1
	`, transfer.ID, string(transfer.Status), nullTime(transfer.ProcessedAt))
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *tx) ListCashTransfers(ctx context.Context, userID string, limit int) ([]domain.CashTransfer, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+cashTransferColumns+`
		FROM cash_transfers
		WHERE ($1 = '' OR from_id = $1 OR to_id = $1)
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CashTransfer, 0, 16)
	for rows.Next() {
		tr, err := scanCashTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tr)
	}
	return out, rows.Err()
}

const techPaymentColumns = `id, supervisor_id, technician_id, COALESCE(work_order_id, ''), amount, status, COALESCE(remark, ''), created_at, processed_at`

func scanTechnicianPayment(row rowScanner) (*domain.TechnicianPayment, error) {
	var p domain.TechnicianPayment
	var processed sql.NullTime
	err := row.Scan(&p.ID, &p.SupervisorID, &p.TechnicianID, &p.WorkOrderID, &p.Amount, &p.Status, &p.Remark, &p.CreatedAt, &processed)
	if err != nil {
		return nil, notFound(err)
	}
	p.ProcessedAt = timePtr(processed)
	return &p, nil
}

func (t *tx) InsertTechnicianPayment(ctx context.Context, payment domain.TechnicianPayment) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO technician_payments (id, supervisor_id, technician_id, work_order_id, amount, status, remark, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, payment.ID, payment.SupervisorID, payment.TechnicianID, nullIfEmpty(payment.WorkOrderID), payment.Amount,
		string(payment.Status), nullIfEmpty(payment.Remark), payment.CreatedAt, nullTime(payment.ProcessedAt))
	return mapWriteErr(err)
}

func (t *tx) LockTechnicianPayment(ctx context.Context, id string) (*domain.TechnicianPayment, error) {
	return scanTechnicianPayment(t.q.QueryRowContext(ctx, `SELECT `+techPaymentColumns+` FROM technician_payments WHERE id = $1 FOR UPDATE`, id))
}

func (t *tx) UpdateTechnicianPayment(ctx context.Context, payment domain.TechnicianPayment) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE technician_payments SET status = $2, processed_at = $3 WHERE id = $1
	`, payment.ID, string(payment.Status), nullTime(payment.ProcessedAt))
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *tx) ListTechnicianPayments(ctx context.Context, userID string, limit int) ([]domain.TechnicianPayment, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+techPaymentColumns+`
		FROM technician_payments
		WHERE ($1 = '' OR supervisor_id = $1 OR technician_id = $1)
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.TechnicianPayment, 0, 16)
	for rows.Next() {
		p, err := scanTechnicianPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanWallet(row rowScanner) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(&w.HolderID, &w.OperatorID, &w.Channel, &w.OperatorName, &w.PendingAmount,
		&w.TotalIssued, &w.TotalCollected, &w.TotalPaid, &w.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

func (t *tx) queryWallets(ctx context.Context, filter domain.WalletFilter, lock bool) ([]domain.Wallet, error) {
	query := `
		SELECT w.holder_id, w.operator_id, w.channel, o.name, w.pending_amount,
			w.total_issued, w.total_collected, w.total_paid, w.updated_at
		FROM wallets w
		JOIN operators o ON o.id = w.operator_id
		WHERE ($1 = '' OR w.holder_id = $1)
		  AND ($2 = '' OR w.operator_id = $2)
		  AND ($3 = '' OR w.channel = $3)
		  AND (NOT $4 OR w.pending_amount > 0)
		ORDER BY o.name, w.channel, w.holder_id`
	if lock {
		query += ` FOR UPDATE OF w`
	}
	rows, err := t.q.QueryContext(ctx, query, filter.HolderID, filter.OperatorID, string(filter.Channel), filter.PositiveOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Wallet, 0, 8)
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (t *tx) LockWallets(ctx context.Context, filter domain.WalletFilter) ([]domain.Wallet, error) {
	return t.queryWallets(ctx, filter, true)
}

func (t *tx) ListWallets(ctx context.Context, filter domain.WalletFilter) ([]domain.Wallet, error) {
	return t.queryWallets(ctx, filter, false)
}

const walletReturning = `RETURNING holder_id, operator_id, channel, (SELECT name FROM operators WHERE id = wallets.operator_id),
			pending_amount, total_issued, total_collected, total_paid, updated_at`

// ApplyWalletDelta adds delta to the wallet row, creating it on first use. A delta with any negative
// component only updates an existing row, and the pending_amount check rejects a balance below zero.
func (t *tx) ApplyWalletDelta(ctx context.Context, key domain.WalletKey, delta domain.WalletDelta, at time.Time) (*domain.Wallet, error) {
	if hasDebit(delta) {
		return t.debitWallet(ctx, key, delta, at)
	}
	w, err := scanWallet(t.q.QueryRowContext(ctx, `
		INSERT INTO wallets (holder_id, operator_id, channel, pending_amount, total_issued, total_collected, total_paid, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (holder_id, operator_id, channel) DO UPDATE
		SET pending_amount = wallets.pending_amount + EXCLUDED.pending_amount,
			total_issued = wallets.total_issued + EXCLUDED.total_issued,
			total_collected = wallets.total_collected + EXCLUDED.total_collected,
			total_paid = wallets.total_paid + EXCLUDED.total_paid,
			updated_at = EXCLUDED.updated_at
		`+walletReturning,
		key.HolderID, key.OperatorID, string(key.Channel), delta.Pending, delta.Issued, delta.Collected, delta.Paid, at))
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return w, nil
}

func (t *tx) debitWallet(ctx context.Context, key domain.WalletKey, delta domain.WalletDelta, at time.Time) (*domain.Wallet, error) {
	w, err := scanWallet(t.q.QueryRowContext(ctx, `
		UPDATE wallets
		SET pending_amount = pending_amount + $4,
			total_issued = total_issued + $5,
			total_collected = total_collected + $6,
			total_paid = total_paid + $7,
			updated_at = $8
		WHERE holder_id = $1 AND operator_id = $2 AND channel = $3
		`+walletReturning,
		key.HolderID, key.OperatorID, string(key.Channel), delta.Pending, delta.Issued, delta.Collected, delta.Paid, at))
	switch {
	case err == nil:
		return w, nil
	case errors.Is(err, store.ErrNotFound), isCheckViolation(err):
		return nil, store.ErrNegativeBalance
	default:
		return nil, mapWriteErr(err)
	}
}

func hasDebit(delta domain.WalletDelta) bool {
	return delta.Pending.IsNegative() || delta.Issued.IsNegative() || delta.Collected.IsNegative() || delta.Paid.IsNegative()
}

func (t *tx) InsertCollection(ctx context.Context, c domain.Collection) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO collections (id, level, channel, operator_id, from_id, to_id, collected_by, amount,
			pending_before, pending_after, collection_date, remarks, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, c.ID, string(c.Level), string(c.Channel), c.OperatorID, c.FromID, c.ToID, c.CollectedBy, c.Amount,
		c.PendingBefore, c.PendingAfter, nowDateUTC(c.CollectionDate), nullIfEmpty(c.Remarks), c.CreatedAt)
	return mapWriteErr(err)
}

func (t *tx) ListCollections(ctx context.Context, filter domain.CollectionFilter) ([]domain.Collection, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, level, channel, operator_id, from_id, to_id, collected_by, amount,
			pending_before, pending_after, collection_date, COALESCE(remarks, ''), created_at
		FROM collections
		WHERE ($1 = '' OR from_id = $1 OR to_id = $1 OR collected_by = $1)
		  AND ($2 = '' OR channel = $2)
		ORDER BY created_at DESC, id
		LIMIT $3
	`, filter.UserID, string(filter.Channel), limitOrAll(filter.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Collection, 0, 16)
	for rows.Next() {
		var c domain.Collection
		if err := rows.Scan(&c.ID, &c.Level, &c.Channel, &c.OperatorID, &c.FromID, &c.ToID, &c.CollectedBy, &c.Amount,
			&c.PendingBefore, &c.PendingAfter, &c.CollectionDate, &c.Remarks, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *tx) EcSaleExists(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := t.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM ec_sales WHERE order_id = $1)`, orderID).Scan(&exists)
	return exists, err
}

func (t *tx) InsertEcSale(ctx context.Context, sale domain.EcSale) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO ec_sales (order_id, order_date, partner_id, partner_name, transfer_amount, commission,
			amount_without_commission, operator_id, supervisor_id, fos_id, retailer_id, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, sale.OrderID, nowDateUTC(sale.OrderDate), nullIfEmpty(sale.PartnerID), sale.PartnerName, sale.TransferAmount,
		sale.Commission, sale.AmountWithoutCommission, sale.OperatorID, nullIfEmpty(sale.SupervisorID), sale.FosID,
		sale.RetailerID, sale.UploadedBy, sale.CreatedAt)
	return mapWriteErr(err)
}
