package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"channelhub/backend/internal/domain"
)

const workOrderColumns = `id, customer_name, mobile_no, COALESCE(whatsapp_no, ''), COALESCE(address, ''), pincode,
	COALESCE(operator_id, ''), COALESCE(service_type, ''), supervisor_id, COALESCE(assigned_technician_id, ''),
	status, deadline_at, amount, COALESCE(closing_otp, ''), otp_sent_at, closed_at, created_by, created_at`

func scanWorkOrder(row rowScanner) (*domain.WorkOrder, error) {
	var o domain.WorkOrder
	var otpSentAt, closedAt sql.NullTime
	err := row.Scan(&o.ID, &o.CustomerName, &o.MobileNo, &o.WhatsAppNo, &o.Address, &o.Pincode,
		&o.OperatorID, &o.ServiceType, &o.SupervisorID, &o.AssignedTechnicianID,
		&o.Status, &o.DeadlineAt, &o.Amount, &o.ClosingOTP, &otpSentAt, &closedAt, &o.CreatedBy, &o.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	o.OTPSentAt = timePtr(otpSentAt)
	o.ClosedAt = timePtr(closedAt)
	return &o, nil
}

func (t *tx) InsertWorkOrder(ctx context.Context, o domain.WorkOrder) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO work_orders (id, customer_name, mobile_no, whatsapp_no, address, pincode, operator_id, service_type,
			supervisor_id, assigned_technician_id, status, deadline_at, amount, closing_otp, otp_sent_at, closed_at,
			created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, o.ID, o.CustomerName, o.MobileNo, nullIfEmpty(o.WhatsAppNo), nullIfEmpty(o.Address), o.Pincode,
		nullIfEmpty(o.OperatorID), nullIfEmpty(o.ServiceType), o.SupervisorID, nullIfEmpty(o.AssignedTechnicianID),
		string(o.Status), o.DeadlineAt, o.Amount, nullIfEmpty(o.ClosingOTP), nullTime(o.OTPSentAt), nullTime(o.ClosedAt),
		o.CreatedBy, o.CreatedAt)
	return mapWriteErr(err)
}

func (t *tx) GetWorkOrder(ctx context.Context, id string) (*domain.WorkOrder, error) {
	return scanWorkOrder(t.q.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = $1`, id))
}

func (t *tx) LockWorkOrder(ctx context.Context, id string) (*domain.WorkOrder, error) {
	return scanWorkOrder(t.q.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = $1 FOR UPDATE`, id))
}

func (t *tx) UpdateWorkOrder(ctx context.Context, o domain.WorkOrder) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE work_orders
		SET supervisor_id = $2, assigned_technician_id = $3, status = $4, deadline_at = $5, amount = $6,
			closing_otp = $7, otp_sent_at = $8, closed_at = $9
		WHERE id = $1
	`, o.ID, o.SupervisorID, nullIfEmpty(o.AssignedTechnicianID), string(o.Status), o.DeadlineAt, o.Amount,
		nullIfEmpty(o.ClosingOTP), nullTime(o.OTPSentAt), nullTime(o.ClosedAt))
	if err != nil {
		return mapWriteErr(err)
	}
	return expectAffected(res)
}

func (t *tx) ListWorkOrders(ctx context.Context, filter domain.WorkOrderFilter) ([]domain.WorkOrder, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+workOrderColumns+`
		FROM work_orders
		WHERE ($1 = '' OR supervisor_id = $1)
		  AND ($2 = '' OR assigned_technician_id = $2)
		  AND ($3 = '' OR created_by = $3)
		  AND ($4 = '' OR status = $4)
		  AND (NOT $5 OR closing_otp IS NOT NULL)
		ORDER BY created_at DESC, id
		LIMIT $6
	`, filter.SupervisorID, filter.TechnicianID, filter.CreatedBy, string(filter.Status), filter.WithOTP, limitOrAll(filter.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.WorkOrder, 0, 16)
	for rows.Next() {
		o, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (t *tx) ExpirePendingWorkOrders(ctx context.Context, now time.Time) (int, error) {
	res, err := t.q.ExecContext(ctx, `
		UPDATE work_orders SET status = 'Expired' WHERE status = 'Pending' AND deadline_at < $1
	`, now)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func scanWorkReport(row rowScanner) (*domain.WorkReport, error) {
	var r domain.WorkReport
	var materials []byte
	err := row.Scan(&r.WorkOrderID, &materials, &r.SubtotalAmount, &r.CollectedAmount, &r.WhoCollectedID, &r.RepairType,
		&r.ReturnedProductID, &r.ReturnedSerial, &r.ReturnedQty, &r.FreelancerPaymentAmount, &r.CancellationRemark, &r.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	r.Materials = make([]domain.MaterialLine, 0)
	if len(materials) > 0 {
		if err := json.Unmarshal(materials, &r.Materials); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

func (t *tx) InsertWorkReport(ctx context.Context, r domain.WorkReport) error {
	materials, err := marshalMaterials(r.Materials)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO work_reports (work_order_id, materials, subtotal_amount, collected_amount, who_collected_id, repair_type,
			returned_product_id, returned_serial, returned_qty, freelancer_payment_amount, cancellation_remark, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, r.WorkOrderID, string(materials), r.SubtotalAmount, r.CollectedAmount, nullIfEmpty(r.WhoCollectedID), nullIfEmpty(r.RepairType),
		nullIfEmpty(r.ReturnedProductID), nullIfEmpty(r.ReturnedSerial), r.ReturnedQty, r.FreelancerPaymentAmount,
		nullIfEmpty(r.CancellationRemark), r.UpdatedAt)
	return mapWriteErr(err)
}

func (t *tx) GetWorkReport(ctx context.Context, workOrderID string) (*domain.WorkReport, error) {
	return scanWorkReport(t.q.QueryRowContext(ctx, `
		SELECT work_order_id, materials, subtotal_amount, collected_amount, COALESCE(who_collected_id, ''),
			COALESCE(repair_type, ''), COALESCE(returned_product_id, ''), COALESCE(returned_serial, ''), returned_qty,
			freelancer_payment_amount, COALESCE(cancellation_remark, ''), updated_at
		FROM work_reports
		WHERE work_order_id = $1
	`, workOrderID))
}

func (t *tx) UpdateWorkReport(ctx context.Context, r domain.WorkReport) error {
	materials, err := marshalMaterials(r.Materials)
	if err != nil {
		return err
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE work_reports
		SET materials = $2, subtotal_amount = $3, collected_amount = $4, who_collected_id = $5, repair_type = $6,
			returned_product_id = $7, returned_serial = $8, returned_qty = $9, freelancer_payment_amount = $10,
			cancellation_remark = $11, updated_at = $12
		WHERE work_order_id = $1
	`, r.WorkOrderID, string(materials), r.SubtotalAmount, r.CollectedAmount, nullIfEmpty(r.WhoCollectedID), nullIfEmpty(r.RepairType),
		nullIfEmpty(r.ReturnedProductID), nullIfEmpty(r.ReturnedSerial), r.ReturnedQty, r.FreelancerPaymentAmount,
		nullIfEmpty(r.CancellationRemark), r.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	return expectAffected(res)
}

func marshalMaterials(lines []domain.MaterialLine) ([]byte, error) {
	if lines == nil {
		lines = []domain.MaterialLine{}
	}
	return json.Marshal(lines)
}
