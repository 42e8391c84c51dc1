package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"channelhub/backend/internal/apperr"
	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/store"
	"channelhub/backend/internal/xid"
)

const defaultWorkDeadline = 24 * time.Hour

// CreateWorkOrder opens a service job. The pincode decides which supervisor owns it.
func (s *Service) CreateWorkOrder(ctx context.Context, req domain.WorkOrderCreateRequest) (domain.WorkOrder, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleSupervisor, domain.RoleRetailer); err != nil {
		return domain.WorkOrder{}, err
	}
	if strings.TrimSpace(req.CustomerName) == "" || strings.TrimSpace(req.MobileNo) == "" {
		return domain.WorkOrder{}, apperr.New(apperr.InvalidInput, "customer", "customer name and mobile number are required")
	}
	if req.Amount.IsNegative() {
		return domain.WorkOrder{}, apperr.New(apperr.InvalidAmount, "amount", "amount must not be negative")
	}

	pincode := strings.TrimSpace(req.Pincode)
	supervisorID, err := s.resolver.ResolveSupervisor(ctx, pincode)
	if err != nil {
		return domain.WorkOrder{}, err
	}

	now := s.now()
	deadline := now.Add(defaultWorkDeadline)
	if req.DeadlineAt != nil {
		deadline = req.DeadlineAt.UTC()
	}
	order := domain.WorkOrder{
		ID:           xid.New("wo"),
		CustomerName: strings.TrimSpace(req.CustomerName),
		MobileNo:     strings.TrimSpace(req.MobileNo),
		WhatsAppNo:   strings.TrimSpace(req.WhatsAppNo),
		Address:      strings.TrimSpace(req.Address),
		Pincode:      pincode,
		OperatorID:   strings.TrimSpace(req.OperatorID),
		ServiceType:  strings.TrimSpace(req.ServiceType),
		SupervisorID: supervisorID,
		Status:       domain.WorkPending,
		DeadlineAt:   deadline,
		Amount:       req.Amount,
		CreatedBy:    actor.UserID,
		CreatedAt:    now,
	}

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		sup, err := loadUser(ctx, tx, supervisorID)
		if err != nil {
			return err
		}
		if sup.Role != domain.RoleSupervisor || !sup.Active {
			return apperr.New(apperr.NotFound, pincode, "pincode %s is not assigned to an active supervisor", pincode)
		}
		if order.OperatorID != "" {
			if _, err := tx.GetOperator(ctx, order.OperatorID); err != nil {
				return notFound(err, "operator", order.OperatorID)
			}
		}
		if err := tx.InsertWorkOrder(ctx, order); err != nil {
			return err
		}
		return tx.InsertWorkReport(ctx, domain.WorkReport{
			WorkOrderID:             order.ID,
			Materials:               []domain.MaterialLine{},
			SubtotalAmount:          decimal.Zero,
			CollectedAmount:         decimal.Zero,
			ReturnedQty:             decimal.Zero,
			FreelancerPaymentAmount: decimal.Zero,
			UpdatedAt:               now,
		})
	})
	if err != nil {
		return domain.WorkOrder{}, err
	}

	s.logAudit(ctx, "work_order_create", "work_order", order.ID, fmt.Sprintf("pincode=%s,supervisor=%s", pincode, supervisorID))
	return order, nil
}

// SweepExpired marks pending orders past their deadline as expired.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	var count int
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		count, err = tx.ExpirePendingWorkOrders(ctx, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("work orders expired", zap.Int("count", count))
	}
	return count, nil
}

func (s *Service) sweepQuietly(ctx context.Context) {
	if _, err := s.SweepExpired(ctx); err != nil {
		s.logger.Warn("expiry sweep failed", zap.Error(err))
	}
}

// RunExpirySweeper sweeps on every tick until ctx is cancelled.
func (s *Service) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepQuietly(ctx)
		}
	}
}

// canManage reports whether user is an admin or the order's supervisor of record.
func canManage(user *domain.User, order *domain.WorkOrder) bool {
	return user.Role == domain.RoleAdmin || (user.Role == domain.RoleSupervisor && order.SupervisorID == user.ID)
}

func lockOrder(ctx context.Context, tx store.Tx, id string) (*domain.WorkOrder, error) {
	order, err := tx.LockWorkOrder(ctx, id)
	if err != nil {
		return nil, notFound(err, "work order", id)
	}
	return order, nil
}

func requireStatus(order *domain.WorkOrder, allowed ...domain.WorkStatus) error {
	for _, status := range allowed {
		if order.Status == status {
			return nil
		}
	}
	return apperr.New(apperr.InvalidState, order.ID, "work order %s is %s", order.ID, order.Status)
}

// ExtendDeadline moves the deadline of an open order. An expired order becomes pending again.
func (s *Service) ExtendDeadline(ctx context.Context, id string, req domain.DeadlineRequest) (domain.WorkOrder, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	deadline := req.DeadlineAt.UTC()
	if !deadline.After(s.now()) {
		return domain.WorkOrder{}, apperr.New(apperr.InvalidInput, "deadline_at", "deadline must be in the future")
	}

	var result domain.WorkOrder
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		user, err := loadActor(ctx, tx, actor)
		if err != nil {
			return err
		}
		order, err := lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if !canManage(user, order) {
			return apperr.New(apperr.Unauthorized, id, "%s may not change work order %s", user.Username, id)
		}
		if err := requireStatus(order, domain.WorkPending, domain.WorkExpired); err != nil {
			return err
		}
		order.DeadlineAt = deadline
		order.Status = domain.WorkPending
		if err := tx.UpdateWorkOrder(ctx, *order); err != nil {
			return err
		}
		result = *order
		return nil
	})
	if err != nil {
		return domain.WorkOrder{}, err
	}
	s.logAudit(ctx, "work_order_deadline", "work_order", id, "deadline="+deadline.Format(time.RFC3339))
	return result, nil
}

// Assign gives an unassigned pending order to a technician.
func (s *Service) Assign(ctx context.Context, id string, req domain.AssignRequest) (domain.AssignResult, error) {
	return s.assign(ctx, id, req.TechnicianID, false)
}

// Reassign replaces the technician of a pending order. Naming the current technician changes nothing.
func (s *Service) Reassign(ctx context.Context, id string, req domain.AssignRequest) (domain.AssignResult, error) {
	return s.assign(ctx, id, req.TechnicianID, true)
}

func (s *Service) assign(ctx context.Context, id string, techID string, reassign bool) (domain.AssignResult, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.AssignResult{}, err
	}
	s.sweepQuietly(ctx)

	var (
		result domain.AssignResult
		tech   *domain.User
	)
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		result = domain.AssignResult{}
		user, err := loadActor(ctx, tx, actor)
		if err != nil {
			return err
		}
		order, err := lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if !canManage(user, order) {
			return apperr.New(apperr.Unauthorized, id, "%s may not assign work order %s", user.Username, id)
		}
		if err := requireStatus(order, domain.WorkPending); err != nil {
			return err
		}
		if !reassign && order.AssignedTechnicianID != "" {
			return apperr.New(apperr.InvalidState, id, "work order %s is already assigned, reassign it instead", id)
		}

		tech, err = loadUser(ctx, tx, techID)
		if err != nil {
			return err
		}
		if tech.Role != domain.RoleTechnician || !tech.Active {
			return apperr.New(apperr.InvalidInput, tech.ID, "%s is not an active technician", tech.Username)
		}
		if user.Role != domain.RoleAdmin && tech.SupervisorID != order.SupervisorID {
			return apperr.New(apperr.Unauthorized, tech.ID, "%s does not work under the supervisor of %s", tech.Username, id)
		}

		if reassign && order.AssignedTechnicianID == tech.ID {
			result = domain.AssignResult{WorkOrder: *order, Warning: fmt.Sprintf("%s is already assigned to %s", tech.Username, id)}
			return nil
		}
		order.AssignedTechnicianID = tech.ID
		if err := tx.UpdateWorkOrder(ctx, *order); err != nil {
			return err
		}
		result = domain.AssignResult{WorkOrder: *order}
		return nil
	})
	if err != nil {
		return domain.AssignResult{}, err
	}
	if result.Warning != "" {
		return result, nil
	}

	action := "work_order_assign"
	if reassign {
		action = "work_order_reassign"
	}
	s.logAudit(ctx, action, "work_order", id, "technician="+tech.ID)
	order := result.WorkOrder
	s.notifyUser(ctx, contactPhone(tech), fmt.Sprintf(
		"Work order %s assigned to you. Customer %s, %s %s. Contact %s. Due %s.",
		order.ID, order.CustomerName, order.Address, order.Pincode, order.MobileNo,
		order.DeadlineAt.Format("02 Jan 15:04")))
	return result, nil
}

// newOTP returns a uniformly random code in 100000..999999.
func newOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// SendClosingOtp issues a fresh closing code to the customer. Earlier codes stop working.
func (s *Service) SendClosingOtp(ctx context.Context, id string) (domain.OtpResult, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.OtpResult{}, err
	}
	s.sweepQuietly(ctx)

	code, err := newOTP()
	if err != nil {
		return domain.OtpResult{}, err
	}
	now := s.now()

	var order domain.WorkOrder
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		user, err := loadActor(ctx, tx, actor)
		if err != nil {
			return err
		}
		o, err := lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		assigned := user.Role == domain.RoleTechnician && o.AssignedTechnicianID == user.ID
		if !canManage(user, o) && !assigned {
			return apperr.New(apperr.Unauthorized, id, "%s may not send the closing code of %s", user.Username, id)
		}
		if err := requireStatus(o, domain.WorkPending); err != nil {
			return err
		}
		o.ClosingOTP = code
		o.OTPSentAt = &now
		if err := tx.UpdateWorkOrder(ctx, *o); err != nil {
			return err
		}
		order = *o
		return nil
	})
	if err != nil {
		return domain.OtpResult{}, err
	}

	phone := order.WhatsAppNo
	if phone == "" {
		phone = order.MobileNo
	}
	receipt := s.notifyUser(ctx, phone, fmt.Sprintf(
		"Dear %s, share code %s with our technician to close work order %s.", order.CustomerName, code, order.ID))
	s.logAudit(ctx, "work_order_otp", "work_order", id, "sent_to="+phone)
	return domain.OtpResult{WorkOrderID: id, SentTo: phone, Delivered: receipt.Delivered, SentAt: now}, nil
}

// checkClosingOtp applies the closing code rules. Admins may close without a code, but a code
// they do enter must match one that was issued.
func (s *Service) checkClosingOtp(user *domain.User, order *domain.WorkOrder, entered string) error {
	entered = strings.TrimSpace(entered)
	if user.Role == domain.RoleAdmin {
		if entered == "" {
			return nil
		}
		if order.ClosingOTP == "" || entered != order.ClosingOTP {
			return apperr.New(apperr.OtpMismatch, order.ID, "closing code does not match")
		}
		return nil
	}
	if entered == "" || order.ClosingOTP == "" {
		return apperr.New(apperr.OtpMissing, order.ID, "a closing code is required to close %s", order.ID)
	}
	if s.otpTTL > 0 && order.OTPSentAt != nil && s.now().Sub(*order.OTPSentAt) > s.otpTTL {
		return apperr.New(apperr.OtpMissing, order.ID, "the closing code of %s has expired, send a new one", order.ID)
	}
	if entered != order.ClosingOTP {
		return apperr.New(apperr.OtpMismatch, order.ID, "closing code does not match")
	}
	return nil
}

type consumption struct {
	product *domain.Product
	line    domain.MaterialLine
	units   []domain.SerializedUnit
}

// Close completes a work order: it consumes the technician's materials, books any swapped
// customer unit, credits the cash collected and writes the report. Nothing changes unless all of
// it succeeds.
func (s *Service) Close(ctx context.Context, id string, req domain.WorkCloseRequest) (domain.WorkReport, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.WorkReport{}, err
	}
	if req.CollectedAmount.IsNegative() || req.FreelancerPaymentAmount.IsNegative() {
		return domain.WorkReport{}, apperr.New(apperr.InvalidAmount, id, "amounts must not be negative")
	}

	var report domain.WorkReport
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		user, err := loadActor(ctx, tx, actor)
		if err != nil {
			return err
		}
		order, err := lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if !canManage(user, order) {
			return apperr.New(apperr.Unauthorized, id, "%s may not close work order %s", user.Username, id)
		}
		if err := requireStatus(order, domain.WorkPending, domain.WorkExpired); err != nil {
			return err
		}
		if err := s.checkClosingOtp(user, order, req.OTP); err != nil {
			return err
		}
		if order.AssignedTechnicianID == "" {
			return apperr.New(apperr.InvalidState, id, "work order %s has no technician assigned", id)
		}
		tech, err := loadUser(ctx, tx, order.AssignedTechnicianID)
		if err != nil {
			return err
		}

		lines, err := s.validateMaterials(ctx, tx, tech, req.Materials)
		if err != nil {
			return err
		}

		now := s.now()
		subtotal := order.Amount
		materials := make([]domain.MaterialLine, 0, len(lines))
		for _, c := range lines {
			if _, err := tx.AddStock(ctx, tech.ID, c.product.ID, c.line.Qty.Neg()); err != nil {
				return err
			}
			for _, unit := range c.units {
				if err := markUsed(ctx, tx, unit, order.ID, now); err != nil {
					return err
				}
			}
			subtotal = subtotal.Add(c.line.LineTotal)
			materials = append(materials, c.line)
		}

		returnedQty := decimal.Zero
		returnedProductID, returnedSerial := "", ""
		if req.RepairType == domain.RepairSwapping && strings.TrimSpace(req.ReturnedProductID) != "" {
			returnedProductID = strings.TrimSpace(req.ReturnedProductID)
			returnedSerial = strings.TrimSpace(req.ReturnedSerial)
			returnedQty, err = s.ingestReturned(ctx, tx, tech, returnedProductID, returnedSerial, req.ReturnedQty, now)
			if err != nil {
				return err
			}
		}

		whoCollectedID := strings.TrimSpace(req.WhoCollectedID)
		if whoCollectedID == "" {
			whoCollectedID = tech.ID
		}
		if req.CollectedAmount.IsPositive() {
			who, err := tx.LockUser(ctx, whoCollectedID)
			if err != nil {
				return notFound(err, "user", whoCollectedID)
			}
			if !who.Active {
				return apperr.New(apperr.InvalidInput, who.ID, "%s is inactive", who.Username)
			}
			who.CollectionAmount = who.CollectionAmount.Add(req.CollectedAmount)
			if err := tx.UpdateUserBalances(ctx, *who); err != nil {
				return err
			}
		}
		if req.FreelancerPaymentAmount.IsPositive() {
			if tech.TechnicianType != domain.TechnicianFreelance {
				return apperr.New(apperr.InvalidInput, tech.ID, "%s is not a freelance technician", tech.Username)
			}
			locked, err := tx.LockUser(ctx, tech.ID)
			if err != nil {
				return err
			}
			locked.PaymentWallet = locked.PaymentWallet.Add(req.FreelancerPaymentAmount)
			if err := tx.UpdateUserBalances(ctx, *locked); err != nil {
				return err
			}
		}

		current, err := tx.GetWorkReport(ctx, order.ID)
		if err != nil {
			return notFound(err, "work report", order.ID)
		}
		report = *current
		report.Materials = materials
		report.SubtotalAmount = subtotal
		report.CollectedAmount = req.CollectedAmount
		report.WhoCollectedID = whoCollectedID
		report.RepairType = strings.TrimSpace(req.RepairType)
		report.ReturnedProductID = returnedProductID
		report.ReturnedSerial = returnedSerial
		report.ReturnedQty = returnedQty
		report.FreelancerPaymentAmount = req.FreelancerPaymentAmount
		report.UpdatedAt = now
		if err := tx.UpdateWorkReport(ctx, report); err != nil {
			return err
		}

		order.Status = domain.WorkClosed
		order.ClosedAt = &now
		return tx.UpdateWorkOrder(ctx, *order)
	})
	if err != nil {
		return domain.WorkReport{}, err
	}

	s.logAudit(ctx, "work_order_close", "work_order", id,
		fmt.Sprintf("subtotal=%s,collected=%s,lines=%d", report.SubtotalAmount, report.CollectedAmount, len(report.Materials)))
	return report, nil
}

// validateMaterials checks every material line against the technician's holdings before anything
// is written.
func (s *Service) validateMaterials(ctx context.Context, tx store.Tx, tech *domain.User, inputs []domain.MaterialInput) ([]consumption, error) {
	lines := make([]consumption, 0, len(inputs))
	needed := make(map[string]decimal.Decimal)
	usedSerials := make(map[string]struct{})

	for _, in := range inputs {
		product, err := loadProduct(ctx, tx, in.ProductID)
		if err != nil {
			return nil, err
		}
		if err := validateQty(product, in.Qty); err != nil {
			return nil, err
		}
		c := consumption{
			product: product,
			line: domain.MaterialLine{
				ProductID:   product.ID,
				ProductName: product.Name,
				Qty:         in.Qty,
				UnitPrice:   product.UnitPrice,
				LineTotal:   in.Qty.Mul(product.UnitPrice),
			},
		}

		if product.Serialized {
			serials, err := normalizeSerials(in.Serials)
			if err != nil {
				return nil, err
			}
			if !decimal.NewFromInt(int64(len(serials))).Equal(in.Qty) {
				return nil, apperr.New(apperr.CountMismatch, product.ID,
					"%s needs %s serials, got %d", product.Name, in.Qty, len(serials))
			}
			units, err := tx.LockUnits(ctx, serials)
			if err != nil {
				return nil, err
			}
			for _, serial := range serials {
				unit, ok := units[serial]
				_, reused := usedSerials[serial]
				if !ok || reused || unit.ProductID != product.ID || unit.HolderID != tech.ID || unit.Status != domain.UnitAvailable {
					return nil, apperr.New(apperr.SerialNotAvailable, serial,
						"serial %s is not available with %s", serial, tech.Username)
				}
				usedSerials[serial] = struct{}{}
				c.units = append(c.units, unit)
			}
			c.line.Serials = serials
		}

		needed[product.ID] = needed[product.ID].Add(in.Qty)
		lines = append(lines, c)
	}

	for _, c := range lines {
		want, ok := needed[c.product.ID]
		if !ok {
			continue
		}
		delete(needed, c.product.ID)
		available, err := tx.LockStock(ctx, tech.ID, c.product.ID)
		if err != nil {
			return nil, err
		}
		if available.LessThan(want) {
			return nil, insufficientStock(c.product, available, want)
		}
	}
	return lines, nil
}

// ingestReturned books the customer's old unit into the technician's stock. A serialized return
// is recorded as a defective unit; a unit the technician already holds is not counted twice.
func (s *Service) ingestReturned(ctx context.Context, tx store.Tx, tech *domain.User, productID string, serial string, qty decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	product, err := loadProduct(ctx, tx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	if qty.IsZero() {
		qty = decimal.NewFromInt(1)
	}
	if product.Serialized {
		if serial == "" {
			return decimal.Zero, apperr.New(apperr.InvalidInput, product.ID, "returned %s needs its serial", product.Name)
		}
		qty = decimal.NewFromInt(1)
		held, err := markDefective(ctx, tx, serial, product, tech.ID, at)
		if err != nil {
			return decimal.Zero, err
		}
		if held {
			return qty, nil
		}
	}
	if err := validateQty(product, qty); err != nil {
		return decimal.Zero, err
	}
	if _, err := tx.AddStock(ctx, tech.ID, product.ID, qty); err != nil {
		return decimal.Zero, err
	}
	return qty, nil
}

// Cancel ends an open work order with a reason.
func (s *Service) Cancel(ctx context.Context, id string, req domain.CancelRequest) (domain.WorkOrder, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.WorkOrder{}, apperr.New(apperr.InvalidInput, "reason", "a cancellation reason is required")
	}

	var result domain.WorkOrder
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		user, err := loadActor(ctx, tx, actor)
		if err != nil {
			return err
		}
		order, err := lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if !canManage(user, order) {
			return apperr.New(apperr.Unauthorized, id, "%s may not cancel work order %s", user.Username, id)
		}
		if order.Status.Terminal() {
			return apperr.New(apperr.InvalidState, id, "work order %s is already %s", id, order.Status)
		}

		report, err := tx.GetWorkReport(ctx, order.ID)
		if err != nil {
			return notFound(err, "work report", order.ID)
		}
		report.CancellationRemark = reason
		report.UpdatedAt = s.now()
		if err := tx.UpdateWorkReport(ctx, *report); err != nil {
			return err
		}
		order.Status = domain.WorkCancelled
		if err := tx.UpdateWorkOrder(ctx, *order); err != nil {
			return err
		}
		result = *order
		return nil
	})
	if err != nil {
		return domain.WorkOrder{}, err
	}
	s.logAudit(ctx, "work_order_cancel", "work_order", id, reason)
	return result, nil
}

// scopeWorkOrders narrows filter to what the actor may see.
func scopeWorkOrders(actor domain.Actor, filter domain.WorkOrderFilter) (domain.WorkOrderFilter, error) {
	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleSupervisor:
		filter.SupervisorID = actor.UserID
	case domain.RoleTechnician:
		filter.TechnicianID = actor.UserID
	case domain.RoleRetailer:
		filter.CreatedBy = actor.UserID
	default:
		return filter, apperr.New(apperr.Unauthorized, actor.Username, "role %s has no work orders", actor.Role)
	}
	return filter, nil
}

func canView(actor domain.Actor, order *domain.WorkOrder) bool {
	switch actor.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleSupervisor:
		return order.SupervisorID == actor.UserID
	case domain.RoleTechnician:
		return order.AssignedTechnicianID == actor.UserID
	case domain.RoleRetailer:
		return order.CreatedBy == actor.UserID
	default:
		return false
	}
}

func (s *Service) ListWorkOrders(ctx context.Context, filter domain.WorkOrderFilter) ([]domain.WorkOrder, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	filter, err = scopeWorkOrders(actor, filter)
	if err != nil {
		return nil, err
	}
	if filter.Limit < 1 {
		filter.Limit = defaultHistoryLimit
	}
	s.sweepQuietly(ctx)

	var orders []domain.WorkOrder
	err = s.repo.View(ctx, func(tx store.Tx) error {
		var err error
		orders, err = tx.ListWorkOrders(ctx, filter)
		return err
	})
	return orders, err
}

func (s *Service) GetWorkOrder(ctx context.Context, id string) (domain.WorkOrder, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	s.sweepQuietly(ctx)

	var order *domain.WorkOrder
	err = s.repo.View(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.GetWorkOrder(ctx, id)
		if err != nil {
			return notFound(err, "work order", id)
		}
		if !canView(actor, order) {
			return apperr.New(apperr.NotFound, id, "work order %s not found", id)
		}
		return nil
	})
	if err != nil {
		return domain.WorkOrder{}, err
	}
	return *order, nil
}

func (s *Service) GetWorkReport(ctx context.Context, id string) (domain.WorkReport, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.WorkReport{}, err
	}

	var report *domain.WorkReport
	err = s.repo.View(ctx, func(tx store.Tx) error {
		order, err := tx.GetWorkOrder(ctx, id)
		if err != nil {
			return notFound(err, "work order", id)
		}
		if !canView(actor, order) {
			return apperr.New(apperr.NotFound, id, "work order %s not found", id)
		}
		report, err = tx.GetWorkReport(ctx, id)
		return notFound(err, "work report", id)
	})
	if err != nil {
		return domain.WorkReport{}, err
	}
	return *report, nil
}

// ListOtps shows the issued closing codes so an admin can help a customer on the phone.
func (s *Service) ListOtps(ctx context.Context, limit int) ([]domain.OtpEntry, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	var orders []domain.WorkOrder
	err := s.repo.View(ctx, func(tx store.Tx) error {
		var err error
		orders, err = tx.ListWorkOrders(ctx, domain.WorkOrderFilter{WithOTP: true, Limit: limit})
		return err
	})
	if err != nil {
		return nil, err
	}
	entries := make([]domain.OtpEntry, 0, len(orders))
	for _, o := range orders {
		entries = append(entries, domain.OtpEntry{
			WorkOrderID:  o.ID,
			CustomerName: o.CustomerName,
			OTP:          o.ClosingOTP,
			SentAt:       o.OTPSentAt,
			Status:       o.Status,
		})
	}
	return entries, nil
}
