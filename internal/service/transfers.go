package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"channelhub/backend/internal/apperr"
	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/store"
	"channelhub/backend/internal/xid"
)

const defaultHistoryLimit = 200

func alreadyProcessed(entity string, id string, status domain.TransferStatus) error {
	return apperr.New(apperr.AlreadyProcessed, id, "%s %s is already %s", entity, id, status)
}

// CreateStockTransfer offers fungible stock to a child, or returns it to the parent when the type
// is return. The balance is checked now for early feedback and again on acceptance.
func (s *Service) CreateStockTransfer(ctx context.Context, req domain.StockTransferRequest) (domain.StockTransfer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.StockTransfer{}, err
	}
	typ := req.Type
	if typ == "" {
		typ = domain.TransferForward
	}

	var transfer domain.StockTransfer
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		from, err := loadActor(ctx, tx, actor)
		if err != nil {
			return err
		}
		dir := s.dir(tx)
		var to *domain.User
		if typ == domain.TransferReturn && strings.TrimSpace(req.ToID) == "" {
			to, err = dir.parent(ctx, from)
		} else {
			to, err = loadUser(ctx, tx, req.ToID)
		}
		if err != nil {
			return err
		}
		if err := dir.canTransfer(ctx, from, to, typ, ""); err != nil {
			return err
		}

		product, err := loadProduct(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}
		if product.Serialized {
			return apperr.New(apperr.InvalidInput, product.ID, "%s is serialized, move it by serial", product.Name)
		}
		if err := validateQty(product, req.Qty); err != nil {
			return err
		}
		available, err := tx.LockStock(ctx, from.ID, product.ID)
		if err != nil {
			return err
		}
		if available.LessThan(req.Qty) {
			return insufficientStock(product, available, req.Qty)
		}

		transfer = domain.StockTransfer{
			ID:        xid.New("stx"),
			ProductID: product.ID,
			Qty:       req.Qty,
			FromID:    from.ID,
			ToID:      to.ID,
			Type:      typ,
			Status:    domain.TransferPending,
			Remark:    strings.TrimSpace(req.Remark),
			CreatedAt: s.now(),
		}
		return tx.InsertStockTransfer(ctx, transfer)
	})
	if err != nil {
		return domain.StockTransfer{}, err
	}

	s.logAudit(ctx, "stock_"+string(typ), "stock_transfer", transfer.ID,
		fmt.Sprintf("product=%s,qty=%s,to=%s", transfer.ProductID, transfer.Qty, transfer.ToID))
	return transfer, nil
}

// lockStockTransferFor locks a pending stock transfer addressed to actor.
func lockStockTransferFor(ctx context.Context, tx store.Tx, id string, actor domain.Actor) (*domain.StockTransfer, error) {
	transfer, err := tx.LockStockTransfer(ctx, id)
	if err != nil {
		return nil, notFound(err, "stock transfer", id)
	}
	if transfer.ToID != actor.UserID {
		return nil, apperr.New(apperr.Unauthorized, id, "stock transfer %s is not addressed to you", id)
	}
	if transfer.Status != domain.TransferPending {
		return nil, alreadyProcessed("stock transfer", id, transfer.Status)
	}
	return transfer, nil
}

// AcceptStockTransfer moves the stock under lock. A sender that no longer has enough leaves the
// transfer pending.
func (s *Service) AcceptStockTransfer(ctx context.Context, id string) (domain.StockTransfer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.StockTransfer{}, err
	}

	var result domain.StockTransfer
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		transfer, err := lockStockTransferFor(ctx, tx, id, actor)
		if err != nil {
			return err
		}
		product, err := loadProduct(ctx, tx, transfer.ProductID)
		if err != nil {
			return err
		}
		if err := debitCredit(ctx, tx, transfer.FromID, transfer.ToID, product, transfer.Qty); err != nil {
			return err
		}
		now := s.now()
		transfer.Status = domain.TransferAccepted
		transfer.ProcessedAt = &now
		if err := tx.UpdateStockTransfer(ctx, *transfer); err != nil {
			return err
		}
		result = *transfer
		return nil
	})
	if err != nil {
		return domain.StockTransfer{}, err
	}

	s.logAudit(ctx, "stock_transfer_accept", "stock_transfer", id, fmt.Sprintf("qty=%s", result.Qty))
	return result, nil
}

func (s *Service) RejectStockTransfer(ctx context.Context, id string) (domain.StockTransfer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.StockTransfer{}, err
	}

	var result domain.StockTransfer
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		transfer, err := lockStockTransferFor(ctx, tx, id, actor)
		if err != nil {
			return err
		}
		now := s.now()
		transfer.Status = domain.TransferRejected
		transfer.ProcessedAt = &now
		if err := tx.UpdateStockTransfer(ctx, *transfer); err != nil {
			return err
		}
		result = *transfer
		return nil
	})
	if err != nil {
		return domain.StockTransfer{}, err
	}

	s.logAudit(ctx, "stock_transfer_reject", "stock_transfer", id, "")
	return result, nil
}

func (s *Service) ListStockTransfers(ctx context.Context, limit int) ([]domain.StockTransfer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	var rows []domain.StockTransfer
	err = s.repo.View(ctx, func(tx store.Tx) error {
		var err error
		rows, err = tx.ListStockTransfers(ctx, actor.UserID, limit)
		return err
	})
	return rows, err
}

// CreateCashTransfer hands collected cash up one level: technician to supervisor, supervisor to
// the root admin.
func (s *Service) CreateCashTransfer(ctx context.Context, req domain.CashTransferRequest) (domain.CashTransfer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashTransfer{}, err
	}
	if err := requireRole(actor, domain.RoleTechnician, domain.RoleSupervisor); err != nil {
		return domain.CashTransfer{}, err
	}
	if err := requirePositive(req.Amount, "amount"); err != nil {
		return domain.CashTransfer{}, err
	}

	var transfer domain.CashTransfer
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		from, err := loadActor(ctx, tx, actor)
		if err != nil {
			return err
		}
		to, err := s.dir(tx).parent(ctx, from)
		if err != nil {
			return err
		}
		if !to.Active {
			return apperr.New(apperr.Unauthorized, to.ID, "%s is inactive", to.Username)
		}
		if from.CollectionAmount.LessThan(req.Amount) {
			return insufficientBalance(from.CollectionAmount, req.Amount)
		}
		transfer = domain.CashTransfer{
			ID:        xid.New("ctx"),
			FromID:    from.ID,
			ToID:      to.ID,
			Amount:    req.Amount,
			Status:    domain.TransferPending,
			Remark:    strings.TrimSpace(req.Remark),
			CreatedAt: s.now(),
		}
		return tx.InsertCashTransfer(ctx, transfer)
	})
	if err != nil {
		return domain.CashTransfer{}, err
	}

	s.logAudit(ctx, "cash_transfer", "cash_transfer", transfer.ID, fmt.Sprintf("to=%s,amount=%s", transfer.ToID, transfer.Amount))
	return transfer, nil
}

func insufficientBalance(available decimal.Decimal, requested decimal.Decimal) error {
	return apperr.New(apperr.InsufficientBalance, available.String(),
		"insufficient balance: available %s, requested %s", available, requested)
}

func lockCashTransferFor(ctx context.Context, tx store.Tx, id string, actor domain.Actor) (*domain.CashTransfer, error) {
	transfer, err := tx.LockCashTransfer(ctx, id)
	if err != nil {
		return nil, notFound(err, "cash transfer", id)
	}
	if transfer.ToID != actor.UserID {
		return nil, apperr.New(apperr.Unauthorized, id, "cash transfer %s is not addressed to you", id)
	}
	if transfer.Status != domain.TransferPending {
		return nil, alreadyProcessed("cash transfer", id, transfer.Status)
	}
	return transfer, nil
}

// lockUsersOrdered locks two users in id order and returns them in argument order.
func lockUsersOrdered(ctx context.Context, tx store.Tx, a string, b string) (*domain.User, *domain.User, error) {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	locked := make(map[string]*domain.User, 2)
	for _, id := range []string{first, second} {
		user, err := tx.LockUser(ctx, id)
		if err != nil {
			return nil, nil, notFound(err, "user", id)
		}
		locked[id] = user
	}
	return locked[a], locked[b], nil
}

// AcceptCashTransfer moves the amount from the sender's collection balance to the receiver's.
// Receivers at supervisor level and above also count it as paid to the company.
func (s *Service) AcceptCashTransfer(ctx context.Context, id string) (domain.CashTransfer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashTransfer{}, err
	}

	var result domain.CashTransfer
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		transfer, err := lockCashTransferFor(ctx, tx, id, actor)
		if err != nil {
			return err
		}
		sender, receiver, err := lockUsersOrdered(ctx, tx, transfer.FromID, transfer.ToID)
		if err != nil {
			return err
		}
		if sender.CollectionAmount.LessThan(transfer.Amount) {
			return insufficientBalance(sender.CollectionAmount, transfer.Amount)
		}
		sender.CollectionAmount = sender.CollectionAmount.Sub(transfer.Amount)
		receiver.CollectionAmount = receiver.CollectionAmount.Add(transfer.Amount)
		if receiver.Role == domain.RoleSupervisor || receiver.Role == domain.RoleAdmin {
			receiver.PaidToCompany = receiver.PaidToCompany.Add(transfer.Amount)
		}
		if err := tx.UpdateUserBalances(ctx, *sender); err != nil {
			return err
		}
		if err := tx.UpdateUserBalances(ctx, *receiver); err != nil {
			return err
		}

		now := s.now()
		transfer.Status = domain.TransferAccepted
		transfer.ProcessedAt = &now
		if err := tx.UpdateCashTransfer(ctx, *transfer); err != nil {
			return err
		}
		result = *transfer
		return nil
	})
	if err != nil {
		return domain.CashTransfer{}, err
	}

	s.logAudit(ctx, "cash_transfer_accept", "cash_transfer", id, fmt.Sprintf("amount=%s", result.Amount))
	return result, nil
}

func (s *Service) RejectCashTransfer(ctx context.Context, id string) (domain.CashTransfer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashTransfer{}, err
	}

	var result domain.CashTransfer
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		transfer, err := lockCashTransferFor(ctx, tx, id, actor)
		if err != nil {
			return err
		}
		now := s.now()
		transfer.Status = domain.TransferRejected
		transfer.ProcessedAt = &now
		if err := tx.UpdateCashTransfer(ctx, *transfer); err != nil {
			return err
		}
		result = *transfer
		return nil
	})
	if err != nil {
		return domain.CashTransfer{}, err
	}

	s.logAudit(ctx, "cash_transfer_reject", "cash_transfer", id, "")
	return result, nil
}

func (s *Service) ListCashTransfers(ctx context.Context, limit int) ([]domain.CashTransfer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	var rows []domain.CashTransfer
	err = s.repo.View(ctx, func(tx store.Tx) error {
		var err error
		rows, err = tx.ListCashTransfers(ctx, actor.UserID, limit)
		return err
	})
	return rows, err
}

// MarkTechnicianPayment records that a supervisor paid a freelance technician out of the
// technician's payment wallet. The wallet is debited when the technician confirms.
func (s *Service) MarkTechnicianPayment(ctx context.Context, req domain.TechnicianPaymentRequest) (domain.TechnicianPayment, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.TechnicianPayment{}, err
	}
	if err := requireRole(actor, domain.RoleSupervisor, domain.RoleAdmin); err != nil {
		return domain.TechnicianPayment{}, err
	}
	if err := requirePositive(req.Amount, "amount"); err != nil {
		return domain.TechnicianPayment{}, err
	}

	var payment domain.TechnicianPayment
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		payer, err := loadActor(ctx, tx, actor)
		if err != nil {
			return err
		}
		tech, err := loadUser(ctx, tx, req.TechnicianID)
		if err != nil {
			return err
		}
		if tech.Role != domain.RoleTechnician || tech.TechnicianType != domain.TechnicianFreelance {
			return apperr.New(apperr.InvalidInput, tech.ID, "%s is not a freelance technician", tech.Username)
		}
		if payer.Role == domain.RoleSupervisor && tech.SupervisorID != payer.ID {
			return apperr.New(apperr.Unauthorized, tech.ID, "%s does not report to %s", tech.Username, payer.Username)
		}
		if tech.PaymentWallet.LessThan(req.Amount) {
			return insufficientBalance(tech.PaymentWallet, req.Amount)
		}
		payment = domain.TechnicianPayment{
			ID:           xid.New("tpay"),
			SupervisorID: payer.ID,
			TechnicianID: tech.ID,
			WorkOrderID:  strings.TrimSpace(req.WorkOrderID),
			Amount:       req.Amount,
			Status:       domain.TransferPending,
			Remark:       strings.TrimSpace(req.Remark),
			CreatedAt:    s.now(),
		}
		return tx.InsertTechnicianPayment(ctx, payment)
	})
	if err != nil {
		return domain.TechnicianPayment{}, err
	}

	s.logAudit(ctx, "technician_payment", "technician_payment", payment.ID,
		fmt.Sprintf("technician=%s,amount=%s", payment.TechnicianID, payment.Amount))
	return payment, nil
}

func lockPaymentFor(ctx context.Context, tx store.Tx, id string, actor domain.Actor) (*domain.TechnicianPayment, error) {
	payment, err := tx.LockTechnicianPayment(ctx, id)
	if err != nil {
		return nil, notFound(err, "technician payment", id)
	}
	if payment.TechnicianID != actor.UserID {
		return nil, apperr.New(apperr.Unauthorized, id, "payment %s is not addressed to you", id)
	}
	if payment.Status != domain.TransferPending {
		return nil, alreadyProcessed("technician payment", id, payment.Status)
	}
	return payment, nil
}

func (s *Service) AcceptTechnicianPayment(ctx context.Context, id string) (domain.TechnicianPayment, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.TechnicianPayment{}, err
	}

	var result domain.TechnicianPayment
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		payment, err := lockPaymentFor(ctx, tx, id, actor)
		if err != nil {
			return err
		}
		tech, err := tx.LockUser(ctx, payment.TechnicianID)
		if err != nil {
			return notFound(err, "user", payment.TechnicianID)
		}
		if tech.PaymentWallet.LessThan(payment.Amount) {
			return insufficientBalance(tech.PaymentWallet, payment.Amount)
		}
		tech.PaymentWallet = tech.PaymentWallet.Sub(payment.Amount)
		if err := tx.UpdateUserBalances(ctx, *tech); err != nil {
			return err
		}
		now := s.now()
		payment.Status = domain.TransferAccepted
		payment.ProcessedAt = &now
		if err := tx.UpdateTechnicianPayment(ctx, *payment); err != nil {
			return err
		}
		result = *payment
		return nil
	})
	if err != nil {
		return domain.TechnicianPayment{}, err
	}

	s.logAudit(ctx, "technician_payment_accept", "technician_payment", id, fmt.Sprintf("amount=%s", result.Amount))
	return result, nil
}

func (s *Service) RejectTechnicianPayment(ctx context.Context, id string) (domain.TechnicianPayment, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.TechnicianPayment{}, err
	}

	var result domain.TechnicianPayment
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		payment, err := lockPaymentFor(ctx, tx, id, actor)
		if err != nil {
			return err
		}
		now := s.now()
		payment.Status = domain.TransferRejected
		payment.ProcessedAt = &now
		if err := tx.UpdateTechnicianPayment(ctx, *payment); err != nil {
			return err
		}
		result = *payment
		return nil
	})
	if err != nil {
		return domain.TechnicianPayment{}, err
	}

	s.logAudit(ctx, "technician_payment_reject", "technician_payment", id, "")
	return result, nil
}

func (s *Service) ListTechnicianPayments(ctx context.Context, limit int) ([]domain.TechnicianPayment, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	var rows []domain.TechnicianPayment
	err = s.repo.View(ctx, func(tx store.Tx) error {
		var err error
		rows, err = tx.ListTechnicianPayments(ctx, actor.UserID, limit)
		return err
	})
	return rows, err
}
