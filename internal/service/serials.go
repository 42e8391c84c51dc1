package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"channelhub/backend/internal/apperr"
	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/store"
	"channelhub/backend/internal/xid"
)

// normalizeSerials trims serials and rejects blanks and repeats within the batch.
func normalizeSerials(serials []string) ([]string, error) {
	out := make([]string, 0, len(serials))
	seen := make(map[string]struct{}, len(serials))
	for i, raw := range serials {
		serial := strings.TrimSpace(raw)
		if serial == "" {
			return nil, apperr.New(apperr.InvalidInput, fmt.Sprintf("serials[%d]", i), "serial #%d is blank", i+1)
		}
		if _, dup := seen[serial]; dup {
			return nil, apperr.New(apperr.DuplicateSerial, serial, "serial %s appears more than once in the batch", serial)
		}
		seen[serial] = struct{}{}
		out = append(out, serial)
	}
	return out, nil
}

// CreateBatch registers a purchase of serial-numbered units. Either every unit is created or none is.
func (s *Service) CreateBatch(ctx context.Context, req domain.UnitBatchCreateRequest) (domain.BatchResult, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.BatchResult{}, err
	}
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return domain.BatchResult{}, err
	}
	if !req.Kind.Valid() {
		return domain.BatchResult{}, apperr.New(apperr.InvalidInput, string(req.Kind), "unknown unit kind %q", req.Kind)
	}

	serials, err := normalizeSerials(req.Serials)
	if err != nil {
		return domain.BatchResult{}, err
	}
	if len(serials) != req.Count {
		return domain.BatchResult{}, apperr.New(apperr.CountMismatch, fmt.Sprintf("%d", req.Count),
			"declared count %d does not match %d serials", req.Count, len(serials))
	}

	now := s.now()
	billDate := now
	if req.BillDate != nil {
		billDate = req.BillDate.UTC()
	}
	purchase := domain.Purchase{
		ID:         xid.New("pur"),
		Kind:       req.Kind,
		BillNumber: strings.TrimSpace(req.BillNumber),
		BillDate:   billDate,
		Quantity:   req.Count,
		CreatedBy:  actor.UserID,
		CreatedAt:  now,
	}

	var holderID string
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		holder, err := s.initialHolder(ctx, tx, req.HolderID)
		if err != nil {
			return err
		}
		holderID = holder.ID

		existing, err := tx.ExistingSerials(ctx, serials)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return apperr.New(apperr.DuplicateSerial, existing[0], "serials already exist: %s", strings.Join(existing, ", "))
		}

		operatorID := strings.TrimSpace(req.OperatorID)
		var product *domain.Product
		purchasePrice, sellingPrice := req.PurchasePrice, req.SellingPrice

		switch req.Kind {
		case domain.UnitProduct:
			product, err = loadProduct(ctx, tx, req.ProductID)
			if err != nil {
				return err
			}
			if !product.Serialized {
				return apperr.New(apperr.InvalidInput, product.ID, "%s is not a serialized product", product.Name)
			}
			operatorID = product.OperatorID
			if purchasePrice == nil {
				purchasePrice = &product.UnitPrice
			}
			if sellingPrice == nil {
				sellingPrice = &product.UnitPrice
			}
		default:
			if operatorID == "" {
				return apperr.New(apperr.InvalidInput, "operator_id", "operator is required for %s units", req.Kind)
			}
			if _, err := tx.GetOperator(ctx, operatorID); err != nil {
				return notFound(err, "operator", operatorID)
			}
			if req.Kind == domain.UnitSIM && (purchasePrice == nil || sellingPrice == nil) {
				price, err := tx.GetOperatorPrice(ctx, operatorID)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return apperr.New(apperr.NotFound, operatorID, "no SIM price set for operator %s", operatorID)
					}
					return err
				}
				if purchasePrice == nil {
					purchasePrice = &price.PurchasePrice
				}
				if sellingPrice == nil {
					sellingPrice = &price.SellingPrice
				}
			}
			if purchasePrice == nil || sellingPrice == nil {
				return apperr.New(apperr.InvalidInput, "price", "purchase and selling price are required for %s units", req.Kind)
			}
		}
		if purchasePrice.IsNegative() || sellingPrice.IsNegative() {
			return apperr.New(apperr.InvalidAmount, "price", "prices must not be negative")
		}

		p := purchase
		p.OperatorID = operatorID
		if product != nil {
			p.ProductID = product.ID
		}
		if err := tx.CreatePurchase(ctx, p); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.New(apperr.InvalidInput, p.BillNumber, "bill %s is already recorded for this operator", p.BillNumber)
			}
			return err
		}

		units := make([]domain.SerializedUnit, 0, len(serials))
		for _, serial := range serials {
			unit := domain.SerializedUnit{
				Serial:        serial,
				Kind:          req.Kind,
				OperatorID:    operatorID,
				Model:         strings.TrimSpace(req.Model),
				HolderID:      holder.ID,
				Status:        domain.UnitAvailable,
				PurchasePrice: *purchasePrice,
				SellingPrice:  *sellingPrice,
				PurchaseID:    p.ID,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if product != nil {
				unit.ProductID = product.ID
			}
			units = append(units, unit)
		}
		if err := tx.InsertUnits(ctx, units); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.New(apperr.DuplicateSerial, "", "one or more serials already exist")
			}
			return err
		}

		if product != nil {
			if _, err := tx.AddStock(ctx, holder.ID, product.ID, decimal.NewFromInt(int64(len(units)))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.BatchResult{}, err
	}

	s.logAudit(ctx, "unit_purchase", "purchase", purchase.ID,
		fmt.Sprintf("kind=%s,count=%d,holder=%s,bill=%s", req.Kind, req.Count, holderID, purchase.BillNumber))
	return domain.BatchResult{
		BatchID: purchase.ID,
		Count:   len(serials),
		Status:  string(domain.UnitAvailable),
		ToID:    holderID,
		Serials: serials,
	}, nil
}

func (s *Service) initialHolder(ctx context.Context, tx store.Tx, holderID string) (*domain.User, error) {
	if strings.TrimSpace(holderID) == "" {
		return s.dir(tx).rootAdmin(ctx)
	}
	holder, err := loadUser(ctx, tx, holderID)
	if err != nil {
		return nil, err
	}
	if !holder.Active {
		return nil, apperr.New(apperr.InvalidInput, holder.ID, "%s is inactive", holder.Username)
	}
	return holder, nil
}

// TransferBatch offers units held by the actor to a direct child. Holders move on acceptance.
func (s *Service) TransferBatch(ctx context.Context, req domain.UnitTransferRequest) (domain.BatchResult, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.BatchResult{}, err
	}
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleSupervisor, domain.RoleFOS); err != nil {
		return domain.BatchResult{}, err
	}
	return s.offerBatch(ctx, actor, req.Serials, req.ToID, domain.TransferForward, req.Remark)
}

// ReturnBatch sends units back up to the actor's parent.
func (s *Service) ReturnBatch(ctx context.Context, req domain.UnitReturnRequest) (domain.BatchResult, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.BatchResult{}, err
	}
	if actor.Role == domain.RoleAdmin {
		return domain.BatchResult{}, apperr.New(apperr.InvalidInput, actor.UserID, "admin has no parent to return to")
	}
	return s.offerBatch(ctx, actor, req.Serials, "", domain.TransferReturn, req.Remark)
}

func (s *Service) offerBatch(ctx context.Context, actor domain.Actor, rawSerials []string, toID string, typ domain.TransferType, remark string) (domain.BatchResult, error) {
	serials, err := normalizeSerials(rawSerials)
	if err != nil {
		return domain.BatchResult{}, err
	}
	if len(serials) == 0 {
		return domain.BatchResult{}, apperr.New(apperr.InvalidInput, "serials", "at least one serial is required")
	}

	batchID := xid.Batch()
	now := s.now()
	var to *domain.User
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		from, err := loadActor(ctx, tx, actor)
		if err != nil {
			return err
		}
		dir := s.dir(tx)
		if typ == domain.TransferReturn {
			to, err = dir.parent(ctx, from)
		} else {
			to, err = loadUser(ctx, tx, toID)
		}
		if err != nil {
			return err
		}

		units, err := tx.LockUnits(ctx, serials)
		if err != nil {
			return err
		}
		var kind domain.UnitKind
		for _, serial := range serials {
			unit, ok := units[serial]
			if !ok {
				return apperr.New(apperr.NotOwned, serial, "serial %s does not exist", serial)
			}
			if unit.HolderID != from.ID || unit.Status != domain.UnitAvailable {
				return apperr.New(apperr.NotOwned, serial, "serial %s is not available with %s", serial, from.Username)
			}
			if kind == "" {
				kind = unit.Kind
			} else if unit.Kind != kind {
				return apperr.New(apperr.InvalidInput, serial, "a batch cannot mix %s and %s units", kind, unit.Kind)
			}
		}

		if from.Role == domain.RoleFOS && typ == domain.TransferForward {
			for _, serial := range serials {
				unit := units[serial]
				if unit.OperatorID == "" {
					continue
				}
				ok, err := fosServesOperator(ctx, tx, from.ID, unit.OperatorID)
				if err != nil {
					return err
				}
				if !ok {
					return apperr.New(apperr.Unauthorized, serial, "%s is not mapped to the operator of serial %s", from.Username, serial)
				}
			}
		}

		if err := dir.canTransfer(ctx, from, to, typ, kind); err != nil {
			return err
		}

		pending, err := tx.PendingTransferSerials(ctx, serials)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return apperr.New(apperr.NotOwned, pending[0], "serial %s is already in a pending transfer", pending[0])
		}

		rows := make([]domain.UnitTransfer, 0, len(serials))
		for _, serial := range serials {
			rows = append(rows, domain.UnitTransfer{
				ID:        xid.New("utr"),
				BatchID:   batchID,
				Serial:    serial,
				Kind:      kind,
				FromID:    from.ID,
				ToID:      to.ID,
				Type:      typ,
				Status:    domain.TransferPending,
				Remark:    strings.TrimSpace(remark),
				CreatedAt: now,
			})
		}
		if err := tx.InsertUnitTransfers(ctx, rows); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.New(apperr.NotOwned, "", "a serial in the batch is already in a pending transfer")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.BatchResult{}, err
	}

	s.logAudit(ctx, "unit_"+string(typ), "batch", batchID, fmt.Sprintf("to=%s,count=%d", to.ID, len(serials)))
	return domain.BatchResult{
		BatchID: batchID,
		Count:   len(serials),
		Status:  string(domain.TransferPending),
		ToID:    to.ID,
		Serials: serials,
	}, nil
}

// lockBatchFor locks the pending rows of batchID and checks they are addressed to user.
func lockBatchFor(ctx context.Context, tx store.Tx, batchID string, user *domain.User) ([]domain.UnitTransfer, error) {
	rows, err := tx.LockPendingBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.New(apperr.AlreadyProcessed, batchID, "batch %s has no pending transfers", batchID)
	}
	for _, row := range rows {
		if row.ToID != user.ID {
			return nil, apperr.New(apperr.Unauthorized, batchID, "batch %s is not addressed to %s", batchID, user.Username)
		}
	}
	return rows, nil
}

// AcceptBatch moves every unit of a pending batch to the acceptor, or none of them. A retailer
// accepting SIMs or handsets takes on the debt for their selling price.
func (s *Service) AcceptBatch(ctx context.Context, batchID string) (domain.BatchResult, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.BatchResult{}, err
	}

	var result domain.BatchResult
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		user, err := loadActor(ctx, tx, actor)
		if err != nil {
			return err
		}
		rows, err := lockBatchFor(ctx, tx, batchID, user)
		if err != nil {
			return err
		}

		serials := make([]string, 0, len(rows))
		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			serials = append(serials, row.Serial)
			ids = append(ids, row.ID)
		}
		units, err := tx.LockUnits(ctx, serials)
		if err != nil {
			return err
		}

		now := s.now()
		productQty := make(map[string]int64)
		productFrom := make(map[string]string)
		saleByOperator := make(map[string]decimal.Decimal)
		var operators []string
		for _, row := range rows {
			unit, ok := units[row.Serial]
			if !ok || unit.HolderID != row.FromID || unit.Status != domain.UnitAvailable {
				return apperr.New(apperr.NotOwned, row.Serial, "serial %s is no longer available with the sender", row.Serial)
			}
			unit.HolderID = user.ID
			unit.UpdatedAt = now
			if err := tx.UpdateUnit(ctx, unit); err != nil {
				return err
			}
			if unit.Kind == domain.UnitProduct && unit.ProductID != "" {
				productQty[unit.ProductID]++
				productFrom[unit.ProductID] = row.FromID
			}
			if user.Role == domain.RoleRetailer && row.Type == domain.TransferForward && unit.OperatorID != "" {
				if _, seen := saleByOperator[unit.OperatorID]; !seen {
					operators = append(operators, unit.OperatorID)
				}
				saleByOperator[unit.OperatorID] = saleByOperator[unit.OperatorID].Add(unit.SellingPrice)
			}
		}

		productIDs := make([]string, 0, len(productQty))
		for id := range productQty {
			productIDs = append(productIDs, id)
		}
		slices.Sort(productIDs)
		for _, id := range productIDs {
			product, err := loadProduct(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := debitCredit(ctx, tx, productFrom[id], user.ID, product, decimal.NewFromInt(productQty[id])); err != nil {
				return err
			}
		}

		if channel, ok := domain.ChannelForUnit(rows[0].Kind); ok {
			for _, operatorID := range operators {
				amount := saleByOperator[operatorID]
				if !amount.IsPositive() {
					continue
				}
				if err := recordSale(ctx, tx, user.ID, operatorID, channel, amount, now); err != nil {
					return err
				}
			}
		}

		if err := tx.SetUnitTransferStatus(ctx, ids, domain.TransferAccepted, now); err != nil {
			return err
		}
		result = domain.BatchResult{
			BatchID: batchID,
			Count:   len(rows),
			Status:  string(domain.TransferAccepted),
			ToID:    user.ID,
			Serials: serials,
		}
		return nil
	})
	if err != nil {
		return domain.BatchResult{}, err
	}

	s.logAudit(ctx, "unit_batch_accept", "batch", batchID, fmt.Sprintf("count=%d", result.Count))
	return result, nil
}

// RejectBatch declines a pending batch. Holders do not change.
func (s *Service) RejectBatch(ctx context.Context, batchID string) (domain.BatchResult, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.BatchResult{}, err
	}

	var result domain.BatchResult
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		user, err := loadActor(ctx, tx, actor)
		if err != nil {
			return err
		}
		rows, err := lockBatchFor(ctx, tx, batchID, user)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(rows))
		serials := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
			serials = append(serials, row.Serial)
		}
		if err := tx.SetUnitTransferStatus(ctx, ids, domain.TransferRejected, s.now()); err != nil {
			return err
		}
		result = domain.BatchResult{BatchID: batchID, Count: len(rows), Status: string(domain.TransferRejected), Serials: serials}
		return nil
	})
	if err != nil {
		return domain.BatchResult{}, err
	}

	s.logAudit(ctx, "unit_batch_reject", "batch", batchID, fmt.Sprintf("count=%d", result.Count))
	return result, nil
}

// MarkSold records that a retailer sold a unit to an end customer.
func (s *Service) MarkSold(ctx context.Context, serial string) (domain.SerializedUnit, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SerializedUnit{}, err
	}
	if err := requireRole(actor, domain.RoleRetailer); err != nil {
		return domain.SerializedUnit{}, err
	}
	serial = strings.TrimSpace(serial)

	var unit domain.SerializedUnit
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		units, err := tx.LockUnits(ctx, []string{serial})
		if err != nil {
			return err
		}
		u, ok := units[serial]
		if !ok {
			return apperr.New(apperr.NotFound, serial, "serial %s not found", serial)
		}
		if u.HolderID != actor.UserID || u.Status != domain.UnitAvailable {
			return apperr.New(apperr.NotOwned, serial, "serial %s is not available with you", serial)
		}
		pending, err := tx.PendingTransferSerials(ctx, []string{serial})
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return apperr.New(apperr.NotOwned, serial, "serial %s is in a pending transfer", serial)
		}
		u.Status = domain.UnitSold
		u.UpdatedAt = s.now()
		if err := tx.UpdateUnit(ctx, u); err != nil {
			return err
		}
		unit = u
		return nil
	})
	if err != nil {
		return domain.SerializedUnit{}, err
	}
	s.logAudit(ctx, "unit_sold", "unit", serial, "")
	return unit, nil
}

// markUsed consumes a unit held by the technician into a work order.
func markUsed(ctx context.Context, tx store.Tx, unit domain.SerializedUnit, workOrderID string, at time.Time) error {
	unit.Status = domain.UnitUsed
	unit.UsedInWorkID = workOrderID
	unit.UpdatedAt = at
	return tx.UpdateUnit(ctx, unit)
}

// markDefective records a unit taken back from a customer. Unknown serials are registered. It
// reports whether the unit was already part of the holder's stock.
func markDefective(ctx context.Context, tx store.Tx, serial string, product *domain.Product, holderID string, at time.Time) (bool, error) {
	units, err := tx.LockUnits(ctx, []string{serial})
	if err != nil {
		return false, err
	}
	if unit, ok := units[serial]; ok {
		if unit.Status == domain.UnitAvailable && unit.HolderID != holderID {
			return false, apperr.New(apperr.InvalidInput, serial, "serial %s is in circulation and cannot be returned as defective", serial)
		}
		held := unit.HolderID == holderID && (unit.Status == domain.UnitAvailable || unit.Status == domain.UnitDefective)
		unit.HolderID = holderID
		unit.Status = domain.UnitDefective
		unit.UpdatedAt = at
		return held, tx.UpdateUnit(ctx, unit)
	}
	return false, tx.InsertUnits(ctx, []domain.SerializedUnit{{
		Serial:     serial,
		Kind:       domain.UnitProduct,
		OperatorID: product.OperatorID,
		ProductID:  product.ID,
		HolderID:   holderID,
		Status:     domain.UnitDefective,
		CreatedAt:  at,
		UpdatedAt:  at,
	}})
}

func (s *Service) ListUnits(ctx context.Context, filter domain.UnitFilter) ([]domain.SerializedUnit, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if filter.HolderID == "" && actor.Role != domain.RoleAdmin {
		filter.HolderID = actor.UserID
	}

	var units []domain.SerializedUnit
	err = s.repo.View(ctx, func(tx store.Tx) error {
		if filter.HolderID != "" {
			if err := s.checkVisible(ctx, tx, actor, filter.HolderID); err != nil {
				return err
			}
		}
		var err error
		units, err = tx.ListUnits(ctx, filter)
		return err
	})
	return units, err
}

// ListPendingBatches groups the pending unit transfers addressed to the actor by batch.
func (s *Service) ListPendingBatches(ctx context.Context) ([]domain.PendingBatch, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	var rows []domain.UnitTransfer
	err = s.repo.View(ctx, func(tx store.Tx) error {
		var err error
		rows, err = tx.ListUnitTransfers(ctx, domain.UnitTransferFilter{ToID: actor.UserID, Status: domain.TransferPending})
		return err
	})
	if err != nil {
		return nil, err
	}

	batches := make([]domain.PendingBatch, 0)
	index := make(map[string]int)
	for _, row := range rows {
		i, ok := index[row.BatchID]
		if !ok {
			i = len(batches)
			index[row.BatchID] = i
			batches = append(batches, domain.PendingBatch{
				BatchID:   row.BatchID,
				FromID:    row.FromID,
				Kind:      row.Kind,
				Type:      row.Type,
				Remark:    row.Remark,
				CreatedAt: row.CreatedAt,
			})
		}
		batches[i].Count++
		batches[i].Serials = append(batches[i].Serials, row.Serial)
	}
	return batches, nil
}

func (s *Service) TransferHistory(ctx context.Context, limit int) ([]domain.UnitTransfer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 200
	}
	var rows []domain.UnitTransfer
	err = s.repo.View(ctx, func(tx store.Tx) error {
		var err error
		rows, err = tx.ListUnitTransfers(ctx, domain.UnitTransferFilter{UserID: actor.UserID, Limit: limit})
		return err
	})
	return rows, err
}
