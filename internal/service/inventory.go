package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"channelhub/backend/internal/apperr"
	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/store"
)

// debitCredit moves qty of product from one owner to another inside tx. Both rows are locked in
// owner id order before the balance check, so two concurrent moves cannot both pass it.
func debitCredit(ctx context.Context, tx store.Tx, fromID string, toID string, product *domain.Product, qty decimal.Decimal) error {
	if err := validateQty(product, qty); err != nil {
		return err
	}
	if fromID == toID {
		return apperr.New(apperr.InvalidInput, fromID, "cannot move stock to the same owner")
	}

	first, second := fromID, toID
	if second < first {
		first, second = second, first
	}
	balances := make(map[string]decimal.Decimal, 2)
	for _, owner := range []string{first, second} {
		balance, err := tx.LockStock(ctx, owner, product.ID)
		if err != nil {
			return notFound(err, "product", product.ID)
		}
		balances[owner] = balance
	}

	if available := balances[fromID]; available.LessThan(qty) {
		return insufficientStock(product, available, qty)
	}
	if _, err := tx.AddStock(ctx, fromID, product.ID, qty.Neg()); err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			return insufficientStock(product, balances[fromID], qty)
		}
		return err
	}
	if _, err := tx.AddStock(ctx, toID, product.ID, qty); err != nil {
		return err
	}
	return nil
}

func insufficientStock(product *domain.Product, available decimal.Decimal, requested decimal.Decimal) error {
	return apperr.New(apperr.InsufficientStock, product.ID,
		"insufficient stock of %s: available %s, requested %s", product.Name, available, requested)
}

// GetOrCreateStock returns the owner's balance of product, creating a zero row when none exists.
func (s *Service) GetOrCreateStock(ctx context.Context, ownerID string, productID string) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		if _, err := loadUser(ctx, tx, ownerID); err != nil {
			return err
		}
		product, err := loadProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		qty, err = tx.LockStock(ctx, ownerID, product.ID)
		return err
	})
	return qty, err
}

// ReceiveStock books a purchase of non-serialized goods into the root admin's stock.
func (s *Service) ReceiveStock(ctx context.Context, req domain.StockReceiveRequest) (domain.Stock, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Stock{}, err
	}

	var row domain.Stock
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		product, err := loadProduct(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}
		if product.Serialized {
			return apperr.New(apperr.InvalidInput, product.ID, "%s is serialized, purchase it by serial", product.Name)
		}
		if err := validateQty(product, req.Qty); err != nil {
			return err
		}
		root, err := s.dir(tx).rootAdmin(ctx)
		if err != nil {
			return err
		}
		balance, err := tx.AddStock(ctx, root.ID, product.ID, req.Qty)
		if err != nil {
			return err
		}
		row = domain.Stock{OwnerID: root.ID, ProductID: product.ID, ProductName: product.Name, Qty: balance, UpdatedAt: s.now()}
		return nil
	})
	if err != nil {
		return domain.Stock{}, err
	}

	s.logAudit(ctx, "stock_receive", "product", row.ProductID, fmt.Sprintf("qty=%s,balance=%s", req.Qty, row.Qty))
	return row, nil
}

// ListStock returns an owner's balances. Users see their own stock and their direct children's;
// admins see everyone's.
func (s *Service) ListStock(ctx context.Context, ownerID string) ([]domain.Stock, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if ownerID == "" {
		ownerID = actor.UserID
	}

	var rows []domain.Stock
	err = s.repo.View(ctx, func(tx store.Tx) error {
		if err := s.checkVisible(ctx, tx, actor, ownerID); err != nil {
			return err
		}
		var err error
		rows, err = tx.ListStock(ctx, ownerID)
		return err
	})
	return rows, err
}

// checkVisible allows access to a user's balances for the user, an admin, or the user's parent.
func (s *Service) checkVisible(ctx context.Context, tx store.Tx, actor domain.Actor, userID string) error {
	if userID == actor.UserID || actor.Role == domain.RoleAdmin {
		return nil
	}
	viewer, err := loadActor(ctx, tx, actor)
	if err != nil {
		return err
	}
	target, err := loadUser(ctx, tx, userID)
	if err != nil {
		return err
	}
	ok, err := s.dir(tx).isChild(ctx, viewer, target)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.Unauthorized, userID, "%s may not view %s", viewer.Username, target.Username)
	}
	return nil
}

// TakeBackStock pulls stock straight back from a child: admin from a supervisor, supervisor from
// one of their technicians. No pending row is created.
func (s *Service) TakeBackStock(ctx context.Context, req domain.StockTakeBackRequest) (domain.Stock, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Stock{}, err
	}
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleSupervisor); err != nil {
		return domain.Stock{}, err
	}

	var row domain.Stock
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		caller, err := loadActor(ctx, tx, actor)
		if err != nil {
			return err
		}
		child, err := loadUser(ctx, tx, req.FromID)
		if err != nil {
			return err
		}
		allowed := (caller.Role == domain.RoleAdmin && child.Role == domain.RoleSupervisor) ||
			(caller.Role == domain.RoleSupervisor && child.Role == domain.RoleTechnician && child.SupervisorID == caller.ID)
		if !allowed {
			return apperr.New(apperr.Unauthorized, child.ID, "%s may not take stock back from %s", caller.Username, child.Username)
		}
		product, err := loadProduct(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}
		if product.Serialized {
			return apperr.New(apperr.InvalidInput, product.ID, "%s is serialized, return it by serial", product.Name)
		}
		if err := debitCredit(ctx, tx, child.ID, caller.ID, product, req.Qty); err != nil {
			return err
		}
		balance, err := tx.LockStock(ctx, caller.ID, product.ID)
		if err != nil {
			return err
		}
		row = domain.Stock{OwnerID: caller.ID, ProductID: product.ID, ProductName: product.Name, Qty: balance, UpdatedAt: s.now()}
		return nil
	})
	if err != nil {
		return domain.Stock{}, err
	}

	s.logAudit(ctx, "stock_take_back", "product", req.ProductID, fmt.Sprintf("from=%s,qty=%s", req.FromID, req.Qty))
	return row, nil
}
