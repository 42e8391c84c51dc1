package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"channelhub/backend/internal/apperr"
	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/store"
	"channelhub/backend/internal/xid"
)

// recordSale adds amount to the holder's debt for operator and channel. The upstream wallet is
// left alone; debt moves up only through Collect.
func recordSale(ctx context.Context, tx store.Tx, holderID string, operatorID string, channel domain.Channel, amount decimal.Decimal, at time.Time) error {
	if err := requirePositive(amount, "amount"); err != nil {
		return err
	}
	if !channel.Valid() {
		return apperr.New(apperr.InvalidInput, string(channel), "unknown channel %q", channel)
	}
	key := domain.WalletKey{HolderID: holderID, OperatorID: operatorID, Channel: channel}
	_, err := tx.ApplyWalletDelta(ctx, key, domain.WalletDelta{Pending: amount, Issued: amount}, at)
	if err != nil {
		return notFound(err, "operator", operatorID)
	}
	return nil
}

// RecordSale books a sale against a holder's wallet. Admin only; the flows that issue goods call
// recordSale inside their own transaction.
func (s *Service) RecordSale(ctx context.Context, holderID string, operatorID string, channel domain.Channel, amount decimal.Decimal) (domain.Wallet, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Wallet{}, err
	}

	var wallet domain.Wallet
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		holder, err := loadUser(ctx, tx, holderID)
		if err != nil {
			return err
		}
		if err := recordSale(ctx, tx, holder.ID, operatorID, channel, amount, s.now()); err != nil {
			return err
		}
		wallets, err := tx.ListWallets(ctx, domain.WalletFilter{HolderID: holder.ID, OperatorID: operatorID, Channel: channel})
		if err != nil {
			return err
		}
		if len(wallets) == 1 {
			wallet = wallets[0]
		}
		return nil
	})
	if err != nil {
		return domain.Wallet{}, err
	}
	s.logAudit(ctx, "sale_record", "wallet", holderID, fmt.Sprintf("operator=%s,channel=%s,amount=%s", operatorID, channel, amount))
	return wallet, nil
}

// Collect reduces a child's pending debt by amount, spreading it over the child's wallets in
// operator name order. Each wallet touched yields one Collection row. Below the admin tier the
// collector's own wallet takes on what was collected.
func (s *Service) Collect(ctx context.Context, req domain.CollectRequest) (domain.CollectResult, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CollectResult{}, err
	}
	if !req.Channel.Valid() {
		return domain.CollectResult{}, apperr.New(apperr.InvalidInput, string(req.Channel), "unknown channel %q", req.Channel)
	}

	var result domain.CollectResult
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		result = domain.CollectResult{Collections: []domain.Collection{}, Total: decimal.Zero}

		collector, err := loadActor(ctx, tx, actor)
		if err != nil {
			return err
		}
		debtor, err := loadUser(ctx, tx, req.FromID)
		if err != nil {
			return err
		}
		level, err := s.dir(tx).collectLevel(ctx, collector, debtor)
		if err != nil {
			return err
		}
		if err := requirePositive(req.Amount, "amount"); err != nil {
			return err
		}

		wallets, err := tx.LockWallets(ctx, domain.WalletFilter{
			HolderID:     debtor.ID,
			OperatorID:   strings.TrimSpace(req.OperatorID),
			Channel:      req.Channel,
			PositiveOnly: true,
		})
		if err != nil {
			return err
		}
		available := decimal.Zero
		for _, w := range wallets {
			available = available.Add(w.PendingAmount)
		}
		if len(wallets) == 0 || req.Amount.GreaterThan(available) {
			return apperr.New(apperr.ExceedsPending, available.String(),
				"%s owes %s on %s, cannot collect %s", debtor.Username, available, req.Channel, req.Amount)
		}

		now := s.now()
		collectionDate := now.Truncate(24 * time.Hour)
		if req.CollectionDate != nil {
			collectionDate = req.CollectionDate.UTC()
		}
		remarks := strings.TrimSpace(req.Remarks)

		remaining := req.Amount
		for _, w := range wallets {
			if !remaining.IsPositive() {
				break
			}
			take := decimal.Min(remaining, w.PendingAmount)

			after, err := tx.ApplyWalletDelta(ctx, w.WalletKey, domain.WalletDelta{Pending: take.Neg(), Paid: take}, now)
			if err != nil {
				if errors.Is(err, store.ErrNegativeBalance) {
					return apperr.New(apperr.ExceedsPending, w.PendingAmount.String(), "wallet balance changed during collection")
				}
				return err
			}
			if collector.Role != domain.RoleAdmin {
				key := domain.WalletKey{HolderID: collector.ID, OperatorID: w.OperatorID, Channel: w.Channel}
				if _, err := tx.ApplyWalletDelta(ctx, key, domain.WalletDelta{Pending: take, Collected: take}, now); err != nil {
					return err
				}
			}

			note := fmt.Sprintf("%s of %s total", take, req.Amount)
			if remarks != "" {
				note = fmt.Sprintf("%s (%s of %s)", remarks, take, req.Amount)
			}
			collection := domain.Collection{
				ID:             xid.New("col"),
				Level:          level,
				Channel:        w.Channel,
				OperatorID:     w.OperatorID,
				FromID:         debtor.ID,
				ToID:           collector.ID,
				CollectedBy:    collector.ID,
				Amount:         take,
				PendingBefore:  w.PendingAmount,
				PendingAfter:   after.PendingAmount,
				CollectionDate: collectionDate,
				Remarks:        note,
				CreatedAt:      now,
			}
			if err := tx.InsertCollection(ctx, collection); err != nil {
				return err
			}
			result.Collections = append(result.Collections, collection)
			result.Total = result.Total.Add(take)
			remaining = remaining.Sub(take)
		}
		return nil
	})
	if err != nil {
		return domain.CollectResult{}, err
	}

	s.logAudit(ctx, "collect", "user", req.FromID,
		fmt.Sprintf("channel=%s,amount=%s,rows=%d", req.Channel, result.Total, len(result.Collections)))
	return result, nil
}

// ListWallets returns a holder's wallets. Defaults to the actor's own.
func (s *Service) ListWallets(ctx context.Context, holderID string) ([]domain.Wallet, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if holderID == "" {
		holderID = actor.UserID
	}
	var wallets []domain.Wallet
	err = s.repo.View(ctx, func(tx store.Tx) error {
		if err := s.checkVisible(ctx, tx, actor, holderID); err != nil {
			return err
		}
		var err error
		wallets, err = tx.ListWallets(ctx, domain.WalletFilter{HolderID: holderID})
		return err
	})
	return wallets, err
}

// ListCollections returns collection rows newest first. Non-admins only see rows they are part of.
func (s *Service) ListCollections(ctx context.Context, filter domain.CollectionFilter) ([]domain.Collection, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin {
		filter.UserID = actor.UserID
	}
	if filter.Limit < 1 {
		filter.Limit = defaultHistoryLimit
	}
	var rows []domain.Collection
	err = s.repo.View(ctx, func(tx store.Tx) error {
		var err error
		rows, err = tx.ListCollections(ctx, filter)
		return err
	})
	return rows, err
}

// PendingSummary lists the actor's collectable children with what each still owes.
func (s *Service) PendingSummary(ctx context.Context, channel domain.Channel) ([]domain.PendingDebtor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleSupervisor, domain.RoleFOS); err != nil {
		return nil, err
	}
	if channel != "" && !channel.Valid() {
		return nil, apperr.New(apperr.InvalidInput, string(channel), "unknown channel %q", channel)
	}

	var debtors []domain.PendingDebtor
	err = s.repo.View(ctx, func(tx store.Tx) error {
		debtors = []domain.PendingDebtor{}
		user, err := loadActor(ctx, tx, actor)
		if err != nil {
			return err
		}
		children, err := s.dir(tx).counterparties(ctx, user, domain.CounterpartyCollect, "")
		if err != nil {
			return err
		}
		for _, child := range children {
			wallets, err := tx.ListWallets(ctx, domain.WalletFilter{HolderID: child.ID, Channel: channel, PositiveOnly: true})
			if err != nil {
				return err
			}
			if len(wallets) == 0 {
				continue
			}
			total := decimal.Zero
			for _, w := range wallets {
				total = total.Add(w.PendingAmount)
			}
			debtors = append(debtors, domain.PendingDebtor{User: child, Wallets: wallets, Total: total})
		}
		return nil
	})
	return debtors, err
}
