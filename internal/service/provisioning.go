package service

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"channelhub/backend/internal/apperr"
	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/store"
	"channelhub/backend/internal/xid"
)

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return domain.User{}, err
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 3 || strings.ContainsAny(username, " \t\r\n") {
		return domain.User{}, apperr.New(apperr.InvalidInput, "username", "username must be at least 3 characters without spaces")
	}
	if !req.Role.Valid() {
		return domain.User{}, apperr.New(apperr.InvalidInput, string(req.Role), "unknown role %q", req.Role)
	}
	if len(req.Password) < 6 {
		return domain.User{}, apperr.New(apperr.InvalidInput, "password", "password must be at least 6 characters")
	}

	user := domain.User{
		ID:        xid.New("usr"),
		Username:  username,
		Name:      strings.TrimSpace(req.Name),
		Role:      req.Role,
		Phone:     strings.TrimSpace(req.Phone),
		WhatsApp:  strings.TrimSpace(req.WhatsApp),
		Active:    true,
		CreatedAt: s.now(),
	}
	if user.Name == "" {
		user.Name = username
	}

	switch req.Role {
	case domain.RoleSupervisor:
		user.SupervisorCategory = req.SupervisorCategory
		if user.SupervisorCategory == "" {
			user.SupervisorCategory = domain.CategoryBoth
		}
	case domain.RoleTechnician:
		user.TechnicianType = req.TechnicianType
		if user.TechnicianType == "" {
			user.TechnicianType = domain.TechnicianOwn
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = string(hash)

	fosIDs := dedupe(req.FosIDs)
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		if user.Role == domain.RoleFOS || user.Role == domain.RoleTechnician {
			sup, err := loadUser(ctx, tx, req.SupervisorID)
			if err != nil {
				return err
			}
			if sup.Role != domain.RoleSupervisor || !sup.Active {
				return apperr.New(apperr.InvalidInput, sup.ID, "%s is not an active supervisor", sup.Username)
			}
			user.SupervisorID = sup.ID
		}
		if user.Role == domain.RoleRetailer && len(fosIDs) == 0 {
			return apperr.New(apperr.InvalidInput, "fos_ids", "a retailer needs at least one FOS")
		}
		for _, fosID := range fosIDs {
			fos, err := loadUser(ctx, tx, fosID)
			if err != nil {
				return err
			}
			if fos.Role != domain.RoleFOS {
				return apperr.New(apperr.InvalidInput, fos.ID, "%s is not a FOS", fos.Username)
			}
		}

		if err := tx.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("create user %s: %w", username, err)
		}
		if user.Role == domain.RoleRetailer {
			for _, fosID := range fosIDs {
				if err := tx.MapRetailerToFos(ctx, user.ID, fosID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}

	s.logAudit(ctx, "user_create", "user", user.ID, fmt.Sprintf("username=%s,role=%s", user.Username, user.Role))
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context, filter domain.UserFilter) ([]domain.User, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return nil, err
	}
	var users []domain.User
	err = s.repo.View(ctx, func(tx store.Tx) error {
		users, err = tx.ListUsers(ctx, filter)
		return err
	})
	return users, err
}

func (s *Service) MapRetailerToFos(ctx context.Context, req domain.RetailerFosMapRequest) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		retailer, err := loadUser(ctx, tx, req.RetailerID)
		if err != nil {
			return err
		}
		fos, err := loadUser(ctx, tx, req.FosID)
		if err != nil {
			return err
		}
		if retailer.Role != domain.RoleRetailer || fos.Role != domain.RoleFOS {
			return apperr.New(apperr.InvalidInput, retailer.ID, "mapping needs a retailer and a FOS")
		}
		return tx.MapRetailerToFos(ctx, retailer.ID, fos.ID)
	})
	if err != nil {
		return err
	}
	s.logAudit(ctx, "retailer_fos_map", "user", req.RetailerID, "fos="+req.FosID)
	return nil
}

func (s *Service) MapFosOperator(ctx context.Context, req domain.FosOperatorMapRequest) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		fos, err := loadUser(ctx, tx, req.FosID)
		if err != nil {
			return err
		}
		if fos.Role != domain.RoleFOS {
			return apperr.New(apperr.InvalidInput, fos.ID, "%s is not a FOS", fos.Username)
		}
		if _, err := tx.GetOperator(ctx, req.OperatorID); err != nil {
			return notFound(err, "operator", req.OperatorID)
		}
		return tx.MapFosOperator(ctx, fos.ID, req.OperatorID)
	})
	if err != nil {
		return err
	}
	s.logAudit(ctx, "fos_operator_map", "user", req.FosID, "operator="+req.OperatorID)
	return nil
}

func (s *Service) CreateOperator(ctx context.Context, req domain.OperatorCreateRequest) (domain.Operator, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Operator{}, err
	}
	op := domain.Operator{ID: xid.New("op"), Name: strings.TrimSpace(req.Name)}
	if op.Name == "" {
		return domain.Operator{}, apperr.New(apperr.InvalidInput, "name", "operator name is required")
	}
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateOperator(ctx, op); err != nil {
			return fmt.Errorf("create operator %s: %w", op.Name, err)
		}
		return nil
	})
	if err != nil {
		return domain.Operator{}, err
	}
	s.logAudit(ctx, "operator_create", "operator", op.ID, op.Name)
	return op, nil
}

func (s *Service) ListOperators(ctx context.Context) ([]domain.Operator, error) {
	var ops []domain.Operator
	err := s.repo.View(ctx, func(tx store.Tx) error {
		var err error
		ops, err = tx.ListOperators(ctx)
		return err
	})
	return ops, err
}

// SetOperatorPrice changes the SIM price list. Units already purchased keep their snapshot.
func (s *Service) SetOperatorPrice(ctx context.Context, operatorID string, req domain.OperatorPriceRequest) (domain.OperatorPrice, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.OperatorPrice{}, err
	}
	if req.PurchasePrice.IsNegative() || req.SellingPrice.IsNegative() {
		return domain.OperatorPrice{}, apperr.New(apperr.InvalidAmount, operatorID, "prices must not be negative")
	}
	price := domain.OperatorPrice{
		OperatorID:    operatorID,
		PurchasePrice: req.PurchasePrice,
		SellingPrice:  req.SellingPrice,
		UpdatedAt:     s.now(),
	}
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetOperator(ctx, operatorID); err != nil {
			return notFound(err, "operator", operatorID)
		}
		return tx.SetOperatorPrice(ctx, price)
	})
	if err != nil {
		return domain.OperatorPrice{}, err
	}
	s.logAudit(ctx, "operator_price_set", "operator", operatorID,
		fmt.Sprintf("purchase=%s,selling=%s", price.PurchasePrice, price.SellingPrice))
	return price, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	product := domain.Product{
		ID:         xid.New("prd"),
		Name:       strings.TrimSpace(req.Name),
		OperatorID: strings.TrimSpace(req.OperatorID),
		Serialized: req.Serialized,
		Meterable:  req.Meterable,
		UnitPrice:  req.UnitPrice,
		CreatedAt:  s.now(),
	}
	if product.Name == "" {
		return domain.Product{}, apperr.New(apperr.InvalidInput, "name", "product name is required")
	}
	if product.Serialized && product.Meterable {
		return domain.Product{}, apperr.New(apperr.InvalidInput, product.Name, "a serialized product cannot be meterable")
	}
	if product.UnitPrice.IsNegative() {
		return domain.Product{}, apperr.New(apperr.InvalidAmount, product.Name, "unit price must not be negative")
	}

	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		if product.OperatorID != "" {
			if _, err := tx.GetOperator(ctx, product.OperatorID); err != nil {
				return notFound(err, "operator", product.OperatorID)
			}
		}
		if err := tx.CreateProduct(ctx, product); err != nil {
			return fmt.Errorf("create product %s: %w", product.Name, err)
		}
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, "product_create", "product", product.ID,
		fmt.Sprintf("name=%s,serialized=%t,meterable=%t,price=%s", product.Name, product.Serialized, product.Meterable, product.UnitPrice))
	return product, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	err := s.repo.View(ctx, func(tx store.Tx) error {
		var err error
		products, err = tx.ListProducts(ctx)
		return err
	})
	return products, err
}

// AssignPincode routes new work orders for pincode to a service supervisor.
func (s *Service) AssignPincode(ctx context.Context, req domain.PincodeAssignRequest) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	pincode := strings.TrimSpace(req.Pincode)
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		sup, err := loadUser(ctx, tx, req.SupervisorID)
		if err != nil {
			return err
		}
		if sup.Role != domain.RoleSupervisor || !sup.SupervisorCategory.HandlesService() {
			return apperr.New(apperr.InvalidInput, sup.ID, "%s is not a service supervisor", sup.Username)
		}
		return tx.SetPincodeAssignment(ctx, pincode, sup.ID)
	})
	if err != nil {
		return err
	}
	s.resolver.Invalidate(ctx, pincode)
	s.logAudit(ctx, "pincode_assign", "pincode", pincode, "supervisor="+req.SupervisorID)
	return nil
}

func (s *Service) requireAdmin(ctx context.Context) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	return requireRole(actor, domain.RoleAdmin)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
