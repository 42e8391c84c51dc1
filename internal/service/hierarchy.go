package service

import (
	"context"
	"errors"
	"slices"

	"channelhub/backend/internal/apperr"
	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/store"
)

// directory answers who reports to whom. Every transfer, return and collection asks it instead
// of branching on roles at the call site.
type directory struct {
	tx                store.Tx
	rootAdminUsername string
}

func (d directory) rootAdmin(ctx context.Context) (*domain.User, error) {
	if d.rootAdminUsername == "" {
		return nil, apperr.New(apperr.NotFound, "root_admin", "root admin is not configured")
	}
	user, err := d.tx.GetUserByUsername(ctx, d.rootAdminUsername)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, d.rootAdminUsername, "root admin %s does not exist", d.rootAdminUsername)
	}
	if err != nil {
		return nil, err
	}
	if user.Role != domain.RoleAdmin || !user.Active {
		return nil, apperr.New(apperr.NotFound, d.rootAdminUsername, "root admin %s is not an active admin", d.rootAdminUsername)
	}
	return user, nil
}

// parent is the user one level up: a retailer's first mapped FOS, a FOS's or technician's
// supervisor, the root admin for a supervisor.
func (d directory) parent(ctx context.Context, user *domain.User) (*domain.User, error) {
	switch user.Role {
	case domain.RoleRetailer:
		fos, err := d.tx.ListFosForRetailer(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		for i := range fos {
			if fos[i].Active {
				return &fos[i], nil
			}
		}
		return nil, apperr.New(apperr.NotFound, user.ID, "retailer %s is not mapped to any FOS", user.Username)
	case domain.RoleFOS, domain.RoleTechnician:
		if user.SupervisorID == "" {
			return nil, apperr.New(apperr.NotFound, user.ID, "%s has no supervisor", user.Username)
		}
		sup, err := d.tx.GetUser(ctx, user.SupervisorID)
		if err != nil {
			return nil, notFound(err, "supervisor", user.SupervisorID)
		}
		return sup, nil
	case domain.RoleSupervisor:
		return d.rootAdmin(ctx)
	default:
		return nil, apperr.New(apperr.InvalidInput, user.ID, "%s is at the top of the hierarchy", user.Username)
	}
}

// isParent reports whether candidate sits directly above user. A retailer may deal with any FOS
// it is mapped to, not only the first.
func (d directory) isParent(ctx context.Context, user *domain.User, candidate *domain.User) (bool, error) {
	if user.Role == domain.RoleRetailer {
		fos, err := d.tx.ListFosForRetailer(ctx, user.ID)
		if err != nil {
			return false, err
		}
		return slices.ContainsFunc(fos, func(u domain.User) bool { return u.ID == candidate.ID && u.Active }), nil
	}
	parent, err := d.parent(ctx, user)
	if err != nil {
		return false, err
	}
	return parent.ID == candidate.ID, nil
}

func (d directory) children(ctx context.Context, user *domain.User) ([]domain.User, error) {
	var (
		users []domain.User
		err   error
	)
	switch user.Role {
	case domain.RoleAdmin:
		users, err = d.tx.ListUsers(ctx, domain.UserFilter{Role: domain.RoleSupervisor})
	case domain.RoleSupervisor:
		users, err = d.tx.ListUsers(ctx, domain.UserFilter{SupervisorID: user.ID})
		users = slices.DeleteFunc(users, func(u domain.User) bool {
			return u.Role != domain.RoleFOS && u.Role != domain.RoleTechnician
		})
	case domain.RoleFOS:
		users, err = d.tx.ListRetailersForFos(ctx, user.ID)
	default:
		return []domain.User{}, nil
	}
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(users, func(u domain.User) bool { return !u.Active }), nil
}

func (d directory) isChild(ctx context.Context, user *domain.User, candidate *domain.User) (bool, error) {
	children, err := d.children(ctx, user)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(children, func(u domain.User) bool { return u.ID == candidate.ID }), nil
}

// handlesUnits reports whether user may receive serialized units of kind from the transfer chain.
// SIM and handset stock flows only through sales supervisors, FOS and retailers.
func handlesUnits(user *domain.User, kind domain.UnitKind) bool {
	if kind != domain.UnitSIM && kind != domain.UnitHandset {
		return true
	}
	switch user.Role {
	case domain.RoleTechnician:
		return false
	case domain.RoleSupervisor:
		return user.SupervisorCategory.HandlesSales()
	default:
		return true
	}
}

// canTransfer validates a move from one holder to another. unitKind is empty for fungible stock.
func (d directory) canTransfer(ctx context.Context, from *domain.User, to *domain.User, typ domain.TransferType, unitKind domain.UnitKind) error {
	if !to.Active {
		return apperr.New(apperr.Unauthorized, to.ID, "%s is inactive", to.Username)
	}
	var (
		ok  bool
		err error
	)
	switch typ {
	case domain.TransferForward:
		ok, err = d.isChild(ctx, from, to)
	case domain.TransferReturn:
		ok, err = d.isParent(ctx, from, to)
	default:
		return apperr.New(apperr.InvalidInput, string(typ), "unknown transfer type %q", typ)
	}
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.Unauthorized, to.ID, "%s may not %s to %s", from.Username, typ, to.Username)
	}
	if unitKind != "" && !handlesUnits(to, unitKind) {
		return apperr.New(apperr.Unauthorized, to.ID, "%s does not handle %s units", to.Username, unitKind)
	}
	return nil
}

// collectLevel checks that collector may collect debtor's dues and names the hop.
func (d directory) collectLevel(ctx context.Context, collector *domain.User, debtor *domain.User) (domain.CollectionLevel, error) {
	var level domain.CollectionLevel
	switch {
	case collector.Role == domain.RoleFOS && debtor.Role == domain.RoleRetailer:
		level = domain.LevelRetailerToFOS
	case collector.Role == domain.RoleSupervisor && debtor.Role == domain.RoleFOS:
		level = domain.LevelFOSToSupervisor
	case collector.Role == domain.RoleAdmin && debtor.Role == domain.RoleSupervisor:
		level = domain.LevelSupervisorToAdmin
	default:
		return "", apperr.New(apperr.Unauthorized, debtor.ID, "%s may not collect from %s", collector.Username, debtor.Username)
	}
	ok, err := d.isChild(ctx, collector, debtor)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.New(apperr.Unauthorized, debtor.ID, "%s does not report to %s", debtor.Username, collector.Username)
	}
	return level, nil
}

func (d directory) counterparties(ctx context.Context, user *domain.User, kind domain.CounterpartyKind, unitKind domain.UnitKind) ([]domain.User, error) {
	switch kind {
	case domain.CounterpartyTransfer:
		children, err := d.children(ctx, user)
		if err != nil {
			return nil, err
		}
		if unitKind == "" {
			return children, nil
		}
		return slices.DeleteFunc(children, func(u domain.User) bool { return !handlesUnits(&u, unitKind) }), nil
	case domain.CounterpartyReturn:
		if user.Role == domain.RoleRetailer {
			fos, err := d.tx.ListFosForRetailer(ctx, user.ID)
			if err != nil {
				return nil, err
			}
			return slices.DeleteFunc(fos, func(u domain.User) bool { return !u.Active }), nil
		}
		if user.Role == domain.RoleAdmin {
			return []domain.User{}, nil
		}
		parent, err := d.parent(ctx, user)
		if err != nil {
			return nil, err
		}
		return []domain.User{*parent}, nil
	case domain.CounterpartyCollect:
		children, err := d.children(ctx, user)
		if err != nil {
			return nil, err
		}
		return slices.DeleteFunc(children, func(u domain.User) bool { return u.Role == domain.RoleTechnician }), nil
	default:
		return nil, apperr.New(apperr.InvalidInput, string(kind), "unknown counterparty kind %q", kind)
	}
}

// RootAdmin returns the configured top of the hierarchy.
func (s *Service) RootAdmin(ctx context.Context) (domain.User, error) {
	var root *domain.User
	err := s.repo.View(ctx, func(tx store.Tx) error {
		var err error
		root, err = s.dir(tx).rootAdmin(ctx)
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	return *root, nil
}

func (s *Service) Parent(ctx context.Context, userID string) (domain.User, error) {
	var parent *domain.User
	err := s.repo.View(ctx, func(tx store.Tx) error {
		user, err := loadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		parent, err = s.dir(tx).parent(ctx, user)
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	return *parent, nil
}

func (s *Service) Children(ctx context.Context, userID string) ([]domain.User, error) {
	var children []domain.User
	err := s.repo.View(ctx, func(tx store.Tx) error {
		user, err := loadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		children, err = s.dir(tx).children(ctx, user)
		return err
	})
	return children, err
}

// EligibleCounterparties lists who the acting user may transfer to, return to or collect from.
func (s *Service) EligibleCounterparties(ctx context.Context, kind domain.CounterpartyKind, unitKind domain.UnitKind) ([]domain.User, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if unitKind != "" && !unitKind.Valid() {
		return nil, apperr.New(apperr.InvalidInput, string(unitKind), "unknown unit kind %q", unitKind)
	}

	var users []domain.User
	err = s.repo.View(ctx, func(tx store.Tx) error {
		user, err := loadActor(ctx, tx, actor)
		if err != nil {
			return err
		}
		users, err = s.dir(tx).counterparties(ctx, user, kind, unitKind)
		return err
	})
	return users, err
}

func (s *Service) OperatorsForFos(ctx context.Context, fosID string) ([]domain.Operator, error) {
	var ops []domain.Operator
	err := s.repo.View(ctx, func(tx store.Tx) error {
		fos, err := loadUser(ctx, tx, fosID)
		if err != nil {
			return err
		}
		if fos.Role != domain.RoleFOS {
			return apperr.New(apperr.InvalidInput, fos.ID, "%s is not a FOS", fos.Username)
		}
		ops, err = tx.ListOperatorsForFos(ctx, fos.ID)
		return err
	})
	return ops, err
}

func fosServesOperator(ctx context.Context, tx store.Tx, fosID string, operatorID string) (bool, error) {
	ops, err := tx.ListOperatorsForFos(ctx, fosID)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(ops, func(op domain.Operator) bool { return op.ID == operatorID }), nil
}
