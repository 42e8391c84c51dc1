package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channelhub/backend/internal/apperr"
	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/notify"
	"channelhub/backend/internal/store"
	"channelhub/backend/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc      *Service
	repo     *memory.Store
	notifier *notify.Recorder
	clock    *fakeClock
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	repo := memory.NewSeeded(nil)
	recorder := &notify.Recorder{}
	clock := &fakeClock{now: time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)}
	if opts.RootAdminUsername == "" {
		opts.RootAdminUsername = "admin"
	}
	if opts.Now == nil {
		opts.Now = clock.Now
	}
	return &harness{
		svc:      New(repo, nil, recorder, nil, nil, opts),
		repo:     repo,
		notifier: recorder,
		clock:    clock,
	}
}

func newTestService(t *testing.T) *harness {
	return newHarness(t, Options{})
}

func actorCtx(id string, username string, role domain.Role) context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: id, Username: username, Role: role})
}

func adminCtx() context.Context {
	return actorCtx(memory.SeedAdminID, "admin", domain.RoleAdmin)
}

func supCtx() context.Context {
	return actorCtx(memory.SeedSupervisorID, "north", domain.RoleSupervisor)
}

func fosCtx() context.Context {
	return actorCtx(memory.SeedFosID, "ravi", domain.RoleFOS)
}

func retailerCtx() context.Context {
	return actorCtx(memory.SeedRetailerID, "sharma", domain.RoleRetailer)
}

func techCtx() context.Context {
	return actorCtx(memory.SeedTechnicianID, "arun", domain.RoleTechnician)
}

func freelancerCtx() context.Context {
	return actorCtx(memory.SeedFreelancerID, "bala", domain.RoleTechnician)
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func assertDec(t *testing.T, want decimal.Decimal, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, want.Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, errors.Is(err, kind), "want %s, got %v", kind, err)
}

func (h *harness) stockOf(t *testing.T, ownerID string, productID string) decimal.Decimal {
	t.Helper()
	var qty decimal.Decimal
	require.NoError(t, h.repo.View(context.Background(), func(tx store.Tx) error {
		var err error
		qty, err = tx.LockStock(context.Background(), ownerID, productID)
		return err
	}))
	return qty
}

func (h *harness) user(t *testing.T, id string) domain.User {
	t.Helper()
	var user *domain.User
	require.NoError(t, h.repo.View(context.Background(), func(tx store.Tx) error {
		var err error
		user, err = tx.GetUser(context.Background(), id)
		return err
	}))
	return *user
}

func (h *harness) unit(t *testing.T, serial string) domain.SerializedUnit {
	t.Helper()
	var unit *domain.SerializedUnit
	require.NoError(t, h.repo.View(context.Background(), func(tx store.Tx) error {
		var err error
		unit, err = tx.GetUnit(context.Background(), serial)
		return err
	}))
	return *unit
}

func (h *harness) wallet(t *testing.T, holderID string, operatorID string, channel domain.Channel) domain.Wallet {
	t.Helper()
	var wallets []domain.Wallet
	require.NoError(t, h.repo.View(context.Background(), func(tx store.Tx) error {
		var err error
		wallets, err = tx.ListWallets(context.Background(), domain.WalletFilter{HolderID: holderID, OperatorID: operatorID, Channel: channel})
		return err
	}))
	if len(wallets) == 0 {
		return domain.Wallet{WalletKey: domain.WalletKey{HolderID: holderID, OperatorID: operatorID, Channel: channel}}
	}
	return wallets[0]
}

func TestOperationsRequireActor(t *testing.T) {
	h := newTestService(t)

	_, err := h.svc.ListStock(context.Background(), "")
	requireKind(t, err, apperr.Unauthorized)

	_, err = h.svc.Me(actorCtx("usr-ghost", "ghost", domain.RoleAdmin))
	requireKind(t, err, apperr.NotFound)
}

func TestMeReturnsActingUser(t *testing.T) {
	h := newTestService(t)

	me, err := h.svc.Me(fosCtx())
	require.NoError(t, err)
	assert.Equal(t, "ravi", me.Username)
	assert.Equal(t, domain.RoleFOS, me.Role)
}

func TestCreateUserRequiresAdmin(t *testing.T) {
	h := newTestService(t)

	_, err := h.svc.CreateUser(supCtx(), domain.UserCreateRequest{
		Username: "newfos", Name: "New FOS", Role: domain.RoleFOS, Password: "secret123", SupervisorID: memory.SeedSupervisorID,
	})
	requireKind(t, err, apperr.Unauthorized)
}

func TestCreateUserValidatesHierarchyLinks(t *testing.T) {
	h := newTestService(t)

	_, err := h.svc.CreateUser(adminCtx(), domain.UserCreateRequest{
		Username: "lonely", Name: "Lonely Shop", Role: domain.RoleRetailer, Password: "secret123",
	})
	requireKind(t, err, apperr.InvalidInput)

	_, err = h.svc.CreateUser(adminCtx(), domain.UserCreateRequest{
		Username: "orphan", Name: "Orphan", Role: domain.RoleFOS, Password: "secret123", SupervisorID: memory.SeedFosID,
	})
	requireKind(t, err, apperr.InvalidInput)

	_, err = h.svc.CreateUser(adminCtx(), domain.UserCreateRequest{
		Username: "Ravi", Name: "Duplicate", Role: domain.RoleFOS, Password: "secret123", SupervisorID: memory.SeedSupervisorID,
	})
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestCreateRetailerMapsToFos(t *testing.T) {
	h := newTestService(t)

	user, err := h.svc.CreateUser(adminCtx(), domain.UserCreateRequest{
		Username: " Kumar ", Name: "Kumar Telecom", Role: domain.RoleRetailer, Password: "secret123",
		FosIDs: []string{memory.SeedFosID, memory.SeedFosID},
	})
	require.NoError(t, err)
	assert.Equal(t, "kumar", user.Username)
	assert.NotEmpty(t, user.PasswordHash)
	assert.NotEqual(t, "secret123", user.PasswordHash)

	children, err := h.svc.Children(adminCtx(), memory.SeedFosID)
	require.NoError(t, err)
	names := make([]string, 0, len(children))
	for _, c := range children {
		names = append(names, c.Username)
	}
	assert.Equal(t, []string{"kumar", "sharma"}, names)

	parent, err := h.svc.Parent(adminCtx(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, memory.SeedFosID, parent.ID)
}

func TestHierarchyParents(t *testing.T) {
	h := newTestService(t)

	cases := map[string]string{
		memory.SeedRetailerID:   memory.SeedFosID,
		memory.SeedFosID:        memory.SeedSupervisorID,
		memory.SeedTechnicianID: memory.SeedSupervisorID,
		memory.SeedSupervisorID: memory.SeedAdminID,
	}
	for child, want := range cases {
		parent, err := h.svc.Parent(adminCtx(), child)
		require.NoError(t, err, child)
		assert.Equal(t, want, parent.ID, child)
	}

	_, err := h.svc.Parent(adminCtx(), memory.SeedAdminID)
	requireKind(t, err, apperr.InvalidInput)
}

func TestSupervisorChildrenSortedByUsername(t *testing.T) {
	h := newTestService(t)

	children, err := h.svc.Children(adminCtx(), memory.SeedSupervisorID)
	require.NoError(t, err)
	ids := make([]string, 0, len(children))
	for _, c := range children {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{memory.SeedTechnicianID, memory.SeedFreelancerID, memory.SeedFosID}, ids)
}

func TestEligibleCounterparties(t *testing.T) {
	h := newTestService(t)

	simTargets, err := h.svc.EligibleCounterparties(supCtx(), domain.CounterpartyTransfer, domain.UnitSIM)
	require.NoError(t, err)
	require.Len(t, simTargets, 1)
	assert.Equal(t, memory.SeedFosID, simTargets[0].ID)

	stockTargets, err := h.svc.EligibleCounterparties(supCtx(), domain.CounterpartyTransfer, "")
	require.NoError(t, err)
	assert.Len(t, stockTargets, 3)

	collect, err := h.svc.EligibleCounterparties(supCtx(), domain.CounterpartyCollect, "")
	require.NoError(t, err)
	require.Len(t, collect, 1)
	assert.Equal(t, memory.SeedFosID, collect[0].ID)

	returns, err := h.svc.EligibleCounterparties(retailerCtx(), domain.CounterpartyReturn, "")
	require.NoError(t, err)
	require.Len(t, returns, 1)
	assert.Equal(t, memory.SeedFosID, returns[0].ID)

	adminReturns, err := h.svc.EligibleCounterparties(adminCtx(), domain.CounterpartyReturn, "")
	require.NoError(t, err)
	assert.Empty(t, adminReturns)

	_, err = h.svc.EligibleCounterparties(supCtx(), domain.CounterpartyKind("gift"), "")
	requireKind(t, err, apperr.InvalidInput)
}

func TestRootAdminComesFromConfiguration(t *testing.T) {
	h := newHarness(t, Options{RootAdminUsername: "north"})

	_, err := h.svc.RootAdmin(context.Background())
	requireKind(t, err, apperr.NotFound)

	h = newTestService(t)
	root, err := h.svc.RootAdmin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, memory.SeedAdminID, root.ID)
}

func TestProvisioningCatalog(t *testing.T) {
	h := newTestService(t)
	ctx := adminCtx()

	op, err := h.svc.CreateOperator(ctx, domain.OperatorCreateRequest{Name: "Vi"})
	require.NoError(t, err)

	_, err = h.svc.SetOperatorPrice(ctx, op.ID, domain.OperatorPriceRequest{PurchasePrice: dec(-1), SellingPrice: dec(10)})
	requireKind(t, err, apperr.InvalidAmount)

	price, err := h.svc.SetOperatorPrice(ctx, op.ID, domain.OperatorPriceRequest{PurchasePrice: dec(70), SellingPrice: dec(95)})
	require.NoError(t, err)
	assertDec(t, dec(95), price.SellingPrice)

	_, err = h.svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Odd", Serialized: true, Meterable: true})
	requireKind(t, err, apperr.InvalidInput)

	require.NoError(t, h.svc.MapFosOperator(ctx, domain.FosOperatorMapRequest{FosID: memory.SeedFosID, OperatorID: op.ID}))
	ops, err := h.svc.OperatorsForFos(ctx, memory.SeedFosID)
	require.NoError(t, err)
	assert.Len(t, ops, 3)

	err = h.svc.MapFosOperator(ctx, domain.FosOperatorMapRequest{FosID: memory.SeedTechnicianID, OperatorID: op.ID})
	requireKind(t, err, apperr.InvalidInput)
}

func TestAssignPincodeRequiresServiceSupervisor(t *testing.T) {
	h := newTestService(t)

	sales, err := h.svc.CreateUser(adminCtx(), domain.UserCreateRequest{
		Username: "south", Name: "South Sales", Role: domain.RoleSupervisor, Password: "secret123",
		SupervisorCategory: domain.CategorySales,
	})
	require.NoError(t, err)

	err = h.svc.AssignPincode(adminCtx(), domain.PincodeAssignRequest{Pincode: "560002", SupervisorID: sales.ID})
	requireKind(t, err, apperr.InvalidInput)

	require.NoError(t, h.svc.AssignPincode(adminCtx(), domain.PincodeAssignRequest{Pincode: "560002", SupervisorID: memory.SeedSupervisorID}))
	order, err := h.svc.CreateWorkOrder(adminCtx(), domain.WorkOrderCreateRequest{
		CustomerName: "Meena", MobileNo: "9811111111", Pincode: "560002",
	})
	require.NoError(t, err)
	assert.Equal(t, memory.SeedSupervisorID, order.SupervisorID)
}

func TestAuditLogWrittenAfterCommit(t *testing.T) {
	h := newTestService(t)

	_, err := h.svc.CreateOperator(adminCtx(), domain.OperatorCreateRequest{Name: "BSNL"})
	require.NoError(t, err)
	_, err = h.svc.CreateOperator(adminCtx(), domain.OperatorCreateRequest{Name: ""})
	require.Error(t, err)

	logs := h.repo.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "operator_create", logs[0].Action)
	assert.Equal(t, "admin", logs[0].Actor)
}
