package memory

import (
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"channelhub/backend/internal/domain"
)

// Fixed identifiers of the demo hierarchy built by NewSeeded.
const (
	SeedAdminID       = "usr-admin"
	SeedSupervisorID  = "usr-sup-north"
	SeedFosID         = "usr-fos-ravi"
	SeedRetailerID    = "usr-ret-sharma"
	SeedTechnicianID  = "usr-tech-arun"
	SeedFreelancerID  = "usr-tech-bala"
	SeedOperatorJioID = "op-jio"
	SeedOperatorAirID = "op-airtel"
	SeedCableID       = "prd-drop-cable"
	SeedConnectorID   = "prd-connector"
	SeedRouterID      = "prd-ont-router"
	SeedPincode       = "560001"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store holding a small demo hierarchy for dev mode. Passwords come from
// SEED_PASSWORD; the dev default is used with a warning when it is unset.
func NewSeeded(logger *zap.Logger) *Store {
	password := envOr("SEED_PASSWORD", "changeme123")
	if os.Getenv("SEED_PASSWORD") == "" && logger != nil {
		logger.Warn("memory store uses the default dev password, set SEED_PASSWORD to override")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		panic("memory store: hash seed password: " + err.Error())
	}

	s := New()
	d := s.data
	now := time.Now().UTC()

	users := []domain.User{
		{ID: SeedAdminID, Username: "admin", Name: "Head Office", Role: domain.RoleAdmin},
		{ID: SeedSupervisorID, Username: "north", Name: "North Zone", Role: domain.RoleSupervisor, SupervisorID: SeedAdminID, SupervisorCategory: domain.CategoryBoth, Phone: "9800000001"},
		{ID: SeedFosID, Username: "ravi", Name: "Ravi Kumar", Role: domain.RoleFOS, SupervisorID: SeedSupervisorID, Phone: "9800000002"},
		{ID: SeedRetailerID, Username: "sharma", Name: "Sharma Mobiles", Role: domain.RoleRetailer, Phone: "9800000003"},
		{ID: SeedTechnicianID, Username: "arun", Name: "Arun", Role: domain.RoleTechnician, SupervisorID: SeedSupervisorID, TechnicianType: domain.TechnicianOwn, Phone: "9800000004"},
		{ID: SeedFreelancerID, Username: "bala", Name: "Bala", Role: domain.RoleTechnician, SupervisorID: SeedSupervisorID, TechnicianType: domain.TechnicianFreelance, Phone: "9800000005"},
	}
	for _, u := range users {
		u.Active = true
		u.PasswordHash = string(hash)
		u.CreatedAt = now
		d.users[u.ID] = u
		d.userIDByName[normalizeUsername(u.Username)] = u.ID
	}
	d.retailerFos[SeedRetailerID] = []string{SeedFosID}

	d.operators[SeedOperatorJioID] = domain.Operator{ID: SeedOperatorJioID, Name: "Jio"}
	d.operators[SeedOperatorAirID] = domain.Operator{ID: SeedOperatorAirID, Name: "Airtel"}
	d.fosOperators[SeedFosID] = []string{SeedOperatorJioID, SeedOperatorAirID}
	d.prices[SeedOperatorJioID] = domain.OperatorPrice{OperatorID: SeedOperatorJioID, PurchasePrice: decimal.NewFromInt(80), SellingPrice: decimal.NewFromInt(100), UpdatedAt: now}
	d.prices[SeedOperatorAirID] = domain.OperatorPrice{OperatorID: SeedOperatorAirID, PurchasePrice: decimal.NewFromInt(90), SellingPrice: decimal.NewFromInt(120), UpdatedAt: now}

	for _, p := range []domain.Product{
		{ID: SeedCableID, Name: "Drop Cable (m)", Meterable: true, UnitPrice: decimal.NewFromInt(12)},
		{ID: SeedConnectorID, Name: "Fast Connector", UnitPrice: decimal.NewFromInt(40)},
		{ID: SeedRouterID, Name: "ONT Router", Serialized: true, UnitPrice: decimal.NewFromInt(1800)},
	} {
		p.CreatedAt = now
		d.products[p.ID] = p
	}
	d.stock[SeedAdminID] = map[string]domain.Stock{
		SeedCableID:     {OwnerID: SeedAdminID, ProductID: SeedCableID, Qty: decimal.NewFromInt(1000), UpdatedAt: now},
		SeedConnectorID: {OwnerID: SeedAdminID, ProductID: SeedConnectorID, Qty: decimal.NewFromInt(200), UpdatedAt: now},
	}
	d.pincodes[SeedPincode] = SeedSupervisorID
	return s
}
