package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"channelhub/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict")
	ErrNegativeBalance   = errors.New("negative balance")
	ErrReadOnly          = errors.New("read-only transaction")
)

// Repository is the transaction boundary. Every multi-row mutation runs inside WithTx;
// a non-nil error from fn rolls back everything fn wrote.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of reads and writes available inside a transaction. Lock* reads take row
// locks that are held until the transaction ends.
type Tx interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	LockUser(ctx context.Context, id string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) error
	UpdateUserBalances(ctx context.Context, user domain.User) error
	ListUsers(ctx context.Context, filter domain.UserFilter) ([]domain.User, error)

	MapRetailerToFos(ctx context.Context, retailerID string, fosID string) error
	ListFosForRetailer(ctx context.Context, retailerID string) ([]domain.User, error)
	ListRetailersForFos(ctx context.Context, fosID string) ([]domain.User, error)
	MapFosOperator(ctx context.Context, fosID string, operatorID string) error
	ListOperatorsForFos(ctx context.Context, fosID string) ([]domain.Operator, error)

	CreateOperator(ctx context.Context, op domain.Operator) error
	GetOperator(ctx context.Context, id string) (*domain.Operator, error)
	ListOperators(ctx context.Context) ([]domain.Operator, error)
	SetOperatorPrice(ctx context.Context, price domain.OperatorPrice) error
	GetOperatorPrice(ctx context.Context, operatorID string) (*domain.OperatorPrice, error)
	CreateProduct(ctx context.Context, product domain.Product) error
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)

	LockStock(ctx context.Context, ownerID string, productID string) (decimal.Decimal, error)
	AddStock(ctx context.Context, ownerID string, productID string, delta decimal.Decimal) (decimal.Decimal, error)
	ListStock(ctx context.Context, ownerID string) ([]domain.Stock, error)

	CreatePurchase(ctx context.Context, purchase domain.Purchase) error
	InsertUnits(ctx context.Context, units []domain.SerializedUnit) error
	ExistingSerials(ctx context.Context, serials []string) ([]string, error)
	GetUnit(ctx context.Context, serial string) (*domain.SerializedUnit, error)
	LockUnits(ctx context.Context, serials []string) (map[string]domain.SerializedUnit, error)
	UpdateUnit(ctx context.Context, unit domain.SerializedUnit) error
	ListUnits(ctx context.Context, filter domain.UnitFilter) ([]domain.SerializedUnit, error)

	InsertUnitTransfers(ctx context.Context, transfers []domain.UnitTransfer) error
	PendingTransferSerials(ctx context.Context, serials []string) ([]string, error)
	LockPendingBatch(ctx context.Context, batchID string) ([]domain.UnitTransfer, error)
	SetUnitTransferStatus(ctx context.Context, ids []string, status domain.TransferStatus, at time.Time) error
	ListUnitTransfers(ctx context.Context, filter domain.UnitTransferFilter) ([]domain.UnitTransfer, error)

	InsertStockTransfer(ctx context.Context, transfer domain.StockTransfer) error
	LockStockTransfer(ctx context.Context, id string) (*domain.StockTransfer, error)
	UpdateStockTransfer(ctx context.Context, transfer domain.StockTransfer) error
	ListStockTransfers(ctx context.Context, userID string, limit int) ([]domain.StockTransfer, error)

	InsertCashTransfer(ctx context.Context, transfer domain.CashTransfer) error
	LockCashTransfer(ctx context.Context, id string) (*domain.CashTransfer, error)
	UpdateCashTransfer(ctx context.Context, transfer domain.CashTransfer) error
	ListCashTransfers(ctx context.Context, userID string, limit int) ([]domain.CashTransfer, error)

	InsertTechnicianPayment(ctx context.Context, payment domain.TechnicianPayment) error
	LockTechnicianPayment(ctx context.Context, id string) (*domain.TechnicianPayment, error)
	UpdateTechnicianPayment(ctx context.Context, payment domain.TechnicianPayment) error
	ListTechnicianPayments(ctx context.Context, userID string, limit int) ([]domain.TechnicianPayment, error)

	// LockWallets returns matching wallets ordered by operator name, locked for update.
	LockWallets(ctx context.Context, filter domain.WalletFilter) ([]domain.Wallet, error)
	ApplyWalletDelta(ctx context.Context, key domain.WalletKey, delta domain.WalletDelta, at time.Time) (*domain.Wallet, error)
	ListWallets(ctx context.Context, filter domain.WalletFilter) ([]domain.Wallet, error)
	InsertCollection(ctx context.Context, collection domain.Collection) error
	ListCollections(ctx context.Context, filter domain.CollectionFilter) ([]domain.Collection, error)

	EcSaleExists(ctx context.Context, orderID string) (bool, error)
	InsertEcSale(ctx context.Context, sale domain.EcSale) error

	SetPincodeAssignment(ctx context.Context, pincode string, supervisorID string) error
	GetPincodeAssignment(ctx context.Context, pincode string) (string, error)

	InsertWorkOrder(ctx context.Context, order domain.WorkOrder) error
	GetWorkOrder(ctx context.Context, id string) (*domain.WorkOrder, error)
	LockWorkOrder(ctx context.Context, id string) (*domain.WorkOrder, error)
	UpdateWorkOrder(ctx context.Context, order domain.WorkOrder) error
	ListWorkOrders(ctx context.Context, filter domain.WorkOrderFilter) ([]domain.WorkOrder, error)
	ExpirePendingWorkOrders(ctx context.Context, now time.Time) (int, error)
	InsertWorkReport(ctx context.Context, report domain.WorkReport) error
	GetWorkReport(ctx context.Context, workOrderID string) (*domain.WorkReport, error)
	UpdateWorkReport(ctx context.Context, report domain.WorkReport) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
}
