package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/store"
)

// Store keeps every table in maps guarded by one RWMutex. WithTx holds the write lock for the
// whole callback and restores a snapshot when the callback fails.
type Store struct {
	mu   sync.RWMutex
	data *data
}

type data struct {
	users          map[string]domain.User
	userIDByName   map[string]string
	retailerFos    map[string][]string
	fosOperators   map[string][]string
	operators      map[string]domain.Operator
	prices         map[string]domain.OperatorPrice
	products       map[string]domain.Product
	stock          map[string]map[string]domain.Stock
	purchases      map[string]domain.Purchase
	bills          map[string]string
	units          map[string]domain.SerializedUnit
	unitTransfers  []domain.UnitTransfer
	stockTransfers map[string]domain.StockTransfer
	cashTransfers  map[string]domain.CashTransfer
	techPayments   map[string]domain.TechnicianPayment
	wallets        map[domain.WalletKey]domain.Wallet
	collections    []domain.Collection
	ecSales        map[string]domain.EcSale
	pincodes       map[string]string
	workOrders     map[string]domain.WorkOrder
	workReports    map[string]domain.WorkReport
	auditLogs      []domain.AuditLog
}

func newData() *data {
	return &data{
		users:          make(map[string]domain.User),
		userIDByName:   make(map[string]string),
		retailerFos:    make(map[string][]string),
		fosOperators:   make(map[string][]string),
		operators:      make(map[string]domain.Operator),
		prices:         make(map[string]domain.OperatorPrice),
		products:       make(map[string]domain.Product),
		stock:          make(map[string]map[string]domain.Stock),
		purchases:      make(map[string]domain.Purchase),
		bills:          make(map[string]string),
		units:          make(map[string]domain.SerializedUnit),
		unitTransfers:  make([]domain.UnitTransfer, 0, 64),
		stockTransfers: make(map[string]domain.StockTransfer),
		cashTransfers:  make(map[string]domain.CashTransfer),
		techPayments:   make(map[string]domain.TechnicianPayment),
		wallets:        make(map[domain.WalletKey]domain.Wallet),
		collections:    make([]domain.Collection, 0, 64),
		ecSales:        make(map[string]domain.EcSale),
		pincodes:       make(map[string]string),
		workOrders:     make(map[string]domain.WorkOrder),
		workReports:    make(map[string]domain.WorkReport),
		auditLogs:      make([]domain.AuditLog, 0, 128),
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneLinks(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = slices.Clone(v)
	}
	return out
}

// clone copies every table. Stored values are replaced wholesale on update, never mutated in place,
// so a shallow copy per row is enough.
func (d *data) clone() *data {
	stock := make(map[string]map[string]domain.Stock, len(d.stock))
	for owner, rows := range d.stock {
		stock[owner] = cloneMap(rows)
	}
	return &data{
		users:          cloneMap(d.users),
		userIDByName:   cloneMap(d.userIDByName),
		retailerFos:    cloneLinks(d.retailerFos),
		fosOperators:   cloneLinks(d.fosOperators),
		operators:      cloneMap(d.operators),
		prices:         cloneMap(d.prices),
		products:       cloneMap(d.products),
		stock:          stock,
		purchases:      cloneMap(d.purchases),
		bills:          cloneMap(d.bills),
		units:          cloneMap(d.units),
		unitTransfers:  slices.Clone(d.unitTransfers),
		stockTransfers: cloneMap(d.stockTransfers),
		cashTransfers:  cloneMap(d.cashTransfers),
		techPayments:   cloneMap(d.techPayments),
		wallets:        cloneMap(d.wallets),
		collections:    slices.Clone(d.collections),
		ecSales:        cloneMap(d.ecSales),
		pincodes:       cloneMap(d.pincodes),
		workOrders:     cloneMap(d.workOrders),
		workReports:    cloneMap(d.workReports),
		auditLogs:      slices.Clone(d.auditLogs),
	}
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newData()}
}

// WithTx runs fn under the store's write lock. Rollback restores a copy of the whole
// dataset taken before fn runs, so every write transaction costs O(size of the store).
// The memory store backs tests and local development; use the postgres store for real data.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&tx{d: s.data}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{d: s.data, readOnly: true})
}

type tx struct {
	d        *data
	readOnly bool
}

func (t *tx) writable() error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	return nil
}

func limitOf[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// users

func (t *tx) GetUser(_ context.Context, id string) (*domain.User, error) {
	user, ok := t.d.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (t *tx) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	id, ok := t.d.userIDByName[normalizeUsername(username)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.GetUser(ctx, id)
}

func (t *tx) LockUser(ctx context.Context, id string) (*domain.User, error) {
	return t.GetUser(ctx, id)
}

func (t *tx) CreateUser(_ context.Context, user domain.User) error {
	if err := t.writable(); err != nil {
		return err
	}
	if user.ID == "" || user.Username == "" || !user.Role.Valid() {
		return store.ErrInvalidInput
	}
	key := normalizeUsername(user.Username)
	if _, exists := t.d.userIDByName[key]; exists {
		return store.ErrConflict
	}
	if _, exists := t.d.users[user.ID]; exists {
		return store.ErrConflict
	}
	t.d.users[user.ID] = user
	t.d.userIDByName[key] = user.ID
	return nil
}

func (t *tx) UpdateUserBalances(_ context.Context, user domain.User) error {
	if err := t.writable(); err != nil {
		return err
	}
	current, ok := t.d.users[user.ID]
	if !ok {
		return store.ErrNotFound
	}
	if user.CollectionAmount.IsNegative() || user.PaymentWallet.IsNegative() || user.PaidToCompany.IsNegative() {
		return store.ErrNegativeBalance
	}
	current.CollectionAmount = user.CollectionAmount
	current.PaymentWallet = user.PaymentWallet
	current.PaidToCompany = user.PaidToCompany
	t.d.users[user.ID] = current
	return nil
}

func (t *tx) ListUsers(_ context.Context, filter domain.UserFilter) ([]domain.User, error) {
	users := make([]domain.User, 0)
	for _, u := range t.d.users {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.SupervisorID != "" && u.SupervisorID != filter.SupervisorID {
			continue
		}
		users = append(users, u)
	}
	sortUsers(users)
	return users, nil
}

func sortUsers(users []domain.User) {
	slices.SortFunc(users, func(a, b domain.User) int {
		return strings.Compare(a.Username, b.Username)
	})
}

// mappings

func (t *tx) MapRetailerToFos(_ context.Context, retailerID string, fosID string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if !slices.Contains(t.d.retailerFos[retailerID], fosID) {
		t.d.retailerFos[retailerID] = append(t.d.retailerFos[retailerID], fosID)
	}
	return nil
}

func (t *tx) ListFosForRetailer(_ context.Context, retailerID string) ([]domain.User, error) {
	users := make([]domain.User, 0)
	for _, id := range t.d.retailerFos[retailerID] {
		if u, ok := t.d.users[id]; ok {
			users = append(users, u)
		}
	}
	sortUsers(users)
	return users, nil
}

func (t *tx) ListRetailersForFos(_ context.Context, fosID string) ([]domain.User, error) {
	users := make([]domain.User, 0)
	for retailerID, fosIDs := range t.d.retailerFos {
		if !slices.Contains(fosIDs, fosID) {
			continue
		}
		if u, ok := t.d.users[retailerID]; ok {
			users = append(users, u)
		}
	}
	sortUsers(users)
	return users, nil
}

func (t *tx) MapFosOperator(_ context.Context, fosID string, operatorID string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if !slices.Contains(t.d.fosOperators[fosID], operatorID) {
		t.d.fosOperators[fosID] = append(t.d.fosOperators[fosID], operatorID)
	}
	return nil
}

func (t *tx) ListOperatorsForFos(_ context.Context, fosID string) ([]domain.Operator, error) {
	ops := make([]domain.Operator, 0)
	for _, id := range t.d.fosOperators[fosID] {
		if op, ok := t.d.operators[id]; ok {
			ops = append(ops, op)
		}
	}
	sortOperators(ops)
	return ops, nil
}

// catalog

func (t *tx) CreateOperator(_ context.Context, op domain.Operator) error {
	if err := t.writable(); err != nil {
		return err
	}
	if op.ID == "" || strings.TrimSpace(op.Name) == "" {
		return store.ErrInvalidInput
	}
	for _, existing := range t.d.operators {
		if strings.EqualFold(existing.Name, op.Name) || existing.ID == op.ID {
			return store.ErrConflict
		}
	}
	t.d.operators[op.ID] = op
	return nil
}

func (t *tx) GetOperator(_ context.Context, id string) (*domain.Operator, error) {
	op, ok := t.d.operators[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &op, nil
}

func (t *tx) ListOperators(_ context.Context) ([]domain.Operator, error) {
	ops := make([]domain.Operator, 0, len(t.d.operators))
	for _, op := range t.d.operators {
		ops = append(ops, op)
	}
	sortOperators(ops)
	return ops, nil
}

func sortOperators(ops []domain.Operator) {
	slices.SortFunc(ops, func(a, b domain.Operator) int {
		return strings.Compare(a.Name, b.Name)
	})
}

func (t *tx) SetOperatorPrice(_ context.Context, price domain.OperatorPrice) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.d.operators[price.OperatorID]; !ok {
		return store.ErrNotFound
	}
	t.d.prices[price.OperatorID] = price
	return nil
}

func (t *tx) GetOperatorPrice(_ context.Context, operatorID string) (*domain.OperatorPrice, error) {
	price, ok := t.d.prices[operatorID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &price, nil
}

func (t *tx) CreateProduct(_ context.Context, product domain.Product) error {
	if err := t.writable(); err != nil {
		return err
	}
	if product.ID == "" || strings.TrimSpace(product.Name) == "" {
		return store.ErrInvalidInput
	}
	for _, existing := range t.d.products {
		if strings.EqualFold(existing.Name, product.Name) || existing.ID == product.ID {
			return store.ErrConflict
		}
	}
	t.d.products[product.ID] = product
	return nil
}

func (t *tx) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	product, ok := t.d.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (t *tx) ListProducts(_ context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, len(t.d.products))
	for _, p := range t.d.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

// stock

func (t *tx) LockStock(_ context.Context, ownerID string, productID string) (decimal.Decimal, error) {
	if row, ok := t.d.stock[ownerID][productID]; ok {
		return row.Qty, nil
	}
	if t.readOnly {
		return decimal.Zero, nil
	}
	if _, ok := t.d.products[productID]; !ok {
		return decimal.Zero, store.ErrNotFound
	}
	t.putStock(domain.Stock{OwnerID: ownerID, ProductID: productID, Qty: decimal.Zero, UpdatedAt: time.Now().UTC()})
	return decimal.Zero, nil
}

func (t *tx) putStock(row domain.Stock) {
	rows, ok := t.d.stock[row.OwnerID]
	if !ok {
		rows = make(map[string]domain.Stock)
		t.d.stock[row.OwnerID] = rows
	}
	rows[row.ProductID] = row
}

func (t *tx) AddStock(ctx context.Context, ownerID string, productID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := t.writable(); err != nil {
		return decimal.Zero, err
	}
	current, err := t.LockStock(ctx, ownerID, productID)
	if err != nil {
		return decimal.Zero, err
	}
	next := current.Add(delta)
	if next.IsNegative() {
		return current, store.ErrInsufficientStock
	}
	t.putStock(domain.Stock{OwnerID: ownerID, ProductID: productID, Qty: next, UpdatedAt: time.Now().UTC()})
	return next, nil
}

func (t *tx) ListStock(_ context.Context, ownerID string) ([]domain.Stock, error) {
	rows := make([]domain.Stock, 0, len(t.d.stock[ownerID]))
	for _, row := range t.d.stock[ownerID] {
		row.ProductName = t.d.products[row.ProductID].Name
		rows = append(rows, row)
	}
	slices.SortFunc(rows, func(a, b domain.Stock) int {
		return strings.Compare(a.ProductName, b.ProductName)
	})
	return rows, nil
}

// serialized units

// billKey scopes bill numbers to the operator that issued them.
func billKey(operatorID string, billNumber string) string {
	return operatorID + "\x00" + billNumber
}

func (t *tx) CreatePurchase(_ context.Context, purchase domain.Purchase) error {
	if err := t.writable(); err != nil {
		return err
	}
	if purchase.BillNumber != "" {
		key := billKey(purchase.OperatorID, purchase.BillNumber)
		if _, exists := t.d.bills[key]; exists {
			return store.ErrConflict
		}
		t.d.bills[key] = purchase.ID
	}
	t.d.purchases[purchase.ID] = purchase
	return nil
}

func (t *tx) InsertUnits(_ context.Context, units []domain.SerializedUnit) error {
	if err := t.writable(); err != nil {
		return err
	}
	for _, u := range units {
		if _, exists := t.d.units[u.Serial]; exists {
			return store.ErrConflict
		}
	}
	for _, u := range units {
		t.d.units[u.Serial] = u
	}
	return nil
}

func (t *tx) ExistingSerials(_ context.Context, serials []string) ([]string, error) {
	existing := make([]string, 0)
	for _, serial := range serials {
		if _, ok := t.d.units[serial]; ok {
			existing = append(existing, serial)
		}
	}
	slices.Sort(existing)
	return existing, nil
}

func (t *tx) GetUnit(_ context.Context, serial string) (*domain.SerializedUnit, error) {
	unit, ok := t.d.units[serial]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &unit, nil
}

func (t *tx) LockUnits(_ context.Context, serials []string) (map[string]domain.SerializedUnit, error) {
	out := make(map[string]domain.SerializedUnit, len(serials))
	for _, serial := range serials {
		if unit, ok := t.d.units[serial]; ok {
			out[serial] = unit
		}
	}
	return out, nil
}

func (t *tx) UpdateUnit(_ context.Context, unit domain.SerializedUnit) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.d.units[unit.Serial]; !ok {
		return store.ErrNotFound
	}
	t.d.units[unit.Serial] = unit
	return nil
}

func (t *tx) ListUnits(_ context.Context, filter domain.UnitFilter) ([]domain.SerializedUnit, error) {
	units := make([]domain.SerializedUnit, 0)
	for _, u := range t.d.units {
		if filter.HolderID != "" && u.HolderID != filter.HolderID {
			continue
		}
		if filter.Kind != "" && u.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && u.Status != filter.Status {
			continue
		}
		if filter.OperatorID != "" && u.OperatorID != filter.OperatorID {
			continue
		}
		if filter.ProductID != "" && u.ProductID != filter.ProductID {
			continue
		}
		units = append(units, u)
	}
	slices.SortFunc(units, func(a, b domain.SerializedUnit) int {
		return strings.Compare(a.Serial, b.Serial)
	})
	return limitOf(units, filter.Limit), nil
}

// unit transfers

func (t *tx) InsertUnitTransfers(_ context.Context, transfers []domain.UnitTransfer) error {
	if err := t.writable(); err != nil {
		return err
	}
	pending := make(map[string]struct{})
	for _, row := range t.d.unitTransfers {
		if row.Status == domain.TransferPending {
			pending[row.Serial] = struct{}{}
		}
	}
	for _, row := range transfers {
		if row.Status != domain.TransferPending {
			continue
		}
		if _, exists := pending[row.Serial]; exists {
			return store.ErrConflict
		}
		pending[row.Serial] = struct{}{}
	}
	t.d.unitTransfers = append(t.d.unitTransfers, transfers...)
	return nil
}

func (t *tx) PendingTransferSerials(_ context.Context, serials []string) ([]string, error) {
	wanted := make(map[string]struct{}, len(serials))
	for _, s := range serials {
		wanted[s] = struct{}{}
	}
	pending := make([]string, 0)
	for _, row := range t.d.unitTransfers {
		if row.Status != domain.TransferPending {
			continue
		}
		if _, ok := wanted[row.Serial]; ok {
			pending = append(pending, row.Serial)
			delete(wanted, row.Serial)
		}
	}
	slices.Sort(pending)
	return pending, nil
}

func (t *tx) LockPendingBatch(_ context.Context, batchID string) ([]domain.UnitTransfer, error) {
	rows := make([]domain.UnitTransfer, 0)
	for _, row := range t.d.unitTransfers {
		if row.BatchID == batchID && row.Status == domain.TransferPending {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b domain.UnitTransfer) int {
		return strings.Compare(a.Serial, b.Serial)
	})
	return rows, nil
}

func (t *tx) SetUnitTransferStatus(_ context.Context, ids []string, status domain.TransferStatus, at time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	for i := range t.d.unitTransfers {
		if _, ok := wanted[t.d.unitTransfers[i].ID]; !ok {
			continue
		}
		processed := at
		row := t.d.unitTransfers[i]
		row.Status = status
		row.ProcessedAt = &processed
		t.d.unitTransfers[i] = row
	}
	return nil
}

func (t *tx) ListUnitTransfers(_ context.Context, filter domain.UnitTransferFilter) ([]domain.UnitTransfer, error) {
	rows := make([]domain.UnitTransfer, 0)
	for _, row := range t.d.unitTransfers {
		if filter.UserID != "" && row.FromID != filter.UserID && row.ToID != filter.UserID {
			continue
		}
		if filter.ToID != "" && row.ToID != filter.ToID {
			continue
		}
		if filter.BatchID != "" && row.BatchID != filter.BatchID {
			continue
		}
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		rows = append(rows, row)
	}
	slices.SortStableFunc(rows, func(a, b domain.UnitTransfer) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Serial, b.Serial)
	})
	return limitOf(rows, filter.Limit), nil
}

// fungible stock transfers

func (t *tx) InsertStockTransfer(_ context.Context, transfer domain.StockTransfer) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.d.stockTransfers[transfer.ID] = transfer
	return nil
}

func (t *tx) LockStockTransfer(_ context.Context, id string) (*domain.StockTransfer, error) {
	transfer, ok := t.d.stockTransfers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &transfer, nil
}

func (t *tx) UpdateStockTransfer(_ context.Context, transfer domain.StockTransfer) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.d.stockTransfers[transfer.ID]; !ok {
		return store.ErrNotFound
	}
	t.d.stockTransfers[transfer.ID] = transfer
	return nil
}

func (t *tx) ListStockTransfers(_ context.Context, userID string, limit int) ([]domain.StockTransfer, error) {
	rows := make([]domain.StockTransfer, 0)
	for _, row := range t.d.stockTransfers {
		if userID != "" && row.FromID != userID && row.ToID != userID {
			continue
		}
		rows = append(rows, row)
	}
	slices.SortFunc(rows, func(a, b domain.StockTransfer) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return limitOf(rows, limit), nil
}

// cash transfers

func (t *tx) InsertCashTransfer(_ context.Context, transfer domain.CashTransfer) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.d.cashTransfers[transfer.ID] = transfer
	return nil
}

func (t *tx) LockCashTransfer(_ context.Context, id string) (*domain.CashTransfer, error) {
	transfer, ok := t.d.cashTransfers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &transfer, nil
}

func (t *tx) UpdateCashTransfer(_ context.Context, transfer domain.CashTransfer) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.d.cashTransfers[transfer.ID]; !ok {
		return store.ErrNotFound
	}
	t.d.cashTransfers[transfer.ID] = transfer
	return nil
}

func (t *tx) ListCashTransfers(_ context.Context, userID string, limit int) ([]domain.CashTransfer, error) {
	rows := make([]domain.CashTransfer, 0)
	for _, row := range t.d.cashTransfers {
		if userID != "" && row.FromID != userID && row.ToID != userID {
			continue
		}
		rows = append(rows, row)
	}
	slices.SortFunc(rows, func(a, b domain.CashTransfer) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return limitOf(rows, limit), nil
}

// technician payments

func (t *tx) InsertTechnicianPayment(_ context.Context, payment domain.TechnicianPayment) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.d.techPayments[payment.ID] = payment
	return nil
}

func (t *tx) LockTechnicianPayment(_ context.Context, id string) (*domain.TechnicianPayment, error) {
	payment, ok := t.d.techPayments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &payment, nil
}

func (t *tx) UpdateTechnicianPayment(_ context.Context, payment domain.TechnicianPayment) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.d.techPayments[payment.ID]; !ok {
		return store.ErrNotFound
	}
	t.d.techPayments[payment.ID] = payment
	return nil
}

func (t *tx) ListTechnicianPayments(_ context.Context, userID string, limit int) ([]domain.TechnicianPayment, error) {
	rows := make([]domain.TechnicianPayment, 0)
	for _, row := range t.d.techPayments {
		if userID != "" && row.SupervisorID != userID && row.TechnicianID != userID {
			continue
		}
		rows = append(rows, row)
	}
	slices.SortFunc(rows, func(a, b domain.TechnicianPayment) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return limitOf(rows, limit), nil
}

// wallets

func (t *tx) LockWallets(ctx context.Context, filter domain.WalletFilter) ([]domain.Wallet, error) {
	return t.ListWallets(ctx, filter)
}

func (t *tx) ApplyWalletDelta(_ context.Context, key domain.WalletKey, delta domain.WalletDelta, at time.Time) (*domain.Wallet, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	if _, ok := t.d.operators[key.OperatorID]; !ok {
		return nil, store.ErrNotFound
	}
	w, ok := t.d.wallets[key]
	if !ok {
		w = domain.Wallet{WalletKey: key}
	}
	w.PendingAmount = w.PendingAmount.Add(delta.Pending)
	if w.PendingAmount.IsNegative() {
		return nil, store.ErrNegativeBalance
	}
	w.TotalIssued = w.TotalIssued.Add(delta.Issued)
	w.TotalCollected = w.TotalCollected.Add(delta.Collected)
	w.TotalPaid = w.TotalPaid.Add(delta.Paid)
	w.UpdatedAt = at
	w.OperatorName = ""
	t.d.wallets[key] = w

	w.OperatorName = t.d.operators[key.OperatorID].Name
	return &w, nil
}

func (t *tx) ListWallets(_ context.Context, filter domain.WalletFilter) ([]domain.Wallet, error) {
	rows := make([]domain.Wallet, 0)
	for key, w := range t.d.wallets {
		if filter.HolderID != "" && key.HolderID != filter.HolderID {
			continue
		}
		if filter.OperatorID != "" && key.OperatorID != filter.OperatorID {
			continue
		}
		if filter.Channel != "" && key.Channel != filter.Channel {
			continue
		}
		if filter.PositiveOnly && !w.PendingAmount.IsPositive() {
			continue
		}
		w.OperatorName = t.d.operators[key.OperatorID].Name
		rows = append(rows, w)
	}
	slices.SortFunc(rows, func(a, b domain.Wallet) int {
		if c := strings.Compare(a.OperatorName, b.OperatorName); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.Channel), string(b.Channel)); c != 0 {
			return c
		}
		return strings.Compare(a.HolderID, b.HolderID)
	})
	return rows, nil
}

func (t *tx) InsertCollection(_ context.Context, collection domain.Collection) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.d.collections = append(t.d.collections, collection)
	return nil
}

func (t *tx) ListCollections(_ context.Context, filter domain.CollectionFilter) ([]domain.Collection, error) {
	rows := make([]domain.Collection, 0)
	for _, c := range t.d.collections {
		if filter.UserID != "" && c.FromID != filter.UserID && c.ToID != filter.UserID && c.CollectedBy != filter.UserID {
			continue
		}
		if filter.Channel != "" && c.Channel != filter.Channel {
			continue
		}
		rows = append(rows, c)
	}
	slices.Reverse(rows)
	return limitOf(rows, filter.Limit), nil
}

// ec sales

func (t *tx) EcSaleExists(_ context.Context, orderID string) (bool, error) {
	_, ok := t.d.ecSales[orderID]
	return ok, nil
}

func (t *tx) InsertEcSale(_ context.Context, sale domain.EcSale) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, exists := t.d.ecSales[sale.OrderID]; exists {
		return store.ErrConflict
	}
	t.d.ecSales[sale.OrderID] = sale
	return nil
}

// pincodes

func (t *tx) SetPincodeAssignment(_ context.Context, pincode string, supervisorID string) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.d.pincodes[pincode] = supervisorID
	return nil
}

func (t *tx) GetPincodeAssignment(_ context.Context, pincode string) (string, error) {
	supervisorID, ok := t.d.pincodes[pincode]
	if !ok {
		return "", store.ErrNotFound
	}
	return supervisorID, nil
}

// work orders

func (t *tx) InsertWorkOrder(_ context.Context, order domain.WorkOrder) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, exists := t.d.workOrders[order.ID]; exists {
		return store.ErrConflict
	}
	t.d.workOrders[order.ID] = order
	return nil
}

func (t *tx) GetWorkOrder(_ context.Context, id string) (*domain.WorkOrder, error) {
	order, ok := t.d.workOrders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &order, nil
}

func (t *tx) LockWorkOrder(ctx context.Context, id string) (*domain.WorkOrder, error) {
	return t.GetWorkOrder(ctx, id)
}

func (t *tx) UpdateWorkOrder(_ context.Context, order domain.WorkOrder) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.d.workOrders[order.ID]; !ok {
		return store.ErrNotFound
	}
	t.d.workOrders[order.ID] = order
	return nil
}

func (t *tx) ListWorkOrders(_ context.Context, filter domain.WorkOrderFilter) ([]domain.WorkOrder, error) {
	rows := make([]domain.WorkOrder, 0)
	for _, o := range t.d.workOrders {
		if filter.SupervisorID != "" && o.SupervisorID != filter.SupervisorID {
			continue
		}
		if filter.TechnicianID != "" && o.AssignedTechnicianID != filter.TechnicianID {
			continue
		}
		if filter.CreatedBy != "" && o.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.WithOTP && o.ClosingOTP == "" {
			continue
		}
		rows = append(rows, o)
	}
	slices.SortFunc(rows, func(a, b domain.WorkOrder) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return limitOf(rows, filter.Limit), nil
}

func (t *tx) ExpirePendingWorkOrders(_ context.Context, now time.Time) (int, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	expired := 0
	for id, o := range t.d.workOrders {
		if o.Status == domain.WorkPending && o.DeadlineAt.Before(now) {
			o.Status = domain.WorkExpired
			t.d.workOrders[id] = o
			expired++
		}
	}
	return expired, nil
}

func (t *tx) InsertWorkReport(_ context.Context, report domain.WorkReport) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, exists := t.d.workReports[report.WorkOrderID]; exists {
		return store.ErrConflict
	}
	report.Materials = slices.Clone(report.Materials)
	t.d.workReports[report.WorkOrderID] = report
	return nil
}

func (t *tx) GetWorkReport(_ context.Context, workOrderID string) (*domain.WorkReport, error) {
	report, ok := t.d.workReports[workOrderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	report.Materials = slices.Clone(report.Materials)
	return &report, nil
}

func (t *tx) UpdateWorkReport(_ context.Context, report domain.WorkReport) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.d.workReports[report.WorkOrderID]; !ok {
		return store.ErrNotFound
	}
	report.Materials = slices.Clone(report.Materials)
	t.d.workReports[report.WorkOrderID] = report
	return nil
}

func (t *tx) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.d.auditLogs = append(t.d.auditLogs, entry)
	return nil
}

// AuditLogs returns a copy of the audit trail, newest last.
func (s *Store) AuditLogs() []domain.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.data.auditLogs)
}
