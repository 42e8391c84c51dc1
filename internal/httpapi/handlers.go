package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"channelhub/backend/internal/apperr"
	"channelhub/backend/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type saleRequest struct {
	HolderID   string          `json:"holder_id" validate:"required"`
	OperatorID string          `json:"operator_id" validate:"required"`
	Channel    domain.Channel  `json:"channel" validate:"required,oneof=ec sim handset"`
	Amount     decimal.Decimal `json:"amount"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := a.service.Me(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if !a.bind(w, r, &req) {
		return
	}
	user, err := a.service.CreateUser(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, err := a.service.ListUsers(r.Context(), domain.UserFilter{
		Role:         domain.Role(strings.TrimSpace(q.Get("role"))),
		SupervisorID: strings.TrimSpace(q.Get("supervisor_id")),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateOperator(w http.ResponseWriter, r *http.Request) {
	var req domain.OperatorCreateRequest
	if !a.bind(w, r, &req) {
		return
	}
	operator, err := a.service.CreateOperator(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, operator)
}

func (a *API) handleListOperators(w http.ResponseWriter, r *http.Request) {
	operators, err := a.service.ListOperators(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operators": operators})
}

func (a *API) handleSetOperatorPrice(w http.ResponseWriter, r *http.Request) {
	var req domain.OperatorPriceRequest
	if !a.bind(w, r, &req) {
		return
	}
	price, err := a.service.SetOperatorPrice(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, price)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if !a.bind(w, r, &req) {
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleAssignPincode(w http.ResponseWriter, r *http.Request) {
	var req domain.PincodeAssignRequest
	if !a.bind(w, r, &req) {
		return
	}
	if err := a.service.AssignPincode(r.Context(), req); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleMapRetailerFos(w http.ResponseWriter, r *http.Request) {
	var req domain.RetailerFosMapRequest
	if !a.bind(w, r, &req) {
		return
	}
	if err := a.service.MapRetailerToFos(r.Context(), req); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleMapFosOperator(w http.ResponseWriter, r *http.Request) {
	var req domain.FosOperatorMapRequest
	if !a.bind(w, r, &req) {
		return
	}
	if err := a.service.MapFosOperator(r.Context(), req); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleOperatorsForFos(w http.ResponseWriter, r *http.Request) {
	operators, err := a.service.OperatorsForFos(r.Context(), chi.URLParam(r, "fosID"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operators": operators})
}

func (a *API) handleRootAdmin(w http.ResponseWriter, r *http.Request) {
	user, err := a.service.RootAdmin(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleParent(w http.ResponseWriter, r *http.Request) {
	user, err := a.service.Parent(r.Context(), strings.TrimSpace(r.URL.Query().Get("user_id")))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleChildren(w http.ResponseWriter, r *http.Request) {
	users, err := a.service.Children(r.Context(), strings.TrimSpace(r.URL.Query().Get("user_id")))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCounterparties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, err := a.service.EligibleCounterparties(r.Context(),
		domain.CounterpartyKind(strings.TrimSpace(q.Get("kind"))),
		domain.UnitKind(strings.TrimSpace(q.Get("unit_kind"))))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleListStock(w http.ResponseWriter, r *http.Request) {
	stock, err := a.service.ListStock(r.Context(), strings.TrimSpace(r.URL.Query().Get("owner_id")))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": stock})
}

func (a *API) handleStockBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ownerID := strings.TrimSpace(q.Get("owner_id"))
	productID := strings.TrimSpace(q.Get("product_id"))
	qty, err := a.service.GetOrCreateStock(r.Context(), ownerID, productID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner_id":   ownerID,
		"product_id": productID,
		"qty":        qty,
	})
}

func (a *API) handleReceiveStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockReceiveRequest
	if !a.bind(w, r, &req) {
		return
	}
	stock, err := a.service.ReceiveStock(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stock)
}

func (a *API) handleTakeBack(w http.ResponseWriter, r *http.Request) {
	var req domain.StockTakeBackRequest
	if !a.bind(w, r, &req) {
		return
	}
	stock, err := a.service.TakeBackStock(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

func (a *API) handleCreateStockTransfer(w http.ResponseWriter, r *http.Request) {
	var req domain.StockTransferRequest
	if !a.bind(w, r, &req) {
		return
	}
	transfer, err := a.service.CreateStockTransfer(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, transfer)
}

func (a *API) handleListStockTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := a.service.ListStockTransfers(r.Context(), listLimit(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": transfers})
}

func (a *API) handleStockTransferAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var (
		transfer domain.StockTransfer
		err      error
	)
	switch chi.URLParam(r, "action") {
	case "accept":
		transfer, err = a.service.AcceptStockTransfer(r.Context(), id)
	case "reject":
		transfer, err = a.service.RejectStockTransfer(r.Context(), id)
	default:
		a.writeStatus(w, http.StatusNotFound, apperr.NotFound, errors.New("unknown action"))
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

func (a *API) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.UnitBatchCreateRequest
	if !a.bind(w, r, &req) {
		return
	}
	result, err := a.service.CreateBatch(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleTransferBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.UnitTransferRequest
	if !a.bind(w, r, &req) {
		return
	}
	result, err := a.service.TransferBatch(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleReturnBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.UnitReturnRequest
	if !a.bind(w, r, &req) {
		return
	}
	result, err := a.service.ReturnBatch(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleBatchAction(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	var (
		result domain.BatchResult
		err    error
	)
	switch chi.URLParam(r, "action") {
	case "accept":
		result, err = a.service.AcceptBatch(r.Context(), batchID)
	case "reject":
		result, err = a.service.RejectBatch(r.Context(), batchID)
	default:
		a.writeStatus(w, http.StatusNotFound, apperr.NotFound, errors.New("unknown action"))
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handlePendingBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := a.service.ListPendingBatches(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (a *API) handleMarkSold(w http.ResponseWriter, r *http.Request) {
	unit, err := a.service.MarkSold(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

func (a *API) handleListUnits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	units, err := a.service.ListUnits(r.Context(), domain.UnitFilter{
		HolderID:   strings.TrimSpace(q.Get("holder_id")),
		Kind:       domain.UnitKind(strings.TrimSpace(q.Get("kind"))),
		Status:     domain.UnitStatus(strings.TrimSpace(q.Get("status"))),
		OperatorID: strings.TrimSpace(q.Get("operator_id")),
		ProductID:  strings.TrimSpace(q.Get("product_id")),
		Limit:      listLimit(r),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": units})
}

func (a *API) handleTransferHistory(w http.ResponseWriter, r *http.Request) {
	transfers, err := a.service.TransferHistory(r.Context(), listLimit(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": transfers})
}

func (a *API) handleCreateCashTransfer(w http.ResponseWriter, r *http.Request) {
	var req domain.CashTransferRequest
	if !a.bind(w, r, &req) {
		return
	}
	transfer, err := a.service.CreateCashTransfer(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, transfer)
}

func (a *API) handleListCashTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := a.service.ListCashTransfers(r.Context(), listLimit(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": transfers})
}

func (a *API) handleCashTransferAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var (
		transfer domain.CashTransfer
		err      error
	)
	switch chi.URLParam(r, "action") {
	case "accept":
		transfer, err = a.service.AcceptCashTransfer(r.Context(), id)
	case "reject":
		transfer, err = a.service.RejectCashTransfer(r.Context(), id)
	default:
		a.writeStatus(w, http.StatusNotFound, apperr.NotFound, errors.New("unknown action"))
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

func (a *API) handleMarkPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.TechnicianPaymentRequest
	if !a.bind(w, r, &req) {
		return
	}
	payment, err := a.service.MarkTechnicianPayment(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (a *API) handleListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := a.service.ListTechnicianPayments(r.Context(), listLimit(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (a *API) handlePaymentAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var (
		payment domain.TechnicianPayment
		err     error
	)
	switch chi.URLParam(r, "action") {
	case "accept":
		payment, err = a.service.AcceptTechnicianPayment(r.Context(), id)
	case "reject":
		payment, err = a.service.RejectTechnicianPayment(r.Context(), id)
	default:
		a.writeStatus(w, http.StatusNotFound, apperr.NotFound, errors.New("unknown action"))
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (a *API) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if !a.bind(w, r, &req) {
		return
	}
	wallet, err := a.service.RecordSale(r.Context(), req.HolderID, req.OperatorID, req.Channel, req.Amount)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wallet)
}

func (a *API) handleListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := a.service.ListWallets(r.Context(), strings.TrimSpace(r.URL.Query().Get("holder_id")))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallets": wallets})
}

func (a *API) handleCollect(w http.ResponseWriter, r *http.Request) {
	var req domain.CollectRequest
	if !a.bind(w, r, &req) {
		return
	}
	result, err := a.service.Collect(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleListCollections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := a.service.ListCollections(r.Context(), domain.CollectionFilter{
		UserID:  strings.TrimSpace(q.Get("user_id")),
		Channel: domain.Channel(strings.TrimSpace(q.Get("channel"))),
		Limit:   listLimit(r),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": rows})
}

func (a *API) handlePendingSummary(w http.ResponseWriter, r *http.Request) {
	debtors, err := a.service.PendingSummary(r.Context(), domain.Channel(strings.TrimSpace(r.URL.Query().Get("channel"))))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"debtors": debtors})
}

// handleImportEcSales takes the raw CSV upload as the request body.
func (a *API) handleImportEcSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.writeStatus(w, http.StatusRequestEntityTooLarge, apperr.InvalidInput, errors.New("upload too large"))
			return
		}
		a.writeStatus(w, http.StatusBadRequest, apperr.InvalidInput, err)
		return
	}
	result, err := a.service.ImportEcSalesCSV(r.Context(),
		strings.TrimSpace(q.Get("fos_id")),
		strings.TrimSpace(q.Get("operator_id")),
		strings.TrimSpace(q.Get("filename")),
		payload)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleCreateWorkOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.WorkOrderCreateRequest
	if !a.bind(w, r, &req) {
		return
	}
	order, err := a.service.CreateWorkOrder(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (a *API) handleListWorkOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orders, err := a.service.ListWorkOrders(r.Context(), domain.WorkOrderFilter{
		SupervisorID: strings.TrimSpace(q.Get("supervisor_id")),
		TechnicianID: strings.TrimSpace(q.Get("technician_id")),
		Status:       domain.WorkStatus(strings.TrimSpace(q.Get("status"))),
		Limit:        listLimit(r),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"work_orders": orders})
}

func (a *API) handleGetWorkOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetWorkOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleGetWorkReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.GetWorkReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req domain.AssignRequest
	if !a.bind(w, r, &req) {
		return
	}
	result, err := a.service.Assign(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleReassign(w http.ResponseWriter, r *http.Request) {
	var req domain.AssignRequest
	if !a.bind(w, r, &req) {
		return
	}
	result, err := a.service.Reassign(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleSendOtp(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.SendClosingOtp(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleCloseWorkOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.WorkCloseRequest
	if !a.bind(w, r, &req) {
		return
	}
	report, err := a.service.Close(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleCancelWorkOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.CancelRequest
	if !a.bind(w, r, &req) {
		return
	}
	order, err := a.service.Cancel(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleExtendDeadline(w http.ResponseWriter, r *http.Request) {
	var req domain.DeadlineRequest
	if !a.bind(w, r, &req) {
		return
	}
	order, err := a.service.ExtendDeadline(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleSweepExpired(w http.ResponseWriter, r *http.Request) {
	expired, err := a.service.SweepExpired(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expired": expired})
}

func (a *API) handleListOtps(w http.ResponseWriter, r *http.Request) {
	otps, err := a.service.ListOtps(r.Context(), listLimit(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"otps": otps})
}

func listLimit(r *http.Request) int {
	return parsePositiveLimit(r.URL.Query().Get("limit"), defaultListLimit, maxListLimit)
}
