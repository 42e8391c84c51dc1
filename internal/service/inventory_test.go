package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channelhub/backend/internal/apperr"
	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/store/memory"
)

func (h *harness) moveStock(t *testing.T, productID string, qty decimal.Decimal, toID string) {
	t.Helper()
	from := adminCtx()
	to := supCtx()
	switch toID {
	case memory.SeedFosID:
		from, to = supCtx(), fosCtx()
	case memory.SeedTechnicianID:
		from, to = supCtx(), techCtx()
	case memory.SeedFreelancerID:
		from, to = supCtx(), freelancerCtx()
	case memory.SeedRetailerID:
		from, to = fosCtx(), retailerCtx()
	}
	transfer, err := h.svc.CreateStockTransfer(from, domain.StockTransferRequest{ProductID: productID, Qty: qty, ToID: toID})
	require.NoError(t, err)
	_, err = h.svc.AcceptStockTransfer(to, transfer.ID)
	require.NoError(t, err)
}

func TestStockTransferConservesTotals(t *testing.T) {
	h := newTestService(t)
	before := h.stockOf(t, memory.SeedAdminID, memory.SeedConnectorID).Add(h.stockOf(t, memory.SeedSupervisorID, memory.SeedConnectorID))

	transfer, err := h.svc.CreateStockTransfer(adminCtx(), domain.StockTransferRequest{
		ProductID: memory.SeedConnectorID, Qty: dec(50), ToID: memory.SeedSupervisorID, Remark: "north restock",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferPending, transfer.Status)
	assertDec(t, dec(200), h.stockOf(t, memory.SeedAdminID, memory.SeedConnectorID), "stock moves only on accept")

	accepted, err := h.svc.AcceptStockTransfer(supCtx(), transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferAccepted, accepted.Status)
	require.NotNil(t, accepted.ProcessedAt)

	admin := h.stockOf(t, memory.SeedAdminID, memory.SeedConnectorID)
	sup := h.stockOf(t, memory.SeedSupervisorID, memory.SeedConnectorID)
	assertDec(t, dec(150), admin)
	assertDec(t, dec(50), sup)
	assertDec(t, before, admin.Add(sup))
}

func TestStockTransferValidation(t *testing.T) {
	h := newTestService(t)

	_, err := h.svc.CreateStockTransfer(adminCtx(), domain.StockTransferRequest{
		ProductID: memory.SeedConnectorID, Qty: decimal.RequireFromString("1.5"), ToID: memory.SeedSupervisorID,
	})
	requireKind(t, err, apperr.InvalidAmount)

	_, err = h.svc.CreateStockTransfer(adminCtx(), domain.StockTransferRequest{
		ProductID: memory.SeedCableID, Qty: decimal.RequireFromString("12.5"), ToID: memory.SeedSupervisorID,
	})
	require.NoError(t, err, "meterable products accept fractions")

	_, err = h.svc.CreateStockTransfer(adminCtx(), domain.StockTransferRequest{
		ProductID: memory.SeedConnectorID, Qty: dec(500), ToID: memory.SeedSupervisorID,
	})
	requireKind(t, err, apperr.InsufficientStock)

	_, err = h.svc.CreateStockTransfer(adminCtx(), domain.StockTransferRequest{
		ProductID: memory.SeedConnectorID, Qty: dec(5), ToID: memory.SeedFosID,
	})
	requireKind(t, err, apperr.Unauthorized)

	_, err = h.svc.CreateStockTransfer(adminCtx(), domain.StockTransferRequest{
		ProductID: memory.SeedRouterID, Qty: dec(1), ToID: memory.SeedSupervisorID,
	})
	requireKind(t, err, apperr.InvalidInput)
}

func TestAcceptStockTransferRechecksBalance(t *testing.T) {
	h := newTestService(t)

	first, err := h.svc.CreateStockTransfer(adminCtx(), domain.StockTransferRequest{
		ProductID: memory.SeedConnectorID, Qty: dec(150), ToID: memory.SeedSupervisorID,
	})
	require.NoError(t, err)
	second, err := h.svc.CreateStockTransfer(adminCtx(), domain.StockTransferRequest{
		ProductID: memory.SeedConnectorID, Qty: dec(100), ToID: memory.SeedSupervisorID,
	})
	require.NoError(t, err)

	_, err = h.svc.AcceptStockTransfer(supCtx(), first.ID)
	require.NoError(t, err)

	_, err = h.svc.AcceptStockTransfer(supCtx(), second.ID)
	requireKind(t, err, apperr.InsufficientStock)
	assertDec(t, dec(50), h.stockOf(t, memory.SeedAdminID, memory.SeedConnectorID))
	assertDec(t, dec(150), h.stockOf(t, memory.SeedSupervisorID, memory.SeedConnectorID))

	rows, err := h.svc.ListStockTransfers(supCtx(), 0)
	require.NoError(t, err)
	statuses := map[string]domain.TransferStatus{}
	for _, row := range rows {
		statuses[row.ID] = row.Status
	}
	assert.Equal(t, domain.TransferPending, statuses[second.ID])
	assert.Equal(t, domain.TransferAccepted, statuses[first.ID])
}

func TestStockTransferTerminalTransitionsAreGuarded(t *testing.T) {
	h := newTestService(t)

	transfer, err := h.svc.CreateStockTransfer(adminCtx(), domain.StockTransferRequest{
		ProductID: memory.SeedConnectorID, Qty: dec(20), ToID: memory.SeedSupervisorID,
	})
	require.NoError(t, err)

	_, err = h.svc.AcceptStockTransfer(fosCtx(), transfer.ID)
	requireKind(t, err, apperr.Unauthorized)

	_, err = h.svc.AcceptStockTransfer(supCtx(), transfer.ID)
	require.NoError(t, err)
	_, err = h.svc.AcceptStockTransfer(supCtx(), transfer.ID)
	requireKind(t, err, apperr.AlreadyProcessed)
	_, err = h.svc.RejectStockTransfer(supCtx(), transfer.ID)
	requireKind(t, err, apperr.AlreadyProcessed)

	assertDec(t, dec(20), h.stockOf(t, memory.SeedSupervisorID, memory.SeedConnectorID))
	assertDec(t, dec(180), h.stockOf(t, memory.SeedAdminID, memory.SeedConnectorID))

	_, err = h.svc.AcceptStockTransfer(supCtx(), "stx-missing")
	requireKind(t, err, apperr.NotFound)
}

func TestRejectStockTransferLeavesBalances(t *testing.T) {
	h := newTestService(t)

	transfer, err := h.svc.CreateStockTransfer(adminCtx(), domain.StockTransferRequest{
		ProductID: memory.SeedCableID, Qty: dec(100), ToID: memory.SeedSupervisorID,
	})
	require.NoError(t, err)
	rejected, err := h.svc.RejectStockTransfer(supCtx(), transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferRejected, rejected.Status)
	assertDec(t, dec(1000), h.stockOf(t, memory.SeedAdminID, memory.SeedCableID))
	assertDec(t, decimal.Zero, h.stockOf(t, memory.SeedSupervisorID, memory.SeedCableID))
}

func TestStockReturnDefaultsToParent(t *testing.T) {
	h := newTestService(t)
	h.moveStock(t, memory.SeedCableID, dec(100), memory.SeedSupervisorID)
	h.moveStock(t, memory.SeedCableID, dec(40), memory.SeedTechnicianID)

	ret, err := h.svc.CreateStockTransfer(techCtx(), domain.StockTransferRequest{
		ProductID: memory.SeedCableID, Qty: dec(15), Type: domain.TransferReturn,
	})
	require.NoError(t, err)
	assert.Equal(t, memory.SeedSupervisorID, ret.ToID)

	_, err = h.svc.CreateStockTransfer(techCtx(), domain.StockTransferRequest{
		ProductID: memory.SeedCableID, Qty: dec(5), Type: domain.TransferReturn, ToID: memory.SeedAdminID,
	})
	requireKind(t, err, apperr.Unauthorized)

	_, err = h.svc.AcceptStockTransfer(supCtx(), ret.ID)
	require.NoError(t, err)
	assertDec(t, dec(25), h.stockOf(t, memory.SeedTechnicianID, memory.SeedCableID))
	assertDec(t, dec(75), h.stockOf(t, memory.SeedSupervisorID, memory.SeedCableID))
}

func TestReceiveStockCreditsRootAdmin(t *testing.T) {
	h := newTestService(t)

	row, err := h.svc.ReceiveStock(adminCtx(), domain.StockReceiveRequest{ProductID: memory.SeedConnectorID, Qty: dec(25)})
	require.NoError(t, err)
	assert.Equal(t, memory.SeedAdminID, row.OwnerID)
	assertDec(t, dec(225), row.Qty)

	_, err = h.svc.ReceiveStock(adminCtx(), domain.StockReceiveRequest{ProductID: memory.SeedRouterID, Qty: dec(1)})
	requireKind(t, err, apperr.InvalidInput)

	_, err = h.svc.ReceiveStock(supCtx(), domain.StockReceiveRequest{ProductID: memory.SeedConnectorID, Qty: dec(1)})
	requireKind(t, err, apperr.Unauthorized)
}

func TestListStockVisibility(t *testing.T) {
	h := newTestService(t)
	h.moveStock(t, memory.SeedConnectorID, dec(10), memory.SeedSupervisorID)

	rows, err := h.svc.ListStock(supCtx(), "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Fast Connector", rows[0].ProductName)

	_, err = h.svc.ListStock(adminCtx(), memory.SeedSupervisorID)
	require.NoError(t, err)

	_, err = h.svc.ListStock(fosCtx(), memory.SeedSupervisorID)
	requireKind(t, err, apperr.Unauthorized)

	_, err = h.svc.ListStock(supCtx(), memory.SeedTechnicianID)
	require.NoError(t, err)
}

func TestTakeBackStock(t *testing.T) {
	h := newTestService(t)
	h.moveStock(t, memory.SeedCableID, dec(100), memory.SeedSupervisorID)
	h.moveStock(t, memory.SeedCableID, dec(30), memory.SeedTechnicianID)

	row, err := h.svc.TakeBackStock(supCtx(), domain.StockTakeBackRequest{
		ProductID: memory.SeedCableID, Qty: dec(10), FromID: memory.SeedTechnicianID,
	})
	require.NoError(t, err)
	assertDec(t, dec(80), row.Qty)
	assertDec(t, dec(20), h.stockOf(t, memory.SeedTechnicianID, memory.SeedCableID))

	_, err = h.svc.TakeBackStock(adminCtx(), domain.StockTakeBackRequest{
		ProductID: memory.SeedCableID, Qty: dec(5), FromID: memory.SeedTechnicianID,
	})
	requireKind(t, err, apperr.Unauthorized)

	_, err = h.svc.TakeBackStock(supCtx(), domain.StockTakeBackRequest{
		ProductID: memory.SeedCableID, Qty: dec(50), FromID: memory.SeedTechnicianID,
	})
	requireKind(t, err, apperr.InsufficientStock)

	row, err = h.svc.TakeBackStock(adminCtx(), domain.StockTakeBackRequest{
		ProductID: memory.SeedCableID, Qty: dec(80), FromID: memory.SeedSupervisorID,
	})
	require.NoError(t, err)
	assertDec(t, dec(980), row.Qty)
}

func TestGetOrCreateStockStartsAtZero(t *testing.T) {
	h := newTestService(t)

	qty, err := h.svc.GetOrCreateStock(adminCtx(), memory.SeedFosID, memory.SeedConnectorID)
	require.NoError(t, err)
	assert.True(t, qty.IsZero())

	_, err = h.svc.GetOrCreateStock(adminCtx(), memory.SeedFosID, "prd-missing")
	requireKind(t, err, apperr.NotFound)
}
