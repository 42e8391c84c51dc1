package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channelhub/backend/internal/apperr"
	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/notify"
	"channelhub/backend/internal/store/memory"
)

const ecHeader = "Order ID,Order Date,Partner ID,Partner Name,Transfer Amount,Commission,Amount Without Commission\n"

type fakeArchiver struct {
	kind    string
	name    string
	payload []byte
	err     error
}

func (f *fakeArchiver) Put(_ context.Context, kind string, name string, _ string, payload []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.kind, f.name, f.payload = kind, name, payload
	return kind + "/2026/03/09/" + name, nil
}

func ecRow(orderID string, partner string, amount int64) domain.EcSaleRow {
	return domain.EcSaleRow{
		OrderID:                 orderID,
		OrderDate:               time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		PartnerName:             partner,
		TransferAmount:          dec(amount),
		AmountWithoutCommission: dec(amount),
	}
}

func TestParseEcSalesCSV(t *testing.T) {
	payload := "\ufeff" + ecHeader +
		"EC-1,09.03.2026 10:15,P1,Sharma Mobiles,\"1,000.00\",20,980\n" +
		"EC-2,09.03.2026,P1,Sh\"arma,100,2,98\n" +
		"EC-3,March 9,P1,Sharma Mobiles,100,2,98\n" +
		"EC-4,09.03.2026,P1,Sharma Mobiles,abc,2,98\n" +
		"EC-5,2026-03-10T08:00:00,P1,Sharma Mobiles,500,10,490\n"

	rows, rowErrors, err := ParseEcSalesCSV(strings.NewReader(payload))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Len(t, rowErrors, 3)

	assert.Equal(t, "EC-1", rows[0].OrderID)
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), rows[0].OrderDate)
	assertDec(t, dec(1000), rows[0].TransferAmount)
	assertDec(t, dec(980), rows[0].AmountWithoutCommission)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), rows[1].OrderDate)
	assert.Equal(t, 6, rows[1].Line)

	assert.True(t, strings.HasPrefix(rowErrors[0], "row 3:"), rowErrors[0])
	assert.True(t, strings.HasPrefix(rowErrors[1], "row 4:"), rowErrors[1])
	assert.True(t, strings.HasPrefix(rowErrors[2], "row 5:"), rowErrors[2])
	assert.Contains(t, rowErrors[2], "Transfer Amount")
}

func TestParseEcSalesCSVRejectsBadFiles(t *testing.T) {
	_, _, err := ParseEcSalesCSV(strings.NewReader(""))
	requireKind(t, err, apperr.InvalidInput)

	_, _, err = ParseEcSalesCSV(strings.NewReader("order id,order date,partner id,partner name,transfer amount\n"))
	requireKind(t, err, apperr.InvalidInput)
	assert.Equal(t, "Commission", apperr.SubjectOf(err))

	rows, rowErrors, err := ParseEcSalesCSV(strings.NewReader(strings.ToUpper(ecHeader)))
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, rowErrors)
}

func TestImportEcSales(t *testing.T) {
	h := newTestService(t)

	result, err := h.svc.ImportEcSales(fosCtx(), memory.SeedFosID, memory.SeedOperatorJioID, []domain.EcSaleRow{
		ecRow("EC-1", "sharma mobiles", 980),
		ecRow("EC-1", "Sharma Mobiles", 10),
		ecRow("EC-2", "Unknown Shop", 50),
		ecRow("EC-3", "Sharma Mobiles", 0),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
	require.Len(t, result.Errors, 3)
	assert.Equal(t, "row 2: order id EC-1 already exists", result.Errors[0])
	assert.Contains(t, result.Errors[1], `retailer "Unknown Shop" not found under ravi`)
	assert.Contains(t, result.Errors[2], "row 4:")

	wallet := h.wallet(t, memory.SeedRetailerID, memory.SeedOperatorJioID, domain.ChannelEC)
	assertDec(t, dec(980), wallet.PendingAmount)
	assertDec(t, dec(980), wallet.TotalIssued)

	again, err := h.svc.ImportEcSales(supCtx(), memory.SeedFosID, memory.SeedOperatorJioID, []domain.EcSaleRow{
		ecRow("EC-1", "Sharma Mobiles", 980),
		ecRow("EC-9", "Sharma Mobiles", 20),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, again.Success)
	require.Len(t, again.Errors, 1)
	assert.Contains(t, again.Errors[0], "EC-1 already exists")
	assertDec(t, dec(1000), h.wallet(t, memory.SeedRetailerID, memory.SeedOperatorJioID, domain.ChannelEC).PendingAmount)
}

func TestImportEcSalesRetriesOrderAfterRejectedRow(t *testing.T) {
	h := newTestService(t)

	result, err := h.svc.ImportEcSales(fosCtx(), memory.SeedFosID, memory.SeedOperatorJioID, []domain.EcSaleRow{
		ecRow("EC-5", "Unknown Shop", 300),
		ecRow("EC-5", "Sharma Mobiles", 300),
		ecRow("EC-5", "Sharma Mobiles", 300),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], `row 1: retailer "Unknown Shop" not found`)
	assert.Equal(t, "row 3: order id EC-5 already exists", result.Errors[1])
	assertDec(t, dec(300), h.wallet(t, memory.SeedRetailerID, memory.SeedOperatorJioID, domain.ChannelEC).PendingAmount)
}

func TestImportEcSalesAuthorization(t *testing.T) {
	h := newTestService(t)
	rows := []domain.EcSaleRow{ecRow("EC-1", "Sharma Mobiles", 100)}

	_, err := h.svc.ImportEcSales(techCtx(), memory.SeedFosID, memory.SeedOperatorJioID, rows)
	requireKind(t, err, apperr.Unauthorized)

	_, err = h.svc.ImportEcSales(retailerCtx(), memory.SeedFosID, memory.SeedOperatorJioID, rows)
	requireKind(t, err, apperr.Unauthorized)

	_, err = h.svc.ImportEcSales(adminCtx(), memory.SeedRetailerID, memory.SeedOperatorJioID, rows)
	requireKind(t, err, apperr.InvalidInput)

	_, err = h.svc.ImportEcSales(adminCtx(), memory.SeedFosID, "op-missing", rows)
	requireKind(t, err, apperr.NotFound)

	vi, err := h.svc.CreateOperator(adminCtx(), domain.OperatorCreateRequest{Name: "Vi"})
	require.NoError(t, err)
	_, err = h.svc.ImportEcSales(adminCtx(), memory.SeedFosID, vi.ID, rows)
	requireKind(t, err, apperr.Unauthorized)

	result, err := h.svc.ImportEcSales(adminCtx(), memory.SeedFosID, memory.SeedOperatorAirID, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
}

func TestImportEcSalesCSVArchivesUpload(t *testing.T) {
	repo := memory.NewSeeded(nil)
	archiver := &fakeArchiver{}
	svc := New(repo, nil, &notify.Recorder{}, archiver, nil, Options{RootAdminUsername: "admin"})
	payload := []byte(ecHeader +
		"EC-1,09.03.2026,P1,Sharma Mobiles,500,10,490\n" +
		"EC-2,bad,P1,Sharma Mobiles,500,10,490\n" +
		"EC-3,09.03.2026,P1,Nobody,500,10,490\n")

	result, err := svc.ImportEcSalesCSV(fosCtx(), memory.SeedFosID, memory.SeedOperatorJioID, "march.csv", payload)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
	require.Len(t, result.Errors, 2)
	assert.True(t, strings.HasPrefix(result.Errors[0], "row 3:"), result.Errors[0])
	assert.True(t, strings.HasPrefix(result.Errors[1], "row 4:"), result.Errors[1])
	assert.Equal(t, "ec-sales/2026/03/09/march.csv", result.ArchiveKey)
	assert.Equal(t, "ec-sales", archiver.kind)
	assert.Equal(t, payload, archiver.payload)

	archiver.err = errors.New("bucket unavailable")
	result, err = svc.ImportEcSalesCSV(fosCtx(), memory.SeedFosID, memory.SeedOperatorJioID, "", []byte(ecHeader+
		"EC-7,09.03.2026,P1,Sharma Mobiles,50,1,49\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
	assert.Empty(t, result.ArchiveKey)

	_, err = svc.ImportEcSalesCSV(fosCtx(), memory.SeedFosID, memory.SeedOperatorJioID, "x.csv", []byte("Order ID\n1\n"))
	requireKind(t, err, apperr.InvalidInput)
}
