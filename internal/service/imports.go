package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"channelhub/backend/internal/apperr"
	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/store"
)

var ecSaleColumns = []string{
	"Order ID",
	"Order Date",
	"Partner ID",
	"Partner Name",
	"Transfer Amount",
	"Commission",
	"Amount Without Commission",
}

var ecDateLayouts = []string{"02.01.2006", "2006-01-02", "02/01/2006"}

func parseEcDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexAny(raw, " T"); i > 0 {
		raw = raw[:i]
	}
	for _, layout := range ecDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

func parseEcAmount(raw string) (decimal.Decimal, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

// ParseEcSalesCSV reads an EC recharge export. A missing column fails the whole file; a bad row
// is reported and skipped.
func ParseEcSalesCSV(r io.Reader) ([]domain.EcSaleRow, []string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, apperr.New(apperr.InvalidInput, "csv", "file is empty")
		}
		return nil, nil, apperr.New(apperr.InvalidInput, "csv", "read header: %v", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	cols := make([]int, len(ecSaleColumns))
	for i, name := range ecSaleColumns {
		pos, ok := index[strings.ToLower(name)]
		if !ok {
			return nil, nil, apperr.New(apperr.InvalidInput, name, "missing column %q", name)
		}
		cols[i] = pos
	}

	rows := make([]domain.EcSaleRow, 0)
	rowErrors := make([]string, 0)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return nil, nil, fmt.Errorf("read csv: %w", err)
			}
			rowErrors = append(rowErrors, fmt.Sprintf("row %d: %v", parseErr.Line, parseErr.Err))
			continue
		}
		line, _ := reader.FieldPos(0)
		field := func(col int) string {
			if cols[col] < len(record) {
				return strings.TrimSpace(record[cols[col]])
			}
			return ""
		}
		if strings.Join(record, "") == "" {
			continue
		}

		row := domain.EcSaleRow{
			Line:        line,
			OrderID:     field(0),
			PartnerID:   field(2),
			PartnerName: field(3),
		}
		if row.OrderID == "" {
			rowErrors = append(rowErrors, fmt.Sprintf("row %d: order id is empty", line))
			continue
		}
		if row.OrderDate, err = parseEcDate(field(1)); err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("row %d: %v", line, err))
			continue
		}
		amounts := []*decimal.Decimal{&row.TransferAmount, &row.Commission, &row.AmountWithoutCommission}
		bad := false
		for i, dst := range amounts {
			v, err := parseEcAmount(field(4 + i))
			if err != nil {
				rowErrors = append(rowErrors, fmt.Sprintf("row %d: invalid %s %q", line, ecSaleColumns[4+i], field(4+i)))
				bad = true
				break
			}
			*dst = v
		}
		if bad {
			continue
		}
		rows = append(rows, row)
	}
	return rows, rowErrors, nil
}

// ImportEcSales books parsed EC sales against the FOS's retailers. Each row commits on its own so
// one bad row never blocks the rest.
func (s *Service) ImportEcSales(ctx context.Context, fosID string, operatorID string, rows []domain.EcSaleRow) (domain.ImportResult, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.ImportResult{}, err
	}

	var retailers []domain.User
	var fos *domain.User
	err = s.repo.View(ctx, func(tx store.Tx) error {
		uploader, err := loadActor(ctx, tx, actor)
		if err != nil {
			return err
		}
		fos, err = loadUser(ctx, tx, fosID)
		if err != nil {
			return err
		}
		if fos.Role != domain.RoleFOS {
			return apperr.New(apperr.InvalidInput, fos.ID, "%s is not a FOS", fos.Username)
		}
		allowed := uploader.ID == fos.ID || uploader.Role == domain.RoleAdmin ||
			(uploader.Role == domain.RoleSupervisor && fos.SupervisorID == uploader.ID)
		if !allowed {
			return apperr.New(apperr.Unauthorized, fos.ID, "%s may not import sales for %s", uploader.Username, fos.Username)
		}
		if _, err := tx.GetOperator(ctx, operatorID); err != nil {
			return notFound(err, "operator", operatorID)
		}
		ok, err := fosServesOperator(ctx, tx, fos.ID, operatorID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.Unauthorized, operatorID, "%s is not mapped to operator %s", fos.Username, operatorID)
		}
		retailers, err = tx.ListRetailersForFos(ctx, fos.ID)
		return err
	})
	if err != nil {
		return domain.ImportResult{}, err
	}

	byName := make(map[string]string, len(retailers))
	for _, r := range retailers {
		if !r.Active {
			continue
		}
		byName[strings.ToLower(strings.TrimSpace(r.Name))] = r.ID
	}

	result := domain.ImportResult{Errors: []string{}}
	seen := make(map[string]struct{}, len(rows))
	for i, row := range rows {
		n := row.Line
		if n == 0 {
			n = i + 1
		}
		if _, dup := seen[row.OrderID]; dup {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: order id %s already exists", n, row.OrderID))
			continue
		}

		retailerID, ok := byName[strings.ToLower(strings.TrimSpace(row.PartnerName))]
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: retailer %q not found under %s", n, row.PartnerName, fos.Username))
			continue
		}
		if !row.AmountWithoutCommission.IsPositive() {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: amount without commission must be positive", n))
			continue
		}

		err := s.repo.WithTx(ctx, func(tx store.Tx) error {
			exists, err := tx.EcSaleExists(ctx, row.OrderID)
			if err != nil {
				return err
			}
			if exists {
				return store.ErrConflict
			}
			now := s.now()
			if err := tx.InsertEcSale(ctx, domain.EcSale{
				OrderID:                 row.OrderID,
				OrderDate:               row.OrderDate,
				PartnerID:               row.PartnerID,
				PartnerName:             row.PartnerName,
				TransferAmount:          row.TransferAmount,
				Commission:              row.Commission,
				AmountWithoutCommission: row.AmountWithoutCommission,
				OperatorID:              operatorID,
				SupervisorID:            fos.SupervisorID,
				FosID:                   fos.ID,
				RetailerID:              retailerID,
				UploadedBy:              actor.UserID,
				CreatedAt:               now,
			}); err != nil {
				return err
			}
			return recordSale(ctx, tx, retailerID, operatorID, domain.ChannelEC, row.AmountWithoutCommission, now)
		})
		switch {
		case err == nil:
			seen[row.OrderID] = struct{}{}
			result.Success++
		case errors.Is(err, store.ErrConflict):
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: order id %s already exists", n, row.OrderID))
		case apperr.IsClientError(err):
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", n, err))
		default:
			return result, fmt.Errorf("import row %d: %w", n, err)
		}
	}

	s.logAudit(ctx, "ec_sales_import", "user", fos.ID,
		fmt.Sprintf("operator=%s,success=%d,errors=%d", operatorID, result.Success, len(result.Errors)))
	return result, nil
}

// ImportEcSalesCSV parses and imports an uploaded file, keeping a copy in the archive when one is
// configured.
func (s *Service) ImportEcSalesCSV(ctx context.Context, fosID string, operatorID string, filename string, payload []byte) (domain.ImportResult, error) {
	rows, rowErrors, err := ParseEcSalesCSV(bytes.NewReader(payload))
	if err != nil {
		return domain.ImportResult{}, err
	}
	result, err := s.ImportEcSales(ctx, fosID, operatorID, rows)
	if err != nil {
		return result, err
	}
	result.Errors = append(rowErrors, result.Errors...)

	if filename == "" {
		filename = "ec-sales.csv"
	}
	key, err := s.archiver.Put(ctx, "ec-sales", filename, "text/csv", payload)
	if err != nil {
		s.logger.Warn("archive upload failed", zap.String("file", filename), zap.Error(err))
	}
	result.ArchiveKey = key
	return result, nil
}
