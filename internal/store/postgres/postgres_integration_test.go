package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/store"
)

func newContainerStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests are skipped with -short")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("channelhub_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(zap.NewNop()))
	return s
}

func TestPostgresLedgerRoundTrip(t *testing.T) {
	s := newContainerStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		for _, u := range []domain.User{
			{ID: "usr-admin", Username: "admin", Name: "Admin", Role: domain.RoleAdmin},
			{ID: "usr-fos", Username: "ravi", Name: "Ravi", Role: domain.RoleFOS},
			{ID: "usr-ret", Username: "sharma", Name: "Sharma", Role: domain.RoleRetailer},
		} {
			u.Active = true
			u.PasswordHash = "x"
			u.CreatedAt = now
			if err := tx.CreateUser(ctx, u); err != nil {
				return err
			}
		}
		if err := tx.CreateOperator(ctx, domain.Operator{ID: "op-jio", Name: "Jio"}); err != nil {
			return err
		}
		if err := tx.MapRetailerToFos(ctx, "usr-ret", "usr-fos"); err != nil {
			return err
		}
		return tx.CreateProduct(ctx, domain.Product{ID: "prd-cable", Name: "Cable", Meterable: true, UnitPrice: decimal.NewFromInt(10), CreatedAt: now})
	})
	require.NoError(t, err)

	t.Run("username lookup is case insensitive", func(t *testing.T) {
		err := s.View(ctx, func(tx store.Tx) error {
			u, err := tx.GetUserByUsername(ctx, "RAVI")
			require.NoError(t, err)
			assert.Equal(t, "usr-fos", u.ID)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("stock debits draw down an existing row", func(t *testing.T) {
		err := s.WithTx(ctx, func(tx store.Tx) error {
			_, err := tx.AddStock(ctx, "usr-admin", "prd-cable", decimal.NewFromInt(50))
			return err
		})
		require.NoError(t, err)

		var left decimal.Decimal
		err = s.WithTx(ctx, func(tx store.Tx) error {
			var err error
			left, err = tx.AddStock(ctx, "usr-admin", "prd-cable", decimal.NewFromInt(-10))
			return err
		})
		require.NoError(t, err)
		assert.True(t, left.Equal(decimal.NewFromInt(40)), left.String())

		err = s.WithTx(ctx, func(tx store.Tx) error {
			_, err := tx.AddStock(ctx, "usr-admin", "prd-cable", decimal.NewFromInt(-60))
			return err
		})
		assert.ErrorIs(t, err, store.ErrInsufficientStock)

		err = s.WithTx(ctx, func(tx store.Tx) error {
			_, err := tx.AddStock(ctx, "usr-fos", "prd-cable", decimal.NewFromInt(-1))
			return err
		})
		assert.ErrorIs(t, err, store.ErrInsufficientStock)

		err = s.View(ctx, func(tx store.Tx) error {
			rows, err := tx.ListStock(ctx, "usr-admin")
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.True(t, rows[0].Qty.Equal(decimal.NewFromInt(40)))
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("wallet deltas accumulate", func(t *testing.T) {
		key := domain.WalletKey{HolderID: "usr-ret", OperatorID: "op-jio", Channel: domain.ChannelEC}
		err := s.WithTx(ctx, func(tx store.Tx) error {
			_, err := tx.ApplyWalletDelta(ctx, key, domain.WalletDelta{Pending: decimal.NewFromInt(500), Issued: decimal.NewFromInt(500)}, now)
			return err
		})
		require.NoError(t, err)

		err = s.WithTx(ctx, func(tx store.Tx) error {
			w, err := tx.ApplyWalletDelta(ctx, key, domain.WalletDelta{Pending: decimal.NewFromInt(-200), Collected: decimal.NewFromInt(200)}, now)
			if err != nil {
				return err
			}
			assert.True(t, w.PendingAmount.Equal(decimal.NewFromInt(300)), w.PendingAmount.String())
			return nil
		})
		require.NoError(t, err)

		err = s.WithTx(ctx, func(tx store.Tx) error {
			wallets, err := tx.LockWallets(ctx, domain.WalletFilter{HolderID: "usr-ret", PositiveOnly: true})
			require.NoError(t, err)
			require.Len(t, wallets, 1)
			assert.Equal(t, "Jio", wallets[0].OperatorName)
			assert.True(t, wallets[0].PendingAmount.Equal(decimal.NewFromInt(300)))
			assert.True(t, wallets[0].TotalCollected.Equal(decimal.NewFromInt(200)))
			return nil
		})
		require.NoError(t, err)

		err = s.WithTx(ctx, func(tx store.Tx) error {
			_, err := tx.ApplyWalletDelta(ctx, key, domain.WalletDelta{Pending: decimal.NewFromInt(-301)}, now)
			return err
		})
		assert.ErrorIs(t, err, store.ErrNegativeBalance)
	})

	t.Run("bill numbers repeat across operators", func(t *testing.T) {
		err := s.WithTx(ctx, func(tx store.Tx) error {
			return tx.CreateOperator(ctx, domain.Operator{ID: "op-air", Name: "Airtel"})
		})
		require.NoError(t, err)

		purchase := func(id string, operatorID string) error {
			return s.WithTx(ctx, func(tx store.Tx) error {
				return tx.CreatePurchase(ctx, domain.Purchase{
					ID: id, Kind: domain.UnitSIM, OperatorID: operatorID, BillNumber: "B-7",
					BillDate: now, Quantity: 1, CreatedBy: "usr-admin", CreatedAt: now,
				})
			})
		}
		require.NoError(t, purchase("pur-1", "op-jio"))
		require.NoError(t, purchase("pur-2", "op-air"))
		assert.ErrorIs(t, purchase("pur-3", "op-jio"), store.ErrConflict)
	})

	t.Run("a serial has at most one pending transfer", func(t *testing.T) {
		err := s.WithTx(ctx, func(tx store.Tx) error {
			return tx.InsertUnits(ctx, []domain.SerializedUnit{{
				Serial: "SIM-0001", Kind: domain.UnitSIM, OperatorID: "op-jio", HolderID: "usr-admin",
				Status: domain.UnitAvailable, CreatedAt: now, UpdatedAt: now,
			}})
		})
		require.NoError(t, err)

		pending := domain.UnitTransfer{
			ID: "utr-1", BatchID: "batch-1", Serial: "SIM-0001", Kind: domain.UnitSIM, FromID: "usr-admin",
			ToID: "usr-fos", Type: domain.TransferForward, Status: domain.TransferPending, CreatedAt: now,
		}
		require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
			return tx.InsertUnitTransfers(ctx, []domain.UnitTransfer{pending})
		}))

		second := pending
		second.ID = "utr-2"
		second.BatchID = "batch-2"
		err = s.WithTx(ctx, func(tx store.Tx) error {
			return tx.InsertUnitTransfers(ctx, []domain.UnitTransfer{second})
		})
		assert.ErrorIs(t, err, store.ErrConflict)

		err = s.WithTx(ctx, func(tx store.Tx) error {
			rows, err := tx.LockPendingBatch(ctx, "batch-1")
			require.NoError(t, err)
			require.Len(t, rows, 1)
			return tx.SetUnitTransferStatus(ctx, []string{rows[0].ID}, domain.TransferAccepted, now)
		})
		require.NoError(t, err)

		err = s.View(ctx, func(tx store.Tx) error {
			serials, err := tx.PendingTransferSerials(ctx, []string{"SIM-0001"})
			require.NoError(t, err)
			assert.Empty(t, serials)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("work reports keep materials", func(t *testing.T) {
		err := s.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.SetPincodeAssignment(ctx, "560001", "usr-admin"); err != nil {
				return err
			}
			if err := tx.InsertWorkOrder(ctx, domain.WorkOrder{
				ID: "wo-1", CustomerName: "Asha", MobileNo: "9800000000", Pincode: "560001", SupervisorID: "usr-admin",
				Status: domain.WorkPending, DeadlineAt: now.Add(-time.Hour), CreatedBy: "usr-admin", CreatedAt: now,
			}); err != nil {
				return err
			}
			return tx.InsertWorkReport(ctx, domain.WorkReport{
				WorkOrderID: "wo-1",
				Materials: []domain.MaterialLine{{
					ProductID: "prd-cable", ProductName: "Cable", Qty: decimal.NewFromInt(3),
					UnitPrice: decimal.NewFromInt(10), LineTotal: decimal.NewFromInt(30),
				}},
				SubtotalAmount: decimal.NewFromInt(30),
				UpdatedAt:      now,
			})
		})
		require.NoError(t, err)

		var expired int
		require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
			var err error
			expired, err = tx.ExpirePendingWorkOrders(ctx, now)
			return err
		}))
		assert.Equal(t, 1, expired)

		err = s.View(ctx, func(tx store.Tx) error {
			report, err := tx.GetWorkReport(ctx, "wo-1")
			require.NoError(t, err)
			require.Len(t, report.Materials, 1)
			assert.True(t, report.Materials[0].LineTotal.Equal(decimal.NewFromInt(30)))

			order, err := tx.GetWorkOrder(ctx, "wo-1")
			require.NoError(t, err)
			assert.Equal(t, domain.WorkExpired, order.Status)
			return nil
		})
		require.NoError(t, err)
	})
}
