package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO operators`).
		WithArgs("op-jio", "Jio").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateOperator(context.Background(), domain.Operator{ID: "op-jio", Name: "Jio"})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs("usr-missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.LockUser(context.Background(), "usr-missing")
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRetriesSerializationFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO operators`).WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO operators`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	attempts := 0
	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		attempts++
		return tx.CreateOperator(context.Background(), domain.Operator{ID: "op-vi", Name: "Vi"})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxGivesUpAfterMaxAttempts(t *testing.T) {
	s, mock := newMockStore(t)

	for i := 0; i < maxTxAttempts; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	attempts := 0
	err := s.WithTx(context.Background(), func(store.Tx) error {
		attempts++
		return &pgconn.PgError{Code: "40P01"}
	})
	require.Error(t, err)
	assert.Equal(t, maxTxAttempts, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddStock(t *testing.T) {
	t.Run("credits upsert the row", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO stock .* ON CONFLICT`).
			WithArgs("usr-fos", "prd-cable", decimal.NewFromInt(50)).
			WillReturnRows(sqlmock.NewRows([]string{"qty"}).AddRow("50"))
		mock.ExpectCommit()

		var qty decimal.Decimal
		err := s.WithTx(context.Background(), func(tx store.Tx) error {
			var err error
			qty, err = tx.AddStock(context.Background(), "usr-fos", "prd-cable", decimal.NewFromInt(50))
			return err
		})
		require.NoError(t, err)
		assert.True(t, qty.Equal(decimal.NewFromInt(50)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("debits update the existing row", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE stock SET qty = qty \+ \$3`).
			WithArgs("usr-fos", "prd-cable", decimal.NewFromInt(-10)).
			WillReturnRows(sqlmock.NewRows([]string{"qty"}).AddRow("40"))
		mock.ExpectCommit()

		var qty decimal.Decimal
		err := s.WithTx(context.Background(), func(tx store.Tx) error {
			var err error
			qty, err = tx.AddStock(context.Background(), "usr-fos", "prd-cable", decimal.NewFromInt(-10))
			return err
		})
		require.NoError(t, err)
		assert.True(t, qty.Equal(decimal.NewFromInt(40)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("overdraw maps to insufficient stock", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE stock`).
			WithArgs("usr-fos", "prd-cable", sqlmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: "23514"})
		mock.ExpectRollback()

		err := s.WithTx(context.Background(), func(tx store.Tx) error {
			_, err := tx.AddStock(context.Background(), "usr-fos", "prd-cable", decimal.NewFromInt(-5))
			return err
		})
		assert.ErrorIs(t, err, store.ErrInsufficientStock)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("debit without a row maps to insufficient stock", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE stock`).
			WillReturnRows(sqlmock.NewRows([]string{"qty"}))
		mock.ExpectRollback()

		err := s.WithTx(context.Background(), func(tx store.Tx) error {
			_, err := tx.AddStock(context.Background(), "usr-tech", "prd-cable", decimal.NewFromInt(-1))
			return err
		})
		assert.ErrorIs(t, err, store.ErrInsufficientStock)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestApplyWalletDelta(t *testing.T) {
	t.Run("returns the updated row", func(t *testing.T) {
		s, mock := newMockStore(t)
		at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO wallets`).
			WillReturnRows(sqlmock.NewRows([]string{
				"holder_id", "operator_id", "channel", "name", "pending_amount",
				"total_issued", "total_collected", "total_paid", "updated_at",
			}).AddRow("usr-ret", "op-jio", "sim", "Jio", "300", "300", "0", "0", at))
		mock.ExpectCommit()

		var wallet *domain.Wallet
		err := s.WithTx(context.Background(), func(tx store.Tx) error {
			var err error
			wallet, err = tx.ApplyWalletDelta(context.Background(),
				domain.WalletKey{HolderID: "usr-ret", OperatorID: "op-jio", Channel: domain.ChannelSIM},
				domain.WalletDelta{Pending: decimal.NewFromInt(300), Issued: decimal.NewFromInt(300)}, at)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, "Jio", wallet.OperatorName)
		assert.True(t, wallet.PendingAmount.Equal(decimal.NewFromInt(300)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("collection debits update the existing row", func(t *testing.T) {
		s, mock := newMockStore(t)
		at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE wallets`).
			WithArgs("usr-ret", "op-jio", "sim", decimal.NewFromInt(-200), decimal.Zero, decimal.Zero, decimal.NewFromInt(200), at).
			WillReturnRows(sqlmock.NewRows([]string{
				"holder_id", "operator_id", "channel", "name", "pending_amount",
				"total_issued", "total_collected", "total_paid", "updated_at",
			}).AddRow("usr-ret", "op-jio", "sim", "Jio", "100", "300", "0", "200", at))
		mock.ExpectCommit()

		var wallet *domain.Wallet
		err := s.WithTx(context.Background(), func(tx store.Tx) error {
			var err error
			wallet, err = tx.ApplyWalletDelta(context.Background(),
				domain.WalletKey{HolderID: "usr-ret", OperatorID: "op-jio", Channel: domain.ChannelSIM},
				domain.WalletDelta{Pending: decimal.NewFromInt(-200), Paid: decimal.NewFromInt(200)}, at)
			return err
		})
		require.NoError(t, err)
		assert.True(t, wallet.PendingAmount.Equal(decimal.NewFromInt(100)))
		assert.True(t, wallet.TotalPaid.Equal(decimal.NewFromInt(200)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("negative pending is rejected", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE wallets`).WillReturnError(&pgconn.PgError{Code: "23514"})
		mock.ExpectRollback()

		err := s.WithTx(context.Background(), func(tx store.Tx) error {
			_, err := tx.ApplyWalletDelta(context.Background(),
				domain.WalletKey{HolderID: "usr-ret", OperatorID: "op-jio", Channel: domain.ChannelEC},
				domain.WalletDelta{Pending: decimal.NewFromInt(-1)}, time.Now())
			return err
		})
		assert.ErrorIs(t, err, store.ErrNegativeBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("debit of a missing wallet is rejected", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE wallets`).WillReturnRows(sqlmock.NewRows([]string{"holder_id"}))
		mock.ExpectRollback()

		err := s.WithTx(context.Background(), func(tx store.Tx) error {
			_, err := tx.ApplyWalletDelta(context.Background(),
				domain.WalletKey{HolderID: "usr-ret", OperatorID: "op-jio", Channel: domain.ChannelEC},
				domain.WalletDelta{Pending: decimal.NewFromInt(-1)}, time.Now())
			return err
		})
		assert.ErrorIs(t, err, store.ErrNegativeBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateUser(context.Background(), domain.User{ID: "usr-1", Username: "ravi", Name: "Ravi", Role: domain.RoleFOS})
	})
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestViewListsOperators(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, name FROM operators ORDER BY name`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("op-air", "Airtel").AddRow("op-jio", "Jio"))
	mock.ExpectCommit()

	var ops []domain.Operator
	err := s.View(context.Background(), func(tx store.Tx) error {
		var err error
		ops, err = tx.ListOperators(context.Background())
		return err
	})
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "Airtel", ops[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpirePendingWorkOrders(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE work_orders SET status = 'Expired'`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	var expired int
	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		expired, err = tx.ExpirePendingWorkOrders(context.Background(), now)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, expired)
	assert.NoError(t, mock.ExpectationsWereMet())
}
