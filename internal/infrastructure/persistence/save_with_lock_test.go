package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/ledger"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/palmtrace/backend/internal/domain/supplychain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockOrderRepo(t *testing.T) (*GormPurchaseOrderRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return NewGormPurchaseOrderRepository(gormDB), mock, mockDB
}

func pendingOrder(t *testing.T) *supplychain.PurchaseOrder {
	t.Helper()
	po, err := supplychain.NewPurchaseOrder(uuid.New(), uuid.New(), uuid.New(),
		decimal.NewFromInt(25), decimal.NewFromInt(900), "MT")
	require.NoError(t, err)
	return po
}

func TestSaveWithLock_Postgres(t *testing.T) {
	t.Run("bumps the version on success", func(t *testing.T) {
		repo, mock, mockDB := newMockOrderRepo(t)
		defer mockDB.Close()

		po := pendingOrder(t)
		require.NoError(t, po.Confirm(supplychain.ConfirmationPayload{}))

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT "id","version" FROM "purchase_orders"`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "version"}).AddRow(po.ID, 1))
		mock.ExpectExec(`UPDATE "purchase_orders" SET .* WHERE \(id = \$\d+ AND version = \$\d+\)`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.SaveWithLock(context.Background(), po))
		assert.Equal(t, 2, po.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version never reaches UPDATE", func(t *testing.T) {
		repo, mock, mockDB := newMockOrderRepo(t)
		defer mockDB.Close()

		po := pendingOrder(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT "id","version" FROM "purchase_orders"`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "version"}).AddRow(po.ID, 3))
		mock.ExpectRollback()

		err := repo.SaveWithLock(context.Background(), po)
		assert.True(t, errors.Is(err, shared.ErrConcurrencyConflict))
		assert.Equal(t, 1, po.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost race between read and write", func(t *testing.T) {
		repo, mock, mockDB := newMockOrderRepo(t)
		defer mockDB.Close()

		po := pendingOrder(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT "id","version" FROM "purchase_orders"`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "version"}).AddRow(po.ID, 1))
		mock.ExpectExec(`UPDATE "purchase_orders" SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := repo.SaveWithLock(context.Background(), po)
		assert.True(t, errors.Is(err, shared.ErrConcurrencyConflict))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing order", func(t *testing.T) {
		repo, mock, mockDB := newMockOrderRepo(t)
		defer mockDB.Close()

		po := pendingOrder(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT "id","version" FROM "purchase_orders"`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "version"}))
		mock.ExpectRollback()

		err := repo.SaveWithLock(context.Background(), po)
		assert.True(t, errors.Is(err, shared.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMergeDraws(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")

	merged := merge([]ledger.Draw{
		{BatchID: b, Quantity: decimal.NewFromInt(2)},
		{BatchID: a, Quantity: decimal.NewFromInt(1)},
		{BatchID: b, Quantity: decimal.NewFromInt(3)},
	})

	require.Len(t, merged, 2)
	assert.Equal(t, a, merged[0].BatchID)
	assert.Equal(t, b, merged[1].BatchID)
	assert.True(t, merged[1].Quantity.Equal(decimal.NewFromInt(5)))
}

func newMockBatchRepo(t *testing.T) (*GormBatchRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return NewGormBatchRepository(gormDB), mock, mockDB
}

func TestConsume_Postgres(t *testing.T) {
	batchID := uuid.MustParse("00000000-0000-0000-0000-0000000000b1")

	t.Run("guarded update", func(t *testing.T) {
		repo, mock, mockDB := newMockBatchRepo(t)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "batches" SET "consumed_quantity"=consumed_quantity \+ \$1 WHERE \(id = \$2 AND consumed_quantity \+ \$3 <= quantity\)`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.Consume(context.Background(), []ledger.Draw{{BatchID: batchID, Quantity: decimal.NewFromInt(4)}})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("guard miss reports what is left", func(t *testing.T) {
		repo, mock, mockDB := newMockBatchRepo(t)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "batches" SET "consumed_quantity"`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT "id","quantity","consumed_quantity" FROM "batches"`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "quantity", "consumed_quantity"}).
				AddRow(batchID, "10", "8"))
		mock.ExpectRollback()

		err := repo.Consume(context.Background(), []ledger.Draw{{BatchID: batchID, Quantity: decimal.NewFromInt(4)}})
		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrMassBalance))

		var mb *ledger.MassBalanceError
		require.True(t, errors.As(err, &mb))
		assert.True(t, mb.Available.Equal(decimal.NewFromInt(2)))
		assert.True(t, mb.Requested.Equal(decimal.NewFromInt(4)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
