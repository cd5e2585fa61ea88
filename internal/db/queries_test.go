package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"merch-store/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T, attempts int) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	dbConn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = dbConn.Close() })
	return NewPostgres(dbConn, RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond}), mock
}

var accountCols = []string{"id", "email", "password_hash", "coins", "created_at"}

func TestPostgres_LockAccounts_AscendingOrder(t *testing.T) {
	store, mock := newMockStore(t, 1)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, email, password_hash, coins, created_at FROM users WHERE id=\\$1 FOR UPDATE").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(2, "b@example.com", "h", 500, now))
	mock.ExpectQuery("SELECT id, email, password_hash, coins, created_at FROM users WHERE id=\\$1 FOR UPDATE").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(5, "e@example.com", "h", 1000, now))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(tx Tx) error {
		locked, err := tx.LockAccounts(context.Background(), 5, 2, 5)
		require.NoError(t, err)
		assert.Equal(t, 500, locked[2].Coins)
		assert.Equal(t, 1000, locked[5].Coins)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LockAccounts_Missing(t *testing.T) {
	store, mock := newMockStore(t, 1)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM users WHERE id=\\$1 FOR UPDATE").
		WithArgs(7).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx Tx) error {
		_, err := tx.LockAccounts(context.Background(), 7)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_TransferStatements(t *testing.T) {
	store, mock := newMockStore(t, 1)
	created := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET coins=\\$1 WHERE id=\\$2").
		WithArgs(700, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users SET coins=\\$1 WHERE id=\\$2").
		WithArgs(800, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO coin_transactions \\(sender_id, recipient_id, amount\\) VALUES \\(\\$1, \\$2, \\$3\\) RETURNING id, created_at").
		WithArgs(1, 2, 300).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(42, created))
	mock.ExpectCommit()

	var rec models.TransactionRecord
	err := store.WithinTx(context.Background(), func(tx Tx) error {
		if err := tx.SaveBalance(context.Background(), models.Account{ID: 1, Coins: 700}); err != nil {
			return err
		}
		if err := tx.SaveBalance(context.Background(), models.Account{ID: 2, Coins: 800}); err != nil {
			return err
		}
		rec = models.TransactionRecord{
			SenderID: 1, SenderEmail: "x@example.com", RecipientID: 2, RecipientEmail: "y@example.com", Amount: 300,
		}
		return tx.AppendTransaction(context.Background(), &rec)
	})
	require.NoError(t, err)
	assert.Equal(t, 42, rec.ID)
	assert.Equal(t, created, rec.CreatedAt)
	assert.Equal(t, "y@example.com", rec.RecipientEmail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertIncrement(t *testing.T) {
	store, mock := newMockStore(t, 1)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO inventories .* ON CONFLICT \\(user_id, item_id\\) DO UPDATE SET quantity = inventories.quantity \\+ 1").
		WithArgs(1, 3).
		WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(2))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(tx Tx) error {
		q, err := tx.UpsertIncrement(context.Background(), 1, models.CatalogItem{ID: 3, Name: "cup", Price: 20})
		require.NoError(t, err)
		assert.Equal(t, 2, q)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertItemIfAbsent(t *testing.T) {
	store, mock := newMockStore(t, 1)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO items \\(name, price\\) VALUES \\(\\$1, \\$2\\) ON CONFLICT \\(name\\) DO NOTHING").
		WithArgs("cup", 20).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO items \\(name, price\\) VALUES \\(\\$1, \\$2\\) ON CONFLICT \\(name\\) DO NOTHING").
		WithArgs("cup", 20).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(tx Tx) error {
		first, err := tx.InsertItemIfAbsent(context.Background(), models.CatalogItem{Name: "cup", Price: 20})
		require.NoError(t, err)
		second, err := tx.InsertItemIfAbsent(context.Background(), models.CatalogItem{Name: "cup", Price: 20})
		require.NoError(t, err)
		assert.True(t, first)
		assert.False(t, second)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateAccount_UniqueViolation(t *testing.T) {
	store, mock := newMockStore(t, 1)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users \\(email, password_hash, coins\\)").
		WithArgs("x@example.com", "hash", 1000).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx Tx) error {
		_, err := tx.CreateAccount(context.Background(), "x@example.com", "hash", 1000)
		return err
	})
	assert.ErrorIs(t, err, ErrAccountExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListInventory(t *testing.T) {
	store, mock := newMockStore(t, 1)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT i.name, inv.quantity").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"name", "quantity"}).
			AddRow("cup", 2).
			AddRow("pen", 1))
	mock.ExpectCommit()

	err := store.WithinSnapshot(context.Background(), func(tx Tx) error {
		entries, err := tx.ListInventory(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, []models.InventoryEntry{
			{AccountID: 1, ItemName: "cup", Quantity: 2},
			{AccountID: 1, ItemName: "pen", Quantity: 1},
		}, entries)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RetriesSerializationFailure(t *testing.T) {
	store, mock := newMockStore(t, 3)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err := store.WithinTx(context.Background(), func(tx Tx) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RetriesExhausted(t *testing.T) {
	store, mock := newMockStore(t, 2)

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40P01"})
	}

	err := store.WithinTx(context.Background(), func(tx Tx) error { return nil })
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DomainErrorIsNotRetried(t *testing.T) {
	store, mock := newMockStore(t, 5)
	rejected := errors.New("rejected")

	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	err := store.WithinTx(context.Background(), func(tx Tx) error {
		calls++
		return rejected
	})
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveBalance_RowsAffectedError(t *testing.T) {
	store, mock := newMockStore(t, 1)
	driverErr := errors.New("rows affected unavailable")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET coins=\\$1 WHERE id=\\$2").
		WithArgs(10, 1).
		WillReturnResult(sqlmock.NewErrorResult(driverErr))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx Tx) error {
		return tx.SaveBalance(context.Background(), models.Account{ID: 1, Coins: 10})
	})
	assert.ErrorIs(t, err, driverErr)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveBalance_MissingRow(t *testing.T) {
	store, mock := newMockStore(t, 1)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET coins=\\$1 WHERE id=\\$2").
		WithArgs(10, 9).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx Tx) error {
		return tx.SaveBalance(context.Background(), models.Account{ID: 9, Coins: 10})
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
