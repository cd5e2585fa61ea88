package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"merch-store/internal/config"
	"merch-store/internal/models"

	_ "github.com/lib/pq"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrAccountExists    = errors.New("account already exists")
	ErrNotLocked        = errors.New("account is not locked by this transaction")
	ErrReadOnly         = errors.New("write attempted in a read-only snapshot")
	ErrRetriesExhausted = errors.New("transaction retries exhausted")
)

// Store runs atomic units of work. Every mutation of balances, inventory and
// the transaction log happens inside WithinTx; if fn returns an error nothing
// it did becomes visible.
type Store interface {
	WithinTx(ctx context.Context, fn func(Tx) error) error
	// WithinSnapshot gives fn a read-only view of a single committed state.
	WithinSnapshot(ctx context.Context, fn func(Tx) error) error
	Close() error
}

type AccountStore interface {
	CreateAccount(ctx context.Context, email, passwordHash string, coins int) (models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (models.Account, error)
	GetAccountByID(ctx context.Context, id int) (models.Account, error)
	// LockAccounts takes exclusive locks on the given accounts in ascending id
	// order and returns their current state. Call it once per unit with every
	// account the unit will write.
	LockAccounts(ctx context.Context, ids ...int) (map[int]models.Account, error)
	SaveBalance(ctx context.Context, account models.Account) error
}

type Catalog interface {
	GetItemByName(ctx context.Context, name string) (models.CatalogItem, error)
	ListItems(ctx context.Context) ([]models.CatalogItem, error)
	InsertItemIfAbsent(ctx context.Context, item models.CatalogItem) (bool, error)
}

type InventoryStore interface {
	// UpsertIncrement adds one unit of item to the account and returns the new quantity.
	UpsertIncrement(ctx context.Context, accountID int, item models.CatalogItem) (int, error)
	ListInventory(ctx context.Context, accountID int) ([]models.InventoryEntry, error)
}

type TransactionLog interface {
	// AppendTransaction fills rec.ID and rec.CreatedAt. Stores that stamp on
	// commit fill them when WithinTx returns without error.
	AppendTransaction(ctx context.Context, rec *models.TransactionRecord) error
	ListSentBy(ctx context.Context, accountID int) ([]models.TransactionRecord, error)
	ListReceivedBy(ctx context.Context, accountID int) ([]models.TransactionRecord, error)
}

// Tx is the view of all stores inside one atomic unit.
type Tx interface {
	AccountStore
	Catalog
	InventoryStore
	TransactionLog
}

func Connect(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DatabaseMaxConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
