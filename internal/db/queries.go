package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"merch-store/internal/models"

	"github.com/lib/pq"
)

// Postgres is the Store backed by a postgres database. Account rows are locked
// with SELECT ... FOR UPDATE, so units touching disjoint accounts proceed in
// parallel.
type Postgres struct {
	db    *sql.DB
	retry RetryPolicy
}

func NewPostgres(dbConn *sql.DB, retry RetryPolicy) *Postgres {
	return &Postgres{
		db:    dbConn,
		retry: retry,
	}
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) WithinTx(ctx context.Context, fn func(Tx) error) error {
	return p.retry.Do(ctx, func() error {
		return p.run(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, fn)
	})
}

func (p *Postgres) WithinSnapshot(ctx context.Context, fn func(Tx) error) error {
	return p.retry.Do(ctx, func() error {
		return p.run(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, fn)
	})
}

func (p *Postgres) run(ctx context.Context, opts *sql.TxOptions, fn func(Tx) error) error {
	tx, err := p.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

const accountColumns = "id, email, password_hash, coins, created_at"

func scanAccount(row interface{ Scan(...any) error }) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Coins, &a.CreatedAt)
	return a, err
}

func (t *pgTx) CreateAccount(ctx context.Context, email, passwordHash string, coins int) (models.Account, error) {
	row := t.tx.QueryRowContext(ctx,
		"INSERT INTO users (email, password_hash, coins) VALUES ($1, $2, $3) RETURNING "+accountColumns,
		email, passwordHash, coins)
	a, err := scanAccount(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation {
			return models.Account{}, ErrAccountExists
		}
		return models.Account{}, fmt.Errorf("failed to create account %q: %w", email, err)
	}
	return a, nil
}

func (t *pgTx) GetAccountByEmail(ctx context.Context, email string) (models.Account, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM users WHERE email=$1", email)
	a, err := scanAccount(row)
	if err != nil {
		return models.Account{}, notFound(err, "failed to get account by email %q", email)
	}
	return a, nil
}

func (t *pgTx) GetAccountByID(ctx context.Context, id int) (models.Account, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM users WHERE id=$1", id)
	a, err := scanAccount(row)
	if err != nil {
		return models.Account{}, notFound(err, "failed to get account %d", id)
	}
	return a, nil
}

func (t *pgTx) LockAccounts(ctx context.Context, ids ...int) (map[int]models.Account, error) {
	locked := make(map[int]models.Account, len(ids))
	for _, id := range sortedUnique(ids) {
		row := t.tx.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM users WHERE id=$1 FOR UPDATE", id)
		a, err := scanAccount(row)
		if err != nil {
			return nil, notFound(err, "failed to lock account %d", id)
		}
		locked[id] = a
	}
	return locked, nil
}

func (t *pgTx) SaveBalance(ctx context.Context, account models.Account) error {
	res, err := t.tx.ExecContext(ctx, "UPDATE users SET coins=$1 WHERE id=$2", account.Coins, account.ID)
	if err != nil {
		return fmt.Errorf("failed to save balance for account %d: %w", account.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save balance for account %d: %w", account.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to save balance for account %d: %w", account.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) GetItemByName(ctx context.Context, name string) (models.CatalogItem, error) {
	var it models.CatalogItem
	err := t.tx.QueryRowContext(ctx, "SELECT id, name, price FROM items WHERE name=$1", name).
		Scan(&it.ID, &it.Name, &it.Price)
	if err != nil {
		return models.CatalogItem{}, notFound(err, "failed to get item %q", name)
	}
	return it, nil
}

func (t *pgTx) ListItems(ctx context.Context) ([]models.CatalogItem, error) {
	rows, err := t.tx.QueryContext(ctx, "SELECT id, name, price FROM items ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []models.CatalogItem
	for rows.Next() {
		var it models.CatalogItem
		if err := rows.Scan(&it.ID, &it.Name, &it.Price); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (t *pgTx) InsertItemIfAbsent(ctx context.Context, item models.CatalogItem) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		"INSERT INTO items (name, price) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING",
		item.Name, item.Price)
	if err != nil {
		return false, fmt.Errorf("failed to insert item %q: %w", item.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert item %q: %w", item.Name, err)
	}
	return n > 0, nil
}

func (t *pgTx) UpsertIncrement(ctx context.Context, accountID int, item models.CatalogItem) (int, error) {
	var quantity int
	err := t.tx.QueryRowContext(ctx, `
INSERT INTO inventories (user_id, item_id, quantity) VALUES ($1, $2, 1)
ON CONFLICT (user_id, item_id) DO UPDATE SET quantity = inventories.quantity + 1
RETURNING quantity`, accountID, item.ID).Scan(&quantity)
	if err != nil {
		return 0, fmt.Errorf("failed to increase item %q for account %d: %w", item.Name, accountID, err)
	}
	return quantity, nil
}

func (t *pgTx) ListInventory(ctx context.Context, accountID int) ([]models.InventoryEntry, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT i.name, inv.quantity
FROM inventories inv
JOIN items i ON i.id = inv.item_id
WHERE inv.user_id=$1
ORDER BY i.name`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	defer rows.Close()

	var entries []models.InventoryEntry
	for rows.Next() {
		e := models.InventoryEntry{AccountID: accountID}
		if err := rows.Scan(&e.ItemName, &e.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan inventory: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AppendTransaction stamps the record when the row is inserted, which may
// precede the commit of the unit.
func (t *pgTx) AppendTransaction(ctx context.Context, rec *models.TransactionRecord) error {
	err := t.tx.QueryRowContext(ctx,
		"INSERT INTO coin_transactions (sender_id, recipient_id, amount) VALUES ($1, $2, $3) RETURNING id, created_at",
		rec.SenderID, rec.RecipientID, rec.Amount).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

const transactionSelect = `
SELECT t.id, t.sender_id, s.email, t.recipient_id, r.email, t.amount, t.created_at
FROM coin_transactions t
JOIN users s ON s.id = t.sender_id
JOIN users r ON r.id = t.recipient_id
`

func (t *pgTx) ListSentBy(ctx context.Context, accountID int) ([]models.TransactionRecord, error) {
	return t.listTransactions(ctx, "sent", transactionSelect+"WHERE t.sender_id=$1 ORDER BY t.created_at, t.id", accountID)
}

func (t *pgTx) ListReceivedBy(ctx context.Context, accountID int) ([]models.TransactionRecord, error) {
	return t.listTransactions(ctx, "received", transactionSelect+"WHERE t.recipient_id=$1 ORDER BY t.created_at, t.id", accountID)
}

func (t *pgTx) listTransactions(ctx context.Context, kind, query string, accountID int) ([]models.TransactionRecord, error) {
	rows, err := t.tx.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s transactions: %w", kind, err)
	}
	defer rows.Close()

	var records []models.TransactionRecord
	for rows.Next() {
		var r models.TransactionRecord
		if err := rows.Scan(&r.ID, &r.SenderID, &r.SenderEmail, &r.RecipientID, &r.RecipientEmail, &r.Amount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s transaction: %w", kind, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func sortedUnique(ids []int) []int {
	out := append([]int(nil), ids...)
	sort.Ints(out)
	n := 0
	for i, id := range out {
		if i == 0 || id != out[n-1] {
			out[n] = id
			n++
		}
	}
	return out[:n]
}
