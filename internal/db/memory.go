package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"merch-store/internal/models"
)

type inventoryKey struct {
	AccountID int
	ItemName  string
}

// Memory is an in-process Store. Each account has its own lock, taken in id
// order by LockAccounts, so units on disjoint accounts run in parallel. Writes
// are staged on the unit and applied under mu only when fn succeeds and the
// context is still live.
type Memory struct {
	mu        sync.RWMutex
	accounts  map[int]models.Account
	byEmail   map[string]int
	items     map[string]models.CatalogItem
	inventory map[inventoryKey]int
	log       []models.TransactionRecord

	seqMu     sync.Mutex
	accountID int
	itemID    int
	txID      int

	locksMu sync.Mutex
	locks   map[int]chan struct{}

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		accounts:  make(map[int]models.Account),
		byEmail:   make(map[string]int),
		items:     make(map[string]models.CatalogItem),
		inventory: make(map[inventoryKey]int),
		locks:     make(map[int]chan struct{}),
		now:       time.Now,
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) WithinTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newMemoryTx(m)
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

func (m *Memory) WithinSnapshot(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memoryTx{m: m, snapshot: true})
}

func (m *Memory) next(seq *int) int {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	*seq++
	return *seq
}

func (m *Memory) lockFor(id int) chan struct{} {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	ch, ok := m.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[id] = ch
	}
	return ch
}

type memoryTx struct {
	m        *Memory
	snapshot bool

	held      map[int]chan struct{}
	accounts  map[int]models.Account
	newEmails map[string]int
	items     []models.CatalogItem
	inventory map[inventoryKey]int
	records   []*models.TransactionRecord
}

func newMemoryTx(m *Memory) *memoryTx {
	return &memoryTx{
		m:         m,
		held:      make(map[int]chan struct{}),
		accounts:  make(map[int]models.Account),
		newEmails: make(map[string]int),
		inventory: make(map[inventoryKey]int),
	}
}

// read runs f against committed state. A snapshot already holds the read lock.
func (t *memoryTx) read(f func()) {
	if t.snapshot {
		f()
		return
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	f()
}

func (t *memoryTx) writable() error {
	if t.snapshot {
		return ErrReadOnly
	}
	return nil
}

func (t *memoryTx) release() {
	for _, ch := range t.held {
		<-ch
	}
	t.held = nil
}

func (t *memoryTx) commit() error {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for email := range t.newEmails {
		if _, ok := m.byEmail[email]; ok {
			return ErrAccountExists
		}
	}
	for id, a := range t.accounts {
		m.accounts[id] = a
	}
	for email, id := range t.newEmails {
		m.byEmail[email] = id
	}
	for _, it := range t.items {
		if _, ok := m.items[it.Name]; !ok {
			m.items[it.Name] = it
		}
	}
	for k, q := range t.inventory {
		m.inventory[k] = q
	}
	// ids and timestamps follow commit order
	for _, rec := range t.records {
		rec.ID = m.next(&m.txID)
		rec.CreatedAt = m.now()
		m.log = append(m.log, *rec)
	}
	return nil
}

func (t *memoryTx) account(id int) (models.Account, bool) {
	if a, ok := t.accounts[id]; ok {
		return a, true
	}
	var (
		a  models.Account
		ok bool
	)
	t.read(func() { a, ok = t.m.accounts[id] })
	return a, ok
}

func (t *memoryTx) CreateAccount(ctx context.Context, email, passwordHash string, coins int) (models.Account, error) {
	if err := t.writable(); err != nil {
		return models.Account{}, err
	}
	if _, err := t.GetAccountByEmail(ctx, email); err == nil {
		return models.Account{}, ErrAccountExists
	}
	a := models.Account{
		ID:           t.m.next(&t.m.accountID),
		Email:        email,
		PasswordHash: passwordHash,
		Coins:        coins,
		CreatedAt:    t.m.now(),
	}
	t.accounts[a.ID] = a
	t.newEmails[email] = a.ID
	return a, nil
}

func (t *memoryTx) GetAccountByEmail(_ context.Context, email string) (models.Account, error) {
	id, ok := t.newEmails[email]
	if !ok {
		t.read(func() { id, ok = t.m.byEmail[email] })
	}
	if !ok {
		return models.Account{}, fmt.Errorf("failed to get account by email %q: %w", email, ErrNotFound)
	}
	a, _ := t.account(id)
	return a, nil
}

func (t *memoryTx) GetAccountByID(_ context.Context, id int) (models.Account, error) {
	a, ok := t.account(id)
	if !ok {
		return models.Account{}, fmt.Errorf("failed to get account %d: %w", id, ErrNotFound)
	}
	return a, nil
}

func (t *memoryTx) LockAccounts(ctx context.Context, ids ...int) (map[int]models.Account, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	locked := make(map[int]models.Account, len(ids))
	for _, id := range sortedUnique(ids) {
		if _, ok := t.held[id]; !ok {
			ch := t.m.lockFor(id)
			select {
			case ch <- struct{}{}:
				t.held[id] = ch
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		a, ok := t.account(id)
		if !ok {
			return nil, fmt.Errorf("failed to lock account %d: %w", id, ErrNotFound)
		}
		locked[id] = a
	}
	return locked, nil
}

func (t *memoryTx) SaveBalance(_ context.Context, account models.Account) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.held[account.ID]; !ok {
		return fmt.Errorf("failed to save balance for account %d: %w", account.ID, ErrNotLocked)
	}
	a, ok := t.account(account.ID)
	if !ok {
		return fmt.Errorf("failed to save balance for account %d: %w", account.ID, ErrNotFound)
	}
	a.Coins = account.Coins
	t.accounts[a.ID] = a
	return nil
}

func (t *memoryTx) GetItemByName(_ context.Context, name string) (models.CatalogItem, error) {
	var (
		it models.CatalogItem
		ok bool
	)
	t.read(func() { it, ok = t.m.items[name] })
	if !ok {
		for _, staged := range t.items {
			if staged.Name == name {
				return staged, nil
			}
		}
		return models.CatalogItem{}, fmt.Errorf("failed to get item %q: %w", name, ErrNotFound)
	}
	return it, nil
}

func (t *memoryTx) ListItems(_ context.Context) ([]models.CatalogItem, error) {
	var items []models.CatalogItem
	t.read(func() {
		for _, it := range t.m.items {
			items = append(items, it)
		}
	})
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (t *memoryTx) InsertItemIfAbsent(ctx context.Context, item models.CatalogItem) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	if _, err := t.GetItemByName(ctx, item.Name); err == nil {
		return false, nil
	}
	item.ID = t.m.next(&t.m.itemID)
	t.items = append(t.items, item)
	return true, nil
}

func (t *memoryTx) UpsertIncrement(_ context.Context, accountID int, item models.CatalogItem) (int, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	if _, ok := t.held[accountID]; !ok {
		return 0, fmt.Errorf("failed to increase item %q for account %d: %w", item.Name, accountID, ErrNotLocked)
	}
	k := inventoryKey{AccountID: accountID, ItemName: item.Name}
	q, ok := t.inventory[k]
	if !ok {
		t.read(func() { q = t.m.inventory[k] })
	}
	q++
	t.inventory[k] = q
	return q, nil
}

func (t *memoryTx) ListInventory(_ context.Context, accountID int) ([]models.InventoryEntry, error) {
	merged := make(map[string]int)
	t.read(func() {
		for k, q := range t.m.inventory {
			if k.AccountID == accountID {
				merged[k.ItemName] = q
			}
		}
	})
	for k, q := range t.inventory {
		if k.AccountID == accountID {
			merged[k.ItemName] = q
		}
	}
	entries := make([]models.InventoryEntry, 0, len(merged))
	for name, q := range merged {
		entries = append(entries, models.InventoryEntry{AccountID: accountID, ItemName: name, Quantity: q})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ItemName < entries[j].ItemName })
	return entries, nil
}

func (t *memoryTx) AppendTransaction(_ context.Context, rec *models.TransactionRecord) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.records = append(t.records, rec)
	return nil
}

func (t *memoryTx) ListSentBy(_ context.Context, accountID int) ([]models.TransactionRecord, error) {
	return t.listTransactions(func(r models.TransactionRecord) bool { return r.SenderID == accountID }), nil
}

func (t *memoryTx) ListReceivedBy(_ context.Context, accountID int) ([]models.TransactionRecord, error) {
	return t.listTransactions(func(r models.TransactionRecord) bool { return r.RecipientID == accountID }), nil
}

// listTransactions returns committed records in commit order followed by the
// ones staged on this unit, which are not stamped yet.
func (t *memoryTx) listTransactions(match func(models.TransactionRecord) bool) []models.TransactionRecord {
	var out []models.TransactionRecord
	t.read(func() {
		for _, r := range t.m.log {
			if match(r) {
				out = append(out, r)
			}
		}
	})
	for _, r := range t.records {
		if match(*r) {
			out = append(out, *r)
		}
	}
	return out
}
