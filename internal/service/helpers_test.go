package service

import (
	"context"
	"testing"

	"merch-store/internal/db"
	"merch-store/internal/models"
	"merch-store/pkg"

	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *db.Memory
	ledger  LedgerService
	query   QueryService
	catalog CatalogService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := db.NewMemory()
	log := pkg.NewNopLogger()
	f := &fixture{
		store:   store,
		ledger:  NewLedgerService(store, log),
		query:   NewQueryService(store, log),
		catalog: NewCatalogService(store, log),
	}
	_, err := f.catalog.Bootstrap(context.Background(), DefaultCatalog)
	require.NoError(t, err)
	return f
}

func (f *fixture) account(t *testing.T, email string, coins int) models.Account {
	t.Helper()
	var a models.Account
	err := f.store.WithinTx(context.Background(), func(tx db.Tx) error {
		var err error
		a, err = tx.CreateAccount(context.Background(), email, "hash", coins)
		return err
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) coins(t *testing.T, id int) int {
	t.Helper()
	s, err := f.query.GetAccountSummary(context.Background(), id)
	require.NoError(t, err)
	return s.Coins
}
