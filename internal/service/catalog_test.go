package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"merch-store/internal/db"
	"merch-store/internal/models"
	"merch-store/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogBootstrap_Idempotent(t *testing.T) {
	store := db.NewMemory()
	catalog := NewCatalogService(store, pkg.NewNopLogger())

	inserted, err := catalog.Bootstrap(context.Background(), DefaultCatalog)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultCatalog), inserted)

	inserted, err = catalog.Bootstrap(context.Background(), DefaultCatalog)
	require.NoError(t, err)
	assert.Zero(t, inserted)

	items, err := catalog.ListItems(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, len(DefaultCatalog))
}

func TestCatalogBootstrap_DuplicateNamesInInput(t *testing.T) {
	catalog := NewCatalogService(db.NewMemory(), pkg.NewNopLogger())

	inserted, err := catalog.Bootstrap(context.Background(), []models.CatalogItem{
		{Name: "cup", Price: 20},
		{Name: "cup", Price: 25},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
}

func TestCatalogBootstrap_RejectsInvalidItems(t *testing.T) {
	catalog := NewCatalogService(db.NewMemory(), pkg.NewNopLogger())

	for _, it := range []models.CatalogItem{{Name: "", Price: 10}, {Name: "cup", Price: 0}, {Name: "mug", Price: -1}} {
		_, err := catalog.Bootstrap(context.Background(), []models.CatalogItem{it})
		assert.ErrorIs(t, err, ErrInvalidCatalogItem)
	}

	items, err := catalog.ListItems(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- name: sticker\n  price: 5\n- name: mug\n  price: 40\n"), 0o600))

	items, err := LoadCatalogFile(path)
	require.NoError(t, err)
	assert.Equal(t, []models.CatalogItem{{Name: "sticker", Price: 5}, {Name: "mug", Price: 40}}, items)
}

func TestLoadCatalogFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("[]\n"), 0o600))

	_, err := LoadCatalogFile(path)
	assert.Error(t, err)
}
