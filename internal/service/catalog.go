package service

import (
	"context"
	"fmt"
	"os"
	"strings"

	"merch-store/internal/db"
	"merch-store/internal/models"
	"merch-store/pkg"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultCatalog is seeded when no catalog file is configured.
var DefaultCatalog = []models.CatalogItem{
	{Name: "t-shirt", Price: 80},
	{Name: "cup", Price: 20},
	{Name: "book", Price: 50},
	{Name: "pen", Price: 10},
	{Name: "powerbank", Price: 200},
	{Name: "hoody", Price: 300},
	{Name: "umbrella", Price: 200},
	{Name: "socks", Price: 10},
	{Name: "wallet", Price: 50},
	{Name: "pink-hoody", Price: 500},
}

type CatalogService interface {
	// Bootstrap inserts every item whose name is not in the catalog yet.
	// Running it again with the same items changes nothing.
	Bootstrap(ctx context.Context, items []models.CatalogItem) (int, error)
	ListItems(ctx context.Context) ([]models.CatalogItem, error)
}

type catalogService struct {
	store db.Store
	log   pkg.Logger
}

func NewCatalogService(store db.Store, log pkg.Logger) CatalogService {
	return &catalogService{
		store: store,
		log:   log,
	}
}

func (s *catalogService) Bootstrap(ctx context.Context, items []models.CatalogItem) (int, error) {
	items = append([]models.CatalogItem(nil), items...)
	for i := range items {
		items[i].Name = strings.TrimSpace(items[i].Name)
		if items[i].Name == "" || items[i].Price <= 0 {
			return 0, fmt.Errorf("%w: %q priced %d", ErrInvalidCatalogItem, items[i].Name, items[i].Price)
		}
	}

	var inserted int
	err := s.store.WithinTx(ctx, func(tx db.Tx) error {
		inserted = 0
		for _, it := range items {
			ok, err := tx.InsertItemIfAbsent(ctx, it)
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		err = classify("catalog bootstrap", err)
		s.log.Error("failed to bootstrap catalog", zap.Error(err))
		return 0, err
	}
	s.log.Info("Catalog bootstrapped", zap.Int("inserted", inserted), zap.Int("total", len(items)))
	return inserted, nil
}

func (s *catalogService) ListItems(ctx context.Context) ([]models.CatalogItem, error) {
	var items []models.CatalogItem
	err := s.store.WithinSnapshot(ctx, func(tx db.Tx) error {
		var err error
		items, err = tx.ListItems(ctx)
		return err
	})
	if err != nil {
		return nil, classify("list catalog", err)
	}
	return items, nil
}

// LoadCatalogFile reads a YAML list of {name, price} entries.
func LoadCatalogFile(path string) ([]models.CatalogItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	var items []models.CatalogItem
	if err := yaml.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("catalog file %s has no items", path)
	}
	return items, nil
}
