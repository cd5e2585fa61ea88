package service

import (
	"context"
	"errors"
	"time"

	"merch-store/internal/db"
	"merch-store/pkg"

	"go.uber.org/zap"
)

type Summary struct {
	Coins       int
	Inventory   []InventoryItem
	CoinHistory CoinHistory
}

type InventoryItem struct {
	Type     string
	Quantity int
}

type CoinHistory struct {
	Received []HistoryEntry
	Sent     []HistoryEntry
}

// HistoryEntry is one side of a transfer: Counterparty is the sender for
// received coins and the recipient for sent coins.
type HistoryEntry struct {
	ID           int
	Counterparty string
	Amount       int
	CreatedAt    time.Time
}

type QueryService interface {
	GetAccountSummary(ctx context.Context, accountID int) (Summary, error)
}

type queryService struct {
	store db.Store
	log   pkg.Logger
}

func NewQueryService(store db.Store, log pkg.Logger) QueryService {
	return &queryService{
		store: store,
		log:   log,
	}
}

// GetAccountSummary reads balance, inventory and history from one snapshot,
// so a concurrent transfer is either fully reflected or not at all.
func (s *queryService) GetAccountSummary(ctx context.Context, accountID int) (Summary, error) {
	var info Summary
	err := s.store.WithinSnapshot(ctx, func(tx db.Tx) error {
		info = Summary{}
		account, err := tx.GetAccountByID(ctx, accountID)
		if errors.Is(err, db.ErrNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		info.Coins = account.Coins

		entries, err := tx.ListInventory(ctx, accountID)
		if err != nil {
			return err
		}
		info.Inventory = make([]InventoryItem, 0, len(entries))
		for _, e := range entries {
			info.Inventory = append(info.Inventory, InventoryItem{Type: e.ItemName, Quantity: e.Quantity})
		}

		received, err := tx.ListReceivedBy(ctx, accountID)
		if err != nil {
			return err
		}
		info.CoinHistory.Received = make([]HistoryEntry, 0, len(received))
		for _, r := range received {
			info.CoinHistory.Received = append(info.CoinHistory.Received, HistoryEntry{
				ID:           r.ID,
				Counterparty: r.SenderEmail,
				Amount:       r.Amount,
				CreatedAt:    r.CreatedAt,
			})
		}

		sent, err := tx.ListSentBy(ctx, accountID)
		if err != nil {
			return err
		}
		info.CoinHistory.Sent = make([]HistoryEntry, 0, len(sent))
		for _, r := range sent {
			info.CoinHistory.Sent = append(info.CoinHistory.Sent, HistoryEntry{
				ID:           r.ID,
				Counterparty: r.RecipientEmail,
				Amount:       r.Amount,
				CreatedAt:    r.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		err = classify("account summary", err)
		if errors.Is(err, ErrStorage) {
			s.log.Error("failed to get user info", zap.Int("userID", accountID), zap.Error(err))
		} else {
			s.log.Warn("failed to get user info", zap.Int("userID", accountID), zap.Error(err))
		}
		return Summary{}, err
	}
	return info, nil
}
