package models

import "time"

// DefaultCoins is the balance every account starts with.
const DefaultCoins = 1000

type Account struct {
	ID           int
	Email        string
	PasswordHash string
	Coins        int
	CreatedAt    time.Time
}

type CatalogItem struct {
	ID    int    `yaml:"-"`
	Name  string `yaml:"name"`
	Price int    `yaml:"price"`
}

type InventoryEntry struct {
	AccountID int
	ItemName  string
	Quantity  int
}

// TransactionRecord is an immutable coin movement between two accounts.
// ID and CreatedAt are assigned by the store when the record is appended.
type TransactionRecord struct {
	ID             int
	SenderID       int
	SenderEmail    string
	RecipientID    int
	RecipientEmail string
	Amount         int
	CreatedAt      time.Time
}
