package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"merch-store/internal/db"
	"merch-store/internal/metrics"
	"merch-store/internal/models"
	"merch-store/pkg"

	"go.uber.org/zap"
)

type TransferReceipt struct {
	ID        int
	Sender    string
	Recipient string
	Amount    int
	CreatedAt time.Time
}

type PurchaseReceipt struct {
	Item     string
	Price    int
	Quantity int
}

// LedgerService is the only writer of balances, inventory and the
// transaction log. Both operations run as one atomic unit of the store.
type LedgerService interface {
	// Transfer moves amount coins from the authenticated sender to the account
	// registered under recipientEmail and appends a transaction record.
	Transfer(ctx context.Context, senderID int, recipientEmail, amount string) (TransferReceipt, error)

	// Purchase debits the item price from the user and adds one unit of the
	// item to their inventory. Purchases are not written to the transaction log.
	Purchase(ctx context.Context, userID int, itemName string) (PurchaseReceipt, error)
}

type ledgerService struct {
	store db.Store
	log   pkg.Logger
}

func NewLedgerService(store db.Store, log pkg.Logger) LedgerService {
	return &ledgerService{
		store: store,
		log:   log,
	}
}

// ParseAmount accepts the decimal form of a positive integer.
func ParseAmount(raw string) (int, error) {
	amount, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("%w: got %q", ErrInvalidAmount, raw)
	}
	return amount, nil
}

func (s *ledgerService) Transfer(ctx context.Context, senderID int, recipientEmail, rawAmount string) (receipt TransferReceipt, err error) {
	start := time.Now()
	defer func() { metrics.ObserveLedger("transfer", resultLabel(err), time.Since(start)) }()

	amount, err := ParseAmount(rawAmount)
	if err != nil {
		s.log.Warn("invalid transfer amount", zap.Int("fromUserID", senderID), zap.String("amount", rawAmount))
		return TransferReceipt{}, err
	}
	recipientEmail = strings.TrimSpace(recipientEmail)
	if recipientEmail == "" {
		s.log.Warn("transfer without recipient", zap.Int("fromUserID", senderID))
		return TransferReceipt{}, ErrRecipientRequired
	}

	var record models.TransactionRecord
	err = s.store.WithinTx(ctx, func(tx db.Tx) error {
		recipient, err := tx.GetAccountByEmail(ctx, recipientEmail)
		if errors.Is(err, db.ErrNotFound) {
			return ErrRecipientNotFound
		}
		if err != nil {
			return err
		}
		if recipient.ID == senderID {
			return ErrSelfTransfer
		}

		locked, err := tx.LockAccounts(ctx, senderID, recipient.ID)
		if errors.Is(err, db.ErrNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		sender, recipient := locked[senderID], locked[recipient.ID]
		if sender.Coins < amount {
			return &InsufficientFundsError{AccountID: sender.ID, Available: sender.Coins, Required: amount}
		}

		sender.Coins -= amount
		recipient.Coins += amount
		if err := tx.SaveBalance(ctx, sender); err != nil {
			return err
		}
		if err := tx.SaveBalance(ctx, recipient); err != nil {
			return err
		}

		record = models.TransactionRecord{
			SenderID:       sender.ID,
			SenderEmail:    sender.Email,
			RecipientID:    recipient.ID,
			RecipientEmail: recipient.Email,
			Amount:         amount,
		}
		return tx.AppendTransaction(ctx, &record)
	})
	if err != nil {
		err = classify("transfer", err)
		s.logFailure("failed to send coins", err,
			zap.Int("fromUserID", senderID),
			zap.String("toUser", recipientEmail),
			zap.Int("amount", amount))
		return TransferReceipt{}, err
	}

	s.log.Info("Coins sent successfully",
		zap.Int("transactionID", record.ID),
		zap.Int("fromUserID", senderID),
		zap.String("toUser", record.RecipientEmail),
		zap.Int("amount", amount))
	return TransferReceipt{
		ID:        record.ID,
		Sender:    record.SenderEmail,
		Recipient: record.RecipientEmail,
		Amount:    record.Amount,
		CreatedAt: record.CreatedAt,
	}, nil
}

func (s *ledgerService) Purchase(ctx context.Context, userID int, itemName string) (receipt PurchaseReceipt, err error) {
	start := time.Now()
	defer func() { metrics.ObserveLedger("purchase", resultLabel(err), time.Since(start)) }()

	err = s.store.WithinTx(ctx, func(tx db.Tx) error {
		item, err := tx.GetItemByName(ctx, itemName)
		if errors.Is(err, db.ErrNotFound) {
			return ErrItemNotFound
		}
		if err != nil {
			return err
		}

		locked, err := tx.LockAccounts(ctx, userID)
		if errors.Is(err, db.ErrNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		user := locked[userID]
		if user.Coins < item.Price {
			return &InsufficientFundsError{AccountID: user.ID, Available: user.Coins, Required: item.Price}
		}

		user.Coins -= item.Price
		if err := tx.SaveBalance(ctx, user); err != nil {
			return err
		}
		quantity, err := tx.UpsertIncrement(ctx, user.ID, item)
		if err != nil {
			return err
		}
		receipt = PurchaseReceipt{Item: item.Name, Price: item.Price, Quantity: quantity}
		return nil
	})
	if err != nil {
		err = classify("purchase", err)
		s.logFailure("failed to buy item", err, zap.Int("userID", userID), zap.String("item", itemName))
		return PurchaseReceipt{}, err
	}

	s.log.Info("Item purchased successfully",
		zap.Int("userID", userID),
		zap.String("item", receipt.Item),
		zap.Int("quantity", receipt.Quantity))
	return receipt, nil
}

func (s *ledgerService) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if errors.Is(err, ErrStorage) {
		s.log.Error(msg, fields...)
		return
	}
	s.log.Warn(msg, fields...)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsValidation(err):
		return "validation"
	case IsNotFound(err):
		return "not_found"
	case IsInsufficientFunds(err):
		return "insufficient_funds"
	default:
		return "storage"
	}
}
