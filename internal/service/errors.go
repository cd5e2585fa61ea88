package service

import (
	"errors"
	"fmt"
)

// Failure categories. Every error returned by the ledger, query and catalog
// services matches exactly one of them with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrStorage           = errors.New("storage failure")

	ErrInvalidCredentials = errors.New("invalid credentials")
)

var (
	ErrInvalidAmount      = fmt.Errorf("%w: amount must be a positive integer", ErrValidation)
	ErrRecipientRequired  = fmt.Errorf("%w: recipient is required", ErrValidation)
	ErrSelfTransfer       = fmt.Errorf("%w: cannot send coins to yourself", ErrValidation)
	ErrInvalidCatalogItem = fmt.Errorf("%w: catalog item needs a name and a positive price", ErrValidation)

	ErrRecipientNotFound = fmt.Errorf("recipient %w", ErrNotFound)
	ErrItemNotFound      = fmt.Errorf("item %w", ErrNotFound)
	ErrAccountNotFound   = fmt.Errorf("account %w", ErrNotFound)
)

// InsufficientFundsError carries the shortfall of a rejected debit.
type InsufficientFundsError struct {
	AccountID int
	Available int
	Required  int
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: account %d has %d coins, needs %d",
		e.AccountID, e.Available, e.Required)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// StorageError wraps a failure of the underlying store. The unit it happened
// in has been rolled back.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: storage failure: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsInsufficientFunds(err error) bool { return errors.Is(err, ErrInsufficientFunds) }

// classify passes domain errors through and wraps everything else (driver
// errors, exhausted retries, cancellation) as a StorageError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsValidation(err) || IsNotFound(err) || IsInsufficientFunds(err) ||
		errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
