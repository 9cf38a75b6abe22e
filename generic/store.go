/*
store.go - Persistence ports for contracts, payments, advances and consumptions

PURPOSE:
  Defines the interface between the engine and the database. The engine
  only sees these ports; their table layout is the store's business.

KEY INTERFACES:
  ContractStore:    contract lookup (rent, start date, active flags)
  PaymentStore:     payment history queries
  AdvanceStore:     advance create/read/update by contract and status
  ConsumptionStore: append-only consumption records
  TxStore:          all of the above plus atomic multi-write transactions

UNIQUENESS CONTRACT:
  Stores MUST enforce, at the storage level:
  - one consumption per (advance_id, month)       -> ErrAlreadyConsumed
  - one advance per funding payment_id            -> ErrDuplicateAdvanceForPayment
  - one contract per contract number              -> ErrDuplicateContractNumber
  Application-level "check then create" is never relied upon.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing
*/
package generic

import (
	"context"
	"time"
)

// ContractStore reads and writes contracts.
type ContractStore interface {
	// SaveContract inserts or updates a contract.
	SaveContract(ctx context.Context, c Contract) error

	// GetContract returns ErrContractNotFound when id is unknown.
	GetContract(ctx context.Context, id ContractID) (*Contract, error)

	// ListContracts returns all contracts that are not soft-deleted.
	ListContracts(ctx context.Context) ([]Contract, error)
}

// PaymentStore reads and writes payments.
type PaymentStore interface {
	SavePayment(ctx context.Context, p Payment) error

	// GetPayment returns ErrPaymentNotFound when id is unknown.
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)

	// ListPayments returns the contract's payments matching filter,
	// ordered by paid month then date, oldest first.
	ListPayments(ctx context.Context, contractID ContractID, filter PaymentFilter) ([]Payment, error)
}

// AdvanceStore reads and writes advances. Advances are never deleted.
type AdvanceStore interface {
	// CreateAdvance returns ErrDuplicateAdvanceForPayment when the funding
	// payment already has an advance.
	CreateAdvance(ctx context.Context, a Advance) error

	// UpdateAdvance persists balance, status and notes changes.
	UpdateAdvance(ctx context.Context, a Advance) error

	// GetAdvance returns ErrAdvanceNotFound when id is unknown.
	GetAdvance(ctx context.Context, id AdvanceID) (*Advance, error)

	// GetAdvanceByPayment returns ErrAdvanceNotFound when no advance is linked.
	GetAdvanceByPayment(ctx context.Context, paymentID PaymentID) (*Advance, error)

	// ListAdvances returns the contract's advances ordered by advance date,
	// oldest first. An empty statuses list means all statuses.
	ListAdvances(ctx context.Context, contractID ContractID, statuses ...AdvanceStatus) ([]Advance, error)

	// ListContractsWithAdvances returns contract IDs owning at least one
	// advance in one of statuses (all statuses if empty).
	ListContractsWithAdvances(ctx context.Context, statuses ...AdvanceStatus) ([]ContractID, error)
}

// ConsumptionStore holds append-only consumption records.
type ConsumptionStore interface {
	// InsertConsumption returns ErrAlreadyConsumed when (AdvanceID, Month)
	// already exists.
	InsertConsumption(ctx context.Context, c Consumption) error

	// ListConsumptions returns the advance's consumptions ordered by month.
	ListConsumptions(ctx context.Context, advanceID AdvanceID) ([]Consumption, error)
}

// Store groups every port.
type Store interface {
	ContractStore
	PaymentStore
	AdvanceStore
	ConsumptionStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// RecentlyExhausted reports whether a was exhausted within window of now.
func RecentlyExhausted(a Advance, now time.Time, window time.Duration) bool {
	if a.Status != AdvanceExhausted || a.ExhaustedAt == nil {
		return false
	}
	return !a.ExhaustedAt.Before(now.Add(-window))
}
