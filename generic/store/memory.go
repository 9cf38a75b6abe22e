// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/rent-advance/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	contracts    map[generic.ContractID]generic.Contract
	payments     map[generic.PaymentID]generic.Payment
	advances     map[generic.AdvanceID]generic.Advance
	consumptions map[generic.AdvanceID][]generic.Consumption

	// unique indexes
	contractNumbers map[string]generic.ContractID
	advanceByPay    map[generic.PaymentID]generic.AdvanceID
	consumed        map[consumedKey]bool
}

type consumedKey struct {
	AdvanceID generic.AdvanceID
	Month     generic.Month
}

func NewMemory() *Memory {
	return &Memory{
		contracts:       make(map[generic.ContractID]generic.Contract),
		payments:        make(map[generic.PaymentID]generic.Payment),
		advances:        make(map[generic.AdvanceID]generic.Advance),
		consumptions:    make(map[generic.AdvanceID][]generic.Consumption),
		contractNumbers: make(map[string]generic.ContractID),
		advanceByPay:    make(map[generic.PaymentID]generic.AdvanceID),
		consumed:        make(map[consumedKey]bool),
	}
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts = make(map[generic.ContractID]generic.Contract)
	m.payments = make(map[generic.PaymentID]generic.Payment)
	m.advances = make(map[generic.AdvanceID]generic.Advance)
	m.consumptions = make(map[generic.AdvanceID][]generic.Consumption)
	m.contractNumbers = make(map[string]generic.ContractID)
	m.advanceByPay = make(map[generic.PaymentID]generic.AdvanceID)
	m.consumed = make(map[consumedKey]bool)
	return nil
}

// =============================================================================
// CONTRACTS
// =============================================================================

func (m *Memory) SaveContract(_ context.Context, c generic.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveContractLocked(c)
}

func (m *Memory) saveContractLocked(c generic.Contract) error {
	if c.Number != "" {
		if owner, ok := m.contractNumbers[c.Number]; ok && owner != c.ID {
			return generic.ErrDuplicateContractNumber
		}
	}
	if prev, ok := m.contracts[c.ID]; ok && prev.Number != c.Number {
		delete(m.contractNumbers, prev.Number)
	}
	m.contracts[c.ID] = c
	if c.Number != "" {
		m.contractNumbers[c.Number] = c.ID
	}
	return nil
}

func (m *Memory) GetContract(_ context.Context, id generic.ContractID) (*generic.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getContractLocked(id)
}

func (m *Memory) getContractLocked(id generic.ContractID) (*generic.Contract, error) {
	c, ok := m.contracts[id]
	if !ok {
		return nil, generic.ErrContractNotFound
	}
	return &c, nil
}

func (m *Memory) ListContracts(_ context.Context) ([]generic.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listContractsLocked(), nil
}

func (m *Memory) listContractsLocked() []generic.Contract {
	result := make([]generic.Contract, 0, len(m.contracts))
	for _, c := range m.contracts {
		if !c.Deleted {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) SavePayment(_ context.Context, p generic.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
	return nil
}

func (m *Memory) GetPayment(_ context.Context, id generic.PaymentID) (*generic.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPaymentLocked(id)
}

func (m *Memory) getPaymentLocked(id generic.PaymentID) (*generic.Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, generic.ErrPaymentNotFound
	}
	return &p, nil
}

func (m *Memory) ListPayments(_ context.Context, contractID generic.ContractID, filter generic.PaymentFilter) ([]generic.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPaymentsLocked(contractID, filter), nil
}

func (m *Memory) listPaymentsLocked(contractID generic.ContractID, filter generic.PaymentFilter) []generic.Payment {
	var result []generic.Payment
	for _, p := range m.payments {
		if p.ContractID != contractID {
			continue
		}
		if filter.Type != "" && p.Type != filter.Type {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && p.PaidMonth().Before(filter.From) {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		mi, mj := result[i].PaidMonth(), result[j].PaidMonth()
		if mi != mj {
			return mi.Before(mj)
		}
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// =============================================================================
// ADVANCES
// =============================================================================

func (m *Memory) CreateAdvance(_ context.Context, a generic.Advance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAdvanceLocked(a)
}

func (m *Memory) createAdvanceLocked(a generic.Advance) error {
	if a.PaymentID != "" {
		if _, ok := m.advanceByPay[a.PaymentID]; ok {
			return generic.ErrDuplicateAdvanceForPayment
		}
		m.advanceByPay[a.PaymentID] = a.ID
	}
	m.advances[a.ID] = a
	return nil
}

func (m *Memory) UpdateAdvance(_ context.Context, a generic.Advance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAdvanceLocked(a)
}

func (m *Memory) updateAdvanceLocked(a generic.Advance) error {
	if _, ok := m.advances[a.ID]; !ok {
		return generic.ErrAdvanceNotFound
	}
	m.advances[a.ID] = a
	return nil
}

func (m *Memory) GetAdvance(_ context.Context, id generic.AdvanceID) (*generic.Advance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAdvanceLocked(id)
}

func (m *Memory) getAdvanceLocked(id generic.AdvanceID) (*generic.Advance, error) {
	a, ok := m.advances[id]
	if !ok {
		return nil, generic.ErrAdvanceNotFound
	}
	return &a, nil
}

func (m *Memory) GetAdvanceByPayment(_ context.Context, paymentID generic.PaymentID) (*generic.Advance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.advanceByPay[paymentID]
	if !ok {
		return nil, generic.ErrAdvanceNotFound
	}
	return m.getAdvanceLocked(id)
}

func (m *Memory) ListAdvances(_ context.Context, contractID generic.ContractID, statuses ...generic.AdvanceStatus) ([]generic.Advance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAdvancesLocked(contractID, statuses), nil
}

func (m *Memory) listAdvancesLocked(contractID generic.ContractID, statuses []generic.AdvanceStatus) []generic.Advance {
	var result []generic.Advance
	for _, a := range m.advances {
		if a.ContractID == contractID && statusIn(a.Status, statuses) {
			result = append(result, a)
		}
	}
	sortAdvances(result)
	return result
}

func (m *Memory) ListContractsWithAdvances(_ context.Context, statuses ...generic.AdvanceStatus) ([]generic.ContractID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listContractsWithAdvancesLocked(statuses), nil
}

func (m *Memory) listContractsWithAdvancesLocked(statuses []generic.AdvanceStatus) []generic.ContractID {
	seen := make(map[generic.ContractID]bool)
	var result []generic.ContractID
	for _, a := range m.advances {
		if !seen[a.ContractID] && statusIn(a.Status, statuses) {
			seen[a.ContractID] = true
			result = append(result, a.ContractID)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

func statusIn(s generic.AdvanceStatus, statuses []generic.AdvanceStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

func sortAdvances(advances []generic.Advance) {
	sort.Slice(advances, func(i, j int) bool {
		if !advances[i].AdvanceDate.Equal(advances[j].AdvanceDate) {
			return advances[i].AdvanceDate.Before(advances[j].AdvanceDate)
		}
		return advances[i].ID < advances[j].ID
	})
}

// =============================================================================
// CONSUMPTIONS
// =============================================================================

func (m *Memory) InsertConsumption(_ context.Context, c generic.Consumption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertConsumptionLocked(c)
}

func (m *Memory) insertConsumptionLocked(c generic.Consumption) error {
	k := consumedKey{AdvanceID: c.AdvanceID, Month: c.Month}
	if m.consumed[k] {
		return generic.ErrAlreadyConsumed
	}
	m.consumed[k] = true

	// Keep ordered by month: binary search for insertion point
	list := m.consumptions[c.AdvanceID]
	i := sort.Search(len(list), func(i int) bool {
		return list[i].Month.After(c.Month)
	})
	list = append(list, generic.Consumption{})
	copy(list[i+1:], list[i:])
	list[i] = c
	m.consumptions[c.AdvanceID] = list
	return nil
}

func (m *Memory) ListConsumptions(_ context.Context, advanceID generic.AdvanceID) ([]generic.Consumption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listConsumptionsLocked(advanceID), nil
}

func (m *Memory) listConsumptionsLocked(advanceID generic.AdvanceID) []generic.Consumption {
	result := make([]generic.Consumption, len(m.consumptions[advanceID]))
	copy(result, m.consumptions[advanceID])
	return result
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized by the store mutex.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	txStore := &txMemoryView{parent: tm.Memory}

	if err := fn(txStore); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	contracts       map[generic.ContractID]generic.Contract
	payments        map[generic.PaymentID]generic.Payment
	advances        map[generic.AdvanceID]generic.Advance
	consumptions    map[generic.AdvanceID][]generic.Consumption
	contractNumbers map[string]generic.ContractID
	advanceByPay    map[generic.PaymentID]generic.AdvanceID
	consumed        map[consumedKey]bool
}

func (tm *TxMemory) snapshot() memorySnapshot {
	consumptions := make(map[generic.AdvanceID][]generic.Consumption, len(tm.consumptions))
	for k, v := range tm.consumptions {
		consumptions[k] = append([]generic.Consumption{}, v...)
	}
	return memorySnapshot{
		contracts:       copyMap(tm.contracts),
		payments:        copyMap(tm.payments),
		advances:        copyMap(tm.advances),
		consumptions:    consumptions,
		contractNumbers: copyMap(tm.contractNumbers),
		advanceByPay:    copyMap(tm.advanceByPay),
		consumed:        copyMap(tm.consumed),
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.contracts = s.contracts
	tm.payments = s.payments
	tm.advances = s.advances
	tm.consumptions = s.consumptions
	tm.contractNumbers = s.contractNumbers
	tm.advanceByPay = s.advanceByPay
	tm.consumed = s.consumed
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// txMemoryView is the Store handed to WithTx callbacks. The parent lock is
// already held, so every method goes straight to the *Locked helpers.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) SaveContract(_ context.Context, c generic.Contract) error {
	return tv.parent.saveContractLocked(c)
}

func (tv *txMemoryView) GetContract(_ context.Context, id generic.ContractID) (*generic.Contract, error) {
	return tv.parent.getContractLocked(id)
}

func (tv *txMemoryView) ListContracts(_ context.Context) ([]generic.Contract, error) {
	return tv.parent.listContractsLocked(), nil
}

func (tv *txMemoryView) SavePayment(_ context.Context, p generic.Payment) error {
	tv.parent.payments[p.ID] = p
	return nil
}

func (tv *txMemoryView) GetPayment(_ context.Context, id generic.PaymentID) (*generic.Payment, error) {
	return tv.parent.getPaymentLocked(id)
}

func (tv *txMemoryView) ListPayments(_ context.Context, contractID generic.ContractID, filter generic.PaymentFilter) ([]generic.Payment, error) {
	return tv.parent.listPaymentsLocked(contractID, filter), nil
}

func (tv *txMemoryView) CreateAdvance(_ context.Context, a generic.Advance) error {
	return tv.parent.createAdvanceLocked(a)
}

func (tv *txMemoryView) UpdateAdvance(_ context.Context, a generic.Advance) error {
	return tv.parent.updateAdvanceLocked(a)
}

func (tv *txMemoryView) GetAdvance(_ context.Context, id generic.AdvanceID) (*generic.Advance, error) {
	return tv.parent.getAdvanceLocked(id)
}

func (tv *txMemoryView) GetAdvanceByPayment(_ context.Context, paymentID generic.PaymentID) (*generic.Advance, error) {
	id, ok := tv.parent.advanceByPay[paymentID]
	if !ok {
		return nil, generic.ErrAdvanceNotFound
	}
	return tv.parent.getAdvanceLocked(id)
}

func (tv *txMemoryView) ListAdvances(_ context.Context, contractID generic.ContractID, statuses ...generic.AdvanceStatus) ([]generic.Advance, error) {
	return tv.parent.listAdvancesLocked(contractID, statuses), nil
}

func (tv *txMemoryView) ListContractsWithAdvances(_ context.Context, statuses ...generic.AdvanceStatus) ([]generic.ContractID, error) {
	return tv.parent.listContractsWithAdvancesLocked(statuses), nil
}

func (tv *txMemoryView) InsertConsumption(_ context.Context, c generic.Consumption) error {
	return tv.parent.insertConsumptionLocked(c)
}

func (tv *txMemoryView) ListConsumptions(_ context.Context, advanceID generic.AdvanceID) ([]generic.Consumption, error) {
	return tv.parent.listConsumptionsLocked(advanceID), nil
}
