// Package economy provides the in-memory ledger used by the server
// binary and tests. Production deployments can swap in any
// implementation of the contracts.Ledger interface.
package economy

import "sync"

type Ledger struct {
	mu       sync.Mutex
	balances map[string]float64
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]float64)}
}

func (l *Ledger) Balance(actor string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[actor]
}

func (l *Ledger) HasFunds(actor string, amount float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[actor] >= amount
}

func (l *Ledger) Deposit(actor string, amount float64) bool {
	if amount < 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[actor] += amount
	return true
}

func (l *Ledger) Withdraw(actor string, amount float64) bool {
	if amount < 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[actor] < amount {
		return false
	}
	l.balances[actor] -= amount
	return true
}
