package economy

import "sync"

type reservation struct {
	ShopID   string
	Quantity int
}

// Shops is a minimal in-process stock service: reservations are tied
// 1:1 to contract ids, and completed transactions pay the shop owner.
type Shops struct {
	ledger *Ledger

	mu           sync.Mutex
	owners       map[string]string
	reservations map[string]reservation
}

func NewShops(ledger *Ledger) *Shops {
	return &Shops{
		ledger:       ledger,
		owners:       make(map[string]string),
		reservations: make(map[string]reservation),
	}
}

// RegisterShop associates a shop with its owner for payouts.
func (s *Shops) RegisterShop(shopID, ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[shopID] = ownerID
}

func (s *Shops) ReserveStock(shopID string, qty int, contractID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[contractID] = reservation{ShopID: shopID, Quantity: qty}
}

func (s *Shops) ReleaseReservation(shopID, contractID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reservations, contractID)
}

func (s *Shops) CompleteTransaction(shopID, buyerID string, amount float64) {
	s.mu.Lock()
	owner := s.owners[shopID]
	s.mu.Unlock()
	if owner != "" && s.ledger != nil {
		s.ledger.Deposit(owner, amount)
	}
}

// Reserved returns the quantity held for a contract, 0 when none.
func (s *Shops) Reserved(contractID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reservations[contractID].Quantity
}
