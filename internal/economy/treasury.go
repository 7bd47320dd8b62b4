package economy

import "sync"

// Treasury accumulates insurance premiums per territory. Actors without
// a home territory sink their premiums (the caller gets ok=false).
type Treasury struct {
	mu          sync.Mutex
	territories map[string]string
	balances    map[string]float64
}

func NewTreasury() *Treasury {
	return &Treasury{
		territories: make(map[string]string),
		balances:    make(map[string]float64),
	}
}

// SetTerritory declares an actor's home territory.
func (t *Treasury) SetTerritory(actor, territory string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if territory == "" {
		delete(t.territories, actor)
		return
	}
	t.territories[actor] = territory
}

func (t *Treasury) Deposit(actor string, amount float64, memo string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	territory, ok := t.territories[actor]
	if !ok {
		return "", false
	}
	t.balances[territory] += amount
	return territory, true
}

func (t *Treasury) Balance(territory string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[territory]
}
