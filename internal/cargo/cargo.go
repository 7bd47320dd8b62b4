// Package cargo tracks the soulbound token a transporter carries for
// each accepted contract. A token holds only the contract id; contract
// data stays in the registry.
package cargo

import "sync"

type Tokens struct {
	mu sync.Mutex
	// byContract: contract id -> holder actor id.
	byContract map[string]string
	// byActor: actor id -> set of contract ids.
	byActor map[string]map[string]struct{}
}

func NewTokens() *Tokens {
	return &Tokens{
		byContract: make(map[string]string),
		byActor:    make(map[string]map[string]struct{}),
	}
}

func (t *Tokens) Grant(actor, contractID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byContract[contractID] = actor
	set := t.byActor[actor]
	if set == nil {
		set = make(map[string]struct{})
		t.byActor[actor] = set
	}
	set[contractID] = struct{}{}
}

func (t *Tokens) Revoke(actor, contractID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if holder, ok := t.byContract[contractID]; !ok || holder != actor {
		return
	}
	delete(t.byContract, contractID)
	if set := t.byActor[actor]; set != nil {
		delete(set, contractID)
		if len(set) == 0 {
			delete(t.byActor, actor)
		}
	}
}

// Holder returns the actor carrying the token for a contract.
func (t *Tokens) Holder(contractID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	actor, ok := t.byContract[contractID]
	return actor, ok
}

// Held lists the contract ids an actor is carrying.
func (t *Tokens) Held(actor string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.byActor[actor]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
