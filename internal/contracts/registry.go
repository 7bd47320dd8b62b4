package contracts

import (
	"sync"
	"time"
)

// bucketIndex is one secondary index: key -> set of contract ids.
// Empty buckets are removed so one-off parties and regions do not grow
// the key space forever.
type bucketIndex struct {
	mu      sync.RWMutex
	buckets map[string]map[string]struct{}
}

func (ix *bucketIndex) add(key, id string) {
	if key == "" {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.buckets == nil {
		ix.buckets = make(map[string]map[string]struct{})
	}
	b := ix.buckets[key]
	if b == nil {
		b = make(map[string]struct{})
		ix.buckets[key] = b
	}
	b[id] = struct{}{}
}

func (ix *bucketIndex) remove(key, id string) {
	if key == "" {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	b := ix.buckets[key]
	if b == nil {
		return
	}
	delete(b, id)
	if len(b) == 0 {
		delete(ix.buckets, key)
	}
}

func (ix *bucketIndex) ids(key string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	b := ix.buckets[key]
	if len(b) == 0 {
		return nil
	}
	out := make([]string, 0, len(b))
	for id := range b {
		out = append(out, id)
	}
	return out
}

func (ix *bucketIndex) keyCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.buckets)
}

type entry struct {
	mu sync.Mutex
	c  Contract
}

// Registry is the concurrency-safe store of all live contracts plus
// secondary indexes. It holds no business logic; the Manager is the
// only component that mutates lifecycle fields, and it does so through
// Apply so index maintenance is part of the same step.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*entry

	byBuyer       bucketIndex
	byTransporter bucketIndex
	byShopOwner   bucketIndex
	byOrigin      bucketIndex
	byDestination bucketIndex
	byState       bucketIndex
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*entry)}
}

func (r *Registry) Register(c Contract) {
	e := &entry{c: c.clone()}

	r.mu.Lock()
	r.byID[c.ID] = e
	r.mu.Unlock()

	r.byBuyer.add(c.Buyer, c.ID)
	if c.Transporter.Assigned() {
		r.byTransporter.add(c.Transporter.ID(), c.ID)
	}
	r.byShopOwner.add(c.ShopOwner, c.ID)
	r.byOrigin.add(c.OriginRegion, c.ID)
	r.byDestination.add(c.DestinationRegion, c.ID)
	r.byState.add(string(c.State), c.ID)
}

// Unregister removes the contract from the primary map and every index.
// No-op when the id is absent.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	e, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	c := e.c
	e.mu.Unlock()

	r.byBuyer.remove(c.Buyer, id)
	if c.Transporter.Assigned() {
		r.byTransporter.remove(c.Transporter.ID(), id)
	}
	r.byShopOwner.remove(c.ShopOwner, id)
	r.byOrigin.remove(c.OriginRegion, id)
	r.byDestination.remove(c.DestinationRegion, id)
	r.byState.remove(string(c.State), id)
}

// UpdateIndexes moves the id between index buckets after an in-place
// state or transporter mutation. Apply calls this automatically.
func (r *Registry) UpdateIndexes(c *Contract, oldState State, oldTransporter TransporterRef) {
	if oldState != c.State {
		r.byState.remove(string(oldState), c.ID)
		r.byState.add(string(c.State), c.ID)
	}
	if oldTransporter != c.Transporter {
		if oldTransporter.Assigned() {
			r.byTransporter.remove(oldTransporter.ID(), c.ID)
		}
		if c.Transporter.Assigned() {
			r.byTransporter.add(c.Transporter.ID(), c.ID)
		}
	}
}

// Apply runs fn against the live record under its lock and keeps the
// indexes consistent with whatever fn changed. The returned contract is
// a copy taken after mutation.
func (r *Registry) Apply(id string, fn func(c *Contract)) (Contract, bool) {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return Contract{}, false
	}

	e.mu.Lock()
	oldState := e.c.State
	oldTransporter := e.c.Transporter
	fn(&e.c)
	if e.c.CurrentBounty < 0 {
		e.c.CurrentBounty = 0
	}
	out := e.c.clone()
	e.mu.Unlock()

	r.UpdateIndexes(&out, oldState, oldTransporter)
	return out, true
}

func (r *Registry) Get(id string) (Contract, bool) {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return Contract{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.c.clone(), true
}

func (r *Registry) All() []Contract {
	r.mu.RLock()
	es := make([]*entry, 0, len(r.byID))
	for _, e := range r.byID {
		es = append(es, e)
	}
	r.mu.RUnlock()

	out := make([]Contract, 0, len(es))
	for _, e := range es {
		e.mu.Lock()
		out = append(out, e.c.clone())
		e.mu.Unlock()
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) materialize(ids []string) []Contract {
	out := make([]Contract, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.Get(id); ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) ByBuyer(buyerID string) []Contract {
	return r.materialize(r.byBuyer.ids(buyerID))
}

func (r *Registry) ByTransporter(transporterID string) []Contract {
	return r.materialize(r.byTransporter.ids(transporterID))
}

func (r *Registry) ByShopOwner(ownerID string) []Contract {
	return r.materialize(r.byShopOwner.ids(ownerID))
}

func (r *Registry) ByOrigin(region string) []Contract {
	return r.materialize(r.byOrigin.ids(region))
}

func (r *Registry) ByDestination(region string) []Contract {
	return r.materialize(r.byDestination.ids(region))
}

func (r *Registry) ByState(s State) []Contract {
	return r.materialize(r.byState.ids(string(s)))
}

// ActiveForTransporter returns the contracts the transporter is
// currently hauling (ACCEPTED or IN_TRANSIT).
func (r *Registry) ActiveForTransporter(transporterID string) []Contract {
	all := r.ByTransporter(transporterID)
	out := all[:0]
	for _, c := range all {
		if c.State.Decaying() {
			out = append(out, c)
		}
	}
	return out
}

// Available returns POSTED contracts that have not expired.
func (r *Registry) Available(now time.Time) []Contract {
	all := r.ByState(StatePosted)
	out := all[:0]
	for _, c := range all {
		if c.CanBeAccepted(now) {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) DeliveredInRegion(region string) []Contract {
	all := r.ByDestination(region)
	out := all[:0]
	for _, c := range all {
		if c.State == StateDelivered {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) DeliveredForBuyer(buyerID string) []Contract {
	all := r.ByBuyer(buyerID)
	out := all[:0]
	for _, c := range all {
		if c.State == StateDelivered {
			out = append(out, c)
		}
	}
	return out
}

// ActiveCount counts contracts not yet in a terminal state.
func (r *Registry) ActiveCount() int {
	n := 0
	for _, c := range r.All() {
		if !c.State.Terminal() {
			n++
		}
	}
	return n
}
