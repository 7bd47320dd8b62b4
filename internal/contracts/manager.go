package contracts

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Collaborator interfaces. The engine owns the contract lifecycle;
// money, stock, progression, cargo tokens and actor messaging live
// behind these.

type Ledger interface {
	HasFunds(actor string, amount float64) bool
	Deposit(actor string, amount float64) bool
	Withdraw(actor string, amount float64) bool
}

type Shop interface {
	ReserveStock(shopID string, qty int, contractID string)
	ReleaseReservation(shopID, contractID string)
	CompleteTransaction(shopID, buyerID string, amount float64)
}

type Progression interface {
	Tier(actor string) int
	MaxContracts(actor string) int
	AwardCompletionXP(actor string, c Contract)
	RecordFailed(actor string)
	RecordCancelled(actor string)
}

type Insurance interface {
	Quote(c Contract, actor string) float64
	Charge(actor string, c Contract, cost float64) bool
	Refund(actor string, amount float64)
}

type Cargo interface {
	Grant(actor, contractID string)
	Revoke(actor, contractID string)
}

// Notifier delivers a message to an actor if currently reachable and
// silently no-ops otherwise.
type Notifier interface {
	Notify(actor, message string)
}

// Pricer computes bounty economics at creation time. Implemented by
// the bounty calculator.
type Pricer interface {
	Bounty(c *Contract) float64
	DecayRate(c *Contract) float64
	RequiredTier(totalValue float64) int
}

// Event is one audited lifecycle transition.
type Event struct {
	ContractID string    `json:"contract_id"`
	Type       string    `json:"type"`
	Actor      string    `json:"actor,omitempty"`
	State      State     `json:"state"`
	Bounty     float64   `json:"bounty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

const (
	EventCreated   = "CONTRACT_CREATED"
	EventAccepted  = "CONTRACT_ACCEPTED"
	EventPickedUp  = "CARGO_PICKED_UP"
	EventDelivered = "CONTRACT_DELIVERED"
	EventCompleted = "CONTRACT_COMPLETED"
	EventCancelled = "CONTRACT_CANCELLED"
	EventExpired   = "CONTRACT_EXPIRED"
)

type AuditSink interface {
	RecordContractEvent(ev Event)
}

// Deps bundles the Manager's collaborators. Ledger, Notifier,
// Progression, Insurance and Pricer must be set; Shop, Cargo and Audit
// may be nil when the corresponding integration is absent.
type Deps struct {
	Registry    *Registry
	Pricer      Pricer
	Ledger      Ledger
	Shop        Shop
	Progression Progression
	Insurance   Insurance
	Cargo       Cargo
	Notifier    Notifier
	Audit       AuditSink
	Log         *log.Logger

	// GraceDelay keeps terminal contracts queryable briefly before
	// they are unregistered.
	GraceDelay time.Duration
}

// Manager orchestrates contract lifecycle transitions. It is the only
// component that mutates a contract's state field.
type Manager struct {
	registry    *Registry
	pricer      Pricer
	ledger      Ledger
	shop        Shop
	progression Progression
	insurance   Insurance
	cargo       Cargo
	notifier    Notifier
	audit       AuditSink
	log         *log.Logger
	grace       time.Duration

	now func() time.Time
}

func NewManager(d Deps) *Manager {
	grace := d.GraceDelay
	if grace <= 0 {
		grace = 5 * time.Second
	}
	logger := d.Log
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		registry:    d.Registry,
		pricer:      d.Pricer,
		ledger:      d.Ledger,
		shop:        d.Shop,
		progression: d.Progression,
		insurance:   d.Insurance,
		cargo:       d.Cargo,
		notifier:    d.Notifier,
		audit:       d.Audit,
		log:         logger,
		grace:       grace,
		now:         time.Now,
	}
}

type CreateParams struct {
	Buyer             string
	ShopID            string
	ShopOwner         string
	OriginRegion      string
	DestinationRegion string
	Item              string
	Quantity          int
	UnitPrice         float64
	RegionDistances   map[string]float64
}

// Create builds a contract from a purchase, prices it, registers it and
// reserves shop stock.
func (m *Manager) Create(p CreateParams) Contract {
	now := m.now()
	c := Contract{
		ID:                uuid.NewString(),
		CreatedAt:         now,
		State:             StatePosted,
		ShopID:            p.ShopID,
		OriginRegion:      p.OriginRegion,
		DestinationRegion: p.DestinationRegion,
		Item:              p.Item,
		Quantity:          p.Quantity,
		UnitPrice:         p.UnitPrice,
		ShopOwner:         p.ShopOwner,
		Buyer:             p.Buyer,
		RegionDistances:   p.RegionDistances,
	}

	c.InitialBounty = m.pricer.Bounty(&c)
	c.CurrentBounty = c.InitialBounty
	c.DecayRate = m.pricer.DecayRate(&c)
	c.ExpiresAt = now.Add(timeToZero(c.InitialBounty, c.DecayRate))
	c.RequiredTier = m.pricer.RequiredTier(c.TotalValue())

	m.registry.Register(c)

	if m.shop != nil {
		m.shop.ReserveStock(c.ShopID, c.Quantity, c.ID)
	}
	m.notifier.Notify(c.Buyer, fmt.Sprintf("Order placed: %dx %s, %s -> %s", c.Quantity, c.Item, c.OriginRegion, c.DestinationRegion))

	m.log.Printf("contract created: %s %dx %s %s -> %s (bounty $%.2f, tier %d)",
		c.ID, c.Quantity, c.Item, c.OriginRegion, c.DestinationRegion, c.InitialBounty, c.RequiredTier)
	m.emit(Event{ContractID: c.ID, Type: EventCreated, Actor: c.Buyer, State: c.State, Bounty: c.CurrentBounty, At: now})

	return c
}

func timeToZero(bounty, rate float64) time.Duration {
	if rate <= 0 {
		return time.Duration(1<<63 - 1)
	}
	return time.Duration(bounty / rate * float64(time.Second))
}

// Accept assigns the contract to a transporter. Every rejection is
// expected control flow: the caller gets false plus a notice.
func (m *Manager) Accept(transporter, id string) bool {
	now := m.now()
	c, ok := m.registry.Get(id)
	if !ok {
		return false
	}

	if !c.CanBeAccepted(now) {
		m.notifier.Notify(transporter, "This contract is no longer available.")
		return false
	}
	if tier := m.progression.Tier(transporter); tier < c.RequiredTier {
		m.notifier.Notify(transporter, fmt.Sprintf("This contract requires transporter tier %d.", c.RequiredTier))
		return false
	}
	active := len(m.registry.ActiveForTransporter(transporter))
	maxActive := m.progression.MaxContracts(transporter)
	if active >= maxActive {
		m.notifier.Notify(transporter, fmt.Sprintf("Too many active contracts (%d/%d).", active, maxActive))
		return false
	}

	cost := m.insurance.Quote(c, transporter)
	if !m.insurance.Charge(transporter, c, cost) {
		m.notifier.Notify(transporter, fmt.Sprintf("Insufficient funds for insurance: $%.2f.", cost))
		return false
	}

	accepted := false
	after, found := m.registry.Apply(id, func(c *Contract) {
		// Revalidate under the entry lock: the contract may have been
		// taken or expired since the checks above.
		if !c.CanBeAccepted(now) {
			return
		}
		c.State = StateAccepted
		c.Transporter = AssignedTo(transporter)
		c.AcceptedAt = now
		accepted = true
	})
	if !found || !accepted {
		m.insurance.Refund(transporter, cost)
		m.notifier.Notify(transporter, "This contract is no longer available.")
		return false
	}

	if m.cargo != nil {
		m.cargo.Grant(transporter, id)
	}
	m.notifier.Notify(transporter, fmt.Sprintf("Contract accepted. Deliver to %s.", after.DestinationRegion))

	m.log.Printf("contract accepted: %s by %s", id, transporter)
	m.emit(Event{ContractID: id, Type: EventAccepted, Actor: transporter, State: after.State, Bounty: after.CurrentBounty, At: now})
	return true
}

// Pickup marks the cargo as collected and the contract as IN_TRANSIT.
func (m *Manager) Pickup(transporter, id string) bool {
	now := m.now()
	c, ok := m.registry.Get(id)
	if !ok {
		return false
	}
	if c.Transporter.ID() != transporter {
		m.notifier.Notify(transporter, "This is not your contract.")
		return false
	}
	if !c.CanBePickedUp(now) {
		m.notifier.Notify(transporter, "Cargo already picked up or contract expired.")
		return false
	}

	picked := false
	after, _ := m.registry.Apply(id, func(c *Contract) {
		if !c.CanBePickedUp(now) {
			return
		}
		c.PickedUp = true
		c.State = StateInTransit
		picked = true
	})
	if !picked {
		m.notifier.Notify(transporter, "Cargo already picked up or contract expired.")
		return false
	}

	m.notifier.Notify(transporter, fmt.Sprintf("Cargo picked up. Deliver to %s.", after.DestinationRegion))
	m.log.Printf("cargo picked up: %s by %s", id, transporter)
	m.emit(Event{ContractID: id, Type: EventPickedUp, Actor: transporter, State: after.State, Bounty: after.CurrentBounty, At: now})
	return true
}

// Deliver pays the remaining bounty to the transporter and hands the
// order to the destination for buyer pickup.
func (m *Manager) Deliver(transporter, id string) bool {
	now := m.now()
	c, ok := m.registry.Get(id)
	if !ok {
		return false
	}
	if c.Transporter.ID() != transporter {
		m.notifier.Notify(transporter, "This is not your contract.")
		return false
	}
	if !c.CanBeDelivered(now) {
		m.notifier.Notify(transporter, "Cannot deliver this contract.")
		return false
	}

	delivered := false
	after, _ := m.registry.Apply(id, func(c *Contract) {
		if !c.CanBeDelivered(now) {
			return
		}
		c.State = StateDelivered
		c.DeliveredAt = now
		delivered = true
	})
	if !delivered {
		m.notifier.Notify(transporter, "Cannot deliver this contract.")
		return false
	}

	bounty := after.CurrentBounty
	m.ledger.Deposit(transporter, bounty)
	m.progression.AwardCompletionXP(transporter, after)
	if m.shop != nil {
		m.shop.CompleteTransaction(after.ShopID, after.Buyer, after.TotalValue())
	}
	m.notifier.Notify(transporter, fmt.Sprintf("Delivery complete. You earned $%.2f.", bounty))
	m.notifier.Notify(after.Buyer, fmt.Sprintf("Your order has arrived in %s.", after.DestinationRegion))

	m.log.Printf("contract delivered: %s by %s (bounty $%.2f)", id, transporter, bounty)
	m.emit(Event{ContractID: id, Type: EventDelivered, Actor: transporter, State: after.State, Bounty: bounty, At: now})
	return true
}

// Cancel aborts a contract that has not yet been delivered: stock is
// released, the buyer refunded and any cargo token revoked. Idempotent;
// terminal and delivered contracts are left untouched.
func (m *Manager) Cancel(id, reason string) {
	m.terminate(id, StateCancelled, reason)
}

// Expire is Cancel with a fixed reason and failure bookkeeping; the
// insurance charge is never returned on expiry.
func (m *Manager) Expire(id string) {
	m.terminate(id, StateExpired, "bounty reached $0")
}

func (m *Manager) terminate(id string, to State, reason string) {
	now := m.now()
	moved := false
	after, found := m.registry.Apply(id, func(c *Contract) {
		switch c.State {
		case StatePosted, StateAccepted, StateInTransit:
			c.State = to
			moved = true
		}
	})
	if !found || !moved {
		return
	}

	if m.shop != nil {
		m.shop.ReleaseReservation(after.ShopID, id)
	}
	if after.Buyer != "" {
		refund := after.TotalValue()
		m.ledger.Deposit(after.Buyer, refund)
		m.notifier.Notify(after.Buyer, fmt.Sprintf("Order %s. Refunded $%.2f.", lower(to), refund))
	}
	if after.Transporter.Assigned() {
		tid := after.Transporter.ID()
		if m.cargo != nil {
			m.cargo.Revoke(tid, id)
		}
		if to == StateExpired {
			m.progression.RecordFailed(tid)
			m.notifier.Notify(tid, "Contract expired: bounty reached $0.")
		} else {
			m.progression.RecordCancelled(tid)
			m.notifier.Notify(tid, "Contract cancelled: "+reason)
		}
	}

	evType := EventCancelled
	if to == StateExpired {
		evType = EventExpired
	}
	m.log.Printf("contract %s: %s (%s)", lower(to), id, reason)
	m.emit(Event{ContractID: id, Type: evType, State: after.State, Bounty: after.CurrentBounty, Reason: reason, At: now})

	m.scheduleUnregister(id)
}

// Complete finishes a DELIVERED contract once the buyer claims the
// payload.
func (m *Manager) Complete(id string) bool {
	now := m.now()
	moved := false
	after, found := m.registry.Apply(id, func(c *Contract) {
		if c.State != StateDelivered {
			return
		}
		c.State = StateCompleted
		moved = true
	})
	if !found || !moved {
		return false
	}

	m.log.Printf("contract completed: %s", id)
	m.emit(Event{ContractID: id, Type: EventCompleted, Actor: after.Buyer, State: after.State, Bounty: after.CurrentBounty, At: now})

	m.scheduleUnregister(id)
	return true
}

// PendingOrders lists DELIVERED contracts a buyer can claim in a region.
func (m *Manager) PendingOrders(buyerID, region string) []Contract {
	all := m.registry.DeliveredForBuyer(buyerID)
	out := all[:0]
	for _, c := range all {
		if c.DestinationRegion == region {
			out = append(out, c)
		}
	}
	return out
}

func (m *Manager) scheduleUnregister(id string) {
	time.AfterFunc(m.grace, func() {
		m.registry.Unregister(id)
	})
}

func (m *Manager) emit(ev Event) {
	if m.audit != nil {
		m.audit.RecordContractEvent(ev)
	}
}

func lower(s State) string {
	switch s {
	case StateCancelled:
		return "cancelled"
	case StateExpired:
		return "expired"
	default:
		return string(s)
	}
}
