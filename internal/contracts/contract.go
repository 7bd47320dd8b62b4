package contracts

import "time"

type State string

const (
	StatePosted    State = "POSTED"
	StateAccepted  State = "ACCEPTED"
	StateInTransit State = "IN_TRANSIT"
	StateDelivered State = "DELIVERED"
	StateCompleted State = "COMPLETED"
	StateCancelled State = "CANCELLED"
	StateExpired   State = "EXPIRED"
)

// Decaying reports whether the bounty loses value in this state.
func (s State) Decaying() bool {
	return s == StateAccepted || s == StateInTransit
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateExpired
}

// TransporterRef is the optional transporter assignment. The zero value
// means unassigned; once assigned it never changes for the contract's
// remaining lifetime.
type TransporterRef struct {
	id string
}

func AssignedTo(id string) TransporterRef { return TransporterRef{id: id} }

func (r TransporterRef) Assigned() bool { return r.id != "" }

func (r TransporterRef) ID() string { return r.id }

// Contract is one delivery job with its decaying bounty. Mutable fields
// are only written through Registry.Apply; everything handed out by
// registry lookups is a copy.
type Contract struct {
	ID        string
	CreatedAt time.Time
	State     State

	ShopID       string
	OriginRegion string

	DestinationRegion string

	Item     string
	Quantity int
	UnitPrice float64

	InitialBounty float64
	CurrentBounty float64
	DecayRate     float64
	ExpiresAt     time.Time

	ShopOwner   string
	Buyer       string
	Transporter TransporterRef

	RegionDistances map[string]float64
	RequiredTier    int

	PickedUp    bool
	AcceptedAt  time.Time
	DeliveredAt time.Time
}

func (c *Contract) TotalDistance() float64 {
	var total float64
	for _, d := range c.RegionDistances {
		total += d
	}
	return total
}

func (c *Contract) TotalValue() float64 {
	return c.UnitPrice * float64(c.Quantity)
}

func (c *Contract) Expired(now time.Time) bool {
	return c.CurrentBounty <= 0 || !now.Before(c.ExpiresAt)
}

func (c *Contract) TimeRemaining(now time.Time) time.Duration {
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

func (c *Contract) CanBeAccepted(now time.Time) bool {
	return c.State == StatePosted && !c.Expired(now)
}

func (c *Contract) CanBePickedUp(now time.Time) bool {
	return c.State == StateAccepted && !c.PickedUp && !c.Expired(now)
}

func (c *Contract) CanBeDelivered(now time.Time) bool {
	return (c.State == StateAccepted || c.State == StateInTransit) &&
		c.PickedUp && !c.Expired(now)
}

// clone deep-copies the contract so registry callers never share the
// region-distance map with the live record.
func (c *Contract) clone() Contract {
	out := *c
	if c.RegionDistances != nil {
		out.RegionDistances = make(map[string]float64, len(c.RegionDistances))
		for k, v := range c.RegionDistances {
			out.RegionDistances[k] = v
		}
	}
	return out
}
