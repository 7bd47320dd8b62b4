package contracts

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func posted(id, buyer, origin, dest string) Contract {
	return Contract{
		ID:                id,
		State:             StatePosted,
		Buyer:             buyer,
		OriginRegion:      origin,
		DestinationRegion: dest,
		ShopOwner:         "owner-" + origin,
		Item:              "silk",
		Quantity:          1,
		UnitPrice:         100,
		CurrentBounty:     50,
		InitialBounty:     50,
		ExpiresAt:         time.Now().Add(time.Hour),
	}
}

func TestRegistry_IndexLookups(t *testing.T) {
	r := NewRegistry()
	r.Register(posted("c1", "alice", "east", "west"))
	r.Register(posted("c2", "alice", "east", "north"))
	r.Register(posted("c3", "bob", "south", "west"))

	if got := len(r.ByBuyer("alice")); got != 2 {
		t.Fatalf("ByBuyer(alice) = %d, want 2", got)
	}
	if got := len(r.ByOrigin("east")); got != 2 {
		t.Fatalf("ByOrigin(east) = %d, want 2", got)
	}
	if got := len(r.ByDestination("west")); got != 2 {
		t.Fatalf("ByDestination(west) = %d, want 2", got)
	}
	if got := len(r.ByState(StatePosted)); got != 3 {
		t.Fatalf("ByState(POSTED) = %d, want 3", got)
	}
	if got := len(r.ByShopOwner("owner-south")); got != 1 {
		t.Fatalf("ByShopOwner = %d, want 1", got)
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
}

func TestRegistry_ApplyMovesStateBuckets(t *testing.T) {
	r := NewRegistry()
	r.Register(posted("c1", "alice", "east", "west"))

	after, ok := r.Apply("c1", func(c *Contract) {
		c.State = StateAccepted
		c.Transporter = AssignedTo("marco")
		c.AcceptedAt = time.Now()
	})
	if !ok || after.State != StateAccepted {
		t.Fatalf("apply failed: ok=%v state=%s", ok, after.State)
	}

	if got := len(r.ByState(StatePosted)); got != 0 {
		t.Fatalf("still in POSTED bucket: %d", got)
	}
	if got := len(r.ByState(StateAccepted)); got != 1 {
		t.Fatalf("ByState(ACCEPTED) = %d, want 1", got)
	}
	if got := len(r.ByTransporter("marco")); got != 1 {
		t.Fatalf("ByTransporter = %d, want 1", got)
	}
	if got := len(r.ActiveForTransporter("marco")); got != 1 {
		t.Fatalf("ActiveForTransporter = %d, want 1", got)
	}
}

func TestRegistry_EmptyBucketsAreRemoved(t *testing.T) {
	r := NewRegistry()
	r.Register(posted("c1", "alice", "east", "west"))
	r.Register(posted("c2", "bob", "east", "west"))

	if got := r.byBuyer.keyCount(); got != 2 {
		t.Fatalf("buyer keys = %d, want 2", got)
	}
	r.Unregister("c1")
	if got := r.byBuyer.keyCount(); got != 1 {
		t.Fatalf("buyer keys after unregister = %d, want 1", got)
	}
	r.Unregister("c2")
	if got := r.byBuyer.keyCount(); got != 0 {
		t.Fatalf("buyer keys after both = %d, want 0", got)
	}
	if got := r.byState.keyCount(); got != 0 {
		t.Fatalf("state keys = %d, want 0", got)
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestRegistry_UnregisterAfterStateChange(t *testing.T) {
	r := NewRegistry()
	r.Register(posted("c1", "alice", "east", "west"))
	r.Apply("c1", func(c *Contract) {
		c.State = StateCancelled
	})
	// Unregister must remove from the bucket the contract is in now,
	// not the one it was registered under.
	r.Unregister("c1")
	if got := r.byState.keyCount(); got != 0 {
		t.Fatalf("state keys = %d, want 0", got)
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	c := posted("c1", "alice", "east", "west")
	c.RegionDistances = map[string]float64{"east": 100}
	r.Register(c)

	got, _ := r.Get("c1")
	got.RegionDistances["east"] = 9999
	got.CurrentBounty = 0

	again, _ := r.Get("c1")
	if again.RegionDistances["east"] != 100 || again.CurrentBounty != 50 {
		t.Fatalf("registry record mutated through a returned copy: %+v", again)
	}
}

func TestRegistry_ApplyClampsBounty(t *testing.T) {
	r := NewRegistry()
	r.Register(posted("c1", "alice", "east", "west"))
	after, _ := r.Apply("c1", func(c *Contract) {
		c.CurrentBounty -= 1000
	})
	if after.CurrentBounty != 0 {
		t.Fatalf("CurrentBounty = %v, want clamp at 0", after.CurrentBounty)
	}
}

func TestRegistry_AvailableSkipsExpired(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	fresh := posted("c1", "alice", "east", "west")
	stale := posted("c2", "bob", "east", "west")
	stale.ExpiresAt = now.Add(-time.Minute)
	r.Register(fresh)
	r.Register(stale)

	avail := r.Available(now)
	if len(avail) != 1 || avail[0].ID != "c1" {
		t.Fatalf("Available = %+v, want just c1", avail)
	}
}

func TestRegistry_ConcurrentApplyAndLookups(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 32; i++ {
		r.Register(posted(fmt.Sprintf("c%d", i), "alice", "east", "west"))
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		id := fmt.Sprintf("c%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Apply(id, func(c *Contract) {
					c.CurrentBounty -= 0.1
				})
			}
		}()
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.ByBuyer("alice")
				_ = r.ByState(StatePosted)
				_ = r.All()
			}
		}()
	}
	wg.Wait()

	if got := len(r.ByState(StatePosted)); got != 32 {
		t.Fatalf("ByState(POSTED) = %d, want 32", got)
	}
	for _, c := range r.All() {
		if c.CurrentBounty < 39.9 || c.CurrentBounty > 40.1 {
			t.Fatalf("contract %s bounty %v, want ~40", c.ID, c.CurrentBounty)
		}
	}
}
