package transporters

import (
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"silkroad.gg/internal/contracts"
	"silkroad.gg/internal/tuning"
)

func silent() *log.Logger { return log.New(io.Discard, "", 0) }

func progressionCfg() tuning.Progression {
	return tuning.Defaults().Progression
}

type captureNotifier struct {
	msgs []string
}

func (n *captureNotifier) Notify(actor, message string) {
	n.msgs = append(n.msgs, actor+": "+message)
}

func TestTierForXP(t *testing.T) {
	m := NewManager(progressionCfg(), nil, nil, silent())
	cases := []struct {
		xp   int
		tier int
	}{
		{0, 1},
		{499, 1},
		{500, 2},
		{1999, 2},
		{2000, 3},
		{8000, 4},
		{25000, 5},
		{1_000_000, 5},
	}
	for _, tc := range cases {
		if got := m.tierForXP(tc.xp); got != tc.tier {
			t.Fatalf("tierForXP(%d) = %d, want %d", tc.xp, got, tc.tier)
		}
	}
}

func TestAwardXP_Promotes(t *testing.T) {
	n := &captureNotifier{}
	m := NewManager(progressionCfg(), nil, n, silent())

	m.AwardXP("marco", 499)
	if m.Tier("marco") != 1 {
		t.Fatalf("tier = %d, want 1", m.Tier("marco"))
	}
	m.AwardXP("marco", 1)
	if m.Tier("marco") != 2 {
		t.Fatalf("tier = %d, want 2", m.Tier("marco"))
	}
	if m.TierName("marco") != "Courier" {
		t.Fatalf("tier name = %q", m.TierName("marco"))
	}

	promoted := false
	for _, msg := range n.msgs {
		if msg == "marco: Promoted! You are now a Courier." {
			promoted = true
		}
	}
	if !promoted {
		t.Fatalf("no promotion notice in %v", n.msgs)
	}
}

func TestMaxContractsAndDiscount(t *testing.T) {
	m := NewManager(progressionCfg(), nil, nil, silent())
	if got := m.MaxContracts("marco"); got != 1 {
		t.Fatalf("tier 1 max = %d, want 1", got)
	}
	if got := m.InsuranceDiscount("marco"); got != 0 {
		t.Fatalf("tier 1 discount = %v, want 0", got)
	}

	m.AwardXP("marco", 2000) // tier 3
	if got := m.MaxContracts("marco"); got != 3 {
		t.Fatalf("tier 3 max = %d, want 3", got)
	}
	if got := m.InsuranceDiscount("marco"); got != 0.10 {
		t.Fatalf("tier 3 discount = %v, want 0.10", got)
	}
}

func TestMaxContracts_ProgressionDisabled(t *testing.T) {
	cfg := progressionCfg()
	cfg.Enabled = false
	m := NewManager(cfg, nil, nil, silent())
	if got := m.MaxContracts("anyone"); got != 5 {
		t.Fatalf("disabled max = %d, want 5", got)
	}
	m.AwardXP("anyone", 10000)
	if got := m.XP("anyone"); got != 0 {
		t.Fatalf("XP awarded while disabled: %d", got)
	}
}

func deliveredContract() contracts.Contract {
	accepted := time.Now().Add(-10 * time.Minute)
	return contracts.Contract{
		ID:                "c1",
		State:             contracts.StateDelivered,
		OriginRegion:      "east",
		DestinationRegion: "west",
		Item:              "silk",
		Quantity:          20,
		UnitPrice:         100,
		CurrentBounty:     150,
		RegionDistances:   map[string]float64{"east": 600, "west": 400},
		AcceptedAt:        accepted,
		DeliveredAt:       accepted.Add(10 * time.Minute),
	}
}

func TestAwardCompletionXP(t *testing.T) {
	m := NewManager(progressionCfg(), nil, nil, silent())
	m.AwardCompletionXP("marco", deliveredContract())

	// 50 base + 1000 blocks x 0.1 + 2 regions x 25 + high value bonus.
	if got := m.XP("marco"); got != 300 {
		t.Fatalf("XP = %d, want 300", got)
	}

	stats := m.Stats("marco")
	if stats.Completed != 1 {
		t.Fatalf("completed = %d, want 1", stats.Completed)
	}
	if stats.TotalDistance != 1000 || stats.TotalEarnings != 150 {
		t.Fatalf("distance %v earnings %v", stats.TotalDistance, stats.TotalEarnings)
	}
	if stats.TotalTravelTime != 10*time.Minute {
		t.Fatalf("travel time = %v, want 10m", stats.TotalTravelTime)
	}
	if stats.RegionDeliveries["west"] != 1 {
		t.Fatalf("region deliveries: %v", stats.RegionDeliveries)
	}
	if stats.RegionsVisited["east"] != 1 || stats.RegionsVisited["west"] != 1 {
		t.Fatalf("regions visited: %v", stats.RegionsVisited)
	}
	if len(stats.History) != 1 || stats.History[0].ContractID != "c1" {
		t.Fatalf("history: %+v", stats.History)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	m := NewManager(progressionCfg(), nil, nil, silent())
	for i := 0; i < historyLimit+10; i++ {
		c := deliveredContract()
		c.ID = fmt.Sprintf("c%d", i)
		m.AwardCompletionXP("marco", c)
	}
	stats := m.Stats("marco")
	if len(stats.History) != historyLimit {
		t.Fatalf("history length = %d, want %d", len(stats.History), historyLimit)
	}
	if stats.History[historyLimit-1].ContractID != fmt.Sprintf("c%d", historyLimit+9) {
		t.Fatalf("history tail: %+v", stats.History[historyLimit-1])
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir, silent())

	m := NewManager(progressionCfg(), store, nil, silent())
	m.AwardCompletionXP("marco", deliveredContract())
	m.RecordFailed("marco")

	// A fresh manager over the same directory sees the saved record.
	m2 := NewManager(progressionCfg(), store, nil, silent())
	stats := m2.Stats("marco")
	if stats.Completed != 1 || stats.Failed != 1 {
		t.Fatalf("reloaded stats: %+v", stats)
	}
	if stats.XP != 300 {
		t.Fatalf("reloaded XP = %d, want 300", stats.XP)
	}
}

func TestFileStore_CorruptRecordStartsFresh(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir, silent())
	store.Save(Data{ActorID: "marco", XP: 100, Tier: 1})

	writeGarbage(t, store.path("marco"))

	if _, found := store.Load("marco"); found {
		t.Fatalf("corrupt record loaded as valid")
	}
}
