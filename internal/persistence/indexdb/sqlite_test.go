package indexdb

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"silkroad.gg/internal/contracts"
	"silkroad.gg/internal/transporters"
)

func openTest(t *testing.T) *SQLiteIndex {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEventsForContract_InOrder(t *testing.T) {
	s := openTest(t)
	now := time.Now()

	for i, typ := range []string{
		contracts.EventCreated, contracts.EventAccepted,
		contracts.EventPickedUp, contracts.EventDelivered,
	} {
		s.RecordContractEvent(contracts.Event{
			ContractID: "c1",
			Type:       typ,
			State:      contracts.StatePosted,
			Bounty:     float64(100 - i),
			At:         now.Add(time.Duration(i) * time.Second),
		})
	}
	s.RecordContractEvent(contracts.Event{ContractID: "other", Type: contracts.EventCreated, State: contracts.StatePosted, At: now})
	s.Flush()

	evs, err := s.EventsForContract("c1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(evs) != 4 {
		t.Fatalf("events = %d, want 4", len(evs))
	}
	if evs[0].Type != contracts.EventCreated || evs[3].Type != contracts.EventDelivered {
		t.Fatalf("order: %s .. %s", evs[0].Type, evs[3].Type)
	}
	if evs[0].Bounty != 100 {
		t.Fatalf("bounty = %v, want 100", evs[0].Bounty)
	}
}

func TestCompletionsFor_RecentFirst(t *testing.T) {
	s := openTest(t)
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 5; i++ {
		s.RecordCompletion("marco", transporters.CompletionRecord{
			ContractID:  fmt.Sprintf("c%d", i),
			DeliveredAt: base.Add(time.Duration(i) * time.Minute),
			Origin:      "east",
			Destination: "west",
			Item:        "silk",
			Quantity:    1,
			Bounty:      float64(10 + i),
			Distance:    500,
			TravelTime:  3 * time.Minute,
		})
	}
	s.Flush()

	recs, err := s.CompletionsFor("marco", 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("completions = %d, want 3", len(recs))
	}
	if recs[0].ContractID != "c4" {
		t.Fatalf("most recent = %s, want c4", recs[0].ContractID)
	}
	if recs[0].TravelTime != 3*time.Minute {
		t.Fatalf("travel time = %v, want 3m", recs[0].TravelTime)
	}
	if recs[0].DeliveredAt.IsZero() {
		t.Fatalf("delivered_at not parsed")
	}

	if other, _ := s.CompletionsFor("niccolo", 10); len(other) != 0 {
		t.Fatalf("foreign completions leaked: %d", len(other))
	}
}

func TestSequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.RecordContractEvent(contracts.Event{ContractID: "c1", Type: contracts.EventCreated, State: contracts.StatePosted, At: time.Now()})
	s.Flush()
	_ = s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	s2.RecordContractEvent(contracts.Event{ContractID: "c1", Type: contracts.EventAccepted, State: contracts.StateAccepted, At: time.Now()})
	s2.Flush()

	evs, err := s2.EventsForContract("c1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("events after reopen = %d, want 2", len(evs))
	}
}

func TestRecordAfterCloseIsNoop(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Close()
	s.RecordContractEvent(contracts.Event{ContractID: "c1", Type: contracts.EventCreated})
	if got := s.Dropped(); got != 0 {
		t.Fatalf("dropped = %d, want 0", got)
	}
}
