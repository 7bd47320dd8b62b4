package economy

import (
	"sync"
	"testing"
)

func TestLedger_WithdrawRequiresBalance(t *testing.T) {
	l := NewLedger()
	if l.Withdraw("alice", 1) {
		t.Fatalf("withdrew from empty account")
	}
	l.Deposit("alice", 10)
	if !l.HasFunds("alice", 10) || l.HasFunds("alice", 11) {
		t.Fatalf("HasFunds wrong around balance")
	}
	if !l.Withdraw("alice", 10) {
		t.Fatalf("exact withdraw failed")
	}
	if l.Balance("alice") != 0 {
		t.Fatalf("balance = %v, want 0", l.Balance("alice"))
	}
}

func TestLedger_RejectsNegativeAmounts(t *testing.T) {
	l := NewLedger()
	if l.Deposit("alice", -5) || l.Withdraw("alice", -5) {
		t.Fatalf("negative amount accepted")
	}
}

func TestLedger_ConcurrentDeposits(t *testing.T) {
	l := NewLedger()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Deposit("alice", 1)
			}
		}()
	}
	wg.Wait()
	if got := l.Balance("alice"); got != 5000 {
		t.Fatalf("balance = %v, want 5000", got)
	}
}

func TestShops_CompleteTransactionPaysOwner(t *testing.T) {
	l := NewLedger()
	s := NewShops(l)
	s.RegisterShop("shop-east", "zhang")

	s.ReserveStock("shop-east", 4, "c1")
	if got := s.Reserved("c1"); got != 4 {
		t.Fatalf("reserved = %d, want 4", got)
	}

	s.CompleteTransaction("shop-east", "alice", 100)
	if got := l.Balance("zhang"); got != 100 {
		t.Fatalf("owner balance = %v, want 100", got)
	}

	s.ReleaseReservation("shop-east", "c1")
	if got := s.Reserved("c1"); got != 0 {
		t.Fatalf("reserved after release = %d, want 0", got)
	}
}

func TestShops_UnknownShopPaysNobody(t *testing.T) {
	l := NewLedger()
	s := NewShops(l)
	s.CompleteTransaction("ghost", "alice", 100)
	if got := l.Balance(""); got != 0 {
		t.Fatalf("payment to empty owner: %v", got)
	}
}

func TestTreasury_DepositNeedsTerritory(t *testing.T) {
	tr := NewTreasury()
	if _, ok := tr.Deposit("marco", 10, "premium"); ok {
		t.Fatalf("deposit without territory succeeded")
	}

	tr.SetTerritory("marco", "venice")
	territory, ok := tr.Deposit("marco", 10, "premium")
	if !ok || territory != "venice" {
		t.Fatalf("deposit = %q/%v", territory, ok)
	}
	if got := tr.Balance("venice"); got != 10 {
		t.Fatalf("territory balance = %v, want 10", got)
	}

	tr.SetTerritory("marco", "")
	if _, ok := tr.Deposit("marco", 10, "premium"); ok {
		t.Fatalf("deposit after territory cleared succeeded")
	}
}
