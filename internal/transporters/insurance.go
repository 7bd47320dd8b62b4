package transporters

import (
	"fmt"
	"log"

	"silkroad.gg/internal/contracts"
	"silkroad.gg/internal/tuning"
)

// Treasury receives insurance premiums for an actor's home territory.
// Deposit reports false when the actor has no territory, in which case
// the premium is destroyed as an economic sink.
type Treasury interface {
	Deposit(actor string, amount float64, memo string) (territory string, ok bool)
}

// InsuranceManager charges the up-front premium collected when a
// transporter accepts a contract.
type InsuranceManager struct {
	cfg         tuning.Insurance
	ledger      contracts.Ledger
	treasury    Treasury
	progression *Manager
	notifier    contracts.Notifier
	log         *log.Logger
}

func NewInsuranceManager(cfg tuning.Insurance, ledger contracts.Ledger, treasury Treasury, prog *Manager, n contracts.Notifier, logger *log.Logger) *InsuranceManager {
	if logger == nil {
		logger = log.Default()
	}
	return &InsuranceManager{
		cfg:         cfg,
		ledger:      ledger,
		treasury:    treasury,
		progression: prog,
		notifier:    n,
		log:         logger,
	}
}

// Quote computes the premium: initial bounty x rate, minus the
// transporter's tier discount.
func (im *InsuranceManager) Quote(c contracts.Contract, actorID string) float64 {
	if !im.cfg.Enabled {
		return 0
	}
	cost := c.InitialBounty * im.cfg.Rate
	if im.progression != nil {
		cost *= 1.0 - im.progression.InsuranceDiscount(actorID)
	}
	if cost < 0 {
		return 0
	}
	return cost
}

// Charge withdraws the premium and deposits it into the transporter's
// territory treasury; without a territory the money is sunk.
func (im *InsuranceManager) Charge(actorID string, c contracts.Contract, cost float64) bool {
	if cost <= 0 {
		return true
	}
	if !im.ledger.HasFunds(actorID, cost) {
		return false
	}
	if !im.ledger.Withdraw(actorID, cost) {
		return false
	}

	destination := "economic sink"
	if im.treasury != nil {
		if territory, ok := im.treasury.Deposit(actorID, cost, "silkroad insurance, contract "+c.ID); ok {
			destination = territory
		}
	}

	if im.notifier != nil {
		im.notifier.Notify(actorID, fmt.Sprintf("Insurance paid: $%.2f to %s.", cost, destination))
	}
	im.log.Printf("insurance charged: %s paid $%.2f to %s (contract %s)", actorID, cost, destination, c.ID)
	return true
}

// Refund returns a premium. Used when an accept loses its race after
// charging; never called on expiry.
func (im *InsuranceManager) Refund(actorID string, amount float64) {
	if amount <= 0 {
		return
	}
	im.ledger.Deposit(actorID, amount)
	im.log.Printf("insurance refunded: $%.2f to %s", amount, actorID)
}
