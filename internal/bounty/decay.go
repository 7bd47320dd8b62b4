package bounty

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"silkroad.gg/internal/contracts"
)

// Lifecycle is the slice of the contract manager the decay tick needs:
// expiry is a first-class transition, not an error, and only the
// manager may perform it.
type Lifecycle interface {
	Expire(id string)
}

type DecayConfig struct {
	TickInterval time.Duration

	// Thresholds are time-remaining marks, largest first. Each fires at
	// most once per contract.
	Thresholds []time.Duration

	// LowBounty fires one value-based alert when the remaining bounty
	// drops under this amount.
	LowBounty float64
}

// DecayManager drives bounty decay on a fixed cadence. It writes bounty
// fields directly through the registry but routes every lifecycle
// transition back to the manager.
type DecayManager struct {
	registry  *contracts.Registry
	lifecycle Lifecycle
	notifier  contracts.Notifier
	cfg       DecayConfig
	log       *log.Logger

	mu     sync.Mutex
	warned map[string]map[string]struct{}

	now func() time.Time
}

func NewDecayManager(reg *contracts.Registry, lc Lifecycle, n contracts.Notifier, cfg DecayConfig, logger *log.Logger) *DecayManager {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DecayManager{
		registry:  reg,
		lifecycle: lc,
		notifier:  n,
		cfg:       cfg,
		log:       logger,
		warned:    make(map[string]map[string]struct{}),
		now:       time.Now,
	}
}

func (d *DecayManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()
	d.log.Printf("decay manager started (every %s)", d.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Tick(d.now())
		}
	}
}

// Tick decrements every decaying contract once and routes expiries to
// the manager. One bad contract never stops the rest of the sweep.
func (d *DecayManager) Tick(now time.Time) {
	step := d.cfg.TickInterval.Seconds()

	active := d.registry.ByState(contracts.StateAccepted)
	active = append(active, d.registry.ByState(contracts.StateInTransit)...)

	live := make(map[string]struct{}, len(active))
	for _, c := range active {
		if c.Expired(now) {
			d.clearWarnings(c.ID)
			d.lifecycle.Expire(c.ID)
			continue
		}

		decayed := false
		after, ok := d.registry.Apply(c.ID, func(c *contracts.Contract) {
			if !c.State.Decaying() {
				return
			}
			c.CurrentBounty -= c.DecayRate * step
			decayed = true
		})
		if !ok || !decayed {
			d.clearWarnings(c.ID)
			continue
		}

		if after.CurrentBounty <= 0 {
			d.clearWarnings(c.ID)
			d.lifecycle.Expire(c.ID)
			continue
		}

		live[c.ID] = struct{}{}
		d.checkWarnings(&after, now)
	}

	d.purgeWarnings(live)
}

// checkWarnings fires each threshold at most once per contract. When
// several thresholds are crossed in one tick only the most urgent is
// announced, but all of them are marked so none fires later.
func (d *DecayManager) checkWarnings(c *contracts.Contract, now time.Time) {
	remaining := c.TimeRemaining(now)

	d.mu.Lock()
	labels := d.warned[c.ID]
	if labels == nil {
		labels = make(map[string]struct{})
		d.warned[c.ID] = labels
	}
	var announce string
	for _, th := range d.cfg.Thresholds {
		if remaining > th {
			continue
		}
		label := th.String()
		if _, done := labels[label]; done {
			continue
		}
		labels[label] = struct{}{}
		announce = label
	}
	lowBounty := false
	if d.cfg.LowBounty > 0 && c.CurrentBounty < d.cfg.LowBounty {
		if _, done := labels["low_bounty"]; !done {
			labels["low_bounty"] = struct{}{}
			lowBounty = true
		}
	}
	d.mu.Unlock()

	if !c.Transporter.Assigned() || d.notifier == nil {
		return
	}
	tid := c.Transporter.ID()
	if announce != "" {
		d.notifier.Notify(tid, fmt.Sprintf("Contract to %s expires in under %s!", c.DestinationRegion, announce))
	}
	if lowBounty {
		d.notifier.Notify(tid, fmt.Sprintf("Low bounty: contract to %s is below $%.0f ($%.2f left).", c.DestinationRegion, d.cfg.LowBounty, c.CurrentBounty))
	}
}

func (d *DecayManager) clearWarnings(id string) {
	d.mu.Lock()
	delete(d.warned, id)
	d.mu.Unlock()
}

// purgeWarnings drops dedupe entries for contracts that left the
// decaying states, so a hypothetical re-entry warns again.
func (d *DecayManager) purgeWarnings(live map[string]struct{}) {
	d.mu.Lock()
	for id := range d.warned {
		if _, ok := live[id]; !ok {
			delete(d.warned, id)
		}
	}
	d.mu.Unlock()
}

// CurrentBounty recomputes the bounty from elapsed wall-clock time
// rather than the last ticked value, for callers reading between ticks.
func (d *DecayManager) CurrentBounty(c *contracts.Contract, now time.Time) float64 {
	if !c.State.Decaying() {
		return c.CurrentBounty
	}
	elapsed := now.Sub(c.AcceptedAt).Seconds()
	b := c.InitialBounty - c.DecayRate*elapsed
	if b < 0 {
		return 0
	}
	return b
}

// TimeRemaining is the real-time estimate until the bounty reaches
// zero. NoExpiry when the contract does not decay.
func (d *DecayManager) TimeRemaining(c *contracts.Contract, now time.Time) time.Duration {
	if c.DecayRate <= 0 {
		return NoExpiry
	}
	b := d.CurrentBounty(c, now)
	if b <= 0 {
		return 0
	}
	return time.Duration(b / c.DecayRate * float64(time.Second))
}
