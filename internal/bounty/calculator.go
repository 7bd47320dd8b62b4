package bounty

import (
	"strings"
	"time"

	"silkroad.gg/internal/contracts"
	"silkroad.gg/internal/tuning"
)

// NoExpiry is the time-to-expiry sentinel for a non-decaying contract.
const NoExpiry = time.Duration(1<<63 - 1)

type TierSpec struct {
	Tier     int
	MaxValue float64
}

// Config carries every tunable the calculator reads. Formulas are pure:
// the same contract snapshot and config always produce the same output.
type Config struct {
	MinimumBounty   float64
	ValueMultiplier float64

	// RegionRates is keyed by lowercased region name; DefaultRegionRate
	// applies to regions with no configured rate.
	RegionRates       map[string]float64
	DefaultRegionRate float64

	BaseDecayRate   float64
	MinimumDuration time.Duration

	ProgressionEnabled bool
	Tiers              []TierSpec
}

func ConfigFromTuning(t tuning.Tuning) Config {
	rates := make(map[string]float64, len(t.Bounty.RegionRates))
	for region, rate := range t.Bounty.RegionRates {
		rates[strings.ToLower(region)] = rate
	}
	tiers := make([]TierSpec, 0, len(t.Progression.Tiers))
	for _, tier := range t.Progression.Tiers {
		tiers = append(tiers, TierSpec{Tier: tier.Tier, MaxValue: tier.MaxValue})
	}
	return Config{
		MinimumBounty:      t.Bounty.Minimum,
		ValueMultiplier:    t.Bounty.ValueMultiplier,
		RegionRates:        rates,
		DefaultRegionRate:  t.Bounty.DefaultRate,
		BaseDecayRate:      t.Bounty.BaseDecayRate,
		MinimumDuration:    time.Duration(t.Bounty.MinimumDurationSec) * time.Second,
		ProgressionEnabled: t.Progression.Enabled,
		Tiers:              tiers,
	}
}

type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) *Calculator {
	if cfg.MinimumBounty <= 0 {
		cfg.MinimumBounty = 10
	}
	if cfg.ValueMultiplier <= 0 {
		cfg.ValueMultiplier = 0.15
	}
	if cfg.DefaultRegionRate <= 0 {
		cfg.DefaultRegionRate = 0.10
	}
	if cfg.BaseDecayRate <= 0 {
		cfg.BaseDecayRate = 0.10
	}
	if cfg.MinimumDuration <= 0 {
		cfg.MinimumDuration = 600 * time.Second
	}
	return &Calculator{cfg: cfg}
}

// Bounty prices a contract: distance component plus value component,
// floored at the configured minimum.
func (cal *Calculator) Bounty(c *contracts.Contract) float64 {
	var distance float64
	for region, d := range c.RegionDistances {
		distance += d * cal.RegionRate(region)
	}
	value := c.TotalValue() * cal.cfg.ValueMultiplier

	total := distance + value
	if total < cal.cfg.MinimumBounty {
		return cal.cfg.MinimumBounty
	}
	return total
}

// DecayRate slows decay for longer hauls, then clamps the rate so the
// contract lives at least MinimumDuration. Requires InitialBounty to be
// set on the contract.
func (cal *Calculator) DecayRate(c *contracts.Contract) float64 {
	rate := cal.cfg.BaseDecayRate / (1.0 + c.TotalDistance()/1000.0)
	minSec := cal.cfg.MinimumDuration.Seconds()
	if c.InitialBounty/rate < minSec {
		rate = c.InitialBounty / minSec
	}
	return rate
}

// RequiredTier is the lowest tier whose value ceiling admits the
// contract; past every ceiling the highest tier is required.
func (cal *Calculator) RequiredTier(totalValue float64) int {
	if !cal.cfg.ProgressionEnabled || len(cal.cfg.Tiers) == 0 {
		return 1
	}
	required := 1
	for _, t := range cal.cfg.Tiers {
		required = t.Tier
		if totalValue <= t.MaxValue {
			break
		}
	}
	return required
}

func (cal *Calculator) RegionRate(region string) float64 {
	if rate, ok := cal.cfg.RegionRates[strings.ToLower(region)]; ok {
		return rate
	}
	return cal.cfg.DefaultRegionRate
}

// TimeToExpiry estimates how long until the current bounty decays to
// zero. NoExpiry when the contract does not decay.
func (cal *Calculator) TimeToExpiry(c *contracts.Contract) time.Duration {
	if c.DecayRate <= 0 {
		return NoExpiry
	}
	return time.Duration(c.CurrentBounty / c.DecayRate * float64(time.Second))
}
