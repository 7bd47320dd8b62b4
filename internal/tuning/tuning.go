package tuning

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	Bounty      Bounty      `yaml:"bounty"`
	Insurance   Insurance   `yaml:"insurance"`
	Progression Progression `yaml:"progression"`
	Warnings    Warnings    `yaml:"warnings"`
	Lifecycle   Lifecycle   `yaml:"lifecycle"`
}

type Bounty struct {
	Minimum         float64            `yaml:"minimum"`
	ValueMultiplier float64            `yaml:"value_multiplier"`
	RegionRates     map[string]float64 `yaml:"region_rates"`
	DefaultRate     float64            `yaml:"default_region_rate"`

	BaseDecayRate      float64 `yaml:"base_decay_rate"`
	MinimumDurationSec int     `yaml:"minimum_duration_s"`
	TickIntervalSec    int     `yaml:"tick_interval_s"`
}

type Insurance struct {
	Enabled    bool    `yaml:"enabled"`
	Rate       float64 `yaml:"rate"`
	Refundable bool    `yaml:"refundable"`
}

type Progression struct {
	Enabled           bool    `yaml:"enabled"`
	XPPerCompletion   int     `yaml:"xp_per_completion"`
	XPPerDistance     float64 `yaml:"xp_per_distance"`
	XPPerRegion       int     `yaml:"xp_per_region_crossed"`
	XPHighValueBonus  int     `yaml:"xp_high_value_bonus"`
	HighValueCutoff   float64 `yaml:"high_value_cutoff"`
	Tiers             []Tier  `yaml:"tiers"`
}

type Tier struct {
	Tier              int     `yaml:"tier"`
	Name              string  `yaml:"name"`
	XPRequired        int     `yaml:"xp_required"`
	MaxValue          float64 `yaml:"max_value"`
	MaxContracts      int     `yaml:"max_contracts"`
	InsuranceDiscount float64 `yaml:"insurance_discount"`
}

type Warnings struct {
	ThresholdsSec []int   `yaml:"thresholds_s"`
	LowBounty     float64 `yaml:"low_bounty"`
}

type Lifecycle struct {
	GraceDelaySec   int `yaml:"grace_delay_s"`
	SaveIntervalSec int `yaml:"save_interval_s"`
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.fillZero()
	if err := t.validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func Defaults() Tuning {
	var t Tuning
	t.Progression.Enabled = true
	t.Insurance.Enabled = true
	t.fillZero()
	return t
}

// fillZero backfills unset fields so a partial tuning.yaml still yields a
// runnable configuration.
func (t *Tuning) fillZero() {
	b := &t.Bounty
	if b.Minimum <= 0 {
		b.Minimum = 10
	}
	if b.ValueMultiplier <= 0 {
		b.ValueMultiplier = 0.15
	}
	if b.DefaultRate <= 0 {
		b.DefaultRate = 0.10
	}
	if b.BaseDecayRate <= 0 {
		b.BaseDecayRate = 0.10
	}
	if b.MinimumDurationSec <= 0 {
		b.MinimumDurationSec = 600
	}
	if b.TickIntervalSec <= 0 {
		b.TickIntervalSec = 5
	}
	if t.Insurance.Rate <= 0 {
		t.Insurance.Rate = 0.10
	}
	p := &t.Progression
	if p.XPPerCompletion <= 0 {
		p.XPPerCompletion = 50
	}
	if p.XPPerDistance <= 0 {
		p.XPPerDistance = 0.1
	}
	if p.XPPerRegion <= 0 {
		p.XPPerRegion = 25
	}
	if p.XPHighValueBonus <= 0 {
		p.XPHighValueBonus = 100
	}
	if p.HighValueCutoff <= 0 {
		p.HighValueCutoff = 1000
	}
	if len(p.Tiers) == 0 {
		p.Tiers = []Tier{
			{Tier: 1, Name: "Novice", XPRequired: 0, MaxValue: 500, MaxContracts: 1},
			{Tier: 2, Name: "Courier", XPRequired: 500, MaxValue: 2000, MaxContracts: 2, InsuranceDiscount: 0.05},
			{Tier: 3, Name: "Trader", XPRequired: 2000, MaxValue: 10000, MaxContracts: 3, InsuranceDiscount: 0.10},
			{Tier: 4, Name: "Caravaneer", XPRequired: 8000, MaxValue: 50000, MaxContracts: 4, InsuranceDiscount: 0.15},
			{Tier: 5, Name: "Silk Baron", XPRequired: 25000, MaxValue: 1000000, MaxContracts: 5, InsuranceDiscount: 0.25},
		}
	}
	sort.Slice(p.Tiers, func(i, j int) bool { return p.Tiers[i].Tier < p.Tiers[j].Tier })
	if len(t.Warnings.ThresholdsSec) == 0 {
		t.Warnings.ThresholdsSec = []int{1800, 600, 300, 120, 60, 30}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(t.Warnings.ThresholdsSec)))
	if t.Warnings.LowBounty <= 0 {
		t.Warnings.LowBounty = 50
	}
	if t.Lifecycle.GraceDelaySec <= 0 {
		t.Lifecycle.GraceDelaySec = 5
	}
	if t.Lifecycle.SaveIntervalSec <= 0 {
		t.Lifecycle.SaveIntervalSec = 300
	}
}

func (t *Tuning) validate() error {
	for _, r := range t.Bounty.RegionRates {
		if r < 0 {
			return fmt.Errorf("negative region rate %v", r)
		}
	}
	last := 0
	for _, tier := range t.Progression.Tiers {
		if tier.Tier <= last {
			return fmt.Errorf("tier numbers must be ascending, got %d after %d", tier.Tier, last)
		}
		if tier.MaxContracts <= 0 {
			return fmt.Errorf("tier %d: max_contracts must be positive", tier.Tier)
		}
		if tier.InsuranceDiscount < 0 || tier.InsuranceDiscount >= 1 {
			return fmt.Errorf("tier %d: insurance_discount out of range", tier.Tier)
		}
		last = tier.Tier
	}
	return nil
}
