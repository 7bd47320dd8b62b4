package transporters

import (
	"fmt"
	"log"
	"sync"
	"time"

	"silkroad.gg/internal/contracts"
	"silkroad.gg/internal/tuning"
)

const historyLimit = 50

// CompletionRecord is one finished delivery kept in a transporter's
// recent history.
type CompletionRecord struct {
	ContractID  string        `json:"contract_id"`
	DeliveredAt time.Time     `json:"delivered_at"`
	Origin      string        `json:"origin"`
	Destination string        `json:"destination"`
	Item        string        `json:"item"`
	Quantity    int           `json:"quantity"`
	Bounty      float64       `json:"bounty"`
	Distance    float64       `json:"distance"`
	TravelTime  time.Duration `json:"travel_time"`
}

// Data is one transporter's progression and lifetime stats.
type Data struct {
	ActorID string `json:"actor_id"`
	Tier    int    `json:"tier"`
	XP      int    `json:"xp"`

	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`

	TotalDistance   float64       `json:"total_distance"`
	TotalEarnings   float64       `json:"total_earnings"`
	TotalTravelTime time.Duration `json:"total_travel_time"`

	RegionDeliveries map[string]int `json:"region_deliveries,omitempty"`
	RegionsVisited   map[string]int `json:"regions_visited,omitempty"`

	History []CompletionRecord `json:"history,omitempty"`
}

// Store persists transporter records between runs.
type Store interface {
	Load(actorID string) (Data, bool)
	Save(d Data)
}

// CompletionSink receives each finished delivery, e.g. the sqlite
// history index.
type CompletionSink interface {
	RecordCompletion(transporter string, rec CompletionRecord)
}

// Manager tracks transporter tiers, XP and stats, and implements the
// contract manager's Progression collaborator.
type Manager struct {
	cfg      tuning.Progression
	store    Store
	notifier contracts.Notifier
	log      *log.Logger

	mu          sync.Mutex
	data        map[string]*Data
	completions CompletionSink
}

// SetCompletionSink wires an optional delivery-history consumer.
func (m *Manager) SetCompletionSink(sink CompletionSink) {
	m.completions = sink
}

func NewManager(cfg tuning.Progression, store Store, n contracts.Notifier, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		notifier: n,
		log:      logger,
		data:     make(map[string]*Data),
	}
}

// get loads lazily from the store; the in-memory copy is authoritative
// afterwards.
func (m *Manager) get(actorID string) *Data {
	d, ok := m.data[actorID]
	if ok {
		return d
	}
	if m.store != nil {
		if loaded, found := m.store.Load(actorID); found {
			d = &loaded
		}
	}
	if d == nil {
		d = &Data{ActorID: actorID, Tier: 1}
	}
	if d.Tier < 1 {
		d.Tier = 1
	}
	if d.RegionDeliveries == nil {
		d.RegionDeliveries = make(map[string]int)
	}
	if d.RegionsVisited == nil {
		d.RegionsVisited = make(map[string]int)
	}
	m.data[actorID] = d
	return d
}

func (m *Manager) save(d *Data) {
	if m.store != nil {
		m.store.Save(*d)
	}
}

func (m *Manager) Tier(actorID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(actorID).Tier
}

func (m *Manager) XP(actorID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(actorID).XP
}

func (m *Manager) tierSpec(tier int) (tuning.Tier, bool) {
	for _, t := range m.cfg.Tiers {
		if t.Tier == tier {
			return t, true
		}
	}
	return tuning.Tier{}, false
}

// MaxContracts is the concurrent-contract cap for the actor's tier.
func (m *Manager) MaxContracts(actorID string) int {
	if !m.cfg.Enabled {
		return 5
	}
	if t, ok := m.tierSpec(m.Tier(actorID)); ok {
		return t.MaxContracts
	}
	return 1
}

// InsuranceDiscount is the actor's tier discount in [0,1).
func (m *Manager) InsuranceDiscount(actorID string) float64 {
	if !m.cfg.Enabled {
		return 0
	}
	if t, ok := m.tierSpec(m.Tier(actorID)); ok {
		return t.InsuranceDiscount
	}
	return 0
}

func (m *Manager) TierName(actorID string) string {
	if t, ok := m.tierSpec(m.Tier(actorID)); ok && t.Name != "" {
		return t.Name
	}
	return "Transporter"
}

// AwardXP adds XP and applies any tier promotion it unlocks.
func (m *Manager) AwardXP(actorID string, xp int) {
	if !m.cfg.Enabled || xp <= 0 {
		return
	}
	m.mu.Lock()
	d := m.get(actorID)
	d.XP += xp
	oldTier := d.Tier
	d.Tier = m.tierForXP(d.XP)
	newTier := d.Tier
	m.save(d)
	m.mu.Unlock()

	if m.notifier != nil {
		m.notifier.Notify(actorID, fmt.Sprintf("+%d transport XP", xp))
	}
	if newTier > oldTier {
		m.log.Printf("transporter %s promoted to tier %d (%s)", actorID, newTier, m.TierName(actorID))
		if m.notifier != nil {
			m.notifier.Notify(actorID, fmt.Sprintf("Promoted! You are now a %s.", m.TierName(actorID)))
		}
	}
}

func (m *Manager) tierForXP(xp int) int {
	tier := 1
	for _, t := range m.cfg.Tiers {
		if xp >= t.XPRequired {
			tier = t.Tier
		} else {
			break
		}
	}
	return tier
}

// AwardCompletionXP credits a finished delivery: XP, lifetime stats and
// the bounded recent history.
func (m *Manager) AwardCompletionXP(actorID string, c contracts.Contract) {
	if m.cfg.Enabled {
		xp := m.cfg.XPPerCompletion
		xp += int(c.TotalDistance() * m.cfg.XPPerDistance)
		xp += len(c.RegionDistances) * m.cfg.XPPerRegion
		if c.TotalValue() > m.cfg.HighValueCutoff {
			xp += m.cfg.XPHighValueBonus
		}
		m.AwardXP(actorID, xp)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.get(actorID)
	d.Completed++
	d.TotalDistance += c.TotalDistance()
	d.TotalEarnings += c.CurrentBounty

	var travel time.Duration
	if !c.AcceptedAt.IsZero() && !c.DeliveredAt.IsZero() {
		travel = c.DeliveredAt.Sub(c.AcceptedAt)
		d.TotalTravelTime += travel
	}
	d.RegionDeliveries[c.DestinationRegion]++
	for region := range c.RegionDistances {
		d.RegionsVisited[region]++
	}

	rec := CompletionRecord{
		ContractID:  c.ID,
		DeliveredAt: c.DeliveredAt,
		Origin:      c.OriginRegion,
		Destination: c.DestinationRegion,
		Item:        c.Item,
		Quantity:    c.Quantity,
		Bounty:      c.CurrentBounty,
		Distance:    c.TotalDistance(),
		TravelTime:  travel,
	}
	d.History = append(d.History, rec)
	if len(d.History) > historyLimit {
		d.History = d.History[len(d.History)-historyLimit:]
	}
	m.save(d)
	if m.completions != nil {
		m.completions.RecordCompletion(actorID, rec)
	}
}

func (m *Manager) RecordFailed(actorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.get(actorID)
	d.Failed++
	m.save(d)
}

func (m *Manager) RecordCancelled(actorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.get(actorID)
	d.Cancelled++
	m.save(d)
}

// Stats returns a copy of the actor's record.
func (m *Manager) Stats(actorID string) Data {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.get(actorID)
	out := *d
	out.RegionDeliveries = copyCounts(d.RegionDeliveries)
	out.RegionsVisited = copyCounts(d.RegionsVisited)
	out.History = append([]CompletionRecord(nil), d.History...)
	return out
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
