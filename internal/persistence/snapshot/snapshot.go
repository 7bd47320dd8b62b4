// Package snapshot persists the full contract set. The on-disk format
// is a one-line JSON header followed by a gob body, zstd compressed,
// written to a temp file and renamed so a failed save never corrupts
// the previous good snapshot.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"silkroad.gg/internal/contracts"
)

type Header struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Count   int       `json:"count"`
}

type ContractV1 struct {
	ID        string    `json:"contract_id"`
	CreatedAt time.Time `json:"created_at"`
	State     string    `json:"state"`

	ShopID            string `json:"shop_id,omitempty"`
	OriginRegion      string `json:"origin_region"`
	DestinationRegion string `json:"destination_region"`

	Item      string  `json:"item"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`

	InitialBounty float64   `json:"initial_bounty"`
	CurrentBounty float64   `json:"current_bounty"`
	DecayRate     float64   `json:"decay_rate"`
	ExpiresAt     time.Time `json:"expires_at"`

	ShopOwner   string `json:"shop_owner,omitempty"`
	Buyer       string `json:"buyer,omitempty"`
	Transporter string `json:"transporter,omitempty"`

	RegionDistances map[string]float64 `json:"region_distances"`
	RequiredTier    int                `json:"required_tier"`

	PickedUp    bool      `json:"picked_up"`
	AcceptedAt  time.Time `json:"accepted_at,omitempty"`
	DeliveredAt time.Time `json:"delivered_at,omitempty"`
}

type SnapshotV1 struct {
	Header    Header       `json:"header"`
	Contracts []ContractV1 `json:"contracts"`
}

func FromContract(c contracts.Contract) ContractV1 {
	out := ContractV1{
		ID:                c.ID,
		CreatedAt:         c.CreatedAt,
		State:             string(c.State),
		ShopID:            c.ShopID,
		OriginRegion:      c.OriginRegion,
		DestinationRegion: c.DestinationRegion,
		Item:              c.Item,
		Quantity:          c.Quantity,
		UnitPrice:         c.UnitPrice,
		InitialBounty:     c.InitialBounty,
		CurrentBounty:     c.CurrentBounty,
		DecayRate:         c.DecayRate,
		ExpiresAt:         c.ExpiresAt,
		ShopOwner:         c.ShopOwner,
		Buyer:             c.Buyer,
		RegionDistances:   c.RegionDistances,
		RequiredTier:      c.RequiredTier,
		PickedUp:          c.PickedUp,
		AcceptedAt:        c.AcceptedAt,
		DeliveredAt:       c.DeliveredAt,
	}
	if c.Transporter.Assigned() {
		out.Transporter = c.Transporter.ID()
	}
	return out
}

func (v ContractV1) ToContract() (contracts.Contract, error) {
	switch contracts.State(v.State) {
	case contracts.StatePosted, contracts.StateAccepted, contracts.StateInTransit,
		contracts.StateDelivered, contracts.StateCompleted, contracts.StateCancelled,
		contracts.StateExpired:
	default:
		return contracts.Contract{}, fmt.Errorf("unknown contract state %q", v.State)
	}
	if v.ID == "" {
		return contracts.Contract{}, fmt.Errorf("missing contract id")
	}
	c := contracts.Contract{
		ID:                v.ID,
		CreatedAt:         v.CreatedAt,
		State:             contracts.State(v.State),
		ShopID:            v.ShopID,
		OriginRegion:      v.OriginRegion,
		DestinationRegion: v.DestinationRegion,
		Item:              v.Item,
		Quantity:          v.Quantity,
		UnitPrice:         v.UnitPrice,
		InitialBounty:     v.InitialBounty,
		CurrentBounty:     v.CurrentBounty,
		DecayRate:         v.DecayRate,
		ExpiresAt:         v.ExpiresAt,
		ShopOwner:         v.ShopOwner,
		Buyer:             v.Buyer,
		RegionDistances:   v.RegionDistances,
		RequiredTier:      v.RequiredTier,
		PickedUp:          v.PickedUp,
		AcceptedAt:        v.AcceptedAt,
		DeliveredAt:       v.DeliveredAt,
	}
	if v.Transporter != "" {
		c.Transporter = contracts.AssignedTo(v.Transporter)
	}
	return c, nil
}

func Write(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeFile(tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeFile(path string, snap SnapshotV1) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func Read(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// Header line is informational; the gob body carries it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
