package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"silkroad.gg/internal/bounty"
	"silkroad.gg/internal/contracts"
	"silkroad.gg/internal/economy"
	"silkroad.gg/internal/persistence/indexdb"
	"silkroad.gg/internal/transporters"
)

type apiServer struct {
	registry *contracts.Registry
	manager  *contracts.Manager
	decay    *bounty.DecayManager
	prog     *transporters.Manager
	ledger   *economy.Ledger
	shops    *economy.Shops
	idx      *indexdb.SQLiteIndex
	log      *log.Logger
}

func (a *apiServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/contracts", a.handleBrowse)
	mux.HandleFunc("POST /v1/contracts", a.handleCreate)
	mux.HandleFunc("GET /v1/contracts/{id}", a.handleGet)
	mux.HandleFunc("POST /v1/contracts/{id}/accept", a.handleAccept)
	mux.HandleFunc("POST /v1/contracts/{id}/pickup", a.handlePickup)
	mux.HandleFunc("POST /v1/contracts/{id}/deliver", a.handleDeliver)
	mux.HandleFunc("POST /v1/contracts/{id}/claim", a.handleClaim)
	mux.HandleFunc("POST /v1/contracts/{id}/cancel", a.handleCancel)
	mux.HandleFunc("GET /v1/contracts/{id}/events", a.handleEvents)
	mux.HandleFunc("GET /v1/transporters/{actor}", a.handleTransporter)
	mux.HandleFunc("GET /v1/transporters/{actor}/completions", a.handleCompletions)
	mux.HandleFunc("GET /v1/orders", a.handlePendingOrders)
	mux.HandleFunc("POST /v1/shops", a.handleRegisterShop)
	mux.HandleFunc("POST /v1/ledger/deposit", a.handleDeposit)
}

// contractView is the wire shape of one contract, with bounty and time
// remaining recomputed at read time instead of waiting for the next
// decay tick.
type contractView struct {
	ID                string    `json:"contract_id"`
	State             string    `json:"state"`
	ShopID            string    `json:"shop_id,omitempty"`
	OriginRegion      string    `json:"origin_region"`
	DestinationRegion string    `json:"destination_region"`
	Item              string    `json:"item"`
	Quantity          int       `json:"quantity"`
	UnitPrice         float64   `json:"unit_price"`
	TotalValue        float64   `json:"total_value"`
	TotalDistance     float64   `json:"total_distance"`
	InitialBounty     float64   `json:"initial_bounty"`
	CurrentBounty     float64   `json:"current_bounty"`
	DecayRate         float64   `json:"decay_rate"`
	RequiredTier      int       `json:"required_tier"`
	Buyer             string    `json:"buyer,omitempty"`
	Transporter       string    `json:"transporter,omitempty"`
	PickedUp          bool      `json:"picked_up"`
	ExpiresAt         time.Time `json:"expires_at"`
	TimeRemainingS    int64     `json:"time_remaining_s"`
}

func (a *apiServer) view(c contracts.Contract, now time.Time) contractView {
	v := contractView{
		ID:                c.ID,
		State:             string(c.State),
		ShopID:            c.ShopID,
		OriginRegion:      c.OriginRegion,
		DestinationRegion: c.DestinationRegion,
		Item:              c.Item,
		Quantity:          c.Quantity,
		UnitPrice:         c.UnitPrice,
		TotalValue:        c.TotalValue(),
		TotalDistance:     c.TotalDistance(),
		InitialBounty:     c.InitialBounty,
		CurrentBounty:     c.CurrentBounty,
		DecayRate:         c.DecayRate,
		RequiredTier:      c.RequiredTier,
		Buyer:             c.Buyer,
		Transporter:       c.Transporter.ID(),
		PickedUp:          c.PickedUp,
		ExpiresAt:         c.ExpiresAt,
	}
	if c.State.Decaying() {
		v.CurrentBounty = a.decay.CurrentBounty(&c, now)
		v.TimeRemainingS = int64(a.decay.TimeRemaining(&c, now) / time.Second)
	} else if c.State == contracts.StatePosted {
		v.TimeRemainingS = int64(c.TimeRemaining(now) / time.Second)
	}
	return v
}

func (a *apiServer) views(cs []contracts.Contract, now time.Time) []contractView {
	out := make([]contractView, 0, len(cs))
	for _, c := range cs {
		out = append(out, a.view(c, now))
	}
	return out
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}

func (a *apiServer) handleBrowse(rw http.ResponseWriter, r *http.Request) {
	now := time.Now()
	q := r.URL.Query()

	var cs []contracts.Contract
	switch {
	case q.Get("origin") != "":
		cs = onlyAvailable(a.registry.ByOrigin(q.Get("origin")), now)
	case q.Get("destination") != "":
		cs = onlyAvailable(a.registry.ByDestination(q.Get("destination")), now)
	default:
		cs = a.registry.Available(now)
	}

	f := contracts.Filter(strings.ToUpper(q.Get("filter")))
	if f == "" {
		f = contracts.FilterAll
	}
	s := contracts.SortOrder(strings.ToUpper(q.Get("sort")))
	if s == "" {
		s = contracts.SortBountyHigh
	}
	cs = contracts.Browse(cs, f, s, now)

	writeJSON(rw, http.StatusOK, map[string]any{
		"contracts": a.views(cs, now),
		"filter":    f,
		"sort":      s,
	})
}

func onlyAvailable(cs []contracts.Contract, now time.Time) []contracts.Contract {
	out := cs[:0]
	for _, c := range cs {
		if c.CanBeAccepted(now) {
			out = append(out, c)
		}
	}
	return out
}

type createRequest struct {
	Buyer             string             `json:"buyer"`
	ShopID            string             `json:"shop_id"`
	ShopOwner         string             `json:"shop_owner"`
	OriginRegion      string             `json:"origin_region"`
	DestinationRegion string             `json:"destination_region"`
	Item              string             `json:"item"`
	Quantity          int                `json:"quantity"`
	UnitPrice         float64            `json:"unit_price"`
	RegionDistances   map[string]float64 `json:"region_distances"`
}

func (a *apiServer) handleCreate(rw http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	if req.Buyer == "" || req.Item == "" || req.Quantity <= 0 {
		writeError(rw, http.StatusBadRequest, "buyer, item and a positive quantity are required")
		return
	}
	if req.OriginRegion == "" || req.DestinationRegion == "" {
		writeError(rw, http.StatusBadRequest, "origin_region and destination_region are required")
		return
	}

	// The buyer pays the goods up front; it comes back if the contract
	// dies before delivery.
	total := req.UnitPrice * float64(req.Quantity)
	if !a.ledger.Withdraw(req.Buyer, total) {
		writeError(rw, http.StatusPaymentRequired, "insufficient funds")
		return
	}

	c := a.manager.Create(contracts.CreateParams{
		Buyer:             req.Buyer,
		ShopID:            req.ShopID,
		ShopOwner:         req.ShopOwner,
		OriginRegion:      req.OriginRegion,
		DestinationRegion: req.DestinationRegion,
		Item:              req.Item,
		Quantity:          req.Quantity,
		UnitPrice:         req.UnitPrice,
		RegionDistances:   req.RegionDistances,
	})
	writeJSON(rw, http.StatusCreated, a.view(c, time.Now()))
}

func (a *apiServer) handleGet(rw http.ResponseWriter, r *http.Request) {
	c, ok := a.registry.Get(r.PathValue("id"))
	if !ok {
		writeError(rw, http.StatusNotFound, "no such contract")
		return
	}
	writeJSON(rw, http.StatusOK, a.view(c, time.Now()))
}

type actorRequest struct {
	Actor string `json:"actor"`
}

func decodeActor(rw http.ResponseWriter, r *http.Request) (string, bool) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Actor == "" {
		writeError(rw, http.StatusBadRequest, "actor is required")
		return "", false
	}
	return req.Actor, true
}

func (a *apiServer) handleAccept(rw http.ResponseWriter, r *http.Request) {
	actor, ok := decodeActor(rw, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if !a.manager.Accept(actor, id) {
		writeError(rw, http.StatusConflict, "contract not accepted")
		return
	}
	c, _ := a.registry.Get(id)
	writeJSON(rw, http.StatusOK, a.view(c, time.Now()))
}

func (a *apiServer) handlePickup(rw http.ResponseWriter, r *http.Request) {
	actor, ok := decodeActor(rw, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if !a.manager.Pickup(actor, id) {
		writeError(rw, http.StatusConflict, "cargo not picked up")
		return
	}
	c, _ := a.registry.Get(id)
	writeJSON(rw, http.StatusOK, a.view(c, time.Now()))
}

func (a *apiServer) handleDeliver(rw http.ResponseWriter, r *http.Request) {
	actor, ok := decodeActor(rw, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if !a.manager.Deliver(actor, id) {
		writeError(rw, http.StatusConflict, "contract not delivered")
		return
	}
	c, _ := a.registry.Get(id)
	writeJSON(rw, http.StatusOK, a.view(c, time.Now()))
}

func (a *apiServer) handleClaim(rw http.ResponseWriter, r *http.Request) {
	actor, ok := decodeActor(rw, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	c, found := a.registry.Get(id)
	if !found {
		writeError(rw, http.StatusNotFound, "no such contract")
		return
	}
	if c.Buyer != actor {
		writeError(rw, http.StatusForbidden, "not your order")
		return
	}
	if !a.manager.Complete(id) {
		writeError(rw, http.StatusConflict, "order not ready to claim")
		return
	}
	c, _ = a.registry.Get(id)
	writeJSON(rw, http.StatusOK, a.view(c, time.Now()))
}

type cancelRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (a *apiServer) handleCancel(rw http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	id := r.PathValue("id")
	c, found := a.registry.Get(id)
	if !found {
		writeError(rw, http.StatusNotFound, "no such contract")
		return
	}
	// Only the buyer or the shop owner may cancel.
	if req.Actor != c.Buyer && req.Actor != c.ShopOwner {
		writeError(rw, http.StatusForbidden, "not your contract")
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "cancelled by " + req.Actor
	}
	a.manager.Cancel(id, reason)
	c, _ = a.registry.Get(id)
	writeJSON(rw, http.StatusOK, a.view(c, time.Now()))
}

func (a *apiServer) handleEvents(rw http.ResponseWriter, r *http.Request) {
	if a.idx == nil {
		writeError(rw, http.StatusNotImplemented, "event index disabled")
		return
	}
	a.idx.Flush()
	evs, err := a.idx.EventsForContract(r.PathValue("id"))
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"events": evs})
}

func (a *apiServer) handleTransporter(rw http.ResponseWriter, r *http.Request) {
	actor := r.PathValue("actor")
	now := time.Now()
	stats := a.prog.Stats(actor)
	writeJSON(rw, http.StatusOK, map[string]any{
		"actor":            actor,
		"tier":             stats.Tier,
		"tier_name":        a.prog.TierName(actor),
		"xp":               stats.XP,
		"stats":            stats,
		"balance":          a.ledger.Balance(actor),
		"active_contracts": a.views(a.registry.ActiveForTransporter(actor), now),
	})
}

func (a *apiServer) handleCompletions(rw http.ResponseWriter, r *http.Request) {
	if a.idx == nil {
		writeError(rw, http.StatusNotImplemented, "event index disabled")
		return
	}
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	a.idx.Flush()
	recs, err := a.idx.CompletionsFor(r.PathValue("actor"), limit)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"completions": recs})
}

func (a *apiServer) handlePendingOrders(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	buyer, region := q.Get("buyer"), q.Get("region")
	if buyer == "" || region == "" {
		writeError(rw, http.StatusBadRequest, "buyer and region are required")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"orders": a.views(a.manager.PendingOrders(buyer, region), time.Now()),
	})
}

type registerShopRequest struct {
	ShopID string `json:"shop_id"`
	Owner  string `json:"owner"`
}

func (a *apiServer) handleRegisterShop(rw http.ResponseWriter, r *http.Request) {
	var req registerShopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ShopID == "" || req.Owner == "" {
		writeError(rw, http.StatusBadRequest, "shop_id and owner are required")
		return
	}
	a.shops.RegisterShop(req.ShopID, req.Owner)
	writeJSON(rw, http.StatusOK, map[string]string{"shop_id": req.ShopID, "owner": req.Owner})
}

type depositRequest struct {
	Actor  string  `json:"actor"`
	Amount float64 `json:"amount"`
}

func (a *apiServer) handleDeposit(rw http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Actor == "" || req.Amount <= 0 {
		writeError(rw, http.StatusBadRequest, "actor and a positive amount are required")
		return
	}
	a.ledger.Deposit(req.Actor, req.Amount)
	writeJSON(rw, http.StatusOK, map[string]any{
		"actor":   req.Actor,
		"balance": a.ledger.Balance(req.Actor),
	})
}
