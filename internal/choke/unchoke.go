package choke

import (
	"sort"
	"time"
)

// UnchokeConfig tunes the reciprocity algorithm.
type UnchokeConfig struct {
	MaxUploadSlots     int
	ChokeInterval      time.Duration
	OptimisticInterval time.Duration
	NewPeerThreshold   time.Duration
	NewPeerWeight      int
}

func DefaultUnchokeConfig() UnchokeConfig {
	return UnchokeConfig{
		MaxUploadSlots:     4,
		ChokeInterval:      10 * time.Second,
		OptimisticInterval: 30 * time.Second,
		NewPeerThreshold:   60 * time.Second,
		NewPeerWeight:      3,
	}
}

// Unchoker implements BEP-3 style reciprocity: the top
// uploaders-to-us hold all but one slot, and one slot
// rotates optimistically so new peers get a chance to prove
// themselves.
type Unchoker struct {
	cfg   UnchokeConfig
	clock Clock
	rng   Rand

	lastEval     time.Time // zero until the first tick
	lastRotation time.Time
	optimisticID string
	unchoked     map[string]bool
}

func NewUnchoker(cfg UnchokeConfig, clock Clock, rng Rand) *Unchoker {
	return &Unchoker{
		cfg:      cfg,
		clock:    clock,
		rng:      rng,
		unchoked: make(map[string]bool),
	}
}

func (u *Unchoker) Config() UnchokeConfig { return u.cfg }

func (u *Unchoker) SetConfig(cfg UnchokeConfig) {
	u.cfg = cfg
	u.Reset()
}

// Reset forces the next Evaluate to run regardless of the
// choke interval.
func (u *Unchoker) Reset() {
	u.lastEval = time.Time{}
}

// Evaluate recomputes the unchoke set and returns the delta
// against the previous one. Calls inside the choke interval
// return nothing, which keeps slot assignment from
// fibrillating between near-equal peers.
func (u *Unchoker) Evaluate(peers []PeerSnapshot) []ChokeDecision {
	now := u.clock()

	if !u.lastEval.IsZero() && now.Sub(u.lastEval) < u.cfg.ChokeInterval {
		return nil
	}

	rotationDue := u.lastRotation.IsZero() || now.Sub(u.lastRotation) >= u.cfg.OptimisticInterval

	var interested []PeerSnapshot
	for _, p := range peers {
		if p.Interested {
			interested = append(interested, p)
		}
	}

	sort.SliceStable(interested, func(i, j int) bool {
		return interested[i].DownloadRate > interested[j].DownloadRate
	})

	// Reciprocity: the best uploaders-to-us get all slots
	// but one.
	titForTat := make(map[string]bool, u.cfg.MaxUploadSlots)
	var order []string
	for i := 0; i < len(interested) && i < u.cfg.MaxUploadSlots-1; i++ {
		titForTat[interested[i].ID] = true
		order = append(order, interested[i].ID)
	}

	var candidates []PeerSnapshot
	for _, p := range interested {
		if !titForTat[p.ID] {
			candidates = append(candidates, p)
		}
	}

	// Keep the incumbent optimistic peer unless rotation is
	// due, it stopped being a candidate (gone or no longer
	// interested), or it was promoted into the reciprocity
	// set.
	keep := false
	if !rotationDue && u.optimisticID != "" && !titForTat[u.optimisticID] {
		for _, p := range candidates {
			if p.ID == u.optimisticID {
				keep = true
				break
			}
		}
	}

	// Zero slots means no optimistic slot either.
	if u.cfg.MaxUploadSlots < 1 {
		u.optimisticID = ""
	} else if !keep {
		u.optimisticID = u.pickOptimistic(candidates, now)
		u.lastRotation = now
	}

	next := make(map[string]bool, len(titForTat)+1)
	for id := range titForTat {
		next[id] = true
	}
	if u.optimisticID != "" {
		next[u.optimisticID] = true
		order = append(order, u.optimisticID)
	}

	var decisions []ChokeDecision
	for _, id := range order {
		if u.unchoked[id] {
			continue
		}

		reason := ReasonTitForTat
		if id == u.optimisticID {
			reason = ReasonOptimistic
		}

		decisions = append(decisions, ChokeDecision{PeerID: id, Action: ActionUnchoke, Reason: reason})
	}

	var choked []string
	for id := range u.unchoked {
		if !next[id] {
			choked = append(choked, id)
		}
	}
	sort.Strings(choked)
	for _, id := range choked {
		decisions = append(decisions, ChokeDecision{PeerID: id, Action: ActionChoke, Reason: ReasonReplaced})
	}

	u.unchoked = next
	u.lastEval = now

	return decisions
}

// pickOptimistic draws from the interested peers outside
// the reciprocity set, weighting recently connected peers
// higher so newcomers bootstrap faster.
func (u *Unchoker) pickOptimistic(candidates []PeerSnapshot, now time.Time) string {
	if len(candidates) == 0 {
		return ""
	}

	weights := make([]int, len(candidates))
	total := 0
	for i, p := range candidates {
		w := 1
		if now.Sub(p.ConnectedAt) < u.cfg.NewPeerThreshold {
			w = u.cfg.NewPeerWeight
		}

		weights[i] = w
		total += w
	}

	r := u.rng.Intn(total)
	for i, w := range weights {
		if r < w {
			return candidates[i].ID
		}
		r -= w
	}

	return candidates[len(candidates)-1].ID
}

// ProtectedPeers returns the current unchoke set; slot
// holders are exempt from performance-based eviction.
func (u *Unchoker) ProtectedPeers() map[string]bool {
	out := make(map[string]bool, len(u.unchoked))
	for id := range u.unchoked {
		out[id] = true
	}

	return out
}

// PeerDisconnected releases the peer's slot immediately
// instead of waiting for the next tick.
func (u *Unchoker) PeerDisconnected(id string) {
	delete(u.unchoked, id)
	if u.optimisticID == id {
		u.optimisticID = ""
	}
}
