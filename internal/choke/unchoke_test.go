package choke

import (
	"math/rand"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestUnchoker(cfg UnchokeConfig) (*Unchoker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	return NewUnchoker(cfg, clock.Now, rand.New(rand.NewSource(1))), clock
}

func snapshot(id string, rate int64, connectedAt time.Time) PeerSnapshot {
	return PeerSnapshot{
		ID:           id,
		Interested:   true,
		DownloadRate: rate,
		ConnectedAt:  connectedAt,
	}
}

func unchokedIDs(decisions []ChokeDecision) map[string]ChokeReason {
	out := make(map[string]ChokeReason)
	for _, d := range decisions {
		if d.Action == ActionUnchoke {
			out[d.PeerID] = d.Reason
		}
	}

	return out
}

func TestEvaluateRespectsSlotCap(t *testing.T) {
	u, clock := newTestUnchoker(DefaultUnchokeConfig())
	old := clock.now.Add(-10 * time.Minute)

	var peers []PeerSnapshot
	for i := 0; i < 10; i++ {
		peers = append(peers, snapshot(string(rune('a'+i)), int64(1000*(10-i)), old))
	}

	decisions := u.Evaluate(peers)

	if got := len(u.ProtectedPeers()); got > 4 {
		t.Errorf("unchoke set has %d peers, cap is 4", got)
	}

	un := unchokedIDs(decisions)
	if len(un) != 4 {
		t.Fatalf("want 4 unchoke decisions got %d", len(un))
	}

	// The three fastest hold reciprocity slots.
	for _, id := range []string{"a", "b", "c"} {
		if un[id] != ReasonTitForTat {
			t.Errorf("peer %s: want tit_for_tat got %q", id, un[id])
		}
	}

	var optimistic int
	for _, reason := range un {
		if reason == ReasonOptimistic {
			optimistic++
		}
	}
	if optimistic != 1 {
		t.Errorf("want exactly 1 optimistic unchoke got %d", optimistic)
	}
}

func TestZeroSlotsUnchokeNobody(t *testing.T) {
	u, clock := newTestUnchoker(DefaultUnchokeConfig())
	old := clock.now.Add(-10 * time.Minute)

	peers := []PeerSnapshot{
		snapshot("a", 3000, old),
		snapshot("b", 2000, old),
		snapshot("c", 1000, old),
	}

	if un := unchokedIDs(u.Evaluate(peers)); len(un) != 3 {
		t.Fatalf("warm-up evaluate unchoked %d peers, want 3", len(un))
	}

	// Shrinking to zero slots revokes every slot, the
	// optimistic one included, and hands out none afterwards.
	cfg := DefaultUnchokeConfig()
	cfg.MaxUploadSlots = 0
	u.SetConfig(cfg)

	decisions := u.Evaluate(peers)
	if un := unchokedIDs(decisions); len(un) != 0 {
		t.Errorf("zero slots still unchoked %v", un)
	}
	for _, d := range decisions {
		if d.Action == ActionChoke && d.Reason != ReasonReplaced {
			t.Errorf("peer %s: want replaced got %q", d.PeerID, d.Reason)
		}
	}
	if got := len(u.ProtectedPeers()); got != 0 {
		t.Errorf("unchoke set has %d peers, cap is 0", got)
	}

	// Even once the optimistic rotation comes due.
	clock.Advance(time.Minute)
	if un := unchokedIDs(u.Evaluate(peers)); len(un) != 0 {
		t.Errorf("rotation unchoked %v despite zero slots", un)
	}
}

func TestAntiFibrillation(t *testing.T) {
	u, clock := newTestUnchoker(DefaultUnchokeConfig())
	old := clock.now.Add(-10 * time.Minute)

	peers := []PeerSnapshot{snapshot("a", 100, old), snapshot("b", 50, old)}

	if got := u.Evaluate(peers); len(got) == 0 {
		t.Fatal("first evaluation must produce decisions")
	}

	clock.Advance(5 * time.Second)
	if got := u.Evaluate(peers); got != nil {
		t.Errorf("evaluation inside the choke interval must be a no-op, got %v", got)
	}

	clock.Advance(5 * time.Second)
	u.Evaluate(peers) // interval elapsed, runs again (may be a no-op delta)
}

func TestReplacedPeersAreChoked(t *testing.T) {
	u, clock := newTestUnchoker(DefaultUnchokeConfig())
	old := clock.now.Add(-10 * time.Minute)

	peers := []PeerSnapshot{
		snapshot("a", 4000, old),
		snapshot("b", 3000, old),
		snapshot("c", 2000, old),
		snapshot("d", 1000, old),
	}

	u.Evaluate(peers)
	if got := len(u.ProtectedPeers()); got != 4 {
		t.Fatalf("want all 4 peers unchoked got %d", got)
	}

	// A new peer outruns everyone; someone has to give up a
	// reciprocity slot.
	clock.Advance(10 * time.Second)
	peers = append(peers, snapshot("e", 9000, old))

	decisions := u.Evaluate(peers)

	var chokes []ChokeDecision
	for _, d := range decisions {
		if d.Action == ActionChoke {
			chokes = append(chokes, d)
		}
	}

	if len(chokes) == 0 {
		t.Fatal("expected at least one choke decision")
	}
	for _, d := range chokes {
		if d.Reason != ReasonReplaced {
			t.Errorf("choke reason: want replaced got %q", d.Reason)
		}
		if u.ProtectedPeers()[d.PeerID] {
			t.Errorf("choked peer %s still in the unchoke set", d.PeerID)
		}
	}
}

func TestUninterestedPeersNeverUnchoked(t *testing.T) {
	u, clock := newTestUnchoker(DefaultUnchokeConfig())
	old := clock.now.Add(-10 * time.Minute)

	fast := snapshot("fast", 100000, old)
	fast.Interested = false

	decisions := u.Evaluate([]PeerSnapshot{fast, snapshot("slow", 1, old)})

	un := unchokedIDs(decisions)
	if un["fast"] != "" {
		t.Error("an uninterested peer must not receive a slot")
	}
	if un["slow"] != ReasonTitForTat {
		t.Errorf("lone interested peer should hold a reciprocity slot, got %q", un["slow"])
	}
}

func TestOptimisticKeptUntilRotation(t *testing.T) {
	u, clock := newTestUnchoker(DefaultUnchokeConfig())
	old := clock.now.Add(-10 * time.Minute)

	peers := []PeerSnapshot{
		snapshot("a", 4000, old),
		snapshot("b", 3000, old),
		snapshot("c", 2000, old),
		snapshot("d", 0, old),
		snapshot("e", 0, old),
	}

	u.Evaluate(peers)
	first := u.optimisticID
	if first == "" {
		t.Fatal("expected an optimistic peer")
	}

	// Inside the optimistic interval the incumbent stays.
	clock.Advance(10 * time.Second)
	u.Evaluate(peers)
	if u.optimisticID != first {
		t.Errorf("optimistic peer rotated early: %s → %s", first, u.optimisticID)
	}

	// Once due, rotation reruns the weighted pick.
	clock.Advance(30 * time.Second)
	u.Evaluate(peers)
	if !u.unchoked[u.optimisticID] {
		t.Error("optimistic peer must be in the unchoke set")
	}
}

func TestOptimisticReplacedWhenGone(t *testing.T) {
	u, clock := newTestUnchoker(DefaultUnchokeConfig())
	old := clock.now.Add(-10 * time.Minute)

	peers := []PeerSnapshot{
		snapshot("a", 4000, old),
		snapshot("b", 3000, old),
		snapshot("c", 2000, old),
		snapshot("d", 0, old),
		snapshot("e", 0, old),
	}

	u.Evaluate(peers)
	gone := u.optimisticID

	u.PeerDisconnected(gone)
	if u.optimisticID != "" || u.unchoked[gone] {
		t.Fatal("disconnect must clear the slot immediately")
	}

	// Next tick picks a replacement without waiting for the
	// 30s rotation.
	clock.Advance(10 * time.Second)
	var remaining []PeerSnapshot
	for _, p := range peers {
		if p.ID != gone {
			remaining = append(remaining, p)
		}
	}

	u.Evaluate(remaining)
	if u.optimisticID == "" || u.optimisticID == gone {
		t.Errorf("expected a fresh optimistic peer, got %q", u.optimisticID)
	}
}

// A peer connected less than NewPeerThreshold ago must be
// picked roughly NewPeerWeight times as often.
func TestOptimisticWeighting(t *testing.T) {
	cfg := DefaultUnchokeConfig()
	cfg.MaxUploadSlots = 1 // no reciprocity slots; pure optimistic pick

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	rng := rand.New(rand.NewSource(42))

	fresh := snapshot("fresh", 0, clock.now.Add(-10*time.Second))
	older := snapshot("older", 0, clock.now.Add(-10*time.Minute))

	const trials = 20000
	var pickedFresh int
	for i := 0; i < trials; i++ {
		u := NewUnchoker(cfg, clock.Now, rng)
		u.Evaluate([]PeerSnapshot{fresh, older})

		if u.optimisticID == "fresh" {
			pickedFresh++
		}
	}

	// Expected ratio 3:1, i.e. 75% of picks.
	got := float64(pickedFresh) / trials
	if got < 0.72 || got > 0.78 {
		t.Errorf("fresh peer picked %.1f%% of the time, want ~75%%", got*100)
	}
}

func TestEvaluateEmptySwarm(t *testing.T) {
	u, _ := newTestUnchoker(DefaultUnchokeConfig())

	if got := u.Evaluate(nil); len(got) != 0 {
		t.Errorf("no peers, no decisions; got %v", got)
	}
	if got := len(u.ProtectedPeers()); got != 0 {
		t.Errorf("want empty unchoke set got %d", got)
	}
}
