package choke

import (
	"math/rand"
	"time"
)

// Coordinator sequences the unchoker before the optimizer
// within one tick, so a peer holding an upload slot can
// never show up in the same tick's drop list.
type Coordinator struct {
	unchoker  *Unchoker
	optimizer *Optimizer
}

// Decisions is the combined outcome of one maintenance
// tick; the session translates it into wire messages and
// connection teardown.
type Decisions struct {
	Unchoke []ChokeDecision
	Drop    []DropDecision
}

func NewCoordinator(ucfg UnchokeConfig, dcfg DropConfig, clock Clock, rng Rand) *Coordinator {
	if clock == nil {
		clock = time.Now
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Coordinator{
		unchoker:  NewUnchoker(ucfg, clock, rng),
		optimizer: NewOptimizer(dcfg, clock),
	}
}

func (c *Coordinator) Evaluate(peers []PeerSnapshot, hasSwarmCandidates bool) Decisions {
	unchoke := c.unchoker.Evaluate(peers)
	protected := c.unchoker.ProtectedPeers()
	drop := c.optimizer.Evaluate(peers, protected, hasSwarmCandidates)

	return Decisions{Unchoke: unchoke, Drop: drop}
}

func (c *Coordinator) IsProtected(id string) bool {
	return c.unchoker.ProtectedPeers()[id]
}

func (c *Coordinator) PeerDisconnected(id string) {
	c.unchoker.PeerDisconnected(id)
}

// Reset forces a full re-evaluation on the next tick, e.g.
// after a configuration change.
func (c *Coordinator) Reset() {
	c.unchoker.Reset()
}

func (c *Coordinator) UnchokeConfig() UnchokeConfig { return c.unchoker.Config() }

func (c *Coordinator) SetUnchokeConfig(cfg UnchokeConfig) { c.unchoker.SetConfig(cfg) }

func (c *Coordinator) DropConfig() DropConfig { return c.optimizer.Config() }

func (c *Coordinator) SetDropConfig(cfg DropConfig) {
	c.optimizer.SetConfig(cfg)
	c.unchoker.Reset()
}
