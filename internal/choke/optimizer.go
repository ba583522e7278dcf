package choke

import "time"

// DropConfig tunes eviction of persistently slow peers.
type DropConfig struct {
	ChokedTimeout          time.Duration
	MinSpeed               int64 // bytes per second
	MinConnectionAge       time.Duration
	DropBelowAverageRatio  float64
	MinPeersBeforeDropping int
}

func DefaultDropConfig() DropConfig {
	return DropConfig{
		ChokedTimeout:          60 * time.Second,
		MinSpeed:               1000,
		MinConnectionAge:       15 * time.Second,
		DropBelowAverageRatio:  0.1,
		MinPeersBeforeDropping: 4,
	}
}

// Optimizer flags peers worth replacing: ones that keep us
// choked without sending data, and ones that transfer far
// below the rest of the swarm.
type Optimizer struct {
	cfg   DropConfig
	clock Clock
}

func NewOptimizer(cfg DropConfig, clock Clock) *Optimizer {
	return &Optimizer{cfg: cfg, clock: clock}
}

func (o *Optimizer) Config() DropConfig { return o.cfg }

func (o *Optimizer) SetConfig(cfg DropConfig) { o.cfg = cfg }

// Evaluate returns drop decisions for underperforming
// peers. It never drops protected peers, never drops when
// the population is at or below MinPeersBeforeDropping, and
// never drops when the swarm has no replacement candidates.
func (o *Optimizer) Evaluate(peers []PeerSnapshot, protected map[string]bool, hasSwarmCandidates bool) []DropDecision {
	if len(peers) <= o.cfg.MinPeersBeforeDropping || !hasSwarmCandidates {
		return nil
	}

	now := o.clock()

	var sum, n int64
	for _, p := range peers {
		if !p.PeerChoking {
			sum += p.DownloadRate
			n++
		}
	}

	var avg float64
	if n > 0 {
		avg = float64(sum) / float64(n)
	}

	var out []DropDecision
	for _, p := range peers {
		if protected[p.ID] {
			continue
		}

		if p.PeerChoking {
			last := p.LastReceived
			if last.IsZero() {
				last = p.ConnectedAt
			}

			if now.Sub(last) >= o.cfg.ChokedTimeout {
				out = append(out, DropDecision{PeerID: p.ID, Reason: DropChokedTimeout})
			}

			continue
		}

		// Give fresh connections time to ramp up.
		if now.Sub(p.ConnectedAt) <= o.cfg.MinConnectionAge {
			continue
		}

		if p.DownloadRate < o.cfg.MinSpeed {
			out = append(out, DropDecision{PeerID: p.ID, Reason: DropTooSlow})
		} else if float64(p.DownloadRate) < o.cfg.DropBelowAverageRatio*avg {
			out = append(out, DropDecision{PeerID: p.ID, Reason: DropBelowAverage})
		}
	}

	return out
}
