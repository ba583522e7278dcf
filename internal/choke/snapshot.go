// Package choke decides which connected peers get upload
// slots and which underperformers are dropped. The
// algorithms are pure functions over per-tick snapshots:
// time and randomness are injected, nothing here keeps a
// timer or touches a connection.
package choke

import "time"

// Clock supplies the current time. Injected so every
// decision is reproducible under test.
type Clock func() time.Time

// Rand is the subset of math/rand used for optimistic peer
// selection; *rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
}

// PeerSnapshot is a read-only projection of one connected
// peer, rebuilt by the session each maintenance tick.
type PeerSnapshot struct {
	ID string

	// PeerChoking: the peer is choking us.
	PeerChoking bool
	// AmChoking: we are choking the peer.
	AmChoking bool
	// Interested: the peer wants pieces we have.
	Interested bool

	// Rates in bytes per second, measured over the last tick.
	DownloadRate int64
	UploadRate   int64

	ConnectedAt  time.Time
	LastReceived time.Time
}

type Action string

const (
	ActionChoke   Action = "choke"
	ActionUnchoke Action = "unchoke"
)

type ChokeReason string

const (
	ReasonTitForTat  ChokeReason = "tit_for_tat"
	ReasonOptimistic ChokeReason = "optimistic"
	ReasonReplaced   ChokeReason = "replaced"
)

type ChokeDecision struct {
	PeerID string
	Action Action
	Reason ChokeReason
}

type DropReason string

const (
	DropChokedTimeout DropReason = "choked_timeout"
	DropTooSlow       DropReason = "too_slow"
	DropBelowAverage  DropReason = "below_average"
)

type DropDecision struct {
	PeerID string
	Reason DropReason
}
