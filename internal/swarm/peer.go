package swarm

import (
	"time"

	"github.com/nvensby/btcore/pkg/addrutil"
)

// Source records which discovery mechanism first produced
// an address. First discovery wins: later sightings of the
// same address never overwrite it.
type Source string

const (
	SourceTracker    Source = "tracker"
	SourcePEX        Source = "pex"
	SourceDHT        Source = "dht"
	SourceLSD        Source = "lsd"
	SourceIncoming   Source = "incoming"
	SourceManual     Source = "manual"
	SourceMagnetHint Source = "magnet"
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateFailed     State = "failed"
	StateBanned     State = "banned"
)

type BanReason string

const (
	BanNone        BanReason = ""
	BanCorruptData BanReason = "corrupt_data"
	BanProtocol    BanReason = "protocol_violation"
	BanSpam        BanReason = "spam"
	BanManual      BanReason = "manual"
)

// Peer is one swarm entry per canonical address key. Never
// removed except by a whole-swarm Clear.
type Peer struct {
	Addr   addrutil.PeerAddress
	Key    string
	Source Source
	State  State

	// Conn is an opaque connection handle owned and
	// resolved by the session; the swarm only stores it.
	Conn interface{}

	// Identity, set after handshake.
	PeerID     []byte
	ClientName string

	DiscoveredAt time.Time
	LastAttempt  time.Time
	ConnectedAt  time.Time

	Attempts int
	Failures int
	Connects int

	// NextRetry is the end of the current backoff window;
	// the peer is not connectable before it.
	NextRetry time.Time

	LastError      string
	BanReason      BanReason
	SuspiciousPort bool

	Uploaded   int64
	Downloaded int64
}

func (p *Peer) banned() bool {
	return p.State == StateBanned
}

// connectable reports whether the state machine and the
// backoff window allow a dial attempt at time now.
func (p *Peer) connectable(now time.Time) bool {
	if p.State != StateIdle && p.State != StateFailed {
		return false
	}

	return !now.Before(p.NextRetry)
}

const (
	backoffBase = 30 * time.Second
	backoffMax  = 30 * time.Minute
)

// backoff returns the exponential retry delay after the
// given number of consecutive failures.
func backoff(failures int) time.Duration {
	d := backoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}

	return d
}
