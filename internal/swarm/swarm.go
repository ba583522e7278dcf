// Package swarm tracks every peer address known for one
// torrent: where it came from, its connection state,
// backoff and ban bookkeeping, and a secondary index from
// peer identity to addresses.
package swarm

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nvensby/btcore/pkg/addrutil"
)

type Config struct {
	// Clock is injected so connectability and backoff
	// decisions are deterministic under test. Defaults to
	// time.Now.
	Clock func() time.Time

	// MaxFailures caps how many consecutive failures are
	// counted towards the backoff exponent.
	MaxFailures int
}

// Swarm is the deduplicated pool of known peers. It is
// owned by a single session; all mutation goes through its
// methods, which hold the mutex for one transition at a
// time and never across I/O.
type Swarm struct {
	mu    sync.Mutex
	clock func() time.Time

	peers map[string]*Peer

	// byID maps raw peer-id bytes (as string) to the
	// address keys observed for that identity, updated in
	// the same critical section as the primary map.
	byID map[string][]string
}

func New(cfg Config) *Swarm {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Swarm{
		clock: clock,
		peers: make(map[string]*Peer),
		byID:  make(map[string][]string),
	}
}

// AddPeer inserts an address if it is not already known.
// Invalid input is reported by a nil return, never an
// error, so bulk adds can skip and continue. On a duplicate
// the existing entry is returned unchanged.
func (s *Swarm) AddPeer(addr addrutil.PeerAddress, source Source) *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addPeer(addr, source)
}

func (s *Swarm) addPeer(addr addrutil.PeerAddress, source Source) *Peer {
	if !addrutil.IsValidPort(addr.Port) {
		return nil
	}

	ip, family, ok := addrutil.NormalizeAddress(addr.IP, true)
	if !ok {
		return nil
	}

	addr = addrutil.PeerAddress{IP: ip, Port: addr.Port, Family: family}
	key := addr.Key()

	if p, ok := s.peers[key]; ok {
		return p
	}

	p := &Peer{
		Addr:           addr,
		Key:            key,
		Source:         source,
		State:          StateIdle,
		DiscoveredAt:   s.clock(),
		SuspiciousPort: addrutil.IsSuspiciousPort(addr.Port),
	}
	s.peers[key] = p

	log.Debug().Str("peer", key).Str("source", string(source)).Msg("discovered peer")

	return p
}

// AddPeers returns the number of newly inserted peers.
func (s *Swarm) AddPeers(addrs []addrutil.PeerAddress, source Source) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.peers)
	for _, addr := range addrs {
		s.addPeer(addr, source)
	}

	return len(s.peers) - before
}

// AddCompactPeers parses a compact peer list and inserts
// the valid entries, returning the number added.
func (s *Swarm) AddCompactPeers(data []byte, family addrutil.Family, source Source) int {
	return s.AddPeers(addrutil.ParseCompactPeers(data, family), source)
}

// AddIncomingConnection registers a peer that dialed us.
// The entry is created if unknown and marked connected
// immediately: the TCP handshake already succeeded, so even
// a suspicious listen port is accepted. A second connection
// from an address that is already connected is rejected; the
// existing handle stays in place.
func (s *Swarm) AddIncomingConnection(addr addrutil.PeerAddress, conn interface{}) *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.addPeer(addr, SourceIncoming)
	if p == nil || p.banned() || p.State == StateConnected {
		return nil
	}

	now := s.clock()
	p.State = StateConnected
	p.Conn = conn
	p.Connects++
	p.ConnectedAt = now
	p.LastError = ""

	return p
}

// Get returns the entry for a canonical address key.
func (s *Swarm) Get(key string) (*Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.peers[key]
	return p, ok
}

// score ranks connect candidates: prior successful connects
// and fresh discovery count for it, failures and suspicious
// ports against it. The weights are tunables, not protocol.
func (s *Swarm) score(p *Peer, now time.Time) int {
	score := p.Connects*16 - p.Failures*8
	if now.Sub(p.DiscoveredAt) < 5*time.Minute {
		score += 8
	}

	return score + addrutil.PortScorePenalty(p.Addr.Port)
}

// GetConnectablePeers returns up to limit dial candidates,
// best score first. Suspicious-port peers always sort after
// the rest, whatever their score: they are a last resort.
func (s *Swarm) GetConnectablePeers(limit int) []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()

	var out []*Peer
	for _, p := range s.peers {
		if p.connectable(now) {
			out = append(out, p)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SuspiciousPort != out[j].SuspiciousPort {
			return !out[i].SuspiciousPort
		}

		return s.score(out[i], now) > s.score(out[j], now)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out
}

// MarkConnecting moves idle/failed → connecting.
func (s *Swarm) MarkConnecting(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.peers[key]
	if !ok || (p.State != StateIdle && p.State != StateFailed) {
		return false
	}

	p.State = StateConnecting
	p.Attempts++
	p.LastAttempt = s.clock()

	return true
}

// MarkConnected moves connecting → connected and stores the
// session's connection handle.
func (s *Swarm) MarkConnected(key string, conn interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.peers[key]
	if !ok || p.State != StateConnecting {
		return false
	}

	p.State = StateConnected
	p.Conn = conn
	p.Connects++
	p.ConnectedAt = s.clock()
	p.LastError = ""

	return true
}

// MarkConnectFailed moves connecting → failed, records the
// error, and opens a bounded exponential backoff window.
func (s *Swarm) MarkConnectFailed(key string, errMsg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.peers[key]
	if !ok || p.State != StateConnecting {
		return false
	}

	p.State = StateFailed
	p.Failures++
	p.LastError = errMsg
	p.NextRetry = s.clock().Add(backoff(p.Failures))

	return true
}

// MarkDisconnected moves connected → idle.
func (s *Swarm) MarkDisconnected(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.peers[key]
	if !ok || p.State != StateConnected {
		return false
	}

	p.State = StateIdle
	p.Conn = nil

	return true
}

// SetIdentity records the post-handshake peer id and client
// name and updates the identity index in the same critical
// section. An empty clientName is derived from the id.
func (s *Swarm) SetIdentity(key string, peerID []byte, clientName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.peers[key]
	if !ok {
		return false
	}

	if len(p.PeerID) > 0 {
		s.dropFromIndex(string(p.PeerID), key)
	}

	if clientName == "" {
		clientName = ClientName(peerID)
	}

	p.PeerID = append([]byte(nil), peerID...)
	p.ClientName = clientName

	id := string(peerID)
	for _, k := range s.byID[id] {
		if k == key {
			return true
		}
	}
	s.byID[id] = append(s.byID[id], key)

	return true
}

func (s *Swarm) dropFromIndex(id, key string) {
	keys := s.byID[id]
	for i, k := range keys {
		if k == key {
			s.byID[id] = append(keys[:i], keys[i+1:]...)
			break
		}
	}

	if len(s.byID[id]) == 0 {
		delete(s.byID, id)
	}
}

// PeersByPeerID returns every address observed for one
// logical peer; multi-homed and NAT'd clients show up on
// several addresses under the same id.
func (s *Swarm) PeersByPeerID(peerID []byte) []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.byID[string(peerID)]

	out := make([]*Peer, 0, len(keys))
	for _, key := range keys {
		if p, ok := s.peers[key]; ok {
			out = append(out, p)
		}
	}

	return out
}

// Ban moves a peer to the banned state from any state. A
// banned peer stays banned until an explicit unban.
func (s *Swarm) Ban(key string, reason BanReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.peers[key]
	if !ok {
		return false
	}

	p.State = StateBanned
	p.BanReason = reason
	p.Conn = nil

	log.Info().Str("peer", key).Str("reason", string(reason)).Msg("banned peer")

	return true
}

func (s *Swarm) Unban(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.peers[key]
	if !ok || !p.banned() {
		return false
	}

	s.unban(p)

	return true
}

func (s *Swarm) unban(p *Peer) {
	p.State = StateIdle
	p.BanReason = BanNone
	p.Failures = 0
	p.NextRetry = time.Time{}
}

// UnbanRecoverable lifts every ban except those caused by
// data corruption. Used when the swarm has shrunk too far
// to keep the download alive. Returns the number of peers
// unbanned.
func (s *Swarm) UnbanRecoverable() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, p := range s.peers {
		if p.banned() && p.BanReason != BanCorruptData {
			s.unban(p)
			n++
		}
	}

	if n > 0 {
		log.Info().Int("count", n).Msg("lifted recoverable bans")
	}

	return n
}

// RecordTraffic adds to a peer's cumulative byte counters.
func (s *Swarm) RecordTraffic(key string, uploaded, downloaded int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.peers[key]; ok {
		p.Uploaded += uploaded
		p.Downloaded += downloaded
	}
}

// Connected returns the peers currently in the connected
// state.
func (s *Swarm) Connected() []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Peer
	for _, p := range s.peers {
		if p.State == StateConnected {
			out = append(out, p)
		}
	}

	return out
}

func (s *Swarm) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.peers)
}

// Clear drops every entry. Only used on torrent removal.
func (s *Swarm) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.peers = make(map[string]*Peer)
	s.byID = make(map[string][]string)
}
