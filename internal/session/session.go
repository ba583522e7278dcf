// Package session owns the per-torrent swarm and choke
// coordinator and drives them: it feeds discovery and
// connection events into the swarm, builds peer snapshots
// once per maintenance tick, and translates the combined
// decision set back into connection-level actions.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nvensby/btcore/internal/choke"
	"github.com/nvensby/btcore/internal/swarm"
	"github.com/nvensby/btcore/pkg/addrutil"
)

// PeerConn is the narrow view of a live peer connection the
// session needs: identity, the peer's current flags, and
// the choke/teardown controls.
type PeerConn interface {
	Key() string
	PeerID() []byte

	Choking() bool // the peer is choking us
	Interested() bool
	LastReceived() time.Time

	Choke() error
	Unchoke() error
	Close() error
}

// Dialer opens outgoing peer connections. Implemented by
// the transport layer; the session only picks who to dial.
type Dialer interface {
	Dial(addr addrutil.PeerAddress) (PeerConn, error)
}

type InfoHash = [20]byte

type Config struct {
	Clock func() time.Time
	RNG   choke.Rand

	TickInterval time.Duration

	// MinConnected is the low-water mark below which the
	// session dials new candidates.
	MinConnected    int
	MaxDialsPerTick int

	Unchoke choke.UnchokeConfig
	Drop    choke.DropConfig
}

func DefaultConfig() Config {
	return Config{
		Clock:           time.Now,
		TickInterval:    2 * time.Second,
		MinConnected:    10,
		MaxDialsPerTick: 8,
		Unchoke:         choke.DefaultUnchokeConfig(),
		Drop:            choke.DefaultDropConfig(),
	}
}

// torrentState is everything the session keeps per torrent.
type torrentState struct {
	swarm       *swarm.Swarm
	coordinator *choke.Coordinator

	conns     map[string]PeerConn
	amChoking map[string]bool

	// Cumulative byte counters at the previous tick, for
	// per-tick rate deltas.
	prevDown map[string]int64
	prevUp   map[string]int64
	lastTick time.Time
}

type Session struct {
	mu  sync.Mutex
	cfg Config

	dialer   Dialer
	torrents map[InfoHash]*torrentState
}

func New(cfg Config, dialer Dialer) *Session {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Session{
		cfg:      cfg,
		dialer:   dialer,
		torrents: make(map[InfoHash]*torrentState),
	}
}

// Register creates the swarm and coordinator for a torrent.
func (s *Session) Register(hash InfoHash) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.torrents[hash]; ok {
		return
	}

	s.torrents[hash] = &torrentState{
		swarm:       swarm.New(swarm.Config{Clock: s.cfg.Clock}),
		coordinator: choke.NewCoordinator(s.cfg.Unchoke, s.cfg.Drop, s.cfg.Clock, s.cfg.RNG),
		conns:       make(map[string]PeerConn),
		amChoking:   make(map[string]bool),
		prevDown:    make(map[string]int64),
		prevUp:      make(map[string]int64),
	}
}

// Unregister tears down all connections and clears the
// swarm for a removed torrent.
func (s *Session) Unregister(hash InfoHash) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.torrents[hash]
	if !ok {
		return
	}

	for _, conn := range st.conns {
		_ = conn.Close()
	}
	st.swarm.Clear()

	delete(s.torrents, hash)
}

func (s *Session) AddPeers(hash InfoHash, addrs []addrutil.PeerAddress, source swarm.Source) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.torrents[hash]
	if !ok {
		return 0
	}

	return st.swarm.AddPeers(addrs, source)
}

func (s *Session) AddCompactPeers(hash InfoHash, data []byte, family addrutil.Family, source swarm.Source) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.torrents[hash]
	if !ok {
		return 0
	}

	return st.swarm.AddCompactPeers(data, family, source)
}

// HandleIncoming registers a connection the peer initiated.
func (s *Session) HandleIncoming(hash InfoHash, addr addrutil.PeerAddress, conn PeerConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.torrents[hash]
	if !ok {
		return false
	}

	p := st.swarm.AddIncomingConnection(addr, conn)
	if p == nil {
		return false
	}

	st.conns[p.Key] = conn
	st.amChoking[p.Key] = true

	return true
}

// HandleHandshake records the peer identity learned from a
// completed handshake.
func (s *Session) HandleHandshake(hash InfoHash, key string, peerID []byte, clientName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.torrents[hash]; ok {
		st.swarm.SetIdentity(key, peerID, clientName)
	}
}

// HandleDisconnect updates the swarm and releases the
// peer's upload slot immediately.
func (s *Session) HandleDisconnect(hash InfoHash, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.torrents[hash]
	if !ok {
		return
	}

	st.swarm.MarkDisconnected(key)
	st.coordinator.PeerDisconnected(key)
	delete(st.conns, key)
	delete(st.amChoking, key)
}

// RecordTraffic adds transferred bytes to the swarm's
// cumulative counters; the tick converts them into rates.
func (s *Session) RecordTraffic(hash InfoHash, key string, uploaded, downloaded int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.torrents[hash]; ok {
		st.swarm.RecordTraffic(key, uploaded, downloaded)
	}
}

// Ban bans a peer and closes its connection if live.
func (s *Session) Ban(hash InfoHash, key string, reason swarm.BanReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.torrents[hash]
	if !ok {
		return
	}

	if conn, ok := st.conns[key]; ok {
		_ = conn.Close()
		delete(st.conns, key)
		delete(st.amChoking, key)
		st.coordinator.PeerDisconnected(key)
	}

	st.swarm.Ban(key, reason)
}

// Run drives the maintenance loop until the context ends.
func (s *Session) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.TickAll()
		}
	}
}

func (s *Session) TickAll() {
	s.mu.Lock()
	hashes := make([]InfoHash, 0, len(s.torrents))
	for hash := range s.torrents {
		hashes = append(hashes, hash)
	}
	s.mu.Unlock()

	for _, hash := range hashes {
		s.Tick(hash)
	}
}

// Tick runs one maintenance pass for a torrent: snapshot,
// evaluate, apply, refill.
func (s *Session) Tick(hash InfoHash) {
	s.mu.Lock()

	st, ok := s.torrents[hash]
	if !ok {
		s.mu.Unlock()
		return
	}

	now := s.cfg.Clock()
	peers := s.buildSnapshots(st, now)
	hasCandidates := len(st.swarm.GetConnectablePeers(1)) > 0

	decisions := st.coordinator.Evaluate(peers, hasCandidates)
	s.applyDecisions(st, decisions)

	var toDial []*swarm.Peer
	if len(st.conns) < s.cfg.MinConnected {
		toDial = st.swarm.GetConnectablePeers(s.cfg.MaxDialsPerTick)
		for _, p := range toDial {
			st.swarm.MarkConnecting(p.Key)
		}
	}

	st.lastTick = now
	s.mu.Unlock()

	// Dialing is I/O: never under the session mutex.
	for _, p := range toDial {
		go s.dial(hash, p.Key, p.Addr)
	}
}

func (s *Session) buildSnapshots(st *torrentState, now time.Time) []choke.PeerSnapshot {
	elapsed := now.Sub(st.lastTick).Seconds()
	if st.lastTick.IsZero() || elapsed <= 0 {
		elapsed = s.cfg.TickInterval.Seconds()
	}

	var out []choke.PeerSnapshot
	for _, p := range st.swarm.Connected() {
		conn, ok := st.conns[p.Key]
		if !ok {
			continue
		}

		downRate := int64(float64(p.Downloaded-st.prevDown[p.Key]) / elapsed)
		upRate := int64(float64(p.Uploaded-st.prevUp[p.Key]) / elapsed)
		st.prevDown[p.Key] = p.Downloaded
		st.prevUp[p.Key] = p.Uploaded

		out = append(out, choke.PeerSnapshot{
			ID:           p.Key,
			PeerChoking:  conn.Choking(),
			AmChoking:    st.amChoking[p.Key],
			Interested:   conn.Interested(),
			DownloadRate: downRate,
			UploadRate:   upRate,
			ConnectedAt:  p.ConnectedAt,
			LastReceived: conn.LastReceived(),
		})
	}

	return out
}

func (s *Session) applyDecisions(st *torrentState, decisions choke.Decisions) {
	for _, d := range decisions.Unchoke {
		conn, ok := st.conns[d.PeerID]
		if !ok {
			continue
		}

		var err error
		if d.Action == choke.ActionUnchoke {
			err = conn.Unchoke()
			st.amChoking[d.PeerID] = false
		} else {
			err = conn.Choke()
			st.amChoking[d.PeerID] = true
		}

		if err != nil {
			log.Debug().Err(err).Str("peer", d.PeerID).Msg("choke message failed")
			continue
		}

		log.Debug().
			Str("peer", d.PeerID).
			Str("action", string(d.Action)).
			Str("reason", string(d.Reason)).
			Msg("slot change")
	}

	for _, d := range decisions.Drop {
		conn, ok := st.conns[d.PeerID]
		if !ok {
			continue
		}

		_ = conn.Close()
		delete(st.conns, d.PeerID)
		delete(st.amChoking, d.PeerID)
		st.swarm.MarkDisconnected(d.PeerID)
		st.coordinator.PeerDisconnected(d.PeerID)

		log.Debug().
			Str("peer", d.PeerID).
			Str("reason", string(d.Reason)).
			Msg("dropped peer")
	}
}

func (s *Session) dial(hash InfoHash, key string, addr addrutil.PeerAddress) {
	conn, err := s.dialer.Dial(addr)

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.torrents[hash]
	if !ok {
		if err == nil {
			_ = conn.Close()
		}
		return
	}

	if err != nil {
		st.swarm.MarkConnectFailed(key, err.Error())
		return
	}

	// The peer may have been banned, or an incoming
	// connection may have claimed the address, while the dial
	// was in flight. The stale handle must not be registered.
	if !st.swarm.MarkConnected(key, conn) {
		_ = conn.Close()
		return
	}

	st.conns[key] = conn
	st.amChoking[key] = true
}
