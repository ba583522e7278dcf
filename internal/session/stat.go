package session

import (
	"encoding/hex"

	"github.com/nvensby/btcore/internal/swarm"
)

// TorrentStat is the observable state of one torrent's peer
// population, served by the stats endpoint.
type TorrentStat struct {
	Swarm     swarm.Stats `json:"swarm"`
	Connected int         `json:"connected"`
	Unchoked  int         `json:"unchoked"`
}

func (s *Session) Stat(hash InfoHash) (TorrentStat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.torrents[hash]
	if !ok {
		return TorrentStat{}, false
	}

	return s.stat(st), true
}

// Stats returns per-torrent stats keyed by hex info hash.
func (s *Session) Stats() map[string]TorrentStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]TorrentStat, len(s.torrents))
	for hash, st := range s.torrents {
		out[hex.EncodeToString(hash[:])] = s.stat(st)
	}

	return out
}

func (s *Session) stat(st *torrentState) TorrentStat {
	var unchoked int
	for key, choking := range st.amChoking {
		if _, ok := st.conns[key]; ok && !choking {
			unchoked++
		}
	}

	return TorrentStat{
		Swarm:     st.swarm.Stats(),
		Connected: len(st.conns),
		Unchoked:  unchoked,
	}
}
