package swarm

// Stats aggregates swarm composition for observability.
type Stats struct {
	Total      int            `json:"total"`
	ByState    map[string]int `json:"byState"`
	ByFamily   map[string]int `json:"byFamily"`
	BySource   map[string]int `json:"bySource"`
	Identities int            `json:"identities"`
	Banned     int            `json:"banned"`
	Suspicious int            `json:"suspicious"`

	Uploaded   int64 `json:"uploaded"`
	Downloaded int64 `json:"downloaded"`
}

func (s *Swarm) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Stats{
		Total:      len(s.peers),
		ByState:    make(map[string]int),
		ByFamily:   make(map[string]int),
		BySource:   make(map[string]int),
		Identities: len(s.byID),
	}

	for _, p := range s.peers {
		out.ByState[string(p.State)]++
		out.ByFamily[p.Addr.Family.String()]++
		out.BySource[string(p.Source)]++

		if p.banned() {
			out.Banned++
		}
		if p.SuspiciousPort {
			out.Suspicious++
		}

		out.Uploaded += p.Uploaded
		out.Downloaded += p.Downloaded
	}

	return out
}
