package cli

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nvensby/btcore/internal/session"
	"github.com/nvensby/btcore/internal/swarm"
	"github.com/nvensby/btcore/pkg/addrutil"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the peer-selection daemon with an HTTP stats API",
	Long: `Runs per-torrent swarms and their choke coordinators. Torrents are
registered and fed peer addresses over the HTTP API; the daemon dials
candidates, tracks reachability, backoff and bans, and reports swarm
composition and slot assignment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := session.New(sessionConfig(), &tcpDialer{timeout: 5 * time.Second})

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go s.Run(ctx)

		addr := viper.GetString("listen")
		log.Info().Str("listen", addr).Msg("starting daemon")

		return http.ListenAndServe(addr, newRouter(s))
	},
}

func newRouter(s *session.Session) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/torrents", func(rw http.ResponseWriter, req *http.Request) {
		writeJSON(rw, s.Stats())
	}).Methods("GET")

	r.HandleFunc("/api/torrents/{hash}", func(rw http.ResponseWriter, req *http.Request) {
		hash, ok := parseHash(rw, req)
		if !ok {
			return
		}

		s.Register(hash)
		rw.WriteHeader(http.StatusCreated)
	}).Methods("POST")

	r.HandleFunc("/api/torrents/{hash}", func(rw http.ResponseWriter, req *http.Request) {
		hash, ok := parseHash(rw, req)
		if !ok {
			return
		}

		s.Unregister(hash)
		rw.WriteHeader(http.StatusNoContent)
	}).Methods("DELETE")

	r.HandleFunc("/api/torrents/{hash}/peers", func(rw http.ResponseWriter, req *http.Request) {
		hash, ok := parseHash(rw, req)
		if !ok {
			return
		}

		var body struct {
			Source string `json:"source"`
			Peers  []struct {
				IP   string `json:"ip"`
				Port uint16 `json:"port"`
			} `json:"peers"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}

		source := swarm.Source(body.Source)
		if source == "" {
			source = swarm.SourceManual
		}

		addrs := make([]addrutil.PeerAddress, 0, len(body.Peers))
		for _, p := range body.Peers {
			addrs = append(addrs, addrutil.PeerAddress{IP: p.IP, Port: p.Port})
		}

		writeJSON(rw, map[string]int{"added": s.AddPeers(hash, addrs, source)})
	}).Methods("POST")

	return r
}

func parseHash(rw http.ResponseWriter, req *http.Request) (session.InfoHash, bool) {
	var hash session.InfoHash

	raw, err := hex.DecodeString(mux.Vars(req)["hash"])
	if err != nil || len(raw) != 20 {
		http.Error(rw, "hash must be 40 hex characters", http.StatusBadRequest)
		return hash, false
	}

	copy(hash[:], raw)
	return hash, true
}

func writeJSON(rw http.ResponseWriter, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(rw).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

// tcpDialer probes candidates over plain TCP. The daemon
// has no wire protocol of its own; the connection only
// feeds reachability into the swarm's state machine.
type tcpDialer struct {
	timeout time.Duration
}

func (d *tcpDialer) Dial(addr addrutil.PeerAddress) (session.PeerConn, error) {
	conn, err := net.DialTimeout("tcp", addr.Key(), d.timeout)
	if err != nil {
		return nil, err
	}

	return &probeConn{key: addr.Key(), conn: conn, openedAt: time.Now()}, nil
}

type probeConn struct {
	key      string
	conn     net.Conn
	openedAt time.Time
}

func (c *probeConn) Key() string             { return c.key }
func (c *probeConn) PeerID() []byte          { return nil }
func (c *probeConn) Choking() bool           { return true }
func (c *probeConn) Interested() bool        { return false }
func (c *probeConn) LastReceived() time.Time { return c.openedAt }
func (c *probeConn) Choke() error            { return nil }
func (c *probeConn) Unchoke() error          { return nil }
func (c *probeConn) Close() error            { return c.conn.Close() }
