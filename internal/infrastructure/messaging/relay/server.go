package msgrelay

import (
	"context"
	"crypto/sha256"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrowd/internal/core/ports"
	"github.com/escrow-network/escrowd/pkg/keyring"
)

// Server is a minimal relay routing signed envelopes between websocket
// clients by recipient pubkey. It forwards only envelopes whose
// signature verifies against the sender pubkey, so subscribers receive
// authenticated events.
type Server struct {
	srv      *http.Server
	upgrader websocket.Upgrader

	lock  sync.Mutex
	conns map[string][]*serverConn
}

type serverConn struct {
	conn      *websocket.Conn
	writeLock sync.Mutex
}

func (c *serverConn) writeEnvelope(env ports.Envelope) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.conn.WriteJSON(env)
}

// NewServer returns a relay server listening on the given address once
// started with ListenAndServe.
func NewServer(addr string) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string][]*serverConn),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleConnection)
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Handler exposes the relay http handler, so it can be mounted on an
// existing server.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks serving relay connections.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Serve blocks serving relay connections on an already bound listener,
// so callers know the relay is reachable before starting any client.
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Shutdown gracefully stops the relay. Upgraded connections are
// hijacked from the http server, so they are closed here explicitly.
func (s *Server) Shutdown(ctx context.Context) error {
	s.lock.Lock()
	for _, conns := range s.conns {
		for _, sc := range conns {
			sc.conn.Close()
		}
	}
	s.lock.Unlock()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	pubkey := r.URL.Query().Get("pubkey")
	if len(pubkey) <= 0 {
		http.Error(w, "missing pubkey", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("failed to upgrade relay connection")
		return
	}
	sc := &serverConn{conn: conn}

	s.lock.Lock()
	s.conns[pubkey] = append(s.conns[pubkey], sc)
	s.lock.Unlock()
	log.WithField("pubkey", pubkey).Debug("relay client connected")

	defer s.dropConnection(pubkey, sc)

	for {
		var env ports.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		if !keyring.Verify(env.Sender, sha256.Sum256(env.Payload), env.Signature) {
			log.Warnf("dropping envelope %s with invalid signature", env.Id)
			continue
		}
		s.route(env)
	}
}

func (s *Server) route(env ports.Envelope) {
	s.lock.Lock()
	targets := make([]*serverConn, len(s.conns[env.Recipient]))
	copy(targets, s.conns[env.Recipient])
	s.lock.Unlock()

	for _, target := range targets {
		if err := target.writeEnvelope(env); err != nil {
			log.WithError(err).Debugf("failed to forward envelope %s", env.Id)
		}
	}
}

func (s *Server) dropConnection(pubkey string, sc *serverConn) {
	s.lock.Lock()
	defer s.lock.Unlock()

	conns := s.conns[pubkey]
	for i := range conns {
		if conns[i] == sc {
			s.conns[pubkey] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	sc.conn.Close()
}
