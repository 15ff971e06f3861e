package relay

import (
	"net"
	"sync/atomic"

	"github.com/MrKareem1980/globed2/internal/config"
	"github.com/MrKareem1980/globed2/internal/cryptocodec"
)

// GameplayHandler processes a gameplay payload that arrived on an Active
// session's datagram channel, after login/handshake/claim. Concrete
// gameplay packet handling is out of scope for this core (spec.md §1);
// a deployment wires its own handler in via Server.SetGameplayHandler.
type GameplayHandler func(c *ClientSession, payload []byte) error

// Server owns everything shared across sessions: configuration, the
// crypto identity handed out during handshake, the connection registry,
// the collaborator set, and the live player count.
type Server struct {
	cfg      config.Config
	identity *cryptocodec.Identity
	registry *Registry

	central     CentralClient
	tokenIssuer TokenIssuer
	rooms       RoomManager

	playerCount atomic.Int32

	gameplayHandler GameplayHandler

	udpConn *net.UDPConn
}

// NewServer constructs a Server ready to accept connections. identity is
// the process-lifetime crypto keypair handed to every new socket; a
// deployment generates one at boot via cryptocodec.GenerateIdentity and
// does not rotate it while running (spec.md §1 Non-goals: no hot
// reconfiguration of crypto identity).
func NewServer(cfg config.Config, identity *cryptocodec.Identity, central CentralClient, tokenIssuer TokenIssuer, rooms RoomManager) *Server {
	return &Server{
		cfg:         cfg,
		identity:    identity,
		registry:    NewRegistry(),
		central:     central,
		tokenIssuer: tokenIssuer,
		rooms:       rooms,
	}
}

// SetGameplayHandler installs the handler invoked for gameplay payloads on
// Active sessions. Must be called before Run; unset, gameplay payloads are
// dropped silently.
func (s *Server) SetGameplayHandler(h GameplayHandler) {
	s.gameplayHandler = h
}

// PlayerCount returns the number of accounts currently past login
// (Unclaimed, Established, or Active).
func (s *Server) PlayerCount() int32 {
	return s.playerCount.Load()
}

// Registry exposes the connection registry, mainly for the dispatcher and
// the broadcast surface.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Identity returns the server's long-lived crypto keypair.
func (s *Server) Identity() *cryptocodec.Identity {
	return s.identity
}

// Config returns the server's configuration snapshot.
func (s *Server) Config() config.Config {
	return s.cfg
}

func (s *Server) incrementPlayerCount() {
	s.playerCount.Add(1)
}

func (s *Server) decrementPlayerCount() {
	s.playerCount.Add(-1)
}

// datagramConn returns the process-lifetime UDP socket every session's
// Socket shares for outbound datagram sends. Set once by the dispatcher
// during startup.
func (s *Server) datagramConn() *net.UDPConn {
	return s.udpConn
}

// setDatagramConn installs the shared UDP socket. Called once, by
// NewDispatcher, before any connection is accepted.
func (s *Server) setDatagramConn(conn *net.UDPConn) {
	s.udpConn = conn
}
