package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/MrKareem1980/globed2/internal/protocol"
)

const activeInboxSize = 64

// Dispatcher owns the two network loops: the reliable-channel accept loop
// and the datagram receive loop. Both run under one errgroup so either
// loop's failure cancels the other.
type Dispatcher struct {
	srv *Server

	listener     net.Listener
	datagramConn *net.UDPConn
}

// NewDispatcher binds the reliable listener and the shared datagram socket.
func NewDispatcher(srv *Server) (*Dispatcher, error) {
	cfg := srv.Config()

	listener, err := net.Listen("tcp4", fmt.Sprintf("%s:%d", cfg.ReliableBindAddress, cfg.ReliablePort))
	if err != nil {
		return nil, fmt.Errorf("binding reliable listener: %w", err)
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", cfg.DatagramBindAddress, cfg.DatagramPort))
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("resolving datagram bind address: %w", err)
	}
	datagramConn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("binding datagram socket: %w", err)
	}
	srv.setDatagramConn(datagramConn)

	return &Dispatcher{srv: srv, listener: listener, datagramConn: datagramConn}, nil
}

// Run blocks, running the accept loop and the datagram loop until ctx is
// canceled or one of them fails.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.acceptLoop(ctx) })
	g.Go(func() error { return d.datagramLoop(ctx) })

	go func() {
		<-ctx.Done()
		d.listener.Close()
		d.datagramConn.Close()
	}()

	return g.Wait()
}

func (d *Dispatcher) acceptLoop(ctx context.Context) error {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting reliable connection: %w", err)
		}

		tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
		if !ok || tcpAddr.IP.To4() == nil {
			slog.Warn("rejecting non-IPv4 reliable peer", "addr", conn.RemoteAddr())
			conn.Close()
			continue
		}

		go d.handleConnection(ctx, conn, tcpAddr.String())
	}
}

func (d *Dispatcher) handleConnection(ctx context.Context, conn net.Conn, peer string) {
	defer conn.Close()

	socket := NewSocket(conn, d.srv.Identity(), d.srv.datagramConn())
	session, err := NewUnauthorizedSession(d.srv, socket, peer)
	if err != nil {
		slog.Error("creating session", "peer", peer, "error", err)
		return
	}

	d.srv.registry.AddUnclaimed(session)
	slog.Info("new reliable connection", "peer", peer)

	outcome := session.Run(ctx)
	if outcome != OutcomeUpgrade {
		// Only a session that never became Active needs its own cleanup: an
		// upgraded session is already in the active table (inserted by the
		// claim that produced OutcomeUpgrade) and is cleaned up below instead,
		// after its own Run returns. Cleaning up here unconditionally would
		// decrement the player count and room membership for a session still
		// live in the active table.
		session.PostDisconnectCleanup()
		slog.Info("reliable session ended", "peer", peer)
		return
	}

	client := session.Promoted()
	if client == nil {
		slog.Error("session upgraded with no promoted active session", "peer", peer)
		session.PostDisconnectCleanup()
		return
	}
	slog.Info("session became active", "peer", peer, "account", client.AccountID())

	client.Run(ctx)
	client.PostDisconnectCleanup()
	slog.Info("active session ended", "peer", peer, "account", client.AccountID())
}

func (d *Dispatcher) datagramLoop(ctx context.Context) error {
	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		n, addr, err := d.datagramConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading datagram: %w", err)
		}

		if addr.IP.To4() == nil {
			continue
		}

		id, body, err := protocol.DecodeDatagramID(buf[:n])
		if err != nil {
			continue
		}

		d.handleDatagram(id, body, addr)
	}
}

func (d *Dispatcher) handleDatagram(id byte, body []byte, addr *net.UDPAddr) {
	switch id {
	case protocol.DatagramPing:
		var ping protocol.Ping
		if err := ping.Unmarshal(body); err != nil {
			return
		}
		resp := (&protocol.PingResponse{ID: ping.ID, PlayerCount: uint32(d.srv.PlayerCount())}).Marshal([]byte{protocol.DatagramPingResponse})
		if _, err := d.datagramConn.WriteToUDP(resp, addr); err != nil {
			slog.Debug("sending ping response failed", "peer", addr, "error", err)
		}

	case protocol.DatagramClaimThread:
		var claim protocol.ClaimThread
		if err := claim.Unmarshal(body); err != nil {
			return
		}
		session := d.srv.registry.Claim(ClaimKey(claim.SecretKey), func(u *UnauthorizedSession) {
			u.socket.BindDatagramPeer(addr)
		})
		if session == nil {
			slog.Debug("claim attempt matched no unclaimed session", "peer", addr, "key", claim.SecretKey)
		}

	default:
		peer, ok := d.srv.registry.Lookup(addr.String())
		if !ok {
			return
		}
		tagged := make([]byte, 0, len(body)+1)
		tagged = append(tagged, id)
		tagged = append(tagged, body...)

		var msg InboxMessage
		if FitsInline(tagged) {
			msg = NewSmallPacket(tagged)
		} else {
			msg = Packet{Buf: tagged}
		}
		peer.Enqueue(msg)
	}
}

func (d *Dispatcher) Close() error {
	d.listener.Close()
	return d.datagramConn.Close()
}
