package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrKareem1980/globed2/internal/errs"
	"github.com/MrKareem1980/globed2/internal/protocol"
)

// ClientSession is the post-claim session: fully bound, handling gameplay
// traffic (SPEC_FULL §5.4).
type ClientSession struct {
	srv    *Server
	socket *Socket

	reliablePeer string
	claimKey     ClaimKey

	state atomicState

	// Cross-task readable fields, single-writer (this session's own
	// goroutine), relaxed-ordering reads.
	accountID     atomicInt32
	levelID       atomicInt32
	roomID        atomicInt32
	authenticated atomicBool

	mu        sync.Mutex
	account   *AccountData
	userEntry *UserEntry
	roles     *RoleSet

	inbox chan InboxMessage

	// cleanupMu serializes concurrent duplicate-login evictors targeting
	// this session. Cleanup itself never takes it (SPEC_FULL §5.5).
	cleanupMu   sync.Mutex
	cleanupDone chan struct{}
}

// PromoteToActive converts a logged-in, claimed Unauthorized session into
// an Active ClientSession. Called by the registry's claim procedure, before
// the session itself transitions to Established — the Established
// transition is this function's own success signal, committed by the
// caller via completePromotion. Preconditions: bound datagram peer,
// non-zero account id, user entry present, role present, state Unclaimed.
func PromoteToActive(u *UnauthorizedSession, inboxSize int) (*ClientSession, error) {
	if u.socket.DatagramPeer() == nil {
		return nil, fmt.Errorf("promoting session with no bound datagram peer: %w", errs.ErrInvariant)
	}
	if u.AccountID() == 0 {
		return nil, fmt.Errorf("promoting session with no account id: %w", errs.ErrInvariant)
	}
	if u.userEntry == nil || u.roles == nil {
		return nil, fmt.Errorf("promoting session with no user entry or role: %w", errs.ErrInvariant)
	}
	if u.State() != Unclaimed {
		return nil, fmt.Errorf("promoting session in state %s, want Unclaimed: %w", u.State(), errs.ErrInvariant)
	}

	c := &ClientSession{
		srv:          u.srv,
		socket:       u.socket,
		reliablePeer: u.reliablePeer,
		claimKey:     u.claimKey,
		account:      u.account,
		userEntry:    u.userEntry,
		roles:        u.roles,
		inbox:        make(chan InboxMessage, inboxSize),
		cleanupDone:  make(chan struct{}),
	}
	c.state.Store(Active)
	c.accountID.Store(u.AccountID())
	c.roomID.Store(c.srv.rooms.GlobalRoomID())
	c.authenticated.Store(true)
	return c, nil
}

// State returns the current session state.
func (c *ClientSession) State() State { return c.state.Load() }

// AccountID returns the account id (read without locking; single writer).
func (c *ClientSession) AccountID() int32 { return c.accountID.Load() }

// LevelID returns the current level id.
func (c *ClientSession) LevelID() int32 { return c.levelID.Load() }

// SetLevelID updates the current level id. Only this session's own
// goroutine ever calls this.
func (c *ClientSession) SetLevelID(id int32) { c.levelID.Store(id) }

// RoomID returns the current room id.
func (c *ClientSession) RoomID() int32 { return c.roomID.Load() }

// Authenticated reports whether the session completed login.
func (c *ClientSession) Authenticated() bool { return c.authenticated.Load() }

// DatagramPeer returns the session's bound datagram peer.
func (c *ClientSession) DatagramPeer() string { return c.socket.DatagramHostPort() }

// Account returns a copy of the account data behind a short critical
// section.
func (c *ClientSession) Account() AccountData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.account
}

// Inbox returns the channel other goroutines enqueue messages on. It is the
// only way to reach this session from outside its own goroutine.
func (c *ClientSession) Inbox() chan<- InboxMessage { return c.inbox }

// CleanupDone is closed exactly once, after this session is removed from
// the active table and the player count is decremented.
func (c *ClientSession) CleanupDone() <-chan struct{} { return c.cleanupDone }

// CleanupMutex is acquired only by duplicate-login evictors, serializing
// concurrent evictions of the same session.
func (c *ClientSession) CleanupMutex() *sync.Mutex { return &c.cleanupMu }

// Enqueue attempts a non-blocking enqueue to the inbox, used by the
// dispatcher's datagram loop so a slow session never blocks the receive
// loop.
func (c *ClientSession) Enqueue(msg InboxMessage) bool {
	select {
	case c.inbox <- msg:
		return true
	default:
		return false
	}
}

// Run drains the inbox and inbound datagrams, processing messages strictly
// in arrival order, until a TerminationNotice or fatal error ends the
// session.
func (c *ClientSession) Run(ctx context.Context) {
	idleTimeout := c.srv.cfg.ActiveIdleTimeout
	for {
		idle := time.NewTimer(idleTimeout)
		select {
		case <-ctx.Done():
			idle.Stop()
			c.state.Store(Terminating)
			return

		case msg, ok := <-c.inbox:
			idle.Stop()
			if !ok {
				c.state.Store(Terminating)
				return
			}
			if done := c.handleInboxMessage(msg); done {
				return
			}

		case <-idle.C:
			slog.Info("active session idle timeout", "peer", c.reliablePeer)
			c.state.Store(Terminating)
			return
		}
	}
}

// handleInboxMessage processes one message and reports whether the run
// loop should return (session terminating).
func (c *ClientSession) handleInboxMessage(msg InboxMessage) bool {
	switch m := msg.(type) {
	case TerminationNotice:
		if err := c.socket.SendDynamic(protocol.PacketServerDisconnect, true, (&protocol.ServerDisconnect{Message: m.Reason}).Marshal); err != nil {
			slog.Warn("sending termination notice failed", "peer", c.reliablePeer, "error", err)
		}
		c.state.Store(Terminating)
		return true

	case SmallPacket:
		if err := c.dispatchGameplay(m.Payload()); err != nil {
			slog.Debug("gameplay handler error", "peer", c.reliablePeer, "error", err)
		}

	case Packet:
		if err := c.dispatchGameplay(m.Buf); err != nil {
			slog.Debug("gameplay handler error", "peer", c.reliablePeer, "error", err)
		}

	case BroadcastVoice, BroadcastText:
		if err := c.sendBroadcastPayload(m); err != nil {
			slog.Debug("broadcast delivery error", "peer", c.reliablePeer, "error", err)
		}
	}
	return false
}

// dispatchGameplay is the seam to gameplay packet handlers, which are out
// of scope for this core (spec.md §1). A real deployment registers a
// handler via SetGameplayHandler; absent one, payloads are dropped.
func (c *ClientSession) dispatchGameplay(payload []byte) error {
	if c.srv.gameplayHandler == nil {
		return nil
	}
	return c.srv.gameplayHandler(c, payload)
}

func (c *ClientSession) sendBroadcastPayload(msg InboxMessage) error {
	var payload []byte
	switch m := msg.(type) {
	case BroadcastVoice:
		payload = m.Buf
	case BroadcastText:
		payload = m.Buf
	}
	return c.socket.SendDatagram(payload)
}

// PostDisconnectCleanup removes this session from the active table and
// decrements the player count. Fires CleanupDone exactly once, after both
// have happened.
func (c *ClientSession) PostDisconnectCleanup() {
	c.srv.registry.removeActive(c)
	c.srv.rooms.RemoveFromLevel(c.LevelID(), c.AccountID())
	c.srv.rooms.RemovePlayer(c.AccountID())
	c.srv.rooms.MaybeRemoveRoom(c.RoomID())
	c.srv.decrementPlayerCount()
	close(c.cleanupDone)
}
