package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrKareem1980/globed2/internal/errs"
	"github.com/MrKareem1980/globed2/internal/protocol"
)

// UnauthorizedSession runs the pre-active lifecycle: handshake, login, and
// waiting for a datagram claim (SPEC_FULL §5.3).
type UnauthorizedSession struct {
	srv    *Server
	socket *Socket

	reliablePeer string
	sessionID    int32
	claimKey     ClaimKey

	state atomicState

	claimed  atomicBool
	accountID atomicInt32

	account *AccountData
	userEntry *UserEntry
	roles     *RoleSet

	// promoted and promoteErr are written once by the registry's claim
	// procedure, before signalClaimed, and read once by Run after it
	// receives from claimSignal; the channel operation is the
	// synchronization point, so no separate lock guards them.
	promoted    *ClientSession
	promoteErr error

	claimSignal chan struct{}
	cleanupDone chan struct{}
}

// NewUnauthorizedSession constructs a session for a freshly accepted
// reliable-channel connection.
func NewUnauthorizedSession(srv *Server, socket *Socket, reliablePeer string) (*UnauthorizedSession, error) {
	key, err := GenerateClaimKey()
	if err != nil {
		return nil, err
	}
	s := &UnauthorizedSession{
		srv:          srv,
		socket:       socket,
		reliablePeer: reliablePeer,
		claimKey:     key,
		claimSignal:  make(chan struct{}, 1),
		cleanupDone:  make(chan struct{}),
	}
	s.state.Store(Unauthorized)
	return s, nil
}

// State returns the current session state.
func (s *UnauthorizedSession) State() State { return s.state.Load() }

// ClaimKey returns the claim key assigned at creation.
func (s *UnauthorizedSession) ClaimKey() ClaimKey { return s.claimKey }

// Claimed reports whether this session has already matched a claim.
func (s *UnauthorizedSession) Claimed() bool { return s.claimed.Load() }

// AccountID returns the account id, or 0 if not yet logged in.
func (s *UnauthorizedSession) AccountID() int32 { return s.accountID.Load() }

// CleanupDone is closed exactly once, after this session is removed from
// whichever registry structure held it and the player count is adjusted.
func (s *UnauthorizedSession) CleanupDone() <-chan struct{} { return s.cleanupDone }

// terminate preemptively marks the session for shutdown.
func (s *UnauthorizedSession) terminate() {
	s.state.Store(Terminating)
}

// claim marks the session matched by the registry's claim procedure, right
// after it has been removed from unclaimed and the holding lock released.
// It does not touch the socket; bind and promotion happen next, still on
// the claiming goroutine, before this session's own Run ever wakes.
func (s *UnauthorizedSession) claim() {
	s.claimed.Store(true)
}

// completePromotion installs the ClientSession built by the registry's
// claim procedure and commits the Established transition. Called before
// signalClaimed, so the active-table insert (done by the caller beforehand)
// is observable before this session's run loop ever wakes to notice the
// claim (spec.md §4.5 ordering guarantee).
func (s *UnauthorizedSession) completePromotion(c *ClientSession) {
	s.promoted = c
	s.state.Store(Established)
}

// failPromotion records why a matched claim could not be turned into an
// Active session (see PromoteToActive's preconditions). The run loop
// terminates instead of upgrading.
func (s *UnauthorizedSession) failPromotion(err error) {
	s.promoteErr = err
}

// Promoted returns the ClientSession built for this session at claim time,
// or nil if no claim has completed promotion yet.
func (s *UnauthorizedSession) Promoted() *ClientSession { return s.promoted }

// signalClaimed wakes the session's run loop after the claim procedure —
// bind, promotion, and active-table insert — has completed.
func (s *UnauthorizedSession) signalClaimed() {
	select {
	case s.claimSignal <- struct{}{}:
	default:
	}
}

// Run executes the pre-active lifecycle loop until the session is upgraded
// or terminated.
func (s *UnauthorizedSession) Run(ctx context.Context) Outcome {
	for {
		switch s.State() {
		case Established:
			return OutcomeUpgrade
		case Terminating:
			return OutcomeTerminate
		case Disconnected:
			// Never set on an UnauthorizedSession, but fail closed.
			return OutcomeTerminate
		}

		frameCh := make(chan frameResult, 1)
		go func() {
			n, err := s.socket.PollForFrame()
			frameCh <- frameResult{n: n, err: err}
		}()

		idle := time.NewTimer(s.srv.cfg.UnauthorizedIdleTimeout)
		select {
		case <-ctx.Done():
			idle.Stop()
			s.terminate()
			return OutcomeTerminate

		case <-s.claimSignal:
			idle.Stop()
			if s.promoted == nil {
				slog.Error("claim could not be promoted to an active session", "peer", s.reliablePeer, "error", s.promoteErr)
				s.terminate()
				return OutcomeTerminate
			}
			// s.state is already Established, set by completePromotion
			// before this signal fired; the switch at the top of the next
			// iteration returns OutcomeUpgrade.
			//
			// The in-flight frame read is abandoned; its goroutine will
			// observe the connection closing when the session transitions
			// away and exits on the resulting transport error.

		case res := <-frameCh:
			idle.Stop()
			if res.err != nil {
				slog.Debug("unauthorized session transport error", "peer", s.reliablePeer, "error", res.err)
				s.terminate()
				return OutcomeTerminate
			}
			if err := s.socket.RecvAndHandle(res.n, s.handlePacket(ctx)); err != nil {
				if isTerminalHandlerError(err) {
					slog.Warn("unauthorized session handler error", "peer", s.reliablePeer, "error", err)
					s.terminate()
					return OutcomeTerminate
				}
				slog.Debug("unauthorized session recoverable handler error", "peer", s.reliablePeer, "error", err)
			}

		case <-idle.C:
			slog.Info("unauthorized session idle timeout", "peer", s.reliablePeer)
			s.terminate()
			return OutcomeTerminate
		}
	}
}

type frameResult struct {
	n   int
	err error
}

// isTerminalHandlerError reports whether err should end the session
// outright, vs. being logged and surviving (SPEC_FULL §7).
func isTerminalHandlerError(err error) bool {
	for _, sentinel := range []error{errs.ErrTransport, errs.ErrCrypto, errs.ErrMalformedLogin} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// handlePacket recognizes exactly two ids pre-active: handshake start and
// login. Any other id, including a claim sent on the reliable channel,
// yields a recoverable NoHandler error.
func (s *UnauthorizedSession) handlePacket(ctx context.Context) func([]byte) error {
	return func(buf []byte) error {
		header, err := protocol.DecodeHeader(buf)
		if err != nil {
			return err
		}
		body := buf[protocol.HeaderSize:]

		if header.Encrypted {
			body, err = s.socket.Decrypt(body)
			if err != nil {
				return err
			}
		}

		switch header.ID {
		case protocol.PacketCryptoHandshakeStart:
			return s.handleHandshake(body)
		case protocol.PacketLogin:
			if !header.Encrypted {
				return errs.ErrMalformedLogin
			}
			return s.handleLogin(ctx, body)
		default:
			return &errs.NoHandler{ID: header.ID}
		}
	}
}

func (s *UnauthorizedSession) handleHandshake(body []byte) error {
	var req protocol.CryptoHandshakeStart
	if err := req.Unmarshal(body); err != nil {
		return err
	}

	if req.Protocol != protocol.WildcardProtocolVersion && req.Protocol != protocol.ProtocolVersion {
		if err := s.socket.SendStatic(protocol.PacketProtocolMismatch, false, (&protocol.ProtocolMismatch{ServerProtocol: protocol.ProtocolVersion}).Marshal); err != nil {
			return err
		}
		s.terminate()
		return nil
	}

	if err := s.socket.InitCrypto(req.PublicKey); err != nil {
		return err
	}

	pub := s.socket.ServerPublicKey()
	return s.socket.SendStatic(protocol.PacketCryptoHandshakeResponse, false, (&protocol.CryptoHandshakeResponse{PublicKey: pub}).Marshal)
}

func (s *UnauthorizedSession) handleLogin(ctx context.Context, body []byte) error {
	// Preemptively mark Terminating; only the commit at the end reverts it.
	s.terminate()

	var req protocol.Login
	if err := req.Unmarshal(body); err != nil {
		return err
	}

	if s.srv.cfg.Maintenance {
		return s.sendDisconnect("server is under maintenance")
	}

	if req.FragmentationLimit < uint16(s.srv.cfg.FragmentationFloor) {
		return s.sendLoginFailed(fmt.Sprintf("fragmentation limit %d below required %d", req.FragmentationLimit, s.srv.cfg.FragmentationFloor))
	}

	if req.AccountID <= 0 || req.UserID <= 0 {
		return s.sendLoginFailed("invalid account or user id")
	}

	displayName := req.Name
	if !s.srv.cfg.Standalone {
		name, err := s.srv.tokenIssuer.Validate(ctx, req.AccountID, req.UserID, req.Token)
		if err != nil {
			// A rejected token leaves the connection open so the client
			// can retry the login.
			s.state.Store(Unauthorized)
			return s.sendLoginFailed(err.Error())
		}
		displayName = name
	}

	if err := s.srv.registry.evictDuplicateLogin(ctx, req.AccountID); err != nil {
		return fmt.Errorf("evicting duplicate login: %w", err)
	}

	var entry UserEntry
	if !s.srv.cfg.Standalone {
		var err error
		entry, err = s.srv.central.GetUserData(ctx, fmt.Sprintf("%d", req.AccountID))
		if err != nil {
			return fmt.Errorf("fetching user data: %w: %w", errs.ErrUpstream, err)
		}
		if entry.Banned {
			return s.sendBanned(entry)
		}
		if s.srv.cfg.Whitelist && !entry.Whitelisted {
			return s.sendLoginFailed("account is not whitelisted")
		}
	}

	roles := RoleSet{Roles: entry.Roles}

	s.accountID.Store(req.AccountID)
	s.srv.incrementPlayerCount()
	s.account = &AccountData{
		AccountID:   req.AccountID,
		UserID:      req.UserID,
		DisplayName: displayName,
		Icons:       req.Icons,
		Platform:    req.Platform,
		Roles:       roles,
		Special:     deriveSpecialUserProfile(roles),
	}
	s.userEntry = &entry
	s.roles = &roles

	s.srv.rooms.CreatePlayer(req.AccountID)

	if err := s.socket.SendStatic(protocol.PacketLoggedIn, true, (&protocol.LoggedIn{
		TPS:             s.srv.cfg.TPS,
		SpecialUserData: s.account.Special.Marshal(),
		AllRoles:        roles.Marshal(),
		SecretKey:       uint32(s.claimKey),
	}).Marshal); err != nil {
		return err
	}

	// Commit: this must be the last state mutation on the success path.
	s.state.Store(Unclaimed)
	return nil
}

func deriveSpecialUserProfile(roles RoleSet) *SpecialUserProfile {
	if roles.Has("staff") {
		return &SpecialUserProfile{Tag: "staff", Color: 0xFF0000}
	}
	if roles.Has("moderator") {
		return &SpecialUserProfile{Tag: "moderator", Color: 0x00FF00}
	}
	return nil
}

func (s *UnauthorizedSession) sendLoginFailed(message string) error {
	return s.socket.SendDynamic(protocol.PacketLoginFailed, false, (&protocol.LoginFailed{Message: message}).Marshal)
}

func (s *UnauthorizedSession) sendBanned(entry UserEntry) error {
	return s.socket.SendDynamic(protocol.PacketServerBanned, false, (&protocol.ServerBanned{
		Message:   entry.BanReason,
		Timestamp: entry.ViolationExpiry,
	}).Marshal)
}

func (s *UnauthorizedSession) sendDisconnect(message string) error {
	if err := s.socket.SendDynamic(protocol.PacketServerDisconnect, false, (&protocol.ServerDisconnect{Message: message}).Marshal); err != nil {
		return err
	}
	return nil
}

// PostDisconnectCleanup removes the session from whichever registry
// structure held it and decrements the player count iff the account id was
// set. Fires CleanupDone exactly once, after both have happened.
func (s *UnauthorizedSession) PostDisconnectCleanup() {
	s.srv.registry.removeUnclaimed(s)
	if id := s.accountID.Load(); id != 0 {
		s.srv.rooms.RemovePlayer(id)
		s.srv.decrementPlayerCount()
	}
	close(s.cleanupDone)
}
