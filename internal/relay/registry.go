package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrKareem1980/globed2/internal/errs"
)

// Registry holds every session not yet disconnected, split into the two
// structures spec.md §4.5 requires: an ordered unclaimed holding area,
// searched linearly by claim key, and an active table keyed by datagram
// peer. A session belongs to exactly one of the two at any time.
type Registry struct {
	unclaimedMu sync.Mutex
	unclaimed   []*UnauthorizedSession

	activeMu  sync.RWMutex
	active    map[string]*ClientSession
	byAccount map[int32]*ClientSession
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active:    make(map[string]*ClientSession),
		byAccount: make(map[int32]*ClientSession),
	}
}

// AddUnclaimed pushes a freshly accepted session into the holding area.
func (r *Registry) AddUnclaimed(s *UnauthorizedSession) {
	r.unclaimedMu.Lock()
	defer r.unclaimedMu.Unlock()
	r.unclaimed = append(r.unclaimed, s)
}

// removeUnclaimed removes s from the holding area by value, if present. A
// session that already claimed is no longer there; removal is then a no-op.
func (r *Registry) removeUnclaimed(s *UnauthorizedSession) {
	r.unclaimedMu.Lock()
	defer r.unclaimedMu.Unlock()
	for i, u := range r.unclaimed {
		if u == s {
			r.unclaimed = append(r.unclaimed[:i], r.unclaimed[i+1:]...)
			return
		}
	}
}

// Claim resolves a datagram-side claim attempt: find the first unclaimed
// session whose claim key matches, remove it from the holding area, bind
// the peer to its socket, build the promoted ClientSession, and insert it
// into the active table — all before signaling the session's run loop, so
// the active-table entry is observable before the session ever observes
// the claim (spec.md §4.5 ordering guarantee). Returns the claimed
// session, or nil if no match exists yet. A matched session that cannot be
// promoted (see PromoteToActive's preconditions) is still removed from the
// holding area and signaled, so its run loop can terminate instead of
// waiting out its idle timeout.
func (r *Registry) Claim(key ClaimKey, bind func(*UnauthorizedSession)) *UnauthorizedSession {
	r.unclaimedMu.Lock()
	var found *UnauthorizedSession
	for i, u := range r.unclaimed {
		if u.ClaimKey() == key && !u.Claimed() {
			found = u
			r.unclaimed = append(r.unclaimed[:i], r.unclaimed[i+1:]...)
			break
		}
	}
	r.unclaimedMu.Unlock()

	if found == nil {
		return nil
	}

	found.claim()
	bind(found)

	if c, err := PromoteToActive(found, activeInboxSize); err != nil {
		found.failPromotion(err)
	} else {
		r.InsertActive(c)
		found.completePromotion(c)
	}

	found.signalClaimed()
	return found
}

// InsertActive installs a promoted session into the active table and the
// account-id index. Called once, by Claim, immediately after PromoteToActive
// and before the claim signal fires.
func (r *Registry) InsertActive(c *ClientSession) {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	r.active[c.DatagramPeer()] = c
	r.byAccount[c.AccountID()] = c
}

// Lookup returns the active session bound to the given datagram peer.
func (r *Registry) Lookup(peerHostPort string) (*ClientSession, bool) {
	r.activeMu.RLock()
	defer r.activeMu.RUnlock()
	c, ok := r.active[peerHostPort]
	return c, ok
}

// LookupAccount returns the active session for an account id, if logged in.
func (r *Registry) LookupAccount(accountID int32) (*ClientSession, bool) {
	r.activeMu.RLock()
	defer r.activeMu.RUnlock()
	c, ok := r.byAccount[accountID]
	return c, ok
}

// removeActive removes c from both the active table and the account index.
func (r *Registry) removeActive(c *ClientSession) {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	if cur, ok := r.active[c.DatagramPeer()]; ok && cur == c {
		delete(r.active, c.DatagramPeer())
	}
	if cur, ok := r.byAccount[c.AccountID()]; ok && cur == c {
		delete(r.byAccount, c.AccountID())
	}
}

// evictDuplicateLogin disconnects any Active session already logged in
// under accountID and waits for its cleanup to finish before returning, so
// the new login never races the old session's registry removal and
// player-count decrement (spec.md §4.5 cleanup rendezvous). Evictors
// serialize on the victim's cleanupMu; cleanup itself never takes it.
func (r *Registry) evictDuplicateLogin(ctx context.Context, accountID int32) error {
	victim, ok := r.LookupAccount(accountID)
	if !ok {
		return nil
	}

	victim.CleanupMutex().Lock()
	defer victim.CleanupMutex().Unlock()

	// Re-check under the lock: another evictor may have already finished
	// removing this exact session while we waited for the mutex.
	if cur, ok := r.LookupAccount(accountID); !ok || cur != victim {
		return nil
	}

	if !victim.Enqueue(TerminationNotice{Reason: "logged in from another location"}) {
		return fmt.Errorf("evicting account %d: inbox full: %w", accountID, errs.ErrInvariant)
	}

	select {
	case <-victim.CleanupDone():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("evicting account %d: %w", accountID, ctx.Err())
	}
}
