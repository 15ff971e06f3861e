package relay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/MrKareem1980/globed2/internal/config"
	"github.com/MrKareem1980/globed2/internal/protocol"
)

// newActiveTestSessionDrained is like newActiveTestSession but keeps the
// peer end of the pipe and drains every frame the session writes to it, so
// Run can exercise code paths (like TerminationNotice) that write to the
// socket without blocking forever on net.Pipe's unbuffered rendezvous.
func newActiveTestSessionDrained(t *testing.T, srv *Server, accountID int32) *ClientSession {
	t.Helper()
	peer, conn := net.Pipe()
	t.Cleanup(func() { peer.Close(); conn.Close() })

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := protocol.PollForFrameLength(peer)
			if err != nil {
				return
			}
			if _, err := protocol.ReadFrameBody(peer, buf, n); err != nil {
				return
			}
		}
	}()

	socket := NewSocket(conn, nil, nil)
	socket.BindDatagramPeer(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000 + accountID})

	u, err := NewUnauthorizedSession(srv, socket, "test-peer")
	if err != nil {
		t.Fatalf("NewUnauthorizedSession: %v", err)
	}
	u.accountID.Store(accountID)
	u.account = &AccountData{AccountID: accountID}
	u.userEntry = &UserEntry{}
	u.roles = &RoleSet{}
	u.state.Store(Unclaimed)

	c, err := PromoteToActive(u, 4)
	if err != nil {
		t.Fatalf("PromoteToActive: %v", err)
	}
	return c
}

func TestPromoteToActiveRejectsUnboundDatagramPeer(t *testing.T) {
	_, client := net.Pipe()
	defer client.Close()
	socket := NewSocket(client, nil, nil)
	srv := &Server{rooms: stubRoomManager{}}
	u, err := NewUnauthorizedSession(srv, socket, "peer")
	if err != nil {
		t.Fatalf("NewUnauthorizedSession: %v", err)
	}
	u.accountID.Store(1)
	u.account = &AccountData{AccountID: 1}
	u.userEntry = &UserEntry{}
	u.roles = &RoleSet{}
	u.state.Store(Unclaimed)

	if _, err := PromoteToActive(u, 4); err == nil {
		t.Fatal("expected error promoting a session with no bound datagram peer")
	}
}

func TestPromoteToActiveRejectsWrongState(t *testing.T) {
	_, client := net.Pipe()
	defer client.Close()
	socket := NewSocket(client, nil, nil)
	socket.BindDatagramPeer(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000})
	srv := &Server{rooms: stubRoomManager{}}
	u, err := NewUnauthorizedSession(srv, socket, "peer")
	if err != nil {
		t.Fatalf("NewUnauthorizedSession: %v", err)
	}
	u.accountID.Store(1)
	u.account = &AccountData{AccountID: 1}
	u.userEntry = &UserEntry{}
	u.roles = &RoleSet{}
	// state left at Unauthorized, not Unclaimed

	if _, err := PromoteToActive(u, 4); err == nil {
		t.Fatal("expected error promoting a session not in Unclaimed state")
	}
}

func TestPromoteToActiveJoinsGlobalRoom(t *testing.T) {
	srv := &Server{rooms: stubRoomManager{}}
	c := newActiveTestSession(t, srv, 42)
	if c.RoomID() != srv.rooms.GlobalRoomID() {
		t.Errorf("got room id %d, want global room %d", c.RoomID(), srv.rooms.GlobalRoomID())
	}
	if !c.Authenticated() {
		t.Error("expected newly promoted session to be authenticated")
	}
	if c.State() != Active {
		t.Errorf("got state %s, want Active", c.State())
	}
}

func TestClientSessionRunTerminatesOnTerminationNotice(t *testing.T) {
	srv := &Server{rooms: stubRoomManager{}, cfg: config.Default()}
	c := newActiveTestSessionDrained(t, srv, 1)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	c.Inbox() <- TerminationNotice{Reason: "kicked"}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after a TerminationNotice")
	}
	if c.State() != Terminating {
		t.Errorf("got state %s, want Terminating", c.State())
	}
}

func TestClientSessionRunTerminatesOnContextCancel(t *testing.T) {
	srv := &Server{rooms: stubRoomManager{}, cfg: config.Default()}
	c := newActiveTestSession(t, srv, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	if c.State() != Terminating {
		t.Errorf("got state %s, want Terminating", c.State())
	}
}

func TestClientSessionRunTerminatesOnIdleTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.ActiveIdleTimeout = 10 * time.Millisecond
	srv := &Server{rooms: stubRoomManager{}, cfg: cfg}
	c := newActiveTestSession(t, srv, 1)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not time out on an idle inbox")
	}
	if c.State() != Terminating {
		t.Errorf("got state %s, want Terminating", c.State())
	}
}

func TestClientSessionDispatchesGameplayPayload(t *testing.T) {
	srv := &Server{rooms: stubRoomManager{}, cfg: config.Default()}
	received := make(chan []byte, 1)
	srv.SetGameplayHandler(func(c *ClientSession, payload []byte) error {
		received <- append([]byte(nil), payload...)
		return nil
	})
	c := newActiveTestSessionDrained(t, srv, 1)

	go c.Run(context.Background())
	c.Inbox() <- NewSmallPacket([]byte{0xAB, 0xCD})

	select {
	case got := <-received:
		if string(got) != string([]byte{0xAB, 0xCD}) {
			t.Errorf("got gameplay payload %v, want [0xAB 0xCD]", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("gameplay handler was not invoked")
	}

	c.Inbox() <- TerminationNotice{Reason: "done"}
}

func TestPreviewsReflectSessionState(t *testing.T) {
	srv := &Server{rooms: stubRoomManager{}}
	r := NewRegistry()
	srv.registry = r

	a := newActiveTestSession(t, srv, 1)
	r.InsertActive(a)
	a.SetLevelID(7)

	previews := r.Previews(nil)
	if len(previews) != 1 {
		t.Fatalf("got %d previews, want 1", len(previews))
	}
	if previews[0].AccountID != 1 || previews[0].LevelID != 7 {
		t.Errorf("got preview %+v, want account 1 / level 7", previews[0])
	}
}

func TestBroadcastVoiceToLevelExcludesOrigin(t *testing.T) {
	srv := &Server{rooms: stubRoomManager{}}
	r := NewRegistry()
	srv.registry = r

	a := newActiveTestSession(t, srv, 1)
	b := newActiveTestSession(t, srv, 2)
	r.InsertActive(a)
	r.InsertActive(b)
	a.SetLevelID(5)
	b.SetLevelID(5)

	r.BroadcastVoiceToLevel(5, 1, []byte("hello"))

	select {
	case msg := <-a.inbox:
		t.Fatalf("origin session should not receive its own broadcast, got %T", msg)
	default:
	}

	select {
	case msg := <-b.inbox:
		v, ok := msg.(BroadcastVoice)
		if !ok || string(v.Buf) != "hello" {
			t.Fatalf("got %#v, want BroadcastVoice{hello}", msg)
		}
	default:
		t.Fatal("expected b to receive the broadcast")
	}
}

func TestByRoomFiltersCorrectly(t *testing.T) {
	srv := &Server{rooms: stubRoomManager{}}
	r := NewRegistry()
	srv.registry = r

	a := newActiveTestSession(t, srv, 1)
	r.InsertActive(a)

	if got := r.ByRoom(a.RoomID()); len(got) != 1 || got[0] != a {
		t.Fatalf("ByRoom(%d) = %v, want [a]", a.RoomID(), got)
	}
	if got := r.ByRoom(a.RoomID() + 1000); len(got) != 0 {
		t.Errorf("ByRoom(unused room) = %v, want empty", got)
	}
}
