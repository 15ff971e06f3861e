package relay

import (
	"net"
	"testing"

	"github.com/MrKareem1980/globed2/internal/cryptocodec"
	"github.com/MrKareem1980/globed2/internal/protocol"
)

func TestSocketSendStaticPollAndDecode(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	identity, err := cryptocodec.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	socket := NewSocket(server, identity, nil)

	done := make(chan error, 1)
	go func() {
		done <- socket.SendStatic(protocol.PacketCryptoHandshakeResponse, false, (&protocol.CryptoHandshakeResponse{PublicKey: identity.Public}).Marshal)
	}()

	n, err := protocol.PollForFrameLength(client)
	if err != nil {
		t.Fatalf("PollForFrameLength: %v", err)
	}
	buf := make([]byte, n)
	body, err := protocol.ReadFrameBody(client, buf, n)
	if err != nil {
		t.Fatalf("ReadFrameBody: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendStatic: %v", err)
	}

	header, err := protocol.DecodeHeader(body)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if header.ID != protocol.PacketCryptoHandshakeResponse || header.Encrypted {
		t.Fatalf("got header %+v, want unencrypted handshake response", header)
	}

	var resp protocol.CryptoHandshakeResponse
	copy(resp.PublicKey[:], body[protocol.HeaderSize:])
	if resp.PublicKey != identity.Public {
		t.Error("decoded public key does not match the server's identity")
	}
}

func TestSocketSendDatagramRequiresBoundPeer(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	socket := NewSocket(server, nil, nil)
	if err := socket.SendDatagram([]byte("payload")); err == nil {
		t.Fatal("expected error sending a datagram with no bound peer")
	}
}

func TestSocketDatagramHostPortEmptyWhenUnclaimed(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	socket := NewSocket(server, nil, nil)
	if got := socket.DatagramHostPort(); got != "" {
		t.Errorf("got %q, want empty string before claim", got)
	}

	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1234}
	socket.BindDatagramPeer(addr)
	if got := socket.DatagramHostPort(); got != addr.String() {
		t.Errorf("got %q, want %q", got, addr.String())
	}
}
