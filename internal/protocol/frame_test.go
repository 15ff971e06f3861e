package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/MrKareem1980/globed2/internal/errs"
)

func TestWriteFramePollReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	header := Header{ID: PacketLogin, Encrypted: true}
	payload := make([]byte, HeaderSize)
	header.Encode(payload)
	payload = append(payload, []byte("body")...)

	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	n, err := PollForFrameLength(&buf)
	if err != nil {
		t.Fatalf("PollForFrameLength: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("got length %d, want %d", n, len(payload))
	}

	readBuf := make([]byte, n)
	body, err := ReadFrameBody(&buf, readBuf, n)
	if err != nil {
		t.Fatalf("ReadFrameBody: %v", err)
	}
	if !bytes.Equal(body, payload) {
		t.Errorf("got %v, want %v", body, payload)
	}

	got, err := DecodeHeader(body)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != header {
		t.Errorf("got header %+v, want %+v", got, header)
	}
}

func TestPollForFrameLengthZeroIsProtocolError(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x00})
	if _, err := PollForFrameLength(buf); !errors.Is(err, errs.ErrProtocol) {
		t.Errorf("got %v, want ErrProtocol", err)
	}
}

func TestPollForFrameLengthShortReadIsTransportError(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x01})
	if _, err := PollForFrameLength(buf); !errors.Is(err, errs.ErrTransport) {
		t.Errorf("got %v, want ErrTransport", err)
	}
}

func TestDecodeHeaderTooShort(t *testing.T) {
	if _, err := DecodeHeader([]byte{0x01}); !errors.Is(err, errs.ErrProtocol) {
		t.Errorf("got %v, want ErrProtocol", err)
	}
}

func TestReadFrameBodyExceedsBuffer(t *testing.T) {
	buf := bytes.NewBuffer([]byte{1, 2, 3})
	small := make([]byte, 2)
	if _, err := ReadFrameBody(buf, small, 3); !errors.Is(err, errs.ErrProtocol) {
		t.Errorf("got %v, want ErrProtocol", err)
	}
}
