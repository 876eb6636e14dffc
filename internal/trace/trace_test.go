package trace

import (
	"net"
	"testing"
	"time"

	"github.com/plbridge/plclient/internal/mailbox"
	"github.com/plbridge/plclient/internal/pl1"
	"github.com/plbridge/plclient/internal/pl2"
	"github.com/plbridge/plclient/internal/telemetry"
	"github.com/plbridge/plclient/internal/testutil/pairconn"
	"github.com/plbridge/plclient/internal/wire"
)

func newHandler(t *testing.T) (*Handler, net.Conn) {
	t.Helper()
	client, server := pairconn.New()
	t.Cleanup(func() { client.Close(); server.Close() })
	mb := mailbox.New(client, mailbox.Config{Timeout: time.Second})
	h := New(mb, 1, telemetry.Disabled())
	return h, server
}

func serverReply(t *testing.T, server net.Conn, body []byte) {
	t.Helper()
	var lenBuf [4]byte
	if _, err := server.Read(lenBuf[:]); err != nil {
		t.Fatalf("server read length: %v", err)
	}
	length := pl2.DecodeLengthPrefix(lenBuf[:])
	req := make([]byte, length-4)
	if _, err := server.Read(req); err != nil {
		t.Fatalf("server read body: %v", err)
	}
	if _, err := server.Write(pl2.EncodeLengthPrefix(len(body))); err != nil {
		t.Fatalf("server write length: %v", err)
	}
	if _, err := server.Write(body); err != nil {
		t.Fatalf("server write body: %v", err)
	}
}

func subscribeReplyBody(streamID uint8, negType Type, err pl1.ErrCode) []byte {
	b := wire.NewBuilder(pl1.HeaderSize + subBodySize)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: pl1.BodyWordLen(subBodySize), Cmd: pl1.CmdTraceSubscribe, ConID: 1, Param: uint8(err)})
	b.PutU8(streamID)
	b.PutU8(uint8(negType))
	b.PutZeroes(2)
	return b.Bytes()
}

func TestSubscribeReturnsNegotiatedType(t *testing.T) {
	h, server := newHandler(t)
	go serverReply(t, server, subscribeReplyBody(7, TypeMTSC, pl1.ErrNone))
	got, err := h.Subscribe(7, OptionDefault)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if got != TypeMTSC {
		t.Fatalf("negotiated type = %v, want mtsc", got)
	}
	if !h.Subscribed() {
		t.Fatalf("expected subscribed")
	}
}

func TestSubscribeTwiceIsUsageError(t *testing.T) {
	h, server := newHandler(t)
	go serverReply(t, server, subscribeReplyBody(1, TypeMTSC, pl1.ErrNone))
	if _, err := h.Subscribe(1, OptionDefault); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := h.Subscribe(2, OptionDefault); err == nil {
		t.Fatalf("expected usage error on second subscribe")
	}
}

func dataReplyBody(streamID uint8, state StreamState, data []byte, err pl1.ErrCode) []byte {
	padded := (len(data) + 3) &^ 3
	b := wire.NewBuilder(pl1.HeaderSize + dataHeaderSize + padded)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: pl1.BodyWordLen(dataHeaderSize + padded), Cmd: pl1.CmdTraceData, ConID: 1, Param: uint8(err)})
	b.PutU8(streamID)
	b.PutU8(uint8(state))
	b.PutZeroes(2)
	b.PutU32(uint32(len(data)))
	b.PutBytes(data)
	b.PutZeroes(padded - len(data))
	return b.Bytes()
}

func TestRecvDataReturnsRecord(t *testing.T) {
	h, server := newHandler(t)
	go serverReply(t, server, subscribeReplyBody(7, TypeMTSC, pl1.ErrNone))
	if _, err := h.Subscribe(7, OptionDefault); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	payload := []byte{0xAA, 0xBB, 0xCC}
	go serverReply(t, server, dataReplyBody(7, StreamSync, payload, pl1.ErrNone))

	rec, err := h.RecvData(time.Second)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if rec.StreamState != StreamSync {
		t.Fatalf("stream state = %v, want sync", rec.StreamState)
	}
	if rec.StreamID != 7 {
		t.Fatalf("stream id = %d, want 7", rec.StreamID)
	}
	if string(rec.Data) != string(payload) {
		t.Fatalf("data = %v, want %v", rec.Data, payload)
	}
}

func TestRecvDataAbsorbsDeviceReset(t *testing.T) {
	h, server := newHandler(t)
	go serverReply(t, server, subscribeReplyBody(1, TypeMTSC, pl1.ErrNone))
	if _, err := h.Subscribe(1, OptionDefault); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	go func() {
		serverReply(t, server, dataReplyBody(0, StreamCont, nil, pl1.ErrDeviceReset))
		serverReply(t, server, dataReplyBody(1, StreamSync, []byte{0x0A, 0x0B, 0x0C, 0x0D}, pl1.ErrNone))
	}()
	rec, err := h.RecvData(time.Second)
	if err != nil {
		t.Fatalf("recv after reset-indication frame: %v", err)
	}
	if string(rec.Data) != "\x0a\x0b\x0c\x0d" {
		t.Fatalf("data = %v, want the record following the reset indication", rec.Data)
	}
	if h.ResetCount != 1 {
		t.Fatalf("reset count = %d, want 1", h.ResetCount)
	}
}

func TestRecvDataEmptyIsTransient(t *testing.T) {
	h, server := newHandler(t)
	go serverReply(t, server, subscribeReplyBody(1, TypeMTSC, pl1.ErrNone))
	if _, err := h.Subscribe(1, OptionDefault); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	go serverReply(t, server, dataReplyBody(1, StreamCont, nil, pl1.ErrNone))
	if _, err := h.RecvData(time.Second); err == nil {
		t.Fatalf("expected transient error on empty stream")
	}
}
