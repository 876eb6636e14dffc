package serverconn

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/plbridge/plclient/internal/errkind"
	"github.com/plbridge/plclient/internal/mailbox"
	"github.com/plbridge/plclient/internal/pl1"
	"github.com/plbridge/plclient/internal/pl2"
	"github.com/plbridge/plclient/internal/telemetry"
	"github.com/plbridge/plclient/internal/testutil/pairconn"
	"github.com/plbridge/plclient/internal/wire"
)

// serverReply reads one PL2 request off server and asynchronously writes
// back body wrapped in its own PL2 length prefix.
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
	server.Write(pl2.EncodeLengthPrefix(len(body)))
	server.Write(body)
}

func newHandler(t *testing.T) (*Handler, net.Conn) {
	t.Helper()
	client, server := pairconn.New()
	t.Cleanup(func() { client.Close(); server.Close() })
	mb := mailbox.New(client, mailbox.Config{Timeout: time.Second})
	h := New(mb, telemetry.Disabled())
	return h, server
}

func buildServerInfoBody(conID uint8, protoMin, protoMax uint8) []byte {
	b := wire.NewBuilder(pl1.HeaderSize + serverInfoWireSize + challengeSize)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{
		WL:    pl1.BodyWordLen(serverInfoWireSize + challengeSize),
		Cmd:   pl1.CmdServerConnect,
		ConID: conID,
		Param: uint8(pl1.ErrNone),
	})
	b.PutFixedASCII("test-server", serverNameWidth)
	b.PutU8(1)
	b.PutU8(0)
	b.PutU8(protoMin)
	b.PutU8(protoMax)
	b.PutU32(0)
	b.PutU32(0)
	b.PutU32(0)
	b.PutU64(0)
	b.PutFixedASCII("2026-08-06", serverBuildDateWidth)
	b.PutBytes([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	return b.Bytes()
}

func TestConnectSuccess(t *testing.T) {
	h, server := newHandler(t)
	done := make(chan struct{})
	var gotInfo ServerInfo
	var gotChallenge [challengeSize]byte
	var err error
	go func() {
		defer close(done)
		gotInfo, gotChallenge, err = h.Connect("client-1")
	}()

	serverReply(t, server, buildServerInfoBody(7, 1, 1))
	<-done

	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if gotInfo.Name != "test-server" {
		t.Fatalf("name = %q", gotInfo.Name)
	}
	if h.ConID() != 7 {
		t.Fatalf("con_id = %d, want 7", h.ConID())
	}
	if !bytes.Equal(gotChallenge[:], []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatalf("challenge = %v", gotChallenge)
	}
}

func TestConnectRejectsOutOfRangeProtocolVersion(t *testing.T) {
	h, server := newHandler(t)
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, _, err = h.Connect("client-1")
	}()

	serverReply(t, server, buildServerInfoBody(1, 2, 3)) // client hard-codes version 1, peer wants [2,3]
	<-done

	if err == nil {
		t.Fatalf("expected protocol version error")
	}
}

func buildConInfoBody(cmd pl1.Command, errCode pl1.ErrCode, maxReq, maxRsp, msgLenC2D, msgLenD2C uint32) []byte {
	b := wire.NewBuilder(pl1.HeaderSize + conInfoWireSize)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: pl1.BodyWordLen(conInfoWireSize), Cmd: cmd, ConID: 1, Param: uint8(errCode)})
	b.PutU32(maxReq)
	b.PutU32(maxRsp)
	b.PutU32(0) // device_type
	b.PutBytes(make([]byte, 16))
	b.PutU32(0)  // ipv4
	b.PutU32(0)  // feat
	b.PutU32(0)  // phys
	b.PutU16(32) // pl0_max_num_rw
	b.PutZeroes(2)
	b.PutU32(0)   // rw mode mask
	b.PutU32(0xF) // addr map mask
	b.PutU32(msgLenC2D)
	b.PutU32(msgLenD2C)
	b.PutU32(4)
	b.PutU32(4)
	b.PutFixedASCII("target-1", 64)
	return b.Bytes()
}

func TestSessionStartSuccess(t *testing.T) {
	h, server := newHandler(t)
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = h.SessionStart("target-1", "sess", "user", "")
	}()
	serverReply(t, server, buildConInfoBody(pl1.CmdSessionStart, pl1.ErrNone, 1024, 1024, 1024, 1024))
	<-done
	if err != nil {
		t.Fatalf("session-start: %v", err)
	}
}

func TestSessionStartRejectsInvalidPeerConInfo(t *testing.T) {
	h, server := newHandler(t)
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = h.SessionStart("target-1", "sess", "user", "")
	}()
	serverReply(t, server, buildConInfoBody(pl1.CmdSessionStart, pl1.ErrNone, 64, 1024, 1024, 1024))
	<-done
	if !errors.Is(err, errkind.Sentinel(errkind.ServerConnection)) {
		t.Fatalf("expected server-connection error for out-of-bounds pl2 size, got %v", err)
	}
}

func TestDeviceConnectPartialApplicationIsParameterError(t *testing.T) {
	h, server := newHandler(t)
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = h.DeviceConnect(0x3)
	}()

	b := wire.NewBuilder(pl1.HeaderSize + 4)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: pl1.BodyWordLen(4), Cmd: pl1.CmdDeviceConnect, ConID: 1, Param: uint8(pl1.ErrNone)})
	b.PutU32(0x1) // only one of two requested bits applied
	serverReply(t, server, b.Bytes())
	<-done

	if !errors.Is(err, errkind.Sentinel(errkind.Parameter)) {
		t.Fatalf("expected parameter error, got %v", err)
	}
}

func buildChallengeBody(c byte) []byte {
	b := wire.NewBuilder(pl1.HeaderSize + challengeSize)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: pl1.BodyWordLen(challengeSize), Cmd: pl1.CmdGetChallenge, ConID: 1, Param: uint8(pl1.ErrNone)})
	b.PutBytes(bytes.Repeat([]byte{c}, challengeSize))
	return b.Bytes()
}

func TestGetChallengeRoundTrip(t *testing.T) {
	h, server := newHandler(t)

	done := make(chan struct{})
	var first [challengeSize]byte
	var err error
	go func() {
		defer close(done)
		first, err = h.GetChallenge()
	}()
	serverReply(t, server, buildChallengeBody(0xAA))
	<-done
	if err != nil {
		t.Fatalf("first get-challenge: %v", err)
	}
	if first[0] != 0xAA {
		t.Fatalf("first challenge = %v", first)
	}

	done2 := make(chan struct{})
	go func() {
		defer close(done2)
		_, err = h.GetChallenge()
	}()
	serverReply(t, server, buildChallengeBody(0xBB))
	<-done2
	if err != nil {
		t.Fatalf("second get-challenge: %v", err)
	}
}

func TestListTargetsStitchesPages(t *testing.T) {
	h, server := newHandler(t)

	buildPage := func(start, numNow, numTotal uint32, ids []uint32) []byte {
		bodyLen := 12 + int(numNow)*(8+targetNameWidth)
		b := wire.NewBuilder(pl1.HeaderSize + bodyLen)
		pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: pl1.BodyWordLen(bodyLen), Cmd: pl1.CmdGetTargets, ConID: 1, Param: uint8(pl1.ErrNone)})
		b.PutU32(start)
		b.PutU32(numNow)
		b.PutU32(numTotal)
		for _, id := range ids {
			b.PutU32(id)
			b.PutU32(0)
			b.PutFixedASCII("target", targetNameWidth)
		}
		return b.Bytes()
	}

	done := make(chan struct{})
	var targets []TargetInfo
	var err error
	go func() {
		defer close(done)
		targets, err = h.ListTargets()
	}()
	serverReply(t, server, buildPage(0, 2, 3, []uint32{1, 2}))
	serverReply(t, server, buildPage(2, 1, 3, []uint32{3}))
	<-done

	if err != nil {
		t.Fatalf("list-targets: %v", err)
	}
	if len(targets) != 3 {
		t.Fatalf("got %d targets, want 3", len(targets))
	}
	for i, want := range []uint32{1, 2, 3} {
		if targets[i].ID != want {
			t.Fatalf("targets[%d].ID = %d, want %d", i, targets[i].ID, want)
		}
	}
}
