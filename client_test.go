package plclient

import (
	"net"
	"testing"

	"github.com/plbridge/plclient/internal/conninfo"
	"github.com/plbridge/plclient/internal/pl1"
	"github.com/plbridge/plclient/internal/pl2"
	"github.com/plbridge/plclient/internal/rwplan"
	"github.com/plbridge/plclient/internal/wire"
)

// listenLoopback starts a one-shot TCP listener on 127.0.0.1 and returns
// its address plus a channel delivering the first accepted connection.
func listenLoopback(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	ch := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			ch <- conn
		}
	}()
	return ln.Addr().String(), ch
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

func serverConnectReplyBody(conID uint8) []byte {
	const serverNameWidth, buildDateWidth = 64, 40
	const bodySize = serverNameWidth + 4 + 12 + 8 + buildDateWidth + 8
	b := wire.NewBuilder(pl1.HeaderSize + bodySize)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: pl1.BodyWordLen(bodySize), Cmd: pl1.CmdServerConnect, ConID: conID, Param: uint8(pl1.ErrNone)})
	b.PutFixedASCII("test-server", serverNameWidth)
	b.PutU8(1)
	b.PutU8(0)
	b.PutU8(1)
	b.PutU8(1)
	b.PutU32(0)
	b.PutU32(0)
	b.PutU32(0)
	b.PutU64(0)
	b.PutFixedASCII("2026-01-01", buildDateWidth)
	b.PutBytes(make([]byte, 8)) // challenge
	return b.Bytes()
}

func sessionStartReplyBody(cmd pl1.Command, conID uint8) []byte {
	const bodySize = 132
	b := wire.NewBuilder(pl1.HeaderSize + bodySize)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: pl1.BodyWordLen(bodySize), Cmd: cmd, ConID: conID, Param: uint8(pl1.ErrNone)})
	b.PutU32(1024) // max_req_pl2_size
	b.PutU32(1024) // max_rsp_pl2_size
	b.PutU32(1)    // device_type
	b.PutBytes(make([]byte, 16))
	b.PutU32(0)               // ipv4
	b.PutU32(conninfo.FeatReset) // dev_con_feat
	b.PutU32(conninfo.PhysSWD)   // dev_con_phys
	b.PutU16(32)                // pl0_max_num_rw
	b.PutZeroes(2)
	b.PutU32(0xFFFFFFFF) // rw_mode_mask
	b.PutU32(0xFFFF)     // addr_map_mask
	b.PutU32(1024)       // msg_length_c2d
	b.PutU32(1024)       // msg_length_d2c
	b.PutU32(4)          // msg_num_c2d
	b.PutU32(4)          // msg_num_d2c
	b.PutFixedASCII("target-0", 64)
	return b.Bytes()
}

func deviceConnectReplyBody(conID uint8, featUsed uint32) []byte {
	b := wire.NewBuilder(pl1.HeaderSize + 4)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: pl1.BodyWordLen(4), Cmd: pl1.CmdDeviceConnect, ConID: conID, Param: uint8(pl1.ErrNone)})
	b.PutU32(featUsed)
	return b.Bytes()
}

func TestRWClientUsageOrderEnforced(t *testing.T) {
	addr, accepted := listenLoopback(t)
	c, err := NewRWClient(addr, DefaultDialDefaults())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	<-accepted

	if _, err := c.ExecuteTrans([]rwplan.Transaction{{Addr: 0, NumBytes: 4, Kind: rwplan.Read, ReadBuf: make([]byte, 4)}}); err == nil {
		t.Fatalf("expected usage error before device-connect")
	}
}

func TestRWClientFullLifecycleReadWrite(t *testing.T) {
	addr, accepted := listenLoopback(t)
	c, err := NewRWClient(addr, DefaultDialDefaults())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	server := <-accepted
	t.Cleanup(func() { server.Close() })

	go serverReply(t, server, serverConnectReplyBody(1))
	if _, err := c.Connect("test-client"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	go serverReply(t, server, sessionStartReplyBody(pl1.CmdSessionStart, 1))
	if err := c.SessionStart("target-0", "sess", "user", ""); err != nil {
		t.Fatalf("session-start: %v", err)
	}

	go serverReply(t, server, deviceConnectReplyBody(1, conninfo.FeatReset))
	if _, err := c.DeviceConnect(conninfo.FeatReset); err != nil {
		t.Fatalf("device-connect: %v", err)
	}

	// Drive one envelope: device echoes success for the single write op.
	go func() {
		var lenBuf [4]byte
		if _, err := server.Read(lenBuf[:]); err != nil {
			t.Errorf("server read length: %v", err)
			return
		}
		length := pl2.DecodeLengthPrefix(lenBuf[:])
		req := make([]byte, length-4)
		if _, err := server.Read(req); err != nil {
			t.Errorf("server read body: %v", err)
			return
		}
		cur := wire.NewCursor(req)
		startHdr, err := pl1.DecodeResponseHeader(cur)
		if err != nil {
			t.Errorf("decode pl0-start: %v", err)
			return
		}
		pl1Cnt, err := cur.TakeU16()
		if err != nil {
			t.Errorf("decode pl1_cnt: %v", err)
			return
		}

		resp := wire.NewBuilder(64)
		pl1.EncodeRequestHeader(resp, pl1.RequestHeader{WL: 1, Cmd: pl1.CmdPL0Start, ConID: startHdr.ConID, Param: uint8(pl1.ErrNone)})
		resp.PutU16(pl1Cnt)
		resp.PutZeroes(2)
		// access-mode, address-map, base-addr32 control-op responses, then
		// the write op's own response reporting its 4 bytes written: four
		// 4-byte headers total, no payload on any of them.
		for i := 0; i < 4; i++ {
			resp.PutU8(0x80) // StatusNoError
			resp.PutU8(0)
			if i == 3 {
				resp.PutU16(4)
			} else {
				resp.PutU16(0)
			}
		}
		pl1.EncodeRequestHeader(resp, pl1.RequestHeader{WL: 1, Cmd: pl1.CmdPL0End, ConID: startHdr.ConID, Param: uint8(pl1.ErrNone)})
		resp.PutU16(pl1Cnt)
		resp.PutZeroes(2)

		if _, err := server.Write(pl2.EncodeLengthPrefix(resp.Len())); err != nil {
			t.Errorf("server write length: %v", err)
			return
		}
		if _, err := server.Write(resp.Bytes()); err != nil {
			t.Errorf("server write body: %v", err)
		}
	}()

	txs := []rwplan.Transaction{{Addr: 0x70000000, NumBytes: 4, Kind: rwplan.Write, WriteData: []byte{1, 2, 3, 4}}}
	responses, err := c.ExecuteTrans(txs)
	if err != nil {
		t.Fatalf("execute trans: %v", err)
	}
	if len(responses) != 1 || responses[0].NumBytesOK != 4 {
		t.Fatalf("responses = %+v, want one entry with num_bytes_ok=4", responses)
	}
}

func TestRWClientSessionStartOnlyOnce(t *testing.T) {
	addr, accepted := listenLoopback(t)
	c, err := NewRWClient(addr, DefaultDialDefaults())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	server := <-accepted
	t.Cleanup(func() { server.Close() })

	go serverReply(t, server, serverConnectReplyBody(1))
	if _, err := c.Connect("test-client"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	go serverReply(t, server, sessionStartReplyBody(pl1.CmdSessionStart, 1))
	if err := c.SessionStart("target-0", "sess", "user", ""); err != nil {
		t.Fatalf("session-start: %v", err)
	}
	if err := c.SessionStart("target-0", "sess", "user", ""); err == nil {
		t.Fatalf("expected usage error on second session-start")
	}
}
