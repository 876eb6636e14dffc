package rwresp

import (
	"bytes"
	"testing"

	"github.com/plbridge/plclient/internal/conninfo"
	"github.com/plbridge/plclient/internal/pl0"
	"github.com/plbridge/plclient/internal/pl1"
	"github.com/plbridge/plclient/internal/rwplan"
	"github.com/plbridge/plclient/internal/wire"
)

func testConInfo() conninfo.ConInfo {
	return conninfo.ConInfo{MaxReqPL2Size: 1024, MaxRspPL2Size: 1024, PL0MaxNumRW: 32, PL0AddrMapMask: 0xFFFF}
}

// buildResponse renders a synthetic device reply for env: every op
// succeeds, reads echo back deterministic bytes derived from the op's
// address.
func buildResponse(env rwplan.Envelope, startErr pl1.ErrCode) []byte {
	b := wire.NewBuilder(256)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: 1, Cmd: pl1.CmdPL0Start, ConID: env.ConID, Param: uint8(startErr)})
	b.PutU16(env.PL1Cnt)
	b.PutZeroes(2)

	for _, op := range env.Ops {
		for range op.ControlOps {
			b.PutU8(StatusNoError)
			b.PutU8(0)
			b.PutU16(0)
		}
		b.PutU8(StatusNoError)
		b.PutU8(0)
		if op.IsRead {
			n := pl0.RegisterOpSize(op.Op.Op)
			if n == 0 {
				n = pl0.PayloadLen(op.Op.Op, op.Op.WL)
			}
			b.PutU16(uint16(n))
			data := make([]byte, n)
			for i := range data {
				data[i] = byte(op.Addr + uint64(i))
			}
			b.PutBytes(data)
		} else {
			n := len(op.Op.Payload)
			if n == 0 {
				n = pl0.PayloadLen(op.Op.Op, op.Op.WL)
			}
			b.PutU16(uint16(n))
		}
	}

	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: 1, Cmd: pl1.CmdPL0End, ConID: env.ConID, Param: uint8(pl1.ErrNone)})
	b.PutU16(env.PL1Cnt)
	b.PutZeroes(2)
	return b.Bytes()
}

func TestParseEnvelopeAggregatesReadBytes(t *testing.T) {
	readBuf := make([]byte, 4)
	txs := []rwplan.Transaction{{Addr: 0x70000001, NumBytes: 4, Kind: rwplan.Read, ReadBuf: readBuf}}
	p := rwplan.NewPlanner(testConInfo(), 1)
	plan, err := p.Plan(txs)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	parser := New(plan, txs)
	for _, env := range plan.Envelopes {
		resp := buildResponse(env, pl1.ErrNone)
		if err := parser.ParseEnvelope(env, resp); err != nil {
			t.Fatalf("parse envelope: %v", err)
		}
	}

	tr := plan.TxResponses[0]
	if tr.NumBytesOK != 4 {
		t.Fatalf("num_bytes_ok = %d, want 4", tr.NumBytesOK)
	}
	if tr.PLErr != StatusNoError {
		t.Fatalf("pl_err = 0x%02x, want no-error", tr.PLErr)
	}
	want := []byte{0x01, 0x02, 0x03, 0x04}
	for i := range want {
		want[i] = byte(0x70000001 + i)
	}
	if !bytes.Equal(readBuf, want) {
		t.Fatalf("read buf = %v, want %v", readBuf, want)
	}
}

func TestParseEnvelopeDeviceResetIncrementsAndContinues(t *testing.T) {
	txs := []rwplan.Transaction{{Addr: 0x1000, NumBytes: 8, Kind: rwplan.Read, ReadBuf: make([]byte, 8)}}
	p := rwplan.NewPlanner(testConInfo(), 1)
	plan, err := p.Plan(txs)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	parser := New(plan, txs)
	resp := buildResponse(plan.Envelopes[0], pl1.ErrDeviceReset)
	if err := parser.ParseEnvelope(plan.Envelopes[0], resp); err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if parser.ResetCount != 1 {
		t.Fatalf("reset count = %d, want 1", parser.ResetCount)
	}
	if plan.TxResponses[0].NumBytesOK != 8 {
		t.Fatalf("num_bytes_ok = %d, want 8 (parsing continued after reset)", plan.TxResponses[0].NumBytesOK)
	}
}

func TestParseEnvelopeRejectsPL1CntMismatch(t *testing.T) {
	txs := []rwplan.Transaction{{Addr: 0x1000, NumBytes: 8, Kind: rwplan.Read, ReadBuf: make([]byte, 8)}}
	p := rwplan.NewPlanner(testConInfo(), 1)
	plan, err := p.Plan(txs)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	env := plan.Envelopes[0]
	badEnv := env
	badEnv.PL1Cnt = env.PL1Cnt + 1
	resp := buildResponse(env, pl1.ErrNone)

	parser := New(plan, txs)
	if err := parser.ParseEnvelope(badEnv, resp); err == nil {
		t.Fatalf("expected pl1_cnt mismatch error")
	}
}

func TestParseEnvelopeFirstErrorStopsAccumulation(t *testing.T) {
	txs := []rwplan.Transaction{{Addr: 0x1000, NumBytes: 12, Kind: rwplan.Read, ReadBuf: make([]byte, 12)}}
	info := testConInfo()
	info.PL0MaxNumRW = 1 // force the rd64 and the trailing rd32 into separate envelopes
	p := rwplan.NewPlanner(info, 1)
	plan, err := p.Plan(txs)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Envelopes) < 2 {
		t.Fatalf("expected at least 2 envelopes, got %d", len(plan.Envelopes))
	}

	parser := New(plan, txs)
	// First envelope succeeds.
	if err := parser.ParseEnvelope(plan.Envelopes[0], buildResponse(plan.Envelopes[0], pl1.ErrNone)); err != nil {
		t.Fatalf("parse envelope 0: %v", err)
	}
	firstOK := plan.TxResponses[0].NumBytesOK

	// Second envelope's op reports a data fault instead of success.
	env := plan.Envelopes[1]
	resp := buildResponse(env, pl1.ErrNone)
	statusOffset := pl1.HeaderSize + 4 + microOpRespHeaderSize*len(env.Ops[0].ControlOps)
	resp[statusOffset] = StatusDataFault // overwrite the first micro-op status byte
	if err := parser.ParseEnvelope(env, resp); err != nil {
		t.Fatalf("parse envelope 1: %v", err)
	}

	if plan.TxResponses[0].NumBytesOK != firstOK {
		t.Fatalf("num_bytes_ok advanced past the first error: got %d, want %d", plan.TxResponses[0].NumBytesOK, firstOK)
	}
	if plan.TxResponses[0].PLErr != StatusDataFault {
		t.Fatalf("pl_err = 0x%02x, want data-fault", plan.TxResponses[0].PLErr)
	}
	ferr := parser.FirstError("test")
	if ferr == nil || ferr.Kind.String() != "rw-read" {
		t.Fatalf("FirstError = %v, want rw-read kind", ferr)
	}
}
