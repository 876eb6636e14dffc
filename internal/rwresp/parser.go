// Package rwresp owns response-side validation and aggregation for the RW
// planner's output: walking a device's reply byte stream in lockstep with
// a *rwplan.Plan and re-binding each PL0 micro-op result back to the user
// Transaction it was decomposed from.
//
// Ownership boundary:
// - pl0-start/pl0-end response body decode and pl1_cnt ordering checks
// - per-micro-op response header decode
// - the aggregation rule: first non-no-error PL0 code per transaction wins,
//   later micro-ops for that transaction stop contributing NumBytesOK
package rwresp

import (
	"github.com/plbridge/plclient/internal/errkind"
	"github.com/plbridge/plclient/internal/pl1"
	"github.com/plbridge/plclient/internal/rwplan"
	"github.com/plbridge/plclient/internal/wire"
)

// microOpRespHeaderSize is the fixed {status, reserved, count} header every
// PL0 micro-op response carries ahead of its optional read payload.
const microOpRespHeaderSize = 4

// PL0 status codes (§4.2): the 0x80-0x9F range, disjoint from PL1's
// ErrCode byte space.
const (
	StatusNoError       uint8 = 0x80
	StatusDataFault     uint8 = 0x8D
	StatusConsequential uint8 = 0x98
)

// Parser replays one *rwplan.Plan's envelopes against the device's actual
// response bytes, filling Plan.TxResponses and each Transaction's ReadBuf
// in place.
type Parser struct {
	plan *rwplan.Plan
	txs  []rwplan.Transaction

	// ResetCount is incremented whenever a pl0-start response reports
	// TAS_PL1_ERR_DEV_RESET; parsing continues rather than aborting.
	ResetCount uint32

	// firstErrAddr/firstErrMap/firstErrRead remember the first per-
	// transaction data fault seen across the whole Plan, for the facade to
	// build one aggregate errkind.Error with address context.
	firstErrTx   int
	firstErrAddr uint64
	firstErrMap  uint8
	firstErrRead bool
	haveFirstErr bool
}

// New returns a Parser bound to plan and its originating transactions;
// txs must be the same slice (same order, same buffers) passed to
// rwplan.Planner.Plan.
func New(plan *rwplan.Plan, txs []rwplan.Transaction) *Parser {
	return &Parser{plan: plan, txs: txs}
}

// ParseEnvelope consumes one envelope's worth of response bytes (exactly
// what one mailbox.Execute call returned for that envelope's request) and
// updates the parser's aggregation state. Envelopes must be fed in the
// order rwplan.Plan.Envelopes lists them.
func (p *Parser) ParseEnvelope(env rwplan.Envelope, resp []byte) error {
	c := wire.NewCursor(resp)

	startHdr, err := pl1.DecodeResponseHeader(c)
	if err != nil {
		return errkind.Newf(errkind.ServerConnection, "rwresp.ParseEnvelope", "short pl0-start header: %v", err)
	}
	if startHdr.Cmd != pl1.CmdPL0Start {
		return errkind.Newf(errkind.ServerConnection, "rwresp.ParseEnvelope", "command mismatch: want pl0-start, got %s", startHdr.Cmd)
	}
	gotCnt, err := c.TakeU16()
	if err != nil {
		return errkind.Newf(errkind.ServerConnection, "rwresp.ParseEnvelope", "short pl0-start body: %v", err)
	}
	if err := c.Skip(2); err != nil {
		return errkind.Newf(errkind.ServerConnection, "rwresp.ParseEnvelope", "short pl0-start body: %v", err)
	}
	if gotCnt != env.PL1Cnt {
		return errkind.Newf(errkind.ServerConnection, "rwresp.ParseEnvelope", "pl0-start pl1_cnt mismatch: got %d, want %d", gotCnt, env.PL1Cnt)
	}

	if startHdr.Err == pl1.ErrDeviceReset {
		p.ResetCount++
	} else if startHdr.Err != pl1.ErrNone {
		return errkind.New(startHdr.Err.Kind(), "rwresp.ParseEnvelope", startHdr.Err.String())
	}

	for _, op := range env.Ops {
		for range op.ControlOps {
			if err := p.skipControlResponse(c); err != nil {
				return err
			}
		}
		if err := p.consumeOpResponse(c, op); err != nil {
			return err
		}
	}

	endHdr, err := pl1.DecodeResponseHeader(c)
	if err != nil {
		return errkind.Newf(errkind.ServerConnection, "rwresp.ParseEnvelope", "short pl0-end header: %v", err)
	}
	if endHdr.Cmd != pl1.CmdPL0End {
		return errkind.Newf(errkind.ServerConnection, "rwresp.ParseEnvelope", "command mismatch: want pl0-end, got %s", endHdr.Cmd)
	}
	endCnt, err := c.TakeU16()
	if err != nil {
		return errkind.Newf(errkind.ServerConnection, "rwresp.ParseEnvelope", "short pl0-end body: %v", err)
	}
	if err := c.Skip(2); err != nil {
		return errkind.Newf(errkind.ServerConnection, "rwresp.ParseEnvelope", "short pl0-end body: %v", err)
	}
	if endCnt != env.PL1Cnt {
		return errkind.Newf(errkind.ServerConnection, "rwresp.ParseEnvelope", "pl0-end pl1_cnt mismatch: got %d, want %d", endCnt, env.PL1Cnt)
	}
	if endHdr.Err != pl1.ErrNone {
		return errkind.New(endHdr.Err.Kind(), "rwresp.ParseEnvelope", endHdr.Err.String())
	}
	if c.Remaining() != 0 {
		return errkind.Newf(errkind.ServerConnection, "rwresp.ParseEnvelope", "%d trailing bytes after pl0-end", c.Remaining())
	}
	return nil
}

func (p *Parser) skipControlResponse(c *wire.Cursor) error {
	if err := c.Skip(microOpRespHeaderSize); err != nil {
		return errkind.Newf(errkind.ServerConnection, "rwresp.ParseEnvelope", "short control-op response: %v", err)
	}
	return nil
}

func (p *Parser) consumeOpResponse(c *wire.Cursor, op rwplan.PlannedOp) error {
	status, err := c.TakeU8()
	if err != nil {
		return errkind.Newf(errkind.ServerConnection, "rwresp.ParseEnvelope", "short micro-op response: %v", err)
	}
	if err := c.Skip(1); err != nil {
		return errkind.Newf(errkind.ServerConnection, "rwresp.ParseEnvelope", "short micro-op response: %v", err)
	}
	count, err := c.TakeU16()
	if err != nil {
		return errkind.Newf(errkind.ServerConnection, "rwresp.ParseEnvelope", "short micro-op response: %v", err)
	}

	var payload []byte
	if op.IsRead {
		payload, err = c.TakeBytes(int(count))
		if err != nil {
			return errkind.Newf(errkind.ServerConnection, "rwresp.ParseEnvelope", "short read payload: %v", err)
		}
	}

	tr := &p.plan.TxResponses[op.TxIndex]
	hasErr := tr.PLErr != rwplan.ErrProtocolSentinel && tr.PLErr != StatusNoError
	if hasErr {
		return nil
	}

	if status == StatusNoError {
		tr.PLErr = StatusNoError
		tr.NumBytesOK += uint32(count)
		if op.IsRead {
			tx := &p.txs[op.TxIndex]
			offset := int(op.Addr - tx.Addr)
			copy(tx.ReadBuf[offset:offset+len(payload)], payload)
		}
		return nil
	}

	tr.PLErr = status
	if !p.haveFirstErr {
		p.haveFirstErr = true
		p.firstErrTx = op.TxIndex
		p.firstErrAddr = op.Addr
		p.firstErrMap = op.AddrMap
		p.firstErrRead = op.IsRead
	}
	return nil
}

// FirstError returns the domain error for the first per-transaction data
// fault observed across every envelope parsed so far, or nil if every
// transaction completed with StatusNoError. The returned error's Kind is
// RWRead or RWWrite depending on the faulting micro-op's direction.
func (p *Parser) FirstError(op string) *errkind.Error {
	if !p.haveFirstErr {
		return nil
	}
	kind := errkind.RWRead
	if !p.firstErrRead {
		kind = errkind.RWWrite
	}
	status := p.plan.TxResponses[p.firstErrTx].PLErr
	return errkind.Newf(kind, op, "pl0 status 0x%02x", status).WithAddr(p.firstErrAddr, p.firstErrMap)
}
