package rwplan

import (
	"github.com/plbridge/plclient/internal/pl0"
	"github.com/plbridge/plclient/internal/pl1"
	"github.com/plbridge/plclient/internal/wire"
)

// pl0StartBodySize and pl0EndBodySize are the fixed 4-byte bodies carried
// by the pl0-start/pl0-end PL1 requests that bracket one envelope's
// micro-op stream: pl1_cnt plus either the address-map mask or 2 bytes of
// alignment padding.
const (
	pl0StartBodySize = 4
	pl0EndBodySize   = 4
)

// PlannedOp associates one emitted memory-access micro-op with the user
// transaction it was decomposed from, so the parser can re-bind the
// device's per-micro-op result back to the transaction that asked for it.
type PlannedOp struct {
	TxIndex int
	Op      pl0.MicroOp
	Addr    uint64
	AddrMap uint8
	IsRead  bool
	// ControlOps are any access-mode/address-map/base-address assertions
	// the planner emitted immediately ahead of Op to establish the device
	// state Op depends on. They carry no num_bytes_ok contribution of
	// their own and are not separately tracked by TxIndex.
	ControlOps []pl0.MicroOp
}

// Envelope is one pl0-start/micro-ops/pl0-end unit, ready to be wrapped in
// a single PL2 length-prefixed packet.
type Envelope struct {
	PL1Cnt      uint16
	AddrMapMask uint32
	Ops         []PlannedOp
	// ConID, once set by the transport layer that owns the session, is
	// stamped into both the pl0-start and pl0-end headers.
	ConID uint8
}

// Encode renders e as the raw PL1 payload (pl0-start header+body, the
// micro-op stream, pl0-end header+body) a caller wraps in one PL2 length
// prefix before writing it to the wire.
func (e Envelope) Encode() ([]byte, error) {
	opsSize := 0
	for _, po := range e.Ops {
		for _, c := range po.ControlOps {
			opsSize += pl0.HeaderSize + len(c.Payload)
		}
		opsSize += pl0.HeaderSize + len(po.Op.Payload)
	}

	b := wire.NewBuilder(pl1.HeaderSize + pl0StartBodySize + opsSize + pl1.HeaderSize + pl0EndBodySize)

	pl1.EncodeRequestHeader(b, pl1.RequestHeader{
		WL:    pl1.BodyWordLen(pl0StartBodySize),
		Cmd:   pl1.CmdPL0Start,
		ConID: e.ConID,
	})
	b.PutU16(e.PL1Cnt)
	b.PutU16(uint16(e.AddrMapMask))

	for _, po := range e.Ops {
		for _, c := range po.ControlOps {
			if err := c.Encode(b); err != nil {
				return nil, err
			}
		}
		if err := po.Op.Encode(b); err != nil {
			return nil, err
		}
	}

	pl1.EncodeRequestHeader(b, pl1.RequestHeader{
		WL:    pl1.BodyWordLen(pl0EndBodySize),
		Cmd:   pl1.CmdPL0End,
		ConID: e.ConID,
	})
	b.PutU16(e.PL1Cnt)
	b.PutZeroes(2)

	return b.Bytes(), nil
}

// Plan is the complete output of packing a batch of transactions: one or
// more envelopes plus the flat, envelope-ordered list of planned ops the
// parser walks in lockstep with the device's responses.
type Plan struct {
	Envelopes []Envelope
	// TxResponses is pre-sized to len(transactions), ready for the parser
	// to fill in place.
	TxResponses []TransactionResponse

	// RequestBytes and ResponseBytes are the total PL2-framed byte counts
	// (length word included) across every envelope; PL2Count is
	// len(Envelopes). Together these are the §4.4 contract's
	// (request_bytes, predicted_response_bytes, pl2_count) triple.
	RequestBytes  int
	ResponseBytes int
	PL2Count      int
}
