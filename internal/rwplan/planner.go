package rwplan

import (
	"github.com/plbridge/plclient/internal/conninfo"
	"github.com/plbridge/plclient/internal/errkind"
	"github.com/plbridge/plclient/internal/pl0"
	"github.com/plbridge/plclient/internal/pl1"
	"github.com/plbridge/plclient/internal/pl2"
)

// sharedMapCeiling is the first exclusive address map (§4.4): maps below it
// may be freely mixed within one envelope, maps at or above it must be the
// sole map in their envelope.
const sharedMapCeiling = 12

// Planner packs successive Transaction batches into Plans, keeping the
// 16-bit pl1_cnt sequence counter alive across calls so envelopes from
// different ExecuteTrans calls on the same client object never collide
// (§4.4's envelope book-keeping).
type Planner struct {
	pl1Cnt  uint16
	conID   uint8
	maxNum  uint16
	maxReq  uint32
	maxRsp  uint32
	addrMap uint32
}

// NewPlanner returns a Planner bound to the limits negotiated in info.
// conID is stamped into every pl0-start/pl0-end header this planner emits.
func NewPlanner(info conninfo.ConInfo, conID uint8) *Planner {
	return &Planner{
		conID:   conID,
		maxNum:  info.PL0MaxNumRW,
		maxReq:  info.MaxReqPL2Size,
		maxRsp:  info.MaxRspPL2Size,
		addrMap: info.PL0AddrMapMask,
	}
}

// builder accumulates one in-progress envelope plus the running byte
// budgets that decide when it must be closed and a fresh one opened.
type builder struct {
	ops      []PlannedOp
	state    envState
	addrMaps map[uint8]bool
	reqBytes int // running PL1 payload size if this envelope closed now
	rspBytes int
}

func newBuilder() *builder {
	// Both sides of every envelope carry a pl0-start and a pl0-end.
	overhead := 2 * (pl1.HeaderSize + 4)
	return &builder{addrMaps: make(map[uint8]bool), reqBytes: overhead, rspBytes: overhead}
}

func (b *builder) reqRoom(maxReq uint32) int {
	return int(maxReq) - pl2.LengthSize - b.reqBytes
}

func (b *builder) rspRoom(maxRsp uint32) int {
	return int(maxRsp) - pl2.LengthSize - b.rspBytes
}

// canAcceptMap reports whether addrMap may join this envelope's existing
// map set under §4.4's sharing rule.
func (b *builder) canAcceptMap(addrMap uint8) bool {
	if len(b.addrMaps) == 0 {
		return true
	}
	if addrMap >= sharedMapCeiling {
		// Exclusive map: only legal alone.
		return false
	}
	for m := range b.addrMaps {
		if m >= sharedMapCeiling {
			return false
		}
	}
	return true
}

// Plan packs txs into one or more envelopes. Each Transaction is validated
// (address-map rewrite/range, fill alignment) before any request bytes are
// built; a validation failure aborts with a parameter error and sends
// nothing (§4.5 Failure semantics).
func (p *Planner) Plan(txs []Transaction) (*Plan, error) {
	plan := &Plan{TxResponses: NewTransactionResponses(len(txs))}

	norm := make([]Transaction, len(txs))
	for i, tx := range txs {
		nm, err := RewriteAddrMap(tx.AddrMap)
		if err != nil {
			return nil, err
		}
		if tx.Kind == Fill {
			if tx.NumBytes == 0 || tx.NumBytes%8 != 0 {
				return nil, errkind.Newf(errkind.Parameter, "rwplan.Plan", "fill length %d not a non-zero multiple of 8", tx.NumBytes)
			}
			if tx.Addr%8 != 0 {
				return nil, errkind.Newf(errkind.Parameter, "rwplan.Plan", "fill address 0x%x not 8-byte aligned", tx.Addr)
			}
		}
		if tx.Kind == Read && len(tx.ReadBuf) < int(tx.NumBytes) {
			return nil, errkind.Newf(errkind.Parameter, "rwplan.Plan", "read buffer too small: have %d, need %d", len(tx.ReadBuf), tx.NumBytes)
		}
		if tx.Kind == Write && len(tx.WriteData) != int(tx.NumBytes) {
			return nil, errkind.Newf(errkind.Parameter, "rwplan.Plan", "write data length %d != num_bytes %d", len(tx.WriteData), tx.NumBytes)
		}
		tx.AddrMap = nm
		norm[i] = tx
	}

	cur := newBuilder()
	flush := func() {
		if len(cur.ops) == 0 {
			return
		}
		mask := uint32(0)
		for m := range cur.addrMaps {
			mask |= 1 << m
		}
		env := Envelope{PL1Cnt: p.pl1Cnt, AddrMapMask: mask, Ops: cur.ops, ConID: p.conID}
		p.pl1Cnt++
		plan.Envelopes = append(plan.Envelopes, env)
		cur = newBuilder()
	}

	for txIdx, tx := range norm {
		if err := p.planOne(txIdx, tx, &cur, flush); err != nil {
			return nil, err
		}
	}
	flush()

	for _, env := range plan.Envelopes {
		reqLen, rspLen := envelopeSizes(env)
		plan.RequestBytes += reqLen
		plan.ResponseBytes += rspLen
	}
	plan.PL2Count = len(plan.Envelopes)
	return plan, nil
}

// envelopeSizes returns the PL2 packet size (length word included) for an
// envelope's request, and the predicted PL2 packet size for its response.
func envelopeSizes(env Envelope) (reqLen, rspLen int) {
	reqLen = pl2.LengthSize + pl1.HeaderSize + 4 // pl0-start
	rspLen = reqLen
	for _, op := range env.Ops {
		for _, c := range op.ControlOps {
			reqLen += pl0.HeaderSize + len(c.Payload)
			rspLen += pl0.HeaderSize
		}
		reqLen += pl0.HeaderSize + len(op.Op.Payload)
		rspLen += pl0.HeaderSize
		if op.IsRead {
			// Reads carry no request payload; the response carries the
			// register width, or the WL-encoded byte count for a block.
			n := pl0.RegisterOpSize(op.Op.Op)
			if n == 0 {
				n = pl0.PayloadLen(op.Op.Op, op.Op.WL)
			}
			rspLen += n
		}
	}
	reqLen += pl1.HeaderSize + 4 // pl0-end
	rspLen += pl1.HeaderSize + 4
	return reqLen, rspLen
}

// planOne decomposes one transaction into micro-ops, flushing the current
// envelope and opening a new one whenever the count or byte budget, or the
// address-map mixing rule, would be exceeded.
func (p *Planner) planOne(txIdx int, tx Transaction, cur **builder, flush func()) error {
	shapes := decomposeRange(tx.Addr, tx.NumBytes)
	if tx.Kind == Fill {
		shapes = shapes[:0]
		remaining := int(tx.NumBytes)
		offset := 0
		for remaining > 0 {
			chunk := remaining
			if chunk > maxBlockChunk {
				chunk = maxBlockChunk
			}
			shapes = append(shapes, opShape{Offset: offset, Size: chunk, Block: true})
			offset += chunk
			remaining -= chunk
		}
	}

	for _, shape := range shapes {
		remainingShape := shape
		for remainingShape.Size > 0 {
			b := *cur
			if len(b.ops) >= int(p.maxNum) || !b.canAcceptMap(tx.AddrMap) {
				flush()
				b = *cur
			}
			countRoom := int(p.maxNum) - len(b.ops)
			if countRoom <= 0 {
				flush()
				b = *cur
				countRoom = int(p.maxNum)
			}

			addr := tx.Addr + uint64(remainingShape.Offset)
			chunk := remainingShape
			if chunk.Block && tx.Kind != Fill {
				// Cap by remaining packet room on both sides of the wire,
				// leaving room for the control ops this chunk may still need.
				// Fill is exempt: its wire cost is the fixed 12-byte body
				// below, not O(extent), so the extent is bounded only by
				// the per-op 1024-byte (256-word) wlwr limit already
				// applied when this shape was chunked.
				reqRoom := b.reqRoom(p.maxReq) - controlOpsWorstCase(addr)
				rspRoom := b.rspRoom(p.maxRsp)
				limit := chunk.Size
				if tx.Kind == Read && rspRoom < limit {
					limit = rspRoom
				}
				if tx.Kind != Read && reqRoom < limit {
					limit = reqRoom
				}
				limit -= limit % 8
				if limit < 8 {
					flush()
					continue
				}
				if limit < chunk.Size {
					chunk.Size = limit
				}
			}

			op, err := p.emitOp(&b.state, tx, addr, chunk, txIdx)
			if err != nil {
				return err
			}
			opSize := pl0.HeaderSize + len(op.Op.Payload)
			needRsp := pl0.HeaderSize
			for _, c := range op.ControlOps {
				opSize += pl0.HeaderSize + len(c.Payload)
				needRsp += pl0.HeaderSize
			}
			if op.IsRead {
				n := pl0.RegisterOpSize(op.Op.Op)
				if n == 0 {
					n = pl0.PayloadLen(op.Op.Op, op.Op.WL)
				}
				needRsp += n
			}
			if b.reqRoom(p.maxReq) < opSize || b.rspRoom(p.maxRsp) < needRsp {
				flush()
				continue
			}

			b.ops = append(b.ops, op)
			b.addrMaps[tx.AddrMap] = true
			b.reqBytes += opSize
			b.rspBytes += needRsp
			*cur = b

			remainingShape.Size -= chunk.Size
			remainingShape.Offset += chunk.Size
		}
	}
	return nil
}

// controlOpsWorstCase bounds the bytes a fresh access-mode+address-map+
// base-address assertion could add ahead of the next op, used to decide
// whether a block chunk still fits comfortably before committing to a size.
func controlOpsWorstCase(addr uint64) int {
	base := pl0.HeaderSize + 2 // access-mode
	base += pl0.HeaderSize     // address-map
	if addr > 0xFFFFFFFF {
		base += pl0.HeaderSize + 8 // base-addr64
	} else {
		base += pl0.HeaderSize + 4 // base-addr32
	}
	return base
}

func (p *Planner) emitOp(state *envState, tx Transaction, addr uint64, shape opShape, txIdx int) (PlannedOp, error) {
	controlOps := state.controlOpsFor(addr, tx.AccMode, tx.AddrMap)
	lo := state.loAddr(addr)

	var op pl0.MicroOp
	var err error
	isRead := tx.Kind == Read

	switch {
	case tx.Kind == Fill:
		var pattern [8]byte
		putU64(pattern[:], tx.FillValue)
		op, err = pl0.Fill(lo, pattern, shape.Size)
	case shape.Block && tx.Kind == Read:
		op, err = pl0.ReadBlock(lo, shape.Size)
	case shape.Block && tx.Kind == Write:
		op, err = pl0.WriteBlock(lo, tx.WriteData[shape.Offset:shape.Offset+shape.Size])
	case tx.Kind == Read:
		regOp, rerr := registerReadOp(shape.Size)
		if rerr != nil {
			return PlannedOp{}, rerr
		}
		op, err = pl0.Read(regOp, lo)
	case tx.Kind == Write:
		regOp, rerr := registerWriteOp(shape.Size)
		if rerr != nil {
			return PlannedOp{}, rerr
		}
		op, err = pl0.Write(regOp, lo, tx.WriteData[shape.Offset:shape.Offset+shape.Size])
	default:
		return PlannedOp{}, errkind.Newf(errkind.Parameter, "rwplan.emitOp", "unhandled transaction kind %s", tx.Kind)
	}
	if err != nil {
		return PlannedOp{}, err
	}

	planned := PlannedOp{TxIndex: txIdx, Op: op, Addr: addr, AddrMap: tx.AddrMap, IsRead: isRead}
	_ = controlOps // control ops are prepended by the caller via returned list below
	return prependControlOps(planned, controlOps), nil
}

// prependControlOps folds any control micro-ops ahead of the memory-access
// op into the envelope's op stream, tagged to the same transaction index so
// the parser's per-transaction accounting skips them (they carry no
// num_bytes_ok contribution).
func prependControlOps(op PlannedOp, controlOps []pl0.MicroOp) PlannedOp {
	if len(controlOps) == 0 {
		return op
	}
	op.ControlOps = controlOps
	return op
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
