package rwplan

import (
	"github.com/plbridge/plclient/internal/errkind"
	"github.com/plbridge/plclient/internal/pl0"
)

// envState tracks the device-side control state a fresh envelope starts
// with no assumptions about: access mode, address map, and the active
// base address window. Every envelope re-asserts whatever state its first
// ops need rather than inheriting it from the previous envelope, so an
// envelope's request bytes are replayable independent of delivery order.
type envState struct {
	accModeSet bool
	accMode    uint16

	addrMapSet bool
	addrMap    uint8

	baseSet bool
	base    uint64
}

// controlOpsFor returns the control micro-ops needed before emitting
// further ops for a transaction at addr with the given access mode and
// (already-rewritten) address map, updating s in place.
func (s *envState) controlOpsFor(addr uint64, accMode uint16, addrMap uint8) []pl0.MicroOp {
	var ops []pl0.MicroOp

	if !s.accModeSet || s.accMode != accMode {
		ops = append(ops, pl0.AccessMode(accMode))
		s.accModeSet = true
		s.accMode = accMode
	}
	if !s.addrMapSet || s.addrMap != addrMap {
		ops = append(ops, pl0.AddressMap(addrMap))
		s.addrMapSet = true
		s.addrMap = addrMap
	}
	if !s.baseSet || addr < s.base || addr-s.base > 0xFFFF {
		if addr > 0xFFFFFFFF {
			ops = append(ops, pl0.BaseAddr64(addr))
		} else {
			ops = append(ops, pl0.BaseAddr32(uint32(addr)))
		}
		s.baseSet = true
		s.base = addr
	}
	return ops
}

// loAddr returns the 16-bit offset of addr from the currently asserted
// base, which controlOpsFor guarantees is within [0, 0xFFFF].
func (s *envState) loAddr(addr uint64) uint16 {
	return uint16(addr - s.base)
}

func registerReadOp(size int) (pl0.Op, error) {
	switch size {
	case 1:
		return pl0.OpRd8, nil
	case 2:
		return pl0.OpRd16, nil
	case 4:
		return pl0.OpRd32, nil
	case 8:
		return pl0.OpRd64, nil
	default:
		return 0, errkind.Newf(errkind.Parameter, "rwplan.registerReadOp", "no register read op for size %d", size)
	}
}

func registerWriteOp(size int) (pl0.Op, error) {
	switch size {
	case 1:
		return pl0.OpWr8, nil
	case 2:
		return pl0.OpWr16, nil
	case 4:
		return pl0.OpWr32, nil
	case 8:
		return pl0.OpWr64, nil
	default:
		return 0, errkind.Newf(errkind.Parameter, "rwplan.registerWriteOp", "no register write op for size %d", size)
	}
}
