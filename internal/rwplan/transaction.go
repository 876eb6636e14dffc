// Package rwplan packs a caller's Read/Write/Fill transactions into a
// sequence of PL0 micro-ops, wrapped one pl0-start/pl0-end pair per PL2
// envelope, subject to the per-envelope count/byte budgets and address-map
// mixing rules negotiated in ConInfo.
//
// Ownership boundary:
// - Transaction/TransactionResponse value types
// - the envelope packing algorithm (§4.4): unaligned prefix/suffix
//   decomposition, block capping, address-map/base-address aliasing,
//   envelope splitting
package rwplan

import "github.com/plbridge/plclient/internal/errkind"

// Kind distinguishes the three transaction shapes the planner accepts.
type Kind uint8

const (
	Read Kind = iota
	Write
	Fill
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	case Fill:
		return "fill"
	default:
		return "unknown"
	}
}

// AliasAddrMap132 is the one address map value that is rewritten before
// emission: 132 -> 15.
const AliasAddrMap132 = 132

// RewriteAddrMap applies the 132->15 aliasing rule and rejects any map
// above 15 once aliased.
func RewriteAddrMap(m uint8) (uint8, error) {
	if m == AliasAddrMap132 {
		return 15, nil
	}
	if m > 15 {
		return 0, errkind.Newf(errkind.Parameter, "rwplan.RewriteAddrMap", "address map %d is invalid", m)
	}
	return m, nil
}

// Transaction is one user-supplied read/write/fill request.
type Transaction struct {
	Addr     uint64
	NumBytes uint32
	AccMode  uint16
	AddrMap  uint8
	Kind     Kind

	// ReadBuf receives Read results; must be at least NumBytes long.
	ReadBuf []byte
	// WriteData is the source for Write; must be exactly NumBytes long.
	WriteData []byte
	// FillValue is the 64-bit pattern repeated across NumBytes for Fill.
	FillValue uint64
}

// ErrProtocolSentinel is TransactionResponse's initial PLErr value,
// meaning "no response observed yet" (§3).
const ErrProtocolSentinel = 0xFF

// NoErrorCode is the PL0 success code (§4.2: PL0 codes occupy 0x80-0x9F).
const NoErrorCode = 0x80

// TransactionResponse is the per-transaction result the parser aggregates
// into, one per caller-supplied Transaction in the same order.
type TransactionResponse struct {
	NumBytesOK uint32
	PLErr      uint8
}

// NewTransactionResponses returns n responses, each initialised to the
// "no response observed yet" sentinel.
func NewTransactionResponses(n int) []TransactionResponse {
	out := make([]TransactionResponse, n)
	for i := range out {
		out[i].PLErr = ErrProtocolSentinel
	}
	return out
}
