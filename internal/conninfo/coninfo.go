// Package conninfo owns the negotiated session parameters a client binds
// at session-start/ping and the device-id hash derivation used to render a
// short human-facing identifier for them.
//
// Ownership boundary:
// - the ConInfo value type and its feature/transport bitmask constants
// - §4.3's session-start/ping response validation rules
// - device-id -> 6-character hash string derivation
package conninfo

// Feature bits for DevConFeat: what the device/server pair supports for
// device-connect's option mask.
const (
	FeatReset           uint32 = 1 << 0
	FeatResetAndHalt    uint32 = 1 << 1
	FeatUnlock          uint32 = 1 << 2
	FeatUnlockChallenge uint32 = 1 << 3
	FeatUnknownAttach   uint32 = 1 << 4
	FeatUnknownReset    uint32 = 1 << 5
)

// Transport class bits for DevConPhys.
const (
	PhysJTAG     uint32 = 1 << 0
	PhysDAP      uint32 = 1 << 1
	PhysDAPv2    uint32 = 1 << 2
	PhysSWD      uint32 = 1 << 3
	PhysEthernet uint32 = 1 << 4
)

// ConInfo is the full set of parameters a client facade binds once at
// session-start and holds immutable for the session's lifetime.
type ConInfo struct {
	MaxReqPL2Size uint32
	MaxRspPL2Size uint32

	DeviceType      uint32
	DeviceID        [16]byte
	DeviceIDHash    uint32
	DeviceIDHashStr string

	IPv4Addr uint32

	DevConFeat uint32
	DevConPhys uint32

	PL0MaxNumRW    uint16
	PL0RWModeMask  uint32
	PL0AddrMapMask uint32

	MsgLengthC2D uint32
	MsgLengthD2C uint32
	MsgNumC2D    uint32
	MsgNumD2C    uint32

	Identifier string
}

// HasFeature reports whether bit is set in DevConFeat.
func (c ConInfo) HasFeature(bit uint32) bool { return c.DevConFeat&bit != 0 }

// HasPhys reports whether bit is set in DevConPhys.
func (c ConInfo) HasPhys(bit uint32) bool { return c.DevConPhys&bit != 0 }

// NoDevice reports whether DeviceType indicates no device is attached.
func (c ConInfo) NoDevice() bool { return c.DeviceType == 0 }
