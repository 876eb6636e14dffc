package pl1

import "github.com/plbridge/plclient/internal/errkind"

// ErrCode is a single-byte PL1-layer wire error code.
type ErrCode uint8

const (
	ErrNone           ErrCode = 0x08
	ErrParameter      ErrCode = 0x10
	ErrNotSupported   ErrCode = 0x12
	ErrUsage          ErrCode = 0x14
	ErrProtocol       ErrCode = 0x1E
	ErrCommandFailed  ErrCode = 0x20
	ErrServerLocked   ErrCode = 0x32
	ErrSessionMismatch ErrCode = 0x38
	ErrDeviceReset    ErrCode = 0x44
	ErrDeviceLocked   ErrCode = 0x46
	ErrDeviceAccess   ErrCode = 0x48
)

func (e ErrCode) String() string {
	switch e {
	case ErrNone:
		return "no-error"
	case ErrParameter:
		return "parameter"
	case ErrNotSupported:
		return "not-supported"
	case ErrUsage:
		return "usage"
	case ErrProtocol:
		return "protocol"
	case ErrCommandFailed:
		return "command-failed"
	case ErrServerLocked:
		return "server-locked"
	case ErrSessionMismatch:
		return "session"
	case ErrDeviceReset:
		return "device-reset"
	case ErrDeviceLocked:
		return "device-locked"
	case ErrDeviceAccess:
		return "device-access"
	default:
		return "unknown"
	}
}

// Kind translates a PL1 wire error code into a domain ErrorKind. Codes with
// no direct domain analogue (device-reset, which is absorbed rather than
// surfaced; unknown codes) map to General.
func (e ErrCode) Kind() errkind.ErrorKind {
	switch e {
	case ErrParameter:
		return errkind.Parameter
	case ErrNotSupported:
		return errkind.Parameter
	case ErrUsage:
		return errkind.Usage
	case ErrProtocol:
		return errkind.ServerConnection
	case ErrCommandFailed:
		return errkind.General
	case ErrServerLocked:
		return errkind.ServerLocked
	case ErrSessionMismatch:
		return errkind.ServerConnection
	case ErrDeviceLocked:
		return errkind.DeviceLocked
	case ErrDeviceAccess:
		return errkind.DeviceAccess
	default:
		return errkind.General
	}
}

// ValidSessionStartErr reports whether e is one of the four codes §4.3 rule
// 4 permits in a session-start/ping response: anything else is a protocol
// error regardless of what it superficially looks like.
func ValidSessionStartErr(e ErrCode) bool {
	switch e {
	case ErrNone, ErrSessionMismatch, ErrNotSupported, ErrCommandFailed:
		return true
	default:
		return false
	}
}
