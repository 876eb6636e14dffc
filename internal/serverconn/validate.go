package serverconn

import (
	"github.com/plbridge/plclient/internal/errkind"
	"github.com/plbridge/plclient/internal/pl1"
)

// validateControlResponse implements §4.3 rules 1-4, shared by every
// control-plane decode: outer size, command match, wl consistency, and a
// whitelist of acceptable error codes. bodyLen is the PL1 body length in
// bytes (excluding the 4-byte PL1 header).
func validateControlResponse(op string, raw []byte, wantCmd pl1.Command, hdr pl1.ResponseHeader, bodyLen int) error {
	if len(raw) != pl1.HeaderSize+bodyLen {
		return errkind.Newf(errkind.ServerConnection, op, "outer size %d != header+body %d", len(raw), pl1.HeaderSize+bodyLen)
	}
	if hdr.Cmd != wantCmd {
		return errkind.Newf(errkind.ServerConnection, op, "command mismatch: want %s, got %s", wantCmd, hdr.Cmd)
	}
	if int(hdr.WL) != bodyLen/4 {
		return errkind.Newf(errkind.ServerConnection, op, "wl mismatch: got %d, want %d", hdr.WL, bodyLen/4)
	}
	if !pl1.ValidSessionStartErr(hdr.Err) {
		return errkind.Newf(errkind.ServerConnection, op, "unexpected error code %s", hdr.Err)
	}
	return nil
}

// errForCode translates a non-success control response error code into a
// domain error, for the codes validateControlResponse permits through.
func errForCode(op string, code pl1.ErrCode) error {
	if code == pl1.ErrNone {
		return nil
	}
	return errkind.New(code.Kind(), op, code.String())
}
