package serverconn

import (
	"github.com/plbridge/plclient/internal/conninfo"
	"github.com/plbridge/plclient/internal/errkind"
	"github.com/plbridge/plclient/internal/pl1"
	"github.com/plbridge/plclient/internal/wire"
)

// conInfoWireSize is the decoded ConInfo body length in bytes (§3), used by
// validateControlResponse's wl check for session-start and ping.
const conInfoWireSize = 132

const (
	targetIDWidth  = 64
	sessionIDWidth = 16
	userIDWidth    = 16
	passwordWidth  = 16
)

// SessionStart opens a named session on the target identified by
// targetIdentifier. sessionName/userName/password are each fixed-width
// zero-terminated ASCII fields per §6. §4.8: may be called only once per
// facade.
func (h *Handler) SessionStart(targetIdentifier, sessionName, userName, password string) (conninfo.ConInfo, error) {
	bodyLen := targetIDWidth + sessionIDWidth + userIDWidth + passwordWidth
	b := wire.NewBuilder(pl1.HeaderSize + bodyLen)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{
		WL:    pl1.BodyWordLen(bodyLen),
		Cmd:   pl1.CmdSessionStart,
		ConID: h.conID,
	})
	b.PutFixedASCII(targetIdentifier, targetIDWidth)
	b.PutFixedASCII(sessionName, sessionIDWidth)
	b.PutFixedASCII(userName, userIDWidth)
	b.PutFixedASCII(password, passwordWidth)

	rsp, err := h.execute(b.Bytes())
	if err != nil {
		return conninfo.ConInfo{}, err
	}
	info, err := h.decodeConInfoResponse("serverconn.SessionStart", rsp, pl1.CmdSessionStart)
	if err != nil {
		return conninfo.ConInfo{}, err
	}
	h.logger.Info().Str("identifier", info.Identifier).Msg("session-start")
	return info, nil
}

// Ping re-issues the session-start response decode against the ping
// command, per §9's resolved Open Question: the two share one wire shape
// but are kept as distinct decode entry points since one source variant
// branches on a device-side/client-side distinction that does not apply
// here.
func (h *Handler) Ping() (conninfo.ConInfo, error) {
	b := wire.NewBuilder(pl1.HeaderSize)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{Cmd: pl1.CmdPing, ConID: h.conID})

	rsp, err := h.execute(b.Bytes())
	if err != nil {
		return conninfo.ConInfo{}, err
	}
	return h.decodePingResponse(rsp)
}

func (h *Handler) decodeConInfoResponse(op string, raw []byte, wantCmd pl1.Command) (conninfo.ConInfo, error) {
	c := wire.NewCursor(raw)
	hdr, err := pl1.DecodeResponseHeader(c)
	if err != nil {
		return conninfo.ConInfo{}, errkind.Newf(errkind.ServerConnection, op, "short header: %v", err)
	}
	if err := validateControlResponse(op, raw, wantCmd, hdr, conInfoWireSize); err != nil {
		return conninfo.ConInfo{}, err
	}
	if err := errForCode(op, hdr.Err); err != nil {
		return conninfo.ConInfo{}, err
	}
	info, err := conInfoFromWire(c)
	if err != nil {
		return conninfo.ConInfo{}, errkind.Newf(errkind.ServerConnection, op, "%v", err)
	}
	if err := conninfo.Validate(info); err != nil {
		return conninfo.ConInfo{}, err
	}
	return info, nil
}

// decodePingResponse is kept distinct from decodeConInfoResponse's
// SessionStart call site per §9, even though both currently share the same
// body shape and validation helpers.
func (h *Handler) decodePingResponse(raw []byte) (conninfo.ConInfo, error) {
	return h.decodeConInfoResponse("serverconn.Ping", raw, pl1.CmdPing)
}

// DeviceConnect requests the device be attached with the given option mask
// (conninfo.Feat* bits) and returns which features the server actually
// applied. A partial application (result missing a requested bit) is
// surfaced as a parameter error naming the refused feature.
func (h *Handler) DeviceConnect(options uint32) (featUsed uint32, err error) {
	b := wire.NewBuilder(pl1.HeaderSize + 4)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{
		WL:    pl1.BodyWordLen(4),
		Cmd:   pl1.CmdDeviceConnect,
		ConID: h.conID,
	})
	b.PutU32(options)

	rsp, err := h.execute(b.Bytes())
	if err != nil {
		return 0, err
	}
	c := wire.NewCursor(rsp)
	hdr, err := pl1.DecodeResponseHeader(c)
	if err != nil {
		return 0, errkind.Newf(errkind.ServerConnection, "serverconn.DeviceConnect", "short header: %v", err)
	}
	if err := validateControlResponse("serverconn.DeviceConnect", rsp, pl1.CmdDeviceConnect, hdr, 4); err != nil {
		return 0, err
	}
	if err := errForCode("serverconn.DeviceConnect", hdr.Err); err != nil {
		return 0, err
	}
	featUsed, err = c.TakeU32()
	if err != nil {
		return 0, errkind.Newf(errkind.ServerConnection, "serverconn.DeviceConnect", "short feat_used: %v", err)
	}
	if featUsed&options != options {
		refused := options &^ featUsed
		return featUsed, errkind.Newf(errkind.Parameter, "serverconn.DeviceConnect", "device refused feature bits 0x%x", refused)
	}
	h.logger.Info().Uint32("feat_used", featUsed).Msg("device-connect")
	return featUsed, nil
}

// DeviceResetCount polls the server's device-reset counter directly,
// independent of the reset counting the RW/channel/trace handlers already
// do by observing TAS_PL1_ERR_DEV_RESET in-band.
func (h *Handler) DeviceResetCount() (uint32, error) {
	b := wire.NewBuilder(pl1.HeaderSize)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{Cmd: pl1.CmdDeviceResetCount, ConID: h.conID})

	rsp, err := h.execute(b.Bytes())
	if err != nil {
		return 0, err
	}
	c := wire.NewCursor(rsp)
	hdr, err := pl1.DecodeResponseHeader(c)
	if err != nil {
		return 0, errkind.Newf(errkind.ServerConnection, "serverconn.DeviceResetCount", "short header: %v", err)
	}
	if err := validateControlResponse("serverconn.DeviceResetCount", rsp, pl1.CmdDeviceResetCount, hdr, 4); err != nil {
		return 0, err
	}
	if err := errForCode("serverconn.DeviceResetCount", hdr.Err); err != nil {
		return 0, err
	}
	count, err := c.TakeU32()
	if err != nil {
		return 0, errkind.Newf(errkind.ServerConnection, "serverconn.DeviceResetCount", "short count: %v", err)
	}
	return count, nil
}
