// Package serverconn owns the server-facing control-plane operations every
// client facade needs before it can issue RW/channel/trace traffic:
// connect, unlock, target/client enumeration, session-start, device-connect,
// the device key/challenge exchange, and reset-count polling.
//
// Ownership boundary:
// - one encode/decode function pair per PL1 control command
// - the session-start/ping response validation rules (§4.3's numbered list)
// - paged target/client list stitching
package serverconn

import (
	"github.com/rs/zerolog"

	"github.com/plbridge/plclient/internal/conninfo"
	"github.com/plbridge/plclient/internal/errkind"
	"github.com/plbridge/plclient/internal/mailbox"
	"github.com/plbridge/plclient/internal/pl1"
	"github.com/plbridge/plclient/internal/telemetry/metrics"
	"github.com/plbridge/plclient/internal/wire"
)

// ScratchSize is the fixed buffer every control-plane request fits within.
const ScratchSize = 1024

// ProtocolVersion is this implementation's hard-coded protocol version; the
// peer's [min, max] range must contain it (§6).
const ProtocolVersion = 1

// Handler plays the role control.go's Registration/RegistrationAck pair and
// command_report_wire.go's per-command Encode/Decode functions play in the
// teacher: one shared mailbox, one encode/decode pair per command, each
// validating shape before touching the wire.
type Handler struct {
	mb            *mailbox.Mailbox
	conID         uint8
	logger        zerolog.Logger
	lastChallenge *[challengeSize]byte
}

// New constructs a Handler over mb. logger defaults to a disabled logger
// when the zero value is passed.
func New(mb *mailbox.Mailbox, logger zerolog.Logger) *Handler {
	return &Handler{mb: mb, logger: logger}
}

// ConID returns the connection id the server assigned at server-connect,
// echoed on every subsequent PL1 request.
func (h *Handler) ConID() uint8 { return h.conID }

func (h *Handler) execute(req []byte) ([]byte, error) {
	metrics.RecordPL2Sent("serverconn", len(req))
	rsp, err := h.mb.Execute(req)
	if err != nil {
		metrics.RecordError("serverconn", errkind.ServerConnection)
		return nil, errkind.Newf(errkind.ServerConnection, "serverconn.execute", "%v", err)
	}
	metrics.RecordPL2Received("serverconn", len(rsp))
	return rsp, nil
}

// ServerInfo is the 128-byte identity blob the server returns at connect.
type ServerInfo struct {
	Name                   string
	VersionMajor           uint8
	VersionMinor           uint8
	ProtocolVersionMin     uint8
	ProtocolVersionMax     uint8
	SupportedProtocolMask  uint32
	SupportedChannelTarget uint32
	SupportedTraceType     uint32
	StartTimeMicros        uint64
	BuildDate              string
}

const (
	serverNameWidth      = 64
	serverBuildDateWidth = 40
	serverInfoWireSize   = serverNameWidth + 4 + 12 + 8 + serverBuildDateWidth // == 128
	challengeSize        = 8
)

// Connect issues server-connect, identifying this client by clientName
// (truncated/padded to 32 bytes on the wire), and returns the server's
// identity blob and initial challenge.
func (h *Handler) Connect(clientName string) (ServerInfo, [challengeSize]byte, error) {
	b := wire.NewBuilder(pl1.HeaderSize + 32)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{
		WL:  pl1.BodyWordLen(32),
		Cmd: pl1.CmdServerConnect,
	})
	b.PutFixedASCII(clientName, 32)

	rsp, err := h.execute(b.Bytes())
	if err != nil {
		return ServerInfo{}, [challengeSize]byte{}, err
	}

	c := wire.NewCursor(rsp)
	hdr, err := pl1.DecodeResponseHeader(c)
	if err != nil {
		return ServerInfo{}, [challengeSize]byte{}, errkind.Newf(errkind.ServerConnection, "serverconn.Connect", "short response header: %v", err)
	}
	if hdr.Cmd != pl1.CmdServerConnect {
		return ServerInfo{}, [challengeSize]byte{}, errkind.Newf(errkind.ServerConnection, "serverconn.Connect", "command mismatch: got %s", hdr.Cmd)
	}
	if hdr.Err != pl1.ErrNone {
		return ServerInfo{}, [challengeSize]byte{}, errkind.New(hdr.Err.Kind(), "serverconn.Connect", hdr.Err.String())
	}
	h.conID = hdr.ConID

	info, err := decodeServerInfo(c)
	if err != nil {
		return ServerInfo{}, [challengeSize]byte{}, err
	}
	if info.ProtocolVersionMin > ProtocolVersion || ProtocolVersion > info.ProtocolVersionMax {
		return ServerInfo{}, [challengeSize]byte{}, errkind.Newf(errkind.ServerConnection, "serverconn.Connect",
			"protocol version %d not in peer range [%d,%d]", ProtocolVersion, info.ProtocolVersionMin, info.ProtocolVersionMax)
	}

	var challenge [challengeSize]byte
	raw, err := c.TakeBytes(challengeSize)
	if err != nil {
		return ServerInfo{}, [challengeSize]byte{}, errkind.Newf(errkind.ServerConnection, "serverconn.Connect", "short challenge: %v", err)
	}
	copy(challenge[:], raw)

	h.logger.Info().Str("server", info.Name).Uint8("con_id", h.conID).Msg("server-connect")
	return info, challenge, nil
}

func decodeServerInfo(c *wire.Cursor) (ServerInfo, error) {
	name, err := c.TakeFixedASCII(serverNameWidth)
	if err != nil {
		return ServerInfo{}, errkind.Newf(errkind.ServerConnection, "serverconn.decodeServerInfo", "%v", err)
	}
	verMajor, err := c.TakeU8()
	if err != nil {
		return ServerInfo{}, errkind.Newf(errkind.ServerConnection, "serverconn.decodeServerInfo", "%v", err)
	}
	verMinor, err := c.TakeU8()
	if err != nil {
		return ServerInfo{}, errkind.Newf(errkind.ServerConnection, "serverconn.decodeServerInfo", "%v", err)
	}
	protoMin, err := c.TakeU8()
	if err != nil {
		return ServerInfo{}, errkind.Newf(errkind.ServerConnection, "serverconn.decodeServerInfo", "%v", err)
	}
	protoMax, err := c.TakeU8()
	if err != nil {
		return ServerInfo{}, errkind.Newf(errkind.ServerConnection, "serverconn.decodeServerInfo", "%v", err)
	}
	protoMask, err := c.TakeU32()
	if err != nil {
		return ServerInfo{}, errkind.Newf(errkind.ServerConnection, "serverconn.decodeServerInfo", "%v", err)
	}
	chanMask, err := c.TakeU32()
	if err != nil {
		return ServerInfo{}, errkind.Newf(errkind.ServerConnection, "serverconn.decodeServerInfo", "%v", err)
	}
	traceMask, err := c.TakeU32()
	if err != nil {
		return ServerInfo{}, errkind.Newf(errkind.ServerConnection, "serverconn.decodeServerInfo", "%v", err)
	}
	startTime, err := c.TakeU64()
	if err != nil {
		return ServerInfo{}, errkind.Newf(errkind.ServerConnection, "serverconn.decodeServerInfo", "%v", err)
	}
	buildDate, err := c.TakeFixedASCII(serverBuildDateWidth)
	if err != nil {
		return ServerInfo{}, errkind.Newf(errkind.ServerConnection, "serverconn.decodeServerInfo", "%v", err)
	}
	return ServerInfo{
		Name:                   name,
		VersionMajor:           verMajor,
		VersionMinor:           verMinor,
		ProtocolVersionMin:     protoMin,
		ProtocolVersionMax:     protoMax,
		SupportedProtocolMask:  protoMask,
		SupportedChannelTarget: chanMask,
		SupportedTraceType:     traceMask,
		StartTimeMicros:        startTime,
		BuildDate:              buildDate,
	}, nil
}

// Unlock sends the server a session password/token to lift the server-
// locked state. It is a distinct request/response pair from
// get-challenge/set-device-key (§9 Open Questions).
func (h *Handler) Unlock(password string) error {
	b := wire.NewBuilder(pl1.HeaderSize + 16)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{
		WL:    pl1.BodyWordLen(16),
		Cmd:   pl1.CmdServerUnlock,
		ConID: h.conID,
	})
	b.PutFixedASCII(password, 16)

	rsp, err := h.execute(b.Bytes())
	if err != nil {
		return err
	}
	c := wire.NewCursor(rsp)
	hdr, err := pl1.DecodeResponseHeader(c)
	if err != nil {
		return errkind.Newf(errkind.ServerConnection, "serverconn.Unlock", "short response: %v", err)
	}
	if hdr.Cmd != pl1.CmdServerUnlock {
		return errkind.Newf(errkind.ServerConnection, "serverconn.Unlock", "command mismatch: got %s", hdr.Cmd)
	}
	if hdr.Err != pl1.ErrNone {
		return errkind.New(hdr.Err.Kind(), "serverconn.Unlock", hdr.Err.String())
	}
	return nil
}

// conInfoFromWire is shared by session-start and ping decoding.
func conInfoFromWire(c *wire.Cursor) (conninfo.ConInfo, error) {
	maxReq, err := c.TakeU32()
	if err != nil {
		return conninfo.ConInfo{}, err
	}
	maxRsp, err := c.TakeU32()
	if err != nil {
		return conninfo.ConInfo{}, err
	}
	deviceType, err := c.TakeU32()
	if err != nil {
		return conninfo.ConInfo{}, err
	}
	idBytes, err := c.TakeBytes(16)
	if err != nil {
		return conninfo.ConInfo{}, err
	}
	ipv4, err := c.TakeU32()
	if err != nil {
		return conninfo.ConInfo{}, err
	}
	feat, err := c.TakeU32()
	if err != nil {
		return conninfo.ConInfo{}, err
	}
	phys, err := c.TakeU32()
	if err != nil {
		return conninfo.ConInfo{}, err
	}
	pl0MaxRW, err := c.TakeU16()
	if err != nil {
		return conninfo.ConInfo{}, err
	}
	if err := c.Skip(2); err != nil { // alignment padding
		return conninfo.ConInfo{}, err
	}
	rwModeMask, err := c.TakeU32()
	if err != nil {
		return conninfo.ConInfo{}, err
	}
	addrMapMask, err := c.TakeU32()
	if err != nil {
		return conninfo.ConInfo{}, err
	}
	msgLenC2D, err := c.TakeU32()
	if err != nil {
		return conninfo.ConInfo{}, err
	}
	msgLenD2C, err := c.TakeU32()
	if err != nil {
		return conninfo.ConInfo{}, err
	}
	msgNumC2D, err := c.TakeU32()
	if err != nil {
		return conninfo.ConInfo{}, err
	}
	msgNumD2C, err := c.TakeU32()
	if err != nil {
		return conninfo.ConInfo{}, err
	}
	identifier, err := c.TakeFixedASCII(64)
	if err != nil {
		return conninfo.ConInfo{}, err
	}

	var id [16]byte
	copy(id[:], idBytes)

	info := conninfo.ConInfo{
		MaxReqPL2Size:  maxReq,
		MaxRspPL2Size:  maxRsp,
		DeviceType:     deviceType,
		DeviceID:       id,
		IPv4Addr:       ipv4,
		DevConFeat:     feat,
		DevConPhys:     phys,
		PL0MaxNumRW:    pl0MaxRW,
		PL0RWModeMask:  rwModeMask,
		PL0AddrMapMask: addrMapMask,
		MsgLengthC2D:   msgLenC2D,
		MsgLengthD2C:   msgLenD2C,
		MsgNumC2D:      msgNumC2D,
		MsgNumD2C:      msgNumD2C,
		Identifier:     identifier,
	}
	info.DeviceIDHash = conninfo.DeviceIDHash(id)
	info.DeviceIDHashStr = conninfo.DeviceIDHashString(id)
	return info, nil
}
