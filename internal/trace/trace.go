// Package trace owns the numbered continuous trace-stream subprotocol:
// subscribe/unsubscribe/receive for a uni-directional device-to-client
// data feed, symmetric to internal/channel but stream-identified (0-255)
// rather than channel-numbered (<32), and with no send direction at all.
//
// Ownership boundary:
// - trace subscribe/unsubscribe/data-receive encode/decode
// - stream-state classification of each received record
// - absorbing unsolicited device-reset indications on the receive path
package trace

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/plbridge/plclient/internal/errkind"
	"github.com/plbridge/plclient/internal/mailbox"
	"github.com/plbridge/plclient/internal/pl1"
	"github.com/plbridge/plclient/internal/telemetry/metrics"
	"github.com/plbridge/plclient/internal/wire"
)

// Type identifies the negotiated trace container format a subscribe
// returns; the device picks this, the client does not request it.
type Type uint8

const (
	TypeMTSC    Type = iota // MTSC-framed trace container
	TypeUnknown             // device offered a container the client doesn't decode
)

// Option is the sharing mode requested at subscribe time, mirroring
// channel.Option.
type Option uint8

const (
	OptionDefault Option = iota
	OptionExclusive
)

// StreamState classifies one received trace record relative to the
// decoder's running state (§4.7): cont is the ordinary steady-state case,
// the remaining four mark a decoder anchor the caller should resynchronize
// on before trusting subsequent cont records.
type StreamState uint8

const (
	StreamCont StreamState = iota
	StreamSync
	StreamStartAfterConfig
	StreamStartAfterReset
	StreamStartAfterInterrupt
)

func (s StreamState) String() string {
	switch s {
	case StreamCont:
		return "cont"
	case StreamSync:
		return "sync"
	case StreamStartAfterConfig:
		return "start-after-config"
	case StreamStartAfterReset:
		return "start-after-reset"
	case StreamStartAfterInterrupt:
		return "start-after-interrupt"
	default:
		return "unknown"
	}
}

const (
	subBodySize    = 4 // {stream_id, option, reserved, reserved}
	unsubBodySize  = 4 // {stream_id, reserved, reserved, reserved}
	dataHeaderSize = 8 // {stream_id, stream_state, reserved, reserved, length(u32)}
)

// DefaultUnsubscribeDrainTimeout bounds how long Unsubscribe waits for its
// confirming reply once in-flight data records start draining.
const DefaultUnsubscribeDrainTimeout = 2 * time.Second

// Handler plays the trace subprotocol's encode/decode role, owning the
// state of the one stream a client object may have subscribed at a time.
type Handler struct {
	mb     *mailbox.Mailbox
	conID  uint8
	logger zerolog.Logger

	subscribed bool
	streamID   uint8
	negType    Type
	option     Option

	// ResetCount counts unsolicited device-reset indications absorbed on
	// the receive path, mirroring channel.Handler.ResetCount.
	ResetCount uint32
}

// New constructs a Handler over mb, bound to conID from a prior
// server-connect.
func New(mb *mailbox.Mailbox, conID uint8, logger zerolog.Logger) *Handler {
	return &Handler{mb: mb, conID: conID, logger: logger}
}

// Subscribed reports whether a stream is currently subscribed.
func (h *Handler) Subscribed() bool { return h.subscribed }

// NegotiatedType returns the container type the device returned at
// subscribe time.
func (h *Handler) NegotiatedType() Type { return h.negType }

func (h *Handler) execute(req []byte) ([]byte, error) {
	metrics.RecordPL2Sent("trace", len(req))
	rsp, err := h.mb.Execute(req)
	if err != nil {
		metrics.RecordError("trace", errkind.ServerConnection)
		return nil, errkind.Newf(errkind.ServerConnection, "trace.execute", "%v", err)
	}
	metrics.RecordPL2Received("trace", len(rsp))
	return rsp, nil
}

// Subscribe binds streamID/opt as this client object's one trace stream.
func (h *Handler) Subscribe(streamID uint8, opt Option) (Type, error) {
	if h.subscribed {
		return 0, errkind.New(errkind.Usage, "trace.Subscribe", "a trace stream is already subscribed on this client")
	}

	b := wire.NewBuilder(pl1.HeaderSize + subBodySize)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: pl1.BodyWordLen(subBodySize), Cmd: pl1.CmdTraceSubscribe, ConID: h.conID})
	b.PutU8(streamID)
	b.PutU8(uint8(opt))
	b.PutZeroes(2)

	rsp, err := h.execute(b.Bytes())
	if err != nil {
		return 0, err
	}
	c := wire.NewCursor(rsp)
	hdr, err := pl1.DecodeResponseHeader(c)
	if err != nil {
		return 0, errkind.Newf(errkind.ServerConnection, "trace.Subscribe", "short header: %v", err)
	}
	if hdr.Cmd != pl1.CmdTraceSubscribe {
		return 0, errkind.Newf(errkind.ServerConnection, "trace.Subscribe", "command mismatch: got %s", hdr.Cmd)
	}
	if hdr.Err != pl1.ErrNone {
		return 0, errkind.New(errkind.ChannelSetup, "trace.Subscribe", hdr.Err.String())
	}

	_, err = c.TakeU8() // stream_id echo
	if err != nil {
		return 0, errkind.Newf(errkind.ServerConnection, "trace.Subscribe", "short body: %v", err)
	}
	negByte, err := c.TakeU8()
	if err != nil {
		return 0, errkind.Newf(errkind.ServerConnection, "trace.Subscribe", "short body: %v", err)
	}

	h.subscribed = true
	h.streamID = streamID
	h.option = opt
	h.negType = Type(negByte)
	h.logger.Info().Uint8("stream", streamID).Str("type", traceTypeString(h.negType)).Msg("trace subscribed")
	return h.negType, nil
}

func traceTypeString(t Type) string {
	if t == TypeMTSC {
		return "mtsc"
	}
	return "unknown"
}

// Unsubscribe requests release of the subscribed stream, draining any
// still-in-flight data records (discarding them) until the confirming
// reply arrives. drainTimeout is checked each time a straggling record is
// discarded; each wait for a frame is bounded by the mailbox timeout, not
// by drainTimeout.
func (h *Handler) Unsubscribe(drainTimeout time.Duration) error {
	if !h.subscribed {
		return errkind.New(errkind.Usage, "trace.Unsubscribe", "no trace stream is subscribed")
	}
	if drainTimeout <= 0 {
		drainTimeout = DefaultUnsubscribeDrainTimeout
	}

	b := wire.NewBuilder(pl1.HeaderSize + unsubBodySize)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: pl1.BodyWordLen(unsubBodySize), Cmd: pl1.CmdTraceUnsub, ConID: h.conID})
	b.PutU8(h.streamID)
	b.PutZeroes(3)

	metrics.RecordPL2Sent("trace", len(b.Bytes()))
	if err := h.mb.Send(b.Bytes()); err != nil {
		metrics.RecordError("trace", errkind.ServerConnection)
		return errkind.Newf(errkind.ServerConnection, "trace.Unsubscribe", "%v", err)
	}

	deadline := time.Now().Add(drainTimeout)
	for {
		rsp, err := h.mb.Receive()
		if err != nil {
			return errkind.Newf(errkind.ServerConnection, "trace.Unsubscribe", "%v", err)
		}
		c := wire.NewCursor(rsp)
		hdr, err := pl1.DecodeResponseHeader(c)
		if err != nil {
			return errkind.Newf(errkind.ServerConnection, "trace.Unsubscribe", "short header: %v", err)
		}
		if hdr.Cmd == pl1.CmdTraceUnsub {
			h.subscribed = false
			h.logger.Info().Uint8("stream", h.streamID).Msg("trace unsubscribed")
			if hdr.Err != pl1.ErrNone {
				return errkind.New(hdr.Err.Kind(), "trace.Unsubscribe", hdr.Err.String())
			}
			return nil
		}
		if time.Now().After(deadline) {
			return errkind.New(errkind.ServerConnection, "trace.Unsubscribe", "drain timeout before confirming reply")
		}
	}
}

// Record is one owned, length-bounded trace data delivery.
type Record struct {
	Data        []byte
	StreamState StreamState
	StreamID    uint8
}

// RecvData polls for the next queued trace record, absorbing any
// unsolicited device-reset indication transparently (incrementing
// ResetCount) before returning a real record or a transient TraceReceive
// error if the stream had nothing queued.
func (h *Handler) RecvData(timeout time.Duration) (Record, error) {
	if !h.subscribed {
		return Record{}, errkind.New(errkind.Usage, "trace.RecvData", "no trace stream is subscribed")
	}

	if timeout > 0 {
		h.mb.SetTimeout(timeout)
	}

	b := wire.NewBuilder(pl1.HeaderSize + 4)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: pl1.BodyWordLen(4), Cmd: pl1.CmdTraceData, ConID: h.conID})
	b.PutU8(h.streamID)
	b.PutZeroes(3)

	rsp, err := h.execute(b.Bytes())
	if err != nil {
		return Record{}, err
	}
	c := wire.NewCursor(rsp)
	hdr, err := pl1.DecodeResponseHeader(c)
	if err != nil {
		return Record{}, errkind.Newf(errkind.ServerConnection, "trace.RecvData", "short header: %v", err)
	}
	if hdr.Cmd != pl1.CmdTraceData {
		return Record{}, errkind.Newf(errkind.ServerConnection, "trace.RecvData", "command mismatch: got %s", hdr.Cmd)
	}
	if hdr.Err == pl1.ErrDeviceReset {
		h.ResetCount++
		return h.RecvData(timeout)
	}
	if hdr.Err != pl1.ErrNone {
		return Record{}, errkind.New(errkind.TraceReceive, "trace.RecvData", hdr.Err.String())
	}

	streamID, err := c.TakeU8()
	if err != nil {
		return Record{}, errkind.Newf(errkind.ServerConnection, "trace.RecvData", "short body: %v", err)
	}
	stateByte, err := c.TakeU8()
	if err != nil {
		return Record{}, errkind.Newf(errkind.ServerConnection, "trace.RecvData", "short body: %v", err)
	}
	if err := c.Skip(2); err != nil {
		return Record{}, errkind.Newf(errkind.ServerConnection, "trace.RecvData", "short body: %v", err)
	}
	length, err := c.TakeU32()
	if err != nil {
		return Record{}, errkind.Newf(errkind.ServerConnection, "trace.RecvData", "short body: %v", err)
	}
	if length == 0 {
		return Record{}, errkind.New(errkind.TraceReceive, "trace.RecvData", "no data available")
	}
	data, err := c.TakeBytes(int(length))
	if err != nil {
		return Record{}, errkind.Newf(errkind.ServerConnection, "trace.RecvData", "short payload: %v", err)
	}

	return Record{Data: data, StreamState: StreamState(stateByte), StreamID: streamID}, nil
}
