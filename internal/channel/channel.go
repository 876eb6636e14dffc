// Package channel owns the numbered message-channel subprotocol: the
// subscribe/unsubscribe/send/receive request-response pairs a client uses
// to exchange framed messages with firmware over one channel at a time.
//
// Ownership boundary:
// - channel subscribe/unsubscribe/send/receive encode/decode
// - the drain-until-confirmed unsubscribe sequence
// - absorbing unsolicited device-reset indications on the receive path
package channel

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/plbridge/plclient/internal/errkind"
	"github.com/plbridge/plclient/internal/mailbox"
	"github.com/plbridge/plclient/internal/pl1"
	"github.com/plbridge/plclient/internal/telemetry/metrics"
	"github.com/plbridge/plclient/internal/wire"
)

// Type identifies the direction(s) a subscribed channel carries traffic.
type Type uint8

const (
	TypeSend Type = iota
	TypeRecv
	TypeBidi
)

// Option is the sharing mode requested at subscribe time.
type Option uint8

const (
	OptionDefault Option = iota
	OptionExclusive
)

// MaxChannelNumber bounds the channel number per §4.6: numbers are < 32.
const MaxChannelNumber = 32

// LowestPriority is the only priority value more than one client may
// share; every other value in [0,31] must be unique across subscribers.
const LowestPriority = 31

// MaxMessageBytes is the hard wire ceiling on a channel message, regardless
// of the negotiated msg_length_c2d/msg_length_d2c maxima.
const MaxMessageBytes = 1024

// subBodySize, unsubBodySize are the fixed request/response body widths
// for subscribe and unsubscribe.
const (
	subBodySize   = 4
	unsubBodySize = 4
	msgHeaderSize = 4 // {chl, opt, msg_len(u16)}
)

// DefaultUnsubscribeDrainTimeout bounds how long Unsubscribe waits for its
// confirming reply once in-flight device-to-client messages start draining.
const DefaultUnsubscribeDrainTimeout = 2 * time.Second

// Handler plays the channel subprotocol's encode/decode role, owning the
// state of the one channel a client object may have subscribed at a time.
type Handler struct {
	mb     *mailbox.Mailbox
	conID  uint8
	logger zerolog.Logger

	subscribed bool
	chl        uint8
	chType     Type
	option     Option

	// ResetCount counts unsolicited device-reset indications absorbed on
	// the receive path (§4.6), mirroring rwresp.Parser.ResetCount.
	ResetCount uint32
}

// New constructs a Handler over mb, bound to conID from a prior
// server-connect.
func New(mb *mailbox.Mailbox, conID uint8, logger zerolog.Logger) *Handler {
	return &Handler{mb: mb, conID: conID, logger: logger}
}

// Subscribed reports whether a channel is currently subscribed.
func (h *Handler) Subscribed() bool { return h.subscribed }

func (h *Handler) execute(req []byte) ([]byte, error) {
	metrics.RecordPL2Sent("channel", len(req))
	rsp, err := h.mb.Execute(req)
	if err != nil {
		metrics.RecordError("channel", errkind.ServerConnection)
		return nil, errkind.Newf(errkind.ServerConnection, "channel.execute", "%v", err)
	}
	metrics.RecordPL2Received("channel", len(rsp))
	return rsp, nil
}

// Subscribe binds num/typ/opt(/prio) as this client object's one channel.
// Exactly one channel may be subscribed per client object (§4.6); a second
// call before Unsubscribe completes is a usage error.
func (h *Handler) Subscribe(num uint8, typ Type, opt Option, prio uint8) error {
	if h.subscribed {
		return errkind.New(errkind.Usage, "channel.Subscribe", "a channel is already subscribed on this client")
	}
	if num >= MaxChannelNumber {
		return errkind.Newf(errkind.Parameter, "channel.Subscribe", "channel number %d >= %d", num, MaxChannelNumber)
	}
	if prio > LowestPriority {
		return errkind.Newf(errkind.Parameter, "channel.Subscribe", "priority %d > %d", prio, LowestPriority)
	}

	b := wire.NewBuilder(pl1.HeaderSize + subBodySize)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: pl1.BodyWordLen(subBodySize), Cmd: pl1.CmdChannelSubscribe, ConID: h.conID})
	b.PutU8(num)
	b.PutU8(uint8(typ))
	b.PutU8(uint8(opt))
	b.PutU8(prio)

	rsp, err := h.execute(b.Bytes())
	if err != nil {
		return err
	}
	c := wire.NewCursor(rsp)
	hdr, err := pl1.DecodeResponseHeader(c)
	if err != nil {
		return errkind.Newf(errkind.ServerConnection, "channel.Subscribe", "short header: %v", err)
	}
	if hdr.Cmd != pl1.CmdChannelSubscribe {
		return errkind.Newf(errkind.ServerConnection, "channel.Subscribe", "command mismatch: got %s", hdr.Cmd)
	}
	if hdr.Err != pl1.ErrNone {
		return errkind.New(errkind.ChannelSetup, "channel.Subscribe", hdr.Err.String())
	}

	h.subscribed = true
	h.chl = num
	h.chType = typ
	h.option = opt
	h.logger.Info().Uint8("channel", num).Msg("channel subscribed")
	return nil
}

// Unsubscribe requests release of the subscribed channel, then drains any
// still-in-flight device-to-client messages (discarding them) until the
// confirming reply arrives. drainTimeout is checked each time a straggling
// message is discarded; each wait for a frame is bounded by the mailbox
// timeout, not by drainTimeout.
func (h *Handler) Unsubscribe(drainTimeout time.Duration) error {
	if !h.subscribed {
		return errkind.New(errkind.Usage, "channel.Unsubscribe", "no channel is subscribed")
	}
	if drainTimeout <= 0 {
		drainTimeout = DefaultUnsubscribeDrainTimeout
	}

	b := wire.NewBuilder(pl1.HeaderSize + unsubBodySize)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: pl1.BodyWordLen(unsubBodySize), Cmd: pl1.CmdChannelUnsub, ConID: h.conID})
	b.PutU8(h.chl)
	b.PutZeroes(3)

	if err := h.sendRequest(b.Bytes()); err != nil {
		return err
	}

	deadline := time.Now().Add(drainTimeout)
	for {
		rsp, err := h.mb.Receive()
		if err != nil {
			return errkind.Newf(errkind.ServerConnection, "channel.Unsubscribe", "%v", err)
		}
		c := wire.NewCursor(rsp)
		hdr, err := pl1.DecodeResponseHeader(c)
		if err != nil {
			return errkind.Newf(errkind.ServerConnection, "channel.Unsubscribe", "short header: %v", err)
		}
		if hdr.Cmd == pl1.CmdChannelUnsub {
			h.subscribed = false
			h.logger.Info().Uint8("channel", h.chl).Msg("channel unsubscribed")
			if hdr.Err != pl1.ErrNone {
				return errkind.New(hdr.Err.Kind(), "channel.Unsubscribe", hdr.Err.String())
			}
			return nil
		}
		// Any other frame while draining is a straggling d2c message;
		// discard it and keep waiting for the confirming reply.
		if time.Now().After(deadline) {
			return errkind.New(errkind.ServerConnection, "channel.Unsubscribe", "drain timeout before confirming reply")
		}
	}
}

func (h *Handler) sendRequest(req []byte) error {
	metrics.RecordPL2Sent("channel", len(req))
	if err := h.mb.Send(req); err != nil {
		metrics.RecordError("channel", errkind.ServerConnection)
		return errkind.Newf(errkind.ServerConnection, "channel.sendRequest", "%v", err)
	}
	return nil
}

// SendMsg transmits data on the subscribed channel. If initWord is
// non-nil, its value is prepended as the first 4 bytes of the wire
// payload. The combined length must not exceed maxC2D (msg_length_c2d
// from ConInfo, already capped at MaxMessageBytes by the caller).
func (h *Handler) SendMsg(data []byte, initWord *uint32, maxC2D uint32) error {
	if !h.subscribed {
		return errkind.New(errkind.Usage, "channel.SendMsg", "no channel is subscribed")
	}
	if h.chType == TypeRecv {
		return errkind.New(errkind.Usage, "channel.SendMsg", "channel subscribed recv-only")
	}

	payloadLen := len(data)
	if initWord != nil {
		payloadLen += 4
	}
	if payloadLen > int(maxC2D) || payloadLen > MaxMessageBytes {
		return errkind.Newf(errkind.Parameter, "channel.SendMsg", "message length %d exceeds c2d maximum %d", payloadLen, maxC2D)
	}

	// The body is zero-padded to a 4-byte multiple; msg_len carries the
	// unpadded length.
	padded := (payloadLen + 3) &^ 3
	b := wire.NewBuilder(pl1.HeaderSize + msgHeaderSize + padded)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: pl1.BodyWordLen(msgHeaderSize + padded), Cmd: pl1.CmdChannelMsgC2D, ConID: h.conID})
	b.PutU8(h.chl)
	b.PutU8(0)
	b.PutU16(uint16(payloadLen))
	if initWord != nil {
		b.PutU32(*initWord)
	}
	b.PutBytes(data)
	b.PutZeroes(padded - payloadLen)

	rsp, err := h.execute(b.Bytes())
	if err != nil {
		return err
	}
	c := wire.NewCursor(rsp)
	hdr, err := pl1.DecodeResponseHeader(c)
	if err != nil {
		return errkind.Newf(errkind.ServerConnection, "channel.SendMsg", "short header: %v", err)
	}
	if hdr.Cmd != pl1.CmdChannelMsgC2D {
		return errkind.Newf(errkind.ServerConnection, "channel.SendMsg", "command mismatch: got %s", hdr.Cmd)
	}
	if hdr.Err != pl1.ErrNone {
		return errkind.New(errkind.ChannelSend, "channel.SendMsg", hdr.Err.String())
	}
	return nil
}

// Message is one received device-to-client payload, with its init word
// extracted if the sender included one.
type Message struct {
	Data     []byte
	InitWord uint32
	HasInit  bool
}

// RecvMsg polls for the next queued device-to-client message, absorbing
// any unsolicited device-reset indication transparently (incrementing
// ResetCount and re-polling) before returning a real message or a
// transient ChannelReceive error if the queue was empty.
func (h *Handler) RecvMsg(timeout time.Duration, hasInitWord bool) (Message, error) {
	if !h.subscribed {
		return Message{}, errkind.New(errkind.Usage, "channel.RecvMsg", "no channel is subscribed")
	}
	if h.chType == TypeSend {
		return Message{}, errkind.New(errkind.Usage, "channel.RecvMsg", "channel subscribed send-only")
	}

	if timeout > 0 {
		h.mb.SetTimeout(timeout)
	}

	b := wire.NewBuilder(pl1.HeaderSize + msgHeaderSize)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: pl1.BodyWordLen(msgHeaderSize), Cmd: pl1.CmdChannelMsgD2C, ConID: h.conID})
	b.PutU8(h.chl)
	b.PutZeroes(3)

	rsp, err := h.execute(b.Bytes())
	if err != nil {
		return Message{}, err
	}
	c := wire.NewCursor(rsp)
	hdr, err := pl1.DecodeResponseHeader(c)
	if err != nil {
		return Message{}, errkind.Newf(errkind.ServerConnection, "channel.RecvMsg", "short header: %v", err)
	}
	if hdr.Cmd != pl1.CmdChannelMsgD2C {
		return Message{}, errkind.Newf(errkind.ServerConnection, "channel.RecvMsg", "command mismatch: got %s", hdr.Cmd)
	}
	if hdr.Err == pl1.ErrDeviceReset {
		h.ResetCount++
		// The reset indication carries no further payload; poll again for
		// the message that follows it.
		return h.RecvMsg(timeout, hasInitWord)
	}
	if hdr.Err != pl1.ErrNone {
		return Message{}, errkind.New(errkind.ChannelReceive, "channel.RecvMsg", hdr.Err.String())
	}

	chl, err := c.TakeU8()
	if err != nil {
		return Message{}, errkind.Newf(errkind.ServerConnection, "channel.RecvMsg", "short body: %v", err)
	}
	if err := c.Skip(1); err != nil {
		return Message{}, errkind.Newf(errkind.ServerConnection, "channel.RecvMsg", "short body: %v", err)
	}
	msgLen, err := c.TakeU16()
	if err != nil {
		return Message{}, errkind.Newf(errkind.ServerConnection, "channel.RecvMsg", "short body: %v", err)
	}
	_ = chl
	if msgLen == 0 {
		return Message{}, errkind.New(errkind.ChannelReceive, "channel.RecvMsg", "no message available")
	}

	payload, err := c.TakeBytes(int(msgLen))
	if err != nil {
		return Message{}, errkind.Newf(errkind.ServerConnection, "channel.RecvMsg", "short payload: %v", err)
	}

	msg := Message{}
	if hasInitWord {
		if len(payload) < 4 {
			return Message{}, errkind.New(errkind.ServerConnection, "channel.RecvMsg", "payload shorter than declared init word")
		}
		msg.InitWord = uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16 | uint32(payload[3])<<24
		msg.HasInit = true
		msg.Data = payload[4:]
	} else {
		msg.Data = payload
	}
	return msg, nil
}
