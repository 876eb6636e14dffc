package plclient

import (
	"time"

	"github.com/plbridge/plclient/internal/channel"
	"github.com/plbridge/plclient/internal/serverconn"
)

// ChannelClient is the message-channel facade: server_connect -> optional
// server_unlock -> get_targets -> session_start -> device_connect ->
// Subscribe -> SendMsg/RecvMsg (any number of times) -> Unsubscribe ->
// Close.
type ChannelClient struct {
	s *session
	h *channel.Handler
}

// NewChannelClient dials addr and returns a facade at the start of its
// lifecycle; server_connect has not yet been issued.
func NewChannelClient(addr string, dial DialDefaults) (*ChannelClient, error) {
	s, err := newSession(addr, dial, "channel")
	if err != nil {
		return nil, err
	}
	return &ChannelClient{s: s}, nil
}

func (c *ChannelClient) Connect(clientName string) (serverconn.ServerInfo, error) { return c.s.connect(clientName) }
func (c *ChannelClient) Unlock(password string) error                            { return c.s.unlock(password) }
func (c *ChannelClient) ListTargets() ([]serverconn.TargetInfo, error)           { return c.s.listTargets() }

func (c *ChannelClient) SessionStart(targetIdentifier, sessionName, userName, password string) error {
	return c.s.sessionStart(targetIdentifier, sessionName, userName, password)
}

// DeviceConnect attaches the device and, on success, constructs the
// channel handler bound to the connection id.
func (c *ChannelClient) DeviceConnect(options uint32) (uint32, error) {
	feat, err := c.s.deviceConnect(options)
	if err != nil {
		return feat, err
	}
	c.h = channel.New(c.s.mb, c.s.sc.ConID(), c.s.logger)
	return feat, nil
}

// Subscribe binds num/typ/opt(/prio) as this client object's one channel.
func (c *ChannelClient) Subscribe(num uint8, typ channel.Type, opt channel.Option, prio uint8) error {
	if err := c.s.requireDeviceConnected("plclient.Subscribe"); err != nil {
		return err
	}
	return c.h.Subscribe(num, typ, opt, prio)
}

// Unsubscribe releases the subscribed channel, draining in-flight
// device-to-client messages until confirmed; see channel.Handler.Unsubscribe
// for how drainTimeout bounds the drain.
func (c *ChannelClient) Unsubscribe(drainTimeout time.Duration) error {
	if err := c.s.requireDeviceConnected("plclient.Unsubscribe"); err != nil {
		return err
	}
	return c.h.Unsubscribe(drainTimeout)
}

// SendMsg transmits data on the subscribed channel, with an optional
// leading init word, bounded by the negotiated msg_length_c2d.
func (c *ChannelClient) SendMsg(data []byte, initWord *uint32) error {
	if err := c.s.requireDeviceConnected("plclient.SendMsg"); err != nil {
		return err
	}
	maxC2D := c.s.info.MsgLengthC2D
	if maxC2D == 0 || maxC2D > channel.MaxMessageBytes {
		maxC2D = channel.MaxMessageBytes
	}
	return c.h.SendMsg(data, initWord, maxC2D)
}

// RecvMsg polls for the next queued device-to-client message.
func (c *ChannelClient) RecvMsg(timeout time.Duration, hasInitWord bool) (channel.Message, error) {
	if err := c.s.requireDeviceConnected("plclient.RecvMsg"); err != nil {
		return channel.Message{}, err
	}
	return c.h.RecvMsg(timeout, hasInitWord)
}

// ResetCount returns the number of unsolicited device-reset indications
// absorbed on the receive path.
func (c *ChannelClient) ResetCount() uint32 {
	if c.h == nil {
		return 0
	}
	return c.h.ResetCount
}

// DeviceResetCount polls the server's device-reset counter directly.
func (c *ChannelClient) DeviceResetCount() (uint32, error) { return c.s.deviceResetCount() }

// Close releases the underlying connection. If a channel is still
// subscribed, the server infers its release from the disconnection;
// Unsubscribe should be called first when an orderly teardown matters.
func (c *ChannelClient) Close() error {
	if c.h != nil && c.h.Subscribed() {
		c.s.logger.Warn().Msg("closing with a channel still subscribed")
	}
	return c.s.Close()
}
