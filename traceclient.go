package plclient

import (
	"time"

	"github.com/plbridge/plclient/internal/serverconn"
	"github.com/plbridge/plclient/internal/trace"
)

// TraceClient is the continuous trace-stream facade: server_connect ->
// optional server_unlock -> get_targets -> session_start -> device_connect
// -> Subscribe -> RecvData (any number of times) -> Unsubscribe -> Close.
type TraceClient struct {
	s *session
	h *trace.Handler
}

// NewTraceClient dials addr and returns a facade at the start of its
// lifecycle; server_connect has not yet been issued.
func NewTraceClient(addr string, dial DialDefaults) (*TraceClient, error) {
	s, err := newSession(addr, dial, "trace")
	if err != nil {
		return nil, err
	}
	return &TraceClient{s: s}, nil
}

func (c *TraceClient) Connect(clientName string) (serverconn.ServerInfo, error) { return c.s.connect(clientName) }
func (c *TraceClient) Unlock(password string) error                            { return c.s.unlock(password) }
func (c *TraceClient) ListTargets() ([]serverconn.TargetInfo, error)           { return c.s.listTargets() }

func (c *TraceClient) SessionStart(targetIdentifier, sessionName, userName, password string) error {
	return c.s.sessionStart(targetIdentifier, sessionName, userName, password)
}

// DeviceConnect attaches the device and, on success, constructs the
// trace handler bound to the connection id.
func (c *TraceClient) DeviceConnect(options uint32) (uint32, error) {
	feat, err := c.s.deviceConnect(options)
	if err != nil {
		return feat, err
	}
	c.h = trace.New(c.s.mb, c.s.sc.ConID(), c.s.logger)
	return feat, nil
}

// Subscribe binds streamID/opt as this client object's one trace stream
// and returns the device's negotiated container type.
func (c *TraceClient) Subscribe(streamID uint8, opt trace.Option) (trace.Type, error) {
	if err := c.s.requireDeviceConnected("plclient.Subscribe"); err != nil {
		return 0, err
	}
	return c.h.Subscribe(streamID, opt)
}

// Unsubscribe releases the subscribed stream, draining in-flight data
// records until confirmed; see trace.Handler.Unsubscribe for how
// drainTimeout bounds the drain.
func (c *TraceClient) Unsubscribe(drainTimeout time.Duration) error {
	if err := c.s.requireDeviceConnected("plclient.Unsubscribe"); err != nil {
		return err
	}
	return c.h.Unsubscribe(drainTimeout)
}

// RecvData polls for the next queued trace record.
func (c *TraceClient) RecvData(timeout time.Duration) (trace.Record, error) {
	if err := c.s.requireDeviceConnected("plclient.RecvData"); err != nil {
		return trace.Record{}, err
	}
	return c.h.RecvData(timeout)
}

// ResetCount returns the number of unsolicited device-reset indications
// absorbed on the receive path.
func (c *TraceClient) ResetCount() uint32 {
	if c.h == nil {
		return 0
	}
	return c.h.ResetCount
}

// DeviceResetCount polls the server's device-reset counter directly.
func (c *TraceClient) DeviceResetCount() (uint32, error) { return c.s.deviceResetCount() }

// Close releases the underlying connection. If a stream is still
// subscribed, the server infers its release from the disconnection;
// Unsubscribe should be called first when an orderly teardown matters.
func (c *TraceClient) Close() error {
	if c.h != nil && c.h.Subscribed() {
		c.s.logger.Warn().Msg("closing with a trace stream still subscribed")
	}
	return c.s.Close()
}
