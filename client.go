// Package plclient is a client library for the plbridge wire protocol: it
// dials a broker server over TCP, enumerates targets, opens a session on
// one, and then issues memory read/write/fill transactions, numbered
// message-channel traffic, or a continuous trace stream against the
// device behind it.
//
// Three facades share this lifecycle and differ only in which operations
// they expose past device-connect: RWClient, ChannelClient, TraceClient.
package plclient

import (
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/plbridge/plclient/internal/conninfo"
	"github.com/plbridge/plclient/internal/errkind"
	"github.com/plbridge/plclient/internal/mailbox"
	"github.com/plbridge/plclient/internal/serverconn"
	"github.com/plbridge/plclient/internal/telemetry"
)

// lifecycleState tracks how far a facade has progressed through the
// mandatory server_connect -> session_start -> device_connect sequence
// (§4.8); operations are rejected with a usage error if called out of
// order.
type lifecycleState int

const (
	stateInit lifecycleState = iota
	stateConnected
	stateSessionStarted
	stateDeviceConnected
	stateClosed
)

// session is the lifecycle state and control-plane handle shared by every
// facade; each facade adds its own specialized handler (rwplan+rwresp,
// channel.Handler, trace.Handler) alongside it.
type session struct {
	conn   net.Conn
	mb     *mailbox.Mailbox
	sc     *serverconn.Handler
	logger zerolog.Logger

	state lifecycleState
	info  conninfo.ConInfo
}

// DialDefaults bounds the TCP connect + mailbox timeouts a facade
// constructor uses when the caller doesn't load internal/config defaults
// explicitly.
type DialDefaults struct {
	ConnectTimeout time.Duration
	Timeout        time.Duration
}

// DefaultDialDefaults mirrors mailbox.DefaultTimeout for the request/
// response timeout and a short TCP connect timeout.
func DefaultDialDefaults() DialDefaults {
	return DialDefaults{ConnectTimeout: 5 * time.Second, Timeout: mailbox.DefaultTimeout}
}

func newSession(addr string, dial DialDefaults, component string) (*session, error) {
	conn, err := net.DialTimeout("tcp", addr, dial.ConnectTimeout)
	if err != nil {
		return nil, errkind.Newf(errkind.ServerConnection, "plclient.Dial", "%v", err)
	}
	logger := telemetry.Logger(component)
	mb := mailbox.New(conn, mailbox.Config{Timeout: dial.Timeout})
	sc := serverconn.New(mb, logger)
	return &session{conn: conn, mb: mb, sc: sc, logger: logger, state: stateInit}, nil
}

func (s *session) connect(clientName string) (serverconn.ServerInfo, error) {
	info, _, err := s.sc.Connect(clientName)
	if err != nil {
		s.logger.Error().Err(err).Msg("server-connect failed")
		return serverconn.ServerInfo{}, err
	}
	s.state = stateConnected
	return info, nil
}

func (s *session) unlock(password string) error {
	if s.state < stateConnected {
		return errkind.New(errkind.Usage, "plclient.Unlock", "server-connect must succeed before server-unlock")
	}
	return s.sc.Unlock(password)
}

func (s *session) listTargets() ([]serverconn.TargetInfo, error) {
	if s.state < stateConnected {
		return nil, errkind.New(errkind.Usage, "plclient.ListTargets", "server-connect must succeed first")
	}
	return s.sc.ListTargets()
}

func (s *session) sessionStart(targetIdentifier, sessionName, userName, password string) error {
	if s.state < stateConnected {
		return errkind.New(errkind.Usage, "plclient.SessionStart", "server-connect must succeed first")
	}
	if s.state >= stateSessionStarted {
		return errkind.New(errkind.Usage, "plclient.SessionStart", "session-start may be called only once per client object")
	}
	info, err := s.sc.SessionStart(targetIdentifier, sessionName, userName, password)
	if err != nil {
		s.logger.Error().Err(err).Msg("session-start failed")
		return err
	}
	s.info = info
	s.state = stateSessionStarted
	return nil
}

func (s *session) deviceConnect(options uint32) (uint32, error) {
	if s.state < stateSessionStarted {
		return 0, errkind.New(errkind.Usage, "plclient.DeviceConnect", "session-start must succeed first")
	}
	feat, err := s.sc.DeviceConnect(options)
	if err != nil {
		return feat, err
	}
	s.state = stateDeviceConnected
	return feat, nil
}

func (s *session) requireDeviceConnected(op string) error {
	if s.state < stateDeviceConnected {
		return errkind.New(errkind.Usage, op, "device-connect must succeed before issuing operations")
	}
	return nil
}

func (s *session) ping() (conninfo.ConInfo, error) {
	if s.state < stateSessionStarted {
		return conninfo.ConInfo{}, errkind.New(errkind.Usage, "plclient.Ping", "session-start must succeed first")
	}
	return s.sc.Ping()
}

func (s *session) deviceResetCount() (uint32, error) {
	if s.state < stateSessionStarted {
		return 0, errkind.New(errkind.Usage, "plclient.DeviceResetCount", "session-start must succeed first")
	}
	return s.sc.DeviceResetCount()
}

// Close releases the underlying connection; the server infers session end
// from the disconnection, so no explicit teardown message is sent.
func (s *session) Close() error {
	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed
	return s.mb.Close()
}

// Addr formats host:port for net.Dial from a config.ClientDefaults-shaped
// pair, kept here since every facade constructor needs it.
func Addr(host string, port uint16) string {
	return fmt.Sprintf("%s:%d", host, port)
}
