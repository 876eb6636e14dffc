// Package mailbox owns byte-framed send/receive over a stream transport,
// delivering whole PL2 packets to its caller.
//
// Ownership boundary:
// - the PL2 receive loop (length-prefix read, size validation, disconnect
//   on violation)
// - send/receive/execute timeouts
//
// The underlying stream itself (dialing, accepting, TLS) is out of scope;
// the Mailbox is handed an io.ReadWriteCloser (typically a net.Conn) and
// never creates one.
package mailbox

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/plbridge/plclient/internal/pl2"
)

// ErrNotConnected is returned by Send/Receive/Execute once the mailbox has
// disconnected, whether due to a local Close or a prior framing violation.
var ErrNotConnected = errors.New("mailbox: not connected")

// Config bounds a Mailbox's timeouts and the largest PL2 packet it will
// accept on receive, mirroring session.Config's timeout fields generalized
// from Mirage/Ghost session reliability to a single request/response pair.
type Config struct {
	Timeout        time.Duration
	MaxResponseLen uint32
}

// DefaultTimeout is §5's release-mode default; debug builds pass 0, which
// Mailbox treats as "no deadline".
const DefaultTimeout = 20 * time.Second

// DefaultConfig returns release-mode defaults: a 20s timeout and the PL2
// protocol ceiling as the max response length.
func DefaultConfig() Config {
	return Config{
		Timeout:        DefaultTimeout,
		MaxResponseLen: pl2.DefaultMaxPacketSize,
	}
}

// Mailbox delivers whole PL2 packets over an underlying byte stream. It is
// not safe for concurrent use: the spec's scheduling model is strictly
// request/response, one outstanding request at a time.
type Mailbox struct {
	conn      io.ReadWriteCloser
	cfg       Config
	connected bool
}

// New wraps conn; conn is typically a net.Conn but any io.ReadWriteCloser
// works (internal/testutil/pairconn supplies an in-memory one for tests).
func New(conn io.ReadWriteCloser, cfg Config) *Mailbox {
	if cfg.MaxResponseLen == 0 {
		cfg.MaxResponseLen = pl2.DefaultMaxPacketSize
	}
	return &Mailbox{conn: conn, cfg: cfg, connected: true}
}

// Configure updates the timeout and max response length for subsequent
// calls.
func (m *Mailbox) Configure(cfg Config) {
	if cfg.MaxResponseLen == 0 {
		cfg.MaxResponseLen = pl2.DefaultMaxPacketSize
	}
	m.cfg = cfg
}

// Connected reports whether the mailbox still considers itself usable.
func (m *Mailbox) Connected() bool { return m.connected }

// SetTimeout overrides just the timeout, leaving MaxResponseLen untouched;
// callers that bound a single blocking call (channel/trace receive with a
// caller-supplied timeout_ms) use this instead of Configure so they don't
// clobber a previously negotiated max packet size.
func (m *Mailbox) SetTimeout(d time.Duration) {
	m.cfg.Timeout = d
}

// disconnect closes the underlying stream and marks the mailbox unusable;
// per §4.1/§5 every framing or timeout violation is terminal.
func (m *Mailbox) disconnect() {
	if m.connected {
		m.connected = false
		_ = m.conn.Close()
	}
}

func (m *Mailbox) setDeadline(d time.Duration) {
	nc, ok := m.conn.(net.Conn)
	if !ok {
		return
	}
	if d <= 0 {
		_ = nc.SetDeadline(time.Time{})
		return
	}
	_ = nc.SetDeadline(time.Now().Add(d))
}

// Send writes one complete PL2 packet (length prefix followed by
// payload). The write is atomic: either the whole packet reaches the
// stream's buffering layer or the mailbox disconnects.
func (m *Mailbox) Send(payload []byte) error {
	if !m.connected {
		return ErrNotConnected
	}
	m.setDeadline(m.cfg.Timeout)
	prefix := pl2.EncodeLengthPrefix(len(payload))
	if _, err := m.conn.Write(prefix); err != nil {
		m.disconnect()
		return err
	}
	if len(payload) > 0 {
		if _, err := m.conn.Write(payload); err != nil {
			m.disconnect()
			return err
		}
	}
	return nil
}

// Receive reads one complete PL2 packet and returns its PL1 payload
// (the length prefix itself is not included). Any size violation or short
// read is terminal: the mailbox disconnects and every subsequent call
// returns ErrNotConnected.
func (m *Mailbox) Receive() ([]byte, error) {
	if !m.connected {
		return nil, ErrNotConnected
	}
	m.setDeadline(m.cfg.Timeout)

	var lenBuf [pl2.LengthSize]byte
	if _, err := io.ReadFull(m.conn, lenBuf[:]); err != nil {
		m.disconnect()
		return nil, err
	}
	length := pl2.DecodeLengthPrefix(lenBuf[:])
	if err := pl2.ValidateLength(length, m.cfg.MaxResponseLen); err != nil {
		m.disconnect()
		return nil, err
	}

	payload := make([]byte, length-pl2.LengthSize)
	if len(payload) > 0 {
		if _, err := io.ReadFull(m.conn, payload); err != nil {
			m.disconnect()
			return nil, err
		}
	}
	return payload, nil
}

// Execute is the common send-then-receive request/response call every
// higher-layer handler issues: exactly one Send followed by exactly one
// Receive, since the client object never has more than one request
// outstanding.
func (m *Mailbox) Execute(request []byte) ([]byte, error) {
	if err := m.Send(request); err != nil {
		return nil, err
	}
	return m.Receive()
}

// Close releases the underlying stream. The server infers session end from
// the resulting disconnection; no explicit teardown message is sent.
func (m *Mailbox) Close() error {
	if !m.connected {
		return nil
	}
	m.connected = false
	return m.conn.Close()
}
