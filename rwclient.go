package plclient

import (
	"github.com/plbridge/plclient/internal/conninfo"
	"github.com/plbridge/plclient/internal/errkind"
	"github.com/plbridge/plclient/internal/rwplan"
	"github.com/plbridge/plclient/internal/rwresp"
	"github.com/plbridge/plclient/internal/serverconn"
	"github.com/plbridge/plclient/internal/telemetry/metrics"
)

// RWClient is the memory read/write/fill facade: server_connect -> optional
// server_unlock -> get_targets -> session_start -> device_connect ->
// ExecuteTrans (any number of times) -> Close.
type RWClient struct {
	s       *session
	planner *rwplan.Planner
}

// NewRWClient dials addr and returns a facade at the start of its
// lifecycle; server_connect has not yet been issued.
func NewRWClient(addr string, dial DialDefaults) (*RWClient, error) {
	s, err := newSession(addr, dial, "rwclient")
	if err != nil {
		return nil, err
	}
	return &RWClient{s: s}, nil
}

// Connect issues server-connect.
func (c *RWClient) Connect(clientName string) (serverconn.ServerInfo, error) { return c.s.connect(clientName) }

// Unlock issues server-unlock.
func (c *RWClient) Unlock(password string) error { return c.s.unlock(password) }

// ListTargets enumerates the targets this server offers.
func (c *RWClient) ListTargets() ([]serverconn.TargetInfo, error) { return c.s.listTargets() }

// SessionStart opens a named session; may be called only once.
func (c *RWClient) SessionStart(targetIdentifier, sessionName, userName, password string) error {
	return c.s.sessionStart(targetIdentifier, sessionName, userName, password)
}

// DeviceConnect attaches the device and, on success, constructs the RW
// planner bound to the negotiated ConInfo and connection id.
func (c *RWClient) DeviceConnect(options uint32) (uint32, error) {
	feat, err := c.s.deviceConnect(options)
	if err != nil {
		return feat, err
	}
	c.planner = rwplan.NewPlanner(c.s.info, c.s.sc.ConID())
	return feat, nil
}

// ConInfo returns the negotiated session parameters; valid after
// SessionStart.
func (c *RWClient) ConInfo() conninfo.ConInfo { return c.s.info }

// Ping re-issues session-start's decode against the ping command.
func (c *RWClient) Ping() error {
	_, err := c.s.ping()
	return err
}

// DeviceResetCount polls the server's device-reset counter directly.
func (c *RWClient) DeviceResetCount() (uint32, error) { return c.s.deviceResetCount() }

// ExecuteTrans plans txs into one or more envelopes, executes each over
// the mailbox in order, and aggregates per-transaction results back into
// each Transaction's ReadBuf/TransactionResponse. Returns the first
// per-transaction data fault observed, if any, after every envelope has
// been sent (§4.5: a data fault on one transaction does not abort the
// rest of the batch).
func (c *RWClient) ExecuteTrans(txs []rwplan.Transaction) ([]rwplan.TransactionResponse, error) {
	if err := c.s.requireDeviceConnected("plclient.ExecuteTrans"); err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}

	plan, err := c.planner.Plan(txs)
	if err != nil {
		return nil, err
	}

	parser := rwresp.New(plan, txs)
	for _, env := range plan.Envelopes {
		req, err := env.Encode()
		if err != nil {
			return nil, errkind.Newf(errkind.General, "plclient.ExecuteTrans", "encode envelope: %v", err)
		}
		metrics.RecordPL2Sent("rwclient", len(req))
		resp, err := c.s.mb.Execute(req)
		if err != nil {
			return nil, errkind.Newf(errkind.ServerConnection, "plclient.ExecuteTrans", "%v", err)
		}
		metrics.RecordPL2Received("rwclient", len(resp))
		if err := parser.ParseEnvelope(env, resp); err != nil {
			return nil, err
		}
	}

	if ferr := parser.FirstError("plclient.ExecuteTrans"); ferr != nil {
		metrics.RecordError("rwclient", ferr.Kind)
		return plan.TxResponses, ferr
	}
	return plan.TxResponses, nil
}

// Close releases the underlying connection.
func (c *RWClient) Close() error { return c.s.Close() }
