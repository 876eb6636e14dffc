package serverconn

import (
	"sort"

	"github.com/plbridge/plclient/internal/errkind"
	"github.com/plbridge/plclient/internal/pl1"
	"github.com/plbridge/plclient/internal/wire"
)

// maxTargetsPerList and maxClientsPerList bound how many records the
// caller will ever accumulate across pages, regardless of what num_total
// the server reports.
const (
	maxTargetsPerList = 64
	maxClientsPerList = 32
	targetNameWidth   = 64
	clientNameWidth   = 32
)

// TargetInfo describes one enumerable target.
type TargetInfo struct {
	ID         uint32
	Identifier string
	DeviceType uint32
}

// ClientInfo describes one client currently connected to a target's
// session.
type ClientInfo struct {
	ID                uint32
	Name              string
	ConnectTimeMicros uint64
}

// ListTargets stitches get-targets pages into one slice, capped at
// maxTargetsPerList records even if the server reports more.
func (h *Handler) ListTargets() ([]TargetInfo, error) {
	var out []TargetInfo
	startIndex := uint32(0)
	for {
		page, numTotal, err := h.getTargetsPage(startIndex)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		startIndex += uint32(len(page))
		if len(page) == 0 || startIndex >= numTotal || len(out) >= maxTargetsPerList {
			break
		}
	}
	if len(out) > maxTargetsPerList {
		out = out[:maxTargetsPerList]
	}
	return out, nil
}

func (h *Handler) getTargetsPage(startIndex uint32) ([]TargetInfo, uint32, error) {
	b := wire.NewBuilder(pl1.HeaderSize + 4)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: pl1.BodyWordLen(4), Cmd: pl1.CmdGetTargets, ConID: h.conID})
	b.PutU32(startIndex)

	rsp, err := h.execute(b.Bytes())
	if err != nil {
		return nil, 0, err
	}
	c := wire.NewCursor(rsp)
	hdr, err := pl1.DecodeResponseHeader(c)
	if err != nil {
		return nil, 0, errkind.Newf(errkind.ServerConnection, "serverconn.ListTargets", "short header: %v", err)
	}
	if hdr.Cmd != pl1.CmdGetTargets {
		return nil, 0, errkind.Newf(errkind.ServerConnection, "serverconn.ListTargets", "command mismatch: got %s", hdr.Cmd)
	}
	if err := errForCode("serverconn.ListTargets", hdr.Err); err != nil {
		return nil, 0, err
	}
	gotStart, err := c.TakeU32()
	if err != nil {
		return nil, 0, errkind.Newf(errkind.ServerConnection, "serverconn.ListTargets", "short start_index: %v", err)
	}
	numNow, err := c.TakeU32()
	if err != nil {
		return nil, 0, errkind.Newf(errkind.ServerConnection, "serverconn.ListTargets", "short num_now: %v", err)
	}
	numTotal, err := c.TakeU32()
	if err != nil {
		return nil, 0, errkind.Newf(errkind.ServerConnection, "serverconn.ListTargets", "short num_total: %v", err)
	}
	if gotStart != startIndex {
		return nil, 0, errkind.Newf(errkind.ServerConnection, "serverconn.ListTargets", "start_index echo mismatch: got %d, want %d", gotStart, startIndex)
	}

	page := make([]TargetInfo, 0, numNow)
	for i := uint32(0); i < numNow; i++ {
		id, err := c.TakeU32()
		if err != nil {
			return nil, 0, errkind.Newf(errkind.ServerConnection, "serverconn.ListTargets", "short record id: %v", err)
		}
		deviceType, err := c.TakeU32()
		if err != nil {
			return nil, 0, errkind.Newf(errkind.ServerConnection, "serverconn.ListTargets", "short record device_type: %v", err)
		}
		identifier, err := c.TakeFixedASCII(targetNameWidth)
		if err != nil {
			return nil, 0, errkind.Newf(errkind.ServerConnection, "serverconn.ListTargets", "short record identifier: %v", err)
		}
		page = append(page, TargetInfo{ID: id, Identifier: identifier, DeviceType: deviceType})
	}
	return page, numTotal, nil
}

// ListTargetClients stitches get-clients pages for the target identified
// by targetID, capped at maxClientsPerList and sorted by connect time
// ascending.
func (h *Handler) ListTargetClients(targetID uint32) ([]ClientInfo, error) {
	var out []ClientInfo
	startIndex := uint32(0)
	for {
		page, numTotal, err := h.getClientsPage(targetID, startIndex)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		startIndex += uint32(len(page))
		if len(page) == 0 || startIndex >= numTotal || len(out) >= maxClientsPerList {
			break
		}
	}
	if len(out) > maxClientsPerList {
		out = out[:maxClientsPerList]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectTimeMicros < out[j].ConnectTimeMicros })
	return out, nil
}

func (h *Handler) getClientsPage(targetID, startIndex uint32) ([]ClientInfo, uint32, error) {
	b := wire.NewBuilder(pl1.HeaderSize + 8)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: pl1.BodyWordLen(8), Cmd: pl1.CmdGetClients, ConID: h.conID})
	b.PutU32(targetID)
	b.PutU32(startIndex)

	rsp, err := h.execute(b.Bytes())
	if err != nil {
		return nil, 0, err
	}
	c := wire.NewCursor(rsp)
	hdr, err := pl1.DecodeResponseHeader(c)
	if err != nil {
		return nil, 0, errkind.Newf(errkind.ServerConnection, "serverconn.ListTargetClients", "short header: %v", err)
	}
	if hdr.Cmd != pl1.CmdGetClients {
		return nil, 0, errkind.Newf(errkind.ServerConnection, "serverconn.ListTargetClients", "command mismatch: got %s", hdr.Cmd)
	}
	if err := errForCode("serverconn.ListTargetClients", hdr.Err); err != nil {
		return nil, 0, err
	}
	gotStart, err := c.TakeU32()
	if err != nil {
		return nil, 0, errkind.Newf(errkind.ServerConnection, "serverconn.ListTargetClients", "short start_index: %v", err)
	}
	numNow, err := c.TakeU32()
	if err != nil {
		return nil, 0, errkind.Newf(errkind.ServerConnection, "serverconn.ListTargetClients", "short num_now: %v", err)
	}
	numTotal, err := c.TakeU32()
	if err != nil {
		return nil, 0, errkind.Newf(errkind.ServerConnection, "serverconn.ListTargetClients", "short num_total: %v", err)
	}
	if gotStart != startIndex {
		return nil, 0, errkind.Newf(errkind.ServerConnection, "serverconn.ListTargetClients", "start_index echo mismatch: got %d, want %d", gotStart, startIndex)
	}

	page := make([]ClientInfo, 0, numNow)
	for i := uint32(0); i < numNow; i++ {
		id, err := c.TakeU32()
		if err != nil {
			return nil, 0, errkind.Newf(errkind.ServerConnection, "serverconn.ListTargetClients", "short record id: %v", err)
		}
		connectTime, err := c.TakeU64()
		if err != nil {
			return nil, 0, errkind.Newf(errkind.ServerConnection, "serverconn.ListTargetClients", "short record connect_time: %v", err)
		}
		name, err := c.TakeFixedASCII(clientNameWidth)
		if err != nil {
			return nil, 0, errkind.Newf(errkind.ServerConnection, "serverconn.ListTargetClients", "short record name: %v", err)
		}
		page = append(page, ClientInfo{ID: id, Name: name, ConnectTimeMicros: connectTime})
	}
	return page, numTotal, nil
}
