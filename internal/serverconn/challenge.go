package serverconn

import (
	"github.com/plbridge/plclient/internal/auth"
	"github.com/plbridge/plclient/internal/errkind"
	"github.com/plbridge/plclient/internal/pl1"
	"github.com/plbridge/plclient/internal/wire"
)

// lastChallenge caches the most recently fetched challenge so a repeated
// GetChallenge call can detect a server-side session reset (§4.3: reuses
// crypto/subtle.ConstantTimeCompare via internal/auth, generalized from a
// single shared token to a per-session challenge blob).
func (h *Handler) GetChallenge() ([challengeSize]byte, error) {
	b := wire.NewBuilder(pl1.HeaderSize)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{Cmd: pl1.CmdGetChallenge, ConID: h.conID})

	rsp, err := h.execute(b.Bytes())
	if err != nil {
		return [challengeSize]byte{}, err
	}
	c := wire.NewCursor(rsp)
	hdr, err := pl1.DecodeResponseHeader(c)
	if err != nil {
		return [challengeSize]byte{}, errkind.Newf(errkind.ServerConnection, "serverconn.GetChallenge", "short header: %v", err)
	}
	if err := validateControlResponse("serverconn.GetChallenge", rsp, pl1.CmdGetChallenge, hdr, challengeSize); err != nil {
		return [challengeSize]byte{}, err
	}
	if err := errForCode("serverconn.GetChallenge", hdr.Err); err != nil {
		return [challengeSize]byte{}, err
	}
	raw, err := c.TakeBytes(challengeSize)
	if err != nil {
		return [challengeSize]byte{}, errkind.Newf(errkind.ServerConnection, "serverconn.GetChallenge", "short challenge: %v", err)
	}

	var challenge [challengeSize]byte
	copy(challenge[:], raw)

	if h.lastChallenge != nil {
		if verr := auth.VerifyChallenge(h.lastChallenge[:], challenge[:]); verr != nil {
			h.logger.Warn().Msg("get-challenge: server issued a different challenge than the cached one")
		}
	}
	cp := challenge
	h.lastChallenge = &cp
	return challenge, nil
}

// SetDeviceKey sends the device unlock key derived from a prior
// GetChallenge call. key is carried verbatim; deriving a response from the
// challenge is the caller's responsibility (the wire protocol does not
// define a derivation algorithm, only the exchange of opaque blobs).
func (h *Handler) SetDeviceKey(key []byte) error {
	if len(key) == 0 || len(key) > ScratchSize-pl1.HeaderSize {
		return errkind.New(errkind.Parameter, "serverconn.SetDeviceKey", "key length out of range")
	}
	padded := (len(key) + 3) &^ 3
	wl := pl1.BodyWordLen(padded)
	b := wire.NewBuilder(pl1.HeaderSize + padded)
	pl1.EncodeRequestHeader(b, pl1.RequestHeader{WL: wl, Cmd: pl1.CmdSetDeviceKey, ConID: h.conID})
	b.PutBytes(key)
	if pad := padded - len(key); pad > 0 {
		b.PutZeroes(pad)
	}

	rsp, err := h.execute(b.Bytes())
	if err != nil {
		return err
	}
	c := wire.NewCursor(rsp)
	hdr, err := pl1.DecodeResponseHeader(c)
	if err != nil {
		return errkind.Newf(errkind.ServerConnection, "serverconn.SetDeviceKey", "short header: %v", err)
	}
	if err := validateControlResponse("serverconn.SetDeviceKey", rsp, pl1.CmdSetDeviceKey, hdr, 0); err != nil {
		return err
	}
	return errForCode("serverconn.SetDeviceKey", hdr.Err)
}
