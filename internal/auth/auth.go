// Package auth provides the timing-safe comparison serverconn uses for the
// device unlock challenge/key exchange.
package auth

import (
	"crypto/subtle"
	"errors"
)

// ErrChallengeMismatch is returned when a challenge blob does not match the
// value it is being verified against.
var ErrChallengeMismatch = errors.New("auth: challenge mismatch")

// VerifyChallenge confirms got matches expected in constant time. ServerConn
// uses this to detect a server-side session reset when get-challenge is
// called again and the peer returns a different blob than the one cached
// from the first call.
func VerifyChallenge(expected, got []byte) error {
	if len(expected) != len(got) {
		return ErrChallengeMismatch
	}
	if subtle.ConstantTimeCompare(expected, got) != 1 {
		return ErrChallengeMismatch
	}
	return nil
}
