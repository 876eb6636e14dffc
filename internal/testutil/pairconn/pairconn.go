// Package pairconn supplies an in-memory duplex net.Conn pair for mailbox
// and session tests that would otherwise need a real TCP socket.
package pairconn

import "net"

// New returns two ends of an in-memory pipe; writes to one are readable
// from the other. Both ends support SetDeadline the way net.Pipe has since
// Go 1.10, so mailbox timeout behaviour is exercisable without a socket.
func New() (client, server net.Conn) {
	return net.Pipe()
}
