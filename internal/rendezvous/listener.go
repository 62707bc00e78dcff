package rendezvous

import (
	"fmt"
	"net"
	"time"
)

// Listen opens the overlay-carried rendezvous listener on listenPort. The
// overlay routes connections addressed to <remote overlay address>:listenPort
// straight to this socket, so the accepted connection's remote IP is
// already the peer's overlay address (spec.md 4.3); no further identity
// exchange is needed to know who dialed in.
func Listen(listenPort int) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", listenPort))
	if err != nil {
		return nil, fmt.Errorf("rendezvous: listen :%d: %w", listenPort, err)
	}
	return ln, nil
}

// Accept wraps the next inbound connection from ln as a Channel, along
// with the overlay address the overlay's routing reports for it.
func Accept(ln net.Listener, readTimeout time.Duration) (*Channel, net.Addr, error) {
	conn, err := ln.Accept()
	if err != nil {
		return nil, nil, err
	}
	return NewChannel(conn, readTimeout), conn.RemoteAddr(), nil
}
