package rendezvous

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/LeJamon/yggjumper/internal/overlay"
)

// Channel is one rendezvous session with a single remote peer. Both sides
// read with a deadline on every frame (spec.md 4.3: "timeouts at every
// read, default ~10s"); a channel may carry multiple sequential transport
// attempts (hello once, then offer/accept/go/result per attempt).
type Channel struct {
	conn        net.Conn
	reader      *bufio.Reader
	readTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewChannel wraps an established overlay connection to the remote peer's
// listen_port.
func NewChannel(conn net.Conn, readTimeout time.Duration) *Channel {
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	return &Channel{
		conn:        conn,
		reader:      bufio.NewReaderSize(conn, MaxFrameSize+1),
		readTimeout: readTimeout,
	}
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) write(f frame) error {
	if c.isClosed() {
		return ErrClosed
	}
	b, err := json.Marshal(f)
	if err != nil {
		return &ErrProtocol{Reason: "encode", Err: err}
	}
	if len(b) > MaxFrameSize {
		return &ErrProtocol{Reason: "outgoing frame exceeds size limit"}
	}
	b = append(b, '\n')
	c.conn.SetWriteDeadline(time.Now().Add(c.readTimeout))
	_, err = c.conn.Write(b)
	return err
}

// readFrame reads and decodes the next frame, enforcing the 4 KiB limit
// and the per-read deadline. A malformed or oversized frame is fatal for
// the channel (testable property 9): it closes the connection.
func (c *Channel) readFrame() (frame, error) {
	if c.isClosed() {
		return frame{}, ErrClosed
	}
	c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))

	line, err := c.reader.ReadSlice('\n')
	if err != nil {
		if err == bufio.ErrBufferFull {
			c.Close()
			return frame{}, &ErrProtocol{Reason: "frame exceeds 4KiB limit"}
		}
		if err == io.EOF {
			return frame{}, ErrClosed
		}
		return frame{}, err
	}
	if len(line)-1 > MaxFrameSize { // line ends with the '\n' delimiter.
		c.Close()
		return frame{}, &ErrProtocol{Reason: "frame exceeds 4KiB limit"}
	}

	var f frame
	if err := json.Unmarshal(line, &f); err != nil {
		c.Close()
		return frame{}, &ErrProtocol{Reason: "malformed frame", Err: err}
	}
	return f, nil
}

// SendHello writes a hello frame.
func (c *Channel) SendHello(h Hello) error { return c.write(h.toFrame()) }

// ReadHello reads and validates a hello frame, checking the protocol
// version (spec.md 4.3: "version is checked; mismatched versions abort
// with a clear reason").
func (c *Channel) ReadHello() (Hello, error) {
	f, err := c.readFrame()
	if err != nil {
		return Hello{}, err
	}
	if f.Type != typeHello {
		return Hello{}, &ErrProtocol{Reason: fmt.Sprintf("expected hello, got %s", f.Type)}
	}
	if f.Version != ProtocolVersion {
		c.Close()
		return Hello{}, &ErrVersionMismatch{Local: ProtocolVersion, Remote: f.Version}
	}
	return Hello{Version: f.Version, SupportedTransports: f.SupportedTransports}, nil
}

// SendOffer writes an offer frame.
func (c *Channel) SendOffer(o Offer) error { return c.write(o.toFrame()) }

// ReadOffer reads an offer frame.
func (c *Channel) ReadOffer() (Offer, error) {
	f, err := c.readFrame()
	if err != nil {
		return Offer{}, err
	}
	if f.Type != typeOffer {
		return Offer{}, &ErrProtocol{Reason: fmt.Sprintf("expected offer, got %s", f.Type)}
	}
	return Offer{Transport: f.Transport, ExternalIP: f.ExternalIP, ExternalPort: f.ExternalPort, Nonce: f.Nonce}, nil
}

// SendAccept writes an accept frame.
func (c *Channel) SendAccept(a Accept) error { return c.write(a.toFrame()) }

// ReadAccept reads an accept frame.
func (c *Channel) ReadAccept() (Accept, error) {
	f, err := c.readFrame()
	if err != nil {
		return Accept{}, err
	}
	if f.Type != typeAccept {
		return Accept{}, &ErrProtocol{Reason: fmt.Sprintf("expected accept, got %s", f.Type)}
	}
	return Accept{Transport: f.Transport, ExternalIP: f.ExternalIP, ExternalPort: f.ExternalPort, Nonce: f.Nonce, EchoNonce: f.EchoNonce}, nil
}

// SendGo writes a go frame.
func (c *Channel) SendGo(g Go) error { return c.write(g.toFrame()) }

// ReadGo reads a go frame.
func (c *Channel) ReadGo() (Go, error) {
	f, err := c.readFrame()
	if err != nil {
		return Go{}, err
	}
	if f.Type != typeGo {
		return Go{}, &ErrProtocol{Reason: fmt.Sprintf("expected go, got %s", f.Type)}
	}
	return Go{T0UnixMs: f.T0UnixMs}, nil
}

// SendResult writes an advisory result frame. Errors are intentionally
// swallowed by callers that treat this as best-effort.
func (c *Channel) SendResult(r Result) error { return c.write(r.toFrame()) }

// ReadResult reads a result frame.
func (c *Channel) ReadResult() (Result, error) {
	f, err := c.readFrame()
	if err != nil {
		return Result{}, err
	}
	if f.Type != typeResult {
		return Result{}, &ErrProtocol{Reason: fmt.Sprintf("expected result, got %s", f.Type)}
	}
	return Result{OK: f.OK, Reason: f.Reason}, nil
}

// NegotiateT0 computes the synchronized start time both sides must honor:
// max(now on both sides) + delta (spec.md 5: "t0 = max(now on both sides)
// + δ"). It takes the later of the two clock readings it is given.
func NegotiateT0(localNow, remoteNow time.Time, delta time.Duration) time.Time {
	t0 := localNow
	if remoteNow.After(t0) {
		t0 = remoteNow
	}
	return t0.Add(delta)
}

// DialTimeout is the default deadline for establishing the overlay-carried
// TCP connection that the rendezvous channel runs over.
const DialTimeout = 10 * time.Second

// Dial opens an outbound rendezvous channel to remote on the agreed
// listen_port, through the overlay. The jumper does not implement the
// overlay's own routing; it relies on the overlay's localhost-equivalent
// reachability of [overlayAddress]:listen_port, exactly as any other
// overlay-carried service would.
func Dial(ctx context.Context, remote overlay.Address, listenPort int, readTimeout time.Duration) (*Channel, error) {
	d := net.Dialer{}
	addr := net.JoinHostPort(remote.String(), fmt.Sprint(listenPort))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: dial %s: %w", addr, err)
	}
	return NewChannel(conn, readTimeout), nil
}
