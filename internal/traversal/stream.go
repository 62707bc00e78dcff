package traversal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/libp2p/go-reuseport"
)

// AttemptStream races a reuseport listen-accept against a reuseport
// connect, both bound to localPort, starting at or after t0 (spec.md 4.4
// "Stream"). Whichever yields a connected socket first wins; accept wins
// a tie, since aborting our own in-flight connect is cheaper than
// aborting the peer's (spec.md 4.4).
func AttemptStream(ctx context.Context, localPort int, remote RemoteEndpoint, t0 time.Time, cfg Config) (net.Conn, error) {
	if err := sleepUntil(ctx, t0); err != nil {
		return nil, err
	}

	localAddr := fmt.Sprintf(":%d", localPort)
	ln, err := reuseport.Listen("tcp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("traversal: listen %s: %w", localAddr, err)
	}
	defer ln.Close()

	acceptCh := make(chan outcome, 1)
	connectCh := make(chan outcome, 1)

	go func() {
		conn, err := ln.Accept()
		acceptCh <- outcome{conn, err}
	}()
	go func() {
		conn, err := dialWithRetries(ctx, localAddr, remote.hostPort(), cfg)
		connectCh <- outcome{conn, err}
	}()

	var accepted, connected outcome
	var haveAccept, haveConnect bool

	for {
		select {
		case <-ctx.Done():
			closeOutcome(accepted)
			closeOutcome(connected)
			return nil, ErrCancelled
		case accepted = <-acceptCh:
			haveAccept = true
		case connected = <-connectCh:
			haveConnect = true
		}

		if haveAccept && accepted.err == nil {
			// Accept wins ties: abandon any in-flight/succeeded connect.
			closeOutcome(connected)
			return accepted.conn, nil
		}
		if haveConnect && connected.err == nil && haveAccept {
			// Accept already failed; connect succeeded.
			return connected.conn, nil
		}
		if haveConnect && connected.err == nil && !haveAccept {
			// Connect succeeded first; give accept a brief chance to win
			// the tie, but don't block indefinitely.
			select {
			case accepted = <-acceptCh:
				haveAccept = true
				if accepted.err == nil {
					connected.conn.Close()
					return accepted.conn, nil
				}
				return connected.conn, nil
			case <-time.After(50 * time.Millisecond):
				return connected.conn, nil
			case <-ctx.Done():
				connected.conn.Close()
				return nil, ErrCancelled
			}
		}
		if haveAccept && haveConnect && accepted.err != nil && connected.err != nil {
			return nil, fmt.Errorf("%w: accept=%v connect=%v", ErrAllAttemptsFailed, accepted.err, connected.err)
		}
	}
}

type outcome struct {
	conn net.Conn
	err  error
}

func closeOutcome(o outcome) {
	if o.conn != nil {
		o.conn.Close()
	}
}

// dialWithRetries attempts up to cfg.MaxAttempts reuseport dials. A
// "connection refused" within RefusedFastWindow is treated as "port not
// yet open on the peer" and retried without counting against the hard
// attempt budget beyond a small sub-cap (spec.md 4.4).
func dialWithRetries(ctx context.Context, localAddr, remoteAddr string, cfg Config) (net.Conn, error) {
	var lastErr error
	softRetries := 0
	const maxSoftRetries = 5

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		start := time.Now()
		conn, err := reuseport.Dial("tcp", localAddr, remoteAddr)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if errors.Is(err, syscall.ECONNREFUSED) && time.Since(start) < cfg.RefusedFastWindow && softRetries < maxSoftRetries {
			softRetries++
			attempt--
		}

		select {
		case <-time.After(cfg.AttemptDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func sleepUntil(ctx context.Context, t0 time.Time) error {
	d := time.Until(t0)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StreamTraversalURL renders the addPeer-ready URL for a completed
// traversal of any transport, given its scheme (spec.md 6).
func StreamTraversalURL(scheme string, remote RemoteEndpoint) string {
	return scheme + "://" + net.JoinHostPort(remote.IP.String(), strconv.Itoa(remote.Port))
}
