// Package admin implements the Admin Channel Client (C1): a
// newline-framed JSON request/response client to the overlay router's
// administrative socket, with candidate-address dialing and optional
// reconnect-with-backoff.
package admin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"
)

const maxLineLength = 1 << 20 // admin responses (getPeers) can be large.

// Client speaks the jumper's admin-channel protocol. Operations are
// strictly serialized: the wire protocol allows a single outstanding
// request at a time (spec.md 4.1 "Concurrency contract").
type Client struct {
	candidates []string
	reconnect  bool
	backoffCap time.Duration
	dialer     net.Dialer

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// Config configures a new Client.
type Config struct {
	// Candidates is the ordered list of URIs to try, e.g.
	// "unix:///var/run/yggdrasil.sock" or "tcp://localhost:9001".
	Candidates []string
	// Reconnect enables transparent reopening on failure with exponential
	// backoff, capped at BackoffCap (spec.md 4.1).
	Reconnect  bool
	BackoffCap time.Duration
}

// New creates a Client. It does not dial; the first request triggers the
// initial connection attempt.
func New(cfg Config) *Client {
	cap := cfg.BackoffCap
	if cap <= 0 {
		cap = 30 * time.Second
	}
	return &Client{
		candidates: cfg.Candidates,
		reconnect:  cfg.Reconnect,
		backoffCap: cap,
	}
}

// Close closes the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

// ensureConn returns a live connection, dialing (and, if reconnect is
// enabled, retrying with backoff) as needed. Caller must hold c.mu.
func (c *Client) ensureConn(ctx context.Context) (net.Conn, *bufio.Reader, error) {
	if c.conn != nil {
		return c.conn, c.reader, nil
	}

	conn, err := c.dialFirstReachable(ctx)
	if err == nil {
		c.conn = conn
		c.reader = bufio.NewReaderSize(conn, maxLineLength)
		return c.conn, c.reader, nil
	}
	if !c.reconnect {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	backoff := 500 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(backoff):
		}
		conn, err := c.dialFirstReachable(ctx)
		if err == nil {
			c.conn = conn
			c.reader = bufio.NewReaderSize(conn, maxLineLength)
			return c.conn, c.reader, nil
		}
		backoff *= 2
		if backoff > c.backoffCap {
			backoff = c.backoffCap
		}
	}
}

func (c *Client) dialFirstReachable(ctx context.Context) (net.Conn, error) {
	var lastErr error
	for _, raw := range c.candidates {
		network, addr, err := splitCandidate(raw)
		if err != nil {
			lastErr = err
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		conn, err := c.dialer.DialContext(dialCtx, network, addr)
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNoCandidates
	}
	return nil, lastErr
}

func splitCandidate(raw string) (network, addr string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("admin: bad candidate %q: %w", raw, err)
	}
	switch u.Scheme {
	case "unix":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		return "unix", path, nil
	case "tcp":
		return "tcp", u.Host, nil
	default:
		return "", "", fmt.Errorf("admin: unsupported candidate scheme %q", u.Scheme)
	}
}

// do sends one request and decodes its response. It handles reconnection
// transparently: a write/read failure drops the connection so the next
// call to ensureConn redials (or fails immediately if reconnect is off).
func (c *Client) do(ctx context.Context, req request) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, reader, err := c.ensureConn(ctx)
	if err != nil {
		return nil, newError(req.Request, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(10 * time.Second))
	}
	defer conn.SetDeadline(time.Time{})

	line, err := json.Marshal(req)
	if err != nil {
		return nil, newError(req.Request, err)
	}
	line = append(line, '\n')

	if _, err := conn.Write(line); err != nil {
		c.dropConn()
		return nil, newError(req.Request, fmt.Errorf("%w: %v", ErrUnavailable, err))
	}

	raw, err := reader.ReadString('\n')
	if err != nil {
		c.dropConn()
		return nil, newError(req.Request, fmt.Errorf("%w: %v", ErrUnavailable, err))
	}

	var resp response
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &resp); err != nil {
		return nil, newError(req.Request, fmt.Errorf("%w: %v", ErrProtocol, err))
	}
	if resp.Status != "success" {
		msg := resp.Error
		if msg == "" {
			msg = "request failed"
		}
		return nil, newError(req.Request, fmt.Errorf("%w: %s", ErrProtocol, msg))
	}
	return resp.Response, nil
}

// dropConn closes and clears the current connection so the next request
// redials. Caller must hold c.mu.
func (c *Client) dropConn() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
}

// GetSelf issues getSelf.
func (c *Client) GetSelf(ctx context.Context) (SelfInfo, error) {
	raw, err := c.do(ctx, request{Request: "getSelf", Keepalive: true})
	if err != nil {
		return SelfInfo{}, err
	}
	var self SelfInfo
	if err := json.Unmarshal(raw, &self); err != nil {
		return SelfInfo{}, newError("getSelf", fmt.Errorf("%w: %v", ErrProtocol, err))
	}
	return self, nil
}

// GetPeers issues getPeers.
func (c *Client) GetPeers(ctx context.Context) ([]PeerRecord, error) {
	raw, err := c.do(ctx, request{Request: "getPeers", Keepalive: true})
	if err != nil {
		return nil, err
	}
	var body struct {
		Peers []PeerRecord `json:"peers"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, newError("getPeers", fmt.Errorf("%w: %v", ErrProtocol, err))
	}
	return body.Peers, nil
}

// AddPeer issues addPeer(endpointURL), e.g. "tcp://1.2.3.4:5555".
func (c *Client) AddPeer(ctx context.Context, endpointURL string) error {
	_, err := c.do(ctx, request{Request: "addPeer", Keepalive: true, Endpoint: endpointURL})
	return err
}

// RemovePeer issues removePeer(endpointURL).
func (c *Client) RemovePeer(ctx context.Context, endpointURL string) error {
	_, err := c.do(ctx, request{Request: "removePeer", Keepalive: true, Endpoint: endpointURL})
	return err
}
