// Package stunresolver implements the STUN Resolver (C2): given a local
// port and a list of STUN server hostnames, it fans out concurrent Binding
// Requests, cross-validates the responses, and returns the external
// endpoint the NAT maps that local port to.
package stunresolver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/libp2p/go-reuseport"
	"golang.org/x/sync/errgroup"

	"github.com/LeJamon/yggjumper/internal/overlay"
)

// Resolver resolves external endpoints via one or more STUN servers.
type Resolver struct {
	// PerServerTimeout bounds a single server's round trip (spec.md 4.2,
	// default ~5s).
	PerServerTimeout time.Duration
	// AggregateTimeout bounds the whole Resolve call.
	AggregateTimeout time.Duration
}

// New returns a Resolver with the spec's suggested defaults.
func New() *Resolver {
	return &Resolver{
		PerServerTimeout: 5 * time.Second,
		AggregateTimeout: 8 * time.Second,
	}
}

// Resolve queries every server in servers (each "host:port") for the
// external mapping of localPort, fanning the queries out concurrently over
// transport, and returns the cross-validated endpoint.
func (r *Resolver) Resolve(ctx context.Context, transport overlay.Transport, localPort int, servers []string, opts Options) (Endpoint, []ServerResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.AggregateTimeout)
	defer cancel()

	resolved, err := r.resolveServers(ctx, servers)
	if err != nil && len(resolved) == 0 {
		if ctx.Err() == context.DeadlineExceeded {
			return Endpoint{}, nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Endpoint{}, nil, fmt.Errorf("%w: %v", ErrAllServersFailed, err)
	}

	var results []ServerResult
	switch {
	case transport.IsStreamLike():
		results = r.queryAllStream(ctx, localPort, resolved)
	default:
		results = r.queryAllDatagram(ctx, localPort, resolved)
	}

	ep, results, err := validate(results, opts)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return Endpoint{}, results, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return ep, results, err
}

type resolvedServer struct {
	name string
	addr string
}

// resolveServers resolves each hostname and keeps every resolved address
// (spec.md 4.2 step 1), tagging each with the original server name for
// diagnostics.
func (r *Resolver) resolveServers(ctx context.Context, servers []string) ([]resolvedServer, error) {
	var (
		mu      sync.Mutex
		out     []resolvedServer
		lastErr error
	)
	var wg sync.WaitGroup
	for _, s := range servers {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			host, port, err := net.SplitHostPort(s)
			if err != nil {
				mu.Lock()
				lastErr = err
				mu.Unlock()
				return
			}
			ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				mu.Lock()
				lastErr = err
				mu.Unlock()
				return
			}
			mu.Lock()
			for _, ip := range ips {
				out = append(out, resolvedServer{name: s, addr: net.JoinHostPort(ip.IP.String(), port)})
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out, lastErr
}

// queryAllStream dials one reuseport TCP connection per resolved server
// address, all bound to localPort, and runs the exchanges concurrently.
func (r *Resolver) queryAllStream(ctx context.Context, localPort int, servers []resolvedServer) []ServerResult {
	results := make([]ServerResult, len(servers))
	g, gctx := errgroup.WithContext(ctx)
	localAddr := fmt.Sprintf(":%d", localPort)

	for i, srv := range servers {
		i, srv := i, srv
		g.Go(func() error {
			req, err := buildBindingRequest()
			if err != nil {
				results[i] = ServerResult{Server: srv.name, Err: err}
				return nil
			}
			conn, err := reuseport.Dial("tcp", localAddr, srv.addr)
			if err != nil {
				results[i] = ServerResult{Server: srv.name, Err: err}
				return nil
			}
			defer conn.Close()

			ep, err := queryStream(gctx, conn, req, r.PerServerTimeout)
			results[i] = ServerResult{Server: srv.name, Endpoint: ep, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// queryAllDatagram binds a single reused-port UDP socket and fans out
// Binding Requests to every resolved server address, demultiplexing
// responses by source address in one read loop.
func (r *Resolver) queryAllDatagram(ctx context.Context, localPort int, servers []resolvedServer) []ServerResult {
	localAddr := fmt.Sprintf(":%d", localPort)
	sock, err := reuseport.ListenPacket("udp", localAddr)
	if err != nil {
		results := make([]ServerResult, len(servers))
		for i, srv := range servers {
			results[i] = ServerResult{Server: srv.name, Err: err}
		}
		return results
	}
	defer sock.Close()

	chans := make(map[string]chan []byte, len(servers))
	for _, srv := range servers {
		chans[srv.addr] = make(chan []byte, 1)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		buf := make([]byte, 1500)
		for {
			n, from, err := sock.ReadFrom(buf)
			if err != nil {
				return
			}
			ch, ok := chans[from.String()]
			if !ok {
				continue
			}
			cp := make([]byte, n)
			copy(cp, buf[:n])
			select {
			case ch <- cp:
			default:
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}()

	results := make([]ServerResult, len(servers))
	var wg sync.WaitGroup
	for i, srv := range servers {
		i, srv := i, srv
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := buildBindingRequest()
			if err != nil {
				results[i] = ServerResult{Server: srv.name, Err: err}
				return
			}
			addr, err := net.ResolveUDPAddr("udp", srv.addr)
			if err != nil {
				results[i] = ServerResult{Server: srv.name, Err: err}
				return
			}
			ep, err := queryDatagram(ctx, sock, addr, req, chans[srv.addr], r.PerServerTimeout)
			results[i] = ServerResult{Server: srv.name, Endpoint: ep, Err: err}
		}()
	}
	wg.Wait()
	sock.SetReadDeadline(time.Now())
	<-readerDone
	return results
}

// validate applies the cross-check algorithm of spec.md 4.2 step 5: with
// cross-check enabled (the default, opts.NoCheck == false), at least two
// successful responses must agree on the same (IP, port); otherwise one
// suffices.
func validate(results []ServerResult, opts Options) (Endpoint, []ServerResult, error) {
	type group struct {
		ep      Endpoint
		servers []string
	}
	var groups []group
	var anySuccess bool

	for _, res := range results {
		if res.Err != nil {
			continue
		}
		anySuccess = true
		found := false
		for gi := range groups {
			if groups[gi].ep.equal(res.Endpoint) {
				groups[gi].servers = append(groups[gi].servers, res.Server)
				found = true
				break
			}
		}
		if !found {
			groups = append(groups, group{ep: res.Endpoint, servers: []string{res.Server}})
		}
	}

	if !anySuccess {
		return Endpoint{}, results, ErrAllServersFailed
	}

	required := 2
	if opts.NoCheck {
		required = 1
	}

	for _, g := range groups {
		if len(g.servers) >= required {
			return g.ep, results, nil
		}
	}

	var servers, addrs []string
	for _, g := range groups {
		servers = append(servers, g.servers...)
		addrs = append(addrs, g.ep.String())
	}
	return Endpoint{}, results, &MismatchError{Servers: servers, Addresses: addrs}
}
