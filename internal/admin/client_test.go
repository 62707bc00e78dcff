package admin

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is a minimal newline-JSON admin socket for testing the client
// against the real wire protocol instead of mocking the client itself.
type fakeServer struct {
	ln       net.Listener
	handlers map[string]func(request) response
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeServer{ln: ln, handlers: map[string]func(request) response{}}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeServer) addr() string { return "tcp://" + s.ln.Addr().String() }

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return
		}
		h, ok := s.handlers[req.Request]
		var resp response
		if !ok {
			resp = response{Status: "error", Error: "unknown request"}
		} else {
			resp = h(req)
		}
		out, _ := json.Marshal(resp)
		out = append(out, '\n')
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

func mustRaw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestGetSelf(t *testing.T) {
	s := newFakeServer(t)
	s.handlers["getSelf"] = func(req request) response {
		return response{Status: "success", Response: mustRaw(t, SelfInfo{Address: "200:a::1", PublicKey: "abc", ProtocolVersion: "1.0"})}
	}

	c := New(Config{Candidates: []string{s.addr()}})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	self, err := c.GetSelf(ctx)
	require.NoError(t, err)
	assert.Equal(t, "200:a::1", self.Address)
}

func TestGetPeers(t *testing.T) {
	s := newFakeServer(t)
	s.handlers["getPeers"] = func(req request) response {
		return response{Status: "success", Response: mustRaw(t, map[string]interface{}{
			"peers": []PeerRecord{
				{Address: "200:a::2", RemoteEndpoint: "1.2.3.4:5000", NodeInfo: &NodeInfo{Jumper: true}},
			},
		})}
	}

	c := New(Config{Candidates: []string{s.addr()}})
	defer c.Close()

	peers, err := c.GetPeers(context.Background())
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.True(t, peers[0].NodeInfo.Jumper)
}

func TestAddPeerThenRemovePeerIdempotent(t *testing.T) {
	s := newFakeServer(t)
	var added, removed []string
	s.handlers["addPeer"] = func(req request) response {
		added = append(added, req.Endpoint)
		return response{Status: "success"}
	}
	s.handlers["removePeer"] = func(req request) response {
		removed = append(removed, req.Endpoint)
		return response{Status: "success"}
	}

	c := New(Config{Candidates: []string{s.addr()}})
	defer c.Close()

	require.NoError(t, c.AddPeer(context.Background(), "tcp://1.2.3.4:9"))
	require.NoError(t, c.RemovePeer(context.Background(), "tcp://1.2.3.4:9"))
	assert.Equal(t, []string{"tcp://1.2.3.4:9"}, added)
	assert.Equal(t, []string{"tcp://1.2.3.4:9"}, removed)
}

func TestErrorResponseSurfacesProtocolError(t *testing.T) {
	s := newFakeServer(t)
	s.handlers["getSelf"] = func(req request) response {
		return response{Status: "error", Error: "boom"}
	}

	c := New(Config{Candidates: []string{s.addr()}})
	defer c.Close()

	_, err := c.GetSelf(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestNoReachableCandidateIsUnavailable(t *testing.T) {
	c := New(Config{Candidates: []string{"tcp://127.0.0.1:1"}})
	defer c.Close()

	_, err := c.GetSelf(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}
