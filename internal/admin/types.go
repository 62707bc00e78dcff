package admin

import "encoding/json"

// SelfInfo is the response to getSelf (spec.md 4.1).
type SelfInfo struct {
	Address         string `json:"address"`
	PublicKey       string `json:"key"`
	ProtocolVersion string `json:"build_version"`
}

// NodeInfo is the optional nodeinfo blob a peer may advertise; its only
// field this spec cares about is Jumper, used by the
// only_peers_advertising_jumper filter (spec.md 5).
type NodeInfo struct {
	Jumper bool `json:"jumper"`
}

// PeerRecord is one entry of the getPeers response (spec.md 4.1).
type PeerRecord struct {
	Address        string    `json:"address"`
	PublicKey      string    `json:"key"`
	Uptime         int64     `json:"uptime"`
	BytesSent      uint64    `json:"bytes_sent"`
	BytesReceived  uint64    `json:"bytes_recvd"`
	RemoteEndpoint string    `json:"remote"`
	Protocol       string    `json:"protocol,omitempty"`
	NodeInfo       *NodeInfo `json:"nodeinfo,omitempty"`
}

// request is the envelope every admin-channel request carries.
type request struct {
	Request   string `json:"request"`
	Keepalive bool   `json:"keepalive"`
	Endpoint  string `json:"endpoint,omitempty"`
}

// response is the envelope every admin-channel response carries.
type response struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}
