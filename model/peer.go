package model

import (
	"net"
	"strconv"
)

// PeerInfo is a read-only snapshot of a discovered remote host.
type PeerInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IPAddress  string `json:"ip_address"`
	Port       int    `json:"port"`
	Platform   string `json:"platform"`
	Version    string `json:"version"`
	LastSeenMs int64  `json:"last_seen_ms"`
}

// Endpoint returns the "host:port" transfer endpoint for this peer.
func (p PeerInfo) Endpoint() string {
	return net.JoinHostPort(p.IPAddress, strconv.Itoa(p.Port))
}
