// Package config holds process configuration for the relay and the peer CLI.
package config

import (
	"net"
	"os"

	"github.com/google/uuid"
)

const (
	DefaultRelayAddr   = ":3000"
	DefaultRelayURL    = "ws://localhost:3000/ws"
	DefaultDownloadDir = "downloads"
	DefaultDBPath      = "transfers.sqlite3"
	DefaultReadLimit   = 1 << 20
)

var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
}

type Relay struct {
	Addr      string
	LogLevel  string
	ReadLimit int64
}

type Peer struct {
	RelayURL    string
	PeerID      string
	STUNServers []string
	DownloadDir string
	DBPath      string
	LogLevel    string
}

// DefaultRelay returns relay defaults with PORT and LOG_LEVEL applied.
func DefaultRelay() Relay {
	cfg := Relay{
		Addr:      DefaultRelayAddr,
		LogLevel:  os.Getenv("LOG_LEVEL"),
		ReadLimit: DefaultReadLimit,
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Addr = net.JoinHostPort("", port)
	}
	return cfg
}

// DefaultPeer returns peer defaults with RELAY_URL and LOG_LEVEL applied.
// PeerID is left empty; see EnsurePeerID.
func DefaultPeer() Peer {
	cfg := Peer{
		RelayURL:    DefaultRelayURL,
		STUNServers: append([]string(nil), DefaultSTUNServers...),
		DownloadDir: DefaultDownloadDir,
		DBPath:      DefaultDBPath,
		LogLevel:    os.Getenv("LOG_LEVEL"),
	}
	if url := os.Getenv("RELAY_URL"); url != "" {
		cfg.RelayURL = url
	}
	return cfg
}

// EnsurePeerID fills in a random uuid when no peer id was supplied.
func (p *Peer) EnsurePeerID() string {
	if p.PeerID == "" {
		p.PeerID = uuid.NewString()
	}
	return p.PeerID
}
