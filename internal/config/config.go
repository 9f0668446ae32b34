// Package config holds the runtime configuration shared between the
// signaling server and the CLI sender/receiver roles, generalizing the
// teacher's minimal host/client Config into the full set of keys spec §6.4
// names, split into a client-visible document and server-only settings.
package config

import (
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/quietwire/wormhole/internal/ratelimit"
	"github.com/quietwire/wormhole/internal/room"
	"github.com/quietwire/wormhole/internal/rtc"
	"github.com/quietwire/wormhole/internal/sink"
	"github.com/quietwire/wormhole/internal/transfer/send"
)

// ClientConfig is the document served at GET /config: every key a peer
// needs to negotiate and tune a transfer, and nothing the server would
// rather keep private (spec §6.4).
type ClientConfig struct {
	ICEServers       []string `json:"iceServers"`
	DefaultChunkSize int      `json:"defaultChunkSize"`
	MinChunkSize     int      `json:"minChunkSize"`
	MaxChunkSize     int      `json:"maxChunkSize"`
	BufferHighWater  int      `json:"bufferHighWater"`
	BufferLowWater   int      `json:"bufferLowWater"`
	MaxInMemorySize  int64    `json:"maxInMemorySize"`
	MaxFileSize      int64    `json:"maxFileSize"`
	AppTitle         string   `json:"appTitle"`
	ThemeColor       string   `json:"themeColor"`
	DonateURL        string   `json:"donateUrl"`
	TermsURL         string   `json:"termsUrl"`
}

// ServerConfig holds settings never exposed through /config.
type ServerConfig struct {
	TrustProxy            bool
	CORSOrigins           []string
	Port                  int
	MaxSignalPayloadBytes int
	MaxPeersPerRoom       int
	RoomTTL               time.Duration

	// InstanceID distinguishes one running server process from another in
	// logs, e.g. across a restart behind a process manager. It has no
	// protocol meaning and is never sent to a peer.
	InstanceID uuid.UUID
}

// Config is the union the signaling process loads at startup.
type Config struct {
	Client ClientConfig
	Server ServerConfig
}

// Default returns the spec's documented defaults (§4.7.1, §4.8.1, §4.8.3,
// §4.9.1, §3, §4.3).
func Default() Config {
	return Config{
		Client: ClientConfig{
			ICEServers:       rtc.DefaultSTUNServers,
			DefaultChunkSize: send.DefaultChunkSize,
			MinChunkSize:     16 * 1024,
			MaxChunkSize:     1024 * 1024,
			BufferHighWater:  send.HighWater,
			BufferLowWater:   rtc.DefaultLowWaterMark,
			MaxInMemorySize:  sink.MaxInMemory,
			MaxFileSize:      0, // 0 == unlimited
			AppTitle:         "wormhole",
			ThemeColor:       "#0f172a",
		},
		Server: ServerConfig{
			Port:                  8080,
			MaxSignalPayloadBytes: ratelimit.DefaultMaxSignalPayload,
			MaxPeersPerRoom:       room.MaxPeersPerRoom,
			RoomTTL:               room.DefaultTTL,
			InstanceID:            uuid.New(),
		},
	}
}

// ICEServersConfig converts the client-visible STUN/TURN URL list into the
// webrtc.ICEServer slice the peer controller expects.
func (c ClientConfig) ICEServersConfig() []webrtc.ICEServer {
	if len(c.ICEServers) == 0 {
		return rtc.DefaultICEServers()
	}
	return []webrtc.ICEServer{{URLs: c.ICEServers}}
}
