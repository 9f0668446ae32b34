package rtc

import "github.com/pion/webrtc/v4"

// DefaultSTUNServers mirrors the teacher's internal/transport.stunServers:
// public Google STUN, no TURN. A caller with a TURN relay available can
// build its own []webrtc.ICEServer and pass it to NewController instead.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// DefaultICEServers returns the STUN-only server list used when a
// Controller is constructed without an explicit one.
func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{{URLs: DefaultSTUNServers}}
}
