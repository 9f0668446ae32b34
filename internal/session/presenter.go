// Package session implements the orchestrator (spec C10): room identity,
// the sender-side offer-creation timing, and the glue between the
// signaling link, the peer connection controller, and the send/receive
// pipelines. It is grounded on the teacher's internal/app
// (RunHost/RunClient top-level orchestration) generalized from a fixed
// host/client pairing to a room-brokered sender/receiver pairing with an
// explicit approval step.
package session

import (
	"github.com/quietwire/wormhole/internal/progress"
	"github.com/quietwire/wormhole/internal/room"
	"github.com/quietwire/wormhole/internal/transfer/recv"
)

// Presenter is the UI port every orchestration path reports through. The
// CLI's pterm-backed implementation is one concrete Presenter; a future GUI
// would supply another without touching this package.
type Presenter interface {
	Status(string)
	Progress(progress.Report)
	Error(error)
	ApprovalRequest(peer room.PeerHandle) bool
	DownloadReady(recv.Artifact)
}
