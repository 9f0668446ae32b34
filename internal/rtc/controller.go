package rtc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/quietwire/wormhole/internal/util"
)

// DefaultLowWaterMark is the data channel's bufferedAmountLowThreshold
// (spec §4.7.1).
const DefaultLowWaterMark = 262144

// OpenTimeout is how long the controller waits for the data channel to
// reach the open state before reporting a failure (spec §4.7.1).
const OpenTimeout = 30 * time.Second

// DisconnectTimeout is how long a "disconnected" connection state is
// tolerated before the controller surfaces "peer went offline" (spec §4.7.2).
const DisconnectTimeout = 4 * time.Second

// RestartDelay is the debounce before a sender whose peer vanished tears
// down and recreates its connection (spec §4.7.3).
const RestartDelay = 250 * time.Millisecond

// Signaler is the negotiation transport the controller emits offers,
// answers, and local candidates through. internal/session supplies an
// implementation backed by a signaling.Link.
type Signaler interface {
	SendOffer(webrtc.SessionDescription) error
	SendAnswer(webrtc.SessionDescription) error
	SendCandidate(webrtc.ICECandidateInit) error
}

type lifecycleFlags struct {
	intentionalClose  bool
	transferComplete  bool
	hasRemotePeer     bool
	everConnected     bool
	restartingForPeer bool
}

// Controller drives the C7 state machine for a single room: negotiation,
// the candidate queue, the disconnect/restart timers, and data channel
// lifecycle. It is the generalization of the teacher's
// internal/transport.Transport from "always-on tunnel" to "negotiated,
// restart-capable transfer channel."
type Controller struct {
	signaler   Signaler
	iceServers []webrtc.ICEServer

	mu    sync.Mutex
	role  Role
	state State
	pc    *webrtc.PeerConnection
	dc    DataChannel
	queue *CandidateQueue
	flags lifecycleFlags

	restartTimer    *time.Timer
	disconnectTimer *time.Timer
	openDeadline    *time.Timer

	localCandidates  int
	remoteCandidates int

	onState   func(State)
	onChannel func(DataChannel)
	onFailure func(error)
	onRestart func()
}

// NewController creates a Controller. A nil iceServers uses DefaultICEServers.
func NewController(signaler Signaler, iceServers []webrtc.ICEServer) *Controller {
	if iceServers == nil {
		iceServers = DefaultICEServers()
	}
	return &Controller{signaler: signaler, iceServers: iceServers, state: Idle}
}

// OnStateChange registers a listener invoked on every state transition.
func (c *Controller) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnDataChannel registers a listener invoked once the data channel opens.
func (c *Controller) OnDataChannel(fn func(DataChannel)) {
	c.mu.Lock()
	c.onChannel = fn
	c.mu.Unlock()
}

// OnFailure registers a listener invoked for every user-visible failure.
func (c *Controller) OnFailure(fn func(error)) {
	c.mu.Lock()
	c.onFailure = fn
	c.mu.Unlock()
}

// OnRestart registers a listener invoked after a sender-side peer-vanished
// restart has installed a fresh connection, so the caller can re-issue
// CreateOffer for the next receiver.
func (c *Controller) OnRestart(fn func()) {
	c.mu.Lock()
	c.onRestart = fn
	c.mu.Unlock()
}

// State returns the current machine state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DataChannel returns the current data channel port, or nil before it is
// installed.
func (c *Controller) DataChannel() DataChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dc
}

// MarkPeerJoined records that a remote peer has been observed in the room,
// which lifts the sender-side OPEN_TIMEOUT suppression (spec §4.7.1).
func (c *Controller) MarkPeerJoined() {
	c.mu.Lock()
	c.flags.hasRemotePeer = true
	c.mu.Unlock()
}

// MarkTransferComplete suppresses the disconnect/restart paths once the
// transfer has finished (spec §4.7.2/§4.7.3).
func (c *Controller) MarkTransferComplete() {
	c.mu.Lock()
	c.flags.transferComplete = true
	c.mu.Unlock()
}

// setState updates the state and returns a notify thunk to invoke after the
// caller releases c.mu — pion's callbacks and ours must never run while
// holding the controller's own lock.
func (c *Controller) setState(s State) func() {
	c.state = s
	listener := c.onState
	if listener == nil {
		return nil
	}
	return func() { listener(s) }
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	listener := c.onFailure
	c.mu.Unlock()
	if listener != nil {
		listener(err)
	}
}

// Setup transitions Idle -> Negotiating, creates a fresh PeerConnection,
// and — for the sender — the ordered data channel. The receiver instead
// waits for OnDataChannel to fire when the sender's channel arrives.
func (c *Controller) Setup(role Role) error {
	c.mu.Lock()

	c.role = role
	notify := c.setState(Negotiating)
	c.flags = lifecycleFlags{
		transferComplete:  c.flags.transferComplete,
		everConnected:     c.flags.everConnected,
		restartingForPeer: c.flags.restartingForPeer,
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: c.iceServers})
	if err != nil {
		c.mu.Unlock()
		if notify != nil {
			notify()
		}
		return fmt.Errorf("rtc: create peer connection: %w", err)
	}
	c.pc = pc
	c.queue = NewCandidateQueue()
	c.localCandidates = 0
	c.remoteCandidates = 0

	pc.OnICECandidate(func(ice *webrtc.ICECandidate) {
		if ice == nil {
			return // gathering complete
		}
		c.mu.Lock()
		c.localCandidates++
		signaler := c.signaler
		c.mu.Unlock()
		if err := signaler.SendCandidate(ice.ToJSON()); err != nil {
			util.LogWarning("rtc: send local candidate: %v", err)
		}
	})

	// Spec §4.7.5: zero local candidates after gathering completes flags a
	// firewall/STUN failure. Logged here; the decisive, user-visible
	// failure classification happens once the connection actually reaches
	// the failed state (onFailed), to avoid firing twice for one outage.
	pc.OnICEGatheringStateChange(func(gs webrtc.ICEGatheringState) {
		if gs != webrtc.ICEGatheringStateComplete {
			return
		}
		c.mu.Lock()
		zero := c.localCandidates == 0
		c.mu.Unlock()
		if zero {
			util.LogWarning("rtc: ice gathering completed with zero local candidates")
		}
	})

	pc.OnConnectionStateChange(c.handleConnectionStateChange)

	if role == RoleSender {
		ordered := true
		dc, err := pc.CreateDataChannel("wormhole", &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			pc.Close()
			c.pc = nil
			c.mu.Unlock()
			if notify != nil {
				notify()
			}
			return fmt.Errorf("rtc: create data channel: %w", err)
		}
		c.installDataChannelLocked(dc)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			c.mu.Lock()
			c.installDataChannelLocked(dc)
			c.mu.Unlock()
		})
	}

	c.armOpenTimeoutLocked()
	c.mu.Unlock()

	if notify != nil {
		notify()
	}
	return nil
}

// installDataChannelLocked wraps raw and wires its open/close callbacks.
// Caller must hold c.mu.
func (c *Controller) installDataChannelLocked(raw *webrtc.DataChannel) {
	wrapped := wrapDataChannel(raw)
	wrapped.SetBufferedAmountLowThreshold(DefaultLowWaterMark)
	c.dc = wrapped

	wrapped.OnOpen(func() {
		c.mu.Lock()
		listener := c.onChannel
		c.mu.Unlock()
		if listener != nil {
			listener(wrapped)
		}
	})
	wrapped.OnClose(c.handleChannelClose)
	wrapped.OnError(func(err error) { c.handleChannelError(wrapped, err) })
}

// handleChannelError implements spec §4.7.5's data channel error handling:
// log the channel state, buffered amount, and peer/ICE states, then surface
// one concise user-visible message.
func (c *Controller) handleChannelError(dc DataChannel, err error) {
	c.mu.Lock()
	var peerState webrtc.PeerConnectionState
	var iceState webrtc.ICEConnectionState
	if c.pc != nil {
		peerState = c.pc.ConnectionState()
		iceState = c.pc.ICEConnectionState()
	}
	c.mu.Unlock()

	util.LogWarning("rtc: data channel error: state=%s buffered=%d peer=%s ice=%s: %v",
		dc.ReadyState(), dc.BufferedAmount(), peerState, iceState, err)
	c.fail(fmt.Errorf("rtc: data channel error: %w", err))
}

func (c *Controller) armOpenTimeoutLocked() {
	c.openDeadline = time.AfterFunc(OpenTimeout, func() {
		c.mu.Lock()
		dc := c.dc
		suppressed := c.role == RoleSender && !c.flags.hasRemotePeer
		c.mu.Unlock()

		if suppressed {
			return
		}
		if dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen {
			return
		}
		c.fail(errors.New("rtc: data channel open timeout"))
	})
}

// CreateOffer is the initiator's half of negotiation (spec §4.7.4): it is
// called by the session orchestrator once a peer has joined, never on data
// channel open.
func (c *Controller) CreateOffer() error {
	c.mu.Lock()
	pc := c.pc
	signaler := c.signaler
	c.mu.Unlock()
	if pc == nil {
		return errors.New("rtc: controller not set up")
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("rtc: create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("rtc: set local description: %w", err)
	}
	return signaler.SendOffer(offer)
}

// HandleOffer is the responder's half of negotiation: set remote
// description, drain the candidate queue, answer.
func (c *Controller) HandleOffer(sdp webrtc.SessionDescription) error {
	c.mu.Lock()
	pc := c.pc
	signaler := c.signaler
	c.mu.Unlock()
	if pc == nil {
		return errors.New("rtc: controller not set up")
	}

	if err := pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("rtc: set remote description: %w", err)
	}
	c.drainCandidates()

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("rtc: create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("rtc: set local description: %w", err)
	}
	return signaler.SendAnswer(answer)
}

// HandleAnswer completes the initiator's half of negotiation.
func (c *Controller) HandleAnswer(sdp webrtc.SessionDescription) error {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()
	if pc == nil {
		return errors.New("rtc: controller not set up")
	}
	if err := pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("rtc: set remote description: %w", err)
	}
	c.drainCandidates()
	return nil
}

// HandleCandidate applies cand directly once the remote description is
// set, otherwise buffers it in the candidate queue (spec C6).
func (c *Controller) HandleCandidate(cand webrtc.ICECandidateInit) {
	c.mu.Lock()
	pc := c.pc
	q := c.queue
	remoteSet := pc != nil && pc.RemoteDescription() != nil
	if pc != nil {
		c.remoteCandidates++
	}
	c.mu.Unlock()

	if pc == nil {
		return
	}
	if q != nil && !remoteSet && !q.Drained() {
		q.Enqueue(cand)
		return
	}
	if err := pc.AddICECandidate(cand); err != nil {
		util.LogWarning("rtc: apply candidate: %v", err)
	}
}

func (c *Controller) drainCandidates() {
	c.mu.Lock()
	q, pc := c.queue, c.pc
	c.mu.Unlock()
	if q == nil || pc == nil {
		return
	}
	for _, cand := range q.Drain() {
		if err := pc.AddICECandidate(cand); err != nil {
			util.LogWarning("rtc: apply queued candidate: %v", err)
		}
	}
}

func (c *Controller) handleConnectionStateChange(state webrtc.PeerConnectionState) {
	util.LogDebug("rtc: peer connection state: %s", state)

	switch state {
	case webrtc.PeerConnectionStateConnected:
		c.onConnected()
	case webrtc.PeerConnectionStateDisconnected:
		c.onDisconnected()
	case webrtc.PeerConnectionStateFailed:
		c.onFailed()
	}
}

func (c *Controller) onConnected() {
	c.mu.Lock()
	c.stopTimerLocked(&c.disconnectTimer)
	c.flags.everConnected = true
	notify := c.setState(Connected)
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// onDisconnected starts the 4s grace timer (spec §4.7.2). The original
// source also gates this on browser tab visibility; a CLI process has no
// such notion, so that condition is treated as always satisfied here.
func (c *Controller) onDisconnected() {
	c.mu.Lock()
	if c.flags.intentionalClose || c.flags.transferComplete {
		c.mu.Unlock()
		return
	}
	notify := c.setState(Disconnected)
	c.disconnectTimer = time.AfterFunc(DisconnectTimeout, c.fireDisconnectTimeout)
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
}

func (c *Controller) fireDisconnectTimeout() {
	c.mu.Lock()
	stillDisconnected := c.state == Disconnected
	c.mu.Unlock()
	if stillDisconnected {
		c.fail(errors.New("peer went offline"))
	}
}

func (c *Controller) onFailed() {
	c.mu.Lock()
	local, remote := c.localCandidates, c.remoteCandidates
	c.maybeScheduleRestartLocked()
	c.mu.Unlock()

	c.fail(classifyICEFailure(local, remote))
}

// classifyICEFailure implements spec §4.7.5's two named negotiation-failure
// flags: no local candidates at all points at a firewall/STUN failure;
// candidates exchanged in both directions but no pair succeeding points at
// a NAT-traversal failure where a TURN relay is likely needed.
func classifyICEFailure(local, remote int) error {
	switch {
	case local == 0:
		return errors.New("rtc: ice gathering yielded zero local candidates (firewall/STUN failure)")
	case local > 0 && remote > 0:
		return errors.New("rtc: candidates exchanged but no candidate pair succeeded (NAT traversal failure, TURN likely needed)")
	default:
		return errors.New("rtc: connection failed")
	}
}

func (c *Controller) handleChannelClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeScheduleRestartLocked()
}

// maybeScheduleRestartLocked implements the sender-only peer-vanished
// recovery of spec §4.7.3. Caller must hold c.mu.
func (c *Controller) maybeScheduleRestartLocked() {
	if c.flags.intentionalClose || c.role != RoleSender || !c.flags.everConnected ||
		c.flags.transferComplete || c.flags.restartingForPeer {
		return
	}
	c.flags.restartingForPeer = true
	notify := c.setState(Recovering)
	c.restartTimer = time.AfterFunc(RestartDelay, c.runRestart)
	if notify != nil {
		go notify()
	}
}

// runRestart resets the connection and installs a fresh one, without
// surfacing the underlying failure to the UI (spec §4.7.3).
func (c *Controller) runRestart() {
	c.mu.Lock()
	c.resetConnectionLocked()
	c.mu.Unlock()

	if err := c.Setup(RoleSender); err != nil {
		c.mu.Lock()
		c.flags.restartingForPeer = false
		c.mu.Unlock()
		c.fail(fmt.Errorf("rtc: restart failed: %w", err))
		return
	}

	c.mu.Lock()
	c.flags.restartingForPeer = false
	listener := c.onRestart
	c.mu.Unlock()
	if listener != nil {
		listener()
	}
}

// resetConnectionLocked unhooks every callback before closing the
// PeerConnection/DataChannel, suppressing benign close/error events fired
// during teardown (spec §4.7.2). Caller must hold c.mu.
func (c *Controller) resetConnectionLocked() {
	c.stopTimerLocked(&c.openDeadline)
	c.stopTimerLocked(&c.disconnectTimer)

	if c.dc != nil {
		c.dc.OnOpen(func() {})
		c.dc.OnClose(func() {})
		c.dc.OnError(func(error) {})
		c.dc.OnMessage(func([]byte, bool) {})
		c.dc.OnBufferedAmountLow(func() {})
		c.dc.Close()
		c.dc = nil
	}
	if c.pc != nil {
		c.pc.OnICECandidate(nil)
		c.pc.OnICEGatheringStateChange(func(webrtc.ICEGatheringState) {})
		c.pc.OnConnectionStateChange(nil)
		c.pc.OnDataChannel(nil)
		c.pc.Close()
		c.pc = nil
	}
	c.queue = nil
}

func (c *Controller) stopTimerLocked(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// Close performs an intentional shutdown: no restart, no disconnect
// surfacing, state -> Closed.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.flags.intentionalClose = true
	c.stopTimerLocked(&c.restartTimer)
	c.resetConnectionLocked()
	notify := c.setState(Closed)
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
	return nil
}
