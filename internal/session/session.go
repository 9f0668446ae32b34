package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/quietwire/wormhole/internal/room"
	"github.com/quietwire/wormhole/internal/rtc"
	"github.com/quietwire/wormhole/internal/signaling"
	"github.com/quietwire/wormhole/internal/transfer/recv"
	"github.com/quietwire/wormhole/internal/transfer/send"
	"github.com/quietwire/wormhole/internal/util"
)

// offerDelay gives the receiver time to install its peer connection after
// room-joined before the sender creates its offer (spec §4.10).
const offerDelay = 600 * time.Millisecond

// reconnectFallbackDelay is how long a reconnecting sender waits for a
// room-not-found response to its join-room re-assertion before falling
// back to create-room for the same room id (spec §9's sequencing note).
const reconnectFallbackDelay = 2 * time.Second

// Session owns one room's worth of C6/C7/C8/C9 state and the signaling
// link it was negotiated over. Exactly one Session exists per transfer
// attempt, sender or receiver side.
type Session struct {
	link      *signaling.Link
	presenter Presenter
	roomID    string
	role      rtc.Role

	controller *rtc.Controller
	signaler   *linkSignaler

	mu                  sync.Mutex
	offerCreatedForRoom string
	lastJoinedPeer      room.PeerHandle
	offerTimer          *time.Timer
	reconnectFallback   *time.Timer
}

func newSession(link *signaling.Link, presenter Presenter, roomID string, role rtc.Role) *Session {
	s := &Session{
		link:      link,
		presenter: presenter,
		roomID:    roomID,
		role:      role,
	}
	s.signaler = &linkSignaler{link: link, roomID: roomID}
	s.controller = rtc.NewController(s.signaler, nil)
	s.controller.OnFailure(presenter.Error)
	return s
}

// RunSender generates a fresh room, announces it via create-room, waits for
// an approved receiver, and sends blob once the data channel opens. It
// blocks until the transfer completes, the context is cancelled, or an
// unrecoverable error occurs.
func RunSender(ctx context.Context, link *signaling.Link, presenter Presenter, blob send.FileBlob) (string, error) {
	roomID := util.RandomHexID(16)
	s := newSession(link, presenter, roomID, rtc.RoleSender)

	if err := s.controller.Setup(rtc.RoleSender); err != nil {
		return roomID, err
	}

	dcReady := make(chan rtc.DataChannel, 1)
	s.controller.OnDataChannel(func(dc rtc.DataChannel) { dcReady <- dc })
	s.controller.OnRestart(func() {
		presenter.Status("peer vanished, waiting for a new receiver")
	})
	link.OnReconnect(func() {
		presenter.Status("signaling reconnected, rejoining room")
		s.reassertSenderMembership()
	})

	if err := link.Send(signaling.Envelope{Type: signaling.EventCreateRoom, RoomID: roomID}); err != nil {
		return roomID, fmt.Errorf("session: create-room: %w", err)
	}

	errCh := make(chan error, 1)
	go s.senderEventLoop(ctx, errCh)

	for {
		select {
		case dc := <-dcReady:
			pipeline := send.NewPipeline(dc, blob, presenter.Progress)
			err := pipeline.Run(ctx, util.RandomHexID(16))
			if err == nil {
				s.controller.MarkTransferComplete()
				presenter.Status("Transfer Complete!")
				return roomID, nil
			}
			if errors.Is(err, send.ErrChannelClosed) {
				// The controller's own peer-vanished recovery (spec §4.7.3)
				// decides whether a restart is actually scheduled; if it is,
				// a fresh dc arrives on dcReady once the new connection
				// opens. Loop back and wait for it instead of returning.
				continue
			}
			return roomID, err
		case err := <-errCh:
			return roomID, err
		case <-ctx.Done():
			return roomID, ctx.Err()
		}
	}
}

// reassertSenderMembership implements spec §9's sender-reconnect sequencing:
// try join-room first, since the sender's room may have survived the drop
// with the receiver still a member, and fall back to create-room only after
// a short timeout or an explicit room-not-found.
func (s *Session) reassertSenderMembership() {
	_ = s.link.Send(signaling.Envelope{Type: signaling.EventJoinRoom, RoomID: s.roomID})

	s.mu.Lock()
	if s.reconnectFallback != nil {
		s.reconnectFallback.Stop()
	}
	s.reconnectFallback = time.AfterFunc(reconnectFallbackDelay, func() {
		_ = s.link.Send(signaling.Envelope{Type: signaling.EventCreateRoom, RoomID: s.roomID})
	})
	s.mu.Unlock()
}

func (s *Session) clearReconnectFallback() {
	s.mu.Lock()
	if s.reconnectFallback != nil {
		s.reconnectFallback.Stop()
		s.reconnectFallback = nil
	}
	s.mu.Unlock()
}

func (s *Session) senderEventLoop(ctx context.Context, errCh chan<- error) {
	for {
		select {
		case env, ok := <-s.link.Recv():
			if !ok {
				errCh <- fmt.Errorf("session: signaling link closed: %w", s.link.Err())
				return
			}
			s.handleSenderEnvelope(env)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) handleSenderEnvelope(env signaling.Envelope) {
	switch env.Type {
	case signaling.EventRoomCreated:
		s.clearReconnectFallback()
		s.presenter.Status(fmt.Sprintf("room %s created, share it with the receiver", env.RoomID))

	case signaling.EventRoomJoined:
		s.clearReconnectFallback()
		s.presenter.Status("rejoined room after reconnect")

	case signaling.EventRoomNotFound:
		// Only reachable via the reconnect join-room re-assertion (spec §9):
		// the room did not survive the drop, so fall back to recreating it
		// under the same id rather than waiting out the fallback timer.
		s.clearReconnectFallback()
		_ = s.link.Send(signaling.Envelope{Type: signaling.EventCreateRoom, RoomID: env.RoomID})

	case signaling.EventPeerJoinReq:
		peer := room.PeerHandle(env.PeerID)
		if s.presenter.ApprovalRequest(peer) {
			_ = s.link.Send(signaling.Envelope{Type: signaling.EventPeerAccepted, RoomID: s.roomID, PeerID: env.PeerID})
		} else {
			_ = s.link.Send(signaling.Envelope{Type: signaling.EventPeerRejected, RoomID: s.roomID, PeerID: env.PeerID})
		}

	case signaling.EventPeerJoined:
		s.controller.MarkPeerJoined()
		s.schedulePeerOffer(room.PeerHandle(env.PeerID))

	case signaling.EventAnswer:
		var sdp webrtc.SessionDescription
		if err := json.Unmarshal(env.Answer, &sdp); err != nil {
			s.presenter.Error(fmt.Errorf("session: malformed answer: %w", err))
			return
		}
		if err := s.controller.HandleAnswer(sdp); err != nil {
			s.presenter.Error(err)
		}

	case signaling.EventCandidate:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(env.Candidate, &cand); err != nil {
			util.LogWarning("session: malformed candidate: %v", err)
			return
		}
		s.controller.HandleCandidate(cand)

	case signaling.EventAppError:
		s.presenter.Error(fmt.Errorf("signaling: %s", env.Message))
	}
}

// schedulePeerOffer implements spec §4.10's offer-timing rule: a fresh
// peer clears the guard, then a single offer is scheduled per room after
// offerDelay.
func (s *Session) schedulePeerOffer(peer room.PeerHandle) {
	s.mu.Lock()
	if peer != s.lastJoinedPeer {
		s.lastJoinedPeer = peer
		s.offerCreatedForRoom = ""
	}
	if s.offerCreatedForRoom == s.roomID {
		s.mu.Unlock()
		return
	}
	s.offerCreatedForRoom = s.roomID
	if s.offerTimer != nil {
		s.offerTimer.Stop()
	}
	s.offerTimer = time.AfterFunc(offerDelay, func() {
		if err := s.controller.CreateOffer(); err != nil {
			s.presenter.Error(fmt.Errorf("session: create offer: %w", err))
		}
	})
	s.mu.Unlock()
}

// RunReceiver joins roomID and waits for the sender to be approved and the
// data channel to open, then receives the transfer. openSink customizes
// how (or whether) a large transfer is streamed to disk.
func RunReceiver(ctx context.Context, link *signaling.Link, presenter Presenter, roomID string, openSink recv.SinkOpener) (*recv.Artifact, error) {
	s := newSession(link, presenter, roomID, rtc.RoleReceiver)

	if err := s.controller.Setup(rtc.RoleReceiver); err != nil {
		return nil, err
	}

	dcReady := make(chan rtc.DataChannel, 1)
	s.controller.OnDataChannel(func(dc rtc.DataChannel) { dcReady <- dc })
	link.OnReconnect(func() {
		presenter.Status("signaling reconnected, rejoining room")
		// request-join is idempotent for an existing member (spec I8), so
		// re-sending it after a reconnect is always safe.
		_ = link.Send(signaling.Envelope{Type: signaling.EventRequestJoin, RoomID: roomID})
	})

	if err := link.Send(signaling.Envelope{Type: signaling.EventRequestJoin, RoomID: roomID}); err != nil {
		return nil, fmt.Errorf("session: request-join: %w", err)
	}
	presenter.Status("waiting for approval")

	errCh := make(chan error, 1)
	go s.receiverEventLoop(ctx, errCh)

	var dc rtc.DataChannel
	select {
	case dc = <-dcReady:
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	pipeline := recv.NewPipeline(openSink, presenter.Progress, func(msg string) { presenter.Status(msg) })

	artifactCh := make(chan *recv.Artifact, 1)
	deliver := func(artifact *recv.Artifact) {
		if artifact == nil {
			return
		}
		select {
		case artifactCh <- artifact:
		default:
		}
	}
	dc.OnMessage(func(data []byte, isText bool) {
		if isText {
			artifact, err := pipeline.HandleText(data)
			if err != nil {
				presenter.Error(err)
				return
			}
			deliver(artifact)
			return
		}
		artifact, err := pipeline.HandleBinary(data)
		if err != nil {
			presenter.Error(err)
			return
		}
		deliver(artifact)
	})

	select {
	case artifact := <-artifactCh:
		s.controller.MarkTransferComplete()
		presenter.DownloadReady(*artifact)
		return artifact, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) receiverEventLoop(ctx context.Context, errCh chan<- error) {
	for {
		select {
		case env, ok := <-s.link.Recv():
			if !ok {
				errCh <- fmt.Errorf("session: signaling link closed: %w", s.link.Err())
				return
			}
			s.handleReceiverEnvelope(env)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) handleReceiverEnvelope(env signaling.Envelope) {
	switch env.Type {
	case signaling.EventJoinRequested:
		s.presenter.Status("waiting for the sender to approve")

	case signaling.EventRoomJoined:
		s.presenter.Status("connected to room, negotiating")

	case signaling.EventRoomNotFound:
		s.presenter.Error(fmt.Errorf("room %s not found", env.RoomID))

	case signaling.EventOffer:
		var sdp webrtc.SessionDescription
		if err := json.Unmarshal(env.Offer, &sdp); err != nil {
			s.presenter.Error(fmt.Errorf("session: malformed offer: %w", err))
			return
		}
		if err := s.controller.HandleOffer(sdp); err != nil {
			s.presenter.Error(err)
		}

	case signaling.EventCandidate:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(env.Candidate, &cand); err != nil {
			util.LogWarning("session: malformed candidate: %v", err)
			return
		}
		s.controller.HandleCandidate(cand)

	case signaling.EventPeerRejected:
		s.presenter.Error(fmt.Errorf("sender rejected the join request"))

	case signaling.EventAppError:
		s.presenter.Error(fmt.Errorf("signaling: %s", env.Message))
	}
}
