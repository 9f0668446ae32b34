package session

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/quietwire/wormhole/internal/signaling"
)

// linkSignaler adapts a signaling.Link to rtc.Signaler, scoping every
// outgoing envelope to one room.
type linkSignaler struct {
	link   *signaling.Link
	roomID string
}

func (s *linkSignaler) SendOffer(sdp webrtc.SessionDescription) error {
	data, err := json.Marshal(sdp)
	if err != nil {
		return fmt.Errorf("session: marshal offer: %w", err)
	}
	return s.link.Send(signaling.Envelope{Type: signaling.EventOffer, RoomID: s.roomID, Offer: data})
}

func (s *linkSignaler) SendAnswer(sdp webrtc.SessionDescription) error {
	data, err := json.Marshal(sdp)
	if err != nil {
		return fmt.Errorf("session: marshal answer: %w", err)
	}
	return s.link.Send(signaling.Envelope{Type: signaling.EventAnswer, RoomID: s.roomID, Answer: data})
}

func (s *linkSignaler) SendCandidate(c webrtc.ICECandidateInit) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("session: marshal candidate: %w", err)
	}
	return s.link.Send(signaling.Envelope{Type: signaling.EventCandidate, RoomID: s.roomID, Candidate: data})
}
