package signaling

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"

	"drivesync/internal/errs"
	"drivesync/internal/logging"
)

// peerHooks are the simple-peer-shaped event callbacks spec §4.6 wires
// per connection: signal (outbound handshake data to forward over the
// file bus), connect, data, error, close.
type peerHooks struct {
	onSignal func(payload []byte)
	onConnect func()
	onData    func(data string)
	onError   func(err error)
	onClose   func()
}

// peerConn is the mesh's view of one remote connection: feed it inbound
// signaling payloads, push data-channel messages, tear it down. The
// WebRTC-backed implementation lives in webrtcPeer; tests substitute a
// fake that never touches a real network.
type peerConn interface {
	Signal(payload []byte) error
	SendData(data string) error
	Close() error
}

// peerFactory constructs a peerConn for a newly-observed remote session.
// initiator decides who creates the data channel and the initial offer
// (spec §4.6: "initiator = senderId > ownSessionId").
type peerFactory func(initiator bool, hooks peerHooks) (peerConn, error)

// signalPayload is the wire shape carried by non-beacon Messages:
// either an SDP (offer/answer) or an ICE candidate, mirroring what
// simple-peer's `.signal()` accepts.
type signalPayload struct {
	Type      string                   `json:"type,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// webrtcPeer wraps a pion PeerConnection plus its single data channel
// (named "mesh"), driving the same five-event lifecycle a JS simple-peer
// instance exposes.
type webrtcPeer struct {
	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	dc      *webrtc.DataChannel
	hooks   peerHooks
	log     *logging.Logger
	closed  bool
}

// newWebRTCPeer creates a pion PeerConnection using api config and wires
// it per spec §4.6. If initiator, it creates the data channel and kicks
// off the offer; otherwise it waits for the remote's data channel and
// offer to arrive via Signal.
func newWebRTCPeer(config webrtc.Configuration, initiator bool, hooks peerHooks) (peerConn, error) {
	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	p := &webrtcPeer{pc: pc, hooks: hooks, log: logging.New("signaling.peer")}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		p.emitSignal(signalPayload{Candidate: ptr(c.ToJSON())})
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		switch state {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			if hooks.onConnect != nil {
				hooks.onConnect()
			}
		case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateDisconnected:
			if hooks.onError != nil {
				hooks.onError(fmt.Errorf("%w: ice state %s", errs.ErrPeer, state))
			}
		case webrtc.ICEConnectionStateClosed:
			if hooks.onClose != nil {
				hooks.onClose()
			}
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.mu.Lock()
		p.dc = dc
		p.mu.Unlock()
		p.wireDataChannel(dc)
	})

	if initiator {
		dc, err := pc.CreateDataChannel("mesh", nil)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("create data channel: %w", err)
		}
		p.mu.Lock()
		p.dc = dc
		p.mu.Unlock()
		p.wireDataChannel(dc)

		offer, err := pc.CreateOffer(nil)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("create offer: %w", err)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			pc.Close()
			return nil, fmt.Errorf("set local description: %w", err)
		}
		p.emitSignal(signalPayload{Type: "offer", SDP: offer.SDP})
	}

	return p, nil
}

func (p *webrtcPeer) wireDataChannel(dc *webrtc.DataChannel) {
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if p.hooks.onData != nil {
			p.hooks.onData(string(msg.Data))
		}
	})
}

func (p *webrtcPeer) emitSignal(payload signalPayload) {
	b, err := json.Marshal(payload)
	if err != nil {
		if p.hooks.onError != nil {
			p.hooks.onError(fmt.Errorf("marshal signal payload: %w", err))
		}
		return
	}
	if p.hooks.onSignal != nil {
		p.hooks.onSignal(b)
	}
}

// Signal feeds an inbound signaling payload (offer, answer, or ICE
// candidate) into the underlying connection.
func (p *webrtcPeer) Signal(payload []byte) error {
	var sig signalPayload
	if err := json.Unmarshal(payload, &sig); err != nil {
		return fmt.Errorf("%w: unmarshal signal: %w", errs.ErrPeer, err)
	}

	switch {
	case sig.Candidate != nil:
		if err := p.pc.AddICECandidate(*sig.Candidate); err != nil {
			return fmt.Errorf("%w: add ice candidate: %w", errs.ErrPeer, err)
		}
		return nil
	case sig.Type == "offer":
		if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.SDP}); err != nil {
			return fmt.Errorf("%w: set remote offer: %w", errs.ErrPeer, err)
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("%w: create answer: %w", errs.ErrPeer, err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("%w: set local answer: %w", errs.ErrPeer, err)
		}
		p.emitSignal(signalPayload{Type: "answer", SDP: answer.SDP})
		return nil
	case sig.Type == "answer":
		if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP}); err != nil {
			return fmt.Errorf("%w: set remote answer: %w", errs.ErrPeer, err)
		}
		return nil
	}
	return nil
}

// SendData writes a string message over the data channel, once open.
func (p *webrtcPeer) SendData(data string) error {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc == nil {
		return fmt.Errorf("%w: data channel not yet open", errs.ErrPeer)
	}
	if err := dc.SendText(data); err != nil {
		return fmt.Errorf("%w: send data: %w", errs.ErrPeer, err)
	}
	return nil
}

func (p *webrtcPeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.pc.Close()
}

func ptr[T any](v T) *T { return &v }
