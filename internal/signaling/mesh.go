package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"

	"drivesync/internal/driveapi"
	"drivesync/internal/layout"
	"drivesync/internal/logging"
)

// gcInterval is how often Start's background goroutine re-runs
// cleanupOldSignalingMessages after its initial on-startup pass (spec
// §4.6: "runs opportunistically on startup and periodically"). A
// package var, like backoffSteps, so tests can shrink it.
var gcInterval = time.Hour

// backoffSteps is the fixed poll-delay sequence of spec §4.6, capped at
// its last entry once exhausted.
var backoffSteps = []time.Duration{
	50 * time.Millisecond, 50 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond,
	200 * time.Millisecond, 400 * time.Millisecond, 600 * time.Millisecond, 1000 * time.Millisecond,
	2000 * time.Millisecond, 4000 * time.Millisecond, 8000 * time.Millisecond, 15000 * time.Millisecond,
	30000 * time.Millisecond, 60000 * time.Millisecond, 120000 * time.Millisecond,
}

// Options configures a Signaling instance.
type Options struct {
	// SessionID is this peer's session id. The orchestrator passes the
	// one it shares with its Transaction; tests pin it for determinism.
	// Empty means a random one is generated.
	SessionID string
	// WebRTCConfig is passed through to pion's NewPeerConnection for
	// every peer this mesh creates.
	WebRTCConfig webrtc.Configuration
	// MaxMessageAge configures cleanupOldSignalingMessages.
	MaxMessageAge time.Duration
	// newPeer is overridden by tests to avoid real ICE negotiation.
	newPeer peerFactory
}

// Signaling is the file-based message bus plus WebRTC peer mesh for one
// replication (spec §4.6). Resync fires whenever a connected peer pings
// RESYNC, a peer's ICE connection is established, or a peer
// errors/closes — the
// orchestrator subscribes once and re-pulls on every tick.
type Signaling struct {
	bus       bus
	sessionID string
	newPeer   peerFactory
	log       *logging.Logger

	mu        sync.Mutex
	peers     map[string]peerConn
	processed map[string]bool

	resyncCh chan struct{}
	step     int32
	maxAge   time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	gcDoneCh chan struct{}
}

// New creates a Signaling for one replication. Start must be called to
// begin polling; Close tears everything down.
func New(client *driveapi.Client, ds layout.DriveStructure, opts Options) *Signaling {
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = newSessionID()
	}
	factory := opts.newPeer
	if factory == nil {
		factory = func(initiator bool, hooks peerHooks) (peerConn, error) {
			return newWebRTCPeer(opts.WebRTCConfig, initiator, hooks)
		}
	}

	return &Signaling{
		bus:       bus{client: client, ds: ds},
		sessionID: sessionID,
		newPeer:   factory,
		log:       logging.New("signaling"),
		peers:     map[string]peerConn{},
		processed: map[string]bool{},
		resyncCh:  make(chan struct{}, 1),
		maxAge:    opts.MaxMessageAge,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		gcDoneCh:  make(chan struct{}),
	}
}

// SessionID returns this peer's session token.
func (s *Signaling) SessionID() string { return s.sessionID }

// Resync returns the channel the orchestrator subscribes to: every send
// means "re-pull now" (spec §9: "resync$ is a multi-producer
// single-consumer stream").
func (s *Signaling) Resync() <-chan struct{} { return s.resyncCh }

// Start sends the presence beacon and begins the adaptive-backoff poll
// loop in the background, alongside gcLoop, which keeps running
// cleanupOldSignalingMessages for the life of this Signaling (spec
// §4.6: "runs opportunistically on startup and periodically").
func (s *Signaling) Start(ctx context.Context) error {
	if err := s.bus.sendMessage(ctx, s.sessionID, existBeacon); err != nil {
		s.log.Warnf("send presence beacon: %v", err)
	}

	go func() {
		if err := s.bus.cleanupOldSignalingMessages(ctx, s.maxAge); err != nil {
			s.log.Warnf("startup gc: %v", err)
		}
	}()

	go s.gcLoop(ctx)
	go s.pollLoop(ctx)
	return nil
}

// Close destroys every WebRTC peer and stops the poll loop (spec §5:
// "closes Signaling, which destroys all WebRTC peers... and stops the
// backoff loop").
func (s *Signaling) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
	<-s.gcDoneCh

	s.mu.Lock()
	peers := make([]peerConn, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.peers = map[string]peerConn{}
	s.mu.Unlock()

	for _, p := range peers {
		_ = p.Close()
	}
	return nil
}

// gcLoop re-runs cleanupOldSignalingMessages every gcInterval for as
// long as this Signaling is running, so a long-lived peer doesn't
// accumulate stale signaling/ files between the one-shot startup GC and
// process exit (spec §4.6), mirroring the teacher's background
// snapshot ticker in cmd/server/main.go.
func (s *Signaling) gcLoop(ctx context.Context) {
	defer close(s.gcDoneCh)

	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.bus.cleanupOldSignalingMessages(ctx, s.maxAge); err != nil {
				s.log.Warnf("periodic gc: %v", err)
			}
		}
	}
}

func (s *Signaling) pollLoop(ctx context.Context) {
	defer close(s.doneCh)

	for {
		step := atomic.LoadInt32(&s.step)
		delay := backoffSteps[len(backoffSteps)-1]
		if int(step) < len(backoffSteps) {
			delay = backoffSteps[step]
		}

		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		n, err := s.pollOnce(ctx)
		if err != nil {
			s.log.Warnf("poll: %v", err)
			continue
		}
		if n > 0 {
			atomic.StoreInt32(&s.step, 0)
		} else {
			s.bumpStep()
		}
	}
}

func (s *Signaling) bumpStep() {
	for {
		cur := atomic.LoadInt32(&s.step)
		if int(cur) >= len(backoffSteps)-1 {
			return
		}
		if atomic.CompareAndSwapInt32(&s.step, cur, cur+1) {
			return
		}
	}
}

// ResetBackoff restarts the poll step at 0, as an `online` or
// visibility-change event does (spec §4.6).
func (s *Signaling) ResetBackoff() { atomic.StoreInt32(&s.step, 0) }

// pollOnce lists unseen signal files oldest-first and dispatches each,
// returning how many were newly processed.
func (s *Signaling) pollOnce(ctx context.Context) (int, error) {
	files, err := s.bus.listMessages(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, f := range files {
		sessionID, _, messageID, ok := parseFileName(f.Name)
		if !ok || sessionID == s.sessionID {
			continue
		}

		s.mu.Lock()
		seen := s.processed[messageID]
		if !seen {
			s.processed[messageID] = true
		}
		s.mu.Unlock()
		if seen {
			continue
		}

		msg, err := s.bus.downloadMessage(ctx, f.ID)
		if err != nil {
			s.log.Warnf("download signal %s: %v", f.Name, err)
			continue
		}
		s.dispatch(ctx, msg)
		n++
	}
	return n, nil
}

// dispatch routes one inbound message to its peer, creating the peer on
// first contact from an unknown session (spec §4.6 "Peer mesh").
func (s *Signaling) dispatch(ctx context.Context, msg Message) {
	if isBeacon(msg.Payload) {
		s.ensurePeer(msg.SessionID)
		return
	}

	peer := s.ensurePeer(msg.SessionID)
	if peer == nil {
		return
	}
	if err := peer.Signal(msg.Payload); err != nil {
		s.log.Warnf("signal from %s: %v", msg.SessionID, err)
	}
}

func isBeacon(payload json.RawMessage) bool {
	var probe struct {
		I string `json:"i"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return false
	}
	return probe.I == "exist"
}

// ensurePeer returns the existing peer for remoteSessionID, creating one
// if this is the first contact. initiator is decided by string compare
// so both sides agree on who offers (spec §4.6).
func (s *Signaling) ensurePeer(remoteSessionID string) peerConn {
	s.mu.Lock()
	if p, ok := s.peers[remoteSessionID]; ok {
		s.mu.Unlock()
		return p
	}
	s.mu.Unlock()

	initiator := remoteSessionID > s.sessionID
	hooks := peerHooks{
		onSignal: func(payload []byte) {
			if err := s.bus.sendMessage(context.Background(), s.sessionID, payload); err != nil {
				s.log.Warnf("forward signal to %s: %v", remoteSessionID, err)
			}
		},
		onConnect: func() { s.emitResync() },
		onData: func(data string) {
			switch data {
			case "RESYNC":
				s.emitResync()
			case "NEW_PEER":
				s.ResetBackoff()
			default:
				s.log.Infof("data from %s: %s", remoteSessionID, data)
			}
		},
		onError: func(err error) {
			s.log.Warnf("peer %s error: %v", remoteSessionID, err)
			s.emitResync()
		},
		onClose: func() {
			s.emitResync()
			s.mu.Lock()
			delete(s.peers, remoteSessionID)
			s.mu.Unlock()
		},
	}

	p, err := s.newPeer(initiator, hooks)
	if err != nil {
		s.log.Warnf("create peer for %s: %v", remoteSessionID, err)
		return nil
	}

	s.mu.Lock()
	s.peers[remoteSessionID] = p
	others := make([]peerConn, 0, len(s.peers))
	for id, existing := range s.peers {
		if id != remoteSessionID {
			others = append(others, existing)
		}
	}
	s.mu.Unlock()

	// Beacon: broadcast NEW_PEER over every other open channel so those
	// peers reset their own poll backoff (spec §4.6).
	for _, existing := range others {
		_ = existing.SendData("NEW_PEER")
	}

	return p
}

func (s *Signaling) emitResync() {
	select {
	case s.resyncCh <- struct{}{}:
	default:
	}
}

// NotifyPeers broadcasts RESYNC to every connected peer (SPEC_FULL.md
// §4.8's manual notifyPeers()).
func (s *Signaling) NotifyPeers() {
	s.mu.Lock()
	peers := make([]peerConn, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		_ = p.SendData("RESYNC")
	}
}

// PeerCount reports how many peers are currently tracked, used by
// internal/statusapi's /status endpoint.
func (s *Signaling) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}
