// Package orchestrator wires the Transaction, WAL/Upstream, Downstream
// and Signaling components into the pull/push primitives the host
// replication engine drives (spec §4.7). It owns Signaling's lifecycle
// in live mode and forwards RESYNC pings into a re-pull.
//
// Grounded on the teacher's cmd/server/main.go wiring order: construct
// storage -> construct the components that depend on it -> start
// background goroutines -> tear down on cancel.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"drivesync/internal/downstream"
	"drivesync/internal/driveapi"
	"drivesync/internal/hostapi"
	"drivesync/internal/layout"
	"drivesync/internal/logging"
	"drivesync/internal/signaling"
	"drivesync/internal/txn"
	"drivesync/internal/wal"
)

// Options configures an Orchestrator.
type Options struct {
	// TransactionTimeout <= 0 uses txn.DefaultTimeout.
	TransactionTimeout time.Duration
	// BatchSize <= 0 defaults to 20.
	BatchSize int
	// UpstreamConcurrency / DownstreamConcurrency <= 0 use each
	// package's own default.
	UpstreamConcurrency   int
	DownstreamConcurrency int

	// Live enables the Signaling mesh: when true and EnablePull is
	// true, Start instantiates Signaling and subscribes to its
	// resync$ to trigger re-pulls (spec §4.7).
	Live       bool
	EnablePull bool
	EnablePush bool

	WebRTCConfig  webrtc.Configuration
	MaxMessageAge time.Duration

	Errors hostapi.ErrorStream
}

// DefaultBatchSize is used when Options.BatchSize is unset.
const DefaultBatchSize = 20

// Orchestrator assembles one replication's pull and push primitives and
// owns Signaling's lifecycle in live mode.
type Orchestrator struct {
	client    *driveapi.Client
	ds        layout.DriveStructure
	sessionID string

	txn      *txn.Transaction
	upstream *wal.Upstream
	puller   *downstream.Puller

	opts Options
	log  *logging.Logger

	sig *signaling.Signaling

	initialReplicationOnce sync.Once
	initialReplicationDone chan struct{}
	initialReplicationErr  error

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Orchestrator for one replication. sessionID identifies
// this peer both as the Transaction's lock-holder name and Signaling's
// mesh identity; callers typically mint it once via
// signaling.NewSessionID() and keep it for the process's lifetime.
func New(client *driveapi.Client, ds layout.DriveStructure, sessionID string, opts Options) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	return &Orchestrator{
		client:                 client,
		ds:                     ds,
		sessionID:              sessionID,
		txn:                    txn.New(client, ds, sessionID, opts.TransactionTimeout),
		upstream:               wal.New(client, ds, opts.UpstreamConcurrency),
		puller:                 downstream.New(client, ds, opts.DownstreamConcurrency),
		opts:                   opts,
		log:                    logging.New("orchestrator"),
		initialReplicationDone: make(chan struct{}),
	}
}

// Start registers this orchestrator's pull/push handlers with engine
// and, in live mode with pull enabled, boots Signaling and subscribes
// to its resync$ (spec §4.7). In live mode Start returns after
// Signaling has tried to send its presence beacon; Signaling's startup
// GC, periodic GC and poll loop run in the background.
func (o *Orchestrator) Start(ctx context.Context, engine hostapi.ReplicationEngine) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	if o.opts.EnablePull {
		engine.RegisterPull(o.pullHandler())
	}
	if o.opts.EnablePush {
		engine.RegisterPush(o.pushHandler())
	}

	if o.opts.Live && o.opts.EnablePull {
		o.sig = signaling.New(o.client, o.ds, signaling.Options{
			SessionID:     o.sessionID,
			WebRTCConfig:  o.opts.WebRTCConfig,
			MaxMessageAge: o.opts.MaxMessageAge,
		})
		if err := o.sig.Start(ctx); err != nil {
			cancel()
			return fmt.Errorf("start signaling: %w", err)
		}

		o.wg.Add(1)
		go o.watchResync(ctx, engine)
	}

	return nil
}

// Cancel tears down Signaling (destroying its peers and stopping the
// backoff loop) and waits for the resync watcher to exit. An in-flight
// transaction is not forcibly aborted (spec §5): it either completes or
// its lease expires and another peer takes over.
func (o *Orchestrator) Cancel() error {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	if o.sig != nil {
		return o.sig.Close()
	}
	return nil
}

// NotifyPeers manually broadcasts RESYNC to every connected peer
// (spec.md §6 "Observable outputs": notifyPeers()). A no-op if
// Signaling was never started (not live, or pull disabled).
func (o *Orchestrator) NotifyPeers() {
	if o.sig != nil {
		o.sig.NotifyPeers()
	}
}

// PeerCount reports how many peers Signaling currently tracks, or 0 if
// Signaling was never started (spec.md §6, for internal/statusapi).
func (o *Orchestrator) PeerCount() int {
	if o.sig == nil {
		return 0
	}
	return o.sig.PeerCount()
}

// HasContender reports whether another peer is currently waiting for
// the transaction lock (spec.md §6, for internal/statusapi).
func (o *Orchestrator) HasContender(ctx context.Context) bool {
	return o.txn.HasContender(ctx)
}

// CurrentHolder reports the sessionID currently holding the transaction
// lock, if any (spec.md §6, for internal/statusapi).
func (o *Orchestrator) CurrentHolder(ctx context.Context) (string, bool) {
	return o.txn.CurrentHolder(ctx)
}

// AwaitInitialReplication blocks until the first pull or push completes,
// whichever comes first, and returns that call's error, or ctx's error
// if ctx is done first (spec.md §6 "awaitInitialReplication()").
func (o *Orchestrator) AwaitInitialReplication(ctx context.Context) error {
	select {
	case <-o.initialReplicationDone:
		return o.initialReplicationErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) markInitialReplication(err error) {
	o.initialReplicationOnce.Do(func() {
		o.initialReplicationErr = err
		close(o.initialReplicationDone)
	})
}

// watchResync re-triggers a pull cycle on the engine every time
// Signaling observes a connect, a RESYNC data ping, or a peer
// error/close (spec §4.7, §9 "resync$ is a multi-producer
// single-consumer stream; the orchestrator subscribes once").
func (o *Orchestrator) watchResync(ctx context.Context, engine hostapi.ReplicationEngine) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-o.sig.Resync():
			if !ok {
				return
			}
			engine.TriggerPull()
		}
	}
}
