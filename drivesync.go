// Package drivesync is the public entrypoint for the replication core
// (spec §1): a serverless, multi-device replication layer that
// synchronizes a document collection through a shared cloud-file
// folder. It assembles internal/driveapi, internal/layout,
// internal/signaling and internal/orchestrator into the single object
// a host embeds; cmd/drivesync mounts internal/statusapi on top of it.
//
// Grounded on the teacher's cmd/server/main.go wiring order: parse
// configuration -> construct storage -> construct dependents -> start
// background goroutines -> expose a handle the caller tears down.
package drivesync

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"

	"drivesync/internal/driveapi"
	"drivesync/internal/hostapi"
	"drivesync/internal/layout"
	"drivesync/internal/orchestrator"
	"drivesync/internal/signaling"
)

// GoogleDriveConfig names the cloud file service account and folder
// this replication synchronizes through (spec §6 configuration).
type GoogleDriveConfig struct {
	AuthToken          string
	FolderPath         string
	APIEndpoint        string
	TransactionTimeout time.Duration
}

// SignalingOptions configures the WebRTC peer mesh (spec §6
// signalingOptions).
type SignalingOptions struct {
	WebRTCConfig  webrtc.Configuration
	MaxMessageAge time.Duration
}

// Config is the top-level configuration a host supplies to New (spec
// §6: "{replicationIdentifier, googleDrive: {...}, signalingOptions?,
// live?, pull?, push?, ...}"). ReplicationIdentifier is derived by
// internal/layout from FolderPath/PrimaryKeyField and need not be
// supplied; it's surfaced on the returned Replication for the host to
// persist alongside its own checkpoint.
type Config struct {
	GoogleDrive GoogleDriveConfig
	Signaling   SignalingOptions

	// PrimaryKeyField names the document collection's primary key
	// (spec §3 "Drive Structure ... primary-key field").
	PrimaryKeyField string

	// Live enables the Signaling peer mesh; false runs pull/push only
	// (host-driven polling, spec §9 "WebRTC dependency").
	Live bool
	// Pull/Push enable registering the corresponding handler with the
	// host's replication engine (spec §6 consumed host APIs).
	Pull bool
	Push bool

	BatchSize             int
	UpstreamConcurrency   int
	DownstreamConcurrency int

	// Errors is handed to the orchestrator, which keeps it in its
	// Options; no code path sends an error to it, so pull/push failures
	// reach the host only as the handlers' returned errors. May be nil.
	Errors hostapi.ErrorStream
}

// Replication is one peer's handle on a running replication. Call
// Start to wire handlers into the host's replication engine, Cancel to
// tear down.
type Replication struct {
	sessionID    string
	client       *driveapi.Client
	ds           layout.DriveStructure
	orchestrator *orchestrator.Orchestrator
}

// New validates cfg, ensures the Drive folder structure exists (spec
// §4.2), and returns a Replication ready for Start. Fails with
// errs.ErrInvalidRoot if FolderPath is empty, "", "/" or "root".
func New(ctx context.Context, cfg Config) (*Replication, error) {
	client := driveapi.New(cfg.GoogleDrive.APIEndpoint, cfg.GoogleDrive.AuthToken)

	ds, err := layout.InitDriveStructure(ctx, client, layout.Options{
		FolderPath:      cfg.GoogleDrive.FolderPath,
		PrimaryKeyField: cfg.PrimaryKeyField,
	})
	if err != nil {
		return nil, fmt.Errorf("drivesync: %w", err)
	}

	sessionID := signaling.NewSessionID()

	o := orchestrator.New(client, ds, sessionID, orchestrator.Options{
		TransactionTimeout:     cfg.GoogleDrive.TransactionTimeout,
		BatchSize:             cfg.BatchSize,
		UpstreamConcurrency:   cfg.UpstreamConcurrency,
		DownstreamConcurrency: cfg.DownstreamConcurrency,
		Live:                  cfg.Live,
		EnablePull:            cfg.Pull,
		EnablePush:            cfg.Push,
		WebRTCConfig:          cfg.Signaling.WebRTCConfig,
		MaxMessageAge:         cfg.Signaling.MaxMessageAge,
		Errors:                cfg.Errors,
	})

	return &Replication{
		sessionID:    sessionID,
		client:       client,
		ds:           ds,
		orchestrator: o,
	}, nil
}

// SessionID is this peer's per-process identity (spec GLOSSARY
// "Session ID"), shared by the Transaction lock holder name and the
// Signaling mesh identity.
func (r *Replication) SessionID() string { return r.sessionID }

// DriveStructure exposes the opaque ids this replication resolved to,
// so a host can persist them alongside its own checkpoint if desired.
func (r *Replication) DriveStructure() layout.DriveStructure { return r.ds }

// Start registers this replication's pull/push handlers with engine
// and, in live mode, boots the Signaling peer mesh (spec §4.7).
func (r *Replication) Start(ctx context.Context, engine hostapi.ReplicationEngine) error {
	return r.orchestrator.Start(ctx, engine)
}

// Cancel tears down the Signaling mesh and waits for its background
// goroutines to exit. An in-flight transaction is not forcibly
// aborted — it either completes or its lease expires and another peer
// takes over (spec §5).
func (r *Replication) Cancel() error { return r.orchestrator.Cancel() }

// NotifyPeers manually broadcasts RESYNC to every connected peer (spec
// §6 "Observable outputs": notifyPeers()).
func (r *Replication) NotifyPeers() { r.orchestrator.NotifyPeers() }

// AwaitInitialReplication blocks until the first pull or push completes,
// whichever comes first, and returns that call's error, or ctx's error
// if ctx is done first (spec §6 "awaitInitialReplication()").
func (r *Replication) AwaitInitialReplication(ctx context.Context) error {
	return r.orchestrator.AwaitInitialReplication(ctx)
}

// Orchestrator exposes the underlying *orchestrator.Orchestrator for
// callers that need the narrower statusapi.Engine surface
// (PeerCount/HasContender/CurrentHolder) without importing
// internal/orchestrator directly.
func (r *Replication) Orchestrator() *orchestrator.Orchestrator { return r.orchestrator }
