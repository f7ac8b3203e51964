package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"drivesync"
	"drivesync/internal/downstream"
	"drivesync/internal/hostapi"
	"drivesync/internal/logging"
	"drivesync/internal/statusapi"
)

// peerConfig is the on-disk shape `run --config` reads. Durations are
// plain strings (e.g. "60s") so the file stays hand-editable; it maps
// onto drivesync.Config.
type peerConfig struct {
	AuthToken          string `json:"authToken"`
	FolderPath         string `json:"folderPath"`
	APIEndpoint        string `json:"apiEndpoint"`
	PrimaryKeyField    string `json:"primaryKeyField"`
	TransactionTimeout string `json:"transactionTimeout"`

	Live bool `json:"live"`
	Pull bool `json:"pull"`
	Push bool `json:"push"`

	BatchSize             int `json:"batchSize"`
	UpstreamConcurrency   int `json:"upstreamConcurrency"`
	DownstreamConcurrency int `json:"downstreamConcurrency"`

	MaxMessageAge string `json:"maxMessageAge"`
}

func loadPeerConfig(path string) (peerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return peerConfig{}, err
	}
	var cfg peerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return peerConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c peerConfig) toDrivesyncConfig() (drivesync.Config, error) {
	txTimeout, err := parseDurationOrZero(c.TransactionTimeout)
	if err != nil {
		return drivesync.Config{}, fmt.Errorf("transactionTimeout: %w", err)
	}
	maxAge, err := parseDurationOrZero(c.MaxMessageAge)
	if err != nil {
		return drivesync.Config{}, fmt.Errorf("maxMessageAge: %w", err)
	}

	return drivesync.Config{
		GoogleDrive: drivesync.GoogleDriveConfig{
			AuthToken:          c.AuthToken,
			FolderPath:         c.FolderPath,
			APIEndpoint:        c.APIEndpoint,
			TransactionTimeout: txTimeout,
		},
		Signaling: drivesync.SignalingOptions{
			MaxMessageAge: maxAge,
		},
		PrimaryKeyField:       c.PrimaryKeyField,
		Live:                  c.Live,
		Pull:                  c.Pull,
		Push:                  c.Push,
		BatchSize:             c.BatchSize,
		UpstreamConcurrency:   c.UpstreamConcurrency,
		DownstreamConcurrency: c.DownstreamConcurrency,
	}, nil
}

func parseDurationOrZero(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// localEngine is a minimal hostapi.ReplicationEngine for manual testing:
// it stores the registered handlers and lets /push and /pull HTTP
// routes invoke them directly, standing in for the host's real
// replication engine (out of scope per spec.md §1).
type localEngine struct {
	pull hostapi.PullHandler
	push hostapi.PushHandler
}

func (e *localEngine) RegisterPull(h hostapi.PullHandler) { e.pull = h }
func (e *localEngine) RegisterPush(h hostapi.PushHandler) { e.push = h }
func (e *localEngine) TriggerPull()                       {}

func runPeer(cfg peerConfig, addr string) error {
	log := logging.New("drivesync-cli")

	dcfg, err := cfg.toDrivesyncConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rep, err := drivesync.New(ctx, dcfg)
	if err != nil {
		return fmt.Errorf("drivesync.New: %w", err)
	}

	engine := &localEngine{}
	if err := rep.Start(ctx, engine); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	router := statusapi.NewRouter(statusapi.NewHandler(rep.Orchestrator(), rep.SessionID()), log)
	registerDebugRoutes(router, engine)

	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Infof("peer %s listening on %s", rep.SessionID(), addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Infof("shutting down peer %s", rep.SessionID())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server shutdown error: %v", err)
	}
	if err := rep.Cancel(); err != nil {
		log.Errorf("replication cancel error: %v", err)
	}
	return nil
}

// registerDebugRoutes mounts /push and /pull on top of statusapi's
// router so an operator can drive the end-to-end scenarios of
// spec.md §8 across two `drivesync run` processes sharing one folder,
// without a real host replication engine.
func registerDebugRoutes(r *gin.Engine, engine *localEngine) {
	r.POST("/push", func(c *gin.Context) {
		var body struct {
			Rows []hostapi.WriteRow `json:"rows"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		conflicts, err := engine.push(c.Request.Context(), body.Rows)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conflicts": conflicts})
	})

	r.GET("/pull", func(c *gin.Context) {
		// Decoded into the concrete downstream.Checkpoint (not `any`) so
		// it survives the checkpoint.(downstream.Checkpoint) assertion
		// in internal/orchestrator's pull handler: unmarshaling into an
		// any would give a map[string]interface{} that assertion never
		// matches, silently resetting pagination on every call.
		var checkpoint any
		if raw := c.Query("checkpoint"); raw != "" {
			var typed downstream.Checkpoint
			if err := json.Unmarshal([]byte(raw), &typed); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid checkpoint: " + err.Error()})
				return
			}
			checkpoint = typed
		}
		docs, newCheckpoint, err := engine.pull(c.Request.Context(), checkpoint, 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": docs, "checkpoint": newCheckpoint})
	})
}
