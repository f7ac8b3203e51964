// Package signaling implements spec §4.6: a file-based message bus
// under signaling/ that bootstraps a WebRTC peer mesh and propagates
// RESYNC/NEW_PEER pings, with adaptive-backoff polling and garbage
// collection of stale signal files.
package signaling

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Message is one file in signaling/ (spec §3 "Signal Message").
type Message struct {
	SessionID string          `json:"sessionId"`
	Timestamp int64           `json:"timestamp"`
	MessageID string          `json:"messageId"`
	Payload   json.RawMessage `json:"payload"`
}

// existBeacon is the presence payload sent once on start.
var existBeacon = json.RawMessage(`{"i":"exist"}`)

// newSessionID returns a 12-character random token identifying this
// peer for the lifetime of the process (spec GLOSSARY: "Session ID").
// Grounded on google/uuid, the only UUID library the pack pulls in
// directly (cuemby-warren's go.mod); truncated since the spec calls for
// 12 chars, not a full UUID.
func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// NewSessionID is exported so drivesync.New can mint one sessionID,
// shared between Transaction (the lock holder name) and Signaling (the
// peer mesh identity), before the orchestrator constructs either.
func NewSessionID() string {
	return newSessionID()
}

func newMessageID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// fileName is the naming scheme of spec §3:
// "<sessionId>_<timestamp>_<messageId>.json".
func fileName(sessionID string, timestamp int64, messageID string) string {
	return fmt.Sprintf("%s_%d_%s.json", sessionID, timestamp, messageID)
}

// parseFileName extracts the sessionId, timestamp and messageId from a
// signal file's name. ok is false if name doesn't match the scheme
// (defensive against unrelated files ending up in signaling/).
func parseFileName(name string) (sessionID string, timestamp int64, messageID string, ok bool) {
	name = strings.TrimSuffix(name, ".json")
	parts := strings.SplitN(name, "_", 3)
	if len(parts) != 3 {
		return "", 0, "", false
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, "", false
	}
	return parts[0], ts, parts[2], true
}
