// Package events provides the append-only audit log for fleet activity.
//
// Events are written to .shepherd/events.jsonl as JSON lines. Every daemon
// decision that changes fleet state lands here: spawns, reclaims, outcomes,
// escalations, breaker trips, pauses. `shep logs` renders the file with
// FormatLine. When events.nats_url is configured the daemon also mirrors
// each event to a NATS subject; the mirror is best-effort and never blocks
// the control loop.
package events

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/rjwalters/loom-sub010/internal/constants"
)

// Event represents one entry in the fleet audit log.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp string                 `json:"ts"`
	Source    string                 `json:"source"`
	Type      string                 `json:"type"`
	Actor     string                 `json:"actor"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Event types emitted by the daemon and CLI.
const (
	TypeDaemonStart = "daemon_start"
	TypeDaemonStop  = "daemon_stop"

	// Shepherd lifecycle
	TypeSpawned   = "spawned"
	TypeReclaimed = "reclaimed"
	TypeOutcome   = "outcome"
	TypeEscalated = "escalated"

	// Circuit breaker
	TypeBreakerTripped = "breaker_tripped"
	TypeBreakerReset   = "breaker_reset"
	TypeMassFailure    = "mass_failure"

	// Operator actions
	TypePaused   = "paused"
	TypeResumed  = "resumed"
	TypeAssigned = "assigned"

	// Housekeeping
	TypeSwept         = "swept"
	TypeOrphanCleaned = "orphan_cleaned"
	TypeRoleTriggered = "role_triggered"
)

// Logger appends events for one fleet root. The daemon holds a single
// Logger for its lifetime so the optional NATS mirror stays connected;
// one-shot CLI commands use Append instead.
type Logger struct {
	root   string
	source string

	mu      sync.Mutex
	nc      *nats.Conn
	subject string
}

// New returns a Logger for the fleet rooted at root.
func New(root string) *Logger {
	return &Logger{root: root, source: "shep"}
}

// EnableMirror connects to a NATS server and mirrors every subsequent
// event to subject. A failed connect leaves the Logger file-only; the
// caller should log the returned error once and carry on.
func (l *Logger) EnableMirror(url, subject string) error {
	nc, err := nats.Connect(url,
		nats.Name("shep-events"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("connecting event mirror: %w", err)
	}
	l.mu.Lock()
	l.nc = nc
	l.subject = subject
	l.mu.Unlock()
	return nil
}

// Close flushes and disconnects the NATS mirror if one is active.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.nc != nil {
		_ = l.nc.Flush()
		l.nc.Close()
		l.nc = nil
	}
}

// Log appends an event to the audit log and mirrors it if a mirror is
// connected. Mirror publish failures are dropped; the file write is the
// source of truth.
func (l *Logger) Log(eventType, actor string, payload map[string]interface{}) error {
	event := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    l.source,
		Type:      eventType,
		Actor:     actor,
		Payload:   payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	path := constants.EventsPath(l.root)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) //nolint:gosec // G302: event log is non-sensitive operational data
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}

	if l.nc != nil {
		_ = l.nc.Publish(l.subject, data)
	}
	return nil
}

// Append writes a single event without keeping a Logger around.
func Append(root, eventType, actor string, payload map[string]interface{}) error {
	return New(root).Log(eventType, actor, payload)
}

// Tail reads up to n events from the end of the audit log, oldest first.
// Malformed lines are skipped. A missing log is not an error.
func Tail(root string, n int) ([]Event, error) {
	data, err := os.ReadFile(constants.EventsPath(root))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading event log: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	var events []Event
	for _, line := range lines {
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

// FormatLine renders an event as one human-readable line for `shep logs`.
func FormatLine(e Event) string {
	ts := e.Timestamp
	if t, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
		ts = t.Local().Format("2006-01-02 15:04:05")
	}
	desc := describe(e)
	if desc == "" {
		return fmt.Sprintf("%s [%s] %s", ts, e.Type, e.Actor)
	}
	return fmt.Sprintf("%s [%s] %s %s", ts, e.Type, e.Actor, desc)
}

// describe renders the payload of known event types as prose.
func describe(e Event) string {
	str := func(key string) string {
		if v, ok := e.Payload[key].(string); ok {
			return v
		}
		return ""
	}

	switch e.Type {
	case TypeSpawned:
		return fmt.Sprintf("spawned for %s", str("item"))
	case TypeReclaimed:
		return fmt.Sprintf("reclaimed %s: %s", str("item"), str("reason"))
	case TypeOutcome:
		return fmt.Sprintf("finished %s: %s", str("item"), str("outcome"))
	case TypeEscalated:
		return fmt.Sprintf("escalated %s after %v failures", str("item"), e.Payload["failures"])
	case TypeBreakerTripped:
		return fmt.Sprintf("tripped: %v failures within %s", e.Payload["failures"], str("window"))
	case TypeBreakerReset:
		return "reset by operator"
	case TypeMassFailure:
		return fmt.Sprintf("%v shepherds failed within %s", e.Payload["count"], str("window"))
	case TypePaused:
		return fmt.Sprintf("paused: %s", str("reason"))
	case TypeResumed:
		return "resumed"
	case TypeAssigned:
		return fmt.Sprintf("assigned %s", str("item"))
	case TypeSwept:
		return fmt.Sprintf("removed worktree for %s: %s", str("item"), str("reason"))
	case TypeOrphanCleaned:
		return fmt.Sprintf("cleaned orphan %s", str("target"))
	case TypeRoleTriggered:
		return fmt.Sprintf("triggered %s", str("role"))
	case TypeDaemonStart:
		return fmt.Sprintf("pid %v", e.Payload["pid"])
	case TypeDaemonStop:
		return str("reason")
	default:
		if len(e.Payload) == 0 {
			return ""
		}
		data, _ := json.Marshal(e.Payload)
		return string(data)
	}
}

// Payload helpers for common event structures.

// SpawnPayload describes a shepherd spawn.
func SpawnPayload(shepherdID string, slot int, itemID string) map[string]interface{} {
	return map[string]interface{}{
		"shepherd": shepherdID,
		"slot":     slot,
		"item":     itemID,
	}
}

// ReclaimPayload describes a reclaimed shepherd slot.
func ReclaimPayload(shepherdID, itemID, reason string) map[string]interface{} {
	return map[string]interface{}{
		"shepherd": shepherdID,
		"item":     itemID,
		"reason":   reason,
	}
}

// OutcomePayload describes a finished shepherd run.
func OutcomePayload(shepherdID, itemID, outcome string, attempt int) map[string]interface{} {
	return map[string]interface{}{
		"shepherd": shepherdID,
		"item":     itemID,
		"outcome":  outcome,
		"attempt":  attempt,
	}
}

// EscalationPayload describes an item escalated after repeated failures.
func EscalationPayload(itemID string, failures int) map[string]interface{} {
	return map[string]interface{}{
		"item":     itemID,
		"failures": failures,
	}
}

// BreakerPayload describes a circuit breaker trip.
func BreakerPayload(failures int, window string) map[string]interface{} {
	return map[string]interface{}{
		"failures": failures,
		"window":   window,
	}
}

// MassFailurePayload describes several shepherds failing in a short window.
func MassFailurePayload(count int, window string, items []string) map[string]interface{} {
	return map[string]interface{}{
		"count":  count,
		"window": window,
		"items":  items,
	}
}

// PausePayload describes an operator pause.
func PausePayload(reason, by string) map[string]interface{} {
	p := map[string]interface{}{
		"by": by,
	}
	if reason != "" {
		p["reason"] = reason
	}
	return p
}

// AssignPayload describes a forced assignment request.
func AssignPayload(itemID, requestedBy string) map[string]interface{} {
	return map[string]interface{}{
		"item": itemID,
		"by":   requestedBy,
	}
}

// SweepPayload describes a worktree removal.
func SweepPayload(itemID, path, reason string) map[string]interface{} {
	return map[string]interface{}{
		"item":   itemID,
		"path":   path,
		"reason": reason,
	}
}

// OrphanPayload describes an orphaned session or worktree cleaned at startup.
func OrphanPayload(kind, target string) map[string]interface{} {
	return map[string]interface{}{
		"kind":   kind,
		"target": target,
	}
}

// RolePayload describes a support or proposer role trigger.
func RolePayload(role, session string) map[string]interface{} {
	return map[string]interface{}{
		"role":    role,
		"session": session,
	}
}
