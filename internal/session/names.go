// Package session provides worker and role session naming and lifecycle.
package session

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rjwalters/loom-sub010/internal/constants"
)

// Kind distinguishes the two session families the daemon manages.
type Kind string

const (
	// KindWorker is a shepherd worker session driving one work item.
	KindWorker Kind = "worker"

	// KindRole is a long-lived support or proposer role session.
	KindRole Kind = "role"
)

// Identity is a parsed fleet session name.
type Identity struct {
	Kind    Kind
	Slot    int    // worker slot index (workers only)
	ShortID string // first 8 chars of the shepherd id (workers only)
	Role    string // role name (roles only)
}

// WorkerSessionName returns the tmux session name for a shepherd worker.
// Format: shep-w<slot>-<shortID>, e.g. "shep-w0-3f9ac1d2".
func WorkerSessionName(slot int, shortID string) string {
	return fmt.Sprintf("%s%d-%s", constants.WorkerSessionPrefix, slot, shortID)
}

// RoleSessionName returns the tmux session name for a support or proposer
// role. Format: shep-role-<name>, e.g. "shep-role-backlog-groomer".
func RoleSessionName(role string) string {
	return constants.RoleSessionPrefix + role
}

// ShortID truncates a shepherd id for use in session names.
func ShortID(shepherdID string) string {
	if len(shepherdID) > 8 {
		return shepherdID[:8]
	}
	return shepherdID
}

// ParseSessionName parses a fleet session name into an Identity.
//
// Session name formats:
//   - shep-w<slot>-<shortID> → worker
//   - shep-role-<name>       → role
//
// Sessions without the fleet prefix are rejected so sweeps never touch
// sessions the daemon does not own.
func ParseSessionName(session string) (*Identity, error) {
	if strings.HasPrefix(session, constants.RoleSessionPrefix) {
		role := strings.TrimPrefix(session, constants.RoleSessionPrefix)
		if role == "" {
			return nil, fmt.Errorf("invalid session name %q: empty role", session)
		}
		return &Identity{Kind: KindRole, Role: role}, nil
	}

	if strings.HasPrefix(session, constants.WorkerSessionPrefix) {
		rest := strings.TrimPrefix(session, constants.WorkerSessionPrefix)
		slotStr, shortID, ok := strings.Cut(rest, "-")
		if !ok || shortID == "" {
			return nil, fmt.Errorf("invalid session name %q: expected shep-w<slot>-<id>", session)
		}
		slot, err := strconv.Atoi(slotStr)
		if err != nil || slot < 0 {
			return nil, fmt.Errorf("invalid session name %q: bad slot %q", session, slotStr)
		}
		return &Identity{Kind: KindWorker, Slot: slot, ShortID: shortID}, nil
	}

	return nil, fmt.Errorf("invalid session name %q: missing %q prefix", session, constants.SessionPrefix)
}

// SessionName returns the tmux session name for this identity.
func (id *Identity) SessionName() string {
	switch id.Kind {
	case KindWorker:
		return WorkerSessionName(id.Slot, id.ShortID)
	case KindRole:
		return RoleSessionName(id.Role)
	default:
		return ""
	}
}
