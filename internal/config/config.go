// Package config loads and validates the fleet configuration file.
//
// The configuration lives at <root>/.shepherd/config.toml and doubles as the
// workspace marker. Every tunable the scheduler consults (grace windows,
// backoff, escalation counts, pool sizing, cooldowns) is defined here;
// nothing numeric is hard-coded in the control loop.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/rjwalters/loom-sub010/internal/constants"
)

var (
	// ErrNotFound indicates the config file does not exist.
	ErrNotFound = errors.New("config file not found")

	// ErrInvalidVersion indicates an unsupported schema version.
	ErrInvalidVersion = errors.New("unsupported config version")

	// ErrMissingField indicates a required field is missing.
	ErrMissingField = errors.New("missing required field")
)

// CurrentVersion is the supported config schema version.
const CurrentVersion = 1

// RoleKind distinguishes always-on support roles from cooldown-gated
// backlog-generating proposer roles.
type RoleKind string

const (
	// RoleSupport roles are kept alive by the daemon on every iteration.
	RoleSupport RoleKind = "support"

	// RoleProposer roles are triggered when the ready backlog runs low.
	RoleProposer RoleKind = "proposer"
)

// Role defines one configured fleet role.
type Role struct {
	// Name identifies the role; also used in its session name.
	Name string `toml:"name"`

	// Kind is "support" or "proposer".
	Kind RoleKind `toml:"kind"`

	// Command is run inside the role's session.
	Command string `toml:"command"`

	// Cooldown spaces out proposer triggers. Duration string, e.g. "30m".
	Cooldown string `toml:"cooldown,omitempty"`
}

// GetCooldown returns the parsed cooldown, falling back to the default.
func (r *Role) GetCooldown() time.Duration {
	if r.Cooldown == "" {
		return constants.DefaultRoleCooldown
	}
	d, err := time.ParseDuration(r.Cooldown)
	if err != nil {
		return constants.DefaultRoleCooldown
	}
	return d
}

// FleetConfig sizes and paces the shepherd pool.
type FleetConfig struct {
	// MaxShepherds caps concurrent Shepherd slots.
	MaxShepherds int `toml:"max_shepherds"`

	// ItemsPerShepherd is the backlog-to-shepherd ratio for pool sizing.
	ItemsPerShepherd int `toml:"items_per_shepherd"`

	// PollInterval is the daemon iteration sleep. Duration string.
	PollInterval string `toml:"poll_interval"`

	// BacklogLowWater triggers proposer roles when the ready backlog
	// drops below it.
	BacklogLowWater int `toml:"backlog_low_water"`

	// ProposalCap suppresses proposer triggers while this many items are
	// still labeled new.
	ProposalCap int `toml:"proposal_cap"`

	// AutoApprove lets Shepherds apply curated → approved themselves.
	AutoApprove bool `toml:"auto_approve"`

	// ShutdownGrace bounds the wait for active Shepherds on shutdown.
	// Duration string.
	ShutdownGrace string `toml:"shutdown_grace"`
}

// TrackerConfig names the external work-tracker CLI.
type TrackerConfig struct {
	// Command is the tracker binary, e.g. "wk".
	Command string `toml:"command"`
}

// WorkerConfig describes the coding-agent sessions Shepherds drive.
type WorkerConfig struct {
	// Command is launched inside each worker session.
	Command string `toml:"command"`

	// PhaseBudget bounds one phase before budget-exhausted. Duration string.
	PhaseBudget string `toml:"phase_budget"`

	// ApprovalWait bounds await-approval when auto-approve is off.
	// Duration string.
	ApprovalWait string `toml:"approval_wait"`

	// ReviewCycleCap bounds review/doctor round-trips per item.
	ReviewCycleCap int `toml:"review_cycle_cap"`
}

// LivenessConfig holds the heartbeat grace tiers.
type LivenessConfig struct {
	// InitialHeartbeatGrace applies before the first observed heartbeat.
	InitialHeartbeatGrace string `toml:"initial_heartbeat_grace"`

	// SteadyHeartbeatGrace applies once a heartbeat has been seen.
	SteadyHeartbeatGrace string `toml:"steady_heartbeat_grace"`

	// ProgressGrace bounds the wait for a first progress marker.
	ProgressGrace string `toml:"progress_grace"`
}

// BackoffConfig shapes per-item retry backoff and escalation.
type BackoffConfig struct {
	// Base seeds the exponential backoff. Duration string.
	Base string `toml:"base"`

	// Cap bounds the exponent: backoff never exceeds base * 2^cap.
	Cap int `toml:"cap"`

	// EscalationCap marks an item blocked and requests decomposition after
	// this many consecutive failures.
	EscalationCap int `toml:"escalation_cap"`
}

// BreakerConfig shapes the fleet-wide circuit breaker.
type BreakerConfig struct {
	// Window is the rolling failure-count window. Duration string.
	Window string `toml:"window"`

	// Threshold is the failure count within the window that trips.
	Threshold int `toml:"threshold"`
}

// WorktreeConfig shapes worktree lifecycle.
type WorktreeConfig struct {
	// BaseBranch is the branch worktrees fork from.
	BaseBranch string `toml:"base_branch"`

	// MergeGrace keeps a worktree after merge before removal is allowed.
	// Duration string.
	MergeGrace string `toml:"merge_grace"`
}

// EventsConfig shapes audit event mirroring.
type EventsConfig struct {
	// NatsURL enables mirroring events to NATS when non-empty.
	NatsURL string `toml:"nats_url"`

	// NatsSubject is the publish subject. Defaults to "shep.events".
	NatsSubject string `toml:"nats_subject"`
}

// Config is the root of config.toml.
type Config struct {
	Version  int            `toml:"version"`
	Fleet    FleetConfig    `toml:"fleet"`
	Tracker  TrackerConfig  `toml:"tracker"`
	Worker   WorkerConfig   `toml:"worker"`
	Liveness LivenessConfig `toml:"liveness"`
	Backoff  BackoffConfig  `toml:"backoff"`
	Breaker  BreakerConfig  `toml:"breaker"`
	Worktree WorktreeConfig `toml:"worktree"`
	Events   EventsConfig   `toml:"events"`
	Roles    []Role         `toml:"role"`
}

// Default returns a fully populated configuration.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Fleet: FleetConfig{
			MaxShepherds:     constants.DefaultMaxShepherds,
			ItemsPerShepherd: constants.DefaultItemsPerShepherd,
			PollInterval:     constants.DefaultPollInterval.String(),
			BacklogLowWater:  constants.DefaultBacklogLowWater,
			ProposalCap:      constants.DefaultProposalCap,
			AutoApprove:      true,
			ShutdownGrace:    constants.DefaultShutdownGrace.String(),
		},
		Tracker: TrackerConfig{
			Command: "wk",
		},
		Worker: WorkerConfig{
			Command:        "claude --permission-mode acceptEdits",
			PhaseBudget:    constants.DefaultPhaseBudget.String(),
			ApprovalWait:   constants.DefaultApprovalWait.String(),
			ReviewCycleCap: constants.DefaultReviewCycleCap,
		},
		Liveness: LivenessConfig{
			InitialHeartbeatGrace: constants.DefaultInitialHeartbeatGrace.String(),
			SteadyHeartbeatGrace:  constants.DefaultSteadyHeartbeatGrace.String(),
			ProgressGrace:         constants.DefaultProgressGrace.String(),
		},
		Backoff: BackoffConfig{
			Base:          constants.DefaultBackoffBase.String(),
			Cap:           constants.DefaultBackoffCap,
			EscalationCap: constants.DefaultEscalationCap,
		},
		Breaker: BreakerConfig{
			Window:    constants.DefaultBreakerWindow.String(),
			Threshold: constants.DefaultBreakerThreshold,
		},
		Worktree: WorktreeConfig{
			BaseBranch: constants.BranchMain,
			MergeGrace: constants.DefaultMergeGrace.String(),
		},
		Events: EventsConfig{
			NatsSubject: "shep.events",
		},
	}
}

// Duration accessors parse the string fields, falling back to defaults so a
// hand-edited config can never stall the loop with a zero interval.

// GetPollInterval returns the daemon iteration sleep.
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Fleet.PollInterval, constants.DefaultPollInterval)
}

// GetShutdownGrace returns the bounded shutdown wait.
func (c *Config) GetShutdownGrace() time.Duration {
	return parseDuration(c.Fleet.ShutdownGrace, constants.DefaultShutdownGrace)
}

// GetPhaseBudget returns the per-phase execution budget.
func (c *Config) GetPhaseBudget() time.Duration {
	return parseDuration(c.Worker.PhaseBudget, constants.DefaultPhaseBudget)
}

// GetApprovalWait returns the await-approval bound.
func (c *Config) GetApprovalWait() time.Duration {
	return parseDuration(c.Worker.ApprovalWait, constants.DefaultApprovalWait)
}

// GetInitialHeartbeatGrace returns the pre-first-heartbeat grace window.
func (c *Config) GetInitialHeartbeatGrace() time.Duration {
	return parseDuration(c.Liveness.InitialHeartbeatGrace, constants.DefaultInitialHeartbeatGrace)
}

// GetSteadyHeartbeatGrace returns the steady-state grace window.
func (c *Config) GetSteadyHeartbeatGrace() time.Duration {
	return parseDuration(c.Liveness.SteadyHeartbeatGrace, constants.DefaultSteadyHeartbeatGrace)
}

// GetProgressGrace returns the first-progress-marker window.
func (c *Config) GetProgressGrace() time.Duration {
	return parseDuration(c.Liveness.ProgressGrace, constants.DefaultProgressGrace)
}

// GetBackoffBase returns the backoff base interval.
func (c *Config) GetBackoffBase() time.Duration {
	return parseDuration(c.Backoff.Base, constants.DefaultBackoffBase)
}

// GetBreakerWindow returns the rolling breaker window.
func (c *Config) GetBreakerWindow() time.Duration {
	return parseDuration(c.Breaker.Window, constants.DefaultBreakerWindow)
}

// GetMergeGrace returns the post-merge worktree retention window.
func (c *Config) GetMergeGrace() time.Duration {
	return parseDuration(c.Worktree.MergeGrace, constants.DefaultMergeGrace)
}

// SupportRoles returns the configured always-on roles.
func (c *Config) SupportRoles() []Role {
	var out []Role
	for _, r := range c.Roles {
		if r.Kind == RoleSupport {
			out = append(out, r)
		}
	}
	return out
}

// ProposerRoles returns the configured backlog-generating roles.
func (c *Config) ProposerRoles() []Role {
	var out []Role
	for _, r := range c.Roles {
		if r.Kind == RoleProposer {
			out = append(out, r)
		}
	}
	return out
}

// RoleByName returns the named role, or nil.
func (c *Config) RoleByName(name string) *Role {
	for i := range c.Roles {
		if c.Roles[i].Name == name {
			return &c.Roles[i]
		}
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("%w: %d (supported: %d)", ErrInvalidVersion, c.Version, CurrentVersion)
	}
	if c.Tracker.Command == "" {
		return fmt.Errorf("%w: tracker.command", ErrMissingField)
	}
	if c.Worker.Command == "" {
		return fmt.Errorf("%w: worker.command", ErrMissingField)
	}
	if c.Fleet.MaxShepherds < 0 {
		return fmt.Errorf("fleet.max_shepherds must be >= 0, got %d", c.Fleet.MaxShepherds)
	}
	if c.Fleet.ItemsPerShepherd < 1 {
		return fmt.Errorf("fleet.items_per_shepherd must be >= 1, got %d", c.Fleet.ItemsPerShepherd)
	}
	if c.Backoff.Cap < 0 {
		return fmt.Errorf("backoff.cap must be >= 0, got %d", c.Backoff.Cap)
	}
	if c.Backoff.EscalationCap < 1 {
		return fmt.Errorf("backoff.escalation_cap must be >= 1, got %d", c.Backoff.EscalationCap)
	}
	if c.Breaker.Threshold < 1 {
		return fmt.Errorf("breaker.threshold must be >= 1, got %d", c.Breaker.Threshold)
	}
	if c.Worker.ReviewCycleCap < 1 {
		return fmt.Errorf("worker.review_cycle_cap must be >= 1, got %d", c.Worker.ReviewCycleCap)
	}
	if c.Worktree.BaseBranch == "" {
		return fmt.Errorf("%w: worktree.base_branch", ErrMissingField)
	}

	for _, field := range []struct {
		name, value string
	}{
		{"fleet.poll_interval", c.Fleet.PollInterval},
		{"fleet.shutdown_grace", c.Fleet.ShutdownGrace},
		{"worker.phase_budget", c.Worker.PhaseBudget},
		{"worker.approval_wait", c.Worker.ApprovalWait},
		{"liveness.initial_heartbeat_grace", c.Liveness.InitialHeartbeatGrace},
		{"liveness.steady_heartbeat_grace", c.Liveness.SteadyHeartbeatGrace},
		{"liveness.progress_grace", c.Liveness.ProgressGrace},
		{"backoff.base", c.Backoff.Base},
		{"breaker.window", c.Breaker.Window},
		{"worktree.merge_grace", c.Worktree.MergeGrace},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", field.name, field.value)
		}
	}

	seen := make(map[string]bool)
	for _, r := range c.Roles {
		if r.Name == "" {
			return fmt.Errorf("%w: role.name", ErrMissingField)
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate role name: %s", r.Name)
		}
		seen[r.Name] = true
		if r.Kind != RoleSupport && r.Kind != RoleProposer {
			return fmt.Errorf("role %q: invalid kind %q (must be support or proposer)", r.Name, r.Kind)
		}
		if r.Command == "" {
			return fmt.Errorf("role %q: %w: command", r.Name, ErrMissingField)
		}
		if r.Cooldown != "" {
			if _, err := time.ParseDuration(r.Cooldown); err != nil {
				return fmt.Errorf("role %q: invalid cooldown %q", r.Name, r.Cooldown)
			}
		}
	}

	return nil
}
