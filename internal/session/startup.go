package session

import (
	"fmt"
	"time"
)

// StartupNudgeConfig configures the first message sent into a new session.
type StartupNudgeConfig struct {
	// Recipient identifies the agent being addressed,
	// e.g. "worker:0" or "role:reviewer".
	Recipient string

	// Sender is who started the session, e.g. "shepherd" or "daemon".
	Sender string

	// Topic describes why the session was started,
	// e.g. "curate", "build", "cold-start".
	Topic string

	// ItemID is the work item being driven, appended to the topic when set.
	ItemID string
}

// StartupNudge sends the formatted startup message to a freshly created
// session. The message lands before any phase prompt so the transcript
// records which item and phase the session was opened for.
func StartupNudge(svc Service, session string, cfg StartupNudgeConfig) error {
	return svc.Send(session, FormatStartupNudge(cfg))
}

// FormatStartupNudge builds the startup message.
//
// Format: [SHEP FLEET] <recipient> <- <sender> • <timestamp> • <topic[:item]>
//
// Examples:
//   - [SHEP FLEET] worker:0 <- shepherd • 2026-03-01T15:42 • build:wk-42
//   - [SHEP FLEET] role:reviewer <- daemon • 2026-03-01T08:00 • cold-start
func FormatStartupNudge(cfg StartupNudgeConfig) string {
	timestamp := time.Now().Format("2006-01-02T15:04")

	topic := cfg.Topic
	switch {
	case cfg.ItemID != "" && topic != "":
		topic = fmt.Sprintf("%s:%s", topic, cfg.ItemID)
	case cfg.ItemID != "":
		topic = cfg.ItemID
	case topic == "":
		topic = "ready"
	}

	return fmt.Sprintf("[SHEP FLEET] %s <- %s • %s • %s",
		cfg.Recipient, cfg.Sender, timestamp, topic)
}
