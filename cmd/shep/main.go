/*
shep runs a fleet of autonomous coding-agent shepherds.

Each shepherd drives one tracker work item through curation, build,
review, and merge, running the coding agent inside a tmux session and
an isolated git worktree. The daemon keeps the fleet busy:

  - Claims claimable backlog items onto free slots
  - Reclaims crashed, stalled, and runaway shepherds
  - Backs off repeat offenders and escalates the hopeless ones
  - Trips a circuit breaker when failures cluster, pausing all spawns

Usage:

	shep <command> [arguments]

Common commands:

	shep init      Initialize a fleet workspace
	shep up        Start the fleet daemon
	shep status    Show slots, breaker, and backlog
	shep assign    Queue an item for the next free slot
	shep down      Stop the daemon

See 'shep help <command>' for more information on a specific command.
*/
package main

import (
	"os"

	"github.com/rjwalters/loom-sub010/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
