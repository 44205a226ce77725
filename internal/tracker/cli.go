package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// conflictExitCode is the exit status wk uses for a lost compare-and-swap.
const conflictExitCode = 4

// CLIClient implements Client by shelling out to the wk CLI.
type CLIClient struct {
	command string
	workDir string
}

// NewCLIClient returns a client invoking command (normally "wk") with
// workDir as the working directory.
func NewCLIClient(command, workDir string) *CLIClient {
	if command == "" {
		command = "wk"
	}
	return &CLIClient{command: command, workDir: workDir}
}

// CommandError reports a failed wk invocation with enough context to
// classify it.
type CommandError struct {
	Command  string
	Args     []string
	ExitCode int
	Stderr   string
	err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s: exit %d: %s", e.Command, strings.Join(e.Args, " "), e.ExitCode, e.Stderr)
}

func (e *CommandError) Unwrap() error {
	return e.err
}

// stderrContains reports whether the captured stderr mentions substr,
// case-insensitively.
func (e *CommandError) stderrContains(substr string) bool {
	return strings.Contains(strings.ToLower(e.Stderr), substr)
}

// run executes a wk command and returns its stdout.
func (c *CLIClient) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.command, args...) //nolint:gosec // G204: arguments are constructed internally
	cmd.Dir = c.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, &CommandError{
			Command:  c.command,
			Args:     args,
			ExitCode: exitCode,
			Stderr:   strings.TrimSpace(stderr.String()),
			err:      err,
		}
	}
	return stdout.Bytes(), nil
}

// classify maps wk failures onto package sentinels where possible.
func classify(err error) error {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return err
	}
	if cmdErr.ExitCode == conflictExitCode || cmdErr.stderrContains("conflict") {
		return ErrConflict
	}
	if cmdErr.stderrContains("not found") {
		return ErrNotFound
	}
	return err
}

func (c *CLIClient) List(ctx context.Context, filter ListFilter) ([]*Item, error) {
	args := []string{"list", "--json"}
	if filter.Label != "" {
		args = append(args, "--label", string(filter.Label))
	}
	if filter.IncludeClosed {
		args = append(args, "--all")
	}

	stdout, err := c.run(ctx, args...)
	if err != nil {
		return nil, classify(err)
	}

	var items []*Item
	if err := json.Unmarshal(stdout, &items); err != nil {
		// An empty result prints nothing or "null".
		if len(bytes.TrimSpace(stdout)) == 0 || string(bytes.TrimSpace(stdout)) == "null" {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing wk list output: %w", err)
	}
	return items, nil
}

func (c *CLIClient) Get(ctx context.Context, id string) (*Item, error) {
	stdout, err := c.run(ctx, "show", id, "--json")
	if err != nil {
		return nil, classify(err)
	}

	var item Item
	if err := json.Unmarshal(stdout, &item); err != nil {
		return nil, fmt.Errorf("parsing wk show output: %w", err)
	}
	if item.ID == "" {
		return nil, ErrNotFound
	}
	return &item, nil
}

func (c *CLIClient) Relabel(ctx context.Context, id string, from, to Label) error {
	_, err := c.run(ctx, "relabel", id, "--from", string(from), "--to", string(to))
	if err != nil {
		return classify(err)
	}
	return nil
}

func (c *CLIClient) AddLabel(ctx context.Context, id string, label Label) error {
	_, err := c.run(ctx, "label", id, "--add", string(label))
	if err != nil {
		return classify(err)
	}
	return nil
}

func (c *CLIClient) RemoveLabel(ctx context.Context, id string, label Label) error {
	_, err := c.run(ctx, "label", id, "--remove", string(label))
	if err != nil {
		return classify(err)
	}
	return nil
}

func (c *CLIClient) Comment(ctx context.Context, id, body string) error {
	_, err := c.run(ctx, "comment", id, "-m", body)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (c *CLIClient) Merge(ctx context.Context, id, branch string) error {
	_, err := c.run(ctx, "merge", id, "--branch", branch)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (c *CLIClient) Close(ctx context.Context, id string) error {
	_, err := c.run(ctx, "close", id)
	if err != nil {
		return classify(err)
	}
	return nil
}
