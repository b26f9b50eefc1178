// Package vast wraps the vastai command-line client. It composes and runs
// vastai invocations, recovers structured payloads from noisy output,
// resolves template ownership, and supervises long-running log streams.
package vast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	osexec "os/exec"
	"sort"
	"strings"

	"github.com/MannyJMusic/dfl-desktop/exec"
	"github.com/MannyJMusic/dfl-desktop/logger"
)

// ExitCodeNotFound is reported when the vastai binary is missing from PATH,
// mirroring the shell convention for command-not-found.
const ExitCodeNotFound = 127

// CommandSpec describes a single vastai invocation. Build one with Command
// and pass it by value; Run never mutates the caller's copy.
type CommandSpec struct {
	// Args are the subcommand and its arguments, in order.
	Args []string
	// Raw appends --raw so the CLI emits machine-readable output.
	Raw bool
	// Structured implies Raw and routes stdout through the payload extractor.
	Structured bool
}

// Command builds a CommandSpec from ordered arguments.
func Command(args ...string) CommandSpec {
	return CommandSpec{Args: args}
}

// WithRaw returns a copy of the spec that requests raw output.
func (s CommandSpec) WithRaw() CommandSpec {
	s.Raw = true
	return s
}

// CommandOutcome is the result of a completed vastai invocation.
type CommandOutcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// CommandError reports a vastai invocation that failed. It carries enough
// context for a caller to render a useful message without re-running anything.
type CommandError struct {
	// Args is the full argv including the binary name.
	Args []string
	// ExitCode is the process exit code; negative values encode death by
	// signal (-15 for SIGTERM).
	ExitCode int
	// Stderr is the captured, trimmed stderr output.
	Stderr string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %s failed with exit code %d", strings.Join(e.Args, " "), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Client runs vastai commands through a pluggable executor.
type Client struct {
	binary   string
	apiKey   string
	executor exec.CommandExecutor
}

// NewClient creates a client for the given vastai binary. apiKey may be
// empty, in which case the CLI falls back to its own stored credentials.
func NewClient(binary, apiKey string) *Client {
	return NewClientWithExecutor(binary, apiKey, exec.GetDefaultExecutor())
}

// NewClientWithExecutor creates a client with an explicit executor.
// Tests use this to inject a MockExecutor.
func NewClientWithExecutor(binary, apiKey string, executor exec.CommandExecutor) *Client {
	if binary == "" {
		binary = "vastai"
	}
	return &Client{binary: binary, apiKey: apiKey, executor: executor}
}

// Binary returns the configured vastai binary name or path.
func (c *Client) Binary() string {
	return c.binary
}

// composeArgs flattens a spec into argv: base arguments first, then --raw
// when requested, then the API key. Order is fixed so mocked invocations
// and log lines stay predictable.
func (c *Client) composeArgs(spec CommandSpec) []string {
	args := make([]string, 0, len(spec.Args)+3)
	args = append(args, spec.Args...)
	if spec.Raw || spec.Structured {
		args = append(args, "--raw")
	}
	if c.apiKey != "" {
		args = append(args, "--api-key", c.apiKey)
	}
	return args
}

// FormatCommand renders the full invocation as a shell-quoted string for
// display. The API key is masked.
func (c *Client) FormatCommand(spec CommandSpec) string {
	args := c.composeArgs(spec)
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(c.binary))
	masked := false
	for i, arg := range args {
		if masked {
			masked = false
			parts = append(parts, "***")
			continue
		}
		if arg == "--api-key" && i < len(args)-1 {
			masked = true
		}
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

// shellQuote quotes a single argument for a POSIX shell.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$`!*?[](){}<>|&;~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// Run executes the spec to completion. A nonzero exit returns both the
// outcome (with whatever output was produced) and a *CommandError. A missing
// binary maps to a *CommandError with ExitCodeNotFound.
func (c *Client) Run(ctx context.Context, spec CommandSpec) (CommandOutcome, error) {
	args := c.composeArgs(spec)
	log := logger.WithComponent("vast")
	log.Debug("running command", "binary", c.binary, "args", strings.Join(spec.Args, " "))

	stdout, stderr, err := c.executor.Run(ctx, c.binary, args...)
	outcome := CommandOutcome{Stdout: string(stdout), Stderr: string(stderr)}

	if err != nil {
		argv := append([]string{c.binary}, args...)
		if errors.Is(err, osexec.ErrNotFound) {
			return outcome, &CommandError{
				Args:     argv,
				ExitCode: ExitCodeNotFound,
				Stderr:   fmt.Sprintf("%s not found in PATH", c.binary),
			}
		}
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			outcome.ExitCode = coder.ExitCode()
			log.Debug("command failed", "exit_code", outcome.ExitCode)
			return outcome, &CommandError{
				Args:     argv,
				ExitCode: outcome.ExitCode,
				Stderr:   strings.TrimSpace(outcome.Stderr),
			}
		}
		return outcome, fmt.Errorf("run %s: %w", c.binary, err)
	}

	return outcome, nil
}

// RunStructured executes the spec with --raw and extracts a JSON payload
// from stdout. Empty output yields an empty Record; output with no
// recoverable JSON comes back as the raw string.
func (c *Client) RunStructured(ctx context.Context, spec CommandSpec) (any, error) {
	spec.Structured = true
	outcome, err := c.Run(ctx, spec)
	if err != nil {
		return nil, err
	}
	data := strings.TrimSpace(outcome.Stdout)
	if data == "" {
		return Record{}, nil
	}
	return ExtractPayload(data), nil
}

// SearchOffers queries the offer market. Sorting and limiting happen client
// side: the CLI's own --order flag is unreliable across versions.
func (c *Client) SearchOffers(ctx context.Context, query string, limit int, sortBy string, ascending bool) ([]Record, error) {
	args := []string{"search", "offers"}
	if query != "" {
		args = append(args, query)
	}
	payload, err := c.RunStructured(ctx, Command(args...))
	if err != nil {
		return nil, err
	}
	offers := CoerceRecords(payload, "offers")
	if sortBy != "" {
		sortRecords(offers, sortBy, ascending)
	}
	if limit > 0 && len(offers) > limit {
		offers = offers[:limit]
	}
	return offers, nil
}

// SearchVolumes queries volume offers, optionally scoped to one machine.
func (c *Client) SearchVolumes(ctx context.Context, machineID string) ([]Record, error) {
	args := []string{"search", "volumes"}
	if machineID != "" {
		args = append(args, fmt.Sprintf("machine_id=%s", machineID))
	}
	payload, err := c.RunStructured(ctx, Command(args...))
	if err != nil {
		return nil, err
	}
	return CoerceRecords(payload, "volumes"), nil
}

// SearchTemplates runs a template market search with an optional query.
func (c *Client) SearchTemplates(ctx context.Context, query string) ([]Record, error) {
	args := []string{"search", "templates"}
	if query != "" {
		args = append(args, query)
	}
	payload, err := c.RunStructured(ctx, Command(args...))
	if err != nil {
		return nil, err
	}
	return CoerceRecords(payload, "templates"), nil
}

// ShowTemplates lists the account's own templates.
func (c *Client) ShowTemplates(ctx context.Context) ([]Record, error) {
	payload, err := c.RunStructured(ctx, Command("show", "templates"))
	if err != nil {
		return nil, err
	}
	return CoerceRecords(payload, "templates"), nil
}

// ShowInstances lists the account's rented instances.
func (c *Client) ShowInstances(ctx context.Context) ([]Record, error) {
	payload, err := c.RunStructured(ctx, Command("show", "instances"))
	if err != nil {
		return nil, err
	}
	return CoerceRecords(payload, "instances"), nil
}

// ShowUser fetches the account record for the active API key.
func (c *Client) ShowUser(ctx context.Context) (Record, error) {
	payload, err := c.RunStructured(ctx, Command("show", "user"))
	if err != nil {
		return nil, err
	}
	rec, ok := AsRecord(payload)
	if !ok {
		return nil, fmt.Errorf("show user returned unexpected payload %T", payload)
	}
	return rec, nil
}

// ExecuteOnInstance runs a shell command on a rented instance and returns
// its output.
func (c *Client) ExecuteOnInstance(ctx context.Context, instanceID, command string) (string, error) {
	outcome, err := c.Run(ctx, Command("execute", instanceID, "--cmd", command))
	if err != nil {
		return "", err
	}
	return outcome.Stdout, nil
}

// FetchLogs fetches a one-shot snapshot of an instance's logs.
func (c *Client) FetchLogs(ctx context.Context, instanceID string) (string, error) {
	outcome, err := c.Run(ctx, Command("logs", instanceID))
	if err != nil {
		return "", err
	}
	return outcome.Stdout, nil
}

// sortRecords orders records by a field. Numeric values compare numerically,
// everything else falls back to string comparison, and records missing the
// field sort last regardless of direction.
func sortRecords(records []Record, key string, ascending bool) {
	sort.SliceStable(records, func(i, j int) bool {
		vi, oki := records[i][key]
		vj, okj := records[j][key]
		if oki != okj {
			return oki
		}
		if !oki {
			return false
		}
		less, eq := compareValues(vi, vj)
		if eq {
			return false
		}
		if ascending {
			return less
		}
		return !less
	})
}

func compareValues(a, b any) (less, eq bool) {
	fa, aok := numericValue(a)
	fb, bok := numericValue(b)
	if aok && bok {
		return fa < fb, fa == fb
	}
	sa, sb := Stringify(a), Stringify(b)
	return sa < sb, sa == sb
}

func numericValue(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}
