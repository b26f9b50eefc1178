// Package exec provides an abstraction over command execution for testability.
// It allows production code to use real exec.Command while tests
// can inject mock executors that return pre-recorded responses or
// scripted line streams.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// CommandExecutor abstracts command execution for testability.
// Production code uses RealExecutor, while tests use MockExecutor.
type CommandExecutor interface {
	// Run executes a command to completion and returns stdout, stderr, and any error.
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

	// Start starts a command without waiting for it to complete and returns
	// a StreamHandle exposing its live stdout. The handle owns the process;
	// callers must drive it to completion via Wait (after Terminate/Kill if
	// the process is still running).
	Start(ctx context.Context, name string, args ...string) (StreamHandle, error)
}

// ExitStatus describes how a streamed process ended.
type ExitStatus struct {
	Code   int       // exit code; -1 when terminated by a signal
	Signal os.Signal // non-nil when the process was terminated by a signal
	Err    error     // non-nil for failures unrelated to process exit
}

// StreamHandle represents a running streamed command.
type StreamHandle interface {
	// Stdout returns the live stdout of the process.
	Stdout() io.Reader

	// Wait blocks until the process exits and returns its exit status.
	// Must be called exactly once.
	Wait() ExitStatus

	// StderrContent returns captured stderr. Only valid after Wait returns.
	StderrContent() string

	// Terminate sends a graceful termination signal (SIGTERM).
	Terminate() error

	// Kill forcefully kills the process (SIGKILL).
	Kill() error

	// Alive reports whether the process is still running. May report true
	// for a process that has exited but not yet been reaped by Wait.
	Alive() bool
}

// RealExecutor executes commands using os/exec.
type RealExecutor struct{}

// NewRealExecutor returns a new RealExecutor.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

// Run executes a command and returns stdout, stderr, and any error.
func (e *RealExecutor) Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), err
}

// Start starts a command and returns a handle to its live output.
func (e *RealExecutor) Start(ctx context.Context, name string, args ...string) (StreamHandle, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &realStreamHandle{
		cmd:        cmd,
		stdout:     stdoutPipe,
		stderrDone: make(chan struct{}),
	}

	// Drain stderr concurrently so it is captured before cmd.Wait()
	// closes the pipe.
	go func() {
		defer close(h.stderrDone)
		io.Copy(&h.stderrBuf, stderrPipe)
	}()

	return h, nil
}

// realStreamHandle wraps a started exec.Cmd.
type realStreamHandle struct {
	cmd        *exec.Cmd
	stdout     io.ReadCloser
	stderrBuf  bytes.Buffer
	stderrDone chan struct{}
}

func (h *realStreamHandle) Stdout() io.Reader {
	return h.stdout
}

func (h *realStreamHandle) Wait() ExitStatus {
	err := h.cmd.Wait()
	<-h.stderrDone

	if err == nil {
		return ExitStatus{Code: 0}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return ExitStatus{Code: -1, Signal: ws.Signal()}
		}
		return ExitStatus{Code: exitErr.ExitCode()}
	}

	return ExitStatus{Code: -1, Err: err}
}

func (h *realStreamHandle) StderrContent() string {
	return h.stderrBuf.String()
}

func (h *realStreamHandle) Terminate() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

func (h *realStreamHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

func (h *realStreamHandle) Alive() bool {
	if h.cmd.Process == nil {
		return false
	}
	if h.cmd.ProcessState != nil {
		return false
	}
	// Signal 0 probes existence without delivering anything.
	return h.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// MockResponse defines the response for a mocked one-shot command.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

// MockExitError is the error a MockExecutor returns for a nonzero exit.
// It satisfies the same ExitCode() probe as *exec.ExitError.
type MockExitError struct {
	Code int
}

func (e *MockExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode returns the mocked exit code.
func (e *MockExitError) ExitCode() int {
	return e.Code
}

// MockStreamResponse defines the behavior of a mocked streamed command.
type MockStreamResponse struct {
	// Lines are written to the handle's stdout, newline-terminated, in order.
	Lines []string
	// Stderr is reported by StderrContent after Wait.
	Stderr string
	// Status is the exit status delivered by Wait when the stream ends on
	// its own (all lines written, HoldOpen false).
	Status ExitStatus
	// HoldOpen keeps stdout open after the last line until Terminate or
	// Kill is called, simulating a follow-mode process that never exits.
	HoldOpen bool
}

// CommandMatcher is a function that determines if a command matches.
type CommandMatcher func(name string, args []string) bool

// MockRule defines a matching rule and its response.
type MockRule struct {
	Match    CommandMatcher
	Response MockResponse
}

// MockStreamRule defines a matching rule and its streamed response.
type MockStreamRule struct {
	Match    CommandMatcher
	Response MockStreamResponse
}

// MockCall records a command invocation for verification.
type MockCall struct {
	Name string
	Args []string
}

// MockExecutor returns pre-recorded responses for commands.
// Commands are matched in order of rule registration.
type MockExecutor struct {
	mu          sync.RWMutex
	rules       []MockRule
	streamRules []MockStreamRule
	calls       []MockCall
	fallback    CommandExecutor
}

// NewMockExecutor creates a new MockExecutor.
// If fallback is provided, unmatched commands will be delegated to it.
func NewMockExecutor(fallback CommandExecutor) *MockExecutor {
	return &MockExecutor{
		fallback: fallback,
	}
}

// AddRule adds a matching rule with its response.
func (e *MockExecutor) AddRule(match CommandMatcher, response MockResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, MockRule{Match: match, Response: response})
}

// AddStreamRule adds a matching rule with a streamed response.
func (e *MockExecutor) AddStreamRule(match CommandMatcher, response MockStreamResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streamRules = append(e.streamRules, MockStreamRule{Match: match, Response: response})
}

// AddExactMatch adds a rule that matches a specific command exactly.
func (e *MockExecutor) AddExactMatch(name string, args []string, response MockResponse) {
	e.AddRule(matchExact(name, args), response)
}

// AddPrefixMatch adds a rule that matches commands starting with specific args.
func (e *MockExecutor) AddPrefixMatch(name string, prefixArgs []string, response MockResponse) {
	e.AddRule(matchPrefix(name, prefixArgs), response)
}

// AddStreamPrefixMatch adds a stream rule that matches commands starting with
// specific args.
func (e *MockExecutor) AddStreamPrefixMatch(name string, prefixArgs []string, response MockStreamResponse) {
	e.AddStreamRule(matchPrefix(name, prefixArgs), response)
}

func matchExact(name string, args []string) CommandMatcher {
	return func(n string, a []string) bool {
		if n != name || len(a) != len(args) {
			return false
		}
		for i, arg := range args {
			if a[i] != arg {
				return false
			}
		}
		return true
	}
}

func matchPrefix(name string, prefixArgs []string) CommandMatcher {
	return func(n string, a []string) bool {
		if n != name || len(a) < len(prefixArgs) {
			return false
		}
		for i, arg := range prefixArgs {
			if a[i] != arg {
				return false
			}
		}
		return true
	}
}

// GetCalls returns all recorded command invocations.
func (e *MockExecutor) GetCalls() []MockCall {
	e.mu.RLock()
	defer e.mu.RUnlock()
	calls := make([]MockCall, len(e.calls))
	copy(calls, e.calls)
	return calls
}

// ClearCalls clears the recorded command invocations.
func (e *MockExecutor) ClearCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

func (e *MockExecutor) findMatch(name string, args []string) *MockResponse {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, rule := range e.rules {
		if rule.Match(name, args) {
			return &rule.Response
		}
	}
	return nil
}

func (e *MockExecutor) findStreamMatch(name string, args []string) *MockStreamResponse {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, rule := range e.streamRules {
		if rule.Match(name, args) {
			return &rule.Response
		}
	}
	return nil
}

func (e *MockExecutor) recordCall(name string, args []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, MockCall{Name: name, Args: args})
}

// Run executes a mocked command.
func (e *MockExecutor) Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error) {
	e.recordCall(name, args)

	if resp := e.findMatch(name, args); resp != nil {
		return resp.Stdout, resp.Stderr, resp.Err
	}

	if e.fallback != nil {
		return e.fallback.Run(ctx, name, args...)
	}

	// Default: return empty success
	return nil, nil, nil
}

// Start starts a mocked streamed command.
func (e *MockExecutor) Start(ctx context.Context, name string, args ...string) (StreamHandle, error) {
	e.recordCall(name, args)

	if resp := e.findStreamMatch(name, args); resp != nil {
		return newMockStreamHandle(*resp), nil
	}

	if e.fallback != nil {
		return e.fallback.Start(ctx, name, args...)
	}

	return newMockStreamHandle(MockStreamResponse{}), nil
}

// mockStreamHandle replays a scripted line stream.
type mockStreamHandle struct {
	resp MockStreamResponse
	pr   *io.PipeReader
	pw   *io.PipeWriter

	mu         sync.Mutex
	terminated bool
	killed     bool
	status     ExitStatus
	done       chan struct{}
	endOnce    sync.Once
}

// newMockStreamHandle creates a handle and starts the writer goroutine.
func newMockStreamHandle(resp MockStreamResponse) *mockStreamHandle {
	pr, pw := io.Pipe()
	h := &mockStreamHandle{
		resp: resp,
		pr:   pr,
		pw:   pw,
		done: make(chan struct{}),
	}

	go func() {
		for _, line := range resp.Lines {
			if _, err := io.WriteString(pw, line+"\n"); err != nil {
				// Reader or pipe closed (Terminate/Kill) — stop writing.
				return
			}
		}
		if !resp.HoldOpen {
			h.end(resp.Status)
		}
	}()

	return h
}

// end records the final status and releases the stream. Idempotent.
func (h *mockStreamHandle) end(status ExitStatus) {
	h.endOnce.Do(func() {
		h.mu.Lock()
		h.status = status
		h.mu.Unlock()
		h.pw.Close()
		close(h.done)
	})
}

func (h *mockStreamHandle) Stdout() io.Reader {
	return h.pr
}

func (h *mockStreamHandle) Wait() ExitStatus {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *mockStreamHandle) StderrContent() string {
	return h.resp.Stderr
}

// Terminate simulates a SIGTERM: the process "dies" with a signal status.
func (h *mockStreamHandle) Terminate() error {
	h.mu.Lock()
	h.terminated = true
	h.mu.Unlock()
	h.end(ExitStatus{Code: -1, Signal: syscall.SIGTERM})
	return nil
}

// Kill simulates a SIGKILL.
func (h *mockStreamHandle) Kill() error {
	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()
	h.end(ExitStatus{Code: -1, Signal: syscall.SIGKILL})
	return nil
}

func (h *mockStreamHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Terminated reports whether Terminate was called.
func (h *mockStreamHandle) Terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

// Killed reports whether Kill was called.
func (h *mockStreamHandle) Killed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

// Ensure implementations satisfy the interfaces.
var _ CommandExecutor = (*RealExecutor)(nil)
var _ CommandExecutor = (*MockExecutor)(nil)
var _ StreamHandle = (*realStreamHandle)(nil)
var _ StreamHandle = (*mockStreamHandle)(nil)

// defaultExecutorMu protects defaultExecutor for concurrent access.
var defaultExecutorMu sync.RWMutex

// defaultExecutor is the global default executor (can be swapped for testing).
var defaultExecutor CommandExecutor = NewRealExecutor()

// GetDefaultExecutor returns the global default executor.
func GetDefaultExecutor() CommandExecutor {
	defaultExecutorMu.RLock()
	defer defaultExecutorMu.RUnlock()
	return defaultExecutor
}

// SetDefaultExecutor sets the global default executor.
func SetDefaultExecutor(e CommandExecutor) {
	defaultExecutorMu.Lock()
	defer defaultExecutorMu.Unlock()
	defaultExecutor = e
}
