package vast

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	osexec "os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/MannyJMusic/dfl-desktop/exec"
	"github.com/MannyJMusic/dfl-desktop/logger"
)

// ProvisioningMarker is the sentinel line an onstart script prints when
// instance provisioning has finished.
const ProvisioningMarker = "=== Provisioning Complete ==="

// terminateGrace is how long a streamed process gets to exit after SIGTERM
// before the supervisor escalates to SIGKILL.
const terminateGrace = 5 * time.Second

// maxLineSize bounds a single log line; provisioning scripts occasionally
// dump whole files on one line.
const maxLineSize = 1024 * 1024

// StreamState describes where a stream session is in its lifecycle.
type StreamState int

const (
	// StreamRunning means lines are being consumed.
	StreamRunning StreamState = iota
	// StreamCompleting means the provisioning marker was seen and the
	// consumer is expected to stop.
	StreamCompleting
	// StreamTerminating means teardown has begun.
	StreamTerminating
	// StreamClosed means the process has been reaped.
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamRunning:
		return "running"
	case StreamCompleting:
		return "completing"
	case StreamTerminating:
		return "terminating"
	case StreamClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// StreamSession supervises one long-running vastai invocation, typically
// `logs <id> --follow`. Consume it like a bufio.Scanner:
//
//	sess, err := client.Stream(ctx, vast.Command("logs", id, "--follow"))
//	for sess.Next() {
//	    fmt.Println(sess.Text())
//	}
//	err = sess.Close()
//
// Close is idempotent and always reaps the process: graceful terminate
// first, forceful kill if the process ignores it. Breaking out of the loop
// early is the normal way to stop a follow stream; the resulting
// terminate-signal exit is not an error.
type StreamSession struct {
	// ID uniquely identifies this session in logs.
	ID string

	ctx    context.Context
	argv   []string
	handle exec.StreamHandle
	sc     *bufio.Scanner
	log    *slog.Logger

	mu         sync.Mutex
	state      StreamState
	markerSeen bool
	terminated bool
	line       string
	scanErr    error

	waitOnce  sync.Once
	statusCh  chan exec.ExitStatus
	closeOnce sync.Once
	closeErr  error
}

// Stream starts a streamed vastai invocation. The context cancels the
// session cooperatively: cancellation observed at a line boundary triggers
// the same graceful teardown as Close.
func (c *Client) Stream(ctx context.Context, spec CommandSpec) (*StreamSession, error) {
	args := c.composeArgs(spec)
	argv := append([]string{c.binary}, args...)

	handle, err := c.executor.Start(ctx, c.binary, args...)
	if err != nil {
		if errors.Is(err, osexec.ErrNotFound) {
			return nil, &CommandError{
				Args:     argv,
				ExitCode: ExitCodeNotFound,
				Stderr:   fmt.Sprintf("%s not found in PATH", c.binary),
			}
		}
		return nil, fmt.Errorf("start %s: %w", c.binary, err)
	}

	id := uuid.NewString()
	sc := bufio.NewScanner(handle.Stdout())
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	sess := &StreamSession{
		ID:     id,
		ctx:    ctx,
		argv:   argv,
		handle: handle,
		sc:     sc,
		log:    logger.WithStream(id),
	}
	sess.log.Info("stream started", "args", strings.Join(spec.Args, " "))
	return sess, nil
}

// Next advances to the next stdout line. It returns false when the stream
// ends, the context is cancelled, or the session is closed. After false,
// call Close to reap the process and obtain the final error.
func (s *StreamSession) Next() bool {
	s.mu.Lock()
	if s.state == StreamTerminating || s.state == StreamClosed {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	if s.ctx.Err() != nil {
		s.log.Info("stream cancelled", "reason", s.ctx.Err())
		return false
	}

	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			s.mu.Lock()
			s.scanErr = err
			s.mu.Unlock()
			s.log.Warn("stream read failed", "error", err)
		}
		return false
	}

	line := s.sc.Text()
	s.mu.Lock()
	s.line = line
	if !s.markerSeen && strings.Contains(line, ProvisioningMarker) {
		s.markerSeen = true
		s.state = StreamCompleting
		s.log.Info("provisioning marker seen")
	}
	s.mu.Unlock()
	return true
}

// Text returns the line read by the last successful Next.
func (s *StreamSession) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.line
}

// ProvisioningComplete reports whether the provisioning marker has appeared
// on any line so far.
func (s *StreamSession) ProvisioningComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markerSeen
}

// State returns the session's current lifecycle state.
func (s *StreamSession) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// waitChannel arranges for exactly one Wait call on the handle, delivering
// the status on a buffered channel.
func (s *StreamSession) waitChannel() <-chan exec.ExitStatus {
	s.waitOnce.Do(func() {
		s.statusCh = make(chan exec.ExitStatus, 1)
		go func() {
			s.statusCh <- s.handle.Wait()
		}()
	})
	return s.statusCh
}

// Close tears the stream down and reaps the process. If the process is
// still running it receives SIGTERM, then SIGKILL after a grace period.
// The returned error is the normalized outcome: nil for a clean exit, for
// any supervisor-initiated termination, and for an organic SIGTERM death;
// a *CommandError otherwise. A read failure that ended the stream early
// (an overlong line) surfaces here as well. Safe to call multiple times.
func (s *StreamSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StreamTerminating
		s.mu.Unlock()

		var status exec.ExitStatus
		if s.handle.Alive() {
			s.mu.Lock()
			s.terminated = true
			s.mu.Unlock()

			s.log.Debug("terminating stream process")
			if err := s.handle.Terminate(); err != nil {
				s.log.Warn("terminate failed", "error", err)
			}

			var ok bool
			status, ok = s.waitStatus(terminateGrace)
			if !ok {
				s.log.Warn("process ignored SIGTERM, killing")
				if err := s.handle.Kill(); err != nil {
					s.log.Warn("kill failed", "error", err)
				}
				status, ok = s.waitStatus(terminateGrace)
				if !ok {
					s.closeErr = fmt.Errorf("stream process did not exit after kill")
					s.finish()
					return
				}
			}
		} else {
			status = <-s.waitChannel()
		}

		s.closeErr = s.normalize(status)
		if s.closeErr == nil {
			s.mu.Lock()
			if s.scanErr != nil {
				s.closeErr = fmt.Errorf("stream read: %w", s.scanErr)
			}
			s.mu.Unlock()
		}
		s.finish()
	})
	return s.closeErr
}

func (s *StreamSession) finish() {
	s.mu.Lock()
	s.state = StreamClosed
	s.mu.Unlock()
	s.log.Info("stream closed", "error", s.closeErr)
}

// waitStatus waits up to d for the process to be reaped.
func (s *StreamSession) waitStatus(d time.Duration) (exec.ExitStatus, bool) {
	select {
	case status := <-s.waitChannel():
		return status, true
	case <-time.After(d):
		return exec.ExitStatus{}, false
	}
}

// normalize maps a raw exit status to the session's final error. Exit code
// zero is success. A signal death is success when the supervisor initiated
// teardown, and an organic SIGTERM is also benign: follow streams are
// routinely reaped from outside. Everything else is a *CommandError.
func (s *StreamSession) normalize(status exec.ExitStatus) error {
	if status.Err != nil {
		return fmt.Errorf("stream wait: %w", status.Err)
	}

	s.mu.Lock()
	terminated := s.terminated
	s.mu.Unlock()

	if status.Signal != nil {
		if terminated || status.Signal == syscall.SIGTERM {
			return nil
		}
		exitCode := -1
		if sig, ok := status.Signal.(syscall.Signal); ok {
			exitCode = -int(sig)
		}
		return &CommandError{
			Args:     s.argv,
			ExitCode: exitCode,
			Stderr:   strings.TrimSpace(s.handle.StderrContent()),
		}
	}

	if status.Code != 0 {
		return &CommandError{
			Args:     s.argv,
			ExitCode: status.Code,
			Stderr:   strings.TrimSpace(s.handle.StderrContent()),
		}
	}
	return nil
}

// MonitorUntilComplete consumes the session line by line, forwarding each
// line to fn, until the provisioning marker appears or the stream ends.
// It closes the session and reports whether the marker was seen. The
// process is reaped even if fn panics.
func MonitorUntilComplete(sess *StreamSession, fn func(line string)) (bool, error) {
	defer sess.Close()
	for sess.Next() {
		if fn != nil {
			fn(sess.Text())
		}
		if sess.ProvisioningComplete() {
			break
		}
	}
	err := sess.Close()
	return sess.ProvisioningComplete(), err
}
