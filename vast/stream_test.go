package vast

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/MannyJMusic/dfl-desktop/exec"
)

func TestStream_ReplaysLines(t *testing.T) {
	client, mock := newTestClient(t)
	mock.AddStreamPrefixMatch("vastai", []string{"logs"}, exec.MockStreamResponse{
		Lines:  []string{"line one", "line two", "line three"},
		Status: exec.ExitStatus{Code: 0},
	})

	sess, err := client.Stream(context.Background(), Command("logs", "123", "--follow"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if sess.ID == "" {
		t.Error("session should have an id")
	}

	var lines []string
	for sess.Next() {
		lines = append(lines, sess.Text())
	}
	if err := sess.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if len(lines) != 3 || lines[0] != "line one" || lines[2] != "line three" {
		t.Errorf("lines = %v", lines)
	}
	if sess.State() != StreamClosed {
		t.Errorf("state = %v, want closed", sess.State())
	}
}

func TestStream_MarkerDetection(t *testing.T) {
	client, mock := newTestClient(t)
	mock.AddStreamPrefixMatch("vastai", []string{"logs"}, exec.MockStreamResponse{
		Lines: []string{
			"installing packages",
			"downloading model",
			"=== Provisioning Complete ===",
			"should never be reached",
		},
		HoldOpen: true,
	})

	sess, err := client.Stream(context.Background(), Command("logs", "55", "--follow"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var seen []string
	done, err := MonitorUntilComplete(sess, func(line string) {
		seen = append(seen, line)
	})
	if err != nil {
		t.Errorf("MonitorUntilComplete: %v", err)
	}
	if !done {
		t.Error("marker should be reported")
	}
	if len(seen) != 3 {
		t.Errorf("consumed %d lines, want 3: %v", len(seen), seen)
	}
	if !sess.ProvisioningComplete() {
		t.Error("ProvisioningComplete should be true")
	}
}

func TestStream_StateTransitions(t *testing.T) {
	client, mock := newTestClient(t)
	mock.AddStreamPrefixMatch("vastai", []string{"logs"}, exec.MockStreamResponse{
		Lines:    []string{"working", ProvisioningMarker},
		HoldOpen: true,
	})

	sess, err := client.Stream(context.Background(), Command("logs", "1", "--follow"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if sess.State() != StreamRunning {
		t.Errorf("initial state = %v, want running", sess.State())
	}

	if !sess.Next() {
		t.Fatal("first line missing")
	}
	if sess.State() != StreamRunning {
		t.Errorf("state after plain line = %v", sess.State())
	}

	if !sess.Next() {
		t.Fatal("marker line missing")
	}
	if sess.State() != StreamCompleting {
		t.Errorf("state after marker = %v, want completing", sess.State())
	}

	if err := sess.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if sess.State() != StreamClosed {
		t.Errorf("final state = %v, want closed", sess.State())
	}
	// Next refuses to run after close.
	if sess.Next() {
		t.Error("Next should return false after Close")
	}
}

func TestStream_CloseTerminatesHeldStream(t *testing.T) {
	client, mock := newTestClient(t)
	mock.AddStreamPrefixMatch("vastai", []string{"logs"}, exec.MockStreamResponse{
		Lines:    []string{"follow output"},
		HoldOpen: true,
	})

	sess, err := client.Stream(context.Background(), Command("logs", "9", "--follow"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !sess.Next() {
		t.Fatal("expected one line")
	}

	start := time.Now()
	if err := sess.Close(); err != nil {
		t.Errorf("Close after terminate should be benign, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Close took %v, teardown should be prompt", elapsed)
	}
	// Idempotent.
	if err := sess.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestStream_OrganicSigtermBenign(t *testing.T) {
	client, mock := newTestClient(t)
	mock.AddStreamPrefixMatch("vastai", []string{"logs"}, exec.MockStreamResponse{
		Lines:  []string{"tail"},
		Status: exec.ExitStatus{Code: -1, Signal: syscall.SIGTERM},
	})

	sess, err := client.Stream(context.Background(), Command("logs", "3", "--follow"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	for sess.Next() {
	}
	if err := sess.Close(); err != nil {
		t.Errorf("organic SIGTERM should be benign, got %v", err)
	}
}

func TestStream_OrganicFailureReported(t *testing.T) {
	client, mock := newTestClient(t)
	mock.AddStreamPrefixMatch("vastai", []string{"logs"}, exec.MockStreamResponse{
		Lines:  []string{"partial"},
		Stderr: "connection reset\n",
		Status: exec.ExitStatus{Code: 2},
	})

	sess, err := client.Stream(context.Background(), Command("logs", "4", "--follow"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	for sess.Next() {
	}
	closeErr := sess.Close()
	var cmdErr *CommandError
	if !errors.As(closeErr, &cmdErr) {
		t.Fatalf("expected *CommandError, got %v", closeErr)
	}
	if cmdErr.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", cmdErr.ExitCode)
	}
	if cmdErr.Stderr != "connection reset" {
		t.Errorf("Stderr = %q", cmdErr.Stderr)
	}
}

func TestStream_OrganicSigkillReported(t *testing.T) {
	client, mock := newTestClient(t)
	mock.AddStreamPrefixMatch("vastai", []string{"logs"}, exec.MockStreamResponse{
		Status: exec.ExitStatus{Code: -1, Signal: syscall.SIGKILL},
	})

	sess, err := client.Stream(context.Background(), Command("logs", "6", "--follow"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	for sess.Next() {
	}
	closeErr := sess.Close()
	var cmdErr *CommandError
	if !errors.As(closeErr, &cmdErr) {
		t.Fatalf("expected *CommandError, got %v", closeErr)
	}
	if cmdErr.ExitCode != -int(syscall.SIGKILL) {
		t.Errorf("ExitCode = %d, want %d", cmdErr.ExitCode, -int(syscall.SIGKILL))
	}
}

func TestStream_ContextCancellation(t *testing.T) {
	client, mock := newTestClient(t)
	mock.AddStreamPrefixMatch("vastai", []string{"logs"}, exec.MockStreamResponse{
		Lines:    []string{"first"},
		HoldOpen: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sess, err := client.Stream(ctx, Command("logs", "8", "--follow"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !sess.Next() {
		t.Fatal("expected first line")
	}

	cancel()
	if sess.Next() {
		t.Error("Next should observe cancellation")
	}
	if err := sess.Close(); err != nil {
		t.Errorf("Close after cancellation: %v", err)
	}
}

func TestStream_OversizedLineSurfacesReadError(t *testing.T) {
	client, mock := newTestClient(t)
	mock.AddStreamPrefixMatch("vastai", []string{"logs"}, exec.MockStreamResponse{
		Lines:    []string{strings.Repeat("x", maxLineSize+2)},
		HoldOpen: true,
	})

	sess, err := client.Stream(context.Background(), Command("logs", "9", "--follow"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if sess.Next() {
		t.Error("an overlong line should end the stream")
	}
	err = sess.Close()
	if err == nil {
		t.Fatal("Close should report the read failure")
	}
	if !errors.Is(err, bufio.ErrTooLong) {
		t.Errorf("Close error = %v, want ErrTooLong", err)
	}
}

func TestMonitorUntilComplete_ReapsOnPanickingCallback(t *testing.T) {
	client, mock := newTestClient(t)
	mock.AddStreamPrefixMatch("vastai", []string{"logs"}, exec.MockStreamResponse{
		Lines:    []string{"booting"},
		HoldOpen: true,
	})

	sess, err := client.Stream(context.Background(), Command("logs", "9", "--follow"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("callback panic should propagate")
			}
		}()
		MonitorUntilComplete(sess, func(string) { panic("render failed") })
	}()

	if sess.State() != StreamClosed {
		t.Errorf("state = %v, want closed after callback panic", sess.State())
	}
}
