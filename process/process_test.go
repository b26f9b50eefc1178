package process

import (
	"testing"
)

func TestExtractLogInstanceID(t *testing.T) {
	tests := []struct {
		name     string
		cmdLine  string
		expected string
	}{
		{
			name:     "basic follow stream",
			cmdLine:  "vastai logs 12345 --follow",
			expected: "12345",
		},
		{
			name:     "full path binary",
			cmdLine:  "/usr/local/bin/vastai logs 98765 --follow --raw --api-key k",
			expected: "98765",
		},
		{
			name:     "python wrapper",
			cmdLine:  "python3 /opt/vastai logs 42 --follow",
			expected: "42",
		},
		{
			name:     "no logs subcommand",
			cmdLine:  "vastai show instances --raw",
			expected: "",
		},
		{
			name:     "non-numeric id",
			cmdLine:  "vastai logs abc --follow",
			expected: "",
		},
		{
			name:     "logs with nothing after",
			cmdLine:  "vastai logs ",
			expected: "",
		},
		{
			name:     "empty command",
			cmdLine:  "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractLogInstanceID(tt.cmdLine)
			if result != tt.expected {
				t.Errorf("extractLogInstanceID(%q) = %q, want %q", tt.cmdLine, result, tt.expected)
			}
		})
	}
}

func TestLogStreamProcess_Fields(t *testing.T) {
	proc := LogStreamProcess{
		PID:        12345,
		Command:    "vastai logs 777 --follow",
		InstanceID: "777",
	}

	if proc.PID != 12345 {
		t.Errorf("Expected PID 12345, got %d", proc.PID)
	}
	if proc.InstanceID != "777" {
		t.Errorf("Expected instance id 777, got %q", proc.InstanceID)
	}
}

func TestFindOrphanedLogStreams_NoOrphans(t *testing.T) {
	// This test just verifies the function doesn't crash with a known set.
	known := map[string]bool{
		"1001": true,
		"1002": true,
	}

	orphans, err := FindOrphanedLogStreams(known)
	if err != nil {
		t.Fatalf("FindOrphanedLogStreams failed: %v", err)
	}

	// Can't assert on count since it depends on system state,
	// but function should not error
	_ = orphans
}

func TestFindLogStreamProcesses(t *testing.T) {
	processes, err := FindLogStreamProcesses()
	if err != nil {
		t.Fatalf("FindLogStreamProcesses failed: %v", err)
	}

	// Can't assert on count since it depends on system state
	_ = processes
}
