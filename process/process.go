// Package process provides utilities for finding and cleaning up stray
// vastai CLI processes, in particular follow-mode log streams left behind
// after a crash.
package process

import (
	"runtime"
	"strconv"
	"strings"

	osexec "os/exec"

	"github.com/MannyJMusic/dfl-desktop/logger"
)

// LogStreamProcess describes a running `vastai logs ... --follow` process.
type LogStreamProcess struct {
	PID        int    // Process ID
	Command    string // Full command line
	InstanceID string // Instance id from the command line, if recognizable
}

// FindLogStreamProcesses finds all running follow-mode vastai log streams on
// the system. Useful for detecting orphans left behind after a crash.
func FindLogStreamProcesses() ([]LogStreamProcess, error) {
	var processes []LogStreamProcess
	log := logger.WithComponent("process")

	switch runtime.GOOS {
	case "darwin", "linux":
		cmd := osexec.Command("pgrep", "-f", "vastai.*logs.*--follow")
		output, err := cmd.Output()
		if err != nil {
			// pgrep returns exit code 1 if no processes found
			if exitErr, ok := err.(*osexec.ExitError); ok && exitErr.ExitCode() == 1 {
				return processes, nil
			}
			return nil, err
		}

		pids := strings.Fields(string(output))
		for _, pidStr := range pids {
			pid, err := strconv.Atoi(strings.TrimSpace(pidStr))
			if err != nil {
				continue
			}

			psCmd := osexec.Command("ps", "-p", pidStr, "-o", "args=")
			psOutput, err := psCmd.Output()
			if err != nil {
				continue
			}

			cmdLine := strings.TrimSpace(string(psOutput))
			processes = append(processes, LogStreamProcess{
				PID:        pid,
				Command:    cmdLine,
				InstanceID: extractLogInstanceID(cmdLine),
			})
		}

	case "windows":
		cmd := osexec.Command("tasklist", "/FI", "IMAGENAME eq vastai*", "/FO", "CSV", "/NH")
		output, err := cmd.Output()
		if err != nil {
			return nil, err
		}

		lines := strings.Split(string(output), "\n")
		for _, line := range lines {
			fields := strings.Split(line, ",")
			if len(fields) >= 2 {
				pidStr := strings.Trim(strings.TrimSpace(fields[1]), "\"")
				pid, err := strconv.Atoi(pidStr)
				if err != nil {
					continue
				}
				processes = append(processes, LogStreamProcess{
					PID:     pid,
					Command: strings.Trim(fields[0], "\""),
				})
			}
		}
	}

	log.Debug("found vastai log streams", "count", len(processes))
	return processes, nil
}

// KillProcess kills a process by PID.
func KillProcess(pid int) error {
	switch runtime.GOOS {
	case "darwin", "linux":
		cmd := osexec.Command("kill", "-9", strconv.Itoa(pid))
		return cmd.Run()
	case "windows":
		cmd := osexec.Command("taskkill", "/F", "/PID", strconv.Itoa(pid))
		return cmd.Run()
	}
	return nil
}

// FindOrphanedLogStreams finds follow-mode log streams whose instance ids are
// not in the set of instances currently being monitored.
func FindOrphanedLogStreams(knownInstanceIDs map[string]bool) ([]LogStreamProcess, error) {
	allProcesses, err := FindLogStreamProcesses()
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("process")
	var orphans []LogStreamProcess
	for _, proc := range allProcesses {
		if proc.InstanceID != "" && !knownInstanceIDs[proc.InstanceID] {
			orphans = append(orphans, proc)
			log.Info("found orphaned log stream", "pid", proc.PID, "instance_id", proc.InstanceID)
		}
	}

	return orphans, nil
}

// extractLogInstanceID extracts the instance id from a vastai log stream
// command line such as "vastai logs 12345 --follow --raw".
func extractLogInstanceID(cmdLine string) string {
	_, after, ok := strings.Cut(cmdLine, " logs ")
	if !ok {
		return ""
	}
	fields := strings.Fields(after)
	if len(fields) == 0 {
		return ""
	}
	id := fields[0]
	for _, c := range id {
		if c < '0' || c > '9' {
			return ""
		}
	}
	return id
}

// CleanupOrphanedLogStreams kills all follow-mode log streams that don't match
// a known instance id. Returns the number of processes killed.
func CleanupOrphanedLogStreams(knownInstanceIDs map[string]bool) (int, error) {
	orphans, err := FindOrphanedLogStreams(knownInstanceIDs)
	if err != nil {
		return 0, err
	}

	log := logger.WithComponent("process")
	killed := 0
	for _, proc := range orphans {
		log.Info("killing orphaned log stream", "pid", proc.PID)
		if err := KillProcess(proc.PID); err != nil {
			log.Error("failed to kill process", "pid", proc.PID, "error", err)
			continue
		}
		killed++
	}

	return killed, nil
}
