package downloader

import (
	"fmt"
	"strings"

	"github.com/crateseek/crateseek/internal/domain"
	"github.com/crateseek/crateseek/internal/slskd"
)

// errorFlags are the terminal transfer states meaning the file did not
// arrive.
var errorFlags = []string{"Errored", "TimedOut", "Cancelled", "Rejected", "Failed"}

func isErrorState(state string) bool {
	for _, f := range errorFlags {
		if slskd.HasFlag(state, f) {
			return true
		}
	}
	return false
}

// isCompletedState reports a file that finished successfully. Peers
// report compound states like "Completed, Succeeded".
func isCompletedState(state string) bool {
	if slskd.HasFlag(state, "Succeeded") {
		return true
	}
	return slskd.HasFlag(state, "Completed") && !isErrorState(state)
}

func isTerminalState(state string) bool {
	return isCompletedState(state) || isErrorState(state)
}

// matchTransfers finds the transfer files belonging to a task by
// (username, normalized directory), including nested directories.
func matchTransfers(transfers []slskd.UserTransfers, username, directory string) []slskd.TransferFile {
	want := normalizeRemotePath(directory)
	var files []slskd.TransferFile
	for _, ut := range transfers {
		if ut.Username != username {
			continue
		}
		for _, dir := range ut.Directories {
			d := normalizeRemotePath(dir.Directory)
			if d == want || strings.HasPrefix(d, want+"/") {
				files = append(files, dir.Files...)
			}
		}
	}
	return files
}

// aggregateProgress folds live transfer telemetry into the task-level
// progress reported over the event bus. Average speed sums only files
// still moving.
func aggregateProgress(task *domain.DownloadTask, files []slskd.TransferFile) domain.TaskProgress {
	p := domain.TaskProgress{
		TaskID:      task.ID,
		WishlistKey: task.WishlistKey,
		FilesTotal:  len(files),
	}
	for _, f := range files {
		p.BytesTotal += f.Size
		p.BytesTransferred += f.BytesTransferred
		if isCompletedState(f.State) {
			p.FilesCompleted++
		} else if !isTerminalState(f.State) {
			p.AverageSpeed += f.AverageSpeed
		}
	}
	if p.AverageSpeed > 0 && p.BytesTotal > p.BytesTransferred {
		p.EstimatedRemaining = float64(p.BytesTotal-p.BytesTransferred) / p.AverageSpeed
	}
	return p
}

// transferOutcome classifies the terminal condition of a transfer set.
type transferOutcome int

const (
	transferInProgress transferOutcome = iota
	transferCompleted
	transferFailed
)

// classifyTransfers decides whether a task's transfers have finished.
// Completion needs every file in a success state, or every byte moved
// with no errors; failure needs every file terminal with at least one
// error.
func classifyTransfers(files []slskd.TransferFile) (transferOutcome, string) {
	if len(files) == 0 {
		return transferInProgress, ""
	}

	allTerminal := true
	anyError := false
	var bytesTotal, bytesMoved int64
	counts := make(map[string]int)
	for _, f := range files {
		bytesTotal += f.Size
		bytesMoved += f.BytesTransferred
		switch {
		case isErrorState(f.State):
			anyError = true
			counts[primaryErrorFlag(f.State)]++
		case isCompletedState(f.State):
			counts["Succeeded"]++
		default:
			allTerminal = false
		}
	}

	if allTerminal && !anyError {
		return transferCompleted, ""
	}
	if !anyError && bytesTotal > 0 && bytesMoved >= bytesTotal {
		return transferCompleted, ""
	}
	if allTerminal && anyError {
		return transferFailed, summarizeStates(counts)
	}
	return transferInProgress, ""
}

func primaryErrorFlag(state string) string {
	for _, f := range errorFlags {
		if slskd.HasFlag(state, f) {
			return f
		}
	}
	return "Errored"
}

// summarizeStates renders "3 Succeeded, 1 Errored" in a stable order.
func summarizeStates(counts map[string]int) string {
	order := append([]string{"Succeeded"}, errorFlags...)
	var parts []string
	for _, name := range order {
		if n := counts[name]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, name))
		}
	}
	return strings.Join(parts, ", ")
}
