package downloader

import (
	"testing"

	"github.com/crateseek/crateseek/internal/domain"
	"github.com/crateseek/crateseek/internal/slskd"
)

func TestTransferStateHelpers(t *testing.T) {
	tests := []struct {
		state     string
		completed bool
		errored   bool
		terminal  bool
	}{
		{"InProgress", false, false, false},
		{"Queued, Remotely", false, false, false},
		{"Completed, Succeeded", true, false, true},
		{"Succeeded", true, false, true},
		{"Completed, Errored", false, true, true},
		{"Completed, TimedOut", false, true, true},
		{"Completed, Cancelled", false, true, true},
		{"Rejected", false, true, true},
	}
	for _, tt := range tests {
		if got := isCompletedState(tt.state); got != tt.completed {
			t.Errorf("isCompletedState(%q) = %v, want %v", tt.state, got, tt.completed)
		}
		if got := isErrorState(tt.state); got != tt.errored {
			t.Errorf("isErrorState(%q) = %v, want %v", tt.state, got, tt.errored)
		}
		if got := isTerminalState(tt.state); got != tt.terminal {
			t.Errorf("isTerminalState(%q) = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestMatchTransfers(t *testing.T) {
	transfers := []slskd.UserTransfers{
		{
			Username: "peer",
			Directories: []slskd.TransferDirectory{
				{Directory: `C:\Music\Album`, Files: []slskd.TransferFile{{Filename: "01.flac"}}},
				{Directory: `C:\Music\Album\CD2`, Files: []slskd.TransferFile{{Filename: "02.flac"}}},
				{Directory: `C:\Music\Other`, Files: []slskd.TransferFile{{Filename: "xx.flac"}}},
			},
		},
		{
			Username:    "someone-else",
			Directories: []slskd.TransferDirectory{{Directory: `C:\Music\Album`, Files: []slskd.TransferFile{{Filename: "99.flac"}}}},
		},
	}

	files := matchTransfers(transfers, "peer", `C:\Music\Album`)
	if len(files) != 2 {
		t.Fatalf("Expected album plus nested disc, got %d files", len(files))
	}
	if files[0].Filename != "01.flac" || files[1].Filename != "02.flac" {
		t.Errorf("Unexpected files %+v", files)
	}

	if got := matchTransfers(transfers, "nobody", `C:\Music\Album`); len(got) != 0 {
		t.Errorf("Expected no match for unknown peer, got %+v", got)
	}
}

func TestAggregateProgress(t *testing.T) {
	task := &domain.DownloadTask{ID: "t1", WishlistKey: "Artist - Album"}
	files := []slskd.TransferFile{
		{Size: 100, BytesTransferred: 100, State: "Completed, Succeeded", AverageSpeed: 50000},
		{Size: 100, BytesTransferred: 40, State: "InProgress", AverageSpeed: 20000},
		{Size: 100, BytesTransferred: 0, State: "Queued, Remotely"},
	}

	p := aggregateProgress(task, files)
	if p.TaskID != "t1" || p.WishlistKey != "Artist - Album" {
		t.Errorf("Expected task identity carried, got %+v", p)
	}
	if p.FilesTotal != 3 || p.FilesCompleted != 1 {
		t.Errorf("Expected 1/3 files, got %d/%d", p.FilesCompleted, p.FilesTotal)
	}
	if p.BytesTotal != 300 || p.BytesTransferred != 140 {
		t.Errorf("Expected 140/300 bytes, got %d/%d", p.BytesTransferred, p.BytesTotal)
	}
	// Only the moving file contributes speed; finished transfers would
	// inflate the estimate.
	if p.AverageSpeed != 20000 {
		t.Errorf("Expected speed 20000, got %v", p.AverageSpeed)
	}
	if p.EstimatedRemaining != 160.0/20000 {
		t.Errorf("Unexpected remaining estimate %v", p.EstimatedRemaining)
	}
}

func TestClassifyTransfers(t *testing.T) {
	tests := []struct {
		name    string
		files   []slskd.TransferFile
		want    transferOutcome
		summary string
	}{
		{
			"no files is in progress",
			nil,
			transferInProgress,
			"",
		},
		{
			"still moving",
			[]slskd.TransferFile{
				{Size: 100, BytesTransferred: 50, State: "InProgress"},
			},
			transferInProgress,
			"",
		},
		{
			"all succeeded",
			[]slskd.TransferFile{
				{Size: 100, BytesTransferred: 100, State: "Completed, Succeeded"},
				{Size: 100, BytesTransferred: 100, State: "Completed, Succeeded"},
			},
			transferCompleted,
			"",
		},
		{
			"success states win even with short byte counts",
			[]slskd.TransferFile{
				{Size: 100, BytesTransferred: 60, State: "Completed, Succeeded"},
				{Size: 100, BytesTransferred: 100, State: "Completed, Succeeded"},
			},
			transferCompleted,
			"",
		},
		{
			"all bytes moved with no errors",
			[]slskd.TransferFile{
				{Size: 100, BytesTransferred: 100, State: "InProgress"},
				{Size: 100, BytesTransferred: 100, State: "Completed, Succeeded"},
			},
			transferCompleted,
			"",
		},
		{
			"all terminal with an error",
			[]slskd.TransferFile{
				{Size: 100, BytesTransferred: 100, State: "Completed, Succeeded"},
				{Size: 100, BytesTransferred: 100, State: "Completed, Succeeded"},
				{Size: 100, BytesTransferred: 100, State: "Completed, Succeeded"},
				{Size: 100, BytesTransferred: 20, State: "Completed, Errored"},
			},
			transferFailed,
			"3 Succeeded, 1 Errored",
		},
		{
			"error waits for the rest",
			[]slskd.TransferFile{
				{Size: 100, BytesTransferred: 20, State: "Completed, Errored"},
				{Size: 100, BytesTransferred: 50, State: "InProgress"},
			},
			transferInProgress,
			"",
		},
		{
			"mixed error kinds are counted separately",
			[]slskd.TransferFile{
				{Size: 100, BytesTransferred: 0, State: "Completed, TimedOut"},
				{Size: 100, BytesTransferred: 0, State: "Completed, Cancelled"},
				{Size: 100, BytesTransferred: 0, State: "Completed, TimedOut"},
			},
			transferFailed,
			"2 TimedOut, 1 Cancelled",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, summary := classifyTransfers(tt.files)
			if got != tt.want {
				t.Errorf("classifyTransfers = %d, want %d", got, tt.want)
			}
			if summary != tt.summary {
				t.Errorf("summary = %q, want %q", summary, tt.summary)
			}
		})
	}
}
