package downloader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/crateseek/crateseek/internal/domain"
)

func TestNormalizeRemotePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`C:\Music\Album\`, "C:/Music/Album"},
		{"already/forward/", "already/forward"},
		{`mixed\and/slashes`, "mixed/and/slashes"},
	}
	for _, tt := range tests {
		if got := normalizeRemotePath(tt.in); got != tt.want {
			t.Errorf("normalizeRemotePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRemoteLeafAndDir(t *testing.T) {
	if got := remoteLeaf(`C:\Music\Artist - Album`); got != "Artist - Album" {
		t.Errorf("remoteLeaf = %q", got)
	}
	if got := remoteDir(`C:\Music\Artist - Album\01.flac`); got != "C:/Music/Artist - Album" {
		t.Errorf("remoteDir = %q", got)
	}
	if got := remoteDir("bare.flac"); got != "" {
		t.Errorf("remoteDir of bare filename = %q, want empty", got)
	}
}

func TestFileExt(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`dir\Track.FLAC`, "flac"},
		{"track.mp3", "mp3"},
		{"noext", ""},
		{"trailingdot.", ""},
		{`dir.with.dots\file.ogg`, "ogg"},
	}
	for _, tt := range tests {
		if got := fileExt(tt.in); got != tt.want {
			t.Errorf("fileExt(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRelativeRemoteDir(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`C:\Music\Artist - Album (2001)`, "Music/Artist - Album (2001)"},
		{"/srv/share/album", "srv/share/album"},
		{"plain/dir", "plain/dir"},
	}
	for _, tt := range tests {
		if got := relativeRemoteDir(tt.in); got != tt.want {
			t.Errorf("relativeRemoteDir(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSafeRelPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"music/album", "music/album", true},
		{`windows\style`, "windows/style", true},
		{"a//b/", "a/b", true},
		{"", "", false},
		{"/absolute", "", false},
		{`D:\drive`, "", false},
		{"..", "", false},
		{"../escape", "", false},
		{"a/../../escape", "", false},
		{".", "", false},
	}
	for _, tt := range tests {
		got, ok := safeRelPath(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("safeRelPath(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestResolveDownloadPathProbesLayouts(t *testing.T) {
	root := t.TempDir()
	task := &domain.DownloadTask{
		PeerUsername:  "peeruser",
		PeerDirectory: `C:\Music\Great Album`,
	}

	// Nothing on disk yet.
	if _, _, ok := resolveDownloadPath(root, task); ok {
		t.Fatal("Expected no resolution with empty root")
	}

	// The usual client layout: <root>/<username>/<leaf>.
	if err := os.MkdirAll(filepath.Join(root, "peeruser", "Great Album"), 0o755); err != nil {
		t.Fatal(err)
	}
	rel, abs, ok := resolveDownloadPath(root, task)
	if !ok || rel != "peeruser/Great Album" {
		t.Errorf("Expected username/leaf layout, got rel=%q ok=%v", rel, ok)
	}
	if abs != filepath.Join(root, "peeruser", "Great Album") {
		t.Errorf("Unexpected absolute path %q", abs)
	}

	// A stored download path wins over probing.
	if err := os.MkdirAll(filepath.Join(root, "custom", "spot"), 0o755); err != nil {
		t.Fatal(err)
	}
	task.DownloadPath = "custom/spot"
	rel, _, ok = resolveDownloadPath(root, task)
	if !ok || rel != "custom/spot" {
		t.Errorf("Expected stored path to win, got rel=%q ok=%v", rel, ok)
	}
}

func TestResolveDownloadPathFallsBackToLeaf(t *testing.T) {
	root := t.TempDir()
	task := &domain.DownloadTask{
		PeerUsername:  "peeruser",
		PeerDirectory: `C:\Music\Great Album`,
	}
	if err := os.MkdirAll(filepath.Join(root, "Great Album"), 0o755); err != nil {
		t.Fatal(err)
	}
	rel, _, ok := resolveDownloadPath(root, task)
	if !ok || rel != "Great Album" {
		t.Errorf("Expected bare leaf fallback, got rel=%q ok=%v", rel, ok)
	}
}
