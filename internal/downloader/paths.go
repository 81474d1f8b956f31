package downloader

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/crateseek/crateseek/internal/domain"
)

// normalizeRemotePath converts a peer-reported path to forward slashes
// and trims any trailing separator. Soulseek peers overwhelmingly run
// Windows, so backslashes are the norm on the wire.
func normalizeRemotePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimRight(p, "/")
}

// remoteLeaf returns the last element of a peer path.
func remoteLeaf(p string) string {
	p = normalizeRemotePath(p)
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// remoteDir returns the directory part of a peer file path, normalized.
func remoteDir(p string) string {
	p = normalizeRemotePath(p)
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[:i]
	}
	return ""
}

// fileExt returns the lowercased extension of a remote filename without
// the dot.
func fileExt(filename string) string {
	leaf := remoteLeaf(filename)
	i := strings.LastIndex(leaf, ".")
	if i < 0 || i == len(leaf)-1 {
		return ""
	}
	return strings.ToLower(leaf[i+1:])
}

// relativeRemoteDir strips drive letters and leading separators from a
// remote directory, leaving a relative form suitable for probing under
// the downloads root.
func relativeRemoteDir(dir string) string {
	dir = normalizeRemotePath(dir)
	if len(dir) >= 2 && dir[1] == ':' {
		dir = dir[2:]
	}
	return strings.TrimLeft(dir, "/")
}

// safeRelPath cleans a candidate path and rejects anything that could
// escape the downloads root: absolute paths, drive letters, parent
// references.
func safeRelPath(p string) (string, bool) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" || strings.HasPrefix(p, "/") {
		return "", false
	}
	if len(p) >= 2 && p[1] == ':' {
		return "", false
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}

// resolveDownloadPath probes the likely layouts the peer client uses
// for finished transfers and returns the first that exists on disk,
// both relative to the downloads root and absolute.
func resolveDownloadPath(root string, task *domain.DownloadTask) (string, string, bool) {
	dir := relativeRemoteDir(task.PeerDirectory)
	leaf := remoteLeaf(task.PeerDirectory)

	candidates := []string{
		task.DownloadPath,
		path.Join(task.PeerUsername, dir),
		path.Join(task.PeerUsername, leaf),
		dir,
		leaf,
	}
	for _, cand := range candidates {
		rel, ok := safeRelPath(cand)
		if !ok {
			continue
		}
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if _, err := os.Stat(abs); err == nil {
			return rel, abs, true
		}
	}
	return "", "", false
}
