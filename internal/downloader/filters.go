package downloader

import (
	"sort"
	"strings"

	"github.com/crateseek/crateseek/internal/domain"
	"github.com/crateseek/crateseek/internal/slskd"
)

// Candidate is one download option derived from a peer response. Scored
// candidates are persisted as the task's search_results blob while a
// manual selection is pending.
type Candidate struct {
	Username          string             `json:"username"`
	Directory         string             `json:"directory"`
	Files             []slskd.SearchFile `json:"files"`
	MusicFileCount    int                `json:"music_file_count"`
	TotalSize         int64              `json:"total_size"`
	HasFreeUploadSlot bool               `json:"has_free_upload_slot"`
	UploadSpeed       int                `json:"upload_speed"`
	QueueLength       int                `json:"queue_length"`
	Quality           Quality            `json:"quality"`
	Completeness      float64            `json:"completeness"`
	Score             float64            `json:"score"`
}

// filterOutcome explains why a response produced no candidate; the
// engine defers rather than fails when completeness was the only
// obstacle.
type filterOutcome int

const (
	candidateKept filterOutcome = iota
	candidateNoFiles
	candidateIncomplete
	candidateQualityRejected
)

// filterFiles keeps audio files inside the configured size window.
func filterFiles(files []slskd.SearchFile, cfg Config) []slskd.SearchFile {
	minBytes := int64(cfg.MinFileSizeMB) * 1024 * 1024
	maxBytes := int64(cfg.MaxFileSizeMB) * 1024 * 1024

	var kept []slskd.SearchFile
	for _, f := range files {
		if !isAudioFile(f.Filename) {
			continue
		}
		if f.Size < minBytes {
			continue
		}
		if maxBytes > 0 && f.Size > maxBytes {
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// buildCandidate turns a raw peer response into a scored-ready
// candidate, applying file filters, folder grouping, and the user's
// quality preferences.
func buildCandidate(resp slskd.SearchResponse, expected int, cfg Config) (Candidate, filterOutcome) {
	files := filterFiles(resp.Files, cfg)
	if len(files) == 0 {
		return Candidate{}, candidateNoFiles
	}

	var dir string
	if cfg.PreferAlbumFolder {
		dir, files = bestFolder(files, expected)
	} else {
		dir = dominantFolder(files)
	}

	cand := Candidate{
		Username:          resp.Username,
		Directory:         dir,
		Files:             files,
		MusicFileCount:    len(files),
		HasFreeUploadSlot: resp.HasFreeUploadSlot,
		UploadSpeed:       resp.UploadSpeed,
		QueueLength:       resp.QueueLength,
		Quality:           bestQuality(files),
		Completeness:      completenessRatio(len(files), expected),
	}
	for _, f := range files {
		cand.TotalSize += f.Size
	}

	if !passesQualityPrefs(cand.Quality, cfg) {
		return Candidate{}, candidateQualityRejected
	}
	if cfg.RequireComplete && cand.Completeness < cfg.MinCompleteness {
		return Candidate{}, candidateIncomplete
	}
	return cand, candidateKept
}

func passesQualityPrefs(q Quality, cfg Config) bool {
	if cfg.RejectLossless && q.Tier == domain.QualityLossless {
		return false
	}
	if cfg.RejectLowQuality && q.Tier == domain.QualityLow {
		return false
	}
	if cfg.MinBitRate > 0 && !losslessFormats[q.Format] && q.BitRate < cfg.MinBitRate {
		return false
	}
	if len(cfg.PreferredFormats) > 0 {
		found := false
		for _, f := range cfg.PreferredFormats {
			if strings.EqualFold(f, q.Format) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// groupByFolder buckets files by their normalized containing directory.
func groupByFolder(files []slskd.SearchFile) map[string][]slskd.SearchFile {
	groups := make(map[string][]slskd.SearchFile)
	for _, f := range files {
		d := remoteDir(f.Filename)
		groups[d] = append(groups[d], f)
	}
	return groups
}

// bestFolder picks the directory group with the highest
// quality-adjusted completeness. Ties go to the larger group, then the
// lexicographically first directory, so the choice is deterministic.
func bestFolder(files []slskd.SearchFile, expected int) (string, []slskd.SearchFile) {
	groups := groupByFolder(files)
	dirs := make([]string, 0, len(groups))
	for d := range groups {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	bestDir := ""
	bestScore := -1.0
	var bestFiles []slskd.SearchFile
	for _, dir := range dirs {
		group := groups[dir]
		score := completenessRatio(len(group), expected) * tierWeight(bestQuality(group).Tier)
		if score > bestScore || (score == bestScore && len(group) > len(bestFiles)) {
			bestDir = dir
			bestFiles = group
			bestScore = score
		}
	}
	return bestDir, bestFiles
}

// dominantFolder returns the directory holding the most files.
func dominantFolder(files []slskd.SearchFile) string {
	counts := make(map[string]int)
	best := ""
	bestN := 0
	for _, f := range files {
		d := remoteDir(f.Filename)
		counts[d]++
		if counts[d] > bestN || (counts[d] == bestN && d < best) {
			best = d
			bestN = counts[d]
		}
	}
	return best
}

// constrainToDirectory keeps files inside the chosen directory,
// including nested ones.
func constrainToDirectory(files []slskd.SearchFile, dir string) []slskd.SearchFile {
	want := normalizeRemotePath(dir)
	var kept []slskd.SearchFile
	for _, f := range files {
		d := remoteDir(f.Filename)
		if d == want || strings.HasPrefix(d, want+"/") {
			kept = append(kept, f)
		}
	}
	return kept
}
