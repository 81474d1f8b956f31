package downloader

import (
	"sort"

	"github.com/crateseek/crateseek/internal/domain"
)

// scoreCandidate implements the documented weighted sum:
//
//	score = 100·[slot] + quality + fileCount + min(100, speed/10k) + completeness
//
// Quality contributes up to 1000, file count up to FileCountCap, and
// completeness up to CompletenessWeight.
func scoreCandidate(c Candidate, expected int, cfg Config) float64 {
	score := 0.0
	if c.HasFreeUploadSlot {
		score += 100
	}
	score += qualityScore(c.Quality.Tier)
	score += fileCountScore(c.MusicFileCount, expected, cfg)

	speed := float64(c.UploadSpeed) / 10000
	if speed > 100 {
		speed = 100
	}
	score += speed

	score += cfg.CompletenessWeight * completenessRatio(c.MusicFileCount, expected)
	return score
}

func qualityScore(t domain.QualityTier) float64 {
	switch t {
	case domain.QualityLossless:
		return 1000
	case domain.QualityHigh:
		return 700
	case domain.QualityStandard:
		return 400
	case domain.QualityLow:
		return 100
	default:
		return 0
	}
}

// tierWeight scales folder completeness during album-folder grouping.
func tierWeight(t domain.QualityTier) float64 {
	if s := qualityScore(t); s > 0 {
		return s / 1000
	}
	return 0.1
}

// fileCountScore peaks at the expected track count. With excess
// penalized it decays linearly, reaching zero at double the
// expectation, so the maximum is unique. Without an expectation each
// file is worth ten points up to the cap.
func fileCountScore(count, expected int, cfg Config) float64 {
	limit := float64(cfg.FileCountCap)
	if expected <= 0 {
		s := float64(count) * 10
		if s > limit {
			return limit
		}
		return s
	}
	if count <= expected {
		return limit * float64(count) / float64(expected)
	}
	if !cfg.PenalizeExcess {
		return limit
	}
	s := limit * (1 - float64(count-expected)/float64(expected))
	if s < 0 {
		return 0
	}
	return s
}

func completenessRatio(musicFiles, expected int) float64 {
	if expected <= 0 {
		return 1
	}
	r := float64(musicFiles) / float64(expected)
	if r > 1 {
		return 1
	}
	return r
}

// rankCandidates scores and sorts in place, best first. Ties break on
// slot, then upload speed, then file count.
func rankCandidates(cands []Candidate, expected int, cfg Config) {
	for i := range cands {
		cands[i].Score = scoreCandidate(cands[i], expected, cfg)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.HasFreeUploadSlot != b.HasFreeUploadSlot {
			return a.HasFreeUploadSlot
		}
		if a.UploadSpeed != b.UploadSpeed {
			return a.UploadSpeed > b.UploadSpeed
		}
		return a.MusicFileCount > b.MusicFileCount
	})
}
