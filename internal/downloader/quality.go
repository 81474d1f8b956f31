package downloader

import (
	"github.com/crateseek/crateseek/internal/domain"
	"github.com/crateseek/crateseek/internal/slskd"
)

// audioExtensions are the file types accepted from peers.
var audioExtensions = map[string]bool{
	"mp3":  true,
	"flac": true,
	"m4a":  true,
	"ogg":  true,
	"opus": true,
	"wav":  true,
	"aac":  true,
	"wma":  true,
	"alac": true,
}

// losslessFormats qualify for the lossless tier regardless of the
// reported bit rate.
var losslessFormats = map[string]bool{
	"flac": true,
	"wav":  true,
	"alac": true,
	"aiff": true,
}

// Quality is the audio fidelity extracted from peer-reported file
// metadata. It is corrected by the local probe once files are on disk.
type Quality struct {
	Tier       domain.QualityTier `json:"tier"`
	Format     string             `json:"format,omitempty"`
	BitRate    int                `json:"bit_rate,omitempty"`
	BitDepth   int                `json:"bit_depth,omitempty"`
	SampleRate int                `json:"sample_rate,omitempty"`
}

func isAudioFile(filename string) bool {
	return audioExtensions[fileExt(filename)]
}

// classifyFile assigns a quality tier from extension and peer metadata.
// An m4a container with a reported bit depth is treated as ALAC.
func classifyFile(f slskd.SearchFile) Quality {
	q := Quality{
		Tier:       domain.QualityUnknown,
		Format:     fileExt(f.Filename),
		BitRate:    f.BitRate,
		BitDepth:   f.BitDepth,
		SampleRate: f.SampleRate,
	}

	switch {
	case losslessFormats[q.Format]:
		q.Tier = domain.QualityLossless
	case q.Format == "m4a" && f.BitDepth >= 16:
		q.Tier = domain.QualityLossless
	case (q.Format == "mp3" || q.Format == "aac" || q.Format == "m4a") && f.BitRate >= 256:
		q.Tier = domain.QualityHigh
	case f.BitRate >= 128:
		q.Tier = domain.QualityStandard
	case f.BitRate > 0:
		q.Tier = domain.QualityLow
	}
	return q
}

// bestQuality picks the highest-fidelity audio file in a candidate set,
// breaking tier ties on bit rate.
func bestQuality(files []slskd.SearchFile) Quality {
	best := Quality{Tier: domain.QualityUnknown}
	bestRank := -1
	for _, f := range files {
		if !isAudioFile(f.Filename) {
			continue
		}
		q := classifyFile(f)
		r := tierRank(q.Tier)
		if r > bestRank || (r == bestRank && q.BitRate > best.BitRate) {
			best = q
			bestRank = r
		}
	}
	return best
}

func tierRank(t domain.QualityTier) int {
	switch t {
	case domain.QualityLossless:
		return 4
	case domain.QualityHigh:
		return 3
	case domain.QualityStandard:
		return 2
	case domain.QualityLow:
		return 1
	default:
		return 0
	}
}
