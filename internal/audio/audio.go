// Package audio inspects downloaded files to confirm what the peer
// claimed about them. FLAC files yield STREAMINFO numbers and vorbis
// tag presence, MP3 files ID3 tag presence; everything else reports
// only its extension. All probing is best-effort.
package audio

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"
)

// probeExtensions are the file types worth opening.
var probeExtensions = map[string]bool{
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

// Info is what a local probe could establish about one file.
type Info struct {
	Format     string
	BitDepth   int
	SampleRate int
	Channels   int
	Tagged     bool
}

// ProbeFile inspects a single audio file.
func ProbeFile(path string) (*Info, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	info := &Info{Format: ext}

	switch ext {
	case "flac":
		return probeFLAC(path, info)
	case "mp3":
		return probeMP3(path, info)
	default:
		return info, nil
	}
}

func probeFLAC(path string, info *Info) (*Info, error) {
	f, err := flac.ParseFile(path)
	if err != nil {
		return nil, err
	}

	si, err := f.GetStreamInfo()
	if err != nil {
		return nil, err
	}
	info.BitDepth = si.BitDepth
	info.SampleRate = si.SampleRate
	info.Channels = si.ChannelCount

	for _, block := range f.Meta {
		if block.Type != flac.VorbisComment {
			continue
		}
		comment, err := flacvorbis.ParseFromMetaDataBlock(*block)
		if err != nil {
			continue
		}
		artist, _ := comment.Get(flacvorbis.FIELD_ARTIST)
		title, _ := comment.Get(flacvorbis.FIELD_TITLE)
		info.Tagged = len(artist) > 0 && len(title) > 0
	}
	return info, nil
}

func probeMP3(path string, info *Info) (*Info, error) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return nil, err
	}
	defer tag.Close()

	info.Tagged = tag.Artist() != "" && tag.Title() != ""
	return info, nil
}

// Probe inspects a file, or every audio file under a directory, and
// returns the highest-fidelity result plus how many files were
// readable. Unreadable files are skipped.
func Probe(path string) (*Info, int) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, 0
	}
	if !fi.IsDir() {
		info, err := ProbeFile(path)
		if err != nil {
			return nil, 0
		}
		return info, 1
	}

	var best *Info
	probed := 0
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(p)), ".")
		if !probeExtensions[ext] {
			return nil
		}
		info, err := ProbeFile(p)
		if err != nil {
			return nil
		}
		probed++
		if better(info, best) {
			best = info
		}
		return nil
	})
	return best, probed
}

// better prefers deeper samples, then higher sample rates, so the
// directory result reflects the best file in a mixed folder.
func better(a, b *Info) bool {
	if b == nil {
		return true
	}
	if a.BitDepth != b.BitDepth {
		return a.BitDepth > b.BitDepth
	}
	return a.SampleRate > b.SampleRate
}
