package downloader

import (
	"testing"
)

func TestEncodeDecodeResultsRoundTrip(t *testing.T) {
	cands := []Candidate{
		{Username: "peer", Directory: "share/Album", MusicFileCount: 10, Score: 1250},
		{Username: "other", Directory: "music/Album", MusicFileCount: 9, Score: 900},
	}
	blob, err := encodeResults("artist - album", cands)
	if err != nil {
		t.Fatalf("encodeResults failed: %v", err)
	}

	stored, ok := decodeResults(blob)
	if !ok {
		t.Fatal("Expected the blob to decode")
	}
	if stored.Query != "artist - album" {
		t.Errorf("Query = %q", stored.Query)
	}
	if len(stored.Candidates) != 2 || stored.Candidates[0].Username != "peer" || stored.Candidates[0].Score != 1250 {
		t.Errorf("Candidates mismatch: %+v", stored.Candidates)
	}
	if stored.SavedAt.IsZero() {
		t.Error("Expected saved_at stamped")
	}
}

func TestDecodeResultsRejectsUnusable(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"corrupt json", []byte("{nope")},
		{"foreign version", []byte(`{"version":99,"query":"q","candidates":[{"username":"peer"}]}`)},
		{"zero candidates", []byte(`{"version":1,"query":"q","candidates":[]}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := decodeResults(tt.blob); ok {
				t.Errorf("Expected %s blob rejected", tt.name)
			}
		})
	}
}

func TestWithoutSkipped(t *testing.T) {
	cands := []Candidate{{Username: "a"}, {Username: "b"}, {Username: "c"}}

	kept := withoutSkipped(cands, []string{"b"})
	if len(kept) != 2 || kept[0].Username != "a" || kept[1].Username != "c" {
		t.Errorf("withoutSkipped = %+v", kept)
	}
	if got := withoutSkipped(cands, nil); len(got) != 3 {
		t.Errorf("Expected untouched set without skips, got %+v", got)
	}
	if got := withoutSkipped(cands, []string{"a", "b", "c"}); len(got) != 0 {
		t.Errorf("Expected empty set, got %+v", got)
	}
}

func TestAppendUnique(t *testing.T) {
	got := appendUnique([]string{"a"}, "b")
	if len(got) != 2 {
		t.Fatalf("appendUnique = %v", got)
	}
	got = appendUnique(got, "a")
	if len(got) != 2 {
		t.Errorf("Expected duplicate ignored, got %v", got)
	}
}

func TestNarrowCandidateRecomputesAggregates(t *testing.T) {
	full, _ := buildCandidate(flacResponse("peer", 4), 4, filterConfig())
	sub := constrainToDirectory(full.Files, `share\Album`)
	if len(sub) != 4 {
		t.Fatalf("Expected the full folder, got %d files", len(sub))
	}

	narrowed := narrowCandidate(full, `share\Album`, sub[:2], 4)
	if narrowed.MusicFileCount != 2 {
		t.Errorf("Expected 2 files, got %d", narrowed.MusicFileCount)
	}
	if narrowed.TotalSize != 60*mb {
		t.Errorf("Expected 60 MiB, got %d", narrowed.TotalSize)
	}
	if narrowed.Completeness != 0.5 {
		t.Errorf("Expected completeness 0.5, got %v", narrowed.Completeness)
	}
	if narrowed.Directory != "share/Album" {
		t.Errorf("Expected normalized directory, got %q", narrowed.Directory)
	}
}
