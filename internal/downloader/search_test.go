package downloader

import (
	"testing"

	"github.com/crateseek/crateseek/internal/domain"
)

func TestBuildQuery(t *testing.T) {
	item := &domain.WishlistItem{Artist: "Boards of Canada", Album: "Geogaddi"}
	if got := buildQuery(item, false, nil); got != "Boards of Canada - Geogaddi" {
		t.Errorf("buildQuery = %q", got)
	}
}

func TestBuildQueryExcludeTerms(t *testing.T) {
	item := &domain.WishlistItem{Artist: "Artist", Album: "Album"}
	got := buildQuery(item, false, []string{"live", " remix ", ""})
	want := "Artist - Album -live -remix"
	if got != want {
		t.Errorf("buildQuery = %q, want %q", got, want)
	}
}

func TestBuildQuerySimplify(t *testing.T) {
	tests := []struct {
		name   string
		artist string
		title  string
		want   string
	}{
		{
			"strips parentheticals",
			"Artist",
			"Album (Deluxe Edition)",
			"Artist - Album",
		},
		{
			"strips brackets",
			"Artist [US]",
			"Album",
			"Artist - Album",
		},
		{
			"strips feature credits",
			"Artist feat. Guest",
			"Song ft. Other",
			"Artist - Song",
		},
		{
			"strips trailing disambiguator",
			"Artist",
			"Album - 2001 Remaster",
			"Artist - Album",
		},
		{
			"falls back when simplification empties a term",
			"(Untitled)",
			"Album",
			"(Untitled) - Album",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := &domain.WishlistItem{Artist: tt.artist, Album: tt.title}
			if got := buildQuery(item, true, nil); got != tt.want {
				t.Errorf("buildQuery = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSimplifyTermCollapsesWhitespace(t *testing.T) {
	if got := simplifyTerm("A   B  (x)  C"); got != "A B C" {
		t.Errorf("simplifyTerm = %q", got)
	}
}
