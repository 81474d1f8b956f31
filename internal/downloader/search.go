package downloader

import (
	"regexp"
	"strings"

	"github.com/crateseek/crateseek/internal/domain"
)

var (
	parentheticalRe = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	featureRe       = regexp.MustCompile(`(?i)\s+(feat\.?|ft\.?|featuring)\s+.*$`)
	spaceRe         = regexp.MustCompile(`\s+`)
)

// buildQuery renders the "{artist} - {title}" search template for a
// wishlist item; Album doubles as the track title for track items.
// Exclude terms become negative tokens the peer applies server-side.
func buildQuery(item *domain.WishlistItem, simplify bool, exclude []string) string {
	artist := strings.TrimSpace(item.Artist)
	title := strings.TrimSpace(item.Album)
	if simplify {
		if a := simplifyTerm(artist); a != "" {
			artist = a
		}
		if t := simplifyTerm(title); t != "" {
			title = t
		}
	}

	q := artist + " - " + title
	for _, term := range exclude {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		q += " -" + term
	}
	return q
}

// simplifyTerm strips parenthesized substrings, feature credits, and
// trailing dash-separated disambiguators ("Album - Deluxe Edition"), to
// loosen a query that returned nothing.
func simplifyTerm(s string) string {
	s = parentheticalRe.ReplaceAllString(s, " ")
	s = featureRe.ReplaceAllString(s, "")
	if i := strings.Index(s, " - "); i > 0 {
		s = s[:i]
	}
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
