package apply

import (
	"context"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// slugChecker is the single read the slug derivation needs.
type slugChecker interface {
	SlugExists(ctx context.Context, slug string) (bool, error)
}

// maxSlugAttempts bounds the uniqueness suffix loop.
const maxSlugAttempts = 50

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify derives a URL-safe slug from an event name: diacritics stripped,
// lowercased, runs of non-alphanumerics collapsed to single hyphens.
func Slugify(name string) string {
	folded, _, err := transform.String(deaccent, name)
	if err != nil {
		folded = name
	}

	var sb strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				sb.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(sb.String(), "-")
}

// UniqueSlug returns Slugify(name), suffixed with the lowest -2, -3, ...
// counter that does not collide with an existing event slug.
func UniqueSlug(ctx context.Context, checker slugChecker, name string) (string, error) {
	base := Slugify(name)
	if base == "" {
		base = "event"
	}

	candidate := base
	for i := 2; i <= maxSlugAttempts; i++ {
		exists, err := checker.SlugExists(ctx, candidate)
		if err != nil {
			return "", eris.Wrap(err, "apply: slug lookup")
		}
		if !exists {
			return candidate, nil
		}
		candidate = base + "-" + itoa(i)
	}
	return "", eris.Errorf("apply: no free slug for %q after %d attempts", base, maxSlugAttempts)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [8]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// regionBySubdivision maps subdivision names to region codes. Names missing
// from the table fail open: the region code is simply left absent.
var regionBySubdivision = map[string]string{
	"alabama":          "AL",
	"alaska":           "AK",
	"arizona":          "AZ",
	"arkansas":         "AR",
	"california":       "CA",
	"colorado":         "CO",
	"connecticut":      "CT",
	"delaware":         "DE",
	"florida":          "FL",
	"georgia":          "GA",
	"hawaii":           "HI",
	"idaho":            "ID",
	"illinois":         "IL",
	"indiana":          "IN",
	"iowa":             "IA",
	"kansas":           "KS",
	"kentucky":         "KY",
	"louisiana":        "LA",
	"maine":            "ME",
	"maryland":         "MD",
	"massachusetts":    "MA",
	"michigan":         "MI",
	"minnesota":        "MN",
	"mississippi":      "MS",
	"missouri":         "MO",
	"montana":          "MT",
	"nebraska":         "NE",
	"nevada":           "NV",
	"new hampshire":    "NH",
	"new jersey":       "NJ",
	"new mexico":       "NM",
	"new york":         "NY",
	"north carolina":   "NC",
	"north dakota":     "ND",
	"ohio":             "OH",
	"oklahoma":         "OK",
	"oregon":           "OR",
	"pennsylvania":     "PA",
	"rhode island":     "RI",
	"south carolina":   "SC",
	"south dakota":     "SD",
	"tennessee":        "TN",
	"texas":            "TX",
	"utah":             "UT",
	"vermont":          "VT",
	"virginia":         "VA",
	"washington":       "WA",
	"west virginia":    "WV",
	"wisconsin":        "WI",
	"wyoming":          "WY",
	"british columbia": "BC",
	"alberta":          "AB",
	"ontario":          "ON",
	"quebec":           "QC",
}

// RegionCode looks up the region code for a subdivision name. Unknown names
// return "".
func RegionCode(subdivision string) string {
	folded, _, err := transform.String(deaccent, subdivision)
	if err != nil {
		folded = subdivision
	}
	return regionBySubdivision[strings.ToLower(strings.TrimSpace(folded))]
}

// SynthesizeAddress builds a display address from location parts when the
// proposal supplies none.
func SynthesizeAddress(city, subdivision, countryCode string) string {
	var parts []string
	for _, p := range []string{city, subdivision, countryCode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// sourceByAgent classifies the originating agent into a data-source category.
var sourceByAgent = map[string]string{
	"web-crawler":       "web",
	"site-crawler":      "web",
	"email-parser":      "email",
	"registration-sync": "partner",
	"manual-import":     "manual",
}

// DataSourceForAgent returns the data-source category for an agent identity.
// Unknown agents classify as "agent"; an empty identity as "unknown".
func DataSourceForAgent(agent string) string {
	agent = strings.ToLower(strings.TrimSpace(agent))
	if agent == "" {
		return "unknown"
	}
	if src, ok := sourceByAgent[agent]; ok {
		return src
	}
	return "agent"
}
