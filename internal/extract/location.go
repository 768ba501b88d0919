package extract

import (
	"regexp"
	"strings"

	"meldung/internal"
	"meldung/internal/util"
)

const (
	ConfidenceStoreSuffix  = 0.99
	ConfidenceNameContext  = 0.95
	ConfidenceCityContext  = 0.85
	ConfidenceNameMention  = 0.80
	ConfidenceCityMention  = 0.70
	ConfidenceNoneDetected = 0.0
)

var locationKeywords = []string{
	"standort", "filiale", "store", "niederlassung", "geschäft",
	"laden", "markt", "branch", "location", "zwischenfall", "vorfall",
	"filiale in", "standort in", "shop in",
}

var keywordAlternation = func() string {
	quoted := make([]string, 0, len(locationKeywords))
	for _, kw := range locationKeywords {
		quoted = append(quoted, regexp.QuoteMeta(kw))
	}
	return "(?:" + strings.Join(quoted, "|") + ")"
}()

type MatchCandidate struct {
	Location   internal.LocationRecord
	Confidence float64
}

type LocationMatch struct {
	Location   *string
	LocationID *int
	Confidence float64
}

type locationPatterns struct {
	record  internal.LocationRecord
	name    string
	city    string
	nameCtx *regexp.Regexp
	store   *regexp.Regexp
	cityCtx *regexp.Regexp
}

// Matcher scores free text against a fixed list of locations. It is safe for
// concurrent use once built.
type Matcher struct {
	locations []locationPatterns
}

func NewMatcher(locations []internal.LocationRecord) *Matcher {
	m := &Matcher{locations: make([]locationPatterns, 0, len(locations))}
	for _, loc := range locations {
		lp := locationPatterns{
			record: loc,
			name:   strings.ToLower(strings.TrimSpace(util.NormalizeText(loc.Name))),
			city:   strings.ToLower(strings.TrimSpace(util.NormalizeText(loc.City))),
		}
		if lp.name != "" {
			name := regexp.QuoteMeta(lp.name)
			lp.nameCtx = contextPattern(name)
			lp.store = regexp.MustCompile(`(?i)` + name + sp + `*store|` + name + `_store`)
		}
		if lp.city != "" {
			lp.cityCtx = contextPattern(regexp.QuoteMeta(lp.city))
		}
		m.locations = append(m.locations, lp)
	}
	return m
}

// contextPattern matches a keyword before or after the quoted term on the
// same line.
func contextPattern(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + keywordAlternation + sp + `+.*?` + term + `|` + term + sp + `+.*?` + keywordAlternation)
}

// Match returns the best scoring location. Replacing the running best needs
// a strictly higher score, so ties go to the earlier location.
func (m *Matcher) Match(text string) LocationMatch {
	normalized := strings.ToLower(util.NormalizeText(text))

	var best *MatchCandidate
	for _, lp := range m.locations {
		score := lp.score(normalized)
		if score <= ConfidenceNoneDetected {
			continue
		}
		if best == nil || score > best.Confidence {
			best = &MatchCandidate{Location: lp.record, Confidence: score}
		}
	}

	if best == nil {
		return LocationMatch{Confidence: ConfidenceNoneDetected}
	}
	name := best.Location.Name
	id := best.Location.ID
	return LocationMatch{Location: &name, LocationID: &id, Confidence: best.Confidence}
}

func (lp locationPatterns) score(text string) float64 {
	score := ConfidenceNoneDetected
	raise := func(v float64) {
		if v > score {
			score = v
		}
	}

	if lp.name != "" {
		if strings.Contains(text, lp.name) {
			if lp.nameCtx.MatchString(text) {
				raise(ConfidenceNameContext)
			} else {
				raise(ConfidenceNameMention)
			}
		}
		// "<name>store" is covered by the optional space in the store pattern.
		if lp.store.MatchString(text) {
			raise(ConfidenceStoreSuffix)
		}
	}

	if lp.city != "" && strings.Contains(text, lp.city) {
		if lp.cityCtx.MatchString(text) {
			raise(ConfidenceCityContext)
		} else {
			raise(ConfidenceCityMention)
		}
	}
	return score
}

// MatchLocation is a one-shot Matcher for callers without a cached list.
func MatchLocation(text string, locations []internal.LocationRecord) LocationMatch {
	return NewMatcher(locations).Match(text)
}
