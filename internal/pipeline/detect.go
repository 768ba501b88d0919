package pipeline

import (
	"strings"

	"meldung/internal/extract"
	"meldung/internal/incidents"
	"meldung/internal/util"
)

type DetectResult struct {
	IsIncident   bool
	Score        float64
	Reason       string
	IncidentType string
}

var detectKeywords = []string{
	"vorfall", "zwischenfall", "anzeige", "polizei", "meldung", "store_",
	"diebstahl", "gestohlen", "entwendet", "ladendieb",
	"sachbeschädigung", "beschädigt", "vandalismus", "graffiti", "zerstört",
}

var typeKeywords = map[string][]string{
	incidents.TypeTheft:  {"diebstahl", "gestohlen", "entwendet", "ladendieb", "theft", "stolen"},
	incidents.TypeDamage: {"sachbeschädigung", "beschädigt", "vandalismus", "graffiti", "zerstört", "damage"},
}

// DetectIncidentReport scores how likely a message reports an incident.
// threshold is the minimum score for IsIncident.
func DetectIncidentReport(subject, text string, attachmentNames []string, threshold float64) DetectResult {
	subject = strings.ToLower(util.NormalizeText(subject))
	text = strings.ToLower(util.NormalizeText(text))

	score := 0.0
	for _, kw := range detectKeywords {
		if strings.Contains(subject, kw) {
			score += 0.2
		}
		if strings.Contains(text, kw) {
			score += 0.1
		}
	}

	combined := subject + "\n" + text
	if extract.ExtractDate(combined) != nil {
		score += 0.15
	}
	if extract.ExtractTime(combined) != nil {
		score += 0.15
	}

	for _, name := range attachmentNames {
		ln := strings.ToLower(name)
		if strings.HasSuffix(ln, ".pdf") || strings.HasSuffix(ln, ".eml") || strings.HasSuffix(ln, ".msg") {
			score += 0.1
			break
		}
	}
	if score > 1 {
		score = 1
	}

	isIncident := score >= threshold
	reason := "rules_negative"
	if isIncident {
		reason = "rules_positive"
	}

	return DetectResult{
		IsIncident:   isIncident,
		Score:        score,
		Reason:       reason,
		IncidentType: guessIncidentType(combined),
	}
}

// guessIncidentType returns the type with the most keyword hits, or "" when
// nothing matches or theft and damage tie.
func guessIncidentType(text string) string {
	theft := countHits(text, typeKeywords[incidents.TypeTheft])
	damage := countHits(text, typeKeywords[incidents.TypeDamage])
	switch {
	case theft > damage:
		return incidents.TypeTheft
	case damage > theft:
		return incidents.TypeDamage
	default:
		return ""
	}
}

func countHits(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}
