package workflow

import (
	"regexp"
	"sort"
	"strings"
)

// Match is the result of scoring a requirement against the registry.
type Match struct {
	Template     Template
	Confidence   float64
	Alternatives []Alternative
}

// Alternative is a runner-up template and its score.
type Alternative struct {
	Name       string
	Confidence float64
}

const (
	substringScore = 0.2
	overlapScore   = 0.1
	maxScore       = 1.0

	// alternativeCount is how many runners-up a match carries.
	alternativeCount = 2
)

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// AnalyzeRequirement scores every template against the requirement and
// returns the best match plus the next two as alternatives. Scoring is
// deterministic for a fixed registry; equal scores resolve to the
// template declared first.
func (r *Registry) AnalyzeRequirement(text string) Match {
	lower := strings.ToLower(text)
	tokens := tokenRe.FindAllString(lower, -1)

	type scored struct {
		index int
		score float64
	}
	results := make([]scored, len(r.templates))
	for i, t := range r.templates {
		results[i] = scored{index: i, score: scoreTemplate(t, lower, tokens)}
	}

	// Stable keeps declaration order within equal scores.
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].score > results[b].score
	})

	m := Match{
		Template:   r.templates[results[0].index],
		Confidence: results[0].score,
	}
	for _, res := range results[1:] {
		if len(m.Alternatives) == alternativeCount {
			break
		}
		m.Alternatives = append(m.Alternatives, Alternative{
			Name:       r.templates[res.index].Name,
			Confidence: res.score,
		})
	}
	return m
}

// scoreTemplate sums keyword evidence: a keyword contained whole in the
// requirement earns substringScore, otherwise a partial token overlap
// earns overlapScore. The total is capped at maxScore.
func scoreTemplate(t Template, lower string, tokens []string) float64 {
	var score float64
	for _, kw := range t.Keywords {
		switch {
		case strings.Contains(lower, kw):
			score += substringScore
		case tokenOverlap(kw, tokens):
			score += overlapScore
		}
	}
	if score > maxScore {
		return maxScore
	}
	return score
}

// tokenOverlap reports whether any keyword token and requirement token
// partially contain each other. Tokens shorter than 4 runes are skipped
// to keep stems like "api" from matching inside unrelated words.
func tokenOverlap(keyword string, tokens []string) bool {
	for _, kt := range tokenRe.FindAllString(keyword, -1) {
		if len(kt) < 4 {
			continue
		}
		for _, t := range tokens {
			if len(t) < 4 {
				continue
			}
			if strings.Contains(t, kt) || strings.Contains(kt, t) {
				return true
			}
		}
	}
	return false
}
