package classifier

import (
	"regexp"
	"strings"

	"github.com/cloudflare/ahocorasick"

	"brandaudit/internal/audit/models"
)

const (
	// acceptThreshold is the minimum score for a pattern-pass mention.
	acceptThreshold = 2
	// substantialSnippet is the snippet length above which content counts.
	substantialSnippet = 50
)

var contextKeywords = []string{
	"company", "corp", "inc", "ltd", "business", "firm", "brand", "organization",
}

// Scorer is the deterministic pattern pass. It is safe for concurrent use.
type Scorer struct {
	context *ahocorasick.Matcher
}

func NewScorer() *Scorer {
	return &Scorer{context: ahocorasick.NewStringMatcher(contextKeywords)}
}

// Score returns the confidence score of c for brand, and false when the brand
// does not appear as a whole word at all.
func (s *Scorer) Score(c models.Candidate, brand string, exact *regexp.Regexp) (int, bool) {
	text := strings.ToLower(c.Title + " " + c.Snippet)
	matches := exact.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return 0, false
	}

	score := 2 * len(matches)
	if len(s.context.Match([]byte(text))) > 0 {
		score++
	}
	if len(c.Snippet) > substantialSnippet {
		score++
	}
	if qualityLink(c.Link, brand) {
		score++
	}
	return score, true
}

// Validate returns the candidates whose score reaches the threshold, in input
// order.
func (s *Scorer) Validate(candidates []models.Candidate, brand, domain string) []models.Mention {
	brand = strings.TrimSpace(brand)
	if brand == "" {
		return nil
	}
	exact := brandPattern(brand)

	var out []models.Mention
	for _, c := range candidates {
		score, ok := s.Score(c, brand, exact)
		if !ok || score < acceptThreshold {
			continue
		}
		out = append(out, models.Mention{
			Domain:         domain,
			BrandMentioned: true,
			Title:          c.Title,
			Snippet:        c.Snippet,
			URL:            c.Link,
		})
	}
	return out
}

// brandPattern matches brand as a whole word, case-insensitively.
func brandPattern(brand string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(brand) + `\b`)
}

// qualityLink rejects listing pages (search, tag, query string) unless the
// link itself carries the brand.
func qualityLink(link, brand string) bool {
	if strings.Contains(link, strings.ToLower(brand)) {
		return true
	}
	return !strings.Contains(link, "/search") &&
		!strings.Contains(link, "/tag/") &&
		!strings.Contains(link, "?")
}
