package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"brandaudit/internal/audit/llm"
	"brandaudit/internal/audit/models"
)

const classifySystemPrompt = "You are a brand monitoring analyst optimized for high recall. " +
	"Capture all legitimate brand mentions. Respond only with valid JSON."

var errMalformedResponse = errors.New("response has no genuineMentions array")

func buildClassifyPrompt(candidates []models.Candidate, brand, domain string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Identify genuine mentions of the brand %q in search results from %s.\n\n", brand, domain)
	b.WriteString("SEARCH RESULTS:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] Title: %s\n    Snippet: %s\n    URL: %s\n", i+1, c.Title, c.Snippet, c.Link)
	}
	fmt.Fprintf(&b, `
Mark a result as genuine when %[1]q appears in the title or text as a company,
product or service, in any business, financial, tech or industry context.
Reject it only when the word is used in an unrelated sense (for example "apple"
the fruit rather than Apple the company) or the content has nothing to do with
the business. When uncertain, include it.

Return JSON of this exact shape:
{
  "genuineMentions": [
    {"domain": %[2]q, "brandMentioned": true, "title": "exact title", "snippet": "relevant snippet", "url": "full URL"}
  ]
}`, brand, domain)
	return b.String()
}

type modelResponse struct {
	GenuineMentions *[]modelMention `json:"genuineMentions"`
}

type modelMention struct {
	Domain  string `json:"domain"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// parseModelMentions decodes the model output. Entries without domain, title
// or url are dropped.
func parseModelMentions(content string) ([]models.Mention, error) {
	content = llm.StripCodeFence(content)
	if content == "" {
		return nil, errors.New("empty response")
	}
	var resp modelResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.GenuineMentions == nil {
		return nil, errMalformedResponse
	}
	out := make([]models.Mention, 0, len(*resp.GenuineMentions))
	for _, m := range *resp.GenuineMentions {
		if m.Domain == "" || m.Title == "" || m.URL == "" {
			continue
		}
		out = append(out, models.Mention{
			Domain:         m.Domain,
			BrandMentioned: true,
			Title:          m.Title,
			Snippet:        m.Snippet,
			URL:            m.URL,
		})
	}
	return out, nil
}
