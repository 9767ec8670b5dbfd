package models

// Candidate is a raw search hit handed to the classifier. It is never
// persisted on its own.
type Candidate struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

// ValidationMethod records which classifier pass accepted a mention.
type ValidationMethod string

const (
	ValidationPattern ValidationMethod = "pattern"
	ValidationAI      ValidationMethod = "ai"
)

// Mention is a candidate the classifier judged to reference the brand.
type Mention struct {
	Domain           string           `json:"domain"`
	BrandMentioned   bool             `json:"brandMentioned"`
	Title            string           `json:"title"`
	Snippet          string           `json:"snippet"`
	URL              string           `json:"url"`
	ValidationMethod ValidationMethod `json:"validationMethod,omitempty"`
}
