package models

// Clause is one notable provision of a document. Status and Alert are
// labels assigned by the summarizing model and survive translation unchanged.
type Clause struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status string `json:"status"`
	Alert  bool   `json:"alert"`
}

// Summary is the structured simplification of a document.
type Summary struct {
	Summary    string   `json:"summary"`
	KeyClauses []Clause `json:"keyClauses"`
}

// Translation is a Summary rendered in another language.
// Degraded marks a reply that could not be parsed: the raw reply became the
// summary text and the original clauses were kept.
type Translation struct {
	Language   string  `json:"language"`
	Summary    Summary `json:"summary"`
	Translated bool    `json:"translated"`
	Degraded   bool    `json:"degraded"`
}
