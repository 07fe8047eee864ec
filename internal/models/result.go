package models

// ClassificationSource names the strategy that produced a category.
type ClassificationSource string

const (
	SourceManual          ClassificationSource = "manual"
	SourceUserLabel       ClassificationSource = "user_label"
	SourceCustomCategory  ClassificationSource = "custom_category"
	SourceRule            ClassificationSource = "rule"
	SourceKeywordFallback ClassificationSource = "keyword_fallback"
)

// ClassificationResult is emitted by the orchestrator for each transaction.
type ClassificationResult struct {
	TransactionID    uint                 `json:"transaction_id"`
	PreviousCategory *CategoryRef         `json:"previous_category"`
	CurrentCategory  CategoryRef          `json:"current_category"`
	MatchedRuleName  string               `json:"matched_rule_name,omitempty"`
	Source           ClassificationSource `json:"source"`
	Label            string               `json:"label,omitempty"`
	// MatchTag carries the label classifier's match kind
	// (custom_category_name_match or user_label_category_match).
	MatchTag string `json:"match_tag,omitempty"`
}

// Changed reports whether the category moved.
func (r ClassificationResult) Changed() bool {
	if r.PreviousCategory == nil {
		return true
	}
	return !r.PreviousCategory.Equal(r.CurrentCategory)
}

// ManualLabel is a label a user set by hand, with the category the
// transaction carried at the time.
type ManualLabel struct {
	Label    string
	Category CategoryRef
}
