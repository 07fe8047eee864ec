package classify

import (
	"math"
	"sort"
	"strings"

	"github.com/insightdelivered/statement-analyzer/internal/models"
)

// Match tags reported by the label classifier.
const (
	TagCategoryName = "custom_category_name_match"
	TagUserLabel    = "user_label_category_match"
)

// LabelMatch is a custom category suggested by its name or a prior label.
type LabelMatch struct {
	Category models.CustomCategory
	Label    string
	Tag      string
}

// LabelClassifier suggests a custom category from the description alone,
// before any rule runs.
type LabelClassifier struct {
	categories []models.CustomCategory
	labels     []models.ManualLabel
}

// NewLabelClassifier keeps the active categories and the distinct non-empty
// manual labels. The first category seen for a label is kept.
func NewLabelClassifier(categories []models.CustomCategory, labels []models.ManualLabel) *LabelClassifier {
	c := &LabelClassifier{}
	for _, cat := range categories {
		if cat.Active && strings.TrimSpace(cat.Name) != "" {
			c.categories = append(c.categories, cat)
		}
	}
	sort.SliceStable(c.categories, func(i, j int) bool { return c.categories[i].ID < c.categories[j].ID })

	seen := map[string]bool{}
	for _, l := range labels {
		text := strings.TrimSpace(l.Label)
		key := strings.ToLower(text)
		if text == "" || seen[key] {
			continue
		}
		seen[key] = true
		c.labels = append(c.labels, models.ManualLabel{Label: text, Category: l.Category})
	}
	return c
}

// Match runs the category-name phase, then the prior-label phase.
func (c *LabelClassifier) Match(description string) (*LabelMatch, bool) {
	desc := strings.ToLower(strings.TrimSpace(description))
	if desc == "" {
		return nil, false
	}

	for _, cat := range c.categories {
		name := strings.ToLower(strings.TrimSpace(cat.Name))
		if desc == name || strings.Contains(desc, name) {
			return &LabelMatch{Category: cat, Label: cat.Name, Tag: TagCategoryName}, true
		}
	}

	var best *models.ManualLabel
	for i, l := range c.labels {
		if (best == nil || len(l.Label) > len(best.Label)) && strings.Contains(desc, strings.ToLower(l.Label)) {
			best = &c.labels[i]
		}
	}
	if best == nil {
		return nil, false
	}
	// Only an active category named after the label counts. The category a
	// label was saved with is not a suggestion on its own.
	for _, cat := range c.categories {
		if strings.EqualFold(strings.TrimSpace(cat.Name), best.Label) {
			return &LabelMatch{Category: cat, Label: best.Label, Tag: TagUserLabel}, true
		}
	}
	return nil, false
}

// LabelConfidence scores how well label describes description. It is a
// diagnostic and never gates classification.
func LabelConfidence(label, description string) float64 {
	l := strings.ToLower(strings.TrimSpace(label))
	d := strings.ToLower(strings.TrimSpace(description))
	if l == "" || d == "" {
		return 0
	}
	if l == d {
		return 1
	}
	if strings.Contains(d, l) {
		return math.Min(0.9, 0.5+0.4*float64(len(l))/float64(len(d)))
	}

	labelWords := wordSet(l)
	descWords := wordSet(d)
	common := 0
	for w := range labelWords {
		if descWords[w] {
			common++
		}
	}
	if common == 0 {
		return 0
	}
	return 0.4 * float64(common) / float64(len(labelWords))
}

func wordSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}
