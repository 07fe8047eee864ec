package rules

import (
	"sort"

	"github.com/insightdelivered/statement-analyzer/internal/models"
)

// Engine evaluates one user's standard-category rules. Active rules are
// tried in (Priority, ID) order and the first match wins.
type Engine struct {
	rules []models.Rule
}

// NewEngine keeps the active rules and sorts them into evaluation order.
func NewEngine(rules []models.Rule) *Engine {
	active := make([]models.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Active {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority < active[j].Priority
		}
		return active[i].ID < active[j].ID
	})
	return &Engine{rules: active}
}

// Rules returns the active rules in evaluation order.
func (e *Engine) Rules() []models.Rule {
	return e.rules
}

// FindMatchingRule returns the first active rule matching cand.
func (e *Engine) FindMatchingRule(cand Candidate) (*models.Rule, bool) {
	for i := range e.rules {
		if MatchesRule(e.rules[i], cand) {
			return &e.rules[i], true
		}
	}
	return nil, false
}

// MatchesRule reports whether r matches. A rule with no conditions never
// matches.
func MatchesRule(r models.Rule, cand Candidate) bool {
	return matchConditions(r.Logic, r.Conditions, cand, true)
}

// CustomMatch is the custom category and rule that matched.
type CustomMatch struct {
	Category models.CustomCategory
	Rule     models.CustomRule
}

// CustomEngine evaluates one user's custom-category rules. Categories are
// tried in ID order and, within a category, active rules in (Priority, ID)
// order. Source conditions never match here.
type CustomEngine struct {
	categories []models.CustomCategory
}

// NewCustomEngine keeps the active categories and their active rules.
func NewCustomEngine(categories []models.CustomCategory) *CustomEngine {
	active := make([]models.CustomCategory, 0, len(categories))
	for _, c := range categories {
		if !c.Active {
			continue
		}
		rules := make([]models.CustomRule, 0, len(c.Rules))
		for _, r := range c.Rules {
			if r.Active {
				rules = append(rules, r)
			}
		}
		sort.SliceStable(rules, func(i, j int) bool {
			if rules[i].Priority != rules[j].Priority {
				return rules[i].Priority < rules[j].Priority
			}
			return rules[i].ID < rules[j].ID
		})
		c.Rules = rules
		active = append(active, c)
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return &CustomEngine{categories: active}
}

// Categories returns the active categories in evaluation order.
func (e *CustomEngine) Categories() []models.CustomCategory {
	return e.categories
}

// FindMatchingCategory returns the first custom category with a matching rule.
func (e *CustomEngine) FindMatchingCategory(cand Candidate) (*CustomMatch, bool) {
	for _, c := range e.categories {
		for _, r := range c.Rules {
			if MatchesCustomRule(r, cand) {
				return &CustomMatch{Category: c, Rule: r}, true
			}
		}
	}
	return nil, false
}

// MatchesCustomRule is MatchesRule for custom-category rules.
func MatchesCustomRule(r models.CustomRule, cand Candidate) bool {
	return matchConditions(r.Logic, r.Conditions, cand, false)
}
