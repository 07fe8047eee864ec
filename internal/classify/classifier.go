// Package classify assigns categories to transactions. Strategies run in a
// fixed order: manual edits, label suggestions, custom categories, rules and
// finally a keyword fallback.
package classify

import (
	"context"
	"fmt"

	"github.com/insightdelivered/statement-analyzer/internal/logger"
	"github.com/insightdelivered/statement-analyzer/internal/models"
	"github.com/insightdelivered/statement-analyzer/internal/rules"
)

// Source loads everything a classification run needs for one user.
type Source interface {
	ActiveRules(ctx context.Context, userID uint) ([]models.Rule, error)
	ActiveCustomCategories(ctx context.Context, userID uint) ([]models.CustomCategory, error)
	ManualLabels(ctx context.Context, userID uint) ([]models.ManualLabel, error)
}

// Snapshot is the rule state read once at the start of a run. Edits made
// while the run is in progress are not observed.
type Snapshot struct {
	UserID uint
	Labels *LabelClassifier
	Custom *rules.CustomEngine
	Rules  *rules.Engine
}

// NewSnapshot builds a snapshot from already loaded data.
func NewSnapshot(userID uint, rs []models.Rule, cats []models.CustomCategory, labels []models.ManualLabel) *Snapshot {
	return &Snapshot{
		UserID: userID,
		Labels: NewLabelClassifier(cats, labels),
		Custom: rules.NewCustomEngine(cats),
		Rules:  rules.NewEngine(rs),
	}
}

// LoadSnapshot reads the user's rules, custom categories and manual labels.
func LoadSnapshot(ctx context.Context, src Source, userID uint) (*Snapshot, error) {
	rs, err := src.ActiveRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	cats, err := src.ActiveCustomCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load custom categories: %w", err)
	}
	labels, err := src.ManualLabels(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load manual labels: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Debug().
		Uint("user_id", userID).
		Int("rules", len(rs)).
		Int("custom_categories", len(cats)).
		Int("labels", len(labels)).
		Msg("classification snapshot loaded")
	return NewSnapshot(userID, rs, cats, labels), nil
}

// Decision is the outcome of the automatic strategies for one candidate.
type Decision struct {
	Source   models.ClassificationSource
	Category models.CategoryRef
	// Label is set when the strategy propagates a label.
	Label    string
	RuleName string
	MatchTag string
}

// Decide runs the automatic strategies in priority order and returns the
// first result. It never fails.
func (s *Snapshot) Decide(cand rules.Candidate) Decision {
	if m, ok := s.Labels.Match(cand.Description); ok {
		return Decision{
			Source:   models.SourceUserLabel,
			Category: m.Category.Ref(),
			Label:    m.Label,
			MatchTag: m.Tag,
		}
	}
	if m, ok := s.Custom.FindMatchingCategory(cand); ok {
		return Decision{
			Source:   models.SourceCustomCategory,
			Category: m.Category.Ref(),
			Label:    m.Category.Name,
			RuleName: m.Rule.Name,
		}
	}
	if r, ok := s.Rules.FindMatchingRule(cand); ok {
		return Decision{
			Source:   models.SourceRule,
			Category: models.CategoryRef{Standard: r.Category},
			RuleName: r.Name,
		}
	}
	return Decision{
		Source:   models.SourceKeywordFallback,
		Category: models.CategoryRef{Standard: KeywordFallback(cand.Description, cand.Type)},
	}
}

// Apply classifies tx in place and reports the change. Manually edited
// transactions are returned untouched with source manual.
func (s *Snapshot) Apply(tx *models.Transaction) models.ClassificationResult {
	prev := tx.CategoryRef()
	if tx.IsManuallyEdited {
		return models.ClassificationResult{
			TransactionID:    tx.ID,
			PreviousCategory: &prev,
			CurrentCategory:  prev,
			Source:           models.SourceManual,
			Label:            tx.UserLabel,
		}
	}

	d := s.Decide(rules.CandidateFromTransaction(*tx))
	if d.Category.IsCustom() {
		id := d.Category.CustomID
		tx.CustomCategoryID = &id
		tx.Category = models.CategoryOther
	} else {
		tx.CustomCategoryID = nil
		tx.Category = d.Category.Standard
	}
	if d.Label != "" {
		tx.UserLabel = d.Label
	}

	return models.ClassificationResult{
		TransactionID:    tx.ID,
		PreviousCategory: &prev,
		CurrentCategory:  d.Category,
		MatchedRuleName:  d.RuleName,
		Source:           d.Source,
		Label:            tx.UserLabel,
		MatchTag:         d.MatchTag,
	}
}
