package classify

import (
	"context"
	"fmt"

	"github.com/insightdelivered/statement-analyzer/internal/logger"
	"github.com/insightdelivered/statement-analyzer/internal/models"
)

// ReapplyStore is the persistence needed to re-classify an account.
type ReapplyStore interface {
	Source
	AccountTransactions(ctx context.Context, accountID uint) ([]models.Transaction, error)
	UpdateClassification(ctx context.Context, tx *models.Transaction) error
	MarkRulesApplied(ctx context.Context, accountID uint) error
}

// ReapplyReport lists what a re-apply run did.
type ReapplyReport struct {
	Examined int `json:"examined"`
	// Changes holds only the transactions whose category moved.
	Changes []models.ClassificationResult `json:"changes"`
	// Manual holds the manually edited transactions that were skipped.
	Manual []models.ClassificationResult `json:"manual"`
}

// Reapply re-classifies every transaction of an account with a fresh
// snapshot and persists those whose category or label changed.
func Reapply(ctx context.Context, store ReapplyStore, userID, accountID uint) (*ReapplyReport, error) {
	log := logger.FromContext(ctx).With().Uint("account_id", accountID).Logger()

	snap, err := LoadSnapshot(ctx, store, userID)
	if err != nil {
		return nil, err
	}
	txs, err := store.AccountTransactions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	report := &ReapplyReport{Examined: len(txs)}
	for i := range txs {
		tx := &txs[i]
		prevLabel := tx.UserLabel
		res := snap.Apply(tx)
		if res.Source == models.SourceManual {
			report.Manual = append(report.Manual, res)
			continue
		}
		if !res.Changed() && prevLabel == tx.UserLabel {
			continue
		}
		if err := store.UpdateClassification(ctx, tx); err != nil {
			return nil, fmt.Errorf("failed to update transaction %d: %w", tx.ID, err)
		}
		if res.Changed() {
			report.Changes = append(report.Changes, res)
		}
	}

	if err := store.MarkRulesApplied(ctx, accountID); err != nil {
		return nil, fmt.Errorf("failed to mark statements: %w", err)
	}
	log.Info().
		Int("examined", report.Examined).
		Int("changed", len(report.Changes)).
		Int("manual", len(report.Manual)).
		Msg("rules re-applied")
	return report, nil
}
