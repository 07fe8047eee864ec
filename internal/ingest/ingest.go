// Package ingest turns an uploaded statement file into classified,
// persisted transactions.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/insightdelivered/statement-analyzer/internal/audit"
	"github.com/insightdelivered/statement-analyzer/internal/classify"
	"github.com/insightdelivered/statement-analyzer/internal/logger"
	"github.com/insightdelivered/statement-analyzer/internal/models"
	"github.com/insightdelivered/statement-analyzer/internal/parser"
	"github.com/insightdelivered/statement-analyzer/internal/storage"
)

// Service runs ingestion and re-classification against a store.
type Service struct {
	store *storage.Store
	opts  parser.Options
}

func NewService(store *storage.Store, opts parser.Options) *Service {
	return &Service{store: store, opts: opts}
}

// Request describes one upload.
type Request struct {
	AccountID uint
	// Path is where the file is on disk. It may be a temporary file without
	// an extension, in which case Kind decides the parser.
	Path string
	Kind models.FileKind
	// Filename is the name the user uploaded. Defaults to the base of Path.
	Filename    string
	PeriodStart *time.Time
	PeriodEnd   *time.Time
}

// Report is what an ingestion run did.
type Report struct {
	RunID        string                        `json:"run_id"`
	StatementID  uint                          `json:"statement_id"`
	Format       parser.Format                 `json:"format"`
	Parser       string                        `json:"parser"`
	Transactions int                           `json:"transactions"`
	Skipped      int                           `json:"skipped"`
	Sample       bool                          `json:"sample"`
	Duplicate    bool                          `json:"duplicate"`
	RulesApplied bool                          `json:"rules_applied"`
	Warnings     []string                      `json:"warnings,omitempty"`
	Results      []models.ClassificationResult `json:"results"`
	Summary      *models.AnalysisSummary       `json:"summary"`
}

// Ingest parses the file, classifies every transaction and stores the
// statement, its transactions and its summary in one database transaction.
func (s *Service) Ingest(ctx context.Context, req Request) (*Report, error) {
	runID := uuid.NewString()
	filename := req.Filename
	if filename == "" {
		filename = filepath.Base(req.Path)
	}
	ctx, log := logger.WithFields(ctx, map[string]interface{}{
		"run_id":     runID,
		"account_id": req.AccountID,
		"file":       filename,
	})

	account, err := s.store.Account(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	parsed, err := parser.ParseFile(ctx, req.Path, req.Kind, s.opts)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:        runID,
		Format:       parsed.Format,
		Parser:       parsed.Parser,
		Transactions: len(parsed.Transactions),
		Skipped:      parsed.Skipped,
		Sample:       parsed.Sample,
	}
	if parsed.Sample {
		report.Warnings = append(report.Warnings, "no transactions recovered, stored the sample transactions instead")
	}
	if parsed.Skipped > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d row(s) skipped as unreadable", parsed.Skipped))
	}

	kind := req.Kind
	if kind == "" {
		kind = formatKind(parsed.Format)
	}
	start, end := req.PeriodStart, req.PeriodEnd
	if start == nil && end == nil {
		start, end = period(parsed.Transactions)
	}

	err = s.store.WithinTx(ctx, func(st *storage.Store) error {
		dup, err := st.StatementExists(ctx, account.ID, filename)
		if err != nil {
			return err
		}
		if dup {
			report.Duplicate = true
			report.Warnings = append(report.Warnings, storage.ErrDuplicateUpload.Error())
			log.Warn().Err(storage.ErrDuplicateUpload).Msg("duplicate upload")
		}

		stmt := &models.Statement{
			AccountID:        account.ID,
			OriginalFilename: filename,
			FileKind:         kind,
			PeriodStart:      start,
			PeriodEnd:        end,
		}
		if err := st.CreateStatement(ctx, stmt); err != nil {
			return err
		}
		report.StatementID = stmt.ID

		txs := make([]models.Transaction, 0, len(parsed.Transactions))
		for _, raw := range parsed.Transactions {
			txs = append(txs, models.NewTransaction(stmt.ID, raw))
		}

		// A missing snapshot leaves everything as OTHER; reapply finishes
		// the job later.
		snap, err := classify.LoadSnapshot(ctx, st, account.UserID)
		if err != nil {
			log.Warn().Err(err).Msg("classification skipped")
			report.Warnings = append(report.Warnings, "classification skipped: "+err.Error())
		}
		if snap != nil {
			report.Results = make([]models.ClassificationResult, 0, len(txs))
			for i := range txs {
				res := snap.Apply(&txs[i])
				res.PreviousCategory = nil
				report.Results = append(report.Results, res)
			}
		}

		if err := st.CreateTransactions(ctx, txs); err != nil {
			return err
		}
		for i := range report.Results {
			report.Results[i].TransactionID = txs[i].ID
		}

		if snap != nil {
			if err := st.SetRulesApplied(ctx, stmt.ID, true); err != nil {
				return err
			}
			report.RulesApplied = true
		}

		summary := audit.Totals(stmt.ID, txs)
		if err := st.SaveSummary(ctx, &summary); err != nil {
			return err
		}
		report.Summary = &summary
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Uint("statement_id", report.StatementID).
		Int("transactions", report.Transactions).
		Int("skipped", report.Skipped).
		Bool("rules_applied", report.RulesApplied).
		Msg("statement ingested")
	return report, nil
}

// Reapply re-classifies all transactions of an account owned by userID.
func (s *Service) Reapply(ctx context.Context, userID, accountID uint) (*classify.ReapplyReport, error) {
	ctx, _ = logger.WithFields(ctx, map[string]interface{}{"run_id": uuid.NewString()})

	account, err := s.store.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != userID {
		return nil, fmt.Errorf("account %d: %w", accountID, storage.ErrNotFound)
	}

	var report *classify.ReapplyReport
	err = s.store.WithinTx(ctx, func(st *storage.Store) error {
		var err error
		report, err = classify.Reapply(ctx, st, userID, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// RecomputeSummary rebuilds a statement's cached totals from its
// transactions.
func (s *Service) RecomputeSummary(ctx context.Context, statementID uint) (*models.AnalysisSummary, error) {
	if _, err := s.store.Statement(ctx, statementID); err != nil {
		return nil, err
	}
	txs, err := s.store.StatementTransactions(ctx, statementID)
	if err != nil {
		return nil, err
	}
	summary := audit.Totals(statementID, txs)
	if err := s.store.SaveSummary(ctx, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// IsInputError reports whether err was caused by the uploaded file rather
// than by the system.
func IsInputError(err error) bool {
	return errors.Is(err, parser.ErrUnsupportedFileType) ||
		errors.Is(err, parser.ErrEmptyExtraction) ||
		errors.Is(err, models.ErrInvalidPeriod)
}

func formatKind(f parser.Format) models.FileKind {
	switch f {
	case parser.FormatPDF:
		return models.KindPDF
	case parser.FormatCSV:
		return models.KindCSV
	}
	return models.KindExcel
}

func period(txs []models.RawTransaction) (*time.Time, *time.Time) {
	if len(txs) == 0 {
		return nil, nil
	}
	first, last := txs[0].Date, txs[0].Date
	for _, tx := range txs[1:] {
		if tx.Date.Before(first) {
			first = tx.Date
		}
		if tx.Date.After(last) {
			last = tx.Date
		}
	}
	return &first, &last
}
