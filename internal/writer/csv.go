package writer

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/insightdelivered/statement-analyzer/internal/models"
)

// Export is one statement's classified transactions ready for writing.
type Export struct {
	Account      *models.Account
	Statement    *models.Statement
	Transactions []models.Transaction
	// CustomNames resolves custom category ids to display names.
	CustomNames map[uint]string
}

// CSVWriter writes classified transactions to CSV format.
type CSVWriter struct {
	IncludeHeader bool
}

// WriteToFile writes the export to a CSV file at the given path.
func (w *CSVWriter) WriteToFile(path string, exp *Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %q: %w", path, err)
	}
	defer f.Close()

	if err := w.Write(f, exp); err != nil {
		return err
	}
	return f.Close()
}

// Write writes the export in CSV format to the given writer.
func (w *CSVWriter) Write(out io.Writer, exp *Export) error {
	writer := csv.NewWriter(out)

	// Metadata rows, commented with a leading #.
	if w.IncludeHeader {
		if a := exp.Account; a != nil {
			if a.BankName != "" {
				writer.Write([]string{"# Bank", a.BankName})
			}
			if a.Name != "" {
				writer.Write([]string{"# Account", a.Name})
			}
		}
		if s := exp.Statement; s != nil {
			writer.Write([]string{"# File", s.OriginalFilename})
			if s.PeriodStart != nil && s.PeriodEnd != nil {
				writer.Write([]string{"# Statement Period",
					s.PeriodStart.Format("02/01/2006") + " to " + s.PeriodEnd.Format("02/01/2006")})
			}
		}
	}

	header := []string{"Date", "Description", "Type", "Amount", "Category", "Label", "Manual"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, txn := range exp.Transactions {
		row := []string{
			txn.Date.Format("02/01/2006"),
			txn.Description,
			string(txn.Type),
			formatAmount(txn.Amount),
			exp.categoryName(txn),
			txn.UserLabel,
			strconv.FormatBool(txn.IsManuallyEdited),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

func (e *Export) categoryName(txn models.Transaction) string {
	if txn.CustomCategoryID == nil {
		return string(txn.Category)
	}
	if name, ok := e.CustomNames[*txn.CustomCategoryID]; ok {
		return name
	}
	return models.CategoryRef{CustomID: *txn.CustomCategoryID}.String()
}

func formatAmount(amount decimal.Decimal) string {
	if amount.IsZero() {
		return ""
	}
	return amount.StringFixed(2)
}
