package parser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/insightdelivered/statement-analyzer/internal/extractor"
	"github.com/insightdelivered/statement-analyzer/internal/logger"
	"github.com/insightdelivered/statement-analyzer/internal/models"
)

// PDFParser handles text-layer and scanned PDF statements.
//
// SBI statements print one transaction per line:
//
//	DATE  DESCRIPTION  DEBIT  CREDIT  BALANCE
//
// with "-" placeholders in the empty column, e.g.
//
//	01-12-25 UPI/DR/533524614417/JOS BAKERY/YESB/q588612696/UPI - - 48.00 287.30
//	01-12-25 UPI/CR/533534475414/SIJOY S/SBIN/sijoy1018@/UPI - 1500.00 - 1787.30
//
// Anything else goes through the free-form parser, on OCR output when the
// text layer is missing.
type PDFParser struct {
	OCR extractor.OCR

	// extract is swapped out in tests.
	extract func(ctx context.Context, filePath string) ([]string, error)
}

func (p *PDFParser) Name() string {
	return "pdf"
}

const sbiAmount = `(\d[\d,]*(?:\.\d+)?)`

var (
	sbiDebitPattern = regexp.MustCompile(
		`^(\d{2}-\d{2}-\d{2})\s+(.+?)\s+-\s+-\s+` + sbiAmount + `\s+` + sbiAmount + `\s*$`,
	)
	sbiCreditPattern = regexp.MustCompile(
		`^(\d{2}-\d{2}-\d{2})\s+(.+?)\s+-\s+` + sbiAmount + `\s+-\s+` + sbiAmount + `\s*$`,
	)
)

func (p *PDFParser) Parse(ctx context.Context, filePath string) ([]models.RawTransaction, error) {
	log := logger.FromContext(ctx)
	extract := p.extract
	if extract == nil {
		extract = extractor.ExtractText
	}

	pages, textErr := extract(ctx, filePath)
	if textErr == nil {
		if isCanara(strings.Join(pages, "\n"), filePath) {
			if txs := ParseFreeForm(ctx, pages, CanaraOptions()); len(txs) > 0 {
				return txs, nil
			}
		}
		if txs := ParseSBI(ctx, pages); len(txs) > 0 {
			return txs, nil
		}
		log.Debug().Msg("text layer produced no transactions, trying OCR")
	} else {
		log.Debug().Err(textErr).Msg("no usable text layer, trying OCR")
	}

	ocr := p.OCR
	if ocr == nil {
		ocr = extractor.NoOCR{}
	}
	ocrErr := extractor.ErrOCRUnavailable
	var ocrPages []string
	if ocr.Available() {
		ocrPages, ocrErr = ocr.Recognize(ctx, filePath)
	}
	if ocrErr == nil {
		opts := FreeFormOptions{}
		if isCanara(strings.Join(ocrPages, "\n"), filePath) {
			opts = CanaraOptions()
		}
		if txs := ParseFreeForm(ctx, ocrPages, opts); len(txs) > 0 {
			return txs, nil
		}
		return nil, ErrEmptyExtraction
	}
	if !errors.Is(ocrErr, extractor.ErrOCRUnavailable) {
		log.Warn().Err(ocrErr).Msg("OCR failed")
	}

	// Last resort: the text layer might still be free-form.
	if textErr == nil {
		if txs := ParseFreeForm(ctx, pages, FreeFormOptions{}); len(txs) > 0 {
			return txs, nil
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrEmptyExtraction, ocrErr)
}

// ParseSBI applies the SBI debit and credit line patterns to page text.
func ParseSBI(ctx context.Context, pages []string) []models.RawTransaction {
	var txs []models.RawTransaction
	row := 0
	for _, page := range pages {
		for _, line := range strings.Split(page, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			row++

			txType := models.Debit
			m := sbiDebitPattern.FindStringSubmatch(line)
			if m == nil {
				txType = models.Credit
				m = sbiCreditPattern.FindStringSubmatch(line)
			}
			if m == nil {
				continue
			}

			tx, err := sbiTransaction(m[1], m[2], m[3], txType)
			if err != nil {
				logRowError(ctx, &ParseRowError{Parser: "sbi", Row: row, Text: line, Err: err})
				continue
			}
			txs = append(txs, tx)
		}
	}
	return txs
}

func sbiTransaction(date, desc, amount string, txType models.TransactionType) (models.RawTransaction, error) {
	d, err := parseDate(date)
	if err != nil {
		return models.RawTransaction{}, err
	}
	amt, err := parseAmount(amount)
	if err != nil {
		return models.RawTransaction{}, err
	}
	if !amt.IsPositive() {
		return models.RawTransaction{}, errNoAmount
	}
	return models.RawTransaction{
		Date:        d,
		Description: strings.Join(strings.Fields(desc), " "),
		Amount:      amt,
		Type:        txType,
	}, nil
}

// isCanara reports whether text or file name identify a Canara e-passbook.
func isCanara(text, filePath string) bool {
	name := strings.ToLower(filepath.Base(filePath))
	if strings.Contains(name, "canara") || strings.Contains(name, "epassbook") {
		return true
	}
	lower := strings.ToLower(text)
	return strings.Contains(lower, "canara") || strings.Contains(lower, "epassbook")
}
