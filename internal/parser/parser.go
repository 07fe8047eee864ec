package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/insightdelivered/statement-analyzer/internal/extractor"
	"github.com/insightdelivered/statement-analyzer/internal/logger"
	"github.com/insightdelivered/statement-analyzer/internal/models"
)

var (
	// ErrUnsupportedFileType is the only hard failure of the parser layer.
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrEmptyExtraction means a parser recovered no transactions.
	ErrEmptyExtraction = errors.New("no transactions recovered from statement")
)

// Format is the concrete layout a file is parsed as. It differs from the
// declared models.FileKind when an .xls upload is really an HTML table.
type Format string

const (
	FormatPDF   Format = "pdf"
	FormatExcel Format = "excel"
	FormatCSV   Format = "csv"
	FormatHTML  Format = "html"
)

// Parser defines the interface for statement parsers.
type Parser interface {
	// Parse reads the file and returns its transactions in statement order.
	Parse(ctx context.Context, filePath string) ([]models.RawTransaction, error)
	// Name identifies the parser in logs and reports.
	Name() string
}

// Options configure a parse run.
type Options struct {
	// SampleFallback returns SampleTransactions instead of ErrEmptyExtraction
	// when nothing could be recovered.
	SampleFallback bool
	// OCR reads image-only PDFs. Nil disables OCR.
	OCR extractor.OCR
}

// Result is the outcome of ParseFile.
type Result struct {
	Format       Format
	Parser       string
	Transactions []models.RawTransaction
	// Sample is set when Transactions is the fixed sample list.
	Sample bool
	// Skipped counts parser rows that failed validation.
	Skipped int
}

// sniffLen is how much of an Excel upload is inspected for HTML markup.
const sniffLen = 100

// DetectFormat picks the parser format from the file extension. A file with
// no extension (for example a spooled upload) uses the declared kind.
// Excel uploads whose first bytes are HTML markup route to the HTML-table
// parser.
func DetectFormat(filePath string, declared models.FileKind) (Format, error) {
	kind := declared
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".pdf":
		kind = models.KindPDF
	case ".xlsx", ".xls":
		kind = models.KindExcel
	case ".csv":
		kind = models.KindCSV
	case "":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
	}

	switch kind {
	case models.KindPDF:
		return FormatPDF, nil
	case models.KindCSV:
		return FormatCSV, nil
	case models.KindExcel:
		if looksLikeHTML(filePath) {
			return FormatHTML, nil
		}
		return FormatExcel, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFileType, filepath.Base(filePath))
}

func looksLikeHTML(filePath string) bool {
	f, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false
	}
	head = bytes.ToLower(head[:n])
	return bytes.Contains(head, []byte("<html")) || bytes.Contains(head, []byte("<table"))
}

// New returns the parser for a detected format.
func New(format Format, opts Options) (Parser, error) {
	switch format {
	case FormatPDF:
		ocr := opts.OCR
		if ocr == nil {
			ocr = extractor.NoOCR{}
		}
		return &PDFParser{OCR: ocr}, nil
	case FormatExcel, FormatCSV:
		return &TabularParser{}, nil
	case FormatHTML:
		return &HTMLTableParser{}, nil
	default:
		return nil, fmt.Errorf("%w: format %q", ErrUnsupportedFileType, format)
	}
}

// ParseFile detects the format, runs the parser and applies the
// empty-result policy. Only ErrUnsupportedFileType is returned when
// opts.SampleFallback is set; otherwise an empty or failed parse returns an
// error wrapping ErrEmptyExtraction.
func ParseFile(ctx context.Context, filePath string, declared models.FileKind, opts Options) (*Result, error) {
	format, err := DetectFormat(filePath, declared)
	if err != nil {
		return nil, err
	}
	p, err := New(format, opts)
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx).With().
		Str("parser", p.Name()).
		Str("file", filepath.Base(filePath)).
		Logger()
	ctx = logger.WithContext(ctx, log)

	result := &Result{Format: format, Parser: p.Name()}
	txs, parseErr := p.Parse(ctx, filePath)
	for i, tx := range txs {
		tx.Description = models.TruncateDescription(strings.TrimSpace(tx.Description))
		if err := tx.Validate(); err != nil {
			logRowError(ctx, &ParseRowError{Parser: p.Name(), Row: i + 1, Text: tx.Description, Err: err})
			result.Skipped++
			continue
		}
		result.Transactions = append(result.Transactions, tx)
	}

	if len(result.Transactions) > 0 {
		log.Info().Int("transactions", len(result.Transactions)).Int("skipped", result.Skipped).Msg("statement parsed")
		return result, nil
	}

	if parseErr == nil {
		parseErr = ErrEmptyExtraction
	} else if !errors.Is(parseErr, ErrEmptyExtraction) {
		parseErr = fmt.Errorf("%w: %w", ErrEmptyExtraction, parseErr)
	}
	if opts.SampleFallback {
		log.Warn().Err(parseErr).Msg("no transactions recovered, returning sample transactions")
		result.Transactions = SampleTransactions()
		result.Sample = true
		return result, nil
	}
	return nil, fmt.Errorf("%s parser: %w", p.Name(), parseErr)
}
