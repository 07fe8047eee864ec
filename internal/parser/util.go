package parser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/insightdelivered/statement-analyzer/internal/logger"
)

// Date shapes found at the start of Indian statement lines.
var (
	// DD-MM-YY, DD/MM/YYYY, DD.MM.YYYY
	datePatternNumeric = regexp.MustCompile(`\b(\d{1,2}[-/.]\d{1,2}[-/.]\d{2,4})\b`)
	// DD Mon YYYY, DD-Mon-YY
	datePatternText = regexp.MustCompile(`(?i)\b(\d{1,2}[\s-](?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*[\s-]\d{2,4})\b`)
	// YYYY-MM-DD
	datePatternISO = regexp.MustCompile(`\b(\d{4}-\d{1,2}-\d{1,2})\b`)
)

var dateLayouts = []string{
	"2-1-2006", "2-1-06",
	"2/1/2006", "2/1/06",
	"2.1.2006", "2.1.06",
	"2006-1-2",
	"2 Jan 2006", "2 Jan 06", "2-Jan-2006", "2-Jan-06",
	"2 January 2006", "2-January-2006",
	"2006-01-02T15:04:05", "2006-01-02 15:04:05",
}

// parseDate accepts the date formats used by Indian banks (day first) and
// returns the calendar date at UTC midnight.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// leadingDate returns the date token at the start of a line, or "".
// OCR output sometimes carries a stray character before the date, so a
// match within the first three bytes counts.
func leadingDate(line string) string {
	line = strings.TrimSpace(line)
	for _, re := range []*regexp.Regexp{datePatternISO, datePatternNumeric, datePatternText} {
		if loc := re.FindStringIndex(line); loc != nil && loc[0] < 3 {
			return line[loc[0]:loc[1]]
		}
	}
	return ""
}

func startsWithDate(line string) bool {
	return leadingDate(line) != ""
}

var currencyReplacer = strings.NewReplacer(
	"₹", "", "Rs.", "", "Rs", "", "INR", "", ",", "", " ", "", "\u00a0", "",
)

// parseAmount converts "1,234.56", "₹1,234.56", "(1,234.56)" or "-1234.56"
// to a decimal. Parentheses mean negative. An empty cell or a lone "-"
// placeholder is zero.
func parseAmount(s string) (decimal.Decimal, error) {
	s = currencyReplacer.Replace(strings.TrimSpace(s))
	if s == "" || s == "-" {
		return decimal.Zero, nil
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// OCR artefact fixes for amounts.
var (
	ocrSemicolonDecimal = regexp.MustCompile(`(\d);(\s*)(\d)`)
	ocrColonAmount      = regexp.MustCompile(`\d[\d,]*:\d{2}(?::\d{2})?`)
	ocrTrailingColon    = regexp.MustCompile(`(\d):(\s|$)`)
	ocrTrailingNA       = regexp.MustCompile(`\s+NA\b`)
)

// sanitizeOCRAmounts fixes common Tesseract errors in amount strings:
// "19,720; 15" → "19,720.15", "1,234:56" → "1,234.56", trailing colons and
// a stray "NA" after an amount. Time tokens such as 14:32 or 14:32:10 are
// left alone.
func sanitizeOCRAmounts(line string) string {
	line = ocrSemicolonDecimal.ReplaceAllString(line, "$1.$3")
	line = ocrColonAmount.ReplaceAllStringFunc(line, func(m string) string {
		if strings.Count(m, ":") > 1 {
			return m
		}
		head := m[:strings.Index(m, ":")]
		if strings.Contains(head, ",") || len(head) >= 3 {
			return strings.Replace(m, ":", ".", 1)
		}
		return m
	})
	line = ocrTrailingColon.ReplaceAllString(line, "$1$2")
	return ocrTrailingNA.ReplaceAllString(line, "")
}

// ParseRowError is a single row a parser could not turn into a transaction.
// Parsers log and skip these.
type ParseRowError struct {
	Parser string
	Row    int
	Text   string
	Err    error
}

func (e *ParseRowError) Error() string {
	return fmt.Sprintf("%s: row %d: %v", e.Parser, e.Row, e.Err)
}

func (e *ParseRowError) Unwrap() error {
	return e.Err
}

var errNoAmount = errors.New("no transaction amount")

func logRowError(ctx context.Context, rowErr *ParseRowError) {
	log := logger.FromContext(ctx)
	log.Warn().
		Str("parser", rowErr.Parser).
		Int("row", rowErr.Row).
		Str("text", truncateForLog(rowErr.Text)).
		Err(rowErr.Err).
		Msg("skipping unparseable row")
}

func truncateForLog(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
