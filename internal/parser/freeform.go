package parser

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/insightdelivered/statement-analyzer/internal/models"
	"github.com/insightdelivered/statement-analyzer/internal/upi"
)

// FreeFormOptions tune ParseFreeForm. The zero value is the generic OCR
// behaviour; CanaraOptions is the strict e-passbook variant.
type FreeFormOptions struct {
	// StripChequeLines drops "Chq:"/"Cha:" metadata lines before grouping.
	StripChequeLines bool
	// DropChequeOnly silently drops blocks that carry only a cheque
	// reference and no amount.
	DropChequeOnly bool
	// StartAtMarker starts descriptions at the first UPI/IMPS/RTGS/NEFT marker.
	StartAtMarker bool
	// TruncateAtTime cuts descriptions at the first HH:MM:SS token.
	TruncateAtTime bool
	// MaxAmount, when positive, rejects larger numeric tokens as reference ids.
	MaxAmount decimal.Decimal
}

// CanaraOptions is the cleaning profile for Canara Bank e-passbooks.
func CanaraOptions() FreeFormOptions {
	return FreeFormOptions{
		StripChequeLines: true,
		DropChequeOnly:   true,
		StartAtMarker:    true,
		TruncateAtTime:   true,
		MaxAmount:        decimal.NewFromInt(1_000_000),
	}
}

// lookaheadLines is how far past a date line a transaction marker may appear.
const lookaheadLines = 5

var (
	transactionMarkers = []string{"UPI/", "IMPS", "RTGS", "NEFT"}
	stopMarkers        = []string{"deposits", "withdrawals", "balance", "narration", "summary", "page"}
	creditKeywords     = []string{"SALARY", "DEPOSIT", "REFUND", "TRANSFER IN", "RECEIVED", "INCOME"}

	bareNumber   = regexp.MustCompile(`^\d{1,4}$`)
	timeToken    = regexp.MustCompile(`\b(?:[01]\d|2[0-3]):[0-5]\d:[0-5]\d\b`)
	chequeLine   = regexp.MustCompile(`(?i)^ch[qa]\s*:`)
	chequeRef    = regexp.MustCompile(`(?i)\b(?:ch[qa]|cheque)\b`)
	amountLike   = regexp.MustCompile(`^\(?\d[\d,]*(?:\.\d+)?\)?$`)
	decimalToken = regexp.MustCompile(`^\(?\d[\d,]*\.\d{2}\)?$`)
)

var errChequeOnly = errors.New("cheque reference without amount")

// block is one date line plus its continuation lines.
type block struct {
	row   int
	date  string
	lines []string
}

// ParseFreeForm turns loosely laid out statement text (typically OCR output)
// into transactions. Lines are grouped into blocks that start at a date line;
// each block yields one transaction, or one per UPI narration when a block
// holds several.
func ParseFreeForm(ctx context.Context, pages []string, opts FreeFormOptions) []models.RawTransaction {
	lines := cleanLines(pages, opts)

	var txs []models.RawTransaction
	for _, b := range groupBlocks(lines) {
		date, err := parseDate(b.date)
		if err != nil {
			logRowError(ctx, &ParseRowError{Parser: "freeform", Row: b.row, Text: b.date, Err: err})
			continue
		}
		for _, seg := range splitBlock(b) {
			tx, err := freeFormTransaction(date, seg, opts)
			if errors.Is(err, errChequeOnly) {
				continue
			}
			if err != nil {
				logRowError(ctx, &ParseRowError{Parser: "freeform", Row: b.row, Text: seg, Err: err})
				continue
			}
			txs = append(txs, tx)
		}
	}
	return txs
}

func cleanLines(pages []string, opts FreeFormOptions) []string {
	var lines []string
	for _, page := range pages {
		for _, line := range strings.Split(page, "\n") {
			line = strings.Join(strings.Fields(sanitizeOCRAmounts(line)), " ")
			if line == "" {
				continue
			}
			if opts.StripChequeLines && chequeLine.MatchString(line) {
				continue
			}
			lines = append(lines, line)
		}
	}
	return lines
}

func groupBlocks(lines []string) []block {
	var blocks []block
	var cur *block
	flush := func() {
		if cur != nil {
			blocks = append(blocks, *cur)
			cur = nil
		}
	}

	for i, line := range lines {
		if date := leadingDate(line); date != "" {
			flush()
			if !isBlockStart(lines, i) {
				continue
			}
			rest := strings.TrimSpace(line[strings.Index(line, date)+len(date):])
			// Transaction date followed by value date.
			if vd := leadingDate(rest); vd != "" {
				rest = strings.TrimSpace(rest[strings.Index(rest, vd)+len(vd):])
			}
			cur = &block{row: i + 1, date: date}
			if rest != "" {
				cur.lines = append(cur.lines, rest)
			}
			continue
		}
		if cur == nil {
			continue
		}
		if isStopLine(line) {
			flush()
			continue
		}
		cur.lines = append(cur.lines, line)
	}
	flush()
	return blocks
}

// isBlockStart decides whether the date line at i opens a transaction. A
// date line directly followed by another date line with no marker of its own
// is a header. Otherwise it is real when it carries an amount or a
// transaction marker shows up within the next few lines.
func isBlockStart(lines []string, i int) bool {
	if hasMarker(lines[i]) {
		return true
	}
	if i+1 < len(lines) && startsWithDate(lines[i+1]) {
		return false
	}
	if hasDecimalAmount(lines[i]) {
		return true
	}
	for j := i + 1; j < len(lines) && j <= i+lookaheadLines; j++ {
		if startsWithDate(lines[j]) {
			return false
		}
		if hasMarker(lines[j]) {
			return true
		}
	}
	return false
}

func hasMarker(line string) bool {
	return markerIndex(line) >= 0
}

// markerIndex returns the byte offset of the first transaction marker, or -1.
func markerIndex(s string) int {
	upper := strings.ToUpper(s)
	first := -1
	for _, m := range transactionMarkers {
		if idx := strings.Index(upper, m); idx >= 0 && (first < 0 || idx < first) {
			first = idx
		}
	}
	return first
}

func hasDecimalAmount(line string) bool {
	for _, f := range strings.Fields(line) {
		if decimalToken.MatchString(f) {
			return true
		}
	}
	return false
}

func isStopLine(line string) bool {
	if bareNumber.MatchString(line) {
		return true
	}
	lower := strings.ToLower(line)
	for _, kw := range stopMarkers {
		if strings.HasPrefix(lower, kw) {
			return true
		}
	}
	return false
}

// splitBlock returns one segment per UPI narration when the block holds
// several, each starting at its marker. Otherwise the block is one segment.
func splitBlock(b block) []string {
	text := strings.Join(b.lines, " ")
	parts := upi.SplitNarrations(text)
	if len(parts) < 2 {
		return []string{text}
	}
	// Text ahead of the first narration belongs to none of them.
	if !strings.HasPrefix(strings.ToUpper(parts[0]), "UPI") {
		parts = parts[1:]
	}
	return parts
}

type numToken struct {
	idx   int
	raw   string
	value decimal.Decimal
}

func freeFormTransaction(date time.Time, seg string, opts FreeFormOptions) (models.RawTransaction, error) {
	fields := strings.Fields(seg)

	var nums []numToken
	for i, f := range fields {
		if !amountLike.MatchString(f) {
			continue
		}
		v, err := parseAmount(f)
		if err != nil {
			continue
		}
		v = v.Abs()
		if opts.MaxAmount.IsPositive() && v.GreaterThan(opts.MaxAmount) {
			continue
		}
		nums = append(nums, numToken{idx: i, raw: f, value: v})
	}

	amount, found := pickAmount(nums)
	if !found || !amount.value.IsPositive() {
		if opts.DropChequeOnly && !hasMarker(seg) && chequeRef.MatchString(seg) {
			return models.RawTransaction{}, errChequeOnly
		}
		return models.RawTransaction{}, errNoAmount
	}

	desc := freeFormDescription(fields, nums, amount.idx)
	if opts.StartAtMarker {
		if idx := markerIndex(desc); idx > 0 {
			desc = desc[idx:]
		}
	}
	if opts.TruncateAtTime {
		if loc := timeToken.FindStringIndex(desc); loc != nil {
			desc = desc[:loc[0]]
		}
	}
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return models.RawTransaction{}, errors.New("empty description")
	}

	return models.RawTransaction{
		Date:        date,
		Description: desc,
		Amount:      amount.value,
		Type:        detectType(seg),
	}, nil
}

// pickAmount applies the Indian statement convention: the penultimate
// number is the transaction amount and the last is the running balance.
// Decimal tokens win over grouped or long integers; a bare small integer is
// only accepted above 31 so it is not mistaken for a day number.
func pickAmount(nums []numToken) (numToken, bool) {
	var decimals, grouped []numToken
	for _, n := range nums {
		switch {
		case strings.Contains(n.raw, "."):
			decimals = append(decimals, n)
		case strings.Contains(n.raw, ",") || len(strings.Trim(n.raw, "()")) >= 3:
			grouped = append(grouped, n)
		}
	}
	if len(decimals) > 0 {
		return penultimate(decimals), true
	}
	if len(grouped) > 0 {
		return penultimate(grouped), true
	}
	if len(nums) >= 2 {
		if pen := nums[len(nums)-2]; pen.value.GreaterThan(decimal.NewFromInt(31)) {
			return pen, true
		}
	}
	return numToken{}, false
}

func penultimate(nums []numToken) numToken {
	if len(nums) == 1 {
		return nums[0]
	}
	return nums[len(nums)-2]
}

// freeFormDescription drops the amount, everything numeric after it (the
// balance), other money-looking tokens and "-" placeholders.
func freeFormDescription(fields []string, nums []numToken, amountIdx int) string {
	drop := make(map[int]bool)
	for _, n := range nums {
		if n.idx >= amountIdx || strings.ContainsAny(n.raw, ".,") {
			drop[n.idx] = true
		}
	}
	kept := make([]string, 0, len(fields))
	for i, f := range fields {
		if drop[i] || f == "-" {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// detectType looks for explicit DR/CR markers, then credit keywords, and
// otherwise assumes a debit.
func detectType(text string) models.TransactionType {
	u := " " + strings.ToUpper(text) + " "
	switch {
	case strings.Contains(u, " DR ") || strings.Contains(u, "/DR/") || strings.Contains(u, "DEBIT"):
		return models.Debit
	case strings.Contains(u, " CR ") || strings.Contains(u, "/CR/") || strings.Contains(u, "CREDIT"):
		return models.Credit
	}
	for _, kw := range creditKeywords {
		if strings.Contains(u, kw) {
			return models.Credit
		}
	}
	return models.Debit
}
