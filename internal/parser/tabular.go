package parser

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/insightdelivered/statement-analyzer/internal/logger"
	"github.com/insightdelivered/statement-analyzer/internal/models"
)

// TabularParser reads Excel workbooks and delimited text exports. Column
// roles are discovered from the header row, so any bank layout with a date,
// a description and either one signed amount or separate debit/credit
// columns works.
type TabularParser struct{}

func (p *TabularParser) Name() string {
	return "tabular"
}

// headerSearchRows bounds how far down the header row may sit; banks put
// account details above the table.
const headerSearchRows = 25

// rowEngine is one way of reading a file into rows of cells.
type rowEngine struct {
	name string
	read func(filePath string) ([][]string, error)
}

var rowEngines = []rowEngine{
	{"excelize", readWorkbook},
	{"csv", delimitedReader(',')},
	{"csv-semicolon", delimitedReader(';')},
	{"csv-tab", delimitedReader('\t')},
}

var errNoHeader = errors.New("no header row with date and amount columns")

func (p *TabularParser) Parse(ctx context.Context, filePath string) ([]models.RawTransaction, error) {
	log := logger.FromContext(ctx)

	var readErr error
	read := false
	for _, engine := range rowEngines {
		rows, err := engine.read(filePath)
		if err != nil {
			log.Debug().Str("engine", engine.name).Err(err).Msg("engine could not read file")
			readErr = err
			continue
		}
		read = true
		layout, ok := findLayout(rows)
		if !ok {
			log.Debug().Str("engine", engine.name).Msg("engine found no header row")
			continue
		}
		log.Debug().Str("engine", engine.name).Int("header_row", layout.headerRow+1).Msg("reading table")
		return parseRows(ctx, rows, layout), nil
	}
	if !read {
		return nil, fmt.Errorf("%w: %w", ErrEmptyExtraction, readErr)
	}
	return nil, fmt.Errorf("%w: %w", ErrEmptyExtraction, errNoHeader)
}

func readWorkbook(filePath string) ([][]string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Raw values keep dates as serial numbers instead of locale formatting.
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return rows, nil
		}
	}
	return nil, errors.New("workbook has no rows")
}

func delimitedReader(sep rune) func(string) ([][]string, error) {
	return func(filePath string) ([][]string, error) {
		f, err := os.Open(filePath)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		reader := csv.NewReader(f)
		reader.Comma = sep
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1
		return reader.ReadAll()
	}
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// normaliseColumn maps "Txn. Date" to "txn_date".
func normaliseColumn(name string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_"), "_")
}

type tableLayout struct {
	headerRow int
	date      int
	desc      int
	amount    int
	debit     int
	credit    int
	drcr      int
}

func findLayout(rows [][]string) (tableLayout, bool) {
	for i := 0; i < len(rows) && i < headerSearchRows; i++ {
		if l, ok := columnRoles(rows[i]); ok {
			l.headerRow = i
			return l, true
		}
	}
	return tableLayout{}, false
}

func containsAnyOf(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// columnRoles assigns roles by substring. The first column claiming a role
// keeps it; "date" beats the weaker "transaction"/"value" hints.
func columnRoles(header []string) (tableLayout, bool) {
	l := tableLayout{date: -1, desc: -1, amount: -1, debit: -1, credit: -1, drcr: -1}
	weakDate := -1
	for i, cell := range header {
		col := normaliseColumn(cell)
		switch {
		case col == "":
		case strings.Contains(col, "date"):
			if l.date < 0 {
				l.date = i
			}
		case containsAnyOf(col, "description", "narration", "particulars", "details", "remarks"):
			if l.desc < 0 {
				l.desc = i
			}
		case col == "dr_cr" || col == "cr_dr" || col == "type" || strings.HasSuffix(col, "_type"):
			if l.drcr < 0 {
				l.drcr = i
			}
		case containsAnyOf(col, "debit", "withdrawal"):
			if l.debit < 0 {
				l.debit = i
			}
		case containsAnyOf(col, "credit", "deposit"):
			if l.credit < 0 {
				l.credit = i
			}
		case strings.Contains(col, "amount"):
			if l.amount < 0 {
				l.amount = i
			}
		case containsAnyOf(col, "transaction", "value"):
			if weakDate < 0 {
				weakDate = i
			}
		}
	}
	if l.date < 0 {
		l.date = weakDate
	}
	hasAmount := l.amount >= 0 || l.debit >= 0 || l.credit >= 0
	return l, l.date >= 0 && hasAmount
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseRows(ctx context.Context, rows [][]string, l tableLayout) []models.RawTransaction {
	var txs []models.RawTransaction
	for i := l.headerRow + 1; i < len(rows); i++ {
		row := rows[i]
		dateCell := cell(row, l.date)
		if dateCell == "" {
			continue
		}

		tx, err := tabularTransaction(row, l)
		if err != nil {
			logRowError(ctx, &ParseRowError{Parser: "tabular", Row: i + 1, Text: strings.Join(row, " | "), Err: err})
			continue
		}
		txs = append(txs, tx)
	}
	return txs
}

func tabularTransaction(row []string, l tableLayout) (models.RawTransaction, error) {
	date, err := parseCellDate(cell(row, l.date))
	if err != nil {
		return models.RawTransaction{}, err
	}

	var amount decimal.Decimal
	var txType models.TransactionType
	if l.debit >= 0 || l.credit >= 0 {
		amount, txType, err = debitCreditAmount(cell(row, l.debit), cell(row, l.credit))
		if err != nil && l.amount >= 0 {
			amount, txType, err = signedAmount(cell(row, l.amount), cell(row, l.drcr))
		}
	} else {
		amount, txType, err = signedAmount(cell(row, l.amount), cell(row, l.drcr))
	}
	if err != nil {
		return models.RawTransaction{}, err
	}

	return models.RawTransaction{
		Date:        date,
		Description: strings.Join(strings.Fields(cell(row, l.desc)), " "),
		Amount:      amount,
		Type:        txType,
	}, nil
}

// debitCreditAmount reads separate withdrawal and deposit columns.
func debitCreditAmount(debitCell, creditCell string) (decimal.Decimal, models.TransactionType, error) {
	debit, err := parseAmount(debitCell)
	if err != nil {
		return decimal.Zero, "", err
	}
	if !debit.IsZero() {
		return debit.Abs(), models.Debit, nil
	}
	credit, err := parseAmount(creditCell)
	if err != nil {
		return decimal.Zero, "", err
	}
	if !credit.IsZero() {
		return credit.Abs(), models.Credit, nil
	}
	return decimal.Zero, "", errNoAmount
}

var drcrSuffix = regexp.MustCompile(`(?i)\s*\b(dr|cr)\.?$`)

// signedAmount reads a single amount column. A trailing Dr/Cr, a separate
// type column, parentheses or a minus sign decide the direction; a plain
// positive number is a credit.
func signedAmount(amountCell, typeCell string) (decimal.Decimal, models.TransactionType, error) {
	suffix := ""
	if m := drcrSuffix.FindStringSubmatch(amountCell); m != nil {
		suffix = strings.ToUpper(m[1])
		amountCell = amountCell[:len(amountCell)-len(m[0])]
	}
	amount, err := parseAmount(amountCell)
	if err != nil {
		return decimal.Zero, "", err
	}
	if amount.IsZero() {
		return decimal.Zero, "", errNoAmount
	}

	txType := models.Credit
	if amount.IsNegative() {
		txType = models.Debit
	}
	switch t := strings.ToUpper(typeCell); {
	case suffix == "DR", strings.HasPrefix(t, "D"):
		txType = models.Debit
	case suffix == "CR", strings.HasPrefix(t, "C"):
		txType = models.Credit
	}
	return amount.Abs(), txType, nil
}

// parseCellDate accepts text dates and Excel serial day numbers.
func parseCellDate(s string) (time.Time, error) {
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial < 1 || serial > 2958465 {
			return time.Time{}, fmt.Errorf("date serial %q out of range", s)
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return parseDate(s)
}
