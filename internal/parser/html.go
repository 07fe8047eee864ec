package parser

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/insightdelivered/statement-analyzer/internal/models"
)

// HTMLTableParser handles ".xls" downloads that are really an HTML table.
// After the header row every row reads
//
//	date (DD/MM/YYYY) | * | description | D or C | amount | *
type HTMLTableParser struct{}

func (p *HTMLTableParser) Name() string {
	return "html"
}

const (
	htmlDateCol   = 0
	htmlDescCol   = 2
	htmlFlagCol   = 3
	htmlAmountCol = 4
)

func (p *HTMLTableParser) Parse(ctx context.Context, filePath string) ([]models.RawTransaction, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	rows := tableRows(doc)
	if len(rows) < 2 {
		return nil, ErrEmptyExtraction
	}

	var txs []models.RawTransaction
	for i, row := range rows[1:] {
		tx, err := htmlTransaction(row)
		if err != nil {
			logRowError(ctx, &ParseRowError{Parser: p.Name(), Row: i + 2, Text: strings.Join(row, " | "), Err: err})
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func htmlTransaction(row []string) (models.RawTransaction, error) {
	if len(row) <= htmlAmountCol {
		return models.RawTransaction{}, fmt.Errorf("expected at least %d cells, got %d", htmlAmountCol+1, len(row))
	}
	date, err := parseDate(row[htmlDateCol])
	if err != nil {
		return models.RawTransaction{}, err
	}
	amount, err := parseAmount(row[htmlAmountCol])
	if err != nil {
		return models.RawTransaction{}, err
	}
	if amount.IsZero() {
		return models.RawTransaction{}, errNoAmount
	}
	txType := models.Credit
	if strings.EqualFold(strings.TrimSpace(row[htmlFlagCol]), "D") {
		txType = models.Debit
	}
	return models.RawTransaction{
		Date:        date,
		Description: strings.Join(strings.Fields(row[htmlDescCol]), " "),
		Amount:      amount.Abs(),
		Type:        txType,
	}, nil
}

// tableRows returns the cell text of every <tr> in document order.
func tableRows(n *html.Node) [][]string {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
					cells = append(cells, strings.TrimSpace(nodeText(c)))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return rows
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
