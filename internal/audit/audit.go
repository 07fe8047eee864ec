// Package audit summarises a set of classified transactions: data quality,
// totals, high-value entries, channel mix, counterparty concentration and
// monthly risk flags. Everything here is a pure function of its input.
package audit

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/insightdelivered/statement-analyzer/internal/models"
	"github.com/insightdelivered/statement-analyzer/internal/upi"
)

// Risk levels shared by the channel, counterparty and monthly sections.
const (
	RiskHigh   = "High"
	RiskMedium = "Medium"
	RiskLow    = "Low"
)

// Quality buckets.
const (
	QualityPass    = "Pass"
	QualityWarning = "Warning"
	QualityFail    = "Fail"
)

const (
	highValuePercentile = 95
	highValueMinSample  = 20
	highValueLimit      = 50
	counterpartyKeyLen  = 40
)

var hundred = decimal.NewFromInt(100)

// CounterpartyKey groups transactions by counterparty.
type CounterpartyKey func(description string) string

// PrefixKey is the default key: the first 40 runes, lowercased and trimmed.
func PrefixKey(description string) string {
	d := strings.TrimSpace(description)
	if utf8.RuneCountInString(d) > counterpartyKeyLen {
		d = string([]rune(d)[:counterpartyKeyLen])
	}
	return strings.ToLower(strings.TrimSpace(d))
}

// UPIKey groups UPI payments by the counterparty in the narration and falls
// back to PrefixKey for anything else.
func UPIKey(description string) string {
	if name := upi.CounterpartyName(description); name != "" {
		return strings.ToLower(name)
	}
	return PrefixKey(description)
}

// Options tunes Summarize.
type Options struct {
	// Counterparty defaults to PrefixKey.
	Counterparty CounterpartyKey
}

// Report is the full audit output.
type Report struct {
	Integrity      Integrity            `json:"integrity"`
	Financial      Financial            `json:"financial"`
	HighValue      []models.Transaction `json:"high_value"`
	Channels       []ChannelStat        `json:"channels"`
	Counterparties []Counterparty       `json:"counterparties"`
	Months         []MonthRisk          `json:"months"`
}

type Integrity struct {
	Transactions int        `json:"transactions"`
	Duplicates   int        `json:"duplicates"`
	QualityScore float64    `json:"quality_score"`
	Quality      string     `json:"quality"`
	FirstDate    *time.Time `json:"first_date,omitempty"`
	LastDate     *time.Time `json:"last_date,omitempty"`
	SpanDays     int        `json:"span_days"`
	Statements   int        `json:"statements"`
}

type Financial struct {
	TotalCredits decimal.Decimal `json:"total_credits"`
	TotalDebits  decimal.Decimal `json:"total_debits"`
	NetChange    decimal.Decimal `json:"net_change"`
	SavingsRate  decimal.Decimal `json:"savings_rate"`
}

type ChannelStat struct {
	Channel string          `json:"channel"`
	Count   int             `json:"count"`
	Share   float64         `json:"share"`
	Amount  decimal.Decimal `json:"amount"`
	Risk    string          `json:"risk"`
}

type Counterparty struct {
	Key         string          `json:"key"`
	Count       int             `json:"count"`
	DebitShare  float64         `json:"debit_share"`
	CreditShare float64         `json:"credit_share"`
	Amount      decimal.Decimal `json:"amount"`
	Share       float64         `json:"share"`
	Risk        string          `json:"risk"`
}

type MonthRisk struct {
	Month   string          `json:"month"`
	Credits decimal.Decimal `json:"credits"`
	Debits  decimal.Decimal `json:"debits"`
	Count   int             `json:"count"`
	Flags   []string        `json:"flags"`
	Risk    string          `json:"risk"`
	start   time.Time
}

// Summarize builds the full report.
func Summarize(txs []models.Transaction, opts Options) Report {
	key := opts.Counterparty
	if key == nil {
		key = PrefixKey
	}
	return Report{
		Integrity:      integrity(txs),
		Financial:      financial(txs),
		HighValue:      HighValue(txs),
		Channels:       channelMix(txs),
		Counterparties: counterparties(txs, key),
		Months:         monthlyRisk(txs),
	}
}

// Totals computes the AnalysisSummary figures for one statement.
func Totals(statementID uint, txs []models.Transaction) models.AnalysisSummary {
	f := financial(txs)
	return models.AnalysisSummary{
		StatementID:      statementID,
		TotalCredits:     f.TotalCredits,
		TotalDebits:      f.TotalDebits,
		NetChange:        f.NetChange,
		TransactionCount: len(txs),
		ComputedAt:       time.Now().UTC(),
	}
}

type dupKey struct {
	date   string
	amount string
	desc   string
}

// CountDuplicates counts every entry after the first with the same date,
// amount and normalised description.
func CountDuplicates(txs []models.Transaction) int {
	seen := make(map[dupKey]bool, len(txs))
	dups := 0
	for _, tx := range txs {
		k := dupKey{
			date:   tx.Date.Format("2006-01-02"),
			amount: tx.Amount.String(),
			desc:   strings.ToLower(strings.TrimSpace(tx.Description)),
		}
		if seen[k] {
			dups++
			continue
		}
		seen[k] = true
	}
	return dups
}

func integrity(txs []models.Transaction) Integrity {
	in := Integrity{Transactions: len(txs), Duplicates: CountDuplicates(txs)}
	if len(txs) == 0 {
		in.Quality = QualityFail
		return in
	}
	in.QualityScore = 100 * float64(len(txs)-in.Duplicates) / float64(len(txs))
	switch {
	case in.QualityScore >= 80:
		in.Quality = QualityPass
	case in.QualityScore >= 50:
		in.Quality = QualityWarning
	default:
		in.Quality = QualityFail
	}

	statements := map[uint]bool{}
	first, last := txs[0].Date, txs[0].Date
	for _, tx := range txs {
		statements[tx.StatementID] = true
		if tx.Date.Before(first) {
			first = tx.Date
		}
		if tx.Date.After(last) {
			last = tx.Date
		}
	}
	in.FirstDate, in.LastDate = &first, &last
	in.SpanDays = int(last.Sub(first).Hours() / 24)
	in.Statements = len(statements)
	return in
}

func financial(txs []models.Transaction) Financial {
	f := Financial{TotalCredits: decimal.Zero, TotalDebits: decimal.Zero, SavingsRate: decimal.Zero}
	for _, tx := range txs {
		if tx.Type == models.Credit {
			f.TotalCredits = f.TotalCredits.Add(tx.Amount)
		} else {
			f.TotalDebits = f.TotalDebits.Add(tx.Amount)
		}
	}
	f.NetChange = f.TotalCredits.Sub(f.TotalDebits)
	if f.TotalCredits.IsPositive() {
		f.SavingsRate = f.NetChange.Mul(hundred).Div(f.TotalCredits).Round(2)
	}
	return f
}

// HighValue returns the transactions at or above the 95th percentile amount,
// largest first, at most 50. Small sets are returned whole.
func HighValue(txs []models.Transaction) []models.Transaction {
	sorted := make([]models.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Amount.GreaterThan(sorted[j].Amount) })

	out := sorted
	if len(sorted) >= highValueMinSample {
		amounts := make([]decimal.Decimal, len(sorted))
		for i, tx := range sorted {
			amounts[i] = tx.Amount
		}
		threshold := Percentile(amounts, highValuePercentile)
		out = nil
		for _, tx := range sorted {
			if tx.Amount.GreaterThanOrEqual(threshold) {
				out = append(out, tx)
			}
		}
	}
	if len(out) > highValueLimit {
		out = out[:highValueLimit]
	}
	return out
}

// Percentile uses linear interpolation between closest ranks.
func Percentile(values []decimal.Decimal, p float64) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := decimal.NewFromFloat(rank - float64(lo))
	return sorted[lo].Add(sorted[lo+1].Sub(sorted[lo]).Mul(frac))
}

// channelBuckets is checked in order against the lowercased description.
var channelBuckets = []struct {
	name     string
	keywords []string
}{
	{"UPI", []string{"upi", "imps", "paytm", "phonepe", "gpay", "google pay", "bhim"}},
	{"NEFT", []string{"neft", "rtgs", "net banking", "netbanking", "inb"}},
	{"CASH", []string{"cash", "atm", "wdl", "self"}},
}

const channelOthers = "OTHERS"

func channelOf(description string) string {
	desc := strings.ToLower(description)
	for _, b := range channelBuckets {
		for _, kw := range b.keywords {
			if strings.Contains(desc, kw) {
				return b.name
			}
		}
	}
	return channelOthers
}

func channelMix(txs []models.Transaction) []ChannelStat {
	stats := make([]ChannelStat, 0, len(channelBuckets)+1)
	index := map[string]int{}
	for _, b := range channelBuckets {
		index[b.name] = len(stats)
		stats = append(stats, ChannelStat{Channel: b.name, Amount: decimal.Zero})
	}
	index[channelOthers] = len(stats)
	stats = append(stats, ChannelStat{Channel: channelOthers, Amount: decimal.Zero})

	for _, tx := range txs {
		s := &stats[index[channelOf(tx.Description)]]
		s.Count++
		s.Amount = s.Amount.Add(tx.Amount)
	}
	for i := range stats {
		stats[i].Share = share(stats[i].Count, len(txs))
		switch {
		case stats[i].Share > 50:
			stats[i].Risk = RiskHigh
		case stats[i].Share > 25:
			stats[i].Risk = RiskMedium
		default:
			stats[i].Risk = RiskLow
		}
	}
	return stats
}

func counterparties(txs []models.Transaction, key CounterpartyKey) []Counterparty {
	type acc struct {
		Counterparty
		debits  int
		credits int
	}
	groups := map[string]*acc{}
	for _, tx := range txs {
		k := key(tx.Description)
		g, ok := groups[k]
		if !ok {
			g = &acc{Counterparty: Counterparty{Key: k, Amount: decimal.Zero}}
			groups[k] = g
		}
		g.Count++
		g.Amount = g.Amount.Add(tx.Amount)
		if tx.Type == models.Credit {
			g.credits++
		} else {
			g.debits++
		}
	}

	out := make([]Counterparty, 0, len(groups))
	for _, g := range groups {
		g.DebitShare = share(g.debits, g.Count)
		g.CreditShare = share(g.credits, g.Count)
		g.Share = share(g.Count, len(txs))
		switch {
		case g.Share >= 20:
			g.Risk = RiskHigh
		case g.Share >= 10:
			g.Risk = RiskMedium
		default:
			g.Risk = RiskLow
		}
		out = append(out, g.Counterparty)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Monthly flag names.
const (
	FlagHighSpending  = "High spending ratio"
	FlagLowSpending   = "Low spending"
	FlagUnusualLarge  = "Unusual large transaction"
	FlagHighFrequency = "High transaction frequency"
)

func monthlyRisk(txs []models.Transaction) []MonthRisk {
	type acc struct {
		MonthRisk
		max   decimal.Decimal
		total decimal.Decimal
	}
	months := map[string]*acc{}
	for _, tx := range txs {
		label := tx.Date.Format("Jan 2006")
		m, ok := months[label]
		if !ok {
			m = &acc{MonthRisk: MonthRisk{
				Month:   label,
				Credits: decimal.Zero,
				Debits:  decimal.Zero,
				start:   time.Date(tx.Date.Year(), tx.Date.Month(), 1, 0, 0, 0, 0, time.UTC),
			}, max: decimal.Zero, total: decimal.Zero}
			months[label] = m
		}
		m.Count++
		m.total = m.total.Add(tx.Amount)
		if tx.Amount.GreaterThan(m.max) {
			m.max = tx.Amount
		}
		if tx.Type == models.Credit {
			m.Credits = m.Credits.Add(tx.Amount)
		} else {
			m.Debits = m.Debits.Add(tx.Amount)
		}
	}

	out := make([]MonthRisk, 0, len(months))
	for _, m := range months {
		m.Flags = []string{}
		if m.Credits.IsPositive() {
			ratio := m.Debits.Div(m.Credits)
			if ratio.GreaterThan(decimal.NewFromInt(2)) {
				m.Flags = append(m.Flags, FlagHighSpending)
			} else if ratio.LessThan(decimal.NewFromFloat(0.2)) {
				m.Flags = append(m.Flags, FlagLowSpending)
			}
		}
		mean := m.total.Div(decimal.NewFromInt(int64(m.Count)))
		if m.max.GreaterThan(mean.Mul(decimal.NewFromInt(3))) {
			m.Flags = append(m.Flags, FlagUnusualLarge)
		}
		if m.Count > 100 {
			m.Flags = append(m.Flags, FlagHighFrequency)
		}
		switch {
		case len(m.Flags) >= 2:
			m.Risk = RiskHigh
		case len(m.Flags) == 1:
			m.Risk = RiskMedium
		default:
			m.Risk = RiskLow
		}
		out = append(out, m.MonthRisk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start.Before(out[j].start) })
	return out
}

func share(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(total)
}
