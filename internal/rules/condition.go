// Package rules evaluates user rules and custom-category rules against a
// transaction.
package rules

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/insightdelivered/statement-analyzer/internal/models"
)

// Candidate is the transaction data conditions are evaluated against.
type Candidate struct {
	Date time.Time
	// RawDate is a YYYY-MM-DD string, parsed on demand when Date is zero.
	RawDate     string
	Description string
	Amount      decimal.Decimal
	Type        models.TransactionType
	// Category and UserLabel are optional extra fields for keyword matching.
	Category  string
	UserLabel string
}

// CandidateFromRaw builds a candidate from parser output.
func CandidateFromRaw(raw models.RawTransaction) Candidate {
	return Candidate{
		Date:        raw.Date,
		Description: raw.Description,
		Amount:      raw.Amount,
		Type:        raw.Type,
	}
}

// CandidateFromTransaction uses only the statement data of a persisted
// transaction. Category and label are classification output, not input.
func CandidateFromTransaction(tx models.Transaction) Candidate {
	return Candidate{
		Date:        tx.Date,
		Description: tx.Description,
		Amount:      tx.Amount,
		Type:        tx.Type,
	}
}

func (c Candidate) date() (time.Time, bool) {
	if !c.Date.IsZero() {
		return day(c.Date), true
	}
	if c.RawDate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", strings.TrimSpace(c.RawDate))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MatchCondition evaluates a single condition. Ill-formed conditions never
// match.
func MatchCondition(c models.Condition, cand Candidate) bool {
	switch cond := c.(type) {
	case models.KeywordCondition:
		return matchKeyword(cond, cand)
	case models.AmountCondition:
		return matchAmount(cond, cand.Amount)
	case models.DateRangeCondition:
		return matchDateRange(cond, cand)
	case models.SourceCondition:
		return matchSource(cond.Channel, cand.Description)
	}
	return false
}

func matchKeyword(c models.KeywordCondition, cand Candidate) bool {
	kw := strings.ToLower(strings.TrimSpace(c.Text))
	if kw == "" {
		return false
	}
	for _, field := range []string{cand.Description, cand.Category, cand.UserLabel} {
		if field == "" {
			continue
		}
		f := strings.ToLower(field)
		var ok bool
		switch c.Mode {
		case models.MatchContains:
			ok = strings.Contains(f, kw)
		case models.MatchStartsWith:
			ok = strings.HasPrefix(f, kw)
		case models.MatchEndsWith:
			ok = strings.HasSuffix(f, kw)
		case models.MatchExact:
			ok = f == kw
		}
		if ok {
			return true
		}
	}
	return false
}

func matchAmount(c models.AmountCondition, amount decimal.Decimal) bool {
	if c.Value == nil {
		return false
	}
	v := *c.Value
	switch c.Op {
	case models.OpEQ:
		return amount.Equal(v)
	case models.OpLT:
		return amount.LessThan(v)
	case models.OpLE:
		return amount.LessThanOrEqual(v)
	case models.OpGT:
		return amount.GreaterThan(v)
	case models.OpGE:
		return amount.GreaterThanOrEqual(v)
	case models.OpBetween:
		if c.Value2 == nil || v.GreaterThan(*c.Value2) {
			return false
		}
		return amount.GreaterThanOrEqual(v) && amount.LessThanOrEqual(*c.Value2)
	}
	return false
}

func matchDateRange(c models.DateRangeCondition, cand Candidate) bool {
	if c.Start == nil && c.End == nil {
		return false
	}
	d, ok := cand.date()
	if !ok {
		return false
	}
	if c.Start != nil && d.Before(day(*c.Start)) {
		return false
	}
	if c.End != nil && d.After(day(*c.End)) {
		return false
	}
	return true
}

// channelKeywords is matched against the lowercased description.
var channelKeywords = map[models.Channel][]string{
	models.ChannelPaytm:      {"paytm"},
	models.ChannelPhonePe:    {"phonepe", "phone pe", "@ybl", "@ibl", "@axl"},
	models.ChannelGPay:       {"google pay", "gpay", "googlepay", "@okaxis", "@okhdfcbank", "@oksbi", "@okicici"},
	models.ChannelUPI:        {"upi", "immediate payment service"},
	models.ChannelDebitCard:  {"debit card", "pos ", "pos/", "atm wdl", "atm/"},
	models.ChannelCreditCard: {"credit card", "cc payment", "cc bill"},
	models.ChannelNetBanking: {"net banking", "netbanking", "internet banking", "inb "},
	models.ChannelCheque:     {"cheque", "chq"},
	models.ChannelNEFT:       {"neft"},
	models.ChannelRTGS:       {"rtgs"},
}

func matchSource(ch models.Channel, description string) bool {
	keywords, ok := channelKeywords[ch]
	if !ok {
		return false
	}
	desc := strings.ToLower(description)
	for _, kw := range keywords {
		if strings.Contains(desc, kw) {
			return true
		}
	}
	return false
}

// matchConditions combines conditions with AND/OR. No conditions never
// match. Source conditions are skipped (false) unless allowSource is set.
func matchConditions(logic models.Logic, conds []models.Condition, cand Candidate, allowSource bool) bool {
	if len(conds) == 0 {
		return false
	}
	eval := func(c models.Condition) bool {
		if c == nil || (!allowSource && c.Kind() == models.KindSource) {
			return false
		}
		return MatchCondition(c, cand)
	}

	switch logic {
	case models.LogicAnd:
		for _, c := range conds {
			if !eval(c) {
				return false
			}
		}
		return true
	case models.LogicOr:
		for _, c := range conds {
			if eval(c) {
				return true
			}
		}
	}
	return false
}
