package parser

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/insightdelivered/statement-analyzer/internal/models"
)

// SampleTransactions is the fixed list returned when Options.SampleFallback
// is set and a statement yields nothing.
func SampleTransactions() []models.RawTransaction {
	day := func(d int) time.Time { return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC) }
	return []models.RawTransaction{
		{Date: day(15), Description: "Sample Salary Credit", Amount: decimal.NewFromInt(50000), Type: models.Credit},
		{Date: day(16), Description: "Sample Grocery Store", Amount: decimal.RequireFromString("2500.00"), Type: models.Debit},
		{Date: day(18), Description: "Sample Electricity Bill", Amount: decimal.RequireFromString("1800.50"), Type: models.Debit},
	}
}
