package writer

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/insightdelivered/statement-analyzer/internal/models"
)

func sampleExport() *Export {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)
	office := uint(4)
	return &Export{
		Account:   &models.Account{Name: "Savings", BankName: "SBI"},
		Statement: &models.Statement{OriginalFilename: "jan.pdf", PeriodStart: &start, PeriodEnd: &end},
		Transactions: []models.Transaction{
			{Date: time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC), Description: "UPI/DR/1/SWIGGY/UPI",
				Type: models.Debit, Amount: decimal.RequireFromString("25.9"), Category: models.CategoryFood},
			{Date: time.Date(2024, time.January, 16, 0, 0, 0, 0, time.UTC), Description: "SALARY, JANUARY",
				Type: models.Credit, Amount: decimal.NewFromInt(2500), Category: models.CategoryIncome},
			{Date: time.Date(2024, time.January, 17, 0, 0, 0, 0, time.UTC), Description: "STAPLES",
				Type: models.Debit, Amount: decimal.NewFromInt(300), Category: models.CategoryOther,
				CustomCategoryID: &office, UserLabel: "printer ink", IsManuallyEdited: true},
		},
		CustomNames: map[uint]string{4: "Office"},
	}
}

func TestCSVWriter_Write(t *testing.T) {
	var buf bytes.Buffer
	w := &CSVWriter{IncludeHeader: true}
	if err := w.Write(&buf, sampleExport()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"# Bank,SBI",
		"# Statement Period,01/01/2024 to 31/01/2024",
		"Date,Description,Type,Amount,Category,Label,Manual",
		"15/01/2024,UPI/DR/1/SWIGGY/UPI,DEBIT,25.90,FOOD,,false",
		`16/01/2024,"SALARY, JANUARY",CREDIT,2500.00,INCOME,,false`,
		"17/01/2024,STAPLES,DEBIT,300.00,Office,printer ink,true",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	// 4 metadata lines + 1 header + 3 transactions = 8
	if len(lines) != 8 {
		t.Errorf("expected 8 lines, got %d", len(lines))
	}
}

func TestCSVWriter_WriteNoHeader(t *testing.T) {
	exp := sampleExport()
	exp.CustomNames = nil

	var buf bytes.Buffer
	w := &CSVWriter{IncludeHeader: false}
	if err := w.Write(&buf, exp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buf.String()

	if strings.Contains(output, "# Bank") {
		t.Error("should not have bank metadata when header=false")
	}
	if !strings.HasPrefix(output, "Date,Description,Type,Amount,Category,Label,Manual") {
		t.Error("expected column headers even without metadata")
	}
	if !strings.Contains(output, ",custom#4,") {
		t.Errorf("unknown custom category should fall back to its id:\n%s", output)
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"25.99", "25.99"},
		{"1234.5", "1234.50"},
		{"0", ""},
		{"2500", "2500.00"},
	}

	for _, tt := range tests {
		got := formatAmount(decimal.RequireFromString(tt.input))
		if got != tt.expected {
			t.Errorf("formatAmount(%s): got %q, want %q", tt.input, got, tt.expected)
		}
	}
}
