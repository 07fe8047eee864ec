package models

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// MaxDescriptionLen is the longest narration kept on a transaction, in runes.
const MaxDescriptionLen = 500

// TransactionType is the direction of a transaction. Amounts are always
// positive; the sign lives here.
type TransactionType string

const (
	Debit  TransactionType = "DEBIT"
	Credit TransactionType = "CREDIT"
)

// Valid reports whether t is DEBIT or CREDIT.
func (t TransactionType) Valid() bool {
	return t == Debit || t == Credit
}

// FileKind is the declared kind of an uploaded statement.
type FileKind string

const (
	KindPDF   FileKind = "PDF"
	KindExcel FileKind = "EXCEL"
	KindCSV   FileKind = "CSV"
)

// ParseFileKind accepts pdf, excel/xls/xlsx and csv in any case.
func ParseFileKind(s string) (FileKind, error) {
	switch s {
	case "PDF", "pdf":
		return KindPDF, nil
	case "EXCEL", "excel", "xls", "xlsx", "XLS", "XLSX":
		return KindExcel, nil
	case "CSV", "csv":
		return KindCSV, nil
	}
	return "", fmt.Errorf("unknown file kind %q", s)
}

var (
	ErrNonPositiveAmount = errors.New("amount must be greater than zero")
	ErrInvalidType       = errors.New("transaction type must be DEBIT or CREDIT")
	ErrMissingDate       = errors.New("transaction date is required")
	ErrInvalidPeriod     = errors.New("statement period end is before its start")
)

// RawTransaction is what a statement parser emits for one entry. It is never
// persisted directly.
type RawTransaction struct {
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        TransactionType `json:"transaction_type"`
}

// Validate checks the parser output invariants.
func (r RawTransaction) Validate() error {
	if r.Date.IsZero() {
		return ErrMissingDate
	}
	if !r.Amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if !r.Type.Valid() {
		return ErrInvalidType
	}
	return nil
}

// TruncateDescription clips s to MaxDescriptionLen runes.
func TruncateDescription(s string) string {
	if utf8.RuneCountInString(s) <= MaxDescriptionLen {
		return s
	}
	r := []rune(s)
	return string(r[:MaxDescriptionLen])
}

// User owns accounts, rules and custom categories.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"type:varchar(150);uniqueIndex;not null" json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Account is created by the web collaborator; the core only uses it as a key.
type Account struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Name      string    `gorm:"type:varchar(200)" json:"name"`
	BankName  string    `gorm:"type:varchar(200)" json:"bank_name"`
	CreatedAt time.Time `json:"created_at"`
}

// Statement is one uploaded bank document.
type Statement struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	AccountID        uint       `gorm:"index:idx_statement_account_file;not null" json:"account_id"`
	OriginalFilename string     `gorm:"type:varchar(255);index:idx_statement_account_file" json:"original_filename"`
	FileKind         FileKind   `gorm:"type:varchar(10);not null" json:"file_kind"`
	UploadedAt       time.Time  `gorm:"index" json:"uploaded_at"`
	PeriodStart      *time.Time `json:"period_start,omitempty"`
	PeriodEnd        *time.Time `json:"period_end,omitempty"`
	RulesApplied     bool       `gorm:"not null;default:false" json:"rules_applied"`
}

// Validate checks the period bounds.
func (s Statement) Validate() error {
	if s.PeriodStart != nil && s.PeriodEnd != nil && s.PeriodEnd.Before(*s.PeriodStart) {
		return ErrInvalidPeriod
	}
	return nil
}

// Transaction is a persisted, classified statement entry.
type Transaction struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	StatementID      uint            `gorm:"index;not null" json:"statement_id"`
	Date             time.Time       `gorm:"index;not null" json:"date"`
	Description      string          `gorm:"type:varchar(500);not null" json:"description"`
	Amount           decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	Type             TransactionType `gorm:"type:varchar(6);not null" json:"transaction_type"`
	Category         Category        `gorm:"type:varchar(20);not null;default:OTHER" json:"category"`
	CustomCategoryID *uint           `gorm:"index" json:"custom_category_id,omitempty"`
	UserLabel        string          `gorm:"type:varchar(100)" json:"user_label,omitempty"`
	IsManuallyEdited bool            `gorm:"not null;default:false" json:"is_manually_edited"`
	EditedBy         *string         `gorm:"type:varchar(150)" json:"edited_by,omitempty"`
	LastEditedAt     *time.Time      `json:"last_edited_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// NewTransaction builds an unclassified transaction (category OTHER) for a statement.
func NewTransaction(statementID uint, raw RawTransaction) Transaction {
	return Transaction{
		StatementID: statementID,
		Date:        raw.Date,
		Description: TruncateDescription(raw.Description),
		Amount:      raw.Amount,
		Type:        raw.Type,
		Category:    CategoryOther,
	}
}

// Validate checks the statement-data invariants of a persisted transaction.
func (t Transaction) Validate() error {
	if err := (RawTransaction{Date: t.Date, Amount: t.Amount, Type: t.Type}).Validate(); err != nil {
		return err
	}
	if utf8.RuneCountInString(t.Description) > MaxDescriptionLen {
		return fmt.Errorf("description longer than %d characters", MaxDescriptionLen)
	}
	if !t.Category.Valid() {
		return fmt.Errorf("unknown category %q", t.Category)
	}
	return nil
}

// CategoryRef returns the effective category: the custom one when set.
func (t Transaction) CategoryRef() CategoryRef {
	if t.CustomCategoryID != nil {
		return CategoryRef{CustomID: *t.CustomCategoryID}
	}
	return CategoryRef{Standard: t.Category}
}

// AnalysisSummary is the per-statement totals cache. It can always be
// recomputed from the statement's transactions.
type AnalysisSummary struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	StatementID      uint            `gorm:"uniqueIndex;not null" json:"statement_id"`
	TotalCredits     decimal.Decimal `gorm:"type:decimal(16,2);not null" json:"total_credits"`
	TotalDebits      decimal.Decimal `gorm:"type:decimal(16,2);not null" json:"total_debits"`
	NetChange        decimal.Decimal `gorm:"type:decimal(16,2);not null" json:"net_change"`
	TransactionCount int             `json:"transaction_count"`
	ComputedAt       time.Time       `json:"computed_at"`
}
