package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/insightdelivered/statement-analyzer/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fixture creates a user with one account and one statement holding the
// given transactions.
type fixture struct {
	user      *models.User
	account   *models.Account
	statement *models.Statement
	txs       []models.Transaction
}

func newFixture(t *testing.T, st *Store, filename string, raws ...models.RawTransaction) *fixture {
	t.Helper()
	ctx := context.Background()
	u, err := st.EnsureUser(ctx, "asha")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	a := &models.Account{UserID: u.ID, Name: "Savings", BankName: "SBI"}
	if err := st.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	f := &fixture{user: u, account: a}
	f.addStatement(t, st, filename, raws...)
	return f
}

func (f *fixture) addStatement(t *testing.T, st *Store, filename string, raws ...models.RawTransaction) {
	t.Helper()
	ctx := context.Background()
	s := &models.Statement{AccountID: f.account.ID, OriginalFilename: filename, FileKind: models.KindPDF}
	if err := st.CreateStatement(ctx, s); err != nil {
		t.Fatalf("CreateStatement: %v", err)
	}
	txs := make([]models.Transaction, 0, len(raws))
	for _, r := range raws {
		txs = append(txs, models.NewTransaction(s.ID, r))
	}
	if err := st.CreateTransactions(ctx, txs); err != nil {
		t.Fatalf("CreateTransactions: %v", err)
	}
	f.statement = s
	f.txs = append(f.txs, txs...)
}

func raw(d time.Time, amount string, typ models.TransactionType, desc string) models.RawTransaction {
	return models.RawTransaction{Date: d, Description: desc, Amount: decimal.RequireFromString(amount), Type: typ}
}

func TestCreateRule_RejectsInvertedBetween(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	r := &models.Rule{
		UserID:   1,
		Name:     "Mid spend",
		Category: models.CategoryShopping,
		Logic:    models.LogicAnd,
		Active:   true,
		Conditions: []models.Condition{
			models.KeywordCondition{Text: "amazon", Mode: models.MatchContains},
			models.AmountCondition{Op: models.OpBetween, Value: decPtr("500"), Value2: decPtr("100")},
		},
	}
	err := st.CreateRule(ctx, r)
	if !errors.Is(err, models.ErrConditionIllFormed) {
		t.Fatalf("CreateRule: got %v, want ErrConditionIllFormed", err)
	}
	if !strings.Contains(err.Error(), "condition 2") {
		t.Errorf("error should name the offending condition: %v", err)
	}
	rules, err := st.Rules(ctx, 1)
	if err != nil {
		t.Fatalf("Rules: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("rejected rule was stored: %+v", rules)
	}
}

func TestRuleRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	start, end := day(2025, time.January, 1), day(2025, time.December, 31)

	in := &models.Rule{
		UserID:   3,
		Name:     "Big Amazon orders",
		Category: models.CategoryShopping,
		Logic:    models.LogicAnd,
		Active:   true,
		Priority: 5,
		Conditions: []models.Condition{
			models.KeywordCondition{Text: "amazon", Mode: models.MatchStartsWith},
			models.AmountCondition{Op: models.OpBetween, Value: decPtr("100.50"), Value2: decPtr("2500")},
			models.DateRangeCondition{Start: &start, End: &end},
			models.SourceCondition{Channel: models.Channel("UPI")},
		},
	}
	if err := st.CreateRule(ctx, in); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if in.ID == 0 {
		t.Fatal("CreateRule did not set the ID")
	}
	inactive := &models.Rule{UserID: 3, Name: "Off", Category: models.CategoryFood, Logic: models.LogicOr,
		Conditions: []models.Condition{models.KeywordCondition{Text: "zomato", Mode: models.MatchContains}}}
	if err := st.CreateRule(ctx, inactive); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	got, err := st.ActiveRules(ctx, 3)
	if err != nil {
		t.Fatalf("ActiveRules: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ActiveRules: got %d rules, want 1", len(got))
	}
	r := got[0]
	if r.Name != in.Name || r.Priority != 5 || r.Logic != models.LogicAnd || !r.Active {
		t.Errorf("rule fields: got %+v", r)
	}
	if len(r.Conditions) != 4 {
		t.Fatalf("conditions: got %d, want 4", len(r.Conditions))
	}

	kw, ok := r.Conditions[0].(models.KeywordCondition)
	if !ok || kw.Text != "amazon" || kw.Mode != models.MatchStartsWith {
		t.Errorf("condition 1: got %#v", r.Conditions[0])
	}
	amt, ok := r.Conditions[1].(models.AmountCondition)
	if !ok || amt.Value == nil || amt.Value2 == nil {
		t.Fatalf("condition 2: got %#v", r.Conditions[1])
	}
	if !amt.Value.Equal(decimal.RequireFromString("100.5")) || !amt.Value2.Equal(decimal.NewFromInt(2500)) {
		t.Errorf("amount bounds: got %s..%s, want 100.5..2500", amt.Value, amt.Value2)
	}
	dr, ok := r.Conditions[2].(models.DateRangeCondition)
	if !ok || dr.Start == nil || !dr.Start.Equal(start) || dr.End == nil || !dr.End.Equal(end) {
		t.Errorf("condition 3: got %#v", r.Conditions[2])
	}
	if src, ok := r.Conditions[3].(models.SourceCondition); !ok || src.Channel != "UPI" {
		t.Errorf("condition 4: got %#v", r.Conditions[3])
	}

	all, err := st.Rules(ctx, 3)
	if err != nil {
		t.Fatalf("Rules: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Rules: got %d, want 2", len(all))
	}
}

func TestUnknownConditionKindLoadsAsNil(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	r := &models.Rule{UserID: 1, Name: "r", Category: models.CategoryFood, Logic: models.LogicOr, Active: true,
		Conditions: []models.Condition{models.KeywordCondition{Text: "swiggy", Mode: models.MatchContains}}}
	if err := st.CreateRule(ctx, r); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := st.db.Model(&conditionRow{}).Where("rule_id = ?", r.ID).Update("kind", "GEOFENCE").Error; err != nil {
		t.Fatalf("update kind: %v", err)
	}
	got, err := st.ActiveRules(ctx, 1)
	if err != nil {
		t.Fatalf("ActiveRules: %v", err)
	}
	if len(got) != 1 || len(got[0].Conditions) != 1 || got[0].Conditions[0] != nil {
		t.Errorf("unknown kind should load as a nil condition: %+v", got)
	}
}

func TestSeedRules_Idempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	seed := []models.Rule{
		{Name: "Food", Category: models.CategoryFood, Logic: models.LogicOr, Active: true, Priority: 10,
			Conditions: []models.Condition{models.KeywordCondition{Text: "swiggy", Mode: models.MatchContains}}},
		{Name: "Rides", Category: models.CategoryTransport, Logic: models.LogicOr, Active: true, Priority: 20,
			Conditions: []models.Condition{models.KeywordCondition{Text: "uber", Mode: models.MatchContains}}},
	}

	n, err := st.SeedRules(ctx, 9, seed)
	if err != nil || n != 2 {
		t.Fatalf("first SeedRules: got %d, %v; want 2", n, err)
	}
	n, err = st.SeedRules(ctx, 9, seed)
	if err != nil || n != 0 {
		t.Fatalf("second SeedRules: got %d, %v; want 0", n, err)
	}
	n, err = st.SeedRules(ctx, 10, seed)
	if err != nil || n != 2 {
		t.Errorf("other user: got %d, %v; want 2", n, err)
	}
	rules, _ := st.Rules(ctx, 9)
	if len(rules) != 2 || rules[0].UserID != 9 {
		t.Errorf("seeded rules: %+v", rules)
	}
}

func TestCustomCategories(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	office := &models.CustomCategory{
		UserID: 4,
		Name:   "Office Supplies",
		Active: true,
		Rules: []models.CustomRule{
			{Name: "paper", Logic: models.LogicOr, Active: true, Priority: 2,
				Conditions: []models.Condition{models.KeywordCondition{Text: "staples", Mode: models.MatchContains}}},
			{Name: "pens", Logic: models.LogicOr, Active: false, Priority: 1,
				Conditions: []models.Condition{models.KeywordCondition{Text: "pen", Mode: models.MatchContains}}},
		},
	}
	if err := st.CreateCustomCategory(ctx, office); err != nil {
		t.Fatalf("CreateCustomCategory: %v", err)
	}
	if office.ID == 0 || len(office.Rules) != 2 || office.Rules[0].ID == 0 {
		t.Fatalf("ids not filled in: %+v", office)
	}
	hidden := &models.CustomCategory{UserID: 4, Name: "Hidden"}
	if err := st.CreateCustomCategory(ctx, hidden); err != nil {
		t.Fatalf("CreateCustomCategory: %v", err)
	}

	withSource := &models.CustomCategory{UserID: 4, Name: "Bad", Active: true, Rules: []models.CustomRule{
		{Logic: models.LogicAnd, Conditions: []models.Condition{models.SourceCondition{Channel: "UPI"}}},
	}}
	if err := st.CreateCustomCategory(ctx, withSource); !errors.Is(err, models.ErrConditionIllFormed) {
		t.Errorf("source condition on a custom rule: got %v, want ErrConditionIllFormed", err)
	}

	cats, err := st.ActiveCustomCategories(ctx, 4)
	if err != nil {
		t.Fatalf("ActiveCustomCategories: %v", err)
	}
	if len(cats) != 1 || cats[0].Name != "Office Supplies" {
		t.Fatalf("active categories: %+v", cats)
	}
	if len(cats[0].Rules) != 2 || cats[0].Rules[0].Name != "pens" {
		t.Errorf("rules should be ordered by priority: %+v", cats[0].Rules)
	}

	got, err := st.CustomCategoryByName(ctx, 4, "  office supplies ")
	if err != nil || got.ID != office.ID {
		t.Errorf("CustomCategoryByName: got %+v, %v", got, err)
	}
	if _, err := st.CustomCategoryByName(ctx, 5, "Office Supplies"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other user's category: got %v, want ErrNotFound", err)
	}

	extra := &models.CustomRule{Name: "toner", Logic: models.LogicOr,
		Conditions: []models.Condition{models.KeywordCondition{Text: "toner", Mode: models.MatchContains}}}
	if err := st.AddCustomRule(ctx, office.ID, extra); err != nil {
		t.Fatalf("AddCustomRule: %v", err)
	}

	n, err := st.ActivateCustomRules(ctx)
	if err != nil {
		t.Fatalf("ActivateCustomRules: %v", err)
	}
	if n != 2 {
		t.Errorf("ActivateCustomRules: got %d, want 2", n)
	}
	if n, _ := st.ActivateCustomRules(ctx); n != 0 {
		t.Errorf("second ActivateCustomRules: got %d, want 0", n)
	}
}

func TestStatementExists(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	f := newFixture(t, st, "april.pdf", raw(day(2025, time.April, 1), "10", models.Debit, "x"))

	tests := []struct {
		account  uint
		filename string
		want     bool
	}{
		{f.account.ID, "april.pdf", true},
		{f.account.ID, "may.pdf", false},
		{f.account.ID + 1, "april.pdf", false},
	}
	for _, tt := range tests {
		got, err := st.StatementExists(ctx, tt.account, tt.filename)
		if err != nil {
			t.Fatalf("StatementExists: %v", err)
		}
		if got != tt.want {
			t.Errorf("StatementExists(%d, %q): got %v, want %v", tt.account, tt.filename, got, tt.want)
		}
	}
}

func TestCreateStatement_InvalidPeriod(t *testing.T) {
	st := openTestStore(t)
	start, end := day(2025, time.May, 1), day(2025, time.April, 1)
	s := &models.Statement{AccountID: 1, OriginalFilename: "x.pdf", FileKind: models.KindPDF, PeriodStart: &start, PeriodEnd: &end}
	if err := st.CreateStatement(context.Background(), s); !errors.Is(err, models.ErrInvalidPeriod) {
		t.Errorf("CreateStatement: got %v, want ErrInvalidPeriod", err)
	}
}

func TestCreateTransactions_Validates(t *testing.T) {
	st := openTestStore(t)
	bad := []models.Transaction{
		{StatementID: 1, Date: day(2025, time.April, 1), Amount: decimal.NewFromInt(5), Type: models.Debit, Category: models.CategoryOther},
		{StatementID: 1, Date: day(2025, time.April, 1), Amount: decimal.Zero, Type: models.Debit, Category: models.CategoryOther},
	}
	err := st.CreateTransactions(context.Background(), bad)
	if !errors.Is(err, models.ErrNonPositiveAmount) {
		t.Fatalf("CreateTransactions: got %v, want ErrNonPositiveAmount", err)
	}
	txs, _ := st.StatementTransactions(context.Background(), 1)
	if len(txs) != 0 {
		t.Errorf("nothing should be stored, got %d rows", len(txs))
	}
}

func TestEditTransaction(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	f := newFixture(t, st, "april.pdf",
		raw(day(2025, time.April, 1), "1200", models.Debit, "UPI/DR/1/GOA TRIP HOTEL/UPI"),
		raw(day(2025, time.April, 2), "300", models.Debit, "STAPLES STORE"),
	)
	office := &models.CustomCategory{UserID: f.user.ID, Name: "Office", Active: true}
	if err := st.CreateCustomCategory(ctx, office); err != nil {
		t.Fatalf("CreateCustomCategory: %v", err)
	}

	label := " goa trip "
	got, err := st.EditTransaction(ctx, f.txs[0].ID, Edit{Category: models.CategoryTravel, Label: &label, Editor: "asha"})
	if err != nil {
		t.Fatalf("EditTransaction: %v", err)
	}
	if got.Category != models.CategoryTravel || got.UserLabel != "goa trip" || !got.IsManuallyEdited {
		t.Errorf("edited transaction: %+v", got)
	}
	if got.EditedBy == nil || *got.EditedBy != "asha" || got.LastEditedAt == nil {
		t.Errorf("edit audit fields: %+v", got)
	}

	if _, err := st.EditTransaction(ctx, f.txs[1].ID, Edit{CustomCategory: "office", Editor: "asha"}); err != nil {
		t.Fatalf("EditTransaction custom: %v", err)
	}
	stored, _ := st.Transaction(ctx, f.txs[1].ID)
	if stored.CustomCategoryID == nil || *stored.CustomCategoryID != office.ID || stored.Category != models.CategoryOther {
		t.Errorf("custom edit: %+v", stored)
	}

	errTests := []struct {
		name string
		id   uint
		edit Edit
		want error
	}{
		{"unknown custom", f.txs[1].ID, Edit{CustomCategory: "nope", Editor: "asha"}, ErrNotFound},
		{"missing transaction", 999, Edit{Category: models.CategoryFood, Editor: "asha"}, ErrNotFound},
	}
	for _, tt := range errTests {
		if _, err := st.EditTransaction(ctx, tt.id, tt.edit); !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.want)
		}
	}
	if _, err := st.EditTransaction(ctx, f.txs[1].ID, Edit{Category: models.CategoryFood, CustomCategory: "office", Editor: "a"}); err == nil {
		t.Error("both categories: expected an error")
	}
	if _, err := st.EditTransaction(ctx, f.txs[1].ID, Edit{Category: models.CategoryFood}); err == nil {
		t.Error("missing editor: expected an error")
	}

	// Automatic updates must leave manual rows alone.
	auto := *stored
	auto.Category = models.CategoryFood
	auto.CustomCategoryID = nil
	if err := st.UpdateClassification(ctx, &auto); err != nil {
		t.Fatalf("UpdateClassification: %v", err)
	}
	after, _ := st.Transaction(ctx, stored.ID)
	if after.CustomCategoryID == nil || after.Category != models.CategoryOther {
		t.Errorf("manual transaction was overwritten: %+v", after)
	}

	labels, err := st.ManualLabels(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("ManualLabels: %v", err)
	}
	if len(labels) != 1 || labels[0].Label != "goa trip" || labels[0].Category.Standard != models.CategoryTravel {
		t.Errorf("ManualLabels: got %+v", labels)
	}
	if other, _ := st.ManualLabels(ctx, f.user.ID+1); len(other) != 0 {
		t.Errorf("labels leaked to another user: %+v", other)
	}
}

func TestSaveSummary_Upsert(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	first := &models.AnalysisSummary{StatementID: 7, TotalCredits: decimal.NewFromInt(100), NetChange: decimal.NewFromInt(100), TransactionCount: 1, ComputedAt: time.Now()}
	if err := st.SaveSummary(ctx, first); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
	second := &models.AnalysisSummary{StatementID: 7, TotalCredits: decimal.NewFromInt(100), TotalDebits: decimal.NewFromInt(40), NetChange: decimal.NewFromInt(60), TransactionCount: 2, ComputedAt: time.Now()}
	if err := st.SaveSummary(ctx, second); err != nil {
		t.Fatalf("SaveSummary again: %v", err)
	}
	got, err := st.Summary(ctx, 7)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if got.TransactionCount != 2 || !got.NetChange.Equal(decimal.NewFromInt(60)) {
		t.Errorf("summary not replaced: %+v", got)
	}
	if _, err := st.Summary(ctx, 8); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing summary: got %v, want ErrNotFound", err)
	}
}

func countRows(t *testing.T, st *Store, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := st.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestDeleteStatement_Cascades(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	f := newFixture(t, st, "april.pdf",
		raw(day(2025, time.April, 1), "10", models.Debit, "a"),
		raw(day(2025, time.April, 2), "20", models.Credit, "b"),
	)
	if err := st.SaveSummary(ctx, &models.AnalysisSummary{StatementID: f.statement.ID, ComputedAt: time.Now()}); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}

	if err := st.DeleteStatement(ctx, f.statement.ID); err != nil {
		t.Fatalf("DeleteStatement: %v", err)
	}
	if n := countRows(t, st, &models.Transaction{}); n != 0 {
		t.Errorf("transactions left: %d", n)
	}
	if n := countRows(t, st, &models.AnalysisSummary{}); n != 0 {
		t.Errorf("summaries left: %d", n)
	}
	if err := st.DeleteStatement(ctx, f.statement.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestDeleteAccount_Cascades(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	f := newFixture(t, st, "april.pdf", raw(day(2025, time.April, 1), "10", models.Debit, "a"))
	f.addStatement(t, st, "may.pdf", raw(day(2025, time.May, 1), "10", models.Debit, "a"))

	if err := st.DeleteAccount(ctx, f.account.ID); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if n := countRows(t, st, &models.Statement{}); n != 0 {
		t.Errorf("statements left: %d", n)
	}
	if n := countRows(t, st, &models.Transaction{}); n != 0 {
		t.Errorf("transactions left: %d", n)
	}
	if err := st.DeleteAccount(ctx, f.account.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestClearData(t *testing.T) {
	cutoff := day(2025, time.April, 15)
	tests := []struct {
		name string
		opts ClearOptions
		want ClearResult
	}{
		{
			name: "transactions before cutoff",
			opts: ClearOptions{Scope: ClearTransactions, Before: &cutoff},
			want: ClearResult{Transactions: 2, Summaries: 1},
		},
		{
			name: "all transactions",
			opts: ClearOptions{Scope: ClearTransactions},
			want: ClearResult{Transactions: 3, Summaries: 2},
		},
		{
			name: "statements",
			opts: ClearOptions{Scope: ClearStatements},
			want: ClearResult{Transactions: 3, Statements: 2, Summaries: 2},
		},
		{
			name: "accounts of another user",
			opts: ClearOptions{Scope: ClearAccounts, UserID: 99},
			want: ClearResult{},
		},
		{
			name: "everything",
			opts: ClearOptions{Scope: ClearAll},
			want: ClearResult{Transactions: 3, Statements: 2, Accounts: 1, Summaries: 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := openTestStore(t)
			ctx := context.Background()
			f := newFixture(t, st, "april.pdf",
				raw(day(2025, time.April, 1), "10", models.Debit, "a"),
				raw(day(2025, time.April, 2), "20", models.Debit, "b"),
			)
			first := f.statement.ID
			f.addStatement(t, st, "may.pdf", raw(day(2025, time.May, 1), "30", models.Debit, "c"))
			for _, id := range []uint{first, f.statement.ID} {
				if err := st.SaveSummary(ctx, &models.AnalysisSummary{StatementID: id, ComputedAt: time.Now()}); err != nil {
					t.Fatalf("SaveSummary: %v", err)
				}
			}

			got, err := st.ClearData(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ClearData: %v", err)
			}
			if *got != tt.want {
				t.Errorf("ClearData: got %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestClearData_UnknownScope(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.ClearData(context.Background(), ClearOptions{Scope: "rules"}); err == nil {
		t.Error("expected an error for an unknown scope")
	}
}

func TestAccountTransactions(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	f := newFixture(t, st, "may.pdf", raw(day(2025, time.May, 3), "10", models.Debit, "later"))
	f.addStatement(t, st, "april.pdf", raw(day(2025, time.April, 3), "10", models.Debit, "earlier"))

	txs, err := st.AccountTransactions(ctx, f.account.ID)
	if err != nil {
		t.Fatalf("AccountTransactions: %v", err)
	}
	if len(txs) != 2 || txs[0].Description != "earlier" {
		t.Errorf("AccountTransactions: got %+v", txs)
	}
	if err := st.MarkRulesApplied(ctx, f.account.ID); err != nil {
		t.Fatalf("MarkRulesApplied: %v", err)
	}
	s, _ := st.Statement(ctx, f.statement.ID)
	if !s.RulesApplied {
		t.Error("statement not marked as classified")
	}
}
