package classify

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/insightdelivered/statement-analyzer/internal/models"
	"github.com/insightdelivered/statement-analyzer/internal/rules"
)

func contains(text string) models.Condition {
	return models.KeywordCondition{Text: text, Mode: models.MatchContains}
}

func amazonRule() models.Rule {
	return models.Rule{ID: 1, UserID: 1, Name: "Amazon", Category: models.CategoryShopping, Logic: models.LogicOr, Active: true, Conditions: []models.Condition{contains("amazon")}}
}

func officeSupplies() models.CustomCategory {
	return models.CustomCategory{
		ID: 5, UserID: 1, Name: "Office Supplies", Active: true,
		Rules: []models.CustomRule{{ID: 11, CategoryID: 5, Name: "amazon", Logic: models.LogicOr, Active: true, Conditions: []models.Condition{contains("amazon")}}},
	}
}

func debit(desc string) rules.Candidate {
	return rules.Candidate{Description: desc, Amount: decimal.NewFromInt(100), Type: models.Debit}
}

func TestDecide_CustomCategoryBeatsRule(t *testing.T) {
	snap := NewSnapshot(1, []models.Rule{amazonRule()}, []models.CustomCategory{officeSupplies()}, nil)

	d := snap.Decide(debit("AMAZON PURCHASE"))
	if d.Source != models.SourceCustomCategory {
		t.Fatalf("Source: got %q, want %q", d.Source, models.SourceCustomCategory)
	}
	if d.Category.CustomID != 5 || d.Label != "Office Supplies" {
		t.Errorf("got %+v, want Office Supplies", d)
	}
}

func TestDecide_PriorityChain(t *testing.T) {
	cats := []models.CustomCategory{
		officeSupplies(),
		{ID: 6, Name: "Kids", Active: true},
		{ID: 7, Name: "Gym", Active: true},
	}
	labels := []models.ManualLabel{{Label: "gym", Category: models.CategoryRef{CustomID: 7}}}
	rs := []models.Rule{
		amazonRule(),
		{ID: 2, Name: "Uber", Category: models.CategoryTransport, Logic: models.LogicOr, Active: true, Conditions: []models.Condition{contains("uber")}},
	}
	snap := NewSnapshot(1, rs, cats, labels)

	tests := []struct {
		desc   string
		source models.ClassificationSource
		want   models.CategoryRef
		tag    string
	}{
		// Category name inside the description wins over the amazon custom rule.
		{"AMAZON ORDER KIDS TOYS", models.SourceUserLabel, models.CategoryRef{CustomID: 6}, TagCategoryName},
		{"AMAZON PURCHASE", models.SourceCustomCategory, models.CategoryRef{CustomID: 5}, ""},
		{"UBER TRIP", models.SourceRule, models.CategoryRef{Standard: models.CategoryTransport}, ""},
		{"ZOMATO ORDER", models.SourceKeywordFallback, models.CategoryRef{Standard: models.CategoryFood}, ""},
		{"MISC TRANSFER", models.SourceKeywordFallback, models.CategoryRef{Standard: models.CategoryOther}, ""},
	}
	for _, tt := range tests {
		d := snap.Decide(debit(tt.desc))
		if d.Source != tt.source {
			t.Errorf("%q: source got %q, want %q", tt.desc, d.Source, tt.source)
		}
		if !d.Category.Equal(tt.want) {
			t.Errorf("%q: category got %v, want %v", tt.desc, d.Category, tt.want)
		}
		if d.MatchTag != tt.tag {
			t.Errorf("%q: tag got %q, want %q", tt.desc, d.MatchTag, tt.tag)
		}
	}
}

func TestLabelClassifier_PriorLabel(t *testing.T) {
	cats := []models.CustomCategory{
		{ID: 3, Name: "Team Outings", Active: true},
		{ID: 4, Name: "Lunch", Active: false},
	}
	labels := []models.ManualLabel{
		{Label: "lunch", Category: models.CategoryRef{Standard: models.CategoryFood}},
		{Label: "Team Lunch", Category: models.CategoryRef{CustomID: 3}},
		{Label: "team lunch", Category: models.CategoryRef{Standard: models.CategoryFood}},
		{Label: "  "},
	}
	c := NewLabelClassifier(cats, labels)
	if len(c.labels) != 2 {
		t.Errorf("expected 2 distinct labels, got %v", c.labels)
	}

	tests := []struct {
		name string
		desc string
	}{
		// "Team Lunch" was saved against Team Outings, but no active
		// category is named "Team Lunch".
		{"saved category is not used", "UPI/DR/123/TEAM LUNCH-HOTEL/YESB"},
		// The only category named "Lunch" is inactive.
		{"inactive named category", "LUNCH WITH CLIENT"},
	}
	for _, tt := range tests {
		if m, ok := c.Match(tt.desc); ok {
			t.Errorf("%s: expected no match, got %+v", tt.name, m)
		}
	}
}

func TestDecide_LabelWithoutNamedCategory(t *testing.T) {
	cats := []models.CustomCategory{{ID: 7, UserID: 1, Name: "Dining", Active: true}}
	labels := []models.ManualLabel{{Label: "swiggy", Category: models.CategoryRef{CustomID: 7}}}

	if m, ok := NewLabelClassifier(cats, labels).Match("UPI/DR/1/SWIGGY ORDER"); ok {
		t.Fatalf("expected no label match, got %+v", m)
	}

	tests := []struct {
		name   string
		rules  []models.Rule
		source models.ClassificationSource
		want   models.CategoryRef
	}{
		{"falls back to keywords", nil, models.SourceKeywordFallback, models.CategoryRef{Standard: models.CategoryFood}},
		{"rule still applies", []models.Rule{
			{ID: 1, UserID: 1, Name: "Swiggy", Category: models.CategoryEntertainment, Logic: models.LogicOr, Active: true, Conditions: []models.Condition{contains("swiggy")}},
		}, models.SourceRule, models.CategoryRef{Standard: models.CategoryEntertainment}},
	}
	for _, tt := range tests {
		d := NewSnapshot(1, tt.rules, cats, labels).Decide(debit("UPI/DR/1/SWIGGY ORDER"))
		if d.Source != tt.source {
			t.Errorf("%s: source got %q, want %q", tt.name, d.Source, tt.source)
		}
		if !d.Category.Equal(tt.want) {
			t.Errorf("%s: category got %v, want %v", tt.name, d.Category, tt.want)
		}
	}
}

func TestLabelClassifier_CategoryName(t *testing.T) {
	cats := []models.CustomCategory{{ID: 8, Name: "Yoga", Active: true}}
	c := NewLabelClassifier(cats, []models.ManualLabel{{Label: "yoga"}})
	m, ok := c.Match("MONTHLY YOGA")
	if !ok {
		t.Fatal("expected match")
	}
	if m.Tag != TagCategoryName || m.Label != "Yoga" {
		t.Errorf("got %+v", m)
	}
	if _, ok := c.Match(""); ok {
		t.Error("empty description should not match")
	}
}

func TestLabelConfidence(t *testing.T) {
	tests := []struct {
		label, desc string
		want        float64
	}{
		{"Swiggy", "swiggy", 1},
		{"swiggy", "swiggy order", 0.5 + 0.4*6.0/12.0},
		{"a", "a", 1},
		{"team lunch", "lunch with team", 0.4},
		{"team dinner", "lunch with team", 0.2},
		{"rent", "salary", 0},
		{"", "salary", 0},
	}
	for _, tt := range tests {
		if got := LabelConfidence(tt.label, tt.desc); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("LabelConfidence(%q, %q): got %v, want %v", tt.label, tt.desc, got, tt.want)
		}
	}
}

func TestKeywordFallback(t *testing.T) {
	tests := []struct {
		desc string
		typ  models.TransactionType
		want models.Category
	}{
		{"ZOMATO ORDER", models.Credit, models.CategoryIncome},
		{"ZOMATO ORDER", models.Debit, models.CategoryFood},
		{"FLIPKART INTERNET", models.Debit, models.CategoryShopping},
		{"BESCOM ELECTRICITY", models.Debit, models.CategoryBills},
		{"HDFC LOAN EMI", models.Debit, models.CategoryLoan},
		{"APOLLO HOSPITAL", models.Debit, models.CategoryHealthcare},
		{"IRCTC", models.Debit, models.CategoryTravel},
		{"SELF TRANSFER", models.Debit, models.CategoryOther},
	}
	for _, tt := range tests {
		if got := KeywordFallback(tt.desc, tt.typ); got != tt.want {
			t.Errorf("KeywordFallback(%q, %s): got %s, want %s", tt.desc, tt.typ, got, tt.want)
		}
	}
}

func TestApply_ManualIsAbsolute(t *testing.T) {
	foodRule := models.Rule{ID: 1, Name: "Food", Category: models.CategoryFood, Logic: models.LogicOr, Active: true, Conditions: []models.Condition{contains("swiggy")}}
	snap := NewSnapshot(1, []models.Rule{foodRule}, nil, nil)

	tx := models.Transaction{ID: 9, Description: "SWIGGY GOA TRIP", Amount: decimal.NewFromInt(400), Type: models.Debit,
		Category: models.CategoryTravel, UserLabel: "Goa", IsManuallyEdited: true}
	res := snap.Apply(&tx)
	if res.Source != models.SourceManual {
		t.Errorf("Source: got %q, want manual", res.Source)
	}
	if tx.Category != models.CategoryTravel || tx.UserLabel != "Goa" {
		t.Errorf("manual transaction changed: %s/%q", tx.Category, tx.UserLabel)
	}
	if res.Changed() {
		t.Error("manual result must not report a change")
	}
}

func TestApply_Idempotent(t *testing.T) {
	snap := NewSnapshot(1, []models.Rule{amazonRule()}, []models.CustomCategory{officeSupplies()}, nil)
	txs := []models.Transaction{
		{ID: 1, Description: "AMAZON PURCHASE", Amount: decimal.NewFromInt(10), Type: models.Debit, Category: models.CategoryOther},
		{ID: 2, Description: "SWIGGY", Amount: decimal.NewFromInt(10), Type: models.Debit, Category: models.CategoryOther},
		{ID: 3, Description: "SALARY", Amount: decimal.NewFromInt(10), Type: models.Credit, Category: models.CategoryOther},
	}
	for i := range txs {
		snap.Apply(&txs[i])
	}
	for i := range txs {
		before := txs[i]
		if res := snap.Apply(&txs[i]); res.Changed() {
			t.Errorf("tx %d changed on second pass: %+v", txs[i].ID, res)
		}
		if txs[i].UserLabel != before.UserLabel {
			t.Errorf("tx %d label changed: %q -> %q", txs[i].ID, before.UserLabel, txs[i].UserLabel)
		}
	}
	if txs[0].CustomCategoryID == nil || *txs[0].CustomCategoryID != 5 || txs[0].UserLabel != "Office Supplies" {
		t.Errorf("first transaction: got %+v", txs[0])
	}
}

type memStore struct {
	rules    []models.Rule
	cats     []models.CustomCategory
	labels   []models.ManualLabel
	txs      []models.Transaction
	updated  []uint
	applied  bool
	rulesErr error
}

func (m *memStore) ActiveRules(context.Context, uint) ([]models.Rule, error) {
	return m.rules, m.rulesErr
}

func (m *memStore) ActiveCustomCategories(context.Context, uint) ([]models.CustomCategory, error) {
	return m.cats, nil
}

func (m *memStore) ManualLabels(context.Context, uint) ([]models.ManualLabel, error) {
	return m.labels, nil
}

func (m *memStore) AccountTransactions(context.Context, uint) ([]models.Transaction, error) {
	out := make([]models.Transaction, len(m.txs))
	copy(out, m.txs)
	return out, nil
}

func (m *memStore) UpdateClassification(_ context.Context, tx *models.Transaction) error {
	for i := range m.txs {
		if m.txs[i].ID == tx.ID {
			m.txs[i] = *tx
		}
	}
	m.updated = append(m.updated, tx.ID)
	return nil
}

func (m *memStore) MarkRulesApplied(context.Context, uint) error {
	m.applied = true
	return nil
}

func TestReapply(t *testing.T) {
	now := time.Now()
	editor := "asha"
	store := &memStore{
		rules: []models.Rule{{ID: 1, Name: "Food", Category: models.CategoryFood, Logic: models.LogicOr, Active: true, Conditions: []models.Condition{contains("makemytrip")}}},
		txs: []models.Transaction{
			{ID: 1, Description: "MAKEMYTRIP BOOKING", Amount: decimal.NewFromInt(5000), Type: models.Debit,
				Category: models.CategoryTravel, IsManuallyEdited: true, EditedBy: &editor, LastEditedAt: &now},
			{ID: 2, Description: "MAKEMYTRIP HOTEL", Amount: decimal.NewFromInt(3000), Type: models.Debit, Category: models.CategoryOther},
			{ID: 3, Description: "SELF TRANSFER", Amount: decimal.NewFromInt(10), Type: models.Debit, Category: models.CategoryOther},
		},
	}

	report, err := Reapply(context.Background(), store, 1, 1)
	if err != nil {
		t.Fatalf("Reapply: %v", err)
	}
	if report.Examined != 3 || len(report.Manual) != 1 || len(report.Changes) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if store.txs[0].Category != models.CategoryTravel {
		t.Errorf("manual edit overwritten: got %s", store.txs[0].Category)
	}
	if store.txs[1].Category != models.CategoryFood {
		t.Errorf("rule not applied: got %s", store.txs[1].Category)
	}
	if !store.applied {
		t.Error("statements not marked as rules applied")
	}

	// A second run changes nothing.
	store.updated = nil
	report, err = Reapply(context.Background(), store, 1, 1)
	if err != nil {
		t.Fatalf("Reapply: %v", err)
	}
	if len(report.Changes) != 0 || len(store.updated) != 0 {
		t.Errorf("second run should be a no-op, got %d changes, %d updates", len(report.Changes), len(store.updated))
	}
}

func TestReapply_SnapshotError(t *testing.T) {
	boom := errors.New("db down")
	_, err := Reapply(context.Background(), &memStore{rulesErr: boom}, 1, 1)
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want wrapped %v", err, boom)
	}
}
