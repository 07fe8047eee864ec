package rules

import "github.com/insightdelivered/statement-analyzer/internal/models"

type globalRule struct {
	name     string
	category models.Category
	keywords []string
}

// globalRules are the starter rules every user can be seeded with.
var globalRules = []globalRule{
	{"Salary", models.CategoryIncome, []string{"salary", "payroll"}},
	{"Food Delivery", models.CategoryFood, []string{"swiggy", "zomato", "dominos", "eatsure"}},
	{"Groceries", models.CategoryFood, []string{"bigbasket", "blinkit", "zepto", "dmart", "grocery"}},
	{"Online Shopping", models.CategoryShopping, []string{"amazon", "flipkart", "myntra", "ajio", "meesho", "nykaa"}},
	{"Utilities", models.CategoryBills, []string{"electricity", "kseb", "bescom", "broadband", "recharge", "airtel", "jio", "bsnl"}},
	{"Rides and Fuel", models.CategoryTransport, []string{"uber", "ola", "rapido", "petrol", "fuel", "fastag"}},
	{"Loan EMI", models.CategoryLoan, []string{"loan emi", "emi payment", "loan", "nach"}},
	{"Streaming and Movies", models.CategoryEntertainment, []string{"netflix", "hotstar", "prime video", "spotify", "bookmyshow"}},
	{"Pharmacy and Hospital", models.CategoryHealthcare, []string{"pharmacy", "hospital", "apollo", "medplus", "1mg"}},
	{"Travel Bookings", models.CategoryTravel, []string{"irctc", "makemytrip", "goibibo", "indigo", "air india", "oyo"}},
}

// GlobalRuleSet returns the canonical rule set for userID, ready to be
// persisted. Rules are OR-combined CONTAINS keywords, prioritised in steps
// of ten so users can slot their own rules in between.
func GlobalRuleSet(userID uint) []models.Rule {
	rules := make([]models.Rule, 0, len(globalRules))
	for i, g := range globalRules {
		conds := make([]models.Condition, 0, len(g.keywords))
		for _, kw := range g.keywords {
			conds = append(conds, models.KeywordCondition{Text: kw, Mode: models.MatchContains})
		}
		rules = append(rules, models.Rule{
			UserID:     userID,
			Name:       g.name,
			Category:   g.category,
			Logic:      models.LogicOr,
			Active:     true,
			Priority:   (i + 1) * 10,
			Conditions: conds,
		})
	}
	return rules
}
