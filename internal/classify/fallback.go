package classify

import (
	"strings"

	"github.com/insightdelivered/statement-analyzer/internal/models"
)

type keywordGroup struct {
	category models.Category
	keywords []string
}

// debitKeywords is checked in order; the first group with a hit wins.
var debitKeywords = []keywordGroup{
	{models.CategoryFood, []string{"restaurant", "cafe", "grocery", "zomato", "swiggy", "food", "bakery", "pizza", "dominos", "bigbasket", "blinkit", "zepto"}},
	{models.CategoryShopping, []string{"amazon", "flipkart", "myntra", "mall", "ajio", "meesho", "nykaa", "store", "mart"}},
	{models.CategoryBills, []string{"electricity", "bill", "recharge", "broadband", "water", "gas", "dth", "insurance", "airtel", "jio", "bsnl"}},
	{models.CategoryTransport, []string{"uber", "ola", "rapido", "petrol", "fuel", "metro", "fastag", "parking"}},
	{models.CategoryLoan, []string{"emi", "loan", "nach"}},
	{models.CategoryEntertainment, []string{"netflix", "spotify", "hotstar", "movie", "bookmyshow", "pvr", "inox"}},
	{models.CategoryHealthcare, []string{"hospital", "pharmacy", "clinic", "medical", "apollo", "doctor", "lab"}},
	{models.CategoryTravel, []string{"irctc", "makemytrip", "goibibo", "flight", "airline", "railway", "hotel", "oyo"}},
}

// KeywordFallback is the last classification step. Credits are income;
// debits take the first matching keyword group, else OTHER.
func KeywordFallback(description string, txType models.TransactionType) models.Category {
	if txType == models.Credit {
		return models.CategoryIncome
	}
	desc := strings.ToLower(description)
	for _, g := range debitKeywords {
		for _, kw := range g.keywords {
			if strings.Contains(desc, kw) {
				return g.category
			}
		}
	}
	return models.CategoryOther
}
