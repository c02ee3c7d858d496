package enrichment

import "strings"

type CategoryName string

const (
	Groceries     CategoryName = "Groceries"
	Dining        CategoryName = "Dining"
	Transport     CategoryName = "Transport"
	Fuel          CategoryName = "Fuel"
	Electronics   CategoryName = "Electronics"
	Clothing      CategoryName = "Clothing"
	Health        CategoryName = "Health"
	Household     CategoryName = "Household"
	Entertainment CategoryName = "Entertainment"
	Utilities     CategoryName = "Utilities"
	Other         CategoryName = "Other"
)

var allCategories = []CategoryName{
	Groceries,
	Dining,
	Transport,
	Fuel,
	Electronics,
	Clothing,
	Health,
	Household,
	Entertainment,
	Utilities,
	Other,
}

// synonyms maps lowercase keywords to categories
var synonyms = map[string]CategoryName{
	"bread":       Groceries,
	"milk":        Groceries,
	"cheese":      Groceries,
	"eggs":        Groceries,
	"fruit":       Groceries,
	"vegetables":  Groceries,
	"supermarket": Groceries,
	"coffee":      Dining,
	"tea":         Dining,
	"restaurant":  Dining,
	"pizza":       Dining,
	"burger":      Dining,
	"lunch":       Dining,
	"taxi":        Transport,
	"bus":         Transport,
	"metro":       Transport,
	"ticket":      Transport,
	"petrol":      Fuel,
	"diesel":      Fuel,
	"gasoline":    Fuel,
	"charger":     Electronics,
	"cable":       Electronics,
	"headphones":  Electronics,
	"phone":       Electronics,
	"shirt":       Clothing,
	"shoes":       Clothing,
	"jacket":      Clothing,
	"pharmacy":    Health,
	"medicine":    Health,
	"vitamin":     Health,
	"detergent":   Household,
	"soap":        Household,
	"cinema":      Entertainment,
	"concert":     Entertainment,
	"electricity": Utilities,
	"water bill":  Utilities,
	"internet":    Utilities,
}

// CategoryNames returns the canonical category names.
func CategoryNames() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

// Canonicalize maps free text to a canonical category. The boolean is false
// when nothing matched and Other is returned as a placeholder.
func Canonicalize(input string) (CategoryName, bool) {
	if input == "" {
		return Other, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	if cat, ok := synonyms[normalized]; ok {
		return cat, true
	}

	for _, cat := range allCategories {
		if normalized == strings.ToLower(string(cat)) {
			return cat, true
		}
	}

	return Other, false
}
