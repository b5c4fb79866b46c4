package domain

import "strings"

// Category is the closed classification enumeration. Anything a capability
// returns outside this set is coerced to CategoryOther.
type Category string

const (
	CategoryIncome     Category = "income"
	CategoryDeductions Category = "deductions"
	CategoryExpenses   Category = "expenses"
	CategoryBanking    Category = "banking"
	CategoryProperty   Category = "property"
	CategoryIdentity   Category = "identity"
	CategoryOther      Category = "other"
)

// SubcategoryUnclassified is the fallback subcategory paired with
// CategoryOther when a classifier response cannot be mapped.
const SubcategoryUnclassified = "Unclassified"

// Categories lists every valid category, in display order.
func Categories() []Category {
	return []Category{
		CategoryIncome,
		CategoryDeductions,
		CategoryExpenses,
		CategoryBanking,
		CategoryProperty,
		CategoryIdentity,
		CategoryOther,
	}
}

// ParseCategory maps a raw classifier value onto the closed enumeration.
// Unknown values coerce to CategoryOther; ok reports whether the input was
// already a member.
func ParseCategory(raw string) (Category, bool) {
	switch Category(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryIncome:
		return CategoryIncome, true
	case CategoryDeductions:
		return CategoryDeductions, true
	case CategoryExpenses:
		return CategoryExpenses, true
	case CategoryBanking:
		return CategoryBanking, true
	case CategoryProperty:
		return CategoryProperty, true
	case CategoryIdentity:
		return CategoryIdentity, true
	case CategoryOther:
		return CategoryOther, true
	}
	return CategoryOther, false
}

// StructuredFormTypes are the subcategories with a dedicated field-extraction
// pass. Other subcategories reuse the field list classification produced.
var StructuredFormTypes = []string{"W-2", "1099-INT", "1099-DIV", "1098", "1099-MISC", "1099-NEC", "K-1"}

// IsStructuredFormType reports whether the subcategory has a known form layout.
func IsStructuredFormType(subcategory string) bool {
	for _, formType := range StructuredFormTypes {
		if strings.EqualFold(formType, strings.TrimSpace(subcategory)) {
			return true
		}
	}
	return false
}

// ClassificationResult is the classifier capability's output for one document.
type ClassificationResult struct {
	Category        Category         `json:"category"`
	Subcategory     string           `json:"subcategory"`
	Confidence      float64          `json:"confidence"`
	TaxYear         *int             `json:"taxYear,omitempty"`
	ExtractedFields []ExtractedField `json:"extractedFields"`
	Summary         string           `json:"summary"`
}

// ExtractedField is one named value pulled from a document, with a 0-100
// confidence score.
type ExtractedField struct {
	FieldName  string  `json:"fieldName"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}
