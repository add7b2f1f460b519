package model

import "strings"

// DocumentCategory is the kind of obligation a document represents.
type DocumentCategory string

// Document category constants.
const (
	CategoryUtility      DocumentCategory = "utility"
	CategoryTelecom      DocumentCategory = "telecom"
	CategoryRent         DocumentCategory = "rent"
	CategoryInsurance    DocumentCategory = "insurance"
	CategorySubscription DocumentCategory = "subscription"
	CategoryFuel         DocumentCategory = "fuel"
	CategoryGrocery      DocumentCategory = "grocery"
	CategoryRetail       DocumentCategory = "retail"
	CategoryOther        DocumentCategory = "other"
)

type categoryProfile struct {
	weight        float64
	variableSpend bool
}

// categoryProfiles maps each category to how strongly it suggests a recurring bill.
// New categories are added here; nothing else needs to change.
var categoryProfiles = map[DocumentCategory]categoryProfile{
	CategoryUtility:      {weight: 1.0},
	CategoryTelecom:      {weight: 1.0},
	CategoryRent:         {weight: 1.0},
	CategorySubscription: {weight: 0.95},
	CategoryInsurance:    {weight: 0.9},
	CategoryOther:        {weight: 0.5},
	CategoryFuel:         {weight: 0.2, variableSpend: true},
	CategoryGrocery:      {weight: 0.2, variableSpend: true},
	CategoryRetail:       {weight: 0.2, variableSpend: true},
}

// ParseDocumentCategory normalizes a free-form category name. Unknown names map to CategoryOther.
func ParseDocumentCategory(s string) DocumentCategory {
	c := DocumentCategory(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := categoryProfiles[c]; ok {
		return c
	}
	return CategoryOther
}

// RecurrenceWeight returns the category's contribution to a candidate's confidence, in [0,1].
func (c DocumentCategory) RecurrenceWeight() float64 {
	if p, ok := categoryProfiles[c]; ok {
		return p.weight
	}
	return categoryProfiles[CategoryOther].weight
}

// IsVariableSpend reports whether documents of this category are ad-hoc purchases
// that should produce a warning rather than a recurring suggestion.
func (c DocumentCategory) IsVariableSpend() bool {
	return categoryProfiles[c].variableSpend
}
