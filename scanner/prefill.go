package scanner

import (
	"strings"
	"time"

	"tripledgerapi/models"
)

var dateFormat = "2006-01-02"

// Prefill maps a scan result into form state. Amount and merchant pass
// through, the category is lower-cased with an "other" fallback, and the
// date is only kept when it already matches YYYY-MM-DD.
func Prefill(result *models.ScanResult) models.ExpensePrefill {
	prefill := models.ExpensePrefill{
		Currency:    strings.ToUpper(strings.TrimSpace(result.Currency)),
		Merchant:    strings.TrimSpace(result.Merchant),
		Category:    normalizeCategory(result.Category),
		Description: strings.TrimSpace(result.Description),
	}

	if result.Amount != nil {
		prefill.Amount = *result.Amount
	}

	if _, err := time.Parse(dateFormat, result.Date); err == nil {
		prefill.Date = result.Date
	}

	return prefill
}

func normalizeCategory(category string) string {
	category = strings.ToLower(strings.TrimSpace(category))

	for _, c := range models.Categories {
		if c == category {
			return category
		}
	}

	return models.CategoryOther
}
