package models

// ScanResult is the six-field mapping the inference provider is instructed
// to return for a receipt image. Fields the model could not determine come
// back null/empty; the amount pointer keeps "unknown" distinct from zero.
type ScanResult struct {
	Amount      *float64 `json:"amount"`
	Currency    string   `json:"currency"`
	Date        string   `json:"date"`
	Merchant    string   `json:"merchant"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
}

// ExpensePrefill is the form-ready view of a scan: category normalized with
// an "other" fallback and the date validated against YYYY-MM-DD.
type ExpensePrefill struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Date        string  `json:"date"`
	Merchant    string  `json:"merchant"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
}
