package models

import "time"

// Expense categories the scanner and the form agree on. Unknown values
// collapse to CategoryOther.
const (
	CategoryFood          = "food"
	CategoryTransport     = "transport"
	CategoryAccommodation = "accommodation"
	CategoryFlight        = "flight"
	CategoryShopping      = "shopping"
	CategoryEntertainment = "entertainment"
	CategoryOther         = "other"
)

var Categories = []string{
	CategoryFood,
	CategoryTransport,
	CategoryAccommodation,
	CategoryFlight,
	CategoryShopping,
	CategoryEntertainment,
	CategoryOther,
}

type ExpenseList struct {
	Expenses []Expense `json:"expenses"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
	Total    int32     `json:"total"`
}

type ExpenseFilter struct {
	MinDate   string `json:"min_date"`
	MaxDate   string `json:"max_date"`
	Expense   `json:"expense"`
	MinAmount float64 `json:"min_amount"`
	MaxAmount float64 `json:"max_amount"`
}

type Expense struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Id          string    `json:"id"`
	TripId      string    `json:"trip_id"`
	UserId      string    `json:"user_id"`
	Merchant    string    `json:"merchant"`
	Category    string    `json:"category"`
	Date        string    `json:"date"`
	Description string    `json:"description"`
	ReceiptUrl  string    `json:"receipt_url"`
	Amount      float64   `json:"amount"`
}

// ExpenseResult reports the primary write together with the status of its
// secondary effects, so callers can tell "fully consistent" apart from
// "saved, but the receipt or the running total did not make it".
type ExpenseResult struct {
	Expense         Expense `json:"expense"`
	ReceiptUploaded bool    `json:"receipt_uploaded"`
	TotalApplied    bool    `json:"total_applied"`
}

type DeleteExpensesResult struct {
	Message      string `json:"message"`
	Deleted      int    `json:"deleted"`
	TotalApplied bool   `json:"total_applied"`
}

type ExpenseReport struct {
	TripId  string                `json:"trip_id"`
	Total   float64               `json:"total"`
	Reports []CategoryTotalReport `json:"reports"`
}

type CategoryTotalReport struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
}

type UpsertExpenseRequest struct {
	Data []Expense `json:"data"`
}
