package models

import "time"

type TripList struct {
	Trips []Trip `json:"trips"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
	Total int32  `json:"total"`
}

type TripFilter struct {
	MinStartDate string `json:"min_start_date"`
	MaxStartDate string `json:"max_start_date"`
	Trip         `json:"trip"`
	ActiveOnly   bool `json:"active_only"`
}

type Trip struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Id          string    `json:"id"`
	UserId      string    `json:"user_id"`
	Name        string    `json:"name"`
	Destination string    `json:"destination"`
	Description string    `json:"description"`
	StartDate   string    `json:"start_date"`
	EndDate     string    `json:"end_date"`
	CoverUrl    string    `json:"cover_url"`
	Budget      float64   `json:"budget"`
	TotalSpent  float64   `json:"total_spent"`
	Active      bool      `json:"active"`
}

type UpsertTripRequest struct {
	Data []Trip `json:"data"`
}

type RecalculateResponse struct {
	Message string `json:"message"`
	Updated int    `json:"updated"`
}
