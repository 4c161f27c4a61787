package controllers

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tripledgerapi/models"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/lib/pq"
)

func (api *API) GetTrips(c *gin.Context) {
	u := ParsePayload(c)
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	order := c.Query("order")

	activeOnly, _ := strconv.ParseBool(c.Query("active_only"))

	filter := models.TripFilter{
		Trip: models.Trip{
			UserId:      c.Query("user_id"),
			Name:        c.Query("name"),
			Destination: c.Query("destination"),
		},
		MinStartDate: c.Query("min_start_date"),
		MaxStartDate: c.Query("max_start_date"),
		ActiveOnly:   activeOnly,
	}

	if u.Role == string(models.Customer) {
		filter.UserId = u.Id
	}

	if page < 1 {
		page = 1
	}

	if limit < 1 {
		limit = 20
	}

	if strings.ToUpper(order) != "ASC" && strings.ToUpper(order) != "DESC" {
		order = "DESC"
	}

	countQ := `SELECT COUNT(1) FROM trips WHERE NOT deleted`
	selectQ := `SELECT
			id, user_id, name, destination, description, start_date, end_date,
			budget, total_spent, active, cover_url, created_at, updated_at
		FROM trips WHERE NOT deleted`

	filterQ, stms := getFilterTrip(filter)

	selectQ = selectQ + filterQ
	countQ = countQ + filterQ

	offset := (page - 1) * limit
	pagination := fmt.Sprintf(" LIMIT %d OFFSET %d ", limit, offset)
	orderVal := fmt.Sprintf(" ORDER BY start_date %s NULLS LAST, created_at %s", order, order)

	var tripList models.TripList
	var trips []models.Trip

	rows, err := api.Db.Query(selectQ+orderVal+pagination, stms...)
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	defer rows.Close()

	for rows.Next() {
		var trip models.Trip

		var destination, description, coverUrl sql.NullString
		var budget, totalSpent sql.NullFloat64
		var startDate, endDate sql.NullTime

		err = rows.Scan(&trip.Id, &trip.UserId, &trip.Name, &destination, &description,
			&startDate, &endDate, &budget, &totalSpent, &trip.Active, &coverUrl,
			&trip.CreatedAt, &trip.UpdatedAt)
		if err != nil {
			log.Println(err)
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}

		trip.Destination = destination.String
		trip.Description = description.String
		trip.CoverUrl = coverUrl.String
		trip.Budget = budget.Float64
		trip.TotalSpent = totalSpent.Float64

		if startDate.Valid {
			trip.StartDate = startDate.Time.Format(dateFormat)
		}

		if endDate.Valid {
			trip.EndDate = endDate.Time.Format(dateFormat)
		}

		trips = append(trips, trip)
	}

	tripList.Total, err = api.GetTotal(countQ, stms)
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	tripList.Trips = trips
	tripList.Limit = limit
	tripList.Page = page

	c.JSON(http.StatusOK, tripList)
}

func (api *API) UpsertTrips(c *gin.Context) {
	u := ParsePayload(c)
	var payload models.UpsertTripRequest

	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Println(err)
		sendError(c, http.StatusBadRequest, err.Error())
		return
	}

	trips := payload.Data
	if len(trips) == 0 {
		sendError(c, http.StatusBadRequest, "missing-trips")
		return
	}

	var errTrips []models.RowError
	tx, err := api.Db.Begin()
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	defer tx.Rollback()

	customer := u.Role == string(models.Customer)

	for i, trip := range trips {
		if customer {
			trip.UserId = u.Id
		}

		if _, err := uuid.FromString(trip.Id); err != nil {
			trip.Id = uuid.Must(uuid.NewV4()).String()
		}

		if err := validateTrip(&trip); err != nil {
			errTrips = append(errTrips, models.RowError{Row: i + 1, Message: err.Error()})
			continue
		}

		// total_spent is owned by the expense write path; an upsert never
		// touches it.
		if _, err := tx.Exec(`
		INSERT INTO trips
		(id, user_id, name, destination, description, start_date, end_date, budget, active, cover_url, total_spent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::date, NULLIF($7, '')::date, $8, $9, $10, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
		user_id = $2, name = $3, destination = $4, description = $5, start_date = NULLIF($6, '')::date,
		end_date = NULLIF($7, '')::date, budget = $8, active = $9, cover_url = $10, updated_at = CURRENT_TIMESTAMP, deleted = false
		`, trip.Id, trip.UserId, trip.Name, trip.Destination, trip.Description,
			trip.StartDate, trip.EndDate, trip.Budget, trip.Active, trip.CoverUrl); err != nil {
			log.Println(err)
			errTrips = append(errTrips, models.RowError{Row: i + 1, Message: err.Error()})
			continue
		}
	}

	code := http.StatusInternalServerError
	obj := gin.H{"message": "error", "details": errTrips}

	if len(errTrips) == 0 {
		if err := tx.Commit(); err != nil {
			log.Println(err)
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}

		code = http.StatusOK
		obj = gin.H{"message": "success", "total": len(trips)}
	}

	c.JSON(code, obj)
}

func (api *API) DeleteTrips(c *gin.Context) {
	u := ParsePayload(c)
	var req models.BatchDeleteRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		log.Println(err)
		sendError(c, http.StatusBadRequest, err.Error())
		return
	}

	ids := req.Data
	if len(ids) == 0 {
		sendError(c, http.StatusBadRequest, "missing-data")
		return
	}

	var errInvalid []models.RowError
	for i, id := range ids {
		if _, err := uuid.FromString(id); err != nil {
			errInvalid = append(errInvalid, models.RowError{
				Row:     i,
				Message: "invalid-id",
			})
		}
	}

	if len(errInvalid) > 0 {
		c.JSON(http.StatusBadRequest, models.RowResponseError{
			Message: "error",
			Detail:  errInvalid,
		})
		return
	}

	tx, err := api.Db.Begin()
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	defer tx.Rollback()

	var q string
	var stms = []interface{}{pq.Array(ids)}

	if u.Role == string(models.Customer) {
		q = " AND user_id = $2"
		stms = append(stms, u.Id)
	}

	// expenses keep a weak reference to the trip; no cascading delete
	tag, err := tx.Exec(`UPDATE trips SET deleted = true WHERE id = ANY($1) AND NOT deleted`+q, stms...)
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	t, _ := tag.RowsAffected()
	if int(t) != len(ids) {
		sendError(c, http.StatusNotFound, fmt.Sprintf("expected-%d-deleted-but-got-%d", len(ids), t))
		return
	}

	if err := tx.Commit(); err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusOK, genericOK)
}

// RecalculateTotals re-derives total_spent for every trip of the caller from
// the expenses table and overwrites whatever drift the delta path left
// behind. Running it twice with no writes in between is a no-op.
func (api *API) RecalculateTotals(c *gin.Context) {
	u := ParsePayload(c)

	rows, err := api.Db.Query(`SELECT id FROM trips WHERE user_id = $1 AND NOT deleted`, u.Id)
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	defer rows.Close()

	var tripIds []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			log.Println(err)
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}
		tripIds = append(tripIds, id)
	}

	updated := 0
	for _, tripId := range tripIds {
		var total float64
		if err := api.Db.QueryRow(`SELECT COALESCE(SUM(amount), 0) FROM expenses WHERE trip_id = $1 AND NOT deleted`, tripId).Scan(&total); err != nil {
			log.Println(err)
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}

		if _, err := api.Db.Exec(`UPDATE trips SET total_spent = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`, total, tripId); err != nil {
			log.Println(err)
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}

		updated++
	}

	c.JSON(http.StatusOK, models.RecalculateResponse{Message: "ok", Updated: updated})
}

func (api *API) getTrip(tripId, userId, role string) (trip models.Trip, err error) {
	q := `SELECT id, user_id, name, destination, description, start_date, end_date,
			budget, total_spent, active, cover_url, created_at, updated_at
		FROM trips WHERE id = $1 AND NOT deleted`
	stms := []interface{}{tripId}

	if role == string(models.Customer) {
		q += " AND user_id = $2"
		stms = append(stms, userId)
	}

	var destination, description, coverUrl sql.NullString
	var budget, totalSpent sql.NullFloat64
	var startDate, endDate sql.NullTime

	err = api.Db.QueryRow(q, stms...).Scan(&trip.Id, &trip.UserId, &trip.Name,
		&destination, &description, &startDate, &endDate, &budget, &totalSpent,
		&trip.Active, &coverUrl, &trip.CreatedAt, &trip.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			err = errors.New("trip-not-found")
		}
		return
	}

	trip.Destination = destination.String
	trip.Description = description.String
	trip.CoverUrl = coverUrl.String
	trip.Budget = budget.Float64
	trip.TotalSpent = totalSpent.Float64

	if startDate.Valid {
		trip.StartDate = startDate.Time.Format(dateFormat)
	}

	if endDate.Valid {
		trip.EndDate = endDate.Time.Format(dateFormat)
	}

	return
}

func getFilterTrip(filter models.TripFilter) (filterQ string, stms []interface{}) {
	if _, err := uuid.FromString(filter.UserId); err == nil {
		filterQ = fmt.Sprintf(" AND user_id = $%d", len(stms)+1)
		stms = append(stms, filter.UserId)
	}

	if filter.Name != "" {
		filterQ += fmt.Sprintf(" AND name ILIKE $%d", len(stms)+1)
		stms = append(stms, "%"+filter.Name+"%")
	}

	if filter.Destination != "" {
		filterQ += fmt.Sprintf(" AND destination ILIKE $%d", len(stms)+1)
		stms = append(stms, "%"+filter.Destination+"%")
	}

	if filter.ActiveOnly {
		filterQ += " AND active"
	}

	if date, err := time.Parse(dateFormat, filter.MinStartDate); err == nil {
		filterQ += fmt.Sprintf(" AND start_date >= $%d", len(stms)+1)
		stms = append(stms, date)
	}

	if date, err := time.Parse(dateFormat, filter.MaxStartDate); err == nil {
		filterQ += fmt.Sprintf(" AND start_date <= $%d", len(stms)+1)
		stms = append(stms, date)
	}

	return
}

func validateTrip(trip *models.Trip) error {
	if trip.Name == "" {
		return errors.New("missing-name")
	}

	if _, err := uuid.FromString(trip.UserId); err != nil {
		return errors.New("invalid-user-id")
	}

	if trip.Budget < 0 {
		return errors.New("invalid-budget")
	}

	var start, end time.Time
	var err error

	if trip.StartDate != "" {
		if start, err = time.Parse(dateFormat, trip.StartDate); err != nil {
			return errors.New("invalid-start-date(yyyy-mm-dd)")
		}
	}

	if trip.EndDate != "" {
		if end, err = time.Parse(dateFormat, trip.EndDate); err != nil {
			return errors.New("invalid-end-date(yyyy-mm-dd)")
		}
	}

	if trip.StartDate != "" && trip.EndDate != "" && end.Before(start) {
		return errors.New("end-date-before-start-date")
	}

	return nil
}
