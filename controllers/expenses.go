package controllers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tripledgerapi/models"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/lib/pq"
)

func (api *API) GetExpenses(c *gin.Context) {
	u := ParsePayload(c)
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	order := c.Query("order")
	orderBy := c.Query("order_by")

	amount, _ := strconv.ParseFloat(c.Query("amount"), 64)
	minAmount, _ := strconv.ParseFloat(c.Query("min_amount"), 64)
	maxAmount, _ := strconv.ParseFloat(c.Query("max_amount"), 64)

	filter := models.ExpenseFilter{
		Expense: models.Expense{
			UserId:   c.Query("user_id"),
			TripId:   c.Query("trip_id"),
			Merchant: c.Query("merchant"),
			Category: c.Query("category"),
			Amount:   amount,
			Date:     c.Query("date"),
		},
		MinDate:   c.Query("min_date"),
		MaxDate:   c.Query("max_date"),
		MinAmount: minAmount,
		MaxAmount: maxAmount,
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

	mapOrderBy := map[string]string{
		"id":         "id",
		"trip_id":    "trip_id",
		"merchant":   "merchant",
		"category":   "category",
		"date":       "date",
		"amount":     "amount",
		"user_id":    "user_id",
		"created_at": "created_at",
		"updated_at": "updated_at",
	}

	if val, ok := mapOrderBy[orderBy]; ok {
		orderBy = val
	} else {
		orderBy = "date"
	}

	countQ := `SELECT COUNT(1) FROM expenses WHERE NOT deleted`
	selectQ := `SELECT
			id, trip_id, user_id, merchant, category, date, description,
			receipt_url, amount, created_at, updated_at
		FROM expenses WHERE NOT deleted`

	var expenseList models.ExpenseList
	var expenses []models.Expense
	var err error

	filterQ, stms := getFilterExpense(filter)

	selectQ = selectQ + filterQ
	countQ = countQ + filterQ

	offset := (page - 1) * limit
	pagination := fmt.Sprintf(" LIMIT %d OFFSET %d ", limit, offset)

	// creation order breaks date ties so the feed is stable
	orderVal := fmt.Sprintf(" ORDER BY %s %s, created_at %s", orderBy, order, order)

	rows, err := api.Db.Query(selectQ+orderVal+pagination, stms...)
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	defer rows.Close()

	for rows.Next() {
		var expense models.Expense

		var merchant, category, description, receiptUrl, userId sql.NullString
		var amount sql.NullFloat64
		var date sql.NullTime

		err = rows.Scan(&expense.Id, &expense.TripId, &userId, &merchant, &category,
			&date, &description, &receiptUrl, &amount, &expense.CreatedAt, &expense.UpdatedAt)
		if err != nil {
			log.Println(err)
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}

		expense.UserId = userId.String
		expense.Merchant = merchant.String
		expense.Category = category.String
		expense.Description = description.String
		expense.ReceiptUrl = receiptUrl.String
		expense.Amount = amount.Float64

		if date.Valid {
			expense.Date = date.Time.Format(dateFormat)
		}

		expenses = append(expenses, expense)
	}

	expenseList.Total, err = api.GetTotal(countQ, stms)
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	expenseList.Expenses = expenses
	expenseList.Limit = limit
	expenseList.Page = page

	c.JSON(http.StatusOK, expenseList)
}

// GetExpensesReport returns per-category totals for one trip, descending,
// which backs the summary charts and the top-N breakdown.
func (api *API) GetExpensesReport(c *gin.Context) {
	u := ParsePayload(c)
	tripId := c.Query("trip_id")

	if _, err := uuid.FromString(tripId); err != nil {
		sendError(c, http.StatusBadRequest, "invalid-trip-id")
		return
	}

	if u.Role == string(models.Customer) {
		owned, err := api.tripOwnedBy(tripId, u.Id)
		if err != nil {
			log.Println(err)
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}

		if !owned {
			sendError(c, http.StatusNotFound, "trip-not-found")
			return
		}
	}

	report := models.ExpenseReport{TripId: tripId}

	rows, err := api.Db.Query(`
		SELECT category, SUM(amount) FROM expenses
		WHERE trip_id = $1 AND NOT deleted
		GROUP BY category
		ORDER BY SUM(amount) DESC`, tripId)
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	defer rows.Close()

	for rows.Next() {
		var category sql.NullString
		var total sql.NullFloat64

		if err := rows.Scan(&category, &total); err != nil {
			log.Println(err)
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}

		report.Reports = append(report.Reports, models.CategoryTotalReport{
			Category: category.String,
			Total:    total.Float64,
		})
		report.Total += total.Float64
	}

	c.JSON(http.StatusOK, report)
}

// CreateExpense accepts a multipart form: a "data" JSON part plus an
// optional "receipt" image. The receipt upload and the trip-total delta are
// secondary effects; either can fail without failing the save, and the
// response flags report what actually happened.
func (api *API) CreateExpense(c *gin.Context) {
	u := ParsePayload(c)

	data := c.PostForm("data")
	if data == "" {
		sendError(c, http.StatusBadRequest, "missing-data")
		return
	}

	var expense models.Expense
	if err := json.Unmarshal([]byte(data), &expense); err != nil {
		log.Println(err)
		sendError(c, http.StatusBadRequest, err.Error())
		return
	}

	if u.Role == string(models.Customer) {
		expense.UserId = u.Id
	}

	if _, err := uuid.FromString(expense.Id); err != nil {
		expense.Id = uuid.Must(uuid.NewV4()).String()
	}

	if err := validateExpense(&expense); err != nil {
		sendError(c, http.StatusBadRequest, err.Error())
		return
	}

	owned, err := api.tripOwnedBy(expense.TripId, expense.UserId)
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	if !owned {
		sendError(c, http.StatusNotFound, "trip-not-found")
		return
	}

	result := models.ExpenseResult{}

	if file, err := c.FormFile("receipt"); err == nil && api.Receipts != nil {
		url, err := api.uploadReceipt(c, file)
		if err != nil {
			// the record matters more than the attachment
			log.Println("receipt upload failed:", err)
		} else {
			expense.ReceiptUrl = url
			result.ReceiptUploaded = true
		}
	}

	if err := api.insertExpense(&expense); err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	result.TotalApplied = true
	if err := api.applyTripDelta(expense.TripId, expense.Amount); err != nil {
		log.Println("total increment failed:", err)
		result.TotalApplied = false
	}

	result.Expense = expense
	c.JSON(http.StatusOK, result)
}

func (api *API) UpdateExpense(c *gin.Context) {
	u := ParsePayload(c)
	expenseId := c.Param("id")

	if _, err := uuid.FromString(expenseId); err != nil {
		sendError(c, http.StatusBadRequest, "invalid-id")
		return
	}

	var expense models.Expense
	if err := c.ShouldBindJSON(&expense); err != nil {
		log.Println(err)
		sendError(c, http.StatusBadRequest, err.Error())
		return
	}

	expense.Id = expenseId

	q := `SELECT trip_id, user_id, amount FROM expenses WHERE id = $1 AND NOT deleted`
	stms := []interface{}{expenseId}

	if u.Role == string(models.Customer) {
		q += " AND user_id = $2"
		stms = append(stms, u.Id)
	}

	var oldAmount float64
	if err := api.Db.QueryRow(q, stms...).Scan(&expense.TripId, &expense.UserId, &oldAmount); err != nil {
		if err == sql.ErrNoRows {
			sendError(c, http.StatusNotFound, "expense-not-found")
			return
		}

		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	if err := validateExpense(&expense); err != nil {
		sendError(c, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := api.Db.Exec(`
		UPDATE expenses SET merchant = $1, amount = $2, category = $3, date = $4,
			description = $5, updated_at = CURRENT_TIMESTAMP
		WHERE id = $6 AND NOT deleted`,
		expense.Merchant, expense.Amount, expense.Category, expense.Date,
		expense.Description, expenseId); err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	result := models.ExpenseResult{Expense: expense, TotalApplied: true}

	if delta := expense.Amount - oldAmount; delta != 0 {
		if err := api.applyTripDelta(expense.TripId, delta); err != nil {
			log.Println("total adjustment failed:", err)
			result.TotalApplied = false
		}
	}

	c.JSON(http.StatusOK, result)
}

func (api *API) DeleteExpenses(c *gin.Context) {
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

	rows, err := tx.Query(`UPDATE expenses SET deleted = true WHERE id = ANY($1) AND NOT deleted`+q+` RETURNING trip_id, amount`, stms...)
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	deltas := map[string]float64{}
	deleted := 0

	for rows.Next() {
		var tripId string
		var amount float64

		if err := rows.Scan(&tripId, &amount); err != nil {
			rows.Close()
			log.Println(err)
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}

		deltas[tripId] -= amount
		deleted++
	}

	rows.Close()

	if deleted != len(ids) {
		sendError(c, http.StatusNotFound, fmt.Sprintf("expected-%d-deleted-but-got-%d", len(ids), deleted))
		return
	}

	if err := tx.Commit(); err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	totalApplied := true
	for tripId, delta := range deltas {
		if err := api.applyTripDelta(tripId, delta); err != nil {
			log.Println("total adjustment failed:", err)
			totalApplied = false
		}
	}

	c.JSON(http.StatusOK, models.DeleteExpensesResult{
		Message:      "ok",
		Deleted:      deleted,
		TotalApplied: totalApplied,
	})
}

func (api *API) insertExpense(expense *models.Expense) error {
	var receiptUrl interface{}
	if expense.ReceiptUrl != "" {
		receiptUrl = expense.ReceiptUrl
	}

	_, err := api.Db.Exec(`
		INSERT INTO expenses
		(id, trip_id, user_id, merchant, amount, category, date, description, receipt_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		expense.Id, expense.TripId, expense.UserId, expense.Merchant, expense.Amount,
		expense.Category, expense.Date, expense.Description, receiptUrl)
	return err
}

func (api *API) uploadReceipt(c *gin.Context, file *multipart.FileHeader) (string, error) {
	f, err := file.Open()
	if err != nil {
		return "", err
	}

	defer f.Close()

	mimeType := file.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	return api.Receipts.Upload(c.Request.Context(), file.Filename, mimeType, f, file.Size)
}

func getFilterExpense(filter models.ExpenseFilter) (filterQ string, stms []interface{}) {
	if _, err := uuid.FromString(filter.UserId); err == nil {
		filterQ = fmt.Sprintf(" AND user_id = $%d", len(stms)+1)
		stms = append(stms, filter.UserId)
	}

	if _, err := uuid.FromString(filter.TripId); err == nil {
		filterQ += fmt.Sprintf(" AND trip_id = $%d", len(stms)+1)
		stms = append(stms, filter.TripId)
	}

	if filter.Merchant != "" {
		filterQ += fmt.Sprintf(" AND merchant ILIKE $%d", len(stms)+1)
		stms = append(stms, "%"+filter.Merchant+"%")
	}

	if filter.Category != "" {
		filterQ += fmt.Sprintf(" AND category = $%d", len(stms)+1)
		stms = append(stms, strings.ToLower(filter.Category))
	}

	if filter.Amount != 0 {
		filterQ += fmt.Sprintf(" AND amount = $%d", len(stms)+1)
		stms = append(stms, filter.Amount)
	}

	if date, err := time.Parse(dateFormat, filter.Date); err == nil {
		filterQ += fmt.Sprintf(" AND date = $%d", len(stms)+1)
		stms = append(stms, date)
	}

	if date, err := time.Parse(dateFormat, filter.MinDate); err == nil {
		filterQ += fmt.Sprintf(" AND date >= $%d", len(stms)+1)
		stms = append(stms, date)
	}

	if date, err := time.Parse(dateFormat, filter.MaxDate); err == nil {
		filterQ += fmt.Sprintf(" AND date <= $%d", len(stms)+1)
		stms = append(stms, date)
	}

	if filter.MinAmount != 0 {
		filterQ += fmt.Sprintf(" AND amount >= $%d", len(stms)+1)
		stms = append(stms, filter.MinAmount)
	}

	if filter.MaxAmount != 0 {
		filterQ += fmt.Sprintf(" AND amount <= $%d", len(stms)+1)
		stms = append(stms, filter.MaxAmount)
	}

	return
}

func validateExpense(expense *models.Expense) error {
	if expense.TripId == "" {
		return errors.New("missing-trip-id")
	}

	if _, err := uuid.FromString(expense.TripId); err != nil {
		return errors.New("invalid-trip-id")
	}

	if _, err := uuid.FromString(expense.UserId); err != nil {
		return errors.New("invalid-user-id")
	}

	if expense.Merchant == "" {
		return errors.New("missing-merchant")
	}

	if expense.Amount <= 0 {
		return errors.New("invalid-amount")
	}

	if expense.Date == "" {
		return errors.New("missing-date")
	}

	if _, err := time.Parse(dateFormat, expense.Date); err != nil {
		return errors.New("invalid-date(yyyy-mm-dd)")
	}

	expense.Category = strings.ToLower(expense.Category)

	valid := false
	for _, category := range models.Categories {
		if category == expense.Category {
			valid = true
			break
		}
	}

	if !valid {
		return errors.New("invalid-category")
	}

	return nil
}
