package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tripledgerapi/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"gotest.tools/assert"
)

var (
	mockTripID    = "3e80f025-ff3c-4b25-a7bc-883a3c432236"
	mockUserID    = "63eb226a-d612-412b-b8d4-a3e17b7d2227"
	mockExpenseID = "63eb226a-d612-412b-b8d4-a3e17b7d2226"

	mockPayload = fmt.Sprintf("{\"user\":{\"id\":\"%s\", \"role\":\"CUSTOMER\"}}", mockUserID)
)

type fakeReceiptStore struct {
	uploadUrl string
	uploadErr error
	fetchData map[string][]byte
	fetchErr  error
	uploads   int
}

func (s *fakeReceiptStore) Upload(ctx context.Context, filename, mimeType string, r io.Reader, size int64) (string, error) {
	s.uploads++
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	return s.uploadUrl, nil
}

func (s *fakeReceiptStore) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.fetchData[rawURL], nil
}

func expensePayload(t *testing.T, data string, withFile bool) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if data != "" {
		if err := w.WriteField("data", data); err != nil {
			t.Fatal(err)
		}
	}

	if withFile {
		fw, err := w.CreateFormFile("receipt", "receipt.jpg")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte("fake-image-bytes"))
	}

	w.Close()
	return &buf, w.FormDataContentType()
}

func TestCreateExpense(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.Equal(t, nil, err)

	api := NewAPI()
	api.Db = db

	var genericResp GenericResponse

	// missing data part (400)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	body, contentType := expensePayload(t, "", false)
	req, _ := http.NewRequest("POST", "", body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req
	api.CreateExpense(c)

	err = json.NewDecoder(w.Body).Decode(&genericResp)
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing-data", genericResp.Message)

	// invalid json (400)
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)

	body, contentType = expensePayload(t, "{not-json", false)
	req, _ = http.NewRequest("POST", "", body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req
	api.CreateExpense(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	// invalid expense (400)
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)

	data := fmt.Sprintf(`{"id":"%s","trip_id":"%s","amount":45,"category":"food","date":"2026-03-01"}`, mockExpenseID, mockTripID)
	body, contentType = expensePayload(t, data, false)
	req, _ = http.NewRequest("POST", "", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("payload", mockPayload)
	c.Request = req
	api.CreateExpense(c)

	err = json.NewDecoder(w.Body).Decode(&genericResp)
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing-merchant", genericResp.Message)

	// trip not owned by caller (404)
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)

	dbMock.ExpectQuery("SELECT EXISTS.*").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	data = fmt.Sprintf(`{"id":"%s","trip_id":"%s","merchant":"Sushi","amount":45,"category":"food","date":"2026-03-01"}`, mockExpenseID, mockTripID)
	body, contentType = expensePayload(t, data, false)
	req, _ = http.NewRequest("POST", "", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("payload", mockPayload)
	c.Request = req
	api.CreateExpense(c)

	err = json.NewDecoder(w.Body).Decode(&genericResp)
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "trip-not-found", genericResp.Message)

	// success, total incremented (200)
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)

	dbMock.ExpectQuery("SELECT EXISTS.*").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	dbMock.ExpectExec("INSERT INTO expenses.*").
		WithArgs(mockExpenseID, mockTripID, mockUserID, "Sushi", 45.0, "food", "2026-03-01", "", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec("UPDATE trips SET total_spent.*").
		WithArgs(45.0, mockTripID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	body, contentType = expensePayload(t, data, false)
	req, _ = http.NewRequest("POST", "", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("payload", mockPayload)
	c.Request = req
	api.CreateExpense(c)

	var result models.ExpenseResult
	err = json.NewDecoder(w.Body).Decode(&result)
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, result.TotalApplied)
	assert.Equal(t, false, result.ReceiptUploaded)
	assert.Equal(t, 45.0, result.Expense.Amount)

	// total increment fails, save still succeeds (200)
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)

	dbMock.ExpectQuery("SELECT EXISTS.*").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	dbMock.ExpectExec("INSERT INTO expenses.*").
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec("UPDATE trips SET total_spent.*").
		WillReturnError(errors.New("err-increment"))

	body, contentType = expensePayload(t, data, false)
	req, _ = http.NewRequest("POST", "", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("payload", mockPayload)
	c.Request = req
	api.CreateExpense(c)

	err = json.NewDecoder(w.Body).Decode(&result)
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, result.TotalApplied)
}

func TestCreateExpenseReceiptUpload(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.Equal(t, nil, err)

	api := NewAPI()
	api.Db = db

	data := fmt.Sprintf(`{"id":"%s","trip_id":"%s","merchant":"Sushi","amount":45,"category":"food","date":"2026-03-01"}`, mockExpenseID, mockTripID)

	// upload failure is swallowed, expense saved without receipt (200)
	store := &fakeReceiptStore{uploadErr: errors.New("upload-failed")}
	api.Receipts = store

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	dbMock.ExpectQuery("SELECT EXISTS.*").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	dbMock.ExpectExec("INSERT INTO expenses.*").
		WithArgs(mockExpenseID, mockTripID, mockUserID, "Sushi", 45.0, "food", "2026-03-01", "", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec("UPDATE trips SET total_spent.*").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body, contentType := expensePayload(t, data, true)
	req, _ := http.NewRequest("POST", "", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("payload", mockPayload)
	c.Request = req
	api.CreateExpense(c)

	var result models.ExpenseResult
	err = json.NewDecoder(w.Body).Decode(&result)
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, result.ReceiptUploaded)
	assert.Equal(t, "", result.Expense.ReceiptUrl)
	assert.Equal(t, 1, store.uploads)

	// upload success attaches the url (200)
	store = &fakeReceiptStore{uploadUrl: "https://cdn.example.com/receipts/1_receipt.jpg"}
	api.Receipts = store

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)

	dbMock.ExpectQuery("SELECT EXISTS.*").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	dbMock.ExpectExec("INSERT INTO expenses.*").
		WithArgs(mockExpenseID, mockTripID, mockUserID, "Sushi", 45.0, "food", "2026-03-01", "", store.uploadUrl).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec("UPDATE trips SET total_spent.*").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body, contentType = expensePayload(t, data, true)
	req, _ = http.NewRequest("POST", "", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("payload", mockPayload)
	c.Request = req
	api.CreateExpense(c)

	err = json.NewDecoder(w.Body).Decode(&result)
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, result.ReceiptUploaded)
	assert.Equal(t, store.uploadUrl, result.Expense.ReceiptUrl)
}

func TestUpdateExpense(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.Equal(t, nil, err)

	api := NewAPI()
	api.Db = db

	var genericResp GenericResponse

	// invalid id (400)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Params = gin.Params{{Key: "id", Value: "not-a-uuid"}}

	req, _ := http.NewRequest("PUT", "", nil)
	c.Request = req
	api.UpdateExpense(c)

	err = json.NewDecoder(w.Body).Decode(&genericResp)
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid-id", genericResp.Message)

	// not found (404)
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Params = gin.Params{{Key: "id", Value: mockExpenseID}}

	dbMock.ExpectQuery("SELECT trip_id.*").
		WillReturnRows(sqlmock.NewRows([]string{"trip_id", "user_id", "amount"}))

	payload := parsePayload(models.Expense{Merchant: "Sushi", Amount: 45, Category: "food", Date: "2026-03-01"})
	req, _ = http.NewRequest("PUT", "", payload)
	req.Header.Set("payload", mockPayload)
	c.Request = req
	api.UpdateExpense(c)

	err = json.NewDecoder(w.Body).Decode(&genericResp)
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "expense-not-found", genericResp.Message)

	// success, delta between old and new amount applied (200)
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Params = gin.Params{{Key: "id", Value: mockExpenseID}}

	dbMock.ExpectQuery("SELECT trip_id.*").
		WillReturnRows(sqlmock.NewRows([]string{"trip_id", "user_id", "amount"}).
			AddRow(mockTripID, mockUserID, 20.0))
	dbMock.ExpectExec("UPDATE expenses SET merchant.*").
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec("UPDATE trips SET total_spent.*").
		WithArgs(25.0, mockTripID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload = parsePayload(models.Expense{Merchant: "Sushi", Amount: 45, Category: "food", Date: "2026-03-01"})
	req, _ = http.NewRequest("PUT", "", payload)
	req.Header.Set("payload", mockPayload)
	c.Request = req
	api.UpdateExpense(c)

	var result models.ExpenseResult
	err = json.NewDecoder(w.Body).Decode(&result)
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, result.TotalApplied)
	assert.Equal(t, nil, dbMock.ExpectationsWereMet())
}

func TestDeleteExpenses(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.Equal(t, nil, err)

	api := NewAPI()
	api.Db = db

	var genericResp GenericResponse

	// missing data (400)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	payload := parsePayload(models.BatchDeleteRequest{})
	req, _ := http.NewRequest("DELETE", "", payload)
	c.Request = req
	api.DeleteExpenses(c)

	err = json.NewDecoder(w.Body).Decode(&genericResp)
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing-data", genericResp.Message)

	// invalid id (400)
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)

	payload = parsePayload(models.BatchDeleteRequest{Data: []string{"not-a-uuid"}})
	req, _ = http.NewRequest("DELETE", "", payload)
	c.Request = req
	api.DeleteExpenses(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	// partial match rolls back (404)
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)

	dbMock.ExpectBegin()
	dbMock.ExpectQuery("UPDATE expenses SET deleted.*").
		WillReturnRows(sqlmock.NewRows([]string{"trip_id", "amount"}).AddRow(mockTripID, 45.0))
	dbMock.ExpectRollback()

	payload = parsePayload(models.BatchDeleteRequest{Data: []string{mockExpenseID, mockTripID}})
	req, _ = http.NewRequest("DELETE", "", payload)
	req.Header.Set("payload", mockPayload)
	c.Request = req
	api.DeleteExpenses(c)

	err = json.NewDecoder(w.Body).Decode(&genericResp)
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "expected-2-deleted-but-got-1", genericResp.Message)

	// success, trip totals decremented per trip (200)
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)

	dbMock.ExpectBegin()
	dbMock.ExpectQuery("UPDATE expenses SET deleted.*").
		WillReturnRows(sqlmock.NewRows([]string{"trip_id", "amount"}).
			AddRow(mockTripID, 45.0).
			AddRow(mockTripID, 280.0))
	dbMock.ExpectCommit()
	dbMock.ExpectExec("UPDATE trips SET total_spent.*").
		WithArgs(-325.0, mockTripID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload = parsePayload(models.BatchDeleteRequest{Data: []string{mockExpenseID, mockTripID}})
	req, _ = http.NewRequest("DELETE", "", payload)
	req.Header.Set("payload", mockPayload)
	c.Request = req
	api.DeleteExpenses(c)

	var result models.DeleteExpensesResult
	err = json.NewDecoder(w.Body).Decode(&result)
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, result.Deleted)
	assert.Equal(t, true, result.TotalApplied)
	assert.Equal(t, nil, dbMock.ExpectationsWereMet())
}

func TestGetExpensesReport(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.Equal(t, nil, err)

	api := NewAPI()
	api.Db = db

	var genericResp GenericResponse

	// invalid trip id (400)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	req, _ := http.NewRequest("GET", "?trip_id=abc", nil)
	c.Request = req
	api.GetExpensesReport(c)

	err = json.NewDecoder(w.Body).Decode(&genericResp)
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid-trip-id", genericResp.Message)

	// trip not owned (404)
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)

	dbMock.ExpectQuery("SELECT EXISTS.*").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	req, _ = http.NewRequest("GET", "?trip_id="+mockTripID, nil)
	req.Header.Set("payload", mockPayload)
	c.Request = req
	api.GetExpensesReport(c)

	assert.Equal(t, http.StatusNotFound, w.Code)

	// (200)
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)

	dbMock.ExpectQuery("SELECT EXISTS.*").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	dbMock.ExpectQuery("SELECT category.*").
		WillReturnRows(sqlmock.NewRows([]string{"category", "sum"}).
			AddRow("transport", 280.0).
			AddRow("food", 45.0))

	req, _ = http.NewRequest("GET", "?trip_id="+mockTripID, nil)
	req.Header.Set("payload", mockPayload)
	c.Request = req
	api.GetExpensesReport(c)

	var report models.ExpenseReport
	err = json.NewDecoder(w.Body).Decode(&report)
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 325.0, report.Total)
	assert.Equal(t, 2, len(report.Reports))
	assert.Equal(t, "transport", report.Reports[0].Category)
}

func TestGetExpenses(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.Equal(t, nil, err)

	api := NewAPI()
	api.Db = db

	// err select (500)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	dbMock.ExpectQuery("SELECT.*").WillReturnError(errors.New("err-select"))

	req, _ := http.NewRequest("GET", "?trip_id="+mockTripID, nil)
	req.Header.Set("payload", mockPayload)
	c.Request = req
	api.GetExpenses(c)

	var genericResp GenericResponse
	err = json.NewDecoder(w.Body).Decode(&genericResp)
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "err-select", genericResp.Message)

	// (200)
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)

	label := []string{"id", "trip_id", "user_id", "merchant", "category", "date", "description", "receipt_url", "amount", "created_at", "updated_at"}
	now := time.Now()

	dbMock.ExpectQuery("SELECT.*").
		WillReturnRows(sqlmock.NewRows(label).
			AddRow(mockExpenseID, mockTripID, mockUserID, "JR Pass", "transport", now, "", nil, 280.0, now, now).
			AddRow(mockTripID, mockTripID, mockUserID, "Sushi", "food", now, "dinner", nil, 45.0, now, now))
	dbMock.ExpectQuery("SELECT COUNT.*").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	req, _ = http.NewRequest("GET", "?trip_id="+mockTripID, nil)
	req.Header.Set("payload", mockPayload)
	c.Request = req
	api.GetExpenses(c)

	var list models.ExpenseList
	err = json.NewDecoder(w.Body).Decode(&list)
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, len(list.Expenses))
	assert.Equal(t, int32(2), list.Total)
	assert.Equal(t, 280.0, list.Expenses[0].Amount)
}
