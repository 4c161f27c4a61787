package controllers

import (
	"archive/zip"
	"bytes"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"time"

	"tripledgerapi/models"

	"github.com/360EntSecGroup-Skylar/excelize/v2"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/jung-kurt/gofpdf"
)

// app theme colors, mirrored in the xlsx header style
var (
	primaryColor   = [3]int{249, 115, 22}
	secondaryColor = [3]int{236, 72, 153}
)

// ExportTripArchive bundles the trip's expense sheet and its receipt images
// into one zip download. A receipt that cannot be fetched is skipped, it
// never fails the export.
func (api *API) ExportTripArchive(c *gin.Context) {
	u := ParsePayload(c)
	tripId := c.Param("id")

	if _, err := uuid.FromString(tripId); err != nil {
		sendError(c, http.StatusBadRequest, "invalid-id")
		return
	}

	trip, err := api.getTrip(tripId, u.Id, u.Role)
	if err != nil {
		if err.Error() == "trip-not-found" {
			sendError(c, http.StatusNotFound, err.Error())
			return
		}

		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	expenses, err := api.getTripExpenses(tripId)
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	fw, err := zw.Create(fmt.Sprintf("Expenses_%s.xlsx", sanitizeFileName(trip.Name)))
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	if err := writeExpenseSheet(fw, expenses); err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	for _, expense := range expenses {
		if expense.ReceiptUrl == "" || api.Receipts == nil {
			continue
		}

		image, err := api.Receipts.Fetch(c.Request.Context(), expense.ReceiptUrl)
		if err != nil {
			log.Printf("failed to download receipt for %s: %v", expense.Id, err)
			continue
		}

		fw, err := zw.Create(fmt.Sprintf("receipts/%s_receipt.jpg", expense.Id))
		if err != nil {
			log.Println(err)
			continue
		}

		if _, err := fw.Write(image); err != nil {
			log.Println(err)
		}
	}

	if err := zw.Close(); err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	fileName := fmt.Sprintf("%s_Report.zip", sanitizeFileName(trip.Name))

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", "attachment;filename=\""+fileName+"\"")

	if _, err := c.Writer.Write(buf.Bytes()); err != nil {
		log.Println(err)
	}
}

// ExportTripReport renders the multi-page PDF report: header band, budget
// vs spent summary, itemized table with a total footer and the top-6
// category bar breakdown.
func (api *API) ExportTripReport(c *gin.Context) {
	u := ParsePayload(c)
	tripId := c.Param("id")

	if _, err := uuid.FromString(tripId); err != nil {
		sendError(c, http.StatusBadRequest, "invalid-id")
		return
	}

	trip, err := api.getTrip(tripId, u.Id, u.Role)
	if err != nil {
		if err.Error() == "trip-not-found" {
			sendError(c, http.StatusNotFound, err.Error())
			return
		}

		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	expenses, err := api.getTripExpenses(tripId)
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	fileName := fmt.Sprintf("%s_Report.pdf", sanitizeFileName(trip.Name))

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", "attachment;filename=\""+fileName+"\"")

	if err := writeTripReport(c.Writer, trip, expenses); err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
	}
}

func (api *API) getTripExpenses(tripId string) (expenses []models.Expense, err error) {
	rows, err := api.Db.Query(`
		SELECT id, merchant, category, date, description, receipt_url, amount, created_at, updated_at
		FROM expenses WHERE trip_id = $1 AND NOT deleted
		ORDER BY date DESC, created_at DESC`, tripId)
	if err != nil {
		return
	}

	defer rows.Close()

	for rows.Next() {
		var expense models.Expense

		var merchant, category, description, receiptUrl sql.NullString
		var amount sql.NullFloat64
		var date sql.NullTime

		if err = rows.Scan(&expense.Id, &merchant, &category, &date, &description,
			&receiptUrl, &amount, &expense.CreatedAt, &expense.UpdatedAt); err != nil {
			return
		}

		expense.TripId = tripId
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

	return
}

func writeExpenseSheet(w io.Writer, expenses []models.Expense) error {
	f := excelize.NewFile()

	sheet := "Expenses"
	f.NewSheet(sheet)
	// delete default sheet
	f.DeleteSheet("Sheet1")

	if err := f.SetColWidth(sheet, "A", "F", 30); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(s1)
	if err != nil {
		return err
	}

	dataStyle, err := f.NewStyle(s2)
	if err != nil {
		return err
	}

	streamWriter, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}

	if err = streamWriter.SetRow("A1", []interface{}{
		excelize.Cell{StyleID: headerStyle, Value: "Date"},
		excelize.Cell{StyleID: headerStyle, Value: "Merchant"},
		excelize.Cell{StyleID: headerStyle, Value: "Category"},
		excelize.Cell{StyleID: headerStyle, Value: "Amount"},
		excelize.Cell{StyleID: headerStyle, Value: "Description"},
		excelize.Cell{StyleID: headerStyle, Value: "Receipt"}}); err != nil {
		return err
	}

	for n, expense := range expenses {
		receipt := "No Receipt"
		if expense.ReceiptUrl != "" {
			receipt = fmt.Sprintf("receipts/%s_receipt.jpg", expense.Id)
		}

		row := make([]interface{}, 6)
		row[0] = excelize.Cell{StyleID: dataStyle, Value: expense.Date}
		row[1] = excelize.Cell{StyleID: dataStyle, Value: expense.Merchant}
		row[2] = excelize.Cell{StyleID: dataStyle, Value: expense.Category}
		row[3] = excelize.Cell{StyleID: dataStyle, Value: expense.Amount}
		row[4] = excelize.Cell{StyleID: dataStyle, Value: expense.Description}
		row[5] = excelize.Cell{StyleID: dataStyle, Value: receipt}

		cell, _ := excelize.CoordinatesToCellName(1, n+2)
		if err = streamWriter.SetRow(cell, row); err != nil {
			return err
		}
	}

	if err := streamWriter.Flush(); err != nil {
		return err
	}

	_, err = f.WriteTo(w)
	return err
}

func writeTripReport(w io.Writer, trip models.Trip, expenses []models.Expense) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AliasNbPages("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "", 8)
		pdf.SetTextColor(150, 150, 150)
		pdf.CellFormat(0, 10,
			fmt.Sprintf("Generated %s - Page %d of {nb}", time.Now().Format("02/01/2006 15:04"), pdf.PageNo()),
			"", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pageWidth, pageHeight := pdf.GetPageSize()

	// header band
	pdf.SetFillColor(primaryColor[0], primaryColor[1], primaryColor[2])
	pdf.Rect(0, 0, pageWidth, 45, "F")

	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 24)
	pdf.Text(14, 20, "Trip Ledger")

	pdf.SetFont("Helvetica", "", 16)
	pdf.Text(14, 32, trip.Name)

	if trip.Destination != "" {
		pdf.SetFont("Helvetica", "", 12)
		pdf.Text(14, 40, trip.Destination)
	}

	if trip.StartDate != "" || trip.EndDate != "" {
		pdf.SetFont("Helvetica", "", 10)
		rangeStr := fmt.Sprintf("%s - %s", reportDate(trip.StartDate), reportDate(trip.EndDate))
		pdf.Text(pageWidth-14-pdf.GetStringWidth(rangeStr), 32, rangeStr)
	}

	// summary box
	var totalSpent float64
	for _, expense := range expenses {
		totalSpent += expense.Amount
	}
	remaining := trip.Budget - totalSpent

	pdf.SetFillColor(245, 245, 245)
	pdf.RoundedRect(14, 52, pageWidth-28, 30, 3, "1234", "F")

	pdf.SetTextColor(100, 100, 100)
	pdf.SetFont("Helvetica", "", 10)
	pdf.Text(24, 62, "Budget")
	pdf.Text(pageWidth/2-10, 62, "Total Spent")
	pdf.Text(pageWidth-24-pdf.GetStringWidth("Remaining"), 62, "Remaining")

	pdf.SetTextColor(50, 50, 50)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Text(24, 74, fmt.Sprintf("%.2f", trip.Budget))
	pdf.Text(pageWidth/2-10, 74, fmt.Sprintf("%.2f", totalSpent))

	if remaining >= 0 {
		pdf.SetTextColor(34, 197, 94)
	} else {
		pdf.SetTextColor(239, 68, 68)
	}
	remainingStr := fmt.Sprintf("%.2f", remaining)
	pdf.Text(pageWidth-24-pdf.GetStringWidth(remainingStr), 74, remainingStr)

	// itemized table
	pdf.SetTextColor(50, 50, 50)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Text(14, 96, "Expenses")
	pdf.SetY(100)

	widths := []float64{25, 45, 30, 52, 30}
	headers := []string{"Date", "Merchant", "Category", "Description", "Amount"}

	pdf.SetX(14)
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(primaryColor[0], primaryColor[1], primaryColor[2])
	pdf.SetTextColor(255, 255, 255)
	for i, header := range headers {
		align := "L"
		if i == len(headers)-1 {
			align = "R"
		}
		pdf.CellFormat(widths[i], 8, header, "", 0, align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(50, 50, 50)

	for n, expense := range expenses {
		if pdf.GetY() > pageHeight-30 {
			pdf.AddPage()
			pdf.SetY(20)
		}

		fill := n%2 == 1
		pdf.SetFillColor(252, 243, 235)

		description := expense.Description
		if len(description) > 30 {
			description = description[:30] + "..."
		}

		pdf.SetX(14)
		pdf.CellFormat(widths[0], 7, reportDate(expense.Date), "", 0, "L", fill, 0, "")
		pdf.CellFormat(widths[1], 7, expense.Merchant, "", 0, "L", fill, 0, "")
		pdf.CellFormat(widths[2], 7, expense.Category, "", 0, "L", fill, 0, "")
		pdf.CellFormat(widths[3], 7, description, "", 0, "L", fill, 0, "")
		pdf.CellFormat(widths[4], 7, fmt.Sprintf("%.2f", expense.Amount), "", 0, "R", fill, 0, "")
		pdf.Ln(-1)
	}

	pdf.SetX(14)
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(245, 245, 245)
	pdf.CellFormat(widths[0]+widths[1]+widths[2], 8, "", "", 0, "L", true, 0, "")
	pdf.CellFormat(widths[3], 8, "TOTAL", "", 0, "R", true, 0, "")
	pdf.CellFormat(widths[4], 8, fmt.Sprintf("%.2f", totalSpent), "", 0, "R", true, 0, "")
	pdf.Ln(-1)

	// top categories
	totals := categoryTotals(expenses)
	if len(totals) > 0 {
		if pdf.GetY() > pageHeight-60 {
			pdf.AddPage()
			pdf.SetY(20)
		}

		barStartY := pdf.GetY() + 15

		pdf.SetFont("Helvetica", "B", 14)
		pdf.SetTextColor(50, 50, 50)
		pdf.Text(14, barStartY, "By Category")
		barStartY += 6

		maxValue := totals[0].Total
		maxBarWidth := pageWidth - 80

		for i, entry := range totals {
			y := barStartY + float64(i)*12
			barWidth := entry.Total / maxValue * maxBarWidth

			pdf.SetFont("Helvetica", "", 9)
			pdf.SetTextColor(100, 100, 100)
			pdf.Text(14, y+6, entry.Category)

			mix := float64(i) / float64(len(totals))
			pdf.SetFillColor(
				blend(primaryColor[0], secondaryColor[0], mix),
				blend(primaryColor[1], secondaryColor[1], mix),
				blend(primaryColor[2], secondaryColor[2], mix))
			pdf.RoundedRect(50, y, barWidth, 8, 2, "1234", "F")

			amountStr := fmt.Sprintf("%.2f", entry.Total)
			pdf.SetTextColor(50, 50, 50)
			pdf.Text(pageWidth-14-pdf.GetStringWidth(amountStr), y+6, amountStr)
		}
	}

	return pdf.Output(w)
}

// categoryTotals sums per category, descending, capped at the top six.
func categoryTotals(expenses []models.Expense) []models.CategoryTotalReport {
	byCategory := map[string]float64{}
	for _, expense := range expenses {
		category := expense.Category
		if category == "" {
			category = models.CategoryOther
		}
		byCategory[category] += expense.Amount
	}

	totals := make([]models.CategoryTotalReport, 0, len(byCategory))
	for category, total := range byCategory {
		totals = append(totals, models.CategoryTotalReport{Category: category, Total: total})
	}

	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Total != totals[j].Total {
			return totals[i].Total > totals[j].Total
		}
		return totals[i].Category < totals[j].Category
	})

	if len(totals) > 6 {
		totals = totals[:6]
	}

	return totals
}

func reportDate(date string) string {
	d, err := time.Parse(dateFormat, date)
	if err != nil {
		return "-"
	}
	return d.Format("02/01/2006")
}

func blend(from, to int, mix float64) int {
	return from + int(float64(to-from)*mix)
}
