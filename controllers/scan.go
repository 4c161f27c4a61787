package controllers

import (
	"io/ioutil"
	"log"
	"net/http"

	"tripledgerapi/scanner"

	"github.com/gin-gonic/gin"
)

// ScanReceipt runs the uploaded image through the inference client and
// returns a form prefill. Nothing is persisted here; the client submits the
// (possibly edited) prefill through CreateExpense afterwards.
func (api *API) ScanReceipt(c *gin.Context) {
	if api.Analyzer == nil {
		// fail fast before any network call
		sendError(c, http.StatusServiceUnavailable, scanner.ErrMissingAPIKey.Error())
		return
	}

	file, err := c.FormFile("receipt")
	if err != nil {
		sendError(c, http.StatusBadRequest, "missing-receipt-image")
		return
	}

	f, err := file.Open()
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusBadRequest, err.Error())
		return
	}

	defer f.Close()

	image, err := ioutil.ReadAll(f)
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusBadRequest, err.Error())
		return
	}

	mimeType := file.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	result, err := api.Analyzer.AnalyzeReceipt(c.Request.Context(), image, mimeType)
	if err != nil {
		log.Println("receipt analysis failed:", err)
		sendError(c, http.StatusBadGateway, err.Error())
		return
	}

	c.JSON(http.StatusOK, scanner.Prefill(result))
}
