package controllers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"tripledgerapi/models"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

var actionTypes = map[string]bool{
	"create-expense": true,
	"update-expense": true,
	"delete-expense": true,
}

// QueueAction accepts a mutation while the store is unreachable and parks it
// for a later drain. Replay is at-least-once; a client that crashes between
// remote success and removal may see a duplicate record.
func (api *API) QueueAction(c *gin.Context) {
	u := ParsePayload(c)
	var req models.QueueActionRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		log.Println(err)
		sendError(c, http.StatusBadRequest, err.Error())
		return
	}

	if !actionTypes[req.Type] {
		sendError(c, http.StatusBadRequest, "unknown-action-type")
		return
	}

	if len(req.Payload) == 0 {
		sendError(c, http.StatusBadRequest, "missing-payload")
		return
	}

	// stamp the owner so the replay executor runs with the right scope
	payload := map[string]interface{}{}
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		log.Println(err)
		sendError(c, http.StatusBadRequest, err.Error())
		return
	}
	payload["user_id"] = u.Id
	stamped, _ := json.Marshal(payload)

	id, err := api.Queue.Enqueue(c.Request.Context(), req.Type, stamped)
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "queued", "id": id})
}

func (api *API) GetSyncStatus(c *gin.Context) {
	pending, err := api.Queue.Pending(c.Request.Context())
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	dead, err := api.Queue.DeadCount(c.Request.Context())
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	status := models.SyncStatus{
		Online:  api.Db.Ping() == nil,
		Pending: []models.SyncStatusEntry{},
		Dead:    dead,
	}

	for _, action := range pending {
		status.Pending = append(status.Pending, models.SyncStatusEntry{
			Id:       action.Id,
			Type:     action.Type,
			Attempts: action.Attempts,
			Queued:   humanize.Time(action.QueuedAt),
		})
	}

	c.JSON(http.StatusOK, status)
}

// DrainActions replays everything queued against the database. Successful
// actions are removed, failing ones stay for the next drain until the
// attempt cap moves them to the dead-letter hash.
func (api *API) DrainActions(c *gin.Context) {
	results, err := api.Queue.Drain(c.Request.Context(), api.executeAction)
	if err != nil {
		log.Println(err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "ok", "results": results})
}

func (api *API) executeAction(ctx context.Context, action models.PendingAction) error {
	switch action.Type {
	case "create-expense":
		var expense models.Expense
		if err := json.Unmarshal(action.Payload, &expense); err != nil {
			return err
		}

		if _, err := uuid.FromString(expense.Id); err != nil {
			expense.Id = uuid.Must(uuid.NewV4()).String()
		}

		if err := validateExpense(&expense); err != nil {
			return err
		}

		if err := api.insertExpense(&expense); err != nil {
			return err
		}

		if err := api.applyTripDelta(expense.TripId, expense.Amount); err != nil {
			log.Println("total increment failed:", err)
		}

		return nil

	case "update-expense":
		var expense models.Expense
		if err := json.Unmarshal(action.Payload, &expense); err != nil {
			return err
		}

		var oldAmount float64
		err := api.Db.QueryRow(`SELECT trip_id, amount FROM expenses WHERE id = $1 AND user_id = $2 AND NOT deleted`,
			expense.Id, expense.UserId).Scan(&expense.TripId, &oldAmount)
		if err != nil {
			if err == sql.ErrNoRows {
				return errors.New("expense-not-found")
			}
			return err
		}

		if err := validateExpense(&expense); err != nil {
			return err
		}

		if _, err := api.Db.Exec(`
			UPDATE expenses SET merchant = $1, amount = $2, category = $3, date = $4,
				description = $5, updated_at = CURRENT_TIMESTAMP
			WHERE id = $6 AND NOT deleted`,
			expense.Merchant, expense.Amount, expense.Category, expense.Date,
			expense.Description, expense.Id); err != nil {
			return err
		}

		if delta := expense.Amount - oldAmount; delta != 0 {
			if err := api.applyTripDelta(expense.TripId, delta); err != nil {
				log.Println("total adjustment failed:", err)
			}
		}

		return nil

	case "delete-expense":
		var expense models.Expense
		if err := json.Unmarshal(action.Payload, &expense); err != nil {
			return err
		}

		var tripId string
		var amount float64
		err := api.Db.QueryRow(`UPDATE expenses SET deleted = true WHERE id = $1 AND user_id = $2 AND NOT deleted RETURNING trip_id, amount`,
			expense.Id, expense.UserId).Scan(&tripId, &amount)
		if err != nil {
			if err == sql.ErrNoRows {
				return errors.New("expense-not-found")
			}
			return err
		}

		if err := api.applyTripDelta(tripId, -amount); err != nil {
			log.Println("total adjustment failed:", err)
		}

		return nil
	}

	return errors.New("unknown-action-type")
}
