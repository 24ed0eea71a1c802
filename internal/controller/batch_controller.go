// internal/controller/batch_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/kanisahub/comms-backend/internal/errors"
	"github.com/kanisahub/comms-backend/internal/model"
	"github.com/kanisahub/comms-backend/internal/service"
)

type BatchController struct {
	BatchService *service.BatchService
}

type selectorBody struct {
	Type         string   `json:"type"`
	DepartmentID int      `json:"department_id"`
	Band         string   `json:"band"`
	MemberIDs    []int    `json:"member_ids"`
	Numbers      []string `json:"numbers"`
}

func (b selectorBody) toSelector() (model.RecipientSelector, error) {
	switch b.Type {
	case model.SelectorAllActive:
		return model.AllActiveSelector{}, nil
	case model.SelectorDepartment:
		return model.DepartmentSelector{DepartmentID: b.DepartmentID}, nil
	case model.SelectorAgeBand:
		return model.AgeBandSelector{Band: b.Band}, nil
	case model.SelectorMemberIDs:
		return model.MemberIDsSelector{MemberIDs: b.MemberIDs}, nil
	case model.SelectorCustomNumbers:
		return model.CustomNumbersSelector{Numbers: b.Numbers}, nil
	default:
		return nil, appErrors.NewValidation("unknown selector type: %s", b.Type)
	}
}

func (c *BatchController) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Channel         string       `json:"channel"`
		MessageTemplate string       `json:"message_template"`
		Selector        selectorBody `json:"selector"`
		ScheduledAt     *string      `json:"scheduled_at"`
		CreatedBy       string       `json:"created_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	selector, err := body.Selector.toSelector()
	if err != nil {
		writeError(w, err)
		return
	}

	var scheduledAt *time.Time
	if body.ScheduledAt != nil && *body.ScheduledAt != "" {
		t, err := time.Parse(time.RFC3339, *body.ScheduledAt)
		if err != nil {
			http.Error(w, "invalid scheduled_at, expected RFC3339", http.StatusBadRequest)
			return
		}
		scheduledAt = &t
	}

	result, err := c.BatchService.CreateBatch(service.CreateBatchInput{
		Channel:     body.Channel,
		Template:    body.MessageTemplate,
		Selector:    selector,
		ScheduledAt: scheduledAt,
		CreatedBy:   body.CreatedBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"batch":           result.Batch,
		"dropped_invalid": result.DroppedInvalid,
	})
}

func (c *BatchController) ListBatches(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	channel := r.URL.Query().Get("channel")
	status := r.URL.Query().Get("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	batches, pagination, err := c.BatchService.ListBatches(page, pageSize, channel, status)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":       batches,
		"pagination": pagination,
	})
}

func (c *BatchController) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	details, err := c.BatchService.GetBatchDetails(id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(details)
}

func (c *BatchController) ListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status := r.URL.Query().Get("status")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	msgs, pagination, err := c.BatchService.ListMessages(id, status, page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":       msgs,
		"pagination": pagination,
	})
}

func (c *BatchController) Resend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := c.BatchService.Resend(id); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"batch_id": id, "status": "resend queued"})
}

func (c *BatchController) Redispatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := c.BatchService.Redispatch(id); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"batch_id": id, "status": "dispatch queued"})
}

func (c *BatchController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MemberID         int     `json:"member_id"`
		Template         string  `json:"template"`
		OverrideTemplate *string `json:"override_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	rendered, err := c.BatchService.RenderPreview(body.MemberID, body.Template, body.OverrideTemplate)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"rendered_message": rendered,
		"member_id":        body.MemberID,
	})
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var notFound *appErrors.ErrBatchNotFound
	var validation *appErrors.ValidationError
	var insufficient *appErrors.InsufficientBalanceError

	switch {
	case errors.As(err, &notFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &validation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &insufficient):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
