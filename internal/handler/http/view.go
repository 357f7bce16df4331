package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/orderdesk/internal/domain"
	"github.com/utafrali/orderdesk/internal/service"
	"github.com/utafrali/orderdesk/pkg/httputil"
	"github.com/utafrali/orderdesk/pkg/validator"
)

// ViewHandler handles the order builder screens.
type ViewHandler struct {
	desk   *service.Desk
	logger *slog.Logger
}

// NewViewHandler creates a new view HTTP handler.
func NewViewHandler(desk *service.Desk, logger *slog.Logger) *ViewHandler {
	return &ViewHandler{desk: desk, logger: logger}
}

// --- Request DTOs ---

// TypedQuantity is a quantity exactly as the operator typed it. It accepts a
// JSON string or a JSON number.
type TypedQuantity string

// UnmarshalJSON implements json.Unmarshaler.
func (q *TypedQuantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*q = TypedQuantity(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*q = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("quantity must be a string or a number")
	}
	*q = TypedQuantity(n.String())
	return nil
}

// AddItemRequest is the JSON request body for staging a product.
type AddItemRequest struct {
	ProductID string        `json:"product_id" validate:"required"`
	Quantity  TypedQuantity `json:"quantity"`
}

// UpdateQuantityRequest is the JSON request body for editing a staged line.
type UpdateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

// ConfirmRequest is the JSON request body for confirming the order.
type ConfirmRequest struct {
	Customer string `json:"customer"`
	Note     string `json:"note"`
}

// --- Response DTOs ---

// ViewResponse describes a view and its order.
type ViewResponse struct {
	ViewID     string           `json:"view_id"`
	OpenedAt   time.Time        `json:"opened_at"`
	Order      service.Snapshot `json:"order"`
	NavigateTo string           `json:"navigate_to,omitempty"`
}

// AddItemResponse is returned after a product is staged.
type AddItemResponse struct {
	Entry *domain.CartEntry `json:"entry"`
	Order service.Snapshot  `json:"order"`
}

// RemoveResponse reports the outcome of a removal prompt.
type RemoveResponse struct {
	Removed    bool             `json:"removed"`
	Order      service.Snapshot `json:"order"`
	NavigateTo string           `json:"navigate_to,omitempty"`
}

// ConfirmResponse is returned after a successful confirmation.
type ConfirmResponse struct {
	Order      *domain.PlacedOrder `json:"order"`
	NavigateTo string              `json:"navigate_to,omitempty"`
}

func newViewResponse(v *service.View) ViewResponse {
	return ViewResponse{
		ViewID:     v.ID,
		OpenedAt:   v.OpenedAt,
		Order:      v.Builder().Snapshot(),
		NavigateTo: v.TakeNavigation(),
	}
}

// --- Handlers ---

// OpenView handles POST /api/v1/views
func (h *ViewHandler) OpenView(w http.ResponseWriter, r *http.Request) {
	view, err := h.desk.Open(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, newViewResponse(view))
}

// CloseView handles DELETE /api/v1/views/{viewId}
func (h *ViewHandler) CloseView(w http.ResponseWriter, r *http.Request) {
	if err := h.desk.Close(r.Context(), chi.URLParam(r, "viewId")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetOrder handles GET /api/v1/views/{viewId}/order
func (h *ViewHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, newViewResponse(viewFromContext(r.Context())))
}

// AddItem handles POST /api/v1/views/{viewId}/items
func (h *ViewHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	view := viewFromContext(r.Context())

	var req AddItemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		h.writeRequestError(w, r, err)
		return
	}

	entry, err := view.AddItem(r.Context(), req.ProductID, string(req.Quantity))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, AddItemResponse{Entry: entry, Order: view.Builder().Snapshot()})
}

// UpdateItem handles PUT /api/v1/views/{viewId}/items/{productId}
func (h *ViewHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	view := viewFromContext(r.Context())

	var req UpdateQuantityRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		h.writeRequestError(w, r, err)
		return
	}

	if err := view.Builder().SetQuantity(r.Context(), chi.URLParam(r, "productId"), *req.Quantity); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, view.Builder().Snapshot())
}

// RemoveItem handles DELETE /api/v1/views/{viewId}/items/{productId}?confirm=yes|no
func (h *ViewHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	view := viewFromContext(r.Context())

	prompt, ok := promptFromQuery(w, r)
	if !ok {
		return
	}

	removed, err := view.Builder().Remove(r.Context(), chi.URLParam(r, "productId"), prompt)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, RemoveResponse{Removed: removed, Order: view.Builder().Snapshot()})
}

// RemoveAll handles DELETE /api/v1/views/{viewId}/items?confirm=yes|no
func (h *ViewHandler) RemoveAll(w http.ResponseWriter, r *http.Request) {
	view := viewFromContext(r.Context())

	prompt, ok := promptFromQuery(w, r)
	if !ok {
		return
	}

	removed, err := view.Builder().RemoveAll(r.Context(), prompt)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, RemoveResponse{
		Removed:    removed,
		Order:      view.Builder().Snapshot(),
		NavigateTo: view.TakeNavigation(),
	})
}

// Confirm handles POST /api/v1/views/{viewId}/confirm
func (h *ViewHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	view := viewFromContext(r.Context())

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	placed, err := view.Builder().Confirm(r.Context(), req.Customer, req.Note)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, ConfirmResponse{Order: placed, NavigateTo: view.TakeNavigation()})
}

// Notifications handles GET /api/v1/views/{viewId}/notifications
func (h *ViewHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	notes, err := h.desk.Notifications(viewFromContext(r.Context()).ID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, notes)
}

// promptFromQuery turns ?confirm=yes|no into the operator's answer.
func promptFromQuery(w http.ResponseWriter, r *http.Request) (service.Prompt, bool) {
	switch strings.ToLower(r.URL.Query().Get("confirm")) {
	case "yes", "true":
		return service.Answer(true), true
	case "no", "false":
		return service.Answer(false), true
	default:
		httputil.WriteBadRequest(w, "confirm must be yes or no")
		return nil, false
	}
}

func (h *ViewHandler) writeRequestError(w http.ResponseWriter, r *http.Request, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteBadRequest(w, "invalid request body: "+err.Error())
}
