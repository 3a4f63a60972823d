package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

type createCourseRequest struct {
	Title      string `json:"title"`
	Time       string `json:"time"`
	Capacity   int    `json:"capacity"`
	PointsCost int64  `json:"points_cost"`
}

// CreateCourse создаёт новое занятие (привилегированная операция).
func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	var req createCourseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	startTime, err := time.Parse(time.RFC3339, req.Time)
	if err != nil {
		http.Error(w, "time must be RFC3339", http.StatusBadRequest)
		return
	}

	if req.Title == "" || req.Capacity <= 0 || req.PointsCost <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	course, err := h.service.CreateCourse(r.Context(), req.Title, startTime, req.Capacity, req.PointsCost)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCourseResponse(course))
}

// CancelCourse отменяет занятие с возвратом баллов всем записанным.
func (h *Handler) CancelCourse(w http.ResponseWriter, r *http.Request) {
	courseID, ok := courseIDParam(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.CancelCourse(r.Context(), courseID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cancelled": res.Course.ID,
		"refunded":  len(res.Refunded),
	})
}

// ListPendingOrders возвращает заявки, ожидающие подтверждения оплаты.
func (h *Handler) ListPendingOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListPendingOrders(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	type pendingOrderResponse struct {
		orderResponse
		UserID   int64  `json:"user_id"`
		UserName string `json:"user_name"`
	}

	resp := make([]pendingOrderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, pendingOrderResponse{
			orderResponse: toOrderResponse(&orders[i]),
			UserID:        orders[i].UserID,
			UserName:      orders[i].UserName,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func orderIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	return id, err == nil
}

// ConfirmOrder подтверждает оплату заявки.
func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.ConfirmOrder(r.Context(), orderID, "admin")
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// RejectOrder отклоняет заявку.
func (h *Handler) RejectOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.RejectOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type adjustPointsRequest struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

// AdjustPoints выполняет ручную корректировку баланса пользователя.
func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req adjustPointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Delta == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.AdjustPoints(r.Context(), userID, req.Delta, req.Reason, "admin")
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{ID: user.ID, Name: user.Name, Points: user.Points})
}
