// Package handler содержит HTTP-обработчики API сервиса бронирования занятий.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pkoshelev/studio-booking/internal/middleware"
	"github.com/pkoshelev/studio-booking/internal/model"
	"github.com/pkoshelev/studio-booking/internal/repository"
	"github.com/pkoshelev/studio-booking/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Identify(ctx context.Context, chatID, name string) (*model.User, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	GetUserHistory(ctx context.Context, userID int64) ([]model.HistoryEntry, error)

	ListCourses(ctx context.Context) ([]model.Course, error)
	BookCourse(ctx context.Context, userID, courseID int64) (*repository.BookingResult, error)
	CancelBooking(ctx context.Context, userID, courseID int64) (*repository.CancelResult, error)
	CreateCourse(ctx context.Context, title string, startTime time.Time, capacity int, pointsCost int64) (*model.Course, error)
	CancelCourse(ctx context.Context, courseID int64) (*repository.CourseCancellation, error)
	AdjustPoints(ctx context.Context, userID, delta int64, reason, actor string) (*model.User, error)

	CreateOrder(ctx context.Context, userID, points, amountCents int64) (*model.Order, error)
	SubmitPaymentReference(ctx context.Context, userID int64, lastFive string) (*model.Order, error)
	CancelOrder(ctx context.Context, userID int64) (*model.Order, error)
	ConfirmOrder(ctx context.Context, orderID int64, actor string) (*model.Order, error)
	RejectOrder(ctx context.Context, orderID int64) (*model.Order, error)
	ListPendingOrders(ctx context.Context) ([]model.Order, error)
}

// Handler реализует HTTP-обработчики API сервиса бронирования занятий.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	adminToken     string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, adminToken string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		adminToken:     adminToken,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError переводит ошибку бизнес-правила в HTTP-статус и сообщение,
// пригодное для показа пользователю. Неожиданные ошибки логируются и
// отдаются как 500 без внутренних деталей.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, msg := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("internal error", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		return http.StatusNotFound, "Пользователь не найден."
	case errors.Is(err, repository.ErrCourseNotFound):
		return http.StatusNotFound, "Занятие не найдено."
	case errors.Is(err, repository.ErrOrderNotFound):
		return http.StatusNotFound, "Активная заявка на покупку не найдена."
	case errors.Is(err, model.ErrAlreadyBooked):
		return http.StatusConflict, "Вы уже записаны на это занятие."
	case errors.Is(err, model.ErrAlreadyWaiting):
		return http.StatusConflict, "Вы уже в очереди ожидания на это занятие."
	case errors.Is(err, model.ErrNotEnrolled):
		return http.StatusConflict, "Вы не записаны на это занятие."
	case errors.Is(err, model.ErrCourseExpired):
		return http.StatusConflict, "Занятие уже началось, запись закрыта."
	case errors.Is(err, model.ErrCancelTooLate):
		return http.StatusConflict, "Отмена невозможна: до начала занятия осталось слишком мало времени."
	case errors.Is(err, model.ErrInsufficientPoints):
		return http.StatusPaymentRequired, "Недостаточно баллов: " + err.Error()
	case errors.Is(err, service.ErrInvalidReference):
		return http.StatusUnprocessableEntity, "Укажите ровно пять цифр номера платёжного поручения."
	case errors.Is(err, repository.ErrPurchasePending):
		return http.StatusConflict, "У вас уже есть незавершённая заявка на покупку баллов."
	case errors.Is(err, repository.ErrOrderStateInvalid):
		return http.StatusConflict, "Заявка уже обработана."
	default:
		return http.StatusInternalServerError, "Внутренняя ошибка, попробуйте позже."
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func courseIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "courseID"), 10, 64)
	return id, err == nil
}

type identifyRequest struct {
	ChatID string `json:"chat_id"`
	Name   string `json:"name"`
}

type userResponse struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Points int64  `json:"points"`
}

// Identify регистрирует пользователя при первом контакте и устанавливает cookie.
func (h *Handler) Identify(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.Identify(r.Context(), req.ChatID, req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, user.ID)
	writeJSON(w, http.StatusOK, userResponse{ID: user.ID, Name: user.Name, Points: user.Points})
}

type courseResponse struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Time       string `json:"time"`
	Capacity   int    `json:"capacity"`
	PointsCost int64  `json:"points_cost"`
	FreeSeats  int    `json:"free_seats"`
	Waiting    int    `json:"waiting"`
}

func toCourseResponse(c *model.Course) courseResponse {
	return courseResponse{
		ID:         c.ID,
		Title:      c.Title,
		Time:       c.Time.Format(time.RFC3339),
		Capacity:   c.Capacity,
		PointsCost: c.PointsCost,
		FreeSeats:  c.Capacity - len(c.Students),
		Waiting:    len(c.Waiting),
	}
}

// ListCourses возвращает предстоящие занятия.
func (h *Handler) ListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.service.ListCourses(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]courseResponse, 0, len(courses))
	for i := range courses {
		resp = append(resp, toCourseResponse(&courses[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type bookResponse struct {
	Result string         `json:"result"`
	Course courseResponse `json:"course"`
}

// BookCourse записывает текущего пользователя на занятие.
func (h *Handler) BookCourse(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	courseID, ok := courseIDParam(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.BookCourse(r.Context(), userID, courseID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bookResponse{
		Result: string(res.Outcome),
		Course: toCourseResponse(res.Course),
	})
}

type cancelResponse struct {
	RemovedFrom string `json:"removed_from"`
	Refunded    int64  `json:"refunded"`
}

// CancelBooking отменяет запись текущего пользователя на занятие.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	courseID, ok := courseIDParam(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.CancelBooking(r.Context(), userID, courseID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cancelResponse{
		RemovedFrom: string(res.From),
		Refunded:    res.Refunded,
	})
}

type historyEntryResponse struct {
	Action    string `json:"action"`
	Actor     string `json:"actor,omitempty"`
	CreatedAt string `json:"created_at"`
}

type pointsResponse struct {
	Points  int64                  `json:"points"`
	History []historyEntryResponse `json:"history"`
}

// GetPoints возвращает баланс и журнал операций текущего пользователя.
func (h *Handler) GetPoints(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	history, err := h.service.GetUserHistory(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := pointsResponse{Points: user.Points, History: make([]historyEntryResponse, 0, len(history))}
	for _, e := range history {
		resp.History = append(resp.History, historyEntryResponse{
			Action:    e.Action,
			Actor:     e.Actor,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type createOrderRequest struct {
	Points      int64 `json:"points"`
	AmountCents int64 `json:"amount_cents"`
}

type orderResponse struct {
	ID          int64  `json:"id"`
	Points      int64  `json:"points"`
	AmountCents int64  `json:"amount_cents"`
	Status      string `json:"status"`
	LastFive    string `json:"last_five,omitempty"`
	UpdatedAt   string `json:"updated_at"`
}

func toOrderResponse(o *model.Order) orderResponse {
	return orderResponse{
		ID:          o.ID,
		Points:      o.Points,
		AmountCents: o.AmountCents,
		Status:      string(o.Status),
		LastFive:    o.LastFive,
		UpdatedAt:   o.UpdatedAt.Format(time.RFC3339),
	}
}

// CreateOrder создаёт заявку на покупку баллов для текущего пользователя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Points <= 0 || req.AmountCents <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), userID, req.Points, req.AmountCents)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

type referenceRequest struct {
	LastFive string `json:"last_five"`
}

// SubmitReference принимает последние пять цифр платёжного поручения.
func (h *Handler) SubmitReference(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req referenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.SubmitPaymentReference(r.Context(), userID, req.LastFive)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// CancelOrder отменяет активную заявку текущего пользователя.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	order, err := h.service.CancelOrder(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}
