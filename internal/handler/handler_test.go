package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pkoshelev/studio-booking/internal/middleware"
	"github.com/pkoshelev/studio-booking/internal/model"
	"github.com/pkoshelev/studio-booking/internal/repository"
	"github.com/pkoshelev/studio-booking/internal/service"
)

type stubService struct {
	user    *model.User
	userErr error

	history []model.HistoryEntry

	courses []model.Course

	bookingResult *repository.BookingResult
	bookingErr    error

	cancelResult *repository.CancelResult
	cancelErr    error

	createdCourse      *model.Course
	courseCancellation *repository.CourseCancellation

	order    *model.Order
	orderErr error

	pendingOrders []model.Order
}

func (s *stubService) Identify(ctx context.Context, chatID, name string) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubService) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubService) GetUserHistory(ctx context.Context, userID int64) ([]model.HistoryEntry, error) {
	return s.history, nil
}

func (s *stubService) ListCourses(ctx context.Context) ([]model.Course, error) {
	return s.courses, nil
}

func (s *stubService) BookCourse(ctx context.Context, userID, courseID int64) (*repository.BookingResult, error) {
	return s.bookingResult, s.bookingErr
}

func (s *stubService) CancelBooking(ctx context.Context, userID, courseID int64) (*repository.CancelResult, error) {
	return s.cancelResult, s.cancelErr
}

func (s *stubService) CreateCourse(ctx context.Context, title string, startTime time.Time, capacity int, pointsCost int64) (*model.Course, error) {
	return s.createdCourse, nil
}

func (s *stubService) CancelCourse(ctx context.Context, courseID int64) (*repository.CourseCancellation, error) {
	return s.courseCancellation, nil
}

func (s *stubService) AdjustPoints(ctx context.Context, userID, delta int64, reason, actor string) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubService) CreateOrder(ctx context.Context, userID, points, amountCents int64) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) SubmitPaymentReference(ctx context.Context, userID int64, lastFive string) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) CancelOrder(ctx context.Context, userID int64) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) ConfirmOrder(ctx context.Context, orderID int64, actor string) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) RejectOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) ListPendingOrders(ctx context.Context) ([]model.Order, error) {
	return s.pendingOrders, nil
}

const testAdminToken = "test-admin-token"

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth, testAdminToken)
}

func authCookie(t *testing.T, h *Handler, userID int64) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, userID)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	return cookies[0]
}

func TestIdentify_SetsCookie(t *testing.T) {
	svc := &stubService{
		user: &model.User{ID: 1, Name: "Анна", Points: 0},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(identifyRequest{ChatID: "chat-1", Name: "Анна"})
	req := httptest.NewRequest(http.MethodPost, "/api/user/identify", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if len(res.Cookies()) != 1 {
		t.Fatalf("auth cookie must be set")
	}
}

func TestIdentify_BadRequestWithoutChatID(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/user/identify", strings.NewReader(`{"name":"x"}`))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestBookCourse_Booked(t *testing.T) {
	course := &model.Course{ID: 3, Title: "Йога", Time: time.Now().Add(24 * time.Hour), Capacity: 5, PointsCost: 10, Students: []int64{1}}
	svc := &stubService{
		bookingResult: &repository.BookingResult{Outcome: model.OutcomeBooked, Course: course},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/courses/3/book", nil)
	req.AddCookie(authCookie(t, h, 1))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}

	var resp bookResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result != "booked" {
		t.Fatalf("result = %q, want booked", resp.Result)
	}
	if resp.Course.FreeSeats != 4 {
		t.Fatalf("free seats = %d, want 4", resp.Course.FreeSeats)
	}
}

func TestBookCourse_InsufficientPoints(t *testing.T) {
	svc := &stubService{
		bookingErr: fmt.Errorf("%w: required 10, available 3", model.ErrInsufficientPoints),
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/courses/3/book", nil)
	req.AddCookie(authCookie(t, h, 1))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Недостаточно баллов") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestBookCourse_Unauthorized(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/courses/3/book", nil)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCancelBooking_TooLate(t *testing.T) {
	svc := &stubService{
		cancelErr: fmt.Errorf("%w: Йога", model.ErrCancelTooLate),
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/courses/3/cancel", nil)
	req.AddCookie(authCookie(t, h, 1))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestCancelBooking_Refund(t *testing.T) {
	svc := &stubService{
		cancelResult: &repository.CancelResult{
			From:     model.RemovedFromStudents,
			Refunded: 10,
			Course:   &model.Course{ID: 3, Title: "Йога"},
		},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/courses/3/cancel", nil)
	req.AddCookie(authCookie(t, h, 1))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	var resp cancelResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RemovedFrom != "booked" || resp.Refunded != 10 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestSubmitReference_Invalid(t *testing.T) {
	svc := &stubService{
		orderErr: fmt.Errorf("%w: %q", service.ErrInvalidReference, "12"),
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(referenceRequest{LastFive: "12"})
	req := httptest.NewRequest(http.MethodPost, "/api/orders/reference", bytes.NewReader(body))
	req.AddCookie(authCookie(t, h, 1))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestCreateOrder_DuplicatePending(t *testing.T) {
	svc := &stubService{
		orderErr: fmt.Errorf("%w: order 7", repository.ErrPurchasePending),
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(createOrderRequest{Points: 100, AmountCents: 250000})
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader(body))
	req.AddCookie(authCookie(t, h, 1))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestAdminRoutes_RequireToken(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestConfirmOrder_Admin(t *testing.T) {
	svc := &stubService{
		order: &model.Order{ID: 7, UserID: 2, Points: 100, Status: model.OrderStatusCompleted, UpdatedAt: time.Now()},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/orders/7/confirm", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}

	var resp orderResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != string(model.OrderStatusCompleted) {
		t.Fatalf("status = %q", resp.Status)
	}
}

func TestListPendingOrders_NoContent(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestGetPoints_WithHistory(t *testing.T) {
	now := time.Now().UTC()
	svc := &stubService{
		user: &model.User{ID: 1, Name: "Анна", Points: 42},
		history: []model.HistoryEntry{
			{Action: "запись на занятие «Йога», списано 10 баллов", CreatedAt: now},
		},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/user/points", nil)
	req.AddCookie(authCookie(t, h, 1))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp pointsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Points != 42 || len(resp.History) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
}
