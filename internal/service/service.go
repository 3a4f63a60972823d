// Package service реализует бизнес-логику сервиса бронирования занятий.
//
// Сервис связывает транзакционные операции хранилища с доставкой уведомлений:
// каждая операция — одна транзакция репозитория, уведомления уходят строго
// после коммита и best-effort (сбой доставки не откатывает операцию).
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pkoshelev/studio-booking/internal/model"
	"github.com/pkoshelev/studio-booking/internal/repository"
)

// ErrInvalidReference возвращается при некорректном номере платёжного поручения.
var ErrInvalidReference = errors.New("invalid payment reference")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	GetOrCreateUser(ctx context.Context, chatID, name string) (*model.User, error)
	GetUserByID(ctx context.Context, userID int64) (*model.User, error)
	GetUserHistory(ctx context.Context, userID int64, limit int) ([]model.HistoryEntry, error)
	AdjustPoints(ctx context.Context, userID, delta int64, reason, actor string) (*model.User, error)

	CreateCourse(ctx context.Context, title string, startTime time.Time, capacity int, pointsCost int64) (*model.Course, error)
	GetCourse(ctx context.Context, courseID int64) (*model.Course, error)
	ListUpcomingCourses(ctx context.Context, now time.Time) ([]model.Course, error)
	BookCourse(ctx context.Context, userID, courseID int64, now time.Time) (*repository.BookingResult, error)
	CancelBooking(ctx context.Context, userID, courseID int64, now time.Time, window time.Duration) (*repository.CancelResult, error)
	CancelCourse(ctx context.Context, courseID int64) (*repository.CourseCancellation, error)

	CreateOrder(ctx context.Context, userID, points, amountCents int64) (*model.Order, error)
	GetActiveOrderByUser(ctx context.Context, userID int64) (*model.Order, error)
	SetOrderReference(ctx context.Context, orderID int64, lastFive string) (*model.Order, error)
	ConfirmOrder(ctx context.Context, orderID int64, now time.Time, actor string) (*model.Order, error)
	RejectOrder(ctx context.Context, orderID int64, now time.Time) (*model.Order, error)
	CancelOrderByUser(ctx context.Context, userID int64, now time.Time) (*model.Order, error)
	ListPendingOrders(ctx context.Context) ([]model.Order, error)
	ExpireStaleOrders(ctx context.Context, now time.Time, timeout time.Duration) ([]model.Order, error)

	PurgeExpiredCourses(ctx context.Context, now time.Time, grace time.Duration) (int64, error)
	SweepReminders(ctx context.Context, now time.Time, window time.Duration) ([]repository.Reminder, error)

	SaveDialogState(ctx context.Context, st *model.DialogState) error
	GetDialogState(ctx context.Context, userID int64, now time.Time) (*model.DialogState, error)
	DeleteDialogState(ctx context.Context, userID int64) error
	PurgeExpiredDialogStates(ctx context.Context, now time.Time) (int64, error)
}

// Notifier описывает контракт доставки уведомлений пользователям.
type Notifier interface {
	Push(ctx context.Context, userID int64, text string) error
}

// Windows задаёт бизнес-интервалы сервиса.
type Windows struct {
	// CancelWindow — минимальный срок до начала занятия, после которого отмена запрещена.
	CancelWindow time.Duration
	// OrderTimeout — срок жизни неподтверждённой заявки на покупку.
	OrderTimeout time.Duration
	// ReminderWindow — за сколько до начала занятия рассылаются напоминания.
	ReminderWindow time.Duration
	// PurgeGrace — сколько прошедшее занятие хранится до удаления.
	PurgeGrace time.Duration
	// DialogTTL — срок жизни состояния многошагового диалога.
	DialogTTL time.Duration
}

func (w *Windows) applyDefaults() {
	if w.CancelWindow == 0 {
		w.CancelWindow = 8 * time.Hour
	}
	if w.OrderTimeout == 0 {
		w.OrderTimeout = 24 * time.Hour
	}
	if w.ReminderWindow == 0 {
		w.ReminderWindow = 24 * time.Hour
	}
	if w.PurgeGrace == 0 {
		w.PurgeGrace = 24 * time.Hour
	}
	if w.DialogTTL == 0 {
		w.DialogTTL = 30 * time.Minute
	}
}

// Service содержит бизнес-логику сервиса бронирования занятий.
type Service struct {
	repo     Repository
	notifier Notifier
	logger   *zap.Logger
	windows  Windows

	// now подменяется в тестах для детерминированных проверок сроков.
	now func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием и шлюзом уведомлений.
func NewService(repo Repository, notifier Notifier, logger *zap.Logger, windows Windows) *Service {
	windows.applyDefaults()

	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		windows:  windows,
		now:      time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// notify отправляет пользователю уведомление после коммита транзакции.
// Сбой доставки только логируется.
func (s *Service) notify(ctx context.Context, userID int64, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Push(ctx, userID, text); err != nil {
		s.logger.Warn("notify failed", zap.Int64("userID", userID), zap.Error(err))
	}
}
