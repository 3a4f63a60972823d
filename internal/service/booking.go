package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pkoshelev/studio-booking/internal/model"
	"github.com/pkoshelev/studio-booking/internal/repository"
)

// Identify возвращает пользователя по идентификатору чата, создавая его при
// первом обращении.
func (s *Service) Identify(ctx context.Context, chatID, name string) (*model.User, error) {
	if chatID == "" {
		return nil, errors.New("chat id must not be empty")
	}
	if name == "" {
		name = "гость"
	}
	return s.repo.GetOrCreateUser(ctx, chatID, name)
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

// GetUserHistory возвращает журнал операций пользователя.
func (s *Service) GetUserHistory(ctx context.Context, userID int64) ([]model.HistoryEntry, error) {
	return s.repo.GetUserHistory(ctx, userID, 50)
}

// ListCourses возвращает предстоящие занятия.
func (s *Service) ListCourses(ctx context.Context) ([]model.Course, error) {
	return s.repo.ListUpcomingCourses(ctx, s.now())
}

// BookCourse записывает пользователя на занятие либо ставит его в очередь
// ожидания, если мест нет.
func (s *Service) BookCourse(ctx context.Context, userID, courseID int64) (*repository.BookingResult, error) {
	return s.repo.BookCourse(ctx, userID, courseID, s.now())
}

// CancelBooking отменяет запись пользователя. При освобождении места голова
// очереди ожидания продвигается в той же транзакции; уведомления кандидату
// уходят после коммита.
func (s *Service) CancelBooking(ctx context.Context, userID, courseID int64) (*repository.CancelResult, error) {
	res, err := s.repo.CancelBooking(ctx, userID, courseID, s.now(), s.windows.CancelWindow)
	if err != nil {
		return nil, err
	}

	if p := res.Promotion; p != nil {
		if p.Enrolled {
			s.notify(ctx, p.UserID,
				fmt.Sprintf("Освободилось место: вы записаны на занятие «%s», списано %d баллов.",
					res.Course.Title, res.Course.PointsCost))
		} else {
			s.notify(ctx, p.UserID,
				fmt.Sprintf("На занятии «%s» освободилось место, но на вашем балансе не хватает баллов (нужно %d). Вы остаётесь в очереди.",
					res.Course.Title, res.Course.PointsCost))
		}
	}

	return res, nil
}

// CreateCourse создаёт новое занятие.
func (s *Service) CreateCourse(ctx context.Context, title string, startTime time.Time, capacity int, pointsCost int64) (*model.Course, error) {
	if title == "" {
		return nil, errors.New("course title must not be empty")
	}
	if capacity <= 0 {
		return nil, errors.New("course capacity must be positive")
	}
	if pointsCost <= 0 {
		return nil, errors.New("course points cost must be positive")
	}
	if !startTime.After(s.now()) {
		return nil, errors.New("course start time must be in the future")
	}

	return s.repo.CreateCourse(ctx, title, startTime, capacity, pointsCost)
}

// CancelCourse отменяет занятие: занятые места возмещаются, все записанные и
// ожидающие получают уведомление.
func (s *Service) CancelCourse(ctx context.Context, courseID int64) (*repository.CourseCancellation, error) {
	res, err := s.repo.CancelCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	notified := make(map[int64]bool)
	for _, id := range res.Refunded {
		if notified[id] {
			continue
		}
		notified[id] = true
		s.notify(ctx, id,
			fmt.Sprintf("Занятие «%s» отменено студией. Баллы возвращены на ваш баланс.", res.Course.Title))
	}
	for _, id := range res.Waiting {
		if notified[id] {
			continue
		}
		notified[id] = true
		s.notify(ctx, id,
			fmt.Sprintf("Занятие «%s» отменено студией.", res.Course.Title))
	}

	return res, nil
}

// AdjustPoints применяет ручную корректировку баланса и уведомляет пользователя.
func (s *Service) AdjustPoints(ctx context.Context, userID, delta int64, reason, actor string) (*model.User, error) {
	if delta == 0 {
		return nil, errors.New("adjustment delta must not be zero")
	}
	if reason == "" {
		reason = "корректировка баланса"
	}

	u, err := s.repo.AdjustPoints(ctx, userID, delta, reason, actor)
	if err != nil {
		return nil, err
	}

	if delta > 0 {
		s.notify(ctx, u.ID, fmt.Sprintf("Вам начислено %d баллов. Текущий баланс: %d.", delta, u.Points))
	} else {
		s.notify(ctx, u.ID, fmt.Sprintf("С вашего баланса списано %d баллов. Текущий баланс: %d.", -delta, u.Points))
	}

	return u, nil
}
