package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pkoshelev/studio-booking/internal/model"
)

// GetOrCreateUser возвращает пользователя по идентификатору чата, создавая
// запись при первом обращении. Имя обновляется при каждом контакте.
func (r *PostgresRepository) GetOrCreateUser(ctx context.Context, chatID, name string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (chat_id, name) VALUES ($1, $2)
		 ON CONFLICT (chat_id) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, chat_id, name, points, created_at`,
		chatID, name,
	)

	var u model.User
	if err := row.Scan(&u.ID, &u.ChatID, &u.Name, &u.Points, &u.CreatedAt); err != nil {
		return nil, fmt.Errorf("get or create user: %w", err)
	}

	return &u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, userID int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, chat_id, name, points, created_at FROM users WHERE id = $1`,
		userID,
	)

	var u model.User
	if err := row.Scan(&u.ID, &u.ChatID, &u.Name, &u.Points, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetUserHistory возвращает журнал операций пользователя, новые записи первыми.
func (r *PostgresRepository) GetUserHistory(ctx context.Context, userID int64, limit int) ([]model.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT action, actor, created_at
		 FROM user_history
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	var res []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		if err := rows.Scan(&e.Action, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// AdjustPoints применяет ручную корректировку баланса с записью в журнал.
// Списание, уводящее баланс в минус, отклоняется без изменений.
func (r *PostgresRepository) AdjustPoints(ctx context.Context, userID, delta int64, reason, actor string) (*model.User, error) {
	var snapshot *model.User

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		u, err := lockUserTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		if delta < 0 {
			if err := u.Debit(-delta); err != nil {
				return err
			}
		} else {
			u.Credit(delta)
		}

		if err := saveUserPointsTx(ctx, tx, u); err != nil {
			return err
		}
		if err := appendHistoryTx(ctx, tx, u.ID, reason, actor); err != nil {
			return err
		}

		snapshot = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snapshot, nil
}

// CreateCourse создаёт новое занятие.
func (r *PostgresRepository) CreateCourse(ctx context.Context, title string, startTime time.Time, capacity int, pointsCost int64) (*model.Course, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO courses (title, start_time, capacity, points_cost) VALUES ($1, $2, $3, $4)
		 RETURNING id, title, start_time, capacity, points_cost, reminded, students, waiting`,
		title, startTime, capacity, pointsCost,
	)

	var c model.Course
	err := row.Scan(&c.ID, &c.Title, &c.Time, &c.Capacity, &c.PointsCost, &c.Reminded, &c.Students, &c.Waiting)
	if err != nil {
		return nil, fmt.Errorf("create course: %w", err)
	}

	return &c, nil
}

// GetCourse возвращает занятие по идентификатору.
func (r *PostgresRepository) GetCourse(ctx context.Context, courseID int64) (*model.Course, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, title, start_time, capacity, points_cost, reminded, students, waiting
		 FROM courses WHERE id = $1`,
		courseID,
	)

	var c model.Course
	err := row.Scan(&c.ID, &c.Title, &c.Time, &c.Capacity, &c.PointsCost, &c.Reminded, &c.Students, &c.Waiting)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("get course: %w", err)
	}

	return &c, nil
}

// ListUpcomingCourses возвращает занятия, которые ещё не начались.
func (r *PostgresRepository) ListUpcomingCourses(ctx context.Context, now time.Time) ([]model.Course, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, start_time, capacity, points_cost, reminded, students, waiting
		 FROM courses
		 WHERE start_time > $1
		 ORDER BY start_time`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("select courses: %w", err)
	}
	defer rows.Close()

	var res []model.Course
	for rows.Next() {
		var c model.Course
		err := rows.Scan(&c.ID, &c.Title, &c.Time, &c.Capacity, &c.PointsCost, &c.Reminded, &c.Students, &c.Waiting)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// BookingResult описывает результат записи на занятие.
type BookingResult struct {
	Outcome model.EnrollOutcome
	Course  *model.Course
}

// BookCourse записывает пользователя на занятие в одной транзакции: проверка
// свободных мест, проверка баланса и списание стоимости неразделимы.
// Постановка в очередь ожидания баллов не списывает.
func (r *PostgresRepository) BookCourse(ctx context.Context, userID, courseID int64, now time.Time) (*BookingResult, error) {
	var res *BookingResult

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		course, err := lockCourseTx(ctx, tx, courseID)
		if err != nil {
			return err
		}

		if course.Expired(now) {
			return fmt.Errorf("%w: %s", model.ErrCourseExpired, course.Title)
		}

		user, err := lockUserTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		outcome, err := course.Enroll(user.ID)
		if err != nil {
			return err
		}

		if outcome == model.OutcomeBooked {
			if err := user.Debit(course.PointsCost); err != nil {
				return err
			}
			if err := saveUserPointsTx(ctx, tx, user); err != nil {
				return err
			}
			action := fmt.Sprintf("запись на занятие «%s», списано %d баллов", course.Title, course.PointsCost)
			if err := appendHistoryTx(ctx, tx, user.ID, action, ""); err != nil {
				return err
			}
		}

		if err := saveCourseTx(ctx, tx, course); err != nil {
			return err
		}

		res = &BookingResult{Outcome: outcome, Course: course}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// PromotionResult описывает итог продвижения очереди после освобождения места.
type PromotionResult struct {
	UserID   int64
	Enrolled bool
}

// CancelResult описывает результат отмены записи.
type CancelResult struct {
	From      model.RemovedFrom
	Refunded  int64
	Course    *model.Course
	Promotion *PromotionResult
}

// CancelBooking отменяет запись пользователя на занятие. Срок отмены
// проверяется внутри транзакции по переданным часам. Освободившееся место
// предлагается голове очереди ожидания: кандидат с достаточным балансом
// занимает место со списанием стоимости, кандидат без баллов возвращается в
// хвост очереди. Нехватка баллов у кандидата не считается ошибкой отмены.
func (r *PostgresRepository) CancelBooking(ctx context.Context, userID, courseID int64, now time.Time, window time.Duration) (*CancelResult, error) {
	var res *CancelResult

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		course, err := lockCourseTx(ctx, tx, courseID)
		if err != nil {
			return err
		}

		if !course.CancellableAt(now, window) {
			return fmt.Errorf("%w: %s", model.ErrCancelTooLate, course.Title)
		}

		user, err := lockUserTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		from, err := course.Withdraw(user.ID)
		if err != nil {
			return err
		}

		res = &CancelResult{From: from, Course: course}

		if from == model.RemovedFromStudents {
			user.Credit(course.PointsCost)
			res.Refunded = course.PointsCost

			if err := saveUserPointsTx(ctx, tx, user); err != nil {
				return err
			}
			action := fmt.Sprintf("отмена записи на занятие «%s», возвращено %d баллов", course.Title, course.PointsCost)
			if err := appendHistoryTx(ctx, tx, user.ID, action, ""); err != nil {
				return err
			}

			if err := promoteNextTx(ctx, tx, course, res); err != nil {
				return err
			}
		}

		return saveCourseTx(ctx, tx, course)
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// promoteNextTx выполняет не более одной попытки продвижения очереди.
// Цепочка по следующим кандидатам не продолжается: это ограничивает время
// удержания блокировок одной отменой.
func promoteNextTx(ctx context.Context, tx pgx.Tx, course *model.Course, res *CancelResult) error {
	candidateID, ok := course.PopNextWaiting()
	if !ok {
		return nil
	}

	candidate, err := lockUserTx(ctx, tx, candidateID)
	if err != nil {
		return err
	}

	enrolled := course.Promote(candidate)
	res.Promotion = &PromotionResult{UserID: candidateID, Enrolled: enrolled}

	if !enrolled {
		return nil
	}

	if err := saveUserPointsTx(ctx, tx, candidate); err != nil {
		return err
	}

	action := fmt.Sprintf("автозапись из очереди на занятие «%s», списано %d баллов", course.Title, course.PointsCost)
	return appendHistoryTx(ctx, tx, candidate.ID, action, "")
}

// CourseCancellation описывает итог отмены занятия преподавателем.
type CourseCancellation struct {
	Course   *model.Course
	Refunded []int64
	Waiting  []int64
}

// CancelCourse удаляет занятие, возвращая баллы за каждое занятое место.
// Возвращает списки пользователей для уведомления после коммита.
func (r *PostgresRepository) CancelCourse(ctx context.Context, courseID int64) (*CourseCancellation, error) {
	var res *CourseCancellation

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		course, err := lockCourseTx(ctx, tx, courseID)
		if err != nil {
			return err
		}

		// Каждое занятое место возмещается отдельно: пользователь с двумя
		// местами получает стоимость дважды.
		for _, studentID := range course.Students {
			u, err := lockUserTx(ctx, tx, studentID)
			if err != nil {
				return err
			}
			u.Credit(course.PointsCost)
			if err := saveUserPointsTx(ctx, tx, u); err != nil {
				return err
			}
			action := fmt.Sprintf("занятие «%s» отменено студией, возвращено %d баллов", course.Title, course.PointsCost)
			if err := appendHistoryTx(ctx, tx, u.ID, action, "admin"); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM courses WHERE id = $1`, course.ID); err != nil {
			return fmt.Errorf("delete course: %w", err)
		}

		res = &CourseCancellation{
			Course:   course,
			Refunded: course.Students,
			Waiting:  course.Waiting,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}
