package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pkoshelev/studio-booking/internal/model"
)

// PurgeExpiredCourses удаляет занятия, начавшиеся раньше now минус grace.
// К этому моменту занятия уже рассчитаны, балансы и заявки не затрагиваются.
func (r *PostgresRepository) PurgeExpiredCourses(ctx context.Context, now time.Time, grace time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM courses WHERE start_time < $1`,
		now.Add(-grace),
	)
	if err != nil {
		return 0, fmt.Errorf("purge courses: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Reminder описывает занятие, о котором пора напомнить записанным.
type Reminder struct {
	Course   model.Course
	Students []int64
}

// SweepReminders находит занятия, начинающиеся в пределах window, о которых
// ещё не напоминали, и помечает их внутри той же транзакции. Пометка
// гарантирует однократность: повторный проход ничего не находит.
func (r *PostgresRepository) SweepReminders(ctx context.Context, now time.Time, window time.Duration) ([]Reminder, error) {
	var res []Reminder

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT id, title, start_time, capacity, points_cost, reminded, students, waiting
			 FROM courses
			 WHERE NOT reminded AND start_time > $1 AND start_time <= $2
			 FOR UPDATE`,
			now, now.Add(window),
		)
		if err != nil {
			return fmt.Errorf("select courses for reminder: %w", err)
		}
		defer rows.Close()

		var due []model.Course
		for rows.Next() {
			var c model.Course
			err := rows.Scan(&c.ID, &c.Title, &c.Time, &c.Capacity, &c.PointsCost, &c.Reminded, &c.Students, &c.Waiting)
			if err != nil {
				return fmt.Errorf("scan course: %w", err)
			}
			due = append(due, c)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		for _, c := range due {
			if _, err := tx.Exec(ctx, `UPDATE courses SET reminded = TRUE WHERE id = $1`, c.ID); err != nil {
				return fmt.Errorf("mark reminded: %w", err)
			}
			res = append(res, Reminder{Course: c, Students: c.Students})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// SaveDialogState сохраняет состояние диалога пользователя, заменяя прежнее.
func (r *PostgresRepository) SaveDialogState(ctx context.Context, st *model.DialogState) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO dialog_states (user_id, state, payload, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET state = $2, payload = $3, expires_at = $4`,
		st.UserID, st.State, st.Payload, st.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("save dialog state: %w", err)
	}
	return nil
}

// GetDialogState возвращает состояние диалога пользователя. Истёкшее состояние
// равнозначно отсутствующему.
func (r *PostgresRepository) GetDialogState(ctx context.Context, userID int64, now time.Time) (*model.DialogState, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT user_id, state, payload, expires_at FROM dialog_states WHERE user_id = $1`,
		userID,
	)

	var st model.DialogState
	if err := row.Scan(&st.UserID, &st.State, &st.Payload, &st.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDialogNotFound
		}
		return nil, fmt.Errorf("get dialog state: %w", err)
	}

	if st.Expired(now) {
		return nil, ErrDialogNotFound
	}

	return &st, nil
}

// DeleteDialogState удаляет состояние диалога пользователя.
func (r *PostgresRepository) DeleteDialogState(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM dialog_states WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete dialog state: %w", err)
	}
	return nil
}

// PurgeExpiredDialogStates удаляет истёкшие состояния диалогов.
func (r *PostgresRepository) PurgeExpiredDialogStates(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM dialog_states WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge dialog states: %w", err)
	}
	return tag.RowsAffected(), nil
}
