package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pkoshelev/studio-booking/internal/model"
)

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	err := row.Scan(&o.ID, &o.UserID, &o.UserName, &o.Points, &o.AmountCents, &o.Status, &o.LastFive, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

const orderColumns = `id, user_id, user_name, points, amount_cents, status, last_five, updated_at`

// CreateOrder создаёт заявку на покупку баллов. Пока у пользователя есть
// незавершённая заявка, новая не создаётся. Баллы при создании не начисляются
// и не резервируются: начисление происходит только при подтверждении оплаты.
func (r *PostgresRepository) CreateOrder(ctx context.Context, userID, points, amountCents int64) (*model.Order, error) {
	var res *model.Order

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		user, err := lockUserTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		var existingID int64
		err = tx.QueryRow(ctx,
			`SELECT id FROM orders
			 WHERE user_id = $1 AND status IN ($2, $3)
			 LIMIT 1`,
			user.ID, string(model.OrderStatusPendingPayment), string(model.OrderStatusPendingConfirmation),
		).Scan(&existingID)
		if err == nil {
			return fmt.Errorf("%w: order %d", ErrPurchasePending, existingID)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check active order: %w", err)
		}

		row := tx.QueryRow(ctx,
			`INSERT INTO orders (user_id, user_name, points, amount_cents, status)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING `+orderColumns,
			user.ID, user.Name, points, amountCents, string(model.OrderStatusPendingConfirmation),
		)

		o, err := scanOrder(row)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		res = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// GetActiveOrderByUser возвращает незавершённую заявку пользователя.
func (r *PostgresRepository) GetActiveOrderByUser(ctx context.Context, userID int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE user_id = $1 AND status IN ($2, $3)
		 LIMIT 1`,
		userID, string(model.OrderStatusPendingPayment), string(model.OrderStatusPendingConfirmation),
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get active order: %w", err)
	}

	return o, nil
}

// lockOrderTx читает заявку с блокировкой строки до конца транзакции.
func lockOrderTx(ctx context.Context, tx pgx.Tx, orderID int64) (*model.Order, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`,
		orderID,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	return o, nil
}

// SetOrderReference сохраняет последние пять цифр платёжного поручения.
// Заявка должна ожидать подтверждения; корректность цифр проверяет вызывающая
// сторона до обращения к хранилищу.
func (r *PostgresRepository) SetOrderReference(ctx context.Context, orderID int64, lastFive string) (*model.Order, error) {
	var res *model.Order

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		o, err := lockOrderTx(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if o.Status != model.OrderStatusPendingConfirmation {
			return fmt.Errorf("%w: order %d is %s", ErrOrderStateInvalid, o.ID, o.Status)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE orders SET last_five = $2 WHERE id = $1`,
			o.ID, lastFive,
		); err != nil {
			return fmt.Errorf("set reference: %w", err)
		}

		o.LastFive = lastFive
		res = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// ConfirmOrder подтверждает оплату: начисление баллов и перевод заявки в
// завершённый статус выполняются в одной транзакции.
func (r *PostgresRepository) ConfirmOrder(ctx context.Context, orderID int64, now time.Time, actor string) (*model.Order, error) {
	var res *model.Order

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		o, err := lockOrderTx(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if o.Status != model.OrderStatusPendingConfirmation {
			return fmt.Errorf("%w: order %d is %s", ErrOrderStateInvalid, o.ID, o.Status)
		}

		user, err := lockUserTx(ctx, tx, o.UserID)
		if err != nil {
			return err
		}

		user.Credit(o.Points)
		if err := saveUserPointsTx(ctx, tx, user); err != nil {
			return err
		}

		action := fmt.Sprintf("покупка подтверждена, начислено %d баллов", o.Points)
		if err := appendHistoryTx(ctx, tx, user.ID, action, actor); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
			o.ID, string(model.OrderStatusCompleted), now,
		); err != nil {
			return fmt.Errorf("complete order: %w", err)
		}

		o.Status = model.OrderStatusCompleted
		o.UpdatedAt = now
		res = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// RejectOrder отклоняет заявку. Баланс пользователя не меняется.
func (r *PostgresRepository) RejectOrder(ctx context.Context, orderID int64, now time.Time) (*model.Order, error) {
	var res *model.Order

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		o, err := lockOrderTx(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if o.Status != model.OrderStatusPendingConfirmation {
			return fmt.Errorf("%w: order %d is %s", ErrOrderStateInvalid, o.ID, o.Status)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
			o.ID, string(model.OrderStatusRejected), now,
		); err != nil {
			return fmt.Errorf("reject order: %w", err)
		}

		o.Status = model.OrderStatusRejected
		o.UpdatedAt = now
		res = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// CancelOrderByUser отменяет активную заявку пользователя. Списаний не было,
// поэтому отмена — чистая смена статуса.
func (r *PostgresRepository) CancelOrderByUser(ctx context.Context, userID int64, now time.Time) (*model.Order, error) {
	var res *model.Order

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM orders
			 WHERE user_id = $1 AND status IN ($2, $3)
			 LIMIT 1
			 FOR UPDATE`,
			userID, string(model.OrderStatusPendingPayment), string(model.OrderStatusPendingConfirmation),
		)

		o, err := scanOrder(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock active order: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
			o.ID, string(model.OrderStatusCancelled), now,
		); err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}

		o.Status = model.OrderStatusCancelled
		o.UpdatedAt = now
		res = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// ListPendingOrders возвращает заявки, ожидающие подтверждения оплаты.
func (r *PostgresRepository) ListPendingOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE status = $1
		 ORDER BY updated_at`,
		string(model.OrderStatusPendingConfirmation),
	)
	if err != nil {
		return nil, fmt.Errorf("select pending orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ExpireStaleOrders переводит в отменённые заявки, ожидающие подтверждения
// дольше timeout. Операция идемпотентна: повторный запуск не находит уже
// отменённые заявки.
func (r *PostgresRepository) ExpireStaleOrders(ctx context.Context, now time.Time, timeout time.Duration) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE orders SET status = $1, updated_at = $2
		 WHERE status = $3 AND updated_at < $4
		 RETURNING `+orderColumns,
		string(model.OrderStatusCancelled), now,
		string(model.OrderStatusPendingConfirmation), now.Add(-timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("expire orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired order: %w", err)
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
