// Package repository содержит реализацию доступа к данным в PostgreSQL.
//
// Каждая операция ядра выполняется в одной транзакции: проверка условий и
// изменение строк неразделимы. Строки занятий и пользователей блокируются
// через SELECT ... FOR UPDATE, поэтому параллельные записи на одно занятие
// и параллельные списания с одного баланса сериализуются хранилищем.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/pkoshelev/studio-booking/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserNotFound возвращается, если пользователь не найден.
var (
	ErrUserNotFound = errors.New("user not found")
	// ErrCourseNotFound возвращается, если занятие не найдено.
	ErrCourseNotFound = errors.New("course not found")
	// ErrOrderNotFound возвращается, если заявка на покупку не найдена.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPurchasePending возвращается при попытке создать вторую активную заявку.
	ErrPurchasePending = errors.New("active order already exists")
	// ErrOrderStateInvalid возвращается при действии над заявкой в неподходящем статусе.
	ErrOrderStateInvalid = errors.New("order is not in expected state")
	// ErrDialogNotFound возвращается, если состояние диалога отсутствует или истекло.
	ErrDialogNotFound = errors.New("dialog state not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при временных ошибках хранилища: сбоях сериализации,
// дедлоках и обрывах соединения. Бизнес-ошибки не ретраятся — транзакция к
// этому моменту уже откатилась, и повтор оставляется на усмотрение клиента.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// inTx выполняет fn в одной транзакции. Любая ошибка откатывает транзакцию
// целиком: частичное состояние наружу не просачивается.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(tx); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// lockUserTx читает пользователя с блокировкой строки до конца транзакции.
func lockUserTx(ctx context.Context, tx pgx.Tx, userID int64) (*model.User, error) {
	row := tx.QueryRow(ctx,
		`SELECT id, chat_id, name, points, created_at FROM users WHERE id = $1 FOR UPDATE`,
		userID,
	)

	var u model.User
	if err := row.Scan(&u.ID, &u.ChatID, &u.Name, &u.Points, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock user: %w", err)
	}

	return &u, nil
}

// lockCourseTx читает занятие с блокировкой строки до конца транзакции.
// Блокировка строки занятия — точка сериализации всех операций над местами.
func lockCourseTx(ctx context.Context, tx pgx.Tx, courseID int64) (*model.Course, error) {
	row := tx.QueryRow(ctx,
		`SELECT id, title, start_time, capacity, points_cost, reminded, students, waiting
		 FROM courses WHERE id = $1 FOR UPDATE`,
		courseID,
	)

	var c model.Course
	err := row.Scan(&c.ID, &c.Title, &c.Time, &c.Capacity, &c.PointsCost, &c.Reminded, &c.Students, &c.Waiting)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("lock course: %w", err)
	}

	return &c, nil
}

func saveCourseTx(ctx context.Context, tx pgx.Tx, c *model.Course) error {
	_, err := tx.Exec(ctx,
		`UPDATE courses SET students = $2, waiting = $3 WHERE id = $1`,
		c.ID, c.Students, c.Waiting,
	)
	if err != nil {
		return fmt.Errorf("save course: %w", err)
	}
	return nil
}

func saveUserPointsTx(ctx context.Context, tx pgx.Tx, u *model.User) error {
	_, err := tx.Exec(ctx,
		`UPDATE users SET points = $2 WHERE id = $1`,
		u.ID, u.Points,
	)
	if err != nil {
		return fmt.Errorf("save user points: %w", err)
	}
	return nil
}

func appendHistoryTx(ctx context.Context, tx pgx.Tx, userID int64, action, actor string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO user_history (user_id, action, actor) VALUES ($1, $2, $3)`,
		userID, action, actor,
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}
