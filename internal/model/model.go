// Package model содержит доменные сущности сервиса бронирования занятий.
package model

import "time"

// User представляет клиента студии с балансом баллов.
type User struct {
	ID        int64
	ChatID    string
	Name      string
	Points    int64
	CreatedAt time.Time
}

// HistoryEntry описывает запись в журнале операций пользователя.
// Журнал append-only: записи никогда не изменяются и не удаляются.
type HistoryEntry struct {
	Action    string
	Actor     string
	CreatedAt time.Time
}

// OrderStatus описывает статус заявки на покупку баллов.
type OrderStatus string

const (
	// OrderStatusPendingPayment сохранён для совместимости со старыми записями:
	// новые заявки создаются сразу в статусе ожидания подтверждения.
	OrderStatusPendingPayment      OrderStatus = "pending_payment"
	OrderStatusPendingConfirmation OrderStatus = "pending_confirmation"
	OrderStatusCompleted           OrderStatus = "completed"
	OrderStatusCancelled           OrderStatus = "cancelled"
	OrderStatusRejected            OrderStatus = "rejected"
)

// Terminal сообщает, является ли статус заявки конечным.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusRejected
}

// Order описывает заявку на покупку баллов через банковский перевод.
type Order struct {
	ID          int64
	UserID      int64
	UserName    string
	Points      int64
	AmountCents int64
	Status      OrderStatus
	LastFive    string
	UpdatedAt   time.Time
}

// DialogState хранит состояние многошагового диалога пользователя.
// Запись живёт в хранилище, а не в памяти процесса, поэтому диалог
// переживает перезапуск и доступен любому экземпляру обработчика.
type DialogState struct {
	UserID    int64
	State     string
	Payload   []byte
	ExpiresAt time.Time
}

// Expired сообщает, истёк ли срок жизни состояния диалога.
func (d *DialogState) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}
