package model

import (
	"errors"
	"time"
)

// Ошибки бизнес-правил бронирования. Проверяются до любых изменений:
// операция, вернувшая такую ошибку, не оставляет частичного состояния.
var (
	// ErrAlreadyBooked возвращается при попытке записаться на занятие, где у пользователя уже есть место.
	ErrAlreadyBooked = errors.New("user already booked")
	// ErrAlreadyWaiting возвращается при попытке повторно встать в лист ожидания.
	ErrAlreadyWaiting = errors.New("user already in waiting list")
	// ErrNotEnrolled возвращается, если пользователь не записан и не ждёт места.
	ErrNotEnrolled = errors.New("user not enrolled")
	// ErrCourseExpired возвращается при попытке записи на уже начавшееся занятие.
	ErrCourseExpired = errors.New("course already started")
	// ErrCancelTooLate возвращается при отмене позже допустимого срока до начала занятия.
	ErrCancelTooLate = errors.New("cancellation window closed")
	// ErrInsufficientPoints возвращается, если баллов не хватает для списания.
	ErrInsufficientPoints = errors.New("insufficient points")
)

// Course описывает занятие с ограниченным числом мест.
//
// Students хранит идентификаторы пользователей, занявших места, в порядке
// записи; один пользователь может занимать несколько мест. Waiting хранит
// очередь ожидания FIFO, в ней пользователь может стоять только один раз.
// Инварианты: len(Students) <= Capacity; Waiting непуста только при полном
// заполнении мест.
type Course struct {
	ID         int64
	Title      string
	Time       time.Time
	Capacity   int
	PointsCost int64
	Reminded   bool
	Students   []int64
	Waiting    []int64
}

// Expired сообщает, началось ли занятие.
func (c *Course) Expired(now time.Time) bool {
	return !now.Before(c.Time)
}

// CancellableAt сообщает, допустима ли отмена записи в момент now
// при минимальном сроке window до начала занятия.
func (c *Course) CancellableAt(now time.Time, window time.Duration) bool {
	return !now.After(c.Time.Add(-window))
}

// Full сообщает, заняты ли все места.
func (c *Course) Full() bool {
	return len(c.Students) >= c.Capacity
}

// IsStudent сообщает, занимает ли пользователь хотя бы одно место.
func (c *Course) IsStudent(userID int64) bool {
	for _, id := range c.Students {
		if id == userID {
			return true
		}
	}
	return false
}

// IsWaiting сообщает, стоит ли пользователь в листе ожидания.
func (c *Course) IsWaiting(userID int64) bool {
	for _, id := range c.Waiting {
		if id == userID {
			return true
		}
	}
	return false
}

// EnrollOutcome описывает результат записи на занятие.
type EnrollOutcome string

const (
	// OutcomeBooked — место получено, стоимость подлежит списанию.
	OutcomeBooked EnrollOutcome = "booked"
	// OutcomeWaitlisted — мест нет, пользователь поставлен в очередь; списания нет.
	OutcomeWaitlisted EnrollOutcome = "waitlisted"
)

// Enroll записывает пользователя на занятие: при наличии места — в Students,
// иначе — в хвост Waiting. Пользователь, уже занимающий место или стоящий в
// очереди, записаться повторно не может.
func (c *Course) Enroll(userID int64) (EnrollOutcome, error) {
	if c.IsStudent(userID) {
		return "", ErrAlreadyBooked
	}
	if c.IsWaiting(userID) {
		return "", ErrAlreadyWaiting
	}

	if !c.Full() {
		c.Students = append(c.Students, userID)
		return OutcomeBooked, nil
	}

	c.Waiting = append(c.Waiting, userID)
	return OutcomeWaitlisted, nil
}

// RemovedFrom указывает, откуда пользователь был удалён при отмене.
type RemovedFrom string

const (
	RemovedFromStudents RemovedFrom = "booked"
	RemovedFromWaiting  RemovedFrom = "waiting"
)

// Withdraw удаляет пользователя из Students (одно место, первое по порядку)
// либо из Waiting. Возврат баллов и продвижение очереди остаются на вызывающей
// стороне: они затрагивают и баланс пользователя.
func (c *Course) Withdraw(userID int64) (RemovedFrom, error) {
	for i, id := range c.Students {
		if id == userID {
			c.Students = append(c.Students[:i], c.Students[i+1:]...)
			return RemovedFromStudents, nil
		}
	}

	for i, id := range c.Waiting {
		if id == userID {
			c.Waiting = append(c.Waiting[:i], c.Waiting[i+1:]...)
			return RemovedFromWaiting, nil
		}
	}

	return "", ErrNotEnrolled
}

// PopNextWaiting извлекает голову очереди ожидания.
func (c *Course) PopNextWaiting() (int64, bool) {
	if len(c.Waiting) == 0 {
		return 0, false
	}
	head := c.Waiting[0]
	c.Waiting = c.Waiting[1:]
	return head, true
}

// RequeueWaiting возвращает пользователя в хвост очереди ожидания.
// Используется, когда кандидату на освободившееся место не хватило баллов:
// позиция в очереди не пропадает, но кандидат уходит в конец.
func (c *Course) RequeueWaiting(userID int64) {
	c.Waiting = append(c.Waiting, userID)
}

// Promote занимает освободившееся место кандидатом, если тот может оплатить
// стоимость занятия. При нехватке баллов кандидат возвращается в хвост
// очереди; повторной попытки со следующим кандидатом не делается.
func (c *Course) Promote(candidate *User) (enrolled bool) {
	if err := candidate.Debit(c.PointsCost); err != nil {
		c.RequeueWaiting(candidate.ID)
		return false
	}
	c.Students = append(c.Students, candidate.ID)
	return true
}
