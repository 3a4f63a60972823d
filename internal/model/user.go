package model

import "fmt"

// Debit списывает n баллов с баланса пользователя. Баланс не может стать
// отрицательным: при нехватке возвращается ErrInsufficientPoints с указанием
// требуемой и доступной суммы, баланс не меняется.
func (u *User) Debit(n int64) error {
	if u.Points < n {
		return fmt.Errorf("%w: required %d, available %d", ErrInsufficientPoints, n, u.Points)
	}
	u.Points -= n
	return nil
}

// Credit начисляет n баллов на баланс пользователя.
func (u *User) Credit(n int64) {
	u.Points += n
}
